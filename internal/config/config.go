package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// MaxConfigFileBytes caps the size of a config file accepted by Load.
const MaxConfigFileBytes = 64 * 1024

// MaxStepRate bounds rail.max_speed (steps/sec) to what the software pulse
// timer can emit.
const MaxStepRate = 20000

// Endstop watcher drivers.
const (
	EndstopDriverPoll = "gpio_poll"
	EndstopDriverCdev = "cdev"
)

// StepperConfig holds the configuration for the carriage stepper motor.
type StepperConfig struct {
	StepPin       int  `yaml:"step_pin"`
	DirPin        int  `yaml:"dir_pin"`
	EnablePin     int  `yaml:"enable_pin"`     // A4988 ENABLE pin (BCM). 0 = not used. Active LOW.
	StepsPerRev   int  `yaml:"steps_per_rev"`  // full steps per revolution (17HS24: 200)
	Microstepping int  `yaml:"microstepping"`  // driver microstep setting
	PulseWidthUs  int  `yaml:"pulse_width_us"` // STEP high time
	InvertDirPin  bool `yaml:"invert_dir_pin"` // swap the meaning of clockwise on the DIR line
}

// RailConfig describes the belt drive and the motion envelope.
type RailConfig struct {
	BeltPitchMm   float64 `yaml:"belt_pitch_mm"`  // GT2 = 2mm
	PulleyTeeth   int     `yaml:"pulley_teeth"`   // teeth on the motor pulley
	MaxSpeed      float64 `yaml:"max_speed"`      // steps/sec, the motor's physical envelope
	MaxTravelIn   int     `yaml:"max_travel_in"`  // usable rail length (inches)
	MaxTravelSec  int     `yaml:"max_travel_sec"` // longest accepted duration (seconds)
	MaxMoves      int     `yaml:"max_moves"`      // most images accepted for a timelapse
	HomeClockwise bool    `yaml:"home_clockwise"` // direction of travel towards the home endstop
}

// EndstopConfig describes the two rail endstop switches.
type EndstopConfig struct {
	Driver         string `yaml:"driver"`           // "gpio_poll" or "cdev"
	Chip           string `yaml:"chip"`             // gpiochip name for the cdev driver
	HomePin        int    `yaml:"home_pin"`         // BCM pin / line offset of the home endstop
	FarPin         int    `yaml:"far_pin"`          // BCM pin / line offset of the far endstop
	ActiveLow      bool   `yaml:"active_low"`       // switch pulls the line to ground when hit
	DebounceMs     int    `yaml:"debounce_ms"`
	PollIntervalMs int    `yaml:"poll_interval_ms"` // gpio_poll only
}

// CameraConfig describes how to communicate with the camera.
// Type selects a concrete implementation (e.g., "nikon_d90_gpio").
type CameraConfig struct {
	Type           string `yaml:"type"`             // e.g., "nikon_d90_gpio"
	FocusPin       int    `yaml:"focus_pin"`        // GPIO pin for FOCUS line
	ShutterPin     int    `yaml:"shutter_pin"`      // GPIO pin for SHUTTER line
	FocusDelayMs   int    `yaml:"focus_delay_ms"`   // autofocus delay (ms)
	ShutterDelayMs int    `yaml:"shutter_delay_ms"` // shutter hold time (ms)
	// Note: GND is physically connected to Raspberry Pi ground
}

// TimelapseConfig holds timelapse pacing constants.
type TimelapseConfig struct {
	SettleMs int `yaml:"settle_ms"` // pause between a shutter trigger and the next move
}

// DefaultsConfig contains start-up values for the user-facing controls.
type DefaultsConfig struct {
	Mode             string `yaml:"mode"`               // disabled, video or timelapse
	EndstopPolicy    string `yaml:"endstop_policy"`     // stop, reverse or one_cycle
	Clockwise        bool   `yaml:"clockwise"`          // initial direction
	PollIntervalMs   int    `yaml:"poll_interval_ms"`   // engine polling loop period
	StatusIntervalMs int    `yaml:"status_interval_ms"` // status push period
	DebugLevel       int    `yaml:"debug_level"`        // debug level 0-4 (0=off, 1=info, 2=live, 3=verbose, 4=trace)
	MockGPIO         bool   `yaml:"mock_gpio"`          // use mock GPIO (true=dev/test, false=real Raspberry Pi)

	// Start-up move parameters; 0 leaves the value unset.
	VideoDistanceIn      int `yaml:"video_distance_in"`
	VideoDurationSec     int `yaml:"video_duration_sec"`
	TimelapseDistanceIn  int `yaml:"timelapse_distance_in"`
	TimelapseDurationSec int `yaml:"timelapse_duration_sec"`
	TimelapseImages      int `yaml:"timelapse_images"`
}

// DiscoveryConfig controls mDNS advertisement of the web interface.
type DiscoveryConfig struct {
	Enabled      bool   `yaml:"enabled"`
	InstanceName string `yaml:"instance_name"` // empty = "<hostname>-slidego"
}

// Config aggregates all application configuration.
type Config struct {
	Stepper   StepperConfig   `yaml:"stepper"`
	Rail      RailConfig      `yaml:"rail"`
	Endstops  EndstopConfig   `yaml:"endstops"`
	Camera    CameraConfig    `yaml:"camera"`
	Timelapse TimelapseConfig `yaml:"timelapse"`
	Defaults  DefaultsConfig  `yaml:"defaults"`
	Discovery DiscoveryConfig `yaml:"discovery"`
}

// ValidateConfigPath rejects paths that are not a .yaml file directly inside
// a "configs" directory.
func ValidateConfigPath(path string) error {
	if path == "" {
		return fmt.Errorf("config path is empty")
	}
	clean := filepath.Clean(path)
	if filepath.Ext(clean) != ".yaml" {
		return fmt.Errorf("config path must end in .yaml, got %q", path)
	}
	abs, err := filepath.Abs(clean)
	if err != nil {
		return fmt.Errorf("resolve config path: %w", err)
	}
	if filepath.Base(filepath.Dir(abs)) != "configs" {
		return fmt.Errorf("config file must live in a configs/ directory, got %q", path)
	}
	return nil
}

// Load reads a YAML file and returns the configuration.
func Load(path string) (*Config, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat config file: %w", err)
	}
	if info.Size() > MaxConfigFileBytes {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), MaxConfigFileBytes)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal yaml: %w", err)
	}

	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() error {
	// Basic validation
	if c.Camera.Type == "" {
		return fmt.Errorf("camera.type is required")
	}

	// 17HS24-0644S on a GT2 belt with a 20 tooth pulley
	if c.Stepper.StepsPerRev <= 0 {
		c.Stepper.StepsPerRev = 200
	}
	if c.Stepper.Microstepping <= 0 {
		c.Stepper.Microstepping = 1
	}
	if c.Stepper.PulseWidthUs <= 0 {
		c.Stepper.PulseWidthUs = 5
	}
	if c.Rail.BeltPitchMm < 0 {
		return fmt.Errorf("rail.belt_pitch_mm must be > 0, got %.2f", c.Rail.BeltPitchMm)
	}
	if c.Rail.BeltPitchMm == 0 {
		c.Rail.BeltPitchMm = 2
	}
	if c.Rail.PulleyTeeth < 0 {
		return fmt.Errorf("rail.pulley_teeth must be > 0, got %d", c.Rail.PulleyTeeth)
	}
	if c.Rail.PulleyTeeth == 0 {
		c.Rail.PulleyTeeth = 20
	}
	if c.Rail.MaxSpeed < 0 {
		return fmt.Errorf("rail.max_speed must be > 0, got %.2f", c.Rail.MaxSpeed)
	}
	if c.Rail.MaxSpeed == 0 {
		c.Rail.MaxSpeed = 592
	}
	if !(c.Rail.MaxSpeed >= 1 && c.Rail.MaxSpeed <= MaxStepRate) {
		return fmt.Errorf("rail.max_speed must be within [1, %d] steps/sec, got %.2f", MaxStepRate, c.Rail.MaxSpeed)
	}
	if c.Rail.MaxTravelIn <= 0 {
		c.Rail.MaxTravelIn = 80
	}
	if c.Rail.MaxTravelSec <= 0 {
		c.Rail.MaxTravelSec = 3600
	}
	if c.Rail.MaxMoves <= 0 {
		c.Rail.MaxMoves = 1000
	}
	if c.Rail.MaxMoves < 2 {
		return fmt.Errorf("rail.max_moves must be >= 2, got %d", c.Rail.MaxMoves)
	}

	switch c.Endstops.Driver {
	case "":
		c.Endstops.Driver = EndstopDriverPoll
	case EndstopDriverPoll, EndstopDriverCdev:
	default:
		return fmt.Errorf("unsupported endstops.driver: %s", c.Endstops.Driver)
	}
	if c.Endstops.Chip == "" {
		c.Endstops.Chip = "gpiochip0"
	}
	if c.Endstops.HomePin != 0 && c.Endstops.HomePin == c.Endstops.FarPin {
		return fmt.Errorf("endstops.home_pin and endstops.far_pin must differ, both are %d", c.Endstops.HomePin)
	}
	if c.Endstops.DebounceMs <= 0 {
		c.Endstops.DebounceMs = 5
	}
	if c.Endstops.PollIntervalMs <= 0 {
		c.Endstops.PollIntervalMs = 2
	}

	// Default values for camera delays
	if c.Camera.FocusDelayMs <= 0 {
		c.Camera.FocusDelayMs = 500 // 500ms for autofocus
	}
	if c.Camera.ShutterDelayMs <= 0 {
		c.Camera.ShutterDelayMs = 200 // 200ms shutter hold
	}
	if c.Timelapse.SettleMs <= 0 {
		c.Timelapse.SettleMs = 1000
	}

	if c.Defaults.Mode == "" {
		c.Defaults.Mode = "timelapse"
	}
	if c.Defaults.EndstopPolicy == "" {
		c.Defaults.EndstopPolicy = "stop"
	}
	if c.Defaults.PollIntervalMs <= 0 {
		c.Defaults.PollIntervalMs = 5
	}
	if c.Defaults.StatusIntervalMs <= 0 {
		c.Defaults.StatusIntervalMs = 500
	}
	if c.Defaults.VideoDistanceIn < 0 || c.Defaults.VideoDistanceIn > c.Rail.MaxTravelIn {
		return fmt.Errorf("defaults.video_distance_in must be between 0 and %d, got %d", c.Rail.MaxTravelIn, c.Defaults.VideoDistanceIn)
	}
	if c.Defaults.VideoDurationSec < 0 || c.Defaults.VideoDurationSec > c.Rail.MaxTravelSec {
		return fmt.Errorf("defaults.video_duration_sec must be between 0 and %d, got %d", c.Rail.MaxTravelSec, c.Defaults.VideoDurationSec)
	}
	if c.Defaults.DebugLevel < 0 || c.Defaults.DebugLevel > 4 {
		return fmt.Errorf("defaults.debug_level must be between 0 and 4, got %d", c.Defaults.DebugLevel)
	}
	return nil
}

// PulseWidth returns the STEP pulse high time.
func (c *Config) PulseWidth() time.Duration {
	return time.Duration(c.Stepper.PulseWidthUs) * time.Microsecond
}

// FocusDelay returns the autofocus delay duration.
func (c *Config) FocusDelay() time.Duration {
	return time.Duration(c.Camera.FocusDelayMs) * time.Millisecond
}

// ShutterDelay returns the shutter hold duration.
func (c *Config) ShutterDelay() time.Duration {
	return time.Duration(c.Camera.ShutterDelayMs) * time.Millisecond
}

// SettleDelay returns the pause between a shutter trigger and the following move.
func (c *Config) SettleDelay() time.Duration {
	return time.Duration(c.Timelapse.SettleMs) * time.Millisecond
}

// EndstopDebounce returns the endstop debounce window.
func (c *Config) EndstopDebounce() time.Duration {
	return time.Duration(c.Endstops.DebounceMs) * time.Millisecond
}

// EndstopPollInterval returns the sampling period of the polling endstop watcher.
func (c *Config) EndstopPollInterval() time.Duration {
	return time.Duration(c.Endstops.PollIntervalMs) * time.Millisecond
}

// PollInterval returns the period of the engine polling loop.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Defaults.PollIntervalMs) * time.Millisecond
}

// StatusInterval returns the period between status pushes.
func (c *Config) StatusInterval() time.Duration {
	return time.Duration(c.Defaults.StatusIntervalMs) * time.Millisecond
}
