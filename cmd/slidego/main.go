package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/cjeanneret/SlideGo/internal/config"
	"github.com/cjeanneret/SlideGo/internal/debug"
	"github.com/cjeanneret/SlideGo/internal/discovery"
	"github.com/cjeanneret/SlideGo/internal/hw/camera"
	"github.com/cjeanneret/SlideGo/internal/hw/endstop"
	"github.com/cjeanneret/SlideGo/internal/hw/gpio"
	"github.com/cjeanneret/SlideGo/internal/hw/stepper"
	"github.com/cjeanneret/SlideGo/internal/logic/capture"
	"github.com/cjeanneret/SlideGo/internal/logic/motion"
	"github.com/cjeanneret/SlideGo/internal/logic/slider"
	"github.com/cjeanneret/SlideGo/internal/web"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// cliOverrides holds start-up values given on the command line. Zero means
// "use the config file".
type cliOverrides struct {
	Mode                 string
	VideoDistanceIn      int
	VideoDurationSec     int
	TimelapseDistanceIn  int
	TimelapseDurationSec int
	TimelapseImages      int
}

func main() {
	// CLI flags
	webPort := &webPortFlag{defaultPort: 8080}
	flag.Var(webPort, "web", "start web server on port; -web= for default 8080, -web 8980 for custom port")
	cfgPath := flag.String("config", filepath.Join("configs", "default.yaml"), "path to config file")
	var o cliOverrides
	flag.StringVar(&o.Mode, "mode", "", "override start-up mode (disabled, video, timelapse)")
	flag.IntVar(&o.VideoDistanceIn, "video_distance_in", 0, "override video travel distance in inches")
	flag.IntVar(&o.VideoDurationSec, "video_duration_sec", 0, "override video travel duration in seconds")
	flag.IntVar(&o.TimelapseDistanceIn, "timelapse_distance_in", 0, "override timelapse total distance in inches")
	flag.IntVar(&o.TimelapseDurationSec, "timelapse_duration_sec", 0, "override timelapse total duration in seconds")
	flag.IntVar(&o.TimelapseImages, "timelapse_images", 0, "override timelapse image count (>= 2)")
	jog := flag.Int("jog", 0, "move the carriage by this many steps (negative = counter-clockwise) and exit")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Load configuration
	if err := config.ValidateConfigPath(*cfgPath); err != nil {
		log.Fatalf("invalid config path: %v", err)
	}
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}

	if err := validateCLIOverrides(o, cfg.Rail); err != nil {
		log.Fatalf("invalid CLI override: %v", err)
	}
	applyOverrides(cfg, o)

	// Initialize debug system
	debug.Init(cfg.Defaults.DebugLevel)
	debug.Section("Initialization")
	debug.Value("Version", version)
	debug.Value("Config path", *cfgPath)
	debug.Value("Debug level", cfg.Defaults.DebugLevel)

	// Initialize GPIO driver
	debug.Value("Mock GPIO", cfg.Defaults.MockGPIO)
	debug.Step(1, "Initializing GPIO driver")
	gpioDriver, err := gpio.NewDriver(cfg.Defaults.MockGPIO)
	if err != nil {
		log.Fatalf("init GPIO failed: %v", err)
	}
	defer func() {
		if err := gpioDriver.Close(); err != nil {
			log.Printf("closing GPIO driver failed: %v", err)
		}
	}()

	debug.Step(2, "Initializing stepper motor")
	motor := stepper.NewStepper(gpioDriver, stepper.Config{
		StepPin:       cfg.Stepper.StepPin,
		DirPin:        cfg.Stepper.DirPin,
		EnablePin:     cfg.Stepper.EnablePin,
		StepsPerRev:   cfg.Stepper.StepsPerRev,
		Microstepping: cfg.Stepper.Microstepping,
		PulseWidth:    cfg.PulseWidth(),
		InvertDir:     cfg.Stepper.InvertDirPin,
	})
	debug.PrintStruct("Stepper config", cfg.Stepper)
	debug.PrintStruct("Rail config", cfg.Rail)

	if *jog != 0 {
		if err := motor.MoveSteps(*jog); err != nil {
			log.Fatalf("jog failed: %v", err)
		}
		return
	}

	debug.Step(3, "Initializing endstops")
	endstops, err := endstop.New(cfg, gpioDriver)
	if err != nil {
		log.Fatalf("init endstops failed: %v", err)
	}
	defer func() {
		if err := endstops.Close(); err != nil {
			log.Printf("closing endstops failed: %v", err)
		}
	}()
	debug.PrintStruct("Endstop config", cfg.Endstops)

	debug.Step(4, "Initializing camera")
	cam, err := camera.New(cfg, gpioDriver)
	if err != nil {
		log.Fatalf("init camera failed: %v", err)
	}
	shutter := camera.NewAsync(cam)
	defer shutter.Wait()
	debug.Value("Camera type", cfg.Camera.Type)
	debug.Value("Focus pin", cfg.Camera.FocusPin)
	debug.Value("Shutter pin", cfg.Camera.ShutterPin)

	debug.Step(5, "Creating slider engine")
	engine, err := slider.FromConfig(cfg, motor, endstops.Events(), shutter)
	if err != nil {
		log.Fatalf("init engine failed: %v", err)
	}

	if port := webPort.port(); port > 0 {
		webAddr := fmt.Sprintf(":%d", port)
		broadcaster := web.NewStatusBroadcaster()
		debug.SetOutput(io.MultiWriter(os.Stdout, web.BroadcastWriter(broadcaster)))

		if cfg.Discovery.Enabled {
			svc := discovery.NewService(cfg.Discovery.InstanceName, port, version)
			if err := svc.Start(); err != nil {
				log.Printf("discovery disabled: %v", err)
			} else {
				defer svc.Stop()
			}
		}

		engineDone := make(chan error, 1)
		go func() { engineDone <- engine.Run(ctx) }()

		srv := web.NewServer(webAddr, broadcaster, engine, formConfig(cfg))
		if err := srv.Run(ctx); err != nil {
			log.Fatalf("web server: %v", err)
		}
		cancel()
		<-engineDone
		return
	}

	if err := runHeadless(ctx, engine); err != nil {
		log.Fatalf("run failed: %v", err)
	}
	fired, dropped, failed := shutter.Stats()
	debug.Summary("Run Summary")
	debug.Info("Shots: %d fired, %d dropped, %d failed", fired, dropped, failed)
}

// runHeadless starts the configured mode once and returns when the move or
// sequence ends, or when ctx is cancelled.
func runHeadless(ctx context.Context, engine *slider.Engine) error {
	runCtx, stop := context.WithCancel(ctx)
	defer stop()

	finished := make(chan slider.Status, 1)
	before := engine.Status().Carriage.CompletedMoves
	seenRunning := false
	unsub := engine.Subscribe(func(st slider.Status) {
		if st.Running {
			seenRunning = true
			return
		}
		if seenRunning || st.Carriage.CompletedMoves > before {
			select {
			case finished <- st:
			default:
			}
		}
	})
	defer unsub()

	engineDone := make(chan error, 1)
	go func() { engineDone <- engine.Run(runCtx) }()

	debug.Section("Starting " + engine.Mode().String())
	if err := engine.Start(); err != nil {
		stop()
		<-engineDone
		return err
	}

	select {
	case st := <-finished:
		stop()
		<-engineDone
		if st.Timelapse.LastError != "" {
			return errors.New(st.Timelapse.LastError)
		}
		if st.Carriage.LastStopReason == motion.ReasonFault {
			return fmt.Errorf("%s run: %w", engine.Mode(), motion.ErrFault)
		}
		debug.Section("Run complete")
		debug.Value("Traveled (in)", st.TraveledIn)
		debug.Value("Elapsed (s)", st.ElapsedSec)
		debug.Value("Stop reason", st.Carriage.LastStopReason)
		return nil
	case err := <-engineDone:
		if ctx.Err() != nil {
			debug.Info("Interrupted")
			return nil
		}
		return err
	}
}

// validateCLIOverrides checks non-zero overrides against the rail limits.
func validateCLIOverrides(o cliOverrides, rail config.RailConfig) error {
	if o.Mode != "" {
		if _, err := slider.ParseMode(o.Mode); err != nil {
			return err
		}
	}
	checks := []struct {
		name      string
		v, lo, hi int
	}{
		{"video_distance_in", o.VideoDistanceIn, 1, rail.MaxTravelIn},
		{"video_duration_sec", o.VideoDurationSec, 1, rail.MaxTravelSec},
		{"timelapse_distance_in", o.TimelapseDistanceIn, 1, rail.MaxTravelIn},
		{"timelapse_duration_sec", o.TimelapseDurationSec, 1, rail.MaxTravelSec},
		{"timelapse_images", o.TimelapseImages, 2, rail.MaxMoves},
	}
	for _, c := range checks {
		if c.v != 0 && (c.v < c.lo || c.v > c.hi) {
			return fmt.Errorf("%s must be between %d and %d, got %d", c.name, c.lo, c.hi, c.v)
		}
	}
	return nil
}

// applyOverrides mutates cfg with overrides. Only non-zero override values are applied.
func applyOverrides(cfg *config.Config, o cliOverrides) {
	if o.Mode != "" {
		cfg.Defaults.Mode = o.Mode
	}
	if o.VideoDistanceIn > 0 {
		cfg.Defaults.VideoDistanceIn = o.VideoDistanceIn
	}
	if o.VideoDurationSec > 0 {
		cfg.Defaults.VideoDurationSec = o.VideoDurationSec
	}
	if o.TimelapseDistanceIn > 0 {
		cfg.Defaults.TimelapseDistanceIn = o.TimelapseDistanceIn
	}
	if o.TimelapseDurationSec > 0 {
		cfg.Defaults.TimelapseDurationSec = o.TimelapseDurationSec
	}
	if o.TimelapseImages > 0 {
		cfg.Defaults.TimelapseImages = o.TimelapseImages
	}
}

// formConfig builds the limits and defaults shown by the web page.
func formConfig(cfg *config.Config) web.FormConfig {
	return web.FormConfig{
		Limits: capture.Limits{
			MaxDistanceIn:  cfg.Rail.MaxTravelIn,
			MaxDurationSec: cfg.Rail.MaxTravelSec,
			MaxImages:      cfg.Rail.MaxMoves,
		},
		MinImages: 2,
		Video: slider.VideoParams{
			DistanceIn:  cfg.Defaults.VideoDistanceIn,
			DurationSec: cfg.Defaults.VideoDurationSec,
		},
		Timelapse: capture.Params{
			TotalDistanceIn:  cfg.Defaults.TimelapseDistanceIn,
			TotalDurationSec: cfg.Defaults.TimelapseDurationSec,
			TotalImages:      cfg.Defaults.TimelapseImages,
		},
	}
}

// webPortFlag implements flag.Value for -web: 0 = disabled, -web= or -web 8080 → 8080, -web 8980 → 8980.
type webPortFlag struct {
	val         int
	defaultPort int
}

func (w *webPortFlag) String() string {
	if w.val == 0 {
		return "0"
	}
	return strconv.Itoa(w.val)
}

func (w *webPortFlag) Set(s string) error {
	if s == "" {
		w.val = w.defaultPort
		return nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return err
	}
	if v <= 0 || v > 65535 {
		return fmt.Errorf("port must be 1-65535, got %d", v)
	}
	w.val = v
	return nil
}

func (w *webPortFlag) port() int { return w.val }
