package geometry

import (
	"math"
	"testing"
	"time"

	"github.com/cjeanneret/SlideGo/internal/config"
)

func newRailConfig(stepsPerRev, microstepping int, pitch float64, teeth int, maxSpeed float64) *config.Config {
	return &config.Config{
		Stepper: config.StepperConfig{
			StepsPerRev:   stepsPerRev,
			Microstepping: microstepping,
		},
		Rail: config.RailConfig{
			BeltPitchMm: pitch,
			PulleyTeeth: teeth,
			MaxSpeed:    maxSpeed,
		},
	}
}

func newDefaultConverter() *Converter {
	// 17HS24 on a GT2 belt, 20 tooth pulley
	return NewConverter(newRailConfig(200, 1, 2, 20, 592))
}

func TestConverter_KnownConfig(t *testing.T) {
	c := newDefaultConverter()

	if got := c.StepsPerMm(); got != 5 {
		t.Errorf("StepsPerMm() = %v, want 5", got)
	}
	if got := c.StepsPerInch(); got != 127 {
		t.Errorf("StepsPerInch() = %v, want 127", got)
	}

	cases := []struct {
		name   string
		inches float64
		want   int64
	}{
		{"zero", 0, 0},
		{"one_inch", 1, 127},
		{"ten_inches", 10, 1270},
		{"full_rail", 80, 10160},
		{"half_inch", 0.5, 64}, // 63.5 rounds away from zero
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := c.InchesToSteps(tc.inches); got != tc.want {
				t.Errorf("InchesToSteps(%v) = %d, want %d", tc.inches, got, tc.want)
			}
		})
	}
}

func TestConverter_DifferentMicrostepping(t *testing.T) {
	microsteps := []int{1, 2, 4, 8, 16}
	for _, ms := range microsteps {
		c := NewConverter(newRailConfig(200, ms, 2, 20, 592))
		want := 5.0 * float64(ms)
		if got := c.StepsPerMm(); got != want {
			t.Errorf("microstepping=%d: StepsPerMm() = %v, want %v", ms, got, want)
		}
	}
}

func TestConverter_RoundTrip(t *testing.T) {
	configs := []*config.Config{
		newRailConfig(200, 1, 2, 20, 592),
		newRailConfig(200, 16, 2, 16, 592),
		newRailConfig(400, 8, 3, 36, 592),
	}
	for _, cfg := range configs {
		c := NewConverter(cfg)
		tolerance := 1 / c.StepsPerInch()
		for d := 0.0; d <= 80; d += 0.25 {
			got := c.StepsToInches(c.InchesToSteps(d))
			if math.Abs(got-d) > tolerance {
				t.Errorf("stepsPerMm=%v: round trip of %v in = %v, off by more than one step", c.StepsPerMm(), d, got)
			}
		}
	}
}

func TestConverter_ClampSpeed(t *testing.T) {
	c := newDefaultConverter()
	cases := []struct {
		name string
		in   float64
		want float64
	}{
		{"below_min", 0.2, 1},
		{"zero", 0, 1},
		{"negative", -50, 1},
		{"nan", math.NaN(), 1},
		{"inside", 300, 300},
		{"at_max", 592, 592},
		{"above_max", 5000, 592},
		{"infinite", math.Inf(1), 592},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := c.ClampSpeed(tc.in); got != tc.want {
				t.Errorf("ClampSpeed(%v) = %v, want %v", tc.in, got, tc.want)
			}
		})
	}
}

func TestConverter_VideoSpeed(t *testing.T) {
	c := newDefaultConverter()
	cases := []struct {
		name     string
		steps    int64
		duration float64
		want     float64
	}{
		{"ten_inches_in_ten_seconds", 1270, 10, 127},
		{"too_fast_clamped", 10160, 1, 592},
		{"too_slow_clamped", 127, 3600, 1},
		{"no_distance", 0, 10, 0},
		{"no_duration", 1270, 0, 0},
		{"negative_duration", 1270, -5, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := c.VideoSpeed(tc.steps, tc.duration); got != tc.want {
				t.Errorf("VideoSpeed(%d, %v) = %v, want %v", tc.steps, tc.duration, got, tc.want)
			}
		})
	}
}

func TestConverter_TravelTime(t *testing.T) {
	c := newDefaultConverter()
	if got := c.TravelTime(592, 592); got != time.Second {
		t.Errorf("TravelTime(592, 592) = %v, want 1s", got)
	}
	if got := c.TravelTime(254, 127); got != 2*time.Second {
		t.Errorf("TravelTime(254, 127) = %v, want 2s", got)
	}
	if got := c.TravelTime(100, 0); got != 0 {
		t.Errorf("TravelTime(100, 0) = %v, want 0", got)
	}
}

func TestConverter_InchesPerSecond(t *testing.T) {
	c := newDefaultConverter()
	if got := c.InchesPerSecond(254); got != 2 {
		t.Errorf("InchesPerSecond(254) = %v, want 2", got)
	}
}
