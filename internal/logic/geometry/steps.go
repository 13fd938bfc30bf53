// Package geometry converts between rail distances and motor steps.
package geometry

import (
	"math"
	"time"

	"github.com/cjeanneret/SlideGo/internal/config"
)

// MmPerInch is the exact inch length in millimetres.
const MmPerInch = 25.4

// MinSpeed is the slowest commanded step rate (steps/sec).
const MinSpeed = 1.0

// Converter maps inches to steps and keeps speeds inside the motor envelope.
type Converter struct {
	stepsPerMm float64
	maxSpeed   float64
}

// NewConverter creates a converter from the stepper and rail configuration.
func NewConverter(cfg *config.Config) *Converter {
	// full steps times microsteps per revolution, over belt travel per revolution
	microstepsPerRev := float64(cfg.Stepper.StepsPerRev * cfg.Stepper.Microstepping)
	mmPerRev := cfg.Rail.BeltPitchMm * float64(cfg.Rail.PulleyTeeth)

	return &Converter{
		stepsPerMm: microstepsPerRev / mmPerRev,
		maxSpeed:   cfg.Rail.MaxSpeed,
	}
}

// StepsPerMm returns the number of steps per millimetre of carriage travel.
func (c *Converter) StepsPerMm() float64 {
	return c.stepsPerMm
}

// StepsPerInch returns the number of steps per inch of carriage travel.
func (c *Converter) StepsPerInch() float64 {
	return c.stepsPerMm * MmPerInch
}

// MaxSpeed returns the upper speed bound in steps/sec.
func (c *Converter) MaxSpeed() float64 {
	return c.maxSpeed
}

// InchesToSteps converts a distance to the nearest whole step count.
func (c *Converter) InchesToSteps(inches float64) int64 {
	return int64(math.Round(inches * c.StepsPerInch()))
}

// StepsToInches converts a step count to inches.
func (c *Converter) StepsToInches(steps int64) float64 {
	return float64(steps) / c.StepsPerInch()
}

// ClampSpeed bounds a step rate to [MinSpeed, MaxSpeed].
// NaN clamps to MinSpeed.
func (c *Converter) ClampSpeed(stepsPerSec float64) float64 {
	if math.IsNaN(stepsPerSec) || stepsPerSec < MinSpeed {
		return MinSpeed
	}
	if stepsPerSec > c.maxSpeed {
		return c.maxSpeed
	}
	return stepsPerSec
}

// VideoSpeed returns the clamped rate that covers targetSteps in durationSec.
// It returns 0 when either input is not positive: there is no move to make.
func (c *Converter) VideoSpeed(targetSteps int64, durationSec float64) float64 {
	if targetSteps <= 0 || durationSec <= 0 {
		return 0
	}
	return c.ClampSpeed(float64(targetSteps) / durationSec)
}

// TravelTime returns how long steps take at stepsPerSec.
func (c *Converter) TravelTime(steps int64, stepsPerSec float64) time.Duration {
	if steps <= 0 || stepsPerSec <= 0 {
		return 0
	}
	return time.Duration(float64(steps) / stepsPerSec * float64(time.Second))
}

// InchesPerSecond converts a step rate to a carriage speed.
func (c *Converter) InchesPerSecond(stepsPerSec float64) float64 {
	return stepsPerSec / c.StepsPerInch()
}
