package stepper

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cjeanneret/SlideGo/internal/debug"
	"github.com/cjeanneret/SlideGo/internal/hw/gpio"
)

// Config holds the hardware configuration for a stepper motor.
type Config struct {
	StepPin       int
	DirPin        int
	EnablePin     int // A4988 ENABLE pin (BCM). 0 = not used. Active LOW (LOW=enabled).
	StepsPerRev   int
	Microstepping int
	StepDelay     time.Duration // delay per half-cycle of STEP pulse in MoveSteps. Total step = 2*StepDelay.
	PulseWidth    time.Duration // STEP high time for timer-driven legs. 0 = back-to-back writes.
	InvertDir     bool          // DIR LOW means clockwise
}

// Stepper drives an A4988-style STEP/DIR driver.
//
// Timer-driven legs (Start/Reverse) run on their own goroutine, which plays
// the role of the step timer interrupt: it is the only writer of the step
// counter while a leg runs. Start, Reverse and Stop are meant to be called
// from a single controlling goroutine (the carriage polling loop); Steps and
// Done may be read from anywhere.
type Stepper struct {
	gpio  gpio.Driver
	cfg   Config
	delay time.Duration // delay between STEP pulse half-cycles

	mu        sync.Mutex
	clockwise bool
	interval  time.Duration
	legSteps  int64
	stop      chan struct{}
	wg        sync.WaitGroup

	steps   atomic.Int64
	legDone atomic.Bool
}

// NewStepper creates a new stepper motor controller.
// cfg.StepDelay: if 0, defaults to 1ms.
func NewStepper(g gpio.Driver, cfg Config) *Stepper {
	_ = g.SetupPin(cfg.StepPin, gpio.Output)
	_ = g.SetupPin(cfg.DirPin, gpio.Output)

	delay := cfg.StepDelay
	if delay <= 0 {
		delay = 1 * time.Millisecond
	}

	s := &Stepper{
		gpio:  g,
		cfg:   cfg,
		delay: delay,
	}
	s.legDone.Store(true)

	// A4988 ENABLE: active LOW. LOW = enabled, HIGH = disabled.
	if cfg.EnablePin > 0 {
		_ = g.SetupPin(cfg.EnablePin, gpio.Output)
		_ = g.WritePin(cfg.EnablePin, gpio.Low) // enable by default
	}

	return s
}

// MoveSteps moves the motor by a number of steps (positive or negative),
// blocking until done. Used for jogging outside of the carriage state machine.
func (s *Stepper) MoveSteps(steps int) error {
	if steps == 0 {
		return nil
	}

	clockwise := steps > 0
	direction := "clockwise"
	if !clockwise {
		direction = "counter-clockwise"
		steps = -steps
	}

	debug.Verbose("Stepper: moving %d steps (%s) on pin %d", steps, direction, s.cfg.StepPin)

	if err := s.writeDir(clockwise); err != nil {
		return err
	}

	for i := 0; i < steps; i++ {
		if err := s.stepPulse(); err != nil {
			return err
		}
	}
	return nil
}

func (s *Stepper) stepPulse() error {
	if err := s.gpio.WritePin(s.cfg.StepPin, gpio.High); err != nil {
		return err
	}
	time.Sleep(s.delay)
	if err := s.gpio.WritePin(s.cfg.StepPin, gpio.Low); err != nil {
		return err
	}
	time.Sleep(s.delay)
	return nil
}

func (s *Stepper) writeDir(clockwise bool) error {
	level := gpio.Level(clockwise != s.cfg.InvertDir)
	return s.gpio.WritePin(s.cfg.DirPin, level)
}

// Start begins a timer-driven leg of legSteps pulses at stepsPerSec in the
// given direction. The step counter is reset to 0. Any running leg is halted
// first.
func (s *Stepper) Start(clockwise bool, stepsPerSec float64, legSteps int64) error {
	if !(stepsPerSec > 0) || legSteps <= 0 {
		return fmt.Errorf("stepper: invalid leg (%d steps at %.2f steps/s)", legSteps, stepsPerSec)
	}
	// a rate above 1e9 steps/s truncates to a zero tick
	interval := time.Duration(float64(time.Second) / stepsPerSec)
	if interval <= 0 {
		return fmt.Errorf("stepper: %.0f steps/s is too fast for the pulse timer", stepsPerSec)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.halt()
	if err := s.writeDir(clockwise); err != nil {
		return fmt.Errorf("stepper: set direction: %w", err)
	}
	if err := s.Enable(); err != nil {
		return fmt.Errorf("stepper: enable driver: %w", err)
	}

	s.clockwise = clockwise
	s.interval = interval
	s.legSteps = legSteps
	s.steps.Store(0)
	s.launch()
	return nil
}

// Reverse flips the direction and starts a fresh leg of the same length and
// rate. The step counter keeps accumulating.
func (s *Stepper) Reverse() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.legSteps == 0 {
		return fmt.Errorf("stepper: reverse without a leg")
	}
	s.halt()
	s.clockwise = !s.clockwise
	if err := s.writeDir(s.clockwise); err != nil {
		return fmt.Errorf("stepper: set direction: %w", err)
	}
	s.launch()
	return nil
}

// Stop halts pulse generation. When Stop returns no further pulses are
// emitted and Steps is frozen.
func (s *Stepper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.halt()
}

// Steps returns the number of pulses emitted since the last Start.
func (s *Stepper) Steps() int64 {
	return s.steps.Load()
}

// Done reports whether the current leg has emitted all of its pulses
// (or was never started).
func (s *Stepper) Done() bool {
	return s.legDone.Load()
}

// Clockwise reports the direction of the current (or last) leg.
func (s *Stepper) Clockwise() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clockwise
}

// launch starts the pulse goroutine. Caller holds s.mu.
func (s *Stepper) launch() {
	stop := make(chan struct{})
	s.stop = stop
	s.legDone.Store(false)
	s.wg.Add(1)
	debug.Trace("Stepper: leg of %d steps every %v (clockwise=%v)", s.legSteps, s.interval, s.clockwise)
	go s.run(stop, s.legSteps, s.interval)
}

// halt stops the pulse goroutine and waits for it. Caller holds s.mu.
func (s *Stepper) halt() {
	if s.stop != nil {
		close(s.stop)
		s.stop = nil
	}
	s.wg.Wait()
}

func (s *Stepper) run(stop <-chan struct{}, leg int64, interval time.Duration) {
	defer s.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for emitted := int64(0); emitted < leg; {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := s.pulse(); err != nil {
				debug.Error(fmt.Errorf("stepper: pulse failed after %d steps: %w", emitted, err))
				s.legDone.Store(true)
				return
			}
			emitted++
			s.steps.Add(1)
		}
	}
	s.legDone.Store(true)
}

func (s *Stepper) pulse() error {
	if err := s.gpio.WritePin(s.cfg.StepPin, gpio.High); err != nil {
		return err
	}
	if s.cfg.PulseWidth > 0 {
		time.Sleep(s.cfg.PulseWidth)
	}
	return s.gpio.WritePin(s.cfg.StepPin, gpio.Low)
}

// Enable turns on the motor driver (A4988 ENABLE=LOW). Motor holds position.
func (s *Stepper) Enable() error {
	if s.cfg.EnablePin <= 0 {
		return nil
	}
	return s.gpio.WritePin(s.cfg.EnablePin, gpio.Low)
}

// Disable turns off the motor driver (A4988 ENABLE=HIGH). Motor freewheels, no holding torque.
// Used when the carriage is parked.
func (s *Stepper) Disable() error {
	if s.cfg.EnablePin <= 0 {
		return nil
	}
	return s.gpio.WritePin(s.cfg.EnablePin, gpio.High)
}
