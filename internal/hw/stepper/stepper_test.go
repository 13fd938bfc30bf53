package stepper

import (
	"math"
	"sync"
	"testing"
	"time"

	"github.com/cjeanneret/SlideGo/internal/hw/gpio"
)

// recordingDriver records GPIO calls for verification.
type recordingDriver struct {
	mu    sync.Mutex
	calls []gpioCall
}

type gpioCall struct {
	op    string // "setup", "write"
	pin   int
	level gpio.Level
}

func (d *recordingDriver) SetupPin(pin int, mode gpio.PinMode) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, gpioCall{op: "setup", pin: pin})
	return nil
}

func (d *recordingDriver) WritePin(pin int, level gpio.Level) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, gpioCall{op: "write", pin: pin, level: level})
	return nil
}

func (d *recordingDriver) ReadPin(pin int) (gpio.Level, error) {
	return gpio.Low, nil
}

func (d *recordingDriver) Close() error {
	return nil
}

func (d *recordingDriver) reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = nil
}

func (d *recordingDriver) writeCalls() []gpioCall {
	d.mu.Lock()
	defer d.mu.Unlock()
	var result []gpioCall
	for _, c := range d.calls {
		if c.op == "write" {
			result = append(result, c)
		}
	}
	return result
}

func (d *recordingDriver) writeCallsForPin(pin int) []gpioCall {
	d.mu.Lock()
	defer d.mu.Unlock()
	var result []gpioCall
	for _, c := range d.calls {
		if c.op == "write" && c.pin == pin {
			result = append(result, c)
		}
	}
	return result
}

func TestStepper_MoveStepsForward(t *testing.T) {
	drv := &recordingDriver{}
	cfg := Config{
		StepPin:       17,
		DirPin:        27,
		EnablePin:     5,
		StepsPerRev:   200,
		Microstepping: 1,
		StepDelay:     1 * time.Microsecond,
	}
	s := NewStepper(drv, cfg)
	drv.reset() // reset after init

	if err := s.MoveSteps(10); err != nil {
		t.Fatalf("MoveSteps: %v", err)
	}

	// First call should set direction HIGH (forward)
	writes := drv.writeCalls()
	if len(writes) == 0 {
		t.Fatal("expected GPIO write calls")
	}
	if writes[0].pin != 27 || writes[0].level != gpio.High {
		t.Errorf("first write should set dir pin HIGH (clockwise), got pin=%d level=%v", writes[0].pin, writes[0].level)
	}

	// Count step pulses (HIGH+LOW pairs on step pin)
	stepPulses := 0
	for _, c := range writes {
		if c.pin == cfg.StepPin && c.level == gpio.High {
			stepPulses++
		}
	}
	if stepPulses != 10 {
		t.Errorf("expected 10 step pulses, got %d", stepPulses)
	}
}

func TestStepper_MoveStepsBackward(t *testing.T) {
	drv := &recordingDriver{}
	cfg := Config{
		StepPin:       17,
		DirPin:        27,
		EnablePin:     5,
		StepsPerRev:   200,
		Microstepping: 1,
		StepDelay:     1 * time.Microsecond,
	}
	s := NewStepper(drv, cfg)
	drv.reset()

	if err := s.MoveSteps(-5); err != nil {
		t.Fatalf("MoveSteps: %v", err)
	}

	writes := drv.writeCalls()
	if len(writes) == 0 {
		t.Fatal("expected GPIO write calls")
	}
	// Direction should be LOW (backward)
	if writes[0].pin != 27 || writes[0].level != gpio.Low {
		t.Errorf("first write should set dir pin LOW, got pin=%d level=%v", writes[0].pin, writes[0].level)
	}

	stepPulses := 0
	for _, c := range writes {
		if c.pin == cfg.StepPin && c.level == gpio.High {
			stepPulses++
		}
	}
	if stepPulses != 5 {
		t.Errorf("expected 5 step pulses, got %d", stepPulses)
	}
}

func TestStepper_MoveStepsZero(t *testing.T) {
	drv := &recordingDriver{}
	cfg := Config{
		StepPin:       17,
		DirPin:        27,
		EnablePin:     5,
		StepsPerRev:   200,
		Microstepping: 1,
		StepDelay:     1 * time.Microsecond,
	}
	s := NewStepper(drv, cfg)
	drv.reset()

	if err := s.MoveSteps(0); err != nil {
		t.Fatalf("MoveSteps: %v", err)
	}

	if n := len(drv.writeCalls()); n != 0 {
		t.Errorf("zero steps should produce no GPIO calls, got %d", n)
	}
}

func TestStepper_EnableDisable(t *testing.T) {
	drv := &recordingDriver{}
	cfg := Config{
		StepPin:       17,
		DirPin:        27,
		EnablePin:     5,
		StepsPerRev:   200,
		Microstepping: 1,
		StepDelay:     1 * time.Microsecond,
	}
	s := NewStepper(drv, cfg)
	drv.reset()

	if err := s.Enable(); err != nil {
		t.Fatalf("Enable: %v", err)
	}
	enableCalls := drv.writeCallsForPin(5)
	if len(enableCalls) != 1 || enableCalls[0].level != gpio.Low {
		t.Errorf("Enable should write LOW to enable pin, got %v", enableCalls)
	}

	drv.reset()
	if err := s.Disable(); err != nil {
		t.Fatalf("Disable: %v", err)
	}
	disableCalls := drv.writeCallsForPin(5)
	if len(disableCalls) != 1 || disableCalls[0].level != gpio.High {
		t.Errorf("Disable should write HIGH to enable pin, got %v", disableCalls)
	}
}

func TestStepper_EnableDisable_NoEnablePin(t *testing.T) {
	drv := &recordingDriver{}
	cfg := Config{
		StepPin:       17,
		DirPin:        27,
		EnablePin:     0, // no enable pin
		StepsPerRev:   200,
		Microstepping: 1,
		StepDelay:     1 * time.Microsecond,
	}
	s := NewStepper(drv, cfg)
	drv.reset()

	if err := s.Enable(); err != nil {
		t.Fatalf("Enable: %v", err)
	}
	if err := s.Disable(); err != nil {
		t.Fatalf("Disable: %v", err)
	}

	if n := len(drv.writeCalls()); n != 0 {
		t.Errorf("with EnablePin=0, Enable/Disable should produce no GPIO calls, got %d", n)
	}
}

func TestStepper_DefaultStepDelay(t *testing.T) {
	drv := &recordingDriver{}
	cfg := Config{
		StepPin:       17,
		DirPin:        27,
		StepsPerRev:   200,
		Microstepping: 1,
		StepDelay:     0, // should default to 1ms
	}
	s := NewStepper(drv, cfg)
	if s.delay != 1*time.Millisecond {
		t.Errorf("default delay = %v, want 1ms", s.delay)
	}
}

func TestStepper_StepPulsePattern(t *testing.T) {
	drv := &recordingDriver{}
	cfg := Config{
		StepPin:       17,
		DirPin:        27,
		EnablePin:     5,
		StepsPerRev:   200,
		Microstepping: 1,
		StepDelay:     1 * time.Microsecond,
	}
	s := NewStepper(drv, cfg)
	drv.reset()

	s.MoveSteps(1) // single step

	stepCalls := drv.writeCallsForPin(17)
	// Should be HIGH then LOW
	if len(stepCalls) != 2 {
		t.Fatalf("single step should produce 2 writes on step pin, got %d", len(stepCalls))
	}
	if stepCalls[0].level != gpio.High {
		t.Error("first pulse should be HIGH")
	}
	if stepCalls[1].level != gpio.Low {
		t.Error("second pulse should be LOW")
	}
}

// ---------- timer-driven legs ----------

func newLegStepper() (*Stepper, *recordingDriver) {
	drv := &recordingDriver{}
	s := NewStepper(drv, Config{
		StepPin:       17,
		DirPin:        27,
		EnablePin:     5,
		StepsPerRev:   200,
		Microstepping: 1,
	})
	drv.reset()
	return s, drv
}

func waitDone(t *testing.T, s *Stepper) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !s.Done() {
		if time.Now().After(deadline) {
			t.Fatalf("leg did not finish, steps=%d", s.Steps())
		}
		time.Sleep(time.Millisecond)
	}
}

func countHighPulses(writes []gpioCall, pin int) int {
	n := 0
	for _, c := range writes {
		if c.pin == pin && c.level == gpio.High {
			n++
		}
	}
	return n
}

func TestStepper_StartRunsLegToCompletion(t *testing.T) {
	s, drv := newLegStepper()

	if err := s.Start(true, 5000, 20); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitDone(t, s)

	if got := s.Steps(); got != 20 {
		t.Errorf("Steps() = %d, want 20", got)
	}
	if got := countHighPulses(drv.writeCalls(), 17); got != 20 {
		t.Errorf("step pulses = %d, want 20", got)
	}
	dir := drv.writeCallsForPin(27)
	if len(dir) == 0 || dir[0].level != gpio.High {
		t.Errorf("clockwise leg should set DIR HIGH, got %v", dir)
	}
	enable := drv.writeCallsForPin(5)
	if len(enable) == 0 || enable[len(enable)-1].level != gpio.Low {
		t.Errorf("Start should enable the driver, got %v", enable)
	}
}

func TestStepper_StartResetsCounter(t *testing.T) {
	s, _ := newLegStepper()

	if err := s.Start(true, 5000, 10); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitDone(t, s)
	if err := s.Start(false, 5000, 3); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	waitDone(t, s)
	if got := s.Steps(); got != 3 {
		t.Errorf("Steps() after second leg = %d, want 3", got)
	}
}

func TestStepper_StopFreezesCounter(t *testing.T) {
	s, _ := newLegStepper()

	if err := s.Start(true, 200, 100000); err != nil {
		t.Fatalf("Start: %v", err)
	}
	time.Sleep(30 * time.Millisecond)
	s.Stop()

	frozen := s.Steps()
	time.Sleep(30 * time.Millisecond)
	if got := s.Steps(); got != frozen {
		t.Errorf("Steps() changed after Stop: %d -> %d", frozen, got)
	}
	if frozen >= 100000 {
		t.Errorf("Stop should interrupt the leg, got %d steps", frozen)
	}
	if s.Done() {
		t.Error("an interrupted leg should not report Done")
	}
}

func TestStepper_ReverseKeepsCounting(t *testing.T) {
	s, drv := newLegStepper()

	if err := s.Start(true, 5000, 5); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitDone(t, s)
	if err := s.Reverse(); err != nil {
		t.Fatalf("Reverse: %v", err)
	}
	waitDone(t, s)

	if got := s.Steps(); got != 10 {
		t.Errorf("Steps() after reverse = %d, want 10", got)
	}
	if s.Clockwise() {
		t.Error("Clockwise() should be false after reversing a clockwise leg")
	}
	dir := drv.writeCallsForPin(27)
	if len(dir) < 2 || dir[len(dir)-1].level != gpio.Low {
		t.Errorf("reverse should set DIR LOW, got %v", dir)
	}
}

func TestStepper_ReverseWithoutLeg(t *testing.T) {
	s, _ := newLegStepper()
	if err := s.Reverse(); err == nil {
		t.Error("Reverse before any Start should fail")
	}
}

func TestStepper_StartRejectsInvalidLeg(t *testing.T) {
	s, _ := newLegStepper()
	cases := []struct {
		name  string
		speed float64
		steps int64
	}{
		{"zero_speed", 0, 10},
		{"negative_speed", -5, 10},
		{"zero_steps", 100, 0},
		{"negative_steps", 100, -1},
		{"too_fast", 2e9, 10},
		{"infinite_speed", math.Inf(1), 10},
		{"nan_speed", math.NaN(), 10},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := s.Start(true, tc.speed, tc.steps); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
	if !s.Done() {
		t.Error("rejected Start should leave the stepper idle")
	}
}

func TestStepper_InvertDir(t *testing.T) {
	drv := &recordingDriver{}
	s := NewStepper(drv, Config{StepPin: 17, DirPin: 27, InvertDir: true, StepDelay: time.Microsecond})
	drv.reset()

	if err := s.MoveSteps(1); err != nil {
		t.Fatalf("MoveSteps: %v", err)
	}
	dir := drv.writeCallsForPin(27)
	if len(dir) != 1 || dir[0].level != gpio.Low {
		t.Errorf("inverted clockwise should write DIR LOW, got %v", dir)
	}
}
