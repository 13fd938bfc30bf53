// Package slider ties the carriage machine and the timelapse scheduler into
// the engine driven by the polling loop and observed by the web layer.
package slider

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cjeanneret/SlideGo/internal/config"
	"github.com/cjeanneret/SlideGo/internal/debug"
	"github.com/cjeanneret/SlideGo/internal/hw/endstop"
	"github.com/cjeanneret/SlideGo/internal/logic/capture"
	"github.com/cjeanneret/SlideGo/internal/logic/geometry"
	"github.com/cjeanneret/SlideGo/internal/logic/motion"
)

var (
	// ErrDisabled is returned when an action needs an enabled mode.
	ErrDisabled = errors.New("slider: slider is disabled")
	// ErrInvalidVideo is returned for a video distance or duration outside
	// the configured limits.
	ErrInvalidVideo = errors.New("slider: invalid video parameters")
)

// VideoParams is a single continuous move, in whole inches and seconds.
type VideoParams struct {
	DistanceIn  int `json:"distance_in"`
	DurationSec int `json:"duration_sec"`
}

// Config holds the engine start-up values.
type Config struct {
	Mode           Mode
	Clockwise      bool
	Video          VideoParams
	Limits         capture.Limits
	PollInterval   time.Duration
	StatusInterval time.Duration
}

// Observer receives status snapshots from Run.
type Observer func(Status)

// Engine owns the operating mode and forwards user actions to the carriage
// machine and the timelapse scheduler.
type Engine struct {
	mu        sync.Mutex
	machine   *motion.Machine
	sched     *capture.Scheduler
	conv      *geometry.Converter
	limits    capture.Limits
	mode      Mode
	video     VideoParams
	clockwise bool

	pollInterval   time.Duration
	statusInterval time.Duration

	obsMu     sync.Mutex
	observers map[int]Observer
	nextObs   int
}

// New creates an engine over an existing machine and scheduler.
func New(m *motion.Machine, s *capture.Scheduler, conv *geometry.Converter, cfg Config) *Engine {
	e := &Engine{
		machine:        m,
		sched:          s,
		conv:           conv,
		limits:         cfg.Limits,
		mode:           cfg.Mode,
		video:          cfg.Video,
		clockwise:      cfg.Clockwise,
		pollInterval:   cfg.PollInterval,
		statusInterval: cfg.StatusInterval,
		observers:      make(map[int]Observer),
	}
	if e.pollInterval <= 0 {
		e.pollInterval = 5 * time.Millisecond
	}
	if e.statusInterval <= 0 {
		e.statusInterval = 500 * time.Millisecond
	}
	_ = m.SetRequest(e.videoRequestLocked())
	if e.mode == Disabled {
		m.Park()
	}
	return e
}

// FromConfig builds the converter, machine, scheduler and engine described
// by cfg.
func FromConfig(cfg *config.Config, p motion.Pulser, events <-chan endstop.Event, sh capture.Trigger) (*Engine, error) {
	mode, err := ParseMode(cfg.Defaults.Mode)
	if err != nil {
		return nil, fmt.Errorf("defaults.mode: %w", err)
	}
	policy, err := motion.ParsePolicy(cfg.Defaults.EndstopPolicy)
	if err != nil {
		return nil, fmt.Errorf("defaults.endstop_policy: %w", err)
	}

	conv := geometry.NewConverter(cfg)
	limits := capture.Limits{
		MaxDistanceIn:  cfg.Rail.MaxTravelIn,
		MaxDurationSec: cfg.Rail.MaxTravelSec,
		MaxImages:      cfg.Rail.MaxMoves,
	}

	machine := motion.NewMachine(p, events, motion.Config{
		HomeClockwise:  cfg.Rail.HomeClockwise,
		MaxTravelSteps: conv.InchesToSteps(float64(cfg.Rail.MaxTravelIn)),
		MaxSpeed:       conv.MaxSpeed(),
		Policy:         policy,
	})
	sched := capture.NewScheduler(machine, sh, conv, capture.Config{
		Settle:    cfg.SettleDelay(),
		Limits:    limits,
		Clockwise: cfg.Defaults.Clockwise,
	})

	d := cfg.Defaults
	if d.TimelapseDistanceIn != 0 || d.TimelapseDurationSec != 0 || d.TimelapseImages != 0 {
		tl := capture.Params{
			TotalDistanceIn:  d.TimelapseDistanceIn,
			TotalDurationSec: d.TimelapseDurationSec,
			TotalImages:      d.TimelapseImages,
		}
		if err := sched.SetParams(tl); err != nil {
			return nil, fmt.Errorf("defaults timelapse: %w", err)
		}
	}

	return New(machine, sched, conv, Config{
		Mode:      mode,
		Clockwise: d.Clockwise,
		Video: VideoParams{
			DistanceIn:  d.VideoDistanceIn,
			DurationSec: d.VideoDurationSec,
		},
		Limits:         limits,
		PollInterval:   cfg.PollInterval(),
		StatusInterval: cfg.StatusInterval(),
	}), nil
}

// busyErr explains why the setup cannot change right now. Caller holds e.mu.
func (e *Engine) busyErr() error {
	if e.sched.Running() {
		return capture.ErrRunning
	}
	if e.machine.Busy() {
		return motion.ErrTraveling
	}
	return nil
}

// videoRequestLocked converts the video parameters to a carriage request.
// Caller holds e.mu.
func (e *Engine) videoRequestLocked() motion.MotionRequest {
	steps := e.conv.InchesToSteps(float64(e.video.DistanceIn))
	return motion.MotionRequest{
		TargetSteps:      steps,
		SpeedStepsPerSec: e.conv.VideoSpeed(steps, float64(e.video.DurationSec)),
		Clockwise:        e.clockwise,
	}
}

// SetVideoDistance sets the video travel distance and recomputes the
// target and clamped speed.
func (e *Engine) SetVideoDistance(inches int) error {
	if inches <= 0 || (e.limits.MaxDistanceIn > 0 && inches > e.limits.MaxDistanceIn) {
		return fmt.Errorf("%w: distance %d in outside 1..%d", ErrInvalidVideo, inches, e.limits.MaxDistanceIn)
	}
	return e.updateVideo(func(v *VideoParams) { v.DistanceIn = inches })
}

// SetVideoDuration sets the video travel duration and recomputes the
// clamped speed.
func (e *Engine) SetVideoDuration(seconds int) error {
	if seconds <= 0 || (e.limits.MaxDurationSec > 0 && seconds > e.limits.MaxDurationSec) {
		return fmt.Errorf("%w: duration %d s outside 1..%d", ErrInvalidVideo, seconds, e.limits.MaxDurationSec)
	}
	return e.updateVideo(func(v *VideoParams) { v.DurationSec = seconds })
}

func (e *Engine) updateVideo(apply func(*VideoParams)) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.busyErr(); err != nil {
		return err
	}
	prev := e.video
	apply(&e.video)
	req := e.videoRequestLocked()
	if err := e.machine.SetRequest(req); err != nil {
		e.video = prev
		return err
	}
	debug.Verbose("Video: %d in over %d s -> %d steps at %.2f steps/s",
		e.video.DistanceIn, e.video.DurationSec, req.TargetSteps, req.SpeedStepsPerSec)
	return nil
}

// SetTimelapse sets the timelapse totals. Edits during a run are queued.
func (e *Engine) SetTimelapse(p capture.Params) error {
	return e.sched.SetParams(p)
}

// SetMode changes the operating mode. Disabled parks the carriage.
func (e *Engine) SetMode(m Mode) error {
	if _, ok := modeNames[m]; !ok {
		return fmt.Errorf("slider: unknown mode %d", int(m))
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.busyErr(); err != nil {
		return err
	}
	if m != e.mode {
		debug.Transition("mode", e.mode.String(), m.String())
	}
	e.mode = m
	if m == Disabled {
		e.machine.Park()
	}
	return nil
}

// CycleMode advances to the next mode and returns it.
func (e *Engine) CycleMode() (Mode, error) {
	next := e.Mode().Next()
	return next, e.SetMode(next)
}

// SetDirection sets the travel direction of the next move or sequence.
func (e *Engine) SetDirection(clockwise bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.busyErr(); err != nil {
		return err
	}
	if err := e.sched.SetClockwise(clockwise); err != nil {
		return err
	}
	e.clockwise = clockwise
	return e.machine.SetRequest(e.videoRequestLocked())
}

// ToggleDirection flips the travel direction and returns the new value.
func (e *Engine) ToggleDirection() (bool, error) {
	e.mu.Lock()
	next := !e.clockwise
	e.mu.Unlock()
	return next, e.SetDirection(next)
}

// SetPolicy sets the endstop policy.
func (e *Engine) SetPolicy(p motion.Policy) error {
	return e.machine.SetPolicy(p)
}

// CyclePolicy advances to the next endstop policy and returns it.
func (e *Engine) CyclePolicy() (motion.Policy, error) {
	next := e.machine.Policy().Next()
	return next, e.machine.SetPolicy(next)
}

// Start begins a video move or a timelapse sequence, depending on the mode.
func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.mode {
	case Video:
		if e.sched.Running() {
			return capture.ErrRunning
		}
		req := e.videoRequestLocked()
		if !req.Valid() {
			return fmt.Errorf("%w: set the video distance and duration first", motion.ErrInvalidRequest)
		}
		return e.machine.StartMove(req)
	case Timelapse:
		if e.machine.Busy() {
			return motion.ErrTraveling
		}
		if err := e.sched.SetClockwise(e.clockwise); err != nil {
			return err
		}
		return e.sched.Start()
	default:
		return ErrDisabled
	}
}

// Stop ends any sequence and stops the carriage on the next poll.
func (e *Engine) Stop() {
	e.sched.Stop()
	e.machine.RequestStop()
}

// Home drives the carriage to the home endstop.
func (e *Engine) Home() error {
	if err := e.homingAllowed(); err != nil {
		return err
	}
	return e.machine.Home()
}

// Calibrate homes the carriage and measures the rail.
func (e *Engine) Calibrate() error {
	if err := e.homingAllowed(); err != nil {
		return err
	}
	return e.machine.Calibrate()
}

func (e *Engine) homingAllowed() error {
	if e.Mode() == Disabled {
		return ErrDisabled
	}
	if e.sched.Running() {
		return capture.ErrRunning
	}
	return nil
}

// Park stops everything and releases the motor.
func (e *Engine) Park() {
	e.sched.Stop()
	e.machine.Park()
}

// Poll advances the carriage, then the scheduler.
func (e *Engine) Poll() {
	e.machine.Poll()
	e.sched.Poll()
}

// Mode returns the operating mode.
func (e *Engine) Mode() Mode {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.mode
}

// Video returns the video parameters.
func (e *Engine) Video() VideoParams {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.video
}

// Limits returns the configured input maxima.
func (e *Engine) Limits() capture.Limits {
	return e.limits
}

// Converter returns the unit converter.
func (e *Engine) Converter() *geometry.Converter {
	return e.conv
}

// Subscribe registers fn to receive status snapshots published by Run.
// The returned function removes it.
func (e *Engine) Subscribe(fn Observer) func() {
	e.obsMu.Lock()
	defer e.obsMu.Unlock()
	id := e.nextObs
	e.nextObs++
	e.observers[id] = fn
	return func() {
		e.obsMu.Lock()
		defer e.obsMu.Unlock()
		delete(e.observers, id)
	}
}

func (e *Engine) publish(st Status) {
	e.obsMu.Lock()
	observers := make([]Observer, 0, len(e.observers))
	for _, fn := range e.observers {
		observers = append(observers, fn)
	}
	e.obsMu.Unlock()

	for _, fn := range observers {
		fn(st)
	}
}

// Run is the polling loop. It publishes a status snapshot on every state
// change and every status interval, and stops the carriage when ctx ends.
func (e *Engine) Run(ctx context.Context) error {
	poll := time.NewTicker(e.pollInterval)
	defer poll.Stop()
	push := time.NewTicker(e.statusInterval)
	defer push.Stop()

	debug.Info("Engine running (poll %v, status %v)", e.pollInterval, e.statusInterval)
	last := e.Status()
	e.publish(last)

	for {
		select {
		case <-ctx.Done():
			e.Stop()
			e.Poll()
			e.publish(e.Status())
			debug.Info("Engine stopped")
			return ctx.Err()
		case <-poll.C:
			e.Poll()
			st := e.Status()
			if st.changedFrom(last) {
				e.publish(st)
			}
			last = st
		case <-push.C:
			last = e.Status()
			e.publish(last)
		}
	}
}
