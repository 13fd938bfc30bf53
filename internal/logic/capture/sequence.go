// Package capture paces timelapse sequences: a shutter trigger, a short
// carriage move and a delay, repeated once per image.
package capture

import (
	"fmt"
	"sync"
	"time"

	"github.com/cjeanneret/SlideGo/internal/debug"
	"github.com/cjeanneret/SlideGo/internal/logic/geometry"
	"github.com/cjeanneret/SlideGo/internal/logic/motion"
	"github.com/google/uuid"
)

// Carriage is the part of motion.Machine the scheduler drives.
type Carriage interface {
	StartMove(req motion.MotionRequest) error
	RequestStop()
	CompletedMoves() uint64
	LastStopReason() motion.StopReason
}

// Trigger fires the camera without blocking. camera.Async implements it.
type Trigger interface {
	Trigger() bool
}

// State is the position of a sequence within one cycle.
type State int

const (
	Shutter State = iota
	Move
	Delay
)

func (s State) String() string {
	switch s {
	case Shutter:
		return "shutter"
	case Move:
		return "move"
	case Delay:
		return "delay"
	default:
		return fmt.Sprintf("sequence(%d)", int(s))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *State) UnmarshalText(text []byte) error {
	for st := Shutter; st <= Delay; st++ {
		if st.String() == string(text) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown sequence state %q", text)
}

// Config holds the scheduler constants.
type Config struct {
	Settle    time.Duration // pause between the shutter trigger and the move
	Limits    Limits
	Params    Params // initial totals, may be empty
	Clockwise bool
}

// Option customizes a Scheduler.
type Option func(*Scheduler)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// Scheduler runs a timelapse sequence on top of a Carriage.
type Scheduler struct {
	mu       sync.Mutex
	carriage Carriage
	shutter  Trigger
	conv     *geometry.Converter
	settle   time.Duration
	limits   Limits
	now      func() time.Time

	params    Params
	plan      Plan
	pending   *Params
	clockwise bool

	enabled     bool
	state       State
	imageCount  int
	moveStart   time.Time
	settleUntil time.Time
	moveIssued  bool
	baseMoves   uint64
	runID       string
	lastErr     error
}

// NewScheduler creates an idle scheduler. Invalid initial params are kept
// but Start refuses them until SetParams supplies valid ones.
func NewScheduler(c Carriage, sh Trigger, conv *geometry.Converter, cfg Config, opts ...Option) *Scheduler {
	s := &Scheduler{
		carriage:  c,
		shutter:   sh,
		conv:      conv,
		settle:    cfg.Settle,
		limits:    cfg.Limits,
		now:       time.Now,
		clockwise: cfg.Clockwise,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.applyParams(cfg.Params)
	return s
}

// SetParams validates p and recomputes the plan. While a sequence runs the
// change is queued and applied when it ends, is stopped or is restarted.
func (s *Scheduler) SetParams(p Params) error {
	if err := p.Validate(s.limits); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.enabled {
		q := p
		s.pending = &q
		debug.Verbose("Timelapse: parameters queued until the sequence ends (%+v)", p)
		return nil
	}
	s.applyParams(p)
	return nil
}

func (s *Scheduler) applyParams(p Params) {
	s.params = p
	s.plan = NewPlan(p, s.conv, s.settle)
	s.pending = nil
	if s.plan.DistanceAdjusted || s.plan.IntervalAdjusted {
		debug.Live("Timelapse: adjusted to %d in over %d s (distance adjusted=%v, interval adjusted=%v)",
			s.plan.Effective.TotalDistanceIn, s.plan.Effective.TotalDurationSec,
			s.plan.DistanceAdjusted, s.plan.IntervalAdjusted)
	}
}

func (s *Scheduler) applyPending() {
	if s.pending != nil {
		s.applyParams(*s.pending)
	}
}

// Plan returns the active plan.
func (s *Scheduler) Plan() Plan {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.plan
}

// SetClockwise sets the direction of the next sequence.
func (s *Scheduler) SetClockwise(cw bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.enabled {
		return ErrRunning
	}
	s.clockwise = cw
	return nil
}

// Start begins a new sequence from image 0.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.enabled {
		return ErrRunning
	}
	s.applyPending()
	if err := s.params.Validate(s.limits); err != nil {
		return err
	}
	if !s.plan.Valid() {
		return fmt.Errorf("%w: empty plan", ErrInvalidParams)
	}

	s.enabled = true
	s.state = Shutter
	s.imageCount = 0
	s.moveIssued = false
	s.lastErr = nil
	s.runID = uuid.NewString()

	debug.Run("timelapse", s.runID)
	debug.Info("Timelapse: %d images, %d in every %v",
		s.plan.Effective.TotalImages, s.plan.MoveDistanceIn, s.plan.MoveInterval)
	return nil
}

// Stop ends the sequence and halts any carriage move in progress.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.enabled {
		return
	}
	s.carriage.RequestStop()
	debug.Info("Timelapse: stopped after %d/%d images", s.imageCount, s.plan.Effective.TotalImages)
	s.finish()
}

// finish returns to idle. Caller holds s.mu.
func (s *Scheduler) finish() {
	if s.state != Shutter {
		debug.Transition("timelapse", s.state.String(), Shutter.String())
	}
	s.enabled = false
	s.state = Shutter
	s.moveIssued = false
	s.applyPending()
}

// Running reports whether a sequence is enabled.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled
}

// Poll advances the sequence by at most one state. It never blocks.
func (s *Scheduler) Poll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.enabled {
		return
	}
	now := s.now()

	switch s.state {
	case Shutter:
		s.moveStart = now
		s.settleUntil = now.Add(s.settle)
		s.moveIssued = false
		if !s.shutter.Trigger() {
			debug.Verbose("Timelapse: shutter still busy, image %d not triggered", s.imageCount+1)
		}
		debug.Shot(s.imageCount+1, s.plan.Effective.TotalImages)
		s.transition(Move)

	case Move:
		if !s.moveIssued {
			if now.Before(s.settleUntil) {
				return
			}
			s.baseMoves = s.carriage.CompletedMoves()
			req := motion.MotionRequest{
				TargetSteps:      s.plan.MoveSteps,
				SpeedStepsPerSec: s.plan.MoveSpeed,
				Clockwise:        s.clockwise,
			}
			if err := s.carriage.StartMove(req); err != nil {
				s.lastErr = err
				debug.Error(fmt.Errorf("timelapse: move %d refused: %w", s.imageCount+1, err))
				s.finish()
				return
			}
			s.moveIssued = true
			return
		}
		if s.carriage.CompletedMoves() > s.baseMoves {
			if s.carriage.LastStopReason() == motion.ReasonFault {
				s.lastErr = fmt.Errorf("timelapse: move %d: %w", s.imageCount+1, motion.ErrFault)
				debug.Error(s.lastErr)
				s.finish()
				return
			}
			s.imageCount++
			s.transition(Delay)
		}

	case Delay:
		if now.Sub(s.moveStart) < s.plan.MoveInterval {
			return
		}
		if s.imageCount >= s.plan.Effective.TotalImages {
			debug.Info("Timelapse: sequence complete (%d images)", s.imageCount)
			s.finish()
			return
		}
		s.transition(Shutter)
	}
}

func (s *Scheduler) transition(next State) {
	debug.Transition("timelapse", s.state.String(), next.String())
	s.state = next
}

// Status is a snapshot of the scheduler.
type Status struct {
	Enabled          bool          `json:"enabled"`
	State            State         `json:"sequence_state"`
	ImageCount       int           `json:"image_count"`
	TotalImages      int           `json:"total_images"`
	RemainingMoves   int           `json:"remaining_moves"`
	MoveDistanceIn   int           `json:"move_distance_in"`
	MoveInterval     time.Duration `json:"-"`
	MoveIntervalSec  int           `json:"move_interval_sec"`
	TotalDistanceIn  int           `json:"total_distance_in"`
	TotalDurationSec int           `json:"total_duration_sec"`
	DistanceSoFarIn  int           `json:"distance_so_far_in"`
	DistanceAdjusted bool          `json:"distance_adjusted"`
	IntervalAdjusted bool          `json:"interval_adjusted"`
	PendingParams    bool          `json:"pending_params"`
	Clockwise        bool          `json:"clockwise"`
	RunID            string        `json:"run_id"`
	LastError        string        `json:"last_error,omitempty"`
}

// Status returns a snapshot of the scheduler.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		Enabled:          s.enabled,
		State:            s.state,
		ImageCount:       s.imageCount,
		TotalImages:      s.plan.Effective.TotalImages,
		RemainingMoves:   max(s.plan.Effective.TotalImages-s.imageCount, 0),
		MoveDistanceIn:   s.plan.MoveDistanceIn,
		MoveInterval:     s.plan.MoveInterval,
		MoveIntervalSec:  int(s.plan.MoveInterval / time.Second),
		TotalDistanceIn:  s.plan.Effective.TotalDistanceIn,
		TotalDurationSec: s.plan.Effective.TotalDurationSec,
		DistanceSoFarIn:  s.imageCount * s.plan.MoveDistanceIn,
		DistanceAdjusted: s.plan.DistanceAdjusted,
		IntervalAdjusted: s.plan.IntervalAdjusted,
		PendingParams:    s.pending != nil,
		Clockwise:        s.clockwise,
		RunID:            s.runID,
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	return st
}
