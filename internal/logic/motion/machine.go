// Package motion owns the carriage lifecycle: travel, endstop reactions,
// parking, homing and calibration.
//
// Collaborators post requests (SetRequest, RequestMove, RequestStop, Park,
// Home, Calibrate) from any goroutine. Transitions only happen inside Poll,
// which the engine loop calls repeatedly.
package motion

import (
	"fmt"
	"sync"
	"time"

	"github.com/cjeanneret/SlideGo/internal/debug"
	"github.com/cjeanneret/SlideGo/internal/hw/endstop"
	"github.com/google/uuid"
)

// Config holds the rail envelope and start-up values of a Machine.
type Config struct {
	HomeClockwise  bool    // direction of travel towards the home endstop
	MaxTravelSteps int64   // full rail length, used by homing and calibration
	MaxSpeed       float64 // steps/sec used by homing and calibration
	Policy         Policy
	Request        MotionRequest
}

// Option customizes a Machine.
type Option func(*Machine)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Machine) { m.now = now }
}

// Machine is the carriage state machine.
type Machine struct {
	mu       sync.Mutex
	pulser   Pulser
	endstops <-chan endstop.Event
	now      func() time.Time
	cfg      Config

	state   State
	policy  Policy
	request MotionRequest

	// pending commands, consumed by Poll
	newMove       bool
	stopRequested bool
	parkRequested bool
	preempt       bool

	// current or last move
	clockwise   bool
	hits        int
	running     bool
	stepsTaken  int64
	travelStart time.Time
	lastRun     time.Duration
	completed   uint64
	runID       string
	lastReason  StopReason

	homing homingRun
}

// NewMachine creates a stopped carriage. events may be nil when no endstops
// are fitted.
func NewMachine(p Pulser, events <-chan endstop.Event, cfg Config, opts ...Option) *Machine {
	m := &Machine{
		pulser:   p,
		endstops: events,
		now:      time.Now,
		cfg:      cfg,
		state:    Stopped,
		policy:   cfg.Policy,
		request:  cfg.Request,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.request.SpeedStepsPerSec = m.clampSpeed(m.request.SpeedStepsPerSec)
	return m
}

// SetRequest replaces the motion request. It is refused while traveling so
// the in-flight move keeps its target.
func (m *Machine) SetRequest(req MotionRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.setRequestLocked(req)
}

func (m *Machine) setRequestLocked(req MotionRequest) error {
	if m.running {
		return ErrTraveling
	}
	if m.homing.active() {
		return ErrHoming
	}
	req.SpeedStepsPerSec = m.clampSpeed(req.SpeedStepsPerSec)
	m.request = req
	return nil
}

// clampSpeed bounds a positive speed to [1, MaxSpeed]. Non-positive speeds
// are left for Valid to reject.
func (m *Machine) clampSpeed(v float64) float64 {
	switch {
	case !(v > 0):
		return v
	case v < 1:
		return 1
	case m.cfg.MaxSpeed > 0 && v > m.cfg.MaxSpeed:
		return m.cfg.MaxSpeed
	}
	return v
}

// Request returns the current motion request.
func (m *Machine) Request() MotionRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.request
}

// SetPolicy changes the endstop policy. A change while traveling applies to
// the next endstop hit.
func (m *Machine) SetPolicy(p Policy) error {
	if _, ok := policyNames[p]; !ok {
		return fmt.Errorf("motion: unknown policy %d", int(p))
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.homing.active() {
		return ErrHoming
	}
	m.policy = p
	return nil
}

// Policy returns the current endstop policy.
func (m *Machine) Policy() Policy {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.policy
}

// RequestMove asks Poll to start a move with the current request.
func (m *Machine) RequestMove() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requestMoveLocked()
}

func (m *Machine) requestMoveLocked() error {
	if m.running {
		return ErrTraveling
	}
	if m.homing.active() {
		return ErrHoming
	}
	if !m.request.Valid() {
		return fmt.Errorf("%w: %d steps at %.2f steps/s", ErrInvalidRequest, m.request.TargetSteps, m.request.SpeedStepsPerSec)
	}
	m.newMove = true
	return nil
}

// StartMove sets req and requests the move in one step.
func (m *Machine) StartMove(req MotionRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.setRequestLocked(req); err != nil {
		return err
	}
	return m.requestMoveLocked()
}

// RequestStop stops the carriage on the next Poll and cancels a pending move.
func (m *Machine) RequestStop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopRequested = true
}

// Park stops the carriage on the next Poll and releases the motor.
func (m *Machine) Park() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.parkRequested = true
}

// Poll advances the state machine once. It never blocks on motion.
func (m *Machine) Poll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopRequested {
		m.stopRequested = false
		m.newMove = false
		m.preempt = false
		if m.running {
			m.endMove(ReasonCommand)
		} else if m.homing.active() {
			// stop between the seek and measure legs
			m.lastReason = ReasonCommand
			m.restoreHoming()
		}
	}

	if m.parkRequested {
		m.parkRequested = false
		m.newMove = false
		m.preempt = false
		if m.running {
			m.endMove(ReasonPark)
		} else if m.homing.active() {
			m.restoreHoming()
		}
		m.enterParked()
		m.drainEndstops()
		return
	}

	if m.preempt {
		m.preempt = false
		if m.running {
			m.endMove(reasonPreempt)
		}
	}

	if m.running {
		m.handleEndstops()
		if m.running && m.pulser.Done() {
			m.endMove(ReasonComplete)
		}
	}

	if !m.running {
		m.drainEndstops()
		if m.newMove {
			m.newMove = false
			m.startMove()
		}
	}
}

func (m *Machine) enterParked() {
	if m.state != Parked {
		debug.Transition("carriage", m.state.String(), Parked.String())
	}
	m.state = Parked
	if err := m.pulser.Disable(); err != nil {
		debug.Error(fmt.Errorf("motion: disable driver: %w", err))
	}
}

func (m *Machine) startMove() {
	req := m.request
	if !req.Valid() {
		debug.Verbose("Carriage: move dropped, invalid request %+v", req)
		if m.homing.active() {
			m.restoreHoming()
		}
		return
	}
	if err := m.pulser.Start(req.Clockwise, req.SpeedStepsPerSec, req.TargetSteps); err != nil {
		debug.Error(fmt.Errorf("motion: start move: %w", err))
		m.lastReason = ReasonFault
		m.completed++
		m.onMoveFinished(ReasonFault)
		return
	}

	debug.Transition("carriage", m.state.String(), Traveling.String())
	m.state = Traveling
	m.running = true
	m.clockwise = req.Clockwise
	m.hits = 0
	m.stepsTaken = 0
	m.travelStart = m.now()
	m.lastReason = ReasonNone
	m.runID = uuid.NewString()

	debug.Run("move", m.runID)
	debug.Move(req.TargetSteps, req.SpeedStepsPerSec, directionName(req.Clockwise))
}

// endMove halts pulses, freezes the counters and returns to Stopped.
func (m *Machine) endMove(reason StopReason) {
	m.pulser.Stop()
	m.stepsTaken = m.pulser.Steps()
	m.running = false
	m.lastRun = m.now().Sub(m.travelStart)
	m.lastReason = reason
	m.completed++

	debug.Transition("carriage", m.state.String(), Stopped.String())
	debug.Live("Carriage: %s after %d steps in %v", reason, m.stepsTaken, m.lastRun)
	m.state = Stopped
	m.onMoveFinished(reason)
}

// towards returns the endstop the carriage is heading for.
func (m *Machine) towards() endstop.Which {
	if m.clockwise == m.cfg.HomeClockwise {
		return endstop.Home
	}
	return endstop.Far
}

func (m *Machine) handleEndstops() {
	for m.running {
		select {
		case ev := <-m.endstops:
			if ev.Which != m.towards() {
				debug.Trace("Carriage: %s endstop ignored while heading %s", ev.Which, m.towards())
				continue
			}
			m.applyPolicy(ev)
		default:
			return
		}
	}
	m.drainEndstops()
}

func (m *Machine) applyPolicy(ev endstop.Event) {
	m.hits++
	debug.Verbose("Carriage: %s endstop hit #%d (policy %s)", ev.Which, m.hits, m.policy)

	switch m.policy {
	case StopHere:
		m.endMove(ReasonEndstop)
	case Reverse:
		m.reverse()
	case OneCycle:
		if m.hits == 1 {
			m.reverse()
		} else {
			m.endMove(ReasonEndstop)
		}
	}
}

func (m *Machine) reverse() {
	if err := m.pulser.Reverse(); err != nil {
		debug.Error(fmt.Errorf("motion: reverse: %w", err))
		m.endMove(ReasonFault)
		return
	}
	m.clockwise = !m.clockwise
	next := TravelingReverse
	if m.state == TravelingReverse {
		next = Traveling
	}
	debug.Transition("carriage", m.state.String(), next.String())
	m.state = next
}

func (m *Machine) drainEndstops() {
	for {
		select {
		case ev := <-m.endstops:
			debug.Trace("Carriage: %s endstop ignored while not traveling", ev.Which)
		default:
			return
		}
	}
}

// StepsTaken is the live pulse count while traveling, otherwise the final
// count of the last move.
func (m *Machine) StepsTaken() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stepsTakenLocked()
}

func (m *Machine) stepsTakenLocked() int64 {
	if m.running {
		return m.pulser.Steps()
	}
	return m.stepsTaken
}

// Running reports whether a move is in progress.
func (m *Machine) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Busy reports whether the carriage is moving, has a move pending or is
// homing.
func (m *Machine) Busy() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running || m.newMove || m.homing.active()
}

// State returns the carriage state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// CompletedMoves counts moves that have ended, whatever the reason.
func (m *Machine) CompletedMoves() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.completed
}

// LastStopReason reports why the last move ended. ReasonFault means the
// pulser failed to start or reverse.
func (m *Machine) LastStopReason() StopReason {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastReason
}

// Status is a consistent snapshot of the carriage.
type Status struct {
	State           State         `json:"state"`
	Policy          Policy        `json:"endstop_policy"`
	Request         MotionRequest `json:"request"`
	Running         bool          `json:"running"`
	Clockwise       bool          `json:"clockwise"`
	StepsTaken      int64         `json:"steps_taken"`
	TravelStart     time.Time     `json:"travel_start"`
	LastRunDuration time.Duration `json:"-"`
	LastRunMs       int64         `json:"last_run_duration_ms"`
	Elapsed         time.Duration `json:"-"`
	ElapsedMs       int64         `json:"elapsed_ms"`
	CompletedMoves  uint64        `json:"completed_moves"`
	LastStopReason  StopReason    `json:"last_stop_reason"`
	RunID           string        `json:"run_id"`
	Homing          bool          `json:"homing"`
	Calibrating     bool          `json:"calibrating"`
	CalibratedSteps int64         `json:"calibrated_steps"`
}

// Status returns a snapshot of the carriage.
func (m *Machine) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	elapsed := m.lastRun
	clockwise := m.request.Clockwise
	if m.running {
		elapsed = m.now().Sub(m.travelStart)
		clockwise = m.clockwise
	}
	return Status{
		State:           m.state,
		Policy:          m.policy,
		Request:         m.request,
		Running:         m.running,
		Clockwise:       clockwise,
		StepsTaken:      m.stepsTakenLocked(),
		TravelStart:     m.travelStart,
		LastRunDuration: m.lastRun,
		LastRunMs:       m.lastRun.Milliseconds(),
		Elapsed:         elapsed,
		ElapsedMs:       elapsed.Milliseconds(),
		CompletedMoves:  m.completed,
		LastStopReason:  m.lastReason,
		RunID:           m.runID,
		Homing:          m.homing.active(),
		Calibrating:     m.homing.calibrate,
		CalibratedSteps: m.homing.calibratedSteps,
	}
}

func directionName(clockwise bool) string {
	if clockwise {
		return "clockwise"
	}
	return "counter-clockwise"
}
