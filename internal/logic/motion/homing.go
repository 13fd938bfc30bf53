package motion

import (
	"fmt"

	"github.com/cjeanneret/SlideGo/internal/debug"
)

// HomingState is the motion setup saved before a homing or calibration run
// and restored when it ends.
type HomingState struct {
	WasHoming    bool          `json:"was_homing"`
	SavedPolicy  Policy        `json:"saved_policy"`
	SavedRequest MotionRequest `json:"saved_request"`
}

type homingPhase int

const (
	phaseIdle    homingPhase = iota
	phaseSeek                // full-rail StopHere move towards home
	phaseMeasure             // full-rail StopHere move away from home (calibration only)
)

type homingRun struct {
	saved           HomingState
	phase           homingPhase
	calibrate       bool
	calibratedSteps int64
}

func (h *homingRun) active() bool {
	return h.phase != phaseIdle
}

// Home drives the carriage to the home endstop at maximum speed, then
// restores the policy and request in effect before the call. Calling Home
// again while homing restarts the seek and keeps the first snapshot.
func (m *Machine) Home() error {
	return m.beginHoming(false)
}

// Calibrate homes the carriage, then measures a full rail move away from
// home. The measured step count is reported by Calibration.
func (m *Machine) Calibrate() error {
	return m.beginHoming(true)
}

func (m *Machine) beginHoming(calibrate bool) error {
	if m.cfg.MaxTravelSteps <= 0 || m.cfg.MaxSpeed <= 0 {
		return fmt.Errorf("%w: rail envelope not configured (%d steps at %.2f steps/s)",
			ErrInvalidRequest, m.cfg.MaxTravelSteps, m.cfg.MaxSpeed)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.homing.saved.WasHoming {
		m.homing.saved = HomingState{
			WasHoming:    true,
			SavedPolicy:  m.policy,
			SavedRequest: m.request,
		}
	}
	m.homing.phase = phaseSeek
	m.homing.calibrate = calibrate
	if calibrate {
		m.homing.calibratedSteps = 0
	}

	m.policy = StopHere
	m.request = MotionRequest{
		TargetSteps:      m.cfg.MaxTravelSteps,
		SpeedStepsPerSec: m.cfg.MaxSpeed,
		Clockwise:        m.cfg.HomeClockwise,
	}
	m.stopRequested = false
	m.newMove = true
	m.preempt = true

	if calibrate {
		debug.Info("Calibration requested")
	} else {
		debug.Info("Homing requested")
	}
	return nil
}

// Homing returns the saved snapshot; WasHoming is false when no homing run
// is in progress.
func (m *Machine) Homing() HomingState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.homing.saved
}

// Calibration returns the rail length measured by the last completed
// calibration run.
func (m *Machine) Calibration() (steps int64, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.homing.calibratedSteps, m.homing.calibratedSteps > 0
}

// onMoveFinished advances a homing run after its move ended. Caller holds m.mu.
func (m *Machine) onMoveFinished(reason StopReason) {
	if reason == reasonPreempt {
		return
	}
	reached := reason == ReasonEndstop || reason == ReasonComplete

	switch m.homing.phase {
	case phaseIdle:
		return
	case phaseSeek:
		if !reached {
			debug.Live("Homing: aborted (%s)", reason)
			break
		}
		if m.homing.calibrate {
			debug.Live("Calibration: home found, measuring rail")
			m.homing.phase = phaseMeasure
			m.request = MotionRequest{
				TargetSteps:      m.cfg.MaxTravelSteps,
				SpeedStepsPerSec: m.cfg.MaxSpeed,
				Clockwise:        !m.cfg.HomeClockwise,
			}
			m.newMove = true
			return
		}
		debug.Live("Homing: home reached")
	case phaseMeasure:
		if !reached {
			debug.Live("Calibration: aborted (%s)", reason)
			break
		}
		m.homing.calibratedSteps = m.stepsTaken
		debug.Info("Calibration: rail measured at %d steps", m.stepsTaken)
	}
	m.restoreHoming()
}

// restoreHoming puts back the saved policy and request. Caller holds m.mu.
func (m *Machine) restoreHoming() {
	m.policy = m.homing.saved.SavedPolicy
	m.request = m.homing.saved.SavedRequest
	m.homing.saved = HomingState{}
	m.homing.phase = phaseIdle
	m.homing.calibrate = false
}
