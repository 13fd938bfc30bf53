package motion

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrTraveling is returned when a mutation is refused because the
	// carriage is moving.
	ErrTraveling = errors.New("motion: carriage is traveling")
	// ErrInvalidRequest is returned for a move with a non-positive target or speed.
	ErrInvalidRequest = errors.New("motion: invalid motion request")
	// ErrHoming is returned when a mutation is refused during homing or calibration.
	ErrHoming = errors.New("motion: homing in progress")
	// ErrFault reports a move the pulser could not start or reverse.
	ErrFault = errors.New("motion: move faulted")
)

// State is the carriage lifecycle state.
type State int

const (
	Stopped State = iota
	Traveling
	TravelingReverse
	Parked
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Traveling:
		return "traveling"
	case TravelingReverse:
		return "traveling_reverse"
	case Parked:
		return "parked"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Moving reports whether s is one of the traveling states.
func (s State) Moving() bool {
	return s == Traveling || s == TravelingReverse
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *State) UnmarshalText(text []byte) error {
	for st := Stopped; st <= Parked; st++ {
		if st.String() == string(text) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown carriage state %q", text)
}

// Policy selects the reaction to an endstop hit while traveling.
type Policy int

const (
	StopHere Policy = iota
	Reverse
	OneCycle
)

var policyNames = map[Policy]string{
	StopHere: "stop",
	Reverse:  "reverse",
	OneCycle: "one_cycle",
}

func (p Policy) String() string {
	if name, ok := policyNames[p]; ok {
		return name
	}
	return fmt.Sprintf("policy(%d)", int(p))
}

// Next returns the following policy in toggle order Stop, Reverse, OneCycle.
func (p Policy) Next() Policy {
	switch p {
	case StopHere:
		return Reverse
	case Reverse:
		return OneCycle
	default:
		return StopHere
	}
}

// MarshalText implements encoding.TextMarshaler.
func (p Policy) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Policy) UnmarshalText(text []byte) error {
	parsed, err := ParsePolicy(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// ParsePolicy parses "stop", "reverse" or "one_cycle" (case-insensitive).
func ParsePolicy(s string) (Policy, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	for p, name := range policyNames {
		if name == key {
			return p, nil
		}
	}
	return StopHere, fmt.Errorf("unknown endstop policy %q", s)
}

// MotionRequest is one carriage move: a step count, a rate and a direction.
type MotionRequest struct {
	TargetSteps      int64   `json:"target_steps"`
	SpeedStepsPerSec float64 `json:"speed_steps_per_sec"`
	Clockwise        bool    `json:"clockwise"`
}

// Valid reports whether the request can start a move.
func (r MotionRequest) Valid() bool {
	return r.TargetSteps > 0 && r.SpeedStepsPerSec > 0
}

// StopReason records why the last move ended.
type StopReason string

const (
	ReasonNone     StopReason = ""
	ReasonCommand  StopReason = "stop"
	ReasonEndstop  StopReason = "endstop"
	ReasonComplete StopReason = "complete"
	ReasonPark     StopReason = "park"
	ReasonFault    StopReason = "fault"
	reasonPreempt  StopReason = "preempt" // a homing request took over the carriage
)

// Pulser is the step generator driven by the machine. *stepper.Stepper
// implements it.
type Pulser interface {
	Start(clockwise bool, stepsPerSec float64, legSteps int64) error
	Reverse() error
	Stop()
	Steps() int64
	Done() bool
	Enable() error
	Disable() error
}
