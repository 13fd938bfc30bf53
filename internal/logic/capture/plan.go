package capture

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/cjeanneret/SlideGo/internal/logic/geometry"
)

var (
	// ErrInvalidParams is returned for timelapse parameters outside the
	// configured limits.
	ErrInvalidParams = errors.New("capture: invalid timelapse parameters")
	// ErrRunning is returned when an operation needs the sequence stopped.
	ErrRunning = errors.New("capture: timelapse is running")
)

// Params are the user-facing timelapse totals, in whole inches, seconds and
// images.
type Params struct {
	TotalDistanceIn  int `json:"total_distance_in"`
	TotalDurationSec int `json:"total_duration_sec"`
	TotalImages      int `json:"total_images"`
}

// Limits bound Params. A zero limit is not enforced.
type Limits struct {
	MaxDistanceIn  int `json:"max_distance_in"`
	MaxDurationSec int `json:"max_duration_sec"`
	MaxImages      int `json:"max_images"`
}

// Validate checks p against l.
func (p Params) Validate(l Limits) error {
	switch {
	case p.TotalDistanceIn <= 0 || (l.MaxDistanceIn > 0 && p.TotalDistanceIn > l.MaxDistanceIn):
		return fmt.Errorf("%w: total distance %d in outside 1..%d", ErrInvalidParams, p.TotalDistanceIn, l.MaxDistanceIn)
	case p.TotalDurationSec <= 0 || (l.MaxDurationSec > 0 && p.TotalDurationSec > l.MaxDurationSec):
		return fmt.Errorf("%w: total duration %d s outside 1..%d", ErrInvalidParams, p.TotalDurationSec, l.MaxDurationSec)
	case p.TotalImages < 2 || (l.MaxImages > 0 && p.TotalImages > l.MaxImages):
		return fmt.Errorf("%w: total images %d outside 2..%d", ErrInvalidParams, p.TotalImages, l.MaxImages)
	}
	return nil
}

// Plan is the per-move schedule derived from Params.
type Plan struct {
	Requested Params `json:"requested"`
	Effective Params `json:"effective"` // totals after adjustment

	MoveDistanceIn   int           `json:"move_distance_in"`
	MoveSteps        int64         `json:"move_steps"`
	MoveSpeed        float64       `json:"move_speed"` // steps/sec
	MoveTravel       time.Duration `json:"move_travel"`
	MoveInterval     time.Duration `json:"move_interval"` // whole seconds
	DistanceAdjusted bool          `json:"distance_adjusted"`
	IntervalAdjusted bool          `json:"interval_adjusted"`
}

// Valid reports whether the plan can drive a sequence.
func (p Plan) Valid() bool {
	return p.Effective.TotalImages >= 2 && p.MoveSteps > 0 && p.MoveInterval > 0
}

// NewPlan derives the per-move distance and interval. Moves run at the
// converter's maximum speed. Infeasible totals are raised, not rejected:
// a zero move distance becomes one inch per move and an interval shorter
// than travel plus settle is lengthened, with the totals recomputed and
// the adjustment flagged.
func NewPlan(p Params, conv *geometry.Converter, settle time.Duration) Plan {
	plan := Plan{Requested: p, Effective: p}
	if p.TotalImages < 2 {
		return plan
	}
	moves := p.TotalImages - 1

	plan.MoveDistanceIn = p.TotalDistanceIn / moves
	if plan.MoveDistanceIn < 1 {
		plan.MoveDistanceIn = 1
		plan.Effective.TotalDistanceIn = moves
		plan.DistanceAdjusted = true
	}

	plan.MoveSpeed = conv.MaxSpeed()
	plan.MoveSteps = conv.InchesToSteps(float64(plan.MoveDistanceIn))
	plan.MoveTravel = conv.TravelTime(plan.MoveSteps, plan.MoveSpeed)

	intervalSec := p.TotalDurationSec / moves
	minSec := int(math.Ceil((plan.MoveTravel + settle).Seconds()))
	if intervalSec < minSec {
		intervalSec = minSec
		plan.Effective.TotalDurationSec = intervalSec * moves
		plan.IntervalAdjusted = true
	}
	plan.MoveInterval = time.Duration(intervalSec) * time.Second
	return plan
}
