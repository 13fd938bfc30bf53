package slider

import (
	"time"

	"github.com/cjeanneret/SlideGo/internal/logic/capture"
	"github.com/cjeanneret/SlideGo/internal/logic/motion"
)

// Status is the snapshot shown by the web interface.
type Status struct {
	Time      time.Time      `json:"time"`
	Mode      Mode           `json:"mode"`
	Running   bool           `json:"running"`
	Clockwise bool           `json:"clockwise"`
	Video     VideoParams    `json:"video"`
	Carriage  motion.Status  `json:"carriage"`
	Timelapse capture.Status `json:"timelapse"`

	TraveledIn            float64 `json:"traveled_in"`
	ElapsedSec            float64 `json:"elapsed_sec"`
	MeasuredSpeedInPerSec float64 `json:"measured_speed_in_per_sec"`
	TargetSpeedInPerSec   float64 `json:"target_speed_in_per_sec"`
	CalibratedIn          float64 `json:"calibrated_in,omitempty"`
}

// Status returns a snapshot of the engine.
func (e *Engine) Status() Status {
	e.mu.Lock()
	mode, video, clockwise := e.mode, e.video, e.clockwise
	e.mu.Unlock()

	car := e.machine.Status()
	tl := e.sched.Status()

	st := Status{
		Time:      time.Now(),
		Mode:      mode,
		Running:   car.Running || tl.Enabled,
		Clockwise: clockwise,
		Video:     video,
		Carriage:  car,
		Timelapse: tl,

		TraveledIn:          e.conv.StepsToInches(car.StepsTaken),
		ElapsedSec:          car.Elapsed.Seconds(),
		TargetSpeedInPerSec: e.conv.InchesPerSecond(car.Request.SpeedStepsPerSec),
	}
	if st.ElapsedSec > 0 {
		st.MeasuredSpeedInPerSec = st.TraveledIn / st.ElapsedSec
	}
	if car.CalibratedSteps > 0 {
		st.CalibratedIn = e.conv.StepsToInches(car.CalibratedSteps)
	}
	return st
}

// changedFrom reports whether s differs from prev in anything but the live
// counters.
func (s Status) changedFrom(prev Status) bool {
	c, p := s.Carriage, prev.Carriage
	t, q := s.Timelapse, prev.Timelapse
	return s.Mode != prev.Mode ||
		s.Running != prev.Running ||
		s.Clockwise != prev.Clockwise ||
		s.Video != prev.Video ||
		c.State != p.State ||
		c.Policy != p.Policy ||
		c.Request != p.Request ||
		c.Homing != p.Homing ||
		c.CompletedMoves != p.CompletedMoves ||
		t.Enabled != q.Enabled ||
		t.State != q.State ||
		t.ImageCount != q.ImageCount ||
		t.PendingParams != q.PendingParams ||
		t.TotalImages != q.TotalImages
}
