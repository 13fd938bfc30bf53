package motion

import (
	"errors"
	"testing"

	"github.com/cjeanneret/SlideGo/internal/hw/endstop"
)

func TestHoming_RoundTripRestoresSetup(t *testing.T) {
	setups := []struct {
		name   string
		policy Policy
		req    MotionRequest
	}{
		{"reverse_cw", Reverse, MotionRequest{TargetSteps: 500, SpeedStepsPerSec: 100.5, Clockwise: true}},
		{"one_cycle_ccw", OneCycle, MotionRequest{TargetSteps: 1, SpeedStepsPerSec: 1, Clockwise: false}},
		{"stop_empty_request", StopHere, MotionRequest{}},
	}
	for _, tt := range setups {
		t.Run(tt.name, func(t *testing.T) {
			r := newRig(t, tt.policy)
			if err := r.m.SetRequest(tt.req); err != nil {
				t.Fatal(err)
			}

			if err := r.m.Home(); err != nil {
				t.Fatalf("Home() error = %v", err)
			}
			r.m.Poll()

			st := r.m.Status()
			if !st.Homing || st.State != Traveling || st.Policy != StopHere {
				t.Fatalf("homing status = %+v, want traveling home with StopHere", st)
			}
			want := startCall{clockwise: false, speed: testMaxSpeed, leg: testMaxTravel}
			if got := r.p.starts[len(r.p.starts)-1]; got != want {
				t.Errorf("homing leg = %+v, want %+v", got, want)
			}
			saved := r.m.Homing()
			if !saved.WasHoming || saved.SavedPolicy != tt.policy || saved.SavedRequest != tt.req {
				t.Errorf("snapshot = %+v", saved)
			}

			r.hit(endstop.Home)

			st = r.m.Status()
			if st.Homing || st.State != Stopped {
				t.Fatalf("after home hit: %+v, want stopped, homing cleared", st)
			}
			if st.Policy != tt.policy || st.Request != tt.req {
				t.Errorf("restored policy=%v request=%+v, want %v %+v", st.Policy, st.Request, tt.policy, tt.req)
			}
			if r.m.Homing().WasHoming {
				t.Error("snapshot not cleared after homing")
			}
		})
	}
}

func TestHoming_ReentryKeepsFirstSnapshot(t *testing.T) {
	r := newRig(t, Reverse)

	if err := r.m.Home(); err != nil {
		t.Fatal(err)
	}
	r.m.Poll()
	if err := r.m.Home(); err != nil {
		t.Fatal(err)
	}
	r.m.Poll()

	saved := r.m.Homing()
	if saved.SavedPolicy != Reverse || saved.SavedRequest != testRequest {
		t.Fatalf("re-entry overwrote snapshot: %+v", saved)
	}
	if len(r.p.starts) != 2 || r.p.stops != 1 {
		t.Errorf("starts=%d stops=%d, want the seek restarted once", len(r.p.starts), r.p.stops)
	}

	r.hit(endstop.Home)
	if st := r.m.Status(); st.Policy != Reverse || st.Request != testRequest {
		t.Errorf("restored %v %+v, want pre-homing setup", st.Policy, st.Request)
	}
}

func TestHoming_PreemptsTravel(t *testing.T) {
	r := newRig(t, OneCycle)
	r.start(t)
	r.p.steps = 300

	if err := r.m.Home(); err != nil {
		t.Fatal(err)
	}
	r.m.Poll()

	st := r.m.Status()
	if !st.Homing || st.State != Traveling || st.Request.Clockwise {
		t.Fatalf("after Home() while traveling: %+v, want homing seek counter-clockwise", st)
	}
	if r.p.stops != 1 {
		t.Errorf("pulser stops = %d, want travel halted", r.p.stops)
	}

	r.hit(endstop.Home)
	if st := r.m.Status(); st.Policy != OneCycle || st.Request != testRequest {
		t.Errorf("restored %v %+v, want pre-homing setup", st.Policy, st.Request)
	}
}

func TestHoming_StopRestores(t *testing.T) {
	r := newRig(t, Reverse)
	if err := r.m.Home(); err != nil {
		t.Fatal(err)
	}
	r.m.Poll()

	r.m.RequestStop()
	r.m.Poll()

	st := r.m.Status()
	if st.Homing || st.Running {
		t.Fatalf("after stop: %+v, want idle", st)
	}
	if st.Policy != Reverse || st.Request != testRequest {
		t.Errorf("restored %v %+v, want pre-homing setup", st.Policy, st.Request)
	}
}

func TestHoming_LegExhaustedCountsAsHome(t *testing.T) {
	r := newRig(t, Reverse)
	if err := r.m.Home(); err != nil {
		t.Fatal(err)
	}
	r.m.Poll()
	r.p.done = true
	r.m.Poll()
	if st := r.m.Status(); st.Homing || st.Policy != Reverse {
		t.Errorf("after full-rail leg: %+v, want homing finished and restored", st)
	}
}

func TestHoming_MutationsRefused(t *testing.T) {
	r := newRig(t, StopHere)
	if err := r.m.Home(); err != nil {
		t.Fatal(err)
	}
	if err := r.m.SetPolicy(Reverse); !errors.Is(err, ErrHoming) {
		t.Errorf("SetPolicy() during homing error = %v, want ErrHoming", err)
	}
	if err := r.m.SetRequest(testRequest); !errors.Is(err, ErrHoming) {
		t.Errorf("SetRequest() during homing error = %v, want ErrHoming", err)
	}
}

func TestHoming_RequiresRailEnvelope(t *testing.T) {
	m := NewMachine(&fakePulser{done: true}, nil, Config{})
	if err := m.Home(); !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("Home() without envelope error = %v, want ErrInvalidRequest", err)
	}
	if m.Homing().WasHoming {
		t.Error("snapshot taken despite the error")
	}
}

func TestCalibrate_MeasuresRail(t *testing.T) {
	r := newRig(t, Reverse)
	if err := r.m.Calibrate(); err != nil {
		t.Fatal(err)
	}
	r.m.Poll()
	if st := r.m.Status(); !st.Calibrating || st.Request.Clockwise {
		t.Fatalf("calibration seek: %+v, want calibrating towards home", st)
	}

	r.hit(endstop.Home)
	st := r.m.Status()
	if !st.Running || !st.Request.Clockwise || st.Policy != StopHere {
		t.Fatalf("measure leg: %+v, want running away from home with StopHere", st)
	}
	want := startCall{clockwise: true, speed: testMaxSpeed, leg: testMaxTravel}
	if got := r.p.starts[len(r.p.starts)-1]; got != want {
		t.Errorf("measure leg = %+v, want %+v", got, want)
	}

	r.p.steps = 9850
	r.hit(endstop.Far)

	steps, ok := r.m.Calibration()
	if !ok || steps != 9850 {
		t.Errorf("Calibration() = %d, %v, want 9850, true", steps, ok)
	}
	st = r.m.Status()
	if st.Calibrating || st.Homing || st.Policy != Reverse || st.Request != testRequest {
		t.Errorf("after calibration: %+v, want setup restored", st)
	}
}

func TestCalibrate_StopDuringMeasureRecordsNothing(t *testing.T) {
	r := newRig(t, StopHere)
	if err := r.m.Calibrate(); err != nil {
		t.Fatal(err)
	}
	r.m.Poll()
	r.hit(endstop.Home)

	r.p.steps = 4000
	r.m.RequestStop()
	r.m.Poll()

	if _, ok := r.m.Calibration(); ok {
		t.Error("aborted calibration reported a measurement")
	}
	if st := r.m.Status(); st.Homing || st.Request != testRequest {
		t.Errorf("after abort: %+v, want setup restored", st)
	}
}
