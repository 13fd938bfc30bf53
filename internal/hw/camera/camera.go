package camera

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/cjeanneret/SlideGo/internal/config"
	"github.com/cjeanneret/SlideGo/internal/debug"
	"github.com/cjeanneret/SlideGo/internal/hw/gpio"
)

// Camera types accepted in camera.type.
const (
	TypeNikonD90GPIO = "nikon_d90_gpio"
	TypeNone         = "none"
)

// Camera is the high-level interface used by the rest of the application.
// It represents an abstract "camera", regardless of how it's controlled
// (GPIO, USB, network protocol, etc.).
type Camera interface {
	// Shoot triggers a single photo capture and blocks until the
	// remote lines are released.
	Shoot() error
}

// New builds the camera selected by cfg.Camera.Type.
func New(cfg *config.Config, drv gpio.Driver) (Camera, error) {
	switch cfg.Camera.Type {
	case TypeNikonD90GPIO:
		return NewNikonD90GPIO(drv, cfg.Camera.FocusPin, cfg.Camera.ShutterPin, cfg.FocusDelay(), cfg.ShutterDelay()), nil
	case TypeNone:
		return None{}, nil
	default:
		return nil, fmt.Errorf("unsupported camera type: %s", cfg.Camera.Type)
	}
}

// None is a camera that never fires, for video-only rigs.
type None struct{}

// Shoot only logs.
func (None) Shoot() error {
	debug.Verbose("Camera: no camera fitted, shot skipped")
	return nil
}

// Async fires shots without blocking the caller. A trigger that arrives
// while a shot is still in flight is dropped.
type Async struct {
	cam      Camera
	inFlight atomic.Bool
	wg       sync.WaitGroup

	fired   atomic.Uint64
	dropped atomic.Uint64
	failed  atomic.Uint64
}

// NewAsync wraps cam.
func NewAsync(cam Camera) *Async {
	return &Async{cam: cam}
}

// Trigger starts a shot in the background and returns immediately.
// It reports whether the shot was started.
func (a *Async) Trigger() bool {
	if !a.inFlight.CompareAndSwap(false, true) {
		a.dropped.Add(1)
		debug.Verbose("Camera: trigger dropped, previous shot still in flight")
		return false
	}
	a.fired.Add(1)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer a.inFlight.Store(false)
		if err := a.cam.Shoot(); err != nil {
			a.failed.Add(1)
			debug.Error(fmt.Errorf("camera: shot failed: %w", err))
		}
	}()
	return true
}

// Wait blocks until the in-flight shot, if any, has completed.
func (a *Async) Wait() {
	a.wg.Wait()
}

// Busy reports whether a shot is in flight.
func (a *Async) Busy() bool {
	return a.inFlight.Load()
}

// Stats returns the number of fired, dropped and failed shots.
func (a *Async) Stats() (fired, dropped, failed uint64) {
	return a.fired.Load(), a.dropped.Load(), a.failed.Load()
}
