package camera

import (
	"sync"
	"time"

	"github.com/cjeanneret/SlideGo/internal/debug"
	"github.com/cjeanneret/SlideGo/internal/hw/gpio"
	"go.uber.org/multierr"
)

// NikonD90GPIO fires a camera through the Nikon 3-pin (MC-DC1 style) remote
// socket. Both FOCUS and SHUTTER are active LOW and idle HIGH; the third pin
// is tied to the Pi's ground.
//
// A shot presses FOCUS, waits focusDelay, presses SHUTTER, holds it for
// shutterDelay and releases SHUTTER then FOCUS.
type NikonD90GPIO struct {
	mu           sync.Mutex // one shot at a time on the remote lines
	gpio         gpio.Driver
	focusPin     int
	shutterPin   int
	focusDelay   time.Duration
	shutterDelay time.Duration
}

// NewNikonD90GPIO configures both remote lines as outputs and leaves them
// released.
func NewNikonD90GPIO(g gpio.Driver, focusPin, shutterPin int, focusDelay, shutterDelay time.Duration) *NikonD90GPIO {
	n := &NikonD90GPIO{
		gpio:         g,
		focusPin:     focusPin,
		shutterPin:   shutterPin,
		focusDelay:   focusDelay,
		shutterDelay: shutterDelay,
	}
	for _, pin := range []int{focusPin, shutterPin} {
		_ = g.SetupPin(pin, gpio.Output)
		_ = n.release(pin)
	}
	return n
}

func (n *NikonD90GPIO) press(pin int) error   { return n.gpio.WritePin(pin, gpio.Low) }
func (n *NikonD90GPIO) release(pin int) error { return n.gpio.WritePin(pin, gpio.High) }

// Shoot runs one focus/shutter cycle and blocks until both lines are
// released. A failed press still releases FOCUS.
func (n *NikonD90GPIO) Shoot() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	debug.Verbose("Camera: shot (focus pin %d, shutter pin %d)", n.focusPin, n.shutterPin)
	if err := n.press(n.focusPin); err != nil {
		return err
	}
	time.Sleep(n.focusDelay)

	if err := n.press(n.shutterPin); err != nil {
		return multierr.Append(err, n.release(n.focusPin))
	}
	time.Sleep(n.shutterDelay)

	if err := multierr.Combine(n.release(n.shutterPin), n.release(n.focusPin)); err != nil {
		return err
	}
	debug.Trace("Camera: remote released after %v", n.focusDelay+n.shutterDelay)
	return nil
}
