package gpio

import (
	"fmt"
	"sort"
	"sync"

	"github.com/cjeanneret/SlideGo/internal/debug"
	"github.com/stianeikeland/go-rpio/v4"
)

// RPiDriver drives BCM pins through go-rpio's /dev/gpiomem mapping.
// Pins used before SetupPin are configured on first use: Output for
// writes, Input for reads.
type RPiDriver struct {
	mu    sync.RWMutex
	modes map[int]PinMode
}

// NewRPiRealDriver maps GPIO memory. Requires a Raspberry Pi with access to
// /dev/gpiomem or root.
func NewRPiRealDriver() (*RPiDriver, error) {
	debug.Info("Initializing real GPIO driver (go-rpio)")
	if err := rpio.Open(); err != nil {
		return nil, fmt.Errorf("gpio: open: %w (are you running on a Raspberry Pi?)", err)
	}
	debug.Verbose("GPIO memory mapped")
	return &RPiDriver{modes: make(map[int]PinMode)}, nil
}

func configure(p rpio.Pin, mode PinMode) error {
	switch mode {
	case Input:
		p.Input()
		p.PullOff()
	case InputPullUp:
		p.Input()
		p.PullUp()
	case Output:
		p.Output()
	default:
		return fmt.Errorf("gpio: unknown pin mode %d", mode)
	}
	return nil
}

func (r *RPiDriver) SetupPin(pin int, mode PinMode) error {
	debug.GPIO("SetupPin", pin, mode)
	if err := configure(rpio.Pin(pin), mode); err != nil {
		return err
	}
	r.mu.Lock()
	r.modes[pin] = mode
	r.mu.Unlock()
	return nil
}

// ensure configures pin as fallback unless it was set up already.
func (r *RPiDriver) ensure(pin int, fallback PinMode) (rpio.Pin, error) {
	r.mu.RLock()
	_, ok := r.modes[pin]
	r.mu.RUnlock()
	if !ok {
		if err := r.SetupPin(pin, fallback); err != nil {
			return 0, err
		}
	}
	return rpio.Pin(pin), nil
}

func (r *RPiDriver) WritePin(pin int, level Level) error {
	debug.GPIO("WritePin", pin, level)
	p, err := r.ensure(pin, Output)
	if err != nil {
		return err
	}
	if level {
		p.High()
	} else {
		p.Low()
	}
	return nil
}

func (r *RPiDriver) ReadPin(pin int) (Level, error) {
	debug.GPIO("ReadPin", pin, nil)
	p, err := r.ensure(pin, Input)
	if err != nil {
		return Low, err
	}
	return Level(p.Read() == rpio.High), nil
}

// Close releases every pin it configured as a floating input, in pin order,
// then unmaps GPIO memory.
func (r *RPiDriver) Close() error {
	debug.Trace("GPIO Close (real driver)")
	r.mu.Lock()
	defer r.mu.Unlock()

	pins := make([]int, 0, len(r.modes))
	for pin := range r.modes {
		pins = append(pins, pin)
	}
	sort.Ints(pins)
	for _, pin := range pins {
		debug.Verbose("Releasing pin %d (was %v)", pin, r.modes[pin])
		configure(rpio.Pin(pin), Input)
	}
	r.modes = make(map[int]PinMode)
	return rpio.Close()
}
