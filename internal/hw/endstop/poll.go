package endstop

import (
	"sync"
	"time"

	"github.com/cjeanneret/SlideGo/internal/debug"
	"github.com/cjeanneret/SlideGo/internal/hw/gpio"
)

// PollingWatcher samples the endstop pins through a gpio.Driver and emits an
// event on each inactive to active transition.
type PollingWatcher struct {
	drv       gpio.Driver
	pins      map[Which]int
	activeLow bool
	debounce  time.Duration

	events chan Event
	stop   chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

// NewPollingWatcher configures the pins as inputs, samples their starting
// levels and starts watching. A switch that closes after it returns is
// reported as an edge.
func NewPollingWatcher(drv gpio.Driver, cfg WatcherConfig) (*PollingWatcher, error) {
	mode := gpio.Input
	if cfg.ActiveLow {
		mode = gpio.InputPullUp
	}
	w := &PollingWatcher{
		drv:       drv,
		pins:      cfg.pins(),
		activeLow: cfg.ActiveLow,
		debounce:  cfg.Debounce,
		events:    make(chan Event, eventBuffer),
		stop:      make(chan struct{}),
	}
	for which, pin := range w.pins {
		if err := drv.SetupPin(pin, mode); err != nil {
			return nil, err
		}
		debug.Verbose("Endstop %s on pin %d (active low=%v)", which, pin, cfg.ActiveLow)
	}

	prev := make(map[Which]bool, len(w.pins))
	for which, pin := range w.pins {
		prev[which] = w.active(pin)
	}

	interval := cfg.PollInterval
	if interval <= 0 {
		interval = 2 * time.Millisecond
	}
	w.wg.Add(1)
	go w.run(interval, prev)
	return w, nil
}

// Events returns the event channel.
func (w *PollingWatcher) Events() <-chan Event {
	return w.events
}

// Close stops sampling.
func (w *PollingWatcher) Close() error {
	w.once.Do(func() {
		close(w.stop)
		w.wg.Wait()
	})
	return nil
}

func (w *PollingWatcher) active(pin int) bool {
	level, err := w.drv.ReadPin(pin)
	if err != nil {
		debug.Error(err)
		return false
	}
	return (level == gpio.High) != w.activeLow
}

// run owns prev from here on.
func (w *PollingWatcher) run(interval time.Duration, prev map[Which]bool) {
	defer w.wg.Done()

	lastFire := make(map[Which]time.Time, len(w.pins))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stop:
			return
		case now := <-ticker.C:
			for which, pin := range w.pins {
				active := w.active(pin)
				if active && !prev[which] && now.Sub(lastFire[which]) >= w.debounce {
					lastFire[which] = now
					if !send(w.events, Event{Which: which, Time: now}) {
						debug.Verbose("Endstop %s event dropped (consumer behind)", which)
					}
				}
				prev[which] = active
			}
		}
	}
}
