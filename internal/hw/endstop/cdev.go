package endstop

import (
	"fmt"
	"sync"
	"time"

	"github.com/cjeanneret/SlideGo/internal/debug"
	"github.com/warthog618/go-gpiocdev"
	"go.uber.org/multierr"
)

const consumerName = "slidego-endstop"

// CdevWatcher receives edge events from the kernel GPIO character device.
// Edge detection and debounce happen in the kernel; the event handler only
// forwards to the channel.
type CdevWatcher struct {
	events chan Event
	lines  []*gpiocdev.Line
	once   sync.Once
	err    error
}

// NewCdevWatcher requests both endstop lines on cfg.Chip.
func NewCdevWatcher(cfg WatcherConfig) (*CdevWatcher, error) {
	w := &CdevWatcher{events: make(chan Event, eventBuffer)}

	for which, pin := range cfg.pins() {
		opts := []gpiocdev.LineReqOption{
			gpiocdev.AsInput,
			gpiocdev.WithConsumer(consumerName),
			gpiocdev.WithRisingEdge, // logical edge, so active-low lines fire on close
			gpiocdev.WithEventHandler(w.handler(which)),
		}
		if cfg.ActiveLow {
			opts = append(opts, gpiocdev.AsActiveLow, gpiocdev.WithPullUp)
		}
		if cfg.Debounce > 0 {
			opts = append(opts, gpiocdev.WithDebounce(cfg.Debounce))
		}

		line, err := gpiocdev.RequestLine(cfg.Chip, pin, opts...)
		if err != nil {
			return nil, multierr.Append(
				fmt.Errorf("request %s endstop line %s:%d: %w", which, cfg.Chip, pin, err),
				w.Close(),
			)
		}
		debug.Verbose("Endstop %s on %s line %d (active low=%v)", which, cfg.Chip, pin, cfg.ActiveLow)
		w.lines = append(w.lines, line)
	}
	return w, nil
}

func (w *CdevWatcher) handler(which Which) func(gpiocdev.LineEvent) {
	return func(evt gpiocdev.LineEvent) {
		debug.Trace("Endstop %s edge on line %d (seq %d)", which, evt.Offset, evt.Seqno)
		if !send(w.events, Event{Which: which, Time: time.Now()}) {
			debug.Verbose("Endstop %s event dropped (consumer behind)", which)
		}
	}
}

// Events returns the event channel.
func (w *CdevWatcher) Events() <-chan Event {
	return w.events
}

// Close releases the requested lines.
func (w *CdevWatcher) Close() error {
	w.once.Do(func() {
		for _, line := range w.lines {
			w.err = multierr.Append(w.err, line.Close())
		}
		w.lines = nil
	})
	return w.err
}
