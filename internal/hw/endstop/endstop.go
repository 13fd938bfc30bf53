// Package endstop turns the rail limit switches into a stream of events.
//
// A watcher is the producer side of a single-producer/single-consumer
// channel; the carriage polling loop is the consumer. Events are dropped
// rather than queued when the consumer is behind: the carriage only needs
// to know that an endstop fired since its last poll.
package endstop

import (
	"fmt"
	"time"

	"github.com/cjeanneret/SlideGo/internal/config"
	"github.com/cjeanneret/SlideGo/internal/hw/gpio"
)

// Which identifies an endstop switch.
type Which int

const (
	Home Which = iota // end reached when travelling in the homing direction
	Far               // opposite end
)

func (w Which) String() string {
	switch w {
	case Home:
		return "home"
	case Far:
		return "far"
	default:
		return fmt.Sprintf("endstop(%d)", int(w))
	}
}

// Event is a single endstop activation.
type Event struct {
	Which Which
	Time  time.Time
}

// Source delivers endstop events.
type Source interface {
	Events() <-chan Event
	Close() error
}

const eventBuffer = 4

// WatcherConfig holds the wiring shared by both watcher implementations.
// A pin of 0 means the switch is not fitted.
type WatcherConfig struct {
	Chip         string
	HomePin      int
	FarPin       int
	ActiveLow    bool
	Debounce     time.Duration
	PollInterval time.Duration
}

func (c WatcherConfig) pins() map[Which]int {
	pins := make(map[Which]int, 2)
	if c.HomePin > 0 {
		pins[Home] = c.HomePin
	}
	if c.FarPin > 0 {
		pins[Far] = c.FarPin
	}
	return pins
}

// New selects the watcher implementation configured in cfg.Endstops.
func New(cfg *config.Config, drv gpio.Driver) (Source, error) {
	wc := WatcherConfig{
		Chip:         cfg.Endstops.Chip,
		HomePin:      cfg.Endstops.HomePin,
		FarPin:       cfg.Endstops.FarPin,
		ActiveLow:    cfg.Endstops.ActiveLow,
		Debounce:     cfg.EndstopDebounce(),
		PollInterval: cfg.EndstopPollInterval(),
	}
	switch cfg.Endstops.Driver {
	case config.EndstopDriverCdev:
		return NewCdevWatcher(wc)
	case config.EndstopDriverPoll:
		return NewPollingWatcher(drv, wc)
	default:
		return nil, fmt.Errorf("unsupported endstop driver: %s", cfg.Endstops.Driver)
	}
}

// send is a non-blocking publish.
func send(ch chan<- Event, ev Event) bool {
	select {
	case ch <- ev:
		return true
	default:
		return false
	}
}
