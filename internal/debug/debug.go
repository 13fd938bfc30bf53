// Package debug is the leveled logger shared by every SlideGo package.
// Lines carry a bracketed tag ([INFO], [LIVE], ...) that the web status
// stream uses to classify them.
package debug

import (
	"io"
	"log"
	"os"
	"strings"
)

const (
	LevelOff     = 0 // No output
	LevelInfo    = 1 // Mode changes, run start and summary
	LevelLive    = 2 // Carriage transitions, moves, shots
	LevelVerbose = 3 // Conversions, plans, config dumps
	LevelTrace   = 4 // GPIO
)

var (
	level  int
	logger *log.Logger
	output io.Writer = os.Stdout
)

// Init sets the level (0-4). Level 0 silences everything, including Summary.
func Init(debugLevel int) {
	level = debugLevel
	if level > LevelOff {
		logger = log.New(output, "[SlideGo] ", log.LstdFlags|log.Lmicroseconds)
	} else {
		logger = nil
	}
}

// SetOutput redirects debug output (e.g. to also feed the web status stream).
func SetOutput(w io.Writer) {
	output = w
	if logger != nil {
		logger.SetOutput(w)
	}
}

// IsEnabled reports whether messages at minLevel are printed.
func IsEnabled(minLevel int) bool {
	return logger != nil && level >= minLevel
}

func logf(minLevel int, tag, format string, args ...interface{}) {
	if !IsEnabled(minLevel) {
		return
	}
	if tag != "" {
		format = tag + " " + format
	}
	logger.Printf(format, args...)
}

func banner(minLevel int, rule, title string) {
	line := strings.Repeat(rule, 40)
	logf(minLevel, "", "%s", line)
	logf(minLevel, "", "  %s", title)
	logf(minLevel, "", "%s", line)
}

// Info prints at level 1.
func Info(format string, args ...interface{}) { logf(LevelInfo, "[INFO]", format, args...) }

// Summary prints a framed title at level 1.
func Summary(title string) { banner(LevelInfo, "═", title) }

// Run announces a motion or capture run by id.
func Run(kind, id string) { logf(LevelInfo, "[INFO]", "Starting %s run %s", kind, id) }

// Value prints name = value at level 1.
func Value(name string, value interface{}) { logf(LevelInfo, "[INFO]", "  %s = %v", name, value) }

// Error prints err at level 1.
func Error(err error) { logf(LevelInfo, "[ERROR]", "%v", err) }

// Live prints at level 2.
func Live(format string, args ...interface{}) { logf(LevelLive, "[LIVE]", format, args...) }

// Move prints a carriage move request.
func Move(steps int64, speed float64, direction string) {
	logf(LevelLive, "[LIVE]", "Carriage: %d steps at %.1f steps/s (%s)", steps, speed, direction)
}

// Transition prints a state machine transition.
func Transition(machine, from, to string) {
	logf(LevelLive, "[LIVE]", "%s: %s -> %s", machine, from, to)
}

// Shot prints a timelapse shutter trigger.
func Shot(image, total int) {
	logf(LevelLive, "[LIVE]", "Shutter triggered (image %d/%d)", image, total)
}

// Verbose prints at level 3.
func Verbose(format string, args ...interface{}) { logf(LevelVerbose, "[VERBOSE]", format, args...) }

// PrintStruct dumps v with field names at level 3.
func PrintStruct(name string, v interface{}) { logf(LevelVerbose, "[VERBOSE]", "%s: %+v", name, v) }

// Section prints a framed section title at level 3.
func Section(name string) { banner(LevelVerbose, "━", name) }

// Step prints a numbered start-up step at level 3.
func Step(num int, description string) {
	logf(LevelVerbose, "[VERBOSE]", "Step %d: %s", num, description)
}

// Trace prints at level 4.
func Trace(format string, args ...interface{}) { logf(LevelTrace, "[TRACE]", format, args...) }

// GPIO prints a pin operation at level 4.
func GPIO(operation string, pin int, value interface{}) {
	logf(LevelTrace, "[GPIO]", "%s pin=%d value=%v", operation, pin, value)
}
