package slider

import (
	"fmt"
	"strings"
)

// Mode is the user-facing operating mode.
type Mode int

const (
	Disabled Mode = iota
	Video
	Timelapse
)

var modeNames = map[Mode]string{
	Disabled:  "disabled",
	Video:     "video",
	Timelapse: "timelapse",
}

func (m Mode) String() string {
	if name, ok := modeNames[m]; ok {
		return name
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

// Next returns the following mode in toggle order Disabled, Video, Timelapse.
func (m Mode) Next() Mode {
	switch m {
	case Disabled:
		return Video
	case Video:
		return Timelapse
	default:
		return Disabled
	}
}

// MarshalText implements encoding.TextMarshaler.
func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *Mode) UnmarshalText(text []byte) error {
	parsed, err := ParseMode(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// ParseMode parses "disabled", "video" or "timelapse" (case-insensitive).
func ParseMode(s string) (Mode, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	for m, name := range modeNames {
		if name == key {
			return m, nil
		}
	}
	return Disabled, fmt.Errorf("unknown mode %q", s)
}
