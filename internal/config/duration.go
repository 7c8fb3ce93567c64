package config

import (
	"encoding/json"
	"time"

	"github.com/clipdock/clipdock/pkg/duration"
)

// Duration is a time.Duration with config-friendly parsing: on top of Go's
// standard syntax it accepts day ("3d") and week ("2w") units, and JSON
// numbers are taken as raw nanoseconds. Implements encoding.TextUnmarshaler
// so viper and YAML decode it directly.
type Duration time.Duration

// ParseDuration parses an extended duration string like "36h", "3d" or "2w".
func ParseDuration(s string) (Duration, error) {
	d, err := duration.Parse(s)
	if err != nil {
		return 0, err
	}
	return Duration(d), nil
}

// Duration returns the underlying time.Duration.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// String renders the duration with week and day units where they fit.
func (d Duration) String() string {
	return duration.Format(time.Duration(d))
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// UnmarshalJSON accepts either a duration string or a nanosecond count.
func (d *Duration) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		return d.UnmarshalText([]byte(s))
	}

	var ns int64
	if err := json.Unmarshal(data, &ns); err != nil {
		return err
	}
	*d = Duration(ns)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}
