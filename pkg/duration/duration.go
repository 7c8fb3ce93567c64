// Package duration parses and formats durations with day and week units
// on top of the standard Go duration syntax.
package duration

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Extended units beyond time.ParseDuration.
const (
	Day  = 24 * time.Hour
	Week = 7 * Day
)

// Parse converts a duration string into a time.Duration. In addition to the
// standard Go units (ns, us, ms, s, m, h) it understands "d" for days and
// "w" for weeks, so "1w2d12h" is one week, two days, and twelve hours.
// Week and day segments have to precede the standard units.
func Parse(s string) (time.Duration, error) {
	raw := strings.TrimSpace(s)
	if raw == "" {
		return 0, fmt.Errorf("empty duration")
	}
	if raw == "0" {
		return 0, nil
	}

	// Rewrite week/day units into hours so time.ParseDuration can take over.
	// No standard unit contains 'd' or 'w', so either one always closes its
	// own number segment.
	var out strings.Builder
	start := 0
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		if c != 'd' && c != 'w' {
			continue
		}
		segment := raw[start : i+1]
		value, err := splitValue(segment)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q: %w", s, err)
		}
		hours := value * 24
		if c == 'w' {
			hours = value * 24 * 7
		}
		fmt.Fprintf(&out, "%gh", hours)
		start = i + 1
	}
	out.WriteString(raw[start:])

	d, err := time.ParseDuration(out.String())
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}
	return d, nil
}

// splitValue parses the numeric part of a segment like "2d" or "1.5w".
func splitValue(segment string) (float64, error) {
	num := segment[:len(segment)-1]
	if num == "" {
		return 0, fmt.Errorf("missing number before %q", segment[len(segment)-1:])
	}
	value, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0, err
	}
	if value < 0 {
		return 0, fmt.Errorf("negative value %q", num)
	}
	return value, nil
}

// Format renders a duration compactly using the largest units first,
// e.g. "1w2d12h", "90m" -> "1h30m", "45s".
func Format(d time.Duration) string {
	if d == 0 {
		return "0s"
	}

	sign := ""
	if d < 0 {
		sign = "-"
		d = -d
	}

	var out strings.Builder
	for _, unit := range []struct {
		span time.Duration
		name string
	}{{Week, "w"}, {Day, "d"}, {time.Hour, "h"}, {time.Minute, "m"}, {time.Second, "s"}} {
		if d < unit.span {
			continue
		}
		n := d / unit.span
		d -= n * unit.span
		fmt.Fprintf(&out, "%d%s", n, unit.name)
	}

	if out.Len() == 0 {
		// Sub-second duration: fall back to the standard formatting.
		return sign + d.String()
	}
	return sign + out.String()
}
