// Package bytesize parses and formats human-readable byte sizes.
//
// Sizes use binary units: "KB" and "KiB" both mean 1024 bytes, "MB" and
// "MiB" both mean 1024^2, and so on. Bare numbers are raw byte counts.
package bytesize

import (
	"fmt"
	"strconv"
	"strings"
)

// Size is a byte count that can be parsed from and formatted as a
// human-readable string.
type Size int64

// Binary size units.
const (
	Byte Size = 1
	KiB       = 1024 * Byte
	MiB       = 1024 * KiB
	GiB       = 1024 * MiB
	TiB       = 1024 * GiB
)

// unitTable maps suffixes to multipliers. Longer suffixes are listed first
// so "MiB" matches before "B".
var unitTable = []struct {
	suffix string
	size   Size
}{
	{"TIB", TiB}, {"GIB", GiB}, {"MIB", MiB}, {"KIB", KiB},
	{"TB", TiB}, {"GB", GiB}, {"MB", MiB}, {"KB", KiB},
	{"T", TiB}, {"G", GiB}, {"M", MiB}, {"K", KiB},
	{"B", Byte},
}

// Parse converts a human-readable size string into a Size.
// Accepted forms: "2GiB", "500 MB", "1.5G", "5242880". Case is ignored.
func Parse(s string) (Size, error) {
	raw := strings.TrimSpace(s)
	if raw == "" {
		return 0, fmt.Errorf("empty size")
	}

	upper := strings.ToUpper(raw)
	for _, u := range unitTable {
		if !strings.HasSuffix(upper, u.suffix) {
			continue
		}
		num := strings.TrimSpace(strings.TrimSuffix(upper, u.suffix))
		if num == "" {
			return 0, fmt.Errorf("invalid size %q: missing number", s)
		}
		value, err := strconv.ParseFloat(num, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid size %q: %w", s, err)
		}
		if value < 0 {
			return 0, fmt.Errorf("invalid size %q: negative", s)
		}
		return Size(value * float64(u.size)), nil
	}

	// No recognized suffix: raw byte count.
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", s, err)
	}
	if value < 0 {
		return 0, fmt.Errorf("invalid size %q: negative", s)
	}
	return Size(value), nil
}

// MustParse is like Parse but panics on error. Intended for constants.
func MustParse(s string) Size {
	size, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return size
}

// String formats the size with the largest fitting binary unit,
// e.g. "2.0GiB", "512.0KiB", "100B".
func (s Size) String() string {
	switch {
	case s >= TiB:
		return formatUnit(float64(s)/float64(TiB), "TiB")
	case s >= GiB:
		return formatUnit(float64(s)/float64(GiB), "GiB")
	case s >= MiB:
		return formatUnit(float64(s)/float64(MiB), "MiB")
	case s >= KiB:
		return formatUnit(float64(s)/float64(KiB), "KiB")
	default:
		return strconv.FormatInt(int64(s), 10) + "B"
	}
}

func formatUnit(v float64, unit string) string {
	return strconv.FormatFloat(v, 'f', 1, 64) + unit
}

// Bytes returns the size as a raw int64 byte count.
func (s Size) Bytes() int64 {
	return int64(s)
}
