package config

import (
	"encoding/json"

	"github.com/clipdock/clipdock/pkg/bytesize"
)

// ByteSize is a byte count with config-friendly parsing: "512MiB", "2GiB"
// or a plain number of bytes. Implements encoding.TextUnmarshaler so viper
// and YAML decode it directly.
type ByteSize int64

// ParseByteSize parses a size string like "500KB", "2GiB" or "1048576".
func ParseByteSize(s string) (ByteSize, error) {
	size, err := bytesize.Parse(s)
	if err != nil {
		return 0, err
	}
	return ByteSize(size), nil
}

// Bytes returns the size as a raw int64 byte count.
func (b ByteSize) Bytes() int64 {
	return int64(b)
}

// String renders the size with the largest fitting binary unit.
func (b ByteSize) String() string {
	return bytesize.Size(b).String()
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (b *ByteSize) UnmarshalText(text []byte) error {
	parsed, err := ParseByteSize(string(text))
	if err != nil {
		return err
	}
	*b = parsed
	return nil
}

// UnmarshalJSON accepts either a size string or a raw byte count.
func (b *ByteSize) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		return b.UnmarshalText([]byte(s))
	}

	var n int64
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*b = ByteSize(n)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (b ByteSize) MarshalText() ([]byte, error) {
	return []byte(b.String()), nil
}

// MarshalJSON implements json.Marshaler.
func (b ByteSize) MarshalJSON() ([]byte, error) {
	return json.Marshal(b.String())
}
