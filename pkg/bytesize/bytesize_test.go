package bytesize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  Size
	}{
		{"raw bytes", "5242880", 5 * MiB},
		{"kilobytes", "500KB", 500 * KiB},
		{"kibibytes", "500KiB", 500 * KiB},
		{"megabytes", "5MB", 5 * MiB},
		{"gibibytes", "2GiB", 2 * GiB},
		{"spaced", "1.5 GB", Size(1.5 * float64(GiB))},
		{"lowercase", "2gib", 2 * GiB},
		{"short unit", "1G", GiB},
		{"plain bytes", "100B", 100},
		{"zero", "0", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseErrors(t *testing.T) {
	for _, input := range []string{"", "GB", "abc", "-5MB", "-100", "1.2.3MB"} {
		t.Run(input, func(t *testing.T) {
			_, err := Parse(input)
			assert.Error(t, err)
		})
	}
}

func TestString(t *testing.T) {
	assert.Equal(t, "2.0GiB", (2 * GiB).String())
	assert.Equal(t, "1.5MiB", (MiB + 512*KiB).String())
	assert.Equal(t, "100B", Size(100).String())
}

func TestRoundTrip(t *testing.T) {
	orig := 2 * GiB
	parsed, err := Parse(orig.String())
	require.NoError(t, err)
	assert.Equal(t, orig, parsed)
}
