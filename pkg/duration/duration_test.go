package duration

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		input string
		want  time.Duration
	}{
		{"30s", 30 * time.Second},
		{"5m", 5 * time.Minute},
		{"720h", 720 * time.Hour},
		{"1d", Day},
		{"2w", 2 * Week},
		{"1w2d12h", Week + 2*Day + 12*time.Hour},
		{"1.5d", 36 * time.Hour},
		{"500ms", 500 * time.Millisecond},
		{"0", 0},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := Parse(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseErrors(t *testing.T) {
	for _, input := range []string{"", "d", "w", "abc", "5x", "-1d", "12h1d"} {
		t.Run(input, func(t *testing.T) {
			_, err := Parse(input)
			assert.Error(t, err)
		})
	}
}

func TestFormat(t *testing.T) {
	assert.Equal(t, "1w2d12h", Format(Week+2*Day+12*time.Hour))
	assert.Equal(t, "1h30m", Format(90*time.Minute))
	assert.Equal(t, "45s", Format(45*time.Second))
	assert.Equal(t, "0s", Format(0))
}

func TestFormatParseRoundTrip(t *testing.T) {
	orig := 3*Week + Day + 6*time.Hour
	parsed, err := Parse(Format(orig))
	require.NoError(t, err)
	assert.Equal(t, orig, parsed)
}
