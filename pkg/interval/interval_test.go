package interval

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"0", 0},
		{"240", 4 * time.Hour},
		{"90", 90 * time.Minute},
		{" 30 ", 30 * time.Minute},
		{"PT4H", 4 * time.Hour},
		{"PT8H", 8 * time.Hour},
		{"PT30M", 30 * time.Minute},
		{"PT90S", 90 * time.Second},
		{"P1D", 24 * time.Hour},
		{"P1DT12H30M15S", 24*time.Hour + 12*time.Hour + 30*time.Minute + 15*time.Second},
		{"pt4h", 4 * time.Hour},
		{"PT0M", 0},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := Parse(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseErrors(t *testing.T) {
	for _, in := range []string{
		"",
		"  ",
		"-30",
		"4h",
		"P",
		"PT",
		"PTH",
		"P4H",   // hours require the T separator
		"PT1M2", // trailing digits without a designator
		"PT1X",
		"P1W", // weeks unsupported
		"P1DT2H3MT4S",
		"soon",
	} {
		t.Run(in, func(t *testing.T) {
			_, err := Parse(in)
			assert.Error(t, err, "expected error for %q", in)
		})
	}
}
