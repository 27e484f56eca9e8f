package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{in: -time.Second, want: "0.0s"},
		{in: 1500 * time.Millisecond, want: "1.5s"},
		{in: 90 * time.Second, want: "1m"},
		{in: 2*time.Hour + 5*time.Minute, want: "2h 5m"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatDuration(tt.in), tt.in.String())
	}
}

func TestFormatElapsed(t *testing.T) {
	assert.Equal(t, "00:00:00", FormatElapsed(-time.Minute))
	assert.Equal(t, "00:01:05", FormatElapsed(65*time.Second))
	assert.Equal(t, "26:03:09", FormatElapsed(26*time.Hour+3*time.Minute+9*time.Second))
}

func TestPluralize(t *testing.T) {
	assert.Equal(t, "recipient", Pluralize(1, "recipient", "recipients"))
	assert.Equal(t, "recipients", Pluralize(0, "recipient", "recipients"))
	assert.Equal(t, "recipients", Pluralize(3, "recipient", "recipients"))
}
