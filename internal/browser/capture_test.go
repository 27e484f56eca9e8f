package browser

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"snap-automation/internal/core"
)

type scriptedCapturer struct {
	points []core.Point
	labels []string
	err    error
	failAt int
}

func (s *scriptedCapturer) CapturePosition(ctx context.Context, label string) (core.Point, error) {
	s.labels = append(s.labels, label)
	if s.failAt > 0 && len(s.labels) == s.failAt {
		return core.Point{}, s.err
	}
	return s.points[len(s.labels)-1], nil
}

func TestCaptureAll(t *testing.T) {
	capturer := &scriptedCapturer{points: []core.Point{{X: 1, Y: 1}, {X: 2, Y: 2}, {X: 3, Y: 3}, {X: 4, Y: 4}}}
	var order []string

	positions, err := CaptureAll(context.Background(), capturer, time.Millisecond, func(step string, p core.Point) {
		order = append(order, step)
	})
	require.NoError(t, err)

	assert.Equal(t, core.RequiredSteps, order)
	assert.True(t, positions.Complete())
	assert.Equal(t, core.Point{X: 2, Y: 2}, positions[core.StepSendTo])
	assert.Equal(t, []string{"Camera button", "Send to button", "Shortcut button", "Select All button"}, capturer.labels)
}

func TestCaptureAllFailure(t *testing.T) {
	cause := errors.New("page closed")
	capturer := &scriptedCapturer{points: []core.Point{{X: 1, Y: 1}}, failAt: 2, err: cause}

	positions, err := CaptureAll(context.Background(), capturer, 0, nil)
	assert.ErrorIs(t, err, cause)
	assert.ErrorContains(t, err, core.StepSendTo)
	assert.Equal(t, core.Positions{core.StepCamera: {X: 1, Y: 1}}, positions, "partial result is returned")
}

func TestCaptureAllCancelledBetweenSteps(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	capturer := &scriptedCapturer{points: []core.Point{{X: 1, Y: 1}}}

	_, err := CaptureAll(ctx, capturer, time.Hour, func(string, core.Point) { cancel() })
	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, capturer.labels, 1)
}

func TestInstanceRequiresInitialize(t *testing.T) {
	b := NewInstance(&core.BrowserConfig{MouseSpeedMin: 0.5, MouseSpeedMax: 1.5}, nil, nil)

	assert.False(t, b.Ready())
	assert.ErrorIs(t, b.MoveAndClick(context.Background(), core.Point{X: 1, Y: 1}), ErrNotInitialized)
	_, err := b.CapturePosition(context.Background(), "Camera button")
	assert.ErrorIs(t, err, ErrNotInitialized)
	assert.NoError(t, b.Close(), "closing an unopened browser is a no-op")
}
