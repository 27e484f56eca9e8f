package stealth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"snap-automation/internal/core"
)

func TestPolicyFixedDelays(t *testing.T) {
	p := NewPolicyWithJitter(NewJitterWithSeed(1))
	cfg := core.SessionConfig{ClickDelay: 1.2, LoopDelay: 5}

	assert.Equal(t, 1200*time.Millisecond, p.ClickDelay(cfg))
	assert.Equal(t, 5*time.Second, p.LoopDelay(cfg))
}

func TestPolicySafeMode(t *testing.T) {
	p := NewPolicyWithJitter(NewJitterWithSeed(1))

	cfg := core.SessionConfig{LoopDelay: 10, SafeModeEnabled: true}
	assert.Equal(t, 13*time.Second, p.LoopDelay(cfg), "default factor is 1.3")

	cfg.SafeModeFactor = 2
	assert.Equal(t, 20*time.Second, p.LoopDelay(cfg))
}

func TestPolicyRandomDelays(t *testing.T) {
	p := NewPolicyWithJitter(NewJitterWithSeed(42))

	t.Run("draws within the range", func(t *testing.T) {
		cfg := core.SessionConfig{RandomDelayEnabled: true, RandomMin: 3, RandomMax: 8, ClickDelay: 100}
		for i := 0; i < 1000; i++ {
			d := p.ClickDelay(cfg)
			require.GreaterOrEqual(t, d, 3*time.Second)
			require.LessOrEqual(t, d, 8*time.Second)
		}
	})

	t.Run("inverted range collapses to the minimum", func(t *testing.T) {
		cfg := core.SessionConfig{RandomDelayEnabled: true, RandomMin: 8, RandomMax: 3}
		for i := 0; i < 100; i++ {
			assert.Equal(t, 8*time.Second, p.LoopDelay(cfg))
		}
	})

	t.Run("safe mode scales random draws", func(t *testing.T) {
		cfg := core.SessionConfig{RandomDelayEnabled: true, RandomMin: 2, RandomMax: 2, SafeModeEnabled: true, SafeModeFactor: 1.5}
		assert.Equal(t, 3*time.Second, p.LoopDelay(cfg))
	})
}

func TestPolicyJitter(t *testing.T) {
	p := NewPolicyWithJitter(NewJitterWithSeed(7))
	base := core.Point{X: 500, Y: 300}

	t.Run("disabled returns the target unchanged", func(t *testing.T) {
		cfg := core.SessionConfig{JitterEnabled: false, JitterRangePixels: 3}
		assert.Equal(t, base, p.Jitter(cfg, base))
	})

	t.Run("stays within range and is not degenerate", func(t *testing.T) {
		cfg := core.SessionConfig{JitterEnabled: true, JitterRangePixels: 3}
		seenX := map[int]bool{}
		seenY := map[int]bool{}
		for i := 0; i < 10000; i++ {
			got := p.Jitter(cfg, base)
			dx, dy := got.X-base.X, got.Y-base.Y
			require.True(t, dx >= -3 && dx <= 3, "dx %d out of range", dx)
			require.True(t, dy >= -3 && dy <= 3, "dy %d out of range", dy)
			seenX[dx] = true
			seenY[dy] = true
		}
		assert.Len(t, seenX, 7, "every offset in [-3, 3] should occur")
		assert.Len(t, seenY, 7)
	})
}

func TestJitterRandomInt(t *testing.T) {
	j := NewJitterWithSeed(3)
	assert.Equal(t, 5, j.RandomInt(5, 5))
	for i := 0; i < 100; i++ {
		v := j.RandomInt(10, 1)
		require.True(t, v >= 1 && v <= 10)
	}
	dx, dy := j.Offset(0)
	assert.Zero(t, dx)
	assert.Zero(t, dy)
}

func TestMousePath(t *testing.T) {
	m := NewMouse(0.5, 1.5, NewJitterWithSeed(11))

	t.Run("ends exactly at the target", func(t *testing.T) {
		start := core.Point{X: 0, Y: 0}
		end := core.Point{X: 800, Y: 450}
		path := m.Path(start, end)
		require.GreaterOrEqual(t, len(path), 10)
		require.LessOrEqual(t, len(path), 100)
		assert.Equal(t, PathPoint{X: 800, Y: 450}, path[len(path)-1])
	})

	t.Run("short hops jump straight to the target", func(t *testing.T) {
		path := m.Path(core.Point{X: 10, Y: 10}, core.Point{X: 10, Y: 10})
		assert.Equal(t, []PathPoint{{X: 10, Y: 10}}, path)
	})
}
