package stealth

import (
	"time"

	"snap-automation/internal/core"
)

// Policy converts a SessionConfig into concrete waits and pointer offsets.
// It holds no session state; the only shared thing is the random source.
type Policy struct {
	jitter *Jitter
}

// NewPolicy creates a Policy with a time-seeded random source
func NewPolicy() *Policy {
	return &Policy{jitter: NewJitter()}
}

// NewPolicyWithJitter creates a Policy drawing from the given source
func NewPolicyWithJitter(j *Jitter) *Policy {
	if j == nil {
		j = NewJitter()
	}
	return &Policy{jitter: j}
}

// ClickDelay is the wait after each click of a cycle
func (p *Policy) ClickDelay(cfg core.SessionConfig) time.Duration {
	return p.delay(cfg, cfg.ClickDelay)
}

// LoopDelay is the wait between two cycles
func (p *Policy) LoopDelay(cfg core.SessionConfig) time.Duration {
	return p.delay(cfg, cfg.LoopDelay)
}

// delay draws from [RandomMin, RandomMax] when random delays are on,
// otherwise uses base, then applies the safe mode factor.
func (p *Policy) delay(cfg core.SessionConfig, base float64) time.Duration {
	cfg = cfg.Normalize()

	seconds := base
	if cfg.RandomDelayEnabled {
		seconds = p.jitter.RandomFloat(cfg.RandomMin, cfg.RandomMax)
	}
	if cfg.SafeModeEnabled {
		seconds *= cfg.SafeModeFactor
	}
	return core.Seconds(seconds)
}

// Jitter perturbs a step target by an independent offset per axis
func (p *Policy) Jitter(cfg core.SessionConfig, point core.Point) core.Point {
	if !cfg.JitterEnabled || cfg.JitterRangePixels <= 0 {
		return point
	}
	dx, dy := p.jitter.Offset(cfg.JitterRangePixels)
	return point.Add(dx, dy)
}

// Source exposes the random source for components that need the same
// stream (the browser pointer path)
func (p *Policy) Source() *Jitter {
	return p.jitter
}
