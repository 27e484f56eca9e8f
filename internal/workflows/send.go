package workflows

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"snap-automation/internal/core"
	"snap-automation/internal/stealth"

	"go.uber.org/zap"
)

// ErrInterrupted is returned when a stop arrives before the last click of a
// cycle. The cycle is neither a success nor a failure.
var ErrInterrupted = errors.New("send cycle interrupted")

// Waiter is the interruptible wait used between clicks
type Waiter interface {
	Wait(d time.Duration) bool
}

// SendWorkflow executes one send cycle: every step of core.SendSequence is
// jittered, clicked and followed by the click delay.
type SendWorkflow struct {
	actuator core.ActuatorPort
	policy   *stealth.Policy
	logger   *zap.Logger

	primed atomic.Bool
}

// NewSendWorkflow creates a new send workflow
func NewSendWorkflow(actuator core.ActuatorPort, policy *stealth.Policy, logger *zap.Logger) *SendWorkflow {
	if policy == nil {
		policy = stealth.NewPolicy()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SendWorkflow{
		actuator: actuator,
		policy:   policy,
		logger:   logger,
	}
}

// Run performs one cycle. A failed click returns a *core.ActuatorError; a
// stop observed before the final click returns ErrInterrupted. A stop during
// the wait after the final click still counts as a completed cycle.
func (w *SendWorkflow) Run(ctx context.Context, cfg core.SessionConfig, positions core.Positions, wait Waiter) error {
	if !positions.Complete() {
		return core.ErrNotConfigured
	}

	if cfg.PrimeFirstCycle && !w.primed.Load() {
		first := core.SendSequence[0]
		if err := w.click(ctx, cfg, first, positions[first]); err != nil {
			return err
		}
		w.primed.Store(true)
		w.logger.Debug("Primed first step", zap.String("step", first))
		if !wait.Wait(w.policy.ClickDelay(cfg)) {
			return ErrInterrupted
		}
	}

	last := len(core.SendSequence) - 1
	for i, step := range core.SendSequence {
		if err := w.click(ctx, cfg, step, positions[step]); err != nil {
			return err
		}
		if !wait.Wait(w.policy.ClickDelay(cfg)) && i < last {
			return ErrInterrupted
		}
	}
	return nil
}

// ResetPrime makes the next cycle prime the first step again (a fresh page)
func (w *SendWorkflow) ResetPrime() {
	w.primed.Store(false)
}

func (w *SendWorkflow) click(ctx context.Context, cfg core.SessionConfig, step string, base core.Point) error {
	if err := ctx.Err(); err != nil {
		return ErrInterrupted
	}

	target := w.policy.Jitter(cfg, base)
	w.logger.Debug("Clicking step",
		zap.String("step", step),
		zap.Int("x", target.X),
		zap.Int("y", target.Y),
	)

	if err := w.actuator.MoveAndClick(ctx, target); err != nil {
		if ctx.Err() != nil {
			return ErrInterrupted
		}
		return &core.ActuatorError{Step: step, Point: target, Err: fmt.Errorf("move and click: %w", err)}
	}
	return nil
}
