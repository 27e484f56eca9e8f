// Package session runs the send loop: one worker goroutine per session,
// driven by a state machine and controlled through a cancellation token.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"snap-automation/internal/core"
	"snap-automation/internal/stats"
	"snap-automation/internal/stealth"
	"snap-automation/internal/workflows"
	"snap-automation/pkg/utils"
)

// Reasons recorded when a session ends.
const (
	ReasonStopped  = "stopped"
	ReasonAutoStop = "auto-stop reached"
	ReasonDuration = "session duration reached"
)

// Cycle runs one send cycle. *workflows.SendWorkflow implements it.
type Cycle interface {
	Run(ctx context.Context, cfg core.SessionConfig, positions core.Positions, wait workflows.Waiter) error
}

// Controller owns the session state machine and its worker goroutine
type Controller struct {
	cycle  Cycle
	policy *stealth.Policy
	stats  *stats.Aggregator
	events core.EventSink
	repo   core.StatsRepositoryPort
	clock  clock.Clock
	poll   time.Duration
	logger *zap.Logger

	mu         sync.RWMutex
	state      core.SessionState
	phase      core.SessionState // Underlying phase while paused
	cfg        core.SessionConfig
	positions  core.Positions
	token      *Token
	done       chan struct{}
	recipients int
}

// Option configures a Controller.
type Option func(*Controller)

// WithClock replaces the wall clock (tests use clock.NewMock)
func WithClock(clk clock.Clock) Option {
	return func(c *Controller) {
		c.clock = clk
	}
}

// WithPollInterval sets the stop/pause polling bound of every wait
func WithPollInterval(d time.Duration) Option {
	return func(c *Controller) {
		c.poll = d
	}
}

// WithRepository persists statistics at the end of every session
func WithRepository(repo core.StatsRepositoryPort) Option {
	return func(c *Controller) {
		c.repo = repo
	}
}

// WithPolicy sets the timing policy used for loop delays
func WithPolicy(p *stealth.Policy) Option {
	return func(c *Controller) {
		c.policy = p
	}
}

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(c *Controller) {
		c.logger = logger
	}
}

// NewController creates a Controller in the Idle state.
// agg and sink may be nil.
func NewController(cycle Cycle, agg *stats.Aggregator, sink core.EventSink, opts ...Option) *Controller {
	c := &Controller{
		cycle:  cycle,
		stats:  agg,
		events: sink,
		state:  core.StateIdle,
		phase:  core.StateIdle,
		poll:   DefaultPollInterval,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.stats == nil {
		c.stats = stats.NewAggregator()
	}
	if c.events == nil {
		c.events = nopSink{}
	}
	if c.clock == nil {
		c.clock = clock.New()
	}
	if c.policy == nil {
		c.policy = stealth.NewPolicy()
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	return c
}

// SetConfig replaces the configuration used by the next session
func (c *Controller) SetConfig(cfg core.SessionConfig) {
	c.mu.Lock()
	c.cfg = cfg.Normalize()
	c.mu.Unlock()
}

// Config returns the configuration used by the next session
func (c *Controller) Config() core.SessionConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cfg
}

// SetPositions replaces the send positions used by the next session
func (c *Controller) SetPositions(p core.Positions) {
	c.mu.Lock()
	c.positions = p.Clone()
	c.mu.Unlock()
}

// Positions returns a copy of the registered send positions
func (c *Controller) Positions() core.Positions {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.positions.Clone()
}

// State returns the current lifecycle state
func (c *Controller) State() core.SessionState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Snapshot returns a consistent copy of the statistics
func (c *Controller) Snapshot() core.StatisticsSnapshot {
	return c.stats.Snapshot()
}

// Start begins a session and returns once the worker is launched.
// It fails with core.ErrAlreadyRunning unless the controller is Idle and with
// core.ErrNotConfigured when any send position is missing. Cancelling ctx
// has the same effect as Stop.
func (c *Controller) Start(ctx context.Context, recipientCount int) error {
	if recipientCount < 1 {
		return core.ErrInvalidRecipientCount
	}

	c.mu.Lock()
	if c.state != core.StateIdle {
		c.mu.Unlock()
		return core.ErrAlreadyRunning
	}
	if !c.positions.Complete() {
		c.mu.Unlock()
		return fmt.Errorf("%w (missing %v)", core.ErrNotConfigured, c.positions.Missing())
	}

	cfg := c.cfg.Normalize()
	positions := c.positions.Clone()
	token := NewToken(c.clock, c.poll)
	done := make(chan struct{})

	initial := core.StateRunning
	switch {
	case cfg.ScheduleDelay() > 0:
		initial = core.StateScheduled
	case cfg.RampUp() > 0:
		initial = core.StateRampingUp
	}
	c.state = initial
	c.phase = initial
	c.token = token
	c.done = done
	c.recipients = recipientCount
	c.stats.StartSession(c.clock.Now())
	c.mu.Unlock()

	c.logger.Info("Session starting",
		zap.Int("recipients", recipientCount),
		zap.String("state", string(initial)),
	)
	c.events.OnLog(fmt.Sprintf("Session started for %d recipients", recipientCount), core.SeverityInfo)
	c.events.OnStatisticsChanged()
	c.emitStatus()

	workerCtx, cancel := context.WithCancel(ctx)
	go func() {
		select {
		case <-workerCtx.Done():
			c.stopToken(token)
		case <-token.Done():
		}
		cancel()
	}()
	go c.run(workerCtx, token, done, cfg, positions, recipientCount)
	return nil
}

// Pause suspends a running session. It has no effect outside Running.
func (c *Controller) Pause() bool {
	c.mu.Lock()
	if c.state != core.StateRunning || c.token == nil {
		c.mu.Unlock()
		return false
	}
	c.state = core.StatePaused
	c.token.Pause()
	c.mu.Unlock()

	c.events.OnLog("Session paused", core.SeverityWarning)
	c.emitStatus()
	return true
}

// Resume continues a paused session. It has no effect outside Paused.
func (c *Controller) Resume() bool {
	c.mu.Lock()
	if c.state != core.StatePaused || c.token == nil {
		c.mu.Unlock()
		return false
	}
	c.state = c.phase
	c.token.Resume()
	c.mu.Unlock()

	c.events.OnLog("Session resumed", core.SeveritySuccess)
	c.emitStatus()
	return true
}

// Stop requests the session to end. It never blocks and may be called from
// any state any number of times; use Wait to block until Idle.
func (c *Controller) Stop() bool {
	c.mu.RLock()
	token := c.token
	c.mu.RUnlock()
	return c.stopToken(token)
}

// stopToken stops the session owning token, if it is still the current one
func (c *Controller) stopToken(token *Token) bool {
	c.mu.Lock()
	if token == nil || c.token != token || c.state == core.StateIdle || c.state == core.StateStopping {
		c.mu.Unlock()
		return false
	}
	c.state = core.StateStopping
	c.mu.Unlock()

	token.Stop()
	c.events.OnLog("Stopping session...", core.SeverityWarning)
	c.emitStatus()
	return true
}

// Wait blocks until the current session (if any) has reached Idle
func (c *Controller) Wait(ctx context.Context) error {
	c.mu.RLock()
	done := c.done
	c.mu.RUnlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// LoadStatistics seeds the lifetime counters from the repository
func (c *Controller) LoadStatistics(ctx context.Context) error {
	if c.repo == nil {
		return nil
	}
	lifetime, err := c.repo.LoadLifetime(ctx)
	if err != nil {
		return &core.PersistenceError{Op: "load", What: "statistics", Err: err}
	}
	c.stats.Restore(lifetime)
	c.events.OnStatisticsChanged()
	return nil
}

// ResetStatistics clears session and lifetime counters, in memory and in the
// repository. It fails with core.ErrSessionActive unless Idle.
func (c *Controller) ResetStatistics(ctx context.Context) error {
	if c.State() != core.StateIdle {
		return core.ErrSessionActive
	}
	if err := c.stats.Reset(); err != nil {
		return err
	}
	if c.repo != nil {
		if err := c.repo.ResetLifetime(ctx); err != nil {
			perr := &core.PersistenceError{Op: "reset", What: "statistics", Err: err}
			c.events.OnLog(perr.Error(), core.SeverityError)
			return perr
		}
	}
	c.events.OnLog("Statistics reset", core.SeveritySuccess)
	c.events.OnStatisticsChanged()
	return nil
}

func (c *Controller) run(ctx context.Context, token *Token, done chan struct{}, cfg core.SessionConfig, positions core.Positions, recipients int) {
	defer close(done)
	reason := c.loop(ctx, token, cfg, positions, recipients)
	c.finish(token, reason, recipients)
}

// loop is the worker body. It returns the reason the session ended.
func (c *Controller) loop(ctx context.Context, token *Token, cfg core.SessionConfig, positions core.Positions, recipients int) string {
	if d := cfg.ScheduleDelay(); d > 0 {
		c.setPhase(core.StateScheduled)
		c.events.OnLog(fmt.Sprintf("Session scheduled, first cycle in %s", utils.FormatDuration(d)), core.SeverityInfo)
		if !token.Wait(d) {
			return ReasonStopped
		}
	}
	if d := cfg.RampUp(); d > 0 {
		c.setPhase(core.StateRampingUp)
		c.events.OnLog(fmt.Sprintf("Ramping up for %s", utils.FormatDuration(d)), core.SeverityInfo)
		if !token.Wait(d) {
			return ReasonStopped
		}
	}
	c.setPhase(core.StateRunning)

	for {
		if !token.Hold() {
			return ReasonStopped
		}

		if cfg.CooldownEnabled && c.stats.Snapshot().CooldownStreak >= cfg.CooldownAfter {
			if !c.cooldown(token, cfg) {
				return ReasonStopped
			}
		}

		err := c.cycle.Run(ctx, cfg, positions, token)
		switch {
		case err == nil:
			snap := c.stats.RecordSuccess(recipients)
			c.logger.Info("Cycle completed",
				zap.Int("session_count", snap.SessionCount),
				zap.Int64("lifetime_count", snap.LifetimeCount),
				zap.Int("streak", snap.CurrentStreak),
			)
			c.events.OnLog(fmt.Sprintf("Cycle %d sent to %d %s", snap.SessionCount, recipients,
				utils.Pluralize(int64(recipients), "recipient", "recipients")), core.SeveritySuccess)
			c.events.OnStatisticsChanged()
			c.emitStatus()
		case errors.Is(err, workflows.ErrInterrupted):
			return ReasonStopped
		default:
			snap := c.stats.RecordFailure()
			c.logger.Warn("Cycle failed",
				zap.Error(err),
				zap.Int("session_errors", snap.SessionErrorCount),
			)
			c.events.OnLog(fmt.Sprintf("Error sending: %v", err), core.SeverityError)
			c.events.OnStatisticsChanged()
		}

		if token.Stopped() {
			return ReasonStopped
		}
		snap := c.stats.Snapshot()
		// Only successful cycles count; a failed one never ends the session
		if cfg.AutoStopEnabled && snap.SessionCount >= cfg.AutoStopAfterCount {
			c.events.OnLog(fmt.Sprintf("Auto-stop reached (%d cycles)", cfg.AutoStopAfterCount), core.SeverityWarning)
			return ReasonAutoStop
		}
		if limit := cfg.SessionLimit(); limit > 0 && snap.Elapsed(c.clock.Now()) >= limit {
			c.events.OnLog(fmt.Sprintf("Session duration reached (%s)", utils.FormatDuration(limit)), core.SeverityWarning)
			return ReasonDuration
		}

		if !token.Wait(c.policy.LoopDelay(cfg)) {
			return ReasonStopped
		}
	}
}

// cooldown waits out the configured pause and restarts the cooldown count
func (c *Controller) cooldown(token *Token, cfg core.SessionConfig) bool {
	d := cfg.CooldownDuration()
	c.setPhase(core.StateCoolingDown)
	c.logger.Info("Cooling down", zap.Duration("duration", d), zap.Int("after", cfg.CooldownAfter))
	c.events.OnLog(fmt.Sprintf("Cooling down for %s after %d %s", utils.FormatDuration(d), cfg.CooldownAfter,
		utils.Pluralize(int64(cfg.CooldownAfter), "cycle", "cycles")), core.SeverityInfo)
	if !token.Wait(d) {
		return false
	}
	c.stats.CompleteCooldown()
	c.setPhase(core.StateRunning)
	return true
}

// finish moves the controller through Stopping to Idle and records the
// session summary
func (c *Controller) finish(token *Token, reason string, recipients int) {
	c.mu.Lock()
	c.state = core.StateStopping
	c.phase = core.StateStopping
	c.mu.Unlock()
	c.emitStatus()

	now := c.clock.Now()
	snap := c.stats.EndSession(now, reason)
	c.persist(snap, reason, recipients)

	// Releases the context watcher started by Start
	token.Stop()

	c.mu.Lock()
	c.state = core.StateIdle
	c.phase = core.StateIdle
	c.token = nil
	c.mu.Unlock()

	c.logger.Info("Session finished",
		zap.String("reason", reason),
		zap.Int("count", snap.SessionCount),
		zap.Int("errors", snap.SessionErrorCount),
		zap.Int64("lifetime_count", snap.LifetimeCount),
	)
	c.events.OnLog(fmt.Sprintf("Session finished (%s): %d sent, %d errors", reason, snap.SessionCount, snap.SessionErrorCount), core.SeverityInfo)
	c.events.OnStatisticsChanged()
	c.emitStatus()
}

func (c *Controller) persist(snap core.StatisticsSnapshot, reason string, recipients int) {
	if c.repo == nil || snap.LastSession == nil {
		return
	}
	record := &core.SessionRecord{
		StartedAt:      snap.SessionStartTime,
		EndedAt:        snap.LastSession.Timestamp,
		Count:          snap.SessionCount,
		Errors:         snap.SessionErrorCount,
		RecipientCount: recipients,
		LongestStreak:  snap.LongestStreak,
		Reason:         reason,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.repo.SaveSession(ctx, c.stats.Lifetime(), record); err != nil {
		perr := &core.PersistenceError{Op: "save", What: "statistics", Err: err}
		c.logger.Error("Failed to persist statistics", zap.Error(perr))
		c.events.OnLog(perr.Error(), core.SeverityError)
	}
}

// setPhase records the worker's phase. While paused or stopping the visible
// state is left alone; Resume restores the phase.
func (c *Controller) setPhase(phase core.SessionState) {
	c.mu.Lock()
	c.phase = phase
	changed := false
	if c.state != core.StatePaused && c.state != core.StateStopping && c.state != phase {
		c.state = phase
		changed = true
	}
	c.mu.Unlock()
	if changed {
		c.emitStatus()
	}
}

// StatusLine renders the current state and counters for a status bar
func (c *Controller) StatusLine() string {
	snap := c.stats.Snapshot()
	state := c.State()
	if !snap.SessionActive {
		return fmt.Sprintf("%s | Total: %d", state, snap.LifetimeCount)
	}
	return fmt.Sprintf("%s | Sent: %d | Total: %d | Time: %s",
		state, snap.SessionCount, snap.LifetimeCount, utils.FormatElapsed(snap.Elapsed(c.clock.Now())))
}

func (c *Controller) emitStatus() {
	c.events.OnStatusChanged(c.StatusLine())
}

type nopSink struct{}

func (nopSink) OnLog(string, core.Severity) {}
func (nopSink) OnStatusChanged(string)      {}
func (nopSink) OnStatisticsChanged()        {}
