package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"snap-automation/internal/core"
	"snap-automation/internal/stats"
	"snap-automation/internal/stealth"
	"snap-automation/internal/workflows"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// scriptedCycle returns whatever run decides for the n-th call (1-based)
type scriptedCycle struct {
	mu    sync.Mutex
	calls int
	run   func(n int) error
}

func (s *scriptedCycle) Run(ctx context.Context, cfg core.SessionConfig, positions core.Positions, wait workflows.Waiter) error {
	s.mu.Lock()
	s.calls++
	n := s.calls
	s.mu.Unlock()
	if s.run != nil {
		return s.run(n)
	}
	return nil
}

func (s *scriptedCycle) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type recordingSink struct {
	mu       sync.Mutex
	logs     []string
	severity []core.Severity
	statuses []string
	changes  int
}

func (r *recordingSink) OnLog(message string, severity core.Severity) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logs = append(r.logs, message)
	r.severity = append(r.severity, severity)
}

func (r *recordingSink) OnStatusChanged(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, text)
}

func (r *recordingSink) OnStatisticsChanged() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes++
}

func (r *recordingSink) count(substr string, severity core.Severity) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for i, msg := range r.logs {
		if strings.Contains(msg, substr) && r.severity[i] == severity {
			n++
		}
	}
	return n
}

type fakeRepo struct {
	mu       sync.Mutex
	lifetime *core.LifetimeStats
	records  []*core.SessionRecord
	saveErr  error
	resets   int
}

func (f *fakeRepo) LoadLifetime(ctx context.Context) (*core.LifetimeStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.lifetime == nil {
		return &core.LifetimeStats{ID: 1}, nil
	}
	return f.lifetime, nil
}

func (f *fakeRepo) SaveSession(ctx context.Context, lifetime *core.LifetimeStats, record *core.SessionRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	f.lifetime = lifetime
	f.records = append(f.records, record)
	return nil
}

func (f *fakeRepo) ResetLifetime(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets++
	f.lifetime = nil
	return nil
}

func (f *fakeRepo) RecentSessions(ctx context.Context, limit int) ([]*core.SessionRecord, error) {
	return nil, nil
}

func (f *fakeRepo) SessionsBetween(ctx context.Context, start, end time.Time) ([]*core.SessionRecord, error) {
	return nil, nil
}

func (f *fakeRepo) Migrate(ctx context.Context) error { return nil }
func (f *fakeRepo) Close() error                      { return nil }

type fakeActuator struct {
	mu      sync.Mutex
	clicks  []core.Point
	onClick func(n int) error
}

func (f *fakeActuator) MoveAndClick(ctx context.Context, target core.Point) error {
	f.mu.Lock()
	f.clicks = append(f.clicks, target)
	n := len(f.clicks)
	hook := f.onClick
	f.mu.Unlock()
	if hook != nil {
		return hook(n)
	}
	return nil
}

func completePositions() core.Positions {
	return core.Positions{
		core.StepCamera:    {X: 100, Y: 100},
		core.StepSendTo:    {X: 200, Y: 400},
		core.StepShortcut:  {X: 300, Y: 150},
		core.StepSelectAll: {X: 320, Y: 180},
	}
}

func newTestController(t *testing.T, cycle Cycle, cfg core.SessionConfig, opts ...Option) (*Controller, *recordingSink) {
	t.Helper()
	sink := &recordingSink{}
	opts = append([]Option{WithPollInterval(5 * time.Millisecond)}, opts...)
	c := NewController(cycle, stats.NewAggregator(), sink, opts...)
	c.SetPositions(completePositions())
	c.SetConfig(cfg)
	return c, sink
}

func waitIdle(t *testing.T, c *Controller) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, c.Wait(ctx), "session did not reach idle")
	assert.Equal(t, core.StateIdle, c.State())
}

func autoStop(n int) core.SessionConfig {
	return core.SessionConfig{AutoStopEnabled: true, AutoStopAfterCount: n}
}

func TestControllerAutoStop(t *testing.T) {
	cycle := &scriptedCycle{}
	repo := &fakeRepo{}
	c, sink := newTestController(t, cycle, autoStop(3), WithRepository(repo))

	require.NoError(t, c.Start(context.Background(), 2))
	waitIdle(t, c)

	snap := c.Snapshot()
	assert.Equal(t, 3, cycle.Calls())
	assert.Equal(t, 3, snap.SessionCount)
	assert.Equal(t, int64(6), snap.LifetimeCount, "lifetime is weighted by recipients")
	assert.False(t, snap.SessionActive)
	require.NotNil(t, snap.LastSession)
	assert.Equal(t, 3, snap.LastSession.Count)
	assert.Equal(t, ReasonAutoStop, snap.LastSession.Reason)

	require.Len(t, repo.records, 1)
	assert.Equal(t, 3, repo.records[0].Count)
	assert.Equal(t, 2, repo.records[0].RecipientCount)
	assert.Equal(t, ReasonAutoStop, repo.records[0].Reason)
	assert.Equal(t, int64(6), repo.lifetime.LifetimeCount)

	assert.Equal(t, 1, sink.count("Auto-stop reached", core.SeverityWarning))
	assert.Equal(t, 3, sink.count("sent to 2 recipients", core.SeveritySuccess))
}

func TestControllerFailureAbortsCycleNotSession(t *testing.T) {
	cycle := &scriptedCycle{run: func(n int) error {
		if n == 2 {
			return &core.ActuatorError{Step: core.StepShortcut, Err: errors.New("page gone")}
		}
		return nil
	}}
	c, sink := newTestController(t, cycle, autoStop(3))

	require.NoError(t, c.Start(context.Background(), 1))
	waitIdle(t, c)

	snap := c.Snapshot()
	assert.Equal(t, 4, cycle.Calls(), "the failed cycle does not count toward auto-stop")
	assert.Equal(t, 3, snap.SessionCount)
	assert.Equal(t, 1, snap.SessionErrorCount)
	assert.Equal(t, 2, snap.CurrentStreak)
	assert.Equal(t, 2, snap.LongestStreak)
	require.NotNil(t, snap.LastSession)
	assert.Equal(t, ReasonAutoStop, snap.LastSession.Reason)
	assert.Equal(t, 1, sink.count("page gone", core.SeverityError))
}

func TestControllerFailureOnLastCycleKeepsRunning(t *testing.T) {
	cycle := &scriptedCycle{run: func(n int) error {
		if n == 3 {
			return &core.ActuatorError{Step: core.StepSendTo, Err: errors.New("not clickable")}
		}
		return nil
	}}
	c, sink := newTestController(t, cycle, autoStop(3))

	require.NoError(t, c.Start(context.Background(), 1))
	waitIdle(t, c)

	snap := c.Snapshot()
	assert.Equal(t, 4, cycle.Calls())
	assert.Equal(t, 3, snap.SessionCount)
	assert.Equal(t, 1, snap.SessionErrorCount)
	assert.Equal(t, 1, sink.count("Auto-stop reached", core.SeverityWarning))
}

func TestControllerCooldown(t *testing.T) {
	cfg := autoStop(12)
	cfg.CooldownEnabled = true
	cfg.CooldownAfter = 5
	cycle := &scriptedCycle{}
	c, sink := newTestController(t, cycle, cfg)

	require.NoError(t, c.Start(context.Background(), 1))
	waitIdle(t, c)

	assert.Equal(t, 12, c.Snapshot().SessionCount)
	assert.Equal(t, 2, sink.count("Cooling down", core.SeverityInfo), "cooldown before cycles 6 and 11")
}

func TestControllerDurationLimit(t *testing.T) {
	mock := clock.NewMock()
	cycle := &scriptedCycle{run: func(n int) error {
		mock.Add(time.Minute)
		return nil
	}}
	c, _ := newTestController(t, cycle, core.SessionConfig{SessionDurationMinutes: 2}, WithClock(mock))

	require.NoError(t, c.Start(context.Background(), 1))
	waitIdle(t, c)

	snap := c.Snapshot()
	assert.Equal(t, 2, snap.SessionCount)
	require.NotNil(t, snap.LastSession)
	assert.Equal(t, ReasonDuration, snap.LastSession.Reason)
	assert.Equal(t, 2*time.Minute, snap.LastSession.Duration)
}

func TestControllerStopFromEveryPhase(t *testing.T) {
	tests := []struct {
		name  string
		cfg   core.SessionConfig
		setup func(t *testing.T, c *Controller)
		want  core.SessionState
		count int
	}{
		{
			name: "scheduled",
			cfg:  core.SessionConfig{ScheduleDelaySeconds: 60},
			want: core.StateScheduled,
		},
		{
			name: "ramping up",
			cfg:  core.SessionConfig{RampUpMinutes: 1},
			want: core.StateRampingUp,
		},
		{
			name: "running",
			cfg:  core.SessionConfig{LoopDelay: 60},
			setup: func(t *testing.T, c *Controller) {
				require.Eventually(t, func() bool { return c.Snapshot().SessionCount == 1 }, time.Second, time.Millisecond)
			},
			want:  core.StateRunning,
			count: 1,
		},
		{
			name: "paused",
			cfg:  core.SessionConfig{LoopDelay: 60},
			setup: func(t *testing.T, c *Controller) {
				require.Eventually(t, func() bool { return c.Snapshot().SessionCount == 1 }, time.Second, time.Millisecond)
				require.True(t, c.Pause())
			},
			want:  core.StatePaused,
			count: 1,
		},
		{
			name:  "cooling down",
			cfg:   core.SessionConfig{CooldownEnabled: true, CooldownAfter: 1, CooldownDurationSeconds: 60, LoopDelay: 0},
			want:  core.StateCoolingDown,
			count: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cycle := &scriptedCycle{}
			c, _ := newTestController(t, cycle, tt.cfg)

			require.NoError(t, c.Start(context.Background(), 1))
			if tt.setup != nil {
				tt.setup(t, c)
			}
			require.Eventually(t, func() bool { return c.State() == tt.want }, time.Second, time.Millisecond)

			start := time.Now()
			assert.True(t, c.Stop())
			assert.False(t, c.Stop(), "stop is idempotent")
			waitIdle(t, c)
			assert.Less(t, time.Since(start), time.Second)

			assert.Equal(t, tt.count, cycle.Calls())
			snap := c.Snapshot()
			require.NotNil(t, snap.LastSession)
			assert.Equal(t, tt.count, snap.LastSession.Count)
			assert.Equal(t, ReasonStopped, snap.LastSession.Reason)
		})
	}
}

func TestControllerScheduleThenRampUp(t *testing.T) {
	cfg := core.SessionConfig{ScheduleDelaySeconds: 0.02, RampUpMinutes: 1}
	c, _ := newTestController(t, &scriptedCycle{}, cfg)

	require.NoError(t, c.Start(context.Background(), 1))
	assert.Equal(t, core.StateScheduled, c.State())
	require.Eventually(t, func() bool { return c.State() == core.StateRampingUp }, time.Second, time.Millisecond)

	c.Stop()
	waitIdle(t, c)
}

func TestControllerPauseResume(t *testing.T) {
	c, _ := newTestController(t, &scriptedCycle{}, core.SessionConfig{ScheduleDelaySeconds: 60})

	assert.False(t, c.Pause(), "nothing to pause while idle")
	require.NoError(t, c.Start(context.Background(), 1))
	assert.False(t, c.Pause(), "pause is only accepted while running")
	assert.False(t, c.Resume())
	c.Stop()
	waitIdle(t, c)

	cycle := &scriptedCycle{}
	c, _ = newTestController(t, cycle, core.SessionConfig{LoopDelay: 0.05})
	require.NoError(t, c.Start(context.Background(), 1))
	require.Eventually(t, func() bool { return cycle.Calls() >= 1 }, time.Second, time.Millisecond)

	require.True(t, c.Pause())
	assert.Equal(t, core.StatePaused, c.State())
	paused := cycle.Calls()
	time.Sleep(150 * time.Millisecond)
	assert.LessOrEqual(t, cycle.Calls(), paused+1, "no new cycles start while paused")

	require.True(t, c.Resume())
	assert.Equal(t, core.StateRunning, c.State())
	require.Eventually(t, func() bool { return cycle.Calls() > paused+1 }, time.Second, time.Millisecond)

	c.Stop()
	waitIdle(t, c)
}

func TestControllerStopInsideCycle(t *testing.T) {
	tests := []struct {
		name   string
		stopAt int
		count  int
	}{
		{name: "before the last click the cycle is dropped", stopAt: 3, count: 0},
		{name: "after the last click the cycle counts", stopAt: 5, count: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var c *Controller
			actuator := &fakeActuator{}
			actuator.onClick = func(n int) error {
				if n == tt.stopAt {
					c.Stop()
				}
				return nil
			}
			workflow := workflows.NewSendWorkflow(actuator, stealth.NewPolicyWithJitter(stealth.NewJitterWithSeed(1)), nil)
			c, _ = newTestController(t, workflow, core.SessionConfig{})

			require.NoError(t, c.Start(context.Background(), 1))
			waitIdle(t, c)

			snap := c.Snapshot()
			assert.Equal(t, tt.count, snap.LastSession.Count)
			assert.Zero(t, snap.LastSession.Errors)
			assert.Len(t, actuator.clicks, tt.stopAt)
		})
	}
}

func TestControllerContextCancelStops(t *testing.T) {
	c, _ := newTestController(t, &scriptedCycle{}, core.SessionConfig{LoopDelay: 60})

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, c.Start(ctx, 1))
	cancel()
	waitIdle(t, c)
}

func TestControllerStartValidation(t *testing.T) {
	c, _ := newTestController(t, &scriptedCycle{}, core.SessionConfig{ScheduleDelaySeconds: 60})

	assert.ErrorIs(t, c.Start(context.Background(), 0), core.ErrInvalidRecipientCount)

	require.NoError(t, c.Start(context.Background(), 1))
	assert.ErrorIs(t, c.Start(context.Background(), 1), core.ErrAlreadyRunning)
	c.Stop()
	waitIdle(t, c)

	c.SetPositions(core.Positions{core.StepCamera: {X: 1, Y: 1}})
	err := c.Start(context.Background(), 1)
	assert.ErrorIs(t, err, core.ErrNotConfigured)
	assert.Contains(t, err.Error(), "send_to")
	assert.Equal(t, core.StateIdle, c.State())
}

func TestControllerResetStatistics(t *testing.T) {
	repo := &fakeRepo{}
	c, _ := newTestController(t, &scriptedCycle{}, core.SessionConfig{ScheduleDelaySeconds: 60}, WithRepository(repo))

	require.NoError(t, c.Start(context.Background(), 1))
	assert.ErrorIs(t, c.ResetStatistics(context.Background()), core.ErrSessionActive)
	c.Stop()
	waitIdle(t, c)

	require.NoError(t, c.ResetStatistics(context.Background()))
	assert.Equal(t, 1, repo.resets)
	assert.Nil(t, c.Snapshot().LastSession)
}

func TestControllerLoadStatistics(t *testing.T) {
	repo := &fakeRepo{lifetime: &core.LifetimeStats{ID: 1, LifetimeCount: 40, LongestStreak: 7}}
	c, _ := newTestController(t, &scriptedCycle{}, autoStop(1), WithRepository(repo))

	require.NoError(t, c.LoadStatistics(context.Background()))
	assert.Equal(t, int64(40), c.Snapshot().LifetimeCount)

	require.NoError(t, c.Start(context.Background(), 5))
	waitIdle(t, c)
	assert.Equal(t, int64(45), c.Snapshot().LifetimeCount)
	assert.Equal(t, 7, c.Snapshot().LongestStreak)
}

func TestControllerPersistenceFailureIsReported(t *testing.T) {
	repo := &fakeRepo{saveErr: errors.New("disk full")}
	c, sink := newTestController(t, &scriptedCycle{}, autoStop(1), WithRepository(repo))

	require.NoError(t, c.Start(context.Background(), 1))
	waitIdle(t, c)

	assert.Equal(t, 1, sink.count("failed to save statistics", core.SeverityError))
	assert.Equal(t, 1, c.Snapshot().LastSession.Count, "in-memory statistics are kept")
}

func TestControllerLogsSessionSummary(t *testing.T) {
	obs, logs := observer.New(zap.InfoLevel)
	c, sink := newTestController(t, &scriptedCycle{}, autoStop(2), WithLogger(zap.New(obs)))

	assert.Equal(t, "idle | Total: 0", c.StatusLine())
	require.NoError(t, c.Start(context.Background(), 1))
	waitIdle(t, c)

	finished := logs.FilterMessage("Session finished").All()
	require.Len(t, finished, 1)
	assert.Equal(t, ReasonAutoStop, finished[0].ContextMap()["reason"])
	assert.Equal(t, int64(2), finished[0].ContextMap()["count"])

	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.NotEmpty(t, sink.statuses)
	assert.True(t, strings.HasPrefix(sink.statuses[len(sink.statuses)-1], "idle"))
	assert.Positive(t, sink.changes)
}
