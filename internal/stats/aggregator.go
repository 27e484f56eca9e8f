// Package stats keeps the session and lifetime counters of the send loop.
//
// The session worker is the only writer while a session runs; any goroutine
// may read through Snapshot, which returns a copy taken under a read lock.
package stats

import (
	"sync"
	"time"

	"snap-automation/internal/core"
)

// Aggregator holds session-scoped and lifetime-scoped counters
type Aggregator struct {
	mu   sync.RWMutex
	snap core.StatisticsSnapshot
}

// NewAggregator returns an empty aggregator
func NewAggregator() *Aggregator {
	return &Aggregator{}
}

// Restore seeds the lifetime values from persisted statistics
func (a *Aggregator) Restore(lifetime *core.LifetimeStats) {
	if lifetime == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	a.snap.LifetimeCount = lifetime.LifetimeCount
	a.snap.LongestStreak = lifetime.LongestStreak
	if !lifetime.LastSessionAt.IsZero() {
		a.snap.LastSession = &core.SessionSummary{
			Count:     lifetime.LastSessionCount,
			Duration:  time.Duration(lifetime.LastSessionDuration) * time.Second,
			Timestamp: lifetime.LastSessionAt,
		}
	}
}

// StartSession clears the session counters and marks a session active
func (a *Aggregator) StartSession(now time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.snap.SessionActive = true
	a.snap.SessionCount = 0
	a.snap.SessionErrorCount = 0
	a.snap.CurrentStreak = 0
	a.snap.CooldownStreak = 0
	a.snap.SessionStartTime = now
}

// RecordSuccess counts one successful cycle. The lifetime count grows by
// weight (the number of recipients reached by the cycle).
func (a *Aggregator) RecordSuccess(weight int) core.StatisticsSnapshot {
	if weight < 0 {
		weight = 0
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	a.snap.SessionCount++
	a.snap.LifetimeCount += int64(weight)
	a.snap.CurrentStreak++
	a.snap.CooldownStreak++
	if a.snap.CurrentStreak > a.snap.LongestStreak {
		a.snap.LongestStreak = a.snap.CurrentStreak
	}
	return a.snap
}

// RecordFailure counts one aborted cycle and breaks the streak
func (a *Aggregator) RecordFailure() core.StatisticsSnapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.snap.SessionErrorCount++
	a.snap.CurrentStreak = 0
	a.snap.CooldownStreak = 0
	return a.snap
}

// CompleteCooldown restarts the count towards the next cooldown
func (a *Aggregator) CompleteCooldown() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.snap.CooldownStreak = 0
}

// EndSession writes the last-session summary and marks the session finished
func (a *Aggregator) EndSession(now time.Time, reason string) core.StatisticsSnapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.snap.SessionActive {
		return a.snap
	}
	a.snap.SessionActive = false
	a.snap.LastSession = &core.SessionSummary{
		Count:     a.snap.SessionCount,
		Errors:    a.snap.SessionErrorCount,
		Duration:  now.Sub(a.snap.SessionStartTime),
		Timestamp: now,
		Reason:    reason,
	}
	return a.snap
}

// Reset clears every counter, lifetime ones included. It is refused while a
// session is active.
func (a *Aggregator) Reset() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.snap.SessionActive {
		return core.ErrSessionActive
	}
	a.snap = core.StatisticsSnapshot{}
	return nil
}

// Snapshot returns a consistent copy of all counters
func (a *Aggregator) Snapshot() core.StatisticsSnapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.snap
}

// Lifetime converts the current counters into the persisted lifetime row
func (a *Aggregator) Lifetime() *core.LifetimeStats {
	a.mu.RLock()
	defer a.mu.RUnlock()

	lifetime := &core.LifetimeStats{
		ID:            1,
		LifetimeCount: a.snap.LifetimeCount,
		LongestStreak: a.snap.LongestStreak,
	}
	if last := a.snap.LastSession; last != nil {
		lifetime.LastSessionAt = last.Timestamp
		lifetime.LastSessionCount = last.Count
		lifetime.LastSessionDuration = int64(last.Duration.Seconds())
	}
	return lifetime
}
