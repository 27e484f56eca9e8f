package session

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// DefaultPollInterval bounds how long a wait can go without re-checking the
// stop and pause flags
const DefaultPollInterval = 100 * time.Millisecond

// Token carries the stop and pause requests from the control surface to the
// worker. Every blocking point of the worker waits through it.
type Token struct {
	clock clock.Clock
	poll  time.Duration

	mu      sync.Mutex
	stopped bool
	paused  bool
	stopCh  chan struct{}
	changed chan struct{} // closed and replaced on every pause/resume
}

// NewToken creates a token. A non-positive poll uses DefaultPollInterval.
func NewToken(clk clock.Clock, poll time.Duration) *Token {
	if clk == nil {
		clk = clock.New()
	}
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	return &Token{
		clock:   clk,
		poll:    poll,
		stopCh:  make(chan struct{}),
		changed: make(chan struct{}),
	}
}

// Stop requests the worker to finish. Only the first call has an effect.
func (t *Token) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return false
	}
	t.stopped = true
	close(t.stopCh)
	return true
}

// Pause suspends waits until Resume or Stop
func (t *Token) Pause() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped || t.paused {
		return false
	}
	t.paused = true
	t.notify()
	return true
}

// Resume lets suspended waits continue
func (t *Token) Resume() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.paused {
		return false
	}
	t.paused = false
	t.notify()
	return true
}

// Stopped reports whether Stop has been called
func (t *Token) Stopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

// Paused reports whether the token is paused
func (t *Token) Paused() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.paused
}

// Done is closed once Stop has been called
func (t *Token) Done() <-chan struct{} {
	return t.stopCh
}

// Hold blocks while the token is paused, re-checking every poll interval.
// It returns false if a stop was requested.
func (t *Token) Hold() bool {
	for {
		paused, changed, stopped := t.watch()
		if stopped {
			return false
		}
		if !paused {
			return true
		}
		t.idle(changed)
	}
}

// Wait blocks for d and returns true, or returns false as soon as a stop is
// observed. Time spent paused does not count towards d.
func (t *Token) Wait(d time.Duration) bool {
	remaining := d
	for {
		paused, changed, stopped := t.watch()
		if stopped {
			return false
		}
		if paused {
			t.idle(changed)
			continue
		}
		if remaining <= 0 {
			return true
		}

		slice := remaining
		if slice > t.poll {
			slice = t.poll
		}
		start := t.clock.Now()
		timer := t.clock.Timer(slice)
		select {
		case <-t.stopCh:
			timer.Stop()
			return false
		case <-changed:
			timer.Stop()
			remaining -= t.clock.Since(start)
		case <-timer.C:
			remaining -= t.clock.Since(start)
		}
	}
}

// idle sleeps one poll slice unless the pause state changes or a stop arrives
func (t *Token) idle(changed <-chan struct{}) {
	timer := t.clock.Timer(t.poll)
	defer timer.Stop()
	select {
	case <-t.stopCh:
	case <-changed:
	case <-timer.C:
	}
}

func (t *Token) watch() (paused bool, changed <-chan struct{}, stopped bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.paused, t.changed, t.stopped
}

// notify must be called with t.mu held
func (t *Token) notify() {
	close(t.changed)
	t.changed = make(chan struct{})
}
