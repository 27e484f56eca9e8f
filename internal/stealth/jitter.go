package stealth

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// Jitter is a goroutine-safe source of the random values used for timing
// and pointer offsets
type Jitter struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewJitter creates a new Jitter instance seeded from the wall clock
func NewJitter() *Jitter {
	return NewJitterWithSeed(time.Now().UnixNano())
}

// NewJitterWithSeed creates a Jitter with a fixed seed (reproducible sequences)
func NewJitterWithSeed(seed int64) *Jitter {
	return &Jitter{
		rng: rand.New(rand.NewSource(seed)),
	}
}

// RandomInt returns a random integer between min and max (inclusive)
func (j *Jitter) RandomInt(min, max int) int {
	if min > max {
		min, max = max, min
	}
	if min == max {
		return min
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	return min + j.rng.Intn(max-min+1)
}

// RandomFloat returns a random float64 between min and max
func (j *Jitter) RandomFloat(min, max float64) float64 {
	if min > max {
		min, max = max, min
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	return min + j.rng.Float64()*(max-min)
}

// Offset returns two independent draws from [-r, r], one per axis
func (j *Jitter) Offset(r int) (dx, dy int) {
	if r <= 0 {
		return 0, 0
	}
	return j.RandomInt(-r, r), j.RandomInt(-r, r)
}

// RandomSleepRange sleeps for a random duration between min and max seconds.
// Used for sub-second pauses inside a single step; it returns early when ctx
// is cancelled.
func (j *Jitter) RandomSleepRange(ctx context.Context, minSeconds, maxSeconds float64) {
	if minSeconds < 0 {
		minSeconds = 0
	}
	if maxSeconds < minSeconds {
		maxSeconds = minSeconds
	}

	// Add fractional jitter to ensure never exact integer
	randomSeconds := j.RandomFloat(minSeconds, maxSeconds) + j.RandomFloat(0, 0.0001)
	duration := time.Duration(randomSeconds * float64(time.Second))

	timer := time.NewTimer(duration)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
