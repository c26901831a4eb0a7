package clock

import (
	"math/rand"
	"sync"
)

// Jitter is an injectable, concurrency-safe source of uniform randomness in
// [-1.0, 1.0], used to compute retry-delay and scheduler-poll jitter
// deterministically under test.
type Jitter struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

// NewJitter wraps a seeded *rand.Rand. Use a fixed seed in tests for
// reproducible delays.
func NewJitter(seed int64) *Jitter {
	return &Jitter{rnd: rand.New(rand.NewSource(seed))}
}

// Signed returns a uniform value in [-1.0, 1.0).
func (j *Jitter) Signed() float64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.rnd.Float64()*2 - 1
}

// Unit returns a uniform value in [0.0, 1.0).
func (j *Jitter) Unit() float64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.rnd.Float64()
}
