package utils

import (
	"math/rand"
	"sync"
	"time"
)

// RandomSource is a mutex-guarded rand.Rand shared by every shard for backoff and
// heartbeat jitter. rand.Rand on its own is not safe for concurrent use.
type RandomSource struct {
	mut sync.Mutex
	gen *rand.Rand
}

func CreateRandomSource(seed int64) *RandomSource {
	return &RandomSource{
		mut: sync.Mutex{},
		gen: rand.New(rand.NewSource(seed)),
	}
}

// Float64 returns a value in [0.0, 1.0).
func (g *RandomSource) Float64() float64 {
	g.mut.Lock()
	defer g.mut.Unlock()
	return g.gen.Float64()
}

// Jitter returns a random duration in [0, d).
func (g *RandomSource) Jitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	g.mut.Lock()
	defer g.mut.Unlock()
	return time.Duration(g.gen.Int63n(int64(d)))
}

// Between returns a random duration in [lo, hi).
func (g *RandomSource) Between(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	return lo + g.Jitter(hi-lo)
}
