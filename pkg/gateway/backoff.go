package gateway

import (
	"time"

	utils "github.com/sessamekesh/shardwire/pkg/util"
)

// backoff is owned by a single connection goroutine and is not safe for
// concurrent use.
type backoff struct {
	base    time.Duration
	max     time.Duration
	attempt int
	random  *utils.RandomSource
}

func newBackoff(base, max time.Duration, random *utils.RandomSource) *backoff {
	if max < base {
		max = base
	}
	return &backoff{
		base:   base,
		max:    max,
		random: random,
	}
}

// Next returns a delay in [d/2, d) where d = base*2^attempt capped at max.
func (b *backoff) Next() time.Duration {
	d := b.max
	if b.attempt < 32 {
		if scaled := b.base << b.attempt; scaled > 0 && scaled < b.max {
			d = scaled
		}
	}
	b.attempt++

	half := d / 2
	return half + b.random.Jitter(d-half)
}

func (b *backoff) Reset() {
	b.attempt = 0
}
