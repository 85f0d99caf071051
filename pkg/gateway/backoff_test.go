package gateway

import (
	"testing"
	"time"

	utils "github.com/sessamekesh/shardwire/pkg/util"
	"github.com/stretchr/testify/assert"
)

func TestBackoffGrowsAndCaps(t *testing.T) {
	b := newBackoff(100*time.Millisecond, time.Second, utils.CreateRandomSource(7))

	ceilings := []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		800 * time.Millisecond,
		time.Second,
		time.Second,
	}
	for i, ceiling := range ceilings {
		d := b.Next()
		assert.GreaterOrEqual(t, d, ceiling/2, "attempt %d", i)
		assert.Less(t, d, ceiling, "attempt %d", i)
	}
}

func TestBackoffReset(t *testing.T) {
	b := newBackoff(100*time.Millisecond, time.Second, utils.CreateRandomSource(7))
	for i := 0; i < 10; i++ {
		b.Next()
	}

	b.Reset()
	d := b.Next()
	assert.GreaterOrEqual(t, d, 50*time.Millisecond)
	assert.Less(t, d, 100*time.Millisecond)
}

func TestBackoffNeverOverflows(t *testing.T) {
	b := newBackoff(time.Second, time.Minute, utils.CreateRandomSource(7))
	for i := 0; i < 100; i++ {
		d := b.Next()
		assert.Greater(t, d, time.Duration(0))
		assert.Less(t, d, time.Minute)
	}
}
