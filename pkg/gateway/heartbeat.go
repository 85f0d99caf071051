package gateway

import (
	"sync"
	"time"

	utils "github.com/sessamekesh/shardwire/pkg/util"
)

// heartbeater ticks once per interval on its own goroutine. The first tick is
// delayed by a random fraction of the interval so shards started together spread out.
// Ticks are delivered on a one-slot channel; a tick the loop has not consumed yet
// absorbs later ones.
type heartbeater struct {
	C <-chan time.Time

	interval time.Duration
	ticks    chan time.Time
	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func startHeartbeater(interval time.Duration, random *utils.RandomSource) *heartbeater {
	ticks := make(chan time.Time, 1)
	h := &heartbeater{
		C:        ticks,
		interval: interval,
		ticks:    ticks,
		stop:     make(chan struct{}),
	}

	first := time.Duration(float64(interval) * random.Float64())

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		h.run(first)
	}()

	return h
}

func (h *heartbeater) run(first time.Duration) {
	timer := time.NewTimer(first)
	defer timer.Stop()

	select {
	case <-h.stop:
		return
	case t := <-timer.C:
		h.deliver(t)
	}

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-h.stop:
			return
		case t := <-ticker.C:
			h.deliver(t)
		}
	}
}

func (h *heartbeater) deliver(t time.Time) {
	select {
	case h.ticks <- t:
	default:
	}
}

func (h *heartbeater) Stop() {
	h.stopOnce.Do(func() {
		close(h.stop)
	})
	h.wg.Wait()
}
