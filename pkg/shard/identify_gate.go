package shard

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// IdentifyGate spaces identify attempts across every shard of a client. Waiters are
// released first-come first-served, and each release happens at least Interval after
// the previous one actually happened.
type IdentifyGate struct {
	Interval time.Duration

	mut_queue   sync.Mutex
	queue       []*gateTicket
	lastRelease time.Time

	// Called under mut_queue with the recorded release time. Nil outside tests.
	onRelease func(shardID int, at time.Time)

	requested atomic.Int64
	log       *zap.Logger
}

type gateTicket struct {
	shardID int
	turn    chan struct{}
}

func NewIdentifyGate(interval time.Duration, logger *zap.Logger) *IdentifyGate {
	if logger == nil {
		logger = zap.Must(zap.NewDevelopment())
	}

	return &IdentifyGate{
		Interval: interval,
		log:      logger.With(zap.String("component", "IdentifyGate")),
	}
}

// Wait blocks until shardID may identify. A cancelled waiter gives up its place
// without delaying the ones behind it.
func (g *IdentifyGate) Wait(ctx context.Context, shardID int) error {
	if g.Interval <= 0 {
		g.requested.Add(1)
		return nil
	}

	ticket := &gateTicket{shardID: shardID, turn: make(chan struct{})}

	g.mut_queue.Lock()
	g.queue = append(g.queue, ticket)
	position := len(g.queue)
	if position == 1 {
		close(ticket.turn)
	}
	g.mut_queue.Unlock()
	g.requested.Add(1)

	if position > 1 {
		g.log.Debug("Shard waiting for identify slot", zap.Int("shard", shardID), zap.Int("position", position))
	}

	select {
	case <-ticket.turn:
	case <-ctx.Done():
		g.leave(ticket)
		return ctx.Err()
	}

	// Head of the queue. Timers may fire early relative to the wall clock, so the
	// remaining time is recomputed until it has fully elapsed.
	for {
		g.mut_queue.Lock()
		last := g.lastRelease
		g.mut_queue.Unlock()

		if last.IsZero() {
			break
		}
		remaining := time.Until(last.Add(g.Interval))
		if remaining <= 0 {
			break
		}

		timer := time.NewTimer(remaining)
		select {
		case <-ctx.Done():
			timer.Stop()
			g.leave(ticket)
			return ctx.Err()
		case <-timer.C:
		}
	}

	g.mut_queue.Lock()
	g.lastRelease = time.Now()
	if g.onRelease != nil {
		g.onRelease(shardID, g.lastRelease)
	}
	g.removeLocked(ticket)
	g.mut_queue.Unlock()
	return nil
}

func (g *IdentifyGate) leave(ticket *gateTicket) {
	g.mut_queue.Lock()
	defer g.mut_queue.Unlock()
	g.removeLocked(ticket)
}

// removeLocked drops ticket from the queue and hands the turn to the new head if
// ticket was at the front.
func (g *IdentifyGate) removeLocked(ticket *gateTicket) {
	for i, t := range g.queue {
		if t != ticket {
			continue
		}
		g.queue = append(g.queue[:i], g.queue[i+1:]...)
		if i == 0 && len(g.queue) > 0 {
			close(g.queue[0].turn)
		}
		return
	}
}

// Requests is the number of Wait calls that have joined the queue.
func (g *IdentifyGate) Requests() int64 {
	return g.requested.Load()
}
