package handlers

import (
	"context"
	"fmt"
	"sync"

	"github.com/sessamekesh/shardwire/pkg/errors"
	gatewayframe "github.com/sessamekesh/shardwire/pkg/message/gateway_frame"
	"github.com/sessamekesh/shardwire/pkg/rest"
	"go.uber.org/zap"
)

type DispatcherClosed struct{}

func (e *DispatcherClosed) Error() string {
	return "Dispatcher is closed and accepts no new events"
}

type DispatcherParams struct {
	Registry   *Registry
	Rest       rest.Client
	ShardCount int

	Logger *zap.Logger
}

type Dispatcher struct {
	registry   *Registry
	rest       rest.Client
	shardCount int
	log        *zap.Logger

	mut_closed sync.RWMutex
	closed     bool
	inflight   sync.WaitGroup
}

func NewDispatcher(params DispatcherParams) *Dispatcher {
	logger := params.Logger
	if logger == nil {
		logger = zap.Must(zap.NewDevelopment())
	}

	registry := params.Registry
	if registry == nil {
		registry = NewRegistry()
	}

	return &Dispatcher{
		registry:   registry,
		rest:       params.Rest,
		shardCount: params.ShardCount,
		log:        logger.With(zap.String("component", "Dispatcher")),
	}
}

func (d *Dispatcher) Registry() *Registry {
	return d.registry
}

// Dispatch runs every handler registered for the event's category, then every
// Category_All handler, in registration order. Handler failures are logged and
// never returned; the only error is *DispatcherClosed.
func (d *Dispatcher) Dispatch(ctx context.Context, shardID int, ev gatewayframe.DispatchEvent) error {
	d.mut_closed.RLock()
	if d.closed {
		d.mut_closed.RUnlock()
		return &DispatcherClosed{}
	}
	d.inflight.Add(1)
	d.mut_closed.RUnlock()
	defer d.inflight.Done()

	snap := d.registry.snapshot()
	category := Category(ev.Name)
	specific := snap.handlers(category)
	all := snap.handlers(Category_All)
	if len(specific) == 0 && len(all) == 0 {
		return nil
	}

	log := d.log.With(zap.Int("shard", shardID), zap.String("event", ev.Name), zap.Int64("seq", ev.Seq))

	event, err := decodeEvent(shardID, ev)
	if err != nil {
		log.Warn("Dropping dispatch with undecodable payload", zap.Error(err))
		return nil
	}

	hctx := &Context{
		ShardID:    shardID,
		ShardCount: d.shardCount,
		Rest:       d.rest,
		Logger:     log,
	}

	for i, reg := range specific {
		d.invoke(ctx, hctx, event, category, i, reg)
	}
	for i, reg := range all {
		d.invoke(ctx, hctx, event, Category_All, i, reg)
	}
	return nil
}

func (d *Dispatcher) invoke(ctx context.Context, hctx *Context, event *Event, category Category, index int, reg registration) {
	if err := safeHandleEvent(ctx, hctx, event, reg.handler); err != nil {
		hctx.Logger.Error("Event handler failed",
			zap.String("registration", reg.id.String()),
			zap.Error(&errors.HandlerError{Category: string(category), Index: index, Err: err}))
	}
}

func safeHandleEvent(ctx context.Context, hctx *Context, event *Event, h Handler) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return h.HandleEvent(ctx, hctx, event)
}

// Close rejects new dispatches and waits for in-flight ones to finish.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mut_closed.Lock()
	d.closed = true
	d.mut_closed.Unlock()

	done := make(chan struct{})
	go func() {
		d.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
