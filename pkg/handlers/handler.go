package handlers

import (
	"context"

	"github.com/sessamekesh/shardwire/pkg/rest"
	"go.uber.org/zap"
)

// Context is read-only support handed to every handler invocation.
type Context struct {
	ShardID    int
	ShardCount int
	Rest       rest.Client
	Logger     *zap.Logger
}

type Handler interface {
	HandleEvent(ctx context.Context, hctx *Context, event *Event) error
}

type HandlerFunc func(ctx context.Context, hctx *Context, event *Event) error

func (f HandlerFunc) HandleEvent(ctx context.Context, hctx *Context, event *Event) error {
	return f(ctx, hctx, event)
}

type MessageCreateHandler interface {
	OnMessageCreate(ctx context.Context, hctx *Context, msg *ChannelMessage) error
}

type MessageUpdateHandler interface {
	OnMessageUpdate(ctx context.Context, hctx *Context, msg *ChannelMessage) error
}

type MessageDeleteHandler interface {
	OnMessageDelete(ctx context.Context, hctx *Context, deleted *MessageDelete) error
}

// capabilityAdapter lets a typed handler sit in the registry while still being
// found by Unregister with the original value.
type capabilityAdapter struct {
	source any
	invoke func(ctx context.Context, hctx *Context, event *Event) error
}

func (a *capabilityAdapter) HandleEvent(ctx context.Context, hctx *Context, event *Event) error {
	return a.invoke(ctx, hctx, event)
}

func adaptMessageCreate(h MessageCreateHandler) Handler {
	return &capabilityAdapter{
		source: h,
		invoke: func(ctx context.Context, hctx *Context, event *Event) error {
			msg, ok := event.Payload.(*ChannelMessage)
			if !ok {
				return nil
			}
			return h.OnMessageCreate(ctx, hctx, msg)
		},
	}
}

func adaptMessageUpdate(h MessageUpdateHandler) Handler {
	return &capabilityAdapter{
		source: h,
		invoke: func(ctx context.Context, hctx *Context, event *Event) error {
			msg, ok := event.Payload.(*ChannelMessage)
			if !ok {
				return nil
			}
			return h.OnMessageUpdate(ctx, hctx, msg)
		},
	}
}

func adaptMessageDelete(h MessageDeleteHandler) Handler {
	return &capabilityAdapter{
		source: h,
		invoke: func(ctx context.Context, hctx *Context, event *Event) error {
			deleted, ok := event.Payload.(*MessageDelete)
			if !ok {
				return nil
			}
			return h.OnMessageDelete(ctx, hctx, deleted)
		},
	}
}

func handlerSource(h Handler) any {
	if a, ok := h.(*capabilityAdapter); ok {
		return a.source
	}
	return h
}

// sameHandler compares handler identities. Non-comparable values such as
// HandlerFunc never match.
func sameHandler(a, b any) (same bool) {
	defer func() {
		if recover() != nil {
			same = false
		}
	}()
	return a == b
}
