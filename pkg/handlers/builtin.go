package handlers

import (
	"context"
	"strings"

	"go.uber.org/zap"
)

const PongReply = "Pong! 🏓"

// EchoHandler replies to every non-bot message with "Echo: <content>".
type EchoHandler struct{}

func (EchoHandler) OnMessageCreate(ctx context.Context, hctx *Context, msg *ChannelMessage) error {
	if msg.Author.Bot || hctx.Rest == nil {
		return nil
	}

	hctx.Logger.Debug("Echoing message", zap.String("author", msg.Author.Username))
	_, err := hctx.Rest.SendMessage(ctx, msg.ChannelID, "Echo: "+msg.Content)
	return err
}

// PingPongHandler answers any non-bot message mentioning "ping".
type PingPongHandler struct{}

func (PingPongHandler) OnMessageCreate(ctx context.Context, hctx *Context, msg *ChannelMessage) error {
	if msg.Author.Bot || hctx.Rest == nil {
		return nil
	}
	if !strings.Contains(strings.ToLower(msg.Content), "ping") {
		return nil
	}

	_, err := hctx.Rest.SendMessage(ctx, msg.ChannelID, PongReply)
	return err
}
