package handlers

import (
	"context"
	"sync"

	jsoniter "github.com/json-iterator/go"
	gatewayframe "github.com/sessamekesh/shardwire/pkg/message/gateway_frame"
	"github.com/sessamekesh/shardwire/pkg/rest"
	"go.uber.org/zap"
)

type sentMessage struct {
	channelID string
	content   string
}

type recordingRest struct {
	mut  sync.Mutex
	sent []sentMessage
}

func (r *recordingRest) SendMessage(ctx context.Context, channelID, content string) (*rest.Message, error) {
	r.mut.Lock()
	defer r.mut.Unlock()
	r.sent = append(r.sent, sentMessage{channelID: channelID, content: content})
	return &rest.Message{ID: "reply", ChannelID: channelID, Content: content}, nil
}

func (r *recordingRest) messages() []sentMessage {
	r.mut.Lock()
	defer r.mut.Unlock()
	return append([]sentMessage(nil), r.sent...)
}

func testContext(r rest.Client) *Context {
	return &Context{ShardID: 0, ShardCount: 1, Rest: r, Logger: zap.NewNop()}
}

func dispatchEvent(name string, seq int64, data any) gatewayframe.DispatchEvent {
	raw, err := jsoniter.Marshal(data)
	if err != nil {
		panic(err)
	}
	return gatewayframe.DispatchEvent{Name: name, Seq: seq, Data: raw}
}

func messageCreate(seq int64, content string, bot bool) gatewayframe.DispatchEvent {
	return dispatchEvent(string(Category_MessageCreate), seq, map[string]any{
		"id":         "m1",
		"channel_id": "c1",
		"content":    content,
		"author":     map[string]any{"id": "u1", "username": "someone", "bot": bot},
	})
}
