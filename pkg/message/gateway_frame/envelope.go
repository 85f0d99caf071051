package gatewayframe

import (
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Envelope is one decoded gateway frame. Seq and Type are only meaningful for
// Opcode_Dispatch.
type Envelope struct {
	Op   Opcode
	Seq  int64
	Type string
	Data jsoniter.RawMessage
}

type wireEnvelope struct {
	Op   *Opcode             `json:"op"`
	Data jsoniter.RawMessage `json:"d"`
	Seq  *int64              `json:"s"`
	Type *string             `json:"t"`
}

// Frame is an outbound control frame.
type Frame struct {
	Op   Opcode `json:"op"`
	Data any    `json:"d"`
}

// DispatchEvent is the immutable value handed from a shard to the dispatcher.
type DispatchEvent struct {
	Name string
	Seq  int64
	Data jsoniter.RawMessage
}

func (e *Envelope) DispatchEvent() DispatchEvent {
	return DispatchEvent{
		Name: e.Type,
		Seq:  e.Seq,
		Data: e.Data,
	}
}
