package gateway

import (
	"fmt"

	gatewayframe "github.com/sessamekesh/shardwire/pkg/message/gateway_frame"
)

type State int32

const (
	State_Disconnected State = iota
	State_Connecting
	State_AwaitingHello
	State_Identifying
	State_Resuming
	State_Ready
	State_Connected
	State_Reconnecting
	State_Closed
)

func (s State) String() string {
	switch s {
	case State_Disconnected:
		return "Disconnected"
	case State_Connecting:
		return "Connecting"
	case State_AwaitingHello:
		return "AwaitingHello"
	case State_Identifying:
		return "Identifying"
	case State_Resuming:
		return "Resuming"
	case State_Ready:
		return "Ready"
	case State_Connected:
		return "Connected"
	case State_Reconnecting:
		return "Reconnecting"
	case State_Closed:
		return "Closed"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// Session is what a shard needs to resume. Sequence is the last sequence number
// handed to the dispatcher, not merely received.
type Session struct {
	ID         string
	ResumeURL  string
	Sequence   int64
	ShardID    int
	ShardCount int
	Intents    gatewayframe.Intents
}
