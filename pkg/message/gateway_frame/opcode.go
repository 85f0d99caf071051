package gatewayframe

import "fmt"

type Opcode int

const (
	Opcode_Dispatch            Opcode = 0
	Opcode_Heartbeat           Opcode = 1
	Opcode_Identify            Opcode = 2
	Opcode_PresenceUpdate      Opcode = 3
	Opcode_VoiceStateUpdate    Opcode = 4
	Opcode_Resume              Opcode = 6
	Opcode_Reconnect           Opcode = 7
	Opcode_RequestGuildMembers Opcode = 8
	Opcode_InvalidSession      Opcode = 9
	Opcode_Hello               Opcode = 10
	Opcode_HeartbeatAck        Opcode = 11
)

// Known reports whether op is one of the opcodes this client understands. Unknown
// opcodes are not decode errors; the connection logs and skips them.
func (op Opcode) Known() bool {
	switch op {
	case Opcode_Dispatch, Opcode_Heartbeat, Opcode_Identify, Opcode_PresenceUpdate,
		Opcode_VoiceStateUpdate, Opcode_Resume, Opcode_Reconnect, Opcode_RequestGuildMembers,
		Opcode_InvalidSession, Opcode_Hello, Opcode_HeartbeatAck:
		return true
	}
	return false
}

func (op Opcode) String() string {
	switch op {
	case Opcode_Dispatch:
		return "Dispatch"
	case Opcode_Heartbeat:
		return "Heartbeat"
	case Opcode_Identify:
		return "Identify"
	case Opcode_PresenceUpdate:
		return "PresenceUpdate"
	case Opcode_VoiceStateUpdate:
		return "VoiceStateUpdate"
	case Opcode_Resume:
		return "Resume"
	case Opcode_Reconnect:
		return "Reconnect"
	case Opcode_RequestGuildMembers:
		return "RequestGuildMembers"
	case Opcode_InvalidSession:
		return "InvalidSession"
	case Opcode_Hello:
		return "Hello"
	case Opcode_HeartbeatAck:
		return "HeartbeatAck"
	}
	return fmt.Sprintf("Opcode(%d)", int(op))
}

// Dispatch event names the state machine itself inspects.
const (
	EventName_Ready   = "READY"
	EventName_Resumed = "RESUMED"
)
