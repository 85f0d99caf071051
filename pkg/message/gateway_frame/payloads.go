package gatewayframe

import (
	"fmt"

	"github.com/sessamekesh/shardwire/pkg/errors"
)

type Hello struct {
	HeartbeatInterval int64 `json:"heartbeat_interval"`
}

type ReadyUser struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Bot      bool   `json:"bot"`
}

type Ready struct {
	Version          int       `json:"v"`
	User             ReadyUser `json:"user"`
	SessionID        string    `json:"session_id"`
	ResumeGatewayURL string    `json:"resume_gateway_url"`
	Shard            []int     `json:"shard,omitempty"`
}

type IdentifyProperties struct {
	OS      string `json:"os"`
	Browser string `json:"browser"`
	Device  string `json:"device"`
}

type Identify struct {
	Token          string             `json:"token"`
	Intents        Intents            `json:"intents"`
	Properties     IdentifyProperties `json:"properties"`
	Compress       bool               `json:"compress,omitempty"`
	LargeThreshold int                `json:"large_threshold,omitempty"`
	Shard          [2]int             `json:"shard"`
	Presence       *PresenceUpdate    `json:"presence,omitempty"`
}

type Resume struct {
	Token     string `json:"token"`
	SessionID string `json:"session_id"`
	Seq       int64  `json:"seq"`
}

type ActivityType int

const (
	ActivityType_Game ActivityType = iota
	ActivityType_Streaming
	ActivityType_Listening
	ActivityType_Watching
	ActivityType_Custom
	ActivityType_Competing
)

// Activity is the subset bot users may set.
type Activity struct {
	Name  string       `json:"name"`
	Type  ActivityType `json:"type"`
	URL   string       `json:"url,omitempty"`
	State string       `json:"state,omitempty"`
}

type PresenceUpdate struct {
	// Unix millis of when the client went idle, nil if not idle.
	Since      *int64     `json:"since"`
	Activities []Activity `json:"activities"`
	Status     string     `json:"status"`
	AFK        bool       `json:"afk"`
}

func HeartbeatFrame(lastSeq int64) Frame {
	if lastSeq <= 0 {
		return Frame{Op: Opcode_Heartbeat, Data: nil}
	}
	return Frame{Op: Opcode_Heartbeat, Data: lastSeq}
}

func IdentifyFrame(identify Identify) Frame {
	return Frame{Op: Opcode_Identify, Data: identify}
}

func ResumeFrame(resume Resume) Frame {
	return Frame{Op: Opcode_Resume, Data: resume}
}

func PresenceFrame(presence PresenceUpdate) Frame {
	if presence.Activities == nil {
		presence.Activities = []Activity{}
	}
	return Frame{Op: Opcode_PresenceUpdate, Data: presence}
}

func DecodeHello(env *Envelope) (*Hello, error) {
	hello := &Hello{}
	if err := json.Unmarshal(env.Data, hello); err != nil {
		return nil, &errors.DecodeError{Kind: errors.DecodeErrorKind_Malformed, Err: fmt.Errorf("hello payload: %w", err)}
	}
	if hello.HeartbeatInterval <= 0 {
		return nil, &errors.MissingFieldError{MessageName: "Hello", FieldName: "heartbeat_interval"}
	}
	return hello, nil
}

func DecodeReady(env *Envelope) (*Ready, error) {
	ready := &Ready{}
	if err := json.Unmarshal(env.Data, ready); err != nil {
		return nil, &errors.DecodeError{Kind: errors.DecodeErrorKind_Malformed, Err: fmt.Errorf("ready payload: %w", err)}
	}
	if ready.SessionID == "" {
		return nil, &errors.MissingFieldError{MessageName: "Ready", FieldName: "session_id"}
	}
	return ready, nil
}

// DecodeInvalidSession returns the resumable flag. A missing or non-bool payload is
// treated as not resumable.
func DecodeInvalidSession(env *Envelope) bool {
	var resumable bool
	if err := json.Unmarshal(env.Data, &resumable); err != nil {
		return false
	}
	return resumable
}
