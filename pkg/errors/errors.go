package errors

import (
	"fmt"
	"time"
)

// TransportError is a socket-level failure. It always sends the connection back
// through Reconnecting.
type TransportError struct {
	Op        string
	CloseCode int
	Err       error
}

func (e *TransportError) Error() string {
	if e.CloseCode != 0 {
		return fmt.Sprintf("Transport error during %s (close code %d): %v", e.Op, e.CloseCode, e.Err)
	}
	return fmt.Sprintf("Transport error during %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

type DecodeErrorKind uint8

const (
	DecodeErrorKind_Malformed DecodeErrorKind = iota
	DecodeErrorKind_Corrupt
)

func (k DecodeErrorKind) String() string {
	switch k {
	case DecodeErrorKind_Corrupt:
		return "corrupt"
	case DecodeErrorKind_Malformed:
		return "malformed"
	}
	return "unknown"
}

// DecodeError is fatal to the socket that produced it. The next socket starts with
// a fresh decompression context.
type DecodeError struct {
	Kind DecodeErrorKind
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("Gateway frame decode failed (%s): %v", e.Kind, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// AuthError means the gateway rejected the identify. The shard is not retried.
type AuthError struct {
	CloseCode int
	Reason    string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("Gateway rejected identify (close code %d): %s", e.CloseCode, e.Reason)
}

type SessionInvalidated struct {
	Resumable bool
}

func (e *SessionInvalidated) Error() string {
	return fmt.Sprintf("Gateway invalidated session (resumable=%t)", e.Resumable)
}

type ReconnectRequested struct{}

func (e *ReconnectRequested) Error() string {
	return "Gateway requested reconnect"
}

type ZombieConnection struct {
	Interval time.Duration
}

func (e *ZombieConnection) Error() string {
	return fmt.Sprintf("No heartbeat ack received within %s, connection is zombied", e.Interval)
}

// HandlerError wraps a failure raised by user handler code. It is logged and never
// escalated to the connection.
type HandlerError struct {
	Category string
	Index    int
	Err      error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("Handler %d for category %s failed: %v", e.Index, e.Category, e.Err)
}

func (e *HandlerError) Unwrap() error {
	return e.Err
}

type ReconnectExhausted struct {
	ShardID  int
	Attempts int
	LastErr  error
}

func (e *ReconnectExhausted) Error() string {
	return fmt.Sprintf("Shard %d gave up after %d consecutive reconnect attempts: %v", e.ShardID, e.Attempts, e.LastErr)
}

func (e *ReconnectExhausted) Unwrap() error {
	return e.LastErr
}

type NotConnected struct {
	ShardID int
	State   string
}

func (e *NotConnected) Error() string {
	return fmt.Sprintf("Shard %d is not connected (state=%s)", e.ShardID, e.State)
}

type MissingFieldError struct {
	MessageName string
	FieldName   string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("Missing field %s in message type %s", e.FieldName, e.MessageName)
}

type NameCollision struct {
	CollisionContext string
	Name             string
}

func (e *NameCollision) Error() string {
	return fmt.Sprintf("Name collision for name '%s' in context '%s'", e.Name, e.CollisionContext)
}

// ShardCrashed is reported when a shard's goroutine panicked and was recovered.
type ShardCrashed struct {
	ShardID int
	Panic   any
}

func (e *ShardCrashed) Error() string {
	return fmt.Sprintf("Shard %d crashed: %v", e.ShardID, e.Panic)
}
