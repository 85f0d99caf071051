package gateway

const (
	CloseCode_Normal = 1000
	// Any non-1000/1001 client close keeps the session resumable.
	CloseCode_Reconnect = 4000

	CloseCode_UnknownError         = 4000
	CloseCode_UnknownOpcode        = 4001
	CloseCode_DecodeError          = 4002
	CloseCode_NotAuthenticated     = 4003
	CloseCode_AuthenticationFailed = 4004
	CloseCode_AlreadyAuthenticated = 4005
	CloseCode_InvalidSeq           = 4007
	CloseCode_RateLimited          = 4008
	CloseCode_SessionTimedOut      = 4009
	CloseCode_InvalidShard         = 4010
	CloseCode_ShardingRequired     = 4011
	CloseCode_InvalidAPIVersion    = 4012
	CloseCode_InvalidIntents       = 4013
	CloseCode_DisallowedIntents    = 4014
)

var closeCodeReasons = map[int]string{
	CloseCode_UnknownError:         "unknown error",
	CloseCode_UnknownOpcode:        "unknown opcode",
	CloseCode_DecodeError:          "decode error",
	CloseCode_NotAuthenticated:     "not authenticated",
	CloseCode_AuthenticationFailed: "authentication failed",
	CloseCode_AlreadyAuthenticated: "already authenticated",
	CloseCode_InvalidSeq:           "invalid seq",
	CloseCode_RateLimited:          "rate limited",
	CloseCode_SessionTimedOut:      "session timed out",
	CloseCode_InvalidShard:         "invalid shard",
	CloseCode_ShardingRequired:     "sharding required",
	CloseCode_InvalidAPIVersion:    "invalid API version",
	CloseCode_InvalidIntents:       "invalid intent(s)",
	CloseCode_DisallowedIntents:    "disallowed intent(s)",
}

func closeCodeReason(code int) string {
	if reason, has := closeCodeReasons[code]; has {
		return reason
	}
	return "unrecognized close code"
}

// Retrying these would fail the same way.
func isAuthCloseCode(code int) bool {
	return code == CloseCode_AuthenticationFailed ||
		(code >= CloseCode_InvalidShard && code <= CloseCode_DisallowedIntents)
}

// The server has dropped the session for these, so the next attempt must identify.
func isSessionEndingCloseCode(code int) bool {
	return code == CloseCode_NotAuthenticated ||
		code == CloseCode_InvalidSeq ||
		code == CloseCode_SessionTimedOut
}
