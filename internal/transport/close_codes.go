package transport

import "errors"

// Custom WebSocket close codes used by the hub's transport. Standard codes (1000, 1001) are defined by RFC 6455; the
// 4000 range is reserved for application use.
const (
	CloseUnknownError   = 4000
	CloseDecodeError    = 4002
	CloseRateLimited    = 4008
	CloseSessionTimeout = 4009
	CloseMaxConnections = 4010
)

// Sentinel errors for transport failure modes. Each maps to a close code above.
var (
	ErrDecodeError    = errors.New("payload decode error")
	ErrRateLimited    = errors.New("rate limit exceeded")
	ErrSessionTimeout = errors.New("session timed out without a heartbeat")
	ErrMaxConnections = errors.New("maximum connections reached")
)
