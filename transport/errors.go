package transport

import "errors"

// ConnectFailedError wraps the failure of an initial connect attempt.
type ConnectFailedError struct {
	Code    string
	Message string
}

func (e *ConnectFailedError) Error() string {
	return "connect failed [" + e.Code + "]: " + e.Message
}

// ErrExhaustedRetries is returned once a BackoffPolicy's MaxAttempts is used
// up without a successful reconnect.
var ErrExhaustedRetries = errors.New("transport: exhausted reconnect attempts")

// ErrNoHealthyConnection is returned by a pool's Acquire when no Connected
// connection is available within connect_timeout.
var ErrNoHealthyConnection = errors.New("transport: no healthy connection available")

// ErrPoolClosed is returned by Acquire/WithSession after the pool has shut
// down its management task.
var ErrPoolClosed = errors.New("transport: pool closed")

// ErrUnknownHost is returned by Manager operations for an unregistered host.
var ErrUnknownHost = errors.New("transport: unknown host")
