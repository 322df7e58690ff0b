package verify

import "errors"

var (
	// ErrClientNotConnected is returned by VerifyEvent when no session is
	// registered for the target vm_id, or the session is Disconnected.
	ErrClientNotConnected = errors.New("verify: client not connected")
	// ErrOverloaded is returned when the pending-events map is at capacity.
	ErrOverloaded = errors.New("verify: too many pending events")
	// ErrTimeout is returned when no matching VerifyResult arrives before
	// the event's deadline.
	ErrTimeout = errors.New("verify: timed out waiting for verification")
	// ErrServiceClosed is returned by VerifyEvent after Service.Close.
	ErrServiceClosed = errors.New("verify: service closed")
)
