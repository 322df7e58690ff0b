// Package agent implements the guest-side half of the verification
// handshake per spec.md §4.10: a Verifier contract, a real command
// verifier, platform-stub keyboard/mouse verifiers, and a reconnecting
// Client that discovers its vm_id and drives the event loop.
package agent

import (
	"context"
	"time"
)

// DefaultMatchTimeout is used when an event carries no timeout_ms field.
const DefaultMatchTimeout = 5 * time.Second

// Event mirrors verify.Event's wire shape as the agent's own type rather
// than reusing verify.Event. The package still imports package verify for
// its dial helpers (DialAgent, DialAgentTCP) in client.go.
type Event struct {
	EventType string
	Data      map[string]any
	Timestamp int64
}

// Result mirrors verify.VerifyResult's wire shape. Tags must match
// verify.VerifyResult (verify/events.go) field-for-field: encoding/json's
// case-insensitive key match does not bridge "EventID" to "event_id", so
// without these the server can never find the pending event to complete.
type Result struct {
	EventID   string         `json:"event_id"`
	Verified  bool           `json:"verified"`
	LatencyMs int64          `json:"latency_ms"`
	Detail    map[string]any `json:"detail,omitempty"`
}

// Verifier matches a received Event against the guest's actual input
// state and reports whether it was observed within the event's deadline.
type Verifier interface {
	Verify(ctx context.Context, evt Event) (Result, error)
}

// eventID extracts the event_id injected by the server, per spec.md §4.8.
func eventID(evt Event) string {
	id, _ := evt.Data["event_id"].(string)
	return id
}

// matchTimeout extracts timeout_ms, defaulting per spec.md §4.10.
func matchTimeout(evt Event) time.Duration {
	if ms, ok := evt.Data["timeout_ms"].(float64); ok && ms > 0 {
		return time.Duration(ms) * time.Millisecond
	}
	return DefaultMatchTimeout
}

// Dispatcher routes an Event to the Verifier registered for its EventType.
type Dispatcher struct {
	verifiers map[string]Verifier
}

// NewDispatcher builds a Dispatcher from a event-type → Verifier mapping.
func NewDispatcher(verifiers map[string]Verifier) *Dispatcher {
	return &Dispatcher{verifiers: verifiers}
}

// Dispatch runs the registered Verifier for evt.EventType, stamping
// latency and the originating event_id onto the Result.
func (d *Dispatcher) Dispatch(ctx context.Context, evt Event) Result {
	start := time.Now()
	v, ok := d.verifiers[evt.EventType]
	if !ok {
		return Result{EventID: eventID(evt), Verified: false, Detail: map[string]any{"error": "no verifier registered for event type " + evt.EventType}}
	}

	result, err := v.Verify(ctx, evt)
	result.EventID = eventID(evt)
	result.LatencyMs = time.Since(start).Milliseconds()
	if err != nil {
		if result.Detail == nil {
			result.Detail = map[string]any{}
		}
		result.Detail["error"] = err.Error()
		result.Verified = false
	}
	return result
}
