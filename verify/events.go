// Package verify implements the UUID-tagged stimulus/verification handshake
// between the runner and per-VM guest agents, per spec.md §4.8/§4.9: a
// pending-events map, a client-session registry, and WS/TCP transports
// carrying JSON-framed Event/VerifyResult pairs.
package verify

import (
	"encoding/json"
	"time"
)

// EventType names the stimulus kind a guest verifier must match against.
type EventType string

const (
	EventKeyboard EventType = "keyboard"
	EventMouse    EventType = "mouse"
	EventCommand  EventType = "command"
)

// Event is the JSON payload pushed out to a guest agent, per spec.md §6.6.
// Service.VerifyEvent injects an "event_id" entry into Data, which MUST
// survive serialization verbatim — callers never set it themselves.
type Event struct {
	EventType EventType      `json:"event_type"`
	Data      map[string]any `json:"data"`
	Timestamp int64          `json:"timestamp"`
}

// eventID pulls the injected event_id back out of Data for bookkeeping.
func (e Event) eventID() string {
	id, _ := e.Data["event_id"].(string)
	return id
}

// VerifyResult is the JSON payload a guest agent sends back, per spec.md
// §6.6. EventID must echo the originating Event's event_id verbatim.
type VerifyResult struct {
	EventID   string         `json:"event_id"`
	Verified  bool           `json:"verified"`
	LatencyMs int64          `json:"latency_ms"`
	Detail    map[string]any `json:"detail,omitempty"`
}

// marshalEvent is split out so both transports serialize identically.
func marshalEvent(e Event) ([]byte, error) { return json.Marshal(e) }

func unmarshalResult(wire []byte) (VerifyResult, error) {
	var r VerifyResult
	err := json.Unmarshal(wire, &r)
	return r, err
}

// newTimestamp returns the current time in Unix milliseconds.
func newTimestamp() int64 { return time.Now().UnixMilli() }
