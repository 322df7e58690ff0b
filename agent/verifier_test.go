package agent

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubVerifier struct {
	result Result
	err    error
}

func (s stubVerifier) Verify(ctx context.Context, evt Event) (Result, error) {
	return s.result, s.err
}

func TestDispatchRoutesToRegisteredVerifier(t *testing.T) {
	d := NewDispatcher(map[string]Verifier{
		"keyboard": stubVerifier{result: Result{Verified: true}},
	})

	r := d.Dispatch(context.Background(), Event{EventType: "keyboard", Data: map[string]any{"event_id": "ev-1"}})
	assert.True(t, r.Verified)
	assert.Equal(t, "ev-1", r.EventID)
}

func TestDispatchReturnsUnverifiedForUnknownEventType(t *testing.T) {
	d := NewDispatcher(map[string]Verifier{})
	r := d.Dispatch(context.Background(), Event{EventType: "mystery", Data: map[string]any{"event_id": "ev-2"}})
	assert.False(t, r.Verified)
	require.NotNil(t, r.Detail)
	assert.Contains(t, r.Detail["error"], "no verifier registered")
}

func TestDispatchStampsErrorIntoDetailAndForcesUnverified(t *testing.T) {
	d := NewDispatcher(map[string]Verifier{
		"keyboard": stubVerifier{result: Result{Verified: true}, err: assertVerifyErr("broken")},
	})

	r := d.Dispatch(context.Background(), Event{EventType: "keyboard", Data: map[string]any{"event_id": "ev-3"}})
	assert.False(t, r.Verified)
	assert.Equal(t, "broken", r.Detail["error"])
}

func TestMatchTimeoutDefaultsWhenMissing(t *testing.T) {
	assert.Equal(t, DefaultMatchTimeout, matchTimeout(Event{Data: map[string]any{}}))
}

func TestMatchTimeoutUsesTimeoutMsField(t *testing.T) {
	d := matchTimeout(Event{Data: map[string]any{"timeout_ms": float64(2000)}})
	assert.Equal(t, 2*time.Second, d)
}

type assertVerifyErr string

func (e assertVerifyErr) Error() string { return string(e) }
