package verify

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifyEventRejectsUnknownClient(t *testing.T) {
	s := NewService()
	defer s.Close()

	_, err := s.VerifyEvent(context.Background(), "vm-1", EventKeyboard, nil, time.Second)
	assert.ErrorIs(t, err, ErrClientNotConnected)
}

func TestVerifyEventDeliversAndCompletesOnResult(t *testing.T) {
	s := NewService()
	defer s.Close()

	cs := s.RegisterClient("vm-1")

	done := make(chan VerifyResult, 1)
	go func() {
		r, err := s.VerifyEvent(context.Background(), "vm-1", EventKeyboard, map[string]any{"key": "a"}, time.Second)
		require.NoError(t, err)
		done <- r
	}()

	var evt Event
	select {
	case evt = <-cs.Outbox():
	case <-time.After(time.Second):
		t.Fatal("event never delivered to outbox")
	}

	eventID := evt.eventID()
	require.NotEmpty(t, eventID)

	s.ResultIngested(VerifyResult{EventID: eventID, Verified: true, LatencyMs: 12})

	select {
	case r := <-done:
		assert.True(t, r.Verified)
		assert.Equal(t, int64(12), r.LatencyMs)
	case <-time.After(time.Second):
		t.Fatal("VerifyEvent never returned")
	}
}

func TestVerifyEventTimesOutWithoutResult(t *testing.T) {
	s := NewService()
	defer s.Close()
	s.RegisterClient("vm-1")

	_, err := s.VerifyEvent(context.Background(), "vm-1", EventKeyboard, nil, 20*time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Equal(t, 0, s.PendingCount())
}

func TestVerifyEventRespectsContextCancellation(t *testing.T) {
	s := NewService()
	defer s.Close()
	s.RegisterClient("vm-1")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.VerifyEvent(ctx, "vm-1", EventKeyboard, nil, time.Second)
	assert.Error(t, err)
}

func TestVerifyEventRejectsAfterOverloaded(t *testing.T) {
	s := NewService(WithMaxPendingEvents(1))
	defer s.Close()
	s.RegisterClient("vm-1")

	ctx := context.Background()
	go s.VerifyEvent(ctx, "vm-1", EventKeyboard, nil, time.Second)
	time.Sleep(20 * time.Millisecond)

	_, err := s.VerifyEvent(ctx, "vm-1", EventKeyboard, nil, 50*time.Millisecond)
	assert.ErrorIs(t, err, ErrOverloaded)
}

func TestRegisterClientSupersedesPriorSession(t *testing.T) {
	s := NewService()
	defer s.Close()

	first := s.RegisterClient("vm-1")
	second := s.RegisterClient("vm-1")

	assert.Equal(t, ClientDisconnected, first.State())
	assert.Equal(t, ClientRegistered, second.State())
	assert.Equal(t, 1, s.ClientCount())
}

func TestUnregisterClientMarksDisconnected(t *testing.T) {
	s := NewService()
	defer s.Close()

	cs := s.RegisterClient("vm-1")
	s.UnregisterClient("vm-1")
	assert.Equal(t, ClientDisconnected, cs.State())
}

func TestVerifyEventRejectsAfterClose(t *testing.T) {
	s := NewService()
	s.RegisterClient("vm-1")
	s.Close()

	_, err := s.VerifyEvent(context.Background(), "vm-1", EventKeyboard, nil, time.Second)
	assert.ErrorIs(t, err, ErrServiceClosed)
}

func TestResultIngestedForUnknownEventIsDropped(t *testing.T) {
	s := NewService()
	defer s.Close()
	s.ResultIngested(VerifyResult{EventID: "does-not-exist"})
}

func TestSweepExpiredRemovesStalePendingEvents(t *testing.T) {
	s := NewService(WithCleanupInterval(10 * time.Millisecond))
	defer s.Close()
	s.RegisterClient("vm-1")

	go s.VerifyEvent(context.Background(), "vm-1", EventKeyboard, nil, 5*time.Millisecond)
	time.Sleep(100 * time.Millisecond)

	assert.Equal(t, 0, s.PendingCount())
}
