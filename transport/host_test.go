package transport

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wooveep/ocloudview-atp/transport/workerpool"
)

func discardLog() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestConnectionConnectTransitionsToConnected(t *testing.T) {
	host := &Host{ID: "h1", URI: "qemu:///system"}
	c := NewConnection(host, func(ctx context.Context, uri string) (Session, error) {
		return fakeSession{}, nil
	}, discardLog(), workerpool.New(1))

	require.NoError(t, c.Connect(context.Background()))
	assert.Equal(t, Connected, c.State())
	assert.True(t, c.IsAlive())
	require.NoError(t, c.Disconnect())
}

func TestConnectionConnectFailureSetsFailedState(t *testing.T) {
	host := &Host{ID: "h1", URI: "qemu:///system"}
	dialErr := errors.New("boom")
	c := NewConnection(host, func(ctx context.Context, uri string) (Session, error) {
		return nil, dialErr
	}, discardLog(), workerpool.New(1))

	err := c.Connect(context.Background())
	require.Error(t, err)
	assert.Equal(t, Failed, c.State())

	var cfe *ConnectFailedError
	require.True(t, errors.As(err, &cfe))
}

func TestConnectionDisconnectIsIdempotent(t *testing.T) {
	host := &Host{ID: "h1", URI: "qemu:///system"}
	c := NewConnection(host, func(ctx context.Context, uri string) (Session, error) {
		return fakeSession{}, nil
	}, discardLog(), workerpool.New(1))

	require.NoError(t, c.Disconnect())
	require.NoError(t, c.Connect(context.Background()))
	require.NoError(t, c.Disconnect())
	require.NoError(t, c.Disconnect())
	assert.Equal(t, Disconnected, c.State())
}

func TestWithSessionIncrementsAndDecrementsMetrics(t *testing.T) {
	host := &Host{ID: "h1", URI: "qemu:///system"}
	c := NewConnection(host, func(ctx context.Context, uri string) (Session, error) {
		return fakeSession{}, nil
	}, discardLog(), workerpool.New(1))
	require.NoError(t, c.Connect(context.Background()))

	var observedActive int64
	_, err := WithSession(context.Background(), c, func(s Session) (int, error) {
		observedActive = c.MetricsSnapshot().ActiveUses
		return 1, nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), observedActive)
	assert.Equal(t, int64(0), c.MetricsSnapshot().ActiveUses)
	assert.Equal(t, int64(1), c.MetricsSnapshot().TotalReqs)
}

func TestWithSessionMarksDeadOnFatalError(t *testing.T) {
	host := &Host{ID: "h1", URI: "qemu:///system"}
	c := NewConnection(host, func(ctx context.Context, uri string) (Session, error) {
		return fakeSession{}, nil
	}, discardLog(), workerpool.New(1))
	require.NoError(t, c.Connect(context.Background()))

	_, err := WithSession(context.Background(), c, func(s Session) (int, error) {
		return 0, MarkDead(errors.New("rpc failure"))
	})
	require.Error(t, err)
	assert.Equal(t, Disconnected, c.State())
	assert.Equal(t, int64(1), c.MetricsSnapshot().ErrorCount)
}

func TestWithSessionNonFatalErrorKeepsConnected(t *testing.T) {
	host := &Host{ID: "h1", URI: "qemu:///system"}
	c := NewConnection(host, func(ctx context.Context, uri string) (Session, error) {
		return fakeSession{}, nil
	}, discardLog(), workerpool.New(1))
	require.NoError(t, c.Connect(context.Background()))

	_, err := WithSession(context.Background(), c, func(s Session) (int, error) {
		return 0, errors.New("transient")
	})
	require.Error(t, err)
	assert.Equal(t, Connected, c.State())
}

func TestReconnectWithBackoffGivesUpAfterMaxAttempts(t *testing.T) {
	host := &Host{ID: "h1", URI: "qemu:///system"}
	c := NewConnection(host, func(ctx context.Context, uri string) (Session, error) {
		return nil, errors.New("always fails")
	}, discardLog(), workerpool.New(1))
	c.backoff = BackoffPolicy{Initial: time.Millisecond, Multiplier: 1, Max: time.Millisecond, MaxAttempts: 2}

	err := c.ReconnectWithBackoff(context.Background())
	assert.ErrorIs(t, err, ErrExhaustedRetries)
	assert.Equal(t, Failed, c.State())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "connected", Connected.String())
	assert.Equal(t, "unknown", State(99).String())
}
