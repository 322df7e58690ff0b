package qmp

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPair(t *testing.T) (io.ReadWriteCloser, *json.Decoder, *json.Encoder) {
	t.Helper()
	client, server := net.Pipe()
	t.Cleanup(func() { client.Close(); server.Close() })
	return client, json.NewDecoder(server), json.NewEncoder(server)
}

func dialWithGreeting(t *testing.T) (*Conn, *json.Decoder, *json.Encoder) {
	t.Helper()
	rw, serverDec, serverEnc := newTestPair(t)

	go func() {
		serverEnc.Encode(map[string]any{"QMP": map[string]any{
			"version":      map[string]any{"qemu": map[string]any{"major": 8, "minor": 0, "micro": 0}},
			"capabilities": []string{},
		}})
		var capReq map[string]any
		serverDec.Decode(&capReq)
		serverEnc.Encode(map[string]any{"return": map[string]any{}, "id": capReq["id"]})
	}()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	conn, err := Dial(context.Background(), log, rw, nil)
	require.NoError(t, err)
	return conn, serverDec, serverEnc
}

func TestDialNegotiatesCapabilities(t *testing.T) {
	conn, _, _ := dialWithGreeting(t)
	defer conn.Close()
}

func TestDialRejectsNonGreetingFirstMessage(t *testing.T) {
	rw, _, serverEnc := newTestPair(t)
	go serverEnc.Encode(map[string]any{"return": map[string]any{}})

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	_, err := Dial(context.Background(), log, rw, nil)
	assert.Error(t, err)
}

func TestExecuteReturnsCommandResult(t *testing.T) {
	conn, serverDec, serverEnc := dialWithGreeting(t)
	defer conn.Close()

	go func() {
		var req map[string]any
		serverDec.Decode(&req)
		serverEnc.Encode(map[string]any{"return": map[string]any{"status": "running"}, "id": req["id"]})
	}()

	result, err := conn.Execute(context.Background(), "query-status", nil)
	require.NoError(t, err)
	m, ok := result.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "running", m["status"])
}

func TestExecuteReturnsCommandFailedError(t *testing.T) {
	conn, serverDec, serverEnc := dialWithGreeting(t)
	defer conn.Close()

	go func() {
		var req map[string]any
		serverDec.Decode(&req)
		serverEnc.Encode(map[string]any{
			"error": map[string]any{"class": "GenericError", "desc": "nope"},
			"id":    req["id"],
		})
	}()

	_, err := conn.Execute(context.Background(), "bogus-command", nil)
	require.Error(t, err)
	var cfe *CommandFailedError
	require.ErrorAs(t, err, &cfe)
	assert.Equal(t, "GenericError", cfe.Class)
}

func TestExecuteTimesOutWithoutResponse(t *testing.T) {
	conn, serverDec, _ := dialWithGreeting(t)
	defer conn.Close()
	go func() {
		var req map[string]any
		serverDec.Decode(&req)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := conn.Execute(ctx, "query-status", nil)
	assert.Error(t, err)
}

func TestSendKeysStopsOnFirstError(t *testing.T) {
	conn, serverDec, serverEnc := dialWithGreeting(t)
	defer conn.Close()

	calls := 0
	go func() {
		for i := 0; i < 1; i++ {
			var req map[string]any
			serverDec.Decode(&req)
			calls++
			serverEnc.Encode(map[string]any{
				"error": map[string]any{"class": "GenericError", "desc": "bad key"},
				"id":    req["id"],
			})
		}
	}()

	err := conn.SendKeys(context.Background(), [][]QCode{{"a"}, {"b"}}, 0)
	assert.Error(t, err)
}

func TestEventsAreDeliveredOnEventsChannel(t *testing.T) {
	rw, serverDec, serverEnc := newTestPair(t)
	events := make(chan Event, 1)

	go func() {
		serverEnc.Encode(map[string]any{"QMP": map[string]any{
			"version":      map[string]any{"qemu": map[string]any{"major": 8}},
			"capabilities": []string{},
		}})
		var capReq map[string]any
		serverDec.Decode(&capReq)
		serverEnc.Encode(map[string]any{"return": map[string]any{}, "id": capReq["id"]})
		serverEnc.Encode(map[string]any{"event": "STOP", "data": map[string]any{}})
	}()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	conn, err := Dial(context.Background(), log, rw, events)
	require.NoError(t, err)
	defer conn.Close()

	select {
	case ev := <-events:
		assert.Equal(t, "STOP", ev.Name)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	conn, _, _ := dialWithGreeting(t)
	require.NoError(t, conn.Close())
	require.NoError(t, conn.Close())
}
