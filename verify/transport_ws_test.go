package verify

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/websocket"
)

func TestWebSocketTransportRoundTripsEventAndResult(t *testing.T) {
	svc := NewService()
	defer svc.Close()

	listener := NewWebSocketListener(svc, nil)
	srv := httptest.NewServer(listener.Handler())
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	ws, err := DialAgent(context.Background(), wsURL, srv.URL, "vm-ws-1")
	require.NoError(t, err)
	defer ws.Close()

	verifyDone := make(chan VerifyResult, 1)
	go func() {
		r, err := svc.VerifyEvent(context.Background(), "vm-ws-1", EventMouse, map[string]any{"x": 1, "y": 2}, time.Second)
		require.NoError(t, err)
		verifyDone <- r
	}()

	var frame string
	require.NoError(t, websocket.Message.Receive(ws, &frame))

	var evt Event
	require.NoError(t, json.Unmarshal([]byte(frame), &evt))
	require.NotEmpty(t, evt.eventID())

	result := VerifyResult{EventID: evt.eventID(), Verified: true, LatencyMs: 3}
	resultWire, err := json.Marshal(result)
	require.NoError(t, err)
	require.NoError(t, websocket.Message.Send(ws, string(resultWire)))

	select {
	case r := <-verifyDone:
		assert.True(t, r.Verified)
	case <-time.After(2 * time.Second):
		t.Fatal("verify event never completed")
	}
}

func TestWebSocketTransportRejectsEmptyVMIDHandshake(t *testing.T) {
	svc := NewService()
	defer svc.Close()

	listener := NewWebSocketListener(svc, nil)
	srv := httptest.NewServer(listener.Handler())
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	ws, err := websocket.Dial(wsURL, "", srv.URL)
	require.NoError(t, err)
	defer ws.Close()

	require.NoError(t, websocket.Message.Send(ws, ""))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, svc.ClientCount())
}
