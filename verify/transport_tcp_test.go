package verify

import (
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTCPTransportRoundTripsEventAndResult(t *testing.T) {
	svc := NewService()
	defer svc.Close()

	listener := NewTCPListener(svc, nil)

	lc := &net.ListenConfig{}
	probe, err := lc.Listen(context.Background(), "tcp", "127.0.0.1:0")
	require.NoError(t, err)
	listenAddr := probe.Addr().String()
	probe.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go listener.ListenAndServe(ctx, listenAddr)
	time.Sleep(50 * time.Millisecond)

	conn, reader, err := DialAgentTCP(context.Background(), listenAddr, "vm-tcp-1")
	require.NoError(t, err)
	defer conn.Close()

	verifyDone := make(chan VerifyResult, 1)
	go func() {
		r, err := svc.VerifyEvent(context.Background(), "vm-tcp-1", EventCommand, map[string]any{"cmd": "ls"}, time.Second)
		require.NoError(t, err)
		verifyDone <- r
	}()

	wire, err := readFrame(reader)
	require.NoError(t, err)
	var evt Event
	require.NoError(t, json.Unmarshal(wire, &evt))
	require.NotEmpty(t, evt.eventID())

	result := VerifyResult{EventID: evt.eventID(), Verified: true, LatencyMs: 5}
	resultWire, err := json.Marshal(result)
	require.NoError(t, err)
	require.NoError(t, writeFrame(conn, resultWire))

	select {
	case r := <-verifyDone:
		assert.True(t, r.Verified)
	case <-time.After(2 * time.Second):
		t.Fatal("verify event never completed")
	}
}

func TestTCPTransportRejectsEmptyVMIDHandshake(t *testing.T) {
	svc := NewService()
	defer svc.Close()
	listener := NewTCPListener(svc, nil)

	lc := &net.ListenConfig{}
	ln, err := lc.Listen(context.Background(), "tcp", "127.0.0.1:0")
	require.NoError(t, err)
	listenAddr := ln.Addr().String()
	ln.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go listener.ListenAndServe(ctx, listenAddr)
	time.Sleep(50 * time.Millisecond)

	conn, err := net.Dial("tcp", listenAddr)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, writeFrame(conn, []byte("")))
	assert.Equal(t, 0, svc.ClientCount())
}
