package agent

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wooveep/ocloudview-atp/verify"
)

// TestClientResultRoundTripsThroughTCPTransport exercises the actual
// wire encoding Client.handleFrame produces (json.Marshal(Result)) against
// a real verify.Service/TCPListener, so a struct-tag mismatch between
// agent.Result and verify.VerifyResult fails this test instead of silently
// timing out every verification.
func TestClientResultRoundTripsThroughTCPTransport(t *testing.T) {
	svc := verify.NewService()
	defer svc.Close()

	listener := verify.NewTCPListener(svc, nil)

	lc := &net.ListenConfig{}
	probe, err := lc.Listen(context.Background(), "tcp", "127.0.0.1:0")
	require.NoError(t, err)
	listenAddr := probe.Addr().String()
	probe.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go listener.ListenAndServe(ctx, listenAddr)
	time.Sleep(50 * time.Millisecond)

	dispatcher := NewDispatcher(map[string]Verifier{
		"command": stubVerifier{result: Result{Verified: true, Detail: map[string]any{"ok": true}}},
	})
	client := NewClient(ClientConfig{
		ServerAddr: listenAddr,
		Transport:  TransportTCP,
	}, "vm-roundtrip-1", dispatcher)

	clientErr := make(chan error, 1)
	go func() { clientErr <- client.Run(ctx) }()
	time.Sleep(50 * time.Millisecond)

	result, err := svc.VerifyEvent(context.Background(), "vm-roundtrip-1", verify.EventCommand, map[string]any{"cmd": "ls"}, 2*time.Second)
	require.NoError(t, err)
	assert.True(t, result.Verified)
	assert.NotEmpty(t, result.EventID)
}
