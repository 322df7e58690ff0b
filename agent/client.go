package agent

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"time"

	"golang.org/x/net/websocket"

	"github.com/wooveep/ocloudview-atp/transport"
	"github.com/wooveep/ocloudview-atp/verify"
)

// ErrNoVMID is returned when every entry in the discovery chain is unusable.
var ErrNoVMID = errors.New("agent: no usable vm_id source")

// VMIDSource resolves one candidate vm_id; returning ("", false) means this
// source has nothing to offer and the chain should fall through.
type VMIDSource func() (string, bool)

// CLIOverride returns a VMIDSource that yields id unconditionally unless id
// is empty, implementing the highest-priority link in spec.md §4.10's
// discovery chain.
func CLIOverride(id string) VMIDSource {
	return func() (string, bool) { return id, id != "" }
}

// SMBIOSSerial reads the DMI system-serial-number sysfs node on Linux
// guests, the second link in the discovery chain. Returns false on any
// read failure or empty value, falling through to the next source.
func SMBIOSSerial() VMIDSource {
	return func() (string, bool) {
		data, err := os.ReadFile("/sys/class/dmi/id/product_serial")
		if err != nil {
			return "", false
		}
		serial := trimNull(string(data))
		return serial, serial != ""
	}
}

// Hostname is the lowest-priority link in the discovery chain.
func Hostname() VMIDSource {
	return func() (string, bool) {
		h, err := os.Hostname()
		return h, err == nil && h != ""
	}
}

func trimNull(s string) string {
	for i, r := range s {
		if r == 0 || r == '\n' {
			return s[:i]
		}
	}
	return s
}

// DiscoverVMID walks sources in priority order per spec.md §4.10 and
// returns the first usable value, adding a configuration callback slot for
// future sources (a virtio-serial metadata channel) per spec.md §9 — callers
// simply append another VMIDSource to the chain.
func DiscoverVMID(sources ...VMIDSource) (string, error) {
	for _, src := range sources {
		if id, ok := src(); ok {
			return id, nil
		}
	}
	return "", ErrNoVMID
}

// DefaultDiscoveryChain builds the standard CLI-override → SMBIOS →
// hostname chain.
func DefaultDiscoveryChain(cliOverride string) []VMIDSource {
	return []VMIDSource{CLIOverride(cliOverride), SMBIOSSerial(), Hostname()}
}

// TransportKind selects which verification transport the Client dials.
type TransportKind int

const (
	TransportWebSocket TransportKind = iota
	TransportTCP
)

// ClientConfig configures Client.Run.
type ClientConfig struct {
	ServerAddr string // ws URL for TransportWebSocket, host:port for TransportTCP
	Origin     string // required by golang.org/x/net/websocket's Dial
	Transport  TransportKind
	Backoff    transport.BackoffPolicy
	Log        *slog.Logger
}

// Client reverse-connects to the verification server with its discovered
// vm_id and runs the event loop, per spec.md §4.10.
type Client struct {
	cfg        ClientConfig
	vmID       string
	dispatcher *Dispatcher
}

// NewClient binds a Client to vmID and a Dispatcher of event verifiers.
func NewClient(cfg ClientConfig, vmID string, dispatcher *Dispatcher) *Client {
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	if cfg.Backoff == (transport.BackoffPolicy{}) {
		cfg.Backoff = transport.BackoffPolicy{Initial: 5 * time.Second, Multiplier: 1, Max: 5 * time.Second}
	}
	return &Client{cfg: cfg, vmID: vmID, dispatcher: dispatcher}
}

// Run connects, handshakes, and services the event loop until ctx is
// cancelled, reconnecting with bounded exponential backoff on transport
// drop per spec.md §4.10's "default 5s interval".
func (c *Client) Run(ctx context.Context) error {
	attempt := 0
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		var err error
		switch c.cfg.Transport {
		case TransportTCP:
			err = c.runTCPOnce(ctx)
		default:
			err = c.runWebSocketOnce(ctx)
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.cfg.Log.Warn("agent: transport dropped, reconnecting", "vm_id", c.vmID, "error", err, "attempt", attempt)

		if c.cfg.Backoff.Exhausted(attempt) {
			return fmt.Errorf("agent: exhausted reconnect attempts: %w", err)
		}
		delay := c.cfg.Backoff.Delay(attempt)
		attempt++

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Client) runWebSocketOnce(ctx context.Context) error {
	ws, err := verify.DialAgent(ctx, c.cfg.ServerAddr, c.cfg.Origin, c.vmID)
	if err != nil {
		return err
	}
	defer ws.Close()

	for {
		var frame string
		if err := websocket.Message.Receive(ws, &frame); err != nil {
			return err
		}
		result := c.handleFrame([]byte(frame))
		wire, err := json.Marshal(result)
		if err != nil {
			continue
		}
		if err := websocket.Message.Send(ws, string(wire)); err != nil {
			return err
		}
	}
}

func (c *Client) runTCPOnce(ctx context.Context) error {
	conn, reader, err := verify.DialAgentTCP(ctx, c.cfg.ServerAddr, c.vmID)
	if err != nil {
		return err
	}
	defer conn.Close()

	for {
		wire, err := readLengthPrefixed(reader)
		if err != nil {
			return err
		}
		result := c.handleFrame(wire)
		resultWire, err := json.Marshal(result)
		if err != nil {
			continue
		}
		if err := writeLengthPrefixed(conn, resultWire); err != nil {
			return err
		}
	}
}

func (c *Client) handleFrame(wire []byte) Result {
	var evt struct {
		EventType string         `json:"event_type"`
		Data      map[string]any `json:"data"`
		Timestamp int64          `json:"timestamp"`
	}
	if err := json.Unmarshal(wire, &evt); err != nil {
		return Result{Verified: false, Detail: map[string]any{"error": "malformed event frame: " + err.Error()}}
	}
	return c.dispatcher.Dispatch(context.Background(), Event{EventType: evt.EventType, Data: evt.Data, Timestamp: evt.Timestamp})
}

func readLengthPrefixed(r *bufio.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := readFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := int(lenBuf[0]) | int(lenBuf[1])<<8 | int(lenBuf[2])<<16 | int(lenBuf[3])<<24
	buf := make([]byte, n)
	if _, err := readFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func readFull(r *bufio.Reader, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func writeLengthPrefixed(w net.Conn, payload []byte) error {
	n := len(payload)
	lenBuf := []byte{byte(n), byte(n >> 8), byte(n >> 16), byte(n >> 24)}
	if _, err := w.Write(lenBuf); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}
