// Package qmp implements the QEMU Machine Protocol: newline-delimited JSON
// over a per-VM Unix socket. Handshake, Execute/ExecuteRaw, and a
// background decode loop feeding an event channel, generalized per
// spec.md §4.4/§6.2: capability negotiation, SendKey/SendKeys, query
// commands, a raw escape hatch, and typed CommandFailed/Timeout errors.
package qmp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"
)

// DefaultCommandTimeout is the default duration Execute waits for a
// response, per spec.md §4.4.
const DefaultCommandTimeout = 30 * time.Second

// QCode is QEMU's symbolic key identifier used by send-key (e.g. "a", "ret").
type QCode string

// CommandFailedError surfaces a QMP error object verbatim, per spec.md §7.
type CommandFailedError struct {
	Class       string
	Description string
}

func (e *CommandFailedError) Error() string {
	return fmt.Sprintf("qmp command failed [%s]: %s", e.Class, e.Description)
}

// ErrTimeout is returned when no response arrives within the command
// timeout.
var ErrTimeout = errors.New("qmp: command timeout")

type greetingPkt struct {
	Version struct {
		QEMU struct {
			Micro int `json:"micro"`
			Minor int `json:"minor"`
			Major int `json:"major"`
		} `json:"qemu"`
		Package string `json:"package"`
	} `json:"version"`
	Capabilities []string `json:"capabilities"`
}

type errorPkt struct {
	Class       string `json:"class"`
	Description string `json:"desc"`
}

type packet struct {
	Greeting *greetingPkt   `json:"QMP"`
	Error    *errorPkt      `json:"error"`
	Return   any            `json:"return"`
	Event    *string        `json:"event"`
	Data     map[string]any `json:"data"`
	ID       string         `json:"id,omitempty"`
}

type executePkt struct {
	Command   string         `json:"execute"`
	Arguments map[string]any `json:"arguments,omitempty"`
	ID        string         `json:"id,omitempty"`
}

// Event is a QMP asynchronous event (not request/response), surfaced to
// subscribers registered via Conn's Events channel.
type Event struct {
	Name string
	Data map[string]any
}

// Conn is a connected, capability-negotiated QMP session.
//
// receive() is intentionally not exposed: QMP here is strictly
// request/response; asynchronous events flow out through Events only.
type Conn struct {
	log *slog.Logger
	rw  io.ReadWriteCloser
	dec *json.Decoder
	enc *json.Encoder

	Events chan Event

	mu      sync.Mutex
	closed  bool
	waiters map[string]chan packet
	seq     uint64

	execMu sync.Mutex // serializes writes to the encoder; replies are matched by id, so several commands may await responses at once
}

// Dial performs the greeting + qmp_capabilities handshake over rw (typically
// a net.Conn to a Unix socket discovered via domainxml) and returns a ready
// session. events may be nil if the caller doesn't care about async events.
func Dial(ctx context.Context, log *slog.Logger, rw io.ReadWriteCloser, events chan Event) (*Conn, error) {
	c := &Conn{
		log:     log,
		rw:      rw,
		dec:     json.NewDecoder(rw),
		enc:     json.NewEncoder(rw),
		Events:  events,
		waiters: make(map[string]chan packet),
	}
	c.dec.UseNumber()

	var greeting packet
	if err := c.dec.Decode(&greeting); err != nil {
		return nil, fmt.Errorf("qmp: read greeting: %w", err)
	}
	if greeting.Greeting == nil {
		return nil, fmt.Errorf("qmp: first message was not a greeting")
	}

	go c.readLoop()

	if _, err := c.Execute(ctx, "qmp_capabilities", nil); err != nil {
		c.Close()
		return nil, fmt.Errorf("qmp: capabilities negotiation: %w", err)
	}

	return c, nil
}

func (c *Conn) readLoop() {
	for {
		var pkt packet
		if err := c.dec.Decode(&pkt); err != nil {
			c.mu.Lock()
			c.closed = true
			for _, ch := range c.waiters {
				close(ch)
			}
			c.waiters = nil
			c.mu.Unlock()
			return
		}

		switch {
		case pkt.Error != nil || pkt.Return != nil:
			c.mu.Lock()
			ch, ok := c.waiters[pkt.ID]
			if ok {
				delete(c.waiters, pkt.ID)
			}
			c.mu.Unlock()
			if ok {
				ch <- pkt
				close(ch)
			}
		case pkt.Event != nil && c.Events != nil:
			select {
			case c.Events <- Event{Name: *pkt.Event, Data: pkt.Data}:
			default:
				c.log.Warn("qmp event dropped, subscriber channel full", "event", *pkt.Event)
			}
		}
	}
}

// ExecuteRaw is the escape hatch: send any command with any arguments and
// return the raw "return" payload.
func (c *Conn) ExecuteRaw(ctx context.Context, cmd string, args map[string]any) (any, error) {
	return c.Execute(ctx, cmd, args)
}

// Execute sends {"execute": cmd, "arguments": args, "id": <generated>} and
// waits for the matching response.
func (c *Conn) Execute(ctx context.Context, cmd string, args map[string]any) (any, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, fmt.Errorf("qmp: connection closed")
	}
	c.seq++
	id := fmt.Sprintf("%s-%d", cmd, c.seq)
	ch := make(chan packet, 1)
	c.waiters[id] = ch
	c.mu.Unlock()

	c.execMu.Lock()
	err := c.enc.Encode(executePkt{Command: cmd, Arguments: args, ID: id})
	c.execMu.Unlock()
	if err != nil {
		c.mu.Lock()
		delete(c.waiters, id)
		c.mu.Unlock()
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, DefaultCommandTimeout)
	defer cancel()

	select {
	case pkt, ok := <-ch:
		if !ok {
			return nil, fmt.Errorf("qmp: connection closed while awaiting response")
		}
		if pkt.Error != nil {
			return nil, &CommandFailedError{Class: pkt.Error.Class, Description: pkt.Error.Description}
		}
		return pkt.Return, nil
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.waiters, id)
		c.mu.Unlock()
		return nil, ErrTimeout
	}
}

// SendKey issues one send-key command. Atomic at the QEMU level per spec.md
// §4.4.
func (c *Conn) SendKey(ctx context.Context, keys []QCode, holdTimeMs int) error {
	events := make([]map[string]any, 0, len(keys))
	for _, k := range keys {
		events = append(events, map[string]any{
			"type": "qcode",
			"data": map[string]any{"value": string(k)},
		})
	}

	args := map[string]any{"keys": events}
	if holdTimeMs > 0 {
		args["hold-time"] = holdTimeMs
	}

	_, err := c.Execute(ctx, "send-key", args)
	return err
}

// SendKeys iterates SendKey per element. Best-effort: a failure partway
// through leaves earlier keys sent, per spec.md §4.4.
func (c *Conn) SendKeys(ctx context.Context, seq [][]QCode, holdTimeMs int) error {
	for _, keys := range seq {
		if err := c.SendKey(ctx, keys, holdTimeMs); err != nil {
			return err
		}
	}
	return nil
}

// QueryStatus returns the VM's run-state snapshot (query-status).
func (c *Conn) QueryStatus(ctx context.Context) (any, error) {
	return c.Execute(ctx, "query-status", nil)
}

// QueryVersion returns QEMU's version snapshot (query-version).
func (c *Conn) QueryVersion(ctx context.Context) (any, error) {
	return c.Execute(ctx, "query-version", nil)
}

// Close releases the underlying socket. Safe to call more than once.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	return c.rw.Close()
}
