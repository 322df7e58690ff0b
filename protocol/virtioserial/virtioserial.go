// Package virtioserial implements the host side of a virtio-serial channel:
// a plain Unix socket (no kernel-imposed framing), exposed in the guest as
// /dev/virtio-ports/<name>, per spec.md §4.6/§6.4. A stdlib net.Dial is the
// right tool here — there's no third-party library for "connect to a Unix
// socket", and the one genuinely novel piece (pluggable framing) is
// implemented by ProtocolHandler below.
package virtioserial

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
)

// ProtocolHandler encodes/decodes application payloads over the raw byte
// stream. Opaque to the transport: a handler may fail, and MUST surface a
// *ParseError when it does, per spec.md §4.6.
type ProtocolHandler interface {
	EncodeRequest(payload []byte) ([]byte, error)
	DecodeResponse(wire []byte) ([]byte, error)
}

// ParseError wraps a ProtocolHandler failure.
type ParseError struct {
	Cause error
}

func (e *ParseError) Error() string { return "virtioserial: parse: " + e.Cause.Error() }
func (e *ParseError) Unwrap() error { return e.Cause }

// RawHandler is the identity handler: no framing at all.
type RawHandler struct{}

func (RawHandler) EncodeRequest(payload []byte) ([]byte, error)  { return payload, nil }
func (RawHandler) DecodeResponse(wire []byte) ([]byte, error)    { return wire, nil }

// LineJSONHandler wraps payloads in a single-key JSON object terminated by a
// newline, e.g. `{"request_field": "<utf-8 payload>"}\n`.
type LineJSONHandler struct {
	RequestField  string
	ResponseField string
}

func (h LineJSONHandler) EncodeRequest(payload []byte) ([]byte, error) {
	return []byte(fmt.Sprintf(`{%q: %q}`+"\n", h.RequestField, string(payload))), nil
}

func (h LineJSONHandler) DecodeResponse(wire []byte) ([]byte, error) {
	var obj map[string]string
	if err := json.Unmarshal(wire, &obj); err != nil {
		return nil, &ParseError{Cause: err}
	}
	val, ok := obj[h.ResponseField]
	if !ok {
		return nil, &ParseError{Cause: fmt.Errorf("missing field %q", h.ResponseField)}
	}
	return []byte(val), nil
}

// Session is a connected virtio-serial channel.
type Session struct {
	conn    net.Conn
	reader  *bufio.Reader
	handler ProtocolHandler
}

// Dial connects to the Unix socket at path (typically discovered via
// domainxml.NamedChannelPath) using handler for framing.
func Dial(ctx context.Context, path string, handler ProtocolHandler) (*Session, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", path)
	if err != nil {
		return nil, fmt.Errorf("virtioserial: dial %s: %w", path, err)
	}
	return &Session{conn: conn, reader: bufio.NewReader(conn), handler: handler}, nil
}

// Send encodes and writes payload.
func (s *Session) Send(payload []byte) error {
	wire, err := s.handler.EncodeRequest(payload)
	if err != nil {
		return &ParseError{Cause: err}
	}
	_, err = s.conn.Write(wire)
	return err
}

// ReceiveLine reads one LF-terminated frame and decodes it.
func (s *Session) ReceiveLine() ([]byte, error) {
	line, err := s.reader.ReadBytes('\n')
	if err != nil {
		return nil, err
	}
	return s.handler.DecodeResponse(line)
}

// Receive reads exactly n raw bytes (no handler decode — used for
// fixed-size binary framing).
func (s *Session) Receive(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(s.reader, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// Disconnect closes the socket. Idempotent.
func (s *Session) Disconnect() error {
	if err := s.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}
