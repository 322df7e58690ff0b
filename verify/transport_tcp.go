package verify

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"net"
)

// TCPListener serves the same agent handshake as WebSocketListener but with
// length-prefixed framing (u32 LE length + UTF-8 JSON) per spec.md §4.9/§6.6
// — for environments where a raw TCP agent is simpler than a WS client.
type TCPListener struct {
	svc *Service
	log *slog.Logger
}

func NewTCPListener(svc *Service, log *slog.Logger) *TCPListener {
	if log == nil {
		log = slog.Default()
	}
	return &TCPListener{svc: svc, log: log}
}

// ListenAndServe accepts connections on addr until ctx is cancelled.
func (l *TCPListener) ListenAndServe(ctx context.Context, addr string) error {
	lc := &net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("verify: listen %s: %w", addr, err)
	}
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return fmt.Errorf("verify: accept: %w", err)
			}
		}
		go l.serve(ctx, conn)
	}
}

func writeFrame(w io.Writer, payload []byte) error {
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

func readFrame(r *bufio.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.LittleEndian.Uint32(lenBuf[:])
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func (l *TCPListener) serve(parent context.Context, conn net.Conn) {
	defer conn.Close()
	reader := bufio.NewReader(conn)

	vmIDWire, err := readFrame(reader)
	if err != nil {
		l.log.Warn("verify: tcp handshake failed", "error", err)
		return
	}
	vmID := string(vmIDWire)
	if vmID == "" {
		l.log.Warn("verify: tcp handshake sent empty vm_id")
		return
	}

	cs := l.svc.RegisterClient(vmID)
	defer l.svc.UnregisterClient(vmID)

	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	go l.pumpOutbound(ctx, conn, cs)
	l.pumpInbound(reader, vmID)
}

func (l *TCPListener) pumpOutbound(ctx context.Context, conn net.Conn, cs *ClientSession) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-cs.Outbox():
			if !ok {
				return
			}
			wire, err := marshalEvent(evt)
			if err != nil {
				l.log.Error("verify: marshal event", "error", err)
				continue
			}
			if err := writeFrame(conn, wire); err != nil {
				l.log.Warn("verify: tcp send failed, closing session", "vm_id", cs.VMID, "error", err)
				return
			}
		}
	}
}

func (l *TCPListener) pumpInbound(reader *bufio.Reader, vmID string) {
	for {
		wire, err := readFrame(reader)
		if err != nil {
			l.log.Debug("verify: tcp client disconnected", "vm_id", vmID, "error", err)
			return
		}
		result, err := unmarshalResult(wire)
		if err != nil {
			l.log.Warn("verify: tcp malformed result frame", "vm_id", vmID, "error", err)
			continue
		}
		l.svc.ResultIngested(result)
	}
}

// DialAgentTCP is the agent-side counterpart for the TCP transport.
func DialAgentTCP(ctx context.Context, addr, vmID string) (net.Conn, *bufio.Reader, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, nil, fmt.Errorf("verify: dial %s: %w", addr, err)
	}
	if err := writeFrame(conn, []byte(vmID)); err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("verify: handshake send: %w", err)
	}
	return conn, bufio.NewReader(conn), nil
}
