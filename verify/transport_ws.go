package verify

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"golang.org/x/net/websocket"
)

// WebSocketListener serves the agent handshake over golang.org/x/net/websocket
// per spec.md §4.9: first text frame is the agent's vm_id, then a
// bidirectional loop of Event-out / VerifyResult-in text frames. Built on
// golang.org/x/net/websocket rather than introducing an unrelated
// dependency like gorilla/websocket.
type WebSocketListener struct {
	svc *Service
	log *slog.Logger
}

// NewWebSocketListener binds a listener to svc.
func NewWebSocketListener(svc *Service, log *slog.Logger) *WebSocketListener {
	if log == nil {
		log = slog.Default()
	}
	return &WebSocketListener{svc: svc, log: log}
}

// Handler returns an http.Handler suitable for mounting at a chosen path.
func (l *WebSocketListener) Handler() http.Handler {
	return websocket.Handler(l.serve)
}

// ListenAndServe starts a standalone HTTP server on addr, serving the
// websocket handshake at "/".
func (l *WebSocketListener) ListenAndServe(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/", l.Handler())
	return http.ListenAndServe(addr, mux)
}

func (l *WebSocketListener) serve(ws *websocket.Conn) {
	defer ws.Close()

	var vmID string
	if err := websocket.Message.Receive(ws, &vmID); err != nil {
		l.log.Warn("verify: ws handshake failed", "error", err)
		return
	}
	if vmID == "" {
		l.log.Warn("verify: ws handshake sent empty vm_id")
		return
	}

	cs := l.svc.RegisterClient(vmID)
	defer l.svc.UnregisterClient(vmID)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go l.pumpOutbound(ctx, ws, cs)
	l.pumpInbound(ws, vmID)
}

func (l *WebSocketListener) pumpOutbound(ctx context.Context, ws *websocket.Conn, cs *ClientSession) {
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
			if err := websocket.Message.Send(ws, string(wire)); err != nil {
				l.log.Warn("verify: ws send failed, closing session", "vm_id", cs.VMID, "error", err)
				return
			}
		}
	}
}

func (l *WebSocketListener) pumpInbound(ws *websocket.Conn, vmID string) {
	for {
		var frame string
		if err := websocket.Message.Receive(ws, &frame); err != nil {
			l.log.Debug("verify: ws client disconnected", "vm_id", vmID, "error", err)
			return
		}
		result, err := unmarshalResult([]byte(frame))
		if err != nil {
			l.log.Warn("verify: ws malformed result frame", "vm_id", vmID, "error", err)
			continue
		}
		l.svc.ResultIngested(result)
	}
}

// DialAgent is the agent-side counterpart: connects to the server, sends
// vmID as the handshake frame, and returns the raw *websocket.Conn for the
// caller's event loop (used by package agent).
func DialAgent(ctx context.Context, url, origin, vmID string) (*websocket.Conn, error) {
	ws, err := websocket.Dial(url, "", origin)
	if err != nil {
		return nil, fmt.Errorf("verify: dial %s: %w", url, err)
	}
	if err := websocket.Message.Send(ws, vmID); err != nil {
		ws.Close()
		return nil, fmt.Errorf("verify: handshake send: %w", err)
	}
	return ws, nil
}
