package verify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultMaxPendingEvents bounds the pending-events map per spec.md §4.8.
const DefaultMaxPendingEvents = 10000

// DefaultVerifyTimeout is used when VerifyEvent's caller passes timeout<=0.
const DefaultVerifyTimeout = 30 * time.Second

// DefaultCleanupInterval is the pending-event GC cadence.
const DefaultCleanupInterval = 60 * time.Second

// ClientState is a guest agent session's connectivity, per spec.md §3.7.
type ClientState int

const (
	ClientRegistered ClientState = iota
	ClientDisconnected
)

// ClientSession is one guest agent's inbound event channel. Transports
// (WS, TCP) construct these and hand them to Service.RegisterClient; the
// Service never dials out to an agent itself.
type ClientSession struct {
	VMID    string
	state   ClientState
	mu      sync.Mutex
	outbox  chan Event
}

func newClientSession(vmID string) *ClientSession {
	return &ClientSession{VMID: vmID, state: ClientRegistered, outbox: make(chan Event, 64)}
}

// Outbox is the FIFO channel a transport drains to push events to its agent.
func (c *ClientSession) Outbox() <-chan Event { return c.outbox }

func (c *ClientSession) markDisconnected() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = ClientDisconnected
}

func (c *ClientSession) State() ClientState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// pendingEvent is one in-flight verify_event call, per spec.md §3.5.
type pendingEvent struct {
	eventID  string
	vmID     string
	deadline time.Time
	slot     chan VerifyResult // one-shot completion slot, buffered 1
}

// Service owns the pending-events map and the client-session registry, per
// spec.md §4.8. Zero value is not usable; construct with NewService.
type Service struct {
	maxPending      int
	defaultTimeout  time.Duration
	cleanupInterval time.Duration
	log             *slog.Logger

	mu       sync.RWMutex
	pending  map[string]*pendingEvent
	clients  map[string]*ClientSession
	closed   bool

	stopGC chan struct{}
	doneGC chan struct{}
}

// ServiceOption customizes NewService.
type ServiceOption func(*Service)

func WithMaxPendingEvents(n int) ServiceOption { return func(s *Service) { s.maxPending = n } }
func WithDefaultTimeout(d time.Duration) ServiceOption {
	return func(s *Service) { s.defaultTimeout = d }
}
func WithCleanupInterval(d time.Duration) ServiceOption {
	return func(s *Service) { s.cleanupInterval = d }
}
func WithLogger(l *slog.Logger) ServiceOption { return func(s *Service) { s.log = l } }

// NewService constructs a Service and starts its GC task.
func NewService(opts ...ServiceOption) *Service {
	s := &Service{
		maxPending:      DefaultMaxPendingEvents,
		defaultTimeout:  DefaultVerifyTimeout,
		cleanupInterval: DefaultCleanupInterval,
		log:             slog.Default(),
		pending:         make(map[string]*pendingEvent),
		clients:         make(map[string]*ClientSession),
		stopGC:          make(chan struct{}),
		doneGC:          make(chan struct{}),
	}
	go s.gcLoop()
	return s
}

// RegisterClient registers or replaces the session for vmID, per spec.md
// §3.7's "a reconnect supersedes the prior session" invariant.
func (s *Service) RegisterClient(vmID string) *ClientSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.clients[vmID]; ok {
		old.markDisconnected()
	}
	cs := newClientSession(vmID)
	s.clients[vmID] = cs
	return cs
}

// UnregisterClient marks vmID's session Disconnected without touching
// pending events for it; they time out naturally per spec.md §4.9.
func (s *Service) UnregisterClient(vmID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cs, ok := s.clients[vmID]; ok {
		cs.markDisconnected()
	}
}

// VerifyEvent implements spec.md §4.8's verify_event operation.
func (s *Service) VerifyEvent(ctx context.Context, vmID string, eventType EventType, data map[string]any, timeout time.Duration) (VerifyResult, error) {
	if timeout <= 0 {
		timeout = s.defaultTimeout
	}

	s.mu.RLock()
	closed := s.closed
	cs, ok := s.clients[vmID]
	s.mu.RUnlock()
	if closed {
		return VerifyResult{}, ErrServiceClosed
	}
	if !ok || cs.State() != ClientRegistered {
		return VerifyResult{}, ErrClientNotConnected
	}

	eventID := uuid.NewString()
	if data == nil {
		data = make(map[string]any)
	}
	data["event_id"] = eventID

	pe := &pendingEvent{
		eventID:  eventID,
		vmID:     vmID,
		deadline: time.Now().Add(timeout),
		slot:     make(chan VerifyResult, 1),
	}

	s.mu.Lock()
	if len(s.pending) >= s.maxPending {
		s.mu.Unlock()
		return VerifyResult{}, ErrOverloaded
	}
	s.pending[eventID] = pe
	s.mu.Unlock()

	evt := Event{EventType: eventType, Data: data, Timestamp: newTimestamp()}
	select {
	case cs.outbox <- evt:
	case <-ctx.Done():
		s.removePending(eventID)
		return VerifyResult{}, ctx.Err()
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case result := <-pe.slot:
		return result, nil
	case <-timer.C:
		s.removePending(eventID)
		return VerifyResult{}, ErrTimeout
	case <-ctx.Done():
		s.removePending(eventID)
		return VerifyResult{}, ctx.Err()
	}
}

// ResultIngested implements spec.md §4.8's result_ingested operation.
func (s *Service) ResultIngested(result VerifyResult) {
	s.mu.Lock()
	pe, ok := s.pending[result.EventID]
	if ok {
		delete(s.pending, result.EventID)
	}
	s.mu.Unlock()

	if !ok {
		s.log.Debug("verify: result for unknown event_id dropped", "event_id", result.EventID)
		return
	}
	pe.slot <- result
}

func (s *Service) removePending(eventID string) {
	s.mu.Lock()
	delete(s.pending, eventID)
	s.mu.Unlock()
}

func (s *Service) gcLoop() {
	defer close(s.doneGC)
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopGC:
			return
		case <-ticker.C:
			s.sweepExpired()
		}
	}
}

func (s *Service) sweepExpired() {
	now := time.Now()
	var expired []string
	s.mu.Lock()
	for id, pe := range s.pending {
		if now.After(pe.deadline) {
			expired = append(expired, id)
			delete(s.pending, id)
		}
	}
	s.mu.Unlock()
	if len(expired) > 0 {
		s.log.Debug("verify: gc swept expired pending events", "count", len(expired))
	}
}

// Close stops the GC task and rejects further VerifyEvent calls.
func (s *Service) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	close(s.stopGC)
	<-s.doneGC
}

// PendingCount reports the current pending-events map size (for metrics).
func (s *Service) PendingCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.pending)
}

// ClientCount reports the current client-session registry size.
func (s *Service) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}
