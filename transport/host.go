package transport

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wooveep/ocloudview-atp/pkg/idgen"
	"github.com/wooveep/ocloudview-atp/transport/workerpool"
)

// State is the lifecycle state of a Connection, per spec.md §3.2.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Reconnecting
	Failed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Host describes a registered libvirt-managed hypervisor, per spec.md §3.1.
type Host struct {
	ID     string
	URI    string // qemu:///system, qemu+ssh://..., qemu+tcp://..., qemu+tls://...
	Labels map[string]string
	Meta   map[string]string
}

// Metrics is the per-Connection mutable counter block from spec.md §3.2.
// Only the owning Connection mutates it; readers take a snapshot copy.
type Metrics struct {
	ActiveUses   int64
	TotalReqs    int64
	ErrorCount   int64
	LastErrorsAt time.Time
	CreatedAt    time.Time
}

// Session is the minimal libvirt session surface a Connection depends on.
// The production implementation is libvirtSession (libvirt_session.go), backed
// by github.com/digitalocean/go-libvirt; tests substitute a fake.
type Session interface {
	IsAlive() (bool, error)
	Close() error
}

// Dialer opens a fresh libvirt session for a host URI. Exists so Connection
// doesn't import the go-libvirt package directly, keeping the RPC-library
// dependency confined to one adapter file.
type Dialer func(ctx context.Context, uri string) (Session, error)

// Connection owns one libvirt session to one host. Per spec.md §4.1.
type Connection struct {
	ID   string
	host *Host

	dial Dialer
	log  *slog.Logger

	backoff BackoffPolicy

	mu      sync.Mutex // guards state, session and metrics; not held while a with_session fn runs
	state   State
	session Session
	metrics Metrics

	lastActiveAt atomic.Int64 // unix nano, for pool idle eviction

	wp *workerpool.Pool

	heartbeatInterval time.Duration
	stopHeartbeat     chan struct{}
	heartbeatDone     chan struct{}
}

// NewConnection constructs a Connection in the Disconnected state. Call
// Connect to establish the session and start the heartbeat.
func NewConnection(host *Host, dial Dialer, log *slog.Logger, wp *workerpool.Pool) *Connection {
	c := &Connection{
		ID:                idgen.Gen("conn-"),
		host:              host,
		dial:              dial,
		log:               log.With("host", host.ID),
		backoff:           DefaultBackoffPolicy(),
		state:             Disconnected,
		wp:                wp,
		heartbeatInterval: 60 * time.Second,
	}
	c.metrics.CreatedAt = time.Now()
	c.lastActiveAt.Store(time.Now().UnixNano())
	return c
}

// State returns the current lifecycle state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// MetricsSnapshot returns a copy of the connection's metrics.
func (c *Connection) MetricsSnapshot() Metrics {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.metrics
}

// LastActive returns the last time a with_session call completed.
func (c *Connection) LastActive() time.Time {
	return time.Unix(0, c.lastActiveAt.Load())
}

// Connect opens the underlying libvirt session.
func (c *Connection) Connect(ctx context.Context) error {
	c.mu.Lock()
	c.state = Connecting
	c.mu.Unlock()

	sess, err := c.dial(ctx, c.host.URI)
	if err != nil {
		c.mu.Lock()
		c.state = Failed
		c.metrics.ErrorCount++
		c.metrics.LastErrorsAt = time.Now()
		c.mu.Unlock()
		return &ConnectFailedError{Code: "dial", Message: err.Error()}
	}

	c.mu.Lock()
	c.session = sess
	c.state = Connected
	c.mu.Unlock()

	c.startHeartbeat()
	return nil
}

// Disconnect releases the session. Idempotent per spec.md §8.2.
func (c *Connection) Disconnect() error {
	c.stopHeartbeatTask()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == Disconnected || c.session == nil {
		c.state = Disconnected
		return nil
	}

	err := c.session.Close()
	c.session = nil
	c.state = Disconnected
	return err
}

// IsAlive reports whether the underlying libvirt session is responsive.
func (c *Connection) IsAlive() bool {
	c.mu.Lock()
	sess := c.session
	alive := c.state == Connected
	c.mu.Unlock()

	if !alive || sess == nil {
		return false
	}

	ok, err := sess.IsAlive()
	return err == nil && ok
}

// ReconnectWithBackoff retries Connect using c.backoff until it succeeds,
// the policy is exhausted, or ctx is cancelled.
func (c *Connection) ReconnectWithBackoff(ctx context.Context) error {
	c.mu.Lock()
	c.state = Reconnecting
	c.mu.Unlock()

	for attempt := 0; ; attempt++ {
		if err := c.Connect(ctx); err == nil {
			return nil
		}

		if c.backoff.Exhausted(attempt) {
			c.mu.Lock()
			c.state = Failed
			c.mu.Unlock()
			return ErrExhaustedRetries
		}

		delay := c.backoff.Delay(attempt)
		c.log.Warn("reconnect failed, backing off", "attempt", attempt, "delay", delay)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// isDead classifies a protocol-layer error as connection-dead per spec.md
// §4.1 ("only connection-dead ... triggers state = Disconnected").
func isDead(err error) bool {
	var dead *deadConnError
	return errors.As(err, &dead)
}

// deadConnError marks an error observed by WithSession as having killed the
// underlying libvirt session (libvirt errno VIR_ERR_SYSTEM_ERROR/VIR_ERR_RPC
// in the real adapter).
type deadConnError struct{ cause error }

func (e *deadConnError) Error() string { return "connection dead: " + e.cause.Error() }
func (e *deadConnError) Unwrap() error { return e.cause }

// MarkDead wraps err so WithSession callers can report a fatal transport
// failure and make the next caller trigger reconnection.
func MarkDead(err error) error {
	if err == nil {
		return nil
	}
	return &deadConnError{cause: err}
}

// WithSession runs fn against the underlying session. Calls on one
// Connection are not serialized: concurrent callers share the session, each
// dispatched onto the worker pool so a blocking libvirt call never pins the
// caller's goroutine indefinitely. active_uses is incremented on entry and
// decremented on every exit path via the scoped guard below.
func WithSession[T any](ctx context.Context, c *Connection, fn func(Session) (T, error)) (T, error) {
	var zero T

	c.mu.Lock()
	if c.state != Connected {
		c.mu.Unlock()
		if err := c.ReconnectWithBackoff(ctx); err != nil {
			return zero, err
		}
		c.mu.Lock()
	}
	sess := c.session
	c.mu.Unlock()

	c.mu.Lock()
	c.metrics.ActiveUses++
	c.metrics.TotalReqs++
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.metrics.ActiveUses--
		c.mu.Unlock()
		c.lastActiveAt.Store(time.Now().UnixNano())
	}()

	result, err := workerpool.Dispatch(ctx, c.wp, func() (T, error) {
		return fn(sess)
	})

	if err != nil {
		c.mu.Lock()
		c.metrics.ErrorCount++
		c.metrics.LastErrorsAt = time.Now()
		if isDead(err) {
			c.state = Disconnected
		}
		c.mu.Unlock()
	}

	return result, err
}

func (c *Connection) startHeartbeat() {
	c.stopHeartbeat = make(chan struct{})
	c.heartbeatDone = make(chan struct{})

	go func() {
		defer close(c.heartbeatDone)

		ticker := time.NewTicker(c.heartbeatInterval)
		defer ticker.Stop()

		for {
			select {
			case <-c.stopHeartbeat:
				return
			case <-ticker.C:
				if !c.IsAlive() {
					c.mu.Lock()
					c.state = Disconnected
					c.mu.Unlock()
					c.log.Warn("heartbeat detected dead connection")
				}
			}
		}
	}()
}

func (c *Connection) stopHeartbeatTask() {
	if c.stopHeartbeat == nil {
		return
	}
	select {
	case <-c.stopHeartbeat:
		// already stopped
	default:
		close(c.stopHeartbeat)
	}
	<-c.heartbeatDone
}
