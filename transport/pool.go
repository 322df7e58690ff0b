package transport

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/wooveep/ocloudview-atp/transport/workerpool"
)

// PoolConfig tunes a single host's connection pool, per spec.md §3.3/§4.2.
type PoolConfig struct {
	Min      int
	Max      int
	Strategy SelectionStrategyKind

	ConnectTimeout time.Duration
	IdleTimeout    time.Duration

	// ManagementInterval is how often the background task rebalances the
	// pool (grow under load, evict idle). Default 30s per spec.md §4.2.
	ManagementInterval time.Duration
}

// DefaultPoolConfig returns spec.md's implied defaults: min 1, max 4,
// round-robin, 5s connect timeout, 5m idle timeout, 30s management tick.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		Min:                1,
		Max:                4,
		Strategy:           RoundRobin,
		ConnectTimeout:     5 * time.Second,
		IdleTimeout:        5 * time.Minute,
		ManagementInterval: 30 * time.Second,
	}
}

// Pool is a per-host set of Connections with a selection strategy and a
// background management task, per spec.md §3.3/§4.2.
type Pool struct {
	host   *Host
	dial   Dialer
	log    *slog.Logger
	wp     *workerpool.Pool
	cfg    PoolConfig
	strat  selectionStrategy

	mu    sync.Mutex
	conns []*Connection // arena; index is the handle background tasks hold

	stopMgmt chan struct{}
	mgmtDone chan struct{}

	closed bool
}

// NewPool creates a pool, eagerly connecting up to cfg.Min connections, and
// starts the background management task.
func NewPool(ctx context.Context, host *Host, dial Dialer, log *slog.Logger, wp *workerpool.Pool, cfg PoolConfig) (*Pool, error) {
	p := &Pool{
		host:     host,
		dial:     dial,
		log:      log.With("host", host.ID),
		wp:       wp,
		cfg:      cfg,
		strat:    newSelectionStrategy(cfg.Strategy),
		stopMgmt: make(chan struct{}),
		mgmtDone: make(chan struct{}),
	}

	for i := 0; i < cfg.Min; i++ {
		c := NewConnection(host, dial, log, wp)
		if err := c.Connect(ctx); err != nil {
			p.log.Warn("initial connection failed", "error", err)
		}
		p.conns = append(p.conns, c)
	}

	go p.manage()

	return p, nil
}

// Acquire returns a healthy connection per the configured strategy, blocking
// up to ConnectTimeout for the management task to provision one if none are
// currently healthy.
func (p *Pool) Acquire(ctx context.Context) (*Connection, error) {
	deadline := time.Now().Add(p.cfg.ConnectTimeout)

	for {
		p.mu.Lock()
		closed := p.closed
		p.mu.Unlock()
		if closed {
			return nil, ErrPoolClosed
		}

		if c := p.tryAcquire(); c != nil {
			return c, nil
		}

		if time.Now().After(deadline) {
			return nil, ErrNoHealthyConnection
		}

		select {
		case <-time.After(50 * time.Millisecond):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (p *Pool) tryAcquire() *Connection {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}

	var candidates []*Connection
	for _, c := range p.conns {
		if c.State() == Connected && c.IsAlive() {
			candidates = append(candidates, c)
		}
	}
	if len(candidates) == 0 {
		return nil
	}

	idx := p.strat.pick(candidates)
	return candidates[idx]
}

// WithPooledSession acquires a connection and runs fn on it.
func WithPooledSession[T any](ctx context.Context, p *Pool, fn func(Session) (T, error)) (T, error) {
	var zero T
	c, err := p.Acquire(ctx)
	if err != nil {
		return zero, err
	}
	return WithSession(ctx, c, fn)
}

// Stats is a point-in-time summary of pool health, exported via Manager's
// prometheus gauges (transport/metrics.go).
type Stats struct {
	Count       int
	Active      int // connections with ActiveUses > 0
	TotalReqs   int64
	TotalErrors int64
	Strategy    SelectionStrategyKind
}

// Stats returns a snapshot for introspection, per spec.md §4.3.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := Stats{Count: len(p.conns), Strategy: p.cfg.Strategy}
	for _, c := range p.conns {
		m := c.MetricsSnapshot()
		if m.ActiveUses > 0 {
			s.Active++
		}
		s.TotalReqs += m.TotalReqs
		s.TotalErrors += m.ErrorCount
	}
	return s
}

func (p *Pool) manage() {
	defer close(p.mgmtDone)

	ticker := time.NewTicker(p.cfg.ManagementInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopMgmt:
			return
		case <-ticker.C:
			p.growUnderLoad()
			p.evictIdle()
		}
	}
}

// growUnderLoad spawns a new connection when 80% of current connections are
// busy (ActiveUses > 5), up to Max. Per spec.md §4.2.
func (p *Pool) growUnderLoad() {
	p.mu.Lock()
	if p.closed || len(p.conns) >= p.cfg.Max {
		p.mu.Unlock()
		return
	}

	busy := 0
	for _, c := range p.conns {
		if c.MetricsSnapshot().ActiveUses > 5 {
			busy++
		}
	}
	total := len(p.conns)
	p.mu.Unlock()

	if total == 0 || float64(busy)/float64(total) < 0.8 {
		return
	}

	c := NewConnection(p.host, p.dial, p.log, p.wp)
	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.ConnectTimeout)
	defer cancel()

	if err := c.Connect(ctx); err != nil {
		p.log.Warn("grow-under-load connect failed", "error", err)
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.conns) < p.cfg.Max {
		p.conns = append(p.conns, c)
	} else {
		c.Disconnect()
	}
}

// evictIdle disconnects and removes connections idle past IdleTimeout,
// never dropping below Min. Per spec.md §4.2.
func (p *Pool) evictIdle() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}

	remaining := len(p.conns)
	var kept []*Connection
	for _, c := range p.conns {
		idle := time.Since(c.LastActive()) > p.cfg.IdleTimeout
		atUses := c.MetricsSnapshot().ActiveUses

		if idle && atUses == 0 && remaining > p.cfg.Min {
			c.Disconnect()
			remaining--
			continue
		}
		kept = append(kept, c)
	}
	p.conns = kept
}

// Close stops the management task and disconnects every connection.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	conns := p.conns
	p.conns = nil
	p.mu.Unlock()

	close(p.stopMgmt)
	<-p.mgmtDone

	for _, c := range conns {
		c.Disconnect()
	}
}
