package transport

import (
	"context"
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/wooveep/ocloudview-atp/pkg/multierror"
	"github.com/wooveep/ocloudview-atp/transport/workerpool"
	"golang.org/x/sync/errgroup"
)

// Manager is the registry of hosts and their pools, per spec.md §4.3.
type Manager struct {
	log *slog.Logger
	wp  *workerpool.Pool
	dial Dialer
	defaultCfg PoolConfig
	metrics *poolMetrics

	mu    sync.RWMutex
	pools map[string]*Pool
	hosts map[string]*Host
}

// NewManager creates an empty host registry. workerCount bounds the shared
// blocking-dispatch pool used by every host's connections.
func NewManager(log *slog.Logger, dial Dialer, workerCount int, cfg PoolConfig, reg prometheus.Registerer) *Manager {
	return &Manager{
		log:        log,
		wp:         workerpool.New(workerCount),
		dial:       dial,
		defaultCfg: cfg,
		metrics:    newPoolMetrics(reg),
		pools:      make(map[string]*Pool),
		hosts:      make(map[string]*Host),
	}
}

// RegisterHost adds a host and eagerly provisions its pool.
func (m *Manager) RegisterHost(ctx context.Context, host *Host) error {
	pool, err := NewPool(ctx, host, m.dial, m.log, m.wp, m.defaultCfg)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.hosts[host.ID] = host
	m.pools[host.ID] = pool
	return nil
}

// RemoveHost closes a host's pool and drops it from the registry.
func (m *Manager) RemoveHost(hostID string) {
	m.mu.Lock()
	pool, ok := m.pools[hostID]
	delete(m.pools, hostID)
	delete(m.hosts, hostID)
	m.mu.Unlock()

	if ok {
		pool.Close()
	}
}

// Acquire hands the caller a raw Connection from hostID's pool, for callers
// (package qga's Session) that need to pin one connection across several
// related calls rather than going through ExecuteOnHost per call.
func (m *Manager) Acquire(ctx context.Context, hostID string) (*Connection, error) {
	p, err := m.poolFor(hostID)
	if err != nil {
		return nil, err
	}
	return p.Acquire(ctx)
}

func (m *Manager) poolFor(hostID string) (*Pool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.pools[hostID]
	if !ok {
		return nil, ErrUnknownHost
	}
	return p, nil
}

// ExecuteOnHost dispatches fn onto hostID's pool.
func ExecuteOnHost[T any](ctx context.Context, m *Manager, hostID string, fn func(Session) (T, error)) (T, error) {
	var zero T
	p, err := m.poolFor(hostID)
	if err != nil {
		return zero, err
	}
	return WithPooledSession(ctx, p, fn)
}

// HostResult pairs a host ID with the outcome of a fan-out call.
type HostResult[T any] struct {
	HostID string
	Value  T
	Err    error
}

// ExecuteOnHosts runs fn concurrently across hostIDs, collecting a result
// per host. A failure on one host never cancels the others, per spec.md
// §4.3. Results are returned in the order of hostIDs.
func ExecuteOnHosts[T any](ctx context.Context, m *Manager, hostIDs []string, fn func(Session) (T, error)) []HostResult[T] {
	results := make([]HostResult[T], len(hostIDs))

	// A plain errgroup.Group (not WithContext) so one host's failure never
	// cancels the others' in-flight calls, per spec.md §4.3.
	var g errgroup.Group
	for i, id := range hostIDs {
		g.Go(func() error {
			v, err := ExecuteOnHost(ctx, m, id, fn)
			results[i] = HostResult[T]{HostID: id, Value: v, Err: err}
			return nil
		})
	}

	g.Wait()
	return results
}

// ExecuteOnAllHosts runs fn across every registered host.
func ExecuteOnAllHosts[T any](ctx context.Context, m *Manager, fn func(Session) (T, error)) []HostResult[T] {
	m.mu.RLock()
	ids := make([]string, 0, len(m.hosts))
	for id := range m.hosts {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	return ExecuteOnHosts(ctx, m, ids, fn)
}

// CombineErrors folds a slice of HostResult into a single error via
// pkg/multierror, or nil if every host succeeded.
func CombineErrors[T any](results []HostResult[T]) error {
	var err error
	for _, r := range results {
		if r.Err != nil {
			err = multierror.Append(err, r.Err)
		}
	}
	return err
}

// AllStats returns a per-host Stats snapshot and refreshes the prometheus
// gauges, per spec.md §4.3's "statistics aggregation" requirement.
func (m *Manager) AllStats() map[string]Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]Stats, len(m.pools))
	for id, p := range m.pools {
		s := p.Stats()
		out[id] = s
		m.metrics.observe(id, s)
	}
	return out
}

// Close shuts down every host's pool.
func (m *Manager) Close() {
	m.mu.Lock()
	pools := m.pools
	m.pools = nil
	m.mu.Unlock()

	for _, p := range pools {
		p.Close()
	}
}
