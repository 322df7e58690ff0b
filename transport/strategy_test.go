package transport

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wooveep/ocloudview-atp/transport/workerpool"
)

type fakeSession struct{}

func (fakeSession) IsAlive() (bool, error) { return true, nil }
func (fakeSession) Close() error           { return nil }

func testConnection(t *testing.T, activeUses int64) *Connection {
	t.Helper()
	host := &Host{ID: "h1", URI: "qemu:///system"}
	wp := workerpool.New(2)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	c := NewConnection(host, func(ctx context.Context, uri string) (Session, error) {
		return fakeSession{}, nil
	}, log, wp)

	require.NoError(t, c.Connect(context.Background()))
	c.metrics.ActiveUses = activeUses
	return c
}

func TestRoundRobinStrategyCyclesThroughCandidates(t *testing.T) {
	s := &roundRobinStrategy{}
	candidates := []*Connection{
		testConnection(t, 0),
		testConnection(t, 0),
		testConnection(t, 0),
	}

	picks := []int{s.pick(candidates), s.pick(candidates), s.pick(candidates), s.pick(candidates)}
	assert.Equal(t, []int{1, 2, 0, 1}, picks)
}

func TestLeastActiveStrategyPicksLowestActiveUses(t *testing.T) {
	s := leastActiveStrategy{}
	candidates := []*Connection{
		testConnection(t, 5),
		testConnection(t, 1),
		testConnection(t, 3),
	}

	assert.Equal(t, 1, s.pick(candidates))
}

func TestRandomStrategyStaysInBounds(t *testing.T) {
	s := randomStrategy{}
	candidates := []*Connection{testConnection(t, 0), testConnection(t, 0)}

	for i := 0; i < 50; i++ {
		idx := s.pick(candidates)
		assert.GreaterOrEqual(t, idx, 0)
		assert.Less(t, idx, len(candidates))
	}
}

func TestNewSelectionStrategyDefaultsToRoundRobin(t *testing.T) {
	assert.IsType(t, &roundRobinStrategy{}, newSelectionStrategy(""))
	assert.IsType(t, &roundRobinStrategy{}, newSelectionStrategy(RoundRobin))
	assert.IsType(t, leastActiveStrategy{}, newSelectionStrategy(LeastActive))
	assert.IsType(t, randomStrategy{}, newSelectionStrategy(Random))
}
