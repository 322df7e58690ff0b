package commands

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wooveep/ocloudview-atp/config"
	"github.com/wooveep/ocloudview-atp/transport"
)

func TestResolveHostByExplicitID(t *testing.T) {
	cfg := &config.Config{Hosts: []config.HostConfig{
		{ID: "h1", URI: "qemu:///system"},
		{ID: "h2", URI: "qemu+tcp://other/system"},
	}}
	h, err := resolveHost(cfg, "h2", "")
	require.NoError(t, err)
	assert.Equal(t, "h2", h.ID)
}

func TestResolveHostRejectsUnknownID(t *testing.T) {
	cfg := &config.Config{Hosts: []config.HostConfig{{ID: "h1", URI: "qemu:///system"}}}
	_, err := resolveHost(cfg, "missing", "")
	assert.Error(t, err)
}

func TestResolveHostFallsBackToSoleConfiguredHost(t *testing.T) {
	cfg := &config.Config{Hosts: []config.HostConfig{{ID: "h1", URI: "qemu:///system"}}}
	h, err := resolveHost(cfg, "", "")
	require.NoError(t, err)
	assert.Equal(t, "h1", h.ID)
}

func TestResolveHostUsesScenarioURIWhenAmbiguous(t *testing.T) {
	cfg := &config.Config{}
	h, err := resolveHost(cfg, "", "qemu+ssh://elsewhere/system")
	require.NoError(t, err)
	assert.Equal(t, "qemu+ssh://elsewhere/system", h.URI)
}

func TestResolveHostErrorsWhenAmbiguousAndNoFallback(t *testing.T) {
	cfg := &config.Config{Hosts: []config.HostConfig{
		{ID: "h1", URI: "qemu:///system"},
		{ID: "h2", URI: "qemu:///system"},
	}}
	_, err := resolveHost(cfg, "", "")
	assert.Error(t, err)
}

func TestPoolConfigFromHostLayersOverrides(t *testing.T) {
	defaults := config.PoolDefaults{Min: 2, Max: 6, Strategy: "least_active"}
	h := config.HostConfig{PoolMax: 10}

	cfg := poolConfigFromHost(defaults, h)
	assert.Equal(t, 2, cfg.Min)
	assert.Equal(t, 10, cfg.Max)
	assert.Equal(t, transport.SelectionStrategyKind("least_active"), cfg.Strategy)
}

func TestPoolConfigFromHostFallsBackToTransportDefaults(t *testing.T) {
	cfg := poolConfigFromHost(config.PoolDefaults{}, config.HostConfig{})
	assert.Equal(t, transport.DefaultPoolConfig(), cfg)
}

func TestPassedLabel(t *testing.T) {
	assert.Equal(t, "PASSED", passedLabel(true))
	assert.Equal(t, "FAILED", passedLabel(false))
}
