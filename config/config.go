// Package config loads the operator-facing ATP configuration: the host
// registry, pool tuning, and verification listener addresses. Built on
// github.com/pelletier/go-toml/v2 for decoding the TOML document into
// typed Go structs.
package config

import (
	"fmt"
	"time"
)

// HostConfig registers one libvirt host, per spec.md §3.1.
type HostConfig struct {
	ID       string            `toml:"id"`
	URI      string            `toml:"uri"`
	Labels   map[string]string `toml:"labels"`
	PoolMin  int               `toml:"pool_min"`
	PoolMax  int               `toml:"pool_max"`
	Strategy string            `toml:"strategy"` // "round_robin" | "least_active" | "random"
}

// PoolDefaults are applied to any HostConfig that leaves pool fields unset.
type PoolDefaults struct {
	Min             int    `toml:"min"`
	Max             int    `toml:"max"`
	Strategy        string `toml:"strategy"`
	IdleTimeout     string `toml:"idle_timeout"`
	ManageInterval  string `toml:"manage_interval"`
	HeartbeatPeriod string `toml:"heartbeat_period"`
}

// VerificationConfig configures the verify.Service transports.
type VerificationConfig struct {
	WebSocketAddr   string `toml:"websocket_addr"`
	TCPAddr         string `toml:"tcp_addr"`
	MaxPending      int    `toml:"max_pending_events"`
	CleanupInterval string `toml:"cleanup_interval"`
	DefaultTimeout  string `toml:"default_timeout"`
}

// ReportStoreConfig configures package store.
type ReportStoreConfig struct {
	Path string `toml:"path"`
}

// Config is the top-level ATP operator configuration document.
type Config struct {
	Hosts        []HostConfig        `toml:"hosts"`
	PoolDefaults PoolDefaults        `toml:"pool_defaults"`
	Verification VerificationConfig  `toml:"verification"`
	ReportStore  ReportStoreConfig   `toml:"report_store"`
}

// Default returns a Config with the defaults spec.md names throughout §4.
func Default() Config {
	return Config{
		PoolDefaults: PoolDefaults{
			Min: 1, Max: 8, Strategy: "round_robin",
			IdleTimeout: "5m", ManageInterval: "30s", HeartbeatPeriod: "60s",
		},
		Verification: VerificationConfig{
			MaxPending:      10000,
			CleanupInterval: "60s",
			DefaultTimeout:  "30s",
		},
	}
}

// Validate checks field-level invariants and returns the first error
// encountered.
func (c *Config) Validate() error {
	seen := make(map[string]bool, len(c.Hosts))
	for i, h := range c.Hosts {
		if h.ID == "" {
			return fmt.Errorf("hosts[%d]: id is required", i)
		}
		if seen[h.ID] {
			return fmt.Errorf("hosts[%d]: duplicate host id %q", i, h.ID)
		}
		seen[h.ID] = true

		if h.URI == "" {
			return fmt.Errorf("hosts[%d] (%s): uri is required", i, h.ID)
		}
		if h.PoolMin < 0 || h.PoolMax < 0 {
			return fmt.Errorf("hosts[%d] (%s): pool_min/pool_max must be non-negative", i, h.ID)
		}
		if h.PoolMax > 0 && h.PoolMin > h.PoolMax {
			return fmt.Errorf("hosts[%d] (%s): pool_min (%d) exceeds pool_max (%d)", i, h.ID, h.PoolMin, h.PoolMax)
		}
		if err := validateDuration("heartbeat_period", c.PoolDefaults.HeartbeatPeriod); err != nil {
			return err
		}
	}

	if err := validateDuration("pool_defaults.idle_timeout", c.PoolDefaults.IdleTimeout); err != nil {
		return err
	}
	if err := validateDuration("pool_defaults.manage_interval", c.PoolDefaults.ManageInterval); err != nil {
		return err
	}
	if err := validateDuration("verification.cleanup_interval", c.Verification.CleanupInterval); err != nil {
		return err
	}
	if err := validateDuration("verification.default_timeout", c.Verification.DefaultTimeout); err != nil {
		return err
	}
	if c.Verification.WebSocketAddr == "" && c.Verification.TCPAddr == "" {
		return fmt.Errorf("verification: at least one of websocket_addr or tcp_addr must be set")
	}
	return nil
}

func validateDuration(field, value string) error {
	if value == "" {
		return nil
	}
	if _, err := time.ParseDuration(value); err != nil {
		return fmt.Errorf("%s: invalid duration %q: %w", field, value, err)
	}
	return nil
}
