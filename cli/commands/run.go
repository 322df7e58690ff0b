package commands

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"

	libvirt "github.com/digitalocean/go-libvirt"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/wooveep/ocloudview-atp/config"
	"github.com/wooveep/ocloudview-atp/domainxml"
	"github.com/wooveep/ocloudview-atp/protocol/qga"
	"github.com/wooveep/ocloudview-atp/protocol/qmp"
	"github.com/wooveep/ocloudview-atp/scenario"
	"github.com/wooveep/ocloudview-atp/store"
	"github.com/wooveep/ocloudview-atp/transport"
	"github.com/wooveep/ocloudview-atp/vdiclient"
)

// atpctl's process exit codes, per spec.md §6.8.
const (
	exitAllPassed       = 0
	exitStepFailed      = 1
	exitConfigOrConnect = 2
)

// workerCount bounds the shared blocking-dispatch pool atpctl hands its
// transport.Manager; a single-VM CLI run never needs more than a handful of
// concurrent libvirt calls in flight.
const workerCount = 4

func (c *CLI) runScenario(ctx context.Context, opts struct {
	Global
	ScenarioPath string `short:"f" long:"file" description:"path to the scenario YAML/JSON file" required:"true"`
	ConfigPath   string `short:"c" long:"config" description:"path to the ATP TOML config" default:"/etc/atp/atp.toml"`
	HostID       string `short:"H" long:"host" description:"host id from config to target"`
	Strict       bool   `long:"strict" description:"reject unknown scenario fields"`
	StopOnError  bool   `long:"stop-on-error" description:"halt remaining steps after the first failure"`
	ReportDBPath string `long:"report-db" description:"override the configured report store path"`
}) error {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		c.log.Error("atpctl: config error", "error", err)
		os.Exit(exitConfigOrConnect)
	}

	raw, err := os.ReadFile(opts.ScenarioPath)
	if err != nil {
		c.log.Error("atpctl: cannot read scenario file", "error", err)
		os.Exit(exitConfigOrConnect)
	}

	mode := scenario.Lenient
	if opts.Strict {
		mode = scenario.Strict
	}
	sc, warnings, err := scenario.LoadYAML(raw, mode)
	if err != nil {
		c.log.Error("atpctl: invalid scenario", "error", err)
		os.Exit(exitConfigOrConnect)
	}
	for _, w := range warnings {
		c.log.Warn("atpctl: scenario field warning", "warning", w)
	}

	hostCfg, err := resolveHost(cfg, opts.HostID, sc.HostURI)
	if err != nil {
		c.log.Error("atpctl: cannot resolve target host", "error", err)
		os.Exit(exitConfigOrConnect)
	}

	poolCfg := poolConfigFromHost(cfg.PoolDefaults, hostCfg)
	mgr := transport.NewManager(c.log, transport.DialLibvirt, workerCount, poolCfg, prometheus.DefaultRegisterer)
	defer mgr.Close()

	if err := mgr.RegisterHost(ctx, &transport.Host{ID: hostCfg.ID, URI: hostCfg.URI, Labels: hostCfg.Labels}); err != nil {
		c.log.Error("atpctl: cannot register host", "error", err)
		os.Exit(exitConfigOrConnect)
	}

	targets, cleanup, err := buildTargets(ctx, mgr, c.log, hostCfg.ID, sc.Domain)
	if err != nil {
		c.log.Error("atpctl: cannot connect to target VM", "error", err)
		os.Exit(exitConfigOrConnect)
	}
	defer cleanup()

	var reportStore *store.ReportStore
	dbPath := opts.ReportDBPath
	if dbPath == "" {
		dbPath = cfg.ReportStore.Path
	}
	if dbPath != "" {
		reportStore, err = store.Open(dbPath)
		if err != nil {
			c.log.Error("atpctl: cannot open report store", "error", err)
			os.Exit(exitConfigOrConnect)
		}
		defer reportStore.Close()
	}

	runner := scenario.NewRunner(targets)
	report := runner.Run(ctx, sc, opts.StopOnError)

	if reportStore != nil {
		if _, err := reportStore.SaveReport(ctx, report); err != nil {
			c.log.Warn("atpctl: failed to persist report", "error", err)
		}
	}

	printReport(report)

	if !report.Passed {
		os.Exit(exitStepFailed)
	}
	os.Exit(exitAllPassed)
	return nil
}

func resolveHost(cfg *config.Config, hostID, fallbackURI string) (config.HostConfig, error) {
	if hostID != "" {
		for _, h := range cfg.Hosts {
			if h.ID == hostID {
				return h, nil
			}
		}
		return config.HostConfig{}, fmt.Errorf("no host %q in config", hostID)
	}
	if len(cfg.Hosts) == 1 {
		return cfg.Hosts[0], nil
	}
	if fallbackURI != "" {
		return config.HostConfig{ID: "scenario-target", URI: fallbackURI}, nil
	}
	return config.HostConfig{}, fmt.Errorf("ambiguous target host: pass --host or set exactly one hosts[] entry")
}

// poolConfigFromHost layers a HostConfig's overrides onto the configured
// pool defaults, falling back to transport.DefaultPoolConfig() for anything
// left unset in both.
func poolConfigFromHost(defaults config.PoolDefaults, h config.HostConfig) transport.PoolConfig {
	cfg := transport.DefaultPoolConfig()

	if defaults.Min > 0 {
		cfg.Min = defaults.Min
	}
	if defaults.Max > 0 {
		cfg.Max = defaults.Max
	}
	if defaults.Strategy != "" {
		cfg.Strategy = transport.SelectionStrategyKind(defaults.Strategy)
	}

	if h.PoolMin > 0 {
		cfg.Min = h.PoolMin
	}
	if h.PoolMax > 0 {
		cfg.Max = h.PoolMax
	}
	if h.Strategy != "" {
		cfg.Strategy = transport.SelectionStrategyKind(h.Strategy)
	}
	return cfg
}

// buildTargets opens the protocol sessions a scenario run needs and returns
// a cleanup func releasing them all, in reverse acquisition order.
func buildTargets(ctx context.Context, mgr *transport.Manager, log *slog.Logger, hostID, domainName string) (scenario.Targets, func(), error) {
	var targets scenario.Targets
	var closers []func() error

	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				log.Warn("atpctl: cleanup error", "error", err)
			}
		}
	}

	xmlRaw, err := transport.ExecuteOnHost(ctx, mgr, hostID, func(sess transport.Session) (string, error) {
		lc, ok := transport.AsLibvirtCapable(sess)
		if !ok {
			return "", fmt.Errorf("session does not support libvirt RPC")
		}
		dom, err := lc.LookupDomainByName(domainName)
		if err != nil {
			return "", err
		}
		return lc.DomainXML(dom)
	})
	if err != nil {
		return targets, cleanup, fmt.Errorf("lookup domain %q: %w", domainName, err)
	}

	dom, err := domainxml.Parse(xmlRaw)
	if err != nil {
		return targets, cleanup, err
	}

	if _, err := domainxml.QGASocketPath(dom); err == nil {
		// The QGA channel is reached over libvirt RPC (qemu-agent-command),
		// not by dialing the virtio-serial socket directly, so only a
		// pinned connection and the resolved domain handle are needed.
		conn, cerr := mgr.Acquire(ctx, hostID)
		if cerr != nil {
			return targets, cleanup, fmt.Errorf("acquire connection for qga: %w", cerr)
		}

		libvirtDom, derr := transport.ExecuteOnHost(ctx, mgr, hostID, func(sess transport.Session) (libvirt.Domain, error) {
			lc, ok := transport.AsLibvirtCapable(sess)
			if !ok {
				return libvirt.Domain{}, fmt.Errorf("session does not support libvirt RPC")
			}
			return lc.LookupDomainByName(domainName)
		})
		if derr != nil {
			return targets, cleanup, fmt.Errorf("lookup domain for qga: %w", derr)
		}
		targets.QGA = qga.NewSession(conn, libvirtDom)
	}

	qmpPath, err := domainxml.QMPSocketPath(dom)
	if err != nil && dom.ID != nil {
		qmpPath = domainxml.FallbackQMPSocketPath(*dom.ID, domainName)
		log.Warn("atpctl: qmp socket not found in domain XML, using fallback path", "path", qmpPath)
		err = nil
	}
	if err == nil {
		qmpConn, qerr := dialQMP(ctx, log, qmpPath)
		if qerr == nil {
			targets.QMP = qmpConn
			closers = append(closers, qmpConn.Close)
		}
	}

	targets.Vdi = vdiclient.NoOp{}
	return targets, cleanup, nil
}

func dialQMP(ctx context.Context, log *slog.Logger, path string) (*qmp.Conn, error) {
	var d net.Dialer
	raw, err := d.DialContext(ctx, "unix", path)
	if err != nil {
		return nil, fmt.Errorf("dial qmp socket %s: %w", path, err)
	}
	return qmp.Dial(ctx, log, raw, nil)
}

func printReport(r scenario.Report) {
	fmt.Printf("scenario %q: %d/%d steps succeeded (%s), duration %dms\n",
		r.ScenarioName, r.StepsSucceeded, r.StepsTotal, passedLabel(r.Passed), r.DurationMs)
	for i, step := range r.Steps {
		fmt.Printf("  [%d] %-20s %-10s %dms", i, step.Name, step.Status, step.DurationMs)
		if step.Error != "" {
			fmt.Printf(" error=%s", step.Error)
		}
		fmt.Println()
	}
}

func passedLabel(passed bool) string {
	if passed {
		return "PASSED"
	}
	return "FAILED"
}
