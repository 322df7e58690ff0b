package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/wooveep/ocloudview-atp/config"
	"github.com/wooveep/ocloudview-atp/store"
)

func (c *CLI) reportList(ctx context.Context, opts struct {
	Global
	ConfigPath string `short:"c" long:"config" description:"path to the ATP TOML config" default:"/etc/atp/atp.toml"`
	DBPath     string `long:"report-db" description:"override the configured report store path"`
	Limit      int    `short:"n" long:"limit" description:"maximum number of reports to list" default:"20"`
}) error {
	s, err := c.openReportStore(opts.ConfigPath, opts.DBPath)
	if err != nil {
		return err
	}
	defer s.Close()

	reports, err := s.ListReports(ctx, opts.Limit)
	if err != nil {
		c.log.Error("atpctl: list reports failed", "error", err)
		os.Exit(exitConfigOrConnect)
	}

	for _, r := range reports {
		fmt.Printf("%6d  %-10s %-30s %d/%d steps  %dms  started=%s\n",
			r.ID, passedLabel(r.Passed), r.ScenarioName, r.StepsSucceeded, r.StepsTotal,
			r.DurationMs, r.StartedAt.Format("2006-01-02T15:04:05Z07:00"))
	}
	return nil
}

func (c *CLI) reportShow(ctx context.Context, opts struct {
	Global
	ConfigPath string `short:"c" long:"config" description:"path to the ATP TOML config" default:"/etc/atp/atp.toml"`
	DBPath     string `long:"report-db" description:"override the configured report store path"`
	ID         int64  `short:"i" long:"id" description:"report id to show" required:"true"`
}) error {
	s, err := c.openReportStore(opts.ConfigPath, opts.DBPath)
	if err != nil {
		return err
	}
	defer s.Close()

	r, err := s.GetReport(ctx, opts.ID)
	if err != nil {
		c.log.Error("atpctl: get report failed", "error", err)
		os.Exit(exitConfigOrConnect)
	}

	printReport(r)
	return nil
}

func (c *CLI) openReportStore(configPath, dbPath string) (*store.ReportStore, error) {
	if dbPath == "" {
		cfg, err := config.Load(configPath)
		if err != nil {
			c.log.Error("atpctl: config error", "error", err)
			os.Exit(exitConfigOrConnect)
		}
		dbPath = cfg.ReportStore.Path
	}
	if dbPath == "" {
		c.log.Error("atpctl: no report store configured; pass --report-db or set report_store.path")
		os.Exit(exitConfigOrConnect)
	}

	s, err := store.Open(dbPath)
	if err != nil {
		c.log.Error("atpctl: cannot open report store", "error", err)
		os.Exit(exitConfigOrConnect)
	}
	return s, nil
}
