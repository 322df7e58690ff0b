// Package commands implements the atpctl CLI surface: a deliberately thin
// wrapper (spec.md §1 scopes the CLI front-end out of this core) exposing
// just enough to run a scenario file and inspect persisted reports. Built
// on github.com/mitchellh/cli for subcommand dispatch and
// github.com/lab47/cleo for struct-tag option inference.
package commands

import (
	"log/slog"

	"github.com/lab47/cleo"
	"github.com/mitchellh/cli"
)

// CLI wraps a mitchellh/cli.CLI configured with atpctl's subcommands.
type CLI struct {
	log *slog.Logger
	lc  *cli.CLI
}

// Global is embedded by every subcommand's options struct.
type Global struct {
	Debug bool `short:"D" long:"debug" description:"enable debug logging"`
}

// NewCLI builds the atpctl command tree.
func NewCLI(log *slog.Logger, version string, args []string) (*CLI, error) {
	c := &CLI{log: log, lc: cli.NewCLI("atpctl", version)}
	c.lc.Args = args
	c.lc.Commands = map[string]cli.CommandFactory{
		"run": func() (cli.Command, error) {
			return cleo.Infer("run", "execute a scenario file against a target VM", c.runScenario), nil
		},
		"report list": func() (cli.Command, error) {
			return cleo.Infer("report list", "list persisted scenario reports", c.reportList), nil
		},
		"report show": func() (cli.Command, error) {
			return cleo.Infer("report show", "show one persisted scenario report", c.reportShow), nil
		},
	}
	return c, nil
}

// Run dispatches to the selected subcommand and returns the process exit
// code, per spec.md §6.8.
func (c *CLI) Run() (int, error) {
	return c.lc.Run()
}
