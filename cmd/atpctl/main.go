// Command atpctl runs ATP scenario files against a libvirt-managed VM and
// inspects persisted run reports.
package main

import (
	"log/slog"
	"os"

	"github.com/wooveep/ocloudview-atp/cli/commands"
	"github.com/wooveep/ocloudview-atp/version"
)

func main() {
	log := slog.New(slog.NewTextHandler(os.Stderr, nil))

	c, err := commands.NewCLI(log, version.Version, os.Args[1:])
	if err != nil {
		log.Error("atpctl: failed to initialize", "error", err)
		os.Exit(1)
	}

	code, err := c.Run()
	if err != nil {
		log.Error("atpctl: command failed", "error", err)
	}
	os.Exit(code)
}
