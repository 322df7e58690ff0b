package commands

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCLIRegistersExpectedSubcommands(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	c, err := NewCLI(log, "test", []string{"run", "--help"})
	require.NoError(t, err)
	require.NotNil(t, c)

	_, hasRun := c.lc.Commands["run"]
	_, hasList := c.lc.Commands["report list"]
	_, hasShow := c.lc.Commands["report show"]
	assert.True(t, hasRun)
	assert.True(t, hasList)
	assert.True(t, hasShow)
}
