package main

import (
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	cmds := rootCmd.Commands()

	// Collect subcommand names.
	names := make(map[string]bool)
	for _, c := range cmds {
		names[c.Name()] = true
	}

	expected := []string{"init", "execute", "approve", "abort", "status", "health", "serve", "migrate"}
	for _, name := range expected {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "research", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestInitCommand_Flags(t *testing.T) {
	for _, name := range []string{"domain", "owner", "preset", "company", "scraper", "max-pages"} {
		require.NotNil(t, initCmd.Flags().Lookup(name), "init command should have --%s flag", name)
	}
	domain := initCmd.Flags().Lookup("domain")
	assert.Equal(t, []string{"true"}, domain.Annotations[cobra.BashCompOneRequiredFlag])
}

func TestExecuteCommand_Flags(t *testing.T) {
	phase := executeCmd.Flags().Lookup("phase")
	require.NotNil(t, phase)
	assert.Equal(t, "DISCOVERY", phase.DefValue)

	auto := executeCmd.Flags().Lookup("auto-approve")
	require.NotNil(t, auto)
	assert.Equal(t, "false", auto.DefValue)
}

func TestStatusCommand_Flags(t *testing.T) {
	flag := statusCmd.Flags().Lookup("limit")
	require.NotNil(t, flag)
	assert.Equal(t, "50", flag.DefValue)
	assert.NotNil(t, statusCmd.Flags().Lookup("json"))
}

func TestServeCommand_Flags(t *testing.T) {
	flag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag, "serve command should have --port flag")
	assert.Equal(t, "0", flag.DefValue)
}

func TestSessionCommands_RequireID(t *testing.T) {
	for _, c := range []*cobra.Command{executeCmd, approveCmd, abortCmd} {
		assert.Error(t, c.Args(c, nil), c.Name())
		assert.NoError(t, c.Args(c, []string{"id"}), c.Name())
	}
	assert.NoError(t, statusCmd.Args(statusCmd, nil))
	assert.Error(t, statusCmd.Args(statusCmd, []string{"a", "b"}))
}
