package main

import (
	"testing"

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

	// Verify expected subcommands are registered.
	expected := []string{"ingest", "cluster", "merge", "compile", "batch", "enrich", "status", "migrate", "config"}
	for _, name := range expected {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "ingredient-cli", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestIngestCommand_Flags(t *testing.T) {
	for _, name := range []string{"csv", "xlsx", "sheet", "source"} {
		require.NotNil(t, ingestCmd.Flags().Lookup(name), "ingest command should have --%s flag", name)
	}
}

func TestClusterCommand_Flags(t *testing.T) {
	flag := clusterCmd.Flags().Lookup("unioned")
	require.NotNil(t, flag, "cluster command should have --unioned flag")
	assert.Equal(t, "false", flag.DefValue)
}

func TestCompileCommand_Flags(t *testing.T) {
	for _, name := range []string{"workers", "limit", "seed-only"} {
		require.NotNil(t, compileCmd.Flags().Lookup(name), "compile command should have --%s flag", name)
	}
}

func TestBatchCommand_HasSubcommands(t *testing.T) {
	cmds := batchCmd.Commands()
	names := make(map[string]bool)
	for _, c := range cmds {
		names[c.Name()] = true
	}

	for _, name := range []string{"submit", "poll", "collect"} {
		assert.True(t, names[name], "expected batch subcommand %q not found", name)
	}
}

func TestEnrichCommand_HasSubcommands(t *testing.T) {
	cmds := enrichCmd.Commands()
	names := make(map[string]bool)
	for _, c := range cmds {
		names[c.Name()] = true
	}

	for _, name := range []string{"match", "fetch", "apply", "all"} {
		assert.True(t, names[name], "expected enrich subcommand %q not found", name)
	}
}

func TestBatchPollCommand_RequiredFlag(t *testing.T) {
	flag := batchPollCmd.Flags().Lookup("id")
	require.NotNil(t, flag, "batch poll should have --id flag")
}
