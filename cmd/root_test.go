package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}

	expected := []string{"serve", "adjudicate", "accumulator", "reverse", "rules", "coverage", "migrate", "dlq", "report"}
	for _, name := range expected {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "benefit-engine", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestServeCommand_Flags(t *testing.T) {
	flag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag, "serve command should have --port flag")
	assert.Equal(t, "0", flag.DefValue)
}

func TestAdjudicateCommand_Flags(t *testing.T) {
	for _, name := range []string{"file", "out"} {
		assert.NotNil(t, adjudicateCmd.Flags().Lookup(name), "adjudicate should have --%s flag", name)
	}
}

func TestAccumulatorCommand_Flags(t *testing.T) {
	for _, name := range []string{"member", "code", "period"} {
		assert.NotNil(t, accumulatorCmd.Flags().Lookup(name), "accumulator should have --%s flag", name)
	}
}

func TestReverseCommand_Flags(t *testing.T) {
	assert.NotNil(t, reverseCmd.Flags().Lookup("line"))
	assert.NotNil(t, reverseCmd.Flags().Lookup("reason"))
}

func TestRulesCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rulesCmd.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["validate"])
	assert.True(t, names["load"])
	assert.NotNil(t, rulesCmd.PersistentFlags().Lookup("file"))
}

func TestDLQCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range dlqCmd.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["status"])
	assert.True(t, names["replay"])
}

func TestReportCommand_Flags(t *testing.T) {
	flag := reportCmd.Flags().Lookup("out")
	require.NotNil(t, flag)
	assert.Equal(t, "results.xlsx", flag.DefValue)
	for _, name := range []string{"member", "claim", "outcome"} {
		assert.NotNil(t, reportCmd.Flags().Lookup(name), "report should have --%s flag", name)
	}
}

func TestReadRules(t *testing.T) {
	_, err := readRules("")
	assert.Error(t, err)

	rules, err := readRules(testConfig(t).Plan.RulesFile)
	require.NoError(t, err)
	assert.Len(t, rules, 2)
}
