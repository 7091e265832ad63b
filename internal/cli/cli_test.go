package cli

import (
	"strings"
	"testing"
	"time"

	goflags "github.com/jessevdk/go-flags"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// parseOnly parses args without executing the matched command.
func parseOnly(t *testing.T, args ...string) (*GlobalFlags, *commands, error) {
	t.Helper()
	parser, globals, cmds := buildParser("test")
	parser.CommandHandler = func(goflags.Commander, []string) error { return nil }
	_, err := parser.ParseArgs(args)
	return globals, cmds, err
}

func TestVersionFlag(t *testing.T) {
	output := captureOutput(t, func() {
		err := RunWithArgs("0.1.0-test", []string{"--version"})
		assert.NoError(t, err)
	})
	assert.Contains(t, output, "pagelog 0.1.0-test")
}

func TestVersionOutputFormat(t *testing.T) {
	output := captureOutput(t, func() {
		_ = RunWithArgs("1.2.3", []string{"--version"})
	})
	assert.Equal(t, "pagelog 1.2.3", strings.TrimSpace(output))
}

func TestAllSubcommandsExist(t *testing.T) {
	expected := []string{
		"view", "save", "unsave", "import", "history", "saved", "timeline",
		"activity", "status", "prune", "purge", "housekeep", "settings",
	}
	parser, _, _ := buildParser("test")

	for _, name := range expected {
		cmd := parser.Find(name)
		assert.NotNil(t, cmd, "subcommand %q should exist", name)
	}
}

func TestUnknownSubcommandFails(t *testing.T) {
	_, _, err := parseOnly(t, "nonexistent")
	require.Error(t, err)
}

func TestHelpFlagDoesNotError(t *testing.T) {
	err := RunWithArgs("test", []string{"--help"})
	assert.NoError(t, err)
}

func TestGlobalFlags(t *testing.T) {
	globals, _, err := parseOnly(t, "--json", "--verbose", "--config", "/tmp/test.yaml", "status")
	require.NoError(t, err)
	assert.True(t, globals.JSON)
	assert.True(t, globals.Verbose)
	assert.Equal(t, "/tmp/test.yaml", globals.Config)
}

func TestViewFlags(t *testing.T) {
	_, c, err := parseOnly(t, "view", "--project", "wikipedia~de", "--namespace", "4",
		"--seconds", "90", "--category", "Physics", "--category", "History", "--previous", "abc", "Quantum", "field")
	require.NoError(t, err)
	assert.Equal(t, "wikipedia~de", c.View.Project)
	assert.Equal(t, int16(4), c.View.Namespace)
	assert.Equal(t, int64(90), c.View.Seconds)
	assert.Equal(t, []string{"Physics", "History"}, c.View.Categories)
	assert.Equal(t, "abc", c.View.Previous)
}

func TestPageFlagsDefaults(t *testing.T) {
	_, c, err := parseOnly(t, "save", "Go")
	require.NoError(t, err)
	assert.Equal(t, "wikipedia~en", c.Save.Project)
	assert.Equal(t, int16(0), c.Save.Namespace)
}

func TestSavedFlagsDefaults(t *testing.T) {
	_, c, err := parseOnly(t, "saved")
	require.NoError(t, err)
	assert.Equal(t, "30d", c.Saved.Since)
	assert.False(t, c.Saved.List)
}

func TestHistoryFlagsDefaults(t *testing.T) {
	_, c, err := parseOnly(t, "history")
	require.NoError(t, err)
	assert.Equal(t, 100, c.History.Limit)
}

func TestActivityLoginStateChoice(t *testing.T) {
	_, c, err := parseOnly(t, "activity")
	require.NoError(t, err)
	assert.Equal(t, "logged-out", c.Activity.LoginState)

	_, c, err = parseOnly(t, "activity", "--login-state", "temp", "--record-visit")
	require.NoError(t, err)
	assert.Equal(t, "temp", c.Activity.LoginState)
	assert.True(t, c.Activity.RecordVisit)

	_, _, err = parseOnly(t, "activity", "--login-state", "bogus")
	require.Error(t, err)
}

func TestPruneOlderThanFlag(t *testing.T) {
	_, c, err := parseOnly(t, "prune", "--older-than", "7d")
	require.NoError(t, err)
	assert.Equal(t, "7d", c.Prune.OlderThan)
}

func TestPurgeForceFlag(t *testing.T) {
	_, c, err := parseOnly(t, "purge", "--all", "--force")
	require.NoError(t, err)
	assert.True(t, c.Purge.All)
	assert.True(t, c.Purge.Force)
}

func TestSettingsRepeatableFlags(t *testing.T) {
	_, c, err := parseOnly(t, "settings", "--set", "a=1", "--set", "b=true", "--remove", "c")
	require.NoError(t, err)
	assert.Equal(t, []string{"a=1", "b=true"}, c.Settings.Set)
	assert.Equal(t, []string{"c"}, c.Settings.Remove)
}

func TestPurgeRequiresAll(t *testing.T) {
	err := RunWithArgs("test", []string{"purge"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "purge requires --all flag for safety")
}

func TestImportRequiresFile(t *testing.T) {
	err := RunWithArgs("test", []string{"import"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--file is required")
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"30d", 30 * 24 * time.Hour},
		{"24h", 24 * time.Hour},
		{"2w", 14 * 24 * time.Hour},
		{"15m", 15 * time.Minute},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseDuration(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	for _, bad := range []string{"", "d", "abc", "10y", "1.5d"} {
		_, err := parseDuration(bad)
		assert.Error(t, err, "input %q", bad)
	}
}

func TestFormatDurationHuman(t *testing.T) {
	assert.Equal(t, "1 day", formatDurationHuman(24*time.Hour))
	assert.Equal(t, "30 days", formatDurationHuman(30*24*time.Hour))
	assert.Equal(t, "1 hour", formatDurationHuman(time.Hour))
	assert.Equal(t, "5 hours", formatDurationHuman(5*time.Hour))
	assert.Equal(t, "30m0s", formatDurationHuman(30*time.Minute))
}

func TestPageRef(t *testing.T) {
	ref, err := pageRef(PageFlags{Project: "wikipedia~en"}, []string{"Albert", "Einstein"})
	require.NoError(t, err)
	assert.Equal(t, "Albert Einstein", ref.Title)

	_, err = pageRef(PageFlags{Project: "wikipedia~en"}, nil)
	assert.EqualError(t, err, "page title is required")

	_, err = pageRef(PageFlags{}, []string{"Go"})
	assert.EqualError(t, err, "--project is required")
}
