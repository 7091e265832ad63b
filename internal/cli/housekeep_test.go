package cli

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runnerr0/pagelog/internal/housekeeping"
	"github.com/runnerr0/pagelog/internal/storage"
)

func TestHousekeep_RunOnce(t *testing.T) {
	a, clock := newTestApp(t)
	ctx := context.Background()

	// A page saved two years ago and then unsaved has no views and no
	// save info, so housekeeping removes it.
	clock.Advance(-2 * 365 * 24 * time.Hour)
	ref := storage.PageRef{ProjectID: "wikipedia~en", Title: "Orphan"}
	_, err := a.saved.SavePage(ctx, ref)
	require.NoError(t, err)
	_, err = a.saved.UnsavePage(ctx, ref)
	require.NoError(t, err)
	clock.Advance(2 * 365 * 24 * time.Hour)

	recordView(t, a, "Moon", 60)

	cmd := &HousekeepCommand{globals: &GlobalFlags{JSON: true}}
	output := captureOutput(t, func() {
		require.NoError(t, cmd.execute(ctx, a))
	})

	var res housekeeping.Result
	require.NoError(t, json.Unmarshal([]byte(output), &res))
	assert.Equal(t, 1, res.Pages)
	assert.Positive(t, res.PrunedHistory)

	stats, err := a.store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Pages)
	assert.Equal(t, int64(1), stats.PageViews)
}

func TestHousekeep_DaemonRequiresEnabled(t *testing.T) {
	a, _ := newTestApp(t)
	a.cfg.Housekeeping.Enabled = false

	cmd := &HousekeepCommand{Daemon: true, globals: &GlobalFlags{}}
	err := cmd.runDaemon(context.Background(), a)
	assert.EqualError(t, err, "housekeeping is disabled in config")
}

func TestHousekeep_DaemonStopsOnCancel(t *testing.T) {
	a, _ := newTestApp(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	cmd := &HousekeepCommand{Daemon: true, globals: &GlobalFlags{}}
	assert.NoError(t, cmd.runDaemon(ctx, a))
}

func TestHousekeep_InvalidSchedule(t *testing.T) {
	a, _ := newTestApp(t)
	a.cfg.Housekeeping.Schedule = "not a schedule"

	cmd := &HousekeepCommand{globals: &GlobalFlags{}}
	assert.Error(t, cmd.execute(context.Background(), a))
}
