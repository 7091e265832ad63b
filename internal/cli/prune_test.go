package cli

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// seedHistory records views ten days before testNow and one now, then
// leaves the clock at testNow.
func seedHistory(t *testing.T, a *app, clock *testClock) (old, recent int64) {
	t.Helper()
	ctx := context.Background()

	clock.Advance(-10 * 24 * time.Hour)
	recordView(t, a, "Moon", 30)
	recordView(t, a, "Sun", 30)
	stats, err := a.store.Stats(ctx)
	require.NoError(t, err)
	old = stats.HistoryEntries

	clock.Advance(10 * 24 * time.Hour)
	recordView(t, a, "Mars", 30)
	stats, err = a.store.Stats(ctx)
	require.NoError(t, err)
	return old, stats.HistoryEntries - old
}

func TestPrune_DefaultRetention(t *testing.T) {
	a, clock := newTestApp(t)
	old, recent := seedHistory(t, a, clock)
	require.Positive(t, old)

	cmd := &PruneCommand{globals: &GlobalFlags{}}
	output := captureOutput(t, func() {
		require.NoError(t, cmd.execute(context.Background(), a))
	})
	assert.Contains(t, output, "older than 7 days")

	stats, err := a.store.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, recent, stats.HistoryEntries)
	assert.Equal(t, int64(3), stats.PageViews, "page views are never pruned")
}

func TestPrune_CustomOlderThan(t *testing.T) {
	a, clock := newTestApp(t)
	seedHistory(t, a, clock)
	before, err := a.store.Stats(context.Background())
	require.NoError(t, err)

	cmd := &PruneCommand{OlderThan: "30d", globals: &GlobalFlags{JSON: true}}
	output := captureOutput(t, func() {
		require.NoError(t, cmd.execute(context.Background(), a))
	})

	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(output), &out))
	assert.Equal(t, float64(0), out["pruned"])
	assert.Equal(t, "2025-05-19T12:00:00Z", out["cutoff"])

	after, err := a.store.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, before.HistoryEntries, after.HistoryEntries)
}

func TestPrune_InvalidDuration(t *testing.T) {
	a, _ := newTestApp(t)

	cmd := &PruneCommand{OlderThan: "abc", globals: &GlobalFlags{}}
	err := cmd.execute(context.Background(), a)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid duration")

	cmd.OlderThan = "0d"
	err = cmd.execute(context.Background(), a)
	assert.EqualError(t, err, "--older-than must be positive")
}
