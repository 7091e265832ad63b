package cli

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runnerr0/pagelog/internal/saved"
	"github.com/runnerr0/pagelog/internal/storage"
)

func savePages(t *testing.T, a *app, titles ...string) {
	t.Helper()
	for _, title := range titles {
		_, err := a.saved.SavePage(context.Background(), storage.PageRef{ProjectID: "wikipedia~en", Title: title})
		require.NoError(t, err)
	}
}

func TestSaved_NothingRecent(t *testing.T) {
	a, clock := newTestApp(t)
	clock.Advance(-60 * 24 * time.Hour)
	savePages(t, a, "Moon")
	clock.Advance(60 * 24 * time.Hour)

	cmd := &SavedCommand{Since: "30d", globals: &GlobalFlags{}}
	output := captureOutput(t, func() {
		require.NoError(t, cmd.execute(context.Background(), a))
	})
	assert.Contains(t, output, "Saved:         1 total")
	assert.Contains(t, output, "Last 30 days: nothing saved")
}

func TestSaved_ModuleJSON(t *testing.T) {
	a, clock := newTestApp(t)
	savePages(t, a, "Moon")
	clock.Advance(time.Minute)
	savePages(t, a, "Sun")

	cmd := &SavedCommand{Since: "7d", globals: &GlobalFlags{JSON: true}}
	output := captureOutput(t, func() {
		require.NoError(t, cmd.execute(context.Background(), a))
	})

	var out savedJSON
	require.NoError(t, json.Unmarshal([]byte(output), &out))
	assert.Equal(t, int64(2), out.TotalSaved)
	require.NotNil(t, out.Module)
	assert.Equal(t, 2, out.Module.Count)
	assert.Empty(t, out.Module.ThumbnailURLs, "fetcher has no thumbnails")
	assert.True(t, testNow.Add(time.Minute).Equal(out.Module.LastSavedDate))
}

func TestSaved_List(t *testing.T) {
	a, clock := newTestApp(t)
	savePages(t, a, "Moon")
	clock.Advance(time.Hour)
	savePages(t, a, "Sun")

	cmd := &SavedCommand{List: true, globals: &GlobalFlags{JSON: true}}
	output := captureOutput(t, func() {
		require.NoError(t, cmd.execute(context.Background(), a))
	})

	var pages []saved.PageWithTimestamp
	require.NoError(t, json.Unmarshal([]byte(output), &pages))
	require.Len(t, pages, 2)
	assert.Equal(t, "Sun", pages[0].Title)
	assert.Equal(t, "Moon", pages[1].Title)
}

func TestSaved_ListEmpty(t *testing.T) {
	a, _ := newTestApp(t)

	cmd := &SavedCommand{List: true, globals: &GlobalFlags{}}
	output := captureOutput(t, func() {
		require.NoError(t, cmd.execute(context.Background(), a))
	})
	assert.Contains(t, output, "No saved pages.")
}
