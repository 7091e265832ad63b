package cli

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runnerr0/pagelog/internal/activity"
	"github.com/runnerr0/pagelog/internal/storage"
)

func TestActivity_Human(t *testing.T) {
	a, clock := newTestApp(t)
	clock.Advance(-24 * time.Hour)
	recordView(t, a, "Moon", 3600, "Astronomy")
	clock.Advance(24 * time.Hour)
	recordView(t, a, "Sun", 25*60, "Astronomy", "Stars")

	cmd := &ActivityCommand{LoginState: "logged-out", globals: &GlobalFlags{}}
	output := captureOutput(t, func() {
		require.NoError(t, cmd.execute(context.Background(), a))
	})

	assert.Contains(t, output, "Past 7 days:   1h 25m")
	assert.Contains(t, output, "This month:    2 articles")
	assert.Contains(t, output, "Top topics:    Astronomy, Stars")
	assert.Contains(t, output, "Last read:     2025-06-18 12:00")
	assert.Contains(t, output, "Streak:        2 days (best 2)")
	assert.Contains(t, output, "Login prompt:  true")
	assert.Contains(t, output, "Experiment:    unknown")
}

func TestActivity_RecordVisitJSON(t *testing.T) {
	a, _ := newTestApp(t)
	recordView(t, a, "Moon", 60)

	cmd := &ActivityCommand{LoginState: "logged-in", RecordVisit: true, Histogram: true, globals: &GlobalFlags{JSON: true}}
	var output string
	for i := 0; i < 3; i++ {
		output = captureOutput(t, func() {
			require.NoError(t, cmd.execute(context.Background(), a))
		})
	}

	var out struct {
		ArticlesThisMonth int                     `json:"articles_read_this_month"`
		TopCategories     []string                `json:"top_categories"`
		Gate              gateJSON                `json:"activity_tab"`
		Histogram         *activity.PageViewDates `json:"histogram"`
	}
	require.NoError(t, json.Unmarshal([]byte(output), &out))
	assert.Equal(t, 1, out.ArticlesThisMonth)
	assert.Equal(t, []string{}, out.TopCategories)
	assert.True(t, out.Gate.HasSeen)
	assert.Equal(t, 3, out.Gate.Visits)
	assert.False(t, out.Gate.ShowLoginPrompt)
	assert.True(t, out.Gate.ShowSurvey)
	assert.Equal(t, "unknown", out.Gate.Assignment)
	assert.Equal(t, activity.ErrBeforeStartDate.Error(), out.Gate.AssignmentError)
	require.NotNil(t, out.Histogram)
	require.Len(t, out.Histogram.Days, 1)
	assert.Equal(t, int(time.Wednesday), out.Histogram.Days[0].Key)
}

func TestActivity_ForcedAssignment(t *testing.T) {
	a, _ := newTestApp(t)
	ctx := context.Background()
	require.NoError(t, a.gate.SetFlag(ctx, activity.KeyDevForceExperiment, true))

	cmd := &ActivityCommand{LoginState: "temp", globals: &GlobalFlags{}}
	output := captureOutput(t, func() {
		require.NoError(t, cmd.execute(ctx, a))
	})
	assert.Contains(t, output, "Experiment:    activity_tab")
}

func TestTimeline(t *testing.T) {
	a, clock := newTestApp(t)
	ctx := context.Background()
	clock.Advance(-24 * time.Hour)
	recordView(t, a, "Moon", 60)
	clock.Advance(24 * time.Hour)
	recordView(t, a, "Sun", 60)
	clock.Advance(time.Minute)
	_, err := a.saved.SavePage(ctx, storage.PageRef{ProjectID: "wikipedia~en", Title: "Sun"})
	require.NoError(t, err)

	cmd := &TimelineCommand{globals: &GlobalFlags{JSON: true}}
	output := captureOutput(t, func() {
		require.NoError(t, cmd.execute(ctx, a))
	})

	var days []activity.TimelineDay
	require.NoError(t, json.Unmarshal([]byte(output), &days))
	require.Len(t, days, 2)
	require.Len(t, days[0].Items, 2)
	assert.Equal(t, activity.ItemRead, days[0].Items[0].Type)
	assert.Equal(t, activity.ItemSaved, days[0].Items[1].Type)
	require.Len(t, days[1].Items, 1)
	assert.Equal(t, "Moon", days[1].Items[0].Title)

	cmd = &TimelineCommand{Days: 1, globals: &GlobalFlags{}}
	output = captureOutput(t, func() {
		require.NoError(t, cmd.execute(ctx, a))
	})
	assert.Contains(t, output, "Wednesday, 2025-06-18")
	assert.NotContains(t, output, "Tuesday")
}

func TestTimeline_Empty(t *testing.T) {
	a, _ := newTestApp(t)

	cmd := &TimelineCommand{globals: &GlobalFlags{}}
	output := captureOutput(t, func() {
		require.NoError(t, cmd.execute(context.Background(), a))
	})
	assert.Contains(t, output, "Nothing on the timeline.")
}
