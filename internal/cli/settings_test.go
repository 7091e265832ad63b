package cli

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runnerr0/pagelog/internal/activity"
	"github.com/runnerr0/pagelog/internal/kvstore"
)

func TestSettings_EmptyList(t *testing.T) {
	a, _ := newTestApp(t)

	cmd := &SettingsCommand{globals: &GlobalFlags{}}
	output := captureOutput(t, func() {
		require.NoError(t, cmd.execute(context.Background(), a))
	})
	assert.Contains(t, output, "No settings.")
}

func TestSettings_SetAndRemove(t *testing.T) {
	a, _ := newTestApp(t)
	ctx := context.Background()

	cmd := &SettingsCommand{
		Set:     []string{activity.KeyVisitCount + "=4", activity.KeyHasSeenActivityTab + "=true", "note=hello"},
		globals: &GlobalFlags{JSON: true},
	}
	output := captureOutput(t, func() {
		require.NoError(t, cmd.execute(ctx, a))
	})

	var entries []kvstore.Entry
	require.NoError(t, json.Unmarshal([]byte(output), &entries))
	require.Len(t, entries, 3)

	assert.Equal(t, 4, a.gate.VisitCount(ctx))
	assert.True(t, a.gate.HasSeenActivityTab(ctx))
	note, err := kvstore.Load[string](ctx, a.kv, "note")
	require.NoError(t, err)
	assert.Equal(t, "hello", note)

	cmd = &SettingsCommand{Remove: []string{"note"}, globals: &GlobalFlags{}}
	output = captureOutput(t, func() {
		require.NoError(t, cmd.execute(ctx, a))
	})
	assert.NotContains(t, output, "note")
	assert.Contains(t, output, activity.KeyVisitCount)
}

func TestSettings_InvalidSet(t *testing.T) {
	a, _ := newTestApp(t)

	cmd := &SettingsCommand{Set: []string{"novalue"}, globals: &GlobalFlags{}}
	err := cmd.execute(context.Background(), a)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "want key=value")
}

func TestSettings_ResetExperiment(t *testing.T) {
	a, _ := newTestApp(t)
	ctx := context.Background()

	exp := kvstore.NewExperiments(a.kv, kvstore.WithRoll(func() int { return 0 }))
	bucket, err := exp.DetermineBucket(ctx, activity.ActivityTabExperiment, activity.ActivityTabExperimentShare)
	require.NoError(t, err)
	assert.Equal(t, kvstore.BucketTest, bucket)

	cmd := &SettingsCommand{ResetExperiment: true, globals: &GlobalFlags{}}
	captureOutput(t, func() {
		require.NoError(t, cmd.execute(ctx, a))
	})

	_, ok, err := exp.BucketFor(ctx, activity.ActivityTabExperiment)
	require.NoError(t, err)
	assert.False(t, ok)
}
