package cli

import (
	"bytes"
	"context"
	"io"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/runnerr0/pagelog/internal/config"
	"github.com/runnerr0/pagelog/internal/logging"
	"github.com/runnerr0/pagelog/internal/storage"
	"github.com/runnerr0/pagelog/internal/summary"
)

// captureOutput captures stdout during fn execution and returns it as a string.
func captureOutput(t *testing.T, fn func()) string {
	t.Helper()
	old := os.Stdout
	r, w, err := os.Pipe()
	require.NoError(t, err)
	os.Stdout = w

	fn()

	w.Close()
	os.Stdout = old

	var buf bytes.Buffer
	_, _ = io.Copy(&buf, r)
	return buf.String()
}

// testClock is a settable clock shared by every store of a test app.
type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

var testNow = time.Date(2025, time.June, 18, 12, 0, 0, 0, time.UTC)

// newTestApp opens an app over a temp directory with a UTC clock fixed at
// testNow and a summary fetcher that never finds thumbnails.
func newTestApp(t *testing.T) (*app, *testClock) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Storage.ContainerDir = t.TempDir()
	cfg.Activity.Timezone = "UTC"

	clock := &testClock{t: testNow}
	fetcher := summary.FetcherFunc(func(ctx context.Context, projectID, title string) (*summary.ArticleSummary, error) {
		return nil, summary.ErrNoThumbnail
	})

	a, err := newApp(context.Background(), cfg, logging.Discard(), fetcher, clock.Now)
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a, clock
}

// recordView records a view of title in the default project at the app clock.
func recordView(t *testing.T, a *app, title string, seconds int64, categories ...string) string {
	t.Helper()
	ctx := context.Background()
	ref := storage.PageRef{ProjectID: "wikipedia~en", Title: title}
	id, err := a.recorder.AddPageView(ctx, ref, "")
	require.NoError(t, err)
	require.NoError(t, a.recorder.AddPageViewSeconds(ctx, id, seconds))
	if len(categories) > 0 {
		require.NoError(t, a.recorder.AddCategories(ctx, id, ref.ProjectID, categories))
	}
	return id
}
