package saved

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/runnerr0/pagelog/internal/storage"
	"github.com/runnerr0/pagelog/internal/summary"
)

// --- Mocks ---

type MockFetcher struct {
	mock.Mock
}

func (m *MockFetcher) FetchArticleSummary(ctx context.Context, projectID, title string) (*summary.ArticleSummary, error) {
	args := m.Called(ctx, projectID, title)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*summary.ArticleSummary), args.Error(1)
}

func openTestStore(t *testing.T) *storage.Store {
	t.Helper()
	store, err := storage.Open(context.Background(), storage.Options{
		ContainerDir: t.TempDir(),
		Model:        storage.DefaultModel(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func newTestController(store *storage.Store, f summary.Fetcher, now *time.Time, opts ...Option) *Controller {
	base := []Option{
		WithRand(rand.New(rand.NewPCG(1, 2))),
		WithRateLimit(rate.Inf, 1),
		WithClock(func() time.Time { return *now }),
	}
	return NewController(store, f, append(base, opts...)...)
}

var base = time.Date(2025, 9, 10, 12, 0, 0, 0, time.UTC)

func savePages(t *testing.T, c *Controller, now *time.Time, titles ...string) {
	t.Helper()
	for _, title := range titles {
		_, err := c.SavePage(context.Background(), storage.PageRef{ProjectID: "wikipedia~en", Title: title})
		require.NoError(t, err)
		*now = now.Add(time.Minute)
	}
}

func TestFetchSavedArticleModuleData_BestEffort(t *testing.T) {
	store := openTestStore(t)
	f := new(MockFetcher)
	now := base
	c := newTestController(store, f, &now)

	var titles []string
	for i := 0; i < 10; i++ {
		titles = append(titles, fmt.Sprintf("Article %d", i))
	}
	savePages(t, c, &now, titles...)

	for i, title := range titles {
		stored := storage.NormalizeTitle(title)
		switch i {
		case 2, 7:
			f.On("FetchArticleSummary", mock.Anything, "wikipedia~en", stored).
				Return(&summary.ArticleSummary{Title: title, ThumbnailURL: "https://img/" + stored}, nil)
		case 3:
			f.On("FetchArticleSummary", mock.Anything, "wikipedia~en", stored).
				Return(&summary.ArticleSummary{Title: title}, summary.ErrNoThumbnail)
		default:
			f.On("FetchArticleSummary", mock.Anything, "wikipedia~en", stored).
				Return(nil, errors.New("network down"))
		}
	}

	data, err := c.FetchSavedArticleModuleData(context.Background(), base.Add(-time.Hour), now)
	require.NoError(t, err)
	require.NotNil(t, data)
	assert.Equal(t, 10, data.Count)
	assert.ElementsMatch(t, []string{"https://img/Article_2", "https://img/Article_7"}, data.ThumbnailURLs)
	assert.ElementsMatch(t, []string{"Article 2", "Article 7"}, data.Titles)
	assert.True(t, base.Add(9*time.Minute).Equal(data.LastSavedDate))
	f.AssertNumberOfCalls(t, "FetchArticleSummary", 10)
}

func TestFetchSavedArticleModuleData_StopsAtMaxThumbnails(t *testing.T) {
	store := openTestStore(t)
	f := new(MockFetcher)
	now := base
	c := newTestController(store, f, &now)
	savePages(t, c, &now, "A", "B", "C", "D", "E")

	f.On("FetchArticleSummary", mock.Anything, "wikipedia~en", mock.Anything).
		Return(&summary.ArticleSummary{ThumbnailURL: "https://img/x"}, nil)

	data, err := c.FetchSavedArticleModuleData(context.Background(), base, now)
	require.NoError(t, err)
	assert.Len(t, data.ThumbnailURLs, DefaultMaxThumbnails)
	assert.Len(t, data.Titles, DefaultMaxThumbnails)
	assert.Equal(t, 5, data.Count)
	f.AssertNumberOfCalls(t, "FetchArticleSummary", DefaultMaxThumbnails)
}

func TestFetchSavedArticleModuleData_NoCandidates(t *testing.T) {
	store := openTestStore(t)
	f := new(MockFetcher)
	now := base
	c := newTestController(store, f, &now)
	savePages(t, c, &now, "Old")

	data, err := c.FetchSavedArticleModuleData(context.Background(), base.Add(time.Hour), base.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Nil(t, data)
	f.AssertNotCalled(t, "FetchArticleSummary", mock.Anything, mock.Anything, mock.Anything)
}

func TestFetchSavedArticleModuleData_ItemTimeout(t *testing.T) {
	store := openTestStore(t)
	now := base
	slow := storage.NormalizeTitle("Slow")
	f := summary.FetcherFunc(func(ctx context.Context, projectID, title string) (*summary.ArticleSummary, error) {
		if title == slow {
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return &summary.ArticleSummary{ThumbnailURL: "https://img/" + title}, nil
	})
	c := newTestController(store, f, &now, WithEnrichmentBounds(0, 20*time.Millisecond, time.Second))
	savePages(t, c, &now, "Slow", "Fast")

	data, err := c.FetchSavedArticleModuleData(context.Background(), base, now)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://img/Fast"}, data.ThumbnailURLs)
	assert.Equal(t, 2, data.Count)
}

func TestFetchSavedArticleModuleData_OverallDeadline(t *testing.T) {
	store := openTestStore(t)
	now := base
	f := summary.FetcherFunc(func(ctx context.Context, projectID, title string) (*summary.ArticleSummary, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	c := newTestController(store, f, &now, WithEnrichmentBounds(0, time.Second, 30*time.Millisecond))
	savePages(t, c, &now, "A", "B", "C")

	start := time.Now()
	data, err := c.FetchSavedArticleModuleData(context.Background(), base, now)
	require.NoError(t, err)
	assert.Empty(t, data.ThumbnailURLs)
	assert.Equal(t, 3, data.Count)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestFetchSavedArticleModuleData_StoreErrorPropagates(t *testing.T) {
	store := openTestStore(t)
	now := base
	c := newTestController(store, new(MockFetcher), &now)
	require.NoError(t, store.Close())

	_, err := c.FetchSavedArticleModuleData(context.Background(), base, now)
	assert.ErrorIs(t, err, storage.ErrMissingStore)
}

func TestFetchTimelinePages_DedupAndOrder(t *testing.T) {
	store := openTestStore(t)
	now := base
	c := newTestController(store, new(MockFetcher), &now)

	savePages(t, c, &now, "Cat", "Dog", "Cat", "Emu")
	_, err := c.SavePage(context.Background(), storage.PageRef{ProjectID: "wikipedia~de", Title: "Cat"})
	require.NoError(t, err)

	pages, err := c.FetchTimelinePages(context.Background())
	require.NoError(t, err)
	require.Len(t, pages, 4)

	keys := make([]string, len(pages))
	for i, p := range pages {
		keys[i] = p.Key()
		if i > 0 {
			assert.False(t, p.Timestamp.After(pages[i-1].Timestamp), "descending by date")
		}
	}
	assert.Equal(t, []string{"wikipedia~de::Cat", "wikipedia~en::Emu", "wikipedia~en::Cat", "wikipedia~en::Dog"}, keys)
	assert.True(t, base.Add(2*time.Minute).Equal(pages[2].Timestamp), "re-save reflects the latest save")
}

func TestDedupeLatest(t *testing.T) {
	items := []PageWithTimestamp{
		{ProjectID: "wikipedia~en", Title: "A", Timestamp: base},
		{ProjectID: "wikipedia~en", Title: "B", Timestamp: base.Add(time.Hour)},
		{ProjectID: "wikipedia~en", Title: "A", Timestamp: base.Add(2 * time.Hour)},
		{ProjectID: "wikipedia~fr", Title: "A", Timestamp: base.Add(-time.Hour)},
	}
	got := dedupeLatest(items)
	require.Len(t, got, 3)
	assert.Equal(t, "A", got[0].Title)
	assert.True(t, base.Add(2*time.Hour).Equal(got[0].Timestamp))
	assert.Equal(t, "B", got[1].Title)
	assert.Equal(t, "wikipedia~fr", got[2].ProjectID)
	assert.Equal(t, "wikipedia~en", items[0].ProjectID, "input is not reordered")
	assert.Equal(t, "A", items[0].Title)
}

func TestSaveUnsave(t *testing.T) {
	store := openTestStore(t)
	now := base
	c := newTestController(store, new(MockFetcher), &now)
	ctx := context.Background()
	ref := storage.PageRef{ProjectID: "wikipedia~en", Title: "Go"}

	saved, err := c.IsSaved(ctx, ref)
	require.NoError(t, err)
	assert.False(t, saved)

	_, err = c.SavePage(ctx, ref)
	require.NoError(t, err)
	_, err = c.SavePage(ctx, ref)
	require.NoError(t, err)

	n, err := c.SavedCount(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n, "a page has at most one save info")

	saved, err = c.IsSaved(ctx, ref)
	require.NoError(t, err)
	assert.True(t, saved)

	removed, err := c.UnsavePage(ctx, ref)
	require.NoError(t, err)
	assert.True(t, removed)
	removed, err = c.UnsavePage(ctx, ref)
	require.NoError(t, err)
	assert.False(t, removed)

	n, err = c.SavedCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}
