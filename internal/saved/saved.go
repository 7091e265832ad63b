// Package saved projects saved pages into the saved-articles module and
// the saved half of the activity timeline, and owns the save/unsave
// write path.
package saved

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/runnerr0/pagelog/internal/storage"
	"github.com/runnerr0/pagelog/internal/summary"
)

const (
	// DefaultMaxThumbnails is how many thumbnails the module collects.
	DefaultMaxThumbnails = 3
	// DefaultItemTimeout bounds one summary fetch.
	DefaultItemTimeout = 5 * time.Second
	// DefaultDeadline bounds the whole enrichment loop.
	DefaultDeadline = 15 * time.Second
	// TimelineLimit caps FetchTimelinePages.
	TimelineLimit = 1000
)

// ModuleData is the saved-articles snapshot. Titles run parallel to
// ThumbnailURLs.
type ModuleData struct {
	Count         int       `json:"count"`
	ThumbnailURLs []string  `json:"thumbnail_urls"`
	Titles        []string  `json:"titles"`
	LastSavedDate time.Time `json:"last_saved_date"`
}

// PageWithTimestamp is a saved page with its saved date.
type PageWithTimestamp struct {
	ProjectID   string    `json:"project_id"`
	NamespaceID int16     `json:"namespace_id"`
	Title       string    `json:"title"`
	Timestamp   time.Time `json:"timestamp"`
}

// Key returns the dedup key "projectID::title".
func (p PageWithTimestamp) Key() string {
	return storage.ArticleKey(p.ProjectID, p.Title)
}

// Controller serves saved-article projections. Calls on one Controller
// are serialized.
type Controller struct {
	mu sync.Mutex

	store         *storage.Store
	fetcher       summary.Fetcher
	logger        *slog.Logger
	limiter       *rate.Limiter
	shuffle       func(n int, swap func(i, j int))
	now           func() time.Time
	maxThumbnails int
	itemTimeout   time.Duration
	deadline      time.Duration
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the controller's logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// WithRand shuffles candidates with r.
func WithRand(r *rand.Rand) Option {
	return func(c *Controller) { c.shuffle = r.Shuffle }
}

// WithRateLimit paces summary fetches at perSecond with the given burst.
func WithRateLimit(perSecond rate.Limit, burst int) Option {
	return func(c *Controller) { c.limiter = rate.NewLimiter(perSecond, burst) }
}

// WithEnrichmentBounds overrides the thumbnail count and timeouts.
// Non-positive values keep the defaults.
func WithEnrichmentBounds(maxThumbnails int, itemTimeout, deadline time.Duration) Option {
	return func(c *Controller) {
		if maxThumbnails > 0 {
			c.maxThumbnails = maxThumbnails
		}
		if itemTimeout > 0 {
			c.itemTimeout = itemTimeout
		}
		if deadline > 0 {
			c.deadline = deadline
		}
	}
}

// WithClock overrides time.Now for save dates.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// NewController creates a saved-articles controller.
func NewController(store *storage.Store, fetcher summary.Fetcher, opts ...Option) *Controller {
	c := &Controller{
		store:         store,
		fetcher:       fetcher,
		logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
		limiter:       rate.NewLimiter(rate.Limit(4), 1),
		shuffle:       rand.Shuffle,
		now:           time.Now,
		maxThumbnails: DefaultMaxThumbnails,
		itemTimeout:   DefaultItemTimeout,
		deadline:      DefaultDeadline,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// savedPages returns saved pages matching pred on SaveInfo, newest save
// first.
func savedPages(ctx context.Context, ec *storage.ExecutionContext, pred storage.Predicate, limit int) ([]PageWithTimestamp, error) {
	infos, err := storage.Fetch[storage.SaveInfo](ctx, ec, storage.FetchRequest{
		Predicate: pred,
		SortBy:    []storage.SortDescriptor{storage.Desc("saved_date")},
		Limit:     limit,
	})
	if err != nil {
		return nil, fmt.Errorf("fetch save infos: %w", err)
	}
	if len(infos) == 0 {
		return nil, nil
	}

	ids := make([]string, len(infos))
	for i, info := range infos {
		ids[i] = info.PageID
	}
	pages, err := storage.FetchIn[storage.Page](ctx, ec, "id", ids, storage.FetchRequest{})
	if err != nil {
		return nil, fmt.Errorf("fetch saved pages: %w", err)
	}
	byID := make(map[string]*storage.Page, len(pages))
	for _, p := range pages {
		byID[p.ID] = p
	}

	out := make([]PageWithTimestamp, 0, len(infos))
	for _, info := range infos {
		p, ok := byID[info.PageID]
		if !ok {
			continue
		}
		out = append(out, PageWithTimestamp{
			ProjectID:   p.ProjectID,
			NamespaceID: p.NamespaceID,
			Title:       p.Title,
			Timestamp:   info.SavedDate,
		})
	}
	return out, nil
}

// dedupeLatest keeps the newest entry per article key, newest first.
func dedupeLatest(items []PageWithTimestamp) []PageWithTimestamp {
	sorted := make([]PageWithTimestamp, len(items))
	copy(sorted, items)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.After(sorted[j].Timestamp)
	})
	seen := make(map[string]bool, len(sorted))
	out := sorted[:0]
	for _, it := range sorted {
		if seen[it.Key()] {
			continue
		}
		seen[it.Key()] = true
		out = append(out, it)
	}
	return out
}

// FetchSavedArticleModuleData returns the saved-articles snapshot for
// pages saved in [from, to], or nil when there are none. Thumbnails are
// collected best effort from shuffled candidates; enrichment failures
// are logged and skipped, and reaching the deadline returns what was
// collected so far.
func (c *Controller) FetchSavedArticleModuleData(ctx context.Context, from, to time.Time) (*ModuleData, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ec, err := c.store.NewBackgroundContext()
	if err != nil {
		return nil, err
	}
	candidates, err := storage.PerformValue(ctx, ec, func(ctx context.Context) ([]PageWithTimestamp, error) {
		return savedPages(ctx, ec, storage.And(
			storage.Gte("saved_date", from),
			storage.Lte("saved_date", to),
		), 0)
	})
	if err != nil {
		return nil, err
	}
	candidates = dedupeLatest(candidates)
	if len(candidates) == 0 {
		return nil, nil
	}

	data := &ModuleData{
		Count:         len(candidates),
		ThumbnailURLs: []string{},
		Titles:        []string{},
		LastSavedDate: candidates[0].Timestamp,
	}

	shuffled := make([]PageWithTimestamp, len(candidates))
	copy(shuffled, candidates)
	c.shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })

	c.enrich(ctx, shuffled, data)
	return data, nil
}

func (c *Controller) enrich(ctx context.Context, candidates []PageWithTimestamp, data *ModuleData) {
	dctx, cancel := context.WithTimeout(ctx, c.deadline)
	defer cancel()

	for _, cand := range candidates {
		if len(data.ThumbnailURLs) >= c.maxThumbnails {
			return
		}
		if err := c.limiter.Wait(dctx); err != nil {
			c.logger.Warn("thumbnail enrichment stopped", "error", err, "collected", len(data.ThumbnailURLs))
			return
		}

		ictx, icancel := context.WithTimeout(dctx, c.itemTimeout)
		s, err := c.fetcher.FetchArticleSummary(ictx, cand.ProjectID, cand.Title)
		icancel()

		switch {
		case errors.Is(err, summary.ErrNoThumbnail):
			c.logger.Debug("saved article has no thumbnail", "project", cand.ProjectID, "title", cand.Title)
			continue
		case err != nil:
			c.logger.Warn("saved article enrichment failed",
				"project", cand.ProjectID, "title", cand.Title, "error", err)
			if dctx.Err() != nil {
				return
			}
			continue
		case s == nil || s.ThumbnailURL == "":
			continue
		}
		data.ThumbnailURLs = append(data.ThumbnailURLs, s.ThumbnailURL)
		data.Titles = append(data.Titles, storage.DisplayTitle(cand.Title))
	}
}

// FetchTimelinePages returns up to TimelineLimit most recently saved
// pages, one per article key, newest first.
func (c *Controller) FetchTimelinePages(ctx context.Context) ([]PageWithTimestamp, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ec, err := c.store.NewBackgroundContext()
	if err != nil {
		return nil, err
	}
	pages, err := storage.PerformValue(ctx, ec, func(ctx context.Context) ([]PageWithTimestamp, error) {
		return savedPages(ctx, ec, nil, TimelineLimit)
	})
	if err != nil {
		return nil, err
	}
	return dedupeLatest(pages), nil
}

// SavePage saves ref, creating its Page if needed. Saving an already
// saved page moves its saved date to now.
func (c *Controller) SavePage(ctx context.Context, ref storage.PageRef) (time.Time, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := ref.Normalized()
	if n.ProjectID == "" || n.Title == "" {
		return time.Time{}, fmt.Errorf("save page: empty project or title")
	}
	ec, err := c.store.NewBackgroundContext()
	if err != nil {
		return time.Time{}, err
	}
	now := c.now()
	err = ec.Perform(ctx, func(ctx context.Context) error {
		page, created, err := storage.FetchOrCreate[storage.Page](ctx, ec, n.Predicate())
		if err != nil {
			return fmt.Errorf("fetch page: %w", err)
		}
		if created {
			page.ProjectID, page.NamespaceID, page.Title, page.Timestamp = n.ProjectID, n.NamespaceID, n.Title, now
		}
		info, _, err := storage.FetchOrCreate[storage.SaveInfo](ctx, ec, storage.Eq("page_id", page.ID))
		if err != nil {
			return fmt.Errorf("fetch save info: %w", err)
		}
		info.PageID = page.ID
		info.SavedDate = now
		return ec.SaveIfNeeded(ctx)
	})
	if err != nil {
		return time.Time{}, err
	}
	c.logger.Debug("saved page", "project", n.ProjectID, "title", n.Title)
	return now, nil
}

// UnsavePage removes the SaveInfo of ref. It reports whether the page was
// saved.
func (c *Controller) UnsavePage(ctx context.Context, ref storage.PageRef) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ec, err := c.store.NewBackgroundContext()
	if err != nil {
		return false, err
	}
	return storage.PerformValue(ctx, ec, func(ctx context.Context) (bool, error) {
		info, err := saveInfoFor(ctx, ec, ref)
		if err != nil || info == nil {
			return false, err
		}
		ec.Delete(info)
		if err := ec.SaveIfNeeded(ctx); err != nil {
			return false, err
		}
		return true, nil
	})
}

// IsSaved reports whether ref has a SaveInfo.
func (c *Controller) IsSaved(ctx context.Context, ref storage.PageRef) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ec, err := c.store.NewBackgroundContext()
	if err != nil {
		return false, err
	}
	return storage.PerformValue(ctx, ec, func(ctx context.Context) (bool, error) {
		info, err := saveInfoFor(ctx, ec, ref)
		return info != nil, err
	})
}

// SavedCount returns the number of saved pages.
func (c *Controller) SavedCount(ctx context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ec, err := c.store.NewBackgroundContext()
	if err != nil {
		return 0, err
	}
	return storage.PerformValue(ctx, ec, func(ctx context.Context) (int64, error) {
		return storage.Count[storage.SaveInfo](ctx, ec, nil)
	})
}

func saveInfoFor(ctx context.Context, ec *storage.ExecutionContext, ref storage.PageRef) (*storage.SaveInfo, error) {
	pages, err := storage.Fetch[storage.Page](ctx, ec, storage.FetchRequest{Predicate: ref.Predicate(), Limit: 1})
	if err != nil {
		return nil, fmt.Errorf("fetch page: %w", err)
	}
	if len(pages) == 0 {
		return nil, nil
	}
	infos, err := storage.Fetch[storage.SaveInfo](ctx, ec, storage.FetchRequest{
		Predicate: storage.Eq("page_id", pages[0].ID),
		Limit:     1,
	})
	if err != nil {
		return nil, fmt.Errorf("fetch save info: %w", err)
	}
	if len(infos) == 0 {
		return nil, nil
	}
	return infos[0], nil
}
