// Package pageviews is the write side of the page view history: it
// records views, their reading time and categories, imports legacy
// history and performs the full-history erase.
package pageviews

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/runnerr0/pagelog/internal/storage"
)

var (
	// ErrInvalidPage is returned for a page reference without a project
	// or title.
	ErrInvalidPage = errors.New("pageviews: page reference needs a project and a title")

	// ErrNotFound is returned when a page view ID does not exist.
	ErrNotFound = errors.New("pageviews: page view not found")
)

// Recorder appends page views to the store. Each call runs in its own
// background context.
type Recorder struct {
	store  *storage.Store
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithLogger sets the recorder's logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Recorder) { r.logger = l }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Recorder) { r.now = now }
}

// NewRecorder creates a Recorder over store.
func NewRecorder(store *storage.Store, opts ...Option) *Recorder {
	r := &Recorder{
		store:  store,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func validRef(ref storage.PageRef) (storage.PageRef, error) {
	n := ref.Normalized()
	if strings.TrimSpace(n.ProjectID) == "" || n.Title == "" {
		return n, ErrInvalidPage
	}
	return n, nil
}

// pageFor fetches or creates the Page for ref inside ec and stamps it.
func pageFor(ctx context.Context, ec *storage.ExecutionContext, ref storage.PageRef, ts time.Time) (*storage.Page, error) {
	page, created, err := storage.FetchOrCreate[storage.Page](ctx, ec, ref.Predicate())
	if err != nil {
		return nil, fmt.Errorf("fetch page: %w", err)
	}
	if created {
		page.ProjectID = ref.ProjectID
		page.NamespaceID = ref.NamespaceID
		page.Title = ref.Title
	}
	if ts.After(page.Timestamp) {
		page.Timestamp = ts
	}
	return page, nil
}

// AddPageView records a view of ref now, linked to the view the reader
// came from (empty for none). It returns the new view's ID.
func (r *Recorder) AddPageView(ctx context.Context, ref storage.PageRef, previousID string) (string, error) {
	ref, err := validRef(ref)
	if err != nil {
		return "", err
	}
	ec, err := r.store.NewBackgroundContext()
	if err != nil {
		return "", err
	}
	id, err := storage.PerformValue(ctx, ec, func(ctx context.Context) (string, error) {
		now := r.now()
		page, err := pageFor(ctx, ec, ref, now)
		if err != nil {
			return "", err
		}
		view := storage.Create[storage.PageView](ec)
		view.PageID = page.ID
		view.Timestamp = now
		view.PreviousPageViewID = previousID
		if err := ec.SaveIfNeeded(ctx); err != nil {
			return "", fmt.Errorf("save page view: %w", err)
		}
		return view.ID, nil
	})
	if err != nil {
		return "", err
	}
	r.logger.Debug("recorded page view", "id", id, "project", ref.ProjectID, "title", ref.Title)
	return id, nil
}

// AddPageViewSeconds adds reading time to an existing view.
func (r *Recorder) AddPageViewSeconds(ctx context.Context, viewID string, seconds int64) error {
	if seconds <= 0 {
		return nil
	}
	ec, err := r.store.NewBackgroundContext()
	if err != nil {
		return err
	}
	return ec.Perform(ctx, func(ctx context.Context) error {
		views, err := storage.Fetch[storage.PageView](ctx, ec, storage.FetchRequest{
			Predicate: storage.Eq("id", viewID),
			Limit:     1,
		})
		if err != nil {
			return fmt.Errorf("fetch page view: %w", err)
		}
		if len(views) == 0 {
			return fmt.Errorf("%w: %s", ErrNotFound, viewID)
		}
		views[0].NumberOfSeconds += seconds
		return ec.SaveIfNeeded(ctx)
	})
}

// AddCategories attaches category titles to a view. Categories are shared
// per project, and repeated titles are attached once.
func (r *Recorder) AddCategories(ctx context.Context, viewID, projectID string, titles []string) error {
	ec, err := r.store.NewBackgroundContext()
	if err != nil {
		return err
	}
	return ec.Perform(ctx, func(ctx context.Context) error {
		n, err := storage.Count[storage.PageView](ctx, ec, storage.Eq("id", viewID))
		if err != nil {
			return fmt.Errorf("fetch page view: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("%w: %s", ErrNotFound, viewID)
		}

		for _, raw := range titles {
			title := storage.NormalizeTitle(raw)
			if title == "" {
				continue
			}
			cat, created, err := storage.FetchOrCreate[storage.Category](ctx, ec, storage.And(
				storage.Eq("project_id", projectID),
				storage.Eq("title", title),
			))
			if err != nil {
				return fmt.Errorf("fetch category: %w", err)
			}
			if created {
				cat.ProjectID = projectID
				cat.Title = title
			}
			assoc, created, err := storage.FetchOrCreate[storage.PageViewCategory](ctx, ec, storage.And(
				storage.Eq("page_view_id", viewID),
				storage.Eq("category_id", cat.ID),
			))
			if err != nil {
				return fmt.Errorf("fetch category association: %w", err)
			}
			if created {
				assoc.PageViewID = viewID
				assoc.CategoryID = cat.ID
			}
		}
		return ec.SaveIfNeeded(ctx)
	})
}

// LegacyPageView is a history entry imported from an older store.
type LegacyPageView struct {
	ProjectID   string    `json:"project_id"`
	NamespaceID int16     `json:"namespace_id"`
	Title       string    `json:"title"`
	ViewedDate  time.Time `json:"viewed_date"`
}

// ImportPageViews appends legacy history in a single commit. Entries with
// an invalid page reference are skipped. It returns the number imported.
func (r *Recorder) ImportPageViews(ctx context.Context, entries []LegacyPageView) (int, error) {
	if len(entries) == 0 {
		return 0, nil
	}
	ec, err := r.store.NewBackgroundContext()
	if err != nil {
		return 0, err
	}
	imported, err := storage.PerformValue(ctx, ec, func(ctx context.Context) (int, error) {
		count := 0
		for _, e := range entries {
			ref, err := validRef(storage.PageRef{ProjectID: e.ProjectID, NamespaceID: e.NamespaceID, Title: e.Title})
			if err != nil {
				r.logger.Warn("skipping legacy page view", "project", e.ProjectID, "title", e.Title)
				continue
			}
			page, err := pageFor(ctx, ec, ref, e.ViewedDate)
			if err != nil {
				return 0, err
			}
			view := storage.Create[storage.PageView](ec)
			view.PageID = page.ID
			view.Timestamp = e.ViewedDate
			count++
		}
		if err := ec.SaveIfNeeded(ctx); err != nil {
			return 0, fmt.Errorf("save imported page views: %w", err)
		}
		return count, nil
	})
	if err != nil {
		return 0, err
	}
	r.logger.Info("imported page views", "count", imported)
	return imported, nil
}

// EraseResult counts what DeleteAllPageViewsAndCategories removed.
type EraseResult struct {
	PageViews  int `json:"page_views"`
	Categories int `json:"categories"`
}

// DeleteAllPageViewsAndCategories erases the whole reading history. It is
// the only operation that removes page views. The view context starts over
// from committed state afterwards.
func (r *Recorder) DeleteAllPageViewsAndCategories(ctx context.Context) (EraseResult, error) {
	var res EraseResult
	ec, err := r.store.NewBackgroundContext()
	if err != nil {
		return res, err
	}
	err = ec.Perform(ctx, func(ctx context.Context) error {
		if _, err := storage.BatchDelete[storage.PageViewCategory](ctx, ec, nil); err != nil {
			return err
		}
		n, err := storage.BatchDelete[storage.PageView](ctx, ec, nil)
		if err != nil {
			return err
		}
		res.PageViews = n
		n, err = storage.BatchDelete[storage.Category](ctx, ec, nil)
		if err != nil {
			return err
		}
		res.Categories = n
		return nil
	})
	if err != nil {
		return res, fmt.Errorf("erase history: %w", err)
	}
	if err := r.store.ResetViewContext(ctx); err != nil {
		return res, fmt.Errorf("reset view context: %w", err)
	}
	r.logger.Info("erased reading history", "page_views", res.PageViews, "categories", res.Categories)
	return res, nil
}
