package history

import (
	"context"
	"fmt"

	"github.com/runnerr0/pagelog/internal/storage"
	"github.com/runnerr0/pagelog/internal/summary"
)

// StoreRecords returns a provider that reads page views from store,
// newest first. A positive limit caps the number of records.
func StoreRecords(store *storage.Store, limit int) RecordsProvider {
	return func(ctx context.Context) ([]Record, error) {
		ec, err := store.NewBackgroundContext()
		if err != nil {
			return nil, err
		}
		return storage.PerformValue(ctx, ec, func(ctx context.Context) ([]Record, error) {
			return loadRecords(ctx, ec, limit)
		})
	}
}

func loadRecords(ctx context.Context, ec *storage.ExecutionContext, limit int) ([]Record, error) {
	views, err := storage.Fetch[storage.PageView](ctx, ec, storage.FetchRequest{
		SortBy: []storage.SortDescriptor{storage.Desc("timestamp")},
		Limit:  limit,
	})
	if err != nil {
		return nil, fmt.Errorf("fetch page views: %w", err)
	}
	if len(views) == 0 {
		return []Record{}, nil
	}

	pageIDs := make([]string, 0, len(views))
	seen := make(map[string]bool)
	for _, v := range views {
		if !seen[v.PageID] {
			seen[v.PageID] = true
			pageIDs = append(pageIDs, v.PageID)
		}
	}
	pages, err := storage.FetchIn[storage.Page](ctx, ec, "id", pageIDs, storage.FetchRequest{})
	if err != nil {
		return nil, fmt.Errorf("fetch pages: %w", err)
	}
	byID := make(map[string]*storage.Page, len(pages))
	for _, p := range pages {
		byID[p.ID] = p
	}
	infos, err := storage.FetchIn[storage.SaveInfo](ctx, ec, "page_id", pageIDs, storage.FetchRequest{})
	if err != nil {
		return nil, fmt.Errorf("fetch save infos: %w", err)
	}
	saved := make(map[string]bool, len(infos))
	for _, info := range infos {
		saved[info.PageID] = true
	}

	records := make([]Record, 0, len(views))
	for _, v := range views {
		p, ok := byID[v.PageID]
		if !ok {
			continue
		}
		r := Record{
			ID:         v.ID,
			ProjectID:   p.ProjectID,
			NamespaceID: p.NamespaceID,
			Title:       p.Title,
			ViewedDate:  v.Timestamp,
			IsSaved:     saved[p.ID],
		}
		if u, err := summary.ArticleURL(p.ProjectID, p.Title); err == nil {
			r.ArticleURL = u
		}
		records = append(records, r)
	}
	return records, nil
}
