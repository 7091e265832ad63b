package activity

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/runnerr0/pagelog/internal/saved"
	"github.com/runnerr0/pagelog/internal/storage"
	"github.com/runnerr0/pagelog/internal/summary"
)

// TimelineReadLimit caps the page views read into Timeline.
const TimelineReadLimit = 1000

// SavedTimeline supplies saved pages, one per article, newest first.
type SavedTimeline interface {
	FetchTimelinePages(ctx context.Context) ([]saved.PageWithTimestamp, error)
}

// ItemType tells read and saved timeline entries apart.
type ItemType string

const (
	ItemRead  ItemType = "read"
	ItemSaved ItemType = "saved"
)

// TimelineItem is one read or save on the timeline.
type TimelineItem struct {
	ID          string    `json:"id"`
	Type        ItemType  `json:"type"`
	Date        time.Time `json:"date"`
	ProjectID   string    `json:"project_id"`
	NamespaceID int16     `json:"namespace_id"`
	Title       string    `json:"title"`
	URL         string    `json:"url,omitempty"`
}

// TimelineDay holds the timeline items of one calendar day, oldest first.
type TimelineDay struct {
	Date  time.Time      `json:"date"`
	Items []TimelineItem `json:"items"`
}

func newTimelineItem(t ItemType, projectID string, namespaceID int16, title string, date time.Time) TimelineItem {
	item := TimelineItem{
		ID:          string(t) + "~" + projectID + "~" + title + "~" + strconv.FormatInt(date.Unix(), 10),
		Type:        t,
		Date:        date,
		ProjectID:   projectID,
		NamespaceID: namespaceID,
		Title:       title,
	}
	if u, err := summary.ArticleURL(projectID, title); err == nil {
		item.URL = u
	}
	return item
}

// Timeline merges saved pages and reads into days, newest day first.
// Saved pages appear once each, on the day of their latest save. A page
// read several times on one day appears once for that day, at its latest
// read.
func (c *Controller) Timeline(ctx context.Context) ([]TimelineDay, error) {
	var items []TimelineItem
	if c.saved != nil {
		pages, err := c.saved.FetchTimelinePages(ctx)
		if err != nil {
			return nil, fmt.Errorf("fetch saved timeline: %w", err)
		}
		seen := make(map[string]bool, len(pages))
		for _, p := range pages {
			if seen[p.Key()] {
				continue
			}
			seen[p.Key()] = true
			items = append(items, newTimelineItem(ItemSaved, p.ProjectID, p.NamespaceID, p.Title, p.Timestamp))
		}
	}

	reads, err := c.readItems(ctx)
	if err != nil {
		return nil, err
	}
	items = append(items, reads...)
	return groupTimeline(items, c.location), nil
}

func (c *Controller) readItems(ctx context.Context) ([]TimelineItem, error) {
	ec, err := c.store.NewBackgroundContext()
	if err != nil {
		return nil, err
	}
	return storage.PerformValue(ctx, ec, func(ctx context.Context) ([]TimelineItem, error) {
		views, err := storage.Fetch[storage.PageView](ctx, ec, storage.FetchRequest{
			SortBy: []storage.SortDescriptor{storage.Desc("timestamp")},
			Limit:  TimelineReadLimit,
		})
		if err != nil {
			return nil, fmt.Errorf("fetch timeline views: %w", err)
		}
		if len(views) == 0 {
			return nil, nil
		}
		pageIDs := make([]string, len(views))
		for i, v := range views {
			pageIDs[i] = v.PageID
		}
		pages, err := storage.FetchIn[storage.Page](ctx, ec, "id", pageIDs, storage.FetchRequest{})
		if err != nil {
			return nil, fmt.Errorf("fetch timeline pages: %w", err)
		}
		byID := make(map[string]*storage.Page, len(pages))
		for _, p := range pages {
			byID[p.ID] = p
		}

		type dayKey struct {
			day     time.Time
			article string
		}
		seen := make(map[dayKey]bool)
		var out []TimelineItem
		for _, v := range views {
			p, ok := byID[v.PageID]
			if !ok {
				continue
			}
			k := dayKey{startOfDay(v.Timestamp, c.location), storage.ArticleKey(p.ProjectID, p.Title)}
			if seen[k] {
				continue
			}
			seen[k] = true
			out = append(out, newTimelineItem(ItemRead, p.ProjectID, p.NamespaceID, p.Title, v.Timestamp))
		}
		return out, nil
	})
}

func groupTimeline(items []TimelineItem, loc *time.Location) []TimelineDay {
	days := []TimelineDay{}
	index := make(map[time.Time]int)
	for _, it := range items {
		d := startOfDay(it.Date, loc)
		i, ok := index[d]
		if !ok {
			i = len(days)
			index[d] = i
			days = append(days, TimelineDay{Date: d})
		}
		days[i].Items = append(days[i].Items, it)
	}
	for _, d := range days {
		sort.SliceStable(d.Items, func(i, j int) bool { return d.Items[i].Date.Before(d.Items[j].Date) })
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Date.After(days[j].Date) })
	return days
}
