// Package activity computes reading aggregates from page views. Every
// call recomputes from the store; nothing here writes.
package activity

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/runnerr0/pagelog/internal/storage"
)

// TopCategoryLimit is how many categories TopCategories returns.
const TopCategoryLimit = 3

// ReadTime is a duration split into hours and minutes.
type ReadTime struct {
	Hours   int `json:"hours"`
	Minutes int `json:"minutes"`
}

// Window is a half-open time range [Start, End).
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Days returns the number of calendar days in w.
func (w Window) Days() int {
	return int(w.End.Sub(w.Start).Hours()/24 + 0.5)
}

// Controller computes activity aggregates.
type Controller struct {
	store    *storage.Store
	saved    SavedTimeline
	logger   *slog.Logger
	now      func() time.Time
	location *time.Location
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the controller's logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// WithLocation sets the time zone calendar boundaries are computed in.
// The default is time.Local.
func WithLocation(loc *time.Location) Option {
	return func(c *Controller) {
		if loc != nil {
			c.location = loc
		}
	}
}

// WithSavedTimeline adds saved pages to Timeline.
func WithSavedTimeline(s SavedTimeline) Option {
	return func(c *Controller) { c.saved = s }
}

// NewController creates an activity controller over store.
func NewController(store *storage.Store, opts ...Option) *Controller {
	c := &Controller{
		store:    store,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:      time.Now,
		location: time.Local,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Controller) today() time.Time {
	return startOfDay(c.now(), c.location)
}

func startOfDay(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

func startOfMonth(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, loc)
}

// thisMonth matches page views from the first of the month through now.
func (c *Controller) thisMonth() storage.Predicate {
	now := c.now()
	return storage.And(
		storage.Gte("timestamp", startOfMonth(now, c.location)),
		storage.Lte("timestamp", now),
	)
}

// TimeReadPastSevenDays sums the reading time of views in
// [today-7d, today+1d).
func (c *Controller) TimeReadPastSevenDays(ctx context.Context) (ReadTime, error) {
	ec, err := c.store.NewBackgroundContext()
	if err != nil {
		return ReadTime{}, err
	}
	today := c.today()
	seconds, err := storage.Sum[storage.PageView](ctx, ec, "number_of_seconds",
		storage.Between("timestamp", today.AddDate(0, 0, -7), today.AddDate(0, 0, 1)))
	if err != nil {
		return ReadTime{}, fmt.Errorf("sum read time: %w", err)
	}
	minutes := int(seconds / 60)
	return ReadTime{Hours: minutes / 60, Minutes: minutes % 60}, nil
}

// ArticlesReadThisMonth counts views from the first of the month
// through now.
func (c *Controller) ArticlesReadThisMonth(ctx context.Context) (int, error) {
	ec, err := c.store.NewBackgroundContext()
	if err != nil {
		return 0, err
	}
	n, err := storage.Count[storage.PageView](ctx, ec, c.thisMonth())
	if err != nil {
		return 0, fmt.Errorf("count monthly reads: %w", err)
	}
	return int(n), nil
}

// WeeklyWindows partitions the calendar month containing month into
// consecutive 7-day windows starting on day 1. The last window ends at
// the start of the next month and may be shorter than 7 days.
func WeeklyWindows(month time.Time, loc *time.Location) []Window {
	start := startOfMonth(month, loc)
	end := start.AddDate(0, 1, 0)
	var out []Window
	for from := start; from.Before(end); from = from.AddDate(0, 0, 7) {
		to := from.AddDate(0, 0, 7)
		if to.After(end) {
			to = end
		}
		out = append(out, Window{Start: from, End: to})
	}
	return out
}

// WeeklyReadsThisMonth counts views in each window of
// WeeklyWindows(now).
func (c *Controller) WeeklyReadsThisMonth(ctx context.Context) ([]int, error) {
	ec, err := c.store.NewBackgroundContext()
	if err != nil {
		return nil, err
	}
	windows := WeeklyWindows(c.now(), c.location)
	counts := make([]int, len(windows))
	for i, w := range windows {
		n, err := storage.Count[storage.PageView](ctx, ec, storage.Between("timestamp", w.Start, w.End))
		if err != nil {
			return nil, fmt.Errorf("count reads for week %d: %w", i+1, err)
		}
		counts[i] = int(n)
	}
	return counts, nil
}

// TopCategories returns the names of the most frequent categories of this
// month's views, most frequent first with ties broken by name.
func (c *Controller) TopCategories(ctx context.Context) ([]string, error) {
	ec, err := c.store.NewBackgroundContext()
	if err != nil {
		return nil, err
	}
	pred := c.thisMonth()
	return storage.PerformValue(ctx, ec, func(ctx context.Context) ([]string, error) {
		views, err := storage.Fetch[storage.PageView](ctx, ec, storage.FetchRequest{Predicate: pred})
		if err != nil {
			return nil, fmt.Errorf("fetch monthly views: %w", err)
		}
		if len(views) == 0 {
			return []string{}, nil
		}
		ids := make([]string, len(views))
		for i, v := range views {
			ids[i] = v.ID
		}
		perCategory, err := storage.CountGroupedIn[storage.PageViewCategory](ctx, ec, "category_id",
			"page_view_id", ids, nil)
		if err != nil {
			return nil, fmt.Errorf("count categories: %w", err)
		}
		if len(perCategory) == 0 {
			return []string{}, nil
		}

		categoryIDs := make([]string, 0, len(perCategory))
		for id := range perCategory {
			categoryIDs = append(categoryIDs, id)
		}
		categories, err := storage.FetchIn[storage.Category](ctx, ec, "id", categoryIDs, storage.FetchRequest{})
		if err != nil {
			return nil, fmt.Errorf("fetch categories: %w", err)
		}
		byName := make(map[string]int64)
		for _, cat := range categories {
			byName[storage.DisplayTitle(cat.Title)] += perCategory[cat.ID]
		}
		return topNames(byName, TopCategoryLimit), nil
	})
}

func topNames(counts map[string]int64, limit int) []string {
	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if counts[names[i]] != counts[names[j]] {
			return counts[names[i]] > counts[names[j]]
		}
		return names[i] < names[j]
	})
	if len(names) > limit {
		names = names[:limit]
	}
	return names
}

// MostRecentReadTime returns the newest view timestamp, or nil when there
// are no views.
func (c *Controller) MostRecentReadTime(ctx context.Context) (*time.Time, error) {
	ec, err := c.store.NewBackgroundContext()
	if err != nil {
		return nil, err
	}
	return storage.PerformValue(ctx, ec, func(ctx context.Context) (*time.Time, error) {
		views, err := storage.Fetch[storage.PageView](ctx, ec, storage.FetchRequest{
			SortBy: []storage.SortDescriptor{storage.Desc("timestamp")},
			Limit:  1,
		})
		if err != nil {
			return nil, fmt.Errorf("fetch latest view: %w", err)
		}
		if len(views) == 0 {
			return nil, nil
		}
		ts := views[0].Timestamp
		return &ts, nil
	})
}

// Streak is the current and longest run of consecutive days with at
// least one view.
type Streak struct {
	Current int `json:"current"`
	Best    int `json:"best"`
}

// ReadingStreak computes the reading streak. The current streak counts
// back from today, or from yesterday when nothing was read yet today.
func (c *Controller) ReadingStreak(ctx context.Context) (Streak, error) {
	timestamps, err := c.viewTimes(ctx, nil)
	if err != nil {
		return Streak{}, err
	}
	days := make(map[time.Time]bool)
	var ordered []time.Time
	for _, ts := range timestamps {
		d := startOfDay(ts, c.location)
		if !days[d] {
			days[d] = true
			ordered = append(ordered, d)
		}
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Before(ordered[j]) })

	var s Streak
	run := 0
	for i, d := range ordered {
		if i > 0 && ordered[i-1].AddDate(0, 0, 1).Equal(d) {
			run++
		} else {
			run = 1
		}
		if run > s.Best {
			s.Best = run
		}
	}

	day := c.today()
	if !days[day] {
		day = day.AddDate(0, 0, -1)
	}
	for days[day] {
		s.Current++
		day = day.AddDate(0, 0, -1)
	}
	return s, nil
}

func (c *Controller) viewTimes(ctx context.Context, pred storage.Predicate) ([]time.Time, error) {
	ec, err := c.store.NewBackgroundContext()
	if err != nil {
		return nil, err
	}
	return storage.PerformValue(ctx, ec, func(ctx context.Context) ([]time.Time, error) {
		views, err := storage.Fetch[storage.PageView](ctx, ec, storage.FetchRequest{Predicate: pred})
		if err != nil {
			return nil, fmt.Errorf("fetch views: %w", err)
		}
		out := make([]time.Time, len(views))
		for i, v := range views {
			out[i] = v.Timestamp
		}
		return out, nil
	})
}

// Bin is one histogram bucket.
type Bin struct {
	Key   int `json:"key"`
	Views int `json:"views"`
}

// PageViewDates holds view histograms by weekday (0 is Sunday), hour of
// day and month (1 is January). Only non-empty bins are present, in
// ascending key order.
type PageViewDates struct {
	Days   []Bin `json:"days"`
	Hours  []Bin `json:"hours"`
	Months []Bin `json:"months"`
}

// PageViewDates builds histograms of views in [from, to].
func (c *Controller) PageViewDates(ctx context.Context, from, to time.Time) (*PageViewDates, error) {
	timestamps, err := c.viewTimes(ctx, storage.And(
		storage.Gte("timestamp", from),
		storage.Lte("timestamp", to),
	))
	if err != nil {
		return nil, err
	}
	days := make(map[int]int)
	hours := make(map[int]int)
	months := make(map[int]int)
	for _, ts := range timestamps {
		local := ts.In(c.location)
		days[int(local.Weekday())]++
		hours[local.Hour()]++
		months[int(local.Month())]++
	}
	return &PageViewDates{Days: bins(days), Hours: bins(hours), Months: bins(months)}, nil
}

func bins(m map[int]int) []Bin {
	out := make([]Bin, 0, len(m))
	for k, v := range m {
		out = append(out, Bin{Key: k, Views: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Snapshot is the set of headline aggregates.
type Snapshot struct {
	TimeRead          ReadTime   `json:"time_read_past_seven_days"`
	ArticlesThisMonth int        `json:"articles_read_this_month"`
	WeeklyReads       []int      `json:"weekly_reads_this_month"`
	TopCategories     []string   `json:"top_categories"`
	MostRecentRead    *time.Time `json:"most_recent_read,omitempty"`
	Streak            Streak     `json:"streak"`
}

// Snapshot computes the headline aggregates concurrently. The first
// failure cancels the rest and is returned.
func (c *Controller) Snapshot(ctx context.Context) (*Snapshot, error) {
	var s Snapshot
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		s.TimeRead, err = c.TimeReadPastSevenDays(gctx)
		return err
	})
	g.Go(func() (err error) {
		s.ArticlesThisMonth, err = c.ArticlesReadThisMonth(gctx)
		return err
	})
	g.Go(func() (err error) {
		s.WeeklyReads, err = c.WeeklyReadsThisMonth(gctx)
		return err
	})
	g.Go(func() (err error) {
		s.TopCategories, err = c.TopCategories(gctx)
		return err
	})
	g.Go(func() (err error) {
		s.MostRecentRead, err = c.MostRecentReadTime(gctx)
		return err
	})
	g.Go(func() (err error) {
		s.Streak, err = c.ReadingStreak(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	c.logger.Debug("computed activity snapshot",
		"articles_this_month", s.ArticlesThisMonth, "streak", s.Streak.Current)
	return &s, nil
}
