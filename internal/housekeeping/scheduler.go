// Package housekeeping runs store maintenance on a cron schedule.
package housekeeping

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/runnerr0/pagelog/internal/storage"
)

// DefaultSchedule runs maintenance daily at 03:00.
const DefaultSchedule = "0 3 * * *"

// Maintainer is the store surface the scheduler drives.
type Maintainer interface {
	PruneTransactionHistory(ctx context.Context, olderThan time.Duration) (int64, error)
	PerformHousekeeping(ctx context.Context) (storage.HousekeepingResult, error)
}

// Result reports one maintenance run.
type Result struct {
	PrunedHistory int64 `json:"pruned_history"`
	Pages         int   `json:"pages"`
	Categories    int   `json:"categories"`
}

// Scheduler runs RunOnce on a cron schedule.
type Scheduler struct {
	store     Maintainer
	retention time.Duration
	timeout   time.Duration
	logger    *slog.Logger
	location  *time.Location

	cron    *cron.Cron
	mu      sync.Mutex
	entryID cron.EntryID
	started bool
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the scheduler's logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// WithLocation sets the time zone the schedule is interpreted in.
func WithLocation(loc *time.Location) Option {
	return func(s *Scheduler) {
		if loc != nil {
			s.location = loc
		}
	}
}

// WithTimeout bounds each scheduled run. Zero means no bound.
func WithTimeout(d time.Duration) Option {
	return func(s *Scheduler) { s.timeout = d }
}

// New creates a scheduler that prunes change-log entries older than
// retention and then runs store housekeeping. An empty schedule uses
// DefaultSchedule.
func New(store Maintainer, schedule string, retention time.Duration, opts ...Option) (*Scheduler, error) {
	s := &Scheduler{
		store:     store,
		retention: retention,
		timeout:   10 * time.Minute,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		location:  time.Local,
	}
	for _, opt := range opts {
		opt(s)
	}
	if schedule == "" {
		schedule = DefaultSchedule
	}
	s.cron = cron.New(cron.WithLocation(s.location))

	id, err := s.cron.AddFunc(schedule, s.run)
	if err != nil {
		return nil, fmt.Errorf("add housekeeping job %q: %w", schedule, err)
	}
	s.entryID = id
	return s, nil
}

func (s *Scheduler) run() {
	ctx := context.Background()
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	if _, err := s.RunOnce(ctx); err != nil {
		s.logger.Error("scheduled housekeeping failed", "error", err)
	}
}

// RunOnce prunes the change log and then runs housekeeping.
func (s *Scheduler) RunOnce(ctx context.Context) (Result, error) {
	var res Result
	pruned, err := s.store.PruneTransactionHistory(ctx, s.retention)
	if err != nil {
		return res, fmt.Errorf("prune: %w", err)
	}
	res.PrunedHistory = pruned

	hk, err := s.store.PerformHousekeeping(ctx)
	if err != nil {
		return res, fmt.Errorf("housekeeping: %w", err)
	}
	res.Pages = hk.Pages
	res.Categories = hk.Categories
	s.logger.Info("housekeeping run complete",
		"pruned_history", res.PrunedHistory, "pages", res.Pages, "categories", res.Categories)
	return res, nil
}

// Next returns the next scheduled run, or the zero time when the
// scheduler is stopped.
func (s *Scheduler) Next() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return time.Time{}
	}
	return s.cron.Entry(s.entryID).Next
}

// Start begins running the schedule.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		s.cron.Start()
		s.started = true
	}
}

// Stop halts the schedule and waits for a running job to finish or ctx
// to end.
func (s *Scheduler) Stop(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return
	}
	done := s.cron.Stop()
	s.started = false
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}
