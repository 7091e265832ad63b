package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/runnerr0/pagelog/internal/activity"
	"github.com/runnerr0/pagelog/internal/config"
	"github.com/runnerr0/pagelog/internal/history"
	"github.com/runnerr0/pagelog/internal/kvstore"
	"github.com/runnerr0/pagelog/internal/logging"
	"github.com/runnerr0/pagelog/internal/pageviews"
	"github.com/runnerr0/pagelog/internal/saved"
	"github.com/runnerr0/pagelog/internal/storage"
	"github.com/runnerr0/pagelog/internal/summary"
)

// app is everything a command needs, built from the config.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	now      func() time.Time
	location *time.Location

	store    *storage.Store
	kv       *kvstore.Store
	recorder *pageviews.Recorder
	saved    *saved.Controller
	activity *activity.Controller
	gate     *activity.Gate
}

// loadConfig loads the config named by --config, or the default one.
func loadConfig(g *GlobalFlags) (*config.Config, error) {
	if g != nil && g.Config != "" {
		return config.LoadOrCreateAt(g.Config)
	}
	return config.LoadOrCreate()
}

// openApp loads the config and opens the stores.
func openApp(ctx context.Context, g *GlobalFlags) (*app, error) {
	cfg, err := loadConfig(g)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if g != nil && g.Verbose {
		cfg.Logging.Level = "debug"
	}
	logger := logging.New(cfg.Logging, os.Stderr)

	fetcher := summary.NewClient(
		summary.WithBaseURL(cfg.Enrichment.BaseURL),
		summary.WithUserAgent(cfg.Enrichment.UserAgent),
		summary.WithTimeout(seconds(cfg.Enrichment.ItemTimeoutSeconds)),
	)
	return newApp(ctx, cfg, logger, fetcher, time.Now)
}

// newApp wires the stores and controllers.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger, fetcher summary.Fetcher, now func() time.Time) (*app, error) {
	dir, err := cfg.ContainerDir()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create container directory: %w", err)
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	store, err := storage.Open(ctx, storage.Options{
		ContainerDir: dir,
		FileName:     cfg.Storage.DatabaseFile,
		Model:        storage.DefaultModel(),
		JournalMode:  cfg.Storage.SQLiteJournalMode,
		BusyTimeout:  time.Duration(cfg.Storage.BusyTimeoutMillis) * time.Millisecond,
		Logger:       logger,
		Now:          now,
	})
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	settingsPath, err := cfg.SettingsPath()
	if err != nil {
		store.Close()
		return nil, err
	}
	kv, err := kvstore.Open(ctx, settingsPath, kvstore.WithLogger(logger), kvstore.WithClock(now))
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("open settings: %w", err)
	}

	a := &app{
		cfg:      cfg,
		logger:   logger,
		now:      now,
		location: loc,
		store:    store,
		kv:       kv,
	}
	a.recorder = pageviews.NewRecorder(store, pageviews.WithLogger(logger), pageviews.WithClock(now))
	a.saved = saved.NewController(store, fetcher,
		saved.WithLogger(logger),
		saved.WithClock(now),
		saved.WithRateLimit(rate.Limit(cfg.Enrichment.RequestsPerSecond), 1),
		saved.WithEnrichmentBounds(cfg.Enrichment.MaxThumbnails,
			seconds(cfg.Enrichment.ItemTimeoutSeconds), seconds(cfg.Enrichment.DeadlineSeconds)),
	)
	a.activity = activity.NewController(store,
		activity.WithLogger(logger),
		activity.WithClock(now),
		activity.WithLocation(loc),
		activity.WithSavedTimeline(a.saved),
	)
	a.gate = activity.NewGate(kv, activity.WithGateClock(now))
	return a, nil
}

// historyController returns a history controller over the newest limit views whose
// save and unsave actions go through the saved controller.
func (a *app) historyController(limit int) *history.Controller {
	h := history.NewController(history.StoreRecords(a.store, limit), history.WithLocation(a.location))
	h.SetActions(nil,
		func(ctx context.Context, item *history.Item) error {
			_, err := a.saved.SavePage(ctx, storage.PageRef{ProjectID: item.ProjectID, NamespaceID: item.NamespaceID, Title: item.Title})
			return err
		},
		func(ctx context.Context, item *history.Item) error {
			_, err := a.saved.UnsavePage(ctx, storage.PageRef{ProjectID: item.ProjectID, NamespaceID: item.NamespaceID, Title: item.Title})
			return err
		},
	)
	return h
}

func (a *app) Close() error {
	kvErr := a.kv.Close()
	if err := a.store.Close(); err != nil {
		return err
	}
	return kvErr
}

// withApp opens the app, runs fn and closes the app.
func withApp(g *GlobalFlags, fn func(ctx context.Context, a *app) error) error {
	ctx := context.Background()
	a, err := openApp(ctx, g)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

// pageRef builds a page reference from flags and positional args.
func pageRef(f PageFlags, args []string) (storage.PageRef, error) {
	title := strings.TrimSpace(strings.Join(args, " "))
	if title == "" {
		return storage.PageRef{}, fmt.Errorf("page title is required")
	}
	if f.Project == "" {
		return storage.PageRef{}, fmt.Errorf("--project is required")
	}
	return storage.PageRef{ProjectID: f.Project, NamespaceID: f.Namespace, Title: title}, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// parseDuration parses a human-friendly duration string like "30d", "7d", "24h", "2w".
func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, fmt.Errorf("invalid duration: empty string")
	}

	if len(s) < 2 {
		return 0, fmt.Errorf("invalid duration: %q", s)
	}

	suffix := s[len(s)-1]
	numStr := s[:len(s)-1]

	n, err := strconv.Atoi(numStr)
	if err != nil {
		return 0, fmt.Errorf("invalid duration: %q", s)
	}

	switch suffix {
	case 'd':
		return time.Duration(n) * 24 * time.Hour, nil
	case 'h':
		return time.Duration(n) * time.Hour, nil
	case 'w':
		return time.Duration(n) * 7 * 24 * time.Hour, nil
	case 'm':
		return time.Duration(n) * time.Minute, nil
	default:
		return 0, fmt.Errorf("invalid duration: %q (use d, h, w, or m suffix)", s)
	}
}

// formatDurationHuman formats a duration into a human-readable string like "30 days".
func formatDurationHuman(d time.Duration) string {
	days := int(d.Hours() / 24)
	if days > 0 {
		if days == 1 {
			return "1 day"
		}
		return fmt.Sprintf("%d days", days)
	}
	hours := int(d.Hours())
	if hours > 0 {
		if hours == 1 {
			return "1 hour"
		}
		return fmt.Sprintf("%d hours", hours)
	}
	return d.String()
}
