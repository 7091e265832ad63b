package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/runnerr0/pagelog/internal/storage"
)

// statusJSON is the JSON output structure for the status command.
type statusJSON struct {
	Version           string             `json:"version"`
	DatabasePath      string             `json:"database_path"`
	DatabaseSizeBytes int64              `json:"database_size_bytes"`
	Pages             int64              `json:"pages"`
	SavedPages        int64              `json:"saved_pages"`
	PageViews         int64              `json:"page_views"`
	Categories        int64              `json:"categories"`
	HistoryEntries    int64              `json:"history_entries"`
	OldestPageView    string             `json:"oldest_page_view,omitempty"`
	NewestPageView    string             `json:"newest_page_view,omitempty"`
	RetentionDays     int                `json:"retention_days"`
	TopProjects       []projectCountJSON `json:"top_projects"`
	Housekeeping      string             `json:"housekeeping"`
}

type projectCountJSON struct {
	Project string `json:"project"`
	Views   int64  `json:"views"`
}

// Execute implements the go-flags Commander interface for StatusCommand.
func (c *StatusCommand) Execute(args []string) error {
	return withApp(c.globals, func(ctx context.Context, a *app) error {
		return c.execute(ctx, a)
	})
}

func (c *StatusCommand) execute(ctx context.Context, a *app) error {
	stats, err := a.store.Stats(ctx)
	if err != nil {
		return fmt.Errorf("get stats: %w", err)
	}

	housekeeping := "disabled"
	if a.cfg.Housekeeping.Enabled {
		housekeeping = a.cfg.Housekeeping.Schedule
	}

	if c.globals != nil && c.globals.JSON {
		return c.printStatusJSON(a, stats, housekeeping)
	}
	return c.printStatusHuman(a, stats, housekeeping)
}

func (c *StatusCommand) printStatusHuman(a *app, stats *storage.Stats, housekeeping string) error {
	fmt.Println("pagelog Status")
	fmt.Println("==============")
	fmt.Printf("Version:       %s\n", c.version)
	fmt.Printf("Database:      %s (%s)\n", a.store.Path(), formatBytes(stats.DatabaseSizeBytes))
	fmt.Printf("Pages:         %s\n", formatNumber(stats.Pages))
	fmt.Printf("Saved:         %s\n", formatNumber(stats.SavedPages))
	fmt.Printf("Page views:    %s\n", formatNumber(stats.PageViews))
	fmt.Printf("Categories:    %s\n", formatNumber(stats.Categories))

	// Time range
	if stats.PageViews > 0 {
		fmt.Printf("Oldest:        %s\n", stats.OldestPageView.In(a.location).Format("2006-01-02"))
		fmt.Printf("Newest:        %s\n", stats.NewestPageView.In(a.location).Format("2006-01-02"))
	}

	fmt.Printf("Change log:    %s entries, kept %d days\n",
		formatNumber(stats.HistoryEntries), a.cfg.Retention.TransactionHistoryDays)

	// Top projects
	if len(stats.TopProjects) > 0 {
		fmt.Println()
		fmt.Println("Top Projects:")
		for _, p := range stats.TopProjects {
			fmt.Printf("  %-20s %s\n", p.ProjectID, formatNumber(p.Views))
		}
	}

	fmt.Println()
	fmt.Printf("Housekeeping:  %s\n", housekeeping)
	return nil
}

func (c *StatusCommand) printStatusJSON(a *app, stats *storage.Stats, housekeeping string) error {
	out := statusJSON{
		Version:           c.version,
		DatabasePath:      a.store.Path(),
		DatabaseSizeBytes: stats.DatabaseSizeBytes,
		Pages:             stats.Pages,
		SavedPages:        stats.SavedPages,
		PageViews:         stats.PageViews,
		Categories:        stats.Categories,
		HistoryEntries:    stats.HistoryEntries,
		RetentionDays:     a.cfg.Retention.TransactionHistoryDays,
		TopProjects:       make([]projectCountJSON, len(stats.TopProjects)),
		Housekeeping:      housekeeping,
	}

	if stats.PageViews > 0 {
		out.OldestPageView = stats.OldestPageView.UTC().Format(time.RFC3339)
		out.NewestPageView = stats.NewestPageView.UTC().Format(time.RFC3339)
	}

	for i, p := range stats.TopProjects {
		out.TopProjects[i] = projectCountJSON{Project: p.ProjectID, Views: p.Views}
	}

	return printJSON(out)
}

// formatBytes formats a byte count into a human-readable string.
func formatBytes(b int64) string {
	switch {
	case b >= 1<<30:
		return fmt.Sprintf("%.1f GB", float64(b)/float64(1<<30))
	case b >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(b)/float64(1<<20))
	case b >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(b)/float64(1<<10))
	default:
		return fmt.Sprintf("%d B", b)
	}
}

// formatNumber formats an int64 with comma separators.
func formatNumber(n int64) string {
	s := fmt.Sprintf("%d", n)
	if len(s) <= 3 {
		return s
	}

	var result strings.Builder
	remainder := len(s) % 3
	if remainder > 0 {
		result.WriteString(s[:remainder])
		if len(s) > remainder {
			result.WriteString(",")
		}
	}
	for i := remainder; i < len(s); i += 3 {
		if i > remainder {
			result.WriteString(",")
		}
		result.WriteString(s[i : i+3])
	}
	return result.String()
}
