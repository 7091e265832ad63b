package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/runnerr0/pagelog/internal/saved"
	"github.com/runnerr0/pagelog/internal/storage"
)

// savedJSON is the JSON output structure for the saved command.
type savedJSON struct {
	TotalSaved int64             `json:"total_saved"`
	Module     *saved.ModuleData `json:"module"`
	Since      string            `json:"since,omitempty"`
}

// Execute implements the go-flags Commander interface for SavedCommand.
func (c *SavedCommand) Execute(args []string) error {
	return withApp(c.globals, func(ctx context.Context, a *app) error {
		return c.execute(ctx, a)
	})
}

func (c *SavedCommand) execute(ctx context.Context, a *app) error {
	if c.List {
		return c.list(ctx, a)
	}
	since, err := parseDuration(c.Since)
	if err != nil {
		return err
	}
	now := a.now()
	module, err := a.saved.FetchSavedArticleModuleData(ctx, now.Add(-since), now)
	if err != nil {
		return fmt.Errorf("fetch saved articles: %w", err)
	}
	total, err := a.saved.SavedCount(ctx)
	if err != nil {
		return fmt.Errorf("count saved articles: %w", err)
	}

	if c.globals != nil && c.globals.JSON {
		return printJSON(savedJSON{TotalSaved: total, Module: module, Since: c.Since})
	}
	fmt.Printf("Saved:         %d total\n", total)
	if module == nil {
		fmt.Printf("Last %s: nothing saved\n", formatDurationHuman(since))
		return nil
	}
	fmt.Printf("Last %s: %d saved, latest %s\n", formatDurationHuman(since), module.Count,
		module.LastSavedDate.In(a.location).Format("2006-01-02 15:04"))
	for i, u := range module.ThumbnailURLs {
		fmt.Printf("  %-30s %s\n", module.Titles[i], u)
	}
	return nil
}

func (c *SavedCommand) list(ctx context.Context, a *app) error {
	pages, err := a.saved.FetchTimelinePages(ctx)
	if err != nil {
		return fmt.Errorf("fetch saved pages: %w", err)
	}
	if c.globals != nil && c.globals.JSON {
		if pages == nil {
			pages = []saved.PageWithTimestamp{}
		}
		return printJSON(pages)
	}
	if len(pages) == 0 {
		fmt.Println("No saved pages.")
		return nil
	}
	for _, p := range pages {
		fmt.Printf("%s  %-16s %s\n", p.Timestamp.In(a.location).Format("2006-01-02 15:04"),
			p.ProjectID, strings.TrimSpace(storage.DisplayTitle(p.Title)))
	}
	return nil
}
