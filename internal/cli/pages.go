package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/runnerr0/pagelog/internal/pageviews"
)

// Execute implements the go-flags Commander interface for ViewCommand.
func (c *ViewCommand) Execute(args []string) error {
	return withApp(c.globals, func(ctx context.Context, a *app) error {
		return c.execute(ctx, a, args)
	})
}

func (c *ViewCommand) execute(ctx context.Context, a *app, args []string) error {
	ref, err := pageRef(c.PageFlags, args)
	if err != nil {
		return err
	}
	id, err := a.recorder.AddPageView(ctx, ref, c.Previous)
	if err != nil {
		return fmt.Errorf("record view: %w", err)
	}
	if err := a.recorder.AddPageViewSeconds(ctx, id, c.Seconds); err != nil {
		return fmt.Errorf("record reading time: %w", err)
	}
	if len(c.Categories) > 0 {
		if err := a.recorder.AddCategories(ctx, id, ref.ProjectID, c.Categories); err != nil {
			return fmt.Errorf("record categories: %w", err)
		}
	}

	if c.globals != nil && c.globals.JSON {
		return printJSON(map[string]any{"id": id, "project": ref.ProjectID, "title": ref.Normalized().Title})
	}
	fmt.Printf("Recorded view %s\n", id)
	return nil
}

// Execute implements the go-flags Commander interface for SaveCommand.
func (c *SaveCommand) Execute(args []string) error {
	return withApp(c.globals, func(ctx context.Context, a *app) error {
		return c.execute(ctx, a, args)
	})
}

func (c *SaveCommand) execute(ctx context.Context, a *app, args []string) error {
	ref, err := pageRef(c.PageFlags, args)
	if err != nil {
		return err
	}
	at, err := a.saved.SavePage(ctx, ref)
	if err != nil {
		return fmt.Errorf("save page: %w", err)
	}
	if c.globals != nil && c.globals.JSON {
		return printJSON(map[string]any{"saved": true, "saved_date": at.UTC().Format(time.RFC3339)})
	}
	fmt.Printf("Saved %s\n", ref.Normalized().Title)
	return nil
}

// Execute implements the go-flags Commander interface for UnsaveCommand.
func (c *UnsaveCommand) Execute(args []string) error {
	return withApp(c.globals, func(ctx context.Context, a *app) error {
		return c.execute(ctx, a, args)
	})
}

func (c *UnsaveCommand) execute(ctx context.Context, a *app, args []string) error {
	ref, err := pageRef(c.PageFlags, args)
	if err != nil {
		return err
	}
	was, err := a.saved.UnsavePage(ctx, ref)
	if err != nil {
		return fmt.Errorf("unsave page: %w", err)
	}
	if c.globals != nil && c.globals.JSON {
		return printJSON(map[string]any{"unsaved": was})
	}
	if !was {
		fmt.Printf("%s was not saved\n", ref.Normalized().Title)
		return nil
	}
	fmt.Printf("Unsaved %s\n", ref.Normalized().Title)
	return nil
}

// Execute implements the go-flags Commander interface for ImportCommand.
func (c *ImportCommand) Execute(args []string) error {
	if c.File == "" {
		return fmt.Errorf("--file is required")
	}
	return withApp(c.globals, func(ctx context.Context, a *app) error {
		return c.execute(ctx, a)
	})
}

func (c *ImportCommand) execute(ctx context.Context, a *app) error {
	data, err := os.ReadFile(c.File)
	if err != nil {
		return fmt.Errorf("read import file: %w", err)
	}
	var entries []pageviews.LegacyPageView
	if err := json.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("parse import file: %w", err)
	}
	n, err := a.recorder.ImportPageViews(ctx, entries)
	if err != nil {
		return fmt.Errorf("import page views: %w", err)
	}
	if c.globals != nil && c.globals.JSON {
		return printJSON(map[string]any{"imported": n, "skipped": len(entries) - n})
	}
	fmt.Printf("Imported %d of %d page views\n", n, len(entries))
	return nil
}
