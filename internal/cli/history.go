package cli

import (
	"context"
	"fmt"

	"github.com/runnerr0/pagelog/internal/history"
	"github.com/runnerr0/pagelog/internal/storage"
)

// Execute implements the go-flags Commander interface for HistoryCommand.
func (c *HistoryCommand) Execute(args []string) error {
	return withApp(c.globals, func(ctx context.Context, a *app) error {
		return c.execute(ctx, a)
	})
}

func (c *HistoryCommand) execute(ctx context.Context, a *app) error {
	if c.Limit <= 0 {
		return fmt.Errorf("--limit must be positive")
	}
	h := a.historyController(c.Limit)
	sections, err := h.FetchHistorySections(ctx)
	if err != nil {
		return fmt.Errorf("fetch history: %w", err)
	}

	if c.Save != "" || c.Unsave != "" {
		if err := c.toggle(ctx, h, sections); err != nil {
			return err
		}
	}

	if c.globals != nil && c.globals.JSON {
		return printJSON(sections)
	}
	if len(sections) == 0 {
		fmt.Println("No history.")
		return nil
	}
	for i, s := range sections {
		if i > 0 {
			fmt.Println()
		}
		fmt.Println(s.DateWithoutTime.Format("Monday, 2006-01-02"))
		for _, item := range s.Items {
			mark := " "
			if item.Saved() {
				mark = "*"
			}
			fmt.Printf("  %s %s  %-40s %s\n", mark, item.ViewedDate.In(a.location).Format("15:04"),
				storage.DisplayTitle(item.Title), item.ID)
		}
	}
	return nil
}

func (c *HistoryCommand) toggle(ctx context.Context, h *history.Controller, sections []history.Section) error {
	id, save := c.Save, true
	if id == "" {
		id, save = c.Unsave, false
	}
	for _, s := range sections {
		for _, item := range s.Items {
			if item.ID != id {
				continue
			}
			if save {
				return h.SaveHistoryItem(ctx, item)
			}
			return h.UnsaveHistoryItem(ctx, item)
		}
	}
	return fmt.Errorf("history item %s not found", id)
}
