package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
)

// Execute implements the go-flags Commander interface for PurgeCommand.
func (c *PurgeCommand) Execute(args []string) error {
	if err := c.confirm(); err != nil {
		return err
	}
	return withApp(c.globals, func(ctx context.Context, a *app) error {
		return c.execute(ctx, a)
	})
}

func (c *PurgeCommand) confirm() error {
	if !c.All {
		return fmt.Errorf("purge requires --all flag for safety")
	}
	if c.Force {
		return nil
	}

	fmt.Println("⚠ WARNING: This will permanently delete ALL reading history.")
	fmt.Println("  - All page views and reading time")
	fmt.Println("  - All categories")
	fmt.Println()
	fmt.Println("Saved pages are kept. This action cannot be undone.")
	fmt.Println()
	fmt.Print(`Type "PURGE" to confirm: `)

	in := c.in
	if in == nil {
		in = os.Stdin
	}
	scanner := bufio.NewScanner(in)
	if !scanner.Scan() {
		return fmt.Errorf("aborted: no input received")
	}
	if strings.TrimSpace(scanner.Text()) != "PURGE" {
		return fmt.Errorf("aborted: confirmation text did not match")
	}
	return nil
}

func (c *PurgeCommand) execute(ctx context.Context, a *app) error {
	res, err := a.recorder.DeleteAllPageViewsAndCategories(ctx)
	if err != nil {
		return fmt.Errorf("purge failed: %w", err)
	}

	if c.globals != nil && c.globals.JSON {
		return printJSON(map[string]any{
			"purged":     true,
			"page_views": res.PageViews,
			"categories": res.Categories,
		})
	}

	fmt.Printf("Purged %d page views and %d categories.\n", res.PageViews, res.Categories)
	return nil
}
