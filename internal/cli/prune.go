package cli

import (
	"context"
	"fmt"
	"time"
)

// Execute implements the go-flags Commander interface for PruneCommand.
func (c *PruneCommand) Execute(args []string) error {
	return withApp(c.globals, func(ctx context.Context, a *app) error {
		return c.execute(ctx, a)
	})
}

func (c *PruneCommand) execute(ctx context.Context, a *app) error {
	retention := a.cfg.TransactionHistoryRetention()
	if c.OlderThan != "" {
		d, err := parseDuration(c.OlderThan)
		if err != nil {
			return err
		}
		if d <= 0 {
			return fmt.Errorf("--older-than must be positive")
		}
		retention = d
	}

	n, err := a.store.PruneTransactionHistory(ctx, retention)
	if err != nil {
		return err
	}

	if c.globals != nil && c.globals.JSON {
		return printJSON(map[string]any{
			"pruned": n,
			"cutoff": a.now().Add(-retention).UTC().Format(time.RFC3339),
		})
	}
	fmt.Printf("Pruned %d change log entries older than %s.\n", n, formatDurationHuman(retention))
	return nil
}
