package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/runnerr0/pagelog/internal/activity"
	"github.com/runnerr0/pagelog/internal/kvstore"
)

// Execute implements the go-flags Commander interface for SettingsCommand.
func (c *SettingsCommand) Execute(args []string) error {
	return withApp(c.globals, func(ctx context.Context, a *app) error {
		return c.execute(ctx, a)
	})
}

func (c *SettingsCommand) execute(ctx context.Context, a *app) error {
	for _, kv := range c.Set {
		key, raw, ok := strings.Cut(kv, "=")
		if !ok || key == "" {
			return fmt.Errorf("invalid --set %q (want key=value)", kv)
		}
		var value any
		if err := json.Unmarshal([]byte(raw), &value); err != nil {
			// Bare words are stored as strings.
			value = raw
		}
		if err := a.kv.Save(ctx, key, value); err != nil {
			return err
		}
	}
	for _, key := range c.Remove {
		if err := a.kv.Remove(ctx, key); err != nil {
			return err
		}
	}
	if c.ResetExperiment {
		if err := kvstore.NewExperiments(a.kv).Reset(ctx, activity.ActivityTabExperiment); err != nil {
			return err
		}
	}

	entries, err := a.kv.Entries(ctx)
	if err != nil {
		return err
	}
	if c.globals != nil && c.globals.JSON {
		if entries == nil {
			entries = []kvstore.Entry{}
		}
		return printJSON(entries)
	}
	if len(entries) == 0 {
		fmt.Println("No settings.")
		return nil
	}
	for _, e := range entries {
		fmt.Printf("%-45s %s\n", e.Key, e.Value)
	}
	return nil
}
