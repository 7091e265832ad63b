package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/runnerr0/pagelog/internal/housekeeping"
)

// Execute implements the go-flags Commander interface for HousekeepCommand.
func (c *HousekeepCommand) Execute(args []string) error {
	return withApp(c.globals, func(ctx context.Context, a *app) error {
		if c.Daemon {
			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()
			return c.runDaemon(ctx, a)
		}
		return c.execute(ctx, a)
	})
}

func (c *HousekeepCommand) scheduler(a *app) (*housekeeping.Scheduler, error) {
	return housekeeping.New(a.store, a.cfg.Housekeeping.Schedule, a.cfg.TransactionHistoryRetention(),
		housekeeping.WithLogger(a.logger),
		housekeeping.WithLocation(a.location),
	)
}

func (c *HousekeepCommand) execute(ctx context.Context, a *app) error {
	s, err := c.scheduler(a)
	if err != nil {
		return err
	}
	res, err := s.RunOnce(ctx)
	if err != nil {
		return err
	}

	if c.globals != nil && c.globals.JSON {
		return printJSON(res)
	}
	fmt.Printf("Pruned %d change log entries, removed %d orphaned pages and %d empty categories.\n",
		res.PrunedHistory, res.Pages, res.Categories)
	return nil
}

// runDaemon runs the schedule until ctx ends.
func (c *HousekeepCommand) runDaemon(ctx context.Context, a *app) error {
	if !a.cfg.Housekeeping.Enabled {
		return fmt.Errorf("housekeeping is disabled in config")
	}
	s, err := c.scheduler(a)
	if err != nil {
		return err
	}
	s.Start()
	a.logger.Info("housekeeping scheduled", "schedule", a.cfg.Housekeeping.Schedule, "next", s.Next())

	<-ctx.Done()
	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	s.Stop(stopCtx)
	return nil
}
