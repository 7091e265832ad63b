package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/runnerr0/pagelog/internal/activity"
	"github.com/runnerr0/pagelog/internal/storage"
)

// gateJSON is the activity tab state shown by the activity command.
type gateJSON struct {
	HasSeen         bool   `json:"has_seen"`
	Visits          int    `json:"visits"`
	ShowLoginPrompt bool   `json:"show_login_prompt"`
	ShowSurvey      bool   `json:"show_survey"`
	Assignment      string `json:"assignment"`
	AssignmentError string `json:"assignment_error,omitempty"`
}

// activityJSON is the JSON output structure for the activity command.
type activityJSON struct {
	*activity.Snapshot
	Gate      gateJSON                `json:"activity_tab"`
	Histogram *activity.PageViewDates `json:"histogram,omitempty"`
}

func parseLoginState(s string) activity.LoginState {
	switch s {
	case "temp":
		return activity.TempAccount
	case "logged-in":
		return activity.LoggedIn
	}
	return activity.LoggedOut
}

// Execute implements the go-flags Commander interface for ActivityCommand.
func (c *ActivityCommand) Execute(args []string) error {
	return withApp(c.globals, func(ctx context.Context, a *app) error {
		return c.execute(ctx, a)
	})
}

func (c *ActivityCommand) execute(ctx context.Context, a *app) error {
	if c.RecordVisit {
		if err := a.gate.MarkActivityTabSeen(ctx); err != nil {
			return err
		}
		if _, err := a.gate.RecordVisit(ctx); err != nil {
			return err
		}
	}

	snap, err := a.activity.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("compute activity: %w", err)
	}
	out := activityJSON{Snapshot: snap, Gate: c.gateState(ctx, a)}
	if c.Histogram {
		now := a.now()
		out.Histogram, err = a.activity.PageViewDates(ctx, now.AddDate(-1, 0, 0), now)
		if err != nil {
			return fmt.Errorf("compute histogram: %w", err)
		}
	}

	if c.globals != nil && c.globals.JSON {
		return printJSON(out)
	}

	fmt.Println("Reading Activity")
	fmt.Println("================")
	fmt.Printf("Past 7 days:   %dh %dm\n", snap.TimeRead.Hours, snap.TimeRead.Minutes)
	fmt.Printf("This month:    %d articles\n", snap.ArticlesThisMonth)
	weeks := make([]string, len(snap.WeeklyReads))
	for i, n := range snap.WeeklyReads {
		weeks[i] = fmt.Sprintf("%d", n)
	}
	fmt.Printf("Weekly:        %s\n", strings.Join(weeks, " / "))
	if len(snap.TopCategories) > 0 {
		fmt.Printf("Top topics:    %s\n", strings.Join(snap.TopCategories, ", "))
	}
	if snap.MostRecentRead != nil {
		fmt.Printf("Last read:     %s\n", snap.MostRecentRead.In(a.location).Format("2006-01-02 15:04"))
	}
	fmt.Printf("Streak:        %d days (best %d)\n", snap.Streak.Current, snap.Streak.Best)

	g := out.Gate
	fmt.Println()
	fmt.Printf("Tab seen:      %t (%d visits)\n", g.HasSeen, g.Visits)
	fmt.Printf("Login prompt:  %t\n", g.ShowLoginPrompt)
	fmt.Printf("Survey:        %t\n", g.ShowSurvey)
	if g.AssignmentError != "" {
		fmt.Printf("Experiment:    %s (%s)\n", g.Assignment, g.AssignmentError)
	} else {
		fmt.Printf("Experiment:    %s\n", g.Assignment)
	}

	if h := out.Histogram; h != nil {
		fmt.Println()
		fmt.Println("Views by weekday:")
		for _, b := range h.Days {
			fmt.Printf("  %-10s %d\n", weekdayName(b.Key), b.Views)
		}
	}
	return nil
}

func (c *ActivityCommand) gateState(ctx context.Context, a *app) gateJSON {
	g := gateJSON{
		HasSeen:         a.gate.HasSeenActivityTab(ctx),
		Visits:          a.gate.VisitCount(ctx),
		ShowLoginPrompt: a.gate.ShouldShowLoginPrompt(ctx, parseLoginState(c.LoginState)),
		ShowSurvey:      a.gate.ShouldShowSurvey(ctx),
	}
	assignment, err := a.gate.Assignment(ctx)
	g.Assignment = assignment.String()
	if err != nil {
		g.AssignmentError = err.Error()
	}
	return g
}

func weekdayName(d int) string {
	names := [...]string{"Sunday", "Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday"}
	if d < 0 || d >= len(names) {
		return fmt.Sprintf("day %d", d)
	}
	return names[d]
}

// Execute implements the go-flags Commander interface for TimelineCommand.
func (c *TimelineCommand) Execute(args []string) error {
	return withApp(c.globals, func(ctx context.Context, a *app) error {
		return c.execute(ctx, a)
	})
}

func (c *TimelineCommand) execute(ctx context.Context, a *app) error {
	days, err := a.activity.Timeline(ctx)
	if err != nil {
		return fmt.Errorf("build timeline: %w", err)
	}
	if c.Days > 0 && len(days) > c.Days {
		days = days[:c.Days]
	}

	if c.globals != nil && c.globals.JSON {
		return printJSON(days)
	}
	if len(days) == 0 {
		fmt.Println("Nothing on the timeline.")
		return nil
	}
	for i, d := range days {
		if i > 0 {
			fmt.Println()
		}
		fmt.Println(d.Date.Format("Monday, 2006-01-02"))
		for _, item := range d.Items {
			fmt.Printf("  %s  %-5s %s\n", item.Date.In(a.location).Format("15:04"), item.Type,
				storage.DisplayTitle(item.Title))
		}
	}
	return nil
}
