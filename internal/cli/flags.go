package cli

import "io"

// GlobalFlags holds flags available to all subcommands.
type GlobalFlags struct {
	Config  string `long:"config" description:"Path to config file" default:""`
	JSON    bool   `long:"json" description:"Output in JSON format"`
	Verbose bool   `long:"verbose" description:"Enable verbose output"`
	Version bool   `long:"version" description:"Show version and exit"`
}

// PageFlags address a page; the title is taken from the positional args.
type PageFlags struct {
	Project   string `long:"project" description:"Project ID" default:"wikipedia~en"`
	Namespace int16  `long:"namespace" description:"Namespace ID" default:"0"`
}

// ViewCommand: record a page view.
type ViewCommand struct {
	PageFlags
	Previous   string   `long:"previous" description:"ID of the view the reader came from"`
	Seconds    int64    `long:"seconds" description:"Reading time to attach to the view" default:"0"`
	Categories []string `long:"category" description:"Category title (repeatable)"`

	globals *GlobalFlags
	version string
}

// SaveCommand: save a page.
type SaveCommand struct {
	PageFlags

	globals *GlobalFlags
	version string
}

// UnsaveCommand: remove a page from the saved list.
type UnsaveCommand struct {
	PageFlags

	globals *GlobalFlags
	version string
}

// ImportCommand: bulk import legacy page views from a JSON file.
type ImportCommand struct {
	File string `long:"file" description:"JSON file with an array of page views (required)"`

	globals *GlobalFlags
	version string
}

// HistoryCommand: list reading history by day.
type HistoryCommand struct {
	Limit  int    `long:"limit" description:"Maximum records" default:"100"`
	Save   string `long:"save" description:"Save the page of the history item with this ID"`
	Unsave string `long:"unsave" description:"Unsave the page of the history item with this ID"`

	globals *GlobalFlags
	version string
}

// SavedCommand: show the saved-articles module or list saved pages.
type SavedCommand struct {
	Since string `long:"since" description:"Saved within duration (e.g., 7d, 24h, 2w)" default:"30d"`
	List  bool   `long:"list" description:"List saved pages instead of the module snapshot"`

	globals *GlobalFlags
	version string
}

// TimelineCommand: show saved and read pages by day.
type TimelineCommand struct {
	Days int `long:"days" description:"Maximum number of days to show (0 for all)" default:"0"`

	globals *GlobalFlags
	version string
}

// ActivityCommand: show reading aggregates and activity tab state.
type ActivityCommand struct {
	LoginState  string `long:"login-state" description:"Account state for the login prompt" choice:"logged-out" choice:"temp" choice:"logged-in" default:"logged-out"`
	RecordVisit bool   `long:"record-visit" description:"Count this as a visit and mark the tab seen"`
	Histogram   bool   `long:"histogram" description:"Include weekday/hour/month histograms of the past year"`

	globals *GlobalFlags
	version string
}

// StatusCommand: show database statistics and configuration summary.
type StatusCommand struct {
	globals *GlobalFlags
	version string
}

// PruneCommand: prune the transaction history change log.
type PruneCommand struct {
	OlderThan string `long:"older-than" description:"Override retention period (e.g., 7d)"`

	globals *GlobalFlags
	version string
}

// PurgeCommand: delete ALL reading history with safety confirmation.
type PurgeCommand struct {
	All   bool `long:"all" description:"Required flag to confirm purge intent"`
	Force bool `long:"force" description:"Skip safety confirmation prompt"`

	globals *GlobalFlags
	version string
	in      io.Reader // injectable for testing; nil means os.Stdin
}

// HousekeepCommand: run store maintenance once or on a schedule.
type HousekeepCommand struct {
	Daemon bool `long:"daemon" description:"Run on the configured cron schedule until interrupted"`

	globals *GlobalFlags
	version string
}

// SettingsCommand: inspect and edit key/value settings.
type SettingsCommand struct {
	Set             []string `long:"set" description:"Set key=value, value as JSON (repeatable)"`
	Remove          []string `long:"remove" description:"Remove a key (repeatable)"`
	ResetExperiment bool     `long:"reset-experiment" description:"Forget the activity tab experiment assignment"`

	globals *GlobalFlags
	version string
}
