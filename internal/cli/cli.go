package cli

import (
	"fmt"
	"os"

	goflags "github.com/jessevdk/go-flags"
)

// commands holds references to all subcommand structs for inspection/testing.
type commands struct {
	View      *ViewCommand
	Save      *SaveCommand
	Unsave    *UnsaveCommand
	Import    *ImportCommand
	History   *HistoryCommand
	Saved     *SavedCommand
	Timeline  *TimelineCommand
	Activity  *ActivityCommand
	Status    *StatusCommand
	Prune     *PruneCommand
	Purge     *PurgeCommand
	Housekeep *HousekeepCommand
	Settings  *SettingsCommand
}

// buildParser constructs the go-flags parser with all subcommands registered.
func buildParser(version string) (*goflags.Parser, *GlobalFlags, *commands) {
	var globals GlobalFlags

	parser := goflags.NewParser(&globals, goflags.Default)
	parser.Name = "pagelog"
	parser.LongDescription = "Local reading history, saved articles and reading activity."

	cmds := &commands{
		View:      &ViewCommand{globals: &globals, version: version},
		Save:      &SaveCommand{globals: &globals, version: version},
		Unsave:    &UnsaveCommand{globals: &globals, version: version},
		Import:    &ImportCommand{globals: &globals, version: version},
		History:   &HistoryCommand{globals: &globals, version: version},
		Saved:     &SavedCommand{globals: &globals, version: version},
		Timeline:  &TimelineCommand{globals: &globals, version: version},
		Activity:  &ActivityCommand{globals: &globals, version: version},
		Status:    &StatusCommand{globals: &globals, version: version},
		Prune:     &PruneCommand{globals: &globals, version: version},
		Purge:     &PurgeCommand{globals: &globals, version: version},
		Housekeep: &HousekeepCommand{globals: &globals, version: version},
		Settings:  &SettingsCommand{globals: &globals, version: version},
	}

	parser.AddCommand("view", "Record a page view", "Record a view of the page named by the arguments.", cmds.View)
	parser.AddCommand("save", "Save a page", "Save the page named by the arguments.", cmds.Save)
	parser.AddCommand("unsave", "Unsave a page", "Remove the page named by the arguments from the saved list.", cmds.Unsave)
	parser.AddCommand("import", "Import legacy page views", "Import page views from a JSON file in a single commit.", cmds.Import)
	parser.AddCommand("history", "Show reading history", "Show reading history grouped by day, newest first.", cmds.History)
	parser.AddCommand("saved", "Show saved articles", "Show the saved-articles snapshot with thumbnails, or list saved pages.", cmds.Saved)
	parser.AddCommand("timeline", "Show the activity timeline", "Show saved and read pages grouped by day.", cmds.Timeline)
	parser.AddCommand("activity", "Show reading activity", "Show reading aggregates and activity tab state.", cmds.Activity)
	parser.AddCommand("status", "Show database statistics", "Show database statistics and configuration summary.", cmds.Status)
	parser.AddCommand("prune", "Prune the change log", "Delete transaction history entries older than the retention period.", cmds.Prune)
	parser.AddCommand("purge", "Delete ALL reading history", "Delete ALL page views and categories. Destructive operation with safety prompt.", cmds.Purge)
	parser.AddCommand("housekeep", "Run store maintenance", "Prune the change log and remove orphaned pages and categories.", cmds.Housekeep)
	parser.AddCommand("settings", "Show or edit settings", "Show, set or remove key/value settings.", cmds.Settings)

	return parser, &globals, cmds
}

// Run is the main entry point for the pagelog CLI using os.Args.
func Run(version string) error {
	return RunWithArgs(version, nil)
}

// RunWithArgs parses the given args (or os.Args if nil) and executes the matched subcommand.
func RunWithArgs(version string, args []string) error {
	// Handle --version before parser (go-flags requires a subcommand, but
	// --version is valid without one).
	checkArgs := args
	if checkArgs == nil {
		checkArgs = os.Args[1:]
	}
	for _, arg := range checkArgs {
		if arg == "--version" {
			fmt.Printf("pagelog %s\n", version)
			return nil
		}
		if arg == "--" {
			break
		}
	}

	parser, _, _ := buildParser(version)

	var err error
	if args != nil {
		_, err = parser.ParseArgs(args)
	} else {
		_, err = parser.Parse()
	}

	if err != nil {
		if flagsErr, ok := err.(*goflags.Error); ok {
			if flagsErr.Type == goflags.ErrHelp {
				return nil
			}
		}
		return err
	}

	return nil
}
