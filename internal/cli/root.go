package cli

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose  bool
	Format   string // "json" | "text"
	Config   string // config file path
	Database string // overrides database.path
	Tenant   string // tenant of the acting identity
	Account  string // account of the acting identity
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the automata CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "automata",
		Short: "Event-sourced automata engine",
		Long: `Define versioned state machines from content-addressed blueprints
and drive them by submitting events. Every accepted event is logged,
yields a new version, and can be traced back or replayed.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return NewExitError(ExitCommandError,
					fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return nil
		},
	}

	// Global flags
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.Config, "config", "", "config file (default $AUTOMATA_CONFIG)")
	cmd.PersistentFlags().StringVar(&opts.Database, "db", "", "SQLite database path (overrides config)")
	cmd.PersistentFlags().StringVar(&opts.Tenant, "tenant", "default", "tenant of the acting identity")
	cmd.PersistentFlags().StringVar(&opts.Account, "account", "cli", "account of the acting identity")

	cmd.AddCommand(NewBlueprintCommand(opts))
	cmd.AddCommand(NewValidateCommand(opts))
	cmd.AddCommand(NewCreateCommand(opts))
	cmd.AddCommand(NewGetCommand(opts))
	cmd.AddCommand(NewListCommand(opts))
	cmd.AddCommand(NewSubmitCommand(opts))
	cmd.AddCommand(NewStatusCommand(opts, "archive"))
	cmd.AddCommand(NewStatusCommand(opts, "unarchive"))
	cmd.AddCommand(NewDeleteCommand(opts))
	cmd.AddCommand(NewEventCommand(opts))
	cmd.AddCommand(NewHistoryCommand(opts, "backtrace"))
	cmd.AddCommand(NewHistoryCommand(opts, "replay"))
	cmd.AddCommand(NewStateAtCommand(opts))
	cmd.AddCommand(NewVerifyCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))
	cmd.AddCommand(NewSessionCommand(opts))

	return cmd
}
