package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/automata/internal/engine"
	"github.com/roach88/automata/internal/version"
)

// SubmitOptions holds flags for the submit command.
type SubmitOptions struct {
	Data    string
	Version string
}

// NewSubmitCommand creates the submit command.
func NewSubmitCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SubmitOptions{}

	cmd := &cobra.Command{
		Use:   "submit <automata-id> <event-type>",
		Short: "Submit an event against an expected version",
		Long: `Submit an event. The event commits only if the automata is still at
--version; otherwise nothing is written, the current version and state are
printed, and the command exits with code 5 so the caller can re-submit.

Without --version the current version is read first. That read and the
append are not atomic; concurrent writers should always pass --version.

Example:
  automata submit automata-1 listing.published --version 000003 --data '{"price":10}'`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(rootOpts, cmd, func(a *app) error {
				return runSubmit(a, args[0], args[1], opts, cmd)
			})
		},
	}

	cmd.Flags().StringVar(&opts.Data, "data", "", "event data as a JSON object")
	cmd.Flags().StringVar(&opts.Version, "version", "", "expected current version (default: read it)")

	return cmd
}

func runSubmit(a *app, automataID, eventType string, opts *SubmitOptions, cmd *cobra.Command) error {
	data, err := parseJSONObject("data", opts.Data)
	if err != nil {
		return err
	}

	expected := version.Version(opts.Version)
	if expected == "" {
		current, err := a.engine.Get(cmd.Context(), automataID)
		if err != nil {
			return a.out.EngineError("submit", err)
		}
		expected = current.Version
		a.out.VerboseLog("Submitting against current version %s", expected)
	}

	result, err := a.engine.Append(cmd.Context(), engine.AppendRequest{
		AutomataID:      automataID,
		ExpectedVersion: expected,
		EventType:       eventType,
		EventData:       data,
		SenderID:        a.identity.AccountID,
	})
	if err != nil {
		return a.out.EngineError("submit", err)
	}

	if err := a.out.Success(result); err != nil {
		return err
	}
	if !result.Committed {
		return NewExitError(ExitConflict,
			fmt.Sprintf("not committed: automata is at version %s, not %s", result.Version, expected))
	}
	return nil
}

// NewEventCommand creates the event command.
func NewEventCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "event <automata-id> <base-version>",
		Short: "Show the event recorded at a base version",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(rootOpts, cmd, func(a *app) error {
				ev, err := a.engine.GetEvent(cmd.Context(), args[0], version.Version(args[1]))
				if err != nil {
					return a.out.EngineError("get event", err)
				}
				return a.out.Success(ev)
			})
		},
	}
}

// HistoryOptions holds flags for the backtrace and replay commands.
type HistoryOptions struct {
	Anchor string
	Limit  int
}

// NewHistoryCommand creates the backtrace or replay command.
func NewHistoryCommand(rootOpts *RootOptions, name string) *cobra.Command {
	opts := &HistoryOptions{}

	short := "Page through events newest first"
	anchorHelp := "start at events with base version at or below this (default: current version)"
	if name == "replay" {
		short = "Page through events oldest first"
		anchorHelp = "start after events that produced this version (default: from the beginning)"
	}

	cmd := &cobra.Command{
		Use:   name + " <automata-id>",
		Short: short,
		Long: short + `. Pass the returned next_anchor as --anchor to continue;
next_anchor is null once the log is exhausted.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(rootOpts, cmd, func(a *app) error {
				return runHistory(a, name, args[0], opts, cmd)
			})
		},
	}

	cmd.Flags().StringVar(&opts.Anchor, "anchor", "", anchorHelp)
	cmd.Flags().IntVar(&opts.Limit, "limit", engine.DefaultPageLimit,
		fmt.Sprintf("page size (max %d)", engine.MaxPageLimit))

	return cmd
}

func runHistory(a *app, name, automataID string, opts *HistoryOptions, cmd *cobra.Command) error {
	var anchor *version.Version
	if opts.Anchor != "" {
		anchor = version.Version(opts.Anchor).Ptr()
	}

	walk := a.engine.Backtrace
	if name == "replay" {
		walk = a.engine.Replay
	}

	page, err := walk(cmd.Context(), automataID, anchor, opts.Limit)
	if err != nil {
		return a.out.EngineError(name, err)
	}
	return a.out.Success(page)
}
