package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/automata/internal/engine"
	"github.com/roach88/automata/internal/ir"
)

// NewCreateCommand creates the create command.
func NewCreateCommand(rootOpts *RootOptions) *cobra.Command {
	var initial string

	cmd := &cobra.Command{
		Use:   "create <blueprint-id>",
		Short: "Create an automata from a blueprint",
		Long: `Create an automata at version 000000, owned by the acting identity
(--tenant, --account).

The state starts as the blueprint's initial state unless --initial gives
a JSON object, which must satisfy the blueprint's state schema.

Example:
  automata create app-listing-1a2b... --initial '{"views":0}'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(rootOpts, cmd, func(a *app) error {
				state, err := parseJSONObject("initial", initial)
				if err != nil {
					return err
				}
				created, err := a.engine.Create(cmd.Context(), a.identity, args[0], state)
				if err != nil {
					return a.out.EngineError("create automata", err)
				}
				return a.out.Success(created)
			})
		},
	}

	cmd.Flags().StringVar(&initial, "initial", "", "initial state as a JSON object")

	return cmd
}

// NewGetCommand creates the get command.
func NewGetCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <automata-id>",
		Short: "Show an automata's current version and state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(rootOpts, cmd, func(a *app) error {
				got, err := a.engine.Get(cmd.Context(), args[0])
				if err != nil {
					return a.out.EngineError("get automata", err)
				}
				return a.out.Success(got)
			})
		},
	}
}

// ListOptions holds flags for the list command.
type ListOptions struct {
	Owner     string
	Blueprint string
	Cursor    string
	Limit     int
}

// NewListCommand creates the list command.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ListOptions{}

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List automata by owner or blueprint",
		Long: `List automata owned by an account (default: the acting account), or
created from a blueprint with --blueprint. Results are ordered by ID;
pass the returned next_cursor as --cursor to fetch the next page.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(rootOpts, cmd, func(a *app) error {
				return runList(a, opts, cmd)
			})
		},
	}

	cmd.Flags().StringVar(&opts.Owner, "owner", "", "owner account ID (default: --account)")
	cmd.Flags().StringVar(&opts.Blueprint, "blueprint", "", "list automata of this blueprint instead")
	cmd.Flags().StringVar(&opts.Cursor, "cursor", "", "resume after this automata ID")
	cmd.Flags().IntVar(&opts.Limit, "limit", engine.DefaultPageLimit,
		fmt.Sprintf("page size (max %d)", engine.MaxPageLimit))

	return cmd
}

func runList(a *app, opts *ListOptions, cmd *cobra.Command) error {
	if opts.Owner != "" && opts.Blueprint != "" {
		return NewExitError(ExitCommandError, "--owner and --blueprint are mutually exclusive")
	}

	page := engine.Page{Cursor: opts.Cursor, Limit: opts.Limit}

	var (
		result engine.AutomataPage
		err    error
	)
	if opts.Blueprint != "" {
		result, err = a.engine.ListByBlueprint(cmd.Context(), opts.Blueprint, page)
	} else {
		owner := opts.Owner
		if owner == "" {
			owner = a.identity.AccountID
		}
		result, err = a.engine.List(cmd.Context(), owner, page)
	}
	if err != nil {
		return a.out.EngineError("list automata", err)
	}
	if result.Items == nil {
		result.Items = []ir.Automata{}
	}
	return a.out.Success(result)
}

// NewStatusCommand creates the archive or unarchive command.
func NewStatusCommand(rootOpts *RootOptions, name string) *cobra.Command {
	status, short := ir.StatusArchived, "Archive an automata; it stops accepting events"
	if name == "unarchive" {
		status, short = ir.StatusActive, "Return an archived automata to active"
	}

	return &cobra.Command{
		Use:   name + " <automata-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(rootOpts, cmd, func(a *app) error {
				updated, err := a.engine.SetStatus(cmd.Context(), args[0], status)
				if err != nil {
					return a.out.EngineError(name, err)
				}
				return a.out.Success(updated)
			})
		},
	}
}

// NewDeleteCommand creates the delete command.
func NewDeleteCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <automata-id>",
		Short: "Delete an automata with its events and snapshots",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(rootOpts, cmd, func(a *app) error {
				if err := a.engine.Delete(cmd.Context(), args[0]); err != nil {
					return a.out.EngineError("delete automata", err)
				}
				return a.out.Success(map[string]string{"deleted": args[0]})
			})
		},
	}
}
