package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/automata/internal/compiler"
	"github.com/roach88/automata/internal/ir"
)

// CreatedBlueprint reports one stored blueprint.
type CreatedBlueprint struct {
	ID    string `json:"id"`
	IsNew bool   `json:"is_new"`
}

// NewBlueprintCommand creates the blueprint command group.
func NewBlueprintCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "blueprint",
		Short: "Manage blueprints",
	}

	cmd.AddCommand(newBlueprintCreateCommand(rootOpts))
	cmd.AddCommand(newBlueprintGetCommand(rootOpts))
	cmd.AddCommand(newBlueprintListCommand(rootOpts))

	return cmd
}

func newBlueprintCreateCommand(rootOpts *RootOptions) *cobra.Command {
	var signature string

	cmd := &cobra.Command{
		Use:   "create <file-or-dir>",
		Short: "Store blueprints from .cue or .json files",
		Long: `Compile blueprints from a .cue or .json file (or every such file in a
directory) and store them. Identical content is stored once: creating it
again returns the existing ID with is_new=false.

Blueprints outside the @builtin/ namespace need --signature. The
signature is recorded as given; it is not verified here.

Example:
  automata blueprint create ./blueprints/listing.cue
  automata blueprint create ./blueprints --signature "$SIG"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(rootOpts, cmd, func(a *app) error {
				return runBlueprintCreate(a, args[0], signature, cmd)
			})
		},
	}

	cmd.Flags().StringVar(&signature, "signature", "", "verified descriptor signature")

	return cmd
}

func runBlueprintCreate(a *app, path, signature string, cmd *cobra.Command) error {
	sources, loadErrs := compiler.LoadDir(path)
	if len(loadErrs) > 0 {
		for _, err := range loadErrs {
			a.out.Error("INVALID_BLUEPRINT", err.Error(), nil)
		}
		return WrapExitError(ExitValidation, "failed to load blueprints", errors.Join(loadErrs...))
	}

	var sig *string
	if signature != "" {
		sig = &signature
	}

	created := make([]CreatedBlueprint, 0, len(sources))
	for _, src := range sources {
		a.out.VerboseLog("Creating blueprint %s from %s", src.Label, src.File)
		bp, isNew, err := a.engine.CreateBlueprint(cmd.Context(), src.Content, sig, a.identity.AccountID)
		if err != nil {
			return a.out.EngineError(fmt.Sprintf("create blueprint %s", src.Label), err)
		}
		created = append(created, CreatedBlueprint{ID: bp.ID, IsNew: isNew})
	}

	return a.out.Success(created)
}

func newBlueprintGetCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <blueprint-id>",
		Short: "Show a blueprint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(rootOpts, cmd, func(a *app) error {
				bp, err := a.engine.GetBlueprint(cmd.Context(), args[0])
				if err != nil {
					return a.out.EngineError("get blueprint", err)
				}
				return a.out.Success(bp)
			})
		},
	}
}

func newBlueprintListCommand(rootOpts *RootOptions) *cobra.Command {
	var appID string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List blueprints",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(rootOpts, cmd, func(a *app) error {
				list, err := a.engine.ListBlueprints(cmd.Context(), appID)
				if err != nil {
					return a.out.EngineError("list blueprints", err)
				}
				if list == nil {
					list = []ir.Blueprint{}
				}
				return a.out.Success(list)
			})
		},
	}

	cmd.Flags().StringVar(&appID, "app", "", "only blueprints of this app ID")

	return cmd
}
