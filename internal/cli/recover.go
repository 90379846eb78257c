package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/automata/internal/ir"
	"github.com/roach88/automata/internal/version"
)

// StateAtResult is the output of state-at.
type StateAtResult struct {
	AutomataID string          `json:"automata_id"`
	Version    version.Version `json:"version"`
	State      ir.State        `json:"state"`
}

// NewStateAtCommand creates the state-at command.
func NewStateAtCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "state-at <automata-id> <version>",
		Short: "Rebuild the state an automata had at a past version",
		Long: `Rebuild the state at a version by folding the log from the nearest
snapshot at or below it. Snapshots are never trusted over the log: a
snapshot that disagrees with the fold is reported by verify.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(rootOpts, cmd, func(a *app) error {
				target := version.Version(args[1])
				state, err := a.engine.StateAt(cmd.Context(), args[0], target)
				if err != nil {
					return a.out.EngineError("state-at", err)
				}
				return a.out.Success(StateAtResult{AutomataID: args[0], Version: target, State: state})
			})
		},
	}
}

// NewVerifyCommand creates the verify command.
func NewVerifyCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "verify <automata-id>",
		Short: "Check stored state against a full replay of the log",
		Long: `Replay the whole log from the blueprint's initial state and compare the
result with the stored state and every snapshot. Also checks that base
versions run without gaps from 000000.

Exits with code 1 when anything disagrees.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(rootOpts, cmd, func(a *app) error {
				result, err := a.engine.Verify(cmd.Context(), args[0])
				if err != nil {
					return a.out.EngineError("verify", err)
				}
				if err := a.out.Success(result); err != nil {
					return err
				}
				if !result.Match || !result.GapFree || len(result.SnapshotsMismatched) > 0 {
					return NewExitError(ExitFailure,
						fmt.Sprintf("verification failed for %s", args[0]))
				}
				return nil
			})
		},
	}
}
