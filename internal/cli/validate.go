package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/automata/internal/compiler"
)

// BlueprintReport is the validation outcome for one blueprint.
type BlueprintReport struct {
	File     string                     `json:"file"`
	Label    string                     `json:"label"`
	Errors   []compiler.ValidationError `json:"errors,omitempty"`
	Coverage *compiler.Coverage         `json:"coverage,omitempty"`
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid      bool              `json:"valid"`
	Blueprints []BlueprintReport `json:"blueprints"`
	LoadErrors []string          `json:"load_errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <file-or-dir>",
		Short: "Validate blueprints without storing them",
		Long: `Validate .cue and .json blueprints without a database.

Performs syntax checking and the static authoring rules, and reports
event type coverage: event types the transition compares against but the
blueprint does not declare, and declared types the transition never
mentions. Coverage findings are warnings and do not fail validation.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	out := formatter(opts, cmd)

	sources, loadErrs := compiler.LoadDir(path)
	result := ValidationResult{
		Valid:      len(loadErrs) == 0,
		Blueprints: make([]BlueprintReport, 0, len(sources)),
	}
	for _, err := range loadErrs {
		result.LoadErrors = append(result.LoadErrors, err.Error())
	}

	for _, src := range sources {
		out.VerboseLog("Validating blueprint: %s", src.Label)

		report := BlueprintReport{
			File:   src.File,
			Label:  src.Label,
			Errors: compiler.Validate(src.Content),
		}
		if len(report.Errors) > 0 {
			result.Valid = false
		} else if cov, err := compiler.AnalyzeCoverage(src.Content); err == nil && cov.HasWarnings() {
			report.Coverage = &cov
		}
		result.Blueprints = append(result.Blueprints, report)
	}

	if opts.Format == "json" {
		if err := out.Success(result); err != nil {
			return err
		}
	} else {
		writeValidationText(out, result)
	}

	if !result.Valid {
		return NewExitError(ExitFailure, "validation failed")
	}
	return nil
}

func writeValidationText(out *OutputFormatter, result ValidationResult) {
	w := out.Writer
	for _, msg := range result.LoadErrors {
		fmt.Fprintf(w, "✗ %s\n", msg)
	}
	for _, r := range result.Blueprints {
		if len(r.Errors) > 0 {
			fmt.Fprintf(w, "✗ %s (%s)\n", r.Label, r.File)
			for _, e := range r.Errors {
				fmt.Fprintf(w, "  %s\n", e.Error())
			}
			continue
		}
		fmt.Fprintf(w, "✓ %s\n", r.Label)
		if r.Coverage != nil {
			for _, t := range r.Coverage.Undeclared {
				fmt.Fprintf(w, "  warning: transition compares against undeclared event type %s\n", t)
			}
			for _, t := range r.Coverage.Unhandled {
				fmt.Fprintf(w, "  warning: event type %s is never compared against\n", t)
			}
		}
	}
	if result.Valid {
		fmt.Fprintf(w, "All blueprints valid.\n")
	}
}
