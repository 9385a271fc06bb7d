package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/dispatchr/internal/compiler"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid    bool                       `json:"valid"`
	Stores   int                        `json:"stores"`
	Errors   []compiler.ValidationError `json:"errors,omitempty"`
	Warnings []compiler.CycleWarning    `json:"warnings,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <specs-dir>",
		Short: "Validate store specs",
		Long: `Validate the CUE store specs in a directory.

Reports compile errors, unknown wait_for and expect targets, sync handlers
that wait, and stores that wait on each other for the same action. Actions
that dispatch each other in a loop are reported as warnings.

Exit codes:
  0 - Specs are valid (warnings allowed)
  1 - Specs are invalid
  2 - Command error (directory not found, no CUE files, etc.)`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, specsDir string, cmd *cobra.Command) error {
	f := newFormatter(opts, cmd)

	loaded, loadErrs := compiler.LoadDir(specsDir)
	if loaded == nil {
		return reportLoadErrors(f, loadErrs)
	}
	f.VerboseLog("Found %d CUE file(s) in %s", loaded.FileCount, specsDir)

	// Stores that failed to compile are reported alongside validation
	// errors for the ones that did.
	var errs []compiler.ValidationError
	for _, err := range loadErrs {
		errs = append(errs, loadValidationError(err))
	}
	for _, s := range loaded.Stores {
		f.VerboseLog("Validating store: %s", s.Name)
	}
	errs = append(errs, compiler.Validate(loaded.Stores)...)
	warnings := compiler.DetectDispatchLoops(loaded.Stores)

	if len(errs) > 0 {
		return reportValidationErrors(f, errs, warnings, ExitFailure)
	}

	if f.IsJSON() {
		return f.Success(ValidationResult{Valid: true, Stores: len(loaded.Stores), Warnings: warnings})
	}
	writeWarnings(f.Writer, warnings)
	fmt.Fprintf(f.Writer, "✓ All specs valid (%d store(s))\n", len(loaded.Stores))
	return nil
}

func loadValidationError(err error) compiler.ValidationError {
	var loadErr *compiler.LoadError
	if errors.As(err, &loadErr) {
		line := 0
		if loadErr.Pos.IsValid() {
			line = loadErr.Pos.Line()
		}
		return compiler.ValidationError{Field: "load", Message: loadErr.Message, Code: loadErr.Code, Line: line}
	}
	return compiler.ValidationError{Field: "load", Message: err.Error(), Code: compiler.ErrCodeGeneric}
}
