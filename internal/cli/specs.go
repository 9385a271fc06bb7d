package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/roach88/dispatchr/internal/compiler"
	"github.com/roach88/dispatchr/internal/dispatch"
	"github.com/roach88/dispatchr/internal/scripted"
)

// loadRegistry compiles and validates the stores in specsDir and registers
// them as scripted stores. Problems are reported through f and returned as
// a command error. opts are applied to every scripted store.
func loadRegistry(f *OutputFormatter, specsDir string, opts ...scripted.RegisterOption) (*compiler.LoadResult, *dispatch.Registry, error) {
	loaded, errs := compiler.LoadDir(specsDir)
	if len(errs) > 0 {
		return nil, nil, reportLoadErrors(f, errs)
	}
	f.VerboseLog("Loaded %d store(s) from %d CUE file(s) in %s", len(loaded.Stores), loaded.FileCount, specsDir)

	if verrs := compiler.Validate(loaded.Stores); len(verrs) > 0 {
		return nil, nil, reportValidationErrors(f, verrs, nil, ExitCommandError)
	}

	reg := dispatch.NewRegistry()
	if err := scripted.Register(reg, loaded.Stores, opts...); err != nil {
		return nil, nil, f.Fail(ExitCommandError, compiler.ErrCodeGeneric, "failed to register stores", err)
	}
	return loaded, reg, nil
}

// reportLoadErrors writes every load error and returns the exit error.
func reportLoadErrors(f *OutputFormatter, errs []error) error {
	cliErrors := make([]CLIError, len(errs))
	for i, err := range errs {
		cliErrors[i] = loadCLIError(err)
	}

	if f.IsJSON() {
		if err := f.Respond(CLIResponse{Status: "error", Error: &cliErrors[0], Data: cliErrors}); err != nil {
			return err
		}
	} else {
		fmt.Fprintln(f.Writer, "✗ Loading specs failed")
		fmt.Fprintln(f.Writer)
		for _, err := range errs {
			writeLoadError(f.Writer, err)
		}
	}

	if len(errs) == 1 {
		return WrapExitError(ExitCommandError, "failed to load specs", errs[0])
	}
	return NewExitError(ExitCommandError, fmt.Sprintf("failed to load specs: %d error(s)", len(errs)))
}

func loadCLIError(err error) CLIError {
	var loadErr *compiler.LoadError
	if errors.As(err, &loadErr) {
		e := CLIError{Code: loadErr.Code, Message: loadErr.Message}
		if loadErr.Pos.IsValid() {
			e.Details = map[string]any{
				"file":   loadErr.Pos.Filename(),
				"line":   loadErr.Pos.Line(),
				"column": loadErr.Pos.Column(),
			}
		}
		return e
	}
	return CLIError{Code: compiler.ErrCodeGeneric, Message: err.Error()}
}

func writeLoadError(w io.Writer, err error) {
	var loadErr *compiler.LoadError
	if errors.As(err, &loadErr) {
		if loadErr.Pos.IsValid() {
			fmt.Fprintf(w, "%s:%d:%d\n", loadErr.Pos.Filename(), loadErr.Pos.Line(), loadErr.Pos.Column())
		}
		fmt.Fprintf(w, "  %s: %s\n\n", loadErr.Code, loadErr.Message)
		return
	}
	fmt.Fprintf(w, "  %s: %v\n\n", compiler.ErrCodeGeneric, err)
}

// reportValidationErrors writes every validation error and returns an
// exit error with exitCode: a failure for validate, a command error for
// commands that need valid specs to do anything.
func reportValidationErrors(f *OutputFormatter, errs []compiler.ValidationError, warnings []compiler.CycleWarning, exitCode int) error {
	if f.IsJSON() {
		resp := CLIResponse{
			Status: "error",
			Data:   ValidationResult{Valid: false, Errors: errs, Warnings: warnings},
			Error:  &CLIError{Code: errs[0].Code, Message: errs[0].Message},
		}
		if err := f.Respond(resp); err != nil {
			return err
		}
	} else {
		fmt.Fprintln(f.Writer, "✗ Validation failed")
		fmt.Fprintln(f.Writer)
		for _, e := range errs {
			fmt.Fprintf(f.Writer, "  %s\n", e.Error())
		}
		fmt.Fprintln(f.Writer)
		writeWarnings(f.Writer, warnings)
	}
	return NewExitError(exitCode, fmt.Sprintf("validation failed with %d error(s)", len(errs)))
}

func writeWarnings(w io.Writer, warnings []compiler.CycleWarning) {
	for _, warn := range warnings {
		fmt.Fprintf(w, "  warning: %s\n", warn.Message)
	}
	if len(warnings) > 0 {
		fmt.Fprintln(w)
	}
}
