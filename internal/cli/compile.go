package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/dispatchr/internal/compiler"
	"github.com/roach88/dispatchr/internal/ir"
)

// CompileOptions holds flags for the compile command.
type CompileOptions struct {
	*RootOptions
	Output string // output file path
}

// CompilationResult holds the compiled stores.
type CompilationResult struct {
	Stores []ir.StoreSpec `json:"stores"`
}

// NewCompileCommand creates the compile command.
func NewCompileCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CompileOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "compile <specs-dir>",
		Short: "Compile CUE store specs to JSON",
		Long: `Compile the CUE store specs in a directory into their JSON form.

Every store under the top-level "store" field is compiled; all compile
errors are reported, not just the first.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompile(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "output file path")

	return cmd
}

func runCompile(opts *CompileOptions, specsDir string, cmd *cobra.Command) error {
	f := newFormatter(opts.RootOptions, cmd)

	loaded, errs := compiler.LoadDir(specsDir)
	if len(errs) > 0 {
		return reportLoadErrors(f, errs)
	}
	f.VerboseLog("Found %d CUE file(s) in %s", loaded.FileCount, specsDir)
	for _, s := range loaded.Stores {
		f.VerboseLog("Compiled store: %s", s.Name)
	}

	result := &CompilationResult{Stores: loaded.Stores}
	if result.Stores == nil {
		result.Stores = []ir.StoreSpec{}
	}

	if opts.Output != "" {
		if err := writeStoresFile(result, opts.Output); err != nil {
			return f.Fail(ExitCommandError, ErrCodeWriteFailed, "writing output file", err)
		}
	}

	if f.IsJSON() {
		return f.Success(result)
	}

	fmt.Fprintf(f.Writer, "✓ Compiled %d store(s)\n\n", len(result.Stores))
	for _, s := range result.Stores {
		suffix := ""
		if s.Serialize {
			suffix = ", serialized"
		}
		fmt.Fprintf(f.Writer, "  %s: %d handler(s)%s\n", s.Name, len(s.Handlers), suffix)
		for _, h := range s.Handlers {
			fmt.Fprintf(f.Writer, "    %s (%s)\n", h.Action, h.Style)
		}
	}
	if opts.Output != "" {
		fmt.Fprintf(f.Writer, "\nWrote stores to %s\n", opts.Output)
	}
	return nil
}

// writeStoresFile writes the compilation result as indented JSON.
// Canonical JSON is reserved for hashing.
func writeStoresFile(result *CompilationResult, filename string) error {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling stores: %w", err)
	}
	if err := os.WriteFile(filename, data, 0o644); err != nil {
		return fmt.Errorf("writing file: %w", err)
	}
	return nil
}
