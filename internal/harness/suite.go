package harness

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"
)

// SuiteOptions configure RunSuite.
type SuiteOptions struct {
	// Filter is a glob matched against scenario file names (without
	// extension). Empty runs everything.
	Filter string

	// Parallel bounds how many scenarios run at once. Values below 1
	// run one at a time.
	Parallel int

	// Update rewrites golden files instead of comparing against them.
	Update bool

	// RunOptions are passed to every Run.
	RunOptions []Option
}

// ScenarioOutcome is the result of one scenario file in a suite.
type ScenarioOutcome struct {
	Name          string   `json:"name"`
	Path          string   `json:"path"`
	Pass          bool     `json:"pass"`
	GoldenUpdated bool     `json:"golden_updated,omitempty"`
	Errors        []string `json:"errors,omitempty"`
}

// SuiteResult summarizes a directory of scenarios.
type SuiteResult struct {
	Scenarios []ScenarioOutcome `json:"scenarios"`
	Passed    int               `json:"passed"`
	Failed    int               `json:"failed"`
	Total     int               `json:"total"`
}

// FindScenarios returns every .yaml/.yml file under dir whose base name
// matches filter, in walk (lexical) order.
func FindScenarios(dir, filter string) ([]string, error) {
	var files []string

	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}

		ext := filepath.Ext(path)
		if ext != ".yaml" && ext != ".yml" {
			return nil
		}

		if filter != "" {
			name := strings.TrimSuffix(filepath.Base(path), ext)
			matched, err := filepath.Match(filter, name)
			if err != nil {
				return fmt.Errorf("invalid filter pattern: %w", err)
			}
			if !matched {
				return nil
			}
		}

		files = append(files, path)
		return nil
	})

	return files, err
}

// GoldenPath returns the golden file path for a scenario file:
// golden/<name>.golden next to it.
func GoldenPath(scenarioFile string) string {
	base := filepath.Base(scenarioFile)
	name := strings.TrimSuffix(base, filepath.Ext(base))
	return filepath.Join(filepath.Dir(scenarioFile), "golden", name+".golden")
}

// RunSuite runs every scenario under dir. Scenario failures are
// reported in the result; the error is for problems with the suite
// itself (unreadable directory, bad filter, cancelled context).
//
// A scenario passes when its steps and assertions hold and, if a golden
// file exists next to it, its trace matches byte for byte.
func RunSuite(ctx context.Context, dir string, opts SuiteOptions) (*SuiteResult, error) {
	files, err := FindScenarios(dir, opts.Filter)
	if err != nil {
		return nil, err
	}

	outcomes := make([]ScenarioOutcome, len(files))

	g, gctx := errgroup.WithContext(ctx)
	limit := opts.Parallel
	if limit < 1 {
		limit = 1
	}
	g.SetLimit(limit)

	for i, file := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			outcomes[i] = runScenarioFile(gctx, file, opts)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	result := &SuiteResult{Scenarios: outcomes, Total: len(outcomes)}
	for _, o := range outcomes {
		if o.Pass {
			result.Passed++
		} else {
			result.Failed++
		}
	}
	return result, nil
}

func runScenarioFile(ctx context.Context, file string, opts SuiteOptions) ScenarioOutcome {
	outcome := ScenarioOutcome{Name: filepath.Base(file), Path: file}

	scenario, err := LoadScenario(file)
	if err != nil {
		outcome.Errors = []string{fmt.Sprintf("failed to load scenario: %v", err)}
		return outcome
	}
	outcome.Name = scenario.Name

	result, err := Run(ctx, scenario, opts.RunOptions...)
	if err != nil {
		outcome.Errors = []string{fmt.Sprintf("execution failed: %v", err)}
		return outcome
	}

	data, err := GoldenBytes(scenario.Name, result)
	if err != nil {
		outcome.Errors = []string{fmt.Sprintf("failed to render trace: %v", err)}
		return outcome
	}

	goldenPath := GoldenPath(file)
	switch {
	case opts.Update:
		if err := os.MkdirAll(filepath.Dir(goldenPath), 0o755); err != nil {
			outcome.Errors = []string{fmt.Sprintf("failed to create golden directory: %v", err)}
			return outcome
		}
		if err := os.WriteFile(goldenPath, data, 0o644); err != nil {
			outcome.Errors = []string{fmt.Sprintf("failed to write golden file: %v", err)}
			return outcome
		}
		outcome.GoldenUpdated = true
	default:
		golden, err := os.ReadFile(goldenPath)
		switch {
		case os.IsNotExist(err):
			// assertion-only scenario
		case err != nil:
			result.AddError(fmt.Sprintf("failed to read golden file: %v", err))
		case !bytes.Equal(golden, data):
			result.AddError("trace does not match golden file (run with --update to regenerate)")
		}
	}

	outcome.Pass = result.Pass
	outcome.Errors = result.Errors
	if len(outcome.Errors) == 0 {
		outcome.Errors = nil
	}
	return outcome
}
