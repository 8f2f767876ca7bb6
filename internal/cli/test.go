package cli

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/tasksync/internal/harness"
)

// TestOptions holds flags for the test command.
type TestOptions struct {
	*RootOptions
	Filter string // scenario filter (glob pattern on the file name)
}

// NewTestCommand creates the test command.
func NewTestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "test <scenario-file-or-dir>",
		Short: "Run convergence scenarios",
		Long: `Run replica convergence scenarios.

Each scenario drives several in-memory replicas of one task list through
local edits and delta exchanges, then checks the final order, checkbox
states and assignees, and that the replicas converged.

Exit codes:
  0 - All scenarios passed
  1 - One or more scenarios failed
  2 - Command error (invalid path, bad filter)

Examples:
  tasksync test ./scenarios
  tasksync test ./scenarios --filter "concurrent_*"
  tasksync test ./scenarios/reorder.yaml --verbose`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTests(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Filter, "filter", "", "filter scenarios by glob pattern")

	return cmd
}

func runTests(opts *TestOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	files, err := harness.ScenarioFiles(path)
	if err != nil {
		return formatter.fail(ExitCommandError, ErrCodeNotFound, "scenario path not found: "+path, err)
	}
	files, err = filterScenarios(files, opts.Filter)
	if err != nil {
		return formatter.fail(ExitCommandError, ErrCodeScenario, "invalid filter pattern", err)
	}

	result := harness.RunSuite(files)
	if opts.Format == "json" {
		if err := formatter.Success(result); err != nil {
			return err
		}
	} else {
		writeSuiteText(formatter, result)
	}

	if result.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d of %d scenarios failed", result.Failed, result.Total))
	}
	return nil
}

// filterScenarios keeps the files whose name, without extension, matches
// pattern.
func filterScenarios(files []string, pattern string) ([]string, error) {
	if pattern == "" {
		return files, nil
	}
	var kept []string
	for _, f := range files {
		base := filepath.Base(f)
		matched, err := filepath.Match(pattern, strings.TrimSuffix(base, filepath.Ext(base)))
		if err != nil {
			return nil, err
		}
		if matched {
			kept = append(kept, f)
		}
	}
	return kept, nil
}

func writeSuiteText(f *OutputFormatter, result *harness.SuiteResult) {
	w := f.Writer
	if result.Total == 0 {
		fmt.Fprintln(w, "No scenarios found.")
		return
	}

	for _, r := range result.Results {
		if r.Pass {
			fmt.Fprintf(w, "✓ %s\n", r.Scenario)
		} else {
			fmt.Fprintf(w, "✗ %s\n", r.Scenario)
			for _, e := range r.Errors {
				fmt.Fprintf(w, "  %s\n", e)
			}
		}
		if f.Verbose {
			fmt.Fprintln(f.GetErrWriter(), harness.Render(r))
		}
	}
	for _, fail := range result.Failures {
		if fail.Scenario != "" && !strings.HasPrefix(fail.Error, "scenario execution failed") {
			continue
		}
		fmt.Fprintf(w, "✗ %s\n  %s\n", filepath.Base(fail.Path), fail.Error)
	}

	fmt.Fprintf(w, "\n%d passed, %d failed, %d total\n", result.Passed, result.Failed, result.Total)
}
