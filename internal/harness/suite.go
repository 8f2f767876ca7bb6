package harness

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// SuiteResult summarizes a run over several scenario files.
type SuiteResult struct {
	Total    int            `json:"total"`
	Passed   int            `json:"passed"`
	Failed   int            `json:"failed"`
	Failures []SuiteFailure `json:"failures,omitempty"`
	Results  []*Result      `json:"results"`
}

// SuiteFailure is one scenario that failed to load, run or pass.
type SuiteFailure struct {
	Path     string `json:"path"`
	Scenario string `json:"scenario,omitempty"`
	Error    string `json:"error"`
}

// ScenarioFiles resolves path to scenario files. A directory yields its
// *.yaml and *.yml files in name order; a file yields itself.
func ScenarioFiles(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat scenario path: %w", err)
	}
	if !info.IsDir() {
		return []string{path}, nil
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario dir: %w", err)
	}
	var files []string
	for _, e := range entries {
		ext := filepath.Ext(e.Name())
		if e.IsDir() || (ext != ".yaml" && ext != ".yml") || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		files = append(files, filepath.Join(path, e.Name()))
	}
	sort.Strings(files)
	return files, nil
}

// RunSuite loads and runs every scenario in paths, collecting failures
// instead of stopping at the first.
func RunSuite(paths []string) *SuiteResult {
	result := &SuiteResult{Results: []*Result{}}

	for _, path := range paths {
		result.Total++

		scenario, err := LoadScenario(path)
		if err != nil {
			result.Failed++
			result.Failures = append(result.Failures, SuiteFailure{
				Path:  path,
				Error: fmt.Sprintf("failed to load scenario: %v", err),
			})
			continue
		}

		runResult, err := Run(scenario)
		if err != nil {
			result.Failed++
			result.Failures = append(result.Failures, SuiteFailure{
				Path:     path,
				Scenario: scenario.Name,
				Error:    fmt.Sprintf("scenario execution failed: %v", err),
			})
			continue
		}
		result.Results = append(result.Results, runResult)

		if !runResult.Pass {
			result.Failed++
			result.Failures = append(result.Failures, SuiteFailure{
				Path:     path,
				Scenario: scenario.Name,
				Error:    fmt.Sprintf("scenario expectations failed: %v", runResult.Errors),
			})
			continue
		}
		result.Passed++
	}
	return result
}
