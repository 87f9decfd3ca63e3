package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Steven-Chan/chat/internal/backend"
	"github.com/Steven-Chan/chat/internal/harness"
)

// TestOptions holds flags for the test command.
type TestOptions struct {
	*RootOptions
	Update      bool   // regenerate golden files
	Filter      string // scenario filter (glob pattern)
	AllBackends bool   // run every scenario on every backend
}

// ScenarioResult holds the result of a single scenario execution.
type ScenarioResult struct {
	Name    string   `json:"name"`
	Backend string   `json:"backend"`
	Pass    bool     `json:"pass"`
	Digest  string   `json:"digest,omitempty"`
	Errors  []string `json:"errors,omitempty"`
}

// TestResult holds the overall test result.
type TestResult struct {
	Scenarios []ScenarioResult `json:"scenarios"`
	Passed    int              `json:"passed"`
	Failed    int              `json:"failed"`
	Total     int              `json:"total"`
}

// NewTestCommand creates the test command.
func NewTestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "test <scenario-file-or-dir>...",
		Short: "Run chain scenarios",
		Long: `Run YAML chain scenarios, each against a fresh in-memory store.

Every scenario's steps, expected links and assertions are checked. When
golden/<name>.golden exists next to the scenario file, the final chain and
step trace must match it byte for byte.

The backend is the scenario's own, else --backend, else sqlite.
--all-backends runs every scenario on every backend against the same
golden file.

Exit codes:
  0 - All scenarios passed
  1 - One or more scenarios failed
  2 - Command error (invalid paths, etc.)

Examples:
  chatlink test ./scenarios
  chatlink test ./scenarios --filter "dup*"
  chatlink test ./scenarios --update
  chatlink test ./scenarios/links.yaml --all-backends --format json`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTests(opts, args, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Update, "update", false, "regenerate golden files")
	cmd.Flags().StringVar(&opts.Filter, "filter", "", "filter scenarios by glob pattern")
	cmd.Flags().BoolVar(&opts.AllBackends, "all-backends", false, "run each scenario on every backend")

	return cmd
}

func runTests(opts *TestOptions, paths []string, cmd *cobra.Command) error {
	if opts.Backend != "" && !isBackendName(opts.Backend) {
		return NewExitError(ExitCommandError, fmt.Sprintf("unknown backend %q: must be one of %v", opts.Backend, backend.Names))
	}

	var scenarioFiles []string
	for _, p := range paths {
		if _, err := os.Stat(p); os.IsNotExist(err) {
			return NewExitError(ExitCommandError, fmt.Sprintf("scenario path not found: %s", p))
		}
		files, err := findScenarioFiles(p, opts.Filter)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to find scenarios", err)
		}
		scenarioFiles = append(scenarioFiles, files...)
	}

	if len(scenarioFiles) == 0 {
		if opts.Format == "json" {
			return outputTestJSON(cmd, TestResult{
				Scenarios: []ScenarioResult{},
				Total:     0,
			})
		}
		fmt.Fprintln(cmd.OutOrStdout(), "No scenarios found.")
		return nil
	}

	result := TestResult{Scenarios: []ScenarioResult{}}

	for _, scenarioFile := range scenarioFiles {
		for _, scenResult := range runScenarioFile(scenarioFile, opts, cmd) {
			result.Scenarios = append(result.Scenarios, scenResult)
			result.Total++
			if scenResult.Pass {
				result.Passed++
			} else {
				result.Failed++
			}
		}
	}

	if opts.Format == "json" {
		return outputTestJSON(cmd, result)
	}
	return outputTestText(cmd, result)
}

// findScenarioFiles finds all YAML scenario files under path. A file path
// is returned as is when it matches the filter.
func findScenarioFiles(path string, filter string) ([]string, error) {
	var files []string

	err := filepath.Walk(path, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		if info.IsDir() {
			return nil
		}

		// Only process .yaml and .yml files
		ext := filepath.Ext(p)
		if ext != ".yaml" && ext != ".yml" {
			return nil
		}

		// Apply filter if specified
		if filter != "" {
			name := strings.TrimSuffix(filepath.Base(p), ext)
			matched, err := filepath.Match(filter, name)
			if err != nil {
				return fmt.Errorf("invalid filter pattern: %w", err)
			}
			if !matched {
				return nil
			}
		}

		files = append(files, p)
		return nil
	})

	return files, err
}

// scenarioBackends returns the backends one scenario runs on.
func scenarioBackends(s *harness.Scenario, opts *TestOptions) []string {
	switch {
	case opts.AllBackends:
		return backend.Names
	case s.Backend != "":
		return []string{s.Backend}
	case opts.Backend != "":
		return []string{opts.Backend}
	default:
		return []string{backend.SQLite}
	}
}

// runScenarioFile executes one scenario file on each selected backend.
func runScenarioFile(scenarioFile string, opts *TestOptions, cmd *cobra.Command) []ScenarioResult {
	w := cmd.OutOrStdout()
	text := opts.Format != "json"

	scenario, err := harness.LoadScenario(scenarioFile)
	if err != nil {
		if text {
			fmt.Fprintf(w, "✗ %s\n", filepath.Base(scenarioFile))
			fmt.Fprintf(w, "  Load error: %v\n", err)
		}
		return []ScenarioResult{{
			Name:   filepath.Base(scenarioFile),
			Pass:   false,
			Errors: []string{fmt.Sprintf("failed to load scenario: %v", err)},
		}}
	}

	var results []ScenarioResult
	goldenPath := goldenFilePath(scenarioFile)

	for i, name := range scenarioBackends(scenario, opts) {
		res := ScenarioResult{Name: scenario.Name, Backend: name}
		label := fmt.Sprintf("%s [%s]", scenario.Name, name)

		result, err := harness.RunOn(scenario, name)
		if err != nil {
			res.Errors = []string{fmt.Sprintf("execution failed: %v", err)}
			results = append(results, reportScenario(w, text, label, res))
			continue
		}
		res.Digest = result.Digest
		res.Errors = result.Errors

		snapshot, err := harness.Snapshot(scenario.Name, result)
		if err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("snapshot failed: %v", err))
			results = append(results, reportScenario(w, text, label, res))
			continue
		}

		switch {
		case opts.Update && i == 0:
			// The first backend writes the golden file; the rest compare.
			if err := writeGoldenFile(goldenPath, snapshot); err != nil {
				res.Errors = append(res.Errors, fmt.Sprintf("failed to update golden file: %v", err))
			} else {
				label += " (golden updated)"
			}
		default:
			match, exists, err := compareWithGolden(goldenPath, snapshot)
			switch {
			case err != nil:
				res.Errors = append(res.Errors, fmt.Sprintf("golden comparison failed: %v", err))
			case exists && !match:
				res.Errors = append(res.Errors, "chain does not match golden file (run with --update to regenerate)")
			}
		}

		res.Pass = len(res.Errors) == 0
		results = append(results, reportScenario(w, text, label, res))
	}
	return results
}

func reportScenario(w io.Writer, text bool, label string, res ScenarioResult) ScenarioResult {
	if !text {
		return res
	}
	if res.Pass {
		fmt.Fprintf(w, "✓ %s\n", label)
		return res
	}
	fmt.Fprintf(w, "✗ %s\n", label)
	for _, e := range res.Errors {
		fmt.Fprintf(w, "  %s\n", e)
	}
	return res
}

// goldenFilePath returns the path to the golden file for a scenario.
func goldenFilePath(scenarioFile string) string {
	dir := filepath.Dir(scenarioFile)
	base := filepath.Base(scenarioFile)
	name := strings.TrimSuffix(base, filepath.Ext(base))
	return filepath.Join(dir, "golden", name+".golden")
}

// writeGoldenFile writes a scenario snapshot as its golden file.
func writeGoldenFile(goldenPath string, snapshot []byte) error {
	if err := os.MkdirAll(filepath.Dir(goldenPath), 0755); err != nil {
		return fmt.Errorf("failed to create golden directory: %w", err)
	}
	if err := os.WriteFile(goldenPath, snapshot, 0644); err != nil {
		return fmt.Errorf("failed to write golden file: %w", err)
	}
	return nil
}

// compareWithGolden compares a snapshot against the golden file. exists is
// false when there is no golden file to compare with.
func compareWithGolden(goldenPath string, snapshot []byte) (match, exists bool, err error) {
	goldenData, err := os.ReadFile(goldenPath)
	if os.IsNotExist(err) {
		return false, false, nil
	}
	if err != nil {
		return false, true, fmt.Errorf("failed to read golden file: %w", err)
	}
	return bytes.Equal(goldenData, snapshot), true, nil
}

func isBackendName(name string) bool {
	for _, b := range backend.Names {
		if b == name {
			return true
		}
	}
	return false
}

// outputTestJSON outputs the test result as JSON.
func outputTestJSON(cmd *cobra.Command, result TestResult) error {
	status := "ok"
	if result.Failed > 0 {
		status = "error"
	}

	response := CLIResponse{
		Status: status,
		Data:   result,
	}

	if result.Failed > 0 {
		response.Error = &CLIError{
			Code:    "E_TEST_FAILED",
			Message: fmt.Sprintf("%d scenario run(s) failed", result.Failed),
		}
	}

	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(response); err != nil {
		return err
	}

	if result.Failed > 0 {
		// Test failures = exit code 1
		return NewExitError(ExitFailure, fmt.Sprintf("%d scenario run(s) failed", result.Failed))
	}
	return nil
}

// outputTestText outputs the test result as text.
func outputTestText(cmd *cobra.Command, result TestResult) error {
	w := cmd.OutOrStdout()

	fmt.Fprintln(w)
	fmt.Fprintf(w, "Test Summary: %d passed, %d failed, %d total\n", result.Passed, result.Failed, result.Total)

	if result.Failed > 0 {
		// Test failures = exit code 1
		return NewExitError(ExitFailure, fmt.Sprintf("%d scenario run(s) failed", result.Failed))
	}

	fmt.Fprintln(w, "✓ All scenarios passed")
	return nil
}
