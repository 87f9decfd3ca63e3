package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/Steven-Chan/chat/internal/record"
)

// Snapshot renders the backend-independent part of a result as canonical
// JSON: the scenario name, the step trace, the final chain and its digest.
// Identical scenarios produce identical bytes on every backend.
func Snapshot(scenarioName string, result *Result) ([]byte, error) {
	trace := make([]any, len(result.Trace))
	for i, event := range result.Trace {
		trace[i] = event.canonical()
	}

	return record.MarshalCanonical(map[string]any{
		"scenario_name": scenarioName,
		"trace":         trace,
		"chain":         result.Chain,
		"digest":        result.Digest,
	})
}

// RunWithGolden executes a scenario and compares its snapshot against a
// golden file stored in testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) error {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return err
	}
	return AssertGolden(t, scenario.Name, result)
}

// AssertGolden compares an already computed result against the golden
// file for scenarioName.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	data, err := Snapshot(scenarioName, result)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, data)

	return nil
}
