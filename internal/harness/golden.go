package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/keel/internal/canonical"
)

// TraceSnapshot is the canonical-JSON view of a scenario execution,
// compared byte for byte against its golden file.
type TraceSnapshot struct {
	ScenarioName string
	Trace        []TraceEvent
}

// toCanonicalValue converts the snapshot to the value types the
// canonical marshaler accepts. Empty fields are omitted so golden
// files stay readable.
func (s *TraceSnapshot) toCanonicalValue() map[string]any {
	events := make([]any, len(s.Trace))
	for i, ev := range s.Trace {
		m := map[string]any{"type": ev.Type}
		if ev.Phase != "" {
			m["phase"] = ev.Phase
		}
		if ev.Strategy != "" {
			m["strategy"] = ev.Strategy
		}
		if ev.Operation != "" {
			m["operation"] = ev.Operation
		}
		if ev.Status != "" {
			m["status"] = ev.Status
		}
		if ev.Result != "" {
			m["result"] = ev.Result
		}
		if ev.Error != "" {
			m["error"] = ev.Error
		}
		if ev.Seq != 0 {
			m["seq"] = ev.Seq
		}
		events[i] = m
	}
	return map[string]any{
		"scenario_name": s.ScenarioName,
		"trace":         events,
	}
}

// RunWithGolden executes a scenario and compares its trace against
// testdata/golden/<name>.golden. Regenerate with:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}

	snapshot := TraceSnapshot{ScenarioName: scenario.Name, Trace: result.Trace}
	traceJSON, err := canonical.Marshal(snapshot.toCanonicalValue())
	if err != nil {
		return nil, err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenario.Name, traceJSON)

	return result, nil
}
