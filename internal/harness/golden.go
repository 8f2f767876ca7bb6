package harness

import (
	"fmt"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
)

// Render formats a result as the stable text used for golden files and
// the CLI.
//
//	scenario: reorder
//	replicas: alice bob
//	steps:
//	  [1] alice add A
//	  [2] alice sync -> bob changed=1
//	final:
//	  alice: A:empty
//	  bob: A:empty
//	converged: true
//	pass: true
func Render(r *Result) string {
	var buf strings.Builder

	agents := make([]string, len(r.Replicas))
	for i, v := range r.Replicas {
		agents[i] = v.Agent
	}
	fmt.Fprintf(&buf, "scenario: %s\n", r.Scenario)
	fmt.Fprintf(&buf, "replicas: %s\n", strings.Join(agents, " "))

	buf.WriteString("steps:\n")
	for _, s := range r.Steps {
		fmt.Fprintf(&buf, "  [%d] %s %s %s", s.Seq, s.Replica, s.Op, s.Detail)
		if s.Op == OpSync {
			fmt.Fprintf(&buf, " changed=%d", s.Changed)
		}
		if s.Error != "" {
			fmt.Fprintf(&buf, " error=%s", s.Error)
		}
		buf.WriteByte('\n')
	}

	buf.WriteString("final:\n")
	for _, v := range r.Replicas {
		fmt.Fprintf(&buf, "  %s: %s\n", v.Agent, renderTasks(v.Tasks))
	}

	fmt.Fprintf(&buf, "converged: %t\n", r.Converged)
	fmt.Fprintf(&buf, "pass: %t\n", r.Pass)
	if len(r.Errors) > 0 {
		buf.WriteString("errors:\n")
		for _, e := range r.Errors {
			fmt.Fprintf(&buf, "  - %s\n", e)
		}
	}
	return buf.String()
}

func renderTasks(tasks []TaskLine) string {
	if len(tasks) == 0 {
		return "(empty)"
	}
	parts := make([]string, len(tasks))
	for i, t := range tasks {
		s := t.Alias + ":" + t.State
		if t.Assignee != "" {
			s += "@" + t.Assignee
		}
		if t.Title != t.Alias {
			s += fmt.Sprintf(" %q", t.Title)
		}
		if t.Priority > 0 {
			s += fmt.Sprintf(" p=%d", t.Priority)
		}
		parts[i] = s
	}
	return strings.Join(parts, ", ")
}

// RunWithGolden executes a scenario and compares its rendered result
// against testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	AssertGolden(t, scenario.Name, result)
	return result, nil
}

// AssertGolden compares an already computed result against its golden
// file.
func AssertGolden(t *testing.T, name string, result *Result) {
	t.Helper()

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, []byte(Render(result)))
}
