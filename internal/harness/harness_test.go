package harness

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func load(t *testing.T, name string) *Scenario {
	t.Helper()
	s, err := LoadScenario(filepath.Join("testdata", "scenarios", name+".yaml"))
	require.NoError(t, err)
	return s
}

func mustParse(t *testing.T, doc string) *Scenario {
	t.Helper()
	s, err := ParseScenario([]byte(doc))
	require.NoError(t, err)
	return s
}

func TestScenariosMatchGolden(t *testing.T) {
	for _, name := range []string{"reorder", "concurrent_claim", "offline_edits", "expected_errors"} {
		t.Run(name, func(t *testing.T) {
			result, err := RunWithGolden(t, load(t, name))
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
			assert.True(t, result.Converged)
		})
	}
}

func TestRunIsDeterministic(t *testing.T) {
	s := load(t, "offline_edits")
	first, err := Run(s)
	require.NoError(t, err)
	second, err := Run(s)
	require.NoError(t, err)
	assert.Equal(t, Render(first), Render(second))
}

func TestConcurrentAddsOrderByTaskID(t *testing.T) {
	s := mustParse(t, `
name: concurrent_adds
description: both replicas append while apart
replicas: [alice, bob]
steps:
  - { replica: bob, op: add, title: Y }
  - { replica: alice, op: add, title: X }
  - { replica: alice, op: sync }
  - { replica: bob, op: sync }
expect:
  converged: true
  order: [X, Y]
`)
	result, err := Run(s)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestDuplicateDeliveryChangesNothing(t *testing.T) {
	s := mustParse(t, `
name: duplicate
description: resending a delta is harmless
replicas: [alice, bob]
steps:
  - { replica: alice, op: add, title: A }
  - { replica: alice, op: sync, to: bob }
  - { replica: alice, op: sync, to: bob }
`)
	result, err := Run(s)
	require.NoError(t, err)
	require.Len(t, result.Steps, 3)
	assert.Equal(t, 1, result.Steps[1].Changed)
	assert.Equal(t, 0, result.Steps[2].Changed)
}

func TestFailedExpectationsAreReported(t *testing.T) {
	s := mustParse(t, `
name: wrong
description: every expectation is wrong
replicas: [alice, bob]
steps:
  - { replica: alice, op: add, title: A }
  - { replica: alice, op: add, title: B }
  - replica: alice
    op: claim
    task: A
    expect:
      converged: true
  - { replica: bob, op: claim, task: A }
  - { replica: alice, op: complete, task: B, error: unknown_task }
expect:
  order: [B, A]
  states: { A: done }
  assignees: { A: bob }
`)
	result, err := Run(s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	assert.False(t, result.Converged)

	assert.Equal(t, []string{
		"step 3 (alice claim): converged: expected true, got false",
		"step 4 (bob claim): unexpected error unknown_task",
		"step 5 (alice complete): expected error unknown_task, got none",
		"final (alice): order: expected [B A], got [A B]",
		"final (alice): states[A]: expected done, got claimed",
		`final (alice): assignees[A]: expected "bob", got "alice"`,
		"final (bob): order: expected [B A], got []",
		"final (bob): states[A]: expected done, got missing",
		`final (bob): assignees[A]: expected "bob", got missing`,
	}, result.Errors)
	assert.Contains(t, Render(result), "errors:\n  - step 3 (alice claim)")
}

func TestBrokenScenarioReturnsError(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{
			name: "alias before add",
			doc: `
name: broken
description: claims a task nobody added
replicas: [alice]
steps:
  - { replica: alice, op: claim, task: ghost }
`,
			want: `task "ghost" used before it was added`,
		},
		{
			name: "alias reused",
			doc: `
name: broken
description: adds the same alias twice
replicas: [alice]
steps:
  - { replica: alice, op: add, title: A }
  - { replica: alice, op: add, title: A }
`,
			want: `alias "A" already used`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Run(mustParse(t, tt.doc))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestAliasAndDescription(t *testing.T) {
	s := mustParse(t, `
name: alias
description: alias differs from title
topic: chores
replicas: [alice]
steps:
  - { replica: alice, op: add, task: dishes, title: "Do the dishes", value: "after dinner" }
  - { replica: alice, op: describe, task: dishes, value: "before bed" }
`)
	result, err := Run(s)
	require.NoError(t, err)
	assert.Equal(t, `dishes "Do the dishes"`, result.Steps[0].Detail)
	require.Len(t, result.Replicas, 1)
	assert.Equal(t, []TaskLine{{Alias: "dishes", Title: "Do the dishes", State: "empty"}}, result.Replicas[0].Tasks)
}

func TestRenderEmptyReplica(t *testing.T) {
	s := mustParse(t, `
name: lonely
description: bob never hears about A
replicas: [alice, bob]
steps:
  - { replica: alice, op: add, title: A }
`)
	result, err := Run(s)
	require.NoError(t, err)
	assert.Equal(t, `scenario: lonely
replicas: alice bob
steps:
  [1] alice add A
final:
  alice: A:empty
  bob: (empty)
converged: false
pass: true
`, Render(result))
}
