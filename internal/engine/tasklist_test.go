package engine

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tasksync/internal/crdt"
	"github.com/roach88/tasksync/internal/ir"
)

func newTestList(t *testing.T, agent crdt.AgentID, namespace byte) *TaskList {
	t.Helper()
	l, err := NewTaskList("team", agent, WithIDGenerator(NewSequentialIDs(namespace)))
	require.NoError(t, err)
	return l
}

func titles(views []crdt.TaskView) []string {
	out := make([]string, len(views))
	for i, v := range views {
		out[i] = v.Title
	}
	return out
}

// exchange delivers each list's full state to the other.
func exchange(t *testing.T, a, b *TaskList) {
	t.Helper()
	_, err := b.ApplyDelta(a.ProduceDelta(0))
	require.NoError(t, err)
	_, err = a.ApplyDelta(b.ProduceDelta(0))
	require.NoError(t, err)
}

type countingObserver struct {
	calls atomic.Int64
	total atomic.Int64
}

func (o *countingObserver) OnMutation(topic string, n int) {
	o.calls.Add(1)
	o.total.Add(int64(n))
}

func TestNewTaskListValidation(t *testing.T) {
	_, err := NewTaskList(" ", "a")
	assert.True(t, crdt.IsInvalidArgument(err))

	_, err = NewTaskList("team", "")
	assert.True(t, crdt.IsInvalidArgument(err))
}

func TestAddTask(t *testing.T) {
	l := newTestList(t, "alice", 1)

	id, err := l.AddTask("Write docs", "for the store")
	require.NoError(t, err)

	view, err := l.GetTask(id)
	require.NoError(t, err)
	assert.Equal(t, "Write docs", view.Title)
	assert.Equal(t, "for the store", view.Description)
	assert.Equal(t, crdt.StateEmpty, view.State)
	assert.Equal(t, crdt.AgentID("alice"), view.CreatedBy)
	assert.Empty(t, view.Assignee)
}

func TestAddTaskRejectsEmptyTitle(t *testing.T) {
	l := newTestList(t, "alice", 1)

	for _, title := range []string{"", "   ", "\t\n"} {
		_, err := l.AddTask(title, "desc")
		require.Error(t, err)
		assert.True(t, crdt.IsInvalidArgument(err), "title %q", title)
	}
	assert.Empty(t, l.ListTasks())
}

func TestAddTaskNormalizesTitle(t *testing.T) {
	l := newTestList(t, "alice", 1)

	id, err := l.AddTask("Cafe\u0301", "")
	require.NoError(t, err)

	view, err := l.GetTask(id)
	require.NoError(t, err)
	assert.Equal(t, "Caf\u00e9", view.Title)
}

func TestInvalidUTF8IsRejected(t *testing.T) {
	l := newTestList(t, "alice", 1)

	_, err := l.AddTask("bad\xff", "")
	assert.True(t, crdt.IsInvalidArgument(err))
	_, err = l.AddTask("ok", "bad\xff")
	assert.True(t, crdt.IsInvalidArgument(err))
	assert.Empty(t, l.ListTasks())

	id, err := l.AddTask("ok", "")
	require.NoError(t, err)
	assert.True(t, crdt.IsInvalidArgument(l.RenameTask(id, "\xc3")))
	assert.True(t, crdt.IsInvalidArgument(l.SetDescription(id, "\xff\xfe")))

	view, err := l.GetTask(id)
	require.NoError(t, err)
	assert.Equal(t, "ok", view.Title)
	assert.Empty(t, view.Description)
}

func TestNewTaskListRejectsTextSnapshotsWouldRewrite(t *testing.T) {
	_, err := NewTaskList("team", "jose\u0301")
	assert.True(t, crdt.IsInvalidArgument(err))
	_, err = NewTaskList("team", "bad\xff")
	assert.True(t, crdt.IsInvalidArgument(err))
	_, err = NewTaskList("e\u0301crit", "alice")
	assert.True(t, crdt.IsInvalidArgument(err))

	_, err = NewTaskList("\u00e9crit", "jos\u00e9")
	assert.NoError(t, err)
}

func TestOperationsOnUnknownTask(t *testing.T) {
	l := newTestList(t, "alice", 1)
	missing := crdt.TaskID{9}

	assert.True(t, crdt.IsUnknownTask(l.ClaimTask(missing)))
	assert.True(t, crdt.IsUnknownTask(l.CompleteTask(missing)))
	assert.True(t, crdt.IsUnknownTask(l.RenameTask(missing, "x")))
	assert.True(t, crdt.IsUnknownTask(l.SetDescription(missing, "x")))
	assert.True(t, crdt.IsUnknownTask(l.SetPriority(missing, 1)))

	_, err := l.GetTask(missing)
	assert.True(t, crdt.IsUnknownTask(err))
}

func TestClaimThenComplete(t *testing.T) {
	l := newTestList(t, "alice", 1)
	id, err := l.AddTask("Ship", "")
	require.NoError(t, err)

	require.NoError(t, l.ClaimTask(id))
	view, _ := l.GetTask(id)
	assert.Equal(t, crdt.StateClaimed, view.State)
	assert.Equal(t, crdt.AgentID("alice"), view.Assignee)

	require.NoError(t, l.CompleteTask(id))
	view, _ = l.GetTask(id)
	assert.Equal(t, crdt.StateDone, view.State)

	// Claiming a done task is harmless and never regresses the state.
	require.NoError(t, l.ClaimTask(id))
	view, _ = l.GetTask(id)
	assert.Equal(t, crdt.StateDone, view.State)
}

func TestRenameDescribePrioritize(t *testing.T) {
	l := newTestList(t, "alice", 1)
	id, err := l.AddTask("draft", "")
	require.NoError(t, err)

	require.NoError(t, l.RenameTask(id, "final"))
	require.NoError(t, l.SetDescription(id, "long form"))
	require.NoError(t, l.SetPriority(id, 200))
	assert.True(t, crdt.IsInvalidArgument(l.RenameTask(id, " ")))

	view, _ := l.GetTask(id)
	assert.Equal(t, "final", view.Title)
	assert.Equal(t, "long form", view.Description)
	assert.Equal(t, uint8(200), view.Priority)
}

func TestReorderScenario(t *testing.T) {
	l := newTestList(t, "alice", 1)
	a, err := l.AddTask("A", "first")
	require.NoError(t, err)
	b, err := l.AddTask("B", "second")
	require.NoError(t, err)
	c, err := l.AddTask("C", "third")
	require.NoError(t, err)

	assert.Equal(t, []string{"A", "B", "C"}, titles(l.ListTasks()))

	require.NoError(t, l.Reorder([]crdt.TaskID{c, a, b}))

	views := l.ListTasks()
	assert.Equal(t, []string{"C", "A", "B"}, titles(views))
	assert.Equal(t, "third", views[0].Description)
	assert.Equal(t, "first", views[1].Description)
	assert.Equal(t, "second", views[2].Description)

	// New tasks still append after a reorder.
	_, err = l.AddTask("D", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"C", "A", "B", "D"}, titles(l.ListTasks()))
}

func TestReorderRejectsMismatchedSet(t *testing.T) {
	l := newTestList(t, "alice", 1)
	a, _ := l.AddTask("A", "")
	b, _ := l.AddTask("B", "")

	tests := []struct {
		name string
		ids  []crdt.TaskID
	}{
		{"missing", []crdt.TaskID{a}},
		{"duplicate", []crdt.TaskID{a, a}},
		{"unknown", []crdt.TaskID{a, {7}}},
		{"extra", []crdt.TaskID{a, b, {7}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := l.Reorder(tt.ids)
			assert.True(t, crdt.IsInvalidArgument(err))
		})
	}
	assert.Equal(t, []string{"A", "B"}, titles(l.ListTasks()))
}

func TestConcurrentClaimsConverge(t *testing.T) {
	alice := newTestList(t, "alice", 1)
	bob := newTestList(t, "bob", 2)

	x, err := alice.AddTask("X", "")
	require.NoError(t, err)
	exchange(t, alice, bob)

	require.NoError(t, alice.ClaimTask(x))
	require.NoError(t, bob.ClaimTask(x))
	exchange(t, alice, bob)

	for _, l := range []*TaskList{alice, bob} {
		view, err := l.GetTask(x)
		require.NoError(t, err)
		assert.Equal(t, crdt.StateClaimed, view.State)
		assert.Equal(t, crdt.AgentID("alice"), view.Assignee)
	}
	assert.Equal(t, alice.ListTasks(), bob.ListTasks())
}

func TestConcurrentClaimAndCompleteConvergeToDone(t *testing.T) {
	alice := newTestList(t, "alice", 1)
	bob := newTestList(t, "bob", 2)

	x, _ := alice.AddTask("X", "")
	exchange(t, alice, bob)

	require.NoError(t, alice.ClaimTask(x))
	require.NoError(t, bob.CompleteTask(x))
	exchange(t, alice, bob)

	for _, l := range []*TaskList{alice, bob} {
		view, _ := l.GetTask(x)
		assert.Equal(t, crdt.StateDone, view.State)
		assert.Equal(t, crdt.AgentID("bob"), view.Assignee)
	}
}

func TestApplyDeltaIdempotentAndOrderIndependent(t *testing.T) {
	src := newTestList(t, "alice", 1)
	a, _ := src.AddTask("A", "")
	d1 := src.ProduceDelta(0)

	_, _ = src.AddTask("B", "")
	require.NoError(t, src.ClaimTask(a))
	d2 := src.ProduceDelta(d1.Version)
	assert.Len(t, d2.Tasks, 2)

	inOrder := newTestList(t, "bob", 2)
	reversed := newTestList(t, "carol", 3)

	n, err := inOrder.ApplyDelta(d1)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	_, err = inOrder.ApplyDelta(d2)
	require.NoError(t, err)

	_, err = reversed.ApplyDelta(d2)
	require.NoError(t, err)
	_, err = reversed.ApplyDelta(d1)
	require.NoError(t, err)

	assert.Equal(t, src.ListTasks(), inOrder.ListTasks())
	assert.Equal(t, src.ListTasks(), reversed.ListTasks())

	n, err = inOrder.ApplyDelta(d2)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "duplicate delta changes nothing")
	assert.Equal(t, src.ListTasks(), inOrder.ListTasks())
}

func TestApplyDeltaValidation(t *testing.T) {
	l := newTestList(t, "alice", 1)

	_, err := l.ApplyDelta(crdt.Delta{Topic: "other"})
	assert.True(t, crdt.IsInvalidArgument(err))

	bad := crdt.Delta{Topic: "team", Tasks: []crdt.Task{{ID: crdt.TaskID{1}}}}
	_, err = l.ApplyDelta(bad)
	assert.True(t, crdt.IsInvalidArgument(err))
	assert.Empty(t, l.ListTasks())
}

func TestApplyDeltaRejectsUnnormalizedText(t *testing.T) {
	alice := newTestList(t, "alice", 1)
	bob := newTestList(t, "bob", 2)
	x, err := bob.AddTask("X", "")
	require.NoError(t, err)

	state, _ := bob.Snapshot()
	task := state[x]

	for name, bad := range map[string]crdt.Task{
		"decomposed claim agent": task.WithTag(crdt.Tag{Kind: crdt.TagClaim, Stamp: crdt.Stamp{Counter: 9, Agent: "jose\u0301"}}),
		"invalid title":          task.WithTitle("bad\xff", crdt.Stamp{Counter: 9, Agent: "bob"}),
		"decomposed description": task.WithDescription("cafe\u0301", crdt.Stamp{Counter: 9, Agent: "bob"}),
	} {
		_, err := alice.ApplyDelta(crdt.Delta{Topic: "team", Origin: "bob", Tasks: []crdt.Task{bad}})
		assert.True(t, crdt.IsInvalidArgument(err), name)
	}
	assert.Empty(t, alice.ListTasks())
}

func TestRestoredStateReappliesIdempotently(t *testing.T) {
	alice := newTestList(t, "alice", 1)
	peer := newTestList(t, "jos\u00e9", 2)
	x, err := peer.AddTask("X", "")
	require.NoError(t, err)
	require.NoError(t, peer.ClaimTask(x))

	delta := peer.ProduceDelta(0)
	changed, err := alice.ApplyDelta(delta)
	require.NoError(t, err)
	assert.Equal(t, 1, changed)

	state, _ := alice.Snapshot()
	obj, err := crdt.EncodeState("team", state)
	require.NoError(t, err)
	data, err := ir.MarshalCanonical(obj)
	require.NoError(t, err)
	parsed, err := ir.DecodeObject(data)
	require.NoError(t, err)
	_, decoded, err := crdt.DecodeState(parsed)
	require.NoError(t, err)
	require.True(t, state.Equal(decoded))

	restarted := newTestList(t, "alice", 3)
	require.NoError(t, restarted.Restore(decoded))
	changed, err = restarted.ApplyDelta(delta)
	require.NoError(t, err)
	assert.Zero(t, changed)
}

func TestApplyDeltaAdvancesClock(t *testing.T) {
	alice := newTestList(t, "alice", 1)
	bob, err := NewTaskList("team", "bob", WithIDGenerator(NewSequentialIDs(2)), WithClock(NewClockAt(500)))
	require.NoError(t, err)

	x, _ := bob.AddTask("X", "")
	_, err = alice.ApplyDelta(bob.ProduceDelta(0))
	require.NoError(t, err)

	// Alice has seen counter 501, so her rename must win over bob's title.
	require.NoError(t, alice.RenameTask(x, "renamed by alice"))
	_, err = bob.ApplyDelta(alice.ProduceDelta(0))
	require.NoError(t, err)

	view, _ := bob.GetTask(x)
	assert.Equal(t, "renamed by alice", view.Title)
}

func TestProduceDeltaSince(t *testing.T) {
	l := newTestList(t, "alice", 1)
	a, _ := l.AddTask("A", "")
	_, _ = l.AddTask("B", "")
	v := l.Version()

	assert.Empty(t, l.ProduceDelta(v).Tasks)

	require.NoError(t, l.ClaimTask(a))
	d := l.ProduceDelta(v)
	require.Len(t, d.Tasks, 1)
	assert.Equal(t, a, d.Tasks[0].ID)
	assert.Equal(t, crdt.AgentID("alice"), d.Origin)
	assert.Equal(t, l.Version(), d.Version)
}

func TestObserversNotified(t *testing.T) {
	l := newTestList(t, "alice", 1)
	obs := &countingObserver{}
	l.AddObserver(obs)

	a, _ := l.AddTask("A", "")
	require.NoError(t, l.ClaimTask(a))
	_, _ = l.AddTask("", "") // rejected, no notification

	assert.Equal(t, int64(2), obs.calls.Load())

	other := newTestList(t, "bob", 2)
	_, _ = other.AddTask("B", "")
	_, _ = other.AddTask("C", "")
	_, err := l.ApplyDelta(other.ProduceDelta(0))
	require.NoError(t, err)
	assert.Equal(t, int64(3), obs.calls.Load())
	assert.Equal(t, int64(4), obs.total.Load())
}

func TestSnapshotAndRestore(t *testing.T) {
	src := newTestList(t, "alice", 1)
	a, _ := src.AddTask("A", "")
	_, _ = src.AddTask("B", "")
	require.NoError(t, src.CompleteTask(a))

	state, version := src.Snapshot()
	assert.Equal(t, src.Version(), version)

	// Mutating after the snapshot does not affect the copy.
	_, _ = src.AddTask("C", "")
	assert.Len(t, state, 2)

	dst := newTestList(t, "alice", 4)
	obs := &countingObserver{}
	dst.AddObserver(obs)
	require.NoError(t, dst.Restore(state))

	assert.Equal(t, []string{"A", "B"}, titles(dst.ListTasks()))
	assert.Equal(t, int64(0), obs.calls.Load())
	assert.Len(t, dst.ProduceDelta(0).Tasks, 2)

	// The restored clock continues past every restored stamp.
	id, err := dst.AddTask("after restore", "")
	require.NoError(t, err)
	_, err = src.ApplyDelta(dst.ProduceDelta(0))
	require.NoError(t, err)
	view, err := src.GetTask(id)
	require.NoError(t, err)
	assert.Equal(t, "after restore", view.Title)
}

func TestConcurrentMutationsAndReads(t *testing.T) {
	l, err := NewTaskList("team", "alice")
	require.NoError(t, err)
	peer, err := NewTaskList("team", "bob")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(3)
		go func() {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				id, err := l.AddTask("task", "")
				if err == nil {
					_ = l.ClaimTask(id)
				}
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				_, _ = peer.AddTask("peer", "")
				_, _ = l.ApplyDelta(peer.ProduceDelta(0))
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				views := l.ListTasks()
				assert.LessOrEqual(t, len(views), 8*25*2)
			}
		}()
	}
	wg.Wait()

	_, err = l.ApplyDelta(peer.ProduceDelta(0))
	require.NoError(t, err)
	assert.Len(t, l.ListTasks(), 8*25*2)
}
