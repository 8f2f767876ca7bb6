package engine

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"github.com/roach88/tasksync/internal/crdt"
)

// MutationObserver is notified after a task list changes. n is the number
// of mutations the change represents (one per local operation, one per
// task changed by a merged delta).
//
// OnMutation runs on the mutating goroutine after the writer lock has been
// released. Implementations must not block.
type MutationObserver interface {
	OnMutation(topic string, n int)
}

// TaskList is the replicated task list for one topic.
//
// Thread-safety model:
//   - All mutations and delta merges hold the writer lock, so no reader
//     ever sees a half-applied merge.
//   - ListTasks, ProduceDelta and Snapshot hold the read lock and copy.
//     Task values are immutable, so the copy is cheap and consistent.
//   - Observers are called after the lock is released, so a checkpoint
//     reacting to a mutation never blocks the next mutation.
type TaskList struct {
	mu    sync.RWMutex
	topic string
	agent crdt.AgentID
	clock *Clock
	ids   IDGenerator
	state crdt.State

	// version is the local change sequence. versions records the sequence
	// at which each task last changed on this replica.
	version  uint64
	versions map[crdt.TaskID]uint64

	logger *slog.Logger

	obsMu     sync.Mutex
	observers []MutationObserver
}

// TaskListOption configures a TaskList.
type TaskListOption func(*TaskList)

// WithIDGenerator sets the task id generator.
//
// Default: UUIDv7IDs.
func WithIDGenerator(gen IDGenerator) TaskListOption {
	return func(l *TaskList) {
		l.ids = gen
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) TaskListOption {
	return func(l *TaskList) {
		l.logger = logger
	}
}

// WithClock sets the Lamport clock. Used by tests that need stamps to start
// at a known value.
func WithClock(c *Clock) TaskListOption {
	return func(l *TaskList) {
		l.clock = c
	}
}

// NewTaskList creates an empty task list for topic owned by agent.
func NewTaskList(topic string, agent crdt.AgentID, opts ...TaskListOption) (*TaskList, error) {
	if strings.TrimSpace(topic) == "" {
		return nil, crdt.NewInvalidArgument("topic must not be empty")
	}
	if agent == "" {
		return nil, crdt.NewInvalidArgument("agent id must not be empty")
	}
	if err := crdt.ValidateText("topic", topic); err != nil {
		return nil, crdt.NewInvalidArgument("%v", err)
	}
	if err := crdt.ValidateText("agent id", string(agent)); err != nil {
		return nil, crdt.NewInvalidArgument("%v", err)
	}

	l := &TaskList{
		topic:    topic,
		agent:    agent,
		clock:    NewClock(),
		ids:      UUIDv7IDs{},
		state:    make(crdt.State),
		versions: make(map[crdt.TaskID]uint64),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Topic returns the topic this list replicates.
func (l *TaskList) Topic() string {
	return l.topic
}

// Agent returns the local agent id.
func (l *TaskList) Agent() crdt.AgentID {
	return l.agent
}

// AddObserver registers o for mutation notifications.
func (l *TaskList) AddObserver(o MutationObserver) {
	l.obsMu.Lock()
	defer l.obsMu.Unlock()
	l.observers = append(l.observers, o)
}

func (l *TaskList) notify(n int) {
	if n == 0 {
		return
	}
	l.obsMu.Lock()
	observers := slices.Clone(l.observers)
	l.obsMu.Unlock()

	for _, o := range observers {
		o.OnMutation(l.topic, n)
	}
}

// stampLocked issues the next local stamp. Caller holds l.mu.
func (l *TaskList) stampLocked() crdt.Stamp {
	return crdt.Stamp{Counter: l.clock.Next(), Agent: l.agent}
}

// putLocked stores t and bumps the change sequence. Caller holds l.mu.
func (l *TaskList) putLocked(t crdt.Task) {
	l.version++
	l.state[t.ID] = t
	l.versions[t.ID] = l.version
}

// normalizeText returns s in NFC form. Invalid UTF-8 is an InvalidArgument
// error.
func normalizeText(field, s string) (string, error) {
	if !utf8.ValidString(s) {
		return "", crdt.NewInvalidArgument("%s must be valid UTF-8", field)
	}
	return norm.NFC.String(s), nil
}

// normalizeTitle is normalizeText plus the non-empty title rule.
func normalizeTitle(title string) (string, error) {
	title, err := normalizeText("title", title)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(title) == "" {
		return "", crdt.NewInvalidArgument("title must not be empty")
	}
	return title, nil
}

// AddTask creates a task at the end of the list.
// Title and description are NFC normalized. An empty or whitespace-only
// title, or text that is not valid UTF-8, is an InvalidArgument error.
func (l *TaskList) AddTask(title, description string) (crdt.TaskID, error) {
	title, err := normalizeTitle(title)
	if err != nil {
		return crdt.TaskID{}, err
	}
	if description, err = normalizeText("description", description); err != nil {
		return crdt.TaskID{}, err
	}

	l.mu.Lock()
	id := l.ids.NewID()
	if _, exists := l.state[id]; exists || id.IsZero() {
		l.mu.Unlock()
		return crdt.TaskID{}, fmt.Errorf("add task: generated id %s is not unique", id)
	}
	task := crdt.NewTask(id, title, description, crdt.KeyAfter(l.state.LastKey()), l.stampLocked())
	l.putLocked(task)
	l.mu.Unlock()

	l.logger.Debug("task added", "topic", l.topic, "task", id.String())
	l.notify(1)
	return id, nil
}

// update applies fn to an existing task under the writer lock.
func (l *TaskList) update(id crdt.TaskID, fn func(t crdt.Task, stamp crdt.Stamp) crdt.Task) error {
	l.mu.Lock()
	cur, ok := l.state[id]
	if !ok {
		l.mu.Unlock()
		return crdt.NewUnknownTask(id)
	}
	l.putLocked(fn(cur, l.stampLocked()))
	l.mu.Unlock()

	l.notify(1)
	return nil
}

// ClaimTask records a claim by the local agent. Concurrent claims by other
// agents never conflict; the projection picks a single assignee.
func (l *TaskList) ClaimTask(id crdt.TaskID) error {
	return l.update(id, func(t crdt.Task, stamp crdt.Stamp) crdt.Task {
		return t.WithTag(crdt.Tag{Kind: crdt.TagClaim, Stamp: stamp})
	})
}

// CompleteTask records a completion by the local agent.
func (l *TaskList) CompleteTask(id crdt.TaskID) error {
	return l.update(id, func(t crdt.Task, stamp crdt.Stamp) crdt.Task {
		return t.WithTag(crdt.Tag{Kind: crdt.TagComplete, Stamp: stamp})
	})
}

// RenameTask overwrites the title register.
func (l *TaskList) RenameTask(id crdt.TaskID, title string) error {
	title, err := normalizeTitle(title)
	if err != nil {
		return err
	}
	return l.update(id, func(t crdt.Task, stamp crdt.Stamp) crdt.Task {
		return t.WithTitle(title, stamp)
	})
}

// SetDescription overwrites the description register.
func (l *TaskList) SetDescription(id crdt.TaskID, description string) error {
	description, err := normalizeText("description", description)
	if err != nil {
		return err
	}
	return l.update(id, func(t crdt.Task, stamp crdt.Stamp) crdt.Task {
		return t.WithDescription(description, stamp)
	})
}

// SetPriority overwrites the priority register.
func (l *TaskList) SetPriority(id crdt.TaskID, priority uint8) error {
	return l.update(id, func(t crdt.Task, stamp crdt.Stamp) crdt.Task {
		return t.WithPriority(priority, stamp)
	})
}

// Reorder places the tasks in exactly the given order. ids must name every
// task in the list once; anything else is an InvalidArgument error.
func (l *TaskList) Reorder(ids []crdt.TaskID) error {
	l.mu.Lock()
	if err := l.checkPermutationLocked(ids); err != nil {
		l.mu.Unlock()
		return err
	}
	if len(ids) == 0 {
		l.mu.Unlock()
		return nil
	}

	stamp := l.stampLocked()
	for i, key := range crdt.SpacedKeys(len(ids)) {
		l.putLocked(l.state[ids[i]].WithPosition(key, stamp))
	}
	l.mu.Unlock()

	l.notify(1)
	return nil
}

func (l *TaskList) checkPermutationLocked(ids []crdt.TaskID) error {
	if len(ids) != len(l.state) {
		return crdt.NewInvalidArgument("reorder lists %d tasks, list has %d", len(ids), len(l.state))
	}
	seen := make(map[crdt.TaskID]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := l.state[id]; !ok {
			return crdt.NewInvalidArgument("reorder names unknown task %s", id)
		}
		if _, dup := seen[id]; dup {
			return crdt.NewInvalidArgument("reorder names task %s twice", id)
		}
		seen[id] = struct{}{}
	}
	return nil
}

// ListTasks returns a consistent point-in-time view of all tasks in list
// order.
func (l *TaskList) ListTasks() []crdt.TaskView {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state.Views()
}

// GetTask returns the view of a single task.
func (l *TaskList) GetTask(id crdt.TaskID) (crdt.TaskView, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	t, ok := l.state[id]
	if !ok {
		return crdt.TaskView{}, crdt.NewUnknownTask(id)
	}
	return t.View(), nil
}

// ApplyDelta merges a remote delta. It returns the number of tasks whose
// stored state changed; a duplicate or stale delta changes nothing.
//
// The delta is validated as a whole before anything is merged.
func (l *TaskList) ApplyDelta(d crdt.Delta) (int, error) {
	if d.Topic != l.topic {
		return 0, crdt.NewInvalidArgument("delta for topic %q applied to %q", d.Topic, l.topic)
	}
	for _, t := range d.Tasks {
		if err := t.Validate(); err != nil {
			return 0, crdt.NewInvalidArgument("invalid delta from %s: %v", d.Origin, err)
		}
	}

	changed := 0
	l.mu.Lock()
	for _, remote := range d.Tasks {
		l.clock.Observe(remote.MaxCounter())

		// Merging with itself sorts and de-duplicates the incoming tag set.
		merged := crdt.MergeTask(remote, remote)
		cur, ok := l.state[remote.ID]
		if ok {
			merged = crdt.MergeTask(cur, merged)
			if merged.Equal(cur) {
				continue
			}
		}
		l.putLocked(merged)
		changed++
	}
	l.mu.Unlock()

	if changed > 0 {
		l.logger.Debug("delta merged", "topic", l.topic, "origin", string(d.Origin), "changed", changed)
	}
	l.notify(changed)
	return changed, nil
}

// ProduceDelta returns every task that changed on this replica after the
// local version since. Pass 0 to get the full state.
func (l *TaskList) ProduceDelta(since uint64) crdt.Delta {
	l.mu.RLock()
	defer l.mu.RUnlock()

	d := crdt.Delta{Topic: l.topic, Origin: l.agent, Version: l.version}
	for id, v := range l.versions {
		if v > since {
			d.Tasks = append(d.Tasks, l.state[id])
		}
	}
	slices.SortFunc(d.Tasks, func(a, b crdt.Task) int { return a.ID.Compare(b.ID) })
	return d
}

// Version returns the local change sequence.
func (l *TaskList) Version() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.version
}

// Snapshot returns a copy-on-read view of the state and the version it
// corresponds to.
func (l *TaskList) Snapshot() (crdt.State, uint64) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state.Clone(), l.version
}

// Restore merges a recovered snapshot into the list. It does not notify
// observers: restored state is already durable.
func (l *TaskList) Restore(s crdt.State) error {
	for _, t := range s {
		if err := t.Validate(); err != nil {
			return fmt.Errorf("restore: %w", err)
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.clock.Observe(s.MaxCounter())
	for id, t := range s {
		if cur, ok := l.state[id]; ok {
			t = crdt.MergeTask(cur, t)
		}
		l.putLocked(t)
	}
	return nil
}
