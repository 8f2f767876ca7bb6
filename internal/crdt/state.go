package crdt

import (
	"slices"
	"strings"
)

// State is the replicated content of a task list: an arena of immutable
// task values keyed by TaskID.
type State map[TaskID]Task

// Clone returns a shallow copy of the arena. Task values are immutable, so
// the copy is a consistent point-in-time view.
func (s State) Clone() State {
	out := make(State, len(s))
	for id, t := range s {
		out[id] = t
	}
	return out
}

// MergeState returns the join of a and b without modifying either.
func MergeState(a, b State) State {
	out := a.Clone()
	for id, t := range b {
		if cur, ok := out[id]; ok {
			out[id] = MergeTask(cur, t)
			continue
		}
		out[id] = t
	}
	return out
}

// Ordered returns tasks sorted by position key, then task id.
func (s State) Ordered() []Task {
	tasks := make([]Task, 0, len(s))
	for _, t := range s {
		tasks = append(tasks, t)
	}
	slices.SortFunc(tasks, compareListOrder)
	return tasks
}

func compareListOrder(a, b Task) int {
	if c := strings.Compare(a.Position.Value, b.Position.Value); c != 0 {
		return c
	}
	return a.ID.Compare(b.ID)
}

// LastKey returns the greatest position key in the list, or "" when empty.
func (s State) LastKey() string {
	var last string
	for _, t := range s {
		if t.Position.Value > last {
			last = t.Position.Value
		}
	}
	return last
}

// MaxCounter returns the largest Lamport counter in the arena.
func (s State) MaxCounter() uint64 {
	var m uint64
	for _, t := range s {
		m = max(m, t.MaxCounter())
	}
	return m
}

// Equal reports whether two states hold identical task values.
func (s State) Equal(other State) bool {
	if len(s) != len(other) {
		return false
	}
	for id, t := range s {
		o, ok := other[id]
		if !ok || !t.Equal(o) {
			return false
		}
	}
	return true
}

// TaskView is the read projection of a task returned by list operations.
type TaskView struct {
	ID          TaskID        `json:"id"`
	Title       string        `json:"title"`
	Description string        `json:"description"`
	Priority    uint8         `json:"priority"`
	State       CheckboxState `json:"state"`
	Assignee    AgentID       `json:"assignee,omitempty"`
	CreatedBy   AgentID       `json:"created_by"`
}

// View projects a task for readers.
func (t Task) View() TaskView {
	state, assignee := ProjectState(t.Tags)
	return TaskView{
		ID:          t.ID,
		Title:       t.Title.Value,
		Description: t.Description.Value,
		Priority:    t.Priority.Value,
		State:       state,
		Assignee:    assignee,
		CreatedBy:   t.Created.Agent,
	}
}

// Views projects the whole list in order.
func (s State) Views() []TaskView {
	ordered := s.Ordered()
	views := make([]TaskView, len(ordered))
	for i, t := range ordered {
		views[i] = t.View()
	}
	return views
}
