package crdt

import (
	"fmt"
	"slices"
)

// Task is an immutable value holding the replicated attributes of one task.
// Local operations and merges return new Task values; a Task that has been
// stored in a State is never modified in place.
type Task struct {
	ID          TaskID
	Created     Stamp
	Title       Register[string]
	Description Register[string]
	Priority    Register[uint8]
	Position    Register[string]
	Tags        []Tag
}

// NewTask builds a task created at stamp.
func NewTask(id TaskID, title, description, positionKey string, stamp Stamp) Task {
	return Task{
		ID:          id,
		Created:     stamp,
		Title:       NewRegister(title, stamp),
		Description: NewRegister(description, stamp),
		Position:    NewRegister(positionKey, stamp),
	}
}

// State returns the derived checkbox state.
func (t Task) State() CheckboxState {
	s, _ := ProjectState(t.Tags)
	return s
}

// Assignee returns the agent that determined the current state, or "" when
// the task is empty.
func (t Task) Assignee() AgentID {
	_, a := ProjectState(t.Tags)
	return a
}

// WithTitle returns t with its title written at stamp.
func (t Task) WithTitle(title string, stamp Stamp) Task {
	t.Title = t.Title.Set(title, stamp)
	return t
}

// WithDescription returns t with its description written at stamp.
func (t Task) WithDescription(desc string, stamp Stamp) Task {
	t.Description = t.Description.Set(desc, stamp)
	return t
}

// WithPriority returns t with its priority written at stamp.
func (t Task) WithPriority(p uint8, stamp Stamp) Task {
	t.Priority = t.Priority.Set(p, stamp)
	return t
}

// WithPosition returns t moved to key at stamp.
func (t Task) WithPosition(key string, stamp Stamp) Task {
	t.Position = t.Position.Set(key, stamp)
	return t
}

// WithTag returns t with tag added to its tag set.
func (t Task) WithTag(tag Tag) Task {
	t.Tags = UnionTags(t.Tags, []Tag{tag})
	return t
}

// MaxCounter returns the largest Lamport counter recorded anywhere in t.
func (t Task) MaxCounter() uint64 {
	m := max(t.Created.Counter, t.Title.Stamp.Counter, t.Description.Stamp.Counter,
		t.Priority.Stamp.Counter, t.Position.Stamp.Counter)
	for _, tag := range t.Tags {
		m = max(m, tag.Stamp.Counter)
	}
	return m
}

// Equal reports whether two task values are identical.
func (t Task) Equal(other Task) bool {
	return t.ID == other.ID &&
		t.Created == other.Created &&
		t.Title == other.Title &&
		t.Description == other.Description &&
		t.Priority == other.Priority &&
		t.Position == other.Position &&
		slices.Equal(t.Tags, other.Tags)
}

// Validate checks the invariants every stored task must satisfy. It is
// applied to tasks arriving from peers and from snapshots.
func (t Task) Validate() error {
	if t.ID.IsZero() {
		return fmt.Errorf("task has zero id")
	}
	if t.Created.IsZero() {
		return fmt.Errorf("task %s: missing creation stamp", t.ID)
	}
	if err := ValidateKey(t.Position.Value); err != nil {
		return fmt.Errorf("task %s: %w", t.ID, err)
	}
	if err := ValidateText("title", t.Title.Value); err != nil {
		return fmt.Errorf("task %s: %w", t.ID, err)
	}
	if err := ValidateText("description", t.Description.Value); err != nil {
		return fmt.Errorf("task %s: %w", t.ID, err)
	}
	stamps := []Stamp{t.Created, t.Title.Stamp, t.Description.Stamp, t.Priority.Stamp, t.Position.Stamp}
	for _, tag := range t.Tags {
		if tag.Kind != TagClaim && tag.Kind != TagComplete {
			return fmt.Errorf("task %s: invalid tag kind %d", t.ID, tag.Kind)
		}
		if tag.Agent() == "" {
			return fmt.Errorf("task %s: tag without agent", t.ID)
		}
		stamps = append(stamps, tag.Stamp)
	}
	for _, s := range stamps {
		if err := ValidateText("agent id", string(s.Agent)); err != nil {
			return fmt.Errorf("task %s: %w", t.ID, err)
		}
	}
	return nil
}

// MergeTask merges two replicas of the same task. It is commutative,
// associative and idempotent. Merging different ids is a programming error.
func MergeTask(a, b Task) Task {
	if a.ID != b.ID {
		panic(fmt.Sprintf("crdt: merging different tasks %s and %s", a.ID, b.ID))
	}
	created := a.Created
	if b.Created.Compare(created) < 0 {
		created = b.Created
	}
	return Task{
		ID:          a.ID,
		Created:     created,
		Title:       a.Title.Merge(b.Title),
		Description: a.Description.Merge(b.Description),
		Priority:    a.Priority.Merge(b.Priority),
		Position:    a.Position.Merge(b.Position),
		Tags:        UnionTags(a.Tags, b.Tags),
	}
}
