package crdt

import (
	"fmt"
	"slices"
)

// TagKind is the kind of a claim tag.
type TagKind uint8

const (
	TagClaim TagKind = iota + 1
	TagComplete
)

var tagKindNames = map[TagKind]string{
	TagClaim:    "claim",
	TagComplete: "complete",
}

func (k TagKind) String() string {
	if name, ok := tagKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("TagKind(%d)", uint8(k))
}

// ParseTagKind is the inverse of TagKind.String.
func ParseTagKind(s string) (TagKind, error) {
	for k, name := range tagKindNames {
		if name == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown tag kind %q", s)
}

// Tag records that an agent claimed or completed a task at a stamp.
// Tags are only ever added.
type Tag struct {
	Kind  TagKind
	Stamp Stamp
}

// Agent is the agent that issued the tag.
func (t Tag) Agent() AgentID {
	return t.Stamp.Agent
}

func compareTags(a, b Tag) int {
	if c := a.Stamp.Compare(b.Stamp); c != 0 {
		return c
	}
	switch {
	case a.Kind < b.Kind:
		return -1
	case a.Kind > b.Kind:
		return 1
	}
	return 0
}

// UnionTags merges two tag sets into a new sorted, de-duplicated slice.
// Neither input is modified.
func UnionTags(a, b []Tag) []Tag {
	out := make([]Tag, 0, len(a)+len(b))
	out = append(out, a...)
	out = append(out, b...)
	slices.SortFunc(out, compareTags)
	return slices.CompactFunc(out, func(x, y Tag) bool { return compareTags(x, y) == 0 })
}

// CheckboxState is the visible progress of a task. It is always derived
// from the tag set.
type CheckboxState uint8

const (
	StateEmpty CheckboxState = iota
	StateClaimed
	StateDone
)

var checkboxStateNames = map[CheckboxState]string{
	StateEmpty:   "empty",
	StateClaimed: "claimed",
	StateDone:    "done",
}

func (s CheckboxState) String() string {
	if name, ok := checkboxStateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("CheckboxState(%d)", uint8(s))
}

// MarshalText implements encoding.TextMarshaler.
func (s CheckboxState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *CheckboxState) UnmarshalText(text []byte) error {
	for state, name := range checkboxStateNames {
		if name == string(text) {
			*s = state
			return nil
		}
	}
	return fmt.Errorf("unknown checkbox state %q", text)
}

// ProjectState derives the checkbox state and assignee from a tag set.
//
// Any complete tag means done, otherwise any claim tag means claimed. The
// assignee is the smallest agent id among tags of the winning kind.
// Because tags only accumulate, the projected state never moves backwards.
func ProjectState(tags []Tag) (CheckboxState, AgentID) {
	var (
		claimBy, completeBy   AgentID
		hasClaim, hasComplete bool
	)
	for _, t := range tags {
		switch t.Kind {
		case TagComplete:
			if !hasComplete || t.Agent() < completeBy {
				completeBy = t.Agent()
			}
			hasComplete = true
		case TagClaim:
			if !hasClaim || t.Agent() < claimBy {
				claimBy = t.Agent()
			}
			hasClaim = true
		}
	}
	switch {
	case hasComplete:
		return StateDone, completeBy
	case hasClaim:
		return StateClaimed, claimBy
	}
	return StateEmpty, ""
}
