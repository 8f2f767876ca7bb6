package crdt

import (
	"cmp"
	"fmt"
)

// Stamp is a logical timestamp: a Lamport counter plus the agent that
// issued it. Stamps are totally ordered by Counter, then Agent.
//
// The zero Stamp sorts before every issued stamp and marks an unset register.
type Stamp struct {
	Counter uint64
	Agent   AgentID
}

// Compare returns -1, 0 or +1.
func (s Stamp) Compare(other Stamp) int {
	if c := cmp.Compare(s.Counter, other.Counter); c != 0 {
		return c
	}
	return cmp.Compare(s.Agent, other.Agent)
}

// After reports whether s orders strictly after other.
func (s Stamp) After(other Stamp) bool {
	return s.Compare(other) > 0
}

// IsZero reports whether s is the unset stamp.
func (s Stamp) IsZero() bool {
	return s.Counter == 0 && s.Agent == ""
}

func (s Stamp) String() string {
	return fmt.Sprintf("%d@%s", s.Counter, s.Agent)
}
