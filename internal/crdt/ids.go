package crdt

import (
	"encoding/hex"
	"fmt"
)

// AgentID identifies a replica. Agent ids are compared as byte strings and
// that order is the deterministic tie-break for every register and tag.
type AgentID string

// TaskIDSize is the fixed length of a TaskID in bytes.
const TaskIDSize = 16

// TaskID is an opaque, fixed-length task identifier. It never changes once
// the task exists.
type TaskID [TaskIDSize]byte

// String renders the id as 32 lowercase hex characters.
func (id TaskID) String() string {
	return hex.EncodeToString(id[:])
}

// IsZero reports whether id is the zero value.
func (id TaskID) IsZero() bool {
	return id == TaskID{}
}

// Compare orders ids bytewise.
func (id TaskID) Compare(other TaskID) int {
	for i := range id {
		if id[i] != other[i] {
			if id[i] < other[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

// MarshalText implements encoding.TextMarshaler.
func (id TaskID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *TaskID) UnmarshalText(text []byte) error {
	parsed, err := ParseTaskID(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// ParseTaskID parses the 32-character hex form produced by TaskID.String.
func ParseTaskID(s string) (TaskID, error) {
	var id TaskID
	if len(s) != hex.EncodedLen(TaskIDSize) {
		return id, fmt.Errorf("task id %q: want %d hex characters", s, hex.EncodedLen(TaskIDSize))
	}
	if _, err := hex.Decode(id[:], []byte(s)); err != nil {
		return id, fmt.Errorf("task id %q: %w", s, err)
	}
	return id, nil
}
