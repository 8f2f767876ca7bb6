package checkpoint

import (
	"fmt"
	"time"
)

// Policy defaults.
const (
	DefaultMutationThreshold = 32
	DefaultDirtyTimeFloor    = 5 * time.Minute
	DefaultDebounceFloor     = 2 * time.Second
)

// Policy holds the thresholds that decide when a task list is checkpointed.
type Policy struct {
	// MutationThreshold triggers a checkpoint once this many mutations have
	// accumulated since the last one.
	MutationThreshold uint32

	// DirtyTimeFloor triggers a checkpoint once the list has been dirty for
	// this long, however few mutations it saw.
	DirtyTimeFloor time.Duration

	// DebounceFloor is the minimum spacing between checkpoint attempts.
	DebounceFloor time.Duration
}

// DefaultPolicy returns {32 mutations, 5m dirty, 2s debounce}.
func DefaultPolicy() Policy {
	return Policy{
		MutationThreshold: DefaultMutationThreshold,
		DirtyTimeFloor:    DefaultDirtyTimeFloor,
		DebounceFloor:     DefaultDebounceFloor,
	}
}

// Validate rejects a zero threshold and floors below one second.
func (p Policy) Validate() error {
	if p.MutationThreshold == 0 {
		return fmt.Errorf("mutation threshold must be greater than zero")
	}
	if p.DirtyTimeFloor < time.Second {
		return fmt.Errorf("dirty time floor must be at least 1s, got %s", p.DirtyTimeFloor)
	}
	if p.DebounceFloor < time.Second {
		return fmt.Errorf("debounce floor must be at least 1s, got %s", p.DebounceFloor)
	}
	return nil
}

// Frequency is the externally visible form of a Policy.
type Frequency struct {
	MutationThreshold  uint32 `json:"mutation_threshold"`
	DirtyTimeFloorSecs uint64 `json:"dirty_time_floor_secs"`
	DebounceFloorSecs  uint64 `json:"debounce_floor_secs"`
}

// Frequency reports p in whole seconds.
func (p Policy) Frequency() Frequency {
	return Frequency{
		MutationThreshold:  p.MutationThreshold,
		DirtyTimeFloorSecs: uint64(p.DirtyTimeFloor / time.Second),
		DebounceFloorSecs:  uint64(p.DebounceFloor / time.Second),
	}
}
