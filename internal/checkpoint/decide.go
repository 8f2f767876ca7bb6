package checkpoint

import (
	"fmt"
	"time"
)

// Reason records why a checkpoint was taken.
type Reason string

const (
	ReasonMutationThreshold Reason = "mutation_threshold"
	ReasonDirtyTimeFloor    Reason = "dirty_time_floor"
	ReasonExplicitRequest   Reason = "explicit_request"
	ReasonGracefulShutdown  Reason = "graceful_shutdown"
)

// ActionKind is the outcome of a checkpoint decision.
type ActionKind uint8

const (
	// ActionPersist means a snapshot should be written now.
	ActionPersist ActionKind = iota + 1
	// ActionSkipClean means nothing changed since the last checkpoint.
	ActionSkipClean
	// ActionSkipDebounced means a trigger fired inside the debounce window.
	ActionSkipDebounced
	// ActionSkipPolicy means the list is dirty but no trigger fired yet.
	ActionSkipPolicy
)

var actionKindNames = map[ActionKind]string{
	ActionPersist:       "persist",
	ActionSkipClean:     "skip_clean",
	ActionSkipDebounced: "skip_debounced",
	ActionSkipPolicy:    "skip_policy",
}

func (k ActionKind) String() string {
	if name, ok := actionKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("ActionKind(%d)", uint8(k))
}

// Action is a checkpoint decision. Reason is set for ActionPersist and for
// ActionSkipDebounced (the trigger that was suppressed).
type Action struct {
	Kind   ActionKind
	Reason Reason
}

// Inputs is everything Decide looks at.
type Inputs struct {
	// Mutations counts mutations since the last successful checkpoint.
	Mutations uint64

	// SinceDirty is how long the list has had unpersisted mutations.
	SinceDirty time.Duration

	// SinceLastCheckpoint is the time since the previous checkpoint attempt.
	// Ignored when HasCheckpoint is false.
	SinceLastCheckpoint time.Duration
	HasCheckpoint       bool

	// Explicit marks a caller-requested checkpoint. It still honors the
	// debounce floor.
	Explicit bool

	// Shutdown marks the final checkpoint on graceful shutdown. It bypasses
	// the debounce floor.
	Shutdown bool
}

// Decide is the pure checkpoint decision function.
//
// A checkpoint triggers when Mutations >= MutationThreshold or when
// SinceDirty >= DirtyTimeFloor, or on explicit request. Any trigger inside
// DebounceFloor of the previous attempt is suppressed as ActionSkipDebounced.
func Decide(p Policy, in Inputs) Action {
	if in.Mutations == 0 {
		return Action{Kind: ActionSkipClean}
	}

	var reason Reason
	switch {
	case in.Shutdown:
		return Action{Kind: ActionPersist, Reason: ReasonGracefulShutdown}
	case in.Explicit:
		reason = ReasonExplicitRequest
	case in.Mutations >= uint64(p.MutationThreshold):
		reason = ReasonMutationThreshold
	case in.SinceDirty >= p.DirtyTimeFloor:
		reason = ReasonDirtyTimeFloor
	default:
		return Action{Kind: ActionSkipPolicy}
	}

	if in.HasCheckpoint && in.SinceLastCheckpoint < p.DebounceFloor {
		return Action{Kind: ActionSkipDebounced, Reason: reason}
	}
	return Action{Kind: ActionPersist, Reason: reason}
}
