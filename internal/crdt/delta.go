package crdt

// Delta carries the full state of every task a replica changed after a
// given local version. Deltas are state-based: applying one merges each
// task into the receiver, so duplicates and reordering are harmless.
type Delta struct {
	// Topic names the task list the delta belongs to.
	Topic string

	// Origin is the agent that produced the delta.
	Origin AgentID

	// Version is the producer's local change sequence at production time.
	// Peers pass it back as "since" to receive only newer changes.
	Version uint64

	Tasks []Task
}

// IsEmpty reports whether the delta carries no tasks.
func (d Delta) IsEmpty() bool {
	return len(d.Tasks) == 0
}
