// Package engine implements the replicated task list for one topic.
//
// A TaskList owns a crdt.State arena, a Lamport Clock and a local change
// sequence. Local operations (AddTask, ClaimTask, CompleteTask, Reorder,
// RenameTask, SetDescription, SetPriority) and remote merges (ApplyDelta)
// all run under a single writer lock, so derived state is never observed
// mid-merge.
//
// CONCURRENCY:
//
// Readers (ListTasks, ProduceDelta, Snapshot) take the read lock and copy.
// Checkpointing is driven by MutationObservers, which are called after the
// writer lock is released; the persistence layer then takes a Snapshot and
// does its I/O without holding any engine lock.
//
// NETWORK COLLABORATION:
//
// The transport is external. It calls ProduceDelta(since) to obtain
// outgoing state and ApplyDelta to merge incoming state. Deltas are
// state-based, so duplicated or reordered delivery converges.
package engine
