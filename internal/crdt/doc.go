// Package crdt defines the replicated task model and its merge rules.
//
// Every attribute of a Task converges without coordination:
//
//   - Title, Description, Priority and Position are last-writer-wins
//     registers ordered by Stamp (Lamport counter, then agent id).
//   - Checkbox state is never stored. It is projected from a grow-only set
//     of claim/complete tags, so it can only advance: empty, claimed, done.
//   - List order comes from fractional position keys, tie-broken by task id.
//
// Tasks are immutable values held in a State arena keyed by TaskID. Merges
// are pure functions (MergeTask, MergeState) that are commutative,
// associative and idempotent, which is what lets deltas arrive duplicated
// or out of order.
//
// This package has no locking. internal/engine serializes access.
package crdt
