// Package checkpoint decides when a task list should be persisted.
//
// Decide is a pure function over the mutation count, how long the list has
// been dirty and how long ago the previous attempt ran. Scheduler keeps
// those counters for one task list and turns them into Decide inputs;
// NextWake tells the persistence loop when to look again.
//
// HostEnvelope bounds runtime changes to the Policy. Rejected adjustments
// return an *AdjustmentError whose Code is one of five stable strings.
package checkpoint
