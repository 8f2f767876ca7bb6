// Package harness runs convergence scenarios over replicated task lists.
//
// A scenario names a set of replicas, each an engine.TaskList owned by one
// agent, and a sequence of steps. A step performs one operation on one
// replica or syncs deltas between replicas. Expectations can be attached
// to any step and to the scenario as a whole.
//
// # Scenario Format
//
//	name: reorder
//	description: "A reorder made on one replica wins everywhere"
//	replicas: [alice, bob]
//	steps:
//	  - { replica: alice, op: add, title: A }
//	  - { replica: alice, op: add, title: B }
//	  - { replica: alice, op: sync, to: bob }
//	  - { replica: bob, op: reorder, order: [B, A] }
//	  - { replica: bob, op: sync }
//	expect:
//	  converged: true
//	  order: [B, A]
//
// Tasks are referred to by alias. An add step registers its task under
// `task` when given, otherwise under its title. A sync step without `to`
// sends to every other replica. A step may name the task-list error code
// it expects in `error` (invalid_argument, unknown_task).
//
// # Deterministic Testing
//
// Replica i draws task ids from engine.SequentialIDs with namespace i+1,
// and steps are numbered by testutil.DeterministicClock, so the rendered
// output of a scenario is identical across runs and can be compared
// against golden files.
package harness
