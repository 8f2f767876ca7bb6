package engine

import (
	"sync"

	"github.com/google/uuid"

	"github.com/roach88/tasksync/internal/crdt"
)

// IDGenerator produces task identifiers.
// Implemented by UUIDv7IDs (production) and FixedIDs (tests).
type IDGenerator interface {
	NewID() crdt.TaskID
}

// UUIDv7IDs generates time-sortable UUIDv7 task ids.
//
// UUIDv7 embeds a millisecond timestamp in the most significant bits, so ids
// created later by the same agent sort after earlier ones. Random bits make
// collisions across agents negligible.
//
// Thread-safety: UUIDv7IDs is stateless and safe for concurrent use.
type UUIDv7IDs struct{}

// NewID creates a new UUIDv7.
//
// Panics if UUID generation fails (should never happen in practice).
func (UUIDv7IDs) NewID() crdt.TaskID {
	return crdt.TaskID(uuid.Must(uuid.NewV7()))
}

// FixedIDs returns predetermined ids for deterministic tests.
//
// Thread-safety: FixedIDs is safe for concurrent use via internal mutex.
type FixedIDs struct {
	mu  sync.Mutex
	ids []crdt.TaskID
	idx int
}

// NewFixedIDs creates a generator that returns ids in order.
//
// Panics once all ids are consumed, so a test that creates more tasks than
// expected fails loudly.
func NewFixedIDs(ids ...crdt.TaskID) *FixedIDs {
	return &FixedIDs{ids: ids}
}

// NewID returns the next predetermined id.
func (g *FixedIDs) NewID() crdt.TaskID {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.idx >= len(g.ids) {
		panic("FixedIDs: all ids exhausted")
	}
	id := g.ids[g.idx]
	g.idx++
	return id
}

// SequentialIDs derives ids from a namespace byte and a counter. Replicas
// given different namespaces never collide. Used by the scenario harness.
type SequentialIDs struct {
	mu        sync.Mutex
	namespace byte
	next      uint64
}

// NewSequentialIDs creates a generator whose first id ends in 1.
func NewSequentialIDs(namespace byte) *SequentialIDs {
	return &SequentialIDs{namespace: namespace}
}

// NewID returns the next id in the sequence.
func (g *SequentialIDs) NewID() crdt.TaskID {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.next++
	var id crdt.TaskID
	id[0] = g.namespace
	n := g.next
	for i := crdt.TaskIDSize - 1; i > 0 && n > 0; i-- {
		id[i] = byte(n)
		n >>= 8
	}
	return id
}
