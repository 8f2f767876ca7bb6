package crdt

import "cmp"

// Register is a last-writer-wins register.
//
// Merge keeps the value with the higher Stamp. Two writes can only share a
// stamp if an agent reused a counter; the larger value wins in that case so
// merge stays commutative even then.
type Register[T cmp.Ordered] struct {
	Value T
	Stamp Stamp
}

// NewRegister returns a register holding v written at stamp.
func NewRegister[T cmp.Ordered](v T, stamp Stamp) Register[T] {
	return Register[T]{Value: v, Stamp: stamp}
}

// Set returns a copy of r holding v at stamp, or r itself when stamp does
// not order after the current write.
func (r Register[T]) Set(v T, stamp Stamp) Register[T] {
	return r.Merge(Register[T]{Value: v, Stamp: stamp})
}

// Merge returns the winner of r and other.
func (r Register[T]) Merge(other Register[T]) Register[T] {
	switch c := r.Stamp.Compare(other.Stamp); {
	case c > 0:
		return r
	case c < 0:
		return other
	}
	if cmp.Compare(r.Value, other.Value) >= 0 {
		return r
	}
	return other
}
