package checkpoint

import (
	"errors"
	"fmt"
	"time"
)

// HostEnvelope is the range within which a host lets the checkpoint policy
// be adjusted at runtime.
type HostEnvelope struct {
	AllowRuntimeAdjustment bool

	MinMutationThreshold uint32
	MaxMutationThreshold uint32
	MinDirtyTimeFloor    time.Duration
	MaxDirtyTimeFloor    time.Duration
	MinDebounceFloor     time.Duration
	MaxDebounceFloor     time.Duration
}

// DefaultHostEnvelope pins every bound to the default policy and disallows
// runtime adjustment.
func DefaultHostEnvelope() HostEnvelope {
	p := DefaultPolicy()
	return HostEnvelope{
		MinMutationThreshold: p.MutationThreshold,
		MaxMutationThreshold: p.MutationThreshold,
		MinDirtyTimeFloor:    p.DirtyTimeFloor,
		MaxDirtyTimeFloor:    p.DirtyTimeFloor,
		MinDebounceFloor:     p.DebounceFloor,
		MaxDebounceFloor:     p.DebounceFloor,
	}
}

// Validate checks the envelope itself: every bound non-zero, min <= max,
// and a fixed range when runtime adjustment is disallowed.
func (e HostEnvelope) Validate() error {
	errs := e.boundsErrors()
	if err := e.checkFixed(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (e HostEnvelope) boundsErrors() []error {
	var errs []error
	if e.MinMutationThreshold == 0 || e.MinDirtyTimeFloor < time.Second || e.MinDebounceFloor < time.Second {
		errs = append(errs, fmt.Errorf("minimum bounds must be non-zero (durations at least 1s)"))
	}
	if e.MinMutationThreshold > e.MaxMutationThreshold {
		errs = append(errs, fmt.Errorf("mutation threshold range [%d, %d] is inverted",
			e.MinMutationThreshold, e.MaxMutationThreshold))
	}
	if e.MinDirtyTimeFloor > e.MaxDirtyTimeFloor {
		errs = append(errs, fmt.Errorf("dirty time floor range [%s, %s] is inverted",
			e.MinDirtyTimeFloor, e.MaxDirtyTimeFloor))
	}
	if e.MinDebounceFloor > e.MaxDebounceFloor {
		errs = append(errs, fmt.Errorf("debounce floor range [%s, %s] is inverted",
			e.MinDebounceFloor, e.MaxDebounceFloor))
	}
	return errs
}

func (e HostEnvelope) checkFixed() error {
	if !e.AllowRuntimeAdjustment && (e.MinMutationThreshold != e.MaxMutationThreshold ||
		e.MinDirtyTimeFloor != e.MaxDirtyTimeFloor || e.MinDebounceFloor != e.MaxDebounceFloor) {
		return fmt.Errorf("bounds must be fixed when runtime adjustment is disallowed")
	}
	return nil
}

// Contains reports the first policy field outside the envelope as an
// AdjustmentError, checking threshold, then dirty floor, then debounce.
func (e HostEnvelope) Contains(p Policy) error {
	if p.MutationThreshold < e.MinMutationThreshold || p.MutationThreshold > e.MaxMutationThreshold {
		return newAdjustmentError(CodeMutationThresholdOutOfBounds,
			"mutation threshold %d outside [%d, %d]", p.MutationThreshold, e.MinMutationThreshold, e.MaxMutationThreshold)
	}
	if p.DirtyTimeFloor < e.MinDirtyTimeFloor || p.DirtyTimeFloor > e.MaxDirtyTimeFloor {
		return newAdjustmentError(CodeDirtyTimeFloorOutOfBounds,
			"dirty time floor %s outside [%s, %s]", p.DirtyTimeFloor, e.MinDirtyTimeFloor, e.MaxDirtyTimeFloor)
	}
	if p.DebounceFloor < e.MinDebounceFloor || p.DebounceFloor > e.MaxDebounceFloor {
		return newAdjustmentError(CodeDebounceFloorOutOfBounds,
			"debounce floor %s outside [%s, %s]", p.DebounceFloor, e.MinDebounceFloor, e.MaxDebounceFloor)
	}
	return nil
}

// Bounds is the externally visible form of a HostEnvelope.
type Bounds struct {
	AllowRuntimeAdjustment bool   `json:"allow_runtime_checkpoint_frequency_adjustment"`
	MinMutationThreshold   uint32 `json:"min_mutation_threshold"`
	MaxMutationThreshold   uint32 `json:"max_mutation_threshold"`
	MinDirtyTimeFloorSecs  uint64 `json:"min_dirty_time_floor_secs"`
	MaxDirtyTimeFloorSecs  uint64 `json:"max_dirty_time_floor_secs"`
	MinDebounceFloorSecs   uint64 `json:"min_debounce_floor_secs"`
	MaxDebounceFloorSecs   uint64 `json:"max_debounce_floor_secs"`
}

// Bounds reports the envelope in whole seconds.
func (e HostEnvelope) Bounds() Bounds {
	return Bounds{
		AllowRuntimeAdjustment: e.AllowRuntimeAdjustment,
		MinMutationThreshold:   e.MinMutationThreshold,
		MaxMutationThreshold:   e.MaxMutationThreshold,
		MinDirtyTimeFloorSecs:  uint64(e.MinDirtyTimeFloor / time.Second),
		MaxDirtyTimeFloorSecs:  uint64(e.MaxDirtyTimeFloor / time.Second),
		MinDebounceFloorSecs:   uint64(e.MinDebounceFloor / time.Second),
		MaxDebounceFloorSecs:   uint64(e.MaxDebounceFloor / time.Second),
	}
}

// Adjustment is a runtime request to change some policy fields. Nil
// fields are left unchanged.
type Adjustment struct {
	MutationThreshold *uint32
	DirtyTimeFloor    *time.Duration
	DebounceFloor     *time.Duration
}

// IsEmpty reports whether the request changes nothing.
func (a Adjustment) IsEmpty() bool {
	return a.MutationThreshold == nil && a.DirtyTimeFloor == nil && a.DebounceFloor == nil
}

// Adjust applies req to current within the envelope.
//
// Failures are deterministic and checked in order: envelope bounds,
// adjustment allowed, then each field against its bounds. An envelope with
// an open range that disallows adjustment is rejected as not allowed, even
// for an empty request.
func (e HostEnvelope) Adjust(current Policy, req Adjustment) (Policy, error) {
	if errs := e.boundsErrors(); len(errs) > 0 {
		return current, newAdjustmentError(CodeInvalidHostPolicyEnvelope, "%v", errors.Join(errs...))
	}
	if err := e.checkFixed(); err != nil {
		return current, newAdjustmentError(CodeAdjustmentNotAllowed, "%v", err)
	}
	if req.IsEmpty() {
		return current, nil
	}
	if !e.AllowRuntimeAdjustment {
		return current, newAdjustmentError(CodeAdjustmentNotAllowed,
			"host policy does not allow runtime checkpoint frequency adjustment")
	}

	next := current
	if req.MutationThreshold != nil {
		next.MutationThreshold = *req.MutationThreshold
	}
	if req.DirtyTimeFloor != nil {
		next.DirtyTimeFloor = *req.DirtyTimeFloor
	}
	if req.DebounceFloor != nil {
		next.DebounceFloor = *req.DebounceFloor
	}
	if err := e.Contains(next); err != nil {
		return current, err
	}
	return next, nil
}
