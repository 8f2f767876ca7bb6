package checkpoint

import (
	"sync"
	"time"
)

// Trigger identifies what prompted an evaluation.
type Trigger uint8

const (
	TriggerMutation Trigger = iota + 1
	TriggerTimer
	TriggerExplicit
	TriggerShutdown
)

// Scheduler holds the checkpoint bookkeeping of one task list: when it
// became dirty, how many mutations are unpersisted, and when the last
// attempt happened. Each open task list owns its own Scheduler.
//
// Thread-safety: all methods are safe for concurrent use.
type Scheduler struct {
	mu     sync.Mutex
	policy Policy

	mutations   uint64
	dirtySince  time.Time
	lastAttempt time.Time
	lastSuccess time.Time

	// inFlight is set between Begin and Complete. dirtyAfterBegin is the
	// time of the first mutation recorded while a checkpoint was in flight.
	inFlight        bool
	dirtyAfterBegin time.Time

	// pendingExplicit remembers an explicit request that was debounced so
	// the next timer evaluation honors it.
	pendingExplicit bool
}

// NewScheduler creates a clean scheduler.
func NewScheduler(p Policy) *Scheduler {
	return &Scheduler{policy: p}
}

// Policy returns the active policy.
func (s *Scheduler) Policy() Policy {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.policy
}

// SetPolicy replaces the active policy. Counters are kept.
func (s *Scheduler) SetPolicy(p Policy) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.policy = p
}

// RecordMutation counts n mutations observed at now.
func (s *Scheduler) RecordMutation(now time.Time, n int) {
	if n <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.mutations += uint64(n)
	if s.dirtySince.IsZero() {
		s.dirtySince = now
	}
	if s.inFlight && s.dirtyAfterBegin.IsZero() {
		s.dirtyAfterBegin = now
	}
}

// Evaluate decides what to do at now for the given trigger.
func (s *Scheduler) Evaluate(now time.Time, trigger Trigger) Action {
	s.mu.Lock()
	defer s.mu.Unlock()

	in := Inputs{
		Mutations:     s.mutations,
		HasCheckpoint: !s.lastAttempt.IsZero(),
		Explicit:      trigger == TriggerExplicit || s.pendingExplicit,
		Shutdown:      trigger == TriggerShutdown,
	}
	if !s.dirtySince.IsZero() {
		in.SinceDirty = now.Sub(s.dirtySince)
	}
	if in.HasCheckpoint {
		in.SinceLastCheckpoint = now.Sub(s.lastAttempt)
	}

	action := Decide(s.policy, in)
	switch action.Kind {
	case ActionSkipDebounced:
		if action.Reason == ReasonExplicitRequest {
			s.pendingExplicit = true
		}
	case ActionSkipClean:
		s.pendingExplicit = false
	}
	return action
}

// Ticket captures the counters a checkpoint is about to persist.
type Ticket struct {
	Mutations uint64
	At        time.Time
}

// Begin marks the start of a checkpoint attempt at now.
func (s *Scheduler) Begin(now time.Time) Ticket {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.inFlight = true
	s.dirtyAfterBegin = time.Time{}
	s.lastAttempt = now
	s.pendingExplicit = false
	return Ticket{Mutations: s.mutations, At: now}
}

// Complete records the result of the attempt started by t. On success the
// mutations captured in t are retired; mutations recorded while the attempt
// was running stay pending. A failed attempt leaves the list dirty.
func (s *Scheduler) Complete(now time.Time, t Ticket, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.inFlight = false
	if !ok {
		return
	}
	s.lastSuccess = now
	if s.mutations >= t.Mutations {
		s.mutations -= t.Mutations
	} else {
		s.mutations = 0
	}
	if s.mutations == 0 {
		s.dirtySince = time.Time{}
	} else {
		s.dirtySince = s.dirtyAfterBegin
	}
}

// NextWake returns when a timer evaluation could next produce
// ActionPersist. ok is false while the list is clean.
func (s *Scheduler) NextWake(now time.Time) (wake time.Time, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.mutations == 0 {
		return time.Time{}, false
	}
	wake = s.dirtySince.Add(s.policy.DirtyTimeFloor)
	if s.pendingExplicit || s.mutations >= uint64(s.policy.MutationThreshold) {
		wake = now
	}
	if !s.lastAttempt.IsZero() {
		if debounceEnd := s.lastAttempt.Add(s.policy.DebounceFloor); debounceEnd.After(wake) {
			wake = debounceEnd
		}
	}
	return wake, true
}

// Status is a point-in-time copy of the scheduler counters.
type Status struct {
	Mutations   uint64    `json:"mutations_since_last_checkpoint"`
	DirtySince  time.Time `json:"dirty_since,omitzero"`
	LastAttempt time.Time `json:"last_attempt,omitzero"`
	LastSuccess time.Time `json:"last_success,omitzero"`
}

// Status returns the current counters.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		Mutations:   s.mutations,
		DirtySince:  s.dirtySince,
		LastAttempt: s.lastAttempt,
		LastSuccess: s.lastSuccess,
	}
}
