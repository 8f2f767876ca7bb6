package persistence

import (
	"sync"
)

// State is the persistence lifecycle state reported by health.
type State string

const (
	StateStartingUp State = "starting_up"
	StateReady      State = "ready"
	StateDegraded   State = "degraded"
	StateFailed     State = "failed"
)

// RecoveryOutcome is how the last startup recovery ended.
type RecoveryOutcome string

const (
	RecoveryLoadedSnapshot      RecoveryOutcome = "loaded_snapshot"
	RecoveryEmptyStore          RecoveryOutcome = "empty_store"
	RecoveryDegradedFallback    RecoveryOutcome = "degraded_fallback"
	RecoveryStrictInitFailure   RecoveryOutcome = "strict_init_failure"
	RecoveryUnsupportedLegacy   RecoveryOutcome = "unsupported_legacy_encrypted_artifact"
	RecoveryPersistenceDisabled RecoveryOutcome = "persistence_disabled"
)

// Pressure is the storage budget pressure level.
type Pressure string

const (
	PressureNormal     Pressure = "normal"
	PressureWarning    Pressure = "warning"
	PressureCritical   Pressure = "critical"
	PressureAtCapacity Pressure = "at_capacity"
)

// ErrorCode identifies the last error reported by health.
type ErrorCode string

const (
	CodeStartupLoadFailure          ErrorCode = "startup_load_failure"
	CodeStrictInitializationFailure ErrorCode = "strict_initialization_failure"
	CodeCheckpointFailure           ErrorCode = "checkpoint_failure"
	CodeUnsupportedLegacyArtifact   ErrorCode = "unsupported_legacy_encrypted_artifact"
	CodeBudgetWarning               ErrorCode = "budget_warning"
	CodeBudgetCritical              ErrorCode = "budget_critical"
	CodeBudgetAtCapacity            ErrorCode = "budget_at_capacity"
)

// ErrorInfo is an actionable error description.
type ErrorInfo struct {
	Code        ErrorCode `json:"code"`
	Message     string    `json:"message"`
	Remediation string    `json:"remediation"`
}

// Health is a point-in-time copy of the persistence health of one topic.
type Health struct {
	Mode                Mode            `json:"mode"`
	State               State           `json:"state"`
	Degraded            bool            `json:"degraded"`
	LastRecoveryOutcome RecoveryOutcome `json:"last_recovery_outcome,omitempty"`
	LastError           *ErrorInfo      `json:"last_error"`
	BudgetPressure      Pressure        `json:"budget_pressure"`
}

// HealthTracker applies lifecycle transitions to a Health value.
//
// Transitions:
//   - startup loaded or empty: ready, error cleared
//   - startup fallback: degraded (latched)
//   - strict init failure: failed
//   - checkpoint succeeded: ready, unless degraded is latched
//   - checkpoint failed: failed in strict mode, degraded otherwise
//
// Thread-safety: all methods are safe for concurrent use.
type HealthTracker struct {
	mu sync.Mutex
	h  Health
}

// NewHealthTracker returns a tracker in StateStartingUp.
func NewHealthTracker(mode Mode) *HealthTracker {
	return &HealthTracker{h: Health{
		Mode:           mode,
		State:          StateStartingUp,
		BudgetPressure: PressureNormal,
	}}
}

// Snapshot returns a copy of the current health.
func (t *HealthTracker) Snapshot() Health {
	t.mu.Lock()
	defer t.mu.Unlock()
	h := t.h
	if h.LastError != nil {
		e := *h.LastError
		h.LastError = &e
	}
	return h
}

// Disabled records that persistence is off for this topic.
func (t *HealthTracker) Disabled() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.h.State = StateReady
	t.h.Degraded = false
	t.h.LastRecoveryOutcome = RecoveryPersistenceDisabled
	t.h.LastError = nil
}

// StartupLoaded records a successful snapshot load.
func (t *HealthTracker) StartupLoaded() {
	t.startupReady(RecoveryLoadedSnapshot)
}

// StartupEmpty records a startup with no snapshots.
func (t *HealthTracker) StartupEmpty() {
	t.startupReady(RecoveryEmptyStore)
}

func (t *HealthTracker) startupReady(outcome RecoveryOutcome) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.h.State = StateReady
	t.h.Degraded = false
	t.h.LastRecoveryOutcome = outcome
	t.h.LastError = nil
}

// StartupFallback records a degraded startup that continued with empty
// state after err.
func (t *HealthTracker) StartupFallback(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.h.State = StateDegraded
	t.h.Degraded = true
	if IsLegacyArtifact(err) {
		t.h.LastRecoveryOutcome = RecoveryUnsupportedLegacy
		t.h.LastError = &ErrorInfo{
			Code:        CodeUnsupportedLegacyArtifact,
			Message:     errMessage(err),
			Remediation: "Remove legacy encrypted snapshots or migrate them to the plaintext snapshot format.",
		}
		return
	}
	t.h.LastRecoveryOutcome = RecoveryDegradedFallback
	t.h.LastError = &ErrorInfo{
		Code:        CodeStartupLoadFailure,
		Message:     errMessage(err),
		Remediation: "Inspect the persistence store and its quarantine; state will be rebuilt from peers.",
	}
}

// StrictInitFailure records a strict startup that could not proceed.
func (t *HealthTracker) StrictInitFailure(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.h.State = StateFailed
	t.h.Degraded = true
	t.h.LastRecoveryOutcome = RecoveryStrictInitFailure
	code, remediation := CodeStrictInitializationFailure,
		"Fix strict initialization prerequisites (manifest sentinel, store access) and restart."
	if IsLegacyArtifact(err) {
		code, remediation = CodeUnsupportedLegacyArtifact,
			"Remove legacy encrypted snapshots or migrate them to the plaintext snapshot format."
	}
	t.h.LastError = &ErrorInfo{Code: code, Message: errMessage(err), Remediation: remediation}
}

// CheckpointSucceeded records a persisted checkpoint.
func (t *HealthTracker) CheckpointSucceeded() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.h.Degraded {
		return
	}
	t.h.State = StateReady
	t.h.LastError = nil
}

// CheckpointFailed records a failed or skipped checkpoint write.
func (t *HealthTracker) CheckpointFailed(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.h.Degraded = true
	if t.h.Mode.IsStrict() {
		t.h.State = StateFailed
	} else {
		t.h.State = StateDegraded
	}
	t.h.LastError = &ErrorInfo{
		Code:        CodeCheckpointFailure,
		Message:     errMessage(err),
		Remediation: "Inspect backend I/O and log output for the root cause; the next checkpoint retries.",
	}
}

// ApplyBudget records the pressure of a budget decision. Warnings replace
// the last error so the operator sees them.
func (t *HealthTracker) ApplyBudget(d BudgetDecision) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.h.BudgetPressure = d.Pressure()
	switch d.Pressure() {
	case PressureWarning:
		t.h.LastError = &ErrorInfo{
			Code:        CodeBudgetWarning,
			Message:     "persistence storage crossed the warning threshold",
			Remediation: "Review retention and checkpoint policy to reduce snapshot churn.",
		}
	case PressureCritical:
		t.h.LastError = &ErrorInfo{
			Code:        CodeBudgetCritical,
			Message:     "persistence storage crossed the critical threshold",
			Remediation: "Delete stale snapshots or raise the storage budget before capacity is hit.",
		}
	case PressureAtCapacity:
		t.h.LastError = &ErrorInfo{
			Code:        CodeBudgetAtCapacity,
			Message:     "persistence storage budget exhausted",
			Remediation: "Free storage or adjust the retention budget or checkpoint frequency immediately.",
		}
	}
}

func errMessage(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
