package persistence

import (
	"fmt"
	"math/bits"
)

// Retention defaults.
const (
	DefaultKeep            = 3
	DefaultBudgetBytes     = 256 * 1024 * 1024
	DefaultWarningPercent  = 80
	DefaultCriticalPercent = 90
)

// Retention bounds how many snapshots are kept and how much space the
// store may use.
type Retention struct {
	// Keep is the number of newest snapshots kept per topic. Values below 1
	// are treated as 1.
	Keep int

	// BudgetBytes is the storage ceiling. Zero means no space at all.
	BudgetBytes uint64

	WarningPercent  uint8
	CriticalPercent uint8
}

// DefaultRetention returns {keep 3, 256MB, 80%, 90%}.
func DefaultRetention() Retention {
	return Retention{
		Keep:            DefaultKeep,
		BudgetBytes:     DefaultBudgetBytes,
		WarningPercent:  DefaultWarningPercent,
		CriticalPercent: DefaultCriticalPercent,
	}
}

// Validate checks 0 < warning < critical <= 100 and keep >= 1.
func (r Retention) Validate() error {
	if r.Keep < 1 {
		return fmt.Errorf("retention keep must be at least 1, got %d", r.Keep)
	}
	if r.WarningPercent == 0 || r.WarningPercent >= r.CriticalPercent || r.CriticalPercent > 100 {
		return fmt.Errorf("invalid budget thresholds: warning=%d%%, critical=%d%%", r.WarningPercent, r.CriticalPercent)
	}
	return nil
}

func (r Retention) keep() int {
	return max(r.Keep, 1)
}

// BudgetDecision classifies storage usage against the budget.
type BudgetDecision string

const (
	BudgetBelowWarning           BudgetDecision = "below_warning"
	BudgetWarning80              BudgetDecision = "warning_80"
	BudgetWarning90              BudgetDecision = "warning_90"
	BudgetStrictFailAtCapacity   BudgetDecision = "strict_fail_at_capacity"
	BudgetDegradedSkipAtCapacity BudgetDecision = "degraded_skip_at_capacity"
)

// AtCapacity reports whether d is one of the capacity decisions.
func (d BudgetDecision) AtCapacity() bool {
	return d == BudgetStrictFailAtCapacity || d == BudgetDegradedSkipAtCapacity
}

// Pressure maps d onto the health pressure scale.
func (d BudgetDecision) Pressure() Pressure {
	switch d {
	case BudgetWarning80:
		return PressureWarning
	case BudgetWarning90:
		return PressureCritical
	case BudgetStrictFailAtCapacity, BudgetDegradedSkipAtCapacity:
		return PressureAtCapacity
	default:
		return PressureNormal
	}
}

// EvaluateBudget classifies used bytes. Callers pass projected usage
// (current usage plus the snapshot about to be written).
//
// A threshold is reached when used*100 >= budget*percent; the products are
// compared at 128-bit width so large budgets cannot overflow.
func EvaluateBudget(r Retention, mode Mode, used uint64) BudgetDecision {
	if r.BudgetBytes == 0 || used >= r.BudgetBytes {
		if mode.IsStrict() {
			return BudgetStrictFailAtCapacity
		}
		return BudgetDegradedSkipAtCapacity
	}
	if reachesThreshold(used, r.BudgetBytes, r.CriticalPercent) {
		return BudgetWarning90
	}
	if reachesThreshold(used, r.BudgetBytes, r.WarningPercent) {
		return BudgetWarning80
	}
	return BudgetBelowWarning
}

func reachesThreshold(used, budget uint64, percent uint8) bool {
	uh, ul := bits.Mul64(used, 100)
	bh, bl := bits.Mul64(budget, uint64(percent))
	return uh > bh || (uh == bh && ul >= bl)
}
