package persistence

import (
	"fmt"
	"strings"
)

// Mode is the persistence failure posture.
type Mode string

const (
	// ModeDegraded absorbs persistence failures and continues in memory.
	ModeDegraded Mode = "degraded"
	// ModeStrict surfaces persistence failures and halts the operation.
	ModeStrict Mode = "strict"
)

// DefaultMode is degraded.
const DefaultMode = ModeDegraded

// ParseMode parses a mode name, ignoring case and surrounding space.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "degraded":
		return ModeDegraded, nil
	case "strict":
		return ModeStrict, nil
	default:
		return "", fmt.Errorf("invalid persistence mode %q (want strict or degraded)", s)
	}
}

func (m Mode) String() string {
	return string(m)
}

// IsStrict reports whether m is ModeStrict.
func (m Mode) IsStrict() bool {
	return m == ModeStrict
}

// Outcome is the typed result of a mode decision.
type Outcome uint8

const (
	// OutcomeProceed continues normally.
	OutcomeProceed Outcome = iota + 1
	// OutcomeSkip drops the current item or write and continues.
	OutcomeSkip
	// OutcomeFail halts the operation with an error.
	OutcomeFail
)

func (o Outcome) String() string {
	switch o {
	case OutcomeProceed:
		return "proceed"
	case OutcomeSkip:
		return "skip"
	case OutcomeFail:
		return "fail"
	default:
		return fmt.Sprintf("Outcome(%d)", uint8(o))
	}
}

// OnFailure decides what a load, format or write failure does.
func (m Mode) OnFailure() Outcome {
	if m.IsStrict() {
		return OutcomeFail
	}
	return OutcomeSkip
}

// OnLegacyArtifact decides what an unsupported legacy encrypted snapshot
// does. It follows OnFailure; it is separate so callers can tag the
// degraded skip with its own signal.
func (m Mode) OnLegacyArtifact() Outcome {
	return m.OnFailure()
}

// OnBudget decides whether a write may go ahead under the given budget
// decision.
func (m Mode) OnBudget(d BudgetDecision) Outcome {
	switch d {
	case BudgetStrictFailAtCapacity:
		return OutcomeFail
	case BudgetDegradedSkipAtCapacity:
		return OutcomeSkip
	default:
		return OutcomeProceed
	}
}
