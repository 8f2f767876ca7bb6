package checkpoint

import (
	"errors"
	"fmt"
)

// AdjustmentCode identifies why a runtime adjustment was rejected. The
// string values are part of the host contract.
type AdjustmentCode string

const (
	CodeAdjustmentNotAllowed         AdjustmentCode = "runtime_checkpoint_adjustment_not_allowed"
	CodeMutationThresholdOutOfBounds AdjustmentCode = "mutation_threshold_out_of_bounds"
	CodeDirtyTimeFloorOutOfBounds    AdjustmentCode = "dirty_time_floor_out_of_bounds"
	CodeDebounceFloorOutOfBounds     AdjustmentCode = "debounce_floor_out_of_bounds"
	CodeInvalidHostPolicyEnvelope    AdjustmentCode = "invalid_host_policy_envelope"
)

// AdjustmentError is returned when a checkpoint frequency adjustment is
// rejected.
type AdjustmentError struct {
	Code    AdjustmentCode
	Message string
}

func (e *AdjustmentError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func newAdjustmentError(code AdjustmentCode, format string, args ...any) *AdjustmentError {
	return &AdjustmentError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// AdjustmentCodeOf extracts the code from err, or "" when err is not an
// AdjustmentError.
func AdjustmentCodeOf(err error) AdjustmentCode {
	var ae *AdjustmentError
	if errors.As(err, &ae) {
		return ae.Code
	}
	return ""
}
