package crdt

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes task-list errors returned to callers.
type ErrorCode string

const (
	// ErrCodeInvalidArgument indicates bad input, such as an empty title or
	// a reorder list that does not match the current task set.
	ErrCodeInvalidArgument ErrorCode = "invalid_argument"

	// ErrCodeUnknownTask indicates an operation on a task id that is not
	// present in the list.
	ErrCodeUnknownTask ErrorCode = "unknown_task"
)

// Error is returned synchronously by task-list operations. These errors are
// never retried automatically.
type Error struct {
	Code    ErrorCode
	Message string

	// TaskID is set for ErrCodeUnknownTask.
	TaskID TaskID
}

func (e *Error) Error() string {
	if !e.TaskID.IsZero() {
		return fmt.Sprintf("%s: %s (task=%s)", e.Code, e.Message, e.TaskID)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewInvalidArgument creates an ErrCodeInvalidArgument error.
func NewInvalidArgument(format string, args ...any) *Error {
	return &Error{Code: ErrCodeInvalidArgument, Message: fmt.Sprintf(format, args...)}
}

// NewUnknownTask creates an ErrCodeUnknownTask error.
func NewUnknownTask(id TaskID) *Error {
	return &Error{Code: ErrCodeUnknownTask, Message: "task not found", TaskID: id}
}

// IsInvalidArgument reports whether err is an invalid-argument error.
func IsInvalidArgument(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == ErrCodeInvalidArgument
}

// IsUnknownTask reports whether err is an unknown-task error.
func IsUnknownTask(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == ErrCodeUnknownTask
}
