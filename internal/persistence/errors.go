package persistence

import (
	"errors"
	"fmt"
)

// ErrorKind categorizes persistence errors.
type ErrorKind string

const (
	// KindStorageFailure indicates an I/O error reading or writing a
	// snapshot, the manifest or the store itself.
	KindStorageFailure ErrorKind = "storage_failure"

	// KindFormatFailure indicates a corrupt or unreadable envelope, an
	// unsupported schema version or a digest mismatch.
	KindFormatFailure ErrorKind = "format_failure"

	// KindUnsupportedLegacyArtifact indicates a legacy encrypted snapshot
	// was found in strict mode.
	KindUnsupportedLegacyArtifact ErrorKind = "unsupported_legacy_encrypted_artifact"

	// KindDegradedSkippedLegacyArtifact is the degraded-mode signal that a
	// legacy encrypted snapshot was skipped. It is not a failure.
	KindDegradedSkippedLegacyArtifact ErrorKind = "degraded_skipped_legacy_artifact"

	// KindBudgetExceeded indicates the storage budget is exhausted.
	KindBudgetExceeded ErrorKind = "budget_exceeded"

	// KindStrictInitializationFailure indicates strict startup could not
	// establish the store, e.g. the manifest sentinel is missing.
	KindStrictInitializationFailure ErrorKind = "strict_initialization_failure"
)

// ErrManifestMissing is returned by Backend.ReadManifest when the store has
// no manifest sentinel.
var ErrManifestMissing = errors.New("manifest missing")

// ErrSnapshotExists is returned by Backend.WriteSnapshot when the name is
// already taken.
var ErrSnapshotExists = errors.New("snapshot already exists")

// ErrSnapshotNotFound is returned when a named snapshot does not exist.
var ErrSnapshotNotFound = errors.New("snapshot not found")

// Error is a typed persistence error.
type Error struct {
	Kind  ErrorKind
	Op    string // operation, e.g. "write snapshot"
	Topic string
	Name  string // snapshot name, when one is involved
	Err   error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Kind, e.Op)
	if e.Topic != "" {
		msg += fmt.Sprintf(" (topic=%s", e.Topic)
		if e.Name != "" {
			msg += fmt.Sprintf(", snapshot=%s", e.Name)
		}
		msg += ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind ErrorKind, op, topic, name string, err error) *Error {
	return &Error{Kind: kind, Op: op, Topic: topic, Name: name, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or "".
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}

// IsLegacyArtifact reports whether err is either legacy artifact kind.
func IsLegacyArtifact(err error) bool {
	k := KindOf(err)
	return k == KindUnsupportedLegacyArtifact || k == KindDegradedSkippedLegacyArtifact
}
