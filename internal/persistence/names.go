package persistence

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/roach88/tasksync/internal/crdt"
)

// SnapshotExt is the extension of every snapshot name.
const SnapshotExt = ".snapshot"

const snapshotStampWidth = 20

// SnapshotName returns the canonical name for a snapshot taken at millis
// (Unix milliseconds). Names sort in timestamp order.
func SnapshotName(millis int64) string {
	return fmt.Sprintf("%020d%s", millis, SnapshotExt)
}

// ParseSnapshotName extracts the timestamp from a canonical snapshot name.
// ok is false for anything SnapshotName would not produce: another
// extension, a stem that is not exactly 20 ASCII digits, or a value out of
// range.
func ParseSnapshotName(name string) (millis int64, ok bool) {
	stem, found := strings.CutSuffix(name, SnapshotExt)
	if !found || len(stem) != snapshotStampWidth {
		return 0, false
	}
	for i := 0; i < len(stem); i++ {
		if stem[i] < '0' || stem[i] > '9' {
			return 0, false
		}
	}
	millis, err := strconv.ParseInt(stem, 10, 64)
	if err != nil {
		return 0, false
	}
	return millis, true
}

// NextSnapshotName picks the name for a snapshot taken at now, given the
// newest existing snapshot timestamp (or -1 when there is none). A clash or
// a clock step backwards bumps the name 1ms past the newest.
func NextSnapshotName(now time.Time, newest int64) (string, int64) {
	millis := now.UnixMilli()
	if millis <= newest {
		millis = newest + 1
	}
	return SnapshotName(millis), millis
}

// ValidateTopic rejects topic names that are unsafe as a single path
// segment.
func ValidateTopic(topic string) error {
	switch {
	case topic == "":
		return fmt.Errorf("topic must not be empty")
	case topic == "." || topic == "..":
		return fmt.Errorf("topic %q: traversal segments are not allowed", topic)
	case strings.ContainsAny(topic, `/\`):
		return fmt.Errorf("topic %q: path separators are not allowed", topic)
	case strings.Contains(topic, "%"):
		return fmt.Errorf("topic %q: percent-encoded segments are not allowed", topic)
	case strings.ContainsRune(topic, 0):
		return fmt.Errorf("topic %q: NUL bytes are not allowed", topic)
	}
	if err := crdt.ValidateText("topic", topic); err != nil {
		return fmt.Errorf("topic %q: %w", topic, err)
	}
	return nil
}
