package persistence

import (
	"context"
	"slices"
	"strings"
)

// SnapshotInfo describes one stored snapshot.
type SnapshotInfo struct {
	Name   string `json:"name"`
	Millis int64  `json:"timestamp_ms"`
	Size   int64  `json:"size_bytes"`
}

// Listing is a point-in-time view of one topic's snapshots.
type Listing struct {
	// Snapshots holds every well-formed snapshot, newest first.
	Snapshots []SnapshotInfo

	// Malformed holds entries whose names do not parse. They are never
	// ordered, loaded or deleted.
	Malformed []string
}

// Newest returns the timestamp of the newest snapshot, or -1.
func (l Listing) Newest() int64 {
	if len(l.Snapshots) == 0 {
		return -1
	}
	return l.Snapshots[0].Millis
}

// Size sums the sizes of the well-formed snapshots.
func (l Listing) Size() int64 {
	var total int64
	for _, s := range l.Snapshots {
		total += s.Size
	}
	return total
}

// newListing sorts snapshots newest first and malformed names
// lexicographically.
func newListing(snapshots []SnapshotInfo, malformed []string) Listing {
	slices.SortFunc(snapshots, func(a, b SnapshotInfo) int {
		switch {
		case a.Millis > b.Millis:
			return -1
		case a.Millis < b.Millis:
			return 1
		default:
			return strings.Compare(a.Name, b.Name)
		}
	})
	slices.Sort(malformed)
	return Listing{Snapshots: snapshots, Malformed: malformed}
}

// Backend stores snapshot bytes under canonical names, per topic.
//
// Implementations validate topics with ValidateTopic and must make
// WriteSnapshot atomic: a reader never observes a partially written
// snapshot under its final name.
type Backend interface {
	// Name identifies the backend kind ("file", "sqlite").
	Name() string

	WriteSnapshot(ctx context.Context, topic, name string, data []byte) error
	ReadSnapshot(ctx context.Context, topic, name string) ([]byte, error)
	ListSnapshots(ctx context.Context, topic string) (Listing, error)
	RemoveSnapshot(ctx context.Context, topic, name string) error

	// Quarantine moves a snapshot out of the listing without deleting it.
	Quarantine(ctx context.Context, topic, name, reason string) error

	// Topics lists the topics that have stored data.
	Topics(ctx context.Context) ([]string, error)

	// RemoveEmptyTopics drops topic containers that hold nothing at all and
	// returns how many were removed.
	RemoveEmptyTopics(ctx context.Context) (int, error)

	// Usage is the total number of bytes stored, quarantine included.
	Usage(ctx context.Context) (int64, error)

	ReadManifest(ctx context.Context) (Manifest, error)
	WriteManifest(ctx context.Context, m Manifest) error

	Close() error
}
