package persistence

import (
	"context"
	"fmt"
)

// RetentionResult reports what a retention pass did.
type RetentionResult struct {
	Kept      []string `json:"kept"`
	Removed   []string `json:"removed"`
	Malformed []string `json:"malformed,omitempty"`

	// PrunedTopics counts empty topic containers that were removed.
	PrunedTopics int `json:"pruned_topics"`

	// Unverified is set when no snapshot decoded, so nothing was removed.
	Unverified bool `json:"unverified,omitempty"`
}

// PlanRetention splits a listing into the snapshots to keep and the ones
// to remove. valid is the index in l.Snapshots of the newest snapshot known
// to decode; trimming only happens behind it. Everything newer than it is
// kept, and it counts as the first of the keep snapshots (keep is raised
// to 1). A negative valid removes nothing. Malformed names are left out of
// both lists.
func PlanRetention(l Listing, keep, valid int) (kept, removed []SnapshotInfo) {
	if valid < 0 || valid >= len(l.Snapshots) {
		return l.Snapshots, nil
	}
	cut := valid + max(keep, 1)
	if len(l.Snapshots) <= cut {
		return l.Snapshots, nil
	}
	return l.Snapshots[:cut], l.Snapshots[cut:]
}

// NewestValid returns the index of the newest snapshot in l that decodes
// as a snapshot of topic, or -1 when none does.
func NewestValid(ctx context.Context, b Backend, topic string, l Listing) (int, error) {
	for i, s := range l.Snapshots {
		data, err := b.ReadSnapshot(ctx, topic, s.Name)
		if err != nil {
			return -1, fmt.Errorf("find newest valid snapshot: %w", err)
		}
		if snap, err := DecodeSnapshot(data); err == nil && snap.Topic == topic {
			return i, nil
		}
	}
	return -1, nil
}

// ApplyRetention trims topic per PlanRetention over the given point-in-time
// listing, then removes empty topic containers. A snapshot written after
// the listing was taken is never considered.
func ApplyRetention(ctx context.Context, b Backend, topic string, l Listing, keep, valid int) (RetentionResult, error) {
	kept, removed := PlanRetention(l, keep, valid)

	res := RetentionResult{
		Kept:       names(kept),
		Removed:    make([]string, 0, len(removed)),
		Malformed:  l.Malformed,
		Unverified: valid < 0 && len(l.Snapshots) > 0,
	}
	for _, s := range removed {
		if err := b.RemoveSnapshot(ctx, topic, s.Name); err != nil {
			return res, fmt.Errorf("apply retention: %w", err)
		}
		res.Removed = append(res.Removed, s.Name)
	}

	pruned, err := b.RemoveEmptyTopics(ctx)
	if err != nil {
		return res, fmt.Errorf("apply retention: %w", err)
	}
	res.PrunedTopics = pruned
	return res, nil
}

func names(infos []SnapshotInfo) []string {
	out := make([]string, len(infos))
	for i, s := range infos {
		out[i] = s.Name
	}
	return out
}
