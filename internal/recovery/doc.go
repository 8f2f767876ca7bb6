// Package recovery restores a task list from its newest valid snapshot at
// startup and hands off to network resync.
//
// Recovery walks the snapshot listing newest-first:
//
//   - a legacy encrypted artifact fails strict startup and is skipped in
//     degraded mode
//   - a corrupt snapshot is moved to quarantine, then fails strict startup or
//     is skipped in degraded mode
//   - the first snapshot that decodes and verifies is restored
//
// With no snapshots at all the list starts empty. With snapshots present but
// none loadable, degraded mode continues empty and flags the fallback in
// health; strict mode never gets that far. Every successful startup ends
// with a resync request so peers fill in whatever the snapshot missed.
package recovery
