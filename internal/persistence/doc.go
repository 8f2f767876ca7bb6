// Package persistence stores durable snapshots of task lists.
//
// A snapshot is a canonical JSON envelope around the encoded task-list
// state:
//
//	{"schema_version":2,"codec_marker":"tasksync-canonical-json","codec_version":1,
//	 "integrity":{"algorithm":"sha256","digest_hex":"..."},"payload":{...}}
//
// The digest is computed over the canonical payload bytes with domain
// separation (see internal/ir/hash.go). It detects corruption, not
// tampering; snapshots are plaintext at rest.
//
// # Modes
//
// Every failure path is routed through Mode:
//
//   - degraded (default): load, format and write failures are logged and
//     absorbed; the task list continues in memory and relies on resync.
//   - strict: the same failures are surfaced and halt the startup or
//     checkpoint that hit them.
//
// # Storage
//
// Snapshots are named "%020d.snapshot" after their Unix millisecond
// timestamp, so ordering and retention never reopen files. Two Backend
// implementations share that naming:
//
//   - FileBackend: one directory per topic, atomic durable writes
//     (temp file, fsync, rename, directory fsync), corrupt files moved to
//     quarantine/.
//   - SQLiteBackend: a single WAL-mode database with one row per snapshot.
//
// The Manager owns the checkpoint loop of one topic: it reacts to
// mutations, collapses concurrent requests, enforces the storage budget
// and retention, and reports health.
package persistence
