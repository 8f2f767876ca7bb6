// Package ir provides the canonical value model used for persisted task-list
// state.
//
// Snapshot payloads are built as ir.Object trees and serialized with
// MarshalCanonical, so the same replica state always yields the same bytes
// and the same digest. ir imports nothing internal.
//
// Key constraints:
//   - NO float types anywhere; numbers are int64
//   - NO null; absent fields are omitted
//   - Strings are NFC normalized at the serialization boundary
//   - All keys use snake_case
package ir
