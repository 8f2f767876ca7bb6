package persistence

import (
	"encoding/json"
	"fmt"

	"github.com/roach88/tasksync/internal/crdt"
	"github.com/roach88/tasksync/internal/ir"
)

// Envelope constants. SchemaVersion is the version written; the previous
// version is still readable for one release.
const (
	SchemaVersion         = 2
	PreviousSchemaVersion = SchemaVersion - 1
	CodecMarker           = "tasksync-canonical-json"
	CodecVersion          = 1
)

// Migration reports how a decoded snapshot relates to the current schema.
type Migration uint8

const (
	MigrationCurrent Migration = iota + 1
	MigrationFromPrevious
)

func (m Migration) String() string {
	switch m {
	case MigrationCurrent:
		return "current"
	case MigrationFromPrevious:
		return "migrate_from_previous"
	default:
		return fmt.Sprintf("Migration(%d)", uint8(m))
	}
}

// Snapshot is a decoded envelope.
type Snapshot struct {
	Topic         string
	State         crdt.State
	SchemaVersion int
	Migration     Migration
	Digest        string
}

// digestDomain returns the digest domain of a supported schema version.
func digestDomain(schemaVersion int) (string, error) {
	switch schemaVersion {
	case SchemaVersion:
		return ir.DomainSnapshotV2, nil
	case PreviousSchemaVersion:
		return ir.DomainSnapshotV1, nil
	default:
		return "", fmt.Errorf("unsupported snapshot schema version %d; supported range is [%d, %d]",
			schemaVersion, PreviousSchemaVersion, SchemaVersion)
	}
}

// EncodeSnapshot builds the canonical envelope bytes for state.
func EncodeSnapshot(topic string, state crdt.State) ([]byte, error) {
	return EncodeSnapshotVersion(topic, state, SchemaVersion)
}

// EncodeSnapshotVersion builds an envelope stamped with schemaVersion, which
// must be inside the supported window. Used to produce snapshots readable by
// the previous release.
func EncodeSnapshotVersion(topic string, state crdt.State, schemaVersion int) ([]byte, error) {
	payload, err := crdt.EncodeState(topic, state)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot payload: %w", err)
	}
	payloadBytes, err := ir.MarshalCanonical(payload)
	if err != nil {
		return nil, fmt.Errorf("canonicalize snapshot payload: %w", err)
	}
	domain, err := digestDomain(schemaVersion)
	if err != nil {
		return nil, err
	}

	envelope := ir.Object{
		"schema_version": ir.Int(schemaVersion),
		"codec_marker":   ir.String(CodecMarker),
		"codec_version":  ir.Int(CodecVersion),
		"integrity": ir.Object{
			"algorithm":  ir.String(ir.DigestAlgorithm),
			"digest_hex": ir.String(ir.Digest(domain, payloadBytes)),
		},
		"payload": payload,
	}
	data, err := ir.MarshalCanonical(envelope)
	if err != nil {
		return nil, fmt.Errorf("canonicalize snapshot envelope: %w", err)
	}
	return data, nil
}

// DecodeSnapshot parses and verifies envelope bytes.
//
// Errors are *Error values: KindUnsupportedLegacyArtifact for a legacy
// encrypted artifact, KindFormatFailure for everything else.
func DecodeSnapshot(data []byte) (Snapshot, error) {
	if LooksLikeLegacyArtifact(data) {
		return Snapshot{}, newError(KindUnsupportedLegacyArtifact, "decode snapshot", "", "",
			fmt.Errorf("legacy encrypted snapshot artifact"))
	}

	snap, err := decodeEnvelope(data)
	if err != nil {
		return Snapshot{}, newError(KindFormatFailure, "decode snapshot", "", "", err)
	}
	return snap, nil
}

func decodeEnvelope(data []byte) (Snapshot, error) {
	obj, err := ir.DecodeObject(data)
	if err != nil {
		return Snapshot{}, fmt.Errorf("invalid envelope encoding: %w", err)
	}

	marker, err := obj.Str("codec_marker")
	if err != nil {
		return Snapshot{}, err
	}
	if marker != CodecMarker {
		return Snapshot{}, fmt.Errorf("unexpected codec marker %q", marker)
	}
	codecVersion, err := obj.Int("codec_version")
	if err != nil {
		return Snapshot{}, err
	}
	if codecVersion != CodecVersion {
		return Snapshot{}, fmt.Errorf("unsupported codec version %d", codecVersion)
	}

	schemaVersion, err := obj.Int("schema_version")
	if err != nil {
		return Snapshot{}, err
	}
	domain, err := digestDomain(int(schemaVersion))
	if err != nil {
		return Snapshot{}, err
	}

	integrity, err := obj.Obj("integrity")
	if err != nil {
		return Snapshot{}, err
	}
	algorithm, err := integrity.Str("algorithm")
	if err != nil {
		return Snapshot{}, err
	}
	if algorithm != ir.DigestAlgorithm {
		return Snapshot{}, fmt.Errorf("unsupported integrity algorithm %q", algorithm)
	}
	digest, err := integrity.Str("digest_hex")
	if err != nil {
		return Snapshot{}, err
	}

	payload, err := obj.Obj("payload")
	if err != nil {
		return Snapshot{}, err
	}
	payloadBytes, err := ir.MarshalCanonical(payload)
	if err != nil {
		return Snapshot{}, fmt.Errorf("canonicalize payload: %w", err)
	}
	if got := ir.Digest(domain, payloadBytes); got != digest {
		return Snapshot{}, fmt.Errorf("integrity mismatch: digest %s, payload hashes to %s", digest, got)
	}

	topic, state, err := crdt.DecodeState(payload)
	if err != nil {
		return Snapshot{}, fmt.Errorf("decode payload: %w", err)
	}
	for _, t := range state {
		if err := t.Validate(); err != nil {
			return Snapshot{}, fmt.Errorf("decode payload: %w", err)
		}
	}

	migration := MigrationCurrent
	if schemaVersion != SchemaVersion {
		migration = MigrationFromPrevious
	}
	return Snapshot{
		Topic:         topic,
		State:         state,
		SchemaVersion: int(schemaVersion),
		Migration:     migration,
		Digest:        digest,
	}, nil
}

// LooksLikeLegacyArtifact reports whether data is a JSON object shaped like
// an encrypted snapshot from before plaintext envelopes: a ciphertext, a
// nonce or iv, and a key marker.
func LooksLikeLegacyArtifact(data []byte) bool {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return false
	}
	has := func(keys ...string) bool {
		for _, k := range keys {
			if _, ok := fields[k]; ok {
				return true
			}
		}
		return false
	}
	return has("ciphertext") && has("nonce", "iv") && has("key_id", "kdf", "aad", "encryption")
}
