package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/tasksync/internal/ir"
)

// ManifestFile is the name of the store sentinel.
const ManifestFile = "store.manifest.json"

// ManifestSchemaVersion is the only manifest version understood.
const ManifestSchemaVersion = 1

// Manifest marks a store as deliberately initialized. Strict mode uses it to
// tell "no data yet" apart from "data lost".
type Manifest struct {
	SchemaVersion int    `json:"schema_version"`
	StoreID       string `json:"store_id"`
}

// NewManifest returns a current-version manifest for storeID.
func NewManifest(storeID string) Manifest {
	return Manifest{SchemaVersion: ManifestSchemaVersion, StoreID: storeID}
}

// StoreID derives a stable store id from the owning agent and store
// location.
func StoreID(agent, location string) string {
	return ir.Digest(ir.DomainStore, []byte(agent+"\x00"+location))[:32]
}

// Validate checks version and id.
func (m Manifest) Validate() error {
	if m.SchemaVersion != ManifestSchemaVersion {
		return fmt.Errorf("unsupported manifest schema version %d", m.SchemaVersion)
	}
	if strings.TrimSpace(m.StoreID) == "" {
		return fmt.Errorf("manifest store_id must not be empty")
	}
	return nil
}

func encodeManifest(m Manifest) ([]byte, error) {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode manifest: %w", err)
	}
	return append(data, '\n'), nil
}

func decodeManifest(data []byte) (Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("decode manifest: %w", err)
	}
	if err := m.Validate(); err != nil {
		return Manifest{}, err
	}
	return m, nil
}

// ResolveStrictManifest checks the manifest sentinel before a strict
// startup. A missing manifest is created when initializeIfMissing is set;
// otherwise it is a KindStrictInitializationFailure. It reports whether the
// manifest was created.
func ResolveStrictManifest(ctx context.Context, b Backend, initializeIfMissing bool, want Manifest) (bool, error) {
	_, err := b.ReadManifest(ctx)
	switch {
	case err == nil:
		return false, nil
	case errors.Is(err, ErrManifestMissing) && initializeIfMissing:
		if err := b.WriteManifest(ctx, want); err != nil {
			return false, newError(KindStrictInitializationFailure, "initialize manifest", "", "", err)
		}
		return true, nil
	case errors.Is(err, ErrManifestMissing):
		return false, newError(KindStrictInitializationFailure, "check manifest", "", "",
			fmt.Errorf("%w: strict mode requires an initialized store (set initialize_if_missing for first run)", err))
	default:
		return false, newError(KindStrictInitializationFailure, "check manifest", "", "", err)
	}
}
