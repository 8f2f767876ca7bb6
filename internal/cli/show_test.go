package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tasksync/internal/persistence"
)

func TestShowLoadsNewestValidSnapshotReadOnly(t *testing.T) {
	dir := t.TempDir()
	good := seedSnapshot(t, dir, "team", 1000, "A", "B")
	bad := seedRaw(t, dir, "team", 2000, []byte("not an envelope"))

	out, _, err := execute(t, "--dir", dir, "--format", "json", "show", "--topic", "team")
	require.NoError(t, err)

	var result ShowResult
	decode(t, out, &result)
	assert.Equal(t, "team", result.Topic)
	assert.Equal(t, persistence.RecoveryLoadedSnapshot, result.Recovery.Outcome)
	assert.Equal(t, good, result.Recovery.Snapshot)
	require.Len(t, result.Recovery.Skipped, 1)
	assert.Equal(t, bad, result.Recovery.Skipped[0].Name)
	assert.Equal(t, persistence.KindFormatFailure, result.Recovery.Skipped[0].Kind)
	assert.Empty(t, result.Recovery.Quarantined)
	assert.False(t, result.Recovery.ResyncRequested)
	assert.Equal(t, persistence.StateReady, result.Health.State)

	require.Len(t, result.Tasks, 2)
	assert.Equal(t, "A", result.Tasks[0].Title)
	assert.Equal(t, "B", result.Tasks[1].Title)

	assert.FileExists(t, snapshotPath(dir, "team", bad))
	assert.NoDirExists(t, snapshotPath(dir, "team", "quarantine"))
}

func TestShowText(t *testing.T) {
	dir := t.TempDir()
	seedSnapshot(t, dir, "team", 1000, "Alpha")
	seedRaw(t, dir, "team", 2000, []byte(legacyArtifact))

	out, _, err := execute(t, "--dir", dir, "show", "--topic", "team")
	require.NoError(t, err)
	assert.Contains(t, out, "topic: team\n")
	assert.Contains(t, out, "recovery: loaded_snapshot from 00000000000000001000.snapshot (v2)\n")
	assert.Contains(t, out, "  skipped 00000000000000002000.snapshot: degraded_skipped_legacy_artifact\n")
	assert.Contains(t, out, "  Alpha")
}

func TestShowEmptyStore(t *testing.T) {
	out, _, err := execute(t, "--dir", t.TempDir(), "--format", "json", "show", "--topic", "team")
	require.NoError(t, err)
	var result ShowResult
	decode(t, out, &result)
	assert.Equal(t, persistence.RecoveryEmptyStore, result.Recovery.Outcome)
	assert.Empty(t, result.Tasks)
}

func TestShowStrictWithoutManifestFails(t *testing.T) {
	dir := t.TempDir()
	seedSnapshot(t, dir, "team", 1000, "A")
	cfg := writeConfig(t, dir, "  mode: strict\n  initialize_if_missing: true\n")

	out, _, err := execute(t, "--config", cfg, "--format", "json", "show", "--topic", "team")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	resp := decode(t, out, nil)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeRecovery, resp.Error.Code)

	// Read-only recovery never initializes the store.
	_, err = readManifest(t, dir)
	assert.ErrorIs(t, err, persistence.ErrManifestMissing)
}

func TestShowRejectsBadTopic(t *testing.T) {
	_, _, err := execute(t, "--dir", t.TempDir(), "show", "--topic", "../etc")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
