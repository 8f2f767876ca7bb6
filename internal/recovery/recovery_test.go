package recovery

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tasksync/internal/engine"
	"github.com/roach88/tasksync/internal/persistence"
)

const topic = "team"

func newList(t *testing.T, ns byte, titles ...string) *engine.TaskList {
	t.Helper()
	l, err := engine.NewTaskList(topic, "alice", engine.WithIDGenerator(engine.NewSequentialIDs(ns)))
	require.NoError(t, err)
	for _, title := range titles {
		_, err := l.AddTask(title, "")
		require.NoError(t, err)
	}
	return l
}

func encode(t *testing.T, l *engine.TaskList) []byte {
	t.Helper()
	state, _ := l.Snapshot()
	data, err := persistence.EncodeSnapshot(l.Topic(), state)
	require.NoError(t, err)
	return data
}

func openStore(t *testing.T) (*persistence.FileBackend, string) {
	t.Helper()
	root := t.TempDir()
	b, err := persistence.OpenFileBackend(root)
	require.NoError(t, err)
	return b, root
}

func put(t *testing.T, b persistence.Backend, millis int64, data []byte) string {
	t.Helper()
	name := persistence.SnapshotName(millis)
	require.NoError(t, b.WriteSnapshot(context.Background(), topic, name, data))
	return name
}

func titles(l *engine.TaskList) []string {
	var out []string
	for _, v := range l.ListTasks() {
		out = append(out, v.Title)
	}
	return out
}

func corruptDigest(t *testing.T, data []byte) []byte {
	t.Helper()
	snap, err := persistence.DecodeSnapshot(data)
	require.NoError(t, err)
	return []byte(strings.Replace(string(data), snap.Digest, strings.Repeat("0", 64), 1))
}

const legacyArtifact = `{"ciphertext":"q83vEjRWeJA=","nonce":"AAECAwQFBgcICQoL","key_id":"group-key-1"}`

func TestRecover_Disabled(t *testing.T) {
	health := persistence.NewHealthTracker(persistence.ModeDegraded)
	target := newList(t, 2)

	rep, err := Recover(context.Background(), target, Options{Enabled: false, Health: health})
	require.NoError(t, err)
	assert.Equal(t, persistence.RecoveryPersistenceDisabled, rep.Outcome)
	assert.True(t, rep.ResyncRequested)
	assert.Equal(t, persistence.StateReady, health.Snapshot().State)
	assert.Empty(t, target.ListTasks())
}

func TestRecover_EmptyStore(t *testing.T) {
	b, _ := openStore(t)
	health := persistence.NewHealthTracker(persistence.ModeDegraded)

	rep, err := Recover(context.Background(), newList(t, 2), Options{
		Enabled: true,
		Mode:    persistence.ModeDegraded,
		Backend: b,
		Health:  health,
	})
	require.NoError(t, err)
	assert.Equal(t, persistence.RecoveryEmptyStore, rep.Outcome)
	h := health.Snapshot()
	assert.Equal(t, persistence.StateReady, h.State)
	assert.Equal(t, persistence.RecoveryEmptyStore, h.LastRecoveryOutcome)
}

func TestRecover_LoadsNewestSnapshot(t *testing.T) {
	backends := map[string]func(t *testing.T) persistence.Backend{
		"file": func(t *testing.T) persistence.Backend {
			b, _ := openStore(t)
			return b
		},
		"sqlite": func(t *testing.T) persistence.Backend {
			b, err := persistence.OpenSQLiteBackend(filepath.Join(t.TempDir(), "snapshots.db"))
			require.NoError(t, err)
			t.Cleanup(func() { b.Close() })
			return b
		},
	}
	for name, open := range backends {
		t.Run(name, func(t *testing.T) {
			b := open(t)
			put(t, b, 1000, encode(t, newList(t, 1, "A")))
			newest := put(t, b, 2000, encode(t, newList(t, 1, "A", "B", "C")))

			target := newList(t, 2)
			var since uint64
			rep, err := Recover(context.Background(), target, Options{
				Enabled: true,
				Mode:    persistence.ModeStrict,
				Backend: b,
				Resyncer: ResyncFunc(func(_ context.Context, gotTopic string, v uint64) error {
					assert.Equal(t, topic, gotTopic)
					since = v
					return nil
				}),
				InitializeIfMissing: true,
				StoreID:             "store-1",
			})
			require.NoError(t, err)
			assert.Equal(t, persistence.RecoveryLoadedSnapshot, rep.Outcome)
			assert.Equal(t, newest, rep.Snapshot)
			assert.Equal(t, persistence.MigrationCurrent, rep.Migration)
			assert.Equal(t, 3, rep.Tasks)
			assert.True(t, rep.ManifestCreated)
			assert.Equal(t, []string{"A", "B", "C"}, titles(target))
			assert.Equal(t, target.Version(), since)
		})
	}
}

func TestRecover_SkipsCorruptNewestSnapshot(t *testing.T) {
	b, root := openStore(t)
	put(t, b, 1000, encode(t, newList(t, 1, "A")))
	bad := put(t, b, 2000, []byte("not an envelope"))

	target := newList(t, 2)
	rep, err := Recover(context.Background(), target, Options{
		Enabled: true,
		Mode:    persistence.ModeDegraded,
		Backend: b,
	})
	require.NoError(t, err)
	assert.Equal(t, persistence.RecoveryLoadedSnapshot, rep.Outcome)
	assert.Equal(t, persistence.SnapshotName(1000), rep.Snapshot)
	require.Len(t, rep.Skipped, 1)
	assert.Equal(t, persistence.KindFormatFailure, rep.Skipped[0].Kind)
	assert.Equal(t, []string{bad}, rep.Quarantined)
	assert.FileExists(t, filepath.Join(root, topic, "quarantine", ReasonCorrupt+"-"+bad))
	assert.Equal(t, []string{"A"}, titles(target))
}

func TestRecover_DegradedCorruptDigestFallsBack(t *testing.T) {
	b, root := openStore(t)
	only := put(t, b, 1000, corruptDigest(t, encode(t, newList(t, 1, "A", "B"))))

	health := persistence.NewHealthTracker(persistence.ModeDegraded)
	target := newList(t, 2)
	rep, err := Recover(context.Background(), target, Options{
		Enabled: true,
		Mode:    persistence.ModeDegraded,
		Backend: b,
		Health:  health,
	})
	require.NoError(t, err)
	assert.Empty(t, target.ListTasks())
	assert.Equal(t, persistence.RecoveryDegradedFallback, rep.Outcome)
	assert.True(t, rep.ResyncRequested)

	h := health.Snapshot()
	assert.Equal(t, persistence.StateDegraded, h.State)
	assert.True(t, h.Degraded)
	assert.Equal(t, persistence.RecoveryDegradedFallback, h.LastRecoveryOutcome)
	require.NotNil(t, h.LastError)
	assert.Equal(t, persistence.CodeStartupLoadFailure, h.LastError.Code)
	assert.Contains(t, h.LastError.Message, "integrity mismatch")

	assert.FileExists(t, filepath.Join(root, topic, "quarantine", ReasonCorrupt+"-"+only))
}

func TestRecover_StrictWithoutManifestFails(t *testing.T) {
	b, _ := openStore(t)
	put(t, b, 1000, encode(t, newList(t, 1, "A")))

	health := persistence.NewHealthTracker(persistence.ModeStrict)
	resyncs := 0
	target := newList(t, 2)
	rep, err := Recover(context.Background(), target, Options{
		Enabled: true,
		Mode:    persistence.ModeStrict,
		Backend: b,
		Health:  health,
		Resyncer: ResyncFunc(func(context.Context, string, uint64) error {
			resyncs++
			return nil
		}),
	})
	require.Error(t, err)
	assert.True(t, persistence.IsKind(err, persistence.KindStrictInitializationFailure))
	assert.True(t, errors.Is(err, persistence.ErrManifestMissing))
	assert.Equal(t, persistence.RecoveryStrictInitFailure, rep.Outcome)
	assert.Zero(t, resyncs)
	assert.Empty(t, target.ListTasks())

	h := health.Snapshot()
	assert.Equal(t, persistence.StateFailed, h.State)
	assert.Equal(t, persistence.CodeStrictInitializationFailure, h.LastError.Code)
}

func TestRecover_StrictFirstRunInitializes(t *testing.T) {
	b, _ := openStore(t)
	rep, err := Recover(context.Background(), newList(t, 2), Options{
		Enabled:             true,
		Mode:                persistence.ModeStrict,
		Backend:             b,
		InitializeIfMissing: true,
		StoreID:             persistence.StoreID("alice", "store"),
	})
	require.NoError(t, err)
	assert.True(t, rep.ManifestCreated)
	assert.Equal(t, persistence.RecoveryEmptyStore, rep.Outcome)

	m, err := b.ReadManifest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, persistence.StoreID("alice", "store"), m.StoreID)
}

func TestRecover_StrictCorruptSnapshotFails(t *testing.T) {
	b, _ := openStore(t)
	require.NoError(t, b.WriteManifest(context.Background(), persistence.NewManifest("store-1")))
	put(t, b, 1000, encode(t, newList(t, 1, "A")))
	bad := put(t, b, 2000, []byte("{}"))

	rep, err := Recover(context.Background(), newList(t, 2), Options{
		Enabled: true,
		Mode:    persistence.ModeStrict,
		Backend: b,
	})
	require.Error(t, err)
	assert.True(t, persistence.IsKind(err, persistence.KindFormatFailure))
	assert.Equal(t, []string{bad}, rep.Quarantined, "corrupt snapshot is quarantined even when startup fails")
}

func TestRecover_LegacyArtifact(t *testing.T) {
	t.Run("degraded skips with a typed signal", func(t *testing.T) {
		b, root := openStore(t)
		legacy := put(t, b, 1000, []byte(legacyArtifact))
		health := persistence.NewHealthTracker(persistence.ModeDegraded)

		rep, err := Recover(context.Background(), newList(t, 2), Options{
			Enabled: true,
			Mode:    persistence.ModeDegraded,
			Backend: b,
			Health:  health,
		})
		require.NoError(t, err)
		assert.Equal(t, persistence.RecoveryUnsupportedLegacy, rep.Outcome)
		require.Len(t, rep.Skipped, 1)
		assert.Equal(t, persistence.KindDegradedSkippedLegacyArtifact, rep.Skipped[0].Kind)
		assert.Empty(t, rep.Quarantined)
		assert.FileExists(t, filepath.Join(root, topic, legacy), "legacy artifacts are left in place")

		h := health.Snapshot()
		assert.Equal(t, persistence.CodeUnsupportedLegacyArtifact, h.LastError.Code)
		assert.Contains(t, h.LastError.Remediation, "plaintext snapshot format")
	})

	t.Run("degraded loads an older valid snapshot", func(t *testing.T) {
		b, _ := openStore(t)
		put(t, b, 1000, encode(t, newList(t, 1, "A")))
		put(t, b, 2000, []byte(legacyArtifact))

		target := newList(t, 2)
		rep, err := Recover(context.Background(), target, Options{
			Enabled: true,
			Mode:    persistence.ModeDegraded,
			Backend: b,
		})
		require.NoError(t, err)
		assert.Equal(t, persistence.RecoveryLoadedSnapshot, rep.Outcome)
		assert.Equal(t, []string{"A"}, titles(target))
		require.Len(t, rep.Skipped, 1)
		assert.Equal(t, persistence.KindDegradedSkippedLegacyArtifact, rep.Skipped[0].Kind)
	})

	t.Run("strict fails", func(t *testing.T) {
		b, _ := openStore(t)
		require.NoError(t, b.WriteManifest(context.Background(), persistence.NewManifest("store-1")))
		put(t, b, 1000, []byte(legacyArtifact))
		health := persistence.NewHealthTracker(persistence.ModeStrict)

		_, err := Recover(context.Background(), newList(t, 2), Options{
			Enabled: true,
			Mode:    persistence.ModeStrict,
			Backend: b,
			Health:  health,
		})
		require.Error(t, err)
		assert.True(t, persistence.IsKind(err, persistence.KindUnsupportedLegacyArtifact))
		assert.Equal(t, persistence.CodeUnsupportedLegacyArtifact, health.Snapshot().LastError.Code)
	})
}

func TestRecover_MixedFailuresReportFallback(t *testing.T) {
	b, _ := openStore(t)
	put(t, b, 1000, []byte("garbage"))
	put(t, b, 2000, []byte(legacyArtifact))

	rep, err := Recover(context.Background(), newList(t, 2), Options{
		Enabled: true,
		Mode:    persistence.ModeDegraded,
		Backend: b,
	})
	require.NoError(t, err)
	assert.Equal(t, persistence.RecoveryDegradedFallback, rep.Outcome)
	assert.Len(t, rep.Skipped, 2)
}

func TestRecover_TopicMismatchIsQuarantined(t *testing.T) {
	b, root := openStore(t)
	other, err := engine.NewTaskList("elsewhere", "alice", engine.WithIDGenerator(engine.NewSequentialIDs(1)))
	require.NoError(t, err)
	_, err = other.AddTask("stray", "")
	require.NoError(t, err)
	name := put(t, b, 1000, encode(t, other))

	target := newList(t, 2)
	rep, err := Recover(context.Background(), target, Options{
		Enabled: true,
		Mode:    persistence.ModeDegraded,
		Backend: b,
	})
	require.NoError(t, err)
	assert.Equal(t, persistence.RecoveryDegradedFallback, rep.Outcome)
	assert.Empty(t, target.ListTasks())
	assert.FileExists(t, filepath.Join(root, topic, "quarantine", ReasonTopicMismatch+"-"+name))
}

func TestRecover_MalformedNamesAreReportedNotLoaded(t *testing.T) {
	b, root := openStore(t)
	put(t, b, 1000, encode(t, newList(t, 1, "A")))
	require.NoError(t, os.WriteFile(filepath.Join(root, topic, "backup.snapshot"), []byte("x"), 0o644))

	rep, err := Recover(context.Background(), newList(t, 2), Options{
		Enabled: true,
		Mode:    persistence.ModeDegraded,
		Backend: b,
	})
	require.NoError(t, err)
	assert.Equal(t, persistence.RecoveryLoadedSnapshot, rep.Outcome)
	assert.Equal(t, []string{"backup.snapshot"}, rep.Malformed)
}

func TestRecover_ResyncFailureIsNotFatal(t *testing.T) {
	b, _ := openStore(t)
	rep, err := Recover(context.Background(), newList(t, 2), Options{
		Enabled: true,
		Mode:    persistence.ModeDegraded,
		Backend: b,
		Resyncer: ResyncFunc(func(context.Context, string, uint64) error {
			return errors.New("no peers reachable")
		}),
	})
	require.NoError(t, err)
	assert.Equal(t, persistence.RecoveryEmptyStore, rep.Outcome)
	assert.False(t, rep.ResyncRequested)
}

func TestRecover_PreviousSchemaMigrates(t *testing.T) {
	b, _ := openStore(t)
	source := newList(t, 1, "A")
	state, _ := source.Snapshot()
	data, err := persistence.EncodeSnapshotVersion(topic, state, persistence.PreviousSchemaVersion)
	require.NoError(t, err)
	put(t, b, 1000, data)

	rep, err := Recover(context.Background(), newList(t, 2), Options{
		Enabled: true,
		Mode:    persistence.ModeDegraded,
		Backend: b,
	})
	require.NoError(t, err)
	assert.Equal(t, persistence.MigrationFromPrevious, rep.Migration)
	assert.Equal(t, persistence.PreviousSchemaVersion, rep.SchemaVersion)
}

func TestRecover_ReadOnlyLeavesStoreUntouched(t *testing.T) {
	b, root := openStore(t)
	put(t, b, 1000, encode(t, newList(t, 1, "A")))
	bad := put(t, b, 2000, []byte("not an envelope"))

	resyncs := 0
	target := newList(t, 2)
	rep, err := Recover(context.Background(), target, Options{
		Enabled:  true,
		Mode:     persistence.ModeDegraded,
		ReadOnly: true,
		Backend:  b,
		Resyncer: ResyncFunc(func(context.Context, string, uint64) error {
			resyncs++
			return nil
		}),
	})
	require.NoError(t, err)
	assert.Equal(t, persistence.RecoveryLoadedSnapshot, rep.Outcome)
	require.Len(t, rep.Skipped, 1)
	assert.Empty(t, rep.Quarantined)
	assert.False(t, rep.ResyncRequested)
	assert.Zero(t, resyncs)
	assert.FileExists(t, filepath.Join(root, topic, bad))
	assert.Equal(t, []string{"A"}, titles(target))
}

func TestRecover_ReadOnlyStrictDoesNotCreateManifest(t *testing.T) {
	b, _ := openStore(t)
	_, err := Recover(context.Background(), newList(t, 2), Options{
		Enabled:             true,
		Mode:                persistence.ModeStrict,
		ReadOnly:            true,
		InitializeIfMissing: true,
		StoreID:             persistence.StoreID("local", "file:test"),
		Backend:             b,
	})
	require.Error(t, err)
	assert.Equal(t, persistence.KindStrictInitializationFailure, persistence.KindOf(err))

	_, err = b.ReadManifest(context.Background())
	assert.ErrorIs(t, err, persistence.ErrManifestMissing)
}
