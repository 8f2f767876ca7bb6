package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tasksync/internal/persistence"
)

func TestHealthStrictLifecycle(t *testing.T) {
	dir := t.TempDir()
	cfg := writeConfig(t, dir, "  mode: strict\n")

	out, _, err := execute(t, "--config", cfg, "--format", "json", "health", "--topic", "team")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var failed HealthResult
	decode(t, out, &failed)
	assert.Equal(t, persistence.ModeStrict, failed.Health.Mode)
	assert.Equal(t, persistence.StateFailed, failed.Health.State)
	require.NotNil(t, failed.Health.LastError)
	assert.Equal(t, persistence.CodeStrictInitializationFailure, failed.Health.LastError.Code)
	assert.NotEmpty(t, failed.Health.LastError.Remediation)
	assert.Equal(t, persistence.RecoveryStrictInitFailure, failed.Recovery.Outcome)

	_, _, err = execute(t, "--config", cfg, "init")
	require.NoError(t, err)

	out, _, err = execute(t, "--config", cfg, "--format", "json", "health", "--topic", "team")
	require.NoError(t, err)
	var ready HealthResult
	decode(t, out, &ready)
	assert.Equal(t, persistence.StateReady, ready.Health.State)
	assert.Nil(t, ready.Health.LastError)
	assert.Equal(t, persistence.RecoveryEmptyStore, ready.Recovery.Outcome)
}

func TestHealthDegradedFallback(t *testing.T) {
	dir := t.TempDir()
	only := seedRaw(t, dir, "team", 1000, []byte("not an envelope"))

	out, _, err := execute(t, "--dir", dir, "--format", "json", "health", "--topic", "team")
	require.NoError(t, err)

	var result HealthResult
	decode(t, out, &result)
	assert.Equal(t, persistence.StateDegraded, result.Health.State)
	assert.True(t, result.Health.Degraded)
	assert.Equal(t, persistence.RecoveryDegradedFallback, result.Recovery.Outcome)
	assert.Equal(t, []string{only}, result.Recovery.Quarantined)
	assert.NoFileExists(t, snapshotPath(dir, "team", only))
}

func TestHealthReportsFrequencyAndBounds(t *testing.T) {
	cfg := writeConfig(t, t.TempDir(), `  checkpoint:
    mutation_threshold: 16
  host_policy:
    allow_runtime_checkpoint_frequency_adjustment: true
    min_mutation_threshold: 4
    max_mutation_threshold: 64
`)

	out, _, err := execute(t, "--config", cfg, "health", "--topic", "team")
	require.NoError(t, err)
	assert.Contains(t, out, "mode: degraded\n")
	assert.Contains(t, out, "state: ready\n")
	assert.Contains(t, out, "budget: normal\n")
	assert.Contains(t, out, "checkpoint: threshold=16 dirty=300s debounce=2s\n")
	assert.Contains(t, out, "adjustable: threshold=4..64 dirty=300..300s debounce=2..2s")
}

func TestHealthNotAdjustable(t *testing.T) {
	out, _, err := execute(t, "--dir", t.TempDir(), "health", "--topic", "team")
	require.NoError(t, err)
	assert.Contains(t, out, "adjustable: no")
}
