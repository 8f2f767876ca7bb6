package cli

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/tasksync/internal/engine"
	"github.com/roach88/tasksync/internal/persistence"
)

const legacyArtifact = `{"ciphertext":"q83vEjRWeJA=","nonce":"AAECAwQFBgcICQoL","key_id":"group-key-1"}`

// seedSnapshot writes a valid snapshot of a list holding titles.
func seedSnapshot(t *testing.T, dir, topic string, millis int64, titles ...string) string {
	t.Helper()
	list, err := engine.NewTaskList(topic, "seed")
	require.NoError(t, err)
	for _, title := range titles {
		_, err := list.AddTask(title, "")
		require.NoError(t, err)
	}
	state, _ := list.Snapshot()
	data, err := persistence.EncodeSnapshot(topic, state)
	require.NoError(t, err)
	return seedRaw(t, dir, topic, millis, data)
}

// seedRaw writes data under the snapshot name for millis.
func seedRaw(t *testing.T, dir, topic string, millis int64, data []byte) string {
	t.Helper()
	b, err := persistence.OpenFileBackend(dir)
	require.NoError(t, err)
	defer b.Close()
	name := persistence.SnapshotName(millis)
	require.NoError(t, b.WriteSnapshot(context.Background(), topic, name, data))
	return name
}

func snapshotPath(dir, topic, name string) string {
	return filepath.Join(dir, topic, name)
}

func writeFile(t *testing.T, path, data string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))
}

func readFile(t *testing.T, path string) []byte {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return data
}

func readManifest(t *testing.T, dir string) (persistence.Manifest, error) {
	t.Helper()
	b, err := persistence.OpenFileBackend(dir)
	require.NoError(t, err)
	defer b.Close()
	return b.ReadManifest(context.Background())
}

// appendTopics adds a topics list to the config file at path.
func appendTopics(t *testing.T, path string, topics ...string) string {
	t.Helper()
	doc := string(readFile(t, path)) + "topics: [" + strings.Join(topics, ", ") + "]\n"
	writeFile(t, path, doc)
	return path
}
