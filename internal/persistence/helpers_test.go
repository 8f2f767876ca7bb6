package persistence

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/tasksync/internal/engine"
)

const testTopic = "team"

func newTestList(t *testing.T, titles ...string) *engine.TaskList {
	t.Helper()
	l, err := engine.NewTaskList(testTopic, "alice", engine.WithIDGenerator(engine.NewSequentialIDs(1)))
	require.NoError(t, err)
	for _, title := range titles {
		_, err := l.AddTask(title, "")
		require.NoError(t, err)
	}
	return l
}

type backendCase struct {
	name string
	open func(t *testing.T) Backend
}

func openFile(t *testing.T) Backend {
	t.Helper()
	b, err := OpenFileBackend(t.TempDir())
	require.NoError(t, err)
	return b
}

func openSQLite(t *testing.T) Backend {
	t.Helper()
	b, err := OpenSQLiteBackend(filepath.Join(t.TempDir(), "snapshots.db"))
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })
	return b
}

func allBackends() []backendCase {
	return []backendCase{
		{"file", openFile},
		{"sqlite", openSQLite},
	}
}

// failingBackend fails every snapshot write.
type failingBackend struct {
	Backend
	err error
}

func (b failingBackend) WriteSnapshot(context.Context, string, string, []byte) error {
	return newError(KindStorageFailure, "write snapshot", testTopic, "", b.err)
}

// blockingBackend parks snapshot writes until release is closed.
type blockingBackend struct {
	Backend
	entered chan struct{}
	release chan struct{}
	writes  atomic.Int32
}

func newBlockingBackend(inner Backend) *blockingBackend {
	return &blockingBackend{
		Backend: inner,
		entered: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
}

func (b *blockingBackend) WriteSnapshot(ctx context.Context, topic, name string, data []byte) error {
	b.writes.Add(1)
	select {
	case b.entered <- struct{}{}:
	default:
	}
	<-b.release
	return b.Backend.WriteSnapshot(ctx, topic, name, data)
}
