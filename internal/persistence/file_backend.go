package persistence

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

const quarantineDir = "quarantine"

// FileBackend stores each topic in its own directory under root:
//
//	root/store.manifest.json
//	root/<topic>/<millis>.snapshot
//	root/<topic>/quarantine/<reason>-<millis>.snapshot
type FileBackend struct {
	root string
}

// OpenFileBackend creates root if needed and returns a backend over it.
func OpenFileBackend(root string) (*FileBackend, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, newError(KindStorageFailure, "open store", "", "", err)
	}
	return &FileBackend{root: root}, nil
}

// Root returns the store directory.
func (b *FileBackend) Root() string {
	return b.root
}

func (b *FileBackend) Name() string {
	return "file"
}

func (b *FileBackend) topicDir(topic string) (string, error) {
	if err := ValidateTopic(topic); err != nil {
		return "", err
	}
	return filepath.Join(b.root, topic), nil
}

func (b *FileBackend) WriteSnapshot(ctx context.Context, topic, name string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, ok := ParseSnapshotName(name); !ok {
		return fmt.Errorf("write snapshot: malformed name %q", name)
	}
	dir, err := b.topicDir(topic)
	if err != nil {
		return err
	}
	path := filepath.Join(dir, name)
	if _, err := os.Lstat(path); err == nil {
		return newError(KindStorageFailure, "write snapshot", topic, name, ErrSnapshotExists)
	}
	if err := writeFileAtomicDurable(path, data, 0o644); err != nil {
		return newError(KindStorageFailure, "write snapshot", topic, name, err)
	}
	return nil
}

func (b *FileBackend) ReadSnapshot(ctx context.Context, topic, name string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, ok := ParseSnapshotName(name); !ok {
		return nil, fmt.Errorf("read snapshot: malformed name %q", name)
	}
	dir, err := b.topicDir(topic)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(dir, name))
	if errors.Is(err, fs.ErrNotExist) {
		err = ErrSnapshotNotFound
	}
	if err != nil {
		return nil, newError(KindStorageFailure, "read snapshot", topic, name, err)
	}
	return data, nil
}

func (b *FileBackend) ListSnapshots(ctx context.Context, topic string) (Listing, error) {
	if err := ctx.Err(); err != nil {
		return Listing{}, err
	}
	dir, err := b.topicDir(topic)
	if err != nil {
		return Listing{}, err
	}
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return Listing{}, nil
	}
	if err != nil {
		return Listing{}, newError(KindStorageFailure, "list snapshots", topic, "", err)
	}

	var snapshots []SnapshotInfo
	var malformed []string
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		millis, ok := ParseSnapshotName(e.Name())
		if !ok {
			malformed = append(malformed, e.Name())
			continue
		}
		info, err := e.Info()
		if err != nil {
			// Removed between ReadDir and Info.
			continue
		}
		snapshots = append(snapshots, SnapshotInfo{Name: e.Name(), Millis: millis, Size: info.Size()})
	}
	return newListing(snapshots, malformed), nil
}

func (b *FileBackend) RemoveSnapshot(ctx context.Context, topic, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, ok := ParseSnapshotName(name); !ok {
		return fmt.Errorf("remove snapshot: malformed name %q", name)
	}
	dir, err := b.topicDir(topic)
	if err != nil {
		return err
	}
	if err := os.Remove(filepath.Join(dir, name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return newError(KindStorageFailure, "remove snapshot", topic, name, err)
	}
	return fsyncDir(dir)
}

func (b *FileBackend) Quarantine(ctx context.Context, topic, name, reason string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, ok := ParseSnapshotName(name); !ok {
		return fmt.Errorf("quarantine snapshot: malformed name %q", name)
	}
	dir, err := b.topicDir(topic)
	if err != nil {
		return err
	}
	qdir := filepath.Join(dir, quarantineDir)
	if err := os.MkdirAll(qdir, 0o755); err != nil {
		return newError(KindStorageFailure, "quarantine snapshot", topic, name, err)
	}
	dst := filepath.Join(qdir, reason+"-"+name)
	if err := os.Rename(filepath.Join(dir, name), dst); err != nil {
		return newError(KindStorageFailure, "quarantine snapshot", topic, name, err)
	}
	if err := fsyncDir(qdir); err != nil {
		return newError(KindStorageFailure, "quarantine snapshot", topic, name, err)
	}
	return fsyncDir(dir)
}

func (b *FileBackend) Topics(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(b.root)
	if err != nil {
		return nil, newError(KindStorageFailure, "list topics", "", "", err)
	}
	var topics []string
	for _, e := range entries {
		if e.IsDir() && ValidateTopic(e.Name()) == nil {
			topics = append(topics, e.Name())
		}
	}
	return topics, nil
}

func (b *FileBackend) RemoveEmptyTopics(ctx context.Context) (int, error) {
	topics, err := b.Topics(ctx)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, topic := range topics {
		dir := filepath.Join(b.root, topic)
		entries, err := os.ReadDir(dir)
		if err != nil || len(entries) > 0 {
			continue
		}
		// os.Remove refuses non-empty directories, so a snapshot written
		// since ReadDir is never lost.
		if err := os.Remove(dir); err == nil {
			removed++
		}
	}
	if removed > 0 {
		if err := fsyncDir(b.root); err != nil {
			return removed, newError(KindStorageFailure, "remove empty topics", "", "", err)
		}
	}
	return removed, nil
}

func (b *FileBackend) Usage(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	var total int64
	err := filepath.WalkDir(b.root, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		total += info.Size()
		return nil
	})
	if err != nil {
		return 0, newError(KindStorageFailure, "measure usage", "", "", err)
	}
	return total, nil
}

func (b *FileBackend) ReadManifest(ctx context.Context) (Manifest, error) {
	if err := ctx.Err(); err != nil {
		return Manifest{}, err
	}
	data, err := os.ReadFile(filepath.Join(b.root, ManifestFile))
	if errors.Is(err, fs.ErrNotExist) {
		return Manifest{}, ErrManifestMissing
	}
	if err != nil {
		return Manifest{}, newError(KindStorageFailure, "read manifest", "", "", err)
	}
	m, err := decodeManifest(data)
	if err != nil {
		return Manifest{}, newError(KindFormatFailure, "read manifest", "", "", err)
	}
	return m, nil
}

func (b *FileBackend) WriteManifest(ctx context.Context, m Manifest) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := m.Validate(); err != nil {
		return err
	}
	data, err := encodeManifest(m)
	if err != nil {
		return err
	}
	if err := writeFileAtomicDurable(filepath.Join(b.root, ManifestFile), data, 0o644); err != nil {
		return newError(KindStorageFailure, "write manifest", "", "", err)
	}
	return nil
}

func (b *FileBackend) Close() error {
	return nil
}

// writeFileAtomicDurable writes data to a temp file in the target
// directory, fsyncs it, renames it into place and fsyncs the directory.
// Temp names end in ".tmp.*" so they never parse as snapshots.
func writeFileAtomicDurable(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	base := filepath.Base(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, base+".tmp.*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		_ = tmp.Close()
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := io.Copy(tmp, bytes.NewReader(data)); err != nil {
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	committed = true
	return fsyncDir(dir)
}

func fsyncDir(dir string) error {
	f, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}
