package persistence

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"
)

//go:embed sqlite_schema.sql
var sqliteSchema string

// Schema version tracking:
// 0 - Initial schema
// 1 - Index on quarantine(topic) for per-topic inspection
const currentSQLiteSchemaVersion = 1

// SQLiteBackend stores snapshots as rows of a single SQLite database.
// Uses WAL mode so inspection tools can read while the agent writes.
type SQLiteBackend struct {
	db *sql.DB
}

// OpenSQLiteBackend creates or opens the database at path.
// Applies required pragmas and migrations automatically.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - FULL synchronous mode (a committed snapshot survives power loss)
//   - 5-second busy timeout for lock contention
//
// This function is idempotent - safe to call multiple times.
func OpenSQLiteBackend(path string) (*SQLiteBackend, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, newError(KindStorageFailure, "open database", "", "", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, newError(KindStorageFailure, "connect to database", "", "", err)
	}

	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applySQLitePragmas(db); err != nil {
		db.Close()
		return nil, newError(KindStorageFailure, "apply pragmas", "", "", err)
	}
	if err := applySQLiteSchema(db); err != nil {
		db.Close()
		return nil, newError(KindStorageFailure, "apply schema", "", "", err)
	}
	return &SQLiteBackend{db: db}, nil
}

func applySQLitePragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = FULL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %q: %w", pragma, err)
		}
	}
	return nil
}

func applySQLiteSchema(db *sql.DB) error {
	if _, err := db.Exec(sqliteSchema); err != nil {
		return fmt.Errorf("execute schema: %w", err)
	}
	return runSQLiteMigrations(db)
}

// runSQLiteMigrations applies incremental migrations based on user_version.
func runSQLiteMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version < 1 {
		if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_quarantine_topic ON quarantine(topic)`); err != nil {
			return fmt.Errorf("migrate to v1: %w", err)
		}
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSQLiteSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

func (b *SQLiteBackend) Name() string {
	return "sqlite"
}

func (b *SQLiteBackend) WriteSnapshot(ctx context.Context, topic, name string, data []byte) error {
	if err := ValidateTopic(topic); err != nil {
		return err
	}
	if _, ok := ParseSnapshotName(name); !ok {
		return fmt.Errorf("write snapshot: malformed name %q", name)
	}
	_, err := b.db.ExecContext(ctx,
		`INSERT INTO snapshots (topic, name, data, written_at) VALUES (?, ?, ?, ?)`,
		topic, name, data, time.Now().UnixMilli())
	if isUniqueViolation(err) {
		err = ErrSnapshotExists
	}
	if err != nil {
		return newError(KindStorageFailure, "write snapshot", topic, name, err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) && se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}

func (b *SQLiteBackend) ReadSnapshot(ctx context.Context, topic, name string) ([]byte, error) {
	if err := ValidateTopic(topic); err != nil {
		return nil, err
	}
	var data []byte
	err := b.db.QueryRowContext(ctx,
		`SELECT data FROM snapshots WHERE topic = ? AND name = ?`, topic, name).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		err = ErrSnapshotNotFound
	}
	if err != nil {
		return nil, newError(KindStorageFailure, "read snapshot", topic, name, err)
	}
	return data, nil
}

func (b *SQLiteBackend) ListSnapshots(ctx context.Context, topic string) (Listing, error) {
	if err := ValidateTopic(topic); err != nil {
		return Listing{}, err
	}
	rows, err := b.db.QueryContext(ctx,
		`SELECT name, length(data) FROM snapshots WHERE topic = ? ORDER BY name ASC`, topic)
	if err != nil {
		return Listing{}, newError(KindStorageFailure, "list snapshots", topic, "", err)
	}
	defer rows.Close()

	var snapshots []SnapshotInfo
	var malformed []string
	for rows.Next() {
		var name string
		var size int64
		if err := rows.Scan(&name, &size); err != nil {
			return Listing{}, newError(KindStorageFailure, "list snapshots", topic, "", err)
		}
		millis, ok := ParseSnapshotName(name)
		if !ok {
			malformed = append(malformed, name)
			continue
		}
		snapshots = append(snapshots, SnapshotInfo{Name: name, Millis: millis, Size: size})
	}
	if err := rows.Err(); err != nil {
		return Listing{}, newError(KindStorageFailure, "list snapshots", topic, "", err)
	}
	return newListing(snapshots, malformed), nil
}

func (b *SQLiteBackend) RemoveSnapshot(ctx context.Context, topic, name string) error {
	if err := ValidateTopic(topic); err != nil {
		return err
	}
	if _, ok := ParseSnapshotName(name); !ok {
		return fmt.Errorf("remove snapshot: malformed name %q", name)
	}
	if _, err := b.db.ExecContext(ctx,
		`DELETE FROM snapshots WHERE topic = ? AND name = ?`, topic, name); err != nil {
		return newError(KindStorageFailure, "remove snapshot", topic, name, err)
	}
	return nil
}

func (b *SQLiteBackend) Quarantine(ctx context.Context, topic, name, reason string) error {
	if err := ValidateTopic(topic); err != nil {
		return err
	}
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return newError(KindStorageFailure, "quarantine snapshot", topic, name, err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO quarantine (topic, name, reason, data, quarantined_at)
		 SELECT topic, name, ?, data, ? FROM snapshots WHERE topic = ? AND name = ?`,
		reason, time.Now().UnixMilli(), topic, name)
	if err != nil {
		return newError(KindStorageFailure, "quarantine snapshot", topic, name, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return newError(KindStorageFailure, "quarantine snapshot", topic, name, ErrSnapshotNotFound)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM snapshots WHERE topic = ? AND name = ?`, topic, name); err != nil {
		return newError(KindStorageFailure, "quarantine snapshot", topic, name, err)
	}
	if err := tx.Commit(); err != nil {
		return newError(KindStorageFailure, "quarantine snapshot", topic, name, err)
	}
	return nil
}

func (b *SQLiteBackend) Topics(ctx context.Context) ([]string, error) {
	rows, err := b.db.QueryContext(ctx,
		`SELECT topic FROM snapshots UNION SELECT topic FROM quarantine ORDER BY topic ASC`)
	if err != nil {
		return nil, newError(KindStorageFailure, "list topics", "", "", err)
	}
	defer rows.Close()

	var topics []string
	for rows.Next() {
		var topic string
		if err := rows.Scan(&topic); err != nil {
			return nil, newError(KindStorageFailure, "list topics", "", "", err)
		}
		topics = append(topics, topic)
	}
	if err := rows.Err(); err != nil {
		return nil, newError(KindStorageFailure, "list topics", "", "", err)
	}
	return topics, nil
}

// RemoveEmptyTopics is a no-op: a topic exists only through its rows.
func (b *SQLiteBackend) RemoveEmptyTopics(ctx context.Context) (int, error) {
	return 0, nil
}

func (b *SQLiteBackend) Usage(ctx context.Context) (int64, error) {
	var total int64
	err := b.db.QueryRowContext(ctx, `
		SELECT COALESCE((SELECT SUM(length(data)) FROM snapshots), 0)
		     + COALESCE((SELECT SUM(length(data)) FROM quarantine), 0)`).Scan(&total)
	if err != nil {
		return 0, newError(KindStorageFailure, "measure usage", "", "", err)
	}
	return total, nil
}

func (b *SQLiteBackend) ReadManifest(ctx context.Context) (Manifest, error) {
	var body string
	err := b.db.QueryRowContext(ctx, `SELECT body FROM manifest WHERE id = 1`).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return Manifest{}, ErrManifestMissing
	}
	if err != nil {
		return Manifest{}, newError(KindStorageFailure, "read manifest", "", "", err)
	}
	m, err := decodeManifest([]byte(body))
	if err != nil {
		return Manifest{}, newError(KindFormatFailure, "read manifest", "", "", err)
	}
	return m, nil
}

func (b *SQLiteBackend) WriteManifest(ctx context.Context, m Manifest) error {
	if err := m.Validate(); err != nil {
		return err
	}
	data, err := encodeManifest(m)
	if err != nil {
		return err
	}
	if _, err := b.db.ExecContext(ctx,
		`INSERT INTO manifest (id, body) VALUES (1, ?)
		 ON CONFLICT(id) DO UPDATE SET body = excluded.body`, string(data)); err != nil {
		return newError(KindStorageFailure, "write manifest", "", "", err)
	}
	return nil
}

// Close closes the database connection.
func (b *SQLiteBackend) Close() error {
	if b.db == nil {
		return nil
	}
	return b.db.Close()
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (b *SQLiteBackend) verifyPragma(name, expected string) error {
	var value string
	if err := b.db.QueryRow(fmt.Sprintf("PRAGMA %s", name)).Scan(&value); err != nil {
		return fmt.Errorf("query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
