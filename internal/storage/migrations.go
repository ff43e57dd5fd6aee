package storage

import (
	"context"
	"database/sql"
	"fmt"
	"slices"

	"github.com/Masterminds/semver/v3"
)

// CurrentSchemaVersion is the version of the newest migration
const CurrentSchemaVersion = "1.0.0"

// Migration is one versioned schema change with its inverse
type Migration struct {
	Version string
	Up      string
	Down    string
}

// AllMigrations lists every migration in ascending version order
var AllMigrations = []Migration{
	{
		Version: "1.0.0",
		Up:      migrationV1Up,
		Down:    migrationV1Down,
	},
}

const migrationV1Up = `
-- Repositories table. Times are unix nanoseconds (UTC).
CREATE TABLE IF NOT EXISTS repositories (
    repo_id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    url TEXT NOT NULL,
    last_processed_commit TEXT NOT NULL DEFAULT '',
    last_processed_commit_ts INTEGER NOT NULL DEFAULT 0,
    total_files INTEGER NOT NULL DEFAULT 0,
    processed_files INTEGER NOT NULL DEFAULT 0,
    status TEXT NOT NULL,
    last_error TEXT NOT NULL DEFAULT '',
    last_updated INTEGER NOT NULL,
    created_at INTEGER NOT NULL,
    CHECK (processed_files >= 0 AND processed_files <= total_files)
);

CREATE INDEX IF NOT EXISTS idx_repositories_status ON repositories(status);

-- File index records, one per (repo_id, file_path)
CREATE TABLE IF NOT EXISTS file_indexes (
    repo_id TEXT NOT NULL,
    file_path TEXT NOT NULL,
    content_hash TEXT NOT NULL,
    last_commit_sha TEXT NOT NULL,
    last_commit_ts INTEGER NOT NULL,
    language TEXT NOT NULL DEFAULT '',
    exports BLOB,
    imports BLOB,
    parse_errors TEXT NOT NULL DEFAULT '[]',
    ever_counted BOOLEAN NOT NULL DEFAULT 0,
    updated_at INTEGER NOT NULL,
    PRIMARY KEY (repo_id, file_path),
    FOREIGN KEY (repo_id) REFERENCES repositories(repo_id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_file_indexes_hash ON file_indexes(content_hash);
CREATE INDEX IF NOT EXISTS idx_file_indexes_language ON file_indexes(repo_id, language);

-- Ephemeral file locks keyed by repo_id:file_path
CREATE TABLE IF NOT EXISTS file_locks (
    lock_key TEXT PRIMARY KEY,
    holder_token TEXT NOT NULL,
    generation INTEGER NOT NULL DEFAULT 1,
    acquired_at INTEGER NOT NULL,
    expires_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_file_locks_expires ON file_locks(expires_at);
`

const migrationV1Down = `
DROP TABLE IF EXISTS file_locks;
DROP TABLE IF EXISTS file_indexes;
DROP TABLE IF EXISTS repositories;
`

const createVersionTable = `CREATE TABLE IF NOT EXISTS schema_version (
    version TEXT PRIMARY KEY,
    applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
)`

// ApplyMigrations brings the schema up to CurrentSchemaVersion. Each
// migration runs in its own transaction together with its version row.
func ApplyMigrations(ctx context.Context, db *sql.DB) error {
	current, err := schemaVersion(ctx, db)
	if err != nil {
		return err
	}

	for _, m := range AllMigrations {
		v, err := semver.NewVersion(m.Version)
		if err != nil {
			return fmt.Errorf("invalid migration version %s: %w", m.Version, err)
		}
		if !current.LessThan(v) {
			continue
		}
		err = inTx(ctx, db, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, m.Up); err != nil {
				return err
			}
			_, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", m.Version)
			return err
		})
		if err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", m.Version, err)
		}
		current = v
	}
	return nil
}

// RollbackMigration reverts the newest applied migration
func RollbackMigration(ctx context.Context, db *sql.DB) error {
	current, err := schemaVersion(ctx, db)
	if err != nil {
		return err
	}
	if current.Equal(semver.MustParse("0.0.0")) {
		return fmt.Errorf("no migrations to rollback")
	}

	idx := slices.IndexFunc(AllMigrations, func(m Migration) bool {
		v, err := semver.NewVersion(m.Version)
		return err == nil && v.Equal(current)
	})
	if idx < 0 {
		return fmt.Errorf("migration %s not found", current)
	}
	m := AllMigrations[idx]

	err = inTx(ctx, db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, m.Down); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, "DELETE FROM schema_version WHERE version = ?", m.Version)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to rollback migration %s: %w", m.Version, err)
	}
	return nil
}

// schemaVersion returns the highest recorded version, 0.0.0 on a fresh
// database. Versions are compared as semver, not by apply time.
func schemaVersion(ctx context.Context, db *sql.DB) (*semver.Version, error) {
	if _, err := db.ExecContext(ctx, createVersionTable); err != nil {
		return nil, fmt.Errorf("failed to create schema_version table: %w", err)
	}

	rows, err := db.QueryContext(ctx, "SELECT version FROM schema_version")
	if err != nil {
		return nil, fmt.Errorf("failed to read schema_version: %w", err)
	}
	defer func() { _ = rows.Close() }()

	current := semver.MustParse("0.0.0")
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		v, err := semver.NewVersion(s)
		if err != nil {
			return nil, fmt.Errorf("invalid schema version %q: %w", s, err)
		}
		if v.GreaterThan(current) {
			current = v
		}
	}
	return current, rows.Err()
}

func inTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
