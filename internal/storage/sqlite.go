package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dshills/repoindex/pkg/types"
)

var (
	// ErrNotFound is returned when a requested entity doesn't exist
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists is returned when trying to create a duplicate entity
	ErrAlreadyExists = errors.New("already exists")
)

// SQLiteStorage implements the Storage interface using SQLite
type SQLiteStorage struct {
	db *sql.DB
}

// openDatabase opens a SQLite database with appropriate settings
func openDatabase(dbPath string) (*sql.DB, error) {
	db, err := sql.Open(DriverName, dbPath)
	if err != nil {
		return nil, err
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// SQLite benefits from single writer. Every transaction and statement
	// is serialized through this one connection, which also keeps an
	// in-memory database alive across calls.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	// A job child process may share the file with the server
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	return db, nil
}

// NewSQLiteStorage creates a new SQLite storage instance
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	db, err := openDatabase(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Apply migrations
	if err := ApplyMigrations(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// BeginTx starts a new transaction
func (s *SQLiteStorage) BeginTx(ctx context.Context) (Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &sqliteTx{tx: tx, storage: s}, nil
}

// querier is an interface that both *sql.DB and *sql.Tx implement
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// rowScanner is implemented by *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// sqliteTx wraps a SQL transaction
type sqliteTx struct {
	tx      *sql.Tx
	storage *SQLiteStorage
}

func (t *sqliteTx) Commit() error {
	return t.tx.Commit()
}

func (t *sqliteTx) Rollback() error {
	return t.tx.Rollback()
}

// querier returns the transaction querier
func (t *sqliteTx) querier() querier {
	return t.tx
}

// querier returns the DB querier
func (s *SQLiteStorage) querier() querier {
	return s.db
}

// toNanos converts a time to stored unix nanoseconds; the zero time is 0
func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UTC().UnixNano()
}

// fromNanos converts stored unix nanoseconds back to a UTC time
func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

// Repository operations

const repositoryColumns = `
	repo_id, name, url, last_processed_commit, last_processed_commit_ts,
	total_files, processed_files, status, last_error, last_updated`

func scanRepository(row rowScanner) (*types.RepositoryRecord, error) {
	var repo types.RepositoryRecord
	var status string
	var commitTS, lastUpdated int64
	err := row.Scan(
		&repo.RepoID, &repo.Name, &repo.URL, &repo.LastProcessedCommit, &commitTS,
		&repo.TotalFiles, &repo.ProcessedFiles, &status, &repo.LastError, &lastUpdated,
	)
	if err != nil {
		return nil, err
	}
	repo.Status = types.RepoStatus(status)
	repo.LastProcessedCommitTimestamp = fromNanos(commitTS)
	repo.LastUpdated = fromNanos(lastUpdated)
	return &repo, nil
}

func withRepositoryDefaults(repo *types.RepositoryRecord) {
	if repo.Name == "" {
		repo.Name = repo.RepoID
	}
	if repo.URL == "" {
		repo.URL = repo.RepoID
	}
	if repo.Status == "" {
		repo.Status = types.StatusInitializing
	}
}

// insertRepositoryWithQuerier inserts repo unless the id exists and
// reports whether a row was written
func (s *SQLiteStorage) insertRepositoryWithQuerier(ctx context.Context, q querier, repo *types.RepositoryRecord) (bool, error) {
	if err := types.ValidateRepoID(repo.RepoID); err != nil {
		return false, err
	}
	withRepositoryDefaults(repo)
	if err := repo.Validate(); err != nil {
		return false, err
	}

	query := `
		INSERT INTO repositories (
			repo_id, name, url, last_processed_commit, last_processed_commit_ts,
			total_files, processed_files, status, last_error, last_updated, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(repo_id) DO NOTHING
	`
	now := time.Now().UTC()
	result, err := q.ExecContext(ctx, query,
		repo.RepoID, repo.Name, repo.URL, repo.LastProcessedCommit, toNanos(repo.LastProcessedCommitTimestamp),
		repo.TotalFiles, repo.ProcessedFiles, string(repo.Status), repo.LastError, toNanos(now), toNanos(now))
	if err != nil {
		return false, fmt.Errorf("failed to create repository: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 1 {
		repo.LastUpdated = now
	}
	return n == 1, nil
}

func (s *SQLiteStorage) createRepositoryWithQuerier(ctx context.Context, q querier, repo *types.RepositoryRecord) error {
	created, err := s.insertRepositoryWithQuerier(ctx, q, repo)
	if err != nil {
		return err
	}
	if !created {
		return fmt.Errorf("repository %s: %w", repo.RepoID, ErrAlreadyExists)
	}
	return nil
}

func (s *SQLiteStorage) CreateRepository(ctx context.Context, repo *types.RepositoryRecord) error {
	return s.createRepositoryWithQuerier(ctx, s.querier(), repo)
}

func (s *SQLiteStorage) ensureRepositoryWithQuerier(ctx context.Context, q querier, repo *types.RepositoryRecord) (*types.RepositoryRecord, error) {
	if _, err := s.insertRepositoryWithQuerier(ctx, q, repo); err != nil {
		return nil, err
	}
	return s.getRepositoryWithQuerier(ctx, q, repo.RepoID)
}

// EnsureRepository creates the repository if it does not exist and returns
// the stored record either way
func (s *SQLiteStorage) EnsureRepository(ctx context.Context, repo *types.RepositoryRecord) (*types.RepositoryRecord, error) {
	return s.ensureRepositoryWithQuerier(ctx, s.querier(), repo)
}

func (s *SQLiteStorage) getRepositoryWithQuerier(ctx context.Context, q querier, repoID string) (*types.RepositoryRecord, error) {
	query := `SELECT ` + repositoryColumns + ` FROM repositories WHERE repo_id = ?`
	repo, err := scanRepository(q.QueryRowContext(ctx, query, repoID))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return repo, nil
}

func (s *SQLiteStorage) GetRepository(ctx context.Context, repoID string) (*types.RepositoryRecord, error) {
	return s.getRepositoryWithQuerier(ctx, s.querier(), repoID)
}

func (s *SQLiteStorage) listRepositoriesWithQuerier(ctx context.Context, q querier) ([]*types.RepositoryRecord, error) {
	query := `SELECT ` + repositoryColumns + ` FROM repositories ORDER BY repo_id`
	rows, err := q.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	repos := make([]*types.RepositoryRecord, 0)
	for rows.Next() {
		repo, err := scanRepository(rows)
		if err != nil {
			return nil, err
		}
		repos = append(repos, repo)
	}
	return repos, rows.Err()
}

func (s *SQLiteStorage) ListRepositories(ctx context.Context) ([]*types.RepositoryRecord, error) {
	return s.listRepositoriesWithQuerier(ctx, s.querier())
}

// execOne runs an update that must touch exactly one repository row
func execOne(ctx context.Context, q querier, query string, args ...interface{}) error {
	result, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStorage) updateRepositoryStatusWithQuerier(ctx context.Context, q querier, repoID string, status types.RepoStatus, lastError string) error {
	if !status.Valid() {
		return fmt.Errorf("invalid repository status %q", status)
	}
	query := `
		UPDATE repositories
		SET status = ?, last_error = ?, last_updated = ?
		WHERE repo_id = ?
	`
	if err := execOne(ctx, q, query, string(status), lastError, toNanos(time.Now()), repoID); err != nil {
		return fmt.Errorf("failed to update repository status: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) UpdateRepositoryStatus(ctx context.Context, repoID string, status types.RepoStatus, lastError string) error {
	return s.updateRepositoryStatusWithQuerier(ctx, s.querier(), repoID, status, lastError)
}

// advanceRepositoryCommitWithQuerier moves the repository's last processed
// commit forward; an older commit leaves it untouched
func (s *SQLiteStorage) advanceRepositoryCommitWithQuerier(ctx context.Context, q querier, repoID, commitSHA string, commitTS time.Time) error {
	query := `
		UPDATE repositories
		SET last_processed_commit = ?, last_processed_commit_ts = ?, last_updated = ?
		WHERE repo_id = ? AND last_processed_commit_ts <= ?
	`
	ts := toNanos(commitTS)
	_, err := q.ExecContext(ctx, query, commitSHA, ts, toNanos(time.Now()), repoID, ts)
	if err != nil {
		return fmt.Errorf("failed to advance repository commit: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) AdvanceRepositoryCommit(ctx context.Context, repoID, commitSHA string, commitTS time.Time) error {
	return s.advanceRepositoryCommitWithQuerier(ctx, s.querier(), repoID, commitSHA, commitTS)
}

func (s *SQLiteStorage) raiseTotalFilesWithQuerier(ctx context.Context, q querier, repoID string, total int) error {
	query := `
		UPDATE repositories
		SET total_files = MAX(total_files, ?), last_updated = ?
		WHERE repo_id = ?
	`
	if err := execOne(ctx, q, query, total, toNanos(time.Now()), repoID); err != nil {
		return fmt.Errorf("failed to raise total files: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) RaiseTotalFiles(ctx context.Context, repoID string, total int) error {
	return s.raiseTotalFilesWithQuerier(ctx, s.querier(), repoID, total)
}

// incrementProcessedFilesWithQuerier is a single atomic UPDATE. Both
// right-hand sides read the pre-update row, so total_files is raised just
// enough to keep processed_files <= total_files.
func (s *SQLiteStorage) incrementProcessedFilesWithQuerier(ctx context.Context, q querier, repoID string, delta int) error {
	if delta <= 0 {
		return fmt.Errorf("increment must be positive, got %d", delta)
	}
	query := `
		UPDATE repositories
		SET processed_files = processed_files + ?,
		    total_files = MAX(total_files, processed_files + ?),
		    last_updated = ?
		WHERE repo_id = ?
	`
	if err := execOne(ctx, q, query, delta, delta, toNanos(time.Now()), repoID); err != nil {
		return fmt.Errorf("failed to increment processed files: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) IncrementProcessedFiles(ctx context.Context, repoID string, delta int) error {
	return s.incrementProcessedFilesWithQuerier(ctx, s.querier(), repoID, delta)
}

func (s *SQLiteStorage) deleteRepositoryWithQuerier(ctx context.Context, q querier, repoID string) error {
	if err := types.ValidateRepoID(repoID); err != nil {
		return err
	}
	prefix := types.LockKeyPrefix(repoID)
	if _, err := q.ExecContext(ctx,
		`DELETE FROM file_locks WHERE substr(lock_key, 1, length(?)) = ?`, prefix, prefix); err != nil {
		return fmt.Errorf("failed to delete repository locks: %w", err)
	}
	if _, err := q.ExecContext(ctx, `DELETE FROM file_indexes WHERE repo_id = ?`, repoID); err != nil {
		return fmt.Errorf("failed to delete file indexes: %w", err)
	}
	if err := execOne(ctx, q, `DELETE FROM repositories WHERE repo_id = ?`, repoID); err != nil {
		return fmt.Errorf("failed to delete repository: %w", err)
	}
	return nil
}

// DeleteRepository removes a repository with its file indexes and locks.
// It is an administrative operation and not part of indexing.
func (s *SQLiteStorage) DeleteRepository(ctx context.Context, repoID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if err := s.deleteRepositoryWithQuerier(ctx, tx, repoID); err != nil {
		return err
	}
	return tx.Commit()
}

// File index operations

const fileIndexColumns = `
	repo_id, file_path, content_hash, last_commit_sha, last_commit_ts,
	language, exports, imports, parse_errors, ever_counted, updated_at`

func scanFileIndex(row rowScanner) (*types.FileIndexRecord, error) {
	var rec types.FileIndexRecord
	var commitTS, updatedAt int64
	var exports, imports []byte
	var parseErrors string
	err := row.Scan(
		&rec.RepoID, &rec.FilePath, &rec.FileContentHash, &rec.LastCommitSHA, &commitTS,
		&rec.Language, &exports, &imports, &parseErrors, &rec.EverCounted, &updatedAt,
	)
	if err != nil {
		return nil, err
	}
	rec.LastCommitTimestamp = fromNanos(commitTS)
	rec.UpdatedAt = fromNanos(updatedAt)

	if err := decodeBlob(exports, &rec.Exports); err != nil {
		return nil, fmt.Errorf("exports of %s: %w", rec.FilePath, err)
	}
	if err := decodeBlob(imports, &rec.Imports); err != nil {
		return nil, fmt.Errorf("imports of %s: %w", rec.FilePath, err)
	}
	if parseErrors != "" {
		if err := json.Unmarshal([]byte(parseErrors), &rec.ParseErrors); err != nil {
			return nil, fmt.Errorf("parse errors of %s: %w", rec.FilePath, err)
		}
	}
	return &rec, nil
}

func (s *SQLiteStorage) getFileIndexWithQuerier(ctx context.Context, q querier, repoID, filePath string) (*types.FileIndexRecord, error) {
	query := `SELECT ` + fileIndexColumns + ` FROM file_indexes WHERE repo_id = ? AND file_path = ?`
	rec, err := scanFileIndex(q.QueryRowContext(ctx, query, repoID, filePath))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *SQLiteStorage) GetFileIndex(ctx context.Context, repoID, filePath string) (*types.FileIndexRecord, error) {
	return s.getFileIndexWithQuerier(ctx, s.querier(), repoID, filePath)
}

// upsertFileIndexWithQuerier writes rec unless the stored record carries a
// strictly newer commit timestamp, in which case ErrStaleUpdate is
// returned and nothing changes. ever_counted never goes back to false.
func (s *SQLiteStorage) upsertFileIndexWithQuerier(ctx context.Context, q querier, rec *types.FileIndexRecord) error {
	if err := rec.Validate(); err != nil {
		return err
	}

	exports, err := encodeBlob(nonNilExports(rec.Exports))
	if err != nil {
		return err
	}
	imports, err := encodeBlob(nonNilImports(rec.Imports))
	if err != nil {
		return err
	}
	parseErrors, err := json.Marshal(nonNilStrings(rec.ParseErrors))
	if err != nil {
		return err
	}

	query := `
		INSERT INTO file_indexes (` + fileIndexColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(repo_id, file_path) DO UPDATE SET
			content_hash = excluded.content_hash,
			last_commit_sha = excluded.last_commit_sha,
			last_commit_ts = excluded.last_commit_ts,
			language = excluded.language,
			exports = excluded.exports,
			imports = excluded.imports,
			parse_errors = excluded.parse_errors,
			ever_counted = MAX(file_indexes.ever_counted, excluded.ever_counted),
			updated_at = excluded.updated_at
		WHERE file_indexes.last_commit_ts <= excluded.last_commit_ts
	`
	now := time.Now().UTC()
	result, err := q.ExecContext(ctx, query,
		rec.RepoID, rec.FilePath, rec.FileContentHash, rec.LastCommitSHA, toNanos(rec.LastCommitTimestamp),
		rec.Language, exports, imports, string(parseErrors), rec.EverCounted, toNanos(now))
	if err != nil {
		return fmt.Errorf("failed to upsert file index: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", rec.FilePath, types.ErrStaleUpdate)
	}
	rec.UpdatedAt = now
	return nil
}

func (s *SQLiteStorage) UpsertFileIndex(ctx context.Context, rec *types.FileIndexRecord) error {
	return s.upsertFileIndexWithQuerier(ctx, s.querier(), rec)
}

func (s *SQLiteStorage) listFileIndexesWithQuerier(ctx context.Context, q querier, repoID string) ([]*types.FileIndexRecord, error) {
	query := `SELECT ` + fileIndexColumns + ` FROM file_indexes WHERE repo_id = ? ORDER BY file_path`
	rows, err := q.QueryContext(ctx, query, repoID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	recs := make([]*types.FileIndexRecord, 0)
	for rows.Next() {
		rec, err := scanFileIndex(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

func (s *SQLiteStorage) ListFileIndexes(ctx context.Context, repoID string) ([]*types.FileIndexRecord, error) {
	return s.listFileIndexesWithQuerier(ctx, s.querier(), repoID)
}

func (s *SQLiteStorage) countFileIndexesWithQuerier(ctx context.Context, q querier, repoID string) (int, error) {
	var n int
	err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM file_indexes WHERE repo_id = ?`, repoID).Scan(&n)
	return n, err
}

func (s *SQLiteStorage) CountFileIndexes(ctx context.Context, repoID string) (int, error) {
	return s.countFileIndexesWithQuerier(ctx, s.querier(), repoID)
}

// deleteFileIndexWithQuerier removes one record. A counted record gives its
// count back, so indexing the file again counts it once more.
func (s *SQLiteStorage) deleteFileIndexWithQuerier(ctx context.Context, q querier, repoID, filePath string) error {
	var counted bool
	err := q.QueryRowContext(ctx,
		`SELECT ever_counted FROM file_indexes WHERE repo_id = ? AND file_path = ?`, repoID, filePath).Scan(&counted)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to read file index: %w", err)
	}

	if err := execOne(ctx, q, `DELETE FROM file_indexes WHERE repo_id = ? AND file_path = ?`, repoID, filePath); err != nil {
		return err
	}
	if !counted {
		return nil
	}
	query := `
		UPDATE repositories
		SET processed_files = MAX(processed_files - 1, 0), last_updated = ?
		WHERE repo_id = ?
	`
	if _, err := q.ExecContext(ctx, query, toNanos(time.Now()), repoID); err != nil {
		return fmt.Errorf("failed to decrement processed files: %w", err)
	}
	return nil
}

// DeleteFileIndex removes one file's record. Like DeleteRepository it is
// administrative; a later delivery of the file indexes it again.
func (s *SQLiteStorage) DeleteFileIndex(ctx context.Context, repoID, filePath string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if err := s.deleteFileIndexWithQuerier(ctx, tx, repoID, filePath); err != nil {
		return err
	}
	return tx.Commit()
}

func nonNilExports(v []types.ExportEntry) []types.ExportEntry {
	if v == nil {
		return []types.ExportEntry{}
	}
	return v
}

func nonNilImports(v []types.ImportEntry) []types.ImportEntry {
	if v == nil {
		return []types.ImportEntry{}
	}
	return v
}

func nonNilStrings(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}

// Lock operations

// acquireLockWithQuerier creates the lock row, or takes over a row whose
// expiry has passed, in one conditional statement. It reports false when
// an unexpired holder exists. On success lock.Generation is filled in.
func (s *SQLiteStorage) acquireLockWithQuerier(ctx context.Context, q querier, lock *Lock) (bool, error) {
	query := `
		INSERT INTO file_locks (lock_key, holder_token, generation, acquired_at, expires_at)
		VALUES (?, ?, 1, ?, ?)
		ON CONFLICT(lock_key) DO UPDATE SET
			holder_token = excluded.holder_token,
			generation = file_locks.generation + 1,
			acquired_at = excluded.acquired_at,
			expires_at = excluded.expires_at
		WHERE file_locks.expires_at <= excluded.acquired_at
		RETURNING generation
	`
	err := q.QueryRowContext(ctx, query,
		lock.Key, lock.HolderToken, toNanos(lock.AcquiredAt), toNanos(lock.ExpiresAt)).Scan(&lock.Generation)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock %s: %w", lock.Key, err)
	}
	return true, nil
}

func (s *SQLiteStorage) AcquireLock(ctx context.Context, lock *Lock) (bool, error) {
	return s.acquireLockWithQuerier(ctx, s.querier(), lock)
}

func (s *SQLiteStorage) getLockWithQuerier(ctx context.Context, q querier, key string) (*Lock, error) {
	query := `
		SELECT lock_key, holder_token, generation, acquired_at, expires_at
		FROM file_locks
		WHERE lock_key = ?
	`
	var lock Lock
	var acquiredAt, expiresAt int64
	err := q.QueryRowContext(ctx, query, key).Scan(
		&lock.Key, &lock.HolderToken, &lock.Generation, &acquiredAt, &expiresAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	lock.AcquiredAt = fromNanos(acquiredAt)
	lock.ExpiresAt = fromNanos(expiresAt)
	return &lock, nil
}

func (s *SQLiteStorage) GetLock(ctx context.Context, key string) (*Lock, error) {
	return s.getLockWithQuerier(ctx, s.querier(), key)
}

// renewLockWithQuerier extends the expiry of a lock still held by token
// and not yet expired at now
func (s *SQLiteStorage) renewLockWithQuerier(ctx context.Context, q querier, key, token string, now, expiresAt time.Time) (bool, error) {
	query := `
		UPDATE file_locks
		SET expires_at = ?
		WHERE lock_key = ? AND holder_token = ? AND expires_at > ?
	`
	result, err := q.ExecContext(ctx, query, toNanos(expiresAt), key, token, toNanos(now))
	if err != nil {
		return false, fmt.Errorf("failed to renew lock %s: %w", key, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *SQLiteStorage) RenewLock(ctx context.Context, key, token string, now, expiresAt time.Time) (bool, error) {
	return s.renewLockWithQuerier(ctx, s.querier(), key, token, now, expiresAt)
}

// releaseLockWithQuerier deletes the lock only when token is the holder
func (s *SQLiteStorage) releaseLockWithQuerier(ctx context.Context, q querier, key, token string) (bool, error) {
	result, err := q.ExecContext(ctx,
		`DELETE FROM file_locks WHERE lock_key = ? AND holder_token = ?`, key, token)
	if err != nil {
		return false, fmt.Errorf("failed to release lock %s: %w", key, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *SQLiteStorage) ReleaseLock(ctx context.Context, key, token string) (bool, error) {
	return s.releaseLockWithQuerier(ctx, s.querier(), key, token)
}

// Transaction wrapper methods. Every call goes through the transaction's
// querier; touching s.db here would block on the single connection.

func (t *sqliteTx) CreateRepository(ctx context.Context, repo *types.RepositoryRecord) error {
	return t.storage.createRepositoryWithQuerier(ctx, t.querier(), repo)
}

func (t *sqliteTx) EnsureRepository(ctx context.Context, repo *types.RepositoryRecord) (*types.RepositoryRecord, error) {
	return t.storage.ensureRepositoryWithQuerier(ctx, t.querier(), repo)
}

func (t *sqliteTx) GetRepository(ctx context.Context, repoID string) (*types.RepositoryRecord, error) {
	return t.storage.getRepositoryWithQuerier(ctx, t.querier(), repoID)
}

func (t *sqliteTx) ListRepositories(ctx context.Context) ([]*types.RepositoryRecord, error) {
	return t.storage.listRepositoriesWithQuerier(ctx, t.querier())
}

func (t *sqliteTx) UpdateRepositoryStatus(ctx context.Context, repoID string, status types.RepoStatus, lastError string) error {
	return t.storage.updateRepositoryStatusWithQuerier(ctx, t.querier(), repoID, status, lastError)
}

func (t *sqliteTx) AdvanceRepositoryCommit(ctx context.Context, repoID, commitSHA string, commitTS time.Time) error {
	return t.storage.advanceRepositoryCommitWithQuerier(ctx, t.querier(), repoID, commitSHA, commitTS)
}

func (t *sqliteTx) RaiseTotalFiles(ctx context.Context, repoID string, total int) error {
	return t.storage.raiseTotalFilesWithQuerier(ctx, t.querier(), repoID, total)
}

func (t *sqliteTx) IncrementProcessedFiles(ctx context.Context, repoID string, delta int) error {
	return t.storage.incrementProcessedFilesWithQuerier(ctx, t.querier(), repoID, delta)
}

func (t *sqliteTx) DeleteRepository(ctx context.Context, repoID string) error {
	return t.storage.deleteRepositoryWithQuerier(ctx, t.querier(), repoID)
}

func (t *sqliteTx) GetFileIndex(ctx context.Context, repoID, filePath string) (*types.FileIndexRecord, error) {
	return t.storage.getFileIndexWithQuerier(ctx, t.querier(), repoID, filePath)
}

func (t *sqliteTx) UpsertFileIndex(ctx context.Context, rec *types.FileIndexRecord) error {
	return t.storage.upsertFileIndexWithQuerier(ctx, t.querier(), rec)
}

func (t *sqliteTx) ListFileIndexes(ctx context.Context, repoID string) ([]*types.FileIndexRecord, error) {
	return t.storage.listFileIndexesWithQuerier(ctx, t.querier(), repoID)
}

func (t *sqliteTx) CountFileIndexes(ctx context.Context, repoID string) (int, error) {
	return t.storage.countFileIndexesWithQuerier(ctx, t.querier(), repoID)
}

func (t *sqliteTx) DeleteFileIndex(ctx context.Context, repoID, filePath string) error {
	return t.storage.deleteFileIndexWithQuerier(ctx, t.querier(), repoID, filePath)
}

func (t *sqliteTx) AcquireLock(ctx context.Context, lock *Lock) (bool, error) {
	return t.storage.acquireLockWithQuerier(ctx, t.querier(), lock)
}

func (t *sqliteTx) GetLock(ctx context.Context, key string) (*Lock, error) {
	return t.storage.getLockWithQuerier(ctx, t.querier(), key)
}

func (t *sqliteTx) RenewLock(ctx context.Context, key, token string, now, expiresAt time.Time) (bool, error) {
	return t.storage.renewLockWithQuerier(ctx, t.querier(), key, token, now, expiresAt)
}

func (t *sqliteTx) ReleaseLock(ctx context.Context, key, token string) (bool, error) {
	return t.storage.releaseLockWithQuerier(ctx, t.querier(), key, token)
}

func (t *sqliteTx) Close() error {
	// Transactions don't close the underlying connection
	return nil
}

func (t *sqliteTx) BeginTx(ctx context.Context) (Tx, error) {
	// SQLite does not support true nested transactions
	return nil, errors.New("nested transactions not supported")
}
