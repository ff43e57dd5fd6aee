// Package storage provides SQLite-based persistence for repository index
// state.
//
// The storage layer manages:
//   - Repository records with their processed and total file counters
//   - One file index record per (repository, file path)
//   - Ephemeral file locks with holder tokens and expiry times
//
// # Database Schema
//
// Tables:
//   - repositories: aggregate state, last processed commit, status
//   - file_indexes: content hash, commit, exports and imports per file
//   - file_locks: lock key, holder token, generation and expiry
//
// Export and import lists are stored as zstd-compressed JSON. Times are
// stored as unix nanoseconds so ordering comparisons happen in SQL.
//
// # Basic Usage
//
//	store, err := storage.NewSQLiteStorage("repoindex.db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer store.Close()
//
//	repo, err := store.EnsureRepository(ctx, &types.RepositoryRecord{RepoID: "acme/web"})
//
// # Conditional Writes
//
// Several operations are single conditional statements so that concurrent
// writers cannot interleave between a read and a write:
//
//   - AcquireLock inserts the lock row or takes over an expired one. It
//     reports false while an unexpired holder exists.
//   - ReleaseLock and RenewLock only touch a row whose holder token matches.
//   - UpsertFileIndex refuses to replace a record carrying a newer commit
//     timestamp and returns types.ErrStaleUpdate instead.
//   - IncrementProcessedFiles raises total_files in the same statement, so
//     processed_files never exceeds total_files.
//
// # Transactions
//
// The database is opened with a single connection. Inside a transaction
// use only the Tx methods; calling the parent SQLiteStorage would wait
// for the connection the transaction already holds.
//
//	tx, err := store.BeginTx(ctx)
//	if err != nil {
//	    return err
//	}
//	defer func() { _ = tx.Rollback() }()
//
//	if err := tx.UpsertFileIndex(ctx, rec); err != nil {
//	    return err
//	}
//	if err := tx.IncrementProcessedFiles(ctx, rec.RepoID, 1); err != nil {
//	    return err
//	}
//	return tx.Commit()
//
// # Build Tags
//
// Pure Go build (default):
//
//   - Uses modernc.org/sqlite driver
//
//   - No C compiler needed for the store
//
// CGO build (sqlite_cgo tag):
//
//   - Uses github.com/mattn/go-sqlite3 driver
//
//     CGO_ENABLED=1 go build -tags "sqlite_cgo"
package storage
