package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dshills/repoindex/internal/lock"
	"github.com/dshills/repoindex/internal/storage"
	"github.com/dshills/repoindex/pkg/types"
)

// Committer persists a file record together with its aggregate effects in
// one transaction, guarded by the caller's lease
type Committer struct {
	store  storage.Storage
	locks  *lock.Manager
	retry  RetryConfig
	logger *slog.Logger
}

// NewCommitter creates a Committer
func NewCommitter(store storage.Storage, locks *lock.Manager, retry RetryConfig, logger *slog.Logger) *Committer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Committer{store: store, locks: locks, retry: retry, logger: logger}
}

// Commit writes rec, counts the file once per repository, advances the
// repository's last processed commit and releases lease, all or nothing.
//
// It returns types.ErrAbortedLockLost when lease is no longer the valid
// holder and types.ErrStaleUpdate when a newer revision was committed in
// the meantime; neither is retried. Transient store failures wrap
// types.ErrStorage and are retried with backoff. A record that fails
// validation is rejected before any transaction is opened.
func (c *Committer) Commit(ctx context.Context, rec *types.FileIndexRecord, lease *lock.Lease) error {
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("invalid file index %s: %w", rec.FilePath, err)
	}
	attempt := 0
	_, err := retryWithBackoff(ctx, c.retry, isTransient, func() (struct{}, error) {
		attempt++
		if attempt > 1 {
			c.logger.Debug("retrying commit",
				slog.String("repo_id", rec.RepoID),
				slog.String("path", rec.FilePath),
				slog.Int("attempt", attempt))
		}
		return struct{}{}, c.commitOnce(ctx, rec, lease)
	})
	return err
}

func isTransient(err error) bool {
	return errors.Is(err, types.ErrStorage)
}

func storageErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, types.ErrStorage, err)
}

func (c *Committer) commitOnce(ctx context.Context, rec *types.FileIndexRecord, lease *lock.Lease) error {
	tx, err := c.store.BeginTx(ctx)
	if err != nil {
		return storageErr("begin transaction", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	// Fencing: the lease must still be the unexpired holder
	held, err := tx.GetLock(ctx, lease.Key)
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("%s: %w", lease.Key, types.ErrAbortedLockLost)
	}
	if err != nil {
		return storageErr("read lock", err)
	}
	if held.HolderToken != lease.Token || held.Expired(c.locks.Now()) {
		return fmt.Errorf("%s (generation %d): %w", lease.Key, lease.Generation, types.ErrAbortedLockLost)
	}

	existing, err := tx.GetFileIndex(ctx, rec.RepoID, rec.FilePath)
	if errors.Is(err, storage.ErrNotFound) {
		existing = nil
	} else if err != nil {
		return storageErr("read file index", err)
	}
	if existing != nil && rec.LastCommitTimestamp.Before(existing.LastCommitTimestamp) {
		return fmt.Errorf("%s: %w", rec.FilePath, types.ErrStaleUpdate)
	}
	firstCount := existing == nil || !existing.EverCounted

	rec.EverCounted = true
	if err := tx.UpsertFileIndex(ctx, rec); err != nil {
		if errors.Is(err, types.ErrStaleUpdate) {
			return err
		}
		return storageErr("upsert file index", err)
	}

	if firstCount {
		if err := tx.IncrementProcessedFiles(ctx, rec.RepoID, 1); err != nil {
			return storageErr("increment processed files", err)
		}
	}

	if err := tx.AdvanceRepositoryCommit(ctx, rec.RepoID, rec.LastCommitSHA, rec.LastCommitTimestamp); err != nil {
		return storageErr("advance repository commit", err)
	}

	released, err := tx.ReleaseLock(ctx, lease.Key, lease.Token)
	if err != nil {
		return storageErr("release lock", err)
	}
	if !released {
		return fmt.Errorf("%s: %w", lease.Key, types.ErrAbortedLockLost)
	}

	if err := tx.Commit(); err != nil {
		return storageErr("commit transaction", err)
	}
	committed = true
	lease.MarkReleased()
	return nil
}
