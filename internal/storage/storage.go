package storage

import (
	"context"
	"time"

	"github.com/dshills/repoindex/pkg/types"
)

// Storage defines the interface for persisting repository and file index state
type Storage interface {
	// Repository operations
	CreateRepository(ctx context.Context, repo *types.RepositoryRecord) error
	EnsureRepository(ctx context.Context, repo *types.RepositoryRecord) (*types.RepositoryRecord, error)
	GetRepository(ctx context.Context, repoID string) (*types.RepositoryRecord, error)
	ListRepositories(ctx context.Context) ([]*types.RepositoryRecord, error)
	UpdateRepositoryStatus(ctx context.Context, repoID string, status types.RepoStatus, lastError string) error
	AdvanceRepositoryCommit(ctx context.Context, repoID, commitSHA string, commitTS time.Time) error
	RaiseTotalFiles(ctx context.Context, repoID string, total int) error
	IncrementProcessedFiles(ctx context.Context, repoID string, delta int) error
	DeleteRepository(ctx context.Context, repoID string) error

	// File index operations
	GetFileIndex(ctx context.Context, repoID, filePath string) (*types.FileIndexRecord, error)
	UpsertFileIndex(ctx context.Context, rec *types.FileIndexRecord) error
	ListFileIndexes(ctx context.Context, repoID string) ([]*types.FileIndexRecord, error)
	CountFileIndexes(ctx context.Context, repoID string) (int, error)
	DeleteFileIndex(ctx context.Context, repoID, filePath string) error

	// Lock operations
	AcquireLock(ctx context.Context, lock *Lock) (bool, error)
	GetLock(ctx context.Context, key string) (*Lock, error)
	RenewLock(ctx context.Context, key, token string, now, expiresAt time.Time) (bool, error)
	ReleaseLock(ctx context.Context, key, token string) (bool, error)

	// Database operations
	Close() error
	BeginTx(ctx context.Context) (Tx, error)
}

// Tx represents a database transaction
type Tx interface {
	Commit() error
	Rollback() error
	Storage // Embed Storage interface for transaction operations
}

// Lock is the stored row of a file lock
type Lock struct {
	Key         string
	HolderToken string
	// Generation increases each time an expired lock is taken over
	Generation int64
	AcquiredAt time.Time
	ExpiresAt  time.Time
}

// Expired reports whether the lock is free at now
func (l *Lock) Expired(now time.Time) bool {
	return !now.Before(l.ExpiresAt)
}
