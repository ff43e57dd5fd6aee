package storage

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/repoindex/pkg/types"
)

func setupTestDB(t *testing.T) *SQLiteStorage {
	// Use in-memory database for testing
	storage, err := NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	require.NotNil(t, storage)
	t.Cleanup(func() { _ = storage.Close() })
	return storage
}

func createTestRepo(t *testing.T, s *SQLiteStorage, repoID string) *types.RepositoryRecord {
	repo, err := s.EnsureRepository(context.Background(), &types.RepositoryRecord{RepoID: repoID})
	require.NoError(t, err)
	return repo
}

func testRecord(repoID, path string, ts time.Time) *types.FileIndexRecord {
	return &types.FileIndexRecord{
		RepoID:              repoID,
		FilePath:            path,
		FileContentHash:     types.ContentHash([]byte(path + ts.String())),
		LastCommitSHA:       "c" + ts.Format("150405"),
		LastCommitTimestamp: ts,
		Language:            "typescript",
		Exports: []types.ExportEntry{
			{
				Name:       "handler",
				Kind:       types.ExportFunction,
				Visibility: types.VisibilityPublic,
				LineNumber: 3,
				Function: &types.FunctionSignature{
					Parameters: []types.Parameter{{Name: "req", Type: "Request", Required: true}},
					ReturnType: "Promise<void>",
					IsAsync:    true,
				},
			},
		},
		Imports: []types.ImportEntry{{Name: "Request", Source: "express", LineNumber: 1}},
	}
}

func TestNewSQLiteStorage(t *testing.T) {
	storage := setupTestDB(t)
	assert.NotNil(t, storage.db)
}

func TestClose(t *testing.T) {
	storage, err := NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	assert.NoError(t, storage.Close())
}

func TestCreateRepository(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	repo := &types.RepositoryRecord{RepoID: "acme/web", Name: "web", URL: "https://example.com/acme/web"}
	require.NoError(t, storage.CreateRepository(ctx, repo))
	assert.Equal(t, types.StatusInitializing, repo.Status)

	err := storage.CreateRepository(ctx, &types.RepositoryRecord{RepoID: "acme/web"})
	assert.ErrorIs(t, err, ErrAlreadyExists)

	err = storage.CreateRepository(ctx, &types.RepositoryRecord{})
	assert.ErrorIs(t, err, types.ErrMissingRepoID)
}

func TestEnsureRepository(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	first, err := storage.EnsureRepository(ctx, &types.RepositoryRecord{RepoID: "acme/api"})
	require.NoError(t, err)
	assert.Equal(t, "acme/api", first.Name)
	assert.Equal(t, "acme/api", first.URL)
	assert.Equal(t, types.StatusInitializing, first.Status)
	assert.False(t, first.LastUpdated.IsZero())

	require.NoError(t, storage.UpdateRepositoryStatus(ctx, "acme/api", types.StatusIndexing, ""))

	// A second call returns the stored row untouched
	second, err := storage.EnsureRepository(ctx, &types.RepositoryRecord{RepoID: "acme/api", Name: "other"})
	require.NoError(t, err)
	assert.Equal(t, "acme/api", second.Name)
	assert.Equal(t, types.StatusIndexing, second.Status)
}

func TestGetRepository_NotFound(t *testing.T) {
	storage := setupTestDB(t)
	_, err := storage.GetRepository(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListRepositories(t *testing.T) {
	storage := setupTestDB(t)
	createTestRepo(t, storage, "b")
	createTestRepo(t, storage, "a")

	repos, err := storage.ListRepositories(context.Background())
	require.NoError(t, err)
	require.Len(t, repos, 2)
	assert.Equal(t, "a", repos[0].RepoID)
	assert.Equal(t, "b", repos[1].RepoID)
}

func TestUpdateRepositoryStatus(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()
	createTestRepo(t, storage, "r")

	require.NoError(t, storage.UpdateRepositoryStatus(ctx, "r", types.StatusFailed, "boom"))
	repo, err := storage.GetRepository(ctx, "r")
	require.NoError(t, err)
	assert.Equal(t, types.StatusFailed, repo.Status)
	assert.Equal(t, "boom", repo.LastError)

	assert.Error(t, storage.UpdateRepositoryStatus(ctx, "r", types.RepoStatus("bogus"), ""))
	assert.ErrorIs(t, storage.UpdateRepositoryStatus(ctx, "nope", types.StatusSteady, ""), ErrNotFound)
}

func TestAdvanceRepositoryCommit(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()
	createTestRepo(t, storage, "r")

	t1 := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Hour)

	require.NoError(t, storage.AdvanceRepositoryCommit(ctx, "r", "c2", t2))
	// Older commit is ignored
	require.NoError(t, storage.AdvanceRepositoryCommit(ctx, "r", "c1", t1))

	repo, err := storage.GetRepository(ctx, "r")
	require.NoError(t, err)
	assert.Equal(t, "c2", repo.LastProcessedCommit)
	assert.True(t, repo.LastProcessedCommitTimestamp.Equal(t2))
}

func TestIncrementProcessedFiles(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()
	createTestRepo(t, storage, "r")

	require.NoError(t, storage.RaiseTotalFiles(ctx, "r", 3))
	require.NoError(t, storage.RaiseTotalFiles(ctx, "r", 1)) // never lowers

	for i := 0; i < 5; i++ {
		require.NoError(t, storage.IncrementProcessedFiles(ctx, "r", 1))
	}

	repo, err := storage.GetRepository(ctx, "r")
	require.NoError(t, err)
	assert.Equal(t, 5, repo.ProcessedFiles)
	assert.Equal(t, 5, repo.TotalFiles)

	assert.Error(t, storage.IncrementProcessedFiles(ctx, "r", 0))
	assert.ErrorIs(t, storage.IncrementProcessedFiles(ctx, "missing", 1), ErrNotFound)
}

func TestIncrementProcessedFiles_Concurrent(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()
	createTestRepo(t, storage, "r")

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, storage.IncrementProcessedFiles(ctx, "r", 1))
		}()
	}
	wg.Wait()

	repo, err := storage.GetRepository(ctx, "r")
	require.NoError(t, err)
	assert.Equal(t, n, repo.ProcessedFiles)
}

func TestUpsertFileIndex(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()
	createTestRepo(t, storage, "r")

	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	rec := testRecord("r", "src/a.ts", ts)
	rec.ParseErrors = []string{"line 9: unexpected token"}
	require.NoError(t, storage.UpsertFileIndex(ctx, rec))

	got, err := storage.GetFileIndex(ctx, "r", "src/a.ts")
	require.NoError(t, err)
	assert.Equal(t, rec.FileContentHash, got.FileContentHash)
	assert.True(t, got.LastCommitTimestamp.Equal(ts))
	assert.Equal(t, rec.Exports, got.Exports)
	assert.Equal(t, rec.Imports, got.Imports)
	assert.Equal(t, rec.ParseErrors, got.ParseErrors)
	assert.False(t, got.EverCounted)
}

func TestUpsertFileIndex_StaleRejected(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()
	createTestRepo(t, storage, "r")

	newer := time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC)
	older := newer.Add(-24 * time.Hour)

	recNew := testRecord("r", "src/b.ts", newer)
	recNew.EverCounted = true
	require.NoError(t, storage.UpsertFileIndex(ctx, recNew))

	err := storage.UpsertFileIndex(ctx, testRecord("r", "src/b.ts", older))
	assert.ErrorIs(t, err, types.ErrStaleUpdate)

	got, err := storage.GetFileIndex(ctx, "r", "src/b.ts")
	require.NoError(t, err)
	assert.Equal(t, recNew.LastCommitSHA, got.LastCommitSHA)

	// Equal timestamps are accepted and ever_counted sticks
	same := testRecord("r", "src/b.ts", newer)
	same.FileContentHash = "different"
	require.NoError(t, storage.UpsertFileIndex(ctx, same))
	got, err = storage.GetFileIndex(ctx, "r", "src/b.ts")
	require.NoError(t, err)
	assert.Equal(t, "different", got.FileContentHash)
	assert.True(t, got.EverCounted)
}

func TestUpsertFileIndex_Validation(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()
	createTestRepo(t, storage, "r")

	rec := testRecord("r", "src/c.ts", time.Time{})
	assert.ErrorIs(t, storage.UpsertFileIndex(ctx, rec), types.ErrMissingTimestamp)

	rec = testRecord("r", "src/c.ts", time.Now())
	rec.Exports[0].Class = &types.ClassInfo{}
	assert.ErrorIs(t, storage.UpsertFileIndex(ctx, rec), types.ErrPayloadMismatch)
}

func TestListAndCountFileIndexes(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()
	createTestRepo(t, storage, "r")

	ts := time.Now()
	for _, p := range []string{"src/z.ts", "src/a.ts", "app/m.py"} {
		require.NoError(t, storage.UpsertFileIndex(ctx, testRecord("r", p, ts)))
	}

	recs, err := storage.ListFileIndexes(ctx, "r")
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, "app/m.py", recs[0].FilePath)

	n, err := storage.CountFileIndexes(ctx, "r")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	require.NoError(t, storage.DeleteFileIndex(ctx, "r", "src/z.ts"))
	assert.ErrorIs(t, storage.DeleteFileIndex(ctx, "r", "src/z.ts"), ErrNotFound)
	_, err = storage.GetFileIndex(ctx, "r", "src/z.ts")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteFileIndex_ReturnsCount(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()
	createTestRepo(t, storage, "r")
	require.NoError(t, storage.RaiseTotalFiles(ctx, "r", 2))

	counted := testRecord("r", "src/a.ts", time.Now())
	counted.EverCounted = true
	require.NoError(t, storage.UpsertFileIndex(ctx, counted))
	require.NoError(t, storage.IncrementProcessedFiles(ctx, "r", 1))
	require.NoError(t, storage.UpsertFileIndex(ctx, testRecord("r", "src/b.ts", time.Now())))

	require.NoError(t, storage.DeleteFileIndex(ctx, "r", "src/a.ts"))
	repo, err := storage.GetRepository(ctx, "r")
	require.NoError(t, err)
	assert.Zero(t, repo.ProcessedFiles)

	require.NoError(t, storage.DeleteFileIndex(ctx, "r", "src/b.ts"))
	repo, err = storage.GetRepository(ctx, "r")
	require.NoError(t, err)
	assert.Zero(t, repo.ProcessedFiles)
	assert.Equal(t, 2, repo.TotalFiles)
}

func TestDeleteRepository(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()
	createTestRepo(t, storage, "r")
	createTestRepo(t, storage, "r2")

	now := time.Now()
	require.NoError(t, storage.UpsertFileIndex(ctx, testRecord("r", "src/a.ts", now)))
	_, err := storage.AcquireLock(ctx, &Lock{Key: types.LockKey("r", "src/a.ts"), HolderToken: "t", AcquiredAt: now, ExpiresAt: now.Add(time.Minute)})
	require.NoError(t, err)
	_, err = storage.AcquireLock(ctx, &Lock{Key: types.LockKey("r2", "src/a.ts"), HolderToken: "t", AcquiredAt: now, ExpiresAt: now.Add(time.Minute)})
	require.NoError(t, err)

	require.NoError(t, storage.DeleteRepository(ctx, "r"))

	_, err = storage.GetRepository(ctx, "r")
	assert.ErrorIs(t, err, ErrNotFound)
	n, err := storage.CountFileIndexes(ctx, "r")
	require.NoError(t, err)
	assert.Zero(t, n)
	_, err = storage.GetLock(ctx, types.LockKey("r", "src/a.ts"))
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = storage.GetLock(ctx, types.LockKey("r2", "src/a.ts"))
	assert.NoError(t, err)
}

func TestDeleteRepository_LocksScopedToRepository(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()
	createTestRepo(t, storage, "a")
	createTestRepo(t, storage, "ab")

	_, err := storage.EnsureRepository(ctx, &types.RepositoryRecord{RepoID: "a:b"})
	require.ErrorIs(t, err, types.ErrInvalidRepoID)
	require.ErrorIs(t, storage.DeleteRepository(ctx, "a:b"), types.ErrInvalidRepoID)

	now := time.Now()
	keys := []string{
		types.LockKey("a", "b:c.ts"),
		types.LockKey("ab", "c.ts"),
	}
	for _, key := range keys {
		_, err := storage.AcquireLock(ctx, &Lock{Key: key, HolderToken: "t", AcquiredAt: now, ExpiresAt: now.Add(time.Minute)})
		require.NoError(t, err)
	}

	require.NoError(t, storage.DeleteRepository(ctx, "a"))

	_, err = storage.GetLock(ctx, keys[0])
	assert.ErrorIs(t, err, ErrNotFound, "a file path may contain the separator")
	_, err = storage.GetLock(ctx, keys[1])
	assert.NoError(t, err)
}

func TestAcquireLock(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	now := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	key := types.LockKey("r", "src/a.ts")

	first := &Lock{Key: key, HolderToken: "w1", AcquiredAt: now, ExpiresAt: now.Add(time.Minute)}
	ok, err := storage.AcquireLock(ctx, first)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(1), first.Generation)

	// Held and unexpired
	second := &Lock{Key: key, HolderToken: "w2", AcquiredAt: now.Add(30 * time.Second), ExpiresAt: now.Add(90 * time.Second)}
	ok, err = storage.AcquireLock(ctx, second)
	require.NoError(t, err)
	assert.False(t, ok)

	// Expired lock is taken over with a new generation
	later := now.Add(time.Minute)
	third := &Lock{Key: key, HolderToken: "w3", AcquiredAt: later, ExpiresAt: later.Add(time.Minute)}
	ok, err = storage.AcquireLock(ctx, third)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(2), third.Generation)

	stored, err := storage.GetLock(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "w3", stored.HolderToken)
	assert.False(t, stored.Expired(later))
	assert.True(t, stored.Expired(later.Add(time.Minute)))
}

func TestRenewAndReleaseLock(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	now := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	key := types.LockKey("r", "src/a.ts")
	_, err := storage.AcquireLock(ctx, &Lock{Key: key, HolderToken: "w1", AcquiredAt: now, ExpiresAt: now.Add(time.Minute)})
	require.NoError(t, err)

	ok, err := storage.RenewLock(ctx, key, "w2", now, now.Add(2*time.Minute))
	require.NoError(t, err)
	assert.False(t, ok, "wrong token must not renew")

	ok, err = storage.RenewLock(ctx, key, "w1", now.Add(30*time.Second), now.Add(2*time.Minute))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = storage.RenewLock(ctx, key, "w1", now.Add(3*time.Minute), now.Add(4*time.Minute))
	require.NoError(t, err)
	assert.False(t, ok, "expired lease must not renew")

	ok, err = storage.ReleaseLock(ctx, key, "w2")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = storage.ReleaseLock(ctx, key, "w1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = storage.ReleaseLock(ctx, key, "w1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTransaction(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()
	createTestRepo(t, storage, "r")

	tx, err := storage.BeginTx(ctx)
	require.NoError(t, err)

	rec := testRecord("r", "src/tx.ts", time.Now())
	require.NoError(t, tx.UpsertFileIndex(ctx, rec))
	require.NoError(t, tx.IncrementProcessedFiles(ctx, "r", 1))

	repo, err := tx.GetRepository(ctx, "r")
	require.NoError(t, err)
	assert.Equal(t, 1, repo.ProcessedFiles)

	_, err = tx.BeginTx(ctx)
	assert.Error(t, err)

	require.NoError(t, tx.Rollback())

	_, err = storage.GetFileIndex(ctx, "r", "src/tx.ts")
	assert.ErrorIs(t, err, ErrNotFound)
	repo, err = storage.GetRepository(ctx, "r")
	require.NoError(t, err)
	assert.Zero(t, repo.ProcessedFiles)

	tx, err = storage.BeginTx(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.UpsertFileIndex(ctx, rec))
	require.NoError(t, tx.Commit())

	_, err = storage.GetFileIndex(ctx, "r", "src/tx.ts")
	assert.NoError(t, err)
}

func TestBlobCodec(t *testing.T) {
	in := []types.ImportEntry{{Name: "x", Source: "./x", LineNumber: 2}}
	data, err := encodeBlob(in)
	require.NoError(t, err)

	var out []types.ImportEntry
	require.NoError(t, decodeBlob(data, &out))
	assert.Equal(t, in, out)

	var untouched []types.ImportEntry
	require.NoError(t, decodeBlob(nil, &untouched))
	assert.Nil(t, untouched)

	assert.Error(t, decodeBlob([]byte("not zstd"), &out))
}
