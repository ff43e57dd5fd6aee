package indexer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dshills/repoindex/internal/storage"
	"github.com/dshills/repoindex/pkg/types"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setupTestStorage(t testing.TB) storage.Storage {
	store, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func ensureRepo(t testing.TB, store storage.Storage, repoID string) {
	_, err := store.EnsureRepository(context.Background(), &types.RepositoryRecord{RepoID: repoID})
	require.NoError(t, err)
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Logger = discardLogger()
	cfg.Retry = RetryConfig{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2}
	return cfg
}

func change(path, content, sha string, ts time.Time) types.FileChange {
	return types.FileChange{Path: path, Content: []byte(content), CommitSHA: sha, CommitTimestamp: ts}
}

// stubParser exports one variable named after the file. Paths containing
// "panic" panic and paths containing "broken" return an error. Paths
// containing "invalid" add a second export with no name.
type stubParser struct {
	calls atomic.Int32
	hook  func(path string)
}

func (p *stubParser) Language(path string) string {
	if strings.HasSuffix(path, ".py") {
		return "python"
	}
	return "typescript"
}

func (p *stubParser) Parse(ctx context.Context, path string, content []byte, language string) (*types.ParseResult, error) {
	p.calls.Add(1)
	if p.hook != nil {
		p.hook(path)
	}
	switch {
	case strings.Contains(path, "panic"):
		panic("parser exploded on " + path)
	case strings.Contains(path, "broken"):
		return nil, errors.New("grammar unavailable")
	}
	result := &types.ParseResult{
		Language: language,
		Exports: []types.ExportEntry{{
			Name:       "value",
			Kind:       types.ExportVariable,
			Visibility: types.VisibilityPublic,
			LineNumber: 1,
		}},
		Imports: []types.ImportEntry{{Name: "dep", Source: "./dep", LineNumber: 1}},
	}
	if strings.Contains(path, "invalid") {
		result.Exports = append(result.Exports, types.ExportEntry{
			Kind:       types.ExportFunction,
			Visibility: types.VisibilityPublic,
			LineNumber: 2,
		})
	}
	if strings.Contains(path, "syntax") {
		result.AddError(path, 3, 1, "unexpected token")
	}
	return result, nil
}

// flakyStore fails BeginTx a fixed number of times
type flakyStore struct {
	storage.Storage
	mu       sync.Mutex
	failures int
	begins   int
}

func (f *flakyStore) BeginTx(ctx context.Context) (storage.Tx, error) {
	f.mu.Lock()
	f.begins++
	fail := f.failures > 0
	if fail {
		f.failures--
	}
	f.mu.Unlock()
	if fail {
		return nil, errors.New("database is locked")
	}
	return f.Storage.BeginTx(ctx)
}

func (f *flakyStore) beginCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.begins
}

// recordingSubmitter captures submitted job specs
type recordingSubmitter struct {
	mu    sync.Mutex
	specs []types.JobSpec
	err   error
}

func (r *recordingSubmitter) Submit(ctx context.Context, spec types.JobSpec) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return "", r.err
	}
	r.specs = append(r.specs, spec)
	return "job-1", nil
}
