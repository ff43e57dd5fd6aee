package mcp

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/repoindex/internal/indexer"
	"github.com/dshills/repoindex/internal/jobs"
	"github.com/dshills/repoindex/internal/parser"
	"github.com/dshills/repoindex/internal/source"
	"github.com/dshills/repoindex/internal/storage"
	"github.com/dshills/repoindex/pkg/types"
)

var commitTime = time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC)

type testServer struct {
	*Server
	store storage.Storage
	jobs  *jobs.LocalBackend
}

func newTestServer(t *testing.T, directThreshold int) *testServer {
	t.Helper()
	store, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := parser.NewRegistry()

	cfg := indexer.DefaultConfig()
	cfg.Logger = logger
	cfg.DirectThreshold = directThreshold
	idx := indexer.New(store, reg, cfg)

	runner := jobs.NewRunner(idx, store, jobs.RunnerConfig{ChunkSize: 10, ChunkInterval: -1, Logger: logger})
	backend := jobs.NewLocalBackend(runner, time.Minute, logger)
	idx = indexer.New(store, reg, cfg, indexer.WithJobSubmitter(backend))

	srv, err := NewServer(Deps{
		Store:         store,
		Indexer:       idx,
		Jobs:          backend,
		Parser:        reg,
		SourceOptions: source.Options{Commit: &source.Commit{SHA: "c1", Timestamp: commitTime}},
		Logger:        logger,
	})
	require.NoError(t, err)
	return &testServer{Server: srv, store: store, jobs: backend}
}

func callRequest(args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{Arguments: args},
	}
}

func resultJSON(t *testing.T, res *mcp.CallToolResult) map[string]interface{} {
	t.Helper()
	require.NotNil(t, res)
	require.NotEmpty(t, res.Content)
	text, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected text content")
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(text.Text), &out))
	return out
}

func requireMCPError(t *testing.T, err error, code int) {
	t.Helper()
	require.Error(t, err)
	var mcpErr *MCPError
	require.ErrorAs(t, err, &mcpErr)
	assert.Equal(t, code, mcpErr.Code)
}

func writeCheckout(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	files := map[string]string{
		"src/api.ts":     "export function handler(req: Request): Response { return null }\n",
		"src/util.py":    "def helper(x):\n    return x\n",
		"README.md":      "# docs\n",
		"lib/broken.ts":  "export const = ;\n",
		"cmd/main.go":    "package main\n\nfunc main() {}\n",
		"node_modules/a": "ignored",
	}
	for rel, content := range files {
		path := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	return root
}

func TestNewServer_RequiresDeps(t *testing.T) {
	_, err := NewServer(Deps{})
	assert.Error(t, err)
}

func TestIndexRepository_Checkout(t *testing.T) {
	s := newTestServer(t, 100)
	ctx := context.Background()
	root := writeCheckout(t)

	res, err := s.handleIndexRepository(ctx, callRequest(map[string]interface{}{
		"repo_id": "web",
		"name":    "web app",
		"path":    root,
	}))
	require.NoError(t, err)

	out := resultJSON(t, res)
	assert.Equal(t, "direct", out["mode"])
	assert.EqualValues(t, 4, out["files"])
	assert.EqualValues(t, 4, out["succeeded"])
	assert.EqualValues(t, 0, out["failed"])

	// Parse errors are recorded, not failures
	rec, err := s.store.GetFileIndex(ctx, "web", "lib/broken.ts")
	require.NoError(t, err)
	assert.True(t, rec.HasParseErrors())

	// Redelivery is a no-op
	res, err = s.handleIndexRepository(ctx, callRequest(map[string]interface{}{
		"repo_id": "web",
		"path":    root,
	}))
	require.NoError(t, err)
	out = resultJSON(t, res)
	assert.EqualValues(t, 0, out["succeeded"])
	assert.EqualValues(t, 4, out["skipped"])
}

func TestIndexRepository_InlineFiles(t *testing.T) {
	s := newTestServer(t, 100)
	ctx := context.Background()

	res, err := s.handleIndexRepository(ctx, callRequest(map[string]interface{}{
		"repo_id": "inline",
		"files": []interface{}{
			map[string]interface{}{
				"path":             "a.ts",
				"content":          "export const a = 1\n",
				"commit_sha":       "c1",
				"commit_timestamp": "2024-05-01T09:30:00Z",
			},
		},
	}))
	require.NoError(t, err)
	assert.EqualValues(t, 1, resultJSON(t, res)["succeeded"])

	res, err = s.handleGetFileIndex(ctx, callRequest(map[string]interface{}{
		"repo_id":   "inline",
		"file_path": "a.ts",
	}))
	require.NoError(t, err)
	out := resultJSON(t, res)
	assert.Equal(t, "c1", out["lastCommitSHA"])
	assert.Equal(t, "typescript", out["language"])
	exports, ok := out["exports"].([]interface{})
	require.True(t, ok)
	assert.Len(t, exports, 1)
}

func TestIndexRepository_InvalidParams(t *testing.T) {
	s := newTestServer(t, 100)
	ctx := context.Background()

	tests := []struct {
		name string
		args map[string]interface{}
	}{
		{"missing repo id", map[string]interface{}{"path": "/tmp"}},
		{"repo id with separator", map[string]interface{}{"repo_id": "a:b", "files": []interface{}{}}},
		{"missing path", map[string]interface{}{"repo_id": "r"}},
		{"relative path", map[string]interface{}{"repo_id": "r", "path": "relative/dir"}},
		{"missing directory", map[string]interface{}{"repo_id": "r", "path": "/definitely/not/here"}},
		{"files not array", map[string]interface{}{"repo_id": "r", "files": "a.ts"}},
		{"file missing timestamp", map[string]interface{}{"repo_id": "r", "files": []interface{}{
			map[string]interface{}{"path": "a.ts", "content": "", "commit_sha": "c1"},
		}}},
		{"bad timestamp", map[string]interface{}{"repo_id": "r", "files": []interface{}{
			map[string]interface{}{"path": "a.ts", "content": "", "commit_sha": "c1", "commit_timestamp": "yesterday"},
		}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.handleIndexRepository(ctx, callRequest(tt.args))
			requireMCPError(t, err, ErrorCodeInvalidParams)
		})
	}

	_, err := s.handleIndexRepository(ctx, mcp.CallToolRequest{})
	requireMCPError(t, err, ErrorCodeInvalidParams)
}

func TestIndexRepository_JobMode(t *testing.T) {
	s := newTestServer(t, 2)
	ctx := context.Background()
	root := writeCheckout(t)

	res, err := s.handleIndexRepository(ctx, callRequest(map[string]interface{}{
		"repo_id": "big",
		"path":    root,
	}))
	require.NoError(t, err)
	out := resultJSON(t, res)
	assert.Equal(t, "job", out["mode"])
	jobID, ok := out["job_id"].(string)
	require.True(t, ok)
	require.NotEmpty(t, jobID)

	s.jobs.Wait()

	res, err = s.handleGetJobStatus(ctx, callRequest(map[string]interface{}{"job_id": jobID}))
	require.NoError(t, err)
	status := resultJSON(t, res)
	assert.Equal(t, string(jobs.StateSucceeded), status["state"])
	assert.EqualValues(t, 4, status["succeeded"])

	res, err = s.handleGetRepository(ctx, callRequest(map[string]interface{}{"repo_id": "big"}))
	require.NoError(t, err)
	repo := resultJSON(t, res)
	assert.Equal(t, true, repo["indexed"])
	progress := repo["progress"].(map[string]interface{})
	assert.EqualValues(t, 4, progress["processed_files"])
	assert.EqualValues(t, 4, progress["indexed_files"])
	assert.Equal(t, true, progress["complete"])
	assert.Equal(t, string(types.StatusSteady), repo["repository"].(map[string]interface{})["status"])
}

func TestGetRepository_NotIndexed(t *testing.T) {
	s := newTestServer(t, 100)

	res, err := s.handleGetRepository(context.Background(), callRequest(map[string]interface{}{"repo_id": "nope"}))
	require.NoError(t, err)
	out := resultJSON(t, res)
	assert.Equal(t, false, out["indexed"])
	assert.Equal(t, "nope", out["repo_id"])
}

func TestListRepositories(t *testing.T) {
	s := newTestServer(t, 100)
	ctx := context.Background()
	for _, id := range []string{"one", "two"} {
		_, err := s.store.EnsureRepository(ctx, &types.RepositoryRecord{RepoID: id})
		require.NoError(t, err)
	}

	res, err := s.handleListRepositories(ctx, callRequest(nil))
	require.NoError(t, err)
	out := resultJSON(t, res)
	assert.EqualValues(t, 2, out["count"])
}

func TestGetFileIndex_NotIndexed(t *testing.T) {
	s := newTestServer(t, 100)
	_, err := s.handleGetFileIndex(context.Background(), callRequest(map[string]interface{}{
		"repo_id":   "web",
		"file_path": "missing.ts",
	}))
	requireMCPError(t, err, ErrorCodeNotIndexed)
}

func TestGetJobStatus_Unknown(t *testing.T) {
	s := newTestServer(t, 100)
	_, err := s.handleGetJobStatus(context.Background(), callRequest(map[string]interface{}{"job_id": "nope"}))
	requireMCPError(t, err, ErrorCodeJobNotFound)

	_, err = s.handleGetJobStatus(context.Background(), callRequest(map[string]interface{}{}))
	requireMCPError(t, err, ErrorCodeInvalidParams)
}

func TestCancelJob(t *testing.T) {
	s := newTestServer(t, 2)
	ctx := context.Background()

	_, err := s.handleCancelJob(ctx, callRequest(map[string]interface{}{"job_id": "nope"}))
	requireMCPError(t, err, ErrorCodeJobNotFound)
	_, err = s.handleCancelJob(ctx, callRequest(map[string]interface{}{}))
	requireMCPError(t, err, ErrorCodeInvalidParams)

	res, err := s.handleIndexRepository(ctx, callRequest(map[string]interface{}{
		"repo_id": "big",
		"path":    writeCheckout(t),
	}))
	require.NoError(t, err)
	jobID := resultJSON(t, res)["job_id"].(string)
	s.jobs.Wait()

	_, err = s.handleCancelJob(ctx, callRequest(map[string]interface{}{"job_id": jobID}))
	requireMCPError(t, err, ErrorCodeJobFinished)
}

func TestListFileIndexes(t *testing.T) {
	s := newTestServer(t, 100)
	ctx := context.Background()

	_, err := s.handleListFileIndexes(ctx, callRequest(map[string]interface{}{"repo_id": "web"}))
	requireMCPError(t, err, ErrorCodeRepoNotFound)

	_, err = s.handleIndexRepository(ctx, callRequest(map[string]interface{}{
		"repo_id": "web",
		"path":    writeCheckout(t),
	}))
	require.NoError(t, err)

	res, err := s.handleListFileIndexes(ctx, callRequest(map[string]interface{}{"repo_id": "web"}))
	require.NoError(t, err)
	out := resultJSON(t, res)
	assert.EqualValues(t, 4, out["count"])

	res, err = s.handleListFileIndexes(ctx, callRequest(map[string]interface{}{
		"repo_id":     "web",
		"path_prefix": "src/",
	}))
	require.NoError(t, err)
	out = resultJSON(t, res)
	assert.EqualValues(t, 2, out["count"])
	files := out["files"].([]interface{})
	first := files[0].(map[string]interface{})
	assert.Equal(t, "src/api.ts", first["file_path"])
	assert.Equal(t, "typescript", first["language"])
	assert.EqualValues(t, 1, first["export_count"])
}

func TestDeleteFileIndexAndRepository(t *testing.T) {
	s := newTestServer(t, 100)
	ctx := context.Background()

	_, err := s.handleIndexRepository(ctx, callRequest(map[string]interface{}{
		"repo_id": "web",
		"path":    writeCheckout(t),
	}))
	require.NoError(t, err)

	res, err := s.handleDeleteFileIndex(ctx, callRequest(map[string]interface{}{
		"repo_id":   "web",
		"file_path": "./src/api.ts",
	}))
	require.NoError(t, err)
	assert.Equal(t, true, resultJSON(t, res)["deleted"])

	_, err = s.handleDeleteFileIndex(ctx, callRequest(map[string]interface{}{
		"repo_id":   "web",
		"file_path": "src/api.ts",
	}))
	requireMCPError(t, err, ErrorCodeNotIndexed)

	repo, err := s.store.GetRepository(ctx, "web")
	require.NoError(t, err)
	assert.Equal(t, 3, repo.ProcessedFiles)

	_, err = s.handleDeleteRepository(ctx, callRequest(map[string]interface{}{"repo_id": "a:b"}))
	requireMCPError(t, err, ErrorCodeInvalidParams)

	res, err = s.handleDeleteRepository(ctx, callRequest(map[string]interface{}{"repo_id": "web"}))
	require.NoError(t, err)
	assert.Equal(t, true, resultJSON(t, res)["deleted"])

	_, err = s.store.GetRepository(ctx, "web")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = s.handleDeleteRepository(ctx, callRequest(map[string]interface{}{"repo_id": "web"}))
	requireMCPError(t, err, ErrorCodeRepoNotFound)
}

func TestValidatePath(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "f.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	assert.NoError(t, validatePath(dir))
	assert.ErrorIs(t, validatePath(""), ErrPathRequired)
	assert.ErrorIs(t, validatePath("rel"), ErrPathNotAbsolute)
	assert.ErrorIs(t, validatePath(filepath.Join(dir, "nope")), ErrPathNotFound)
	assert.ErrorIs(t, validatePath(file), ErrNotDirectory)
}
