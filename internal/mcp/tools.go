package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/dshills/repoindex/internal/jobs"
	"github.com/dshills/repoindex/internal/source"
	"github.com/dshills/repoindex/internal/storage"
	"github.com/dshills/repoindex/pkg/types"
)

// MCP error codes
const (
	ErrorCodeInvalidParams      = -32602 // Invalid method parameters
	ErrorCodeInternalError      = -32603 // Internal JSON-RPC error
	ErrorCodeRepoNotFound       = -32001 // Repository has never been indexed
	ErrorCodeIndexingInProgress = -32002 // A job is already running for the repository
	ErrorCodeNotIndexed         = -32003 // File has no index record
	ErrorCodeJobNotFound        = -32004 // Unknown job id
	ErrorCodeJobFinished        = -32005 // Job already reached a terminal state
)

// maxReportedErrors caps the per-file errors echoed in a response
const maxReportedErrors = 5

// handleIndexRepository handles the index_repository tool invocation
func (s *Server) handleIndexRepository(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	repoID := getStringDefault(args, "repo_id", "")
	if repoID == "" {
		return nil, missingParam("repo_id")
	}
	if err := types.ValidateRepoID(repoID); err != nil {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid repo_id", map[string]interface{}{
			"param":  "repo_id",
			"reason": err.Error(),
		})
	}

	var files []types.FileChange
	if raw, present := args["files"]; present {
		parsed, err := parseFileChanges(raw)
		if err != nil {
			return nil, newMCPError(ErrorCodeInvalidParams, "invalid files", map[string]interface{}{
				"param":  "files",
				"reason": err.Error(),
			})
		}
		files = parsed
	} else {
		path := getStringDefault(args, "path", "")
		if path == "" {
			return nil, missingParam("path")
		}
		if err := validatePath(path); err != nil {
			return nil, newMCPError(ErrorCodeInvalidParams, "invalid path", map[string]interface{}{
				"param":  "path",
				"reason": err.Error(),
			})
		}
		scanned, err := s.scanCheckout(ctx, path, getStringDefault(args, "since_commit", ""))
		if err != nil {
			return nil, newMCPError(ErrorCodeInternalError, "failed to scan checkout", map[string]interface{}{
				"error": err.Error(),
			})
		}
		files = scanned
	}

	resp, err := s.indexer.Index(ctx, types.IndexRequest{
		RepoID:       repoID,
		Name:         getStringDefault(args, "name", ""),
		URL:          getStringDefault(args, "url", ""),
		Files:        files,
		ForceReindex: getBoolDefault(args, "force_reindex", false),
	})
	if errors.Is(err, jobs.ErrJobRunning) {
		return nil, newMCPError(ErrorCodeIndexingInProgress, "indexing already in progress", map[string]interface{}{
			"repo_id": repoID,
		})
	}
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "indexing failed", map[string]interface{}{
			"error": err.Error(),
		})
	}

	response := map[string]interface{}{
		"repo_id": resp.RepoID,
		"mode":    resp.Mode,
		"files":   len(files),
	}
	if resp.JobID != "" {
		response["job_id"] = resp.JobID
	}
	if report := resp.Report; report != nil {
		response["succeeded"] = report.Succeeded
		response["skipped"] = report.Skipped
		response["failed"] = report.Failed
		response["duration_ms"] = report.Duration.Milliseconds()

		var errs []string
		for _, f := range report.Files {
			if f.Outcome == types.OutcomeFailed && f.Error != "" {
				errs = append(errs, f.Path+": "+f.Error)
			}
		}
		if len(errs) > maxReportedErrors {
			response["error_count"] = len(errs)
			errs = errs[:maxReportedErrors]
		}
		if len(errs) > 0 {
			response["errors"] = errs
		}
	}

	return mcp.NewToolResultText(formatJSON(response)), nil
}

// scanCheckout turns a checkout into file changes, narrowed to the files
// touched since sinceCommit when it is set
func (s *Server) scanCheckout(ctx context.Context, root, sinceCommit string) ([]types.FileChange, error) {
	opts := s.sourceOpts
	if sinceCommit != "" {
		changed, err := source.ChangedSince(ctx, root, sinceCommit)
		if err != nil {
			return nil, err
		}
		opts.Paths = changed
		if opts.Paths == nil {
			opts.Paths = []string{}
		}
	}
	return source.Scan(ctx, root, s.parser, opts)
}

// handleGetRepository handles the get_repository tool invocation
func (s *Server) handleGetRepository(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	repoID := getStringDefault(args, "repo_id", "")
	if repoID == "" {
		return nil, missingParam("repo_id")
	}

	repo, err := s.storage.GetRepository(ctx, repoID)
	if errors.Is(err, storage.ErrNotFound) {
		response := map[string]interface{}{
			"indexed": false,
			"repo_id": repoID,
			"message": "Repository not indexed. Use index_repository tool to index it.",
		}
		return mcp.NewToolResultText(formatJSON(response)), nil
	}
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to get repository", map[string]interface{}{
			"error": err.Error(),
		})
	}

	indexed, err := s.storage.CountFileIndexes(ctx, repoID)
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to count file indexes", map[string]interface{}{
			"error": err.Error(),
		})
	}

	return mcp.NewToolResultText(formatJSON(repositorySummary(repo, indexed))), nil
}

// handleListRepositories handles the list_repositories tool invocation
func (s *Server) handleListRepositories(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	repos, err := s.storage.ListRepositories(ctx)
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to list repositories", map[string]interface{}{
			"error": err.Error(),
		})
	}

	list := make([]map[string]interface{}, 0, len(repos))
	for _, repo := range repos {
		list = append(list, map[string]interface{}{
			"repo_id":          repo.RepoID,
			"name":             repo.Name,
			"status":           repo.Status,
			"progress_percent": fmt.Sprintf("%.1f", repo.Progress()),
			"last_updated":     repo.LastUpdated.Format(time.RFC3339),
		})
	}

	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"count":        len(list),
		"repositories": list,
	})), nil
}

// handleGetFileIndex handles the get_file_index tool invocation
func (s *Server) handleGetFileIndex(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	repoID := getStringDefault(args, "repo_id", "")
	if repoID == "" {
		return nil, missingParam("repo_id")
	}
	filePath := getStringDefault(args, "file_path", "")
	if filePath == "" {
		return nil, missingParam("file_path")
	}

	rec, err := s.storage.GetFileIndex(ctx, repoID, filepath.ToSlash(filepath.Clean(filePath)))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, newMCPError(ErrorCodeNotIndexed, "file not indexed", map[string]interface{}{
			"repo_id":   repoID,
			"file_path": filePath,
		})
	}
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to get file index", map[string]interface{}{
			"error": err.Error(),
		})
	}

	return mcp.NewToolResultText(formatJSON(rec)), nil
}

// handleGetJobStatus handles the get_job_status tool invocation
func (s *Server) handleGetJobStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	jobID := getStringDefault(args, "job_id", "")
	if jobID == "" {
		return nil, missingParam("job_id")
	}

	if s.jobs == nil {
		return nil, newMCPError(ErrorCodeJobNotFound, "job not found", map[string]interface{}{"job_id": jobID})
	}
	status, err := s.jobs.Status(jobID)
	if errors.Is(err, jobs.ErrJobNotFound) {
		return nil, newMCPError(ErrorCodeJobNotFound, "job not found", map[string]interface{}{"job_id": jobID})
	}
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to get job status", map[string]interface{}{
			"error": err.Error(),
		})
	}

	return mcp.NewToolResultText(formatJSON(status)), nil
}

// handleCancelJob handles the cancel_job tool invocation
func (s *Server) handleCancelJob(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	jobID := getStringDefault(args, "job_id", "")
	if jobID == "" {
		return nil, missingParam("job_id")
	}
	if s.jobs == nil {
		return nil, newMCPError(ErrorCodeJobNotFound, "job not found", map[string]interface{}{"job_id": jobID})
	}

	err := s.jobs.Cancel(jobID)
	switch {
	case errors.Is(err, jobs.ErrJobNotFound):
		return nil, newMCPError(ErrorCodeJobNotFound, "job not found", map[string]interface{}{"job_id": jobID})
	case errors.Is(err, jobs.ErrJobFinished):
		return nil, newMCPError(ErrorCodeJobFinished, "job already finished", map[string]interface{}{"job_id": jobID})
	case err != nil:
		return nil, newMCPError(ErrorCodeInternalError, "failed to cancel job", map[string]interface{}{
			"error": err.Error(),
		})
	}

	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"job_id":    jobID,
		"cancelled": true,
		"message":   "Cancellation requested. Use get_job_status to follow the job.",
	})), nil
}

// handleListFileIndexes handles the list_file_indexes tool invocation
func (s *Server) handleListFileIndexes(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	repoID := getStringDefault(args, "repo_id", "")
	if repoID == "" {
		return nil, missingParam("repo_id")
	}
	prefix := getStringDefault(args, "path_prefix", "")

	if _, err := s.storage.GetRepository(ctx, repoID); errors.Is(err, storage.ErrNotFound) {
		return nil, newMCPError(ErrorCodeRepoNotFound, "repository not indexed", map[string]interface{}{"repo_id": repoID})
	} else if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to get repository", map[string]interface{}{
			"error": err.Error(),
		})
	}

	recs, err := s.storage.ListFileIndexes(ctx, repoID)
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to list file indexes", map[string]interface{}{
			"error": err.Error(),
		})
	}

	files := make([]map[string]interface{}, 0, len(recs))
	for _, rec := range recs {
		if !strings.HasPrefix(rec.FilePath, prefix) {
			continue
		}
		files = append(files, fileSummary(rec))
	}

	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"repo_id": repoID,
		"count":   len(files),
		"files":   files,
	})), nil
}

// handleDeleteFileIndex handles the delete_file_index tool invocation
func (s *Server) handleDeleteFileIndex(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	repoID := getStringDefault(args, "repo_id", "")
	if repoID == "" {
		return nil, missingParam("repo_id")
	}
	filePath := getStringDefault(args, "file_path", "")
	if filePath == "" {
		return nil, missingParam("file_path")
	}
	filePath = filepath.ToSlash(filepath.Clean(filePath))

	err := s.storage.DeleteFileIndex(ctx, repoID, filePath)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, newMCPError(ErrorCodeNotIndexed, "file not indexed", map[string]interface{}{
			"repo_id":   repoID,
			"file_path": filePath,
		})
	}
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to delete file index", map[string]interface{}{
			"error": err.Error(),
		})
	}

	s.logger.Info("deleted file index", slog.String("repo_id", repoID), slog.String("file_path", filePath))
	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"repo_id":   repoID,
		"file_path": filePath,
		"deleted":   true,
	})), nil
}

// handleDeleteRepository handles the delete_repository tool invocation
func (s *Server) handleDeleteRepository(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	repoID := getStringDefault(args, "repo_id", "")
	if repoID == "" {
		return nil, missingParam("repo_id")
	}
	if s.jobs != nil && s.jobs.Running(repoID) {
		return nil, newMCPError(ErrorCodeIndexingInProgress, "indexing in progress, cancel the job first", map[string]interface{}{
			"repo_id": repoID,
		})
	}

	err := s.storage.DeleteRepository(ctx, repoID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, newMCPError(ErrorCodeRepoNotFound, "repository not indexed", map[string]interface{}{"repo_id": repoID})
	}
	if errors.Is(err, types.ErrInvalidRepoID) {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid repo_id", map[string]interface{}{
			"param":  "repo_id",
			"reason": err.Error(),
		})
	}
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to delete repository", map[string]interface{}{
			"error": err.Error(),
		})
	}

	s.logger.Info("deleted repository", slog.String("repo_id", repoID))
	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"repo_id": repoID,
		"deleted": true,
	})), nil
}

// Helper functions

// fileSummary formats a file index record for listings
func fileSummary(rec *types.FileIndexRecord) map[string]interface{} {
	return map[string]interface{}{
		"file_path":             rec.FilePath,
		"language":              rec.Language,
		"content_hash":          rec.FileContentHash,
		"last_commit_sha":       rec.LastCommitSHA,
		"last_commit_timestamp": rec.LastCommitTimestamp.Format(time.RFC3339),
		"export_count":          types.CountEntries(rec.Exports),
		"import_count":          len(rec.Imports),
		"parse_errors":          len(rec.ParseErrors),
		"updated_at":            rec.UpdatedAt.Format(time.RFC3339),
	}
}

// repositorySummary formats a repository record for tool output
func repositorySummary(repo *types.RepositoryRecord, indexedFiles int) map[string]interface{} {
	summary := map[string]interface{}{
		"indexed": true,
		"repository": map[string]interface{}{
			"repo_id": repo.RepoID,
			"name":    repo.Name,
			"url":     repo.URL,
			"status":  repo.Status,
		},
		"progress": map[string]interface{}{
			"total_files":      repo.TotalFiles,
			"processed_files":  repo.ProcessedFiles,
			"indexed_files":    indexedFiles,
			"progress_percent": fmt.Sprintf("%.1f", repo.Progress()),
			"complete":         repo.IsComplete(),
		},
		"last_updated": repo.LastUpdated.Format(time.RFC3339),
		"updated_ago":  humanize.Time(repo.LastUpdated),
	}
	if repo.LastProcessedCommit != "" {
		summary["last_processed_commit"] = map[string]interface{}{
			"sha":       repo.LastProcessedCommit,
			"timestamp": repo.LastProcessedCommitTimestamp.Format(time.RFC3339),
		}
	}
	if repo.LastError != "" {
		summary["last_error"] = repo.LastError
	}
	return summary
}

// parseFileChanges decodes the files argument
func parseFileChanges(raw interface{}) ([]types.FileChange, error) {
	items, ok := raw.([]interface{})
	if !ok {
		return nil, errors.New("files must be an array")
	}
	files := make([]types.FileChange, 0, len(items))
	for i, item := range items {
		obj, ok := item.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("files[%d] must be an object", i)
		}
		path := getStringDefault(obj, "path", "")
		sha := getStringDefault(obj, "commit_sha", "")
		stamp := getStringDefault(obj, "commit_timestamp", "")
		content, hasContent := obj["content"].(string)
		if path == "" || sha == "" || stamp == "" || !hasContent {
			return nil, fmt.Errorf("files[%d] requires path, content, commit_sha and commit_timestamp", i)
		}
		ts, err := time.Parse(time.RFC3339, stamp)
		if err != nil {
			return nil, fmt.Errorf("files[%d].commit_timestamp: %w", i, err)
		}
		files = append(files, types.FileChange{
			Path:            filepath.ToSlash(filepath.Clean(path)),
			Content:         []byte(content),
			CommitSHA:       sha,
			CommitTimestamp: ts.UTC(),
		})
	}
	return files, nil
}

// newMCPError creates a properly formatted MCP error
func newMCPError(code int, message string, data interface{}) error {
	// MCP errors are returned as regular errors, the framework handles encoding
	return &MCPError{
		Code:    code,
		Message: message,
		Data:    data,
	}
}

func missingParam(name string) error {
	return newMCPError(ErrorCodeInvalidParams, name+" parameter is required", map[string]interface{}{
		"param":  name,
		"reason": "missing or empty",
	})
}

// MCPError represents an MCP protocol error
type MCPError struct {
	Code    int
	Message string
	Data    interface{}
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// validatePath checks that path is an absolute, readable directory
func validatePath(path string) error {
	if path == "" {
		return ErrPathRequired
	}

	if !filepath.IsAbs(path) {
		return ErrPathNotAbsolute
	}

	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return ErrPathNotFound
	}
	if err != nil {
		return ErrPathNotReadable
	}

	if !info.IsDir() {
		return ErrNotDirectory
	}

	f, err := os.Open(path)
	if err != nil {
		return ErrPathNotReadable
	}
	_ = f.Close()

	return nil
}

// formatJSON formats a value as indented JSON
func formatJSON(data interface{}) string {
	bytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	return string(bytes)
}

// getBoolDefault extracts a boolean parameter with a default value
func getBoolDefault(args map[string]interface{}, key string, defaultValue bool) bool {
	if val, ok := args[key].(bool); ok {
		return val
	}
	return defaultValue
}

// getStringDefault extracts a string parameter with a default value
func getStringDefault(args map[string]interface{}, key string, defaultValue string) string {
	if val, ok := args[key].(string); ok {
		return val
	}
	return defaultValue
}

// Validation helpers

var (
	ErrPathRequired    = errors.New("path is required")
	ErrPathNotAbsolute = errors.New("path must be absolute")
	ErrPathNotFound    = errors.New("path does not exist")
	ErrPathNotReadable = errors.New("path is not readable")
	ErrNotDirectory    = errors.New("path is not a directory")
)
