package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
)

// indexRepositoryTool returns the tool definition for index_repository
func indexRepositoryTool() mcp.Tool {
	return mcp.Tool{
		Name:        "index_repository",
		Description: "Index the exports and imports of a repository checkout, or of explicitly supplied files",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"repo_id": map[string]interface{}{
					"type":        "string",
					"description": "Stable repository identifier",
				},
				"name": map[string]interface{}{
					"type":        "string",
					"description": "Human-readable repository name",
				},
				"url": map[string]interface{}{
					"type":        "string",
					"description": "Repository URL",
				},
				"path": map[string]interface{}{
					"type":        "string",
					"description": "Absolute path to a git checkout to scan. Required unless files is given.",
				},
				"since_commit": map[string]interface{}{
					"type":        "string",
					"description": "Only scan files changed between this commit and HEAD",
				},
				"files": map[string]interface{}{
					"type":        "array",
					"description": "File changes to index instead of scanning a checkout",
					"items": map[string]interface{}{
						"type": "object",
						"properties": map[string]interface{}{
							"path":             map[string]interface{}{"type": "string"},
							"content":          map[string]interface{}{"type": "string"},
							"commit_sha":       map[string]interface{}{"type": "string"},
							"commit_timestamp": map[string]interface{}{"type": "string", "description": "RFC 3339"},
						},
						"required": []string{"path", "content", "commit_sha", "commit_timestamp"},
					},
				},
				"force_reindex": map[string]interface{}{
					"type":        "boolean",
					"description": "If true, reparse files even when the content hash is unchanged",
					"default":     false,
				},
			},
			Required: []string{"repo_id"},
		},
	}
}

// getRepositoryTool returns the tool definition for get_repository
func getRepositoryTool() mcp.Tool {
	return mcp.Tool{
		Name:        "get_repository",
		Description: "Query indexing status and progress for a repository",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"repo_id": map[string]interface{}{
					"type":        "string",
					"description": "Repository identifier",
				},
			},
			Required: []string{"repo_id"},
		},
	}
}

// listRepositoriesTool returns the tool definition for list_repositories
func listRepositoriesTool() mcp.Tool {
	return mcp.Tool{
		Name:        "list_repositories",
		Description: "List every indexed repository with its status",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}
}

// getFileIndexTool returns the tool definition for get_file_index
func getFileIndexTool() mcp.Tool {
	return mcp.Tool{
		Name:        "get_file_index",
		Description: "Return the exports, imports and parse errors recorded for one file",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"repo_id": map[string]interface{}{
					"type":        "string",
					"description": "Repository identifier",
				},
				"file_path": map[string]interface{}{
					"type":        "string",
					"description": "File path relative to the repository root",
				},
			},
			Required: []string{"repo_id", "file_path"},
		},
	}
}

// getJobStatusTool returns the tool definition for get_job_status
func getJobStatusTool() mcp.Tool {
	return mcp.Tool{
		Name:        "get_job_status",
		Description: "Query the state of a batch indexing job",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"job_id": map[string]interface{}{
					"type":        "string",
					"description": "Job id returned by index_repository",
				},
			},
			Required: []string{"job_id"},
		},
	}
}

// cancelJobTool returns the tool definition for cancel_job
func cancelJobTool() mcp.Tool {
	return mcp.Tool{
		Name:        "cancel_job",
		Description: "Cancel a running batch indexing job. Files in flight abort and the repository is marked failed",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"job_id": map[string]interface{}{
					"type":        "string",
					"description": "Job id returned by index_repository",
				},
			},
			Required: []string{"job_id"},
		},
	}
}

// listFileIndexesTool returns the tool definition for list_file_indexes
func listFileIndexesTool() mcp.Tool {
	return mcp.Tool{
		Name:        "list_file_indexes",
		Description: "List the indexed files of a repository with export and import counts",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"repo_id": map[string]interface{}{
					"type":        "string",
					"description": "Repository identifier",
				},
				"path_prefix": map[string]interface{}{
					"type":        "string",
					"description": "Only list files under this path (e.g. src/)",
				},
			},
			Required: []string{"repo_id"},
		},
	}
}

// deleteFileIndexTool returns the tool definition for delete_file_index
func deleteFileIndexTool() mcp.Tool {
	return mcp.Tool{
		Name:        "delete_file_index",
		Description: "Remove the index record of one file",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"repo_id": map[string]interface{}{
					"type":        "string",
					"description": "Repository identifier",
				},
				"file_path": map[string]interface{}{
					"type":        "string",
					"description": "File path relative to the repository root",
				},
			},
			Required: []string{"repo_id", "file_path"},
		},
	}
}

// deleteRepositoryTool returns the tool definition for delete_repository
func deleteRepositoryTool() mcp.Tool {
	return mcp.Tool{
		Name:        "delete_repository",
		Description: "Remove a repository with all of its file indexes and locks",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"repo_id": map[string]interface{}{
					"type":        "string",
					"description": "Repository identifier",
				},
			},
			Required: []string{"repo_id"},
		},
	}
}
