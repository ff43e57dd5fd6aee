// Package mcp implements the Model Context Protocol (MCP) server for repoindex.
//
// The server exposes the indexer to MCP clients over stdio:
//   - index_repository: Index a checkout, or explicitly supplied files
//   - get_repository: Check indexing status and progress of a repository
//   - list_repositories: List every known repository
//   - get_file_index: Read the exports and imports recorded for one file
//   - get_job_status: Check a batch job submitted by index_repository
//   - cancel_job: Stop a running batch job
//   - list_file_indexes: List the indexed files of a repository
//   - delete_file_index: Remove one file's index record
//   - delete_repository: Remove a repository and everything indexed for it
//
// # Tool: index_repository
//
//	Request:
//	{
//	  "name": "index_repository",
//	  "arguments": {
//	    "repo_id": "web-app",
//	    "path": "/src/web-app",
//	    "since_commit": "4f2a9c1",
//	    "force_reindex": false
//	  }
//	}
//
// Small requests run directly and the response carries the report:
//
//	{
//	  "repo_id": "web-app",
//	  "mode": "direct",
//	  "files": 12,
//	  "succeeded": 11,
//	  "skipped": 1,
//	  "failed": 0,
//	  "duration_ms": 840
//	}
//
// Requests at or above the direct threshold are handed to the job backend
// and the response carries "mode": "job" and a "job_id" for get_job_status.
//
// # Error Handling
//
// Handlers return *MCPError values carrying JSON-RPC codes:
//   - -32602: Invalid params (missing/invalid arguments)
//   - -32603: Internal error (database, filesystem, etc.)
//   - -32001: Repository not found
//   - -32002: Indexing in progress
//   - -32003: File not indexed
//   - -32004: Job not found
//   - -32005: Job already finished
//
// # Logging
//
// stdout is reserved for the protocol; the server logs to stderr through
// the slog logger it is given.
package mcp
