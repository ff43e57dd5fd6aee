package mcp

import (
	"context"
	"errors"
	"log/slog"

	"github.com/mark3labs/mcp-go/server"

	"github.com/dshills/repoindex/internal/indexer"
	"github.com/dshills/repoindex/internal/jobs"
	"github.com/dshills/repoindex/internal/source"
	"github.com/dshills/repoindex/internal/storage"
)

const (
	// ServerName is the MCP server name
	ServerName = "repoindex"
	// ServerVersion is the current server version
	ServerVersion = "1.0.0"
)

// Deps are the collaborators the server exposes as tools
type Deps struct {
	Store   storage.Storage
	Indexer *indexer.Indexer
	// Jobs is optional; without it get_job_status reports every id unknown
	Jobs jobs.Backend
	// Parser filters which files a checkout scan delivers
	Parser        source.Supporter
	SourceOptions source.Options
	Logger        *slog.Logger
}

// Server wraps the MCP server with application dependencies
type Server struct {
	mcp        *server.MCPServer
	storage    storage.Storage
	indexer    *indexer.Indexer
	jobs       jobs.Backend
	parser     source.Supporter
	sourceOpts source.Options
	logger     *slog.Logger
}

// NewServer creates a new MCP server instance. The caller owns the store
// and closes it after Serve returns.
func NewServer(deps Deps) (*Server, error) {
	if deps.Store == nil || deps.Indexer == nil || deps.Parser == nil {
		return nil, errors.New("mcp server requires a store, an indexer and a parser")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	s := &Server{
		mcp:        server.NewMCPServer(ServerName, ServerVersion, server.WithToolCapabilities(false)),
		storage:    deps.Store,
		indexer:    deps.Indexer,
		jobs:       deps.Jobs,
		parser:     deps.Parser,
		sourceOpts: deps.SourceOptions,
		logger:     deps.Logger,
	}
	s.registerTools()
	return s, nil
}

// Serve starts the MCP server on stdio and blocks until shutdown
func (s *Server) Serve(ctx context.Context) error {
	s.logger.Info("mcp server listening on stdio", slog.String("version", ServerVersion))
	return server.ServeStdio(s.mcp)
}

// registerTools registers all MCP tools
func (s *Server) registerTools() {
	s.mcp.AddTool(indexRepositoryTool(), s.handleIndexRepository)
	s.mcp.AddTool(getRepositoryTool(), s.handleGetRepository)
	s.mcp.AddTool(listRepositoriesTool(), s.handleListRepositories)
	s.mcp.AddTool(getFileIndexTool(), s.handleGetFileIndex)
	s.mcp.AddTool(getJobStatusTool(), s.handleGetJobStatus)
	s.mcp.AddTool(cancelJobTool(), s.handleCancelJob)
	s.mcp.AddTool(listFileIndexesTool(), s.handleListFileIndexes)
	s.mcp.AddTool(deleteFileIndexTool(), s.handleDeleteFileIndex)
	s.mcp.AddTool(deleteRepositoryTool(), s.handleDeleteRepository)
}
