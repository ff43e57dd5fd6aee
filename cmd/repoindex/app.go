package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/dshills/repoindex/internal/config"
	"github.com/dshills/repoindex/internal/indexer"
	"github.com/dshills/repoindex/internal/jobs"
	"github.com/dshills/repoindex/internal/parser"
	"github.com/dshills/repoindex/internal/storage"
)

// app holds the wired collaborators for one command invocation
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	store   *storage.SQLiteStorage
	parser  *parser.Registry
	indexer *indexer.Indexer
	runner  *jobs.Runner
	jobs    jobs.Backend
}

// loadConfig resolves configuration and applies command-line overrides
func loadConfig(flags *globalFlags) (*config.Config, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return nil, err
	}
	if flags.dbPath != "" {
		cfg.Database.Path = flags.dbPath
	}
	return cfg, nil
}

// openApp opens the store and wires the indexer. The job backend named in
// cfg is attached only when withJobs is set; a job process never submits
// further jobs.
func openApp(cfg *config.Config, flags *globalFlags, withJobs bool) (*app, error) {
	logger := cfg.NewLogger(os.Stderr)

	if cfg.Database.Path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	store, err := storage.NewSQLiteStorage(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	a := &app{
		cfg:    cfg,
		logger: logger,
		store:  store,
		parser: parser.NewRegistry(),
	}

	// The runner's indexer has no submitter, so jobs never fan out again
	base := indexer.New(store, a.parser, cfg.IndexerConfig(logger))
	a.runner = jobs.NewRunner(base, store, cfg.RunnerConfig(logger))

	if !withJobs || cfg.Jobs.Backend == config.BackendNone {
		a.indexer = base
		return a, nil
	}

	switch cfg.Jobs.Backend {
	case config.BackendLocal:
		a.jobs = jobs.NewLocalBackend(a.runner, cfg.Jobs.Timeout.Std(), logger)
	case config.BackendExec:
		backend, err := jobs.NewExecBackend(jobs.ExecConfig{
			Executable:  cfg.Jobs.Executable,
			Args:        childArgs(flags, cfg),
			ManifestDir: cfg.Jobs.ManifestDir,
			Limits:      cfg.Limits(),
			Store:       store,
			Logger:      logger,
		})
		if err != nil {
			_ = store.Close()
			return nil, err
		}
		a.jobs = backend
	}
	a.indexer = indexer.New(store, a.parser, cfg.IndexerConfig(logger), indexer.WithJobSubmitter(a.jobs))
	return a, nil
}

// childArgs forwards the global flags a job process needs to reach the
// same database and configuration
func childArgs(flags *globalFlags, cfg *config.Config) []string {
	var args []string
	if flags.configPath != "" {
		args = append(args, "--config", flags.configPath)
	}
	args = append(args, "--db", cfg.Database.Path)
	return args
}

// Close cancels unfinished jobs, waits for them to release their locks
// and closes the store
func (a *app) Close() error {
	if a.jobs != nil {
		a.jobs.CancelAll()
		a.jobs.Wait()
	}
	return a.store.Close()
}
