package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dshills/repoindex/internal/lock"
	"github.com/dshills/repoindex/internal/storage"
	"github.com/dshills/repoindex/pkg/types"
)

// Parser extracts exports and imports from one file. Syntax problems are
// reported in ParseResult.Errors; a returned error means the parser could
// not run at all.
type Parser interface {
	Parse(ctx context.Context, path string, content []byte, language string) (*types.ParseResult, error)
	Language(path string) string
}

// Indexer coordinates the per-file pipeline: lock -> dedup -> parse -> commit
type Indexer struct {
	store     storage.Storage
	parser    Parser
	locks     *lock.Manager
	committer *Committer
	jobs      JobSubmitter
	logger    *slog.Logger

	cfg Config
}

// Config contains configuration for the indexer
type Config struct {
	MaxConcurrentFiles int           // Files processed at once (default: 10)
	FileTimeout        time.Duration // Upper bound for one file's pipeline (default: 5m)
	LockTTL            time.Duration // Lease TTL (default: 5m)
	RenewInterval      time.Duration // Lease renewal period (default: LockTTL/3)
	DirectThreshold    int           // Requests this large go to a job (default: 100)
	FailureThreshold   float64       // failed/attempted above this marks the repo failed (default: 0.5)
	Retry              RetryConfig   // Commit retry policy
	Logger             *slog.Logger
}

// DefaultConfig returns the indexer defaults
func DefaultConfig() Config {
	return Config{
		MaxConcurrentFiles: 10,
		FileTimeout:        5 * time.Minute,
		LockTTL:            lock.DefaultTTL,
		DirectThreshold:    100,
		FailureThreshold:   0.5,
		Retry:              DefaultRetryConfig(),
	}
}

func (c *Config) applyDefaults() {
	def := DefaultConfig()
	if c.MaxConcurrentFiles <= 0 {
		c.MaxConcurrentFiles = def.MaxConcurrentFiles
	}
	if c.FileTimeout <= 0 {
		c.FileTimeout = def.FileTimeout
	}
	if c.LockTTL <= 0 {
		c.LockTTL = def.LockTTL
	}
	if c.DirectThreshold <= 0 {
		c.DirectThreshold = def.DirectThreshold
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = def.FailureThreshold
	}
	if c.Retry.MaxRetries <= 0 {
		c.Retry = def.Retry
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Option customizes an Indexer
type Option func(*Indexer)

// WithJobSubmitter enables job mode for large requests
func WithJobSubmitter(js JobSubmitter) Option {
	return func(idx *Indexer) { idx.jobs = js }
}

// WithLockManager replaces the lock manager built from Config
func WithLockManager(m *lock.Manager) Option {
	return func(idx *Indexer) { idx.locks = m }
}

// New creates a new Indexer instance
func New(store storage.Storage, parser Parser, cfg Config, opts ...Option) *Indexer {
	cfg.applyDefaults()
	idx := &Indexer{
		store:  store,
		parser: parser,
		logger: cfg.Logger,
		cfg:    cfg,
	}
	for _, opt := range opts {
		opt(idx)
	}
	if idx.locks == nil {
		idx.locks = lock.New(store,
			lock.WithTTL(cfg.LockTTL),
			lock.WithRenewInterval(cfg.RenewInterval),
			lock.WithLogger(cfg.Logger))
	}
	idx.committer = NewCommitter(store, idx.locks, cfg.Retry, cfg.Logger)
	return idx
}

// Config returns the effective configuration
func (idx *Indexer) Config() Config {
	return idx.cfg
}

// BatchOptions tunes a single ProcessBatch call
type BatchOptions struct {
	// ForceReindex skips the content hash check. Older commits are still
	// rejected.
	ForceReindex bool
}

// ProcessBatch runs every file through the pipeline with at most
// MaxConcurrentFiles in flight. Per-file failures are recorded in the
// report and never abort the batch. The repository must exist.
func (idx *Indexer) ProcessBatch(ctx context.Context, repoID string, files []types.FileChange, opts BatchOptions) (*types.BatchReport, error) {
	if err := types.ValidateRepoID(repoID); err != nil {
		return nil, err
	}
	if _, err := idx.store.GetRepository(ctx, repoID); err != nil {
		return nil, fmt.Errorf("failed to load repository %s: %w", repoID, err)
	}

	start := time.Now()
	results := make([]types.FileResult, len(files))

	var g errgroup.Group
	g.SetLimit(idx.cfg.MaxConcurrentFiles)

	for i := range files {
		if err := ctx.Err(); err != nil {
			results[i] = notStarted(files[i].Path, err)
			continue
		}
		g.Go(func() error {
			results[i] = idx.processFile(ctx, repoID, files[i], opts)
			return nil
		})
	}
	_ = g.Wait()

	report := &types.BatchReport{RepoID: repoID, Files: make([]types.FileResult, 0, len(files))}
	for _, fr := range results {
		report.Add(fr)
	}
	report.Duration = time.Since(start)

	idx.logger.Info("batch processed",
		slog.String("repo_id", repoID),
		slog.Int("files", len(files)),
		slog.Int("succeeded", report.Succeeded),
		slog.Int("skipped", report.Skipped),
		slog.Int("failed", report.Failed),
		slog.Duration("duration", report.Duration))

	return report, nil
}

func notStarted(path string, err error) types.FileResult {
	return types.FileResult{
		Path:    path,
		Outcome: types.OutcomeFailed,
		States:  []types.FileState{types.StatePending},
		Error:   err.Error(),
	}
}

// processFile runs one file through lock -> dedup -> parse -> commit
func (idx *Indexer) processFile(ctx context.Context, repoID string, fc types.FileChange, opts BatchOptions) types.FileResult {
	res := types.FileResult{Path: fc.Path, States: []types.FileState{types.StatePending}}
	if err := ctx.Err(); err != nil {
		return notStarted(fc.Path, err)
	}
	if fc.Path == "" {
		res.Outcome = types.OutcomeFailed
		res.Error = types.ErrMissingFilePath.Error()
		return res
	}
	if fc.CommitTimestamp.IsZero() {
		res.Outcome = types.OutcomeFailed
		res.Error = types.ErrMissingTimestamp.Error()
		return res
	}

	acquired := false
	err := idx.locks.WithLock(ctx, types.LockKey(repoID, fc.Path), func(ctx context.Context, lease *lock.Lease) error {
		acquired = true
		res.States = append(res.States, types.StateLockAcquired)

		fileCtx, cancel := context.WithTimeout(ctx, idx.cfg.FileTimeout)
		defer cancel()
		if err := idx.runLocked(fileCtx, repoID, fc, opts, lease, &res); err != nil {
			res.States = append(res.States, types.StateErrored)
			return err
		}
		return nil
	})
	if acquired {
		res.States = append(res.States, types.StateLockReleased)
	}

	switch {
	case errors.Is(err, types.ErrLockHeld):
		res.Outcome = types.OutcomeSkipped
		res.Reason = types.ReasonLockHeld
	case err != nil && res.Outcome == "":
		res.Outcome = types.OutcomeFailed
		res.Error = err.Error()
		idx.logger.Warn("file failed",
			slog.String("repo_id", repoID),
			slog.String("path", fc.Path),
			slog.String("error", err.Error()))
	case err != nil:
		// The file's outcome is settled; only the release failed
		idx.logger.Warn("lock release failed",
			slog.String("repo_id", repoID),
			slog.String("path", fc.Path),
			slog.String("error", err.Error()))
	}
	return res
}

// runLocked is the part of the pipeline that runs while the lease is held.
// It returns an error only when the file failed; skips set the outcome.
func (idx *Indexer) runLocked(ctx context.Context, repoID string, fc types.FileChange, opts BatchOptions, lease *lock.Lease, res *types.FileResult) error {
	hash := types.ContentHash(fc.Content)

	existing, err := idx.store.GetFileIndex(ctx, repoID, fc.Path)
	if errors.Is(err, storage.ErrNotFound) {
		existing = nil
	} else if err != nil {
		return storageErr("read file index", err)
	}

	switch shouldProcess(existing, fc.CommitTimestamp, hash, opts.ForceReindex) {
	case SkipStale:
		res.Skip(types.StateSkippedStale, types.ReasonStale)
		return nil
	case SkipUnchanged:
		res.Skip(types.StateSkippedUnchanged, types.ReasonUnchanged)
		return nil
	}

	rec := &types.FileIndexRecord{
		RepoID:              repoID,
		FilePath:            fc.Path,
		FileContentHash:     hash,
		LastCommitSHA:       fc.CommitSHA,
		LastCommitTimestamp: fc.CommitTimestamp,
		Language:            idx.parser.Language(fc.Path),
		Exports:             []types.ExportEntry{},
		Imports:             []types.ImportEntry{},
	}

	result, err := idx.safeParse(ctx, fc.Path, fc.Content, rec.Language)
	if err != nil {
		rec.ParseErrors = []string{err.Error()}
	} else {
		rec.ParseErrors = result.ErrorMessages()
		var invalid []string
		rec.Exports, invalid = validExports(result.Exports)
		rec.ParseErrors = append(rec.ParseErrors, invalid...)
		if result.Imports != nil {
			rec.Imports = result.Imports
		}
	}
	res.States = append(res.States, types.StateParsed)

	err = idx.committer.Commit(ctx, rec, lease)
	if errors.Is(err, types.ErrStaleUpdate) {
		// A newer revision committed between the dedup read and our commit
		res.Skip(types.StateSkippedStale, types.ReasonStale)
		return nil
	}
	if err != nil {
		return err
	}

	res.States = append(res.States, types.StateCommitted)
	res.Outcome = types.OutcomeSucceeded
	res.ParseErrors = rec.ParseErrors
	return nil
}

// validExports drops entries that fail validation and describes each one.
// A parser that emits a malformed entry is treated like a parse problem for
// that entry only.
func validExports(exports []types.ExportEntry) ([]types.ExportEntry, []string) {
	valid := make([]types.ExportEntry, 0, len(exports))
	var invalid []string
	for i := range exports {
		if err := exports[i].Validate(); err != nil {
			invalid = append(invalid, fmt.Sprintf("%s: %v", types.ErrParseFailure, err))
			continue
		}
		valid = append(valid, exports[i])
	}
	return valid, invalid
}

// safeParse calls the parser and converts a panic into an error
func (idx *Indexer) safeParse(ctx context.Context, path string, content []byte, language string) (result *types.ParseResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			idx.logger.Error("parser panic",
				slog.String("path", path),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
			result = nil
			err = fmt.Errorf("%w: panic: %v", types.ErrParseFailure, r)
		}
	}()

	result, err = idx.parser.Parse(ctx, path, content, language)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", types.ErrParseFailure, err)
	}
	if result == nil {
		result = &types.ParseResult{Language: language}
	}
	return result, nil
}

// FinalizeStatus applies the failure policy to a finished batch: the
// repository is marked failed when more than FailureThreshold of the
// attempted files failed, and steady otherwise.
func (idx *Indexer) FinalizeStatus(ctx context.Context, repoID string, report *types.BatchReport) error {
	status, lastError := idx.finalStatus(report)
	if err := idx.store.UpdateRepositoryStatus(ctx, repoID, status, lastError); err != nil {
		return fmt.Errorf("failed to finalize status: %w", err)
	}
	idx.logger.Info("repository status",
		slog.String("repo_id", repoID),
		slog.String("status", string(status)))
	return nil
}

func (idx *Indexer) finalStatus(report *types.BatchReport) (types.RepoStatus, string) {
	attempted := report.Attempted()
	if attempted > 0 && float64(report.Failed)/float64(attempted) > idx.cfg.FailureThreshold {
		return types.StatusFailed, report.FirstError()
	}
	return types.StatusSteady, ""
}
