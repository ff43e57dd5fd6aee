package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/dshills/repoindex/internal/indexer"
	"github.com/dshills/repoindex/internal/storage"
	"github.com/dshills/repoindex/pkg/types"
)

// Processor runs the per-file pipeline over a chunk of files
type Processor interface {
	ProcessBatch(ctx context.Context, repoID string, files []types.FileChange, opts indexer.BatchOptions) (*types.BatchReport, error)
	FinalizeStatus(ctx context.Context, repoID string, report *types.BatchReport) error
}

// RunnerConfig tunes how a job streams its files
type RunnerConfig struct {
	ChunkSize     int           // Files per chunk (default: 50)
	ChunkInterval time.Duration // Minimum spacing between chunks (default: 1s, negative disables)
	Logger        *slog.Logger
}

// DefaultRunnerConfig returns the runner defaults
func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{
		ChunkSize:     50,
		ChunkInterval: time.Second,
	}
}

// Runner executes a job: it streams the job's files through the
// processor in paced chunks and keeps the repository status current.
type Runner struct {
	proc   Processor
	store  storage.Storage
	cfg    RunnerConfig
	logger *slog.Logger
}

// NewRunner creates a Runner
func NewRunner(proc Processor, store storage.Storage, cfg RunnerConfig) *Runner {
	def := DefaultRunnerConfig()
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = def.ChunkSize
	}
	if cfg.ChunkInterval == 0 {
		cfg.ChunkInterval = def.ChunkInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Runner{proc: proc, store: store, cfg: cfg, logger: cfg.Logger}
}

// Run processes every file of the job. Files left unprocessed when ctx ends
// are reported failed, and the repository status is finalized on a
// detached context either way. Replaying a job is safe: files already
// indexed dedup to skips.
func (r *Runner) Run(ctx context.Context, spec types.JobSpec) (*types.BatchReport, error) {
	if err := types.ValidateRepoID(spec.RepoID); err != nil {
		return nil, err
	}
	start := time.Now()

	if _, err := r.store.EnsureRepository(ctx, &types.RepositoryRecord{
		RepoID: spec.RepoID,
		Name:   spec.Name,
		URL:    spec.URL,
	}); err != nil {
		return nil, fmt.Errorf("failed to ensure repository: %w", err)
	}
	if err := r.store.RaiseTotalFiles(ctx, spec.RepoID, len(spec.Files)); err != nil {
		return nil, err
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if r.cfg.ChunkInterval > 0 {
		limiter = rate.NewLimiter(rate.Every(r.cfg.ChunkInterval), 1)
	}

	report := &types.BatchReport{RepoID: spec.RepoID}
	opts := indexer.BatchOptions{ForceReindex: spec.ForceReindex}
	var runErr error

	for offset := 0; offset < len(spec.Files); offset += r.cfg.ChunkSize {
		end := min(offset+r.cfg.ChunkSize, len(spec.Files))
		chunk := spec.Files[offset:end]

		if err := limiter.Wait(ctx); err != nil {
			runErr = cause(ctx, err)
			abandon(report, spec.Files[offset:], runErr)
			break
		}

		// Touches lastUpdated so watchers can tell the job is alive
		if err := r.store.UpdateRepositoryStatus(ctx, spec.RepoID, types.StatusIndexing, ""); err != nil {
			runErr = cause(ctx, err)
			abandon(report, spec.Files[offset:], runErr)
			break
		}

		part, err := r.proc.ProcessBatch(ctx, spec.RepoID, chunk, opts)
		if err != nil {
			runErr = cause(ctx, err)
			abandon(report, spec.Files[offset:], runErr)
			break
		}
		report.Merge(part)

		r.logger.Info("job progress",
			slog.String("repo_id", spec.RepoID),
			slog.Int("done", end),
			slog.Int("total", len(spec.Files)),
			slog.Int("failed", report.Failed))

		if ctx.Err() != nil {
			runErr = context.Cause(ctx)
			abandon(report, spec.Files[end:], runErr)
			break
		}
	}
	report.Duration = time.Since(start)

	finalizeCtx := context.WithoutCancel(ctx)
	if runErr != nil {
		msg := fmt.Sprintf("job interrupted: %v", runErr)
		switch {
		case errors.Is(runErr, context.DeadlineExceeded):
			msg = "job timed out"
		case errors.Is(runErr, ErrJobCancelled):
			msg = ErrJobCancelled.Error()
		}
		if err := r.store.UpdateRepositoryStatus(finalizeCtx, spec.RepoID, types.StatusFailed, msg); err != nil {
			r.logger.Error("failed to record job failure", slog.String("repo_id", spec.RepoID), slog.String("error", err.Error()))
		}
		return report, runErr
	}

	if err := r.proc.FinalizeStatus(finalizeCtx, spec.RepoID, report); err != nil {
		return report, err
	}
	return report, nil
}

// cause prefers the context's cancellation cause, so a timeout or a
// cancel is reported as one whichever call noticed it first
func cause(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return context.Cause(ctx)
	}
	return err
}

// abandon records files that never started as failed
func abandon(report *types.BatchReport, files []types.FileChange, reason error) {
	for _, fc := range files {
		report.Add(types.FileResult{
			Path:    fc.Path,
			Outcome: types.OutcomeFailed,
			States:  []types.FileState{types.StatePending},
			Error:   reason.Error(),
		})
	}
}
