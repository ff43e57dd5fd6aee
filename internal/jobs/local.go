package jobs

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dshills/repoindex/pkg/types"
)

// LocalBackend runs jobs in-process on a background goroutine
type LocalBackend struct {
	runner  *Runner
	guard   *RepoGuard
	jobs    *table
	timeout time.Duration
	logger  *slog.Logger
	wg      sync.WaitGroup
}

// NewLocalBackend creates a backend that runs jobs with runner. A zero
// timeout means jobs run until done.
func NewLocalBackend(runner *Runner, timeout time.Duration, logger *slog.Logger) *LocalBackend {
	if logger == nil {
		logger = slog.Default()
	}
	return &LocalBackend{
		runner:  runner,
		guard:   NewRepoGuard(),
		jobs:    newTable(),
		timeout: timeout,
		logger:  logger,
	}
}

// Submit starts the job in the background and returns its job id. The job
// outlives ctx; only the backend timeout and Cancel stop it. A second job for a
// repository that already has one running is refused with ErrJobRunning.
func (b *LocalBackend) Submit(ctx context.Context, spec types.JobSpec) (string, error) {
	if err := types.ValidateRepoID(spec.RepoID); err != nil {
		return "", err
	}
	if !b.guard.TryAcquire(spec.RepoID) {
		return "", ErrJobRunning
	}

	id := uuid.NewString()
	jobCtx, cancelJob := context.WithCancelCause(context.WithoutCancel(ctx))
	b.jobs.add(id, spec, cancelJob)

	timeout := b.timeout
	if spec.Limits.Timeout > 0 {
		timeout = spec.Limits.Timeout
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer b.guard.Release(spec.RepoID)
		defer cancelJob(nil)

		runCtx := jobCtx
		if timeout > 0 {
			var cancel context.CancelFunc
			runCtx, cancel = context.WithTimeout(jobCtx, timeout)
			defer cancel()
		}

		b.jobs.start(id)
		report, err := b.runner.Run(runCtx, spec)
		b.jobs.finish(id, report, err)

		if err != nil {
			b.logger.Error("job failed",
				slog.String("job_id", id),
				slog.String("repo_id", spec.RepoID),
				slog.String("error", err.Error()))
			return
		}
		b.logger.Info("job finished",
			slog.String("job_id", id),
			slog.String("repo_id", spec.RepoID),
			slog.Int("succeeded", report.Succeeded),
			slog.Int("skipped", report.Skipped),
			slog.Int("failed", report.Failed))
	}()

	return id, nil
}

// Status returns the current status of a job
func (b *LocalBackend) Status(id string) (Status, error) {
	return b.jobs.get(id)
}

// Cancel stops the job with the given id
func (b *LocalBackend) Cancel(id string) error {
	if err := b.jobs.cancel(id); err != nil {
		return err
	}
	b.logger.Info("job cancel requested", slog.String("job_id", id))
	return nil
}

// Running reports whether a job for repoID is in flight
func (b *LocalBackend) Running(repoID string) bool {
	return b.guard.Running(repoID)
}

// CancelAll cancels every unfinished job
func (b *LocalBackend) CancelAll() {
	b.jobs.cancelAll()
}

// Wait blocks until every submitted job has finished
func (b *LocalBackend) Wait() {
	b.wg.Wait()
}
