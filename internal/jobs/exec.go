package jobs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"runtime/debug"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/dshills/repoindex/internal/storage"
	"github.com/dshills/repoindex/pkg/types"
)

// killGrace is how long a child gets past its own timeout before the
// parent kills it
const killGrace = 30 * time.Second

// ExecConfig configures ExecBackend
type ExecConfig struct {
	Executable  string               // Binary to run (default: the current executable)
	Args        []string             // Global flags placed before the job subcommand
	ManifestDir string               // Where manifests are written (default: os.TempDir())
	Limits      types.ResourceLimits // Defaults for specs that carry none
	Stderr      io.Writer            // Child stderr (default: os.Stderr)
	// Store receives the failure of a child that exits without recording
	// one itself. Nil leaves repository status to the child.
	Store  storage.Storage
	Logger *slog.Logger
}

// ExecBackend runs each job as a child process of the same binary,
// handing it the job through a manifest file
type ExecBackend struct {
	cfg    ExecConfig
	guard  *RepoGuard
	jobs   *table
	logger *slog.Logger
	wg     sync.WaitGroup
}

// NewExecBackend creates an ExecBackend
func NewExecBackend(cfg ExecConfig) (*ExecBackend, error) {
	if cfg.Executable == "" {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve executable: %w", err)
		}
		cfg.Executable = exe
	}
	if cfg.ManifestDir == "" {
		cfg.ManifestDir = os.TempDir()
	}
	if cfg.Stderr == nil {
		cfg.Stderr = os.Stderr
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &ExecBackend{
		cfg:    cfg,
		guard:  NewRepoGuard(),
		jobs:   newTable(),
		logger: cfg.Logger,
	}, nil
}

// Submit writes the manifest and starts the child process. It returns
// once the child has started.
func (b *ExecBackend) Submit(ctx context.Context, spec types.JobSpec) (string, error) {
	if err := types.ValidateRepoID(spec.RepoID); err != nil {
		return "", err
	}
	if !b.guard.TryAcquire(spec.RepoID) {
		return "", ErrJobRunning
	}

	spec.Limits = mergeLimits(spec.Limits, b.cfg.Limits)
	id := uuid.NewString()
	manifestPath := filepath.Join(b.cfg.ManifestDir, "repoindex-"+id+".manifest")

	if err := WriteManifest(manifestPath, spec); err != nil {
		b.guard.Release(spec.RepoID)
		return "", err
	}

	jobCtx, cancelJob := context.WithCancelCause(context.WithoutCancel(ctx))
	runCtx, stopTimer := jobCtx, context.CancelFunc(func() {})
	if spec.Limits.Timeout > 0 {
		runCtx, stopTimer = context.WithTimeout(jobCtx, spec.Limits.Timeout+killGrace)
	}
	cleanup := func() {
		stopTimer()
		cancelJob(nil)
	}

	cmd := exec.CommandContext(runCtx, b.cfg.Executable, b.commandArgs(manifestPath, spec.Limits)...)
	cmd.Stdout = b.cfg.Stderr
	cmd.Stderr = b.cfg.Stderr
	// Ask the child to stop so it can release its locks; WaitDelay kills it
	// if it does not
	cmd.Cancel = func() error { return cmd.Process.Signal(syscall.SIGTERM) }
	cmd.WaitDelay = 10 * time.Second

	b.jobs.add(id, spec, cancelJob)
	if err := cmd.Start(); err != nil {
		cleanup()
		_ = os.Remove(manifestPath)
		b.guard.Release(spec.RepoID)
		b.jobs.finish(id, nil, err)
		return "", fmt.Errorf("failed to start job: %w", err)
	}
	b.jobs.start(id)
	b.logger.Info("started job process",
		slog.String("job_id", id),
		slog.String("repo_id", spec.RepoID),
		slog.Int("pid", cmd.Process.Pid))

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer b.guard.Release(spec.RepoID)
		defer cleanup()
		defer func() { _ = os.Remove(manifestPath) }()

		err := cmd.Wait()
		if err != nil && runCtx.Err() != nil {
			err = fmt.Errorf("%w: %w", context.Cause(runCtx), err)
		}
		b.jobs.finish(id, nil, err)
		if err != nil {
			b.logger.Error("job process failed",
				slog.String("job_id", id),
				slog.String("repo_id", spec.RepoID),
				slog.String("error", err.Error()))
			b.recordFailure(spec.RepoID, err)
			return
		}
		b.logger.Info("job process finished", slog.String("job_id", id), slog.String("repo_id", spec.RepoID))
	}()

	return id, nil
}

// recordFailure marks the repository failed after a child exited with an
// error. A child that recorded its own failure keeps its message; one that
// crashed or was killed leaves the repository in a non-failed state.
func (b *ExecBackend) recordFailure(repoID string, jobErr error) {
	if b.cfg.Store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	repo, err := b.cfg.Store.GetRepository(ctx, repoID)
	if errors.Is(err, storage.ErrNotFound) {
		return
	}
	if err == nil && repo.Status == types.StatusFailed {
		return
	}
	msg := "job process failed: " + jobErr.Error()
	if err := b.cfg.Store.UpdateRepositoryStatus(ctx, repoID, types.StatusFailed, msg); err != nil {
		b.logger.Error("failed to record job failure",
			slog.String("repo_id", repoID),
			slog.String("error", err.Error()))
	}
}

// commandArgs builds the child command line
func (b *ExecBackend) commandArgs(manifestPath string, limits types.ResourceLimits) []string {
	args := append([]string(nil), b.cfg.Args...)
	args = append(args, "job", "--manifest", manifestPath)
	if limits.Workers > 0 {
		args = append(args, "--workers", strconv.Itoa(limits.Workers))
	}
	if limits.MemoryLimit > 0 {
		args = append(args, "--memory-limit", humanize.IBytes(uint64(limits.MemoryLimit)))
	}
	if limits.Timeout > 0 {
		args = append(args, "--timeout", limits.Timeout.String())
	}
	return args
}

// Status returns the current status of a job
func (b *ExecBackend) Status(id string) (Status, error) {
	return b.jobs.get(id)
}

// Cancel asks the job's child process to stop
func (b *ExecBackend) Cancel(id string) error {
	if err := b.jobs.cancel(id); err != nil {
		return err
	}
	b.logger.Info("job cancel requested", slog.String("job_id", id))
	return nil
}

// Running reports whether a job for repoID is in flight
func (b *ExecBackend) Running(repoID string) bool {
	return b.guard.Running(repoID)
}

// CancelAll stops every running child
func (b *ExecBackend) CancelAll() {
	b.jobs.cancelAll()
}

// Wait blocks until every started child has exited
func (b *ExecBackend) Wait() {
	b.wg.Wait()
}

func mergeLimits(spec, defaults types.ResourceLimits) types.ResourceLimits {
	if spec.Timeout <= 0 {
		spec.Timeout = defaults.Timeout
	}
	if spec.Workers <= 0 {
		spec.Workers = defaults.Workers
	}
	if spec.MemoryLimit <= 0 {
		spec.MemoryLimit = defaults.MemoryLimit
	}
	return spec
}

// ApplyLimits is called by a job process before it runs: it sets the
// soft memory limit and bounds ctx by the timeout
func ApplyLimits(ctx context.Context, limits types.ResourceLimits) (context.Context, context.CancelFunc) {
	if limits.MemoryLimit > 0 {
		debug.SetMemoryLimit(limits.MemoryLimit)
	}
	if limits.Timeout > 0 {
		return context.WithTimeout(ctx, limits.Timeout)
	}
	return context.WithCancel(ctx)
}
