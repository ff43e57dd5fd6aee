package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/dshills/repoindex/internal/jobs"
)

type jobOptions struct {
	manifest    string
	workers     int
	memoryLimit string
	timeout     time.Duration
}

// newJobCmd is the entry point of a batch-job child process
func newJobCmd(flags *globalFlags) *cobra.Command {
	opts := &jobOptions{}
	cmd := &cobra.Command{
		Use:    "job",
		Short:  "Run a batch indexing job from a manifest",
		Hidden: true,
		Args:   cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			spec, err := jobs.ReadManifest(opts.manifest)
			if err != nil {
				return err
			}

			limits := spec.Limits
			if opts.workers > 0 {
				limits.Workers = opts.workers
			}
			if opts.memoryLimit != "" {
				n, err := humanize.ParseBytes(opts.memoryLimit)
				if err != nil {
					return fmt.Errorf("invalid --memory-limit: %w", err)
				}
				limits.MemoryLimit = int64(n)
			}
			if opts.timeout > 0 {
				limits.Timeout = opts.timeout
			}

			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			if limits.Workers > 0 {
				cfg.Indexer.MaxConcurrentFiles = limits.Workers
			}

			a, err := openApp(cfg, flags, false)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			// The submitting process cancels a job with SIGTERM
			jobCtx, cancelJob := context.WithCancelCause(cmd.Context())
			defer cancelJob(nil)
			sigs := make(chan os.Signal, 1)
			signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
			defer signal.Stop(sigs)
			go func() {
				select {
				case <-sigs:
					cancelJob(jobs.ErrJobCancelled)
				case <-jobCtx.Done():
				}
			}()

			ctx, cancel := jobs.ApplyLimits(jobCtx, limits)
			defer cancel()

			a.logger.Info("job started",
				slog.String("repo_id", spec.RepoID),
				slog.Int("files", len(spec.Files)),
				slog.Int("workers", cfg.Indexer.MaxConcurrentFiles),
				slog.Duration("timeout", limits.Timeout))

			report, err := a.runner.Run(ctx, spec)
			if err != nil {
				return fmt.Errorf("job for %s failed: %w", spec.RepoID, err)
			}
			a.logger.Info("job finished",
				slog.String("repo_id", spec.RepoID),
				slog.Int("succeeded", report.Succeeded),
				slog.Int("skipped", report.Skipped),
				slog.Int("failed", report.Failed),
				slog.Duration("duration", report.Duration))
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.manifest, "manifest", "", "job manifest written by the submitting process")
	f.IntVar(&opts.workers, "workers", 0, "files processed at once")
	f.StringVar(&opts.memoryLimit, "memory-limit", "", "soft memory limit (e.g. 512 MiB)")
	f.DurationVar(&opts.timeout, "timeout", 0, "job timeout")
	_ = cmd.MarkFlagRequired("manifest")
	return cmd
}
