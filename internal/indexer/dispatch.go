package indexer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dshills/repoindex/pkg/types"
)

// JobSubmitter hands a large request to a batch-job backend and returns
// the job id
type JobSubmitter interface {
	Submit(ctx context.Context, spec types.JobSpec) (string, error)
}

// Index is the entry point for an index request. Requests smaller than
// DirectThreshold, or any request when no job backend is configured, run
// synchronously and return a report. Larger requests are submitted as a
// job and return its id.
//
// The mode is chosen from the size of this request alone. A repository
// that already has a job running still accepts direct requests; per-file
// locks and the dedup check keep both paths consistent.
func (idx *Indexer) Index(ctx context.Context, req types.IndexRequest) (*types.IndexResponse, error) {
	if err := types.ValidateRepoID(req.RepoID); err != nil {
		return nil, err
	}

	if _, err := idx.store.EnsureRepository(ctx, &types.RepositoryRecord{
		RepoID: req.RepoID,
		Name:   req.Name,
		URL:    req.URL,
	}); err != nil {
		return nil, fmt.Errorf("failed to ensure repository: %w", err)
	}
	if err := idx.store.RaiseTotalFiles(ctx, req.RepoID, len(req.Files)); err != nil {
		return nil, err
	}

	if idx.jobs != nil && len(req.Files) >= idx.cfg.DirectThreshold {
		jobID, err := idx.jobs.Submit(ctx, types.JobSpec{
			RepoID:       req.RepoID,
			Name:         req.Name,
			URL:          req.URL,
			Files:        req.Files,
			ForceReindex: req.ForceReindex,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to submit job: %w", err)
		}
		idx.logger.Info("submitted index job",
			slog.String("repo_id", req.RepoID),
			slog.String("job_id", jobID),
			slog.Int("files", len(req.Files)))
		return &types.IndexResponse{RepoID: req.RepoID, Mode: types.ModeJob, JobID: jobID}, nil
	}

	if err := idx.store.UpdateRepositoryStatus(ctx, req.RepoID, types.StatusIndexing, ""); err != nil {
		return nil, err
	}

	report, err := idx.ProcessBatch(ctx, req.RepoID, req.Files, BatchOptions{ForceReindex: req.ForceReindex})
	if err != nil {
		return nil, err
	}

	// Record the outcome even if the caller went away mid-batch
	if err := idx.FinalizeStatus(context.WithoutCancel(ctx), req.RepoID, report); err != nil {
		return nil, err
	}

	return &types.IndexResponse{RepoID: req.RepoID, Mode: types.ModeDirect, Report: report}, nil
}
