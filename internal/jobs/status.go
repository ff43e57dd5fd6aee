package jobs

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dshills/repoindex/pkg/types"
)

var (
	// ErrJobRunning is returned when a repository already has a job in flight
	ErrJobRunning = errors.New("a job is already running for this repository")
	// ErrJobNotFound is returned for an unknown job id
	ErrJobNotFound = errors.New("job not found")
	// ErrJobFinished is returned when cancelling a job that already ended
	ErrJobFinished = errors.New("job already finished")
	// ErrJobCancelled is the cause recorded for a job stopped by Cancel
	ErrJobCancelled = errors.New("job cancelled")
)

// State is the lifecycle of a submitted job
type State string

const (
	StateQueued    State = "queued"
	StateRunning   State = "running"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
)

// Done reports whether the job reached a terminal state
func (s State) Done() bool {
	return s == StateSucceeded || s == StateFailed
}

// Status describes one job
type Status struct {
	ID          string    `json:"id"`
	RepoID      string    `json:"repoId"`
	State       State     `json:"state"`
	Files       int       `json:"files"`
	Succeeded   int       `json:"succeeded"`
	Skipped     int       `json:"skipped"`
	Failed      int       `json:"failed"`
	Error       string    `json:"error,omitempty"`
	SubmittedAt time.Time `json:"submittedAt"`
	StartedAt   time.Time `json:"startedAt,omitzero"`
	FinishedAt  time.Time `json:"finishedAt,omitzero"`
}

// Backend is a job submitter whose jobs can be inspected and cancelled
type Backend interface {
	Submit(ctx context.Context, spec types.JobSpec) (string, error)
	Status(id string) (Status, error)
	// Cancel stops an unfinished job. Files in flight abort and release
	// their locks, and the repository is marked failed.
	Cancel(id string) error
	// CancelAll cancels every unfinished job
	CancelAll()
	// Running reports whether a job for the repository is in flight
	Running(repoID string) bool
	Wait()
}

// table tracks job statuses in memory
type table struct {
	mu      sync.RWMutex
	jobs    map[string]*Status
	cancels map[string]context.CancelCauseFunc
}

func newTable() *table {
	return &table{
		jobs:    make(map[string]*Status),
		cancels: make(map[string]context.CancelCauseFunc),
	}
}

func (t *table) add(id string, spec types.JobSpec, cancel context.CancelCauseFunc) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if cancel != nil {
		t.cancels[id] = cancel
	}
	t.jobs[id] = &Status{
		ID:          id,
		RepoID:      spec.RepoID,
		State:       StateQueued,
		Files:       len(spec.Files),
		SubmittedAt: time.Now(),
	}
}

func (t *table) start(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.jobs[id]; ok {
		s.State = StateRunning
		s.StartedAt = time.Now()
	}
}

// finish records the outcome. A job with a report is failed when err is
// set; per-file failures alone do not fail the job.
func (t *table) finish(id string, report *types.BatchReport, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.cancels, id)
	s, ok := t.jobs[id]
	if !ok {
		return
	}
	s.FinishedAt = time.Now()
	if report != nil {
		s.Succeeded, s.Skipped, s.Failed = report.Succeeded, report.Skipped, report.Failed
	}
	if err != nil {
		s.State = StateFailed
		s.Error = err.Error()
		return
	}
	s.State = StateSucceeded
}

func (t *table) cancel(id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	cancel, ok := t.cancels[id]
	if !ok || s.State.Done() {
		return ErrJobFinished
	}
	cancel(ErrJobCancelled)
	return nil
}

func (t *table) cancelAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, cancel := range t.cancels {
		cancel(ErrJobCancelled)
	}
}

func (t *table) get(id string) (Status, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.jobs[id]
	if !ok {
		return Status{}, ErrJobNotFound
	}
	return *s, nil
}
