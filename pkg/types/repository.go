package types

import (
	"fmt"
	"time"
)

// RepoStatus is the lifecycle state of a repository index
type RepoStatus string

const (
	StatusInitializing RepoStatus = "initializing"
	StatusIndexing     RepoStatus = "indexing"
	StatusSteady       RepoStatus = "steady"
	StatusFailed       RepoStatus = "failed"
)

// Valid reports whether s is a known status
func (s RepoStatus) Valid() bool {
	switch s {
	case StatusInitializing, StatusIndexing, StatusSteady, StatusFailed:
		return true
	}
	return false
}

// RepositoryRecord holds per-repository aggregate state
type RepositoryRecord struct {
	RepoID                       string     `json:"repoId"`
	Name                         string     `json:"name"`
	URL                          string     `json:"url"`
	LastProcessedCommit          string     `json:"lastProcessedCommit"`
	LastProcessedCommitTimestamp time.Time  `json:"lastProcessedCommitTimestamp"`
	TotalFiles                   int        `json:"totalFiles"`
	ProcessedFiles               int        `json:"processedFiles"`
	LastUpdated                  time.Time  `json:"lastUpdated"`
	Status                       RepoStatus `json:"status"`
	LastError                    string     `json:"lastError,omitempty"`
}

// Validate checks counters and status
func (r *RepositoryRecord) Validate() error {
	if err := ValidateRepoID(r.RepoID); err != nil {
		return err
	}
	if !r.Status.Valid() {
		return fmt.Errorf("invalid repository status %q", r.Status)
	}
	if r.TotalFiles < 0 || r.ProcessedFiles < 0 {
		return fmt.Errorf("file counts cannot be negative")
	}
	if r.ProcessedFiles > r.TotalFiles {
		return fmt.Errorf("processed files (%d) exceed total files (%d)", r.ProcessedFiles, r.TotalFiles)
	}
	return nil
}

// Progress returns processing progress as a percentage
func (r *RepositoryRecord) Progress() float64 {
	if r.TotalFiles == 0 {
		return 0
	}
	return float64(r.ProcessedFiles) / float64(r.TotalFiles) * 100
}

// IsComplete reports whether every known file has been processed and the
// repository reached steady state
func (r *RepositoryRecord) IsComplete() bool {
	return r.Status == StatusSteady && r.ProcessedFiles >= r.TotalFiles
}
