package types

import "time"

// FileState is the position of a file in the per-file pipeline
type FileState string

const (
	StatePending          FileState = "pending"
	StateLockAcquired     FileState = "lock_acquired"
	StateSkippedStale     FileState = "skipped_stale"
	StateSkippedUnchanged FileState = "skipped_unchanged"
	StateParsed           FileState = "parsed"
	StateCommitted        FileState = "committed"
	StateErrored          FileState = "errored"
	StateLockReleased     FileState = "lock_released"
)

// Outcome is how a file counts in a batch report
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeFailed    Outcome = "failed"
)

// Skip reasons reported for skipped files
const (
	ReasonStale     = "stale"
	ReasonUnchanged = "unchanged"
	ReasonLockHeld  = "lock_held"
)

// FileResult is the per-file line of a batch report
type FileResult struct {
	Path    string  `json:"path"`
	Outcome Outcome `json:"outcome"`
	// States is the sequence of pipeline states the file passed through
	States []FileState `json:"states"`
	Reason string      `json:"reason,omitempty"`
	Error  string      `json:"error,omitempty"`
	// ParseErrors is set when the record was committed with parser errors
	ParseErrors []string `json:"parseErrors,omitempty"`
}

// Skip records a skip after reaching state
func (fr *FileResult) Skip(state FileState, reason string) {
	fr.States = append(fr.States, state)
	fr.Outcome = OutcomeSkipped
	fr.Reason = reason
}

// FinalState returns the last state the file reached
func (fr *FileResult) FinalState() FileState {
	if len(fr.States) == 0 {
		return StatePending
	}
	return fr.States[len(fr.States)-1]
}

// BatchReport summarizes processing of a batch of file changes
type BatchReport struct {
	RepoID    string        `json:"repoId"`
	Succeeded int           `json:"succeeded"`
	Skipped   int           `json:"skipped"`
	Failed    int           `json:"failed"`
	Files     []FileResult  `json:"files"`
	Duration  time.Duration `json:"duration"`
}

// Add records one file result and bumps the matching counter
func (br *BatchReport) Add(fr FileResult) {
	switch fr.Outcome {
	case OutcomeSucceeded:
		br.Succeeded++
	case OutcomeSkipped:
		br.Skipped++
	case OutcomeFailed:
		br.Failed++
	}
	br.Files = append(br.Files, fr)
}

// Merge folds another report into this one
func (br *BatchReport) Merge(other *BatchReport) {
	if other == nil {
		return
	}
	br.Succeeded += other.Succeeded
	br.Skipped += other.Skipped
	br.Failed += other.Failed
	br.Files = append(br.Files, other.Files...)
	br.Duration += other.Duration
}

// Total returns the number of files in the report
func (br *BatchReport) Total() int {
	return br.Succeeded + br.Skipped + br.Failed
}

// Attempted returns the files that reached a decision other than a skip
func (br *BatchReport) Attempted() int {
	return br.Succeeded + br.Failed
}

// FirstError returns the first per-file error message, or ""
func (br *BatchReport) FirstError() string {
	for _, f := range br.Files {
		if f.Outcome == OutcomeFailed && f.Error != "" {
			return f.Path + ": " + f.Error
		}
	}
	return ""
}

// IndexMode is how an index request was executed
type IndexMode string

const (
	ModeDirect IndexMode = "direct"
	ModeJob    IndexMode = "job"
)

// IndexRequest asks the coordinator to index a set of file changes
type IndexRequest struct {
	RepoID       string
	Name         string
	URL          string
	Files        []FileChange
	ForceReindex bool
}

// IndexResponse is returned by the coordinator's dispatch entry point.
// Report is set in direct mode, JobID in job mode.
type IndexResponse struct {
	RepoID string       `json:"repoId"`
	Mode   IndexMode    `json:"mode"`
	Report *BatchReport `json:"report,omitempty"`
	JobID  string       `json:"jobId,omitempty"`
}

// ResourceLimits bounds a batch job
type ResourceLimits struct {
	Timeout     time.Duration `json:"timeout"`
	Workers     int           `json:"workers"`
	MemoryLimit int64         `json:"memoryLimit"`
}

// JobSpec is handed to a batch-job backend
type JobSpec struct {
	RepoID       string         `json:"repoId"`
	Name         string         `json:"name"`
	URL          string         `json:"url"`
	Files        []FileChange   `json:"files"`
	Limits       ResourceLimits `json:"limits"`
	ForceReindex bool           `json:"forceReindex"`
}
