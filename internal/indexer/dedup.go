package indexer

import (
	"time"

	"github.com/dshills/repoindex/pkg/types"
)

// Decision is the outcome of the deduplication check
type Decision int

const (
	// Proceed means the candidate must be parsed and committed
	Proceed Decision = iota
	// SkipStale means a newer revision is already indexed
	SkipStale
	// SkipUnchanged means the stored content is identical
	SkipUnchanged
)

func (d Decision) String() string {
	switch d {
	case Proceed:
		return "proceed"
	case SkipStale:
		return "skip_stale"
	case SkipUnchanged:
		return "skip_unchanged"
	default:
		return "unknown"
	}
}

// ShouldProcess decides whether a candidate update for a file must be
// applied. The timestamp check runs first and rejects anything strictly
// older than the stored record; equal timestamps fall through to the
// content hash check, so a redelivered change becomes SkipUnchanged.
func ShouldProcess(existing *types.FileIndexRecord, candidateTS time.Time, candidateHash string) Decision {
	return shouldProcess(existing, candidateTS, candidateHash, false)
}

// shouldProcess is ShouldProcess with the hash check optionally disabled.
// The timestamp check is never bypassed.
func shouldProcess(existing *types.FileIndexRecord, candidateTS time.Time, candidateHash string, force bool) Decision {
	if existing == nil {
		return Proceed
	}
	if candidateTS.Before(existing.LastCommitTimestamp) {
		return SkipStale
	}
	if !force && candidateHash == existing.FileContentHash {
		return SkipUnchanged
	}
	return Proceed
}
