package types

import (
	"crypto/sha1" //nolint:gosec // git object ids are SHA-1 by definition
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// FileIndexRecord is the index document for one file of one repository
type FileIndexRecord struct {
	RepoID              string        `json:"repoId"`
	FilePath            string        `json:"filePath"`
	FileContentHash     string        `json:"fileContentHash"`
	LastCommitSHA       string        `json:"lastCommitSHA"`
	LastCommitTimestamp time.Time     `json:"lastCommitTimestamp"`
	Exports             []ExportEntry `json:"exports"`
	Imports             []ImportEntry `json:"imports"`
	Language            string        `json:"language"`
	ParseErrors         []string      `json:"parseErrors"`
	UpdatedAt           time.Time     `json:"updatedAt"`

	// EverCounted is set once the file has advanced the repository's
	// processed counter, so reprocessing never counts it twice.
	EverCounted bool `json:"everCounted"`
}

// Validate checks the identifying fields and every export entry
func (r *FileIndexRecord) Validate() error {
	if err := ValidateRepoID(r.RepoID); err != nil {
		return err
	}
	if r.FilePath == "" {
		return ErrMissingFilePath
	}
	if r.LastCommitTimestamp.IsZero() {
		return ErrMissingTimestamp
	}
	for i := range r.Exports {
		if err := r.Exports[i].Validate(); err != nil {
			return err
		}
	}
	return nil
}

// HasParseErrors returns true if the parser reported problems for this file
func (r *FileIndexRecord) HasParseErrors() bool {
	return len(r.ParseErrors) > 0
}

// FileChange is one delivery from a change source. Deliveries are
// at-least-once; the same tuple may arrive more than once.
type FileChange struct {
	Path            string    `json:"path"`
	Content         []byte    `json:"content"`
	CommitSHA       string    `json:"commitSHA"`
	CommitTimestamp time.Time `json:"commitTimestamp"`
}

// ContentHash returns the git blob object id of content, which matches
// `git hash-object` for the same bytes.
func ContentHash(content []byte) string {
	h := sha1.New() //nolint:gosec
	h.Write([]byte("blob " + strconv.Itoa(len(content)) + "\x00"))
	h.Write(content)
	return hex.EncodeToString(h.Sum(nil))
}

// lockKeySeparator joins repository id and file path in a lock key
const lockKeySeparator = ":"

// LockKey is the mutual-exclusion key for a file. The commit SHA is not
// part of the key, so the lock is stable across commits.
func LockKey(repoID, filePath string) string {
	return repoID + lockKeySeparator + filePath
}

// LockKeyPrefix is the prefix shared by every lock key of a repository.
// It is unambiguous because repository ids cannot contain the separator.
func LockKeyPrefix(repoID string) string {
	return repoID + lockKeySeparator
}

// ValidateRepoID rejects empty ids and ids containing the lock key
// separator
func ValidateRepoID(repoID string) error {
	if repoID == "" {
		return ErrMissingRepoID
	}
	if strings.Contains(repoID, lockKeySeparator) {
		return fmt.Errorf("%q: %w", repoID, ErrInvalidRepoID)
	}
	return nil
}
