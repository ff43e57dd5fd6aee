package types

import "errors"

// Domain errors for type validation
var (
	ErrInvalidKind       = errors.New("invalid export kind")
	ErrInvalidVisibility = errors.New("visibility must be public or private")
	ErrPayloadMismatch   = errors.New("export payload does not match kind")
	ErrMissingName       = errors.New("name is required")
	ErrMissingRepoID     = errors.New("repository id is required")
	ErrInvalidRepoID     = errors.New("repository id must not contain ':'")
	ErrMissingFilePath   = errors.New("file path is required")
	ErrMissingTimestamp  = errors.New("commit timestamp is required")
)

// Coordination errors
var (
	// ErrLockHeld means another worker holds an unexpired lock on the file.
	// It is not a failure: the file is skipped for this pass.
	ErrLockHeld = errors.New("lock held by another worker")
	// ErrLockNotOwned is returned when releasing with a token that is no
	// longer the current holder.
	ErrLockNotOwned = errors.New("lock not owned")
	// ErrLockExpired is returned when renewing a lease that already expired.
	ErrLockExpired = errors.New("lock expired")
	// ErrAbortedLockLost is returned by the commit protocol when the caller's
	// token is no longer the valid holder at commit time.
	ErrAbortedLockLost = errors.New("commit aborted: lock lost")
	// ErrStaleUpdate is returned when a write carries an older commit
	// timestamp than the stored record.
	ErrStaleUpdate = errors.New("stale update")
	// ErrParseFailure marks a parser crash or error. It is recorded in the
	// file's ParseErrors and never aborts a batch.
	ErrParseFailure = errors.New("parse failure")
	// ErrStorage marks a transient store failure, retried at the commit
	// boundary.
	ErrStorage = errors.New("storage error")
	// ErrConfiguration is fatal and surfaces at startup.
	ErrConfiguration = errors.New("configuration error")
)
