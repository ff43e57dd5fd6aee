// Package jobs runs large index requests as batch jobs.
//
// A Runner streams a job's files through the indexer in chunks, paced by
// a rate limiter, refreshing the repository status after every chunk and
// finalizing it at the end. Files already indexed dedup to skips, so a
// job that is replayed after a crash does no extra work.
//
// Two backends satisfy the indexer's JobSubmitter:
//
//   - LocalBackend runs the Runner on a goroutine with a detached context
//     bounded by a timeout.
//   - ExecBackend writes a zstd-compressed manifest and runs the job
//     subcommand of the same binary as a child process. Workers, memory
//     limit and timeout are passed as flags; the child applies them with
//     ApplyLimits.
//
// Both refuse a second job for a repository that already has one in
// flight (ErrJobRunning) and track job state in memory:
//
//	queued -> running -> succeeded | failed
//
// Cancel stops one job and CancelAll stops them all. A local job's context
// is cancelled with ErrJobCancelled; a child process receives SIGTERM and
// is killed if it has not exited after a grace period. Files in flight
// abort and release their locks.
// When a child dies without recording its own failure, ExecBackend records
// it in the repository record.
//
// Progress inside a job is reported through the repository record, which
// both the server and a child process write to the same database.
package jobs
