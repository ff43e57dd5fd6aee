// Package indexer coordinates incremental indexing of repository files.
//
// Each delivered file change runs through a fixed pipeline:
//
//  1. Lock: take the per-file lease for repoID:path. A lease held by
//     another worker skips the file for this pass (reason lock_held).
//  2. Dedup: compare the candidate against the stored record. Strictly
//     older commits are skipped as stale; identical content at an equal
//     or newer commit is skipped as unchanged.
//  3. Parse: extract exports and imports. Parser errors and panics are
//     recorded on the file's record and never abort the batch.
//  4. Commit: in one transaction, check the lease is still ours, re-check
//     the commit timestamp, upsert the record, count the file once for
//     the repository, advance the repository's last commit and release
//     the lock.
//
// # Basic Usage
//
//	idx := indexer.New(store, parser.NewRegistry(), indexer.DefaultConfig())
//
//	resp, err := idx.Index(ctx, types.IndexRequest{
//	    RepoID: "acme/web",
//	    Files:  changes,
//	})
//	fmt.Printf("%d succeeded, %d skipped, %d failed\n",
//	    resp.Report.Succeeded, resp.Report.Skipped, resp.Report.Failed)
//
// Requests of DirectThreshold files or more are handed to a JobSubmitter
// when one is configured, and Index returns the job id instead of a
// report.
//
// # Delivery Semantics
//
// Deliveries are at-least-once and may arrive out of order. Replaying a
// batch is a no-op, and an older revision arriving after a newer one never
// overwrites it. The processed-file counter moves by atomic increments and
// counts each file once no matter how often it is reprocessed.
package indexer
