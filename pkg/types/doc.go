// Package types provides shared type definitions for the repoindex system.
//
// This package defines the domain records that flow between the coordinator,
// the store, the parsers and the job backends.
//
// # Core Types
//
// FileIndexRecord is the per-file index document, keyed by repository and
// path. It carries the exports and imports extracted from the file together
// with the commit that produced them:
//
//	rec := &types.FileIndexRecord{
//	    RepoID:              "github.com/acme/web",
//	    FilePath:            "src/app.ts",
//	    FileContentHash:     types.ContentHash(content),
//	    LastCommitSHA:       "9f2c1e7",
//	    LastCommitTimestamp: ts,
//	}
//
// ExportEntry is a tagged union over variables, functions, classes and
// interfaces. Classes and interfaces nest entries of the same shape:
//
//	cls := types.ExportEntry{
//	    Name:       "UserService",
//	    Kind:       types.ExportClass,
//	    Visibility: types.VisibilityPublic,
//	    Class: &types.ClassInfo{
//	        Methods: []types.ExportEntry{{Name: "find", Kind: types.ExportFunction, ...}},
//	    },
//	}
//
// RepositoryRecord holds per-repository aggregates. ProcessedFiles is only
// ever advanced by an atomic increment in the store.
//
// # Change Tuples and Reports
//
// FileChange is one (path, content, commit, timestamp) delivery from a
// change source. BatchReport summarizes how a batch of changes was handled:
//
//	report.Succeeded // committed
//	report.Skipped   // stale, unchanged, or locked by another worker
//	report.Failed    // errored; see report.Files for detail
//
// # Errors
//
// errors.go defines the sentinel taxonomy shared by the lock manager, the
// commit protocol and the configuration loader. Callers test with errors.Is.
package types
