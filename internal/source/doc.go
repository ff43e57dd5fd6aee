// Package source turns a git checkout into file change deliveries.
//
// Scan walks the working tree and returns a FileChange for every file the
// parser supports, stamped with the HEAD commit or an explicit override.
// Deliveries may repeat; the indexer's dedup check makes redelivery a
// no-op. ChangedSince narrows a scan to the files touched since a
// previously indexed commit.
package source
