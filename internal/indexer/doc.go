// Package indexer maintains the in-memory index of a working tree, one file at
// a time.
//
// Every file is an independently replaceable unit: its lines, its entity arena
// and its keyword postings. The Store publishes immutable snapshots; a query
// takes the current snapshot and never observes a later merge.
//
// # Basic Usage
//
//	store, err := indexer.New(ctx, indexer.Config{Root: root}, cache, logger)
//	if err != nil {
//	    return err
//	}
//
//	snap, stats, err := store.Ensure(ctx, paths)
//	fmt.Printf("built %d, reused %d in %v\n", stats.FilesBuilt, stats.FilesReused, stats.Duration)
//
// # Incremental Updates
//
// Ensure compares each file's size and modification time with the version in
// the snapshot. Changed files are re-read and hashed with xxhash; if the hash is
// unchanged only the stat data is refreshed. Otherwise the entity arena is
// loaded from the on-disk cache (when configured and the hash matches) or the
// file is parsed again.
//
// Invalidate forces a rebuild on the next Ensure regardless of stat data, and
// Remove drops a file outright. Both are driven by the watcher package.
//
// # Concurrency
//
// Builds run in an errgroup bounded by Config.Workers and share no mutable
// state. Their results go through a single writer that re-checks each file's
// stat data and invalidation epoch; a build whose file changed while it ran is
// discarded and retried once. Concurrent builds of the same content share one parse.
//
// # Degradation
//
// A file with syntax errors becomes StateUnstructured: it keeps only its file
// entity and is searched by substring and line number. Unreadable, binary,
// oversized and badly encoded files become StateFailed. Neither case is an
// error from Ensure.
package indexer
