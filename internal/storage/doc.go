// Package storage provides a SQLite-backed cache of parsed entity graphs.
//
// Parsing is the expensive step of indexing, so the entity arena of every
// structured file is persisted together with the xxhash of the content it was
// built from. On restart the indexer re-reads a file, recomputes the hash and
// asks the cache for a matching record; a hash mismatch looks exactly like a
// missing record. Keyword postings are cheap to rebuild and are not stored.
//
// # Database Schema
//
// Tables:
//   - schema_version: applied migrations (semver)
//   - projects: one row per indexed root
//   - files: path, content hash, stat signature and parse state
//   - entities: the flattened arena of each file, ordered by ordinal
//
// # Basic Usage
//
//	db, err := storage.NewSQLiteStorage(".codesearch/cache.db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	project, err := storage.OpenProject(ctx, db, root)
//
//	cached, err := db.LoadFile(ctx, project.ID, "pkg/models.py", hash)
//	if errors.Is(err, storage.ErrNotFound) {
//	    // parse, then store
//	    err = db.SaveFile(ctx, project.ID, &storage.CachedFile{File: file, Entities: entities})
//	}
//
// # Transactions
//
// SaveFile is atomic on its own. Callers that touch several files at once can
// use an explicit transaction:
//
//	tx, err := db.BeginTx(ctx)
//	if err != nil {
//	    return err
//	}
//	defer tx.Rollback()
//
//	_ = tx.DeleteFile(ctx, project.ID, "old.py")
//	_ = tx.SaveFile(ctx, project.ID, cached)
//
//	return tx.Commit()
//
// # Build Modes
//
// The default build uses modernc.org/sqlite, a pure Go driver. Building with
// the sqlite_cgo tag switches to github.com/mattn/go-sqlite3.
//
// # Thread Safety
//
// SQLiteStorage is safe for concurrent use. The pool is limited to a single
// connection and the database runs in WAL mode.
package storage
