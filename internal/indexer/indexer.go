package indexer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/dshills/codesearch-mcp/internal/keyword"
	"github.com/dshills/codesearch-mcp/internal/parser"
	"github.com/dshills/codesearch-mcp/internal/storage"
	"github.com/dshills/codesearch-mcp/pkg/types"
)

const (
	// DefaultMaxFileSize is the soft cap above which files are not indexed
	DefaultMaxFileSize = 1 << 20
)

// ErrBuildInProgress is returned by Warm while another warm-up is running
var ErrBuildInProgress = errors.New("index build already in progress")

// Store holds the current index snapshot and keeps it up to date file by file.
// Builds run in a bounded worker pool; a single writer merges their results.
type Store struct {
	root   string
	cfg    Config
	parser *parser.Parser
	tok    *keyword.Tokenizer
	logger *logrus.Logger

	cache   storage.Storage
	project *storage.Project

	snap  atomic.Pointer[Snapshot]
	group singleflight.Group
	warm  buildGate

	// mu serializes merges and guards epochs
	mu     sync.Mutex
	epochs map[string]uint64
}

// Config contains configuration for the index store
type Config struct {
	Root        string // absolute working tree root
	Workers     int    // concurrent file builds (default: runtime.NumCPU())
	MaxFileSize int64  // bytes; larger files are marked failed (default: 1 MiB)
	Stemming    bool   // stem keyword tokens
}

// Statistics describes one Ensure call
type Statistics struct {
	FilesRequested int
	FilesReused    int
	FilesRefreshed int
	FilesBuilt     int
	FilesFromCache int
	FilesRemoved   int
	Unstructured   int
	Failed         int
	StaleDiscarded int
	Duration       time.Duration
	ErrorMessages  []string
}

// New creates a Store for cfg.Root. cache may be nil, in which case every file
// is parsed from scratch.
func New(ctx context.Context, cfg Config, cache storage.Storage, logger *logrus.Logger) (*Store, error) {
	if logger == nil {
		logger = discardLogger()
	}
	if !filepath.IsAbs(cfg.Root) {
		return nil, fmt.Errorf("index root must be absolute: %s", cfg.Root)
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	if cfg.MaxFileSize == 0 {
		cfg.MaxFileSize = DefaultMaxFileSize
	}

	s := &Store{
		root:   cfg.Root,
		cfg:    cfg,
		parser: parser.New(),
		tok:    keyword.NewTokenizer(cfg.Stemming),
		logger: logger,
		cache:  cache,
		epochs: make(map[string]uint64),
	}
	s.snap.Store(emptySnapshot())

	if cache != nil {
		project, err := storage.OpenProject(ctx, cache, cfg.Root)
		if err != nil {
			return nil, fmt.Errorf("failed to open cache project: %w", err)
		}
		s.project = project
	}

	return s, nil
}

// Tokenizer returns the tokenizer used for keyword postings, so queries can be
// tokenized the same way
func (s *Store) Tokenizer() *keyword.Tokenizer {
	return s.tok
}

// Snapshot returns the current snapshot without building anything
func (s *Store) Snapshot() *Snapshot {
	return s.snap.Load()
}

// Status reports counts for the current snapshot
func (s *Store) Status() Status {
	return s.snap.Load().Status()
}

// Building reports whether a warm-up is running
func (s *Store) Building() bool {
	_, running := s.warm.since()
	return running
}

// BuildingSince returns when the running warm-up started
func (s *Store) BuildingSince() (time.Time, bool) {
	return s.warm.since()
}

// Ensure brings every path up to date and returns the snapshot to query.
// Unchanged files are reused; changed files are rebuilt concurrently and merged
// by a single writer. Builds that went stale while running are discarded and
// retried once.
func (s *Store) Ensure(ctx context.Context, paths []string) (*Snapshot, *Statistics, error) {
	start := time.Now()
	stats := &Statistics{FilesRequested: len(paths), ErrorMessages: make([]string, 0)}

	pending := s.pending(paths, stats)
	for attempt := 0; len(pending) > 0 && attempt < 2; attempt++ {
		results, err := s.buildAll(ctx, pending)
		if err != nil {
			return nil, nil, err
		}
		pending = s.merge(results, stats, attempt == 0)
	}

	countStates(s.snap.Load(), paths, stats)
	stats.Duration = time.Since(start)
	return s.snap.Load(), stats, nil
}

// pendingBuild is a file whose snapshot entry cannot be reused
type pendingBuild struct {
	path  string
	prev  *FileIndex
	epoch uint64
}

// pending selects the paths that need a build: files not yet indexed, files
// invalidated since their build and files whose size or mtime changed
func (s *Store) pending(paths []string, stats *Statistics) []pendingBuild {
	snap := s.snap.Load()

	s.mu.Lock()
	epochs := make([]uint64, len(paths))
	for i, p := range paths {
		epochs[i] = s.epochs[p]
	}
	s.mu.Unlock()

	work := make([]pendingBuild, 0)
	for i, p := range paths {
		prev, ok := snap.File(p)
		if ok && prev.epoch == epochs[i] && s.statUnchanged(prev) {
			stats.FilesReused++
			continue
		}
		work = append(work, pendingBuild{path: p, prev: prev, epoch: epochs[i]})
	}
	return work
}

// buildAll runs the worker pool. Any per-file problem is carried in the result;
// the error is only non-nil when ctx is cancelled.
func (s *Store) buildAll(ctx context.Context, work []pendingBuild) ([]*buildResult, error) {
	results := make([]*buildResult, len(work))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Workers)
	for i, w := range work {
		g.Go(func() error {
			res, err := s.build(gctx, w.path, w.prev, w.epoch)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("index build cancelled: %w", err)
	}
	return results, nil
}

// merge installs results into a new snapshot. A result is stale when the file
// changed on disk after it was read or was invalidated while building; stale
// results are returned for a retry, or dropped when retry is false.
func (s *Store) merge(results []*buildResult, stats *Statistics, retry bool) []pendingBuild {
	s.mu.Lock()
	defer s.mu.Unlock()

	current := s.snap.Load()
	next := current.clone()
	changed := false
	stale := make([]pendingBuild, 0)

	for _, res := range results {
		if res.outcome == outcomeRemoved {
			if _, ok := next.files[res.path]; ok {
				delete(next.files, res.path)
				changed = true
				stats.FilesRemoved++
			}
			continue
		}

		fi := res.index
		if fi.epoch != s.epochs[res.path] || !s.statUnchanged(fi) {
			stats.StaleDiscarded++
			s.logger.WithFields(logrus.Fields{
				"path":  res.path,
				"retry": retry,
			}).Debug("Discarding stale build")
			if retry {
				prev, _ := current.File(res.path)
				stale = append(stale, pendingBuild{path: res.path, prev: prev, epoch: s.epochs[res.path]})
			}
			continue
		}

		if cur, ok := next.files[res.path]; ok && cur.epoch == fi.epoch && sameVersion(cur.Source.Signature, fi.Source.Signature) {
			// A concurrent Ensure already merged this version
			stats.FilesReused++
			continue
		}

		next.files[res.path] = fi
		switch res.outcome {
		case outcomeRefreshed:
			stats.FilesRefreshed++
		case outcomeCached:
			stats.FilesFromCache++
			changed = true
		default:
			stats.FilesBuilt++
			changed = true
		}
		if fi.Source.Err != nil {
			stats.ErrorMessages = append(stats.ErrorMessages, fmt.Sprintf("%s: %v", res.path, fi.Source.Err))
		}
	}

	if changed {
		next.Generation++
		next.MergedAt = time.Now()
	}
	s.snap.Store(next)

	s.logger.WithFields(logrus.Fields{
		"generation": next.Generation,
		"files":      next.Len(),
		"merged":     len(results) - len(stale),
	}).Debug("Merged index snapshot")

	return stale
}

// Invalidate marks path as changed. An in-flight build of it is discarded and
// the next Ensure rebuilds it regardless of stat data.
func (s *Store) Invalidate(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.epochs[path]++
}

// Remove drops path from the snapshot and the on-disk cache
func (s *Store) Remove(ctx context.Context, path string) {
	s.mu.Lock()
	s.epochs[path]++
	current := s.snap.Load()
	if _, ok := current.File(path); ok {
		next := current.clone()
		delete(next.files, path)
		next.Generation++
		next.MergedAt = time.Now()
		s.snap.Store(next)
	}
	s.mu.Unlock()

	if s.cache != nil {
		if err := s.cache.DeleteFile(ctx, s.project.ID, path); err != nil {
			s.logger.WithError(err).WithField("path", path).Warn("Failed to remove file from entity cache")
		}
	}
}

// Warm builds paths ahead of the first query. Only one warm-up runs at a time;
// a concurrent call returns ErrBuildInProgress.
func (s *Store) Warm(ctx context.Context, paths []string) (*Statistics, error) {
	if !s.warm.enter(time.Now()) {
		return nil, ErrBuildInProgress
	}
	defer s.warm.leave()

	_, stats, err := s.Ensure(ctx, paths)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.updateProjectStats(ctx); err != nil {
			s.logger.WithError(err).Warn("Failed to update cache project stats")
		}
	}

	s.logger.WithFields(logrus.Fields{
		"files":        stats.FilesRequested,
		"built":        stats.FilesBuilt,
		"cached":       stats.FilesFromCache,
		"unstructured": stats.Unstructured,
		"failed":       stats.Failed,
		"duration":     stats.Duration,
	}).Info("Index warm-up complete")
	return stats, nil
}

// updateProjectStats records the cached file count on the project row
func (s *Store) updateProjectStats(ctx context.Context) error {
	files, err := s.cache.ListFiles(ctx, s.project.ID)
	if err != nil {
		return err
	}
	s.project.TotalFiles = len(files)
	s.project.LastIndexedAt = time.Now()
	return s.cache.UpdateProject(ctx, s.project)
}

// CacheStatus reports the on-disk cache state, or nil when caching is disabled
func (s *Store) CacheStatus(ctx context.Context) (*storage.ProjectStatus, error) {
	if s.cache == nil {
		return nil, nil
	}
	return s.cache.GetStatus(ctx, s.project.ID)
}

// statUnchanged reports whether the file on disk still has the size and
// modification time fi was built from
func (s *Store) statUnchanged(fi *FileIndex) bool {
	info, err := os.Stat(filepath.Join(s.root, filepath.FromSlash(fi.Source.Path)))
	if err != nil {
		return false
	}
	return fi.Source.Signature.SameStat(types.Signature{Size: info.Size(), ModTime: info.ModTime()})
}

func sameVersion(a, b types.Signature) bool {
	return a.Hash == b.Hash && a.SameStat(b)
}

func countStates(snap *Snapshot, paths []string, stats *Statistics) {
	for _, p := range paths {
		fi, ok := snap.File(p)
		if !ok {
			continue
		}
		switch fi.Source.State {
		case types.StateUnstructured:
			stats.Unstructured++
		case types.StateFailed:
			stats.Failed++
		}
	}
}

func discardLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}
