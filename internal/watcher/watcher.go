package watcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"

	"github.com/dshills/codesearch-mcp/internal/indexer"
	"github.com/dshills/codesearch-mcp/internal/scope"
)

// DefaultDebounce is how long the watcher waits for a burst of events to settle
const DefaultDebounce = 200 * time.Millisecond

// Index is the part of the index store the watcher drives
type Index interface {
	Invalidate(path string)
	Remove(ctx context.Context, path string)
	Snapshot() *indexer.Snapshot
}

// Config contains watcher configuration
type Config struct {
	Debounce time.Duration
}

// Stats counts processed change notifications
type Stats struct {
	Events      int64
	Invalidated int64
	Removed     int64
	Errors      int64
	LastFlush   time.Time
}

type change int

const (
	changeModified change = iota
	changeRemoved
)

// Watcher turns file system notifications under the tree root into
// per-file invalidations of the index store
type Watcher struct {
	fs       *fsnotify.Watcher
	resolver *scope.Resolver
	index    Index
	debounce time.Duration
	logger   *logrus.Logger

	pending map[string]change // root-relative path -> latest change

	statsMu sync.Mutex
	stats   Stats

	startOnce sync.Once
	closeOnce sync.Once
	cancel    context.CancelFunc
	done      chan struct{}
}

// New creates a watcher; call Start to begin receiving events
func New(resolver *scope.Resolver, index Index, cfg Config, logger *logrus.Logger) (*Watcher, error) {
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	return &Watcher{
		fs:       fsw,
		resolver: resolver,
		index:    index,
		debounce: cfg.Debounce,
		logger:   logger,
		pending:  make(map[string]change),
		done:     make(chan struct{}),
	}, nil
}

// Start adds watches for every non-ignored directory under the root and
// processes events until ctx is cancelled or Close is called
func (w *Watcher) Start(ctx context.Context) error {
	started := false
	var err error
	w.startOnce.Do(func() {
		started = true
		if err = w.addTree(w.resolver.Root()); err != nil {
			return
		}
		var loopCtx context.Context
		loopCtx, w.cancel = context.WithCancel(ctx)
		go w.run(loopCtx)

		w.logger.WithField("root", w.resolver.Root()).Info("File watcher started")
	})
	if !started {
		return errors.New("watcher already started")
	}
	return err
}

// Close stops event processing and releases the underlying watches.
// Changes still waiting for the debounce interval are dropped.
func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		if w.cancel != nil {
			w.cancel()
			<-w.done
		}
		err = w.fs.Close()
	})
	return err
}

// Stats returns a copy of the watcher counters
func (w *Watcher) Stats() Stats {
	w.statsMu.Lock()
	defer w.statsMu.Unlock()
	return w.stats
}

// run owns the pending set and the debounce timer
func (w *Watcher) run(ctx context.Context) {
	defer close(w.done)

	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if w.handle(event) {
				timer.Reset(w.debounce)
			}

		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.count(func(s *Stats) { s.Errors++ })
			w.logger.WithError(err).Warn("File watcher error")

		case <-timer.C:
			w.flush(ctx)
		}
	}
}

// handle records one event and reports whether anything became pending
func (w *Watcher) handle(event fsnotify.Event) bool {
	rel, ok := w.resolver.Rel(event.Name)
	if !ok || rel == "." {
		return false
	}
	w.count(func(s *Stats) { s.Events++ })

	if event.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
		w.pending[rel] = changeRemoved
		return true
	}
	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Chmod) == 0 {
		return false
	}

	info, err := os.Lstat(event.Name)
	if err != nil {
		w.pending[rel] = changeRemoved
		return true
	}

	if info.IsDir() {
		if event.Op&fsnotify.Create == 0 || w.resolver.IgnoredDir(rel) {
			return false
		}
		// files written before the watch was added produce no events of their own
		if err := w.addTree(event.Name); err != nil {
			w.logger.WithError(err).WithField("path", rel).Warn("Failed to watch new directory")
		}
		return w.queueTree(event.Name)
	}

	if !w.resolver.InDefaultScope(rel) {
		return false
	}
	w.pending[rel] = changeModified
	return true
}

// flush applies the pending changes in path order
func (w *Watcher) flush(ctx context.Context) {
	if len(w.pending) == 0 {
		return
	}

	paths := make([]string, 0, len(w.pending))
	for p := range w.pending {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	var invalidated, removed int64
	for _, p := range paths {
		switch w.pending[p] {
		case changeRemoved:
			removed += w.remove(ctx, p)
		default:
			w.index.Invalidate(p)
			invalidated++
		}
	}
	w.pending = make(map[string]change)

	w.count(func(s *Stats) {
		s.Invalidated += invalidated
		s.Removed += removed
		s.LastFlush = time.Now()
	})
	w.logger.WithFields(logrus.Fields{
		"invalidated": invalidated,
		"removed":     removed,
	}).Debug("Applied file changes")
}

// remove drops rel, or every indexed file beneath it when rel was a directory
func (w *Watcher) remove(ctx context.Context, rel string) int64 {
	var n int64
	prefix := rel + "/"
	for _, p := range w.index.Snapshot().Paths() {
		if p == rel || strings.HasPrefix(p, prefix) {
			w.index.Remove(ctx, p)
			n++
		}
	}
	if n == 0 && w.resolver.InDefaultScope(rel) {
		// not indexed yet; make sure an in-flight build is discarded
		w.index.Invalidate(rel)
		n++
	}
	return n
}

// addTree watches dir and every non-ignored directory beneath it
func (w *Watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(abs string, d fs.DirEntry, err error) error {
		if err != nil {
			if abs == dir {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if abs != dir {
			rel, ok := w.resolver.Rel(abs)
			if !ok || w.resolver.IgnoredDir(rel) {
				return filepath.SkipDir
			}
		}
		if err := w.fs.Add(abs); err != nil {
			w.logger.WithError(err).WithField("path", abs).Warn("Failed to add watch")
		}
		return nil
	})
}

// queueTree marks every in-scope file beneath dir as modified
func (w *Watcher) queueTree(dir string) bool {
	queued := false
	_ = filepath.WalkDir(dir, func(abs string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if rel, ok := w.resolver.Rel(abs); ok && w.resolver.InDefaultScope(rel) {
			w.pending[rel] = changeModified
			queued = true
		}
		return nil
	})
	return queued
}

func (w *Watcher) count(update func(*Stats)) {
	w.statsMu.Lock()
	defer w.statsMu.Unlock()
	update(&w.stats)
}
