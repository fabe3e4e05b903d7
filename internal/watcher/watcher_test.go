package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/dshills/codesearch-mcp/internal/indexer"
	"github.com/dshills/codesearch-mcp/internal/scope"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const (
	waitFor = 5 * time.Second
	tick    = 10 * time.Millisecond
)

// recordingIndex forwards to a real store and remembers every call
type recordingIndex struct {
	*indexer.Store

	mu          sync.Mutex
	invalidated []string
	removed     []string
}

func (r *recordingIndex) Invalidate(path string) {
	r.mu.Lock()
	r.invalidated = append(r.invalidated, path)
	r.mu.Unlock()
	r.Store.Invalidate(path)
}

func (r *recordingIndex) Remove(ctx context.Context, path string) {
	r.mu.Lock()
	r.removed = append(r.removed, path)
	r.mu.Unlock()
	r.Store.Remove(ctx, path)
}

func (r *recordingIndex) sawInvalidate(path string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.invalidated {
		if p == path {
			return true
		}
	}
	return false
}

func (r *recordingIndex) sawRemove(path string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.removed {
		if p == path {
			return true
		}
	}
	return false
}

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	abs := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0o755))
	require.NoError(t, os.WriteFile(abs, []byte(content), 0o644))
}

// setupWatcher indexes files under a fresh root and starts a watcher over it
func setupWatcher(t *testing.T, files map[string]string) (*Watcher, *recordingIndex, string) {
	t.Helper()
	root := t.TempDir()
	for rel, content := range files {
		writeFile(t, root, rel, content)
	}

	resolver, err := scope.New(scope.Config{Root: root}, nil)
	require.NoError(t, err)
	store, err := indexer.New(context.Background(), indexer.Config{Root: resolver.Root()}, nil, nil)
	require.NoError(t, err)

	paths, err := resolver.Resolve("")
	require.NoError(t, err)
	_, _, err = store.Ensure(context.Background(), paths)
	require.NoError(t, err)

	index := &recordingIndex{Store: store}
	w, err := New(resolver, index, Config{Debounce: 20 * time.Millisecond}, nil)
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	t.Cleanup(func() { _ = w.Close() })

	return w, index, resolver.Root()
}

func TestWatcher_InvalidatesModifiedFile(t *testing.T) {
	_, index, root := setupWatcher(t, map[string]string{"pkg/a.py": "def one():\n    return 1\n"})

	abs := filepath.Join(root, "pkg", "a.py")
	info, err := os.Stat(abs)
	require.NoError(t, err)

	// same size and mtime: only the notification reveals the edit
	require.NoError(t, os.WriteFile(abs, []byte("def two():\n    return 2\n"), 0o644))
	require.NoError(t, os.Chtimes(abs, info.ModTime(), info.ModTime()))

	require.Eventually(t, func() bool { return index.sawInvalidate("pkg/a.py") }, waitFor, tick)

	snap, stats, err := index.Ensure(context.Background(), []string{"pkg/a.py"})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.FilesBuilt)
	fi, ok := snap.File("pkg/a.py")
	require.True(t, ok)
	_, found := fi.Lookup("pkg/a.py:two")
	assert.True(t, found)
}

func TestWatcher_RemovesDeletedFile(t *testing.T) {
	w, index, root := setupWatcher(t, map[string]string{
		"a.py": "x = 1\n",
		"b.py": "y = 2\n",
	})

	require.NoError(t, os.Remove(filepath.Join(root, "a.py")))

	require.Eventually(t, func() bool { return index.sawRemove("a.py") }, waitFor, tick)
	_, ok := index.Snapshot().File("a.py")
	assert.False(t, ok)
	_, ok = index.Snapshot().File("b.py")
	assert.True(t, ok)
	assert.GreaterOrEqual(t, w.Stats().Removed, int64(1))
}

func TestWatcher_RemovedDirectoryDropsItsFiles(t *testing.T) {
	_, index, root := setupWatcher(t, map[string]string{
		"pkg/a.py":     "x = 1\n",
		"pkg/sub/b.py": "y = 2\n",
		"top.py":       "z = 3\n",
	})

	require.NoError(t, os.RemoveAll(filepath.Join(root, "pkg")))

	require.Eventually(t, func() bool {
		return index.Snapshot().Len() == 1
	}, waitFor, tick)
	assert.Equal(t, []string{"top.py"}, index.Snapshot().Paths())
}

func TestWatcher_NewDirectory(t *testing.T) {
	_, index, root := setupWatcher(t, map[string]string{"a.py": "x = 1\n"})

	writeFile(t, root, "pkg/new.py", "def fresh():\n    pass\n")
	require.Eventually(t, func() bool { return index.sawInvalidate("pkg/new.py") }, waitFor, tick)

	// the new directory is watched as well
	writeFile(t, root, "pkg/later.py", "def later():\n    pass\n")
	require.Eventually(t, func() bool { return index.sawInvalidate("pkg/later.py") }, waitFor, tick)
}

func TestWatcher_IgnoresOutOfScopeChanges(t *testing.T) {
	_, index, root := setupWatcher(t, map[string]string{
		"a.py":                 "x = 1\n",
		"node_modules/dep.py":  "y = 2\n",
		"notes.txt":            "hello\n",
		".venv/lib/site.py":    "z = 3\n",
		"docs/readme.md":       "readme\n",
		"pkg/__init__.py":      "",
		"pkg/sub/__init__.py":  "",
		"pkg/sub/deep/mod.py":  "w = 4\n",
		"pkg/sub/deep/data.js": "1\n",
	})

	writeFile(t, root, "node_modules/dep.py", "y = 3\n")
	writeFile(t, root, "notes.txt", "changed\n")
	writeFile(t, root, ".venv/lib/site.py", "z = 4\n")
	writeFile(t, root, "pkg/sub/deep/data.js", "2\n")
	writeFile(t, root, "pkg/sub/deep/mod.py", "w = 5\n")

	require.Eventually(t, func() bool { return index.sawInvalidate("pkg/sub/deep/mod.py") }, waitFor, tick)

	index.mu.Lock()
	defer index.mu.Unlock()
	assert.Equal(t, []string{"pkg/sub/deep/mod.py"}, index.invalidated)
	assert.Empty(t, index.removed)
}

func TestWatcher_Lifecycle(t *testing.T) {
	w, _, _ := setupWatcher(t, map[string]string{"a.py": "x = 1\n"})

	assert.Error(t, w.Start(context.Background()))
	require.NoError(t, w.Close())
	assert.NoError(t, w.Close())
}

func TestWatcher_StopsWithContext(t *testing.T) {
	root := t.TempDir()
	resolver, err := scope.New(scope.Config{Root: root}, nil)
	require.NoError(t, err)
	store, err := indexer.New(context.Background(), indexer.Config{Root: resolver.Root()}, nil, nil)
	require.NoError(t, err)

	w, err := New(resolver, store, Config{}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, w.Start(ctx))
	cancel()

	select {
	case <-w.done:
	case <-time.After(waitFor):
		t.Fatal("watcher did not stop after cancellation")
	}
	require.NoError(t, w.Close())
}
