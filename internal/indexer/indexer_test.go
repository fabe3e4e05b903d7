package indexer

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

	"github.com/dshills/codesearch-mcp/internal/storage"
	"github.com/dshills/codesearch-mcp/pkg/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const modelsSource = `"""Data models."""


class Series:
    """A labelled column."""

    def __init__(self, data):
        self.data = data

    def head(self, n=5):
        return self.data[:n]


def load(path):
    return Series(open(path).read())
`

const brokenSource = `def broken(:
    return 1
`

// writeTree creates files under a fresh root and returns the root
func writeTree(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for rel, content := range files {
		writeFile(t, root, rel, content)
	}
	return root
}

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	abs := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0o755))
	require.NoError(t, os.WriteFile(abs, []byte(content), 0o644))
}

// touch sets a file's mtime so stat changes are visible regardless of the
// filesystem's timestamp granularity
func touch(t *testing.T, root, rel string, mtime time.Time) {
	t.Helper()
	require.NoError(t, os.Chtimes(filepath.Join(root, filepath.FromSlash(rel)), mtime, mtime))
}

func newStore(t *testing.T, root string, cache storage.Storage) *Store {
	t.Helper()
	s, err := New(context.Background(), Config{Root: root, Workers: 4}, cache, nil)
	require.NoError(t, err)
	return s
}

func TestNew(t *testing.T) {
	_, err := New(context.Background(), Config{Root: "relative/path"}, nil, nil)
	assert.Error(t, err)

	s := newStore(t, t.TempDir(), nil)
	assert.Equal(t, 4, s.cfg.Workers)
	assert.Equal(t, int64(DefaultMaxFileSize), s.cfg.MaxFileSize)
	assert.NotNil(t, s.Tokenizer())
	assert.Equal(t, 0, s.Snapshot().Len())
}

func TestEnsure_BuildsStructuredFiles(t *testing.T) {
	root := writeTree(t, map[string]string{
		"src/models.py": modelsSource,
		"src/util.py":   "def helper():\n    return 42\n",
	})
	s := newStore(t, root, nil)

	snap, stats, err := s.Ensure(context.Background(), []string{"src/models.py", "src/util.py"})
	require.NoError(t, err)
	assert.Equal(t, 2, stats.FilesBuilt)
	assert.Equal(t, 0, stats.FilesReused)
	assert.Equal(t, uint64(1), snap.Generation)
	assert.Equal(t, []string{"src/models.py", "src/util.py"}, snap.Paths())

	fi, ok := snap.File("src/models.py")
	require.True(t, ok)
	assert.Equal(t, types.StateStructured, fi.Source.State)
	assert.NotZero(t, fi.Source.Signature.Hash)
	assert.False(t, fi.Keywords.Empty())
	require.NoError(t, types.ValidateArena(fi.Source.Entities))

	e, ok := fi.Lookup("src/models.py:Series.__init__")
	require.True(t, ok)
	assert.Equal(t, types.KindMethod, e.Kind)
	assert.Equal(t, 7, e.StartLine)
	assert.Equal(t, 8, e.EndLine)

	_, ok = fi.Lookup("src/models.py:Missing")
	assert.False(t, ok)
}

func TestEnsure_ReusesUnchangedFiles(t *testing.T) {
	root := writeTree(t, map[string]string{"models.py": modelsSource})
	s := newStore(t, root, nil)
	ctx := context.Background()

	first, _, err := s.Ensure(ctx, []string{"models.py"})
	require.NoError(t, err)
	before, _ := first.File("models.py")

	second, stats, err := s.Ensure(ctx, []string{"models.py"})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.FilesReused)
	assert.Equal(t, 0, stats.FilesBuilt)
	assert.Equal(t, first.Generation, second.Generation)

	after, _ := second.File("models.py")
	assert.Same(t, before, after)
}

func TestEnsure_RebuildsChangedFiles(t *testing.T) {
	root := writeTree(t, map[string]string{"models.py": modelsSource})
	s := newStore(t, root, nil)
	ctx := context.Background()

	old, _, err := s.Ensure(ctx, []string{"models.py"})
	require.NoError(t, err)

	writeFile(t, root, "models.py", "class Frame:\n    pass\n")
	touch(t, root, "models.py", time.Now().Add(time.Hour))

	snap, stats, err := s.Ensure(ctx, []string{"models.py"})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.FilesBuilt)
	assert.Equal(t, old.Generation+1, snap.Generation)

	fi, _ := snap.File("models.py")
	_, ok := fi.Lookup("models.py:Frame")
	assert.True(t, ok)
	_, ok = fi.Lookup("models.py:Series")
	assert.False(t, ok)

	// the earlier snapshot is untouched
	oldFile, _ := old.File("models.py")
	_, ok = oldFile.Lookup("models.py:Series")
	assert.True(t, ok)
}

func TestEnsure_RefreshesTouchedFiles(t *testing.T) {
	root := writeTree(t, map[string]string{"models.py": modelsSource})
	s := newStore(t, root, nil)
	ctx := context.Background()

	first, _, err := s.Ensure(ctx, []string{"models.py"})
	require.NoError(t, err)
	before, _ := first.File("models.py")

	mtime := time.Now().Add(2 * time.Hour).Truncate(time.Second)
	touch(t, root, "models.py", mtime)

	snap, stats, err := s.Ensure(ctx, []string{"models.py"})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.FilesRefreshed)
	assert.Equal(t, 0, stats.FilesBuilt)
	assert.Equal(t, first.Generation, snap.Generation)

	after, _ := snap.File("models.py")
	assert.NotSame(t, before, after)
	assert.Same(t, before.Keywords, after.Keywords)
	assert.True(t, after.Source.Signature.ModTime.Equal(mtime))
	assert.Equal(t, before.Source.Signature.Hash, after.Source.Signature.Hash)
}

func TestEnsure_UnstructuredFile(t *testing.T) {
	root := writeTree(t, map[string]string{"broken.py": brokenSource})
	s := newStore(t, root, nil)

	snap, stats, err := s.Ensure(context.Background(), []string{"broken.py"})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Unstructured)
	require.Len(t, stats.ErrorMessages, 1)
	assert.Contains(t, stats.ErrorMessages[0], "broken.py")

	fi, ok := snap.File("broken.py")
	require.True(t, ok)
	assert.Equal(t, types.StateUnstructured, fi.Source.State)
	assert.Error(t, fi.Source.Err)
	assert.Len(t, fi.Source.Entities, 1)
	assert.Len(t, fi.Source.Lines, 2)
	assert.True(t, fi.Keywords.Empty())

	// only structured files resolve names
	_, ok = fi.Lookup("broken.py")
	assert.False(t, ok)
}

func TestEnsure_FailedFiles(t *testing.T) {
	root := writeTree(t, map[string]string{
		"binary.py":  "x = 1\x00\x01\x02",
		"latin1.py":  "name = '\xe9t\xe9'\n",
		"big.py":     "x = 1\ny = 2\nz = 3\nw = 4\n",
		"healthy.py": "def ok():\n    pass\n",
	})
	s, err := New(context.Background(), Config{Root: root, MaxFileSize: 20}, nil, nil)
	require.NoError(t, err)

	snap, stats, err := s.Ensure(context.Background(), []string{"binary.py", "latin1.py", "big.py", "healthy.py"})
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Failed)

	binary, _ := snap.File("binary.py")
	assert.Equal(t, types.StateFailed, binary.Source.State)
	assert.ErrorIs(t, binary.Source.Err, ErrBinaryFile)
	assert.Nil(t, binary.Source.Lines)

	latin1, _ := snap.File("latin1.py")
	assert.Equal(t, types.StateFailed, latin1.Source.State)
	assert.ErrorIs(t, latin1.Source.Err, ErrInvalidEncoding)
	assert.Len(t, latin1.Source.Lines, 1)

	big, _ := snap.File("big.py")
	assert.ErrorIs(t, big.Source.Err, ErrFileTooLarge)

	healthy, _ := snap.File("healthy.py")
	assert.Equal(t, types.StateStructured, healthy.Source.State)
}

func TestEnsure_RemovedFile(t *testing.T) {
	root := writeTree(t, map[string]string{"a.py": "a = 1\n", "b.py": "b = 2\n"})
	s := newStore(t, root, nil)
	ctx := context.Background()

	_, _, err := s.Ensure(ctx, []string{"a.py", "b.py"})
	require.NoError(t, err)

	require.NoError(t, os.Remove(filepath.Join(root, "a.py")))
	snap, stats, err := s.Ensure(ctx, []string{"a.py", "b.py"})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.FilesRemoved)
	assert.Equal(t, 1, stats.FilesReused)
	assert.Equal(t, []string{"b.py"}, snap.Paths())
	assert.Equal(t, uint64(2), snap.Generation)
}

func TestInvalidate(t *testing.T) {
	root := writeTree(t, map[string]string{"models.py": "x = 1\n"})
	s := newStore(t, root, nil)
	ctx := context.Background()

	mtime := time.Now().Add(-time.Hour).Truncate(time.Second)
	touch(t, root, "models.py", mtime)
	_, _, err := s.Ensure(ctx, []string{"models.py"})
	require.NoError(t, err)

	// same size and mtime, different content: only invalidation reveals it
	writeFile(t, root, "models.py", "y = 2\n")
	touch(t, root, "models.py", mtime)

	_, stats, err := s.Ensure(ctx, []string{"models.py"})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.FilesReused)

	s.Invalidate("models.py")
	snap, stats, err := s.Ensure(ctx, []string{"models.py"})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.FilesBuilt)

	fi, _ := snap.File("models.py")
	assert.Equal(t, []string{"y = 2"}, fi.Source.Lines)
}

func TestRemove(t *testing.T) {
	root := writeTree(t, map[string]string{"a.py": "a = 1\n"})
	s := newStore(t, root, nil)
	ctx := context.Background()

	before, _, err := s.Ensure(ctx, []string{"a.py"})
	require.NoError(t, err)

	s.Remove(ctx, "a.py")
	after := s.Snapshot()
	assert.Equal(t, 0, after.Len())
	assert.Equal(t, before.Generation+1, after.Generation)

	// removing an unknown path is a no-op for the snapshot
	s.Remove(ctx, "missing.py")
	assert.Equal(t, after.Generation, s.Snapshot().Generation)
}

func TestMerge_DiscardsStaleBuilds(t *testing.T) {
	root := writeTree(t, map[string]string{"a.py": "a = 1\n", "b.py": "b = 2\n"})
	s := newStore(t, root, nil)
	ctx := context.Background()

	resA, err := s.build(ctx, "a.py", nil, 0)
	require.NoError(t, err)
	resB, err := s.build(ctx, "b.py", nil, 0)
	require.NoError(t, err)

	// a.py changes on disk and b.py is invalidated while both builds are in flight
	touch(t, root, "a.py", time.Now().Add(time.Hour))
	s.Invalidate("b.py")

	stats := &Statistics{}
	stale := s.merge([]*buildResult{resA, resB}, stats, true)
	assert.Len(t, stale, 2)
	assert.Equal(t, 2, stats.StaleDiscarded)
	assert.Equal(t, 0, s.Snapshot().Len())
	assert.Equal(t, uint64(0), s.Snapshot().Generation)
	assert.Equal(t, uint64(1), stale[1].epoch)

	// without retry the stale builds are simply dropped
	assert.Empty(t, s.merge([]*buildResult{resA}, &Statistics{}, false))

	// Ensure retries and converges
	snap, stats, err := s.Ensure(ctx, []string{"a.py", "b.py"})
	require.NoError(t, err)
	assert.Equal(t, 2, stats.FilesBuilt)
	assert.Equal(t, 2, snap.Len())
}

func TestEnsure_Cancelled(t *testing.T) {
	root := writeTree(t, map[string]string{"a.py": "a = 1\n"})
	s := newStore(t, root, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := s.Ensure(ctx, []string{"a.py"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, s.Snapshot().Len())
}

func TestEnsure_Concurrent(t *testing.T) {
	files := map[string]string{}
	paths := make([]string, 0)
	for _, name := range []string{"a", "b", "c", "d", "e", "f"} {
		p := "pkg/" + name + ".py"
		files[p] = modelsSource
		paths = append(paths, p)
	}
	root := writeTree(t, files)
	s := newStore(t, root, nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			snap, _, err := s.Ensure(context.Background(), paths)
			assert.NoError(t, err)
			assert.Equal(t, len(paths), snap.Len())
		}()
	}
	wg.Wait()

	// content changed exactly once
	assert.Equal(t, uint64(1), s.Snapshot().Generation)
}

func TestWarm(t *testing.T) {
	root := writeTree(t, map[string]string{"models.py": modelsSource, "broken.py": brokenSource})
	s := newStore(t, root, nil)
	ctx := context.Background()

	stats, err := s.Warm(ctx, []string{"broken.py", "models.py"})
	require.NoError(t, err)
	assert.Equal(t, 2, stats.FilesBuilt)
	assert.False(t, s.Building())

	require.True(t, s.warm.enter(time.Now()))
	assert.True(t, s.Building())
	_, err = s.Warm(ctx, []string{"models.py"})
	assert.ErrorIs(t, err, ErrBuildInProgress)
	s.warm.leave()

	status := s.Status()
	assert.Equal(t, 2, status.Files)
	assert.Equal(t, 1, status.Structured)
	assert.Equal(t, 1, status.Unstructured)
	assert.Equal(t, 0, status.Failed)
	assert.Equal(t, 6, status.Entities)
	assert.Equal(t, uint64(1), status.Generation)
}

func TestEnsure_WithCache(t *testing.T) {
	root := writeTree(t, map[string]string{"models.py": modelsSource, "broken.py": brokenSource})
	cache, err := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	defer func() { _ = cache.Close() }()
	ctx := context.Background()
	paths := []string{"broken.py", "models.py"}

	first := newStore(t, root, cache)
	stats, err := first.Warm(ctx, paths)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.FilesBuilt)
	assert.Equal(t, 0, stats.FilesFromCache)

	cacheStatus, err := first.CacheStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, cacheStatus.FilesCount)
	assert.Equal(t, 1, cacheStatus.UnstructuredCount)
	assert.Equal(t, 2, cacheStatus.Project.TotalFiles)

	// a fresh store for the same root loads both arenas from the cache
	second := newStore(t, root, cache)
	snap, stats, err := second.Ensure(ctx, paths)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.FilesFromCache)
	assert.Equal(t, 0, stats.FilesBuilt)
	assert.Equal(t, 1, stats.Unstructured)

	fi, _ := snap.File("models.py")
	_, ok := fi.Lookup("models.py:Series.head")
	assert.True(t, ok)
	broken, _ := snap.File("broken.py")
	assert.Equal(t, types.StateUnstructured, broken.Source.State)

	// changed content misses the cache
	writeFile(t, root, "models.py", "class Frame:\n    pass\n")
	touch(t, root, "models.py", time.Now().Add(time.Hour))
	_, stats, err = second.Ensure(ctx, paths)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.FilesBuilt)

	second.Remove(ctx, "broken.py")
	files, err := cache.ListFiles(ctx, second.project.ID)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "models.py", files[0].FilePath)
}

func TestCacheStatus_Disabled(t *testing.T) {
	s := newStore(t, t.TempDir(), nil)
	status, err := s.CacheStatus(context.Background())
	assert.NoError(t, err)
	assert.Nil(t, status)
}
