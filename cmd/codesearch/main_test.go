package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/codesearch-mcp/internal/indexer"
	"github.com/dshills/codesearch-mcp/internal/searcher"
	"github.com/dshills/codesearch-mcp/pkg/types"
)

func TestPrintResponse(t *testing.T) {
	resp := &searcher.Response{
		Results: []types.SearchResult{
			{
				FilePath:      "src/models.py",
				Lines:         types.LineRange{Start: 1, End: 3},
				Snippet:       "class Series:\n    pass",
				MatchKind:     types.MatchExactName,
				Score:         types.Float(2),
				QualifiedName: "src/models.py:Series",
			},
			{
				FilePath:  "src/bad.py",
				Lines:     types.LineRange{Start: 4, End: 4},
				Snippet:   "Series()",
				MatchKind: types.MatchSubstring,
			},
		},
		TotalMatches:  7,
		Truncated:     true,
		FilesSearched: 2,
		Unstructured:  []string{"src/bad.py"},
		Suggestions:   []string{"src/models.py:SeriesGroupBy"},
	}

	var buf bytes.Buffer
	printResponse(&buf, resp, true)
	out := buf.String()

	lines := strings.Split(out, "\n")
	assert.True(t, strings.HasPrefix(lines[0], "src/models.py:1-3"))
	assert.Contains(t, lines[0], "exact-name")
	assert.Contains(t, lines[0], "2.000")
	assert.Contains(t, lines[0], "src/models.py:Series")
	assert.Equal(t, "    class Series:", lines[1])
	assert.Contains(t, out, "2 results from 2 files (truncated from 7)")
	assert.Contains(t, out, "text-only (parse errors): src/bad.py")
	assert.Contains(t, out, "did you mean: src/models.py:SeriesGroupBy")
}

func TestPrintStatistics(t *testing.T) {
	var buf bytes.Buffer
	printStatistics(&buf, &indexer.Statistics{
		FilesRequested: 3,
		FilesBuilt:     2,
		FilesReused:    1,
		Failed:         1,
		ErrorMessages:  []string{"big.py: file too large"},
	}, indexer.Status{Entities: 9, Generation: 4})

	out := buf.String()
	assert.Contains(t, out, "Files: 3 requested, 2 built, 0 from cache, 1 reused")
	assert.Contains(t, out, "Entities: 9 (generation 4)")
	assert.Contains(t, out, "  big.py: file too large")
}

func TestSearchCommand(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "models.py"),
		[]byte("class Series:\n    def head(self):\n        return 1\n"), 0o644))
	t.Setenv("HOME", t.TempDir())
	t.Chdir(t.TempDir())

	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetArgs([]string{"search", "--root", root, "head"})
	t.Cleanup(func() {
		rootCmd.SetArgs(nil)
		rootCmd.SetOut(nil)
		flagRoot, flagTerms = "", nil
	})

	require.NoError(t, rootCmd.Execute())
	lines := strings.Split(buf.String(), "\n")
	require.NotEmpty(t, lines)
	assert.True(t, strings.HasPrefix(lines[0], "models.py:2-3"))
	assert.Contains(t, lines[0], "models.py:Series.head")
}
