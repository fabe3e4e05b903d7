package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/codesearch-mcp/internal/indexer"
	"github.com/dshills/codesearch-mcp/internal/scope"
	"github.com/dshills/codesearch-mcp/internal/searcher"
	"github.com/dshills/codesearch-mcp/internal/storage"
)

const modelsPy = `class Series:
    def __init__(self, data):
        self.data = data

    def head(self, n=5):
        return self.data[:n]
`

const indexPy = `class Index:
    def get_loc(self, key):
        raise KeyError(key)
`

func newTestServer(t *testing.T, cache storage.Storage) *Server {
	t.Helper()
	root := t.TempDir()
	files := map[string]string{
		"src/models.py":     modelsPy,
		"src/core/index.py": indexPy,
		"src/core/bad.py":   "def bad(:\n    pass\n",
	}
	for rel, content := range files {
		abs := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0o755))
		require.NoError(t, os.WriteFile(abs, []byte(content), 0o644))
	}

	resolver, err := scope.New(scope.Config{Root: root}, nil)
	require.NoError(t, err)
	store, err := indexer.New(context.Background(), indexer.Config{Root: resolver.Root()}, cache, nil)
	require.NoError(t, err)
	srch, err := searcher.New(resolver, store, searcher.Config{}, nil)
	require.NoError(t, err)

	server, err := NewServer(resolver, store, srch, nil)
	require.NoError(t, err)
	return server
}

func callRequest(name string, args map[string]interface{}) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	if args != nil {
		req.Params.Arguments = args
	}
	return req
}

// decode returns the JSON object carried by a text tool result
func decode(t *testing.T, result *mcp.CallToolResult) map[string]interface{} {
	t.Helper()
	require.NotNil(t, result)
	require.Len(t, result.Content, 1)
	text, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok)

	var out map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(text.Text), &out))
	return out
}

func requireMCPError(t *testing.T, err error, code int) *MCPError {
	t.Helper()
	require.Error(t, err)
	var mcpErr *MCPError
	require.True(t, errors.As(err, &mcpErr), "unexpected error type %T", err)
	assert.Equal(t, code, mcpErr.Code)
	return mcpErr
}

func TestNewServer(t *testing.T) {
	server := newTestServer(t, nil)
	assert.NotNil(t, server.mcp)
	assert.NotNil(t, server.store)
	assert.NotNil(t, server.searcher)

	_, err := NewServer(nil, nil, nil, nil)
	assert.Error(t, err)
}

func TestHandleSearch(t *testing.T) {
	server := newTestServer(t, nil)
	ctx := context.Background()

	t.Run("exact name", func(t *testing.T) {
		result, err := server.handleSearch(ctx, callRequest("search", map[string]interface{}{
			"search_terms":         []interface{}{"Series"},
			"file_path_or_pattern": "src/**/*.py",
		}))
		require.NoError(t, err)
		out := decode(t, result)

		results := out["results"].([]interface{})
		require.NotEmpty(t, results)
		first := results[0].(map[string]interface{})
		assert.Equal(t, "exact-name", first["match_kind"])
		assert.Equal(t, "src/models.py:Series", first["qualified_name"])
		assert.Equal(t, map[string]interface{}{"start": 1.0, "end": 6.0}, first["line_range"])
		assert.Equal(t, 3.0, out["files_searched"])
		assert.Equal(t, []interface{}{"src/core/bad.py"}, out["unstructured_files"])
	})

	t.Run("single string term", func(t *testing.T) {
		result, err := server.handleSearch(ctx, callRequest("search", map[string]interface{}{
			"search_terms": "get_loc",
		}))
		require.NoError(t, err)
		results := decode(t, result)["results"].([]interface{})
		require.NotEmpty(t, results)
		assert.Equal(t, "src/core/index.py:Index.get_loc", results[0].(map[string]interface{})["qualified_name"])
	})

	t.Run("line numbers", func(t *testing.T) {
		result, err := server.handleSearch(ctx, callRequest("search", map[string]interface{}{
			"line_nums":            []interface{}{5.0},
			"file_path_or_pattern": "src/models.py",
		}))
		require.NoError(t, err)
		results := decode(t, result)["results"].([]interface{})
		require.Len(t, results, 1)
		hit := results[0].(map[string]interface{})
		assert.Equal(t, "line-context", hit["match_kind"])
		assert.Nil(t, hit["score"])
		assert.Equal(t, "src/models.py:Series.head", hit["qualified_name"])
	})

	t.Run("ambiguous scope", func(t *testing.T) {
		_, err := server.handleSearch(ctx, callRequest("search", map[string]interface{}{
			"line_nums":            []interface{}{1.0},
			"file_path_or_pattern": "src/core/*.py",
		}))
		mcpErr := requireMCPError(t, err, ErrorCodeAmbiguousScope)
		data := mcpErr.Data.(map[string]interface{})
		assert.Equal(t, 2, data["matches"])
	})

	t.Run("empty scope", func(t *testing.T) {
		result, err := server.handleSearch(ctx, callRequest("search", map[string]interface{}{
			"search_terms":         []interface{}{"Series"},
			"file_path_or_pattern": "lib/**/*.py",
		}))
		require.NoError(t, err)
		assert.Empty(t, decode(t, result)["results"])
	})

	t.Run("outside root", func(t *testing.T) {
		_, err := server.handleSearch(ctx, callRequest("search", map[string]interface{}{
			"search_terms":         []interface{}{"Series"},
			"file_path_or_pattern": "../**/*.py",
		}))
		requireMCPError(t, err, ErrorCodeInvalidParams)
	})
}

func TestHandleSearch_InvalidParams(t *testing.T) {
	server := newTestServer(t, nil)
	ctx := context.Background()

	tests := []struct {
		name string
		args map[string]interface{}
	}{
		{"no arguments", nil},
		{"empty query", map[string]interface{}{"file_path_or_pattern": "src/models.py"}},
		{"non-string term", map[string]interface{}{"search_terms": []interface{}{"ok", 3.0}}},
		{"terms object", map[string]interface{}{"search_terms": map[string]interface{}{}}},
		{"fractional line", map[string]interface{}{"line_nums": []interface{}{2.5}}},
		{"zero line", map[string]interface{}{"line_nums": []interface{}{0.0}}},
		{"string line", map[string]interface{}{"line_nums": []interface{}{"3"}}},
		{"pattern type", map[string]interface{}{"search_terms": []interface{}{"x"}, "file_path_or_pattern": 7.0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := server.handleSearch(ctx, callRequest("search", tt.args))
			requireMCPError(t, err, ErrorCodeInvalidParams)
		})
	}

	req := mcp.CallToolRequest{}
	req.Params.Arguments = "not an object"
	_, err := server.handleSearch(ctx, req)
	requireMCPError(t, err, ErrorCodeInvalidParams)
}

func TestParseQuery(t *testing.T) {
	q, err := parseQuery(map[string]interface{}{
		"search_terms":         []interface{}{"Series", "head"},
		"line_nums":            []interface{}{3.0, 1.0},
		"file_path_or_pattern": "src/models.py",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"Series", "head"}, q.SearchTerms)
	assert.Equal(t, []int{3, 1}, q.LineNums)
	assert.Equal(t, "src/models.py", q.FileScope)

	q, err = parseQuery(map[string]interface{}{"line_nums": 4.0})
	require.NoError(t, err)
	assert.Equal(t, []int{4}, q.LineNums)
}

func TestHandleIndexAndStatus(t *testing.T) {
	server := newTestServer(t, nil)
	ctx := context.Background()

	result, err := server.handleIndexStatus(ctx, callRequest("index_status", nil))
	require.NoError(t, err)
	out := decode(t, result)
	assert.Equal(t, 0.0, out["statistics"].(map[string]interface{})["files"])
	assert.Equal(t, map[string]interface{}{"enabled": false}, out["cache"])

	result, err = server.handleIndex(ctx, callRequest("index", nil))
	require.NoError(t, err)
	out = decode(t, result)
	assert.Equal(t, true, out["indexed"])
	assert.Equal(t, 3.0, out["files_requested"])
	assert.Equal(t, 3.0, out["files_built"])
	assert.Equal(t, 1.0, out["unstructured"])

	result, err = server.handleIndexStatus(ctx, callRequest("index_status", nil))
	require.NoError(t, err)
	out = decode(t, result)
	stats := out["statistics"].(map[string]interface{})
	assert.Equal(t, 3.0, stats["files"])
	assert.Equal(t, 2.0, stats["structured"])
	assert.Equal(t, 1.0, stats["unstructured"])
	assert.Equal(t, false, out["building"])
	assert.NotEmpty(t, out["last_merged_at"])

	_, err = server.handleIndex(ctx, callRequest("index", map[string]interface{}{"file_path_or_pattern": "../x"}))
	requireMCPError(t, err, ErrorCodeInvalidParams)
}

func TestHandleIndexStatus_WithCache(t *testing.T) {
	cache, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = cache.Close() })

	server := newTestServer(t, cache)
	ctx := context.Background()

	_, err = server.handleIndex(ctx, callRequest("index", map[string]interface{}{"file_path_or_pattern": "src/core"}))
	require.NoError(t, err)

	result, err := server.handleIndexStatus(ctx, callRequest("index_status", nil))
	require.NoError(t, err)
	c := decode(t, result)["cache"].(map[string]interface{})
	assert.Equal(t, true, c["enabled"])
	assert.Equal(t, true, c["database_accessible"])
	assert.Equal(t, storage.CurrentSchemaVersion, c["schema_version"])
	assert.Equal(t, 2.0, c["files_count"])
}
