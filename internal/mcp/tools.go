package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/sirupsen/logrus"

	"github.com/dshills/codesearch-mcp/internal/indexer"
	"github.com/dshills/codesearch-mcp/pkg/types"
)

// MCP error codes
const (
	ErrorCodeInvalidParams      = -32602 // Invalid method parameters
	ErrorCodeInternalError      = -32603 // Internal JSON-RPC error
	ErrorCodeIndexingInProgress = -32002 // Another warm-up is already running
	ErrorCodeAmbiguousScope     = -32005 // Line query scope matched more than one file
)

// maxReportedErrors caps the per-file error messages included in responses
const maxReportedErrors = 5

// handleSearch handles the search tool invocation
func (s *Server) handleSearch(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := arguments(request)
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	query, err := parseQuery(args)
	if err != nil {
		return nil, err
	}

	resp, err := s.searcher.Search(ctx, query)
	if err != nil {
		return nil, s.searchError(query, err)
	}

	response := map[string]interface{}{
		"results":        resp.Results,
		"total_matches":  resp.TotalMatches,
		"truncated":      resp.Truncated,
		"files_searched": resp.FilesSearched,
		"generation":     resp.Generation,
		"cached":         resp.CacheHit,
		"duration_ms":    resp.Duration.Milliseconds(),
	}
	if len(resp.Unstructured) > 0 {
		response["unstructured_files"] = resp.Unstructured
	}
	if len(resp.Suggestions) > 0 {
		response["suggestions"] = resp.Suggestions
	}

	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleIndex handles the index tool invocation
func (s *Server) handleIndex(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := arguments(request)
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	pattern, err := stringParam(args, "file_path_or_pattern")
	if err != nil {
		return nil, err
	}

	paths, err := s.resolver.Resolve(pattern)
	if err != nil {
		return nil, s.searchError(types.SearchQuery{FileScope: pattern}, err)
	}

	stats, err := s.store.Warm(ctx, paths)
	if errors.Is(err, indexer.ErrBuildInProgress) {
		return nil, newMCPError(ErrorCodeIndexingInProgress, "another indexing operation is already running", nil)
	}
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "indexing failed", map[string]interface{}{
			"error": err.Error(),
		})
	}

	response := map[string]interface{}{
		"indexed":         true,
		"files_requested": stats.FilesRequested,
		"files_reused":    stats.FilesReused + stats.FilesRefreshed,
		"files_built":     stats.FilesBuilt,
		"files_cached":    stats.FilesFromCache,
		"files_removed":   stats.FilesRemoved,
		"unstructured":    stats.Unstructured,
		"failed":          stats.Failed,
		"generation":      s.store.Snapshot().Generation,
		"duration_ms":     stats.Duration.Milliseconds(),
	}

	if len(stats.ErrorMessages) > 0 {
		errorCount := len(stats.ErrorMessages)
		if errorCount > maxReportedErrors {
			response["errors"] = stats.ErrorMessages[:maxReportedErrors]
			response["error_count"] = errorCount
		} else {
			response["errors"] = stats.ErrorMessages
		}
	}

	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleIndexStatus handles the index_status tool invocation
func (s *Server) handleIndexStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	status := s.store.Status()

	response := map[string]interface{}{
		"root":       s.resolver.Root(),
		"generation": status.Generation,
		"building":   s.store.Building(),
		"statistics": map[string]interface{}{
			"files":        status.Files,
			"structured":   status.Structured,
			"unstructured": status.Unstructured,
			"failed":       status.Failed,
			"entities":     status.Entities,
		},
	}
	if !status.MergedAt.IsZero() {
		response["last_merged_at"] = status.MergedAt.Format(time.RFC3339)
	}
	if since, ok := s.store.BuildingSince(); ok {
		response["building_since"] = since.Format(time.RFC3339)
	}

	cache, err := s.store.CacheStatus(ctx)
	switch {
	case err != nil:
		s.logger.WithError(err).Warn("Failed to read cache status")
		response["cache"] = map[string]interface{}{
			"enabled":             true,
			"database_accessible": false,
		}
	case cache == nil:
		response["cache"] = map[string]interface{}{"enabled": false}
	default:
		response["cache"] = map[string]interface{}{
			"enabled":             true,
			"database_accessible": cache.Health.DatabaseAccessible,
			"schema_version":      cache.Health.SchemaVersion,
			"files_count":         cache.FilesCount,
			"unstructured_count":  cache.UnstructuredCount,
			"entities_count":      cache.EntitiesCount,
			"size_mb":             fmt.Sprintf("%.2f", cache.IndexSizeMB),
		}
	}

	return mcp.NewToolResultText(formatJSON(response)), nil
}

// searchError maps engine errors onto MCP error codes
func (s *Server) searchError(query types.SearchQuery, err error) error {
	var ambiguous *types.AmbiguousScopeError
	switch {
	case errors.As(err, &ambiguous):
		return newMCPError(ErrorCodeAmbiguousScope, "line_nums require a file scope matching exactly one file", map[string]interface{}{
			"file_path_or_pattern": ambiguous.Pattern,
			"matches":              ambiguous.Matches,
		})
	case errors.Is(err, types.ErrMalformedQuery), errors.Is(err, types.ErrScopeOutsideRoot):
		return newMCPError(ErrorCodeInvalidParams, err.Error(), nil)
	default:
		s.logger.WithError(err).WithFields(logrus.Fields{
			"scope": query.Scope(),
			"terms": len(query.SearchTerms),
			"lines": len(query.LineNums),
		}).Error("Search failed")
		return newMCPError(ErrorCodeInternalError, "search failed", map[string]interface{}{
			"error": err.Error(),
		})
	}
}

// Helper functions

// newMCPError creates a properly formatted MCP error
func newMCPError(code int, message string, data interface{}) error {
	// MCP errors are returned as regular errors, the framework handles encoding
	return &MCPError{
		Code:    code,
		Message: message,
		Data:    data,
	}
}

// MCPError represents an MCP protocol error
type MCPError struct {
	Code    int
	Message string
	Data    interface{}
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

func invalidParam(param, reason string) error {
	return newMCPError(ErrorCodeInvalidParams, fmt.Sprintf("invalid %s: %s", param, reason), map[string]interface{}{
		"param":  param,
		"reason": reason,
	})
}

// arguments returns the tool arguments; absent arguments are an empty object
func arguments(request mcp.CallToolRequest) (map[string]interface{}, bool) {
	if request.Params.Arguments == nil {
		return map[string]interface{}{}, true
	}
	args, ok := request.Params.Arguments.(map[string]interface{})
	return args, ok
}

// parseQuery converts tool arguments into a search query. A bare string is
// accepted where a list of terms is expected, and a bare number where a list
// of line numbers is.
func parseQuery(args map[string]interface{}) (types.SearchQuery, error) {
	var q types.SearchQuery

	switch v := args["search_terms"].(type) {
	case nil:
	case string:
		q.SearchTerms = []string{v}
	case []string:
		q.SearchTerms = v
	case []interface{}:
		for _, item := range v {
			term, ok := item.(string)
			if !ok {
				return q, invalidParam("search_terms", "every term must be a string")
			}
			q.SearchTerms = append(q.SearchTerms, term)
		}
	default:
		return q, invalidParam("search_terms", "must be an array of strings")
	}

	switch v := args["line_nums"].(type) {
	case nil:
	case []interface{}:
		for _, item := range v {
			n, ok := lineNumber(item)
			if !ok {
				return q, invalidParam("line_nums", "every line number must be a positive integer")
			}
			q.LineNums = append(q.LineNums, n)
		}
	case []int:
		q.LineNums = v
	default:
		n, ok := lineNumber(v)
		if !ok {
			return q, invalidParam("line_nums", "must be an array of positive integers")
		}
		q.LineNums = []int{n}
	}

	pattern, err := stringParam(args, "file_path_or_pattern")
	if err != nil {
		return q, err
	}
	q.FileScope = pattern

	if err := q.Validate(); err != nil {
		return q, newMCPError(ErrorCodeInvalidParams, err.Error(), nil)
	}
	return q, nil
}

func lineNumber(v interface{}) (int, bool) {
	var n float64
	switch x := v.(type) {
	case float64:
		n = x
	case int:
		n = float64(x)
	case int64:
		n = float64(x)
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return 0, false
		}
		n = f
	default:
		return 0, false
	}
	if n < 1 || n != math.Trunc(n) || n > math.MaxInt32 {
		return 0, false
	}
	return int(n), true
}

// stringParam extracts an optional string parameter
func stringParam(args map[string]interface{}, key string) (string, error) {
	switch v := args[key].(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	default:
		return "", invalidParam(key, "must be a string")
	}
}

// formatJSON formats a map as indented JSON
func formatJSON(data map[string]interface{}) string {
	bytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	return string(bytes)
}
