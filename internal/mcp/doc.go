// Package mcp implements the Model Context Protocol (MCP) server for codesearch.
//
// The MCP server exposes three tools to AI coding assistants:
//   - search: find code by qualified name, keyword or literal text, or show the
//     code around line numbers of one file
//   - index: build the index for a file scope ahead of the first query
//   - index_status: report indexed, degraded and failed file counts
//
// # Protocol Overview
//
// MCP is a JSON-RPC 2.0 protocol over stdio transport:
//
//	Client → Server: {"method": "tools/call", "params": {...}}
//	Server → Client: {"result": {...}}
//
// stdout carries protocol messages only; all logging goes to stderr.
//
// # Basic Usage
//
//	codesearch serve --root /path/to/repo
//
// # Tool: search
//
//	Request:
//	{
//	  "name": "search",
//	  "arguments": {
//	    "search_terms": ["Series"],
//	    "file_path_or_pattern": "src/**/*.py"
//	  }
//	}
//
//	Response:
//	{
//	  "results": [
//	    {
//	      "file_path": "src/models.py",
//	      "line_range": {"start": 12, "end": 140},
//	      "snippet": "class Series:\n    ...",
//	      "match_kind": "exact-name",
//	      "score": 2,
//	      "term": "Series",
//	      "qualified_name": "src/models.py:Series"
//	    }
//	  ],
//	  "total_matches": 37,
//	  "truncated": false,
//	  "files_searched": 41,
//	  "generation": 3,
//	  "cached": false,
//	  "duration_ms": 4
//	}
//
// Results are ordered exact-name, keyword, substring, line-context. Within a
// kind, higher scores come first and ties break on path and line. Substring
// and line-context results carry a null score. unstructured_files lists files
// in scope that failed to parse and were searched as plain text.
//
// Line queries pass line_nums instead of (or together with) search_terms. The
// scope must then match exactly one file; a line inside a class or function
// returns that entity's whole range, any other line returns a window around
// it. With search_terms present, only windows containing a term are kept.
//
// # Tool: index
//
//	{"name": "index", "arguments": {"file_path_or_pattern": "src/**/*.py"}}
//
// Builds every file of the scope and reports built, reused, cached,
// unstructured and failed counts. A second concurrent call fails with
// -32002 instead of queueing.
//
// # Tool: index_status
//
// Takes no arguments and reports the snapshot generation, file counts per
// state, the number of entities and, when an on-disk cache is configured,
// its health.
//
// # Error Codes
//
//   - -32602: Invalid params (no search_terms or line_nums, bad types, scope
//     outside the working tree, invalid glob)
//   - -32603: Internal error
//   - -32002: Indexing already in progress
//   - -32005: Ambiguous scope (line_nums with a scope matching several files)
//
// A scope matching no files is not an error; the result list is empty.
package mcp
