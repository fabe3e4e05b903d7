package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
)

var readOnlyAnnotation = mcp.ToolAnnotation{
	ReadOnlyHint:    mcp.ToBoolPtr(true),
	DestructiveHint: mcp.ToBoolPtr(false),
	IdempotentHint:  mcp.ToBoolPtr(true),
	OpenWorldHint:   mcp.ToBoolPtr(false),
}

// searchTool returns the tool definition for search
func searchTool() mcp.Tool {
	return mcp.Tool{
		Name: "search",
		Description: "Search Python source in the working tree by qualified name, keyword or literal text, " +
			"or fetch the code around specific line numbers of one file",
		Annotations: readOnlyAnnotation,
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"search_terms": map[string]interface{}{
					"type":        "array",
					"description": "Names, keywords or literal strings to look for (e.g. 'Series', 'models.py:Series.head', 'label not found')",
					"items": map[string]interface{}{
						"type": "string",
					},
				},
				"line_nums": map[string]interface{}{
					"type":        "array",
					"description": "1-based line numbers to show; the file scope must match exactly one file",
					"items": map[string]interface{}{
						"type":    "integer",
						"minimum": 1,
					},
				},
				"file_path_or_pattern": map[string]interface{}{
					"type":        "string",
					"description": "File path or glob relative to the working tree root (e.g. 'src/core/*.py')",
					"default":     "**/*.py",
				},
			},
		},
	}
}

// indexTool returns the tool definition for index
func indexTool() mcp.Tool {
	return mcp.Tool{
		Name:        "index",
		Description: "Build the index for a file scope ahead of searching it",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"file_path_or_pattern": map[string]interface{}{
					"type":        "string",
					"description": "File path or glob relative to the working tree root",
					"default":     "**/*.py",
				},
			},
		},
	}
}

// indexStatusTool returns the tool definition for index_status
func indexStatusTool() mcp.Tool {
	return mcp.Tool{
		Name:        "index_status",
		Description: "Report how many files are indexed, degraded to text-only search, or failed",
		Annotations: readOnlyAnnotation,
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}
}
