package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
)

// indexDirectoryTool returns the tool definition for index_directory
func indexDirectoryTool() mcp.Tool {
	return mcp.Tool{
		Name:        "index_directory",
		Description: "Incrementally index the text files of a directory into its vector store. Unchanged files are skipped.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"path": map[string]interface{}{
					"type":        "string",
					"description": "Absolute path of the directory to index",
				},
				"exclude": map[string]interface{}{
					"type":        "array",
					"description": "Paths (absolute or relative to path) and glob patterns to skip",
					"items": map[string]interface{}{
						"type": "string",
					},
				},
				"vector_dir": map[string]interface{}{
					"type":        "string",
					"description": "Store directory (default: <path>/.vectorize.db)",
				},
				"provider": map[string]interface{}{
					"type":        "string",
					"description": "Embedding provider",
					"enum":        []string{"auto", "local", "ollama", "openai"},
				},
			},
			Required: []string{"path"},
		},
	}
}

// indexStatusTool returns the tool definition for index_status
func indexStatusTool() mcp.Tool {
	return mcp.Tool{
		Name:        "index_status",
		Description: "Report the ledger and vector store state of an indexed directory",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"path": map[string]interface{}{
					"type":        "string",
					"description": "Absolute path of the indexed directory",
				},
				"vector_dir": map[string]interface{}{
					"type":        "string",
					"description": "Store directory (default: <path>/.vectorize.db)",
				},
			},
			Required: []string{"path"},
		},
		Annotations: mcp.ToolAnnotation{
			ReadOnlyHint: mcp.ToBoolPtr(true),
		},
	}
}
