// Package mcp implements the Model Context Protocol (MCP) server for vectorize.
//
// The server exposes two tools over stdio:
//   - index_directory: incrementally index a directory into its vector store
//   - index_status: report the ledger and collection state of a directory
//
// # Basic Usage
//
// The MCP server is started via the serve command:
//
//	vectorize serve
//
// It listens on stdin for MCP protocol messages and writes responses to
// stdout. Logs go to stderr.
//
// # Tool: index_directory
//
//	Request:
//	{
//	  "name": "index_directory",
//	  "arguments": {
//	    "path": "/data/notes",
//	    "exclude": ["drafts", "*.tmp"],
//	    "vector_dir": "/data/stores/notes",
//	    "provider": "ollama"
//	  }
//	}
//
//	Response:
//	{
//	  "run_id": "7c4f…",
//	  "collection": "notes",
//	  "files_indexed": 12,
//	  "files_skipped": 240,
//	  "chunks_indexed": 96,
//	  "fallbacks": 0,
//	  "duration_ms": 5310
//	}
//
// Only one index_directory call runs at a time; a concurrent call fails
// with code -32002.
//
// # Tool: index_status
//
//	Request:
//	{
//	  "name": "index_status",
//	  "arguments": {"path": "/data/notes"}
//	}
//
//	Response:
//	{
//	  "indexed": true,
//	  "collection": "notes",
//	  "ledger_entries": 252,
//	  "records": 2210,
//	  "dimension": 768,
//	  "embedding_model": "nomic-embed-text"
//	}
//
// # Error Handling
//
// Errors are returned as *MCPError values with these codes:
//   - -32602: invalid params (missing path, relative path, bad provider)
//   - -32603: internal error
//   - -32002: indexing in progress
//   - -32003: vector store unavailable
//   - -32004: embedding dimension does not match the collection
package mcp
