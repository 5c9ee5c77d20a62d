package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/dshills/vectorize/internal/config"
	"github.com/dshills/vectorize/internal/contextutil"
	"github.com/dshills/vectorize/internal/indexer"
	"github.com/dshills/vectorize/internal/ledger"
	"github.com/dshills/vectorize/internal/storage"
	"github.com/dshills/vectorize/pkg/types"
)

// MCP error codes
const (
	ErrorCodeInvalidParams      = -32602 // Invalid method parameters
	ErrorCodeInternalError      = -32603 // Internal JSON-RPC error
	ErrorCodeIndexingInProgress = -32002 // Another indexing operation is already running
	ErrorCodeStoreUnavailable   = -32003 // Vector store cannot be opened or reached
	ErrorCodeDimensionMismatch  = -32004 // Embedder and collection disagree on vector size
)

// maxReportedErrors bounds the error list in a tool response
const maxReportedErrors = 5

// handleIndexDirectory handles the index_directory tool invocation
func (s *Server) handleIndexDirectory(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ctx = s.withLogger(ctx)

	cfg, err := s.callConfig(request)
	if err != nil {
		return nil, err
	}
	if provider := request.GetString("provider", ""); provider != "" {
		cfg.Provider = provider
	}
	cfg.Exclude = append(append([]string{}, cfg.Exclude...), request.GetStringSlice("exclude", nil)...)
	if err := cfg.Validate(); err != nil {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", map[string]interface{}{
			"reason": err.Error(),
		})
	}

	if !s.lock.TryAcquire() {
		return nil, newMCPError(ErrorCodeIndexingInProgress, "indexing already in progress", map[string]interface{}{
			"path": cfg.Directory,
		})
	}
	defer s.lock.Release()

	opts := cfg.IndexOptions()
	storeDir, err := indexer.StoreDir(opts)
	if err != nil {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid vector_dir", map[string]interface{}{
			"error": err.Error(),
		})
	}

	store, err := s.openStore(ctx, cfg.StoreOptions(storeDir))
	if err != nil {
		return nil, newMCPError(ErrorCodeStoreUnavailable, "failed to open vector store", map[string]interface{}{
			"store_dir": storeDir,
			"error":     err.Error(),
		})
	}
	defer func() { _ = store.Close() }()

	emb, err := s.newEmbedder(cfg.EmbedderConfig(storeDir))
	if err != nil {
		return nil, newMCPError(ErrorCodeInvalidParams, "failed to create embedder", map[string]interface{}{
			"error": err.Error(),
		})
	}
	defer func() { _ = emb.Close() }()

	runID := uuid.NewString()
	logger := contextutil.LoggerFromContext(ctx).With("run_id", runID)
	ctx = contextutil.WithLogger(ctx, logger)
	logger.InfoContext(ctx, "indexing directory", "path", cfg.Directory, "store_dir", storeDir, "embedder", emb.Model())

	stats, err := indexer.New(emb, store).Run(ctx, opts)
	if err != nil {
		return nil, runError(err)
	}

	response := map[string]interface{}{
		"run_id":          runID,
		"indexed":         true,
		"path":            stats.Root,
		"collection":      stats.Collection,
		"store_dir":       storeDir,
		"embedding_model": emb.Model(),
		"files_scanned":   stats.FilesScanned,
		"files_indexed":   stats.FilesIndexed,
		"files_skipped":   stats.FilesSkipped,
		"files_failed":    stats.FilesFailed,
		"files_removed":   stats.FilesRemoved,
		"chunks_created":  stats.ChunksCreated,
		"chunks_indexed":  stats.ChunksIndexed,
		"batches_failed":  stats.BatchesFailed,
		"fallbacks":       stats.Fallbacks,
		"duration_ms":     stats.Duration.Milliseconds(),
	}

	if n := len(stats.ErrorMessages); n > 0 {
		if n > maxReportedErrors {
			response["errors"] = stats.ErrorMessages[:maxReportedErrors]
			response["error_count"] = n
		} else {
			response["errors"] = stats.ErrorMessages
		}
	}

	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleIndexStatus handles the index_status tool invocation
func (s *Server) handleIndexStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ctx = s.withLogger(ctx)

	cfg, err := s.callConfig(request)
	if err != nil {
		return nil, err
	}
	storeDir, err := indexer.StoreDir(cfg.IndexOptions())
	if err != nil {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid vector_dir", map[string]interface{}{
			"error": err.Error(),
		})
	}

	name := indexer.CollectionName(cfg.Directory)
	response := map[string]interface{}{
		"path":           cfg.Directory,
		"collection":     name,
		"store_dir":      storeDir,
		"backend":        cfg.Backend,
		"ledger_entries": ledger.Load(ctx, storeDir).Len(),
		"indexed":        false,
	}

	// opening a sqlite store would create it
	if strings.EqualFold(cfg.Backend, storage.BackendSQLite) {
		if _, err := os.Stat(filepath.Join(storeDir, storage.SQLiteFileName)); err != nil {
			response["message"] = "Directory not indexed. Use index_directory to index it."
			return mcp.NewToolResultText(formatJSON(response)), nil
		}
	}

	store, err := s.openStore(ctx, cfg.StoreOptions(storeDir))
	if err != nil {
		return nil, newMCPError(ErrorCodeStoreUnavailable, "failed to open vector store", map[string]interface{}{
			"store_dir": storeDir,
			"error":     err.Error(),
		})
	}
	defer func() { _ = store.Close() }()

	collection, err := store.FindCollection(ctx, name)
	if errors.Is(err, storage.ErrNotFound) {
		response["message"] = "Directory not indexed. Use index_directory to index it."
		return mcp.NewToolResultText(formatJSON(response)), nil
	}
	if err != nil {
		return nil, newMCPError(ErrorCodeStoreUnavailable, "failed to read collection", map[string]interface{}{
			"error": err.Error(),
		})
	}

	count, err := store.Count(ctx, collection)
	if err != nil {
		return nil, newMCPError(ErrorCodeStoreUnavailable, "failed to count records", map[string]interface{}{
			"error": err.Error(),
		})
	}

	response["indexed"] = count > 0
	response["records"] = count
	response["dimension"] = collection.Dimension
	response["embedding_model"] = collection.EmbeddingModel
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// callConfig applies the path and vector_dir arguments to the base config
func (s *Server) callConfig(request mcp.CallToolRequest) (*config.Config, error) {
	if request.GetArguments() == nil {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	path, err := request.RequireString("path")
	if err != nil || path == "" {
		return nil, newMCPError(ErrorCodeInvalidParams, "path parameter is required", map[string]interface{}{
			"param":  "path",
			"reason": "missing or empty",
		})
	}
	if err := validatePath(path); err != nil {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid path", map[string]interface{}{
			"param":  "path",
			"reason": err.Error(),
		})
	}

	cfg := s.cfg
	cfg.Directory = filepath.Clean(path)
	cfg.VectorDir = request.GetString("vector_dir", "")
	return &cfg, nil
}

// runError maps a fatal run error to an MCP error
func runError(err error) error {
	data := map[string]interface{}{"error": err.Error()}
	switch {
	case errors.Is(err, indexer.ErrIndexingInProgress):
		return newMCPError(ErrorCodeIndexingInProgress, "indexing already in progress", data)
	case errors.Is(err, types.ErrRootUnreadable):
		return newMCPError(ErrorCodeInvalidParams, "directory is not readable", data)
	case errors.Is(err, types.ErrStoreUnreachable), errors.Is(err, types.ErrStoreUnwritable):
		return newMCPError(ErrorCodeStoreUnavailable, "vector store unavailable", data)
	case errors.Is(err, types.ErrDimensionMismatch):
		return newMCPError(ErrorCodeDimensionMismatch, "embedding dimension does not match the collection", data)
	default:
		return newMCPError(ErrorCodeInternalError, "indexing failed", data)
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

// validatePath checks if a path is an absolute, readable directory
func validatePath(path string) error {
	if path == "" {
		return ErrPathRequired
	}

	if !filepath.IsAbs(path) {
		return ErrPathNotAbsolute
	}

	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return ErrPathNotFound
	}
	if err != nil {
		return ErrPathNotReadable
	}

	if !info.IsDir() {
		return ErrNotDirectory
	}

	f, err := os.Open(path)
	if err != nil {
		return ErrPathNotReadable
	}
	_ = f.Close()

	return nil
}

// formatJSON formats a map as indented JSON
func formatJSON(data map[string]interface{}) string {
	bytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	return string(bytes)
}

// Validation helpers

var (
	ErrPathRequired    = errors.New("path is required")
	ErrPathNotAbsolute = errors.New("path must be absolute")
	ErrPathNotFound    = errors.New("path does not exist")
	ErrPathNotReadable = errors.New("path is not readable")
	ErrNotDirectory    = errors.New("path is not a directory")
)
