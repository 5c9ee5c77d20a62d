package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/vectorize/internal/config"
	"github.com/dshills/vectorize/internal/contextutil"
	"github.com/dshills/vectorize/internal/indexer"
	"github.com/dshills/vectorize/internal/storage"
	"github.com/dshills/vectorize/pkg/types"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := config.Default()
	cfg.Provider = "local"
	cfg.LocalDim = 16
	cfg.ChunkSize = 500
	cfg.ChunkOverlap = 50

	s, err := NewServer(&cfg, contextutil.NewLogger(io.Discard, false))
	require.NoError(t, err)
	return s
}

func callRequest(name string, args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Name = name
	req.Params.Arguments = args
	return req
}

func decodeResult(t *testing.T, res *mcp.CallToolResult) map[string]any {
	t.Helper()
	require.NotNil(t, res)
	require.Len(t, res.Content, 1)
	text, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected text content, got %T", res.Content[0])

	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(text.Text), &out))
	return out
}

func requireMCPError(t *testing.T, err error, code int) *MCPError {
	t.Helper()
	require.Error(t, err)
	var mcpErr *MCPError
	require.True(t, errors.As(err, &mcpErr), "expected *MCPError, got %T", err)
	assert.Equal(t, code, mcpErr.Code)
	return mcpErr
}

func writeTree(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("alpha bravo charlie"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "notes"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "notes", "b.md"), []byte("# delta\n\necho foxtrot"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "skip.tmp"), []byte("excluded"), 0o644))
	return root
}

func TestNewServer(t *testing.T) {
	s, err := NewServer(nil, nil)
	require.NoError(t, err)
	assert.NotNil(t, s.mcp)
	assert.Equal(t, config.Default().Backend, s.cfg.Backend)
}

func TestToolDefinitions(t *testing.T) {
	index := indexDirectoryTool()
	assert.Equal(t, "index_directory", index.Name)
	assert.Equal(t, []string{"path"}, index.InputSchema.Required)
	assert.Contains(t, index.InputSchema.Properties, "exclude")
	assert.Contains(t, index.InputSchema.Properties, "vector_dir")
	assert.Contains(t, index.InputSchema.Properties, "provider")

	status := indexStatusTool()
	assert.Equal(t, "index_status", status.Name)
	assert.Equal(t, []string{"path"}, status.InputSchema.Required)
	require.NotNil(t, status.Annotations.ReadOnlyHint)
	assert.True(t, *status.Annotations.ReadOnlyHint)
}

func TestIndexDirectory(t *testing.T) {
	ctx := context.Background()
	s := newTestServer(t)
	root := writeTree(t)

	res, err := s.handleIndexDirectory(ctx, callRequest("index_directory", map[string]any{
		"path":    root,
		"exclude": []any{"*.tmp"},
	}))
	require.NoError(t, err)
	out := decodeResult(t, res)
	assert.Equal(t, true, out["indexed"])
	assert.Equal(t, filepath.Base(root), out["collection"])
	assert.EqualValues(t, 2, out["files_indexed"])
	assert.EqualValues(t, 0, out["files_skipped"])
	assert.NotEmpty(t, out["run_id"])
	assert.Equal(t, "local-hash-ngram-16", out["embedding_model"])

	_, err = os.Stat(filepath.Join(root, indexer.DefaultStoreDirName, storage.SQLiteFileName))
	require.NoError(t, err)

	// a second run finds nothing new
	res, err = s.handleIndexDirectory(ctx, callRequest("index_directory", map[string]any{
		"path":    root,
		"exclude": []any{"*.tmp"},
	}))
	require.NoError(t, err)
	out = decodeResult(t, res)
	assert.EqualValues(t, 0, out["files_indexed"])
	assert.EqualValues(t, 2, out["files_skipped"])
	assert.EqualValues(t, 0, out["chunks_indexed"])
}

func TestIndexStatus(t *testing.T) {
	ctx := context.Background()
	s := newTestServer(t)
	root := writeTree(t)
	vectorDir := filepath.Join(t.TempDir(), "store")

	res, err := s.handleIndexStatus(ctx, callRequest("index_status", map[string]any{
		"path":       root,
		"vector_dir": vectorDir,
	}))
	require.NoError(t, err)
	out := decodeResult(t, res)
	assert.Equal(t, false, out["indexed"])
	assert.EqualValues(t, 0, out["ledger_entries"])
	_, err = os.Stat(filepath.Join(vectorDir, storage.SQLiteFileName))
	assert.True(t, os.IsNotExist(err), "status must not create a store")

	_, err = s.handleIndexDirectory(ctx, callRequest("index_directory", map[string]any{
		"path":       root,
		"vector_dir": vectorDir,
	}))
	require.NoError(t, err)

	res, err = s.handleIndexStatus(ctx, callRequest("index_status", map[string]any{
		"path":       root,
		"vector_dir": vectorDir,
	}))
	require.NoError(t, err)
	out = decodeResult(t, res)
	assert.Equal(t, true, out["indexed"])
	assert.EqualValues(t, 3, out["ledger_entries"])
	assert.EqualValues(t, 16, out["dimension"])
	assert.Equal(t, "local-hash-ngram-16", out["embedding_model"])
	assert.GreaterOrEqual(t, out["records"], float64(3))
}

func TestInvalidArguments(t *testing.T) {
	ctx := context.Background()
	s := newTestServer(t)
	file := filepath.Join(t.TempDir(), "file.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	tests := []struct {
		name string
		args map[string]any
	}{
		{"no arguments", nil},
		{"missing path", map[string]any{}},
		{"empty path", map[string]any{"path": ""}},
		{"path not a string", map[string]any{"path": 42}},
		{"relative path", map[string]any{"path": "some/dir"}},
		{"missing directory", map[string]any{"path": filepath.Join(t.TempDir(), "missing")}},
		{"file path", map[string]any{"path": file}},
		{"unknown provider", map[string]any{"path": t.TempDir(), "provider": "cohere"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.handleIndexDirectory(ctx, callRequest("index_directory", tt.args))
			requireMCPError(t, err, ErrorCodeInvalidParams)
		})
	}

	_, err := s.handleIndexStatus(ctx, callRequest("index_status", map[string]any{"path": "rel"}))
	requireMCPError(t, err, ErrorCodeInvalidParams)
}

func TestIndexDirectory_InProgress(t *testing.T) {
	s := newTestServer(t)
	require.True(t, s.lock.TryAcquire())
	defer s.lock.Release()

	_, err := s.handleIndexDirectory(context.Background(), callRequest("index_directory", map[string]any{
		"path": writeTree(t),
	}))
	requireMCPError(t, err, ErrorCodeIndexingInProgress)
}

func TestIndexDirectory_StoreUnavailable(t *testing.T) {
	s := newTestServer(t)
	s.openStore = func(context.Context, storage.Options) (storage.VectorStore, error) {
		return nil, errors.New("connection refused")
	}

	_, err := s.handleIndexDirectory(context.Background(), callRequest("index_directory", map[string]any{
		"path": writeTree(t),
	}))
	mcpErr := requireMCPError(t, err, ErrorCodeStoreUnavailable)
	assert.Contains(t, fmt.Sprint(mcpErr.Data), "connection refused")
	assert.False(t, s.lock.Held(), "lock must be released")
}

func TestRunError(t *testing.T) {
	tests := []struct {
		err  error
		code int
	}{
		{indexer.ErrIndexingInProgress, ErrorCodeIndexingInProgress},
		{fmt.Errorf("%w: gone", types.ErrRootUnreadable), ErrorCodeInvalidParams},
		{fmt.Errorf("%w: ping", types.ErrStoreUnreachable), ErrorCodeStoreUnavailable},
		{types.ErrStoreUnwritable, ErrorCodeStoreUnavailable},
		{fmt.Errorf("%w: 384 != 768", types.ErrDimensionMismatch), ErrorCodeDimensionMismatch},
		{context.Canceled, ErrorCodeInternalError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			requireMCPError(t, runError(tt.err), tt.code)
		})
	}
}

func TestValidatePath(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "f.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	assert.ErrorIs(t, validatePath(""), ErrPathRequired)
	assert.ErrorIs(t, validatePath("relative"), ErrPathNotAbsolute)
	assert.ErrorIs(t, validatePath(filepath.Join(dir, "missing")), ErrPathNotFound)
	assert.ErrorIs(t, validatePath(file), ErrNotDirectory)
	assert.NoError(t, validatePath(dir))
}

func TestMCPError(t *testing.T) {
	err := newMCPError(ErrorCodeInternalError, "boom", nil)
	assert.Equal(t, "MCP error -32603: boom", err.Error())
}
