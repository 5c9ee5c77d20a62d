package mcp

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/mark3labs/mcp-go/server"

	"github.com/dshills/vectorize/internal/config"
	"github.com/dshills/vectorize/internal/contextutil"
	"github.com/dshills/vectorize/internal/embedder"
	"github.com/dshills/vectorize/internal/indexer"
	"github.com/dshills/vectorize/internal/storage"
)

const (
	// ServerName is the MCP server name
	ServerName = "vectorize"
	// ServerVersion is the current server version
	ServerVersion = "1.0.0"
)

// Server exposes indexing over MCP. Each tool call builds its own embedder
// and store from the base configuration and the call arguments.
type Server struct {
	mcp    *server.MCPServer
	cfg    config.Config
	logger *slog.Logger

	// one indexing run at a time per process
	lock indexer.IndexLock

	openStore   func(context.Context, storage.Options) (storage.VectorStore, error)
	newEmbedder func(embedder.Config) (embedder.Embedder, error)
}

// NewServer creates a server using cfg for everything a call does not set
func NewServer(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		d := config.Default()
		cfg = &d
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		mcp: server.NewMCPServer(
			ServerName,
			ServerVersion,
			server.WithToolCapabilities(false),
			server.WithRecovery(),
		),
		cfg:         *cfg,
		logger:      logger,
		openStore:   storage.Open,
		newEmbedder: embedder.New,
	}

	if err := s.registerTools(); err != nil {
		return nil, fmt.Errorf("failed to register tools: %w", err)
	}
	return s, nil
}

// Serve reads MCP requests from in and writes responses to out until ctx is
// done or in is closed.
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	s.logger.InfoContext(ctx, "mcp server listening on stdio", "name", ServerName, "version", ServerVersion)
	return server.NewStdioServer(s.mcp).Listen(ctx, in, out)
}

// registerTools registers all MCP tools
func (s *Server) registerTools() error {
	s.mcp.AddTool(indexDirectoryTool(), s.handleIndexDirectory)
	s.mcp.AddTool(indexStatusTool(), s.handleIndexStatus)
	return nil
}

// withLogger attaches the server logger to a handler context
func (s *Server) withLogger(ctx context.Context) context.Context {
	return contextutil.WithLogger(ctx, s.logger)
}
