package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/dshills/vectorize/internal/contextutil"
	"github.com/dshills/vectorize/internal/mcp"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the MCP server on stdio",
		Long: `Run the Model Context Protocol server on stdin/stdout.

The server exposes the index_directory and index_status tools. Flags and
configuration act as defaults for every tool call. Logs go to stderr.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			ctx := contextutil.WithLogger(cmd.Context(), logger)

			srv, err := mcp.NewServer(cfg, logger)
			if err != nil {
				return err
			}
			err = srv.Serve(ctx, os.Stdin, os.Stdout)
			if ctx.Err() != nil {
				logger.InfoContext(ctx, "server stopped")
				return nil
			}
			return err
		},
	}
}
