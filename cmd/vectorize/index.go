package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dshills/vectorize/internal/contextutil"
	"github.com/dshills/vectorize/internal/embedder"
	"github.com/dshills/vectorize/internal/indexer"
	"github.com/dshills/vectorize/internal/storage"
)

func newIndexCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "index [directory]",
		Short: "Index a directory once and exit",
		Long: `Index a directory once and exit.

Unchanged files are skipped, changed files replace their records and records
of deleted files are removed. The directory argument overrides --directory.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := ""
			if len(args) == 1 {
				dir = args[0]
			}
			return runIndex(cmd, opts, dir)
		},
	}
}

func runIndex(cmd *cobra.Command, opts *rootOptions, dir string) error {
	cfg, logger, err := loadConfig(cmd, opts)
	if err != nil {
		return err
	}
	if dir != "" {
		cfg.Directory = dir
	}
	ctx := contextutil.WithLogger(cmd.Context(), logger)

	runOpts := cfg.IndexOptions()
	storeDir, err := indexer.StoreDir(runOpts)
	if err != nil {
		return fmt.Errorf("resolve store directory: %w", err)
	}

	store, err := storage.Open(ctx, cfg.StoreOptions(storeDir))
	if err != nil {
		return fmt.Errorf("open vector store: %w", err)
	}
	defer func() { _ = store.Close() }()

	emb, err := embedder.New(cfg.EmbedderConfig(storeDir))
	if err != nil {
		return fmt.Errorf("create embedder: %w", err)
	}
	defer func() { _ = emb.Close() }()

	logger.DebugContext(ctx, "starting run",
		"directory", cfg.Directory,
		"store_dir", storeDir,
		"backend", cfg.Backend,
		"provider", emb.Provider(),
		"model", emb.Model())

	out := cmd.OutOrStdout()
	reporter := newTerminalReporter(out)
	stats, err := indexer.New(emb, store, indexer.WithProgress(reporter)).Run(ctx, runOpts)
	reporter.Stop()
	if err != nil {
		return err
	}

	_, _ = fmt.Fprintln(out, renderSummary(stats, emb.Model(), storeDir))
	return nil
}
