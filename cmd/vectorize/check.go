package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/dshills/vectorize/internal/contextutil"
	"github.com/dshills/vectorize/internal/embedder"
	"github.com/dshills/vectorize/internal/indexer"
	"github.com/dshills/vectorize/internal/storage"
	"github.com/dshills/vectorize/pkg/types"
)

const probeText = "vectorize configuration check"

func newCheckCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check [directory]",
		Short: "Verify the embedding backend and the vector store",
		Long: `Embed a probe text with the configured backend and compare its vector size
with the collection of the directory, if one exists. Nothing is written.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := ""
			if len(args) == 1 {
				dir = args[0]
			}
			return runCheck(cmd, opts, dir)
		},
	}
}

func runCheck(cmd *cobra.Command, opts *rootOptions, dir string) error {
	cfg, logger, err := loadConfig(cmd, opts)
	if err != nil {
		return err
	}
	if dir != "" {
		cfg.Directory = dir
	}
	ctx := contextutil.WithLogger(cmd.Context(), logger)
	out := cmd.OutOrStdout()
	info := pterm.Info.WithWriter(out)
	success := pterm.Success.WithWriter(out)

	ec := cfg.EmbedderConfig("")
	ec.CacheSize, ec.CachePath = 0, ""
	emb, err := embedder.New(ec)
	if err != nil {
		return fmt.Errorf("create embedder: %w", err)
	}
	defer func() { _ = emb.Close() }()

	start := time.Now()
	resp, err := emb.GenerateBatch(ctx, embedder.BatchEmbeddingRequest{Texts: []string{probeText}})
	if err != nil {
		return fmt.Errorf("embedding backend %s (%s): %w", emb.Provider(), emb.Model(), err)
	}
	dim := len(resp.Embeddings[0].Vector)
	success.Printfln("Embedder %s (%s) returned %d dimensions in %.2f seconds.",
		resp.Provider, resp.Model, dim, time.Since(start).Seconds())

	runOpts := cfg.IndexOptions()
	storeDir, err := indexer.StoreDir(runOpts)
	if err != nil {
		return fmt.Errorf("resolve store directory: %w", err)
	}
	if strings.EqualFold(cfg.Backend, storage.BackendSQLite) {
		if _, err := os.Stat(filepath.Join(storeDir, storage.SQLiteFileName)); err != nil {
			info.Printfln("No vector store in %s yet.", storeDir)
			return nil
		}
	}

	store, err := storage.Open(ctx, cfg.StoreOptions(storeDir))
	if err != nil {
		return fmt.Errorf("open vector store: %w", err)
	}
	defer func() { _ = store.Close() }()
	if err := store.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %w", types.ErrStoreUnreachable, err)
	}

	root, err := filepath.Abs(runOpts.Root)
	if err != nil {
		return fmt.Errorf("resolve directory: %w", err)
	}
	name := indexer.CollectionName(root)
	collection, err := store.FindCollection(ctx, name)
	if errors.Is(err, storage.ErrNotFound) {
		info.Printfln("Store %s is reachable; collection %s does not exist yet.", cfg.Backend, name)
		return nil
	}
	if err != nil {
		return fmt.Errorf("read collection %s: %w", name, err)
	}

	count, err := store.Count(ctx, collection)
	if err != nil {
		return fmt.Errorf("count records: %w", err)
	}
	info.Printfln("Collection %s holds %d records of %d dimensions from %s.",
		name, count, collection.Dimension, collection.EmbeddingModel)

	if collection.Dimension > 0 && collection.Dimension != dim {
		return fmt.Errorf("%w: %s produces %d, collection %s has %d",
			types.ErrDimensionMismatch, resp.Model, dim, name, collection.Dimension)
	}
	success.Printfln("Embedder and collection %s agree.", name)
	return nil
}
