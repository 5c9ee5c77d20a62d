package indexer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync/atomic"
	"time"

	"github.com/dshills/vectorize/internal/chunker"
	"github.com/dshills/vectorize/internal/contextutil"
	"github.com/dshills/vectorize/internal/embedder"
	"github.com/dshills/vectorize/internal/ledger"
	"github.com/dshills/vectorize/internal/storage"
	"github.com/dshills/vectorize/internal/walker"
	"github.com/dshills/vectorize/pkg/types"
)

const (
	// DefaultStoreDirName is created under the root when no store dir is given
	DefaultStoreDirName = ".vectorize.db"

	// DefaultBatchSize is the number of chunks embedded and upserted together
	DefaultBatchSize = 500
)

// Options describes one run
type Options struct {
	Root           string
	StoreDir       string   // default: <Root>/.vectorize.db
	Exclude        []string // passed to the walker; StoreDir is always added
	ChunkSize      int      // default: chunker.DefaultChunkSize
	ChunkOverlap   int      // default: chunker.DefaultChunkOverlap when ChunkSize is unset
	BatchSize      int      // default: DefaultBatchSize
	Workers        int
	FollowSymlinks bool
	MaxFileSize    int64
}

// Statistics summarizes a run
type Statistics struct {
	Root          string
	Collection    string
	FilesScanned  int
	FilesIndexed  int
	FilesSkipped  int
	FilesFailed   int
	FilesRemoved  int
	ChunksCreated int
	ChunksIndexed int
	BatchesFailed int
	Fallbacks     int
	Duration      time.Duration
	ErrorMessages []string
}

// Indexer runs the ledger → walk → chunk → embed → upsert pipeline for one
// root at a time.
type Indexer struct {
	embedder embedder.Embedder
	store    storage.VectorStore
	progress ProgressReporter
	now      func() time.Time

	lock  IndexLock
	state atomic.Int32
}

// Option configures an Indexer
type Option func(*Indexer)

// WithProgress sets the progress reporter
func WithProgress(p ProgressReporter) Option {
	return func(idx *Indexer) {
		if p != nil {
			idx.progress = p
		}
	}
}

// WithClock overrides the time source used for record timestamps
func WithClock(now func() time.Time) Option {
	return func(idx *Indexer) {
		if now != nil {
			idx.now = now
		}
	}
}

// New creates an Indexer writing vectors from emb into store
func New(emb embedder.Embedder, store storage.VectorStore, opts ...Option) *Indexer {
	idx := &Indexer{
		embedder: emb,
		store:    store,
		progress: nopReporter{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(idx)
	}
	return idx
}

// State returns the state of the current or last run
func (idx *Indexer) State() State {
	return State(idx.state.Load())
}

func (idx *Indexer) transition(to State) {
	from := idx.State()
	if !from.CanTransition(to) {
		panic(fmt.Sprintf("indexer: illegal transition %s -> %s", from, to))
	}
	idx.state.Store(int32(to))
}

// StoreDir resolves the store directory for opts
func StoreDir(opts Options) (string, error) {
	root, err := filepath.Abs(opts.Root)
	if err != nil {
		return "", err
	}
	if opts.StoreDir == "" {
		return filepath.Join(root, DefaultStoreDirName), nil
	}
	return filepath.Abs(opts.StoreDir)
}

// CollectionName is the collection a root is indexed into
func CollectionName(root string) string {
	return filepath.Base(filepath.Clean(root))
}

// Run indexes opts.Root once. Unchanged files are skipped, changed files
// replace their records, and files gone from the root are removed.
// A returned error is fatal: the ledger on disk is left as it was.
func (idx *Indexer) Run(ctx context.Context, opts Options) (*Statistics, error) {
	if !idx.lock.TryAcquire() {
		return nil, ErrIndexingInProgress
	}
	defer idx.lock.Release()

	idx.state.Store(int32(StateInit))
	start := time.Now()

	r, err := idx.newRun(ctx, opts)
	if err == nil {
		err = r.execute(ctx)
	}
	if err != nil {
		failedAt := idx.State()
		idx.transition(StateFailed)
		contextutil.LoggerFromContext(ctx).ErrorContext(ctx, "indexing failed",
			"root", opts.Root, "state", failedAt, "error", err)
		return nil, err
	}

	r.stats.Duration = time.Since(start)
	idx.transition(StateDone)
	return r.stats, nil
}

// run carries the state of one Run call
type run struct {
	idx        *Indexer
	opts       Options
	root       string
	storeDir   string
	splitter   *chunker.Splitter
	collection *storage.Collection
	ledger     *ledger.Ledger
	stats      *Statistics

	toIndex     []walker.File
	stale       map[string]bool // edited files whose old records must go
	chunks      []types.Chunk
	failedFiles map[string]bool

	fallbacksBefore int
}

// newRun validates opts and opens the collection (INIT)
func (idx *Indexer) newRun(ctx context.Context, opts Options) (*run, error) {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = chunker.DefaultChunkSize
		if opts.ChunkOverlap == 0 {
			opts.ChunkOverlap = chunker.DefaultChunkOverlap
		}
	}
	splitter, err := chunker.New(opts.ChunkSize, opts.ChunkOverlap)
	if err != nil {
		return nil, err
	}

	root, err := filepath.Abs(opts.Root)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrRootUnreadable, err)
	}
	if info, err := os.Stat(root); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrRootUnreadable, err)
	} else if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", types.ErrRootUnreadable, root)
	}
	opts.Root = root

	storeDir, err := StoreDir(opts)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrStoreUnwritable, err)
	}

	name := CollectionName(root)
	collection, err := idx.store.OpenCollection(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("%w: open collection %s: %w", types.ErrStoreUnreachable, name, err)
	}

	if collection.Dimension > 0 {
		if fa, ok := idx.embedder.(embedder.FallbackAligner); ok {
			fa.AlignFallback(collection.Dimension)
		}
		if dim := idx.embedder.Dimension(); dim > 0 && dim != collection.Dimension {
			return nil, fmt.Errorf("%w: %s produces %d, collection %s has %d",
				types.ErrDimensionMismatch, idx.embedder.Model(), dim, name, collection.Dimension)
		}
	}

	r := &run{
		idx:         idx,
		opts:        opts,
		root:        root,
		storeDir:    storeDir,
		splitter:    splitter,
		collection:  collection,
		stale:       make(map[string]bool),
		failedFiles: make(map[string]bool),
		stats: &Statistics{
			Root:          root,
			Collection:    name,
			ErrorMessages: make([]string, 0),
		},
	}
	if fc, ok := idx.embedder.(embedder.FallbackCounter); ok {
		r.fallbacksBefore = fc.Fallbacks()
	}
	return r, nil
}

func (r *run) execute(ctx context.Context) error {
	logger := contextutil.LoggerFromContext(ctx)

	r.idx.transition(StateLedgerLoaded)
	r.ledger = ledger.Load(ctx, r.storeDir)
	logger.DebugContext(ctx, "ledger loaded", "path", ledger.Path(r.storeDir), "entries", r.ledger.Len())

	r.idx.transition(StateWalking)
	if err := r.walk(ctx); err != nil {
		return err
	}

	r.idx.transition(StateChunking)
	if err := r.chunk(ctx); err != nil {
		return err
	}

	if err := r.embedAndUpsert(ctx); err != nil {
		return err
	}

	r.idx.transition(StateLedgerSaved)
	if err := r.ledger.Save(r.storeDir); err != nil {
		msg := fmt.Sprintf("save ledger: %v", err)
		logger.WarnContext(ctx, "cannot save content ledger", "path", ledger.Path(r.storeDir), "error", err)
		r.idx.progress.Warn(msg)
		r.stats.ErrorMessages = append(r.stats.ErrorMessages, msg)
	}

	if fc, ok := r.idx.embedder.(embedder.FallbackCounter); ok {
		r.stats.Fallbacks = fc.Fallbacks() - r.fallbacksBefore
	}
	r.stats.FilesIndexed = len(r.toIndex) - len(r.failedFiles)
	r.stats.FilesFailed += len(r.failedFiles)

	logger.InfoContext(ctx, "indexing complete",
		"root", r.root,
		"collection", r.collection.Name,
		"indexed", r.stats.FilesIndexed,
		"skipped", r.stats.FilesSkipped,
		"failed", r.stats.FilesFailed,
		"removed", r.stats.FilesRemoved,
		"chunks", r.stats.ChunksIndexed)
	return nil
}

// walk finds the text files, decides which need indexing and prunes
// vanished ones (WALKING)
func (r *run) walk(ctx context.Context) error {
	logger := contextutil.LoggerFromContext(ctx)
	start := time.Now()
	r.idx.progress.Scan(r.root)

	result, err := walker.Walk(ctx, r.root, walker.Options{
		Exclude:        append(append([]string{}, r.opts.Exclude...), r.storeDir),
		Workers:        r.opts.Workers,
		FollowSymlinks: r.opts.FollowSymlinks,
		MaxFileSize:    r.opts.MaxFileSize,
	})
	if err != nil {
		return err
	}
	r.idx.progress.Scanned(r.root, len(result.Files), time.Since(start))

	seen := make(map[string]struct{}, len(result.Files)+len(result.Skipped))
	for _, skip := range result.Skipped {
		switch skip.Reason {
		case walker.ReasonPermission, walker.ReasonUnreadable, walker.ReasonBrokenSymlink:
			// may be readable again next run; keep its records
			seen[skip.Path] = struct{}{}
			r.stats.FilesFailed++
			r.stats.ErrorMessages = append(r.stats.ErrorMessages, fmt.Sprintf("%s: %s", skip.Path, skip.Reason))
		case walker.ReasonNotText, walker.ReasonTooLarge:
			// no longer indexable: pruned with the deleted files
			r.stats.FilesSkipped++
		default:
			seen[skip.Path] = struct{}{}
			r.stats.FilesSkipped++
		}
	}
	r.stats.FilesScanned = len(result.Files) + len(result.Skipped)

	for _, file := range result.Files {
		if err := ctx.Err(); err != nil {
			return err
		}
		seen[file.Path] = struct{}{}

		if r.ledger.Decide(file.Path, ledger.DigestBytes(file.Content)) == ledger.Skip {
			r.stats.FilesSkipped++
			r.idx.progress.Skip(file.Path)
			continue
		}
		if r.ledger.Known(file.Path) {
			r.stale[file.Path] = true
		}
		r.toIndex = append(r.toIndex, file)
	}

	removed := r.ledger.Prune(r.root, seen)
	if len(removed) == 0 {
		return nil
	}
	r.stats.FilesRemoved = len(removed)
	deleted, err := r.idx.store.DeleteBySource(ctx, r.collection, removed)
	if err != nil {
		return r.storeFailure(ctx, fmt.Sprintf("remove records of %d deleted or unindexable files", len(removed)), err)
	}
	logger.InfoContext(ctx, "removed records of deleted or unindexable files", "files", len(removed), "records", deleted)
	return nil
}

// chunk splits every file that needs indexing (CHUNKING)
func (r *run) chunk(ctx context.Context) error {
	start := time.Now()
	var emptyStale []string

	for _, file := range r.toIndex {
		if err := ctx.Err(); err != nil {
			return err
		}
		n := 0
		for c := range r.splitter.Split(string(file.Content), file.Path) {
			r.chunks = append(r.chunks, c)
			n++
		}
		// A file that became blank has no batch to clear its old records.
		if n == 0 && r.stale[file.Path] {
			emptyStale = append(emptyStale, file.Path)
			delete(r.stale, file.Path)
		}
	}

	r.stats.ChunksCreated = len(r.chunks)
	r.idx.progress.Chunked(r.root, len(r.chunks), time.Since(start))

	if len(emptyStale) > 0 {
		if _, err := r.idx.store.DeleteBySource(ctx, r.collection, emptyStale); err != nil {
			for _, path := range emptyStale {
				r.failedFiles[path] = true
				r.ledger.Revert(path)
			}
			return r.storeFailure(ctx, "remove records of emptied files", err)
		}
	}
	return nil
}

// embedAndUpsert alternates EMBEDDING and UPSERTING per batch
func (r *run) embedAndUpsert(ctx context.Context) error {
	total := len(r.chunks)
	processed := 0
	start := time.Now()

	for batchIndex, lo := 0, 0; lo < total; batchIndex, lo = batchIndex+1, lo+r.opts.BatchSize {
		if err := ctx.Err(); err != nil {
			return err
		}
		hi := min(lo+r.opts.BatchSize, total)
		batch := r.pending(r.chunks[lo:hi])
		if len(batch) == 0 {
			continue
		}

		r.idx.transition(StateEmbedding)
		vectors, err := r.embed(ctx, batch)
		if err != nil {
			if types.Classify(err) == types.Fatal {
				return err
			}
			r.failBatch(ctx, batchIndex, batch, err)
			continue
		}

		r.idx.transition(StateUpserting)
		if err := r.upsert(ctx, batch, vectors); err != nil {
			if types.Classify(err) == types.Fatal {
				return err
			}
			r.failBatch(ctx, batchIndex, batch, err)
			if perr := r.idx.store.Ping(ctx); perr != nil {
				return fmt.Errorf("%w: %w", types.ErrStoreUnreachable, perr)
			}
			continue
		}

		processed += len(batch)
		r.stats.ChunksIndexed += len(batch)
		r.idx.progress.Batch(processed, total, time.Since(start))
	}
	return nil
}

// pending drops chunks of files that already failed in an earlier batch
func (r *run) pending(chunks []types.Chunk) []types.Chunk {
	if len(r.failedFiles) == 0 {
		return chunks
	}
	out := make([]types.Chunk, 0, len(chunks))
	for _, c := range chunks {
		if !r.failedFiles[c.SourcePath] {
			out = append(out, c)
		}
	}
	return out
}

func (r *run) embed(ctx context.Context, batch []types.Chunk) ([]*embedder.Embedding, error) {
	texts := make([]string, len(batch))
	for i, c := range batch {
		texts[i] = c.Text
	}

	resp, err := r.idx.embedder.GenerateBatch(ctx, embedder.BatchEmbeddingRequest{Texts: texts})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: embed: %w", types.ErrBatchFailed, err)
	}
	if len(resp.Embeddings) != len(batch) {
		return nil, fmt.Errorf("%w: got %d embeddings for %d chunks", types.ErrBatchFailed, len(resp.Embeddings), len(batch))
	}

	if dim := r.collection.Dimension; dim > 0 {
		for _, emb := range resp.Embeddings {
			if len(emb.Vector) != dim {
				return nil, fmt.Errorf("%w: %s produced %d, collection %s has %d",
					types.ErrDimensionMismatch, emb.Model, len(emb.Vector), r.collection.Name, dim)
			}
		}
	}
	return resp.Embeddings, nil
}

func (r *run) upsert(ctx context.Context, batch []types.Chunk, vectors []*embedder.Embedding) error {
	var stalePaths []string
	for _, c := range batch {
		if r.stale[c.SourcePath] {
			stalePaths = append(stalePaths, c.SourcePath)
			delete(r.stale, c.SourcePath)
		}
	}
	if len(stalePaths) > 0 {
		if _, err := r.idx.store.DeleteBySource(ctx, r.collection, stalePaths); err != nil {
			return fmt.Errorf("%w: remove stale records: %w", types.ErrBatchFailed, err)
		}
	}

	now := r.idx.now().UTC()
	records := make([]types.CollectionRecord, len(batch))
	for i, c := range batch {
		records[i] = types.CollectionRecord{
			ID:        c.ID,
			Document:  c.Text,
			Embedding: vectors[i].Vector,
			Metadata: types.RecordMetadata{
				SourcePath:     c.SourcePath,
				EmbeddingModel: vectors[i].Model,
				LastUpdated:    now,
			},
		}
	}

	if err := r.idx.store.Upsert(ctx, r.collection, records); err != nil {
		if errors.Is(err, types.ErrDimensionMismatch) {
			return err
		}
		return fmt.Errorf("%w: upsert: %w", types.ErrBatchFailed, err)
	}
	return nil
}

// failBatch records a batch-local failure and reverts the ledger entries of
// its files so the next run retries them.
func (r *run) failBatch(ctx context.Context, batchIndex int, batch []types.Chunk, err error) {
	r.stats.BatchesFailed++
	msg := fmt.Sprintf("batch %d: %v", batchIndex, err)
	r.stats.ErrorMessages = append(r.stats.ErrorMessages, msg)
	r.idx.progress.Warn(msg)

	var files []string
	for _, c := range batch {
		if !r.failedFiles[c.SourcePath] {
			r.failedFiles[c.SourcePath] = true
			r.ledger.Revert(c.SourcePath)
			files = append(files, c.SourcePath)
		}
	}
	sort.Strings(files)
	contextutil.LoggerFromContext(ctx).WarnContext(ctx, "batch failed",
		"batch", batchIndex, "chunks", len(batch), "files", files, "error", err)
}

// storeFailure decides whether a failed delete aborts the run: it does when
// the store no longer answers.
func (r *run) storeFailure(ctx context.Context, what string, err error) error {
	if perr := r.idx.store.Ping(ctx); perr != nil {
		return fmt.Errorf("%w: %s: %w", types.ErrStoreUnreachable, what, err)
	}
	msg := fmt.Sprintf("%s: %v", what, err)
	r.stats.ErrorMessages = append(r.stats.ErrorMessages, msg)
	r.idx.progress.Warn(msg)
	contextutil.LoggerFromContext(ctx).WarnContext(ctx, "store operation failed", "operation", what, "error", err)
	return nil
}
