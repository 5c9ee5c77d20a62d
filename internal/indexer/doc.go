// Package indexer drives one incremental indexing run over a directory.
//
// A run moves through a fixed sequence of states:
//
//	INIT → LEDGER_LOADED → WALKING → CHUNKING → (EMBEDDING → UPSERTING)* → LEDGER_SAVED → DONE
//
// with FAILED reachable from any non-terminal state. The content ledger
// decides which files changed since the last successful run; only those are
// chunked, embedded and upserted. Records of files that changed are replaced
// and records of files that disappeared are deleted.
//
// Failures are classified per types.Classify. A batch that fails to embed or
// upsert is skipped and its files are retried on the next run, while an
// unreachable store, a dimension mismatch or cancellation aborts the run
// without touching the ledger on disk.
//
// Usage:
//
//	store, _ := storage.Open(ctx, storage.Options{Backend: storage.BackendSQLite, Dir: dir})
//	emb, _ := embedder.New(embedder.Config{Provider: embedder.ProviderLocal})
//	idx := indexer.New(emb, store)
//	stats, err := idx.Run(ctx, indexer.Options{Root: root})
//
// One Indexer runs one root at a time; a second concurrent Run returns
// ErrIndexingInProgress.
package indexer
