package types

import "errors"

// Fatal errors abort a run and leave the previous ledger in place.
var (
	ErrRootUnreadable    = errors.New("root directory is not readable")
	ErrStoreUnreachable  = errors.New("vector store is unreachable")
	ErrStoreUnwritable   = errors.New("store location is not writable")
	ErrDimensionMismatch = errors.New("embedding dimension does not match collection")
)

// Skip errors are recovered where they are detected.
var (
	ErrNotText  = errors.New("file is not text")
	ErrExcluded = errors.New("path is excluded")
)

// ErrBatchFailed marks a batch-local failure; the run continues.
var ErrBatchFailed = errors.New("batch failed")
