// Package types provides the shared data model for the indexing pipeline.
//
// A Chunk is a bounded piece of a source file's text. Its ID is derived from
// the source path, the sequence index and the text:
//
//	chunk := types.NewChunk("/src/notes/todo.md", 0, text)
//	// chunk.ID == hex(sha256(path + "\x00" + "0" + "\x00" + text))
//
// Re-indexing unchanged content therefore overwrites the same records
// instead of accumulating duplicates.
//
// A CollectionRecord is what the vector store persists: id, document text,
// embedding and RecordMetadata (source path, embedding model, last update).
//
// # Error Classes
//
// Errors are grouped by how the pipeline reacts to them:
//
//	Fatal:  ErrRootUnreadable, ErrStoreUnreachable, ErrStoreUnwritable, ErrDimensionMismatch
//	Skip:   ErrNotText, ErrExcluded
//	Batch:  ErrBatchFailed
//
// Classify turns any error into a Result (Success, Skip or Fatal).
package types
