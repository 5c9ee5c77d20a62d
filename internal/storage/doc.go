// Package storage persists chunk records into vector store collections.
//
// Two backends implement VectorStore:
//
//   - SQLiteStore, the default, keeps every collection in one database file
//     (vectors.sqlite3 in the store directory). Vectors are stored as
//     little-endian float32 blobs.
//   - QdrantStore talks to a Qdrant server over gRPC. Chunk ids are mapped to
//     point UUIDs with uuid.NewSHA1 and the metadata travels in the payload.
//
// # Collections
//
// A collection has one vector dimension. It is unknown (0) until the first
// Upsert fixes it; later records of another size fail with
// types.ErrDimensionMismatch. Callers compare their embedder's dimension with
// Collection.Dimension before writing.
//
// # Records
//
// Upsert is a pure overwrite keyed by record id, so writing the same chunk
// twice leaves one record. DeleteBySource removes all records of the given
// source files and is used for edited and deleted files.
//
// # Build Modes
//
// The SQLite driver is chosen at compile time:
//
//	go build ./...                                   # modernc.org/sqlite, pure Go
//	CGO_ENABLED=1 go build -tags sqlite_cgo ./...    # mattn/go-sqlite3
//
// # Schema
//
//   - schema_version: applied migrations (semver)
//   - collections: name, dimension, embedding model
//   - records: id, document, embedding, source path, model, last update
package storage
