package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dshills/vectorize/pkg/types"
)

// Backends
const (
	BackendSQLite = "sqlite"
	BackendQdrant = "qdrant"

	// SQLiteFileName is the database file inside the store directory
	SQLiteFileName = "vectors.sqlite3"
)

var (
	// ErrNotFound is returned when a requested record or collection doesn't exist
	ErrNotFound = errors.New("not found")
	// ErrUnknownBackend is returned for an unsupported backend name
	ErrUnknownBackend = errors.New("unknown vector store backend")
)

// VectorStore persists collection records. Implementations must make Upsert
// a pure overwrite by record id.
type VectorStore interface {
	// OpenCollection returns the named collection, creating it if absent
	OpenCollection(ctx context.Context, name string) (*Collection, error)

	// FindCollection returns the named collection or ErrNotFound
	FindCollection(ctx context.Context, name string) (*Collection, error)

	// Upsert writes records; the first write fixes the collection dimension
	Upsert(ctx context.Context, c *Collection, records []types.CollectionRecord) error

	// DeleteBySource removes every record whose source path is listed
	DeleteBySource(ctx context.Context, c *Collection, sourcePaths []string) (int, error)

	// Count returns the number of records in the collection
	Count(ctx context.Context, c *Collection) (int, error)

	// Get returns one record by id or ErrNotFound
	Get(ctx context.Context, c *Collection, id string) (*types.CollectionRecord, error)

	// Ping checks that the store is reachable
	Ping(ctx context.Context) error

	Close() error
}

// Collection is a named set of records sharing one vector dimension
type Collection struct {
	Name           string
	Dimension      int // 0 until the first upsert
	EmbeddingModel string

	id int64 // sqlite row id
}

// Options selects and locates a backend
type Options struct {
	Backend   string // sqlite (default) or qdrant
	Dir       string // store directory for the sqlite file
	QdrantURL string
}

// Open creates the configured VectorStore
func Open(ctx context.Context, opts Options) (VectorStore, error) {
	switch strings.ToLower(opts.Backend) {
	case "", BackendSQLite:
		if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
			return nil, fmt.Errorf("%w: %w", types.ErrStoreUnwritable, err)
		}
		return NewSQLiteStore(ctx, filepath.Join(opts.Dir, SQLiteFileName))
	case BackendQdrant:
		return NewQdrantStore(opts.QdrantURL)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, opts.Backend)
	}
}

// checkDimensions verifies that every record matches dim, or the first
// record's size when dim is 0, and returns the size in use.
func checkDimensions(dim int, records []types.CollectionRecord) (int, error) {
	for i, rec := range records {
		if len(rec.Embedding) == 0 {
			return 0, fmt.Errorf("record %d (%s) has no embedding", i, rec.ID)
		}
		if dim == 0 {
			dim = len(rec.Embedding)
		}
		if len(rec.Embedding) != dim {
			return 0, fmt.Errorf("%w: record %s has %d, collection has %d",
				types.ErrDimensionMismatch, rec.ID, len(rec.Embedding), dim)
		}
	}
	return dim, nil
}
