package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dshills/vectorize/internal/contextutil"
	"github.com/dshills/vectorize/pkg/types"
)

// SQLiteStore implements VectorStore on a single SQLite file
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// openDatabase opens a SQLite database with WAL, one writer and foreign keys
func openDatabase(dbPath string) (*sql.DB, error) {
	db, err := sql.Open(DriverName, dbPath)
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return db, nil
}

// NewSQLiteStore opens or creates the database at dbPath and migrates it
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	db, err := openDatabase(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := ApplyMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	contextutil.LoggerFromContext(ctx).DebugContext(ctx, "sqlite store ready",
		"path", dbPath, "driver", DriverName, "schema", CurrentSchemaVersion)
	return &SQLiteStore{db: db, path: dbPath}, nil
}

// Path returns the database file
func (s *SQLiteStore) Path() string {
	return s.path
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) OpenCollection(ctx context.Context, name string) (*Collection, error) {
	if name == "" {
		return nil, errors.New("collection name is required")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO collections (name) VALUES (?) ON CONFLICT(name) DO NOTHING`, name)
	if err != nil {
		return nil, fmt.Errorf("failed to create collection %s: %w", name, err)
	}
	return s.FindCollection(ctx, name)
}

func (s *SQLiteStore) FindCollection(ctx context.Context, name string) (*Collection, error) {
	c := &Collection{Name: name}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, dimension, embedding_model FROM collections WHERE name = ?`, name,
	).Scan(&c.id, &c.Dimension, &c.EmbeddingModel)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read collection %s: %w", name, err)
	}
	return c, nil
}

// Upsert writes all records in one transaction
func (s *SQLiteStore) Upsert(ctx context.Context, c *Collection, records []types.CollectionRecord) error {
	if len(records) == 0 {
		return nil
	}
	dim, err := checkDimensions(c.Dimension, records)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	model := c.EmbeddingModel
	if c.Dimension == 0 {
		model = records[0].Metadata.EmbeddingModel
		res, err := tx.ExecContext(ctx,
			`UPDATE collections SET dimension = ?, embedding_model = ?, updated_at = ? WHERE id = ? AND dimension = 0`,
			dim, model, time.Now().UTC(), c.id)
		if err != nil {
			return fmt.Errorf("failed to set collection dimension: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("%w: collection %s was sized concurrently", types.ErrDimensionMismatch, c.Name)
		}
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO records (collection_id, id, document, embedding, dimension, source_path, embedding_model, last_updated)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(collection_id, id) DO UPDATE SET
			document = excluded.document,
			embedding = excluded.embedding,
			dimension = excluded.dimension,
			source_path = excluded.source_path,
			embedding_model = excluded.embedding_model,
			last_updated = excluded.last_updated
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare upsert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, rec := range records {
		_, err := stmt.ExecContext(ctx,
			c.id, rec.ID, rec.Document, serializeVector(rec.Embedding), len(rec.Embedding),
			rec.Metadata.SourcePath, rec.Metadata.EmbeddingModel, rec.Metadata.LastUpdatedString())
		if err != nil {
			return fmt.Errorf("failed to upsert record %s: %w", rec.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit upsert: %w", err)
	}

	c.Dimension = dim
	c.EmbeddingModel = model
	return nil
}

func (s *SQLiteStore) DeleteBySource(ctx context.Context, c *Collection, sourcePaths []string) (int, error) {
	if len(sourcePaths) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	deleted := 0
	for _, path := range sourcePaths {
		res, err := tx.ExecContext(ctx,
			`DELETE FROM records WHERE collection_id = ? AND source_path = ?`, c.id, path)
		if err != nil {
			return 0, fmt.Errorf("failed to delete records of %s: %w", path, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, err
		}
		deleted += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit delete: %w", err)
	}
	return deleted, nil
}

func (s *SQLiteStore) Count(ctx context.Context, c *Collection) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM records WHERE collection_id = ?`, c.id).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count records: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) Get(ctx context.Context, c *Collection, id string) (*types.CollectionRecord, error) {
	var (
		rec         types.CollectionRecord
		blob        []byte
		lastUpdated string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, document, embedding, source_path, embedding_model, last_updated
		FROM records WHERE collection_id = ? AND id = ?
	`, c.id, id).Scan(&rec.ID, &rec.Document, &blob, &rec.Metadata.SourcePath, &rec.Metadata.EmbeddingModel, &lastUpdated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get record %s: %w", id, err)
	}

	rec.Embedding = deserializeVector(blob)
	if rec.Metadata.LastUpdated, err = time.Parse(time.RFC3339, lastUpdated); err != nil {
		return nil, fmt.Errorf("record %s has invalid lastUpdated %q: %w", id, lastUpdated, err)
	}
	return &rec, nil
}
