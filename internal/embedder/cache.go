package embedder

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"go.etcd.io/bbolt"

	"github.com/dshills/vectorize/internal/contextutil"
)

// BoltCache persists embeddings across runs, one bucket per model
type BoltCache struct {
	db *bbolt.DB
}

// OpenBoltCache opens or creates the cache file at path
func OpenBoltCache(path string) (*BoltCache, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("open embedding cache: %w", err)
	}
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open embedding cache: %w", err)
	}
	return &BoltCache{db: db}, nil
}

// Get returns the vector stored for key under model
func (b *BoltCache) Get(model, key string) ([]float32, bool) {
	var vec []float32
	_ = b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(model))
		if bucket == nil {
			return nil
		}
		if data := bucket.Get([]byte(key)); data != nil {
			vec = decodeVector(data)
		}
		return nil
	})
	return vec, vec != nil
}

// PutBatch stores vectors by key under model in one transaction
func (b *BoltCache) PutBatch(model string, entries map[string][]float32) error {
	if len(entries) == 0 {
		return nil
	}
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists([]byte(model))
		if err != nil {
			return err
		}
		for key, vec := range entries {
			if err := bucket.Put([]byte(key), encodeVector(vec)); err != nil {
				return err
			}
		}
		return nil
	})
}

// Close closes the cache file
func (b *BoltCache) Close() error {
	return b.db.Close()
}

func encodeVector(vec []float32) []byte {
	blob := make([]byte, len(vec)*4)
	for i, v := range vec {
		binary.LittleEndian.PutUint32(blob[i*4:], math.Float32bits(v))
	}
	return blob
}

func decodeVector(blob []byte) []float32 {
	vec := make([]float32, len(blob)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return vec
}

// CachedEmbedder serves repeated texts from memory or disk and only sends
// misses to the wrapped embedder. Vectors produced by a fallback are not
// cached, so they are recomputed by the primary next time.
type CachedEmbedder struct {
	inner  Embedder
	memory *Cache
	disk   *BoltCache
	hits   atomic.Int64
}

// NewCachedEmbedder wraps inner; memory and disk may each be nil
func NewCachedEmbedder(inner Embedder, memory *Cache, disk *BoltCache) *CachedEmbedder {
	return &CachedEmbedder{inner: inner, memory: memory, disk: disk}
}

func (c *CachedEmbedder) GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error) {
	return generateSingle(ctx, c, req)
}

func (c *CachedEmbedder) GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error) {
	if err := ValidateBatchRequest(req); err != nil {
		return nil, err
	}

	model := c.inner.Model()
	embeddings := make([]*Embedding, len(req.Texts))
	keys := make([]string, len(req.Texts))
	var missIdx []int
	var missTexts []string

	for i, text := range req.Texts {
		keys[i] = ComputeHash(model, text)
		if emb, ok := c.lookup(model, keys[i]); ok {
			embeddings[i] = emb
			c.hits.Add(1)
			continue
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, text)
	}

	if len(missTexts) > 0 {
		resp, err := c.inner.GenerateBatch(ctx, BatchEmbeddingRequest{Texts: missTexts})
		if err != nil {
			return nil, err
		}
		if len(resp.Embeddings) != len(missTexts) {
			return nil, fmt.Errorf("%w: expected %d embeddings, got %d", ErrProviderFailed, len(missTexts), len(resp.Embeddings))
		}

		toDisk := make(map[string][]float32)
		for j, idx := range missIdx {
			emb := resp.Embeddings[j]
			emb.Hash = keys[idx]
			embeddings[idx] = emb
			if emb.Model != model {
				continue
			}
			if c.memory != nil {
				c.memory.Set(emb.Hash, emb)
			}
			toDisk[emb.Hash] = emb.Vector
		}
		if c.disk != nil {
			if err := c.disk.PutBatch(model, toDisk); err != nil {
				contextutil.LoggerFromContext(ctx).WarnContext(ctx, "cannot persist embeddings", "error", err)
			}
		}
	}

	return &BatchEmbeddingResponse{
		Embeddings: embeddings,
		Provider:   c.inner.Provider(),
		Model:      model,
	}, nil
}

func (c *CachedEmbedder) lookup(model, key string) (*Embedding, bool) {
	if c.memory != nil {
		if emb, ok := c.memory.Get(key); ok {
			return emb, true
		}
	}
	if c.disk == nil {
		return nil, false
	}
	vec, ok := c.disk.Get(model, key)
	if !ok {
		return nil, false
	}
	emb := &Embedding{
		Vector:    vec,
		Dimension: len(vec),
		Provider:  c.inner.Provider(),
		Model:     model,
		Hash:      key,
	}
	if c.memory != nil {
		c.memory.Set(key, emb)
	}
	return emb, true
}

// Hits returns how many texts were served from cache
func (c *CachedEmbedder) Hits() int {
	return int(c.hits.Load())
}

// Fallbacks forwards to the wrapped embedder when it has a fallback
func (c *CachedEmbedder) Fallbacks() int {
	if fc, ok := c.inner.(FallbackCounter); ok {
		return fc.Fallbacks()
	}
	return 0
}

// AlignFallback forwards to the wrapped embedder when it has a fallback
func (c *CachedEmbedder) AlignFallback(dim int) {
	if fa, ok := c.inner.(FallbackAligner); ok {
		fa.AlignFallback(dim)
	}
}

func (c *CachedEmbedder) Dimension() int {
	return c.inner.Dimension()
}

func (c *CachedEmbedder) Provider() string {
	return c.inner.Provider()
}

func (c *CachedEmbedder) Model() string {
	return c.inner.Model()
}

// Close closes the wrapped embedder and the disk cache
func (c *CachedEmbedder) Close() error {
	var diskErr error
	if c.disk != nil {
		diskErr = c.disk.Close()
	}
	return errors.Join(c.inner.Close(), diskErr)
}
