package embedder

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/dshills/vectorize/internal/contextutil"
)

// FallbackEmbedder sends batches to a primary embedder and computes a batch
// locally when the primary fails for it. Cancellation is never masked.
//
// The fallback only runs once its dimension is known, either from a primary
// answer or from AlignFallback. Before that a primary failure is returned.
type FallbackEmbedder struct {
	primary   Embedder
	local     *LocalProvider
	aligned   atomic.Bool
	fallbacks atomic.Int64
}

// NewFallbackEmbedder wraps primary with local as the per-batch fallback
func NewFallbackEmbedder(primary Embedder, local *LocalProvider) *FallbackEmbedder {
	return &FallbackEmbedder{primary: primary, local: local}
}

func (f *FallbackEmbedder) GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error) {
	return generateSingle(ctx, f, req)
}

// GenerateBatch embeds req with the primary, or locally when the primary
// fails. Exception: until the primary has answered once or AlignFallback was
// called, a primary failure is returned as ErrProviderFailed, so a new
// collection is never sized by local vectors.
func (f *FallbackEmbedder) GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error) {
	if err := ValidateBatchRequest(req); err != nil {
		return nil, err
	}

	resp, err := f.primary.GenerateBatch(ctx, req)
	if err == nil {
		f.alignLocal()
		return resp, nil
	}
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return nil, err
	}

	f.alignLocal()
	if !f.aligned.Load() {
		return nil, fmt.Errorf("%w: no vector size known for a local fallback: %w", ErrProviderFailed, err)
	}
	f.fallbacks.Add(1)
	contextutil.LoggerFromContext(ctx).WarnContext(ctx, "embedding backend failed, using local embeddings for this batch",
		"provider", f.primary.Provider(),
		"model", f.primary.Model(),
		"texts", len(req.Texts),
		"error", err)

	return f.local.GenerateBatch(ctx, req)
}

// alignLocal keeps the fallback vectors the same size as the primary's
func (f *FallbackEmbedder) alignLocal() {
	if dim := f.primary.Dimension(); dim > 0 {
		if dim != f.local.Dimension() {
			_ = f.local.SetDimension(dim)
		}
		f.aligned.Store(true)
	}
}

// Fallbacks returns how many batches were computed locally
func (f *FallbackEmbedder) Fallbacks() int {
	return int(f.fallbacks.Load())
}

// Dimension is the primary's dimension once known, else the local one
func (f *FallbackEmbedder) Dimension() int {
	if dim := f.primary.Dimension(); dim > 0 {
		return dim
	}
	return f.local.Dimension()
}

func (f *FallbackEmbedder) Provider() string {
	return f.primary.Provider()
}

func (f *FallbackEmbedder) Model() string {
	return f.primary.Model()
}

// AlignFallback sizes the local fallback to dim, typically the dimension of
// an existing collection, before the primary has answered.
func (f *FallbackEmbedder) AlignFallback(dim int) {
	if dim > 0 {
		_ = f.local.SetDimension(dim)
		f.aligned.Store(true)
	}
}

func (f *FallbackEmbedder) Close() error {
	return errors.Join(f.primary.Close(), f.local.Close())
}
