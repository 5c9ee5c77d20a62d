package embedder

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeHash(t *testing.T) {
	t.Run("deterministic", func(t *testing.T) {
		assert.Equal(t, ComputeHash("m", "hello"), ComputeHash("m", "hello"))
		assert.Len(t, ComputeHash("m", "hello"), 32)
	})

	t.Run("model is part of the key", func(t *testing.T) {
		assert.NotEqual(t, ComputeHash("a", "hello"), ComputeHash("b", "hello"))
	})

	t.Run("no ambiguity between model and text", func(t *testing.T) {
		assert.NotEqual(t, ComputeHash("ab", "c"), ComputeHash("a", "bc"))
	})
}

func TestValidateRequest(t *testing.T) {
	assert.NoError(t, ValidateRequest(EmbeddingRequest{Text: "x"}))
	assert.ErrorIs(t, ValidateRequest(EmbeddingRequest{}), ErrEmptyText)
}

func TestValidateBatchRequest(t *testing.T) {
	tests := []struct {
		name    string
		req     BatchEmbeddingRequest
		wantErr error
	}{
		{name: "valid", req: BatchEmbeddingRequest{Texts: []string{"a", "b"}}},
		{name: "no texts", req: BatchEmbeddingRequest{}, wantErr: ErrInvalidInput},
		{name: "empty text", req: BatchEmbeddingRequest{Texts: []string{"a", ""}}, wantErr: ErrInvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateBatchRequest(tt.req)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestCache(t *testing.T) {
	t.Run("set and get returns a copy", func(t *testing.T) {
		cache := NewCache(10)
		emb := &Embedding{Vector: []float32{1, 2, 3}, Dimension: 3, Model: "m"}
		cache.Set("k", emb)

		got, ok := cache.Get("k")
		require.True(t, ok)
		assert.Equal(t, emb.Vector, got.Vector)

		got.Vector[0] = 99
		again, _ := cache.Get("k")
		assert.Equal(t, float32(1), again.Vector[0])
	})

	t.Run("evicts least recently used", func(t *testing.T) {
		cache := NewCache(2)
		cache.Set("a", &Embedding{Vector: []float32{1}})
		cache.Set("b", &Embedding{Vector: []float32{2}})
		_, _ = cache.Get("a")
		cache.Set("c", &Embedding{Vector: []float32{3}})

		_, okA := cache.Get("a")
		_, okB := cache.Get("b")
		assert.True(t, okA)
		assert.False(t, okB)
		assert.Equal(t, 2, cache.Size())
	})

	t.Run("clear", func(t *testing.T) {
		cache := NewCache(0)
		cache.Set("a", &Embedding{Vector: []float32{1}})
		cache.Clear()
		assert.Equal(t, 0, cache.Size())
	})
}

func TestLocalProvider(t *testing.T) {
	ctx := context.Background()

	t.Run("default dimension and model", func(t *testing.T) {
		p := NewLocalProvider()
		assert.Equal(t, LocalDimension, p.Dimension())
		assert.Equal(t, ProviderLocal, p.Provider())
		assert.Equal(t, "local-hash-ngram-384", p.Model())
	})

	t.Run("vectors are unit length and deterministic", func(t *testing.T) {
		p := NewLocalProvider(WithDimension(64))
		a, err := p.GenerateEmbedding(ctx, EmbeddingRequest{Text: "the quick brown fox"})
		require.NoError(t, err)
		b, err := p.GenerateEmbedding(ctx, EmbeddingRequest{Text: "the quick brown fox"})
		require.NoError(t, err)

		assert.Len(t, a.Vector, 64)
		assert.Equal(t, a.Vector, b.Vector)
		assert.InDelta(t, 1.0, norm(a.Vector), 1e-5)
	})

	t.Run("similar texts are closer than unrelated ones", func(t *testing.T) {
		p := NewLocalProvider()
		resp, err := p.GenerateBatch(ctx, BatchEmbeddingRequest{Texts: []string{
			"open the database connection",
			"open a database connection pool",
			"purple elephants dance at midnight",
		}})
		require.NoError(t, err)

		related := dot(resp.Embeddings[0].Vector, resp.Embeddings[1].Vector)
		unrelated := dot(resp.Embeddings[0].Vector, resp.Embeddings[2].Vector)
		assert.Greater(t, related, unrelated)
	})

	t.Run("punctuation only text still embeds", func(t *testing.T) {
		p := NewLocalProvider(WithDimension(16))
		emb, err := p.GenerateEmbedding(ctx, EmbeddingRequest{Text: "{}();"})
		require.NoError(t, err)
		assert.InDelta(t, 1.0, norm(emb.Vector), 1e-5)
	})

	t.Run("batch keeps input order across workers", func(t *testing.T) {
		p := NewLocalProvider(WithBatchSize(3), WithParallelism(4))
		texts := make([]string, 20)
		for i := range texts {
			texts[i] = string(rune('a'+i)) + " word"
		}
		resp, err := p.GenerateBatch(ctx, BatchEmbeddingRequest{Texts: texts})
		require.NoError(t, err)
		require.Len(t, resp.Embeddings, 20)

		for i, text := range texts {
			single, err := p.GenerateEmbedding(ctx, EmbeddingRequest{Text: text})
			require.NoError(t, err)
			assert.Equal(t, single.Vector, resp.Embeddings[i].Vector)
		}
	})

	t.Run("set dimension", func(t *testing.T) {
		p := NewLocalProvider()
		require.NoError(t, p.SetDimension(768))
		assert.Equal(t, 768, p.Dimension())
		assert.Equal(t, "local-hash-ngram-768", p.Model())
		assert.ErrorIs(t, p.SetDimension(0), ErrInvalidInput)
	})

	t.Run("cancelled context", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := NewLocalProvider().GenerateBatch(cctx, BatchEmbeddingRequest{Texts: []string{"a"}})
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestNormalizeVector(t *testing.T) {
	got := NormalizeVector([]float32{3, 4})
	assert.InDelta(t, 0.6, got[0], 1e-6)
	assert.InDelta(t, 0.8, got[1], 1e-6)

	zero := []float32{0, 0}
	assert.Equal(t, zero, NormalizeVector(zero))
}

func norm(v []float32) float64 {
	return math.Sqrt(dot(v, v))
}

func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}
