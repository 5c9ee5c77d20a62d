package embedder

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"strings"
	"sync/atomic"
	"unicode"

	"github.com/zeebo/xxh3"
	"golang.org/x/sync/errgroup"
)

// LocalProvider computes feature-hashing embeddings in process.
// Lowercased words, adjacent word pairs and character trigrams are hashed into
// a fixed number of buckets with a hash-derived sign; the vector is L2-normalized.
type LocalProvider struct {
	dimension   atomic.Int64
	batchSize   int
	parallelism int
}

// LocalOption configures a LocalProvider
type LocalOption func(*LocalProvider)

// WithDimension sets the output dimension
func WithDimension(dim int) LocalOption {
	return func(l *LocalProvider) {
		if dim > 0 {
			l.dimension.Store(int64(dim))
		}
	}
}

// WithBatchSize sets how many texts one worker embeds at a time
func WithBatchSize(n int) LocalOption {
	return func(l *LocalProvider) {
		if n > 0 {
			l.batchSize = n
		}
	}
}

// WithParallelism bounds the number of concurrent workers (0 = runtime.NumCPU())
func WithParallelism(n int) LocalOption {
	return func(l *LocalProvider) {
		if n > 0 {
			l.parallelism = n
		}
	}
}

// NewLocalProvider creates a new local embedder
func NewLocalProvider(opts ...LocalOption) *LocalProvider {
	l := &LocalProvider{
		batchSize:   DefaultLocalBatchSize,
		parallelism: runtime.NumCPU(),
	}
	l.dimension.Store(LocalDimension)
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *LocalProvider) GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error) {
	return generateSingle(ctx, l, req)
}

func (l *LocalProvider) GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error) {
	if err := ValidateBatchRequest(req); err != nil {
		return nil, err
	}

	dim := l.Dimension()
	model := l.Model()
	embeddings := make([]*Embedding, len(req.Texts))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.parallelism)
	for start := 0; start < len(req.Texts); start += l.batchSize {
		end := min(start+l.batchSize, len(req.Texts))
		g.Go(func() error {
			for i := start; i < end; i++ {
				if err := gctx.Err(); err != nil {
					return err
				}
				embeddings[i] = &Embedding{
					Vector:    embedText(req.Texts[i], dim),
					Dimension: dim,
					Provider:  ProviderLocal,
					Model:     model,
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return &BatchEmbeddingResponse{
		Embeddings: embeddings,
		Provider:   ProviderLocal,
		Model:      model,
	}, nil
}

// SetDimension changes the output dimension for subsequent calls
func (l *LocalProvider) SetDimension(dim int) error {
	if dim <= 0 {
		return fmt.Errorf("%w: dimension must be positive, got %d", ErrInvalidInput, dim)
	}
	l.dimension.Store(int64(dim))
	return nil
}

func (l *LocalProvider) Dimension() int {
	return int(l.dimension.Load())
}

func (l *LocalProvider) Provider() string {
	return ProviderLocal
}

// Model includes the dimension: vectors of different sizes are not comparable.
func (l *LocalProvider) Model() string {
	return fmt.Sprintf("%s-%d", LocalModelPrefix, l.Dimension())
}

func (l *LocalProvider) Close() error {
	return nil
}

func embedText(text string, dim int) []float32 {
	vec := make([]float32, dim)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})

	if len(words) == 0 {
		addFeature(vec, "t:"+text, 1)
		return NormalizeVector(vec)
	}

	for i, w := range words {
		addFeature(vec, "w:"+w, 1)
		if i > 0 {
			addFeature(vec, "b:"+words[i-1]+" "+w, 0.5)
		}
		runes := []rune(" " + w + " ")
		for j := 0; j+3 <= len(runes); j++ {
			addFeature(vec, "c:"+string(runes[j:j+3]), 0.25)
		}
	}
	return NormalizeVector(vec)
}

func addFeature(vec []float32, feature string, weight float32) {
	h := xxh3.HashString(feature)
	if h>>63 == 1 {
		weight = -weight
	}
	vec[h%uint64(len(vec))] += weight
}

// NormalizeVector normalizes a vector to unit length (for cosine similarity)
func NormalizeVector(v []float32) []float32 {
	var sum float64
	for _, val := range v {
		sum += float64(val * val)
	}

	if sum == 0 {
		return v
	}

	norm := float32(math.Sqrt(sum))
	result := make([]float32, len(v))
	for i, val := range v {
		result[i] = val / norm
	}

	return result
}
