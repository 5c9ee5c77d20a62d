package embedder

import (
	"context"
	"fmt"
	"strings"
	"testing"
)

func BenchmarkComputeHash(b *testing.B) {
	text := strings.Repeat("func Parse(path string) error { return nil }\n", 50)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = ComputeHash("nomic-embed-text", text)
	}
}

func BenchmarkLocalProvider(b *testing.B) {
	ctx := context.Background()
	p := NewLocalProvider()
	texts := make([]string, 500)
	for i := range texts {
		texts[i] = fmt.Sprintf("chunk %d of some source file with several words in it", i)
	}

	b.Run("single", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			_, _ = p.GenerateEmbedding(ctx, EmbeddingRequest{Text: texts[i%len(texts)]})
		}
	})

	b.Run("batch", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			_, _ = p.GenerateBatch(ctx, BatchEmbeddingRequest{Texts: texts})
		}
	})
}

func BenchmarkConcurrentCache(b *testing.B) {
	cache := NewCache(1000)
	emb := &Embedding{Vector: make([]float32, LocalDimension)}
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			key := fmt.Sprintf("k%d", i%2000)
			if _, ok := cache.Get(key); !ok {
				cache.Set(key, emb)
			}
			i++
		}
	})
}
