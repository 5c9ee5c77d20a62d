package embedder

import (
	"fmt"
	"strings"
	"time"
)

// Config selects and tunes the embedding backend
type Config struct {
	Provider string // local, ollama, openai or auto
	BaseURL  string
	Model    string
	APIKey   string
	NumGPU   int

	Timeout  time.Duration
	Attempts int

	LocalDimension int
	BatchSize      int
	Parallelism    int

	CacheSize int    // in-memory entries, 0 disables
	CachePath string // bbolt file, empty disables
}

// New builds the embedder described by cfg. The provider is chosen once:
// remote providers are wrapped with a local fallback, and caches wrap the
// result.
func New(cfg Config) (Embedder, error) {
	local := NewLocalProvider(
		WithDimension(cfg.LocalDimension),
		WithBatchSize(cfg.BatchSize),
		WithParallelism(cfg.Parallelism),
	)

	var emb Embedder
	switch provider := DetectProvider(cfg); provider {
	case ProviderLocal:
		emb = local
	case ProviderOllama:
		p, err := NewOllamaProvider(cfg.BaseURL, cfg.Model, cfg.NumGPU, cfg.Timeout)
		if err != nil {
			return nil, err
		}
		p.SetAttempts(cfg.Attempts)
		emb = NewFallbackEmbedder(p, local)
	case ProviderOpenAI:
		p, err := NewOpenAICompatProvider(cfg.BaseURL, cfg.Model, cfg.APIKey, cfg.Timeout)
		if err != nil {
			return nil, err
		}
		p.SetAttempts(cfg.Attempts)
		emb = NewFallbackEmbedder(p, local)
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrUnsupportedModel, cfg.Provider)
	}

	if cfg.CacheSize <= 0 && cfg.CachePath == "" {
		return emb, nil
	}

	var memory *Cache
	if cfg.CacheSize > 0 {
		memory = NewCache(cfg.CacheSize)
	}
	var disk *BoltCache
	if cfg.CachePath != "" {
		var err error
		if disk, err = OpenBoltCache(cfg.CachePath); err != nil {
			_ = emb.Close()
			return nil, err
		}
	}
	return NewCachedEmbedder(emb, memory, disk), nil
}

// DetectProvider resolves "auto" and the empty string: Ollama when a base
// URL and model are configured, local otherwise.
func DetectProvider(cfg Config) string {
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if provider != "" && provider != ProviderAuto {
		return provider
	}
	if cfg.BaseURL != "" && cfg.Model != "" {
		return ProviderOllama
	}
	return ProviderLocal
}
