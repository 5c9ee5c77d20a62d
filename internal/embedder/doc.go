// Package embedder turns chunk text into fixed-size float vectors.
//
// Three backends implement Embedder:
//
//   - LocalProvider hashes words, word pairs and character trigrams into a
//     fixed number of buckets. It needs no network and is deterministic.
//   - OllamaProvider calls POST /api/embed on an Ollama server.
//   - OpenAICompatProvider calls POST /v1/embeddings on any server speaking
//     the OpenAI embeddings protocol.
//
// New picks one of them from a Config. Remote backends are wrapped in a
// FallbackEmbedder: when a batch call fails (network error, timeout, non-2xx
// status, malformed body) that batch alone is embedded locally, at the
// dimension the remote reported, and the next batch tries the remote again.
//
//	emb, err := embedder.New(embedder.Config{
//	    Provider: embedder.ProviderOllama,
//	    BaseURL:  "http://localhost:11434",
//	    Model:    "nomic-embed-text",
//	})
//	if err != nil {
//	    return err
//	}
//	defer emb.Close()
//
//	resp, err := emb.GenerateBatch(ctx, embedder.BatchEmbeddingRequest{Texts: texts})
//
// # Caching
//
// CachedEmbedder keys vectors by model and text (xxh3-128). An in-memory LRU
// sits in front of an optional bbolt file so unchanged chunks of a changed
// file are not re-embedded on the next run. Vectors that came from a
// fallback are never cached.
package embedder
