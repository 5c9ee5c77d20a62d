package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/vectorize/internal/embedder"
	"github.com/dshills/vectorize/internal/storage"
)

// isolate points Load at files that do not exist and clears the env vars
// a test touches, restoring them afterwards.
func isolate(t *testing.T, keys ...string) Sources {
	t.Helper()
	for _, k := range keys {
		t.Setenv(k, "")
		require.NoError(t, os.Unsetenv(k))
	}
	dir := t.TempDir()
	return Sources{
		SettingsFile: filepath.Join(dir, "missing-settings.json"),
		EnvFile:      filepath.Join(dir, "missing.env"),
	}
}

func newFlags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(flags)
	require.NoError(t, flags.Parse(args))
	return flags
}

func TestLoad_Defaults(t *testing.T) {
	src := isolate(t, "VECTORIZE_CHUNK_SIZE", "VECTORIZE_PROVIDER", "VECTORIZE_BACKEND")

	cfg, err := Load(nil, src)
	require.NoError(t, err)

	d := Default()
	assert.Equal(t, d.Directory, cfg.Directory)
	assert.Equal(t, d.ChunkSize, cfg.ChunkSize)
	assert.Equal(t, d.ChunkOverlap, cfg.ChunkOverlap)
	assert.Equal(t, d.BatchSize, cfg.BatchSize)
	assert.Equal(t, embedder.ProviderAuto, cfg.Provider)
	assert.Equal(t, storage.BackendSQLite, cfg.Backend)
	assert.Equal(t, embedder.DefaultTimeout, cfg.EmbeddingTimeout)
	assert.Equal(t, embedder.LocalDimension, cfg.LocalDim)
	assert.Empty(t, cfg.Exclude)
}

func TestLoad_FlagDefaultsMatchDefault(t *testing.T) {
	src := isolate(t)

	cfg, err := Load(newFlags(t), src)
	require.NoError(t, err)
	withoutFlags, err := Load(nil, src)
	require.NoError(t, err)
	assert.Equal(t, withoutFlags, cfg)
}

func TestLoad_SettingsFile(t *testing.T) {
	src := isolate(t, "VECTORIZE_OLLAMA_URL", "VECTORIZE_OLLAMA_EMBEDDING", "VECTORIZE_OLLAMA_NUM_GPUS")
	src.SettingsFile = filepath.Join(t.TempDir(), "settings.json")
	require.NoError(t, os.WriteFile(src.SettingsFile, []byte(`{
		"ollama.url": "http://gpu-box:11434",
		"ollama.embedding": "nomic-embed-text",
		"ollama.num_gpus": 2,
		"unrelated": true
	}`), 0o644))

	cfg, err := Load(nil, src)
	require.NoError(t, err)
	assert.Equal(t, "http://gpu-box:11434", cfg.OllamaURL)
	assert.Equal(t, "nomic-embed-text", cfg.OllamaEmbedding)
	assert.Equal(t, 2, cfg.OllamaNumGPUs)
}

func TestLoad_CorruptSettingsFile(t *testing.T) {
	src := isolate(t)
	src.SettingsFile = filepath.Join(t.TempDir(), "settings.json")
	require.NoError(t, os.WriteFile(src.SettingsFile, []byte(`{not json`), 0o644))

	_, err := Load(nil, src)
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestLoad_Precedence(t *testing.T) {
	const key = "VECTORIZE_OLLAMA_URL"
	src := isolate(t, key)
	src.SettingsFile = filepath.Join(t.TempDir(), "settings.json")
	require.NoError(t, os.WriteFile(src.SettingsFile, []byte(`{"ollama.url": "http://settings"}`), 0o644))

	cfg, err := Load(nil, src)
	require.NoError(t, err)
	assert.Equal(t, "http://settings", cfg.OllamaURL)

	// .env beats the settings file
	src.EnvFile = filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(src.EnvFile, []byte(key+"=http://dotenv\n"), 0o644))
	cfg, err = Load(nil, src)
	require.NoError(t, err)
	assert.Equal(t, "http://dotenv", cfg.OllamaURL)

	// the real environment beats .env
	t.Setenv(key, "http://env")
	cfg, err = Load(nil, src)
	require.NoError(t, err)
	assert.Equal(t, "http://env", cfg.OllamaURL)

	// flags beat everything
	cfg, err = Load(newFlags(t, "--ollama_url", "http://flag"), src)
	require.NoError(t, err)
	assert.Equal(t, "http://flag", cfg.OllamaURL)

	// an unset flag does not
	cfg, err = Load(newFlags(t), src)
	require.NoError(t, err)
	assert.Equal(t, "http://env", cfg.OllamaURL)
}

func TestLoad_EnvironmentTypes(t *testing.T) {
	src := isolate(t)
	t.Setenv("VECTORIZE_CHUNK_SIZE", "1000")
	t.Setenv("VECTORIZE_CHUNK_OVERLAP", "100")
	t.Setenv("VECTORIZE_EMBEDDING_TIMEOUT", "5s")
	t.Setenv("VECTORIZE_EMBEDDING_CACHE", "true")
	t.Setenv("VECTORIZE_EXCLUDE", "node_modules, *.log")

	cfg, err := Load(nil, src)
	require.NoError(t, err)
	assert.Equal(t, 1000, cfg.ChunkSize)
	assert.Equal(t, 100, cfg.ChunkOverlap)
	assert.Equal(t, 5*time.Second, cfg.EmbeddingTimeout)
	assert.True(t, cfg.EmbeddingCache)
	assert.Equal(t, []string{"node_modules", "*.log"}, cfg.Exclude)
}

func TestLoad_Flags(t *testing.T) {
	src := isolate(t, "VECTORIZE_EXCLUDE")

	flags := newFlags(t,
		"--directory", "/data/docs",
		"--vector_dir", "/data/store",
		"--exclude", "vendor",
		"--exclude", "*.tmp",
		"--provider", "openai",
		"--embedding_url", "http://localhost:8081",
		"--embedding_model", "granite",
		"--backend", "qdrant",
		"--batch_size", "64",
		"-v",
	)
	cfg, err := Load(flags, src)
	require.NoError(t, err)
	assert.Equal(t, "/data/docs", cfg.Directory)
	assert.Equal(t, "/data/store", cfg.VectorDir)
	assert.Equal(t, []string{"vendor", "*.tmp"}, cfg.Exclude)
	assert.Equal(t, "openai", cfg.Provider)
	assert.Equal(t, storage.BackendQdrant, cfg.Backend)
	assert.Equal(t, 64, cfg.BatchSize)
	assert.True(t, cfg.Verbose)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"overlap not below size", []string{"--chunk_size", "100", "--chunk_overlap", "100"}},
		{"zero batch", []string{"--batch_size", "0"}},
		{"unknown provider", []string{"--provider", "cohere"}},
		{"unknown backend", []string{"--backend", "faiss"}},
		{"qdrant without url", []string{"--backend", "qdrant", "--qdrant_url", ""}},
		{"zero timeout", []string{"--embedding_timeout", "0s"}},
		{"zero local dim", []string{"--local_dim", "0"}},
		{"negative workers", []string{"--workers", "-1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(newFlags(t, tt.args...), isolate(t))
			require.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestEmbedderConfig(t *testing.T) {
	cfg := Default()
	cfg.OllamaURL = "http://ollama:11434"
	cfg.OllamaEmbedding = "nomic-embed-text"
	cfg.OllamaNumGPUs = 1

	ec := cfg.EmbedderConfig("/store")
	assert.Equal(t, "http://ollama:11434", ec.BaseURL)
	assert.Equal(t, "nomic-embed-text", ec.Model)
	assert.Equal(t, 1, ec.NumGPU)
	assert.Equal(t, embedder.ProviderOllama, embedder.DetectProvider(ec))
	assert.Zero(t, ec.CacheSize)
	assert.Empty(t, ec.CachePath)

	cfg.EmbeddingURL = "http://llama:8081"
	cfg.EmbeddingModel = "granite"
	cfg.EmbeddingCache = true
	ec = cfg.EmbedderConfig("/store")
	assert.Equal(t, "http://llama:8081", ec.BaseURL)
	assert.Equal(t, "granite", ec.Model)
	assert.Equal(t, DefaultCacheItems, ec.CacheSize)
	assert.Equal(t, filepath.Join("/store", CacheFileName), ec.CachePath)

	def := Default()
	assert.Equal(t, embedder.ProviderLocal, embedder.DetectProvider(def.EmbedderConfig("")))
}

func TestIndexAndStoreOptions(t *testing.T) {
	cfg := Default()
	cfg.Directory = "/data/docs"
	cfg.VectorDir = "/data/store"
	cfg.Exclude = []string{"vendor"}
	cfg.Backend = "QDRANT"

	opts := cfg.IndexOptions()
	assert.Equal(t, "/data/docs", opts.Root)
	assert.Equal(t, "/data/store", opts.StoreDir)
	assert.Equal(t, []string{"vendor"}, opts.Exclude)
	assert.Equal(t, cfg.ChunkSize, opts.ChunkSize)

	so := cfg.StoreOptions("/data/store")
	assert.Equal(t, storage.BackendQdrant, so.Backend)
	assert.Equal(t, "/data/store", so.Dir)
	assert.Equal(t, cfg.QdrantURL, so.QdrantURL)
}
