// Package config loads the settings of a run from defaults, the shared
// settings file, a .env file, VECTORIZE_ environment variables and flags,
// in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/dshills/vectorize/internal/chunker"
	"github.com/dshills/vectorize/internal/embedder"
	"github.com/dshills/vectorize/internal/indexer"
	"github.com/dshills/vectorize/internal/storage"
)

// EnvPrefix is prepended to every environment variable name
const EnvPrefix = "VECTORIZE"

// Cache files and sizes
const (
	CacheFileName     = "embeddings.bolt"
	DefaultCacheItems = 10000
)

// ErrInvalidConfig wraps every validation failure
var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the resolved configuration of one process
type Config struct {
	Directory      string   `mapstructure:"directory"`
	VectorDir      string   `mapstructure:"vector_dir"`
	Exclude        []string `mapstructure:"exclude"`
	FollowSymlinks bool     `mapstructure:"follow_symlinks"`

	ChunkSize    int `mapstructure:"chunk_size"`
	ChunkOverlap int `mapstructure:"chunk_overlap"`
	BatchSize    int `mapstructure:"batch_size"`
	Workers      int `mapstructure:"workers"`

	OllamaURL       string `mapstructure:"ollama_url"`
	OllamaEmbedding string `mapstructure:"ollama_embedding"`
	OllamaNumGPUs   int    `mapstructure:"ollama_num_gpus"`

	Provider          string        `mapstructure:"provider"`
	EmbeddingURL      string        `mapstructure:"embedding_url"`
	EmbeddingModel    string        `mapstructure:"embedding_model"`
	EmbeddingAPIKey   string        `mapstructure:"embedding_api_key"`
	EmbeddingTimeout  time.Duration `mapstructure:"embedding_timeout"`
	EmbeddingAttempts int           `mapstructure:"embedding_attempts"`
	EmbeddingCache    bool          `mapstructure:"embedding_cache"`
	LocalDim          int           `mapstructure:"local_dim"`

	Backend   string `mapstructure:"backend"`
	QdrantURL string `mapstructure:"qdrant_url"`

	Verbose bool `mapstructure:"verbose"`
}

// Default returns the built-in configuration
func Default() Config {
	return Config{
		Directory:         ".",
		ChunkSize:         chunker.DefaultChunkSize,
		ChunkOverlap:      chunker.DefaultChunkOverlap,
		BatchSize:         indexer.DefaultBatchSize,
		Provider:          embedder.ProviderAuto,
		EmbeddingTimeout:  embedder.DefaultTimeout,
		EmbeddingAttempts: embedder.DefaultAttempts,
		LocalDim:          embedder.LocalDimension,
		Backend:           storage.BackendSQLite,
		QdrantURL:         "http://localhost:6333",
	}
}

// Sources names the files Load reads. Empty fields use the defaults; a
// missing file is not an error.
type Sources struct {
	SettingsFile string // default: DefaultSettingsPath()
	EnvFile      string // default: .env in the working directory
}

// DefaultSettingsPath is the settings file shared with the ghostwraiter tools
func DefaultSettingsPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "ghostwraiter", "settings.json")
}

// RegisterFlags defines every configuration flag on flags
func RegisterFlags(flags *pflag.FlagSet) {
	d := Default()
	flags.String("directory", d.Directory, "Directory to index")
	flags.String("vector_dir", d.VectorDir, "Store directory (default: <directory>/"+indexer.DefaultStoreDirName+")")
	flags.StringSlice("exclude", nil, "Path or glob to exclude (repeatable)")
	flags.Bool("follow_symlinks", d.FollowSymlinks, "Follow symlinked directories")

	flags.Int("chunk_size", d.ChunkSize, "Maximum chunk length in characters")
	flags.Int("chunk_overlap", d.ChunkOverlap, "Characters shared by consecutive chunks")
	flags.Int("batch_size", d.BatchSize, "Chunks embedded and upserted per batch")
	flags.Int("workers", d.Workers, "File loading workers (0: number of CPUs)")

	flags.String("ollama_url", d.OllamaURL, "Ollama server URL")
	flags.String("ollama_embedding", d.OllamaEmbedding, "Ollama embedding model")
	flags.Int("ollama_num_gpus", d.OllamaNumGPUs, "GPUs Ollama may use (0: server default)")

	flags.String("provider", d.Provider, "Embedding provider: auto, local, ollama or openai")
	flags.String("embedding_url", d.EmbeddingURL, "Embedding server URL (overrides --ollama_url)")
	flags.String("embedding_model", d.EmbeddingModel, "Embedding model (overrides --ollama_embedding)")
	flags.String("embedding_api_key", d.EmbeddingAPIKey, "API key for an OpenAI-compatible server")
	flags.Duration("embedding_timeout", d.EmbeddingTimeout, "Timeout of one remote embedding call")
	flags.Int("embedding_attempts", d.EmbeddingAttempts, "Attempts per remote batch before the local fallback")
	flags.Bool("embedding_cache", d.EmbeddingCache, "Cache embeddings in the store directory")
	flags.Int("local_dim", d.LocalDim, "Vector size of the local embedder")

	flags.String("backend", d.Backend, "Vector store backend: sqlite or qdrant")
	flags.String("qdrant_url", d.QdrantURL, "Qdrant URL")

	flags.BoolP("verbose", "v", d.Verbose, "Enable debug logging")
}

// Load resolves the configuration. flags may be nil.
func Load(flags *pflag.FlagSet, src Sources) (*Config, error) {
	v := viper.New()
	setDefaults(v, Default())

	settingsFile := src.SettingsFile
	if settingsFile == "" {
		settingsFile = DefaultSettingsPath()
	}
	if err := applySettings(v, settingsFile); err != nil {
		return nil, err
	}

	envFile := src.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	// godotenv never overrides variables that are already set
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load %s: %w", envFile, err)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	for _, key := range v.AllKeys() {
		_ = v.BindEnv(key)
	}

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("bind flags: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode configuration: %w", err)
	}
	cfg.Exclude = splitList(cfg.Exclude)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("directory", d.Directory)
	v.SetDefault("vector_dir", d.VectorDir)
	v.SetDefault("exclude", []string{})
	v.SetDefault("follow_symlinks", d.FollowSymlinks)
	v.SetDefault("chunk_size", d.ChunkSize)
	v.SetDefault("chunk_overlap", d.ChunkOverlap)
	v.SetDefault("batch_size", d.BatchSize)
	v.SetDefault("workers", d.Workers)
	v.SetDefault("ollama_url", d.OllamaURL)
	v.SetDefault("ollama_embedding", d.OllamaEmbedding)
	v.SetDefault("ollama_num_gpus", d.OllamaNumGPUs)
	v.SetDefault("provider", d.Provider)
	v.SetDefault("embedding_url", d.EmbeddingURL)
	v.SetDefault("embedding_model", d.EmbeddingModel)
	v.SetDefault("embedding_api_key", d.EmbeddingAPIKey)
	v.SetDefault("embedding_timeout", d.EmbeddingTimeout)
	v.SetDefault("embedding_attempts", d.EmbeddingAttempts)
	v.SetDefault("embedding_cache", d.EmbeddingCache)
	v.SetDefault("local_dim", d.LocalDim)
	v.SetDefault("backend", d.Backend)
	v.SetDefault("qdrant_url", d.QdrantURL)
	v.SetDefault("verbose", d.Verbose)
}

// settingsKeys maps the literal dotted keys of the settings file to ours
var settingsKeys = map[string]string{
	"ollama.url":       "ollama_url",
	"ollama.embedding": "ollama_embedding",
	"ollama.num_gpus":  "ollama_num_gpus",
}

// applySettings reads the settings JSON and installs its values as defaults,
// so env and flags still win. Its keys contain dots, so it is read with a
// separate key delimiter.
func applySettings(v *viper.Viper, path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil
	}

	s := viper.NewWithOptions(viper.KeyDelimiter("::"))
	s.SetConfigFile(path)
	s.SetConfigType("json")
	if err := s.ReadInConfig(); err != nil {
		return fmt.Errorf("%w: read settings %s: %w", ErrInvalidConfig, path, err)
	}
	for from, to := range settingsKeys {
		if s.IsSet(from) {
			v.SetDefault(to, s.Get(from))
		}
	}
	return nil
}

// splitList flattens comma separated entries, as they arrive from env vars
func splitList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// Validate checks value ranges and enumerations
func (c *Config) Validate() error {
	var errs []error
	if c.Directory == "" {
		errs = append(errs, errors.New("directory is required"))
	}
	if c.ChunkSize <= 0 {
		errs = append(errs, fmt.Errorf("chunk_size must be positive, got %d", c.ChunkSize))
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		errs = append(errs, fmt.Errorf("chunk_overlap must be in [0, chunk_size), got %d", c.ChunkOverlap))
	}
	if c.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("batch_size must be positive, got %d", c.BatchSize))
	}
	if c.Workers < 0 {
		errs = append(errs, fmt.Errorf("workers cannot be negative, got %d", c.Workers))
	}
	if c.LocalDim <= 0 {
		errs = append(errs, fmt.Errorf("local_dim must be positive, got %d", c.LocalDim))
	}
	if c.EmbeddingTimeout <= 0 {
		errs = append(errs, fmt.Errorf("embedding_timeout must be positive, got %s", c.EmbeddingTimeout))
	}
	if c.EmbeddingAttempts < 1 {
		errs = append(errs, fmt.Errorf("embedding_attempts must be at least 1, got %d", c.EmbeddingAttempts))
	}

	switch strings.ToLower(c.Provider) {
	case "", embedder.ProviderAuto, embedder.ProviderLocal, embedder.ProviderOllama, embedder.ProviderOpenAI:
	default:
		errs = append(errs, fmt.Errorf("unknown provider %q", c.Provider))
	}
	switch strings.ToLower(c.Backend) {
	case storage.BackendSQLite:
	case storage.BackendQdrant:
		if c.QdrantURL == "" {
			errs = append(errs, errors.New("qdrant_url is required for the qdrant backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown backend %q", c.Backend))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// EmbedderConfig describes the embedder for a run storing into storeDir.
// The generic embedding_* settings take precedence over the ollama_* ones.
func (c *Config) EmbedderConfig(storeDir string) embedder.Config {
	ec := embedder.Config{
		Provider:       strings.ToLower(c.Provider),
		BaseURL:        firstNonEmpty(c.EmbeddingURL, c.OllamaURL),
		Model:          firstNonEmpty(c.EmbeddingModel, c.OllamaEmbedding),
		APIKey:         c.EmbeddingAPIKey,
		NumGPU:         c.OllamaNumGPUs,
		Timeout:        c.EmbeddingTimeout,
		Attempts:       c.EmbeddingAttempts,
		LocalDimension: c.LocalDim,
		Parallelism:    c.Workers,
	}
	if c.EmbeddingCache {
		ec.CacheSize = DefaultCacheItems
		if storeDir != "" {
			ec.CachePath = filepath.Join(storeDir, CacheFileName)
		}
	}
	return ec
}

// StoreOptions describes the vector store kept in storeDir
func (c *Config) StoreOptions(storeDir string) storage.Options {
	return storage.Options{
		Backend:   strings.ToLower(c.Backend),
		Dir:       storeDir,
		QdrantURL: c.QdrantURL,
	}
}

// IndexOptions describes an indexing run over Directory
func (c *Config) IndexOptions() indexer.Options {
	return indexer.Options{
		Root:           c.Directory,
		StoreDir:       c.VectorDir,
		Exclude:        c.Exclude,
		ChunkSize:      c.ChunkSize,
		ChunkOverlap:   c.ChunkOverlap,
		BatchSize:      c.BatchSize,
		Workers:        c.Workers,
		FollowSymlinks: c.FollowSymlinks,
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
