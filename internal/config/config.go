// Package config provides configuration for the RAG engine with
// multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables with the RAG_ prefix (runtime override)
//  2. Config file (rag.yaml in the working directory or an explicit path)
//  3. Default values
//
// Validation happens at construction: the engine never starts partially
// configured. Errors are sentinel values so callers can branch with
// errors.Is().
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrMissingAPIKey indicates a required provider API key is missing.
	ErrMissingAPIKey = errors.New("missing API key")

	// ErrUnknownProvider indicates the embedding provider is not supported.
	ErrUnknownProvider = errors.New("unknown embedding provider")

	// ErrUnknownModel indicates the embedding model is not recognized by
	// its provider adapter.
	ErrUnknownModel = errors.New("unknown embedding model")

	// ErrUnknownStore indicates the vector store backend is not supported.
	ErrUnknownStore = errors.New("unknown vector store")

	// ErrInvalidChunking indicates chunk size / overlap are inconsistent.
	ErrInvalidChunking = errors.New("invalid chunking configuration")

	// ErrInvalidBatching indicates batch size or concurrency are out of range.
	ErrInvalidBatching = errors.New("invalid batching configuration")

	// ErrInvalidPostgres indicates the PostgreSQL settings are incomplete.
	ErrInvalidPostgres = errors.New("invalid PostgreSQL configuration")

	// ErrInvalidQdrant indicates the Qdrant settings are incomplete.
	ErrInvalidQdrant = errors.New("invalid Qdrant configuration")
)

// Embedding provider identifiers used in Config.Provider.
const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
	ProviderOllama = "ollama"
)

// Vector store identifiers used in Config.Store.
const (
	StoreMemory   = "memory"
	StorePgvector = "pgvector"
	StoreQdrant   = "qdrant"
)

// Config stores the engine configuration.
// SENSITIVE fields (API keys, passwords) must never be logged.
type Config struct {
	// Embedding provider configuration
	Provider         string        `mapstructure:"provider"`       // "openai" (default), "gemini", "ollama"
	EmbedderModel    string        `mapstructure:"embedder_model"` // model identifier, validated by the adapter
	OpenAIAPIKey     string        `mapstructure:"openai_api_key"` // SENSITIVE
	GeminiAPIKey     string        `mapstructure:"gemini_api_key"` // SENSITIVE
	OllamaHost       string        `mapstructure:"ollama_host"`    // only used when provider is "ollama"
	EmbedTimeout     time.Duration `mapstructure:"embed_timeout"`
	EmbedBatchSize   int           `mapstructure:"embed_batch_size"`
	EmbedConcurrency int           `mapstructure:"embed_concurrency"` // 1 = sequential
	EmbedRateLimit   float64       `mapstructure:"embed_rate_limit"`  // requests/sec, 0 = unlimited
	EmbedMaxRetries  int           `mapstructure:"embed_max_retries"`

	// Chunking configuration
	ChunkSize    int `mapstructure:"chunk_size"`
	ChunkOverlap int `mapstructure:"chunk_overlap"`

	// Vector store configuration
	Store        string        `mapstructure:"store"` // "memory" (default), "pgvector", "qdrant"
	StoreTimeout time.Duration `mapstructure:"store_timeout"`

	// PostgreSQL settings (store = "pgvector"); see storage.go
	PostgresHost     string `mapstructure:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password"` // SENSITIVE
	PostgresDBName   string `mapstructure:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode"`

	// Qdrant settings (store = "qdrant")
	QdrantURL        string `mapstructure:"qdrant_url"`
	QdrantAPIKey     string `mapstructure:"qdrant_api_key"` // SENSITIVE
	QdrantCollection string `mapstructure:"qdrant_collection"`
}

// Load reads configuration from the optional file path, the environment and
// defaults, then validates it.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("RAG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
	} else {
		v.SetConfigName("rag")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("reading config: %w", err)
			}
			// No file is fine: env + defaults carry the configuration.
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a configuration with defaults applied and no file or
// environment input. Primarily used by tests and embedded callers.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	cfg := &Config{}
	// Unmarshal of pure defaults cannot fail.
	_ = v.Unmarshal(cfg)
	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("provider", ProviderOpenAI)
	v.SetDefault("embedder_model", "")
	// Secrets default empty but must be registered: AutomaticEnv only
	// surfaces RAG_* variables for keys viper already knows about.
	v.SetDefault("openai_api_key", "")
	v.SetDefault("gemini_api_key", "")
	v.SetDefault("ollama_host", "http://localhost:11434")
	v.SetDefault("embed_timeout", 30*time.Second)
	v.SetDefault("embed_batch_size", 16)
	v.SetDefault("embed_concurrency", 1)
	v.SetDefault("embed_rate_limit", 0.0)
	v.SetDefault("embed_max_retries", 3)

	v.SetDefault("chunk_size", 1000)
	v.SetDefault("chunk_overlap", 200)

	v.SetDefault("store", StoreMemory)
	v.SetDefault("store_timeout", 10*time.Second)

	v.SetDefault("postgres_host", "localhost")
	v.SetDefault("postgres_port", 5432)
	v.SetDefault("postgres_user", "postgres")
	v.SetDefault("postgres_password", "")
	v.SetDefault("postgres_db_name", "rag")
	v.SetDefault("postgres_ssl_mode", "disable")

	v.SetDefault("qdrant_url", "http://localhost:6333")
	v.SetDefault("qdrant_api_key", "")
	v.SetDefault("qdrant_collection", "rag_chunks")
}

// Validate checks the configuration for consistency. It validates only what
// the selected provider and store actually need: an unused backend's
// settings may stay empty.
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}

	switch c.Provider {
	case ProviderOpenAI:
		if c.OpenAIAPIKey == "" {
			return fmt.Errorf("%w: openai_api_key (RAG_OPENAI_API_KEY) is required for provider %q", ErrMissingAPIKey, c.Provider)
		}
	case ProviderGemini:
		if c.GeminiAPIKey == "" {
			return fmt.Errorf("%w: gemini_api_key (RAG_GEMINI_API_KEY) is required for provider %q", ErrMissingAPIKey, c.Provider)
		}
	case ProviderOllama:
		if c.OllamaHost == "" {
			return fmt.Errorf("%w: ollama_host is required for provider %q", ErrUnknownProvider, c.Provider)
		}
	default:
		return fmt.Errorf("%w: %q (expected openai, gemini or ollama)", ErrUnknownProvider, c.Provider)
	}

	if c.EmbedBatchSize <= 0 {
		return fmt.Errorf("%w: embed_batch_size must be positive, got %d", ErrInvalidBatching, c.EmbedBatchSize)
	}
	if c.EmbedConcurrency <= 0 {
		return fmt.Errorf("%w: embed_concurrency must be positive, got %d", ErrInvalidBatching, c.EmbedConcurrency)
	}
	if c.EmbedMaxRetries < 0 {
		return fmt.Errorf("%w: embed_max_retries must not be negative, got %d", ErrInvalidBatching, c.EmbedMaxRetries)
	}

	if c.ChunkSize <= 0 {
		return fmt.Errorf("%w: chunk_size must be positive, got %d", ErrInvalidChunking, c.ChunkSize)
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("%w: chunk_overlap %d must be in [0, chunk_size)", ErrInvalidChunking, c.ChunkOverlap)
	}

	switch c.Store {
	case StoreMemory:
		// No external settings.
	case StorePgvector:
		if c.PostgresHost == "" || c.PostgresDBName == "" || c.PostgresUser == "" {
			return fmt.Errorf("%w: host, user and db name are required", ErrInvalidPostgres)
		}
		if c.PostgresPort <= 0 || c.PostgresPort > 65535 {
			return fmt.Errorf("%w: port %d out of range", ErrInvalidPostgres, c.PostgresPort)
		}
	case StoreQdrant:
		if c.QdrantURL == "" || c.QdrantCollection == "" {
			return fmt.Errorf("%w: url and collection are required", ErrInvalidQdrant)
		}
	default:
		return fmt.Errorf("%w: %q (expected memory, pgvector or qdrant)", ErrUnknownStore, c.Store)
	}

	return nil
}
