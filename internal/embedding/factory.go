package embedding

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hyperfit/ragengine/internal/config"
)

// NewProvider builds the embedding provider selected by cfg.Provider.
// Unknown providers and models fail here, before any document is touched.
func NewProvider(ctx context.Context, cfg *config.Config, logger *slog.Logger) (Provider, error) {
	if cfg == nil {
		return nil, config.ErrConfigNil
	}

	opts := Options{
		BatchSize:   cfg.EmbedBatchSize,
		Concurrency: cfg.EmbedConcurrency,
		Timeout:     cfg.EmbedTimeout,
		MaxRetries:  cfg.EmbedMaxRetries,
		RateLimit:   cfg.EmbedRateLimit,
	}

	switch cfg.Provider {
	case config.ProviderOpenAI:
		return NewOpenAI(cfg.OpenAIAPIKey, cfg.EmbedderModel, opts, logger)
	case config.ProviderGemini:
		return NewGemini(ctx, cfg.GeminiAPIKey, cfg.EmbedderModel, opts, logger)
	case config.ProviderOllama:
		return NewOllama(cfg.OllamaHost, cfg.EmbedderModel, opts, logger)
	default:
		return nil, fmt.Errorf("%w: %q", config.ErrUnknownProvider, cfg.Provider)
	}
}
