package vectorstore

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hyperfit/ragengine/internal/config"
	"github.com/hyperfit/ragengine/internal/embedding"
)

// New builds the vector store selected by cfg.Store. The vector dimension
// flows from the bound provider, so switching providers on a populated
// durable backend is a schema change, not a config flip.
func New(ctx context.Context, cfg *config.Config, provider embedding.Provider, logger *slog.Logger) (Store, error) {
	if cfg == nil {
		return nil, config.ErrConfigNil
	}

	switch cfg.Store {
	case config.StoreMemory:
		return NewMemory(provider, logger), nil
	case config.StorePgvector:
		return NewPgvector(ctx, cfg, provider, logger)
	case config.StoreQdrant:
		return NewQdrant(ctx, cfg, provider, logger)
	default:
		return nil, fmt.Errorf("%w: %q", config.ErrUnknownStore, cfg.Store)
	}
}
