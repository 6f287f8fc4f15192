// Package ragengine indexes documents into a vector store and retrieves
// relevant context for queries. It is an in-process library: the hosting
// layer constructs a Service from configuration, uploads documents and asks
// for search results or a packed context string.
package ragengine

import (
	"context"
	"fmt"

	"github.com/hyperfit/ragengine/internal/catalog"
	"github.com/hyperfit/ragengine/internal/chunker"
	"github.com/hyperfit/ragengine/internal/config"
	"github.com/hyperfit/ragengine/internal/embedding"
	"github.com/hyperfit/ragengine/internal/log"
	"github.com/hyperfit/ragengine/internal/rag"
	"github.com/hyperfit/ragengine/internal/vectorstore"
)

// Defaults applied when a search option is not given.
const (
	DefaultTopK      = 5
	DefaultMinScore  = 0.7
	DefaultMaxTokens = 2000
)

// Re-exported result types so callers stay off the internal packages.
type (
	// UploadResult reports one upload attempt.
	UploadResult = rag.UploadResult

	// SearchResult is one ranked hit with its score in [0,1].
	SearchResult = vectorstore.SearchResult

	// Document is one catalog entry.
	Document = catalog.Document

	// ProviderStats holds cumulative embedding call statistics.
	ProviderStats = embedding.Stats
)

// Service is the engine facade. Construct it with New, release it with
// Close. Safe for concurrent use.
type Service struct {
	cfg       *config.Config
	provider  embedding.Provider
	store     vectorstore.Store
	catalog   *catalog.Catalog
	indexer   *rag.Indexer
	retriever *rag.Retriever
	logger    log.Logger
}

// Option adjusts Service construction.
type Option func(*buildOptions)

type buildOptions struct {
	provider embedding.Provider
	store    vectorstore.Store
}

// WithProvider substitutes the embedding provider built from configuration.
// Tests use it to bind a deterministic provider.
func WithProvider(p embedding.Provider) Option {
	return func(o *buildOptions) { o.provider = p }
}

// WithStore substitutes the vector store built from configuration.
func WithStore(s vectorstore.Store) Option {
	return func(o *buildOptions) { o.store = s }
}

// New validates the configuration and wires provider, store, catalog,
// indexer and retriever. A configuration problem fails here: the engine
// never starts partially configured.
func New(ctx context.Context, cfg *config.Config, logger log.Logger, opts ...Option) (*Service, error) {
	if cfg == nil {
		return nil, config.ErrConfigNil
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.New(log.Config{})
	}

	var build buildOptions
	for _, opt := range opts {
		opt(&build)
	}

	provider := build.provider
	if provider == nil {
		p, err := embedding.NewProvider(ctx, cfg, logger)
		if err != nil {
			return nil, fmt.Errorf("building embedding provider: %w", err)
		}
		provider = p
	}

	store := build.store
	if store == nil {
		s, err := vectorstore.New(ctx, cfg, provider, logger)
		if err != nil {
			return nil, fmt.Errorf("building vector store: %w", err)
		}
		store = s
	}

	ch, err := chunker.New(cfg.ChunkSize, cfg.ChunkOverlap)
	if err != nil {
		return nil, fmt.Errorf("building chunker: %w", err)
	}

	cat := catalog.New(store, logger)

	logger.Info("rag engine ready",
		"provider", provider.Name(),
		"dimension", provider.Dimension(),
		"store", cfg.Store,
		"chunk_size", cfg.ChunkSize,
		"chunk_overlap", cfg.ChunkOverlap)

	return &Service{
		cfg:       cfg,
		provider:  provider,
		store:     store,
		catalog:   cat,
		indexer:   rag.NewIndexer(ch, store, cat, logger),
		retriever: rag.NewRetriever(store, logger),
		logger:    logger,
	}, nil
}

// Close releases the vector store's resources.
func (s *Service) Close() error {
	return s.store.Close()
}

// SearchOption adjusts Search and GetContext.
type SearchOption func(*searchOptions)

type searchOptions struct {
	topK      int
	minScore  float64
	maxTokens int
	ownerID   *int
}

// WithTopK caps the number of results.
func WithTopK(k int) SearchOption {
	return func(o *searchOptions) { o.topK = k }
}

// WithMinScore drops results scoring below the floor.
func WithMinScore(score float64) SearchOption {
	return func(o *searchOptions) { o.minScore = score }
}

// WithMaxTokens bounds the context string (GetContext only).
func WithMaxTokens(tokens int) SearchOption {
	return func(o *searchOptions) { o.maxTokens = tokens }
}

// WithOwner restricts results to one owner's documents.
func WithOwner(ownerID int) SearchOption {
	return func(o *searchOptions) { o.ownerID = &ownerID }
}

func buildSearchOptions(opts []SearchOption) searchOptions {
	cfg := searchOptions{
		topK:      DefaultTopK,
		minScore:  DefaultMinScore,
		maxTokens: DefaultMaxTokens,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.topK <= 0 {
		cfg.topK = DefaultTopK
	}
	if cfg.maxTokens <= 0 {
		cfg.maxTokens = DefaultMaxTokens
	}
	return cfg
}

// Upload indexes one document. The returned status is "indexed", "empty" or
// "error"; failed attempts are registered and retryable by re-upload.
func (s *Service) Upload(ctx context.Context, filename, content string, metadata map[string]any, ownerID int) UploadResult {
	return s.indexer.Upload(ctx, filename, content, metadata, ownerID)
}

// Search returns ranked results for the query. Store failures degrade to an
// empty list; Search never returns an error.
func (s *Service) Search(ctx context.Context, query string, opts ...SearchOption) []SearchResult {
	cfg := buildSearchOptions(opts)
	return s.retriever.Search(ctx, query, cfg.topK, cfg.minScore, cfg.ownerID)
}

// GetContext assembles a bounded context string of whole passages for the
// query, empty when nothing relevant fits.
func (s *Service) GetContext(ctx context.Context, query string, opts ...SearchOption) string {
	cfg := buildSearchOptions(opts)
	return s.retriever.Context(ctx, query, cfg.maxTokens, cfg.ownerID)
}

// ListDocuments returns catalog entries, newest first, optionally scoped to
// one owner.
func (s *Service) ListDocuments(opts ...SearchOption) []Document {
	cfg := buildSearchOptions(opts)
	return s.catalog.List(cfg.ownerID)
}

// DeleteDocument removes a document and its chunks. False means the id was
// unknown; an error means the chunks could not be deleted and the entry was
// kept for retry.
func (s *Service) DeleteDocument(ctx context.Context, id string) (bool, error) {
	return s.catalog.Remove(ctx, id)
}

// ProviderStats reports cumulative embedding call statistics.
func (s *Service) ProviderStats() ProviderStats {
	return s.provider.Stats()
}
