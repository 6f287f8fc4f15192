package rag

import (
	"context"
	"log/slog"
	"strconv"
	"strings"

	"github.com/hyperfit/ragengine/internal/vectorstore"
)

// Context assembly parameters. A token is approximated as four characters,
// which is deliberately coarse: the consumer treats the budget as a ceiling,
// not a target.
const (
	contextTopK         = 10
	contextMinScore     = 0.5
	approxCharsPerToken = 4
	passageSeparator    = "\n\n"
)

// RetrieverStore is the slice of the vector store the retriever needs.
type RetrieverStore interface {
	Search(ctx context.Context, query string, topK int, filter *vectorstore.Filter) ([]vectorstore.SearchResult, error)
}

// Retriever answers queries from the store. Retrieval never fails upward:
// any store or provider error degrades to "no context", because the
// consuming layer has a defined fallback for an empty result.
type Retriever struct {
	store  RetrieverStore
	logger *slog.Logger
}

// NewRetriever creates a retriever.
func NewRetriever(store RetrieverStore, logger *slog.Logger) *Retriever {
	if logger == nil {
		logger = slog.Default()
	}
	return &Retriever{store: store, logger: logger}
}

// Search returns ranked results scoring at least minScore, restricted to
// ownerID when non-nil. Failures are logged and return an empty list.
func (r *Retriever) Search(ctx context.Context, query string, topK int, minScore float64, ownerID *int) []vectorstore.SearchResult {
	filter := &vectorstore.Filter{MinScore: minScore}
	if ownerID != nil {
		filter.Metadata = map[string][]string{
			vectorstore.MetaOwnerID: {strconv.Itoa(*ownerID)},
		}
	}

	results, err := r.store.Search(ctx, query, topK, filter)
	if err != nil {
		r.logger.Warn("search degraded to empty result", "error", err)
		return nil
	}
	return results
}

// Context assembles a context string for the query: the best passages in
// ranked order, each prefixed with its source file, packed greedily into a
// budget of maxTokens * 4 characters. Only whole passages are emitted;
// packing stops at the first passage that would overflow. An empty string
// means nothing relevant fits.
func (r *Retriever) Context(ctx context.Context, query string, maxTokens int, ownerID *int) string {
	results := r.Search(ctx, query, contextTopK, contextMinScore, ownerID)
	if len(results) == 0 {
		return ""
	}

	budget := maxTokens * approxCharsPerToken
	var b strings.Builder
	for _, result := range results {
		entry := "[source: " + result.Chunk.Metadata[vectorstore.MetaFileName] + "] " + result.Chunk.Text
		cost := len(entry)
		if b.Len() > 0 {
			cost += len(passageSeparator)
		}
		if b.Len()+cost > budget {
			break
		}
		if b.Len() > 0 {
			b.WriteString(passageSeparator)
		}
		b.WriteString(entry)
	}
	return b.String()
}
