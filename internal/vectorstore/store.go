// Package vectorstore persists embedded text chunks and serves
// nearest-neighbor search over them.
//
// A Store owns the embedding step: AddDocuments computes missing vectors
// through the bound provider and Search embeds the query, so callers deal in
// text. Scores are normalized to [0,1] regardless of the backend's native
// metric. The memory adapter is the reference backend and ground truth for
// filter and scoring behavior; pgvector and qdrant are the durable options.
package vectorstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"github.com/hyperfit/ragengine/internal/embedding"
)

// Well-known metadata keys set by the indexer. Caller-supplied tags are
// flattened alongside them and must not collide.
const (
	MetaDocID       = "doc_id"
	MetaFileName    = "file_name"
	MetaChunkIndex  = "chunk_index"
	MetaTotalChunks = "total_chunks"
	MetaOwnerID     = "owner_id"
	MetaUploadedAt  = "uploaded_at"
)

// Chunk is one embeddable passage. Embedding may be nil on input;
// AddDocuments fills it through the bound provider.
type Chunk struct {
	ID        string
	Text      string
	Embedding []float32
	Metadata  map[string]string
}

// SearchResult is one ranked hit. Rank is 1-based and assigned after
// filtering, so ranks are always contiguous.
type SearchResult struct {
	Chunk Chunk
	Score float64
	Rank  int
}

// Filter narrows a search. MinScore drops results scoring below it.
// Metadata requires, for each key, that the chunk's value is one of the
// listed values; separate keys are ANDed. A nil Filter matches everything.
type Filter struct {
	MinScore float64
	Metadata map[string][]string
}

func (f *Filter) matches(meta map[string]string) bool {
	if f == nil {
		return true
	}
	for key, allowed := range f.Metadata {
		got, ok := meta[key]
		if !ok {
			return false
		}
		found := false
		for _, want := range allowed {
			if got == want {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Store persists chunks and answers similarity queries.
//
// Implementations are safe for concurrent use. Managed backends may be
// eventually consistent: a write is not guaranteed visible to the very next
// search.
type Store interface {
	// AddDocuments embeds chunks that arrive without a vector and persists
	// all of them. Re-adding an id overwrites, never duplicates.
	AddDocuments(ctx context.Context, chunks []Chunk) error

	// Search embeds the query and returns up to topK results ordered by
	// non-increasing score in [0,1]. topK <= 0 yields no results.
	Search(ctx context.Context, query string, topK int, filter *Filter) ([]SearchResult, error)

	// Delete removes chunks by id. Unknown ids are skipped silently.
	Delete(ctx context.Context, ids []string) error

	// Clear drops every stored chunk.
	Clear(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}

// StoreError reports a failed backend call.
type StoreError struct {
	Backend string
	Op      string
	Err     error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s store: %s failed: %v", e.Backend, e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// EncodeMetadata flattens a caller-supplied metadata map to the scalar
// string form stored with each chunk. Numbers and bools are formatted,
// anything structured is JSON-encoded. This is the only place arbitrary
// values cross into the store.
func EncodeMetadata(meta map[string]any) (map[string]string, error) {
	if len(meta) == 0 {
		return map[string]string{}, nil
	}
	out := make(map[string]string, len(meta))
	for key, val := range meta {
		switch v := val.(type) {
		case string:
			out[key] = v
		case bool:
			out[key] = strconv.FormatBool(v)
		case int:
			out[key] = strconv.Itoa(v)
		case int64:
			out[key] = strconv.FormatInt(v, 10)
		case float64:
			out[key] = strconv.FormatFloat(v, 'f', -1, 64)
		case nil:
			out[key] = ""
		default:
			encoded, err := json.Marshal(v)
			if err != nil {
				return nil, fmt.Errorf("metadata key %q is not encodable: %w", key, err)
			}
			out[key] = string(encoded)
		}
	}
	return out, nil
}

// clampScore maps a cosine similarity into [0,1]. Similarities below zero
// carry no ranking value for retrieval and collapse to zero.
func clampScore(sim float64) float64 {
	if sim < 0 {
		return 0
	}
	if sim > 1 {
		return 1
	}
	return sim
}

// l2Score maps an L2 distance into (0,1], 1 at distance zero.
func l2Score(distance float64) float64 {
	return 1 / (1 + distance)
}

// embedMissing fills nil embeddings in place through the provider, batching
// the texts that need one. Chunks arriving with a vector keep it.
func embedMissing(ctx context.Context, provider embedding.Provider, chunks []Chunk) error {
	var texts []string
	var idx []int
	for i, c := range chunks {
		if c.Embedding == nil {
			texts = append(texts, c.Text)
			idx = append(idx, i)
		}
	}
	if len(texts) == 0 {
		return nil
	}

	vecs, err := provider.EmbedBatch(ctx, texts)
	if err != nil {
		return err
	}
	for j, i := range idx {
		chunks[i].Embedding = vecs[j]
	}
	return nil
}

// rankResults sorts hits by descending score (id as tiebreaker for
// determinism), truncates to topK and assigns 1-based ranks. A
// non-positive topK yields no results, matching the Store contract.
func rankResults(results []SearchResult, topK int) []SearchResult {
	if topK <= 0 {
		return nil
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Chunk.ID < results[j].Chunk.ID
	})
	if len(results) > topK {
		results = results[:topK]
	}
	for i := range results {
		results[i].Rank = i + 1
	}
	return results
}
