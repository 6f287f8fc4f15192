// Package testutil provides shared testing utilities: a deterministic
// embedding provider, a pgvector container helper and a discard logger.
package testutil

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"sync/atomic"

	"github.com/hyperfit/ragengine/internal/embedding"
)

// HashEmbedder is a deterministic bag-of-words embedding provider for tests.
// Each word hashes into a bucket of a fixed-dimension vector, which is then
// L2-normalized, so identical texts embed identically (cosine 1.0) and texts
// sharing words score higher than unrelated ones. No network, no randomness.
type HashEmbedder struct {
	Dim int

	// FailWith, when set, makes every call return this error.
	FailWith error

	calls atomic.Int64
}

// NewHashEmbedder returns a hash embedder with the given dimension.
func NewHashEmbedder(dim int) *HashEmbedder {
	return &HashEmbedder{Dim: dim}
}

func (e *HashEmbedder) Name() string   { return "hash" }
func (e *HashEmbedder) Dimension() int { return e.Dim }

// EmbedText embeds one text deterministically.
func (e *HashEmbedder) EmbedText(_ context.Context, text string) ([]float32, error) {
	e.calls.Add(1)
	if e.FailWith != nil {
		return nil, e.FailWith
	}
	return e.embed(text), nil
}

// EmbedBatch embeds texts in order.
func (e *HashEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	e.calls.Add(1)
	if e.FailWith != nil {
		return nil, e.FailWith
	}
	vecs := make([][]float32, len(texts))
	for i, text := range texts {
		vecs[i] = e.embed(text)
	}
	return vecs, nil
}

// Stats reports call counts; latency and tokens stay zero.
func (e *HashEmbedder) Stats() embedding.Stats {
	return embedding.Stats{Calls: e.calls.Load()}
}

// Calls reports how many embed calls were made.
func (e *HashEmbedder) Calls() int64 { return e.calls.Load() }

func (e *HashEmbedder) embed(text string) []float32 {
	vec := make([]float32, e.Dim)
	for _, word := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(word))
		vec[int(h.Sum32())%e.Dim]++
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= scale
	}
	return vec
}
