package vectorstore

import (
	"context"
	"log/slog"
	"math"
	"sync"

	"github.com/hyperfit/ragengine/internal/embedding"
)

// Metric selects how the memory store scores a pair of vectors.
type Metric int

const (
	// MetricCosine scores by cosine similarity clamped to [0,1].
	MetricCosine Metric = iota

	// MetricL2 scores by 1/(1+distance) over Euclidean distance.
	MetricL2
)

// Memory is the brute-force in-memory store. Every search is a linear scan,
// which makes it the ground truth for filter and scoring behavior; raw
// performance is not its contract.
type Memory struct {
	mu       sync.RWMutex
	chunks   map[string]Chunk
	provider embedding.Provider
	metric   Metric
	logger   *slog.Logger
}

// NewMemory creates an in-memory store scoring by cosine similarity.
func NewMemory(provider embedding.Provider, logger *slog.Logger) *Memory {
	return newMemory(provider, MetricCosine, logger)
}

// NewMemoryWithMetric creates an in-memory store with an explicit metric.
func NewMemoryWithMetric(provider embedding.Provider, metric Metric, logger *slog.Logger) *Memory {
	return newMemory(provider, metric, logger)
}

func newMemory(provider embedding.Provider, metric Metric, logger *slog.Logger) *Memory {
	if logger == nil {
		logger = slog.Default()
	}
	return &Memory{
		chunks:   make(map[string]Chunk),
		provider: provider,
		metric:   metric,
		logger:   logger,
	}
}

// AddDocuments embeds chunks without a vector and stores all of them,
// overwriting existing ids.
func (m *Memory) AddDocuments(ctx context.Context, chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	if err := embedMissing(ctx, m.provider, chunks); err != nil {
		return &StoreError{Backend: "memory", Op: "add", Err: err}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range chunks {
		m.chunks[c.ID] = c
	}
	m.logger.Debug("stored chunks", "count", len(chunks), "total", len(m.chunks))
	return nil
}

// Search embeds the query and scans every stored chunk.
func (m *Memory) Search(ctx context.Context, query string, topK int, filter *Filter) ([]SearchResult, error) {
	vec, err := m.provider.EmbedText(ctx, query)
	if err != nil {
		return nil, &StoreError{Backend: "memory", Op: "search", Err: err}
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	results := make([]SearchResult, 0, len(m.chunks))
	for _, c := range m.chunks {
		if !filter.matches(c.Metadata) {
			continue
		}
		score := m.score(vec, c.Embedding)
		if filter != nil && score < filter.MinScore {
			continue
		}
		results = append(results, SearchResult{Chunk: c, Score: score})
	}
	return rankResults(results, topK), nil
}

func (m *Memory) score(query, stored []float32) float64 {
	switch m.metric {
	case MetricL2:
		return l2Score(l2Distance(query, stored))
	default:
		return clampScore(cosine(query, stored))
	}
}

// Delete removes ids; unknown ids are no-ops.
func (m *Memory) Delete(_ context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		delete(m.chunks, id)
	}
	return nil
}

// Clear drops every chunk.
func (m *Memory) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chunks = make(map[string]Chunk)
	return nil
}

// Close is a no-op; the memory store holds no external resources.
func (*Memory) Close() error { return nil }

// Len reports the number of stored chunks. Tests use it to assert
// idempotence.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.chunks)
}

func cosine(a, b []float32) float64 {
	n := min(len(a), len(b))
	var dot, normA, normB float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func l2Distance(a, b []float32) float64 {
	n := min(len(a), len(b))
	var sum float64
	for i := 0; i < n; i++ {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}
