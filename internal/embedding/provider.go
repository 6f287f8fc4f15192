// Package embedding turns text into fixed-dimension vectors via pluggable
// providers.
//
// Every adapter declares a fixed dimension per model at construction time and
// surfaces call failures as a typed *ProviderError, never as a silent zero
// vector. Batch embedding groups texts into bounded sub-batches, optionally
// fans out under a concurrency limit, preserves input order and fails fast
// on the first error.
package embedding

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// Provider generates embeddings for text.
//
// Implementations are safe for concurrent use by multiple goroutines.
type Provider interface {
	// Name identifies the adapter ("openai", "gemini", "ollama").
	Name() string

	// Dimension returns the fixed vector dimension for the bound model.
	Dimension() int

	// EmbedText embeds a single text.
	EmbedText(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch embeds texts in order. The returned slice is index-aligned
	// with the input. The first sub-call error aborts the whole batch.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Stats returns cumulative call statistics.
	Stats() Stats
}

// ProviderError reports a failed embedding call with enough detail for the
// caller to decide whether a retry is worthwhile.
type ProviderError struct {
	Provider   string
	StatusCode int
	Body       string
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s embedding failed: status %d: %s", e.Provider, e.StatusCode, e.Body)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s embedding failed: %v", e.Provider, e.Err)
	}
	return fmt.Sprintf("%s embedding failed: %s", e.Provider, e.Body)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Retryable reports whether a later retry can reasonably succeed:
// rate limits, server errors, timeouts and transport failures.
func (e *ProviderError) Retryable() bool {
	if e.StatusCode == 429 || e.StatusCode >= 500 {
		return true
	}
	if e.StatusCode > 0 {
		return false
	}
	// No status means a transport failure or timeout.
	return e.Err != nil
}

// Stats holds cumulative provider statistics.
type Stats struct {
	Calls        int64
	Failures     int64
	TotalLatency time.Duration
	TotalTokens  int64
}

// AvgLatency returns the mean latency across all calls, zero when no call
// has been made.
func (s Stats) AvgLatency() time.Duration {
	if s.Calls == 0 {
		return 0
	}
	return s.TotalLatency / time.Duration(s.Calls)
}

// stats is the mutex-guarded accumulator embedded in each adapter.
type stats struct {
	mu sync.Mutex
	s  Stats
}

func (t *stats) record(latency time.Duration, tokens int64, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.s.Calls++
	t.s.TotalLatency += latency
	t.s.TotalTokens += tokens
	if err != nil {
		t.s.Failures++
	}
}

func (t *stats) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.s
}

// Options bound every provider round-trip.
type Options struct {
	// BatchSize is the number of texts per sub-batch. A sub-batch is also
	// the cancellation boundary: an aborted EmbedBatch never leaves a
	// sub-batch half-processed.
	BatchSize int

	// Concurrency limits in-flight sub-batches. 1 (the default) keeps
	// calls sequential to respect provider rate limits.
	Concurrency int

	// Timeout bounds each network round-trip.
	Timeout time.Duration

	// MaxRetries is the number of retries for retryable failures.
	MaxRetries int

	// RateLimit is requests per second across all calls, 0 = unlimited.
	RateLimit float64
}

func (o Options) withDefaults() Options {
	if o.BatchSize <= 0 {
		o.BatchSize = 16
	}
	if o.Concurrency <= 0 {
		o.Concurrency = 1
	}
	if o.Timeout <= 0 {
		o.Timeout = 30 * time.Second
	}
	return o
}

func (o Options) limiter() *rate.Limiter {
	if o.RateLimit <= 0 {
		return nil
	}
	burst := int(o.RateLimit)
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(o.RateLimit), burst)
}

// embedBatches splits texts into sub-batches of at most batchSize, invokes
// embed for each under the concurrency limit and reassembles the results in
// input order. The first error cancels the remaining sub-batches.
func embedBatches(ctx context.Context, texts []string, batchSize, concurrency int,
	embed func(ctx context.Context, batch []string) ([][]float32, error)) ([][]float32, error) {

	if len(texts) == 0 {
		return nil, nil
	}

	out := make([][]float32, len(texts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for start := 0; start < len(texts); start += batchSize {
		end := min(start+batchSize, len(texts))
		g.Go(func() error {
			vecs, err := embed(gctx, texts[start:end])
			if err != nil {
				return err
			}
			if len(vecs) != end-start {
				return fmt.Errorf("embedding batch returned %d vectors for %d texts", len(vecs), end-start)
			}
			copy(out[start:end], vecs)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
