package embedding

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestProviderErrorRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  *ProviderError
		want bool
	}{
		{"rate limited", &ProviderError{Provider: "openai", StatusCode: 429}, true},
		{"server error", &ProviderError{Provider: "openai", StatusCode: 503}, true},
		{"bad request", &ProviderError{Provider: "openai", StatusCode: 400}, false},
		{"unauthorized", &ProviderError{Provider: "openai", StatusCode: 401}, false},
		{"transport failure", &ProviderError{Provider: "ollama", Err: errors.New("connection refused")}, true},
		{"malformed response", &ProviderError{Provider: "gemini", Body: "dimension mismatch"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Retryable(); got != tt.want {
				t.Errorf("Retryable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestProviderErrorUnwrap(t *testing.T) {
	inner := errors.New("boom")
	var err error = &ProviderError{Provider: "openai", Err: inner}

	if !errors.Is(err, inner) {
		t.Error("errors.Is should reach the wrapped error")
	}

	var pe *ProviderError
	if !errors.As(err, &pe) {
		t.Fatal("errors.As should match *ProviderError")
	}
	if pe.Provider != "openai" {
		t.Errorf("Provider = %q, want %q", pe.Provider, "openai")
	}
}

func TestEmbedBatchesPreservesOrder(t *testing.T) {
	texts := make([]string, 53)
	for i := range texts {
		texts[i] = fmt.Sprintf("text-%d", i)
	}

	var mu sync.Mutex
	var batchSizes []int

	embed := func(_ context.Context, batch []string) ([][]float32, error) {
		mu.Lock()
		batchSizes = append(batchSizes, len(batch))
		mu.Unlock()

		vecs := make([][]float32, len(batch))
		for i, text := range batch {
			var n int
			_, _ = fmt.Sscanf(text, "text-%d", &n)
			vecs[i] = []float32{float32(n)}
		}
		return vecs, nil
	}

	out, err := embedBatches(context.Background(), texts, 10, 4, embed)
	if err != nil {
		t.Fatalf("embedBatches: %v", err)
	}
	if len(out) != len(texts) {
		t.Fatalf("got %d vectors, want %d", len(out), len(texts))
	}
	for i, vec := range out {
		if vec[0] != float32(i) {
			t.Errorf("out[%d] = %v, want [%d]", i, vec, i)
		}
	}

	for _, size := range batchSizes {
		if size > 10 {
			t.Errorf("sub-batch of %d texts exceeds batch size 10", size)
		}
	}
	if len(batchSizes) != 6 {
		t.Errorf("got %d sub-batches for 53 texts at batch size 10, want 6", len(batchSizes))
	}
}

func TestEmbedBatchesEmptyInput(t *testing.T) {
	called := false
	embed := func(context.Context, []string) ([][]float32, error) {
		called = true
		return nil, nil
	}

	out, err := embedBatches(context.Background(), nil, 10, 1, embed)
	if err != nil {
		t.Fatalf("embedBatches: %v", err)
	}
	if out != nil {
		t.Errorf("got %v, want nil", out)
	}
	if called {
		t.Error("embed should not be called for empty input")
	}
}

func TestEmbedBatchesFailsFast(t *testing.T) {
	texts := make([]string, 40)
	for i := range texts {
		texts[i] = fmt.Sprintf("text-%d", i)
	}

	wantErr := &ProviderError{Provider: "fake", StatusCode: 400, Body: "bad input"}
	embed := func(ctx context.Context, batch []string) ([][]float32, error) {
		if batch[0] == "text-10" {
			return nil, wantErr
		}
		// Later sub-batches must observe the cancellation.
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
		vecs := make([][]float32, len(batch))
		for i := range vecs {
			vecs[i] = []float32{0}
		}
		return vecs, nil
	}

	_, err := embedBatches(context.Background(), texts, 10, 2, embed)
	if err == nil {
		t.Fatal("expected an error")
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		if pe.StatusCode != 400 {
			t.Errorf("StatusCode = %d, want 400", pe.StatusCode)
		}
	} else if !errors.Is(err, context.Canceled) {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestEmbedBatchesLengthMismatch(t *testing.T) {
	embed := func(_ context.Context, batch []string) ([][]float32, error) {
		return make([][]float32, len(batch)-1), nil
	}

	_, err := embedBatches(context.Background(), []string{"a", "b"}, 10, 1, embed)
	if err == nil {
		t.Fatal("expected an error for a short result")
	}
}

func TestStatsRecord(t *testing.T) {
	var s stats
	s.record(100*time.Millisecond, 10, nil)
	s.record(300*time.Millisecond, 20, errors.New("boom"))

	got := s.Stats()
	if got.Calls != 2 {
		t.Errorf("Calls = %d, want 2", got.Calls)
	}
	if got.Failures != 1 {
		t.Errorf("Failures = %d, want 1", got.Failures)
	}
	if got.TotalTokens != 30 {
		t.Errorf("TotalTokens = %d, want 30", got.TotalTokens)
	}
	if got.AvgLatency() != 200*time.Millisecond {
		t.Errorf("AvgLatency = %v, want 200ms", got.AvgLatency())
	}
}

func TestStatsAvgLatencyNoCalls(t *testing.T) {
	if got := (Stats{}).AvgLatency(); got != 0 {
		t.Errorf("AvgLatency = %v, want 0", got)
	}
}

func TestOptionsWithDefaults(t *testing.T) {
	opts := Options{}.withDefaults()
	if opts.BatchSize != 16 {
		t.Errorf("BatchSize = %d, want 16", opts.BatchSize)
	}
	if opts.Concurrency != 1 {
		t.Errorf("Concurrency = %d, want 1", opts.Concurrency)
	}
	if opts.Timeout != 30*time.Second {
		t.Errorf("Timeout = %v, want 30s", opts.Timeout)
	}

	opts = Options{BatchSize: 4, Concurrency: 2, Timeout: time.Second}.withDefaults()
	if opts.BatchSize != 4 || opts.Concurrency != 2 || opts.Timeout != time.Second {
		t.Errorf("explicit options overridden: %+v", opts)
	}
}

func TestOptionsLimiter(t *testing.T) {
	if l := (Options{}).limiter(); l != nil {
		t.Error("zero rate limit should yield a nil limiter")
	}
	if l := (Options{RateLimit: 0.5}).limiter(); l == nil || l.Burst() != 1 {
		t.Error("sub-1 rate limit should yield burst 1")
	}
	if l := (Options{RateLimit: 10}).limiter(); l == nil || l.Burst() != 10 {
		t.Error("rate limit 10 should yield burst 10")
	}
}
