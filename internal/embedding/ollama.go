package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"

	"github.com/hyperfit/ragengine/internal/config"
)

// ollamaDimensions maps supported local models to their fixed output
// dimension.
var ollamaDimensions = map[string]int{
	"nomic-embed-text":  768,
	"mxbai-embed-large": 1024,
	"all-minilm":        384,
}

// DefaultOllamaModel is used when no embedder model is configured.
const DefaultOllamaModel = "nomic-embed-text"

// OllamaProvider embeds text via a local Ollama server's /api/embeddings
// endpoint. Ollama has no batch endpoint, so every text is one round-trip
// and sub-batches only bound the cancellation granularity.
type OllamaProvider struct {
	stats

	host    string
	model   string
	dim     int
	opts    Options
	limiter *rate.Limiter
	client  *http.Client
	logger  *slog.Logger
}

// NewOllama creates an Ollama embedding provider.
func NewOllama(host, model string, opts Options, logger *slog.Logger) (*OllamaProvider, error) {
	if host == "" {
		return nil, fmt.Errorf("%w: ollama host is required", config.ErrUnknownProvider)
	}
	if model == "" {
		model = DefaultOllamaModel
	}
	dim, ok := ollamaDimensions[model]
	if !ok {
		return nil, fmt.Errorf("%w: %q is not a supported Ollama embedding model", config.ErrUnknownModel, model)
	}
	if logger == nil {
		logger = slog.Default()
	}

	opts = opts.withDefaults()
	return &OllamaProvider{
		host:    strings.TrimRight(host, "/"),
		model:   model,
		dim:     dim,
		opts:    opts,
		limiter: opts.limiter(),
		client:  &http.Client{Timeout: opts.Timeout},
		logger:  logger,
	}, nil
}

func (p *OllamaProvider) Name() string   { return "ollama" }
func (p *OllamaProvider) Dimension() int { return p.dim }

// EmbedText embeds a single text.
func (p *OllamaProvider) EmbedText(ctx context.Context, text string) ([]float32, error) {
	vec, err := p.embedOne(ctx, text)
	if err != nil {
		return nil, err
	}
	return vec, nil
}

// EmbedBatch embeds texts in order. Each text is one HTTP call; sub-batches
// run sequentially within a group so a cancellation never splits one.
func (p *OllamaProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return embedBatches(ctx, texts, p.opts.BatchSize, p.opts.Concurrency,
		func(ctx context.Context, batch []string) ([][]float32, error) {
			vecs := make([][]float32, len(batch))
			for i, text := range batch {
				vec, err := p.embedOne(ctx, text)
				if err != nil {
					return nil, err
				}
				vecs[i] = vec
			}
			return vecs, nil
		})
}

func (p *OllamaProvider) embedOne(ctx context.Context, text string) ([]float32, error) {
	var vec []float32
	op := func() error {
		if p.limiter != nil {
			if err := p.limiter.Wait(ctx); err != nil {
				return backoff.Permanent(err)
			}
		}

		start := time.Now()
		v, err := p.call(ctx, text)
		p.record(time.Since(start), 0, err)
		if err != nil {
			if pe := new(ProviderError); errors.As(err, &pe) && pe.Retryable() {
				return err
			}
			return backoff.Permanent(err)
		}
		vec = v
		return nil
	}

	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(p.opts.MaxRetries)), ctx)
	if err := backoff.Retry(op, bo); err != nil {
		p.logger.Warn("ollama embedding failed", "error", err)
		return nil, err
	}
	return vec, nil
}

func (p *OllamaProvider) call(ctx context.Context, text string) ([]float32, error) {
	payload, err := json.Marshal(map[string]string{
		"model":  p.model,
		"prompt": text,
	})
	if err != nil {
		return nil, &ProviderError{Provider: p.Name(), Err: err}
	}

	callCtx, cancel := context.WithTimeout(ctx, p.opts.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, p.host+"/api/embeddings", bytes.NewReader(payload))
	if err != nil {
		return nil, &ProviderError{Provider: p.Name(), Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, &ProviderError{Provider: p.Name(), Err: err}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &ProviderError{Provider: p.Name(), Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &ProviderError{Provider: p.Name(), StatusCode: resp.StatusCode, Body: string(body)}
	}

	var out struct {
		Embedding []float32 `json:"embedding"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, &ProviderError{Provider: p.Name(), Err: fmt.Errorf("decoding response: %w", err)}
	}
	if len(out.Embedding) != p.dim {
		return nil, &ProviderError{Provider: p.Name(), Body: fmt.Sprintf("model returned dimension %d, declared %d", len(out.Embedding), p.dim)}
	}
	return out.Embedding, nil
}
