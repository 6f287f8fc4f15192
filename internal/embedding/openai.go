package embedding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/hyperfit/ragengine/internal/config"
)

// openaiDimensions maps supported OpenAI models to their fixed output
// dimension. An unknown model is a construction-time error.
var openaiDimensions = map[string]int{
	"text-embedding-3-small": 1536,
	"text-embedding-3-large": 3072,
	"text-embedding-ada-002": 1536,
}

// DefaultOpenAIModel is used when no embedder model is configured.
const DefaultOpenAIModel = "text-embedding-3-small"

// OpenAIProvider embeds text via the OpenAI embeddings API.
// The API accepts multiple inputs per request, so each sub-batch is a
// single round-trip.
type OpenAIProvider struct {
	stats

	client    *openai.Client
	model     string
	dimension int
	opts      Options
	limiter   *rate.Limiter
	logger    *slog.Logger
}

// NewOpenAI creates an OpenAI embedding provider.
func NewOpenAI(apiKey, model string, opts Options, logger *slog.Logger) (*OpenAIProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: OpenAI API key is required", config.ErrMissingAPIKey)
	}
	if model == "" {
		model = DefaultOpenAIModel
	}
	dim, ok := openaiDimensions[model]
	if !ok {
		return nil, fmt.Errorf("%w: %q is not a supported OpenAI embedding model", config.ErrUnknownModel, model)
	}
	if logger == nil {
		logger = slog.Default()
	}

	opts = opts.withDefaults()
	return &OpenAIProvider{
		client:    openai.NewClient(apiKey),
		model:     model,
		dimension: dim,
		opts:      opts,
		limiter:   opts.limiter(),
		logger:    logger,
	}, nil
}

func (p *OpenAIProvider) Name() string   { return "openai" }
func (p *OpenAIProvider) Dimension() int { return p.dimension }

// EmbedText embeds a single text.
func (p *OpenAIProvider) EmbedText(ctx context.Context, text string) ([]float32, error) {
	vecs, err := p.embedGroup(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds texts in order, one API call per sub-batch.
func (p *OpenAIProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return embedBatches(ctx, texts, p.opts.BatchSize, p.opts.Concurrency, p.embedGroup)
}

// embedGroup performs one embeddings request for up to BatchSize texts,
// retrying retryable failures with exponential backoff.
func (p *OpenAIProvider) embedGroup(ctx context.Context, batch []string) ([][]float32, error) {
	var vecs [][]float32
	op := func() error {
		if p.limiter != nil {
			if err := p.limiter.Wait(ctx); err != nil {
				return backoff.Permanent(err)
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, p.opts.Timeout)
		defer cancel()

		start := time.Now()
		resp, err := p.client.CreateEmbeddings(callCtx, openai.EmbeddingRequestStrings{
			Input: batch,
			Model: openai.EmbeddingModel(p.model),
		})
		perr := p.wrapErr(err)
		p.record(time.Since(start), int64(resp.Usage.TotalTokens), perr)
		if perr != nil {
			if pe := new(ProviderError); errors.As(perr, &pe) && pe.Retryable() {
				return perr
			}
			return backoff.Permanent(perr)
		}

		if len(resp.Data) != len(batch) {
			e := &ProviderError{Provider: p.Name(), Body: fmt.Sprintf("expected %d embeddings, got %d", len(batch), len(resp.Data))}
			return backoff.Permanent(e)
		}
		vecs = make([][]float32, len(resp.Data))
		for i, d := range resp.Data {
			if len(d.Embedding) != p.dimension {
				e := &ProviderError{Provider: p.Name(), Body: fmt.Sprintf("model returned dimension %d, declared %d", len(d.Embedding), p.dimension)}
				return backoff.Permanent(e)
			}
			vecs[i] = d.Embedding
		}
		return nil
	}

	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(p.opts.MaxRetries)), ctx)
	if err := backoff.Retry(op, bo); err != nil {
		p.logger.Warn("openai embedding failed", "batch", len(batch), "error", err)
		return nil, err
	}
	return vecs, nil
}

// wrapErr converts go-openai errors into *ProviderError.
func (p *OpenAIProvider) wrapErr(err error) error {
	if err == nil {
		return nil
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &ProviderError{Provider: p.Name(), StatusCode: apiErr.HTTPStatusCode, Body: apiErr.Message, Err: err}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &ProviderError{Provider: p.Name(), StatusCode: reqErr.HTTPStatusCode, Body: reqErr.Error(), Err: err}
	}
	return &ProviderError{Provider: p.Name(), Err: err}
}
