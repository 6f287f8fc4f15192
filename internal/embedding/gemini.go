package embedding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"github.com/hyperfit/ragengine/internal/config"
)

// geminiDimensions maps supported Gemini models to the dimension this engine
// requests. gemini-embedding-001 natively outputs 3072 but supports
// truncation via OutputDimensionality (Matryoshka representation), so both
// models are pinned to 768 to share one vector schema.
var geminiDimensions = map[string]int{
	"gemini-embedding-001": 768,
	"text-embedding-004":   768,
}

// DefaultGeminiModel is used when no embedder model is configured.
const DefaultGeminiModel = "gemini-embedding-001"

// GeminiProvider embeds text via the Gemini API. EmbedContent accepts
// multiple contents per request, so each sub-batch is a single round-trip.
type GeminiProvider struct {
	stats

	client    *genai.Client
	model     string
	dimension int
	opts      Options
	limiter   *rate.Limiter
	logger    *slog.Logger
}

// NewGemini creates a Gemini embedding provider.
func NewGemini(ctx context.Context, apiKey, model string, opts Options, logger *slog.Logger) (*GeminiProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: Gemini API key is required", config.ErrMissingAPIKey)
	}
	if model == "" {
		model = DefaultGeminiModel
	}
	dim, ok := geminiDimensions[model]
	if !ok {
		return nil, fmt.Errorf("%w: %q is not a supported Gemini embedding model", config.ErrUnknownModel, model)
	}
	if logger == nil {
		logger = slog.Default()
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating Gemini client: %w", err)
	}

	opts = opts.withDefaults()
	return &GeminiProvider{
		client:    client,
		model:     model,
		dimension: dim,
		opts:      opts,
		limiter:   opts.limiter(),
		logger:    logger,
	}, nil
}

func (p *GeminiProvider) Name() string   { return "gemini" }
func (p *GeminiProvider) Dimension() int { return p.dimension }

// EmbedText embeds a single text.
func (p *GeminiProvider) EmbedText(ctx context.Context, text string) ([]float32, error) {
	vecs, err := p.embedGroup(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds texts in order, one API call per sub-batch.
func (p *GeminiProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return embedBatches(ctx, texts, p.opts.BatchSize, p.opts.Concurrency, p.embedGroup)
}

func (p *GeminiProvider) embedGroup(ctx context.Context, batch []string) ([][]float32, error) {
	dim := int32(p.dimension) // #nosec G115 -- dimensions come from a small static table

	contents := make([]*genai.Content, len(batch))
	for i, text := range batch {
		contents[i] = genai.NewContentFromText(text, genai.RoleUser)
	}

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
		resp, err := p.client.Models.EmbedContent(callCtx, p.model, contents, &genai.EmbedContentConfig{
			OutputDimensionality: &dim,
		})
		perr := p.wrapErr(err)
		p.record(time.Since(start), 0, perr)
		if perr != nil {
			if pe := new(ProviderError); errors.As(perr, &pe) && pe.Retryable() {
				return perr
			}
			return backoff.Permanent(perr)
		}

		if len(resp.Embeddings) != len(batch) {
			e := &ProviderError{Provider: p.Name(), Body: fmt.Sprintf("expected %d embeddings, got %d", len(batch), len(resp.Embeddings))}
			return backoff.Permanent(e)
		}
		vecs = make([][]float32, len(resp.Embeddings))
		for i, emb := range resp.Embeddings {
			if emb == nil {
				return backoff.Permanent(&ProviderError{Provider: p.Name(), Body: "model returned a nil embedding"})
			}
			if len(emb.Values) != p.dimension {
				e := &ProviderError{Provider: p.Name(), Body: fmt.Sprintf("model returned dimension %d, declared %d", len(emb.Values), p.dimension)}
				return backoff.Permanent(e)
			}
			vecs[i] = emb.Values
		}
		return nil
	}

	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(p.opts.MaxRetries)), ctx)
	if err := backoff.Retry(op, bo); err != nil {
		p.logger.Warn("gemini embedding failed", "batch", len(batch), "error", err)
		return nil, err
	}
	return vecs, nil
}

// wrapErr converts genai errors into *ProviderError.
func (p *GeminiProvider) wrapErr(err error) error {
	if err == nil {
		return nil
	}

	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return &ProviderError{Provider: p.Name(), StatusCode: apiErr.Code, Body: apiErr.Message, Err: err}
	}
	return &ProviderError{Provider: p.Name(), Err: err}
}
