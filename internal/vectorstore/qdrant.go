package vectorstore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hyperfit/ragengine/internal/config"
	"github.com/hyperfit/ragengine/internal/embedding"
)

// Qdrant stores chunks in a Qdrant collection over its REST API. The
// collection is created on construction with cosine distance, so Qdrant's
// native score is already the [0,1] similarity this package promises for
// non-negative embeddings; it is clamped regardless.
//
// Qdrant point ids must be UUIDs or integers, so chunk ids are mapped to
// deterministic hash-derived UUIDs and the real id travels in the payload.
type Qdrant struct {
	baseURL    string
	apiKey     string
	collection string
	dimension  int
	provider   embedding.Provider
	client     *http.Client
	logger     *slog.Logger
}

// NewQdrant creates the collection if it is missing and returns the adapter.
func NewQdrant(ctx context.Context, cfg *config.Config, provider embedding.Provider, logger *slog.Logger) (*Qdrant, error) {
	if cfg == nil {
		return nil, config.ErrConfigNil
	}
	if logger == nil {
		logger = slog.Default()
	}

	timeout := cfg.StoreTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	s := &Qdrant{
		baseURL:    strings.TrimRight(cfg.QdrantURL, "/"),
		apiKey:     cfg.QdrantAPIKey,
		collection: cfg.QdrantCollection,
		dimension:  provider.Dimension(),
		provider:   provider,
		client:     &http.Client{Timeout: timeout},
		logger:     logger,
	}
	if err := s.ensureCollection(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// ensureCollection creates the collection; Qdrant answers 200 when it
// already exists with the same schema.
func (s *Qdrant) ensureCollection(ctx context.Context) error {
	body := map[string]any{
		"vectors": map[string]any{
			"size":     s.dimension,
			"distance": "Cosine",
		},
	}
	if err := s.do(ctx, http.MethodPut, "/collections/"+s.collection, body, nil); err != nil {
		return &StoreError{Backend: "qdrant", Op: "init", Err: err}
	}
	return nil
}

// AddDocuments embeds chunks without a vector and upserts them as points.
func (s *Qdrant) AddDocuments(ctx context.Context, chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	if err := embedMissing(ctx, s.provider, chunks); err != nil {
		return &StoreError{Backend: "qdrant", Op: "add", Err: err}
	}

	points := make([]map[string]any, len(chunks))
	for i, c := range chunks {
		payload := map[string]any{
			"id":   c.ID,
			"text": c.Text,
		}
		for key, val := range c.Metadata {
			payload["meta_"+key] = val
		}
		points[i] = map[string]any{
			"id":      pointID(c.ID),
			"vector":  c.Embedding,
			"payload": payload,
		}
	}

	body := map[string]any{"points": points}
	if err := s.do(ctx, http.MethodPut, "/collections/"+s.collection+"/points?wait=true", body, nil); err != nil {
		return &StoreError{Backend: "qdrant", Op: "add", Err: err}
	}
	s.logger.Debug("stored chunks", "count", len(chunks))
	return nil
}

// Search embeds the query and pushes both the score floor and the metadata
// conditions down to Qdrant.
func (s *Qdrant) Search(ctx context.Context, query string, topK int, filter *Filter) ([]SearchResult, error) {
	vec, err := s.provider.EmbedText(ctx, query)
	if err != nil {
		return nil, &StoreError{Backend: "qdrant", Op: "search", Err: err}
	}

	req := map[string]any{
		"vector":       vec,
		"limit":        topK,
		"with_payload": true,
	}
	if filter != nil {
		if filter.MinScore > 0 {
			req["score_threshold"] = filter.MinScore
		}
		if len(filter.Metadata) > 0 {
			must := make([]map[string]any, 0, len(filter.Metadata))
			for key, allowed := range filter.Metadata {
				must = append(must, map[string]any{
					"key":   "meta_" + key,
					"match": map[string]any{"any": allowed},
				})
			}
			req["filter"] = map[string]any{"must": must}
		}
	}

	var resp struct {
		Result []struct {
			Score   float64        `json:"score"`
			Payload map[string]any `json:"payload"`
		} `json:"result"`
	}
	if err := s.do(ctx, http.MethodPost, "/collections/"+s.collection+"/points/search", req, &resp); err != nil {
		return nil, &StoreError{Backend: "qdrant", Op: "search", Err: err}
	}

	results := make([]SearchResult, 0, len(resp.Result))
	for _, hit := range resp.Result {
		c := Chunk{Metadata: map[string]string{}}
		for key, val := range hit.Payload {
			str, ok := val.(string)
			if !ok {
				continue
			}
			switch {
			case key == "id":
				c.ID = str
			case key == "text":
				c.Text = str
			case strings.HasPrefix(key, "meta_"):
				c.Metadata[strings.TrimPrefix(key, "meta_")] = str
			}
		}
		results = append(results, SearchResult{Chunk: c, Score: clampScore(hit.Score)})
	}
	return rankResults(results, topK), nil
}

// Delete removes points by chunk id. Unknown ids are no-ops.
func (s *Qdrant) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	points := make([]string, len(ids))
	for i, id := range ids {
		points[i] = pointID(id)
	}
	body := map[string]any{"points": points}
	if err := s.do(ctx, http.MethodPost, "/collections/"+s.collection+"/points/delete?wait=true", body, nil); err != nil {
		return &StoreError{Backend: "qdrant", Op: "delete", Err: err}
	}
	return nil
}

// Clear drops and recreates the collection.
func (s *Qdrant) Clear(ctx context.Context) error {
	if err := s.do(ctx, http.MethodDelete, "/collections/"+s.collection, nil, nil); err != nil {
		return &StoreError{Backend: "qdrant", Op: "clear", Err: err}
	}
	return s.ensureCollection(ctx)
}

// Close is a no-op; connections are managed by the HTTP client.
func (*Qdrant) Close() error { return nil }

func (s *Qdrant) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("api-key", s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s %s: %s: %s", method, path, resp.Status, strings.TrimSpace(string(detail)))
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}
	return nil
}

// pointID derives a deterministic UUID-shaped id from a chunk id.
func pointID(id string) string {
	sum := sha256.Sum256([]byte(id))
	hex := fmt.Sprintf("%x", sum[:16])
	return fmt.Sprintf("%s-%s-%s-%s-%s", hex[0:8], hex[8:12], hex[12:16], hex[16:20], hex[20:32])
}
