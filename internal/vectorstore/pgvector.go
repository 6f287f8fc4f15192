package vectorstore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/hyperfit/ragengine/internal/config"
	"github.com/hyperfit/ragengine/internal/database"
	"github.com/hyperfit/ragengine/internal/embedding"
)

// Pgvector stores chunks in PostgreSQL with the pgvector extension.
// Cosine distance via the <=> operator; similarity = 1 - distance, clamped
// to [0,1]. The schema is owned by the embedded migrations in this package.
type Pgvector struct {
	pool     *pgxpool.Pool
	provider embedding.Provider
	timeout  time.Duration
	logger   *slog.Logger
}

// NewPgvector runs pending migrations, opens a connection pool with the
// pgvector type codecs registered and verifies connectivity.
func NewPgvector(ctx context.Context, cfg *config.Config, provider embedding.Provider, logger *slog.Logger) (*Pgvector, error) {
	if cfg == nil {
		return nil, config.ErrConfigNil
	}
	if logger == nil {
		logger = slog.Default()
	}

	if err := Migrate(cfg.PostgresURL(), logger); err != nil {
		return nil, &StoreError{Backend: "pgvector", Op: "migrate", Err: err}
	}

	pool, err := database.NewPool(ctx, cfg.PostgresConnectionString())
	if err != nil {
		return nil, &StoreError{Backend: "pgvector", Op: "connect", Err: err}
	}

	timeout := cfg.StoreTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	logger.Debug("pgvector store ready", "host", cfg.PostgresHost, "db", cfg.PostgresDBName)
	return &Pgvector{
		pool:     pool,
		provider: provider,
		timeout:  timeout,
		logger:   logger,
	}, nil
}

// AddDocuments embeds chunks without a vector and upserts all of them in one
// batch. Re-adding an id overwrites the stored row.
func (s *Pgvector) AddDocuments(ctx context.Context, chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	if err := embedMissing(ctx, s.provider, chunks); err != nil {
		return &StoreError{Backend: "pgvector", Op: "add", Err: err}
	}

	opCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	batch := &pgx.Batch{}
	for _, c := range chunks {
		metadataJSON, err := json.Marshal(c.Metadata)
		if err != nil {
			return &StoreError{Backend: "pgvector", Op: "add", Err: fmt.Errorf("marshaling metadata for %q: %w", c.ID, err)}
		}
		batch.Queue(`
			INSERT INTO rag_chunks (id, text, embedding, metadata)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (id) DO UPDATE
			SET text = EXCLUDED.text,
			    embedding = EXCLUDED.embedding,
			    metadata = EXCLUDED.metadata`,
			c.ID, c.Text, pgvector.NewVector(c.Embedding), metadataJSON)
	}

	results := s.pool.SendBatch(opCtx, batch)
	defer func() {
		_ = results.Close()
	}()
	for range chunks {
		if _, err := results.Exec(); err != nil {
			return &StoreError{Backend: "pgvector", Op: "add", Err: err}
		}
	}

	s.logger.Debug("stored chunks", "count", len(chunks))
	return nil
}

// Search embeds the query and runs a cosine nearest-neighbor scan.
// Single-value metadata conditions are pushed down as JSONB containment;
// multi-value conditions and the score floor are applied after the query, so
// the scan over-fetches when such conditions exist.
func (s *Pgvector) Search(ctx context.Context, query string, topK int, filter *Filter) ([]SearchResult, error) {
	vec, err := s.provider.EmbedText(ctx, query)
	if err != nil {
		return nil, &StoreError{Backend: "pgvector", Op: "search", Err: err}
	}

	opCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	pushdown, postFilter := splitFilter(filter)
	limit := topK
	if postFilter {
		// Rows rejected after the query must not starve the result set.
		limit = topK * 4
	}

	sql := `
		SELECT id, text, metadata, 1 - (embedding <=> $1) AS similarity
		FROM rag_chunks`
	args := []any{pgvector.NewVector(vec)}
	if len(pushdown) > 0 {
		containJSON, marshalErr := json.Marshal(pushdown)
		if marshalErr != nil {
			return nil, &StoreError{Backend: "pgvector", Op: "search", Err: marshalErr}
		}
		sql += ` WHERE metadata @> $2`
		args = append(args, containJSON)
	}
	sql += fmt.Sprintf(` ORDER BY embedding <=> $1 LIMIT %d`, limit)

	rows, err := s.pool.Query(opCtx, sql, args...)
	if err != nil {
		return nil, &StoreError{Backend: "pgvector", Op: "search", Err: err}
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var (
			c            Chunk
			metadataJSON []byte
			similarity   float64
		)
		if err := rows.Scan(&c.ID, &c.Text, &metadataJSON, &similarity); err != nil {
			return nil, &StoreError{Backend: "pgvector", Op: "search", Err: err}
		}
		if err := json.Unmarshal(metadataJSON, &c.Metadata); err != nil {
			s.logger.Warn("unreadable chunk metadata", "id", c.ID, "error", err)
			c.Metadata = map[string]string{}
		}
		score := clampScore(similarity)
		if !filter.matches(c.Metadata) {
			continue
		}
		if filter != nil && score < filter.MinScore {
			continue
		}
		results = append(results, SearchResult{Chunk: c, Score: score})
	}
	if err := rows.Err(); err != nil {
		return nil, &StoreError{Backend: "pgvector", Op: "search", Err: err}
	}

	return rankResults(results, topK), nil
}

// splitFilter separates single-value metadata conditions (expressible as
// JSONB containment) from the rest. The second return reports whether any
// condition still needs post-filtering.
func splitFilter(filter *Filter) (map[string]string, bool) {
	if filter == nil {
		return nil, false
	}
	pushdown := make(map[string]string)
	post := filter.MinScore > 0
	for key, allowed := range filter.Metadata {
		if len(allowed) == 1 {
			pushdown[key] = allowed[0]
		} else {
			post = true
		}
	}
	return pushdown, post
}

// Delete removes chunks by id. Unknown ids delete zero rows.
func (s *Pgvector) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	opCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if _, err := s.pool.Exec(opCtx, `DELETE FROM rag_chunks WHERE id = ANY($1)`, ids); err != nil {
		return &StoreError{Backend: "pgvector", Op: "delete", Err: err}
	}
	return nil
}

// Clear truncates the chunk table.
func (s *Pgvector) Clear(ctx context.Context) error {
	opCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if _, err := s.pool.Exec(opCtx, `TRUNCATE rag_chunks`); err != nil {
		return &StoreError{Backend: "pgvector", Op: "clear", Err: err}
	}
	return nil
}

// Close releases the connection pool.
func (s *Pgvector) Close() error {
	s.pool.Close()
	return nil
}
