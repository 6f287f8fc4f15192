// Package rag orchestrates document ingestion and retrieval over the
// chunker, the embedding provider and the vector store.
package rag

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/hyperfit/ragengine/internal/catalog"
	"github.com/hyperfit/ragengine/internal/chunker"
	"github.com/hyperfit/ragengine/internal/vectorstore"
)

// IndexerStore is the slice of the vector store the indexer needs.
// Interfaces are defined by the consumer, so tests can hand in a mock.
type IndexerStore interface {
	AddDocuments(ctx context.Context, chunks []vectorstore.Chunk) error
}

// UploadResult reports one upload attempt. Status is "indexed", "empty" or
// "error"; Error carries the underlying message when Status is "error".
type UploadResult struct {
	DocumentID string
	ChunkCount int
	Status     string
	Error      string
}

// Indexer splits documents into chunks and persists them. Uploads are
// idempotent: the document id derives from filename and content, so
// re-uploading identical input overwrites rather than duplicates.
type Indexer struct {
	chunker *chunker.Chunker
	store   IndexerStore
	catalog *catalog.Catalog
	logger  *slog.Logger
	now     func() time.Time
}

// NewIndexer creates an indexer.
func NewIndexer(ch *chunker.Chunker, store IndexerStore, cat *catalog.Catalog, logger *slog.Logger) *Indexer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Indexer{
		chunker: ch,
		store:   store,
		catalog: cat,
		logger:  logger,
		now:     time.Now,
	}
}

// DocumentID derives the content-addressed id of an upload. The filename
// participates so the same content under two names stays two documents.
func DocumentID(filename, content string) string {
	sum := sha256.Sum256([]byte(filename + "\n" + content))
	return "doc_" + hex.EncodeToString(sum[:16])
}

// Upload chunks, embeds and stores one document, then registers it in the
// catalog. Every attempt is registered, including failed ones, so the
// hosting layer can list and retry them; retry is a re-upload with the same
// content hash.
func (ix *Indexer) Upload(ctx context.Context, filename, content string, meta map[string]any, ownerID int) UploadResult {
	docID := DocumentID(filename, content)
	uploadedAt := ix.now().UTC()

	baseDoc := catalog.Document{
		ID:         docID,
		Filename:   filename,
		OwnerID:    ownerID,
		UploadedAt: uploadedAt,
	}

	tags, err := vectorstore.EncodeMetadata(meta)
	if err != nil {
		return ix.fail(baseDoc, fmt.Errorf("encoding metadata: %w", err))
	}
	baseDoc.Metadata = tags

	passages := ix.chunker.Split(content)
	if len(passages) == 0 {
		baseDoc.Status = catalog.StatusEmpty
		ix.catalog.Register(baseDoc)
		ix.logger.Debug("upload produced no chunks", "id", docID, "filename", filename)
		return UploadResult{DocumentID: docID, Status: catalog.StatusEmpty}
	}

	chunks := make([]vectorstore.Chunk, len(passages))
	for i, passage := range passages {
		metadata := make(map[string]string, len(tags)+6)
		for key, val := range tags {
			metadata[key] = val
		}
		metadata[vectorstore.MetaDocID] = docID
		metadata[vectorstore.MetaFileName] = filename
		metadata[vectorstore.MetaChunkIndex] = strconv.Itoa(i)
		metadata[vectorstore.MetaTotalChunks] = strconv.Itoa(len(passages))
		metadata[vectorstore.MetaOwnerID] = strconv.Itoa(ownerID)
		metadata[vectorstore.MetaUploadedAt] = uploadedAt.Format(time.RFC3339)

		chunks[i] = vectorstore.Chunk{
			ID:       fmt.Sprintf("%s_chunk_%d", docID, i),
			Text:     passage,
			Metadata: metadata,
		}
	}

	if err := ix.store.AddDocuments(ctx, chunks); err != nil {
		return ix.fail(baseDoc, err)
	}

	baseDoc.Status = catalog.StatusIndexed
	baseDoc.ChunkCount = len(chunks)
	ix.catalog.Register(baseDoc)

	ix.logger.Info("indexed document", "id", docID, "filename", filename, "chunks", len(chunks))
	return UploadResult{DocumentID: docID, ChunkCount: len(chunks), Status: catalog.StatusIndexed}
}

// fail registers the failed attempt and reports it. The catalog entry keeps
// the attempt visible; a successful re-upload replaces it.
func (ix *Indexer) fail(doc catalog.Document, err error) UploadResult {
	doc.Status = catalog.StatusError
	doc.Error = err.Error()
	// A prior successful upload of this id may have left chunks in the
	// store. Carry its count forward so a later Remove still cascades over
	// the stored chunk-id set instead of orphaning it.
	if prev, ok := ix.catalog.Get(doc.ID); ok && prev.ChunkCount > doc.ChunkCount {
		doc.ChunkCount = prev.ChunkCount
	}
	ix.catalog.Register(doc)

	ix.logger.Warn("upload failed", "id", doc.ID, "filename", doc.Filename, "error", err)
	return UploadResult{DocumentID: doc.ID, Status: catalog.StatusError, Error: err.Error()}
}
