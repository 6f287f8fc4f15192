// Package catalog tracks uploaded documents in process-local state.
//
// The catalog is the registry the hosting layer lists and deletes through;
// the vector store holds the chunks themselves. Removal cascades: chunks are
// deleted from the store first, and the catalog entry survives a failed
// store delete so the inconsistency stays visible and retryable.
package catalog

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Document statuses recorded by the indexer.
const (
	StatusIndexed = "indexed"
	StatusEmpty   = "empty"
	StatusError   = "error"
)

// Document is one registered upload.
type Document struct {
	ID         string
	Filename   string
	OwnerID    int
	UploadedAt time.Time
	Metadata   map[string]string
	ChunkCount int
	Status     string
	Error      string
}

// ChunkDeleter is the slice of the vector store the catalog needs for
// cascading removal.
type ChunkDeleter interface {
	Delete(ctx context.Context, ids []string) error
}

// lockStripes bounds the lock table. Ids hashing to the same stripe
// over-serialize, never under-serialize.
const lockStripes = 64

// Catalog is a process-local document registry. Operations on different ids
// run independently; operations on the same id are serialized through a
// striped lock so a register/remove race cannot leave a dangling entry.
type Catalog struct {
	mu     sync.RWMutex
	docs   map[string]Document
	locks  [lockStripes]sync.Mutex
	store  ChunkDeleter
	logger *slog.Logger
}

// New creates a catalog cascading deletes into the given store.
func New(store ChunkDeleter, logger *slog.Logger) *Catalog {
	if logger == nil {
		logger = slog.Default()
	}
	return &Catalog{
		docs:   make(map[string]Document),
		store:  store,
		logger: logger,
	}
}

// idLock returns the stripe mutex serializing operations on one document id.
// The same id always maps to the same stripe.
func (c *Catalog) idLock(id string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return &c.locks[h.Sum32()%lockStripes]
}

// Register stores or replaces a document record. Re-uploading the same
// content produces the same id, so replacement is the idempotent path.
func (c *Catalog) Register(doc Document) {
	lock := c.idLock(doc.ID)
	lock.Lock()
	defer lock.Unlock()

	c.mu.Lock()
	c.docs[doc.ID] = doc
	c.mu.Unlock()

	c.logger.Debug("registered document", "id", doc.ID, "filename", doc.Filename, "status", doc.Status)
}

// Get returns the document and whether it exists. An unknown id is not an
// error.
func (c *Catalog) Get(id string) (Document, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	doc, ok := c.docs[id]
	return doc, ok
}

// List returns registered documents, newest first. A non-nil ownerID
// restricts the list to that owner.
func (c *Catalog) List(ownerID *int) []Document {
	c.mu.RLock()
	docs := make([]Document, 0, len(c.docs))
	for _, doc := range c.docs {
		if ownerID != nil && doc.OwnerID != *ownerID {
			continue
		}
		docs = append(docs, doc)
	}
	c.mu.RUnlock()

	sort.Slice(docs, func(i, j int) bool {
		if !docs[i].UploadedAt.Equal(docs[j].UploadedAt) {
			return docs[i].UploadedAt.After(docs[j].UploadedAt)
		}
		return docs[i].ID < docs[j].ID
	})
	return docs
}

// Remove deletes a document and its chunks. It reports false for an unknown
// id. The store delete runs first: if it fails, the catalog entry stays so a
// later Remove can retry instead of orphaning vectors silently.
func (c *Catalog) Remove(ctx context.Context, id string) (bool, error) {
	lock := c.idLock(id)
	lock.Lock()
	defer lock.Unlock()

	c.mu.RLock()
	doc, ok := c.docs[id]
	c.mu.RUnlock()
	if !ok {
		return false, nil
	}

	if doc.ChunkCount > 0 {
		ids := ChunkIDs(id, doc.ChunkCount)
		if err := c.store.Delete(ctx, ids); err != nil {
			c.logger.Warn("chunk deletion failed, keeping catalog entry", "id", id, "error", err)
			return false, fmt.Errorf("deleting chunks of %q: %w", id, err)
		}
	}

	c.mu.Lock()
	delete(c.docs, id)
	c.mu.Unlock()

	c.logger.Debug("removed document", "id", id, "chunks", doc.ChunkCount)
	return true, nil
}

// ChunkIDs builds the full chunk-id set of a document.
func ChunkIDs(docID string, count int) []string {
	ids := make([]string, count)
	for i := range ids {
		ids[i] = fmt.Sprintf("%s_chunk_%d", docID, i)
	}
	return ids
}
