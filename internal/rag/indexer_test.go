package rag

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/hyperfit/ragengine/internal/catalog"
	"github.com/hyperfit/ragengine/internal/chunker"
	"github.com/hyperfit/ragengine/internal/testutil"
	"github.com/hyperfit/ragengine/internal/vectorstore"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type indexerFixture struct {
	indexer *Indexer
	store   *vectorstore.Memory
	catalog *catalog.Catalog
}

func newIndexerFixture(t *testing.T) *indexerFixture {
	t.Helper()

	embedder := testutil.NewHashEmbedder(64)
	store := vectorstore.NewMemory(embedder, testutil.DiscardLogger())
	cat := catalog.New(store, testutil.DiscardLogger())
	ch, err := chunker.New(200, 40)
	if err != nil {
		t.Fatalf("chunker.New: %v", err)
	}
	return &indexerFixture{
		indexer: NewIndexer(ch, store, cat, testutil.DiscardLogger()),
		store:   store,
		catalog: cat,
	}
}

const sampleDoc = `PostgreSQL stores vectors with the pgvector extension.

Cosine distance drives nearest neighbor search over embedded chunks.

Retrieval quality depends on chunking and on the embedding model.`

func TestUploadIndexesDocument(t *testing.T) {
	f := newIndexerFixture(t)

	result := f.indexer.Upload(context.Background(), "guide.md", sampleDoc, map[string]any{"lang": "en"}, 7)
	if result.Status != catalog.StatusIndexed {
		t.Fatalf("Status = %q (%s), want indexed", result.Status, result.Error)
	}
	if result.ChunkCount == 0 {
		t.Fatal("ChunkCount = 0")
	}
	if !strings.HasPrefix(result.DocumentID, "doc_") || len(result.DocumentID) != len("doc_")+32 {
		t.Errorf("DocumentID = %q, want doc_ + 32 hex chars", result.DocumentID)
	}

	doc, ok := f.catalog.Get(result.DocumentID)
	if !ok {
		t.Fatal("document not registered in catalog")
	}
	if doc.ChunkCount != result.ChunkCount || doc.Filename != "guide.md" || doc.OwnerID != 7 {
		t.Errorf("catalog entry = %+v", doc)
	}

	// Chunks are searchable and carry full metadata.
	hits, err := f.store.Search(context.Background(), "pgvector extension stores vectors", 1, nil)
	if err != nil || len(hits) == 0 {
		t.Fatalf("Search: %v (%d hits)", err, len(hits))
	}
	meta := hits[0].Chunk.Metadata
	if meta[vectorstore.MetaDocID] != result.DocumentID {
		t.Errorf("doc_id = %q", meta[vectorstore.MetaDocID])
	}
	if meta[vectorstore.MetaFileName] != "guide.md" {
		t.Errorf("file_name = %q", meta[vectorstore.MetaFileName])
	}
	if meta[vectorstore.MetaOwnerID] != "7" {
		t.Errorf("owner_id = %q", meta[vectorstore.MetaOwnerID])
	}
	if meta[vectorstore.MetaTotalChunks] != strconv.Itoa(result.ChunkCount) {
		t.Errorf("total_chunks = %q", meta[vectorstore.MetaTotalChunks])
	}
	if meta["lang"] != "en" {
		t.Errorf("caller tag lang = %q", meta["lang"])
	}
	if _, err := time.Parse(time.RFC3339, meta[vectorstore.MetaUploadedAt]); err != nil {
		t.Errorf("uploaded_at %q is not RFC3339: %v", meta[vectorstore.MetaUploadedAt], err)
	}
	if idx := meta[vectorstore.MetaChunkIndex]; idx == "" {
		t.Error("chunk_index missing")
	}
}

func TestUploadIdempotent(t *testing.T) {
	f := newIndexerFixture(t)

	first := f.indexer.Upload(context.Background(), "guide.md", sampleDoc, nil, 1)
	size := f.store.Len()
	second := f.indexer.Upload(context.Background(), "guide.md", sampleDoc, nil, 1)

	if first.DocumentID != second.DocumentID {
		t.Errorf("ids differ: %q vs %q", first.DocumentID, second.DocumentID)
	}
	if f.store.Len() != size {
		t.Errorf("store grew from %d to %d on re-upload", size, f.store.Len())
	}
	if len(f.catalog.List(nil)) != 1 {
		t.Errorf("catalog has %d entries, want 1", len(f.catalog.List(nil)))
	}
}

func TestUploadEmptyContent(t *testing.T) {
	f := newIndexerFixture(t)

	result := f.indexer.Upload(context.Background(), "empty.txt", "   \n\t  ", nil, 1)
	if result.Status != catalog.StatusEmpty {
		t.Fatalf("Status = %q, want empty", result.Status)
	}
	if result.ChunkCount != 0 {
		t.Errorf("ChunkCount = %d, want 0", result.ChunkCount)
	}
	if f.store.Len() != 0 {
		t.Errorf("store has %d chunks, want 0", f.store.Len())
	}
	// Empty uploads stay visible in the catalog.
	if doc, ok := f.catalog.Get(result.DocumentID); !ok || doc.Status != catalog.StatusEmpty {
		t.Errorf("catalog entry = %+v, %v", doc, ok)
	}
}

// failingStore rejects every write.
type failingStore struct{ err error }

func (s *failingStore) AddDocuments(context.Context, []vectorstore.Chunk) error { return s.err }

func TestUploadStoreFailure(t *testing.T) {
	embedder := testutil.NewHashEmbedder(64)
	memStore := vectorstore.NewMemory(embedder, testutil.DiscardLogger())
	cat := catalog.New(memStore, testutil.DiscardLogger())
	ch, err := chunker.New(200, 40)
	if err != nil {
		t.Fatalf("chunker.New: %v", err)
	}

	broken := &failingStore{err: &vectorstore.StoreError{Backend: "memory", Op: "add", Err: errors.New("backend down")}}
	ix := NewIndexer(ch, broken, cat, testutil.DiscardLogger())

	result := ix.Upload(context.Background(), "guide.md", sampleDoc, nil, 1)
	if result.Status != catalog.StatusError {
		t.Fatalf("Status = %q, want error", result.Status)
	}
	if result.Error == "" {
		t.Error("Error message missing")
	}

	// The failed attempt is registered for visibility and retry.
	doc, ok := cat.Get(result.DocumentID)
	if !ok || doc.Status != catalog.StatusError || doc.Error == "" {
		t.Errorf("catalog entry = %+v, %v", doc, ok)
	}

	// Retry with a working store succeeds under the same id.
	working := NewIndexer(ch, memStore, cat, testutil.DiscardLogger())
	retried := working.Upload(context.Background(), "guide.md", sampleDoc, nil, 1)
	if retried.DocumentID != result.DocumentID {
		t.Errorf("retry changed id: %q vs %q", retried.DocumentID, result.DocumentID)
	}
	if retried.Status != catalog.StatusIndexed {
		t.Errorf("retry Status = %q, want indexed", retried.Status)
	}
}

func TestUploadFailureKeepsChunkCountForDelete(t *testing.T) {
	embedder := testutil.NewHashEmbedder(64)
	memStore := vectorstore.NewMemory(embedder, testutil.DiscardLogger())
	cat := catalog.New(memStore, testutil.DiscardLogger())
	ch, err := chunker.New(200, 40)
	if err != nil {
		t.Fatalf("chunker.New: %v", err)
	}

	// Index successfully, then re-upload the same content through a broken
	// store: the failed attempt must not clobber the stored chunk count.
	working := NewIndexer(ch, memStore, cat, testutil.DiscardLogger())
	first := working.Upload(context.Background(), "guide.md", sampleDoc, nil, 1)
	if first.Status != catalog.StatusIndexed || first.ChunkCount == 0 {
		t.Fatalf("setup upload = %+v", first)
	}

	broken := NewIndexer(ch, &failingStore{err: errors.New("backend down")}, cat, testutil.DiscardLogger())
	failed := broken.Upload(context.Background(), "guide.md", sampleDoc, nil, 1)
	if failed.Status != catalog.StatusError {
		t.Fatalf("Status = %q, want error", failed.Status)
	}

	doc, ok := cat.Get(first.DocumentID)
	if !ok || doc.ChunkCount != first.ChunkCount {
		t.Fatalf("catalog entry = %+v (%v), want ChunkCount %d", doc, ok, first.ChunkCount)
	}

	// Delete must still cascade over the chunks of the earlier upload.
	removed, err := cat.Remove(context.Background(), first.DocumentID)
	if err != nil || !removed {
		t.Fatalf("Remove = %v, %v", removed, err)
	}
	if f := memStore.Len(); f != 0 {
		t.Errorf("%d chunks survived delete after a failed re-upload", f)
	}
}

func TestDocumentID(t *testing.T) {
	a := DocumentID("a.txt", "same content")
	b := DocumentID("a.txt", "same content")
	c := DocumentID("b.txt", "same content")
	d := DocumentID("a.txt", "other content")

	if a != b {
		t.Error("identical input must yield identical ids")
	}
	if a == c {
		t.Error("filename must participate in the id")
	}
	if a == d {
		t.Error("content must participate in the id")
	}
}
