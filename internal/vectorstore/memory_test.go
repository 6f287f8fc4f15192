package vectorstore

import (
	"context"
	"errors"
	"testing"

	"github.com/hyperfit/ragengine/internal/testutil"
)

func newTestMemory(t *testing.T) (*Memory, *testutil.HashEmbedder) {
	t.Helper()
	embedder := testutil.NewHashEmbedder(64)
	return NewMemory(embedder, testutil.DiscardLogger()), embedder
}

func addChunks(t *testing.T, store *Memory, chunks ...Chunk) {
	t.Helper()
	if err := store.AddDocuments(context.Background(), chunks); err != nil {
		t.Fatalf("AddDocuments: %v", err)
	}
}

func TestMemoryRoundTrip(t *testing.T) {
	store, _ := newTestMemory(t)
	text := "the quick brown fox jumps over the lazy dog"
	addChunks(t, store, Chunk{ID: "c1", Text: text, Metadata: map[string]string{MetaDocID: "doc_a"}})

	results, err := store.Search(context.Background(), text, 1, nil)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
	if results[0].Chunk.ID != "c1" {
		t.Errorf("top result = %q, want c1", results[0].Chunk.ID)
	}
	if results[0].Score <= 0.99 {
		t.Errorf("identical text scored %v, want > 0.99", results[0].Score)
	}
	if results[0].Rank != 1 {
		t.Errorf("Rank = %d, want 1", results[0].Rank)
	}
}

func TestMemorySearchZeroTopK(t *testing.T) {
	store, _ := newTestMemory(t)
	addChunks(t, store, Chunk{ID: "c1", Text: "indexed content"})

	results, err := store.Search(context.Background(), "indexed content", 0, nil)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("topK=0 returned %d results, want 0", len(results))
	}
}

func TestMemorySearchOrdering(t *testing.T) {
	store, _ := newTestMemory(t)
	addChunks(t, store,
		Chunk{ID: "c1", Text: "postgres connection pooling guide"},
		Chunk{ID: "c2", Text: "postgres connection pooling and tuning guide"},
		Chunk{ID: "c3", Text: "a recipe for sourdough bread"},
	)

	results, err := store.Search(context.Background(), "postgres connection pooling guide", 3, nil)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}
	for i := 1; i < len(results); i++ {
		if results[i].Score > results[i-1].Score {
			t.Errorf("results not sorted: score[%d]=%v > score[%d]=%v", i, results[i].Score, i-1, results[i-1].Score)
		}
	}
	if results[0].Chunk.ID != "c1" {
		t.Errorf("top result = %q, want c1", results[0].Chunk.ID)
	}
	if results[2].Chunk.ID != "c3" {
		t.Errorf("last result = %q, want c3", results[2].Chunk.ID)
	}
}

func TestMemoryMinScore(t *testing.T) {
	store, _ := newTestMemory(t)
	addChunks(t, store,
		Chunk{ID: "c1", Text: "postgres connection pooling guide"},
		Chunk{ID: "c2", Text: "a recipe for sourdough bread"},
	)

	results, err := store.Search(context.Background(), "postgres connection pooling guide", 10, &Filter{MinScore: 0.9})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	for _, r := range results {
		if r.Score < 0.9 {
			t.Errorf("result %q scored %v, below the 0.9 floor", r.Chunk.ID, r.Score)
		}
	}
	if len(results) != 1 || results[0].Chunk.ID != "c1" {
		t.Errorf("got %v, want only c1", results)
	}
}

func TestMemoryMetadataFilter(t *testing.T) {
	store, _ := newTestMemory(t)
	addChunks(t, store,
		Chunk{ID: "c1", Text: "shared words here", Metadata: map[string]string{MetaDocID: "doc_a", MetaOwnerID: "1"}},
		Chunk{ID: "c2", Text: "shared words here", Metadata: map[string]string{MetaDocID: "doc_b", MetaOwnerID: "1"}},
		Chunk{ID: "c3", Text: "shared words here", Metadata: map[string]string{MetaDocID: "doc_c", MetaOwnerID: "2"}},
	)

	// Equality on one key.
	results, err := store.Search(context.Background(), "shared words here", 10,
		&Filter{Metadata: map[string][]string{MetaDocID: {"doc_a"}}})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].Chunk.ID != "c1" {
		t.Errorf("equality filter: got %d results, want only c1", len(results))
	}

	// Set membership plus an ANDed owner key.
	results, err = store.Search(context.Background(), "shared words here", 10,
		&Filter{Metadata: map[string][]string{
			MetaDocID:   {"doc_a", "doc_b", "doc_c"},
			MetaOwnerID: {"1"},
		}})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 2 {
		t.Errorf("ANDed filter: got %d results, want 2", len(results))
	}
	for _, r := range results {
		if r.Chunk.Metadata[MetaOwnerID] != "1" {
			t.Errorf("result %q has owner %q, want 1", r.Chunk.ID, r.Chunk.Metadata[MetaOwnerID])
		}
	}
}

func TestMemoryIdempotentAdd(t *testing.T) {
	store, _ := newTestMemory(t)
	chunk := Chunk{ID: "c1", Text: "some text"}
	addChunks(t, store, chunk)
	addChunks(t, store, chunk)

	if store.Len() != 1 {
		t.Errorf("Len = %d after re-add, want 1", store.Len())
	}
}

func TestMemoryAddKeepsExistingEmbedding(t *testing.T) {
	embedder := testutil.NewHashEmbedder(4)
	store := NewMemory(embedder, testutil.DiscardLogger())

	addChunks(t, store, Chunk{ID: "c1", Text: "ignored", Embedding: []float32{1, 0, 0, 0}})
	if embedder.Calls() != 0 {
		t.Errorf("provider called %d times for pre-embedded chunk, want 0", embedder.Calls())
	}
}

func TestMemoryDeleteUnknownID(t *testing.T) {
	store, _ := newTestMemory(t)
	addChunks(t, store, Chunk{ID: "c1", Text: "keep me"})

	if err := store.Delete(context.Background(), []string{"nope", "c1"}); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if store.Len() != 0 {
		t.Errorf("Len = %d after delete, want 0", store.Len())
	}
}

func TestMemoryClear(t *testing.T) {
	store, _ := newTestMemory(t)
	addChunks(t, store, Chunk{ID: "c1", Text: "a"}, Chunk{ID: "c2", Text: "b"})

	if err := store.Clear(context.Background()); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if store.Len() != 0 {
		t.Errorf("Len = %d after clear, want 0", store.Len())
	}
}

func TestMemoryProviderFailure(t *testing.T) {
	embedder := testutil.NewHashEmbedder(8)
	embedder.FailWith = errors.New("provider down")
	store := NewMemory(embedder, testutil.DiscardLogger())

	err := store.AddDocuments(context.Background(), []Chunk{{ID: "c1", Text: "x"}})
	var se *StoreError
	if !errors.As(err, &se) {
		t.Fatalf("expected *StoreError, got %v", err)
	}
	if se.Backend != "memory" || se.Op != "add" {
		t.Errorf("StoreError = %+v, want memory/add", se)
	}
	if store.Len() != 0 {
		t.Errorf("Len = %d after failed add, want 0", store.Len())
	}
}

func TestMemoryL2Metric(t *testing.T) {
	embedder := testutil.NewHashEmbedder(64)
	store := NewMemoryWithMetric(embedder, MetricL2, testutil.DiscardLogger())

	text := "identical text scores one under any metric"
	if err := store.AddDocuments(context.Background(), []Chunk{{ID: "c1", Text: text}, {ID: "c2", Text: "something else entirely"}}); err != nil {
		t.Fatalf("AddDocuments: %v", err)
	}

	results, err := store.Search(context.Background(), text, 2, nil)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	// Distance zero maps to 1/(1+0) = 1.
	if results[0].Chunk.ID != "c1" || results[0].Score <= 0.99 {
		t.Errorf("top result %q scored %v, want c1 with score > 0.99", results[0].Chunk.ID, results[0].Score)
	}
	if results[1].Score <= 0 || results[1].Score > 1 {
		t.Errorf("L2 score %v out of (0,1]", results[1].Score)
	}
}
