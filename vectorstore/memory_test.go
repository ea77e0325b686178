package vectorstore

import (
	"context"
	"math"
	"testing"
)

// axisEmbedder maps known texts onto fixed vectors so distances are exact.
type axisEmbedder struct {
	vectors map[string][]float32
}

func (e *axisEmbedder) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	if vec, ok := e.vectors[text]; ok {
		return vec, nil
	}
	return []float32{0, 0, 0}, nil
}

func (e *axisEmbedder) EmbedMany(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := e.EmbedOne(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

func (e *axisEmbedder) Dimension() int { return 3 }

func newAxisIndex(t *testing.T) *MemoryIndex {
	t.Helper()
	embedder := &axisEmbedder{vectors: map[string][]float32{
		"near":  {1, 0, 0},
		"mid":   {0, 1, 0},
		"far":   {0, 0, 5},
		"query": {1, 0, 0},
	}}
	idx := NewMemoryIndex(embedder)
	chunks := []Chunk{
		{Content: "far", Metadata: map[string]string{MetadataFileName: "c.txt"}},
		{Content: "near", Metadata: map[string]string{MetadataFileName: "a.txt"}},
		{Content: "mid", Metadata: map[string]string{MetadataFileName: "b.txt"}},
	}
	if err := idx.Add(context.Background(), chunks); err != nil {
		t.Fatalf("add chunks: %v", err)
	}
	return idx
}

func TestMemoryIndexSearchRanksByDistance(t *testing.T) {
	idx := newAxisIndex(t)

	results, err := idx.SearchWithScore(context.Background(), "query", 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}

	if results[0].Content != "near" || results[0].Distance != 0 {
		t.Fatalf("nearest hit wrong: %q at %v", results[0].Content, results[0].Distance)
	}
	if results[1].Content != "mid" {
		t.Fatalf("expected mid second, got %q", results[1].Content)
	}
	if math.Abs(results[1].Distance-math.Sqrt(2)) > 1e-9 {
		t.Fatalf("unexpected mid distance: %v", results[1].Distance)
	}
	if results[2].Content != "far" {
		t.Fatalf("expected far last, got %q", results[2].Content)
	}
}

func TestMemoryIndexSearchHonorsK(t *testing.T) {
	idx := newAxisIndex(t)

	results, err := idx.SearchWithScore(context.Background(), "query", 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 1 || results[0].Content != "near" {
		t.Fatalf("unexpected results: %v", results)
	}
}

func TestMemoryIndexSearchWithoutScores(t *testing.T) {
	idx := newAxisIndex(t)

	chunks, err := idx.Search(context.Background(), "query", 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	if chunks[0].Content != "near" {
		t.Fatalf("unexpected first chunk: %q", chunks[0].Content)
	}
}

func TestMemoryIndexCountAndDrop(t *testing.T) {
	idx := newAxisIndex(t)

	count, err := idx.Count(context.Background())
	if err != nil || count != 3 {
		t.Fatalf("expected 3 entries, got %d (%v)", count, err)
	}

	if err := idx.Drop(context.Background()); err != nil {
		t.Fatalf("drop: %v", err)
	}
	count, err = idx.Count(context.Background())
	if err != nil || count != 0 {
		t.Fatalf("expected empty index after drop, got %d (%v)", count, err)
	}
}

func TestMemoryStoreEmptyChunksReturnsNilIndex(t *testing.T) {
	store := NewMemoryStore(&axisEmbedder{})
	idx, err := store.CreateIndex(context.Background(), "sess", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if idx != nil {
		t.Fatal("expected nil index for empty chunk set")
	}
}

func TestL2DistancePenalizesDimensionMismatch(t *testing.T) {
	same := l2Distance([]float32{1, 1}, []float32{1, 1})
	if same != 0 {
		t.Fatalf("identical vectors should be at distance 0, got %v", same)
	}
	mismatch := l2Distance([]float32{1, 1}, []float32{1, 1, 2})
	if mismatch != 2 {
		t.Fatalf("expected mismatch penalty of 2, got %v", mismatch)
	}
}
