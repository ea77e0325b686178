package vectorstore

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/fabfab/doc-chat/embeddings"
)

// MemoryStore creates brute-force in-memory indexes. It backs tests and
// Postgres-less runs; the search contract matches the pgvector implementation
// (L2 distance, ascending).
type MemoryStore struct {
	embedder embeddings.Embedder
}

func NewMemoryStore(embedder embeddings.Embedder) *MemoryStore {
	return &MemoryStore{embedder: embedder}
}

func (s *MemoryStore) CreateIndex(ctx context.Context, sessionID string, chunks []Chunk) (Index, error) {
	if len(chunks) == 0 {
		return nil, nil
	}

	idx := &MemoryIndex{embedder: s.embedder}
	if err := idx.Add(ctx, chunks); err != nil {
		return nil, err
	}
	return idx, nil
}

var _ Store = (*MemoryStore)(nil)

type memoryEntry struct {
	chunk  Chunk
	vector []float32
}

type MemoryIndex struct {
	embedder embeddings.Embedder

	mu      sync.RWMutex
	entries []memoryEntry
}

func NewMemoryIndex(embedder embeddings.Embedder) *MemoryIndex {
	return &MemoryIndex{embedder: embedder}
}

func (idx *MemoryIndex) Add(ctx context.Context, chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	texts := make([]string, len(chunks))
	for i, chunk := range chunks {
		texts[i] = chunk.Content
	}

	vectors, err := idx.embedder.EmbedMany(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed chunks: %w", err)
	}
	if len(vectors) != len(chunks) {
		return fmt.Errorf("embedding count mismatch: have %d chunks, %d vectors", len(chunks), len(vectors))
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()
	for i, chunk := range chunks {
		idx.entries = append(idx.entries, memoryEntry{chunk: chunk, vector: vectors[i]})
	}
	return nil
}

func (idx *MemoryIndex) SearchWithScore(ctx context.Context, query string, k int) ([]ScoredChunk, error) {
	if k <= 0 {
		k = 5
	}

	vec, err := idx.embedder.EmbedOne(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	results := make([]ScoredChunk, 0, len(idx.entries))
	for _, entry := range idx.entries {
		results = append(results, ScoredChunk{
			Chunk:    entry.chunk,
			Distance: l2Distance(entry.vector, vec),
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Distance < results[j].Distance
	})

	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

func (idx *MemoryIndex) Search(ctx context.Context, query string, k int) ([]Chunk, error) {
	scored, err := idx.SearchWithScore(ctx, query, k)
	if err != nil {
		return nil, err
	}
	chunks := make([]Chunk, len(scored))
	for i, item := range scored {
		chunks[i] = item.Chunk
	}
	return chunks, nil
}

func (idx *MemoryIndex) Count(_ context.Context) (int, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.entries), nil
}

func (idx *MemoryIndex) Drop(_ context.Context) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.entries = nil
	return nil
}

func (idx *MemoryIndex) Degraded() bool { return false }

var _ Index = (*MemoryIndex)(nil)

func l2Distance(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	sum := 0.0
	for i := 0; i < n; i++ {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	// Penalize dimension mismatch instead of silently truncating.
	for i := n; i < len(a); i++ {
		sum += float64(a[i]) * float64(a[i])
	}
	for i := n; i < len(b); i++ {
		sum += float64(b[i]) * float64(b[i])
	}
	return math.Sqrt(sum)
}
