// Package vectorstore provides upsertable, queryable per-session vector
// indexes over text chunks. Distances are metric-space distances: smaller
// means more similar.
package vectorstore

import "context"

// MetadataFileName is the metadata key carrying a chunk's source file name.
const MetadataFileName = "file_name"

// Chunk is the unit stored in an index: a bounded slice of extracted text
// plus the metadata inherited from its source document.
type Chunk struct {
	Content  string
	Metadata map[string]string
}

// ScoredChunk pairs a retrieved chunk with its distance from the query.
type ScoredChunk struct {
	Chunk
	Distance float64
}

// Index is one session's chunk corpus. Entries are created at ingestion and
// never mutated; they disappear only when the index is dropped.
type Index interface {
	// Add upserts chunks using the index's embedding strategy. On failure it
	// falls back to rebuilding the index from the new chunks alone; prior
	// entries are lost in that path and Degraded reports it.
	Add(ctx context.Context, chunks []Chunk) error

	// SearchWithScore returns up to k chunks ranked by ascending distance.
	SearchWithScore(ctx context.Context, query string, k int) ([]ScoredChunk, error)

	// Search returns the same ranking without distances.
	Search(ctx context.Context, query string, k int) ([]Chunk, error)

	// Count reports the number of stored entries.
	Count(ctx context.Context) (int, error)

	// Drop removes every entry owned by this index.
	Drop(ctx context.Context) error

	// Degraded reports whether a failed upsert forced a rebuild that
	// discarded prior entries.
	Degraded() bool
}

// Store creates indexes. CreateIndex returns a nil index (and nil error) when
// chunks is empty: ingesting zero new material is a valid no-op.
type Store interface {
	CreateIndex(ctx context.Context, sessionID string, chunks []Chunk) (Index, error)
}
