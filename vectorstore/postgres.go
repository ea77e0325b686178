package vectorstore

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/fabfab/doc-chat/embeddings"
)

// PostgresStore creates pgvector-backed indexes scoped by session.
type PostgresStore struct {
	pool     *pgxpool.Pool
	embedder embeddings.Embedder
	logger   *log.Logger
}

func NewPostgresStore(pool *pgxpool.Pool, embedder embeddings.Embedder, logger *log.Logger) *PostgresStore {
	if logger == nil {
		logger = log.Default()
	}
	return &PostgresStore{pool: pool, embedder: embedder, logger: logger}
}

func (s *PostgresStore) CreateIndex(ctx context.Context, sessionID string, chunks []Chunk) (Index, error) {
	if len(chunks) == 0 {
		return nil, nil
	}

	idx := &PostgresIndex{
		pool:      s.pool,
		embedder:  s.embedder,
		logger:    s.logger,
		sessionID: sessionID,
		indexID:   uuid.New(),
	}

	if err := idx.insertChunks(ctx, idx.indexID, chunks); err != nil {
		return nil, err
	}
	return idx, nil
}

var _ Store = (*PostgresStore)(nil)

// PostgresIndex stores one session's chunk rows under a generation ID in the
// doc_chunks table. A rebuild after a failed upsert rotates the generation,
// which is how prior entries get discarded in the degraded path.
type PostgresIndex struct {
	pool      *pgxpool.Pool
	embedder  embeddings.Embedder
	logger    *log.Logger
	sessionID string

	mu       sync.Mutex
	indexID  uuid.UUID
	degraded bool
}

func (idx *PostgresIndex) Add(ctx context.Context, chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	idx.mu.Lock()
	current := idx.indexID
	idx.mu.Unlock()

	err := idx.insertChunks(ctx, current, chunks)
	if err == nil {
		return nil
	}
	idx.logger.Printf("upsert into index %s failed, rebuilding from new chunks only: %v", current, err)

	// Degraded mode: prior entries are dropped along with the old generation.
	fresh := uuid.New()
	if err := idx.insertChunks(ctx, fresh, chunks); err != nil {
		return fmt.Errorf("rebuild index: %w", err)
	}

	idx.mu.Lock()
	old := idx.indexID
	idx.indexID = fresh
	idx.degraded = true
	idx.mu.Unlock()

	if _, err := idx.pool.Exec(ctx, "DELETE FROM doc_chunks WHERE index_id = $1", old); err != nil {
		idx.logger.Printf("cleanup of replaced index %s failed: %v", old, err)
	}
	return nil
}

func (idx *PostgresIndex) insertChunks(ctx context.Context, indexID uuid.UUID, chunks []Chunk) (err error) {
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

	tx, err := idx.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil && rbErr != pgx.ErrTxClosed {
				idx.logger.Printf("rollback error: %v", rbErr)
			}
		}
	}()

	for i, chunk := range chunks {
		if _, err = tx.Exec(ctx, `
			INSERT INTO doc_chunks (id, index_id, session_id, chunk_index, content, metadata, embedding, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		`, uuid.New(), indexID, idx.sessionID, i, chunk.Content, chunk.Metadata, pgvector.NewVector(vectors[i])); err != nil {
			return fmt.Errorf("insert chunk %d: %w", i, err)
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit chunks: %w", err)
	}
	return nil
}

func (idx *PostgresIndex) SearchWithScore(ctx context.Context, query string, k int) ([]ScoredChunk, error) {
	if k <= 0 {
		k = 5
	}

	vec, err := idx.embedder.EmbedOne(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	idx.mu.Lock()
	current := idx.indexID
	idx.mu.Unlock()

	rows, err := idx.pool.Query(ctx, `
		SELECT content, metadata, (embedding <-> $1::vector) AS distance
		FROM doc_chunks
		WHERE index_id = $2
		ORDER BY embedding <-> $1::vector
		LIMIT $3
	`, pgvector.NewVector(vec), current, k)
	if err != nil {
		return nil, fmt.Errorf("query similar chunks: %w", err)
	}
	defer rows.Close()

	results := make([]ScoredChunk, 0, k)
	for rows.Next() {
		var item ScoredChunk
		if scanErr := rows.Scan(&item.Content, &item.Metadata, &item.Distance); scanErr != nil {
			return nil, fmt.Errorf("scan similar chunk: %w", scanErr)
		}
		results = append(results, item)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}

	return results, nil
}

func (idx *PostgresIndex) Search(ctx context.Context, query string, k int) ([]Chunk, error) {
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

func (idx *PostgresIndex) Count(ctx context.Context) (int, error) {
	idx.mu.Lock()
	current := idx.indexID
	idx.mu.Unlock()

	var count int
	if err := idx.pool.QueryRow(ctx, "SELECT COUNT(*) FROM doc_chunks WHERE index_id = $1", current).Scan(&count); err != nil {
		return 0, fmt.Errorf("count chunks: %w", err)
	}
	return count, nil
}

func (idx *PostgresIndex) Drop(ctx context.Context) error {
	idx.mu.Lock()
	current := idx.indexID
	idx.mu.Unlock()

	if _, err := idx.pool.Exec(ctx, "DELETE FROM doc_chunks WHERE index_id = $1", current); err != nil {
		return fmt.Errorf("drop index: %w", err)
	}
	return nil
}

func (idx *PostgresIndex) Degraded() bool {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.degraded
}

var _ Index = (*PostgresIndex)(nil)
