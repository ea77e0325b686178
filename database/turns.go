package database

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Turn is one persisted question/answer exchange.
type Turn struct {
	SessionID     string
	Question      string
	Answer        string
	ContextChunks int
	CreatedAt     time.Time
}

// TurnStore binds a pool to the conversation-turn queries so callers can
// persist and replay a session's log without holding the pool themselves.
type TurnStore struct {
	pool *pgxpool.Pool
}

func NewTurnStore(pool *pgxpool.Pool) *TurnStore {
	return &TurnStore{pool: pool}
}

func (s *TurnStore) SaveTurn(ctx context.Context, turn Turn) error {
	return SaveTurn(ctx, s.pool, turn)
}

func (s *TurnStore) RecentTurns(ctx context.Context, sessionID string, limit int) ([]Turn, error) {
	return RecentTurns(ctx, s.pool, sessionID, limit)
}

func SaveTurn(ctx context.Context, pool *pgxpool.Pool, turn Turn) error {
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now()
	}
	if _, err := pool.Exec(ctx, `
		INSERT INTO conversation_turns (id, session_id, question, answer, context_chunks, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, uuid.New(), turn.SessionID, turn.Question, turn.Answer, turn.ContextChunks, turn.CreatedAt); err != nil {
		return fmt.Errorf("insert conversation turn: %w", err)
	}
	return nil
}

// RecentTurns returns up to limit turns for the session, oldest first.
func RecentTurns(ctx context.Context, pool *pgxpool.Pool, sessionID string, limit int) ([]Turn, error) {
	if limit <= 0 {
		limit = 3
	}

	rows, err := pool.Query(ctx, `
		SELECT session_id, question, answer, context_chunks, created_at
		FROM conversation_turns
		WHERE session_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("query conversation turns: %w", err)
	}
	defer rows.Close()

	turns := make([]Turn, 0, limit)
	for rows.Next() {
		var turn Turn
		if err := rows.Scan(&turn.SessionID, &turn.Question, &turn.Answer, &turn.ContextChunks, &turn.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan conversation turn: %w", err)
		}
		turns = append(turns, turn)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}

	// Reverse into chronological order.
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

// ClearSession removes every chunk and turn belonging to the session.
func ClearSession(ctx context.Context, pool *pgxpool.Pool, sessionID string) error {
	if _, err := pool.Exec(ctx, "DELETE FROM doc_chunks WHERE session_id = $1", sessionID); err != nil {
		return fmt.Errorf("delete session chunks: %w", err)
	}
	if _, err := pool.Exec(ctx, "DELETE FROM conversation_turns WHERE session_id = $1", sessionID); err != nil {
		return fmt.Errorf("delete session turns: %w", err)
	}
	return nil
}
