// Package session isolates one user's document corpus: the processed-file
// list, the owning reference to that corpus's vector index, and the
// conversation log.
package session

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/fabfab/doc-chat/vectorstore"
)

// Turn is one question/answer exchange appended to a session's log.
type Turn struct {
	Question      string
	Answer        string
	ContextChunks int
	CreatedAt     time.Time
}

// Session owns one corpus. The ingestion pipeline is the only writer of the
// processed list and index; reads may happen concurrently with a later
// ingestion call.
type Session struct {
	ID string

	mu        sync.RWMutex
	processed []string
	index     vectorstore.Index
	turns     []Turn
}

// DeriveID produces the stable session identifier for an authenticated user,
// so repeated requests land on the same corpus.
func DeriveID(userID, token string) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s_%s", userID, token)))
	return hex.EncodeToString(sum[:])[:12]
}

func New(id string) *Session {
	return &Session{ID: id}
}

// HasProcessed reports whether fileName was already ingested.
func (s *Session) HasProcessed(fileName string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, name := range s.processed {
		if name == fileName {
			return true
		}
	}
	return false
}

// ProcessedFiles returns the ingested file names in insertion order.
func (s *Session) ProcessedFiles() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.processed...)
}

// Index returns the session's vector index, nil before the first commit.
func (s *Session) Index() vectorstore.Index {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.index
}

// Commit records a successful ingestion: the (possibly new) index and the
// newly processed file names, in one step so observers never see one without
// the other.
func (s *Session) Commit(index vectorstore.Index, fileNames []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.index = index
	s.processed = append(s.processed, fileNames...)
}

// AppendTurn adds an exchange to the conversation log.
func (s *Session) AppendTurn(turn Turn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns = append(s.turns, turn)
}

// Turns returns the full conversation log in order.
func (s *Session) Turns() []Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Turn(nil), s.turns...)
}

// RecentTurns returns the most recent n turns in chronological order.
func (s *Session) RecentTurns(n int) []Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if n <= 0 || len(s.turns) == 0 {
		return nil
	}
	start := len(s.turns) - n
	if start < 0 {
		start = 0
	}
	return append([]Turn(nil), s.turns[start:]...)
}
