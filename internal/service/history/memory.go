package history

import (
	"context"
	"sync"

	historyModel "github.com/fengnong/fengnong-agent/backend/internal/model/history"
)

// MemoryStore keeps turns in process memory. It is used by tests and by the
// memory driver for local runs without a database.
type MemoryStore struct {
	mu     sync.RWMutex
	nextID int64
	turns  map[int64][]historyModel.Turn
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{turns: make(map[int64][]historyModel.Turn)}
}

// Save appends a turn to its session.
func (s *MemoryStore) Save(_ context.Context, turn historyModel.Turn) (int64, error) {
	if err := validateTurn(turn); err != nil {
		return 0, persistenceError("save", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	turn.ID = s.nextID
	s.turns[turn.SessionID] = append(s.turns[turn.SessionID], turn)
	return turn.ID, nil
}

// ListBySession returns a copy of the session's turns without excludeID.
func (s *MemoryStore) ListBySession(_ context.Context, sessionID, excludeID int64) ([]historyModel.Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored := s.turns[sessionID]
	out := make([]historyModel.Turn, 0, len(stored))
	for _, turn := range stored {
		if turn.ID == excludeID {
			continue
		}
		out = append(out, turn)
	}
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }
