package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"bookchat/pkg/domain"
)

// MemoryStore keeps sessions, messages and insights in-process.
// Used by local runs and tests; it enforces the same (user, book)
// uniqueness as the SQL schema.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]domain.Session
	byPair   map[userBook]string         // -> session ID
	messages map[string][]domain.Message // session ID -> ledger
	insights map[userBook][]domain.Insight
}

// userBook is a composite map key; ids may contain any character.
type userBook struct {
	userID, bookID string
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]domain.Session),
		byPair:   make(map[userBook]string),
		messages: make(map[string][]domain.Message),
		insights: make(map[userBook][]domain.Insight),
	}
}

func pairKey(userID, bookID string) userBook {
	return userBook{userID: userID, bookID: bookID}
}

func (m *MemoryStore) Close() error { return nil }

func (m *MemoryStore) CreateSession(_ context.Context, s domain.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := pairKey(s.UserID, s.BookID)
	if _, exists := m.byPair[key]; exists {
		return fmt.Errorf("create session: %w", ErrDuplicate)
	}
	if _, exists := m.sessions[s.ID]; exists {
		return fmt.Errorf("create session: %w", ErrDuplicate)
	}
	m.sessions[s.ID] = s
	m.byPair[key] = s.ID
	return nil
}

func (m *MemoryStore) GetSession(_ context.Context, id string) (domain.Session, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok, nil
}

func (m *MemoryStore) GetSessionByUserBook(_ context.Context, userID, bookID string) (domain.Session, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byPair[pairKey(userID, bookID)]
	if !ok {
		return domain.Session{}, false, nil
	}
	return m.sessions[id], true, nil
}

func (m *MemoryStore) TouchSession(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return ErrNotFound
	}
	s.LastMessageAt = &at
	s.UpdatedAt = at
	m.sessions[id] = s
	return nil
}

// AppendMessage appends to the session ledger; slice order is insertion order.
func (m *MemoryStore) AppendMessage(_ context.Context, msg domain.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages[msg.SessionID] = append(m.messages[msg.SessionID], msg)
	return nil
}

func (m *MemoryStore) ListMessages(_ context.Context, sessionID string, limit int) ([]domain.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ledger := m.messages[sessionID]
	res := make([]domain.Message, len(ledger))
	copy(res, ledger)
	sort.SliceStable(res, func(i, j int) bool {
		return res[i].CreatedAt.Before(res[j].CreatedAt)
	})
	if limit > 0 && len(res) > limit {
		res = res[len(res)-limit:]
	}
	return res, nil
}

func (m *MemoryStore) AppendInsight(_ context.Context, in domain.Insight) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := pairKey(in.UserID, in.BookID)
	m.insights[key] = append(m.insights[key], in)
	return nil
}

// ListInsights returns insights newest first.
func (m *MemoryStore) ListInsights(_ context.Context, userID, bookID string) ([]domain.Insight, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	items := m.insights[pairKey(userID, bookID)]
	res := make([]domain.Insight, 0, len(items))
	for i := len(items) - 1; i >= 0; i-- {
		res = append(res, items[i])
	}
	sort.SliceStable(res, func(i, j int) bool {
		return res[i].CreatedAt.After(res[j].CreatedAt)
	})
	return res, nil
}
