package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/victornm/ladder/internal/domain"
)

// MemoryStore keeps sessions in process. It is safe for concurrent use.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]*domain.Session
	active   map[string]string // player ID -> session ID
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*domain.Session),
		active:   make(map[string]string),
	}
}

func (m *MemoryStore) Create(_ context.Context, s *domain.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.active[s.PlayerID]; ok {
		return activeSessionExists(s.PlayerID, nil)
	}

	s.Version = 1
	m.sessions[s.SessionID] = s.Clone()
	m.active[s.PlayerID] = s.SessionID
	return nil
}

func (m *MemoryStore) Get(_ context.Context, sessionID string) (*domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, sessionNotFound(sessionID)
	}
	return s.Clone(), nil
}

func (m *MemoryStore) FindActive(_ context.Context, playerID string) (*domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.active[playerID]
	if !ok {
		return nil, sessionNotFound(playerID)
	}
	return m.sessions[id].Clone(), nil
}

func (m *MemoryStore) AbandonActive(_ context.Context, playerID string, at time.Time) (*domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.active[playerID]
	if !ok {
		return nil, nil
	}

	s := m.sessions[id]
	s.Status = domain.StatusAbandoned
	s.EndedAt = at
	s.MoneyWon = 0
	s.Version++
	delete(m.active, playerID)

	return s.Clone(), nil
}

func (m *MemoryStore) Update(_ context.Context, s *domain.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.sessions[s.SessionID]
	if !ok {
		return sessionNotFound(s.SessionID)
	}
	if cur.Version != s.Version {
		return sessionConflict(s.SessionID)
	}

	s.Version++
	m.sessions[s.SessionID] = s.Clone()
	if s.Status.Terminal() && m.active[s.PlayerID] == s.SessionID {
		delete(m.active, s.PlayerID)
	}
	return nil
}

func (m *MemoryStore) ListByPlayer(_ context.Context, playerID string, limit int) ([]domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var ss []domain.Session
	for _, s := range m.sessions {
		if s.PlayerID == playerID {
			ss = append(ss, *s.Clone())
		}
	}

	sort.Slice(ss, func(i, j int) bool {
		return ss[i].StartedAt.After(ss[j].StartedAt)
	})
	if limit > 0 && len(ss) > limit {
		ss = ss[:limit]
	}
	return ss, nil
}
