package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/alexbotov/casino-core/internal/domain"
)

// Store persists game sessions. Update is a compare-and-set on Version:
// gs carries the new version and the write only happens while the stored
// version still equals expectedVersion.
type Store interface {
	Create(ctx context.Context, gs *domain.GameSession) error
	Get(ctx context.Context, id string) (*domain.GameSession, error)
	FindOpen(ctx context.Context, accountID string, gameType domain.GameType) (*domain.GameSession, error)
	Update(ctx context.Context, gs *domain.GameSession, expectedVersion int64) error
	ListByStatus(ctx context.Context, status domain.SessionStatus, updatedBefore time.Time, limit int) ([]*domain.GameSession, error)
}

// MemoryStore is an in-process Store
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*domain.GameSession
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*domain.GameSession)}
}

func (s *MemoryStore) Create(_ context.Context, gs *domain.GameSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[gs.ID]; ok {
		return domain.ErrSessionOpen
	}
	if gs.SingleSeat && gs.Status == domain.SessionOpen && s.findOpen(gs.AccountID, gs.GameType) != nil {
		return domain.ErrSessionOpen
	}
	s.sessions[gs.ID] = gs.Clone()
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*domain.GameSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	gs, ok := s.sessions[id]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return gs.Clone(), nil
}

func (s *MemoryStore) FindOpen(_ context.Context, accountID string, gameType domain.GameType) (*domain.GameSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if gs := s.findOpen(accountID, gameType); gs != nil {
		return gs.Clone(), nil
	}
	return nil, domain.ErrSessionNotFound
}

func (s *MemoryStore) findOpen(accountID string, gameType domain.GameType) *domain.GameSession {
	for _, gs := range s.sessions {
		if gs.SingleSeat && gs.AccountID == accountID && gs.GameType == gameType && gs.Status == domain.SessionOpen {
			return gs
		}
	}
	return nil
}

func (s *MemoryStore) Update(_ context.Context, gs *domain.GameSession, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.sessions[gs.ID]
	if !ok {
		return domain.ErrSessionNotFound
	}
	if cur.Version != expectedVersion {
		return domain.ErrConcurrencyConflict
	}
	s.sessions[gs.ID] = gs.Clone()
	return nil
}

func (s *MemoryStore) ListByStatus(_ context.Context, status domain.SessionStatus, updatedBefore time.Time, limit int) ([]*domain.GameSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.GameSession
	for _, gs := range s.sessions {
		if gs.Status == status && gs.UpdatedAt.Before(updatedBefore) {
			out = append(out, gs.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
