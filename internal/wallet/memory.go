package wallet

import (
	"context"
	"sync"
	"time"

	"github.com/alexbotov/casino-core/internal/domain"
)

type referenceKey struct {
	accountID string
	reference string
	kind      domain.EntryKind
}

type ownerKey struct {
	playerID string
	currency string
	mode     domain.AccountMode
}

// MemoryStore is an in-process Store for demo mode and tests
type MemoryStore struct {
	mu         sync.RWMutex
	accounts   map[string]*domain.Account
	owners     map[ownerKey]string
	entries    map[string][]*domain.LedgerEntry
	references map[referenceKey]*domain.LedgerEntry
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts:   make(map[string]*domain.Account),
		owners:     make(map[ownerKey]string),
		entries:    make(map[string][]*domain.LedgerEntry),
		references: make(map[referenceKey]*domain.LedgerEntry),
	}
}

func (s *MemoryStore) CreateAccount(_ context.Context, account *domain.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := ownerKey{account.PlayerID, account.Currency, account.Mode}
	if _, ok := s.owners[key]; ok {
		return domain.ErrAccountExists
	}
	if _, ok := s.accounts[account.ID]; ok {
		return domain.ErrAccountExists
	}
	a := *account
	s.accounts[a.ID] = &a
	s.owners[key] = a.ID
	return nil
}

func (s *MemoryStore) Account(_ context.Context, accountID string) (*domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.accounts[accountID]
	if !ok {
		return nil, domain.ErrAccountNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *MemoryStore) AccountByOwner(ctx context.Context, playerID, currency string, mode domain.AccountMode) (*domain.Account, error) {
	s.mu.RLock()
	id, ok := s.owners[ownerKey{playerID, currency, mode}]
	s.mu.RUnlock()
	if !ok {
		return nil, domain.ErrAccountNotFound
	}
	return s.Account(ctx, id)
}

func (s *MemoryStore) ArchiveAccount(_ context.Context, accountID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[accountID]
	if !ok {
		return domain.ErrAccountNotFound
	}
	a.Status = domain.AccountStatusArchived
	a.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) AppendEntry(_ context.Context, expectedVersion int64, entry *domain.LedgerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[entry.AccountID]
	if !ok {
		return domain.ErrAccountNotFound
	}
	if a.Version != expectedVersion {
		return domain.ErrConcurrencyConflict
	}
	key := referenceKey{entry.AccountID, entry.ReferenceID, entry.Kind}
	if _, dup := s.references[key]; dup {
		return domain.ErrDuplicateEntry
	}

	e := *entry
	s.entries[a.ID] = append(s.entries[a.ID], &e)
	s.references[key] = &e
	a.Balance = e.BalanceAfter
	a.Version = e.Sequence
	a.UpdatedAt = e.CreatedAt
	return nil
}

func (s *MemoryStore) EntryByReference(_ context.Context, accountID, referenceID string, kind domain.EntryKind) (*domain.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.references[referenceKey{accountID, referenceID, kind}]
	if !ok {
		return nil, domain.ErrEntryNotFound
	}
	cp := *e
	return &cp, nil
}

func (s *MemoryStore) Entries(_ context.Context, accountID string, limit int) ([]*domain.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.accounts[accountID]; !ok {
		return nil, domain.ErrAccountNotFound
	}
	all := s.entries[accountID]
	if limit > 0 && limit < len(all) {
		all = all[len(all)-limit:]
	}
	out := make([]*domain.LedgerEntry, len(all))
	for i, e := range all {
		cp := *e
		out[i] = &cp
	}
	return out, nil
}
