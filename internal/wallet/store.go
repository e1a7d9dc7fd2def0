package wallet

import (
	"context"

	"github.com/alexbotov/casino-core/internal/domain"
)

// Store is the durable backing of the ledger. AppendEntry must write the
// entry and the new account balance/version in one atomic unit, and only if
// the account version still equals expectedVersion; otherwise it returns
// domain.ErrConcurrencyConflict and writes nothing. A second entry with the
// same (account, reference, kind) returns domain.ErrDuplicateEntry.
type Store interface {
	CreateAccount(ctx context.Context, account *domain.Account) error
	Account(ctx context.Context, accountID string) (*domain.Account, error)
	AccountByOwner(ctx context.Context, playerID, currency string, mode domain.AccountMode) (*domain.Account, error)
	ArchiveAccount(ctx context.Context, accountID string) error

	AppendEntry(ctx context.Context, expectedVersion int64, entry *domain.LedgerEntry) error
	EntryByReference(ctx context.Context, accountID, referenceID string, kind domain.EntryKind) (*domain.LedgerEntry, error)
	// Entries returns the account's entries in sequence order. limit <= 0
	// returns all of them.
	Entries(ctx context.Context, accountID string, limit int) ([]*domain.LedgerEntry, error)
}
