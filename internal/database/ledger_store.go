package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/alexbotov/casino-core/internal/domain"
	"github.com/alexbotov/casino-core/internal/wallet"
)

var accountColumns = []string{"id", "player_id", "currency", "mode", "balance", "version", "status", "created_at", "updated_at"}

var entryColumns = []string{"id", "account_id", "sequence", "kind", "amount", "balance_before", "balance_after", "reference_id", "created_at"}

// LedgerStore persists accounts and ledger entries
type LedgerStore struct {
	db *DB
	sb sq.StatementBuilderType
}

var _ wallet.Store = (*LedgerStore)(nil)

// NewLedgerStore creates a ledger store on db
func NewLedgerStore(db *DB) *LedgerStore {
	return &LedgerStore{db: db, sb: db.Builder()}
}

func (s *LedgerStore) CreateAccount(ctx context.Context, a *domain.Account) error {
	query, args, err := s.sb.Insert("accounts").
		Columns(accountColumns...).
		Values(a.ID, a.PlayerID, a.Currency, a.Mode, a.Balance, a.Version, a.Status, a.CreatedAt, a.UpdatedAt).
		ToSql()
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		if isUniqueViolation(err) {
			return domain.ErrAccountExists
		}
		return fmt.Errorf("failed to insert account: %w", err)
	}
	return nil
}

func (s *LedgerStore) Account(ctx context.Context, accountID string) (*domain.Account, error) {
	return s.queryAccount(ctx, sq.Eq{"id": accountID})
}

func (s *LedgerStore) AccountByOwner(ctx context.Context, playerID, currency string, mode domain.AccountMode) (*domain.Account, error) {
	return s.queryAccount(ctx, sq.Eq{"player_id": playerID, "currency": currency, "mode": mode})
}

func (s *LedgerStore) queryAccount(ctx context.Context, where sq.Eq) (*domain.Account, error) {
	query, args, err := s.sb.Select(accountColumns...).From("accounts").Where(where).ToSql()
	if err != nil {
		return nil, err
	}

	var a domain.Account
	err = s.db.QueryRowContext(ctx, query, args...).Scan(
		&a.ID, &a.PlayerID, &a.Currency, &a.Mode, &a.Balance, &a.Version, &a.Status, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return &a, nil
}

func (s *LedgerStore) ArchiveAccount(ctx context.Context, accountID string) error {
	query, args, err := s.sb.Update("accounts").
		Set("status", domain.AccountStatusArchived).
		Set("updated_at", sq.Expr("CURRENT_TIMESTAMP")).
		Where(sq.Eq{"id": accountID}).
		ToSql()
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to archive account: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrAccountNotFound
	}
	return nil
}

// AppendEntry moves the account version forward and inserts the entry in one
// transaction. A version mismatch writes nothing.
func (s *LedgerStore) AppendEntry(ctx context.Context, expectedVersion int64, e *domain.LedgerEntry) error {
	return s.db.inTx(ctx, func(tx *sql.Tx) error {
		query, args, err := s.sb.Update("accounts").
			Set("balance", e.BalanceAfter).
			Set("version", e.Sequence).
			Set("updated_at", e.CreatedAt).
			Where(sq.Eq{"id": e.AccountID, "version": expectedVersion, "balance": e.BalanceBefore}).
			ToSql()
		if err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("failed to update account: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			query, args, err := s.sb.Select("1").From("accounts").Where(sq.Eq{"id": e.AccountID}).ToSql()
			if err != nil {
				return err
			}
			var one int
			if err := tx.QueryRowContext(ctx, query, args...).Scan(&one); errors.Is(err, sql.ErrNoRows) {
				return domain.ErrAccountNotFound
			}
			return domain.ErrConcurrencyConflict
		}

		query, args, err = s.sb.Insert("ledger_entries").
			Columns(entryColumns...).
			Values(e.ID, e.AccountID, e.Sequence, e.Kind, e.Amount, e.BalanceBefore, e.BalanceAfter, e.ReferenceID, e.CreatedAt).
			ToSql()
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			if isUniqueViolation(err) {
				return domain.ErrDuplicateEntry
			}
			return fmt.Errorf("failed to insert ledger entry: %w", err)
		}
		return nil
	})
}

func (s *LedgerStore) EntryByReference(ctx context.Context, accountID, referenceID string, kind domain.EntryKind) (*domain.LedgerEntry, error) {
	query, args, err := s.sb.Select(entryColumns...).
		From("ledger_entries").
		Where(sq.Eq{"account_id": accountID, "reference_id": referenceID, "kind": kind}).
		ToSql()
	if err != nil {
		return nil, err
	}

	e, err := scanEntry(s.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrEntryNotFound
		}
		return nil, fmt.Errorf("failed to get ledger entry: %w", err)
	}
	return e, nil
}

func (s *LedgerStore) Entries(ctx context.Context, accountID string, limit int) ([]*domain.LedgerEntry, error) {
	if _, err := s.Account(ctx, accountID); err != nil {
		return nil, err
	}

	q := s.sb.Select(entryColumns...).
		From("ledger_entries").
		Where(sq.Eq{"account_id": accountID}).
		OrderBy("sequence DESC")
	if limit > 0 {
		q = q.Limit(uint64(limit))
	}
	query, args, err := q.ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger entries: %w", err)
	}
	defer rows.Close()

	var entries []*domain.LedgerEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// sequence order
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*domain.LedgerEntry, error) {
	var e domain.LedgerEntry
	err := row.Scan(&e.ID, &e.AccountID, &e.Sequence, &e.Kind, &e.Amount,
		&e.BalanceBefore, &e.BalanceAfter, &e.ReferenceID, &e.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &e, nil
}
