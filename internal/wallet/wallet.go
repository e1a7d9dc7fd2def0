// Package wallet provides the ledger that is the system of record for balances
// Compliant with GLI-19 §2.5.6: Financial Transactions, §2.5.7: Transaction Log
//
// Every balance change is exactly one append-only LedgerEntry. Operations on
// one account are serialized by a per-account lock and guarded again by an
// optimistic version check in the Store, so several processes sharing a
// database still apply a single writer per account. Each operation is
// idempotent per (account, reference, kind).
package wallet

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/alexbotov/casino-core/internal/audit"
	"github.com/alexbotov/casino-core/internal/domain"
	"github.com/alexbotov/casino-core/internal/metrics"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const defaultMaxRetries = 3

// Receipt is the result of a ledger operation. Replayed is true when the
// reference had already been applied and Entry is the original record.
type Receipt struct {
	Entry    *domain.LedgerEntry `json:"entry"`
	Replayed bool                `json:"replayed"`
}

// Service provides wallet functionality
type Service struct {
	store      Store
	audit      *audit.Service
	metrics    *metrics.Metrics
	logger     *zap.Logger
	maxRetries int
	now        func() time.Time

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// Option configures the wallet service
type Option func(*Service)

// WithAudit records funding and account events
func WithAudit(a *audit.Service) Option {
	return func(s *Service) { s.audit = a }
}

// WithMetrics counts entries and retries
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithLogger sets the structured logger
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithMaxRetries bounds how often a version conflict is retried before the
// operation fails with domain.ErrTransient
func WithMaxRetries(n int) Option {
	return func(s *Service) {
		if n >= 0 {
			s.maxRetries = n
		}
	}
}

// New creates a new wallet service
func New(store Store, opts ...Option) *Service {
	s := &Service{
		store:      store,
		logger:     zap.NewNop(),
		maxRetries: defaultMaxRetries,
		now:        func() time.Time { return time.Now().UTC() },
		locks:      make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.Named("wallet")
	return s
}

// accountLock returns the mutex serializing writes to one account
func (s *Service) accountLock(accountID string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()

	l, ok := s.locks[accountID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[accountID] = l
	}
	return l
}

// OpenAccount creates the account for (player, currency, mode), or returns
// the existing one. Accounts are created on registration and never deleted.
func (s *Service) OpenAccount(ctx context.Context, playerID, currency string, mode domain.AccountMode) (*domain.Account, error) {
	if strings.TrimSpace(playerID) == "" {
		return nil, domain.NewValidationError(domain.ErrValidation, "player_id", "required")
	}
	if len(currency) != 3 {
		return nil, domain.NewValidationError(domain.ErrValidation, "currency", "must be an ISO 4217 code")
	}
	if !mode.Valid() {
		return nil, domain.NewValidationError(domain.ErrValidation, "mode", fmt.Sprintf("unknown mode %q", mode))
	}
	currency = strings.ToUpper(currency)

	existing, err := s.store.AccountByOwner(ctx, playerID, currency, mode)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, domain.ErrAccountNotFound) {
		return nil, fmt.Errorf("failed to look up account: %w", err)
	}

	now := s.now()
	account := &domain.Account{
		ID:        uuid.New().String(),
		PlayerID:  playerID,
		Currency:  currency,
		Mode:      mode,
		Status:    domain.AccountStatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateAccount(ctx, account); err != nil {
		if errors.Is(err, domain.ErrAccountExists) {
			return s.store.AccountByOwner(ctx, playerID, currency, mode)
		}
		return nil, fmt.Errorf("failed to create account: %w", err)
	}

	s.audit.Log(ctx, audit.EventAccountOpened, domain.SeverityInfo,
		fmt.Sprintf("Account opened for player %s (%s, %s)", playerID, currency, mode),
		map[string]interface{}{"player_id": playerID, "currency": currency, "mode": mode},
		audit.WithAccount(account.ID))

	return account, nil
}

// Account returns the current account state
func (s *Service) Account(ctx context.Context, accountID string) (*domain.Account, error) {
	return s.store.Account(ctx, accountID)
}

// Balance returns the current balance (GLI-19 §2.5.7)
func (s *Service) Balance(ctx context.Context, accountID string) (domain.Money, error) {
	a, err := s.store.Account(ctx, accountID)
	if err != nil {
		return domain.Money{}, err
	}
	return a.BalanceMoney(), nil
}

// Entries returns the last limit entries in sequence order (all if limit <= 0)
func (s *Service) Entries(ctx context.Context, accountID string, limit int) ([]*domain.LedgerEntry, error) {
	return s.store.Entries(ctx, accountID, limit)
}

// Archive soft-closes an account; it keeps its history and accepts no new entries
func (s *Service) Archive(ctx context.Context, accountID string) error {
	lock := s.accountLock(accountID)
	lock.Lock()
	defer lock.Unlock()

	if err := s.store.ArchiveAccount(ctx, accountID); err != nil {
		return fmt.Errorf("failed to archive account: %w", err)
	}
	s.audit.Log(ctx, audit.EventAccountArchived, domain.SeverityInfo,
		"Account archived", nil, audit.WithAccount(accountID))
	return nil
}

// Reserve debits a wager at session open (GLI-19 §4.3.3)
func (s *Service) Reserve(ctx context.Context, accountID string, amount int64, referenceID string) (*Receipt, error) {
	if amount <= 0 {
		return nil, domain.NewValidationError(domain.ErrInvalidAmount, "amount", "wager must be positive")
	}
	return s.post(ctx, accountID, domain.EntryWager, -amount, referenceID)
}

// Settle credits the payout of a finished session. A zero amount still
// records the settlement entry.
func (s *Service) Settle(ctx context.Context, accountID string, amount int64, referenceID string) (*Receipt, error) {
	if amount < 0 {
		return nil, domain.NewValidationError(domain.ErrInvalidAmount, "amount", "payout must not be negative")
	}
	return s.post(ctx, accountID, domain.EntryPayout, amount, referenceID)
}

// Refund returns a reserved wager that will not be settled
func (s *Service) Refund(ctx context.Context, accountID string, amount int64, referenceID string) (*Receipt, error) {
	if amount <= 0 {
		return nil, domain.NewValidationError(domain.ErrInvalidAmount, "amount", "refund must be positive")
	}
	return s.post(ctx, accountID, domain.EntryRefund, amount, referenceID)
}

// Deposit credits funds from the funding collaborator (GLI-19 §2.5.6)
func (s *Service) Deposit(ctx context.Context, accountID string, amount int64, referenceID string) (*Receipt, error) {
	if amount <= 0 {
		return nil, domain.NewValidationError(domain.ErrInvalidAmount, "amount", "deposit must be positive")
	}
	r, err := s.post(ctx, accountID, domain.EntryDeposit, amount, referenceID)
	if err != nil {
		return nil, err
	}
	if !r.Replayed {
		s.audit.Log(ctx, audit.EventDeposit, domain.SeverityInfo,
			fmt.Sprintf("Deposit of %d", amount),
			map[string]interface{}{"entry_id": r.Entry.ID, "amount": amount, "reference_id": referenceID},
			audit.WithAccount(accountID))
	}
	return r, nil
}

// Withdraw debits funds to the funding collaborator (GLI-19 §2.5.6 - no negative balance)
func (s *Service) Withdraw(ctx context.Context, accountID string, amount int64, referenceID string) (*Receipt, error) {
	if amount <= 0 {
		return nil, domain.NewValidationError(domain.ErrInvalidAmount, "amount", "withdrawal must be positive")
	}
	r, err := s.post(ctx, accountID, domain.EntryWithdrawal, -amount, referenceID)
	if err != nil {
		return nil, err
	}
	if !r.Replayed {
		s.audit.Log(ctx, audit.EventWithdrawal, domain.SeverityInfo,
			fmt.Sprintf("Withdrawal of %d", amount),
			map[string]interface{}{"entry_id": r.Entry.ID, "amount": amount, "reference_id": referenceID},
			audit.WithAccount(accountID))
	}
	return r, nil
}

// post appends one entry of the given signed amount
func (s *Service) post(ctx context.Context, accountID string, kind domain.EntryKind, amount int64, referenceID string) (*Receipt, error) {
	if referenceID == "" {
		return nil, domain.NewValidationError(domain.ErrValidation, "reference_id", "required")
	}

	lock := s.accountLock(accountID)
	lock.Lock()
	defer lock.Unlock()

	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		existing, err := s.store.EntryByReference(ctx, accountID, referenceID, kind)
		if err == nil {
			if existing.Amount != amount {
				return nil, fmt.Errorf("%w: %s %s recorded %d, requested %d",
					domain.ErrReferenceConflict, kind, referenceID, existing.Amount, amount)
			}
			return &Receipt{Entry: existing, Replayed: true}, nil
		}
		if !errors.Is(err, domain.ErrEntryNotFound) {
			return nil, fmt.Errorf("failed to look up reference: %w", err)
		}

		account, err := s.store.Account(ctx, accountID)
		if err != nil {
			return nil, err
		}
		if account.Status == domain.AccountStatusArchived {
			return nil, domain.ErrAccountArchived
		}
		after := account.Balance + amount
		if after < 0 {
			return nil, fmt.Errorf("%w: balance %d, requested %d", domain.ErrInsufficientFunds, account.Balance, -amount)
		}

		entry := &domain.LedgerEntry{
			ID:            uuid.New().String(),
			AccountID:     accountID,
			Sequence:      account.Version + 1,
			Kind:          kind,
			Amount:        amount,
			BalanceBefore: account.Balance,
			BalanceAfter:  after,
			ReferenceID:   referenceID,
			CreatedAt:     s.now(),
		}

		err = s.store.AppendEntry(ctx, account.Version, entry)
		switch {
		case err == nil:
			s.metrics.LedgerEntry(string(kind))
			s.logger.Debug("ledger entry appended",
				zap.String("account_id", accountID),
				zap.String("kind", string(kind)),
				zap.Int64("amount", amount),
				zap.Int64("sequence", entry.Sequence),
				zap.String("reference_id", referenceID))
			return &Receipt{Entry: entry}, nil

		case errors.Is(err, domain.ErrConcurrencyConflict), errors.Is(err, domain.ErrDuplicateEntry):
			if attempt >= s.maxRetries {
				s.logger.Warn("ledger retries exhausted",
					zap.String("account_id", accountID),
					zap.String("kind", string(kind)),
					zap.Int("attempts", attempt+1))
				return nil, fmt.Errorf("%w: %s on account %s lost %d races", domain.ErrTransient, kind, accountID, attempt+1)
			}
			s.metrics.LedgerRetry(string(kind))

		default:
			return nil, fmt.Errorf("failed to append ledger entry: %w", err)
		}
	}
}

// Verify replays the account history and checks that balances chain from
// zero to the current balance with contiguous sequence numbers.
func (s *Service) Verify(ctx context.Context, accountID string) error {
	account, err := s.store.Account(ctx, accountID)
	if err != nil {
		return err
	}
	entries, err := s.store.Entries(ctx, accountID, 0)
	if err != nil {
		return err
	}

	var balance int64
	for i, e := range entries {
		if e.Sequence != int64(i+1) {
			return fmt.Errorf("entry %s: sequence %d, expected %d", e.ID, e.Sequence, i+1)
		}
		if e.BalanceBefore != balance {
			return fmt.Errorf("entry %d: balance before %d, expected %d", e.Sequence, e.BalanceBefore, balance)
		}
		if e.BalanceAfter != e.BalanceBefore+e.Amount {
			return fmt.Errorf("entry %d: balance after %d does not equal %d%+d", e.Sequence, e.BalanceAfter, e.BalanceBefore, e.Amount)
		}
		if e.BalanceAfter < 0 {
			return fmt.Errorf("entry %d: negative balance %d", e.Sequence, e.BalanceAfter)
		}
		balance = e.BalanceAfter
	}
	if balance != account.Balance {
		return fmt.Errorf("replayed balance %d does not match account balance %d", balance, account.Balance)
	}
	if int64(len(entries)) != account.Version {
		return fmt.Errorf("%d entries recorded for account version %d", len(entries), account.Version)
	}
	return nil
}
