package domain

import (
	"errors"
	"fmt"
)

// Error taxonomy shared by the ledger, engines, sessions and settlement.
// Callers match with errors.Is; typed errors wrap one of these sentinels.
var (
	ErrValidation          = errors.New("validation failed")
	ErrInvalidWager        = fmt.Errorf("%w: invalid wager amount", ErrValidation)
	ErrInvalidAction       = fmt.Errorf("%w: invalid action", ErrValidation)
	ErrInvalidAmount       = fmt.Errorf("%w: invalid amount", ErrValidation)
	ErrReferenceConflict   = fmt.Errorf("%w: reference already used with a different amount", ErrValidation)
	ErrInsufficientFunds   = errors.New("insufficient funds")
	ErrConcurrencyConflict = errors.New("concurrent modification")
	ErrTransient           = errors.New("transient failure, retry later")
	ErrSettlementFailure   = errors.New("settlement failed")
	ErrSettlementPending   = errors.New("settlement pending")
	ErrEntropyUnavailable  = errors.New("entropy source unavailable")

	ErrAccountNotFound  = errors.New("account not found")
	ErrAccountExists    = errors.New("account already exists")
	ErrAccountArchived  = errors.New("account is archived")
	ErrEntryNotFound    = errors.New("ledger entry not found")
	ErrDuplicateEntry   = errors.New("ledger entry reference already recorded")
	ErrGameNotFound     = errors.New("game not found")
	ErrGamingDisabled   = errors.New("gaming is currently disabled")
	ErrGameDisabled     = errors.New("game is currently disabled")
	ErrSessionNotFound  = errors.New("game session not found")
	ErrSessionOpen      = errors.New("game session already open")
	ErrSessionSettled   = errors.New("game session already settled")
	ErrSessionAbandoned = errors.New("game session was abandoned")
	ErrSessionInPlay    = errors.New("game session has not reached a result")
)

// ValidationError describes a malformed request rejected before any mutation
type ValidationError struct {
	Field  string
	Reason string
	Kind   error
}

// NewValidationError builds a ValidationError of the given kind
// (ErrInvalidWager, ErrInvalidAction, ...)
func NewValidationError(kind error, field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason, Kind: kind}
}

func (e *ValidationError) Error() string {
	kind := e.Kind
	if kind == nil {
		kind = ErrValidation
	}
	if e.Field == "" {
		return fmt.Sprintf("%v: %s", kind, e.Reason)
	}
	return fmt.Sprintf("%v: %s: %s", kind, e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	if e.Kind == nil {
		return ErrValidation
	}
	return e.Kind
}

// InvalidAction is shorthand for a ValidationError of kind ErrInvalidAction
func InvalidAction(reason string, args ...any) error {
	return NewValidationError(ErrInvalidAction, "action", fmt.Sprintf(reason, args...))
}

// InvalidWager is shorthand for a ValidationError of kind ErrInvalidWager
func InvalidWager(reason string, args ...any) error {
	return NewValidationError(ErrInvalidWager, "wager", fmt.Sprintf(reason, args...))
}

// SettlementError records a ledger failure after a session reached its result.
// The session is held in pending_settlement until a retry succeeds.
type SettlementError struct {
	SessionID   string
	ReferenceID string
	Amount      int64
	Cause       error
}

func (e *SettlementError) Error() string {
	return fmt.Sprintf("settlement of session %s (%d) failed: %v", e.SessionID, e.Amount, e.Cause)
}

// Is lets errors.Is match both ErrSettlementFailure and the cause chain
func (e *SettlementError) Is(target error) bool {
	return target == ErrSettlementFailure
}

func (e *SettlementError) Unwrap() error {
	return e.Cause
}
