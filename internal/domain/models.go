// Package domain contains the core domain models of the settlement core
// Based on GLI-19 Standards for Interactive Gaming Systems V3.0
//
// Key GLI-19 References:
//   - §2.5.6/§2.5.7: Financial Transactions and Transaction Log
//   - §4.3.3: Game Cycle Requirements
//   - §4.16: Interrupted Games
package domain

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Money represents monetary values with precision (GLI-19 §2.5.6)
type Money struct {
	Amount   int64  `json:"amount"`   // Amount in smallest unit (cents)
	Currency string `json:"currency"` // ISO 4217 currency code
}

// NewMoney creates a new Money value from minor units
func NewMoney(amount int64, currency string) Money {
	return Money{Amount: amount, Currency: currency}
}

// Decimal returns the monetary value in major units
func (m Money) Decimal() decimal.Decimal {
	return decimal.New(m.Amount, -2)
}

// Add adds two money values
func (m Money) Add(other Money) Money {
	return Money{Amount: m.Amount + other.Amount, Currency: m.Currency}
}

// Sub subtracts money value
func (m Money) Sub(other Money) Money {
	return Money{Amount: m.Amount - other.Amount, Currency: m.Currency}
}

// AccountMode separates play money from real money balances
type AccountMode string

const (
	AccountModeDemo AccountMode = "demo"
	AccountModeReal AccountMode = "real"
)

// Valid reports whether the mode is known
func (m AccountMode) Valid() bool {
	return m == AccountModeDemo || m == AccountModeReal
}

// AccountStatus represents the lifecycle of a wallet account
type AccountStatus string

const (
	AccountStatusActive   AccountStatus = "active"
	AccountStatusArchived AccountStatus = "archived"
)

// Account holds a monotonically versioned balance per player, currency and mode.
// Version equals the sequence number of the last ledger entry.
type Account struct {
	ID        string        `json:"id" db:"id"`
	PlayerID  string        `json:"player_id" db:"player_id"`
	Currency  string        `json:"currency" db:"currency"`
	Mode      AccountMode   `json:"mode" db:"mode"`
	Balance   int64         `json:"balance" db:"balance"`
	Version   int64         `json:"version" db:"version"`
	Status    AccountStatus `json:"status" db:"status"`
	CreatedAt time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt time.Time     `json:"updated_at" db:"updated_at"`
}

// BalanceMoney returns the balance as Money
func (a *Account) BalanceMoney() Money {
	return Money{Amount: a.Balance, Currency: a.Currency}
}

// EntryKind represents ledger entry kinds
// GLI-19 §2.5.6 - Financial Transactions: All financial transactions must be logged
type EntryKind string

const (
	EntryWager      EntryKind = "wager"
	EntryPayout     EntryKind = "payout"
	EntryDeposit    EntryKind = "deposit"
	EntryWithdrawal EntryKind = "withdrawal"
	EntryRefund     EntryKind = "refund"
)

// LedgerEntry is an immutable, append-only record of one balance change
// (GLI-19 §2.5.7). BalanceAfter = BalanceBefore + Amount.
type LedgerEntry struct {
	ID            string    `json:"id" db:"id"`
	AccountID     string    `json:"account_id" db:"account_id"`
	Sequence      int64     `json:"sequence" db:"sequence"`
	Kind          EntryKind `json:"kind" db:"kind"`
	Amount        int64     `json:"amount" db:"amount"`
	BalanceBefore int64     `json:"balance_before" db:"balance_before"`
	BalanceAfter  int64     `json:"balance_after" db:"balance_after"`
	ReferenceID   string    `json:"reference_id" db:"reference_id"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}

// GameType identifies a game engine
type GameType string

const (
	GameBlackjack  GameType = "blackjack"
	GameRoulette   GameType = "roulette"
	GameSlots      GameType = "slots"
	GameVideoPoker GameType = "videopoker"
	GamePoker      GameType = "poker"
)

// SessionStatus represents game session state (GLI-19 §4.3)
type SessionStatus string

const (
	SessionOpen              SessionStatus = "open"
	SessionPendingSettlement SessionStatus = "pending_settlement"
	SessionSettled           SessionStatus = "settled"
	SessionAbandoned         SessionStatus = "abandoned"
)

// Final reports whether no further transition is possible
func (s SessionStatus) Final() bool {
	return s == SessionSettled || s == SessionAbandoned
}

// GameSession holds one round of play between wager acceptance and settlement
// (GLI-19 §4.3.3). EngineState is owned by the game engine.
type GameSession struct {
	ID          string          `json:"id" db:"id"`
	AccountID   string          `json:"account_id" db:"account_id"`
	GameType    GameType        `json:"game_type" db:"game_type"`
	SingleSeat  bool            `json:"single_seat" db:"single_seat"`
	Status      SessionStatus   `json:"status" db:"status"`
	WagerAmount int64           `json:"wager_amount" db:"wager_amount"`
	EngineState json.RawMessage `json:"-" db:"engine_state"`
	Version     int64           `json:"version" db:"version"`
	ActionCount int             `json:"action_count" db:"action_count"`
	Outcome     *Outcome        `json:"outcome,omitempty" db:"outcome"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at" db:"updated_at"`
	SettledAt   *time.Time      `json:"settled_at,omitempty" db:"settled_at"`

	// Idempotency key and fingerprint of the last applied action. They are
	// written with the same versioned update as the action itself.
	LastActionKey         string `json:"-" db:"last_action_key"`
	LastActionFingerprint string `json:"-" db:"last_action_fingerprint"`
}

// Clone returns a deep copy safe to mutate
func (s *GameSession) Clone() *GameSession {
	c := *s
	if s.EngineState != nil {
		c.EngineState = append(json.RawMessage(nil), s.EngineState...)
	}
	if s.Outcome != nil {
		o := *s.Outcome
		o.Modifiers = append([]AppliedModifier(nil), s.Outcome.Modifiers...)
		c.Outcome = &o
	}
	if s.SettledAt != nil {
		t := *s.SettledAt
		c.SettledAt = &t
	}
	return &c
}

// AppliedModifier records one contextual house-edge multiplier
type AppliedModifier struct {
	Name       string          `json:"name"`
	Multiplier decimal.Decimal `json:"multiplier"`
	Reason     string          `json:"reason"`
}

// Outcome is the engine result after the house-edge policy was applied.
// FairPayout is the gross return implied by the paytable; AdjustedPayout is
// what the ledger credits.
type Outcome struct {
	SessionID           string            `json:"session_id"`
	Result              string            `json:"result"`
	RawPayoutMultiplier decimal.Decimal   `json:"raw_payout_multiplier"`
	FairPayout          int64             `json:"fair_payout"`
	AdjustedPayout      int64             `json:"adjusted_payout"`
	Jackpot             bool              `json:"jackpot,omitempty"`
	Modifiers           []AppliedModifier `json:"modifiers,omitempty"`
	Details             json.RawMessage   `json:"details,omitempty"`
	Pending             bool              `json:"pending,omitempty"`
}

// Game represents a game table definition
type Game struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	Type           GameType `json:"type"`
	TheoreticalRTP float64  `json:"theoretical_rtp"`
	MinBet         int64    `json:"min_bet"`
	MaxBet         int64    `json:"max_bet"`
	Enabled        bool     `json:"enabled"`
}

// EventSeverity represents audit event severity
type EventSeverity string

const (
	SeverityInfo     EventSeverity = "info"
	SeverityWarning  EventSeverity = "warning"
	SeverityError    EventSeverity = "error"
	SeverityCritical EventSeverity = "critical"
)

// AuditEvent represents a significant event
// GLI-19 §2.8.8 - Significant Event Information
type AuditEvent struct {
	ID          string          `json:"id" db:"id"`
	Type        string          `json:"type" db:"type"`
	Severity    EventSeverity   `json:"severity" db:"severity"`
	Timestamp   time.Time       `json:"timestamp" db:"timestamp"`
	AccountID   *string         `json:"account_id,omitempty" db:"account_id"`
	SessionID   *string         `json:"session_id,omitempty" db:"session_id"`
	Description string          `json:"description" db:"description"`
	Data        json.RawMessage `json:"data,omitempty" db:"data"`
	Component   string          `json:"component" db:"component"`
}

// GamingSystemStatus represents the overall gaming system state
// GLI-19 §2.4 - Gaming Management: Operator must be able to disable gaming on demand
type GamingSystemStatus struct {
	GamingEnabled  bool       `json:"gaming_enabled"`
	DisabledGames  []string   `json:"disabled_games,omitempty"`
	DisabledAt     *time.Time `json:"disabled_at,omitempty"`
	DisabledBy     string     `json:"disabled_by,omitempty"`
	DisabledReason string     `json:"disabled_reason,omitempty"`
	OpenSessions   int64      `json:"open_sessions"`
}
