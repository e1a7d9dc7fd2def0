// Package settlement glues a finished game round to exactly one ledger payout
// Compliant with GLI-19 §2.5.6: Financial Transactions, §4.16: Interrupted Games
//
// The session is marked pending_settlement with its computed outcome before
// the ledger is called, so a failed or interrupted payout is always durable
// and is retried with the same reference and amount, never recomputed.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alexbotov/casino-core/internal/audit"
	"github.com/alexbotov/casino-core/internal/domain"
	"github.com/alexbotov/casino-core/internal/events"
	"github.com/alexbotov/casino-core/internal/game"
	"github.com/alexbotov/casino-core/internal/houseedge"
	"github.com/alexbotov/casino-core/internal/metrics"
	"github.com/alexbotov/casino-core/internal/session"
	"github.com/alexbotov/casino-core/internal/wallet"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Ledger credits payouts
type Ledger interface {
	Settle(ctx context.Context, accountID string, amount int64, referenceID string) (*wallet.Receipt, error)
}

// Orchestrator settles terminal sessions
type Orchestrator struct {
	store     session.Store
	ledger    Ledger
	policy    *houseedge.Policy
	streaks   *StreakTracker
	publisher events.Publisher
	audit     *audit.Service
	metrics   *metrics.Metrics
	logger    *zap.Logger
	now       func() time.Time
	largeWin  int64
}

var _ session.Settler = (*Orchestrator)(nil)

// Option configures the orchestrator
type Option func(*Orchestrator)

// WithPublisher emits settlement events
func WithPublisher(p events.Publisher) Option {
	return func(o *Orchestrator) { o.publisher = p }
}

// WithAudit records settlements, failures and applied modifiers
func WithAudit(a *audit.Service) Option {
	return func(o *Orchestrator) { o.audit = a }
}

// WithMetrics counts settlements
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithLogger sets the structured logger
func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithStreaks shares a streak tracker
func WithStreaks(s *StreakTracker) Option {
	return func(o *Orchestrator) { o.streaks = s }
}

// WithLargeWinThreshold audits payouts at or above amount (GLI-19 §2.8.8)
func WithLargeWinThreshold(amount int64) Option {
	return func(o *Orchestrator) { o.largeWin = amount }
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// New creates an orchestrator
func New(store session.Store, ledger Ledger, policy *houseedge.Policy, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:     store,
		ledger:    ledger,
		policy:    policy,
		streaks:   NewStreakTracker(),
		publisher: events.Nop{},
		logger:    zap.NewNop(),
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = o.logger.Named("settlement")
	return o
}

// Settle prices result through the house-edge policy and credits it once.
// On a ledger failure the returned session is pending_settlement and the
// error is a *domain.SettlementError.
func (o *Orchestrator) Settle(ctx context.Context, gs *domain.GameSession, result *game.Result) (*domain.GameSession, error) {
	switch gs.Status {
	case domain.SessionOpen:
	case domain.SessionPendingSettlement:
		return o.finish(ctx, gs)
	case domain.SessionSettled:
		return gs, nil
	default:
		return nil, domain.ErrSessionAbandoned
	}
	if result == nil {
		return nil, fmt.Errorf("session %s reached a terminal state without a result", gs.ID)
	}

	adj, err := o.policy.Adjust(houseedge.Raw{
		GameType: gs.GameType,
		Stake:    result.Stake,
		Gross:    result.Gross,
		Returned: result.Returned,
	}, houseedge.Context{Now: o.now(), WinStreak: o.streaks.Get(gs.AccountID)})
	if err != nil {
		return nil, fmt.Errorf("failed to apply house edge: %w", err)
	}

	outcome := &domain.Outcome{
		SessionID:           gs.ID,
		Result:              result.Descriptor,
		RawPayoutMultiplier: result.Multiplier,
		FairPayout:          adj.Fair,
		AdjustedPayout:      adj.Payout,
		Jackpot:             result.Jackpot,
		Modifiers:           adj.Modifiers,
		Details:             result.Details,
		Pending:             true,
	}

	next := gs.Clone()
	next.Status = domain.SessionPendingSettlement
	next.Outcome = outcome
	next.Version++
	next.UpdatedAt = o.now()
	if err := o.store.Update(ctx, next, gs.Version); err != nil {
		return nil, fmt.Errorf("failed to record pending settlement: %w", err)
	}

	for _, mod := range adj.Modifiers {
		o.metrics.ModifierApplied(mod.Name)
		_ = o.audit.Log(ctx, audit.EventHouseEdgeModifier, domain.SeverityInfo,
			fmt.Sprintf("House edge modifier %s applied", mod.Name),
			map[string]interface{}{"multiplier": mod.Multiplier.String(), "reason": mod.Reason, "fair": adj.Fair, "payout": adj.Payout},
			audit.WithAccount(gs.AccountID), audit.WithSession(gs.ID), audit.WithComponent("settlement"))
	}

	return o.finish(ctx, next)
}

// Retry re-issues the ledger call of a pending session with its stored
// amount and reference
func (o *Orchestrator) Retry(ctx context.Context, sessionID string) (*domain.GameSession, error) {
	gs, err := o.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	switch gs.Status {
	case domain.SessionSettled:
		return gs, nil
	case domain.SessionPendingSettlement:
		return o.finish(ctx, gs)
	case domain.SessionAbandoned:
		return nil, domain.ErrSessionAbandoned
	}
	return nil, domain.ErrSessionInPlay
}

// finish credits the stored outcome and marks the session settled
func (o *Orchestrator) finish(ctx context.Context, gs *domain.GameSession) (*domain.GameSession, error) {
	if gs.Outcome == nil {
		return nil, fmt.Errorf("pending session %s has no outcome", gs.ID)
	}
	amount := gs.Outcome.AdjustedPayout

	if _, err := o.ledger.Settle(ctx, gs.AccountID, amount, gs.ID); err != nil {
		return gs, o.failed(ctx, gs, amount, err)
	}

	next := gs.Clone()
	now := o.now()
	next.Status = domain.SessionSettled
	next.Outcome.Pending = false
	next.Version++
	next.UpdatedAt = now
	next.SettledAt = &now
	if err := o.store.Update(ctx, next, gs.Version); err != nil {
		if errors.Is(err, domain.ErrConcurrencyConflict) {
			if cur, gerr := o.store.Get(ctx, gs.ID); gerr == nil && cur.Status == domain.SessionSettled {
				return cur, nil
			}
		}
		return gs, o.failed(ctx, gs, amount, fmt.Errorf("ledger credited but session not marked settled: %w", err))
	}

	o.streaks.Record(gs.AccountID, amount > gs.WagerAmount)
	o.metrics.Settlement(string(gs.GameType), "settled", amount)
	_ = o.audit.Log(ctx, audit.EventSettlementCompleted, domain.SeverityInfo,
		fmt.Sprintf("%s session settled: %s", gs.GameType, gs.Outcome.Result),
		map[string]interface{}{"payout": amount, "fair": gs.Outcome.FairPayout, "wager": gs.WagerAmount},
		audit.WithAccount(gs.AccountID), audit.WithSession(gs.ID), audit.WithComponent("settlement"))
	if o.largeWin > 0 && amount >= o.largeWin {
		_ = o.audit.Log(ctx, audit.EventLargeWin, domain.SeverityWarning,
			fmt.Sprintf("Large win of %d", amount),
			map[string]interface{}{"payout": amount, "jackpot": gs.Outcome.Jackpot},
			audit.WithAccount(gs.AccountID), audit.WithSession(gs.ID), audit.WithComponent("settlement"))
	}
	o.publish(ctx, events.TypeSettlementCompleted, next, amount)
	o.logger.Info("session settled",
		zap.String("session_id", gs.ID),
		zap.String("account_id", gs.AccountID),
		zap.String("result", gs.Outcome.Result),
		zap.Int64("payout", amount))
	return next, nil
}

func (o *Orchestrator) failed(ctx context.Context, gs *domain.GameSession, amount int64, cause error) error {
	o.metrics.Settlement(string(gs.GameType), "failed", amount)
	_ = o.audit.Log(ctx, audit.EventSettlementFailed, domain.SeverityCritical,
		fmt.Sprintf("Settlement of %d held pending", amount),
		map[string]interface{}{"payout": amount, "error": cause.Error()},
		audit.WithAccount(gs.AccountID), audit.WithSession(gs.ID), audit.WithComponent("settlement"))
	o.publish(ctx, events.TypeSettlementFailed, gs, amount)
	o.logger.Error("settlement failed",
		zap.String("session_id", gs.ID),
		zap.Int64("payout", amount),
		zap.Error(cause))
	return &domain.SettlementError{SessionID: gs.ID, ReferenceID: gs.ID, Amount: amount, Cause: cause}
}

func (o *Orchestrator) publish(ctx context.Context, eventType string, gs *domain.GameSession, amount int64) {
	err := o.publisher.Publish(ctx, events.Event{
		ID:         uuid.New().String(),
		Type:       eventType,
		SessionID:  gs.ID,
		AccountID:  gs.AccountID,
		GameType:   string(gs.GameType),
		Amount:     amount,
		OccurredAt: o.now(),
	})
	if err != nil {
		o.logger.Warn("event not published", zap.String("type", eventType), zap.Error(err))
	}
}
