// Package session is the game session state machine
// Compliant with GLI-19 §4.3.3: Game Cycle, §4.16: Interrupted Games
//
// A session moves open -> pending_settlement -> settled, or open ->
// abandoned. Actions on one session are serialized; a duplicate submission
// of an action already applied is answered with the stored result instead
// of being applied again.
package session

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/alexbotov/casino-core/internal/audit"
	"github.com/alexbotov/casino-core/internal/cache"
	"github.com/alexbotov/casino-core/internal/domain"
	"github.com/alexbotov/casino-core/internal/events"
	"github.com/alexbotov/casino-core/internal/game"
	"github.com/alexbotov/casino-core/internal/metrics"
	"github.com/alexbotov/casino-core/internal/rng"
	"github.com/alexbotov/casino-core/internal/wallet"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const defaultResultTTL = 10 * time.Minute

// Ledger is the part of the wallet a session reserves and refunds through
type Ledger interface {
	Reserve(ctx context.Context, accountID string, amount int64, referenceID string) (*wallet.Receipt, error)
	Refund(ctx context.Context, accountID string, amount int64, referenceID string) (*wallet.Receipt, error)
}

// Settler turns a terminal round into exactly one payout. It returns the
// session as stored afterwards, settled or pending_settlement.
type Settler interface {
	Settle(ctx context.Context, gs *domain.GameSession, result *game.Result) (*domain.GameSession, error)
}

// Gate reports whether a game may currently be played
type Gate interface {
	CheckAccess(ctx context.Context, gameID string) error
}

// OpenRequest opens a session with its wager
type OpenRequest struct {
	AccountID string          `json:"account_id"`
	GameType  domain.GameType `json:"game_type"`
	Wager     int64           `json:"wager"`
	Params    json.RawMessage `json:"params,omitempty"`
}

// ActionRequest applies one player decision. ActionID is an optional client
// idempotency key.
type ActionRequest struct {
	SessionID string          `json:"session_id"`
	ActionID  string          `json:"action_id,omitempty"`
	Action    string          `json:"action"`
	Params    json.RawMessage `json:"params,omitempty"`
}

// Result is the state of a session after open or an action
type Result struct {
	SessionID string               `json:"session_id"`
	AccountID string               `json:"account_id"`
	GameType  domain.GameType      `json:"game_type"`
	Status    domain.SessionStatus `json:"status"`
	Wager     int64                `json:"wager"`
	View      any                  `json:"view"`
	Terminal  bool                 `json:"terminal"`
	Outcome   *domain.Outcome      `json:"outcome,omitempty"`
	Duplicate bool                 `json:"duplicate,omitempty"`
}

// Manager runs sessions over a registry of engines
type Manager struct {
	store     Store
	registry  *game.Registry
	ledger    Ledger
	settler   Settler
	src       rng.Source
	gate      Gate
	cache     cache.Cache
	resultTTL time.Duration
	publisher events.Publisher
	audit     *audit.Service
	metrics   *metrics.Metrics
	logger    *zap.Logger
	now       func() time.Time
	locks     *keyedMutex
}

// Option configures the manager
type Option func(*Manager)

// WithGate checks gaming control before every open
func WithGate(g Gate) Option {
	return func(m *Manager) { m.gate = g }
}

// WithCache sets the result cache checked ahead of the stored last action
func WithCache(c cache.Cache, ttl time.Duration) Option {
	return func(m *Manager) {
		m.cache = c
		if ttl > 0 {
			m.resultTTL = ttl
		}
	}
}

// WithPublisher emits session lifecycle events
func WithPublisher(p events.Publisher) Option {
	return func(m *Manager) { m.publisher = p }
}

// WithAudit records session lifecycle events
func WithAudit(a *audit.Service) Option {
	return func(m *Manager) { m.audit = a }
}

// WithMetrics counts opened sessions
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

// WithLogger sets the structured logger
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a session manager
func NewManager(store Store, registry *game.Registry, ledger Ledger, settler Settler, src rng.Source, opts ...Option) *Manager {
	m := &Manager{
		store:     store,
		registry:  registry,
		ledger:    ledger,
		settler:   settler,
		src:       src,
		cache:     cache.NewMemory(),
		resultTTL: defaultResultTTL,
		publisher: events.Nop{},
		logger:    zap.NewNop(),
		now:       func() time.Time { return time.Now().UTC() },
		locks:     newKeyedMutex(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.Named("session")
	return m
}

// Open validates the wager, runs the opening of the round, reserves the
// wager and stores the session. Rounds that finish on the opening draw are
// settled before Open returns.
func (m *Manager) Open(ctx context.Context, req OpenRequest) (*Result, error) {
	if req.AccountID == "" {
		return nil, domain.NewValidationError(domain.ErrValidation, "account_id", "required")
	}
	engine, err := m.registry.Engine(req.GameType)
	if err != nil {
		return nil, err
	}
	g, err := m.registry.Game(req.GameType)
	if err != nil {
		return nil, err
	}
	if m.gate != nil {
		if err := m.gate.CheckAccess(ctx, g.ID); err != nil {
			return nil, err
		}
	}
	if err := m.registry.ValidateWager(req.GameType, req.Wager); err != nil {
		return nil, err
	}

	singleSeat := engine.TurnBased()
	if singleSeat {
		unlock := m.locks.Lock("open:" + req.AccountID + ":" + string(req.GameType))
		defer unlock()
		if _, err := m.store.FindOpen(ctx, req.AccountID, req.GameType); err == nil {
			return nil, domain.ErrSessionOpen
		} else if !errors.Is(err, domain.ErrSessionNotFound) {
			return nil, fmt.Errorf("failed to check open sessions: %w", err)
		}
	}

	round, err := engine.Start(ctx, m.src, req.Wager, req.Params)
	if err != nil {
		m.entropyFailure(err)
		return nil, err
	}

	now := m.now()
	gs := &domain.GameSession{
		ID:          uuid.New().String(),
		AccountID:   req.AccountID,
		GameType:    req.GameType,
		SingleSeat:  singleSeat,
		Status:      domain.SessionOpen,
		WagerAmount: req.Wager,
		EngineState: round.State,
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if _, err := m.ledger.Reserve(ctx, gs.AccountID, gs.WagerAmount, gs.ID); err != nil {
		return nil, err
	}
	if err := m.store.Create(ctx, gs); err != nil {
		if _, rerr := m.ledger.Refund(ctx, gs.AccountID, gs.WagerAmount, gs.ID); rerr != nil {
			m.logger.Error("refund after failed open failed",
				zap.String("session_id", gs.ID), zap.String("account_id", gs.AccountID), zap.Error(rerr))
		}
		if errors.Is(err, domain.ErrSessionOpen) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to store session: %w", err)
	}

	m.metrics.SessionOpened(string(gs.GameType))
	_ = m.audit.Log(ctx, audit.EventSessionOpened, domain.SeverityInfo,
		fmt.Sprintf("%s session opened", gs.GameType),
		map[string]interface{}{"wager": gs.WagerAmount, "game_type": gs.GameType},
		audit.WithAccount(gs.AccountID), audit.WithSession(gs.ID), audit.WithComponent("session"))
	m.publish(ctx, events.TypeSessionOpened, gs, gs.WagerAmount)
	m.logger.Info("session opened",
		zap.String("session_id", gs.ID),
		zap.String("account_id", gs.AccountID),
		zap.String("game_type", string(gs.GameType)),
		zap.Int64("wager", gs.WagerAmount))

	if round.Terminal {
		if gs, err = m.settle(ctx, gs, round.Result); err != nil {
			return nil, err
		}
	}
	return m.result(gs, round.View, round.Terminal), nil
}

// Apply advances a session by one player action
func (m *Manager) Apply(ctx context.Context, req ActionRequest) (*Result, error) {
	if req.Action == "" {
		return nil, domain.InvalidAction("action is required")
	}
	fingerprint := actionFingerprint(req.Action, req.Params)

	// The action count seen before queueing on the lock identifies which
	// step of the session an anonymous submission was meant for.
	seen, err := m.store.Get(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}
	actionKey := req.ActionID
	if actionKey == "" {
		actionKey = fingerprint + ":" + strconv.Itoa(seen.ActionCount)
	}
	key := "action:" + req.SessionID + ":" + actionKey

	unlock := m.locks.Lock(req.SessionID)
	defer unlock()

	if res, ok := m.cached(ctx, key); ok {
		res.Duplicate = true
		return res, nil
	}

	gs, err := m.store.Get(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}
	if gs.Status == domain.SessionAbandoned {
		return nil, domain.ErrSessionAbandoned
	}
	if gs.LastActionKey == actionKey {
		return m.replay(gs)
	}
	if gs.Status != domain.SessionOpen {
		if gs.LastActionFingerprint == fingerprint {
			return m.replay(gs)
		}
		if gs.Status == domain.SessionPendingSettlement {
			return nil, domain.ErrSettlementPending
		}
		return nil, domain.ErrSessionSettled
	}

	engine, err := m.registry.Engine(gs.GameType)
	if err != nil {
		return nil, err
	}
	round, err := engine.Apply(ctx, m.src, gs.EngineState, req.Action, req.Params)
	if err != nil {
		m.entropyFailure(err)
		return nil, err
	}

	doubleRef := gs.ID + ":double"
	if round.AdditionalStake > 0 {
		if _, err := m.ledger.Reserve(ctx, gs.AccountID, round.AdditionalStake, doubleRef); err != nil {
			return nil, err
		}
	}

	prev := gs.Version
	gs.EngineState = round.State
	gs.WagerAmount += round.AdditionalStake
	gs.ActionCount++
	gs.LastActionKey = actionKey
	gs.LastActionFingerprint = fingerprint
	gs.Version++
	gs.UpdatedAt = m.now()
	if err := m.store.Update(ctx, gs, prev); err != nil {
		if round.AdditionalStake > 0 {
			if _, rerr := m.ledger.Refund(ctx, gs.AccountID, round.AdditionalStake, doubleRef); rerr != nil {
				m.logger.Error("refund of additional stake failed", zap.String("session_id", gs.ID), zap.Error(rerr))
			}
		}
		return nil, fmt.Errorf("failed to store action: %w", err)
	}

	if round.Terminal {
		if gs, err = m.settle(ctx, gs, round.Result); err != nil {
			return nil, err
		}
	}

	res := m.result(gs, round.View, round.Terminal)
	m.remember(ctx, key, res)
	return res, nil
}

// replay answers a repeated submission of the last applied action from the
// stored session.
func (m *Manager) replay(gs *domain.GameSession) (*Result, error) {
	engine, err := m.registry.Engine(gs.GameType)
	if err != nil {
		return nil, err
	}
	view, err := engine.View(gs.EngineState)
	if err != nil {
		return nil, err
	}
	res := m.result(gs, view, gs.Status != domain.SessionOpen)
	res.Duplicate = true
	return res, nil
}

// settle hands a terminal round to the settler. A settlement failure leaves
// the session pending and is reported through its status, not as an error.
func (m *Manager) settle(ctx context.Context, gs *domain.GameSession, result *game.Result) (*domain.GameSession, error) {
	settled, err := m.settler.Settle(ctx, gs, result)
	if err != nil {
		if errors.Is(err, domain.ErrSettlementFailure) && settled != nil {
			m.logger.Warn("session held pending settlement", zap.String("session_id", gs.ID), zap.Error(err))
			return settled, nil
		}
		return nil, err
	}
	return settled, nil
}

// View returns the current state of a session
func (m *Manager) View(ctx context.Context, sessionID string) (*Result, error) {
	gs, err := m.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	engine, err := m.registry.Engine(gs.GameType)
	if err != nil {
		return nil, err
	}
	view, err := engine.View(gs.EngineState)
	if err != nil {
		return nil, err
	}
	return m.result(gs, view, gs.Status != domain.SessionOpen), nil
}

// Result returns the outcome of a finished session. A session still
// pending settlement returns its interim outcome with ErrSettlementPending.
func (m *Manager) Result(ctx context.Context, sessionID string) (*domain.Outcome, error) {
	gs, err := m.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	switch gs.Status {
	case domain.SessionSettled:
		return gs.Outcome, nil
	case domain.SessionPendingSettlement:
		return gs.Outcome, domain.ErrSettlementPending
	case domain.SessionAbandoned:
		return nil, domain.ErrSessionAbandoned
	}
	return nil, domain.ErrSessionInPlay
}

// Abandon refunds the reserved wager and closes an open session. It is the
// only cancellation path and is safe to repeat.
func (m *Manager) Abandon(ctx context.Context, sessionID, reason string) error {
	unlock := m.locks.Lock(sessionID)
	defer unlock()

	gs, err := m.store.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	switch gs.Status {
	case domain.SessionAbandoned:
		return nil
	case domain.SessionSettled:
		return domain.ErrSessionSettled
	case domain.SessionPendingSettlement:
		return domain.ErrSettlementPending
	}

	if _, err := m.ledger.Refund(ctx, gs.AccountID, gs.WagerAmount, gs.ID); err != nil {
		return fmt.Errorf("failed to refund wager: %w", err)
	}

	prev := gs.Version
	now := m.now()
	gs.Status = domain.SessionAbandoned
	gs.Version++
	gs.UpdatedAt = now
	gs.SettledAt = &now
	if err := m.store.Update(ctx, gs, prev); err != nil {
		return fmt.Errorf("failed to mark session abandoned: %w", err)
	}

	_ = m.audit.Log(ctx, audit.EventSessionAbandoned, domain.SeverityWarning,
		fmt.Sprintf("Session abandoned: %s", reason),
		map[string]interface{}{"refund": gs.WagerAmount, "reason": reason},
		audit.WithAccount(gs.AccountID), audit.WithSession(gs.ID), audit.WithComponent("session"))
	m.publish(ctx, events.TypeSessionAbandoned, gs, gs.WagerAmount)
	m.logger.Info("session abandoned",
		zap.String("session_id", gs.ID),
		zap.Int64("refund", gs.WagerAmount),
		zap.String("reason", reason))
	return nil
}

func (m *Manager) result(gs *domain.GameSession, view any, terminal bool) *Result {
	return &Result{
		SessionID: gs.ID,
		AccountID: gs.AccountID,
		GameType:  gs.GameType,
		Status:    gs.Status,
		Wager:     gs.WagerAmount,
		View:      view,
		Terminal:  terminal,
		Outcome:   gs.Outcome,
	}
}

func (m *Manager) cached(ctx context.Context, key string) (*Result, bool) {
	b, err := m.cache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, cache.ErrMiss) {
			m.logger.Warn("result cache read failed", zap.String("key", key), zap.Error(err))
		}
		return nil, false
	}
	var res Result
	if err := json.Unmarshal(b, &res); err != nil {
		return nil, false
	}
	return &res, true
}

func (m *Manager) remember(ctx context.Context, key string, res *Result) {
	b, err := json.Marshal(res)
	if err != nil {
		m.logger.Warn("result not cacheable", zap.String("session_id", res.SessionID), zap.Error(err))
		return
	}
	if err := m.cache.Set(ctx, key, b, m.resultTTL); err != nil {
		m.logger.Warn("result cache write failed", zap.String("key", key), zap.Error(err))
	}
}

func (m *Manager) publish(ctx context.Context, eventType string, gs *domain.GameSession, amount int64) {
	err := m.publisher.Publish(ctx, events.Event{
		ID:         uuid.New().String(),
		Type:       eventType,
		SessionID:  gs.ID,
		AccountID:  gs.AccountID,
		GameType:   string(gs.GameType),
		Amount:     amount,
		OccurredAt: m.now(),
	})
	if err != nil {
		m.logger.Warn("event not published", zap.String("type", eventType), zap.Error(err))
	}
}

func (m *Manager) entropyFailure(err error) {
	if errors.Is(err, domain.ErrEntropyUnavailable) {
		m.metrics.EntropyFailure()
		m.logger.Error("entropy unavailable, action rejected", zap.Error(err))
	}
}

func actionFingerprint(action string, params json.RawMessage) string {
	h := sha256.New()
	h.Write([]byte(action))
	h.Write([]byte{0})
	h.Write(params)
	return hex.EncodeToString(h.Sum(nil))
}
