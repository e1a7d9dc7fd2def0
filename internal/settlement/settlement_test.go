package settlement

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alexbotov/casino-core/internal/domain"
	"github.com/alexbotov/casino-core/internal/events"
	"github.com/alexbotov/casino-core/internal/game"
	"github.com/alexbotov/casino-core/internal/houseedge"
	"github.com/alexbotov/casino-core/internal/metrics"
	"github.com/alexbotov/casino-core/internal/session"
	"github.com/alexbotov/casino-core/internal/wallet"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"
)

// failingLedger fails the next n Settle calls before delegating
type failingLedger struct {
	*wallet.Service
	fail int
}

func (f *failingLedger) Settle(ctx context.Context, accountID string, amount int64, referenceID string) (*wallet.Receipt, error) {
	if f.fail > 0 {
		f.fail--
		return nil, domain.ErrTransient
	}
	return f.Service.Settle(ctx, accountID, amount, referenceID)
}

type SettlementTestSuite struct {
	suite.Suite
	ctx       context.Context
	wallet    *wallet.Service
	ledger    *failingLedger
	store     *session.MemoryStore
	events    *events.Recorder
	metrics   *metrics.Metrics
	orch      *Orchestrator
	accountID string
}

func (s *SettlementTestSuite) SetupTest() {
	s.ctx = context.Background()
	s.wallet = wallet.New(wallet.NewMemoryStore())
	s.ledger = &failingLedger{Service: s.wallet}
	s.store = session.NewMemoryStore()
	s.events = &events.Recorder{}
	s.metrics = metrics.New(prometheus.NewRegistry())

	policy, err := houseedge.New(houseedge.Config{
		SlotsTargetRTP:   decimal.NewFromFloat(0.96),
		SlotsPaytableRTP: decimal.NewFromFloat(0.98),
		ModifierFloor:    decimal.NewFromFloat(0.9),
		Streak: houseedge.Streak{
			Enabled:    true,
			Threshold:  2,
			Multiplier: decimal.NewFromFloat(0.9),
		},
	}, nil)
	s.Require().NoError(err)

	s.orch = New(s.store, s.ledger, policy,
		WithPublisher(s.events),
		WithMetrics(s.metrics),
		WithLargeWinThreshold(5000))

	acct, err := s.wallet.OpenAccount(s.ctx, "player-1", "USD", domain.AccountModeReal)
	s.Require().NoError(err)
	_, err = s.wallet.Deposit(s.ctx, acct.ID, 1000, "deposit-1")
	s.Require().NoError(err)
	s.accountID = acct.ID
}

func TestSettlementSuite(t *testing.T) {
	suite.Run(t, new(SettlementTestSuite))
}

// openSession reserves the wager and stores an open session the way the
// session manager does
func (s *SettlementTestSuite) openSession(gameType domain.GameType, wager int64) *domain.GameSession {
	now := time.Now().UTC()
	gs := &domain.GameSession{
		ID:          uuid.New().String(),
		AccountID:   s.accountID,
		GameType:    gameType,
		Status:      domain.SessionOpen,
		WagerAmount: wager,
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	_, err := s.wallet.Reserve(s.ctx, s.accountID, wager, gs.ID)
	s.Require().NoError(err)
	s.Require().NoError(s.store.Create(s.ctx, gs))
	return gs
}

func result(descriptor string, stake, gross, returned int64) *game.Result {
	r := &game.Result{Descriptor: descriptor, Stake: stake, Gross: gross, Returned: returned, Multiplier: decimal.Zero}
	if stake > 0 {
		r.Multiplier = decimal.NewFromInt(gross).Div(decimal.NewFromInt(stake))
	}
	return r
}

func (s *SettlementTestSuite) balance() int64 {
	m, err := s.wallet.Balance(s.ctx, s.accountID)
	s.Require().NoError(err)
	return m.Amount
}

func (s *SettlementTestSuite) payouts(sessionID string) int {
	entries, err := s.wallet.Entries(s.ctx, s.accountID, 0)
	s.Require().NoError(err)
	n := 0
	for _, e := range entries {
		if e.Kind == domain.EntryPayout && e.ReferenceID == sessionID {
			n++
		}
	}
	return n
}

func (s *SettlementTestSuite) TestSettleCreditsOnce() {
	gs := s.openSession(domain.GameBlackjack, 100)

	settled, err := s.orch.Settle(s.ctx, gs, result("player_win", 100, 200, 100))
	s.Require().NoError(err)
	s.Equal(domain.SessionSettled, settled.Status)
	s.Equal(int64(200), settled.Outcome.AdjustedPayout)
	s.False(settled.Outcome.Pending)
	s.NotNil(settled.SettledAt)
	s.Equal(int64(1100), s.balance())

	stored, err := s.store.Get(s.ctx, gs.ID)
	s.Require().NoError(err)
	s.Equal(domain.SessionSettled, stored.Status)
	s.Equal(int64(3), stored.Version)

	again, err := s.orch.Settle(s.ctx, stored, result("player_win", 100, 200, 100))
	s.Require().NoError(err)
	s.Equal(domain.SessionSettled, again.Status)
	s.Equal(1, s.payouts(gs.ID))
	s.Equal(int64(1100), s.balance())

	s.Len(s.events.OfType(events.TypeSettlementCompleted), 1)
	s.Equal(float64(1), testutil.ToFloat64(s.metrics.Settlements.WithLabelValues("blackjack", "settled")))
	s.NoError(s.wallet.Verify(s.ctx, s.accountID))
}

func (s *SettlementTestSuite) TestLossRecordsZeroPayout() {
	gs := s.openSession(domain.GameRoulette, 100)

	settled, err := s.orch.Settle(s.ctx, gs, result("lose", 100, 0, 0))
	s.Require().NoError(err)
	s.Equal(int64(0), settled.Outcome.AdjustedPayout)
	s.Equal(1, s.payouts(gs.ID))
	s.Equal(int64(900), s.balance())
}

func (s *SettlementTestSuite) TestSlotsHaircut() {
	gs := s.openSession(domain.GameSlots, 100)

	settled, err := s.orch.Settle(s.ctx, gs, result("line_win", 100, 9800, 0))
	s.Require().NoError(err)
	s.Equal(int64(9800), settled.Outcome.FairPayout)
	s.Equal(int64(9600), settled.Outcome.AdjustedPayout)
	s.Require().Len(settled.Outcome.Modifiers, 1)
	s.Equal(houseedge.ModifierRTP, settled.Outcome.Modifiers[0].Name)
	s.Equal(float64(1), testutil.ToFloat64(s.metrics.ModifiersApplied.WithLabelValues(houseedge.ModifierRTP)))
}

func (s *SettlementTestSuite) TestLedgerFailureHoldsPending() {
	gs := s.openSession(domain.GameBlackjack, 100)
	s.ledger.fail = 1

	pending, err := s.orch.Settle(s.ctx, gs, result("player_win", 100, 200, 100))
	s.Require().Error(err)
	s.True(errors.Is(err, domain.ErrSettlementFailure))
	s.True(errors.Is(err, domain.ErrTransient))
	var serr *domain.SettlementError
	s.Require().True(errors.As(err, &serr))
	s.Equal(gs.ID, serr.ReferenceID)
	s.Equal(int64(200), serr.Amount)

	s.Equal(domain.SessionPendingSettlement, pending.Status)
	stored, err := s.store.Get(s.ctx, gs.ID)
	s.Require().NoError(err)
	s.Equal(domain.SessionPendingSettlement, stored.Status)
	s.True(stored.Outcome.Pending)
	s.Equal(int64(900), s.balance())
	s.Len(s.events.OfType(events.TypeSettlementFailed), 1)

	settled, err := s.orch.Retry(s.ctx, gs.ID)
	s.Require().NoError(err)
	s.Equal(domain.SessionSettled, settled.Status)
	s.Equal(int64(1100), s.balance())

	_, err = s.orch.Retry(s.ctx, gs.ID)
	s.Require().NoError(err)
	s.Equal(1, s.payouts(gs.ID))
}

func (s *SettlementTestSuite) TestRetryRejectsOpenSession() {
	gs := s.openSession(domain.GameBlackjack, 100)
	_, err := s.orch.Retry(s.ctx, gs.ID)
	s.ErrorIs(err, domain.ErrSessionInPlay)

	_, err = s.orch.Retry(s.ctx, "missing")
	s.ErrorIs(err, domain.ErrSessionNotFound)
}

func (s *SettlementTestSuite) TestStreakModifier() {
	for i := 0; i < 2; i++ {
		gs := s.openSession(domain.GameBlackjack, 100)
		settled, err := s.orch.Settle(s.ctx, gs, result("player_win", 100, 200, 100))
		s.Require().NoError(err)
		s.Empty(settled.Outcome.Modifiers)
	}
	s.Equal(2, s.orch.streaks.Get(s.accountID))

	gs := s.openSession(domain.GameBlackjack, 100)
	settled, err := s.orch.Settle(s.ctx, gs, result("player_win", 100, 200, 100))
	s.Require().NoError(err)
	s.Require().Len(settled.Outcome.Modifiers, 1)
	s.Equal(houseedge.ModifierStreak, settled.Outcome.Modifiers[0].Name)
	// winnings of 100 scaled by 0.9, stake returned in full
	s.Equal(int64(190), settled.Outcome.AdjustedPayout)

	gs = s.openSession(domain.GameBlackjack, 100)
	_, err = s.orch.Settle(s.ctx, gs, result("push", 100, 100, 100))
	s.Require().NoError(err)
	s.Equal(0, s.orch.streaks.Get(s.accountID))
}

func (s *SettlementTestSuite) TestAbandonedSessionIsNotSettled() {
	gs := s.openSession(domain.GameBlackjack, 100)
	gs.Status = domain.SessionAbandoned
	_, err := s.orch.Settle(s.ctx, gs, result("player_win", 100, 200, 100))
	s.ErrorIs(err, domain.ErrSessionAbandoned)
	s.Equal(0, s.payouts(gs.ID))
}

func (s *SettlementTestSuite) TestStaleVersionRejected() {
	gs := s.openSession(domain.GameBlackjack, 100)
	stale := gs.Clone()
	stale.Version = 7

	_, err := s.orch.Settle(s.ctx, stale, result("player_win", 100, 200, 100))
	s.ErrorIs(err, domain.ErrConcurrencyConflict)
	s.Equal(0, s.payouts(gs.ID))
}
