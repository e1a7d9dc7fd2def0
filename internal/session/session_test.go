package session_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alexbotov/casino-core/internal/cache"
	"github.com/alexbotov/casino-core/internal/cards"
	"github.com/alexbotov/casino-core/internal/domain"
	"github.com/alexbotov/casino-core/internal/game"
	"github.com/alexbotov/casino-core/internal/houseedge"
	"github.com/alexbotov/casino-core/internal/rng"
	"github.com/alexbotov/casino-core/internal/session"
	"github.com/alexbotov/casino-core/internal/settlement"
	"github.com/alexbotov/casino-core/internal/wallet"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedSource replays prepared draws in order
type scriptedSource struct {
	mu    sync.Mutex
	draws [][]int
}

func (s *scriptedSource) Draw(n int, d rng.Domain) ([]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.draws) == 0 {
		return nil, errors.New("script exhausted")
	}
	next := s.draws[0]
	s.draws = s.draws[1:]
	if len(next) != n {
		return nil, fmt.Errorf("scripted %d values, asked for %d", len(next), n)
	}
	return next, nil
}

func (s *scriptedSource) deal(top string) *scriptedSource {
	used := make(map[int]bool)
	var order []int
	for _, c := range cards.MustParseHand(top) {
		used[cards.Index(c)] = true
		order = append(order, cards.Index(c))
	}
	for i := 0; i < 52; i++ {
		if !used[i] {
			order = append(order, i)
		}
	}
	s.mu.Lock()
	s.draws = append(s.draws, order)
	s.mu.Unlock()
	return s
}

func (s *scriptedSource) spin(n int) *scriptedSource {
	s.mu.Lock()
	s.draws = append(s.draws, []int{n})
	s.mu.Unlock()
	return s
}

// flakyLedger fails the next n Settle calls
type flakyLedger struct {
	*wallet.Service
	mu   sync.Mutex
	fail int
}

func (f *flakyLedger) Settle(ctx context.Context, accountID string, amount int64, referenceID string) (*wallet.Receipt, error) {
	f.mu.Lock()
	fail := f.fail > 0
	if fail {
		f.fail--
	}
	f.mu.Unlock()
	if fail {
		return nil, domain.ErrTransient
	}
	return f.Service.Settle(ctx, accountID, amount, referenceID)
}

// downCache misses every read and fails every write
type downCache struct{}

func (downCache) Get(ctx context.Context, key string) ([]byte, error) { return nil, cache.ErrMiss }
func (downCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return errors.New("cache unavailable")
}
func (downCache) Delete(ctx context.Context, key string) error { return nil }

type gateFunc func(ctx context.Context, gameID string) error

func (g gateFunc) CheckAccess(ctx context.Context, gameID string) error { return g(ctx, gameID) }

type fixture struct {
	ctx       context.Context
	wallet    *wallet.Service
	ledger    *flakyLedger
	store     *session.MemoryStore
	src       *scriptedSource
	manager   *session.Manager
	accountID string
}

func setupTestManager(t *testing.T, opts ...session.Option) *fixture {
	t.Helper()
	f := &fixture{
		ctx:   context.Background(),
		store: session.NewMemoryStore(),
		src:   &scriptedSource{},
	}
	f.wallet = wallet.New(wallet.NewMemoryStore())
	f.ledger = &flakyLedger{Service: f.wallet}

	registry := game.NewRegistry()
	require.NoError(t, registry.Register(domain.Game{Type: domain.GameBlackjack, Name: "Blackjack", MinBet: 10, MaxBet: 1000, Enabled: true},
		game.NewBlackjack(game.BlackjackRules{BlackjackPayout: decimal.NewFromFloat(1.5)})))
	require.NoError(t, registry.Register(domain.Game{Type: domain.GameRoulette, Name: "Roulette", MinBet: 10, MaxBet: 1000, Enabled: true},
		game.Roulette{}))

	policy, err := houseedge.New(houseedge.Config{}, nil)
	require.NoError(t, err)
	orch := settlement.New(f.store, f.ledger, policy)
	f.manager = session.NewManager(f.store, registry, f.wallet, orch, f.src, opts...)

	acct, err := f.wallet.OpenAccount(f.ctx, "player-1", "USD", domain.AccountModeReal)
	require.NoError(t, err)
	_, err = f.wallet.Deposit(f.ctx, acct.ID, 1000, "deposit-1")
	require.NoError(t, err)
	f.accountID = acct.ID
	return f
}

func (f *fixture) balance(t *testing.T) int64 {
	t.Helper()
	m, err := f.wallet.Balance(f.ctx, f.accountID)
	require.NoError(t, err)
	return m.Amount
}

func (f *fixture) entries(t *testing.T) []*domain.LedgerEntry {
	t.Helper()
	entries, err := f.wallet.Entries(f.ctx, f.accountID, 0)
	require.NoError(t, err)
	return entries
}

func (f *fixture) openBlackjack(t *testing.T, top string, wager int64) *session.Result {
	t.Helper()
	f.src.deal(top)
	res, err := f.manager.Open(f.ctx, session.OpenRequest{AccountID: f.accountID, GameType: domain.GameBlackjack, Wager: wager})
	require.NoError(t, err)
	return res
}

func straight(number int, amount int64) json.RawMessage {
	b, _ := json.Marshal(game.RouletteParams{Bets: []game.RouletteBet{{Type: game.BetStraight, Numbers: []int{number}, Amount: amount}}})
	return b
}

func TestOpenSingleShot(t *testing.T) {
	f := setupTestManager(t)
	f.src.spin(17)

	res, err := f.manager.Open(f.ctx, session.OpenRequest{
		AccountID: f.accountID,
		GameType:  domain.GameRoulette,
		Wager:     100,
		Params:    straight(17, 100),
	})
	require.NoError(t, err)
	assert.True(t, res.Terminal)
	assert.Equal(t, domain.SessionSettled, res.Status)
	require.NotNil(t, res.Outcome)
	assert.Equal(t, int64(3600), res.Outcome.AdjustedPayout)
	assert.Equal(t, int64(4500), f.balance(t))

	outcome, err := f.manager.Result(f.ctx, res.SessionID)
	require.NoError(t, err)
	assert.Equal(t, "win", outcome.Result)
	assert.NoError(t, f.wallet.Verify(f.ctx, f.accountID))
}

func TestOpenRejections(t *testing.T) {
	f := setupTestManager(t)

	t.Run("InsufficientFunds", func(t *testing.T) {
		f.src.deal("")
		_, err := f.manager.Open(f.ctx, session.OpenRequest{AccountID: f.accountID, GameType: domain.GameBlackjack, Wager: 1000})
		require.NoError(t, err)

		f.src.spin(3)
		_, err = f.manager.Open(f.ctx, session.OpenRequest{AccountID: f.accountID, GameType: domain.GameRoulette, Wager: 100, Params: straight(3, 100)})
		assert.ErrorIs(t, err, domain.ErrInsufficientFunds)
		// deposit plus the blackjack wager only
		assert.Len(t, f.entries(t), 2)
	})

	t.Run("WagerOutsideLimits", func(t *testing.T) {
		_, err := f.manager.Open(f.ctx, session.OpenRequest{AccountID: f.accountID, GameType: domain.GameRoulette, Wager: 5, Params: straight(3, 5)})
		assert.ErrorIs(t, err, domain.ErrInvalidWager)
	})

	t.Run("UnknownGame", func(t *testing.T) {
		_, err := f.manager.Open(f.ctx, session.OpenRequest{AccountID: f.accountID, GameType: domain.GameSlots, Wager: 100})
		assert.ErrorIs(t, err, domain.ErrGameNotFound)
	})

	t.Run("MalformedBet", func(t *testing.T) {
		bad, _ := json.Marshal(game.RouletteParams{Bets: []game.RouletteBet{{Type: game.BetSplit, Numbers: []int{1, 9}, Amount: 100}}})
		_, err := f.manager.Open(f.ctx, session.OpenRequest{AccountID: f.accountID, GameType: domain.GameRoulette, Wager: 100, Params: bad})
		assert.ErrorIs(t, err, domain.ErrInvalidAction)
	})
}

func TestSessionAlreadyOpen(t *testing.T) {
	f := setupTestManager(t)
	first := f.openBlackjack(t, "10S 9H 6D 7C", 100)
	require.False(t, first.Terminal)

	f.src.deal("")
	_, err := f.manager.Open(f.ctx, session.OpenRequest{AccountID: f.accountID, GameType: domain.GameBlackjack, Wager: 100})
	assert.ErrorIs(t, err, domain.ErrSessionOpen)
	assert.Equal(t, int64(900), f.balance(t))
}

func TestConcurrentOpenSameGame(t *testing.T) {
	f := setupTestManager(t)
	f.src.deal("10S 9H 2D 7C")

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.manager.Open(f.ctx, session.OpenRequest{AccountID: f.accountID, GameType: domain.GameBlackjack, Wager: 600})
		}(i)
	}
	wg.Wait()

	var opened, rejected int
	for _, err := range errs {
		switch {
		case err == nil:
			opened++
		case errors.Is(err, domain.ErrSessionOpen):
			rejected++
		default:
			t.Errorf("Expected ErrSessionOpen, got %v", err)
		}
	}
	assert.Equal(t, 1, opened)
	assert.Equal(t, 1, rejected)
	// deposit and one wager, no reserve-then-refund pair
	assert.Len(t, f.entries(t), 2)
	assert.Equal(t, int64(400), f.balance(t))
}

func TestBlackjackRound(t *testing.T) {
	f := setupTestManager(t)
	// player 10+2, dealer 9+7; the hit draws 5H, the dealer draws 10D
	opened := f.openBlackjack(t, "10S 9H 2D 7C 5H 10D", 100)
	assert.Equal(t, domain.SessionOpen, opened.Status)

	_, err := f.manager.Result(f.ctx, opened.SessionID)
	assert.ErrorIs(t, err, domain.ErrSessionInPlay)

	hit, err := f.manager.Apply(f.ctx, session.ActionRequest{SessionID: opened.SessionID, Action: game.ActionHit})
	require.NoError(t, err)
	assert.False(t, hit.Terminal)

	stand, err := f.manager.Apply(f.ctx, session.ActionRequest{SessionID: opened.SessionID, Action: game.ActionStand})
	require.NoError(t, err)
	assert.True(t, stand.Terminal)
	assert.Equal(t, domain.SessionSettled, stand.Status)
	assert.Equal(t, game.OutcomeDealerBust, stand.Outcome.Result)
	assert.Equal(t, int64(1100), f.balance(t))

	_, err = f.manager.Apply(f.ctx, session.ActionRequest{SessionID: opened.SessionID, Action: game.ActionHit})
	assert.ErrorIs(t, err, domain.ErrSessionSettled)

	view, err := f.manager.View(f.ctx, opened.SessionID)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionSettled, view.Status)

	_, err = f.manager.Apply(f.ctx, session.ActionRequest{SessionID: "missing", Action: game.ActionHit})
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestInvalidActionLeavesSessionUntouched(t *testing.T) {
	f := setupTestManager(t)
	opened := f.openBlackjack(t, "10S 9H 2D 7C", 100)

	_, err := f.manager.Apply(f.ctx, session.ActionRequest{SessionID: opened.SessionID, Action: "split"})
	assert.ErrorIs(t, err, domain.ErrInvalidAction)

	gs, err := f.store.Get(f.ctx, opened.SessionID)
	require.NoError(t, err)
	assert.Equal(t, 0, gs.ActionCount)
	assert.Equal(t, int64(1), gs.Version)
}

func TestDuplicateActionID(t *testing.T) {
	f := setupTestManager(t)
	opened := f.openBlackjack(t, "10S 9H 2D 7C 3H 4D", 100)

	req := session.ActionRequest{SessionID: opened.SessionID, ActionID: "a-1", Action: game.ActionHit}
	first, err := f.manager.Apply(f.ctx, req)
	require.NoError(t, err)
	assert.False(t, first.Duplicate)

	second, err := f.manager.Apply(f.ctx, req)
	require.NoError(t, err)
	assert.True(t, second.Duplicate)

	gs, err := f.store.Get(f.ctx, opened.SessionID)
	require.NoError(t, err)
	assert.Equal(t, 1, gs.ActionCount)

	// a new action id is a new hit
	_, err = f.manager.Apply(f.ctx, session.ActionRequest{SessionID: opened.SessionID, ActionID: "a-2", Action: game.ActionHit})
	require.NoError(t, err)
	gs, _ = f.store.Get(f.ctx, opened.SessionID)
	assert.Equal(t, 2, gs.ActionCount)
}

func TestConcurrentDuplicateApply(t *testing.T) {
	f := setupTestManager(t)
	opened := f.openBlackjack(t, "10S 9H 6D 8C", 100)

	var wg sync.WaitGroup
	results := make([]*session.Result, 2)
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = f.manager.Apply(f.ctx, session.ActionRequest{SessionID: opened.SessionID, Action: game.ActionStand})
		}(i)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.NotEqual(t, results[0].Duplicate, results[1].Duplicate, "exactly one call must apply the action")
	assert.Equal(t, results[0].Outcome.Result, results[1].Outcome.Result)

	// deposit, wager, payout
	assert.Len(t, f.entries(t), 3)
	gs, err := f.store.Get(f.ctx, opened.SessionID)
	require.NoError(t, err)
	assert.Equal(t, 1, gs.ActionCount)
}

func TestDuplicateDetectionWithoutCache(t *testing.T) {
	t.Run("ActionID", func(t *testing.T) {
		f := setupTestManager(t, session.WithCache(downCache{}, 0))
		opened := f.openBlackjack(t, "10S 9H 2D 7C 3H 4D", 100)

		req := session.ActionRequest{SessionID: opened.SessionID, ActionID: "a-1", Action: game.ActionHit}
		first, err := f.manager.Apply(f.ctx, req)
		require.NoError(t, err)
		assert.False(t, first.Duplicate)

		second, err := f.manager.Apply(f.ctx, req)
		require.NoError(t, err)
		assert.True(t, second.Duplicate)
		assert.Equal(t, domain.SessionOpen, second.Status)
		assert.False(t, second.Terminal)

		gs, err := f.store.Get(f.ctx, opened.SessionID)
		require.NoError(t, err)
		assert.Equal(t, 1, gs.ActionCount)
	})

	t.Run("ConcurrentAnonymous", func(t *testing.T) {
		f := setupTestManager(t, session.WithCache(downCache{}, 0))
		opened := f.openBlackjack(t, "10S 9H 2D 7C 3H 4D", 100)

		var wg sync.WaitGroup
		results := make([]*session.Result, 2)
		errs := make([]error, 2)
		for i := 0; i < 2; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				results[i], errs[i] = f.manager.Apply(f.ctx, session.ActionRequest{SessionID: opened.SessionID, Action: game.ActionHit})
			}(i)
		}
		wg.Wait()

		require.NoError(t, errs[0])
		require.NoError(t, errs[1])
		assert.NotEqual(t, results[0].Duplicate, results[1].Duplicate, "exactly one call must apply the action")

		gs, err := f.store.Get(f.ctx, opened.SessionID)
		require.NoError(t, err)
		assert.Equal(t, 1, gs.ActionCount)
	})

	t.Run("SettledReplay", func(t *testing.T) {
		f := setupTestManager(t, session.WithCache(downCache{}, 0))
		opened := f.openBlackjack(t, "10S 9H 6D 8C", 100)

		req := session.ActionRequest{SessionID: opened.SessionID, Action: game.ActionStand}
		first, err := f.manager.Apply(f.ctx, req)
		require.NoError(t, err)
		require.True(t, first.Terminal)

		again, err := f.manager.Apply(f.ctx, req)
		require.NoError(t, err)
		assert.True(t, again.Duplicate)
		assert.Equal(t, domain.SessionSettled, again.Status)
		assert.Equal(t, first.Outcome.AdjustedPayout, again.Outcome.AdjustedPayout)

		// deposit, wager, payout
		assert.Len(t, f.entries(t), 3)

		_, err = f.manager.Apply(f.ctx, session.ActionRequest{SessionID: opened.SessionID, Action: game.ActionHit})
		assert.ErrorIs(t, err, domain.ErrSessionSettled)
	})
}

func TestDoubleReservesAdditionalStake(t *testing.T) {
	f := setupTestManager(t)
	opened := f.openBlackjack(t, "6S 10H 5D 7C 10D", 100)

	res, err := f.manager.Apply(f.ctx, session.ActionRequest{SessionID: opened.SessionID, Action: game.ActionDouble})
	require.NoError(t, err)
	assert.True(t, res.Terminal)
	assert.Equal(t, int64(200), res.Wager)
	assert.Equal(t, int64(400), res.Outcome.AdjustedPayout)
	assert.Equal(t, int64(1200), f.balance(t))

	var refs []string
	for _, e := range f.entries(t) {
		if e.Kind == domain.EntryWager {
			refs = append(refs, e.ReferenceID)
		}
	}
	assert.Equal(t, []string{opened.SessionID, opened.SessionID + ":double"}, refs)
}

func TestDoubleWithoutFunds(t *testing.T) {
	f := setupTestManager(t)
	opened := f.openBlackjack(t, "6S 10H 5D 7C 10D", 600)

	_, err := f.manager.Apply(f.ctx, session.ActionRequest{SessionID: opened.SessionID, Action: game.ActionDouble})
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)

	gs, err := f.store.Get(f.ctx, opened.SessionID)
	require.NoError(t, err)
	assert.Equal(t, int64(600), gs.WagerAmount)
	assert.Equal(t, domain.SessionOpen, gs.Status)
}

func TestAbandonRefunds(t *testing.T) {
	f := setupTestManager(t)
	opened := f.openBlackjack(t, "10S 9H 2D 7C", 100)
	require.Equal(t, int64(900), f.balance(t))

	require.NoError(t, f.manager.Abandon(f.ctx, opened.SessionID, "player left"))
	assert.Equal(t, int64(1000), f.balance(t))

	require.NoError(t, f.manager.Abandon(f.ctx, opened.SessionID, "again"))
	assert.Equal(t, int64(1000), f.balance(t))

	_, err := f.manager.Apply(f.ctx, session.ActionRequest{SessionID: opened.SessionID, Action: game.ActionHit})
	assert.ErrorIs(t, err, domain.ErrSessionAbandoned)
	_, err = f.manager.Result(f.ctx, opened.SessionID)
	assert.ErrorIs(t, err, domain.ErrSessionAbandoned)

	// the seat is free again
	f.openBlackjack(t, "10S 9H 2D 7C", 100)
}

func TestAbandonSettledSession(t *testing.T) {
	f := setupTestManager(t)
	f.src.spin(0)
	res, err := f.manager.Open(f.ctx, session.OpenRequest{AccountID: f.accountID, GameType: domain.GameRoulette, Wager: 100, Params: straight(17, 100)})
	require.NoError(t, err)

	assert.ErrorIs(t, f.manager.Abandon(f.ctx, res.SessionID, "late"), domain.ErrSessionSettled)
	assert.Equal(t, int64(900), f.balance(t))
}

func TestEntropyFailureAdvancesNothing(t *testing.T) {
	f := setupTestManager(t)
	registry := game.NewRegistry()
	require.NoError(t, registry.Register(domain.Game{Type: domain.GameRoulette, MinBet: 10, MaxBet: 1000}, game.Roulette{}))
	policy, _ := houseedge.New(houseedge.Config{}, nil)
	m := session.NewManager(f.store, registry, f.wallet, settlement.New(f.store, f.wallet, policy), rng.Failing{})

	_, err := m.Open(f.ctx, session.OpenRequest{AccountID: f.accountID, GameType: domain.GameRoulette, Wager: 100, Params: straight(17, 100)})
	assert.ErrorIs(t, err, domain.ErrEntropyUnavailable)
	assert.Len(t, f.entries(t), 1)
}

func TestGateBlocksOpen(t *testing.T) {
	f := setupTestManager(t, session.WithGate(gateFunc(func(ctx context.Context, gameID string) error {
		if gameID == "roulette" {
			return domain.ErrGameDisabled
		}
		return nil
	})))

	_, err := f.manager.Open(f.ctx, session.OpenRequest{AccountID: f.accountID, GameType: domain.GameRoulette, Wager: 100, Params: straight(17, 100)})
	assert.ErrorIs(t, err, domain.ErrGameDisabled)
	assert.Len(t, f.entries(t), 1)

	f.openBlackjack(t, "10S 9H 2D 7C", 100)
}

func TestPendingSettlement(t *testing.T) {
	f := setupTestManager(t)
	f.ledger.fail = 1
	f.src.spin(17)

	res, err := f.manager.Open(f.ctx, session.OpenRequest{AccountID: f.accountID, GameType: domain.GameRoulette, Wager: 100, Params: straight(17, 100)})
	require.NoError(t, err)
	assert.Equal(t, domain.SessionPendingSettlement, res.Status)
	assert.True(t, res.Outcome.Pending)

	outcome, err := f.manager.Result(f.ctx, res.SessionID)
	assert.ErrorIs(t, err, domain.ErrSettlementPending)
	require.NotNil(t, outcome)
	assert.Equal(t, int64(3600), outcome.AdjustedPayout)
	assert.Equal(t, int64(900), f.balance(t))

	assert.ErrorIs(t, f.manager.Abandon(f.ctx, res.SessionID, "stuck"), domain.ErrSettlementPending)
}
