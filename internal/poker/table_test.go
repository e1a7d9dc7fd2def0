package poker

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/alexbotov/casino-core/internal/cards"
	"github.com/alexbotov/casino-core/internal/domain"
	"github.com/alexbotov/casino-core/internal/houseedge"
	"github.com/alexbotov/casino-core/internal/rng"
	"github.com/alexbotov/casino-core/internal/wallet"
	"github.com/shopspring/decimal"
)

// stackedSource deals the listed cards first, then the rest of the deck
type stackedSource struct {
	top string
}

func (s stackedSource) Draw(n int, d rng.Domain) ([]int, error) {
	used := make(map[int]bool)
	var order []int
	for _, c := range cards.MustParseHand(s.top) {
		used[cards.Index(c)] = true
		order = append(order, cards.Index(c))
	}
	for i := 0; i < 52; i++ {
		if !used[i] {
			order = append(order, i)
		}
	}
	if len(order) != n {
		return nil, fmt.Errorf("stacked %d cards, asked for %d", len(order), n)
	}
	return order, nil
}

// flakyLedger fails the next n Settle calls
type flakyLedger struct {
	*wallet.Service
	failSettles int
}

func (f *flakyLedger) Settle(ctx context.Context, accountID string, amount int64, referenceID string) (*wallet.Receipt, error) {
	if f.failSettles > 0 {
		f.failSettles--
		return nil, domain.ErrTransient
	}
	return f.Service.Settle(ctx, accountID, amount, referenceID)
}

type tableFixture struct {
	wallet   *wallet.Service
	ledger   *flakyLedger
	manager  *TableManager
	accounts []string
}

func setupTestTable(t *testing.T, top string, balances ...int64) (*tableFixture, string) {
	t.Helper()
	ctx := context.Background()

	w := wallet.New(wallet.NewMemoryStore())
	policy, err := houseedge.New(houseedge.Config{RakeRate: decimal.NewFromFloat(0.05), RakeCap: 300}, nil)
	if err != nil {
		t.Fatalf("Failed to create policy: %v", err)
	}
	f := &tableFixture{wallet: w, ledger: &flakyLedger{Service: w}}
	f.manager = NewTableManager(f.ledger, policy, stackedSource{top: top})

	table, err := f.manager.Create(ctx, TableConfig{Size: 6, Ante: 100})
	if err != nil {
		t.Fatalf("Failed to create table: %v", err)
	}
	for i, balance := range balances {
		acct, err := w.OpenAccount(ctx, fmt.Sprintf("player-%d", i), "USD", domain.AccountModeReal)
		if err != nil {
			t.Fatalf("Failed to open account: %v", err)
		}
		if balance > 0 {
			if _, err := w.Deposit(ctx, acct.ID, balance, "deposit-"+acct.ID); err != nil {
				t.Fatalf("Failed to deposit: %v", err)
			}
		}
		if err := f.manager.Join(ctx, table.ID, acct.ID, i); err != nil {
			t.Fatalf("Failed to join seat %d: %v", i, err)
		}
		f.accounts = append(f.accounts, acct.ID)
	}
	return f, table.ID
}

func (f *tableFixture) balance(t *testing.T, seat int) int64 {
	t.Helper()
	m, err := f.wallet.Balance(context.Background(), f.accounts[seat])
	if err != nil {
		t.Fatalf("Failed to get balance: %v", err)
	}
	return m.Amount
}

// Seats 0-2 with the button moving to seat 0 are dealt in the order 1, 2, 0.
const threeWayDeal = "AS 2C 3C AH 7D 8D KS QD 9H 5C 4S"

func TestShowdownSettlesEverySeat(t *testing.T) {
	ctx := context.Background()
	f, tableID := setupTestTable(t, threeWayDeal, 1000, 1000, 1000)

	handID, err := f.manager.StartHand(ctx, tableID)
	if err != nil {
		t.Fatalf("StartHand failed: %v", err)
	}

	hole, err := f.manager.Hole(tableID, 1)
	if err != nil {
		t.Fatalf("Hole failed: %v", err)
	}
	if hole[0] != cards.MustParseHand("AS")[0] || hole[1] != cards.MustParseHand("AH")[0] {
		t.Errorf("Expected seat 1 to hold aces, got %v", hole)
	}

	res, err := f.manager.Showdown(ctx, tableID)
	if err != nil {
		t.Fatalf("Showdown failed: %v", err)
	}
	if res.HandID != handID || res.Pot != 300 || res.Rake != 15 {
		t.Errorf("Expected pot 300 raked 15, got %+v", res)
	}
	if len(res.Showdown.Winners) != 1 || res.Showdown.Winners[0] != 1 {
		t.Errorf("Expected seat 1 to win, got %v", res.Showdown.Winners)
	}

	want := []int64{900, 1185, 900}
	for seat, w := range want {
		if got := f.balance(t, seat); got != w {
			t.Errorf("Seat %d: expected balance %d, got %d", seat, w, got)
		}
	}

	t.Run("EveryAnteHasOnePayout", func(t *testing.T) {
		for seat, acct := range f.accounts {
			entries, _ := f.wallet.Entries(ctx, acct, 0)
			if len(entries) != 3 {
				t.Errorf("Seat %d: expected deposit, wager and payout, got %d entries", seat, len(entries))
			}
			if err := f.wallet.Verify(ctx, acct); err != nil {
				t.Errorf("Seat %d: ledger replay failed: %v", seat, err)
			}
		}
	})

	t.Run("ShowdownIsIdempotent", func(t *testing.T) {
		if _, err := f.manager.Showdown(ctx, tableID); err != nil {
			t.Fatalf("Second showdown failed: %v", err)
		}
		if got := f.balance(t, 1); got != 1185 {
			t.Errorf("Expected balance to stay 1185, got %d", got)
		}
	})

	t.Run("ButtonMoves", func(t *testing.T) {
		view, _ := f.manager.Table(tableID)
		if view.Button != 0 || view.Hands != 1 || view.HandID != "" {
			t.Errorf("Expected button on 0 after one finished hand, got %+v", view)
		}
	})
}

func TestFoldUncontested(t *testing.T) {
	ctx := context.Background()
	f, tableID := setupTestTable(t, "", 1000, 1000)

	if _, err := f.manager.StartHand(ctx, tableID); err != nil {
		t.Fatalf("StartHand failed: %v", err)
	}
	res, err := f.manager.Fold(ctx, tableID, 1)
	if err != nil {
		t.Fatalf("Fold failed: %v", err)
	}
	if res == nil || res.Payouts[0] != 190 {
		t.Fatalf("Expected seat 0 to take 190 after rake, got %+v", res)
	}
	if got := f.balance(t, 0); got != 1090 {
		t.Errorf("Expected 1090, got %d", got)
	}
	if got := f.balance(t, 1); got != 900 {
		t.Errorf("Expected 900, got %d", got)
	}

	if _, err := f.manager.Fold(ctx, tableID, 0); !errors.Is(err, ErrNoHand) {
		t.Errorf("Expected ErrNoHand after the hand ended, got %v", err)
	}
}

func TestShortStackSitsOut(t *testing.T) {
	ctx := context.Background()
	f, tableID := setupTestTable(t, "", 1000, 1000, 50)

	if _, err := f.manager.StartHand(ctx, tableID); err != nil {
		t.Fatalf("StartHand failed: %v", err)
	}
	if _, err := f.manager.Hole(tableID, 2); !errors.Is(err, domain.ErrInvalidAction) {
		t.Errorf("Expected seat 2 out of the hand, got %v", err)
	}
	if got := f.balance(t, 2); got != 50 {
		t.Errorf("Expected short stack untouched at 50, got %d", got)
	}
}

func TestNotEnoughAntes(t *testing.T) {
	ctx := context.Background()
	f, tableID := setupTestTable(t, "", 1000, 10)

	_, err := f.manager.StartHand(ctx, tableID)
	if !errors.Is(err, domain.ErrInvalidAction) {
		t.Fatalf("Expected ErrInvalidAction, got %v", err)
	}
	if got := f.balance(t, 0); got != 1000 {
		t.Errorf("Expected the collected ante refunded, got %d", got)
	}
}

// shortSource returns a truncated permutation whatever size is asked for
type shortSource struct {
	n int
}

func (s shortSource) Draw(n int, d rng.Domain) ([]int, error) {
	order := make([]int, s.n)
	for i := range order {
		order[i] = i
	}
	return order, nil
}

func TestDealFailureRefundsAntes(t *testing.T) {
	ctx := context.Background()
	f, tableID := setupTestTable(t, "", 1000, 1000)
	f.manager.src = shortSource{n: 3}

	_, err := f.manager.StartHand(ctx, tableID)
	if !errors.Is(err, cards.ErrDeckExhausted) {
		t.Fatalf("Expected ErrDeckExhausted, got %v", err)
	}
	for seat := range f.accounts {
		if got := f.balance(t, seat); got != 1000 {
			t.Errorf("Seat %d: expected ante refunded to 1000, got %d", seat, got)
		}
	}
	if _, err := f.manager.Hole(tableID, 0); !errors.Is(err, ErrNoHand) {
		t.Errorf("Expected ErrNoHand after a failed deal, got %v", err)
	}
}

func TestSettlementRetry(t *testing.T) {
	ctx := context.Background()
	f, tableID := setupTestTable(t, threeWayDeal, 1000, 1000, 1000)
	if _, err := f.manager.StartHand(ctx, tableID); err != nil {
		t.Fatalf("StartHand failed: %v", err)
	}

	f.ledger.failSettles = 1
	_, err := f.manager.Showdown(ctx, tableID)
	var serr *domain.SettlementError
	if !errors.As(err, &serr) || !errors.Is(err, domain.ErrSettlementFailure) {
		t.Fatalf("Expected SettlementError, got %v", err)
	}

	if _, err := f.manager.StartHand(ctx, tableID); !errors.Is(err, ErrHandInPlay) {
		t.Errorf("Expected ErrHandInPlay while settlement is outstanding, got %v", err)
	}

	if _, err := f.manager.Showdown(ctx, tableID); err != nil {
		t.Fatalf("Retry failed: %v", err)
	}
	if got := f.balance(t, 1); got != 1185 {
		t.Errorf("Expected 1185, got %d", got)
	}
}

func TestTeardownRefunds(t *testing.T) {
	ctx := context.Background()
	f, tableID := setupTestTable(t, "", 1000, 1000)

	if _, err := f.manager.StartHand(ctx, tableID); err != nil {
		t.Fatalf("StartHand failed: %v", err)
	}
	if err := f.manager.Teardown(ctx, tableID); err != nil {
		t.Fatalf("Teardown failed: %v", err)
	}
	for seat := range f.accounts {
		if got := f.balance(t, seat); got != 1000 {
			t.Errorf("Seat %d: expected refund to 1000, got %d", seat, got)
		}
	}
	if _, err := f.manager.Table(tableID); !errors.Is(err, ErrTableNotFound) {
		t.Errorf("Expected ErrTableNotFound, got %v", err)
	}
}

func TestSeating(t *testing.T) {
	ctx := context.Background()
	f, tableID := setupTestTable(t, "", 1000)

	t.Run("SeatTaken", func(t *testing.T) {
		if err := f.manager.Join(ctx, tableID, "other", 0); !errors.Is(err, ErrSeatTaken) {
			t.Errorf("Expected ErrSeatTaken, got %v", err)
		}
	})

	t.Run("AlreadySeated", func(t *testing.T) {
		if err := f.manager.Join(ctx, tableID, f.accounts[0], 3); !errors.Is(err, ErrAlreadySeated) {
			t.Errorf("Expected ErrAlreadySeated, got %v", err)
		}
	})

	t.Run("OffTheTable", func(t *testing.T) {
		if err := f.manager.Join(ctx, tableID, "other", 6); !errors.Is(err, domain.ErrValidation) {
			t.Errorf("Expected ErrValidation, got %v", err)
		}
	})

	t.Run("NeedsTwoPlayers", func(t *testing.T) {
		if _, err := f.manager.StartHand(ctx, tableID); !errors.Is(err, domain.ErrInvalidAction) {
			t.Errorf("Expected ErrInvalidAction, got %v", err)
		}
	})

	t.Run("Leave", func(t *testing.T) {
		if err := f.manager.Leave(ctx, tableID, 0); err != nil {
			t.Fatalf("Leave failed: %v", err)
		}
		view, _ := f.manager.Table(tableID)
		if len(view.Seats) != 0 {
			t.Errorf("Expected empty table, got %d seats", len(view.Seats))
		}
	})

	t.Run("InvalidConfig", func(t *testing.T) {
		if _, err := f.manager.Create(ctx, TableConfig{Size: 1, Ante: 10}); err == nil {
			t.Error("Expected error for a one-seat table")
		}
		if _, err := f.manager.Create(ctx, TableConfig{Size: 6}); !errors.Is(err, domain.ErrInvalidWager) {
			t.Errorf("Expected ErrInvalidWager, got %v", err)
		}
	})
}

func TestOddChipOrder(t *testing.T) {
	seats := []int{0, 2, 4}
	OrderFromButton(seats, 2, 6)
	if seats[0] != 4 || seats[1] != 0 || seats[2] != 2 {
		t.Errorf("Expected [4 0 2], got %v", seats)
	}

	awards := SplitPot(101, seats)
	if awards[4] != 34 || awards[0] != 34 || awards[2] != 33 {
		t.Errorf("Expected odd chips to seats 4 and 0, got %v", awards)
	}
}

func TestDefaultTable(t *testing.T) {
	ctx := context.Background()
	m := NewTableManager(wallet.New(wallet.NewMemoryStore()), nil, stackedSource{},
		WithDefaultTable(TableConfig{Size: 6, Ante: 100}))

	view, err := m.Create(ctx, TableConfig{})
	if err != nil {
		t.Fatalf("Failed to create table: %v", err)
	}
	if view.Config.Size != 6 || view.Config.Ante != 100 {
		t.Errorf("Expected 6 seats at ante 100, got %+v", view.Config)
	}

	view, err = m.Create(ctx, TableConfig{Size: 2, Ante: 25})
	if err != nil {
		t.Fatalf("Failed to create table: %v", err)
	}
	if view.Config.Size != 2 || view.Config.Ante != 25 {
		t.Errorf("Expected explicit config to win, got %+v", view.Config)
	}

	if _, err := NewTableManager(nil, nil, nil).Create(ctx, TableConfig{}); err == nil {
		t.Error("Expected error without defaults")
	}
}
