package poker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/alexbotov/casino-core/internal/audit"
	"github.com/alexbotov/casino-core/internal/cards"
	"github.com/alexbotov/casino-core/internal/domain"
	"github.com/alexbotov/casino-core/internal/metrics"
	"github.com/alexbotov/casino-core/internal/rng"
	"github.com/alexbotov/casino-core/internal/wallet"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Table errors
var (
	ErrTableNotFound = errors.New("poker table not found")
	ErrSeatTaken     = errors.New("seat is taken")
	ErrAlreadySeated = errors.New("account already seated at this table")
	ErrHandInPlay    = errors.New("a hand is in play")
	ErrNoHand        = errors.New("no hand in play")
)

// Ledger is the part of the wallet a table moves chips through
type Ledger interface {
	Reserve(ctx context.Context, accountID string, amount int64, referenceID string) (*wallet.Receipt, error)
	Settle(ctx context.Context, accountID string, amount int64, referenceID string) (*wallet.Receipt, error)
	Refund(ctx context.Context, accountID string, amount int64, referenceID string) (*wallet.Receipt, error)
}

// Raker takes the house share of a pot
type Raker interface {
	Rake(pot int64) (rake, net int64)
}

// TableConfig describes a fixed-ante table
type TableConfig struct {
	Size int   `json:"size"`
	Ante int64 `json:"ante"`
}

// Seat is an occupied chair
type Seat struct {
	Number    int       `json:"number"`
	AccountID string    `json:"account_id"`
	JoinedAt  time.Time `json:"joined_at"`
}

// HandResult is the settled outcome of one hand
type HandResult struct {
	HandID   string          `json:"hand_id"`
	Board    []cards.Card    `json:"board"`
	Pot      int64           `json:"pot"`
	Rake     int64           `json:"rake"`
	Showdown *ShowdownResult `json:"showdown,omitempty"`
	Payouts  map[int]int64   `json:"payouts"`
}

type hand struct {
	id       string
	button   int
	deck     *cards.Deck
	board    []cards.Card
	seats    map[int]*Contender
	accounts map[int]string
	pot      int64
	result   *HandResult
	settled  map[int]bool
}

// Table is one live table. All fields are guarded by mu.
type Table struct {
	ID     string      `json:"id"`
	Config TableConfig `json:"config"`

	mu     sync.Mutex
	seats  map[int]*Seat
	button int
	hands  int64
	hand   *hand
}

// TableView is a snapshot safe to hand out
type TableView struct {
	ID     string      `json:"id"`
	Config TableConfig `json:"config"`
	Seats  []Seat      `json:"seats"`
	Button int         `json:"button"`
	Hands  int64       `json:"hands"`
	HandID string      `json:"hand_id,omitempty"`
}

// TableManager owns every live table. Tables are created, joined, played
// and torn down only through it.
type TableManager struct {
	ledger   Ledger
	raker    Raker
	src      rng.Source
	audit    *audit.Service
	metrics  *metrics.Metrics
	logger   *zap.Logger
	defaults TableConfig

	mu     sync.RWMutex
	tables map[string]*Table
}

// ManagerOption configures the table manager
type ManagerOption func(*TableManager)

// WithAudit records settled hands
func WithAudit(a *audit.Service) ManagerOption {
	return func(m *TableManager) { m.audit = a }
}

// WithMetrics counts settled hands
func WithMetrics(mt *metrics.Metrics) ManagerOption {
	return func(m *TableManager) { m.metrics = mt }
}

// WithLogger sets the structured logger
func WithLogger(l *zap.Logger) ManagerOption {
	return func(m *TableManager) { m.logger = l }
}

// WithDefaultTable fills the size and ante of tables created without them
func WithDefaultTable(cfg TableConfig) ManagerOption {
	return func(m *TableManager) { m.defaults = cfg }
}

// NewTableManager creates an empty manager
func NewTableManager(ledger Ledger, raker Raker, src rng.Source, opts ...ManagerOption) *TableManager {
	m := &TableManager{
		ledger: ledger,
		raker:  raker,
		src:    src,
		logger: zap.NewNop(),
		tables: make(map[string]*Table),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.Named("poker")
	return m
}

// Create opens a new table
func (m *TableManager) Create(ctx context.Context, cfg TableConfig) (*TableView, error) {
	if cfg.Size == 0 {
		cfg.Size = m.defaults.Size
	}
	if cfg.Ante == 0 {
		cfg.Ante = m.defaults.Ante
	}
	if cfg.Size < 2 || cfg.Size > 10 {
		return nil, domain.NewValidationError(domain.ErrValidation, "size", "must be 2-10 seats")
	}
	if cfg.Ante <= 0 {
		return nil, domain.InvalidWager("ante must be positive")
	}
	t := &Table{
		ID:     uuid.New().String(),
		Config: cfg,
		seats:  make(map[int]*Seat),
		button: cfg.Size - 1,
	}

	m.mu.Lock()
	m.tables[t.ID] = t
	m.mu.Unlock()

	m.logger.Info("table created", zap.String("table_id", t.ID), zap.Int("size", cfg.Size), zap.Int64("ante", cfg.Ante))
	return t.view(), nil
}

func (m *TableManager) table(tableID string) (*Table, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tables[tableID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTableNotFound, tableID)
	}
	return t, nil
}

// Tables lists live tables
func (m *TableManager) Tables() []*TableView {
	m.mu.RLock()
	tables := make([]*Table, 0, len(m.tables))
	for _, t := range m.tables {
		tables = append(tables, t)
	}
	m.mu.RUnlock()

	views := make([]*TableView, 0, len(tables))
	for _, t := range tables {
		t.mu.Lock()
		views = append(views, t.view())
		t.mu.Unlock()
	}
	sort.Slice(views, func(i, j int) bool { return views[i].ID < views[j].ID })
	return views
}

// Table returns a snapshot of one table
func (m *TableManager) Table(tableID string) (*TableView, error) {
	t, err := m.table(tableID)
	if err != nil {
		return nil, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.view(), nil
}

// Join seats an account
func (m *TableManager) Join(ctx context.Context, tableID, accountID string, seat int) error {
	t, err := m.table(tableID)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if seat < 0 || seat >= t.Config.Size {
		return domain.NewValidationError(domain.ErrValidation, "seat", fmt.Sprintf("must be 0-%d", t.Config.Size-1))
	}
	if _, ok := t.seats[seat]; ok {
		return ErrSeatTaken
	}
	for _, s := range t.seats {
		if s.AccountID == accountID {
			return ErrAlreadySeated
		}
	}
	t.seats[seat] = &Seat{Number: seat, AccountID: accountID, JoinedAt: time.Now().UTC()}
	return nil
}

// Leave frees a seat. A seat in the current hand folds and its ante stays
// in the pot.
func (m *TableManager) Leave(ctx context.Context, tableID string, seat int) error {
	t, err := m.table(tableID)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.seats[seat]; !ok {
		return domain.InvalidAction("seat %d is empty", seat)
	}
	if h := t.hand; h != nil && h.result == nil {
		if c, ok := h.seats[seat]; ok && !c.Folded {
			c.Folded = true
			if _, err := m.finishIfUncontested(ctx, t); err != nil {
				return err
			}
		}
	}
	delete(t.seats, seat)
	return nil
}

// StartHand moves the button, collects an ante from every seated account
// and deals. Seats that cannot cover the ante sit the hand out.
func (m *TableManager) StartHand(ctx context.Context, tableID string) (string, error) {
	t, err := m.table(tableID)
	if err != nil {
		return "", err
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.hand != nil && t.hand.inPlay() {
		return "", ErrHandInPlay
	}
	if len(t.seats) < 2 {
		return "", domain.InvalidAction("a hand needs two seated players, have %d", len(t.seats))
	}

	h := &hand{
		id:       uuid.New().String(),
		seats:    make(map[int]*Contender),
		accounts: make(map[int]string),
		settled:  make(map[int]bool),
	}
	h.button = t.nextButton()

	for _, seat := range t.seatOrder(h.button) {
		s := t.seats[seat]
		_, err := m.ledger.Reserve(ctx, s.AccountID, t.Config.Ante, anteReference(h.id, seat))
		if errors.Is(err, domain.ErrInsufficientFunds) || errors.Is(err, domain.ErrAccountArchived) {
			m.logger.Info("seat sits out", zap.String("table_id", t.ID), zap.Int("seat", seat), zap.Error(err))
			continue
		}
		if err != nil {
			m.refundAntes(ctx, t, h)
			return "", fmt.Errorf("failed to collect ante from seat %d: %w", seat, err)
		}
		h.seats[seat] = &Contender{Seat: seat}
		h.accounts[seat] = s.AccountID
		h.pot += t.Config.Ante
	}
	if len(h.seats) < 2 {
		m.refundAntes(ctx, t, h)
		return "", domain.InvalidAction("only %d seat covered the ante", len(h.seats))
	}

	deck, err := cards.NewShuffled(m.src)
	if err != nil {
		m.refundAntes(ctx, t, h)
		return "", err
	}
	h.deck = deck
	if err := h.deal(t.seatOrder(h.button)); err != nil {
		m.refundAntes(ctx, t, h)
		return "", fmt.Errorf("failed to deal: %w", err)
	}

	t.button = h.button
	t.hands++
	t.hand = h
	m.logger.Info("hand started",
		zap.String("table_id", t.ID),
		zap.String("hand_id", h.id),
		zap.Int("players", len(h.seats)),
		zap.Int64("pot", h.pot))
	return h.id, nil
}

// Hole returns a seat's private cards in the current hand
func (m *TableManager) Hole(tableID string, seat int) ([]cards.Card, error) {
	t, err := m.table(tableID)
	if err != nil {
		return nil, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.hand == nil {
		return nil, ErrNoHand
	}
	c, ok := t.hand.seats[seat]
	if !ok {
		return nil, domain.InvalidAction("seat %d is not in the hand", seat)
	}
	return append([]cards.Card(nil), c.Hole...), nil
}

// Fold folds a seat. When one seat remains it takes the pot without a
// showdown and the result is returned.
func (m *TableManager) Fold(ctx context.Context, tableID string, seat int) (*HandResult, error) {
	t, err := m.table(tableID)
	if err != nil {
		return nil, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	h := t.hand
	if h == nil || h.result != nil {
		return nil, ErrNoHand
	}
	c, ok := h.seats[seat]
	if !ok || c.Folded {
		return nil, domain.InvalidAction("seat %d cannot fold", seat)
	}
	c.Folded = true
	return m.finishIfUncontested(ctx, t)
}

// Showdown compares the remaining hands, rakes the pot and settles every
// seat of the hand. Calling it again after a settlement failure re-issues
// the outstanding settlements with the same references.
func (m *TableManager) Showdown(ctx context.Context, tableID string) (*HandResult, error) {
	t, err := m.table(tableID)
	if err != nil {
		return nil, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	h := t.hand
	if h == nil {
		return nil, ErrNoHand
	}
	if h.result == nil {
		rake, net := m.raker.Rake(h.pot)
		sd, err := Showdown(h.contenders(), h.board, net, h.button, t.Config.Size)
		if err != nil {
			return nil, err
		}
		h.result = &HandResult{
			HandID:   h.id,
			Board:    h.board,
			Pot:      h.pot,
			Rake:     rake,
			Showdown: sd,
			Payouts:  sd.Awards,
		}
	}
	return h.result, m.settle(ctx, t, h)
}

// finishIfUncontested awards the pot when a single seat remains
func (m *TableManager) finishIfUncontested(ctx context.Context, t *Table) (*HandResult, error) {
	h := t.hand
	var live []int
	for seat, c := range h.seats {
		if !c.Folded {
			live = append(live, seat)
		}
	}
	if len(live) != 1 {
		return nil, nil
	}
	rake, net := m.raker.Rake(h.pot)
	h.result = &HandResult{
		HandID:  h.id,
		Board:   h.board,
		Pot:     h.pot,
		Rake:    rake,
		Payouts: map[int]int64{live[0]: net},
	}
	return h.result, m.settle(ctx, t, h)
}

// settle credits every seat dealt into the hand exactly once; losing and
// folded seats receive a zero payout so each ante has its payout entry.
func (m *TableManager) settle(ctx context.Context, t *Table, h *hand) error {
	seats := make([]int, 0, len(h.accounts))
	for seat := range h.accounts {
		seats = append(seats, seat)
	}
	sort.Ints(seats)

	for _, seat := range seats {
		if h.settled[seat] {
			continue
		}
		amount := h.result.Payouts[seat]
		ref := anteReference(h.id, seat)
		if _, err := m.ledger.Settle(ctx, h.accounts[seat], amount, ref); err != nil {
			m.metrics.Settlement(string(domain.GamePoker), "failed", 0)
			m.logger.Error("poker settlement failed",
				zap.String("hand_id", h.id), zap.Int("seat", seat), zap.Error(err))
			return &domain.SettlementError{SessionID: h.id, ReferenceID: ref, Amount: amount, Cause: err}
		}
		h.settled[seat] = true
		m.metrics.Settlement(string(domain.GamePoker), "settled", amount)
	}

	_ = m.audit.Log(ctx, audit.EventPokerHandSettled, domain.SeverityInfo,
		fmt.Sprintf("Poker hand %s settled", h.id),
		map[string]interface{}{"table_id": t.ID, "pot": h.result.Pot, "rake": h.result.Rake, "payouts": h.result.Payouts},
		audit.WithSession(h.id), audit.WithComponent("poker"))
	m.logger.Info("hand settled",
		zap.String("table_id", t.ID),
		zap.String("hand_id", h.id),
		zap.Int64("pot", h.result.Pot),
		zap.Int64("rake", h.result.Rake))
	return nil
}

// Teardown closes a table, refunding the antes of a hand still in play
func (m *TableManager) Teardown(ctx context.Context, tableID string) error {
	t, err := m.table(tableID)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if h := t.hand; h != nil {
		if h.result != nil && len(h.settled) < len(h.accounts) {
			if err := m.settle(ctx, t, h); err != nil {
				return err
			}
		}
		if h.result == nil {
			if err := m.refundAntes(ctx, t, h); err != nil {
				return err
			}
		}
	}

	m.mu.Lock()
	delete(m.tables, tableID)
	m.mu.Unlock()
	m.logger.Info("table torn down", zap.String("table_id", tableID))
	return nil
}

func (m *TableManager) refundAntes(ctx context.Context, t *Table, h *hand) error {
	var firstErr error
	for seat, account := range h.accounts {
		if _, err := m.ledger.Refund(ctx, account, t.Config.Ante, anteReference(h.id, seat)); err != nil {
			m.logger.Error("ante refund failed", zap.String("hand_id", h.id), zap.Int("seat", seat), zap.Error(err))
			if firstErr == nil {
				firstErr = fmt.Errorf("failed to refund seat %d: %w", seat, err)
			}
		}
	}
	return firstErr
}

// deal gives two hole cards to each contender in order, then the board
func (h *hand) deal(order []int) error {
	for round := 0; round < 2; round++ {
		for _, seat := range order {
			c, ok := h.seats[seat]
			if !ok {
				continue
			}
			card, err := h.deck.Draw()
			if err != nil {
				return err
			}
			c.Hole = append(c.Hole, card)
		}
	}
	for i := 0; i < 5; i++ {
		card, err := h.deck.Draw()
		if err != nil {
			return err
		}
		h.board = append(h.board, card)
	}
	return nil
}

func anteReference(handID string, seat int) string {
	return fmt.Sprintf("%s:%d", handID, seat)
}

// nextButton is the first occupied seat clockwise from the current button
func (t *Table) nextButton() int {
	for i := 1; i <= t.Config.Size; i++ {
		seat := (t.button + i) % t.Config.Size
		if _, ok := t.seats[seat]; ok {
			return seat
		}
	}
	return t.button
}

// seatOrder lists occupied seats starting left of the button
func (t *Table) seatOrder(button int) []int {
	seats := make([]int, 0, len(t.seats))
	for seat := range t.seats {
		seats = append(seats, seat)
	}
	OrderFromButton(seats, button, t.Config.Size)
	return seats
}

// inPlay reports a hand that is undecided or not fully settled
func (h *hand) inPlay() bool {
	return h.result == nil || len(h.settled) < len(h.accounts)
}

func (h *hand) contenders() []Contender {
	out := make([]Contender, 0, len(h.seats))
	for _, c := range h.seats {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seat < out[j].Seat })
	return out
}

func (t *Table) view() *TableView {
	v := &TableView{ID: t.ID, Config: t.Config, Button: t.button, Hands: t.hands}
	for _, s := range t.seats {
		v.Seats = append(v.Seats, *s)
	}
	sort.Slice(v.Seats, func(i, j int) bool { return v.Seats[i].Number < v.Seats[j].Number })
	if t.hand != nil && t.hand.result == nil {
		v.HandID = t.hand.id
	}
	return v
}
