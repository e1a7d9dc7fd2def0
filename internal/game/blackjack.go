package game

import (
	"context"
	"encoding/json"

	"github.com/alexbotov/casino-core/internal/cards"
	"github.com/alexbotov/casino-core/internal/domain"
	"github.com/alexbotov/casino-core/internal/rng"
	"github.com/shopspring/decimal"
)

// Blackjack phases
const (
	PhaseDealing    = "dealing"
	PhasePlayerTurn = "player_turn"
	PhaseDealerTurn = "dealer_turn"
	PhaseTerminal   = "terminal"
)

// Blackjack actions
const (
	ActionHit    = "hit"
	ActionStand  = "stand"
	ActionDouble = "double"
)

// Blackjack outcomes
const (
	OutcomePlayerBlackjack = "player_blackjack"
	OutcomeDealerBlackjack = "dealer_blackjack"
	OutcomePlayerBust      = "player_bust"
	OutcomeDealerBust      = "dealer_bust"
	OutcomePlayerWin       = "player_win"
	OutcomeDealerWin       = "dealer_win"
	OutcomePush            = "push"
)

// BlackjackRules are the table rules
type BlackjackRules struct {
	// BlackjackPayout is the winnings ratio of a natural, 1.5 for 3:2
	BlackjackPayout decimal.Decimal
	// HitSoft17 makes the dealer draw on a soft 17
	HitSoft17 bool
}

type blackjackState struct {
	Phase   string       `json:"phase"`
	Deck    cards.Deck   `json:"deck"`
	Player  []cards.Card `json:"player"`
	Dealer  []cards.Card `json:"dealer"`
	Wager   int64        `json:"wager"`
	Doubled bool         `json:"doubled"`
	Outcome string       `json:"outcome,omitempty"`
}

// BlackjackView is what the player sees. The dealer hole card stays hidden
// until the player's turn ends.
type BlackjackView struct {
	Phase       string       `json:"phase"`
	Player      []cards.Card `json:"player"`
	PlayerValue int          `json:"player_value"`
	PlayerSoft  bool         `json:"player_soft"`
	Dealer      []cards.Card `json:"dealer"`
	DealerValue int          `json:"dealer_value"`
	Wager       int64        `json:"wager"`
	Doubled     bool         `json:"doubled"`
	Outcome     string       `json:"outcome,omitempty"`
}

// Blackjack is the single-hand blackjack engine
type Blackjack struct {
	rules BlackjackRules
}

var _ Engine = (*Blackjack)(nil)

// NewBlackjack creates the engine; a zero payout defaults to 3:2
func NewBlackjack(rules BlackjackRules) *Blackjack {
	if rules.BlackjackPayout.IsZero() {
		rules.BlackjackPayout = decimal.NewFromFloat(1.5)
	}
	return &Blackjack{rules: rules}
}

func (b *Blackjack) Type() domain.GameType { return domain.GameBlackjack }

func (b *Blackjack) TurnBased() bool { return true }

// HandValue totals a hand counting aces as 11 and demoting them to 1 one at
// a time while the total exceeds 21. soft reports an ace still counted as 11.
func HandValue(hand []cards.Card) (total int, soft bool) {
	aces := 0
	for _, c := range hand {
		switch {
		case c.Rank == cards.Ace:
			aces++
			total += 11
		case c.Rank >= cards.Ten:
			total += 10
		default:
			total += int(c.Rank)
		}
	}
	for total > 21 && aces > 0 {
		total -= 10
		aces--
	}
	return total, aces > 0
}

// IsNatural reports a two-card 21
func IsNatural(hand []cards.Card) bool {
	v, _ := HandValue(hand)
	return len(hand) == 2 && v == 21
}

// Start deals two cards each and settles naturals immediately
func (b *Blackjack) Start(ctx context.Context, src rng.Source, wager int64, params json.RawMessage) (*Round, error) {
	if wager <= 0 {
		return nil, domain.InvalidWager("must be positive")
	}
	deck, err := cards.NewShuffled(src)
	if err != nil {
		return nil, err
	}

	st := &blackjackState{Phase: PhaseDealing, Deck: *deck, Wager: wager}
	for i := 0; i < 2; i++ {
		if err := b.deal(st, &st.Player); err != nil {
			return nil, err
		}
		if err := b.deal(st, &st.Dealer); err != nil {
			return nil, err
		}
	}

	playerNatural, dealerNatural := IsNatural(st.Player), IsNatural(st.Dealer)
	switch {
	case playerNatural && dealerNatural:
		st.finish(OutcomePush)
	case playerNatural:
		st.finish(OutcomePlayerBlackjack)
	case dealerNatural:
		st.finish(OutcomeDealerBlackjack)
	default:
		st.Phase = PhasePlayerTurn
	}
	return b.round(st, 0)
}

// Apply performs hit, stand or double during the player's turn
func (b *Blackjack) Apply(ctx context.Context, src rng.Source, state json.RawMessage, action string, params json.RawMessage) (*Round, error) {
	var st blackjackState
	if err := decodeState(state, &st); err != nil {
		return nil, err
	}
	if st.Phase != PhasePlayerTurn {
		return nil, domain.InvalidAction("%s not allowed in phase %s", action, st.Phase)
	}

	var additional int64
	switch action {
	case ActionHit:
		if err := b.deal(&st, &st.Player); err != nil {
			return nil, err
		}
		if v, _ := HandValue(st.Player); v > 21 {
			st.finish(OutcomePlayerBust)
		} else if v == 21 {
			if err := b.dealerTurn(&st); err != nil {
				return nil, err
			}
		}

	case ActionStand:
		if err := b.dealerTurn(&st); err != nil {
			return nil, err
		}

	case ActionDouble:
		if st.Doubled || len(st.Player) != 2 {
			return nil, domain.InvalidAction("double only allowed once on the initial two cards")
		}
		additional = st.Wager
		st.Doubled = true
		if err := b.deal(&st, &st.Player); err != nil {
			return nil, err
		}
		if v, _ := HandValue(st.Player); v > 21 {
			st.finish(OutcomePlayerBust)
		} else if err := b.dealerTurn(&st); err != nil {
			return nil, err
		}

	default:
		return nil, domain.InvalidAction("unknown blackjack action %q", action)
	}

	return b.round(&st, additional)
}

// dealerTurn draws to the house rule and compares totals
func (b *Blackjack) dealerTurn(st *blackjackState) error {
	st.Phase = PhaseDealerTurn
	for {
		v, soft := HandValue(st.Dealer)
		if v > 17 || (v == 17 && !(soft && b.rules.HitSoft17)) {
			break
		}
		if err := b.deal(st, &st.Dealer); err != nil {
			return err
		}
	}

	player, _ := HandValue(st.Player)
	dealer, _ := HandValue(st.Dealer)
	switch {
	case dealer > 21:
		st.finish(OutcomeDealerBust)
	case player > dealer:
		st.finish(OutcomePlayerWin)
	case player < dealer:
		st.finish(OutcomeDealerWin)
	default:
		st.finish(OutcomePush)
	}
	return nil
}

func (b *Blackjack) deal(st *blackjackState, hand *[]cards.Card) error {
	c, err := st.Deck.Draw()
	if err != nil {
		return err
	}
	*hand = append(*hand, c)
	return nil
}

func (st *blackjackState) finish(outcome string) {
	st.Phase = PhaseTerminal
	st.Outcome = outcome
}

func (st *blackjackState) stake() int64 {
	if st.Doubled {
		return st.Wager * 2
	}
	return st.Wager
}

// payout returns the gross return and the returned stake of a finished hand
func (b *Blackjack) payout(st *blackjackState) (gross, returned int64) {
	stake := st.stake()
	switch st.Outcome {
	case OutcomePlayerBlackjack:
		return stake + decimal.NewFromInt(stake).Mul(b.rules.BlackjackPayout).Floor().IntPart(), stake
	case OutcomePlayerWin, OutcomeDealerBust:
		return stake * 2, stake
	case OutcomePush:
		return stake, stake
	}
	return 0, 0
}

func (b *Blackjack) round(st *blackjackState, additional int64) (*Round, error) {
	state, err := json.Marshal(st)
	if err != nil {
		return nil, err
	}
	r := &Round{
		State:           state,
		View:            b.view(st),
		Terminal:        st.Phase == PhaseTerminal,
		AdditionalStake: additional,
	}
	if r.Terminal {
		gross, returned := b.payout(st)
		r.Result, err = newResult(st.Outcome, st.stake(), gross, returned, b.view(st))
		if err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (b *Blackjack) View(state json.RawMessage) (any, error) {
	var st blackjackState
	if err := decodeState(state, &st); err != nil {
		return nil, err
	}
	return b.view(&st), nil
}

func (b *Blackjack) view(st *blackjackState) BlackjackView {
	v := BlackjackView{
		Phase:   st.Phase,
		Player:  st.Player,
		Wager:   st.stake(),
		Doubled: st.Doubled,
		Outcome: st.Outcome,
	}
	v.PlayerValue, v.PlayerSoft = HandValue(st.Player)
	if st.Phase == PhasePlayerTurn && len(st.Dealer) > 0 {
		v.Dealer = st.Dealer[:1]
	} else {
		v.Dealer = st.Dealer
	}
	v.DealerValue, _ = HandValue(v.Dealer)
	return v
}
