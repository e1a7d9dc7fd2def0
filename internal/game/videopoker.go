package game

import (
	"context"
	"encoding/json"

	"github.com/alexbotov/casino-core/internal/cards"
	"github.com/alexbotov/casino-core/internal/domain"
	"github.com/alexbotov/casino-core/internal/poker"
	"github.com/alexbotov/casino-core/internal/rng"
)

// ActionDraw replaces every card not held
const ActionDraw = "draw"

// VideoPokerPaytable maps hand ranks to the gross return per unit staked
type VideoPokerPaytable map[poker.HandRank]int64

// JacksOrBetter96 is the full-pay 9/6 Jacks or Better table
func JacksOrBetter96() VideoPokerPaytable {
	return VideoPokerPaytable{
		poker.RoyalFlush:    800,
		poker.StraightFlush: 50,
		poker.FourOfAKind:   25,
		poker.FullHouse:     9,
		poker.Flush:         6,
		poker.Straight:      4,
		poker.ThreeOfAKind:  3,
		poker.TwoPair:       2,
		poker.OnePair:       1,
	}
}

// DrawParams lists the hand positions (0-4) kept on the draw
type DrawParams struct {
	Hold []int `json:"hold"`
}

type videoPokerState struct {
	Phase  string         `json:"phase"`
	Deck   cards.Deck     `json:"deck"`
	Hand   []cards.Card   `json:"hand"`
	Held   []int          `json:"held,omitempty"`
	Wager  int64          `json:"wager"`
	Result string         `json:"result,omitempty"`
	Paying poker.HandRank `json:"paying,omitempty"` // zero when the hand does not pay
}

// VideoPokerView is the player's view of the hand
type VideoPokerView struct {
	Phase  string       `json:"phase"`
	Hand   []cards.Card `json:"hand"`
	Held   []int        `json:"held,omitempty"`
	Wager  int64        `json:"wager"`
	Result string       `json:"result,omitempty"`
}

// Video poker phases
const (
	PhaseDealt = "dealt"
)

// VideoPoker is the five-card draw engine
type VideoPoker struct {
	paytable VideoPokerPaytable
}

var _ Engine = (*VideoPoker)(nil)

// NewVideoPoker creates the engine; a nil paytable uses 9/6 Jacks or Better
func NewVideoPoker(paytable VideoPokerPaytable) *VideoPoker {
	if paytable == nil {
		paytable = JacksOrBetter96()
	}
	return &VideoPoker{paytable: paytable}
}

func (v *VideoPoker) Type() domain.GameType { return domain.GameVideoPoker }

func (v *VideoPoker) TurnBased() bool { return true }

// Start deals five cards
func (v *VideoPoker) Start(ctx context.Context, src rng.Source, wager int64, params json.RawMessage) (*Round, error) {
	if wager <= 0 {
		return nil, domain.InvalidWager("must be positive")
	}
	deck, err := cards.NewShuffled(src)
	if err != nil {
		return nil, err
	}
	st := &videoPokerState{Phase: PhaseDealt, Deck: *deck, Wager: wager}
	for i := 0; i < 5; i++ {
		c, err := st.Deck.Draw()
		if err != nil {
			return nil, err
		}
		st.Hand = append(st.Hand, c)
	}
	return v.round(st)
}

// Apply handles the single draw
func (v *VideoPoker) Apply(ctx context.Context, src rng.Source, state json.RawMessage, action string, params json.RawMessage) (*Round, error) {
	var st videoPokerState
	if err := decodeState(state, &st); err != nil {
		return nil, err
	}
	if action != ActionDraw {
		return nil, domain.InvalidAction("unknown video poker action %q", action)
	}
	if st.Phase != PhaseDealt {
		return nil, domain.InvalidAction("draw not allowed in phase %s", st.Phase)
	}

	var p DrawParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	held := make(map[int]bool, len(p.Hold))
	for _, i := range p.Hold {
		if i < 0 || i >= len(st.Hand) {
			return nil, domain.InvalidAction("hold position %d out of range", i)
		}
		if held[i] {
			return nil, domain.InvalidAction("hold position %d repeated", i)
		}
		held[i] = true
	}

	for i := range st.Hand {
		if held[i] {
			continue
		}
		c, err := st.Deck.Draw()
		if err != nil {
			return nil, err
		}
		st.Hand[i] = c
	}
	st.Held = p.Hold

	hand, err := poker.Evaluate(st.Hand)
	if err != nil {
		return nil, err
	}
	st.Phase = PhaseTerminal
	st.Result, st.Paying = v.classify(hand)
	return v.round(&st)
}

// classify names the paying hand; pairs below jacks do not qualify
func (v *VideoPoker) classify(h poker.Hand) (string, poker.HandRank) {
	if h.Rank == poker.OnePair && h.Kickers[0] < cards.Jack {
		return "no_win", 0
	}
	if _, ok := v.paytable[h.Rank]; !ok {
		return "no_win", 0
	}
	if h.Rank == poker.OnePair {
		return "jacks_or_better", h.Rank
	}
	return h.Rank.String(), h.Rank
}

func (v *VideoPoker) payout(st *videoPokerState) (gross, returned int64) {
	if st.Paying == 0 {
		return 0, 0
	}
	gross = v.paytable[st.Paying] * st.Wager
	returned = st.Wager
	if gross < returned {
		returned = gross
	}
	return gross, returned
}

func (v *VideoPoker) round(st *videoPokerState) (*Round, error) {
	state, err := json.Marshal(st)
	if err != nil {
		return nil, err
	}
	r := &Round{State: state, View: v.view(st), Terminal: st.Phase == PhaseTerminal}
	if r.Terminal {
		gross, returned := v.payout(st)
		r.Result, err = newResult(st.Result, st.Wager, gross, returned, v.view(st))
		if err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (v *VideoPoker) View(state json.RawMessage) (any, error) {
	var st videoPokerState
	if err := decodeState(state, &st); err != nil {
		return nil, err
	}
	return v.view(&st), nil
}

func (v *VideoPoker) view(st *videoPokerState) VideoPokerView {
	return VideoPokerView{Phase: st.Phase, Hand: st.Hand, Held: st.Held, Wager: st.Wager, Result: st.Result}
}
