package game

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/alexbotov/casino-core/internal/domain"
	"github.com/alexbotov/casino-core/internal/rng"
)

// Roulette bet types
const (
	BetStraight = "straight"
	BetSplit    = "split"
	BetStreet   = "street"
	BetCorner   = "corner"
	BetLine     = "line"
	BetColumn   = "column"
	BetDozen    = "dozen"
	BetRed      = "red"
	BetBlack    = "black"
	BetOdd      = "odd"
	BetEven     = "even"
	BetLow      = "low"
	BetHigh     = "high"
)

// payout ratios to 1
var roulettePayouts = map[string]int64{
	BetStraight: 35,
	BetSplit:    17,
	BetStreet:   11,
	BetCorner:   8,
	BetLine:     5,
	BetColumn:   2,
	BetDozen:    2,
	BetRed:      1,
	BetBlack:    1,
	BetOdd:      1,
	BetEven:     1,
	BetLow:      1,
	BetHigh:     1,
}

var redNumbers = map[int]bool{
	1: true, 3: true, 5: true, 7: true, 9: true, 12: true, 14: true, 16: true, 18: true,
	19: true, 21: true, 23: true, 25: true, 27: true, 30: true, 32: true, 34: true, 36: true,
}

// RouletteBet is one chip placement. Inside bets name their Numbers; column
// and dozen bets use Position 1-3.
type RouletteBet struct {
	Type     string `json:"type"`
	Numbers  []int  `json:"numbers,omitempty"`
	Position int    `json:"position,omitempty"`
	Amount   int64  `json:"amount"`
}

// RouletteParams are the bets of one spin; their amounts must sum to the wager
type RouletteParams struct {
	Bets []RouletteBet `json:"bets"`
}

// RouletteBetResult is the evaluation of one bet. Payout is the winnings,
// excluding the returned chip.
type RouletteBetResult struct {
	Bet    RouletteBet `json:"bet"`
	Won    bool        `json:"won"`
	Payout int64       `json:"payout"`
}

// RouletteOutcome is the spin record kept for game recall (GLI-19 §4.14)
type RouletteOutcome struct {
	Number int                 `json:"number"`
	Color  string              `json:"color"`
	Bets   []RouletteBetResult `json:"bets"`
}

// Roulette is the single-zero roulette engine
type Roulette struct{}

var _ Engine = Roulette{}

func (Roulette) Type() domain.GameType { return domain.GameRoulette }

func (Roulette) TurnBased() bool { return false }

// Start validates every bet, spins once and evaluates all bets
func (r Roulette) Start(ctx context.Context, src rng.Source, wager int64, params json.RawMessage) (*Round, error) {
	var p RouletteParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if len(p.Bets) == 0 {
		return nil, domain.InvalidAction("at least one bet is required")
	}

	covered := make([]map[int]bool, len(p.Bets))
	var total int64
	for i, bet := range p.Bets {
		if bet.Amount <= 0 {
			return nil, domain.InvalidWager("bet %d amount must be positive", i)
		}
		nums, err := betNumbers(bet)
		if err != nil {
			return nil, err
		}
		covered[i] = nums
		total += bet.Amount
	}
	if total != wager {
		return nil, domain.InvalidWager("bets total %d but wager is %d", total, wager)
	}

	draw, err := src.Draw(1, rng.Uniform(37))
	if err != nil {
		return nil, err
	}
	number := draw[0]

	out := RouletteOutcome{Number: number, Color: rouletteColor(number)}
	var gross, returned int64
	for i, bet := range p.Bets {
		res := RouletteBetResult{Bet: bet}
		if covered[i][number] {
			res.Won = true
			res.Payout = bet.Amount * roulettePayouts[bet.Type]
			gross += bet.Amount + res.Payout
			returned += bet.Amount
		}
		out.Bets = append(out.Bets, res)
	}

	state, err := json.Marshal(out)
	if err != nil {
		return nil, err
	}
	descriptor := "lose"
	if gross > 0 {
		descriptor = "win"
	}
	result, err := newResult(descriptor, wager, gross, returned, out)
	if err != nil {
		return nil, err
	}
	return &Round{State: state, View: out, Terminal: true, Result: result}, nil
}

func (Roulette) Apply(context.Context, rng.Source, json.RawMessage, string, json.RawMessage) (*Round, error) {
	return nil, domain.InvalidAction("roulette resolves in a single spin")
}

func (Roulette) View(state json.RawMessage) (any, error) {
	var out RouletteOutcome
	if err := decodeState(state, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func rouletteColor(n int) string {
	switch {
	case n == 0:
		return "green"
	case redNumbers[n]:
		return "red"
	}
	return "black"
}

// betNumbers validates a bet against the table layout and returns the
// numbers it covers. The layout has 12 rows of three: row (n-1)/3, column (n-1)%3.
func betNumbers(bet RouletteBet) (map[int]bool, error) {
	if _, ok := roulettePayouts[bet.Type]; !ok {
		return nil, domain.InvalidAction("unknown bet type %q", bet.Type)
	}
	for _, n := range bet.Numbers {
		if n < 0 || n > 36 {
			return nil, domain.InvalidAction("%s bet number %d off the layout", bet.Type, n)
		}
	}
	nums := append([]int(nil), bet.Numbers...)
	sort.Ints(nums)
	set := make(map[int]bool)

	need := func(count int) error {
		if len(nums) != count {
			return domain.InvalidAction("%s bet needs %d numbers, got %d", bet.Type, count, len(nums))
		}
		for i := 1; i < len(nums); i++ {
			if nums[i] == nums[i-1] {
				return domain.InvalidAction("%s bet repeats number %d", bet.Type, nums[i])
			}
		}
		return nil
	}
	noNumbers := func() error {
		if len(nums) > 0 {
			return domain.InvalidAction("%s bet takes no numbers", bet.Type)
		}
		return nil
	}
	rangeSet := func(pred func(n int) bool) {
		for n := 1; n <= 36; n++ {
			if pred(n) {
				set[n] = true
			}
		}
	}

	switch bet.Type {
	case BetStraight:
		if err := need(1); err != nil {
			return nil, err
		}

	case BetSplit:
		if err := need(2); err != nil {
			return nil, err
		}
		a, b := nums[0], nums[1]
		ok := (a == 0 && b <= 3) ||
			(a > 0 && b-a == 3) ||
			(a > 0 && b-a == 1 && (a-1)/3 == (b-1)/3)
		if !ok {
			return nil, domain.InvalidAction("split %d-%d is not adjacent", a, b)
		}

	case BetStreet:
		if err := need(3); err != nil {
			return nil, err
		}
		a := nums[0]
		row := a > 0 && (a-1)%3 == 0 && nums[1] == a+1 && nums[2] == a+2
		trio := a == 0 && ((nums[1] == 1 && nums[2] == 2) || (nums[1] == 2 && nums[2] == 3))
		if !row && !trio {
			return nil, domain.InvalidAction("%v is not a street", nums)
		}

	case BetCorner:
		if err := need(4); err != nil {
			return nil, err
		}
		a := nums[0]
		square := a > 0 && (a-1)%3 < 2 && nums[1] == a+1 && nums[2] == a+3 && nums[3] == a+4
		firstFour := a == 0 && nums[1] == 1 && nums[2] == 2 && nums[3] == 3
		if !square && !firstFour {
			return nil, domain.InvalidAction("%v is not a corner", nums)
		}

	case BetLine:
		if err := need(6); err != nil {
			return nil, err
		}
		a := nums[0]
		if a == 0 || (a-1)%3 != 0 || nums[5] != a+5 || nums[5] > 36 {
			return nil, domain.InvalidAction("%v is not a six line", nums)
		}
		for i := range nums {
			if nums[i] != a+i {
				return nil, domain.InvalidAction("%v is not a six line", nums)
			}
		}

	case BetColumn, BetDozen:
		if err := noNumbers(); err != nil {
			return nil, err
		}
		if bet.Position < 1 || bet.Position > 3 {
			return nil, domain.InvalidAction("%s position must be 1-3", bet.Type)
		}
		pos := bet.Position
		if bet.Type == BetColumn {
			rangeSet(func(n int) bool { return (n-1)%3 == pos-1 })
		} else {
			rangeSet(func(n int) bool { return (n-1)/12 == pos-1 })
		}
		return set, nil

	default:
		if err := noNumbers(); err != nil {
			return nil, err
		}
		switch bet.Type {
		case BetRed:
			rangeSet(func(n int) bool { return redNumbers[n] })
		case BetBlack:
			rangeSet(func(n int) bool { return !redNumbers[n] })
		case BetOdd:
			rangeSet(func(n int) bool { return n%2 == 1 })
		case BetEven:
			rangeSet(func(n int) bool { return n%2 == 0 })
		case BetLow:
			rangeSet(func(n int) bool { return n <= 18 })
		case BetHigh:
			rangeSet(func(n int) bool { return n >= 19 })
		}
		return set, nil
	}

	for _, n := range nums {
		set[n] = true
	}
	return set, nil
}
