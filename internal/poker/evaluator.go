// Package poker provides poker hand evaluation, showdown pot splitting and
// the owned table manager for multi-seat hands.
package poker

import (
	"fmt"
	"sort"

	"github.com/alexbotov/casino-core/internal/cards"
)

// HandRank is the category of a five-card hand, weakest first
type HandRank int

const (
	HighCard HandRank = iota + 1
	OnePair
	TwoPair
	ThreeOfAKind
	Straight
	Flush
	FullHouse
	FourOfAKind
	StraightFlush
	RoyalFlush
)

var rankNames = map[HandRank]string{
	HighCard:      "high_card",
	OnePair:       "pair",
	TwoPair:       "two_pair",
	ThreeOfAKind:  "three_of_a_kind",
	Straight:      "straight",
	Flush:         "flush",
	FullHouse:     "full_house",
	FourOfAKind:   "four_of_a_kind",
	StraightFlush: "straight_flush",
	RoyalFlush:    "royal_flush",
}

func (r HandRank) String() string {
	if name, ok := rankNames[r]; ok {
		return name
	}
	return fmt.Sprintf("hand_rank(%d)", int(r))
}

// Hand is an evaluated five-card hand. Kickers are the tie-break ranks in
// comparison order: grouped ranks first, then singles, each descending.
type Hand struct {
	Rank    HandRank     `json:"rank"`
	Kickers []cards.Rank `json:"kickers"`
	Cards   []cards.Card `json:"cards"`
}

// Compare returns 1 if a beats b, -1 if b beats a and 0 on a tie
func Compare(a, b Hand) int {
	if a.Rank != b.Rank {
		if a.Rank > b.Rank {
			return 1
		}
		return -1
	}
	for i := 0; i < len(a.Kickers) && i < len(b.Kickers); i++ {
		if a.Kickers[i] != b.Kickers[i] {
			if a.Kickers[i] > b.Kickers[i] {
				return 1
			}
			return -1
		}
	}
	return 0
}

// Evaluate classifies exactly five cards
func Evaluate(hand []cards.Card) (Hand, error) {
	if len(hand) != 5 {
		return Hand{}, fmt.Errorf("evaluate needs 5 cards, got %d", len(hand))
	}
	seen := make(map[cards.Card]bool, 5)
	for _, c := range hand {
		if seen[c] {
			return Hand{}, fmt.Errorf("duplicate card %s", c)
		}
		seen[c] = true
	}
	return evaluateFive(hand), nil
}

// Best returns the strongest five-card hand from five or more cards
func Best(all []cards.Card) (Hand, error) {
	if len(all) < 5 {
		return Hand{}, fmt.Errorf("need at least 5 cards, got %d", len(all))
	}
	var best Hand
	found := false
	for _, combo := range combinations(all, 5) {
		h, err := Evaluate(combo)
		if err != nil {
			return Hand{}, err
		}
		if !found || Compare(h, best) > 0 {
			best = h
			found = true
		}
	}
	return best, nil
}

type rankCount struct {
	rank  cards.Rank
	count int
}

func evaluateFive(hand []cards.Card) Hand {
	counts := make(map[cards.Rank]int)
	suits := make(map[cards.Suit]int)
	ranks := make([]cards.Rank, 0, 5)
	for _, c := range hand {
		counts[c.Rank]++
		suits[c.Suit]++
		ranks = append(ranks, c.Rank)
	}
	sort.Slice(ranks, func(i, j int) bool { return ranks[i] > ranks[j] })

	groups := make([]rankCount, 0, len(counts))
	for r, n := range counts {
		groups = append(groups, rankCount{r, n})
	}
	sort.Slice(groups, func(i, j int) bool {
		if groups[i].count != groups[j].count {
			return groups[i].count > groups[j].count
		}
		return groups[i].rank > groups[j].rank
	})

	kickers := make([]cards.Rank, len(groups))
	for i, g := range groups {
		kickers[i] = g.rank
	}

	isFlush := len(suits) == 1
	straightHigh, isStraight := straightHigh(ranks)
	cardsCopy := append([]cards.Card(nil), hand...)

	switch {
	case isFlush && isStraight && straightHigh == cards.Ace:
		return Hand{Rank: RoyalFlush, Kickers: []cards.Rank{cards.Ace}, Cards: cardsCopy}
	case isFlush && isStraight:
		return Hand{Rank: StraightFlush, Kickers: []cards.Rank{straightHigh}, Cards: cardsCopy}
	case groups[0].count == 4:
		return Hand{Rank: FourOfAKind, Kickers: kickers, Cards: cardsCopy}
	case groups[0].count == 3 && groups[1].count == 2:
		return Hand{Rank: FullHouse, Kickers: kickers, Cards: cardsCopy}
	case isFlush:
		return Hand{Rank: Flush, Kickers: ranks, Cards: cardsCopy}
	case isStraight:
		return Hand{Rank: Straight, Kickers: []cards.Rank{straightHigh}, Cards: cardsCopy}
	case groups[0].count == 3:
		return Hand{Rank: ThreeOfAKind, Kickers: kickers, Cards: cardsCopy}
	case groups[0].count == 2 && groups[1].count == 2:
		return Hand{Rank: TwoPair, Kickers: kickers, Cards: cardsCopy}
	case groups[0].count == 2:
		return Hand{Rank: OnePair, Kickers: kickers, Cards: cardsCopy}
	}
	return Hand{Rank: HighCard, Kickers: ranks, Cards: cardsCopy}
}

// straightHigh expects ranks sorted descending. The wheel (A-2-3-4-5) plays
// as a five-high straight.
func straightHigh(ranks []cards.Rank) (cards.Rank, bool) {
	distinct := true
	for i := 0; i < 4; i++ {
		if ranks[i]-ranks[i+1] != 1 {
			distinct = false
			break
		}
	}
	if distinct {
		return ranks[0], true
	}
	if ranks[0] == cards.Ace && ranks[1] == cards.Five && ranks[2] == cards.Four &&
		ranks[3] == cards.Three && ranks[4] == cards.Two {
		return cards.Five, true
	}
	return 0, false
}

// combinations generates all k-combinations of the given cards
func combinations(all []cards.Card, k int) [][]cards.Card {
	var result [][]cards.Card
	var helper func(start int, current []cards.Card)
	helper = func(start int, current []cards.Card) {
		if len(current) == k {
			combo := make([]cards.Card, k)
			copy(combo, current)
			result = append(result, combo)
			return
		}
		for i := start; i < len(all); i++ {
			helper(i+1, append(current, all[i]))
		}
	}
	helper(0, make([]cards.Card, 0, k))
	return result
}
