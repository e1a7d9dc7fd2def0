package poker

import (
	"fmt"
	"sort"

	"github.com/alexbotov/casino-core/internal/cards"
	"github.com/alexbotov/casino-core/internal/domain"
)

// Contender is one seat at showdown
type Contender struct {
	Seat   int          `json:"seat"`
	Hole   []cards.Card `json:"hole"`
	Folded bool         `json:"folded"`
}

// ShowdownResult maps each seat to its evaluated hand and chip award
type ShowdownResult struct {
	Pot     int64         `json:"pot"`
	Hands   map[int]Hand  `json:"hands"`
	Winners []int         `json:"winners"`
	Awards  map[int]int64 `json:"awards"`
}

// Showdown evaluates the best five of hole+board for every active seat and
// splits the pot among the best hands. Chips that do not divide evenly are
// handed out one at a time to the tied winners in seat order, starting with
// the first seat clockwise from the button.
func Showdown(contenders []Contender, board []cards.Card, pot int64, button, tableSize int) (*ShowdownResult, error) {
	if pot < 0 {
		return nil, domain.NewValidationError(domain.ErrInvalidAmount, "pot", "must not be negative")
	}
	if tableSize <= 0 {
		return nil, fmt.Errorf("table size must be positive")
	}

	res := &ShowdownResult{
		Pot:    pot,
		Hands:  make(map[int]Hand),
		Awards: make(map[int]int64),
	}

	var best Hand
	for _, c := range contenders {
		if c.Folded {
			continue
		}
		h, err := Best(append(append([]cards.Card(nil), c.Hole...), board...))
		if err != nil {
			return nil, fmt.Errorf("seat %d: %w", c.Seat, err)
		}
		res.Hands[c.Seat] = h

		switch {
		case len(res.Winners) == 0:
			best = h
			res.Winners = []int{c.Seat}
		case Compare(h, best) > 0:
			best = h
			res.Winners = []int{c.Seat}
		case Compare(h, best) == 0:
			res.Winners = append(res.Winners, c.Seat)
		}
	}

	if len(res.Hands) < 2 {
		return nil, domain.InvalidAction("showdown needs at least two active seats, got %d", len(res.Hands))
	}

	OrderFromButton(res.Winners, button, tableSize)
	for seat, amount := range SplitPot(pot, res.Winners) {
		res.Awards[seat] = amount
	}
	return res, nil
}

// OrderFromButton sorts seats clockwise starting left of the button; the
// button itself comes last.
func OrderFromButton(seats []int, button, tableSize int) {
	distance := func(seat int) int {
		d := ((seat-button)%tableSize + tableSize) % tableSize
		if d == 0 {
			return tableSize
		}
		return d
	}
	sort.SliceStable(seats, func(i, j int) bool { return distance(seats[i]) < distance(seats[j]) })
}

// SplitPot divides pot evenly among winners, which must already be in
// odd-chip order.
func SplitPot(pot int64, winners []int) map[int]int64 {
	awards := make(map[int]int64, len(winners))
	if len(winners) == 0 {
		return awards
	}
	share := pot / int64(len(winners))
	remainder := pot % int64(len(winners))
	for i, seat := range winners {
		awards[seat] = share
		if int64(i) < remainder {
			awards[seat]++
		}
	}
	return awards
}
