package game

import (
	"errors"
	"fmt"
	"testing"

	"github.com/alexbotov/casino-core/internal/cards"
	"github.com/alexbotov/casino-core/internal/rng"
)

// scriptedSource replays prepared draws in order
type scriptedSource struct {
	draws [][]int
}

func (s *scriptedSource) Draw(n int, d rng.Domain) ([]int, error) {
	if len(s.draws) == 0 {
		return nil, errors.New("script exhausted")
	}
	next := s.draws[0]
	s.draws = s.draws[1:]
	if len(next) != n {
		return nil, fmt.Errorf("scripted %d values, engine asked for %d", len(next), n)
	}
	return next, nil
}

// deckOrder returns a 52-card permutation that deals the given cards first
func deckOrder(t *testing.T, top string) []int {
	t.Helper()
	used := make(map[int]bool)
	var order []int
	for _, c := range cards.MustParseHand(top) {
		i := cards.Index(c)
		if used[i] {
			t.Fatalf("card %s stacked twice", c)
		}
		used[i] = true
		order = append(order, i)
	}
	for i := 0; i < 52; i++ {
		if !used[i] {
			order = append(order, i)
		}
	}
	return order
}

func stacked(t *testing.T, top string) *scriptedSource {
	return &scriptedSource{draws: [][]int{deckOrder(t, top)}}
}
