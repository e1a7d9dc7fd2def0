// Package cards provides playing cards and shuffled decks
package cards

import (
	"errors"
	"fmt"
	"strings"

	"github.com/alexbotov/casino-core/internal/rng"
)

var ErrDeckExhausted = errors.New("deck exhausted")

// Rank is the card rank, 2 through 14 (Ace high)
type Rank int

const (
	Two Rank = iota + 2
	Three
	Four
	Five
	Six
	Seven
	Eight
	Nine
	Ten
	Jack
	Queen
	King
	Ace
)

// Suit is the card suit
type Suit int

const (
	Clubs Suit = iota
	Diamonds
	Hearts
	Spades
)

var (
	rankSymbols = map[Rank]string{
		Two: "2", Three: "3", Four: "4", Five: "5", Six: "6", Seven: "7", Eight: "8",
		Nine: "9", Ten: "10", Jack: "J", Queen: "Q", King: "K", Ace: "A",
	}
	suitSymbols = map[Suit]string{Clubs: "C", Diamonds: "D", Hearts: "H", Spades: "S"}
	suitAliases = map[string]Suit{
		"C": Clubs, "♣": Clubs,
		"D": Diamonds, "♦": Diamonds,
		"H": Hearts, "♥": Hearts,
		"S": Spades, "♠": Spades,
	}
)

// Card is a single playing card
type Card struct {
	Rank Rank `json:"rank"`
	Suit Suit `json:"suit"`
}

func (c Card) String() string {
	return rankSymbols[c.Rank] + suitSymbols[c.Suit]
}

// FromIndex maps 0..51 onto the standard deck order
func FromIndex(i int) Card {
	return Card{Rank: Rank(i%13) + Two, Suit: Suit(i / 13)}
}

// Index is the inverse of FromIndex
func Index(c Card) int {
	return int(c.Suit)*13 + int(c.Rank-Two)
}

// Parse reads "AS", "10H", "TD" or "Q♠"
func Parse(s string) (Card, error) {
	s = strings.TrimSpace(strings.ToUpper(s))
	if s == "" {
		return Card{}, fmt.Errorf("empty card")
	}

	for sym, suit := range suitAliases {
		if !strings.HasSuffix(s, sym) {
			continue
		}
		rankPart := strings.TrimSuffix(s, sym)
		if rankPart == "T" {
			rankPart = "10"
		}
		for r, rs := range rankSymbols {
			if rs == rankPart {
				return Card{Rank: r, Suit: suit}, nil
			}
		}
		return Card{}, fmt.Errorf("unknown rank in %q", s)
	}
	return Card{}, fmt.Errorf("unknown suit in %q", s)
}

// ParseHand reads a space or comma separated list of cards
func ParseHand(s string) ([]Card, error) {
	fields := strings.FieldsFunc(s, func(r rune) bool { return r == ' ' || r == ',' })
	hand := make([]Card, 0, len(fields))
	for _, f := range fields {
		c, err := Parse(f)
		if err != nil {
			return nil, err
		}
		hand = append(hand, c)
	}
	return hand, nil
}

// MustParseHand is ParseHand for fixtures
func MustParseHand(s string) []Card {
	hand, err := ParseHand(s)
	if err != nil {
		panic(err)
	}
	return hand
}

// Deck is an ordered shoe of cards with a draw cursor. It is serialized into
// engine state so a round can be resumed between actions.
type Deck struct {
	Cards []Card `json:"cards"`
	Next  int    `json:"next"`
}

// NewShuffled draws a full 52-card permutation from the source
func NewShuffled(src rng.Source) (*Deck, error) {
	order, err := src.Draw(52, rng.Deck(52))
	if err != nil {
		return nil, err
	}
	d := &Deck{Cards: make([]Card, len(order))}
	for i, idx := range order {
		d.Cards[i] = FromIndex(idx)
	}
	return d, nil
}

// Stacked builds a deck that deals the given cards in order
func Stacked(cards ...Card) *Deck {
	return &Deck{Cards: append([]Card(nil), cards...)}
}

// Draw deals the next card
func (d *Deck) Draw() (Card, error) {
	if d.Next >= len(d.Cards) {
		return Card{}, ErrDeckExhausted
	}
	c := d.Cards[d.Next]
	d.Next++
	return c, nil
}

// Remaining returns the number of undealt cards
func (d *Deck) Remaining() int {
	return len(d.Cards) - d.Next
}
