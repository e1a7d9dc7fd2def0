package poker_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/alexbotov/casino-core/internal/cards"
	"github.com/alexbotov/casino-core/internal/poker"
	"github.com/cucumber/godog"
)

const featureTableSize = 6

type rankingContext struct {
	first, other []cards.Card
	hand         poker.Hand
	comparison   int
	board        []cards.Card
	contenders   []poker.Contender
	result       *poker.ShowdownResult
}

func (c *rankingContext) reset() {
	*c = rankingContext{}
}

func (c *rankingContext) theHand(s string) error {
	hand, err := cards.ParseHand(s)
	c.first = hand
	return err
}

func (c *rankingContext) theOtherHand(s string) error {
	hand, err := cards.ParseHand(s)
	c.other = hand
	return err
}

func (c *rankingContext) theHandIsEvaluated() error {
	h, err := poker.Evaluate(c.first)
	c.hand = h
	return err
}

func (c *rankingContext) theRankIs(rank string) error {
	if c.hand.Rank.String() != rank {
		return fmt.Errorf("expected %s, got %s", rank, c.hand.Rank)
	}
	return nil
}

func (c *rankingContext) theHandsAreCompared() error {
	a, err := poker.Evaluate(c.first)
	if err != nil {
		return err
	}
	b, err := poker.Evaluate(c.other)
	if err != nil {
		return err
	}
	c.comparison = poker.Compare(a, b)
	return nil
}

func (c *rankingContext) theFirstHandWins() error {
	if c.comparison != 1 {
		return fmt.Errorf("expected first hand to win, compare returned %d", c.comparison)
	}
	return nil
}

func (c *rankingContext) theHandsTie() error {
	if c.comparison != 0 {
		return fmt.Errorf("expected a tie, compare returned %d", c.comparison)
	}
	return nil
}

func (c *rankingContext) theBoard(s string) error {
	board, err := cards.ParseHand(s)
	c.board = board
	return err
}

func (c *rankingContext) seatHolds(seat int, s string) error {
	hole, err := cards.ParseHand(s)
	if err != nil {
		return err
	}
	c.contenders = append(c.contenders, poker.Contender{Seat: seat, Hole: hole})
	return nil
}

func (c *rankingContext) thePotIsShownDown(pot int64, button int) error {
	res, err := poker.Showdown(c.contenders, c.board, pot, button, featureTableSize)
	c.result = res
	return err
}

func (c *rankingContext) seatIsAwarded(seat int, amount int64) error {
	if got := c.result.Awards[seat]; got != amount {
		return fmt.Errorf("expected seat %d to be awarded %d, got %d", seat, amount, got)
	}
	return nil
}

func InitializeScenario(ctx *godog.ScenarioContext) {
	tc := &rankingContext{}

	ctx.Before(func(ctx context.Context, sc *godog.Scenario) (context.Context, error) {
		tc.reset()
		return ctx, nil
	})

	// Given steps
	ctx.Step(`^the hand "([^"]*)"$`, tc.theHand)
	ctx.Step(`^the other hand "([^"]*)"$`, tc.theOtherHand)
	ctx.Step(`^the board "([^"]*)"$`, tc.theBoard)
	ctx.Step(`^seat (\d+) holds "([^"]*)"$`, tc.seatHolds)

	// When steps
	ctx.Step(`^the hand is evaluated$`, tc.theHandIsEvaluated)
	ctx.Step(`^the hands are compared$`, tc.theHandsAreCompared)
	ctx.Step(`^the pot of (\d+) is shown down with the button on seat (\d+)$`, tc.thePotIsShownDown)

	// Then steps
	ctx.Step(`^the rank is "([^"]*)"$`, tc.theRankIs)
	ctx.Step(`^the first hand wins$`, tc.theFirstHandWins)
	ctx.Step(`^the hands tie$`, tc.theHandsTie)
	ctx.Step(`^seat (\d+) is awarded (\d+)$`, tc.seatIsAwarded)
}

func TestFeatures(t *testing.T) {
	suite := godog.TestSuite{
		ScenarioInitializer: InitializeScenario,
		Options: &godog.Options{
			Format:   "pretty",
			Paths:    []string{"features/hand_ranking.feature"},
			TestingT: t,
		},
	}

	if suite.Run() != 0 {
		t.Fatal("non-zero status returned, failed to run feature tests")
	}
}
