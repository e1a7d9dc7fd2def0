// Package game provides the game engines and the registry that selects one
// per game type.
// Compliant with GLI-19 Chapter 4: Game Requirements
//
// Engines are pure state transitions over an opaque JSON state. They draw
// randomness only through the rng.Source they are handed and never touch the
// ledger; the session manager owns persistence and money movement.
package game

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/alexbotov/casino-core/internal/domain"
	"github.com/alexbotov/casino-core/internal/rng"
	"github.com/shopspring/decimal"
)

// Round is the engine state after Start or Apply
type Round struct {
	State    json.RawMessage
	View     any
	Terminal bool
	// AdditionalStake is wager the action adds (a blackjack double); the
	// caller must reserve it before persisting State.
	AdditionalStake int64
	Result          *Result
}

// Result is the fair outcome of a terminal round. Gross is everything the
// paytable returns, including Returned, the part that gives back the stake.
type Result struct {
	Descriptor string          `json:"descriptor"`
	Stake      int64           `json:"stake"`
	Gross      int64           `json:"gross"`
	Returned   int64           `json:"returned"`
	Multiplier decimal.Decimal `json:"multiplier"`
	Jackpot    bool            `json:"jackpot,omitempty"`
	Details    json.RawMessage `json:"details,omitempty"`
}

// Engine is implemented once per game type (GLI-19 §4.5)
type Engine interface {
	Type() domain.GameType
	// TurnBased engines hold a session open between actions; the others
	// resolve the whole round in Start.
	TurnBased() bool
	Start(ctx context.Context, src rng.Source, wager int64, params json.RawMessage) (*Round, error)
	Apply(ctx context.Context, src rng.Source, state json.RawMessage, action string, params json.RawMessage) (*Round, error)
	View(state json.RawMessage) (any, error)
}

func newResult(descriptor string, stake, gross, returned int64, details any) (*Result, error) {
	r := &Result{
		Descriptor: descriptor,
		Stake:      stake,
		Gross:      gross,
		Returned:   returned,
		Multiplier: decimal.Zero,
	}
	if stake > 0 {
		r.Multiplier = decimal.NewFromInt(gross).Div(decimal.NewFromInt(stake))
	}
	if details != nil {
		b, err := json.Marshal(details)
		if err != nil {
			return nil, fmt.Errorf("failed to encode result details: %w", err)
		}
		r.Details = b
	}
	return r, nil
}

func decodeParams(params json.RawMessage, v any) error {
	if len(params) == 0 || string(params) == "null" {
		return nil
	}
	if err := json.Unmarshal(params, v); err != nil {
		return domain.NewValidationError(domain.ErrInvalidAction, "params", err.Error())
	}
	return nil
}

func decodeState(state json.RawMessage, v any) error {
	if err := json.Unmarshal(state, v); err != nil {
		return fmt.Errorf("failed to decode engine state: %w", err)
	}
	return nil
}

// Registry maps game types to engines and their table limits
type Registry struct {
	engines map[domain.GameType]Engine
	games   map[domain.GameType]*domain.Game
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		engines: make(map[domain.GameType]Engine),
		games:   make(map[domain.GameType]*domain.Game),
	}
}

// Register adds an engine with its table definition
func (r *Registry) Register(g domain.Game, e Engine) error {
	if g.Type != e.Type() {
		return fmt.Errorf("game %s declares type %s but engine is %s", g.ID, g.Type, e.Type())
	}
	if g.MinBet <= 0 || g.MaxBet < g.MinBet {
		return fmt.Errorf("game %s has invalid bet limits %d-%d", g.ID, g.MinBet, g.MaxBet)
	}
	if g.ID == "" {
		g.ID = string(g.Type)
	}
	r.engines[g.Type] = e
	r.games[g.Type] = &g
	return nil
}

// Engine returns the engine for a game type
func (r *Registry) Engine(gameType domain.GameType) (Engine, error) {
	e, ok := r.engines[gameType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrGameNotFound, gameType)
	}
	return e, nil
}

// Game returns the table definition for a game type
func (r *Registry) Game(gameType domain.GameType) (*domain.Game, error) {
	g, ok := r.games[gameType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrGameNotFound, gameType)
	}
	cp := *g
	return &cp, nil
}

// Games returns all registered games ordered by type
func (r *Registry) Games() []*domain.Game {
	games := make([]*domain.Game, 0, len(r.games))
	for _, g := range r.games {
		cp := *g
		games = append(games, &cp)
	}
	sort.Slice(games, func(i, j int) bool { return games[i].Type < games[j].Type })
	return games
}

// ValidateWager checks the table limits (GLI-19 §4.3.3)
func (r *Registry) ValidateWager(gameType domain.GameType, wager int64) error {
	g, err := r.Game(gameType)
	if err != nil {
		return err
	}
	if wager < g.MinBet || wager > g.MaxBet {
		return domain.InvalidWager("%d outside table limits %d-%d", wager, g.MinBet, g.MaxBet)
	}
	return nil
}
