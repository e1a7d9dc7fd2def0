// Package game - Slot game implementation
// Compliant with GLI-19 §4.4, §4.5, §4.6
package game

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/alexbotov/casino-core/internal/domain"
	"github.com/alexbotov/casino-core/internal/rng"
)

// SlotSymbol is one reel symbol. Lower Weight means rarer.
type SlotSymbol struct {
	Name   string `json:"name" yaml:"name"`
	Weight int    `json:"weight" yaml:"weight"`
	Value  int64  `json:"value" yaml:"value"`
	Wild   bool   `json:"wild,omitempty" yaml:"wild"`
}

// SlotsTable is the machine configuration (GLI-19 §4.4.1: Paytable information)
type SlotsTable struct {
	Rows    int
	Reels   int
	Symbols []SlotSymbol
	// Paylines holds one row index per reel for every line
	Paylines [][]int
	// RunMultipliers maps run length to the multiplier of the symbol value
	RunMultipliers map[int]int64
	MinRun         int
	// JackpotMultiplier pays this many times the wager on top of the line
	// when the rarest symbol fills a whole line
	JackpotMultiplier int64
	// MaxWinMultiplier caps the total return at this many times the wager
	MaxWinMultiplier int64
}

// DefaultSlotsTable is a 3x5 machine with five lines
func DefaultSlotsTable() SlotsTable {
	return SlotsTable{
		Rows:  3,
		Reels: 5,
		Symbols: []SlotSymbol{
			{Name: "cherry", Weight: 30, Value: 2},
			{Name: "lemon", Weight: 25, Value: 3},
			{Name: "orange", Weight: 20, Value: 4},
			{Name: "bell", Weight: 12, Value: 8},
			{Name: "bar", Weight: 8, Value: 15},
			{Name: "wild", Weight: 4, Value: 25, Wild: true},
			{Name: "seven", Weight: 1, Value: 50},
		},
		Paylines: [][]int{
			{1, 1, 1, 1, 1},
			{0, 0, 0, 0, 0},
			{2, 2, 2, 2, 2},
			{0, 1, 2, 1, 0},
			{2, 1, 0, 1, 2},
		},
		RunMultipliers:    map[int]int64{3: 1, 4: 3, 5: 10},
		MinRun:            3,
		JackpotMultiplier: 100,
		MaxWinMultiplier:  1000,
	}
}

// Validate checks the table is internally consistent
func (t SlotsTable) Validate() error {
	if t.Rows <= 0 || t.Reels < 3 {
		return fmt.Errorf("slots grid %dx%d too small", t.Rows, t.Reels)
	}
	if len(t.Symbols) == 0 || len(t.Paylines) == 0 {
		return fmt.Errorf("slots table needs symbols and paylines")
	}
	for _, s := range t.Symbols {
		if s.Weight <= 0 {
			return fmt.Errorf("symbol %s weight must be positive", s.Name)
		}
	}
	for i, line := range t.Paylines {
		if len(line) != t.Reels {
			return fmt.Errorf("payline %d covers %d reels, want %d", i, len(line), t.Reels)
		}
		for _, row := range line {
			if row < 0 || row >= t.Rows {
				return fmt.Errorf("payline %d row %d off the grid", i, row)
			}
		}
	}
	if t.MinRun < 1 {
		return fmt.Errorf("minimum run must be positive")
	}
	return nil
}

// WinLine represents a winning payline
type WinLine struct {
	Line    int      `json:"line"`
	Symbols []string `json:"symbols"`
	Symbol  string   `json:"symbol"`
	Count   int      `json:"count"`
	Payout  int64    `json:"payout"`
	Jackpot bool     `json:"jackpot,omitempty"`
}

// SlotOutcome represents the outcome of a slot spin
// GLI-19 §4.14: Game Recall
type SlotOutcome struct {
	Grid       [][]string `json:"grid"` // [reel][row]
	BetPerLine int64      `json:"bet_per_line"`
	WinLines   []WinLine  `json:"win_lines"`
	Jackpot    bool       `json:"jackpot"`
	Capped     bool       `json:"capped,omitempty"`
	Total      int64      `json:"total"`
}

// Slots is the payline slot engine
type Slots struct {
	table   SlotsTable
	weights []int
	rarest  int
}

var _ Engine = (*Slots)(nil)

// NewSlots creates the engine for a validated table
func NewSlots(table SlotsTable) (*Slots, error) {
	if err := table.Validate(); err != nil {
		return nil, err
	}
	s := &Slots{table: table, weights: make([]int, len(table.Symbols))}
	for i, sym := range table.Symbols {
		s.weights[i] = sym.Weight
		if sym.Weight < table.Symbols[s.rarest].Weight {
			s.rarest = i
		}
	}
	return s, nil
}

func (s *Slots) Type() domain.GameType { return domain.GameSlots }

func (s *Slots) TurnBased() bool { return false }

// Start spins the reels (GLI-19 §4.5.2: outcomes determined by RNG)
func (s *Slots) Start(ctx context.Context, src rng.Source, wager int64, params json.RawMessage) (*Round, error) {
	lines := int64(len(s.table.Paylines))
	if wager <= 0 || wager%lines != 0 {
		return nil, domain.InvalidWager("%d must be a positive multiple of %d lines", wager, lines)
	}

	grid := make([][]string, s.table.Reels)
	for r := range grid {
		idx, err := src.Draw(s.table.Rows, rng.Weighted(s.weights))
		if err != nil {
			return nil, err
		}
		grid[r] = make([]string, s.table.Rows)
		for row, i := range idx {
			grid[r][row] = s.table.Symbols[i].Name
		}
	}

	out := s.Evaluate(grid, wager/lines)
	s.applyCap(&out, wager)

	state, err := json.Marshal(out)
	if err != nil {
		return nil, err
	}
	descriptor := "no_win"
	switch {
	case out.Jackpot:
		descriptor = "jackpot"
	case out.Total > 0:
		descriptor = "line_win"
	}
	result, err := newResult(descriptor, wager, out.Total, 0, out)
	if err != nil {
		return nil, err
	}
	result.Jackpot = out.Jackpot
	return &Round{State: state, View: out, Terminal: true, Result: result}, nil
}

// Evaluate scores every payline of a grid. A line pays when a run of at
// least MinRun matching symbols starts on the first reel; wilds substitute.
func (s *Slots) Evaluate(grid [][]string, betPerLine int64) SlotOutcome {
	out := SlotOutcome{Grid: grid, BetPerLine: betPerLine, WinLines: []WinLine{}}
	rarest := s.table.Symbols[s.rarest].Name

	for li, line := range s.table.Paylines {
		symbols := make([]string, len(line))
		for r, row := range line {
			symbols[r] = grid[r][row]
		}

		base := ""
		for _, name := range symbols {
			if !s.isWild(name) {
				base = name
				break
			}
		}
		if base == "" {
			base = symbols[0]
		}

		count := 0
		for _, name := range symbols {
			if name != base && !s.isWild(name) {
				break
			}
			count++
		}
		if count < s.table.MinRun {
			continue
		}

		sym, ok := s.symbol(base)
		if !ok {
			continue
		}
		win := WinLine{
			Line:    li + 1,
			Symbols: symbols,
			Symbol:  base,
			Count:   count,
			Payout:  sym.Value * s.table.RunMultipliers[count] * betPerLine,
		}

		full := true
		for _, name := range symbols {
			if name != rarest {
				full = false
				break
			}
		}
		if full {
			win.Jackpot = true
			win.Payout += s.table.JackpotMultiplier * betPerLine * int64(len(s.table.Paylines))
			out.Jackpot = true
		}

		if win.Payout > 0 {
			out.WinLines = append(out.WinLines, win)
			out.Total += win.Payout
		}
	}
	return out
}

// applyCap limits the total return to MaxWinMultiplier times the wager
func (s *Slots) applyCap(out *SlotOutcome, wager int64) {
	if s.table.MaxWinMultiplier <= 0 {
		return
	}
	if max := s.table.MaxWinMultiplier * wager; out.Total > max {
		out.Total = max
		out.Capped = true
	}
}

func (s *Slots) isWild(name string) bool {
	sym, ok := s.symbol(name)
	return ok && sym.Wild
}

func (s *Slots) symbol(name string) (SlotSymbol, bool) {
	for _, sym := range s.table.Symbols {
		if sym.Name == name {
			return sym, true
		}
	}
	return SlotSymbol{}, false
}

func (s *Slots) Apply(context.Context, rng.Source, json.RawMessage, string, json.RawMessage) (*Round, error) {
	return nil, domain.InvalidAction("slots resolve in a single spin")
}

func (s *Slots) View(state json.RawMessage) (any, error) {
	var out SlotOutcome
	if err := decodeState(state, &out); err != nil {
		return nil, err
	}
	return out, nil
}
