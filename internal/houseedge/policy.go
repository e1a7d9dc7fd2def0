// Package houseedge adjusts fair paytable returns to the configured
// return-to-player for each game type.
// GLI-19 §4.7: Game Payout Percentages
//
// Every adjustment is deterministic for a given Context and never pays more
// than the fair return. Contextual modifiers are bounded multipliers in
// [ModifierFloor, 1] that only scale winnings, never the returned stake.
package houseedge

import (
	"fmt"
	"time"

	"github.com/alexbotov/casino-core/internal/domain"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Modifier names recorded on outcomes
const (
	ModifierRTP       = "rtp_haircut"
	ModifierPeakHours = "peak_hours"
	ModifierStreak    = "win_streak"
)

var one = decimal.NewFromInt(1)

// PeakHours lowers winnings during a daily window [StartHour, EndHour).
// A window with StartHour > EndHour wraps past midnight.
type PeakHours struct {
	Enabled    bool
	StartHour  int
	EndHour    int
	Multiplier decimal.Decimal
	Location   *time.Location
}

// Streak lowers winnings once an account has won Threshold rounds in a row
type Streak struct {
	Enabled    bool
	Threshold  int
	Multiplier decimal.Decimal
}

// Config holds the house-edge tuning
type Config struct {
	SlotsTargetRTP   decimal.Decimal
	SlotsPaytableRTP decimal.Decimal
	RakeRate         decimal.Decimal
	RakeCap          int64
	ModifierFloor    decimal.Decimal
	PeakHours        PeakHours
	Streak           Streak
}

// Raw is the fair result of one round as priced by the paytable
type Raw struct {
	GameType domain.GameType
	Stake    int64
	Gross    int64 // total return including any returned stake
	Returned int64 // part of Gross that gives the stake back
}

// Context carries the inputs of contextual modifiers
type Context struct {
	Now       time.Time
	WinStreak int
}

// Adjusted is the payout the ledger credits
type Adjusted struct {
	Fair      int64
	Payout    int64
	Modifiers []domain.AppliedModifier
}

// Policy applies Config to raw results
type Policy struct {
	cfg    Config
	logger *zap.Logger
}

// New validates cfg and creates a policy
func New(cfg Config, logger *zap.Logger) (*Policy, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ModifierFloor.IsNegative() || cfg.ModifierFloor.GreaterThan(one) {
		return nil, fmt.Errorf("modifier floor must be within [0, 1]")
	}
	if cfg.RakeRate.IsNegative() || cfg.RakeRate.GreaterThan(one) {
		return nil, fmt.Errorf("rake rate must be within [0, 1]")
	}
	if cfg.SlotsTargetRTP.IsNegative() || cfg.SlotsPaytableRTP.IsNegative() {
		return nil, fmt.Errorf("rtp must not be negative")
	}
	if cfg.PeakHours.Enabled && (cfg.PeakHours.StartHour < 0 || cfg.PeakHours.StartHour > 23 ||
		cfg.PeakHours.EndHour < 0 || cfg.PeakHours.EndHour > 24) {
		return nil, fmt.Errorf("peak hours must be within a day")
	}
	if cfg.PeakHours.Location == nil {
		cfg.PeakHours.Location = time.UTC
	}
	return &Policy{cfg: cfg, logger: logger}, nil
}

// Adjust applies the game's edge and any contextual modifiers to raw
func (p *Policy) Adjust(raw Raw, hctx Context) (Adjusted, error) {
	if raw.Gross < 0 || raw.Returned < 0 || raw.Returned > raw.Gross {
		return Adjusted{}, domain.NewValidationError(domain.ErrInvalidAmount, "payout",
			fmt.Sprintf("inconsistent raw payout gross=%d returned=%d", raw.Gross, raw.Returned))
	}

	adj := Adjusted{Fair: raw.Gross, Payout: raw.Gross}
	winnings := raw.Gross - raw.Returned
	if winnings == 0 {
		return adj, nil
	}

	factor := one
	if raw.GameType == domain.GameSlots {
		if m, ok := p.rtpHaircut(); ok {
			factor = factor.Mul(m)
			adj.Modifiers = append(adj.Modifiers, domain.AppliedModifier{
				Name:       ModifierRTP,
				Multiplier: m,
				Reason:     fmt.Sprintf("target rtp %s of paytable rtp %s", p.cfg.SlotsTargetRTP, p.cfg.SlotsPaytableRTP),
			})
		}
	}

	for _, m := range p.contextual(hctx) {
		factor = factor.Mul(m.Multiplier)
		adj.Modifiers = append(adj.Modifiers, m)
	}

	adjustedWinnings := decimal.NewFromInt(winnings).Mul(factor).Floor().IntPart()
	if adjustedWinnings < 0 {
		adjustedWinnings = 0
	}
	if adjustedWinnings > winnings {
		adjustedWinnings = winnings
	}
	adj.Payout = raw.Returned + adjustedWinnings

	if len(adj.Modifiers) > 0 {
		p.logger.Info("house edge modifiers applied",
			zap.String("game_type", string(raw.GameType)),
			zap.Int64("fair", adj.Fair),
			zap.Int64("payout", adj.Payout),
			zap.String("factor", factor.String()),
			zap.Any("modifiers", adj.Modifiers),
		)
	}
	return adj, nil
}

// rtpHaircut returns target/paytable capped at 1
func (p *Policy) rtpHaircut() (decimal.Decimal, bool) {
	if p.cfg.SlotsPaytableRTP.IsZero() || p.cfg.SlotsTargetRTP.IsZero() {
		return one, false
	}
	m := p.cfg.SlotsTargetRTP.Div(p.cfg.SlotsPaytableRTP)
	if m.GreaterThanOrEqual(one) {
		return one, false
	}
	return m, true
}

func (p *Policy) contextual(hctx Context) []domain.AppliedModifier {
	var mods []domain.AppliedModifier

	if ph := p.cfg.PeakHours; ph.Enabled && !hctx.Now.IsZero() {
		hour := hctx.Now.In(ph.Location).Hour()
		if inWindow(hour, ph.StartHour, ph.EndHour) {
			mods = append(mods, domain.AppliedModifier{
				Name:       ModifierPeakHours,
				Multiplier: p.bound(ph.Multiplier),
				Reason:     fmt.Sprintf("hour %d within %02d:00-%02d:00", hour, ph.StartHour, ph.EndHour),
			})
		}
	}

	if st := p.cfg.Streak; st.Enabled && st.Threshold > 0 && hctx.WinStreak >= st.Threshold {
		mods = append(mods, domain.AppliedModifier{
			Name:       ModifierStreak,
			Multiplier: p.bound(st.Multiplier),
			Reason:     fmt.Sprintf("win streak %d reached threshold %d", hctx.WinStreak, st.Threshold),
		})
	}
	return mods
}

// bound clamps a modifier into [ModifierFloor, 1]
func (p *Policy) bound(m decimal.Decimal) decimal.Decimal {
	if m.GreaterThan(one) {
		return one
	}
	if m.LessThan(p.cfg.ModifierFloor) {
		return p.cfg.ModifierFloor
	}
	return m
}

func inWindow(hour, start, end int) bool {
	if start == end {
		return false
	}
	if start < end {
		return hour >= start && hour < end
	}
	return hour >= start || hour < end
}

// Rake returns the house share of a pot and the remainder to be split
func (p *Policy) Rake(pot int64) (rake, net int64) {
	if pot <= 0 {
		return 0, pot
	}
	rake = decimal.NewFromInt(pot).Mul(p.cfg.RakeRate).Floor().IntPart()
	if p.cfg.RakeCap > 0 && rake > p.cfg.RakeCap {
		rake = p.cfg.RakeCap
	}
	return rake, pot - rake
}
