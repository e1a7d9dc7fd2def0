package domain

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func TestMoney(t *testing.T) {
	t.Run("Decimal", func(t *testing.T) {
		m := Money{Amount: 10050, Currency: "USD"}
		if !m.Decimal().Equal(decimal.RequireFromString("100.50")) {
			t.Errorf("Expected 100.50, got %s", m.Decimal())
		}
	})

	t.Run("Add", func(t *testing.T) {
		result := NewMoney(1000, "USD").Add(NewMoney(500, "USD"))
		if result.Amount != 1500 {
			t.Errorf("Expected 1500, got %d", result.Amount)
		}
	})

	t.Run("SubNegative", func(t *testing.T) {
		result := NewMoney(100, "USD").Sub(NewMoney(300, "USD"))
		if result.Amount != -200 {
			t.Errorf("Expected -200, got %d", result.Amount)
		}
	})
}

func TestSessionStatus(t *testing.T) {
	final := map[SessionStatus]bool{
		SessionOpen:              false,
		SessionPendingSettlement: false,
		SessionSettled:           true,
		SessionAbandoned:         true,
	}
	for status, want := range final {
		if status.Final() != want {
			t.Errorf("Expected %s final=%v", status, want)
		}
	}
}

func TestGameSessionClone(t *testing.T) {
	orig := &GameSession{
		ID:          "s1",
		EngineState: json.RawMessage(`{"phase":"player_turn"}`),
		Outcome: &Outcome{
			Result:    "player_win",
			Modifiers: []AppliedModifier{{Name: "peak_hours", Multiplier: decimal.RequireFromString("0.98")}},
		},
	}

	c := orig.Clone()
	c.EngineState[2] = 'X'
	c.Outcome.Result = "changed"
	c.Outcome.Modifiers[0].Name = "changed"

	if string(orig.EngineState) != `{"phase":"player_turn"}` {
		t.Errorf("Clone shares engine state: %s", orig.EngineState)
	}
	if orig.Outcome.Result != "player_win" || orig.Outcome.Modifiers[0].Name != "peak_hours" {
		t.Error("Clone shares outcome")
	}
}

func TestErrorTaxonomy(t *testing.T) {
	t.Run("ValidationKinds", func(t *testing.T) {
		err := InvalidWager("below minimum %d", 10)
		if !errors.Is(err, ErrInvalidWager) || !errors.Is(err, ErrValidation) {
			t.Errorf("Expected wager validation error, got %v", err)
		}
		var ve *ValidationError
		if !errors.As(err, &ve) || ve.Field != "wager" {
			t.Errorf("Expected ValidationError on field wager, got %v", err)
		}
	})

	t.Run("SettlementError", func(t *testing.T) {
		err := error(&SettlementError{SessionID: "s1", Amount: 200, Cause: ErrTransient})
		if !errors.Is(err, ErrSettlementFailure) {
			t.Error("Expected ErrSettlementFailure match")
		}
		if !errors.Is(err, ErrTransient) {
			t.Error("Expected cause to be reachable")
		}
	})
}

func TestAccountModes(t *testing.T) {
	if !AccountModeDemo.Valid() || !AccountModeReal.Valid() {
		t.Error("Expected demo and real to be valid")
	}
	if AccountMode("bonus").Valid() {
		t.Error("Expected unknown mode to be invalid")
	}
}
