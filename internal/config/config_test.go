package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alexbotov/casino-core/internal/domain"
	"github.com/shopspring/decimal"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CASINO_PORT", "")
	t.Setenv("CASINO_GAMES_FILE", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Port != "8080" {
		t.Errorf("Expected port 8080, got %s", cfg.Server.Port)
	}
	if cfg.RNG.Mode != "crypto" {
		t.Errorf("Expected crypto rng, got %s", cfg.RNG.Mode)
	}
	if len(cfg.Games.Games) != 4 {
		t.Errorf("Expected 4 embedded games, got %d", len(cfg.Games.Games))
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("CASINO_PORT", "9090")
	t.Setenv("CASINO_KAFKA_BROKERS", "kafka-1:9092, kafka-2:9092")
	t.Setenv("CASINO_STALE_SESSION_AFTER", "5m")
	t.Setenv("CASINO_LEDGER_MAX_RETRIES", "7")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Port != "9090" {
		t.Errorf("Expected port 9090, got %s", cfg.Server.Port)
	}
	if len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Brokers[1] != "kafka-2:9092" {
		t.Errorf("Expected two trimmed brokers, got %v", cfg.Kafka.Brokers)
	}
	if cfg.Recovery.StaleAfter != 5*time.Minute {
		t.Errorf("Expected 5m, got %s", cfg.Recovery.StaleAfter)
	}
	if cfg.Ledger.MaxRetries != 7 {
		t.Errorf("Expected 7 retries, got %d", cfg.Ledger.MaxRetries)
	}
}

func TestGamesFile(t *testing.T) {
	gf, err := ParseGames(defaultGames, 0.75)
	if err != nil {
		t.Fatalf("ParseGames failed: %v", err)
	}

	t.Run("Domain", func(t *testing.T) {
		games := gf.Domain()
		if games[0].Type != domain.GameBlackjack || games[0].MinBet != 100 {
			t.Errorf("Unexpected first game %+v", games[0])
		}
	})

	t.Run("HouseEdge", func(t *testing.T) {
		he, err := gf.HouseEdgeConfig()
		if err != nil {
			t.Fatalf("HouseEdge failed: %v", err)
		}
		if !he.RakeRate.Equal(decimal.NewFromFloat(0.05)) {
			t.Errorf("Expected rake 0.05, got %s", he.RakeRate)
		}
		if he.Streak.Enabled || he.PeakHours.Enabled {
			t.Error("Contextual modifiers should be disabled by default")
		}
	})

	t.Run("BlackjackRules", func(t *testing.T) {
		rules := gf.BlackjackRules()
		if !rules.BlackjackPayout.Equal(decimal.NewFromFloat(1.5)) {
			t.Errorf("Expected 3:2, got %s", rules.BlackjackPayout)
		}
	})
}

func TestParseGamesRejects(t *testing.T) {
	cases := map[string]string{
		"NoGames":   "games: []",
		"LowRTP":    "games:\n  - {id: a, type: slots, min_bet: 1, max_bet: 2, rtp: 0.5}",
		"BadLimits": "games:\n  - {id: a, type: slots, min_bet: 5, max_bet: 2, rtp: 0.9}",
		"Duplicate": "games:\n  - {id: a, type: slots, min_bet: 1, max_bet: 2, rtp: 0.9}\n  - {id: b, type: slots, min_bet: 1, max_bet: 2, rtp: 0.9}",
		"NotYAML":   "games: [",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := ParseGames([]byte(doc), 0.75); err == nil {
				t.Error("Expected an error")
			}
		})
	}
}

func TestGamesFileOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "games.yaml")
	doc := "games:\n  - {id: house-roulette, name: Roulette, type: roulette, min_bet: 50, max_bet: 500, rtp: 0.973, enabled: true}\n"
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatalf("Failed to write games file: %v", err)
	}
	t.Setenv("CASINO_GAMES_FILE", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(cfg.Games.Games) != 1 || cfg.Games.Games[0].MinBet != 50 {
		t.Errorf("Expected override file, got %+v", cfg.Games.Games)
	}
}
