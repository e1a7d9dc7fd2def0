// Package config provides configuration management for the settlement core.
// Process settings come from the environment (optionally a .env file); game
// tables and house-edge tuning come from a YAML file, embedded by default.
package config

import (
	_ "embed"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/alexbotov/casino-core/internal/domain"
	"github.com/alexbotov/casino-core/internal/game"
	"github.com/alexbotov/casino-core/internal/houseedge"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

//go:embed games.yaml
var defaultGames []byte

// Config holds all configuration
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Auth     AuthConfig
	RNG      RNGConfig
	Ledger   LedgerConfig
	Kafka    KafkaConfig
	Redis    RedisConfig
	Recovery RecoveryConfig
	Log      LogConfig
	Game     GameConfig
	Games    GamesFile
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	CORSOrigins  []string
}

// DatabaseConfig holds database configuration. An empty Driver keeps all
// state in memory.
type DatabaseConfig struct {
	Driver string
	DSN    string
}

// AuthConfig holds bearer token verification settings
type AuthConfig struct {
	JWTSecret string
	Issuer    string
}

// RNGConfig selects the randomness source
type RNGConfig struct {
	Mode string // crypto or seeded
	Seed string
}

// LedgerConfig tunes the wallet
type LedgerConfig struct {
	MaxRetries     int
	LargeWinAmount int64
}

// KafkaConfig enables the settlement event publisher when Brokers is set
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// RedisConfig enables the shared action-result cache when Addr is set
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	Prefix    string
	ResultTTL time.Duration
}

// RecoveryConfig tunes the background recovery jobs
type RecoveryConfig struct {
	Interval   time.Duration
	RetryAfter time.Duration
	StaleAfter time.Duration
	BatchSize  int
}

// LogConfig selects the zap logger
type LogConfig struct {
	Level  string
	Format string // json or console
}

// GameConfig holds game-related configuration
type GameConfig struct {
	DefaultCurrency string
	MinRTP          float64
	GamesFile       string
}

// GamesFile is the YAML game-table document
type GamesFile struct {
	Games     []GameEntry    `yaml:"games"`
	Blackjack BlackjackEntry `yaml:"blackjack"`
	Slots     SlotsEntry     `yaml:"slots"`
	Poker     PokerEntry     `yaml:"poker"`
	HouseEdge HouseEdgeEntry `yaml:"house_edge"`
}

// GameEntry is one table definition
type GameEntry struct {
	ID      string  `yaml:"id"`
	Name    string  `yaml:"name"`
	Type    string  `yaml:"type"`
	MinBet  int64   `yaml:"min_bet"`
	MaxBet  int64   `yaml:"max_bet"`
	RTP     float64 `yaml:"rtp"`
	Enabled bool    `yaml:"enabled"`
}

type BlackjackEntry struct {
	BlackjackPayout float64 `yaml:"blackjack_payout"`
	HitSoft17       bool    `yaml:"hit_soft_17"`
}

type SlotsEntry struct {
	JackpotMultiplier int64 `yaml:"jackpot_multiplier"`
	MaxWinMultiplier  int64 `yaml:"max_win_multiplier"`
}

type PokerEntry struct {
	TableSize int   `yaml:"table_size"`
	Ante      int64 `yaml:"ante"`
}

type HouseEdgeEntry struct {
	SlotsTargetRTP   float64 `yaml:"slots_target_rtp"`
	SlotsPaytableRTP float64 `yaml:"slots_paytable_rtp"`
	RakeRate         float64 `yaml:"rake_rate"`
	RakeCap          int64   `yaml:"rake_cap"`
	ModifierFloor    float64 `yaml:"modifier_floor"`
	PeakHours        struct {
		Enabled    bool    `yaml:"enabled"`
		StartHour  int     `yaml:"start_hour"`
		EndHour    int     `yaml:"end_hour"`
		Multiplier float64 `yaml:"multiplier"`
		Timezone   string  `yaml:"timezone"`
	} `yaml:"peak_hours"`
	Streak struct {
		Enabled    bool    `yaml:"enabled"`
		Threshold  int     `yaml:"threshold"`
		Multiplier float64 `yaml:"multiplier"`
	} `yaml:"streak"`
}

// Load loads configuration from environment with defaults. A .env file in
// the working directory is read first when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Port:         getEnv("CASINO_PORT", "8080"),
			ReadTimeout:  getDuration("CASINO_READ_TIMEOUT", 30*time.Second),
			WriteTimeout: getDuration("CASINO_WRITE_TIMEOUT", 30*time.Second),
			CORSOrigins:  getList("CASINO_CORS_ORIGINS", []string{"*"}),
		},
		Database: DatabaseConfig{
			Driver: getEnv("CASINO_DB_DRIVER", ""),
			DSN:    getEnv("CASINO_DB_DSN", "host=localhost dbname=casino sslmode=disable"),
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("CASINO_JWT_SECRET", "casino-dev-secret-change-in-production"),
			Issuer:    getEnv("CASINO_JWT_ISSUER", ""),
		},
		RNG: RNGConfig{
			Mode: getEnv("RNG_MODE", "crypto"),
			Seed: getEnv("RNG_SEED", ""),
		},
		Ledger: LedgerConfig{
			MaxRetries:     getInt("CASINO_LEDGER_MAX_RETRIES", 3),
			LargeWinAmount: int64(getInt("CASINO_LARGE_WIN_AMOUNT", 1000000)),
		},
		Kafka: KafkaConfig{
			Brokers: getList("CASINO_KAFKA_BROKERS", nil),
			Topic:   getEnv("CASINO_KAFKA_TOPIC", "casino.settlements"),
		},
		Redis: RedisConfig{
			Addr:      getEnv("CASINO_REDIS_ADDR", ""),
			Password:  getEnv("CASINO_REDIS_PASSWORD", ""),
			DB:        getInt("CASINO_REDIS_DB", 0),
			Prefix:    getEnv("CASINO_REDIS_PREFIX", "casino:"),
			ResultTTL: getDuration("CASINO_RESULT_TTL", 10*time.Minute),
		},
		Recovery: RecoveryConfig{
			Interval:   getDuration("CASINO_RECOVERY_INTERVAL", 30*time.Second),
			RetryAfter: getDuration("CASINO_RECOVERY_RETRY_AFTER", 10*time.Second),
			StaleAfter: getDuration("CASINO_STALE_SESSION_AFTER", 30*time.Minute),
			BatchSize:  getInt("CASINO_RECOVERY_BATCH", 100),
		},
		Log: LogConfig{
			Level:  getEnv("CASINO_LOG_LEVEL", "info"),
			Format: getEnv("CASINO_LOG_FORMAT", "json"),
		},
		Game: GameConfig{
			DefaultCurrency: getEnv("CASINO_CURRENCY", "USD"),
			MinRTP:          0.75, // GLI-19 §4.7.1 - minimum 75%
			GamesFile:       getEnv("CASINO_GAMES_FILE", ""),
		},
	}

	raw := defaultGames
	if cfg.Game.GamesFile != "" {
		b, err := os.ReadFile(cfg.Game.GamesFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read games file: %w", err)
		}
		raw = b
	}
	games, err := ParseGames(raw, cfg.Game.MinRTP)
	if err != nil {
		return nil, err
	}
	cfg.Games = *games

	return cfg, nil
}

// ParseGames decodes and validates a games document
func ParseGames(raw []byte, minRTP float64) (*GamesFile, error) {
	var gf GamesFile
	if err := yaml.Unmarshal(raw, &gf); err != nil {
		return nil, fmt.Errorf("failed to parse games file: %w", err)
	}
	if len(gf.Games) == 0 {
		return nil, fmt.Errorf("games file defines no games")
	}
	seen := make(map[string]bool)
	for _, g := range gf.Games {
		if seen[g.Type] {
			return nil, fmt.Errorf("game type %s defined twice", g.Type)
		}
		seen[g.Type] = true
		if g.RTP < minRTP || g.RTP > 1 {
			return nil, fmt.Errorf("game %s rtp %.4f outside [%.2f, 1]", g.ID, g.RTP, minRTP)
		}
		if g.MinBet <= 0 || g.MaxBet < g.MinBet {
			return nil, fmt.Errorf("game %s has invalid bet limits %d-%d", g.ID, g.MinBet, g.MaxBet)
		}
	}
	return &gf, nil
}

// Domain returns the table definitions as domain games
func (gf GamesFile) Domain() []domain.Game {
	out := make([]domain.Game, 0, len(gf.Games))
	for _, g := range gf.Games {
		out = append(out, domain.Game{
			ID:             g.ID,
			Name:           g.Name,
			Type:           domain.GameType(g.Type),
			TheoreticalRTP: g.RTP,
			MinBet:         g.MinBet,
			MaxBet:         g.MaxBet,
			Enabled:        g.Enabled,
		})
	}
	return out
}

// BlackjackRules returns the configured blackjack rules
func (gf GamesFile) BlackjackRules() game.BlackjackRules {
	return game.BlackjackRules{
		BlackjackPayout: decimal.NewFromFloat(gf.Blackjack.BlackjackPayout),
		HitSoft17:       gf.Blackjack.HitSoft17,
	}
}

// SlotsTable returns the default machine with the configured caps
func (gf GamesFile) SlotsTable() game.SlotsTable {
	t := game.DefaultSlotsTable()
	if gf.Slots.JackpotMultiplier > 0 {
		t.JackpotMultiplier = gf.Slots.JackpotMultiplier
	}
	if gf.Slots.MaxWinMultiplier > 0 {
		t.MaxWinMultiplier = gf.Slots.MaxWinMultiplier
	}
	return t
}

// HouseEdgeConfig converts the tuning to policy config
func (gf GamesFile) HouseEdgeConfig() (houseedge.Config, error) {
	he := gf.HouseEdge
	loc := time.UTC
	if he.PeakHours.Timezone != "" {
		l, err := time.LoadLocation(he.PeakHours.Timezone)
		if err != nil {
			return houseedge.Config{}, fmt.Errorf("invalid peak hours timezone: %w", err)
		}
		loc = l
	}
	return houseedge.Config{
		SlotsTargetRTP:   decimal.NewFromFloat(he.SlotsTargetRTP),
		SlotsPaytableRTP: decimal.NewFromFloat(he.SlotsPaytableRTP),
		RakeRate:         decimal.NewFromFloat(he.RakeRate),
		RakeCap:          he.RakeCap,
		ModifierFloor:    decimal.NewFromFloat(he.ModifierFloor),
		PeakHours: houseedge.PeakHours{
			Enabled:    he.PeakHours.Enabled,
			StartHour:  he.PeakHours.StartHour,
			EndHour:    he.PeakHours.EndHour,
			Multiplier: decimal.NewFromFloat(he.PeakHours.Multiplier),
			Location:   loc,
		},
		Streak: houseedge.Streak{
			Enabled:    he.Streak.Enabled,
			Threshold:  he.Streak.Threshold,
			Multiplier: decimal.NewFromFloat(he.Streak.Multiplier),
		},
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	if n, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return n
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if d, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return d
	}
	return defaultValue
}

func getList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, v := range strings.Split(value, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
