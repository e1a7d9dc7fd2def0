// Package control provides gaming system control functionality
// Compliant with GLI-19 §2.4: Gaming Management
//
// Key Requirements:
//   - Operator must be able to disable all gaming on demand
//   - Individual games can be disabled
//   - All state changes must be logged
package control

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/alexbotov/casino-core/internal/audit"
	"github.com/alexbotov/casino-core/internal/database"
	"github.com/alexbotov/casino-core/internal/domain"
	"go.uber.org/zap"
)

// Service provides gaming system control functionality
// GLI-19 §2.4 - Gaming Management: System must support disabling gaming operations
type Service struct {
	db     *database.DB
	audit  *audit.Service
	logger *zap.Logger

	mu             sync.RWMutex
	gamingEnabled  bool
	disabledGames  map[string]bool
	disabledAt     *time.Time
	disabledBy     string
	disabledReason string
}

// New creates a new control service. Without a database the state lives in
// memory only.
func New(db *database.DB, auditSvc *audit.Service, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		db:            db,
		audit:         auditSvc,
		logger:        logger.Named("control"),
		gamingEnabled: true,
		disabledGames: make(map[string]bool),
	}
}

// DisableAllGaming stops all gaming activity
// GLI-19 §2.4.1 - Gaming Management: Ability to disable on demand
func (s *Service) DisableAllGaming(ctx context.Context, reason, authorizedBy string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	if err := s.persistGamingState(ctx, false, now, authorizedBy); err != nil {
		return err
	}
	s.gamingEnabled = false
	s.disabledAt = &now
	s.disabledBy = authorizedBy
	s.disabledReason = reason

	// GLI-19 §2.8.8 significant event
	_ = s.audit.Log(ctx, audit.EventGamingDisabled, domain.SeverityCritical,
		fmt.Sprintf("All gaming disabled: %s", reason),
		map[string]interface{}{
			"authorized_by": authorizedBy,
			"reason":        reason,
		},
		audit.WithComponent("control"))
	s.logger.Warn("gaming disabled", zap.String("reason", reason), zap.String("authorized_by", authorizedBy))

	return nil
}

// EnableAllGaming resumes gaming operations
// GLI-19 §2.4.1 - Gaming Management
func (s *Service) EnableAllGaming(ctx context.Context, authorizedBy string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.persistGamingState(ctx, true, time.Now().UTC(), authorizedBy); err != nil {
		return err
	}
	s.gamingEnabled = true
	s.disabledAt = nil
	s.disabledBy = ""
	s.disabledReason = ""

	_ = s.audit.Log(ctx, audit.EventGamingEnabled, domain.SeverityInfo,
		"All gaming enabled",
		map[string]interface{}{"authorized_by": authorizedBy},
		audit.WithComponent("control"))
	s.logger.Info("gaming enabled", zap.String("authorized_by", authorizedBy))

	return nil
}

// DisableGame disables a specific game
// GLI-19 §2.4 - Gaming Management
func (s *Service) DisableGame(ctx context.Context, gameID, reason, authorizedBy string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db != nil {
		_, err := s.db.Builder().
			Insert("disabled_games").
			Columns("game_id", "reason", "disabled_at", "disabled_by").
			Values(gameID, reason, time.Now().UTC(), authorizedBy).
			Suffix("ON CONFLICT (game_id) DO UPDATE SET reason = excluded.reason, disabled_at = excluded.disabled_at, disabled_by = excluded.disabled_by").
			RunWith(s.db.DB).
			ExecContext(ctx)
		if err != nil {
			return fmt.Errorf("failed to persist game state: %w", err)
		}
	}
	s.disabledGames[gameID] = true

	_ = s.audit.Log(ctx, audit.EventGameDisabled, domain.SeverityWarning,
		fmt.Sprintf("Game disabled: %s - %s", gameID, reason),
		map[string]interface{}{
			"game_id":       gameID,
			"reason":        reason,
			"authorized_by": authorizedBy,
		},
		audit.WithComponent("control"))

	return nil
}

// EnableGame enables a specific game
// GLI-19 §2.4 - Gaming Management
func (s *Service) EnableGame(ctx context.Context, gameID, authorizedBy string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db != nil {
		_, err := s.db.Builder().
			Delete("disabled_games").
			Where(sq.Eq{"game_id": gameID}).
			RunWith(s.db.DB).
			ExecContext(ctx)
		if err != nil {
			return fmt.Errorf("failed to persist game state: %w", err)
		}
	}
	delete(s.disabledGames, gameID)

	_ = s.audit.Log(ctx, audit.EventGameEnabled, domain.SeverityInfo,
		fmt.Sprintf("Game enabled: %s", gameID),
		map[string]interface{}{
			"game_id":       gameID,
			"authorized_by": authorizedBy,
		},
		audit.WithComponent("control"))

	return nil
}

// IsGamingEnabled checks if gaming is currently enabled
// GLI-19 §2.4 - Must be able to check system state
func (s *Service) IsGamingEnabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.gamingEnabled
}

// IsGameEnabled checks if a specific game is enabled
func (s *Service) IsGameEnabled(gameID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return !s.disabledGames[gameID]
}

// GetSystemStatus returns current gaming system status
// GLI-19 §2.4 - System status must be available
func (s *Service) GetSystemStatus(ctx context.Context) (*domain.GamingSystemStatus, error) {
	s.mu.RLock()
	status := &domain.GamingSystemStatus{
		GamingEnabled:  s.gamingEnabled,
		DisabledAt:     s.disabledAt,
		DisabledBy:     s.disabledBy,
		DisabledReason: s.disabledReason,
	}
	for gameID := range s.disabledGames {
		status.DisabledGames = append(status.DisabledGames, gameID)
	}
	s.mu.RUnlock()
	sort.Strings(status.DisabledGames)

	if s.db != nil {
		err := s.db.Builder().
			Select("COUNT(*)").
			From("game_sessions").
			Where(sq.Eq{"status": domain.SessionOpen}).
			RunWith(s.db.DB).
			QueryRowContext(ctx).
			Scan(&status.OpenSessions)
		if err != nil {
			return nil, fmt.Errorf("failed to count open sessions: %w", err)
		}
	}

	return status, nil
}

// CheckAccess verifies a game may be played right now
// GLI-19 §2.4 - Combined check for gaming access
func (s *Service) CheckAccess(ctx context.Context, gameID string) error {
	if !s.IsGamingEnabled() {
		return domain.ErrGamingDisabled
	}
	if !s.IsGameEnabled(gameID) {
		return fmt.Errorf("%w: %s", domain.ErrGameDisabled, gameID)
	}
	return nil
}

// LoadState loads persisted state from database on startup
func (s *Service) LoadState(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var value string
	err := s.db.Builder().
		Select("value").
		From("system_state").
		Where(sq.Eq{"key": "gaming_enabled"}).
		RunWith(s.db.DB).
		QueryRowContext(ctx).
		Scan(&value)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("failed to load gaming state: %w", err)
	}
	s.gamingEnabled = value != "false"

	rows, err := s.db.Builder().
		Select("game_id").
		From("disabled_games").
		RunWith(s.db.DB).
		QueryContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to load disabled games: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var gameID string
		if err := rows.Scan(&gameID); err != nil {
			return err
		}
		s.disabledGames[gameID] = true
	}

	return rows.Err()
}

func (s *Service) persistGamingState(ctx context.Context, enabled bool, at time.Time, authorizedBy string) error {
	if s.db == nil {
		return nil
	}
	value := "false"
	if enabled {
		value = "true"
	}
	_, err := s.db.Builder().
		Insert("system_state").
		Columns("key", "value", "updated_at", "updated_by").
		Values("gaming_enabled", value, at, authorizedBy).
		Suffix("ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at, updated_by = excluded.updated_by").
		RunWith(s.db.DB).
		ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to persist gaming state: %w", err)
	}
	return nil
}
