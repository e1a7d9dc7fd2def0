package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/alexbotov/casino-core/internal/domain"
	"github.com/alexbotov/casino-core/internal/session"
)

var sessionColumns = []string{
	"id", "account_id", "game_type", "single_seat", "status", "wager_amount", "engine_state",
	"version", "action_count", "outcome", "created_at", "updated_at", "settled_at",
	"last_action_key", "last_action_fingerprint",
}

// SessionStore persists game sessions (GLI-19 §4.3)
type SessionStore struct {
	db *DB
	sb sq.StatementBuilderType
}

var _ session.Store = (*SessionStore)(nil)

// NewSessionStore creates a session store on db
func NewSessionStore(db *DB) *SessionStore {
	return &SessionStore{db: db, sb: db.Builder()}
}

func (s *SessionStore) Create(ctx context.Context, gs *domain.GameSession) error {
	outcome, err := marshalOutcome(gs.Outcome)
	if err != nil {
		return err
	}
	query, args, err := s.sb.Insert("game_sessions").
		Columns(sessionColumns...).
		Values(gs.ID, gs.AccountID, gs.GameType, gs.SingleSeat, gs.Status, gs.WagerAmount, nullJSON(gs.EngineState),
			gs.Version, gs.ActionCount, outcome, gs.CreatedAt, gs.UpdatedAt, gs.SettledAt,
			gs.LastActionKey, gs.LastActionFingerprint).
		ToSql()
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		if isUniqueViolation(err) {
			return domain.ErrSessionOpen
		}
		return fmt.Errorf("failed to insert game session: %w", err)
	}
	return nil
}

func (s *SessionStore) Get(ctx context.Context, id string) (*domain.GameSession, error) {
	query, args, err := s.sb.Select(sessionColumns...).From("game_sessions").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, err
	}
	gs, err := scanSession(s.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get game session: %w", err)
	}
	return gs, nil
}

// Update writes gs if the stored version still equals expectedVersion
func (s *SessionStore) Update(ctx context.Context, gs *domain.GameSession, expectedVersion int64) error {
	outcome, err := marshalOutcome(gs.Outcome)
	if err != nil {
		return err
	}
	query, args, err := s.sb.Update("game_sessions").
		Set("status", gs.Status).
		Set("wager_amount", gs.WagerAmount).
		Set("engine_state", nullJSON(gs.EngineState)).
		Set("version", gs.Version).
		Set("action_count", gs.ActionCount).
		Set("outcome", outcome).
		Set("updated_at", gs.UpdatedAt).
		Set("settled_at", gs.SettledAt).
		Set("last_action_key", gs.LastActionKey).
		Set("last_action_fingerprint", gs.LastActionFingerprint).
		Where(sq.Eq{"id": gs.ID, "version": expectedVersion}).
		ToSql()
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update game session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, err := s.Get(ctx, gs.ID); err != nil {
			return err
		}
		return domain.ErrConcurrencyConflict
	}
	return nil
}

// FindOpen returns the open single-seat session of an account for a game
func (s *SessionStore) FindOpen(ctx context.Context, accountID string, gameType domain.GameType) (*domain.GameSession, error) {
	query, args, err := s.sb.Select(sessionColumns...).
		From("game_sessions").
		Where(sq.Eq{"account_id": accountID, "game_type": gameType, "status": domain.SessionOpen, "single_seat": true}).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, err
	}
	gs, err := scanSession(s.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to find open session: %w", err)
	}
	return gs, nil
}

// ListByStatus returns up to limit sessions in status last updated before cutoff
func (s *SessionStore) ListByStatus(ctx context.Context, status domain.SessionStatus, updatedBefore time.Time, limit int) ([]*domain.GameSession, error) {
	q := s.sb.Select(sessionColumns...).
		From("game_sessions").
		Where(sq.Eq{"status": status}).
		Where(sq.Lt{"updated_at": updatedBefore}).
		OrderBy("updated_at")
	if limit > 0 {
		q = q.Limit(uint64(limit))
	}
	query, args, err := q.ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list game sessions: %w", err)
	}
	defer rows.Close()

	var out []*domain.GameSession
	for rows.Next() {
		gs, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, gs)
	}
	return out, rows.Err()
}

func scanSession(row rowScanner) (*domain.GameSession, error) {
	var gs domain.GameSession
	var engineState, outcome sql.NullString
	var settledAt sql.NullTime

	err := row.Scan(&gs.ID, &gs.AccountID, &gs.GameType, &gs.SingleSeat, &gs.Status, &gs.WagerAmount, &engineState,
		&gs.Version, &gs.ActionCount, &outcome, &gs.CreatedAt, &gs.UpdatedAt, &settledAt,
		&gs.LastActionKey, &gs.LastActionFingerprint)
	if err != nil {
		return nil, err
	}

	if engineState.Valid {
		gs.EngineState = json.RawMessage(engineState.String)
	}
	if outcome.Valid && outcome.String != "" {
		var o domain.Outcome
		if err := json.Unmarshal([]byte(outcome.String), &o); err != nil {
			return nil, fmt.Errorf("failed to decode outcome: %w", err)
		}
		gs.Outcome = &o
	}
	if settledAt.Valid {
		t := settledAt.Time
		gs.SettledAt = &t
	}
	return &gs, nil
}

func marshalOutcome(o *domain.Outcome) (sql.NullString, error) {
	if o == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(o)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to encode outcome: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func nullJSON(raw json.RawMessage) sql.NullString {
	if len(raw) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(raw), Valid: true}
}
