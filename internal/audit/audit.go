// Package audit provides audit logging for the settlement core
// Compliant with GLI-19 §2.8.8: Significant Event Information
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/alexbotov/casino-core/internal/domain"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Event types per GLI-19 §2.8.8
const (
	EventAccountOpened       = "account_opened"
	EventAccountArchived     = "account_archived"
	EventDeposit             = "deposit"
	EventWithdrawal          = "withdrawal"
	EventSessionOpened       = "game_session_opened"
	EventSessionAbandoned    = "game_session_abandoned"
	EventSettlementCompleted = "settlement_completed"
	EventSettlementFailed    = "settlement_failed"
	EventHouseEdgeModifier   = "house_edge_modifier"
	EventLargeWin            = "large_win"
	EventGamingDisabled      = "gaming_disabled"
	EventGamingEnabled       = "gaming_enabled"
	EventGameDisabled        = "game_disabled"
	EventGameEnabled         = "game_enabled"
	EventPokerHandSettled    = "poker_hand_settled"
	EventRNGFailure          = "rng_failure"
	EventRNGHealthCheck      = "rng_health_check"
)

// Service records significant events to the structured log and, when a
// database is configured, to the audit_events table.
type Service struct {
	db      *sql.DB
	builder sq.StatementBuilderType
	logger  *zap.Logger
}

// New creates a new audit service. db may be nil.
func New(db *sql.DB, builder sq.StatementBuilderType, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{db: db, builder: builder, logger: logger.Named("audit")}
}

// LogEvent records a significant event
func (s *Service) LogEvent(ctx context.Context, event *domain.AuditEvent) error {
	if s == nil {
		return nil
	}
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	fields := []zap.Field{
		zap.String("event_id", event.ID),
		zap.String("type", event.Type),
		zap.String("severity", string(event.Severity)),
		zap.String("component", event.Component),
	}
	if event.AccountID != nil {
		fields = append(fields, zap.String("account_id", *event.AccountID))
	}
	if event.SessionID != nil {
		fields = append(fields, zap.String("session_id", *event.SessionID))
	}
	if len(event.Data) > 0 {
		fields = append(fields, zap.ByteString("data", event.Data))
	}
	switch event.Severity {
	case domain.SeverityError, domain.SeverityCritical:
		s.logger.Error(event.Description, fields...)
	case domain.SeverityWarning:
		s.logger.Warn(event.Description, fields...)
	default:
		s.logger.Info(event.Description, fields...)
	}

	if s.db == nil {
		return nil
	}

	data := string(event.Data)
	if data == "" {
		data = "{}"
	}
	query, args, err := s.builder.Insert("audit_events").
		Columns("id", "type", "severity", "timestamp", "account_id", "session_id", "description", "data", "component").
		Values(event.ID, event.Type, event.Severity, event.Timestamp, event.AccountID, event.SessionID,
			event.Description, data, event.Component).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build audit insert: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to record audit event: %w", err)
	}
	return nil
}

// Log is a convenience method for logging events
func (s *Service) Log(ctx context.Context, eventType string, severity domain.EventSeverity, description string, data interface{}, opts ...EventOption) error {
	if s == nil {
		return nil
	}
	event := &domain.AuditEvent{
		ID:          uuid.New().String(),
		Type:        eventType,
		Severity:    severity,
		Timestamp:   time.Now().UTC(),
		Description: description,
		Component:   "casino-core",
	}

	if data != nil {
		jsonData, err := json.Marshal(data)
		if err == nil {
			event.Data = jsonData
		}
	}

	for _, opt := range opts {
		opt(event)
	}

	return s.LogEvent(ctx, event)
}

// EventOption is a functional option for configuring audit events
type EventOption func(*domain.AuditEvent)

// WithAccount sets the account ID for the event
func WithAccount(accountID string) EventOption {
	return func(e *domain.AuditEvent) {
		e.AccountID = &accountID
	}
}

// WithSession sets the session ID for the event
func WithSession(sessionID string) EventOption {
	return func(e *domain.AuditEvent) {
		e.SessionID = &sessionID
	}
}

// WithComponent sets the component for the event
func WithComponent(component string) EventOption {
	return func(e *domain.AuditEvent) {
		e.Component = component
	}
}

// GetEvents retrieves audit events with optional filtering
func (s *Service) GetEvents(ctx context.Context, filter *EventFilter) ([]*domain.AuditEvent, error) {
	if s.db == nil {
		return nil, fmt.Errorf("audit events are not persisted without a database")
	}

	q := s.builder.
		Select("id", "type", "severity", "timestamp", "account_id", "session_id", "description", "data", "component").
		From("audit_events").
		OrderBy("timestamp DESC")

	limit := uint64(100)
	if filter != nil {
		if filter.AccountID != "" {
			q = q.Where(sq.Eq{"account_id": filter.AccountID})
		}
		if filter.SessionID != "" {
			q = q.Where(sq.Eq{"session_id": filter.SessionID})
		}
		if filter.Type != "" {
			q = q.Where(sq.Eq{"type": filter.Type})
		}
		if !filter.From.IsZero() {
			q = q.Where(sq.GtOrEq{"timestamp": filter.From})
		}
		if !filter.To.IsZero() {
			q = q.Where(sq.LtOrEq{"timestamp": filter.To})
		}
		if filter.Limit > 0 {
			limit = uint64(filter.Limit)
		}
	}

	query, args, err := q.Limit(limit).ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build audit query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit events: %w", err)
	}
	defer rows.Close()

	var events []*domain.AuditEvent
	for rows.Next() {
		var event domain.AuditEvent
		var accountID, sessionID sql.NullString
		var data string

		err := rows.Scan(&event.ID, &event.Type, &event.Severity, &event.Timestamp,
			&accountID, &sessionID, &event.Description, &data, &event.Component)
		if err != nil {
			return nil, err
		}

		if accountID.Valid {
			event.AccountID = &accountID.String
		}
		if sessionID.Valid {
			event.SessionID = &sessionID.String
		}
		if data != "" {
			event.Data = json.RawMessage(data)
		}

		events = append(events, &event)
	}

	return events, rows.Err()
}

// EventFilter defines criteria for filtering audit events
type EventFilter struct {
	AccountID string
	SessionID string
	Type      string
	From      time.Time
	To        time.Time
	Limit     int
}
