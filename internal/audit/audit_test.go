package audit_test

import (
	"context"
	"encoding/json"
	"testing"

	sq "github.com/Masterminds/squirrel"
	"github.com/alexbotov/casino-core/internal/audit"
	"github.com/alexbotov/casino-core/internal/database"
	"github.com/alexbotov/casino-core/internal/domain"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func setupTestAudit(t *testing.T) (*audit.Service, *observer.ObservedLogs) {
	t.Helper()
	db, err := database.New(database.DriverSQLite, ":memory:")
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	if err := db.Migrate(); err != nil {
		t.Fatalf("Failed to migrate: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	core, logs := observer.New(zapcore.DebugLevel)
	return audit.New(db.DB, db.Builder(), zap.New(core)), logs
}

func TestLogPersistsEvent(t *testing.T) {
	svc, logs := setupTestAudit(t)
	ctx := context.Background()

	err := svc.Log(ctx, audit.EventLargeWin, domain.SeverityWarning, "Large win",
		map[string]interface{}{"payout": 500000},
		audit.WithAccount("acct-1"), audit.WithSession("sess-1"), audit.WithComponent("settlement"))
	if err != nil {
		t.Fatalf("Failed to log: %v", err)
	}
	if err := svc.Log(ctx, audit.EventDeposit, domain.SeverityInfo, "Deposit", nil, audit.WithAccount("acct-2")); err != nil {
		t.Fatalf("Failed to log: %v", err)
	}

	events, err := svc.GetEvents(ctx, &audit.EventFilter{AccountID: "acct-1"})
	if err != nil {
		t.Fatalf("Failed to query: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("Expected 1 event, got %d", len(events))
	}
	e := events[0]
	if e.Type != audit.EventLargeWin || e.Component != "settlement" {
		t.Errorf("Expected large_win from settlement, got %s from %s", e.Type, e.Component)
	}
	if e.SessionID == nil || *e.SessionID != "sess-1" {
		t.Errorf("Expected session sess-1, got %v", e.SessionID)
	}
	var data map[string]int
	if err := json.Unmarshal(e.Data, &data); err != nil || data["payout"] != 500000 {
		t.Errorf("Expected payout data, got %s", e.Data)
	}

	if logs.FilterMessage("Large win").FilterLevelExact(zapcore.WarnLevel).Len() != 1 {
		t.Error("Expected the warning to be mirrored to the logger")
	}

	all, err := svc.GetEvents(ctx, &audit.EventFilter{Type: audit.EventDeposit, Limit: 10})
	if err != nil {
		t.Fatalf("Failed to query: %v", err)
	}
	if len(all) != 1 || all[0].AccountID == nil || *all[0].AccountID != "acct-2" {
		t.Errorf("Expected one deposit for acct-2, got %d", len(all))
	}
}

func TestWithoutDatabase(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	svc := audit.New(nil, sq.StatementBuilder, zap.New(core))

	if err := svc.Log(context.Background(), audit.EventGamingDisabled, domain.SeverityCritical, "Gaming disabled", nil); err != nil {
		t.Errorf("Expected log-only audit to succeed, got %v", err)
	}
	if logs.FilterLevelExact(zapcore.ErrorLevel).Len() != 1 {
		t.Error("Expected critical events to log at error level")
	}
	if _, err := svc.GetEvents(context.Background(), nil); err == nil {
		t.Error("Expected GetEvents to fail without a database")
	}

	var nilSvc *audit.Service
	if err := nilSvc.Log(context.Background(), audit.EventDeposit, domain.SeverityInfo, "ignored", nil); err != nil {
		t.Errorf("Expected nil service to be a no-op, got %v", err)
	}
}
