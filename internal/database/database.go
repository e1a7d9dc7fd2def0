// Package database provides SQL persistence for the settlement core.
// PostgreSQL is the production store; SQLite serves local runs and tests.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
)

// Supported drivers
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
)

// DB wraps the SQL database connection
type DB struct {
	*sql.DB
	driver string
}

// New creates a new database connection
func New(driver, dsn string) (*DB, error) {
	if driver != DriverPostgres && driver != DriverSQLite {
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if driver == DriverSQLite {
		// one connection keeps an in-memory database shared and serializes writers
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{DB: db, driver: driver}, nil
}

// Driver returns the driver name the connection was opened with
func (db *DB) Driver() string {
	return db.driver
}

// Builder returns a squirrel statement builder with the dialect's placeholders
func (db *DB) Builder() sq.StatementBuilderType {
	if db.driver == DriverPostgres {
		return sq.StatementBuilder.PlaceholderFormat(sq.Dollar)
	}
	return sq.StatementBuilder.PlaceholderFormat(sq.Question)
}

// Migrate creates all required tables
// Based on GLI-19 §2.8 Information to be Maintained
func (db *DB) Migrate() error {
	schema := postgresSchema
	if db.driver == DriverSQLite {
		schema = sqliteSchema
	}
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

var tables = []string{"audit_events", "disabled_games", "system_state", "game_sessions", "ledger_entries", "accounts"}

// Reset drops all tables (for testing)
func (db *DB) Reset() error {
	for _, t := range tables {
		if _, err := db.Exec("DROP TABLE IF EXISTS " + t); err != nil {
			return fmt.Errorf("failed to drop %s: %w", t, err)
		}
	}
	return nil
}

// CleanData removes all rows without dropping tables (for testing)
func (db *DB) CleanData() error {
	for _, t := range tables {
		if _, err := db.Exec("DELETE FROM " + t); err != nil {
			return fmt.Errorf("failed to clean %s: %w", t, err)
		}
	}
	return nil
}

// inTx runs fn inside a transaction and commits if it returns nil
func (db *DB) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// isUniqueViolation reports whether err is a unique or primary key violation
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

const postgresSchema = `
	-- Accounts (GLI-19 §2.5.7): one balance per player, currency and mode
	CREATE TABLE IF NOT EXISTS accounts (
		id UUID PRIMARY KEY,
		player_id VARCHAR(255) NOT NULL,
		currency VARCHAR(3) NOT NULL,
		mode VARCHAR(10) NOT NULL,
		balance BIGINT NOT NULL DEFAULT 0 CHECK (balance >= 0),
		version BIGINT NOT NULL DEFAULT 0,
		status VARCHAR(20) NOT NULL DEFAULT 'active',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		UNIQUE (player_id, currency, mode)
	);

	-- Ledger entries (GLI-19 §2.5.6, §2.5.7): append-only
	CREATE TABLE IF NOT EXISTS ledger_entries (
		id UUID PRIMARY KEY,
		account_id UUID NOT NULL REFERENCES accounts(id),
		sequence BIGINT NOT NULL,
		kind VARCHAR(20) NOT NULL,
		amount BIGINT NOT NULL,
		balance_before BIGINT NOT NULL,
		balance_after BIGINT NOT NULL,
		reference_id VARCHAR(255) NOT NULL,
		created_at TIMESTAMP NOT NULL,
		UNIQUE (account_id, sequence),
		UNIQUE (account_id, reference_id, kind)
	);

	-- Game sessions (GLI-19 §4.3)
	CREATE TABLE IF NOT EXISTS game_sessions (
		id UUID PRIMARY KEY,
		account_id UUID NOT NULL REFERENCES accounts(id),
		game_type VARCHAR(20) NOT NULL,
		single_seat BOOLEAN NOT NULL DEFAULT FALSE,
		status VARCHAR(30) NOT NULL,
		wager_amount BIGINT NOT NULL,
		engine_state JSONB,
		version BIGINT NOT NULL DEFAULT 1,
		action_count INTEGER NOT NULL DEFAULT 0,
		outcome JSONB,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		settled_at TIMESTAMP,
		last_action_key TEXT NOT NULL DEFAULT '',
		last_action_fingerprint VARCHAR(64) NOT NULL DEFAULT ''
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_game_sessions_single_seat
		ON game_sessions(account_id, game_type) WHERE status = 'open' AND single_seat;

	-- Audit Events table (GLI-19 §2.8.8)
	CREATE TABLE IF NOT EXISTS audit_events (
		id UUID PRIMARY KEY,
		type VARCHAR(100) NOT NULL,
		severity VARCHAR(20) NOT NULL,
		timestamp TIMESTAMP NOT NULL,
		account_id VARCHAR(255),
		session_id VARCHAR(255),
		description TEXT NOT NULL,
		data JSONB,
		component VARCHAR(100) NOT NULL
	);

	-- Gaming control (GLI-19 §2.4)
	CREATE TABLE IF NOT EXISTS system_state (
		key VARCHAR(100) PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		updated_by VARCHAR(255) NOT NULL
	);

	CREATE TABLE IF NOT EXISTS disabled_games (
		game_id VARCHAR(100) PRIMARY KEY,
		reason TEXT NOT NULL,
		disabled_at TIMESTAMP NOT NULL,
		disabled_by VARCHAR(255) NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_game_sessions_status ON game_sessions(status, updated_at);
	CREATE INDEX IF NOT EXISTS idx_audit_events_timestamp ON audit_events(timestamp);
	CREATE INDEX IF NOT EXISTS idx_audit_events_account ON audit_events(account_id);
`

const sqliteSchema = `
	CREATE TABLE IF NOT EXISTS accounts (
		id TEXT PRIMARY KEY,
		player_id TEXT NOT NULL,
		currency TEXT NOT NULL,
		mode TEXT NOT NULL,
		balance INTEGER NOT NULL DEFAULT 0 CHECK (balance >= 0),
		version INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'active',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		UNIQUE (player_id, currency, mode)
	);

	CREATE TABLE IF NOT EXISTS ledger_entries (
		id TEXT PRIMARY KEY,
		account_id TEXT NOT NULL REFERENCES accounts(id),
		sequence INTEGER NOT NULL,
		kind TEXT NOT NULL,
		amount INTEGER NOT NULL,
		balance_before INTEGER NOT NULL,
		balance_after INTEGER NOT NULL,
		reference_id TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		UNIQUE (account_id, sequence),
		UNIQUE (account_id, reference_id, kind)
	);

	CREATE TABLE IF NOT EXISTS game_sessions (
		id TEXT PRIMARY KEY,
		account_id TEXT NOT NULL REFERENCES accounts(id),
		game_type TEXT NOT NULL,
		single_seat BOOLEAN NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		wager_amount INTEGER NOT NULL,
		engine_state TEXT,
		version INTEGER NOT NULL DEFAULT 1,
		action_count INTEGER NOT NULL DEFAULT 0,
		outcome TEXT,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		settled_at TIMESTAMP,
		last_action_key TEXT NOT NULL DEFAULT '',
		last_action_fingerprint TEXT NOT NULL DEFAULT ''
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_game_sessions_single_seat
		ON game_sessions(account_id, game_type) WHERE status = 'open' AND single_seat = 1;

	CREATE TABLE IF NOT EXISTS audit_events (
		id TEXT PRIMARY KEY,
		type TEXT NOT NULL,
		severity TEXT NOT NULL,
		timestamp TIMESTAMP NOT NULL,
		account_id TEXT,
		session_id TEXT,
		description TEXT NOT NULL,
		data TEXT,
		component TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS system_state (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		updated_by TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS disabled_games (
		game_id TEXT PRIMARY KEY,
		reason TEXT NOT NULL,
		disabled_at TIMESTAMP NOT NULL,
		disabled_by TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_game_sessions_status ON game_sessions(status, updated_at);
	CREATE INDEX IF NOT EXISTS idx_audit_events_timestamp ON audit_events(timestamp);
	CREATE INDEX IF NOT EXISTS idx_audit_events_account ON audit_events(account_id);
`
