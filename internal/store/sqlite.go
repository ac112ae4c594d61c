// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Creates the schema on open and provides shared scan helpers

package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS oauth_clients (
			id            TEXT PRIMARY KEY,
			name          TEXT NOT NULL,
			redirect_uris TEXT NOT NULL,
			auth_method   TEXT NOT NULL,
			secret_hash   TEXT,
			scope         TEXT NOT NULL,
			created_at    TEXT NOT NULL,

			CHECK (auth_method IN ('none', 'client_secret_basic'))
		);

		CREATE TABLE IF NOT EXISTS authorization_codes (
			id               TEXT PRIMARY KEY,
			code             TEXT UNIQUE NOT NULL,
			client_id        TEXT NOT NULL REFERENCES oauth_clients(id),
			user_id          TEXT NOT NULL,
			redirect_uri     TEXT NOT NULL,
			code_challenge   TEXT NOT NULL,
			challenge_method TEXT NOT NULL,
			resource         TEXT,
			scope            TEXT,
			agent_id         TEXT,
			expires_at       TEXT NOT NULL,
			consumed         INTEGER NOT NULL DEFAULT 0,
			created_at       TEXT NOT NULL,

			CHECK (challenge_method IN ('S256'))
		);

		CREATE INDEX IF NOT EXISTS idx_auth_codes_code ON authorization_codes(code);
		CREATE INDEX IF NOT EXISTS idx_auth_codes_expires ON authorization_codes(expires_at);

		CREATE TABLE IF NOT EXISTS refresh_tokens (
			id           TEXT PRIMARY KEY,
			token_hash   TEXT UNIQUE NOT NULL,
			client_id    TEXT NOT NULL REFERENCES oauth_clients(id),
			user_id      TEXT NOT NULL,
			scope        TEXT,
			resource     TEXT,
			agent_id     TEXT,
			expires_at   TEXT NOT NULL,
			revoked      INTEGER NOT NULL DEFAULT 0,
			rotated_from TEXT REFERENCES refresh_tokens(id),
			created_at   TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_refresh_tokens_hash ON refresh_tokens(token_hash);
		CREATE INDEX IF NOT EXISTS idx_refresh_tokens_user ON refresh_tokens(user_id);

		CREATE TABLE IF NOT EXISTS resources (
			id           TEXT PRIMARY KEY,
			provider_id  TEXT NOT NULL,
			title        TEXT NOT NULL,
			summary      TEXT,
			preview      TEXT,
			domain       TEXT,
			path         TEXT,
			tags         TEXT,
			type         TEXT,
			format       TEXT,
			object_id    TEXT,
			connector_id TEXT,
			price_flat   REAL NOT NULL DEFAULT 0,
			price_per_kb REAL NOT NULL DEFAULT 0,
			modes        TEXT NOT NULL,
			visibility   TEXT NOT NULL DEFAULT 'public',
			created_at   TEXT NOT NULL,
			updated_at   TEXT NOT NULL,

			CHECK (visibility IN ('public', 'hidden'))
		);

		CREATE INDEX IF NOT EXISTS idx_resources_provider ON resources(provider_id);
		CREATE INDEX IF NOT EXISTS idx_resources_domain ON resources(domain);

		CREATE TABLE IF NOT EXISTS connectors (
			id         TEXT PRIMARY KEY,
			owner_id   TEXT NOT NULL,
			type       TEXT NOT NULL,
			config     BLOB NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,

			CHECK (type IN ('internal', 'api_key', 'jwt', 'oauth'))
		);

		CREATE TABLE IF NOT EXISTS spending_caps (
			user_id         TEXT PRIMARY KEY,
			global_weekly   REAL NOT NULL DEFAULT 0,
			per_site_daily  REAL NOT NULL DEFAULT 0,
			raw_weekly      REAL NOT NULL DEFAULT 0,
			summary_weekly  REAL NOT NULL DEFAULT 0,
			updated_at      TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS charges (
			id          TEXT PRIMARY KEY,
			user_id     TEXT NOT NULL,
			resource_id TEXT NOT NULL,
			mode        TEXT NOT NULL,
			cost        REAL NOT NULL,
			status      TEXT NOT NULL,
			created_at  TEXT NOT NULL,

			CHECK (status IN ('settled', 'rejected'))
		);

		CREATE INDEX IF NOT EXISTS idx_charges_user_created ON charges(user_id, created_at);
		CREATE INDEX IF NOT EXISTS idx_charges_user_resource ON charges(user_id, resource_id, created_at);
		CREATE INDEX IF NOT EXISTS idx_charges_user_mode ON charges(user_id, mode, created_at);

		CREATE TABLE IF NOT EXISTS ledger_entries (
			id         TEXT PRIMARY KEY,
			charge_id  TEXT NOT NULL REFERENCES charges(id),
			wallet_id  TEXT NOT NULL,
			amount     REAL NOT NULL,
			created_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_ledger_charge ON ledger_entries(charge_id);
		CREATE INDEX IF NOT EXISTS idx_ledger_wallet ON ledger_entries(wallet_id);

		CREATE TABLE IF NOT EXISTS receipts (
			id         TEXT PRIMARY KEY,
			charge_id  TEXT UNIQUE NOT NULL REFERENCES charges(id),
			user_id    TEXT NOT NULL,
			payload    BLOB NOT NULL,
			signature  BLOB NOT NULL,
			created_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_receipts_user ON receipts(user_id);

		CREATE TABLE IF NOT EXISTS objects (
			id           TEXT PRIMARY KEY,
			content_type TEXT,
			sealed       BLOB NOT NULL,
			created_at   TEXT NOT NULL
		);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the underlying database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// isConstraintViolation checks if an error is a SQLite constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "constraint")
}

// nullString converts a string to sql.NullString (empty string becomes NULL)
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// parseTimeColumn parses an RFC3339 timestamp column, logging on corruption
// rather than failing the whole read
func parseTimeColumn(value, column string) time.Time {
	parsed, err := time.Parse(time.RFC3339, value)
	if err != nil {
		slog.Warn("failed to parse timestamp column", "column", column, "error", err)
		return time.Time{}
	}
	return parsed
}

// joinList serializes a string slice as a comma-separated column value
func joinList(items []string) string {
	return strings.Join(items, ",")
}

// splitList parses a comma-separated column value back into a slice
func splitList(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}
