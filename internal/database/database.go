package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"tovis/internal/domain"
	"tovis/internal/models"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

var _ domain.Store = (*DB)(nil)

// DB is the SQLite backed store. It keeps a single connection so every
// write transaction is serialized; BEGIN IMMEDIATE makes the conflict
// check and the insert atomic.
type DB struct {
	*sql.DB
	path    string
	logger  *zerolog.Logger
	timeout time.Duration
}

func NewDB(path string, logger *zerolog.Logger) (*DB, error) {
	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("%s?_busy_timeout=5000&_txlock=immediate", path)
	sqlDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db := &DB{DB: sqlDB, path: path, logger: logger, timeout: models.DefaultStoreTimeout}
	if err := db.createTables(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	logger.Info().Str("path", path).Msg("Database initialized")
	return db, nil
}

// SetOperationTimeout bounds every store call. Non-positive values keep
// the current timeout.
func (db *DB) SetOperationTimeout(d time.Duration) {
	if d > 0 {
		db.timeout = d
	}
}

func (db *DB) Path() string { return db.path }

func (db *DB) Ping(ctx context.Context) error {
	ctx, cancel := db.opCtx(ctx)
	defer cancel()
	return classify(ctx, "ping", db.PingContext(ctx))
}

func (db *DB) createTables() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			email TEXT NOT NULL UNIQUE,
			name TEXT NOT NULL,
			role TEXT NOT NULL,
			created_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS professionals (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id INTEGER NOT NULL UNIQUE,
			display_name TEXT NOT NULL,
			timezone TEXT NOT NULL DEFAULT 'UTC',
			telegram_chat_id INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS services (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			professional_id INTEGER NOT NULL,
			name TEXT NOT NULL,
			duration_minutes INTEGER NOT NULL CHECK (duration_minutes > 0),
			is_active INTEGER NOT NULL DEFAULT 1,
			created_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS bookings (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			professional_id INTEGER NOT NULL,
			client_id INTEGER NOT NULL,
			service_id INTEGER NOT NULL,
			scheduled_for INTEGER NOT NULL,
			ends_at INTEGER NOT NULL,
			duration_minutes INTEGER NOT NULL,
			status TEXT NOT NULL DEFAULT 'PENDING',
			started_at INTEGER,
			finished_at INTEGER,
			note TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			version INTEGER NOT NULL DEFAULT 1,
			CHECK (ends_at > scheduled_for)
		)`,
		`CREATE TABLE IF NOT EXISTS calendar_blocks (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			professional_id INTEGER NOT NULL,
			starts_at INTEGER NOT NULL,
			ends_at INTEGER NOT NULL,
			note TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL,
			CHECK (ends_at > starts_at)
		)`,
		`CREATE TABLE IF NOT EXISTS schedules (
			professional_id INTEGER PRIMARY KEY,
			timezone TEXT NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS working_hours (
			professional_id INTEGER NOT NULL,
			weekday INTEGER NOT NULL CHECK (weekday BETWEEN 0 AND 6),
			start_minute INTEGER NOT NULL,
			end_minute INTEGER NOT NULL,
			CHECK (end_minute > start_minute)
		)`,
		`CREATE TABLE IF NOT EXISTS outbox_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			event_type TEXT NOT NULL,
			booking_id INTEGER NOT NULL DEFAULT 0,
			professional_id INTEGER NOT NULL DEFAULT 0,
			payload TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			retry_count INTEGER NOT NULL DEFAULT 0,
			last_error TEXT,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			next_retry_at INTEGER,
			delivered_sinks TEXT NOT NULL DEFAULT ''
		)`,

		`CREATE INDEX IF NOT EXISTS idx_bookings_professional_time ON bookings(professional_id, scheduled_for)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_client ON bookings(client_id)`,
		// at most one running session per professional
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_bookings_one_active ON bookings(professional_id)
			WHERE started_at IS NOT NULL AND finished_at IS NULL`,
		`CREATE INDEX IF NOT EXISTS idx_blocks_professional_time ON calendar_blocks(professional_id, starts_at)`,
		`CREATE INDEX IF NOT EXISTS idx_services_professional ON services(professional_id)`,
		`CREATE INDEX IF NOT EXISTS idx_working_hours_professional ON working_hours(professional_id)`,
		`CREATE INDEX IF NOT EXISTS idx_outbox_status ON outbox_events(status, next_retry_at)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("error executing query %s: %w", query, err)
		}
	}
	return nil
}

func unix(t time.Time) int64 { return t.Unix() }

func fromUnix(s int64) time.Time { return time.Unix(s, 0).UTC() }

func nullUnix(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.Unix(), Valid: true}
}

func timeFromNull(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromUnix(n.Int64)
	return &t
}

type scanner interface {
	Scan(dest ...any) error
}
