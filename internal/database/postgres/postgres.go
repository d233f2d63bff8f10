// Package postgres implements the scheduling store on PostgreSQL. Writes that
// check for conflicts serialize per professional with a transaction-scoped
// advisory lock and run at SERIALIZABLE isolation.
package postgres

import (
	"context"
	"fmt"
	"time"

	"tovis/internal/config"
	"tovis/internal/domain"
	"tovis/internal/models"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

var _ domain.Store = (*Store)(nil)

type Store struct {
	pool    *pgxpool.Pool
	logger  *zerolog.Logger
	timeout time.Duration
}

// New opens a pool, verifies connectivity and applies the schema.
func New(ctx context.Context, cfg config.PostgresConfig, logger *zerolog.Logger) (*Store, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	if cfg.MaxConnections > 0 {
		poolCfg.MaxConns = int32(cfg.MaxConnections)
	}
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	initCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(initCtx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}
	if err := pool.Ping(initCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	s := &Store{pool: pool, logger: logger, timeout: models.DefaultStoreTimeout}
	if err := s.migrate(initCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	logger.Info().Int32("max_conns", poolCfg.MaxConns).Msg("PostgreSQL store initialized")
	return s, nil
}

func (s *Store) SetOperationTimeout(d time.Duration) {
	if d > 0 {
		s.timeout = d
	}
}

func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	return classify(ctx, "ping", s.pool.Ping(ctx))
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id BIGSERIAL PRIMARY KEY,
		email TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		role TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS professionals (
		id BIGSERIAL PRIMARY KEY,
		user_id BIGINT NOT NULL UNIQUE,
		display_name TEXT NOT NULL,
		timezone TEXT NOT NULL DEFAULT 'UTC',
		telegram_chat_id BIGINT NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS services (
		id BIGSERIAL PRIMARY KEY,
		professional_id BIGINT NOT NULL,
		name TEXT NOT NULL,
		duration_minutes INTEGER NOT NULL CHECK (duration_minutes > 0),
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS bookings (
		id BIGSERIAL PRIMARY KEY,
		professional_id BIGINT NOT NULL,
		client_id BIGINT NOT NULL,
		service_id BIGINT NOT NULL,
		scheduled_for TIMESTAMPTZ NOT NULL,
		ends_at TIMESTAMPTZ NOT NULL,
		duration_minutes INTEGER NOT NULL,
		status TEXT NOT NULL DEFAULT 'PENDING',
		started_at TIMESTAMPTZ,
		finished_at TIMESTAMPTZ,
		note TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		version BIGINT NOT NULL DEFAULT 1,
		CHECK (ends_at > scheduled_for)
	)`,
	`CREATE TABLE IF NOT EXISTS calendar_blocks (
		id BIGSERIAL PRIMARY KEY,
		professional_id BIGINT NOT NULL,
		starts_at TIMESTAMPTZ NOT NULL,
		ends_at TIMESTAMPTZ NOT NULL,
		note TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		CHECK (ends_at > starts_at)
	)`,
	`CREATE TABLE IF NOT EXISTS schedules (
		professional_id BIGINT PRIMARY KEY,
		timezone TEXT NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS working_hours (
		professional_id BIGINT NOT NULL,
		weekday SMALLINT NOT NULL CHECK (weekday BETWEEN 0 AND 6),
		start_minute INTEGER NOT NULL,
		end_minute INTEGER NOT NULL,
		CHECK (end_minute > start_minute)
	)`,
	`CREATE TABLE IF NOT EXISTS outbox_events (
		id BIGSERIAL PRIMARY KEY,
		event_type TEXT NOT NULL,
		booking_id BIGINT NOT NULL DEFAULT 0,
		professional_id BIGINT NOT NULL DEFAULT 0,
		payload JSONB NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		retry_count INTEGER NOT NULL DEFAULT 0,
		last_error TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		next_retry_at TIMESTAMPTZ,
		delivered_sinks TEXT[] NOT NULL DEFAULT '{}'
	)`,
	`CREATE INDEX IF NOT EXISTS idx_bookings_professional_time ON bookings(professional_id, scheduled_for)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_bookings_one_active ON bookings(professional_id)
		WHERE started_at IS NOT NULL AND finished_at IS NULL`,
	`CREATE INDEX IF NOT EXISTS idx_blocks_professional_time ON calendar_blocks(professional_id, starts_at)`,
	`CREATE INDEX IF NOT EXISTS idx_services_professional ON services(professional_id)`,
	`CREATE INDEX IF NOT EXISTS idx_working_hours_professional ON working_hours(professional_id)`,
	`CREATE INDEX IF NOT EXISTS idx_outbox_status ON outbox_events(status, next_retry_at)`,
}

func (s *Store) migrate(ctx context.Context) error {
	for _, q := range schema {
		if _, err := s.pool.Exec(ctx, q); err != nil {
			return fmt.Errorf("exec %q: %w", q, err)
		}
	}
	return nil
}

func utc(t time.Time) time.Time { return t.UTC() }

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
