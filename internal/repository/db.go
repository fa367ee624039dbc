package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// NewDB creates a new PostgreSQL connection pool.
func NewDB(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	config.MaxConns = 20
	config.MinConns = 2

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return pool, nil
}

// RunMigrations creates the schema if it does not exist yet.
func RunMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	query := `
		CREATE TABLE IF NOT EXISTS users (
			id           TEXT PRIMARY KEY,
			email        TEXT NOT NULL UNIQUE,
			display_name TEXT NOT NULL DEFAULT '',
			phone        TEXT NOT NULL DEFAULT '',
			created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS user_roles (
			user_id     TEXT NOT NULL,
			role_name   TEXT NOT NULL,
			assigned_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			is_active   BOOLEAN NOT NULL DEFAULT TRUE,
			PRIMARY KEY (user_id, role_name)
		);

		CREATE TABLE IF NOT EXISTS subscription_plans (
			id               TEXT PRIMARY KEY,
			name             TEXT NOT NULL,
			description      TEXT NOT NULL DEFAULT '',
			price            NUMERIC(12,2) NOT NULL,
			currency         TEXT NOT NULL DEFAULT 'ARS',
			billing_cycle    TEXT NOT NULL,
			max_posts        INTEGER NOT NULL DEFAULT 0,
			max_bookings     INTEGER NOT NULL DEFAULT 0,
			features         JSONB NOT NULL DEFAULT '[]',
			is_active        BOOLEAN NOT NULL DEFAULT TRUE,
			is_visible       BOOLEAN NOT NULL DEFAULT TRUE,
			provider_plan_id TEXT NOT NULL DEFAULT '',
			created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS user_subscriptions (
			id                       TEXT PRIMARY KEY,
			user_id                  TEXT NOT NULL,
			plan_id                  TEXT NOT NULL,
			plan_name                TEXT NOT NULL,
			status                   TEXT NOT NULL,
			amount                   NUMERIC(12,2) NOT NULL DEFAULT 0,
			currency                 TEXT NOT NULL DEFAULT 'ARS',
			billing_cycle            TEXT NOT NULL,
			provider_subscription_id TEXT NOT NULL DEFAULT '',
			start_date               TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			end_date                 TIMESTAMPTZ,
			metadata                 JSONB NOT NULL DEFAULT '{}',
			provider_updated_at      TIMESTAMPTZ,
			status_checked_at        TIMESTAMPTZ,
			created_at               TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at               TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_user_subscriptions_user_id ON user_subscriptions(user_id);
		CREATE INDEX IF NOT EXISTS idx_user_subscriptions_provider_id
			ON user_subscriptions(provider_subscription_id) WHERE provider_subscription_id <> '';
		CREATE UNIQUE INDEX IF NOT EXISTS uq_user_subscriptions_one_active
			ON user_subscriptions(user_id) WHERE status = 'active';

		CREATE TABLE IF NOT EXISTS provider_accounts (
			id               TEXT PRIMARY KEY,
			user_id          TEXT NOT NULL,
			provider_user_id TEXT NOT NULL,
			access_token     TEXT NOT NULL,
			refresh_token    TEXT NOT NULL DEFAULT '',
			expires_at       TIMESTAMPTZ,
			scope            TEXT NOT NULL DEFAULT '',
			is_active        BOOLEAN NOT NULL DEFAULT TRUE,
			profile_snapshot JSONB NOT NULL DEFAULT '{}',
			created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_provider_accounts_user_id ON provider_accounts(user_id);

		CREATE TABLE IF NOT EXISTS posts (
			id         TEXT PRIMARY KEY,
			user_id    TEXT NOT NULL,
			title      TEXT NOT NULL,
			status     TEXT NOT NULL DEFAULT 'draft',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_posts_user_id ON posts(user_id);

		CREATE TABLE IF NOT EXISTS bookings (
			id           TEXT PRIMARY KEY,
			user_id      TEXT NOT NULL,
			post_id      TEXT NOT NULL,
			start_date   TIMESTAMPTZ NOT NULL,
			total_amount NUMERIC(12,2) NOT NULL,
			currency     TEXT NOT NULL DEFAULT 'ARS',
			status       TEXT NOT NULL DEFAULT 'pending',
			created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_bookings_user_id ON bookings(user_id);
		CREATE INDEX IF NOT EXISTS idx_bookings_post_id ON bookings(post_id);

		CREATE TABLE IF NOT EXISTS notifications (
			id         TEXT PRIMARY KEY,
			user_id    TEXT NOT NULL,
			kind       TEXT NOT NULL,
			body       TEXT NOT NULL DEFAULT '',
			read_at    TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_notifications_user_id ON notifications(user_id);

		CREATE TABLE IF NOT EXISTS favorites (
			id         TEXT PRIMARY KEY,
			user_id    TEXT NOT NULL,
			post_id    TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (user_id, post_id)
		);

		CREATE TABLE IF NOT EXISTS webhook_events (
			id                TEXT PRIMARY KEY,
			provider_event_id TEXT NOT NULL UNIQUE,
			event_type        TEXT NOT NULL,
			action            TEXT NOT NULL DEFAULT '',
			resource_id       TEXT NOT NULL DEFAULT '',
			payload           JSONB NOT NULL DEFAULT '{}',
			received_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			processed_at      TIMESTAMPTZ,
			processing_error  TEXT NOT NULL DEFAULT ''
		);

		CREATE TABLE IF NOT EXISTS saga_runs (
			id             TEXT PRIMARY KEY,
			kind           TEXT NOT NULL,
			user_id        TEXT NOT NULL,
			payload        JSONB NOT NULL DEFAULT '{}',
			completed_step INTEGER NOT NULL DEFAULT 0,
			status         TEXT NOT NULL,
			last_error     TEXT NOT NULL DEFAULT '',
			created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_saga_runs_resumable ON saga_runs(kind, updated_at) WHERE status IN ('running', 'failed');
	`
	_, err := pool.Exec(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}
