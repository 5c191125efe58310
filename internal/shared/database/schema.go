package database

import (
	"context"
	"fmt"
)

// Tables owned by the admin side are created here too so a fresh database
// can serve traffic; existing tables are left untouched.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS channels (
		id         BIGSERIAL PRIMARY KEY,
		name       VARCHAR(255) NOT NULL,
		base_url   VARCHAR(500) NOT NULL,
		api_key    TEXT NOT NULL,
		model_id   VARCHAR(255) NOT NULL,
		rpm_limit  INTEGER NOT NULL DEFAULT 60 CHECK (rpm_limit >= 1),
		is_enabled BOOLEAN NOT NULL DEFAULT true,
		sort_order INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_channels_routing ON channels (model_id, is_enabled, sort_order, id)`,
	`CREATE TABLE IF NOT EXISTS system_config (
		id          BIGSERIAL PRIMARY KEY,
		key         VARCHAR(255) NOT NULL UNIQUE,
		value       TEXT NOT NULL,
		description TEXT,
		updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS blocked_ips (
		id         BIGSERIAL PRIMARY KEY,
		ip_address VARCHAR(255) NOT NULL,
		reason     TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS users (
		id         BIGSERIAL PRIMARY KEY,
		email      VARCHAR(255) NOT NULL UNIQUE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS chat_logs (
		id                BIGSERIAL PRIMARY KEY,
		request_id        VARCHAR(64),
		user_id           BIGINT,
		username          VARCHAR(255),
		ip_address        VARCHAR(255) NOT NULL,
		channel_id        BIGINT,
		model_id          VARCHAR(255) NOT NULL,
		prompt_tokens     INTEGER,
		completion_tokens INTEGER,
		created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_chat_logs_created_at ON chat_logs (created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_chat_logs_user_id ON chat_logs (user_id)`,
	`CREATE INDEX IF NOT EXISTS idx_chat_logs_ip_address ON chat_logs (ip_address)`,
}

// EnsureSchema creates missing tables and indexes
func (db *DB) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := db.conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("schema migration failed: %w", err)
		}
	}
	return nil
}
