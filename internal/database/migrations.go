package database

import (
	"context"
	"fmt"
	"time"
)

// Statements are written in the subset of SQL shared by SQLite and Postgres.
var migrations = []struct {
	version int
	sql     string
}{
	{
		version: 1,
		sql: `
			CREATE TABLE IF NOT EXISTS entitlements (
				user_id TEXT NOT NULL,
				product_key TEXT NOT NULL,
				plan_key TEXT NOT NULL,
				status TEXT NOT NULL,
				credits_limit BIGINT NOT NULL DEFAULT 0,
				credits_used BIGINT NOT NULL DEFAULT 0,
				trial_start BIGINT NOT NULL DEFAULT 0,
				trial_end BIGINT NOT NULL DEFAULT 0,
				stripe_customer_id TEXT NOT NULL DEFAULT '',
				stripe_subscription_id TEXT NOT NULL DEFAULT '',
				created_at BIGINT NOT NULL,
				updated_at BIGINT NOT NULL,
				PRIMARY KEY (user_id, product_key)
			);

			CREATE TABLE IF NOT EXISTS usage_events (
				id TEXT PRIMARY KEY,
				user_id TEXT NOT NULL,
				product_key TEXT NOT NULL,
				endpoint TEXT NOT NULL,
				action TEXT NOT NULL,
				credits_delta BIGINT NOT NULL DEFAULT 0,
				metadata TEXT NOT NULL DEFAULT '{}',
				created_at BIGINT NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_usage_events_user_time ON usage_events(user_id, created_at);
		`,
	},
	{
		version: 2,
		sql: `
			CREATE TABLE IF NOT EXISTS leads (
				lead_id TEXT PRIMARY KEY,
				tenant_id TEXT NOT NULL,
				name TEXT NOT NULL DEFAULT '',
				email TEXT NOT NULL DEFAULT '',
				phone TEXT NOT NULL DEFAULT '',
				source TEXT NOT NULL DEFAULT '',
				utm_source TEXT NOT NULL DEFAULT '',
				utm_medium TEXT NOT NULL DEFAULT '',
				utm_campaign TEXT NOT NULL DEFAULT '',
				utm_term TEXT NOT NULL DEFAULT '',
				utm_content TEXT NOT NULL DEFAULT '',
				status TEXT NOT NULL DEFAULT 'new',
				metadata TEXT NOT NULL DEFAULT '{}',
				created_at BIGINT NOT NULL,
				updated_at BIGINT NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_leads_tenant ON leads(tenant_id, updated_at);
		`,
	},
	{
		version: 3,
		sql: `
			CREATE TABLE IF NOT EXISTS integrations (
				id TEXT PRIMARY KEY,
				tenant_id TEXT NOT NULL,
				user_id TEXT NOT NULL,
				channel_type TEXT NOT NULL,
				provider TEXT NOT NULL,
				status TEXT NOT NULL,
				account_email TEXT NOT NULL DEFAULT '',
				credentials TEXT NOT NULL DEFAULT '',
				created_at BIGINT NOT NULL,
				updated_at BIGINT NOT NULL,
				UNIQUE (user_id, channel_type, provider)
			);

			CREATE TABLE IF NOT EXISTS settings (
				key TEXT PRIMARY KEY,
				value TEXT NOT NULL,
				updated_at BIGINT NOT NULL
			);
		`,
	},
	{
		version: 4,
		sql: `
			CREATE TABLE IF NOT EXISTS processed_webhook_events (
				id TEXT PRIMARY KEY,
				provider TEXT NOT NULL,
				event_type TEXT NOT NULL,
				received_at BIGINT NOT NULL
			);
		`,
	},
}

// Migrate applies pending migrations, one transaction per version.
func (db *DB) Migrate(ctx context.Context) error {
	_, err := db.conn.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version BIGINT PRIMARY KEY,
			applied_at BIGINT NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	var currentVersion int
	if err := db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&currentVersion); err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}

		err := db.InTx(ctx, func(tx *Tx) error {
			if _, err := tx.ExecContext(ctx, m.sql); err != nil {
				return fmt.Errorf("failed to run migration %d: %w", m.version, err)
			}
			if _, err := tx.ExecContext(ctx, "INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)", m.version, time.Now().UnixMilli()); err != nil {
				return fmt.Errorf("failed to record migration %d: %w", m.version, err)
			}
			return nil
		})
		if err != nil {
			return err
		}
	}

	return nil
}

// SchemaVersion returns the highest applied migration.
func (db *DB) SchemaVersion(ctx context.Context) (int, error) {
	var v int
	err := db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&v)
	return v, err
}
