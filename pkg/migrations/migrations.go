// Package migrations holds the schema migrations for the multi-tenancy
// tables and their row-level security policies.
package migrations

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/AOT-Technologies/m8flow/pkg/observability"
)

// Migration represents a database migration
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// GetMigrations returns all migrations in order
func GetMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create m8flow_tenant table",
			SQL: `
				CREATE TABLE IF NOT EXISTS m8flow_tenant (
					tenant_id VARCHAR(255) PRIMARY KEY,
					name VARCHAR(255) NOT NULL,
					slug VARCHAR(255) NOT NULL,
					status VARCHAR(50) NOT NULL DEFAULT 'active',
					details JSONB NOT NULL DEFAULT '{}',
					created_by VARCHAR(255) NOT NULL DEFAULT '',
					modified_by VARCHAR(255) NOT NULL DEFAULT '',
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					deleted_at TIMESTAMPTZ,
					CONSTRAINT m8flow_tenant_slug_key UNIQUE (slug)
				);

				CREATE INDEX idx_m8flow_tenant_slug ON m8flow_tenant(slug);
				CREATE INDEX idx_m8flow_tenant_status ON m8flow_tenant(status);
			`,
		},
		{
			Version:     2,
			Description: "Seed default tenant",
			SQL: `
				INSERT INTO m8flow_tenant (tenant_id, name, slug, status, created_by, modified_by)
				VALUES ('default', 'Default Tenant', 'default', 'active', 'system', 'system')
				ON CONFLICT (tenant_id) DO NOTHING;
			`,
		},
		{
			Version:     3,
			Description: "Create m8flow_template table",
			SQL: `
				CREATE TABLE IF NOT EXISTS m8flow_template (
					id BIGSERIAL PRIMARY KEY,
					m8f_tenant_id VARCHAR(255) REFERENCES m8flow_tenant(tenant_id),
					template_key VARCHAR(255) NOT NULL,
					version VARCHAR(50) NOT NULL,
					name VARCHAR(255) NOT NULL,
					description TEXT,
					tags JSONB,
					category VARCHAR(255),
					visibility VARCHAR(20) NOT NULL DEFAULT 'PRIVATE',
					files JSONB NOT NULL DEFAULT '[]',
					is_published BOOLEAN NOT NULL DEFAULT FALSE,
					status VARCHAR(50),
					is_deleted BOOLEAN NOT NULL DEFAULT FALSE,
					created_by VARCHAR(255) NOT NULL,
					modified_by VARCHAR(255) NOT NULL,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					CONSTRAINT m8flow_template_tenant_key_version_key UNIQUE (m8f_tenant_id, template_key, version)
				);

				CREATE INDEX idx_m8flow_template_tenant ON m8flow_template(m8f_tenant_id);
				CREATE INDEX idx_m8flow_template_key ON m8flow_template(m8f_tenant_id, template_key);
				CREATE INDEX idx_m8flow_template_visibility ON m8flow_template(visibility);
				CREATE INDEX idx_m8flow_template_published ON m8flow_template(is_published);
				CREATE INDEX idx_m8flow_template_status ON m8flow_template(status);
			`,
		},
		{
			// The column is created nullable so this backfill can stamp
			// rows that predate tenancy before NOT NULL locks in.
			Version:     4,
			Description: "Backfill tenant discriminator on pre-tenancy rows",
			SQL: `
				UPDATE m8flow_template SET m8f_tenant_id = 'default' WHERE m8f_tenant_id IS NULL;
				ALTER TABLE m8flow_template ALTER COLUMN m8f_tenant_id SET NOT NULL;
			`,
		},
		{
			Version:     5,
			Description: "Enable row-level security on tenant-scoped tables",
			SQL: `
				ALTER TABLE m8flow_template ENABLE ROW LEVEL SECURITY;

				CREATE POLICY m8flow_template_tenant_isolation ON m8flow_template
					USING (m8f_tenant_id = current_setting('app.current_tenant', true))
					WITH CHECK (m8f_tenant_id = current_setting('app.current_tenant', true));
			`,
		},
		{
			Version:     6,
			Description: "Create m8flow_tenant_realm table",
			SQL: `
				CREATE TABLE IF NOT EXISTS m8flow_tenant_realm (
					id BIGSERIAL PRIMARY KEY,
					tenant_id VARCHAR(255) NOT NULL REFERENCES m8flow_tenant(tenant_id),
					realm_name VARCHAR(255) NOT NULL,
					keycloak_realm_id VARCHAR(255) NOT NULL,
					display_name VARCHAR(255),
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					CONSTRAINT m8flow_tenant_realm_name_key UNIQUE (realm_name)
				);

				CREATE INDEX idx_m8flow_tenant_realm_tenant ON m8flow_tenant_realm(tenant_id);
			`,
		},
	}
}

// RunMigrations executes all pending migrations. Table owners bypass the
// RLS policies, which is what lets migrations and unscoped background
// work run; the application role must not own the tables.
func RunMigrations(ctx context.Context, db *sql.DB, logger *observability.Logger) error {
	// Create migration tracking table
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS m8flow_migrations (
			version INT PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	// Get applied migrations
	rows, err := db.QueryContext(ctx, "SELECT version FROM m8flow_migrations ORDER BY version")
	if err != nil {
		return fmt.Errorf("failed to query migrations: %w", err)
	}

	appliedVersions := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan migration version: %w", err)
		}
		appliedVersions[version] = true
	}
	rows.Close()

	// Run pending migrations
	for _, migration := range GetMigrations() {
		if appliedVersions[migration.Version] {
			continue
		}

		logger.WithFields(map[string]interface{}{
			"version":     migration.Version,
			"description": migration.Description,
		}).Info("running migration")

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to start transaction: %w", err)
		}

		if _, err := tx.ExecContext(ctx, migration.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to execute migration %d: %w", migration.Version, err)
		}

		if _, err := tx.ExecContext(ctx,
			"INSERT INTO m8flow_migrations (version, description) VALUES ($1, $2)",
			migration.Version, migration.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
		}

		logger.WithField("version", migration.Version).Info("migration completed")
	}

	return nil
}

// EnsureDefaultTenant inserts the default tenant row if a deployment
// overrides the default tenant id after the seed migration ran.
func EnsureDefaultTenant(ctx context.Context, db *sql.DB, tenantID string) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO m8flow_tenant (tenant_id, name, slug, status, created_by, modified_by)
		VALUES ($1, $1, $1, 'active', 'system', 'system')
		ON CONFLICT (tenant_id) DO NOTHING
	`, tenantID)
	if err != nil {
		return fmt.Errorf("failed to ensure default tenant %q: %w", tenantID, err)
	}
	return nil
}
