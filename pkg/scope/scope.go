// Package scope provides tenant-scoped database access.
//
// Every transaction opened through BeginTenantTx carries the effective
// tenant in the app.current_tenant session setting, which the row-level
// security policies on tenant-scoped tables enforce server-side. The
// same tenant id drives the client-side helpers for filtering, insert
// stamping, and upsert conflict targets.
//
// Contexts with no resolvable tenant (background jobs with no background
// tenant set, public requests) get an unscoped transaction: no setting,
// no filters. That keeps non-request work running instead of erroring,
// at the cost of strict isolation for that work.
package scope

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/AOT-Technologies/m8flow/pkg/observability"
	"github.com/AOT-Technologies/m8flow/pkg/tenancy"
)

// TenantColumn is the tenant discriminator column on scoped tables.
const TenantColumn = "m8f_tenant_id"

// tenantSetting is the Postgres session setting read by RLS policies.
const tenantSetting = "app.current_tenant"

// DB wraps a sql.DB with tenant scoping.
type DB struct {
	db       *sql.DB
	settings tenancy.Settings
	logger   *observability.Logger
}

// NewDB creates a tenant-scoped database handle.
func NewDB(db *sql.DB, settings tenancy.Settings, logger *observability.Logger) *DB {
	return &DB{db: db, settings: settings.Normalize(), logger: logger}
}

// Unwrap returns the underlying sql.DB for unscoped administrative
// access (migrations, health checks).
func (d *DB) Unwrap() *sql.DB {
	return d.db
}

// Tx is a transaction bound to at most one tenant.
type Tx struct {
	*sql.Tx
	tenantID string
	scoped   bool
}

// TenantID returns the tenant bound to this transaction, or "" when
// unscoped.
func (tx *Tx) TenantID() string {
	return tx.tenantID
}

// Scoped reports whether tenant filtering applies to this transaction.
func (tx *Tx) Scoped() bool {
	return tx.scoped
}

// BeginTenantTx opens a transaction with the effective tenant for ctx
// bound as app.current_tenant. SET LOCAL scopes the setting to the
// transaction, so pooled connections never leak a tenant.
func (d *DB) BeginTenantTx(ctx context.Context) (*Tx, error) {
	tenantID, err := tenancy.EffectiveTenantID(ctx, d.settings)
	if errors.Is(err, tenancy.ErrNoTenant) {
		d.logger.Debug("no tenant in context; opening unscoped transaction")
		tx, err := d.db.BeginTx(ctx, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to begin transaction: %w", err)
		}
		return &Tx{Tx: tx}, nil
	}
	if err != nil {
		return nil, err
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}

	// set_config with is_local=true is the parameterizable SET LOCAL.
	if _, err := tx.ExecContext(ctx, `SELECT set_config($1, $2, $3)`, tenantSetting, tenantID, true); err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("failed to bind tenant %q to transaction: %w", tenantID, err)
	}

	return &Tx{Tx: tx, tenantID: tenantID, scoped: true}, nil
}

// WithTenantTx runs fn in a tenant-bound transaction, committing on
// success and rolling back on error or panic.
func (d *DB) WithTenantTx(ctx context.Context, fn func(tx *Tx) error) error {
	tx, err := d.BeginTenantTx(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Filter appends the tenant condition to a WHERE fragment. nextArg is
// the next free positional parameter. Unscoped transactions get the
// fragment back unchanged.
func (tx *Tx) Filter(where string, args []any, nextArg int) (string, []any, int) {
	if !tx.scoped {
		return where, args, nextArg
	}
	cond := fmt.Sprintf("%s = $%d", TenantColumn, nextArg)
	if strings.TrimSpace(where) == "" {
		where = cond
	} else {
		where = where + " AND " + cond
	}
	return where, append(args, tx.tenantID), nextArg + 1
}

// StampInsert appends the tenant column and value to an insert column
// list. Unscoped transactions insert what they were given.
func (tx *Tx) StampInsert(columns []string, args []any) ([]string, []any) {
	if !tx.scoped {
		return columns, args
	}
	for _, col := range columns {
		if col == TenantColumn {
			// Caller already set it; the RLS WITH CHECK rejects a
			// mismatch.
			return columns, args
		}
	}
	return append(columns, TenantColumn), append(args, tx.tenantID)
}

// ConflictTarget builds an ON CONFLICT column list with the tenant
// column injected, so per-tenant uniqueness drives upserts on scoped
// tables.
func (tx *Tx) ConflictTarget(columns ...string) string {
	cols := columns
	if tx.scoped {
		found := false
		for _, col := range columns {
			if col == TenantColumn {
				found = true
				break
			}
		}
		if !found {
			cols = append([]string{TenantColumn}, columns...)
		}
	}
	return strings.Join(cols, ", ")
}

// Placeholders renders $n positional placeholders for count values
// starting at start.
func Placeholders(start, count int) string {
	parts := make([]string, count)
	for i := 0; i < count; i++ {
		parts[i] = fmt.Sprintf("$%d", start+i)
	}
	return strings.Join(parts, ", ")
}
