package tenants

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/lib/pq"

	"github.com/AOT-Technologies/m8flow/pkg/tenancy"
)

// Service manages tenant lifecycle
type Service interface {
	CreateTenant(ctx context.Context, req *CreateTenantRequest) (*Tenant, error)
	GetTenant(ctx context.Context, tenantID string) (*Tenant, error)
	GetTenantBySlug(ctx context.Context, slug string) (*Tenant, error)
	ListTenants(ctx context.Context, opts ListOptions) ([]*Tenant, error)
	UpdateTenant(ctx context.Context, tenantID string, req *UpdateTenantRequest) (*Tenant, error)
	DeleteTenant(ctx context.Context, tenantID string) (*Tenant, error)
	TenantExists(ctx context.Context, tenantID string) (bool, error)
}

// PostgresService implements the Service interface using PostgreSQL
type PostgresService struct {
	db *sql.DB

	// defaultTenantID is protected from mutation and deletion
	defaultTenantID string
}

// NewPostgresService creates a new PostgresService
func NewPostgresService(db *sql.DB, defaultTenantID string) *PostgresService {
	return &PostgresService{db: db, defaultTenantID: defaultTenantID}
}

const tenantColumns = `tenant_id, name, slug, status, details, created_by, modified_by, created_at, updated_at, deleted_at`

func scanTenant(row interface{ Scan(...any) error }) (*Tenant, error) {
	t := &Tenant{}
	var detailsJSON []byte
	err := row.Scan(&t.TenantID, &t.Name, &t.Slug, &t.Status, &detailsJSON,
		&t.CreatedBy, &t.ModifiedBy, &t.CreatedAt, &t.UpdatedAt, &t.DeletedAt)
	if err != nil {
		return nil, err
	}
	if len(detailsJSON) > 0 {
		if err := json.Unmarshal(detailsJSON, &t.Details); err != nil {
			return nil, fmt.Errorf("failed to unmarshal details: %w", err)
		}
	}
	return t, nil
}

// CreateTenant creates a new tenant
func (s *PostgresService) CreateTenant(ctx context.Context, req *CreateTenantRequest) (*Tenant, error) {
	if req.TenantID == "" || req.Name == "" {
		return nil, tenancy.NewAPIError(tenancy.CodeMissingFields, http.StatusBadRequest,
			"tenant_id and name are required.")
	}

	slug := req.Slug
	if slug == "" {
		slug = GenerateSlug(req.Name)
	}
	if slug == "" {
		return nil, tenancy.NewAPIError(tenancy.CodeMissingSlug, http.StatusBadRequest,
			"A slug could not be derived from the tenant name.")
	}

	detailsJSON, err := json.Marshal(req.Details)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal details: %w", err)
	}

	query := `
		INSERT INTO m8flow_tenant (tenant_id, name, slug, status, details, created_by, modified_by)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
		RETURNING ` + tenantColumns + `
	`
	t, err := scanTenant(s.db.QueryRowContext(ctx, query, req.TenantID, req.Name, slug, StatusActive, detailsJSON, req.CreatedBy))
	if err != nil {
		if apiErr := mapUniqueViolation(err); apiErr != nil {
			return nil, apiErr
		}
		return nil, fmt.Errorf("failed to create tenant: %w", err)
	}
	return t, nil
}

// checkNotDefault rejects point reads and mutations of the protected
// default tenant.
func (s *PostgresService) checkNotDefault(identifier string) error {
	if identifier == s.defaultTenantID {
		return tenancy.ErrForbiddenTenant()
	}
	return nil
}

// GetTenant retrieves a tenant by ID, soft-deleted rows included
func (s *PostgresService) GetTenant(ctx context.Context, tenantID string) (*Tenant, error) {
	if err := s.checkNotDefault(tenantID); err != nil {
		return nil, err
	}
	query := `SELECT ` + tenantColumns + ` FROM m8flow_tenant WHERE tenant_id = $1`
	t, err := scanTenant(s.db.QueryRowContext(ctx, query, tenantID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errTenantNotFound(tenantID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get tenant: %w", err)
	}
	return t, nil
}

// GetTenantBySlug retrieves a tenant by slug
func (s *PostgresService) GetTenantBySlug(ctx context.Context, slug string) (*Tenant, error) {
	if err := s.checkNotDefault(slug); err != nil {
		return nil, err
	}
	query := `SELECT ` + tenantColumns + ` FROM m8flow_tenant WHERE slug = $1`
	t, err := scanTenant(s.db.QueryRowContext(ctx, query, slug))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errTenantNotFound(slug)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get tenant: %w", err)
	}
	return t, nil
}

// ListTenants lists tenants, excluding soft-deleted rows unless asked.
// The protected default tenant is never listed.
func (s *PostgresService) ListTenants(ctx context.Context, opts ListOptions) ([]*Tenant, error) {
	query := `SELECT ` + tenantColumns + ` FROM m8flow_tenant WHERE tenant_id != $1 AND slug != $1`
	args := []any{s.defaultTenantID}
	if !opts.IncludeDeleted {
		query += ` AND status != $2`
		args = append(args, StatusDeleted)
	}
	query += ` ORDER BY created_at DESC`
	if opts.Limit > 0 {
		query += fmt.Sprintf(` LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)
		args = append(args, opts.Limit, opts.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tenants: %w", err)
	}
	defer rows.Close()

	var tenants []*Tenant
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan tenant: %w", err)
		}
		tenants = append(tenants, t)
	}
	return tenants, rows.Err()
}

// UpdateTenant updates a tenant's mutable fields
func (s *PostgresService) UpdateTenant(ctx context.Context, tenantID string, req *UpdateTenantRequest) (*Tenant, error) {
	if tenantID == s.defaultTenantID {
		return nil, tenancy.ErrForbiddenTenant()
	}

	current, err := s.GetTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if current.Deleted() && (req.Status == nil || *req.Status != StatusActive) {
		return nil, tenancy.NewAPIError(tenancy.CodeTenantDeleted, http.StatusBadRequest,
			"Tenant %q has been deleted.", tenantID)
	}

	setClauses := []string{"updated_at = now()"}
	args := []any{}
	argPos := 1

	if req.ModifiedBy != "" {
		setClauses = append(setClauses, fmt.Sprintf("modified_by = $%d", argPos))
		args = append(args, req.ModifiedBy)
		argPos++
	}
	if req.Name != nil {
		setClauses = append(setClauses, fmt.Sprintf("name = $%d", argPos))
		args = append(args, *req.Name)
		argPos++
	}
	if req.Status != nil {
		if !ValidStatus(*req.Status) {
			return nil, tenancy.NewAPIError(tenancy.CodeInvalidStatus, http.StatusBadRequest,
				"Invalid tenant status %q.", *req.Status)
		}
		setClauses = append(setClauses, fmt.Sprintf("status = $%d", argPos))
		args = append(args, *req.Status)
		argPos++
		// Reactivation clears the deletion timestamp.
		if *req.Status == StatusActive {
			setClauses = append(setClauses, "deleted_at = NULL")
		}
	}
	if req.Details != nil {
		detailsJSON, err := json.Marshal(req.Details)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal details: %w", err)
		}
		setClauses = append(setClauses, fmt.Sprintf("details = $%d", argPos))
		args = append(args, detailsJSON)
		argPos++
	}

	args = append(args, tenantID)
	query := fmt.Sprintf(`UPDATE m8flow_tenant SET %s WHERE tenant_id = $%d RETURNING %s`,
		strings.Join(setClauses, ", "), argPos, tenantColumns)

	t, err := scanTenant(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errTenantNotFound(tenantID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update tenant: %w", err)
	}
	return t, nil
}

// DeleteTenant soft deletes a tenant
func (s *PostgresService) DeleteTenant(ctx context.Context, tenantID string) (*Tenant, error) {
	if tenantID == s.defaultTenantID {
		return nil, tenancy.ErrForbiddenTenant()
	}

	current, err := s.GetTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if current.Deleted() {
		return nil, tenancy.NewAPIError(tenancy.CodeTenantAlreadyDeleted, http.StatusBadRequest,
			"Tenant %q has already been deleted.", tenantID)
	}

	query := `
		UPDATE m8flow_tenant
		SET status = $1, deleted_at = now(), updated_at = now()
		WHERE tenant_id = $2
		RETURNING ` + tenantColumns + `
	`
	t, err := scanTenant(s.db.QueryRowContext(ctx, query, StatusDeleted, tenantID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errTenantNotFound(tenantID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to delete tenant: %w", err)
	}
	return t, nil
}

// TenantExists reports whether an active tenant row exists. Soft-deleted
// tenants do not count.
func (s *PostgresService) TenantExists(ctx context.Context, tenantID string) (bool, error) {
	var exists bool
	query := `SELECT EXISTS(SELECT 1 FROM m8flow_tenant WHERE tenant_id = $1 AND status = $2)`
	if err := s.db.QueryRowContext(ctx, query, tenantID, StatusActive).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check tenant existence: %w", err)
	}
	return exists, nil
}

func errTenantNotFound(tenantID string) *tenancy.APIError {
	return tenancy.NewAPIError(tenancy.CodeTenantNotFound, http.StatusNotFound,
		"Tenant %q not found.", tenantID)
}

// mapUniqueViolation converts a Postgres unique violation into the
// matching 409, or returns nil for anything else.
func mapUniqueViolation(err error) *tenancy.APIError {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) || pqErr.Code != "23505" {
		return nil
	}
	switch {
	case strings.Contains(pqErr.Constraint, "slug"):
		return tenancy.NewAPIError(tenancy.CodeTenantSlugExists, http.StatusConflict,
			"A tenant with this slug already exists.")
	case strings.Contains(pqErr.Constraint, "pkey") || strings.Contains(pqErr.Constraint, "tenant_id"):
		return tenancy.NewAPIError(tenancy.CodeTenantIDExists, http.StatusConflict,
			"A tenant with this id already exists.")
	default:
		return tenancy.NewAPIError(tenancy.CodeTenantConflict, http.StatusConflict,
			"Tenant conflicts with an existing tenant.")
	}
}
