package tenants

import (
	"regexp"
	"strings"
	"time"
)

// Status represents tenant lifecycle status
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
	StatusDeleted  Status = "deleted"
)

// ValidStatus reports whether s is a known tenant status.
func ValidStatus(s Status) bool {
	return s == StatusActive || s == StatusInactive || s == StatusDeleted
}

// Tenant represents a tenant row
type Tenant struct {
	TenantID   string         `json:"tenant_id"`
	Name       string         `json:"name"`
	Slug       string         `json:"slug"`
	Status     Status         `json:"status"`
	Details    map[string]any `json:"details,omitempty"`
	CreatedBy  string         `json:"created_by"`
	ModifiedBy string         `json:"modified_by"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
	DeletedAt  *time.Time     `json:"deleted_at,omitempty"`
}

// Deleted reports whether the tenant has been soft deleted.
func (t *Tenant) Deleted() bool {
	return t.Status == StatusDeleted
}

// Active reports whether the tenant is live. Inactive and deleted
// tenants do not resolve for requests or pre-login checks.
func (t *Tenant) Active() bool {
	return t.Status == StatusActive
}

// CreateTenantRequest represents request to create a tenant
type CreateTenantRequest struct {
	TenantID  string         `json:"tenant_id"`
	Name      string         `json:"name"`
	Slug      string         `json:"slug,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	CreatedBy string         `json:"-"`
}

// UpdateTenantRequest represents request to update a tenant. Nil fields
// are left unchanged.
type UpdateTenantRequest struct {
	Name       *string        `json:"name,omitempty"`
	Status     *Status        `json:"status,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
	ModifiedBy string         `json:"-"`
}

// ListOptions controls tenant listing
type ListOptions struct {
	IncludeDeleted bool
	Limit          int
	Offset         int
}

var slugInvalidChars = regexp.MustCompile(`[^a-z0-9-]+`)

// GenerateSlug derives a URL-safe slug from a display name.
func GenerateSlug(name string) string {
	slug := strings.ToLower(strings.TrimSpace(name))
	slug = strings.ReplaceAll(slug, " ", "-")
	slug = slugInvalidChars.ReplaceAllString(slug, "")
	slug = strings.Trim(slug, "-")
	return slug
}
