package tenancy

import (
	"fmt"
	"net/http"
)

// Error codes surfaced in the {error_code, message} wire envelope.
const (
	CodeTenantRequired          = "tenant_required"
	CodeInvalidTenant           = "invalid_tenant"
	CodeTenantOverrideForbidden = "tenant_override_forbidden"
	CodeForbiddenTenant         = "forbidden_tenant"
	CodeTenantNotFound          = "tenant_not_found"
	CodeTenantAlreadyDeleted    = "tenant_already_deleted"
	CodeTenantDeleted           = "tenant_deleted"
	CodeTenantIDExists          = "tenant_id_exists"
	CodeTenantSlugExists        = "tenant_slug_exists"
	CodeTenantConflict          = "tenant_conflict"
	CodeInvalidStatus           = "invalid_status"
	CodeMissingName             = "missing_name"
	CodeMissingSlug             = "missing_slug"
	CodeMissingFields           = "missing_fields"
	CodeNotFound                = "not_found"
	CodeImmutable               = "immutable"
	CodeForbidden               = "forbidden"
	CodeUnauthorized            = "unauthorized"
	CodeDatabaseError           = "database_error"
)

// APIError is an error with a stable code and an HTTP status. All tenant
// and template failures that reach the HTTP layer are APIErrors.
type APIError struct {
	ErrorCode  string `json:"error_code"`
	Message    string `json:"message"`
	StatusCode int    `json:"-"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.ErrorCode, e.Message)
}

// NewAPIError creates an APIError with an explicit status.
func NewAPIError(code string, status int, format string, args ...interface{}) *APIError {
	return &APIError{
		ErrorCode:  code,
		Message:    fmt.Sprintf(format, args...),
		StatusCode: status,
	}
}

// ErrTenantRequired means no tenant signal could be resolved and
// defaulting is disabled.
func ErrTenantRequired() *APIError {
	return NewAPIError(CodeTenantRequired, http.StatusBadRequest,
		"Tenant context could not be resolved from authentication data.")
}

// ErrInvalidTenant means the resolved tenant id has no row in storage.
func ErrInvalidTenant(tenantID string) *APIError {
	return NewAPIError(CodeInvalidTenant, http.StatusBadRequest,
		"Invalid tenant %q.", tenantID)
}

// ErrTenantOverrideForbidden means a different tenant was derived after
// one was already bound to the request.
func ErrTenantOverrideForbidden(bound, candidate string) *APIError {
	return NewAPIError(CodeTenantOverrideForbidden, http.StatusBadRequest,
		"Tenant override forbidden (request has %q, token has %q).", bound, candidate)
}

// ErrForbiddenTenant guards the protected default tenant.
func ErrForbiddenTenant() *APIError {
	return NewAPIError(CodeForbiddenTenant, http.StatusForbidden,
		"Cannot perform operations on default tenant.")
}
