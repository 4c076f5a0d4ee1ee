package api

import (
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"github.com/AOT-Technologies/m8flow/pkg/contextkeys"
	"github.com/AOT-Technologies/m8flow/pkg/httputil"
	"github.com/AOT-Technologies/m8flow/pkg/tenants"
)

// requireUser returns the authenticated username, writing a 401 when
// the request carries no identity.
func requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	username := contextkeys.GetUser(r.Context())
	if username == "" {
		httputil.WriteUnauthorized(w, "User not authenticated.")
		return "", false
	}
	return username, true
}

// invalidateTenant drops a tenant from the validation cache after a
// write so the next request revalidates against the database.
func (s *Server) invalidateTenant(r *http.Request, tenantID string) {
	if s.cache != nil {
		s.cache.Invalidate(r.Context(), tenantID)
	}
}

// createTenant handles POST /v1.0/m8flow/tenants
func (s *Server) createTenant(w http.ResponseWriter, r *http.Request) {
	username, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req tenants.CreateTenantRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.TenantID == "" {
		req.TenantID = uuid.New().String()
	}
	req.CreatedBy = username

	tenant, err := s.tenants.CreateTenant(r.Context(), &req)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	s.invalidateTenant(r, tenant.TenantID)
	httputil.WriteCreated(w, tenant)
}

// listTenants handles GET /v1.0/m8flow/tenants
func (s *Server) listTenants(w http.ResponseWriter, r *http.Request) {
	includeDeleted, err := httputil.ParseQueryBool(r, "include_deleted", false)
	if err != nil {
		httputil.WriteBadRequest(w, "invalid_parameter", "include_deleted must be a boolean")
		return
	}
	limit, err := httputil.ParseQueryInt(r, "limit", 0)
	if err != nil {
		httputil.WriteBadRequest(w, "invalid_parameter", "limit must be an integer")
		return
	}
	offset, err := httputil.ParseQueryInt(r, "offset", 0)
	if err != nil {
		httputil.WriteBadRequest(w, "invalid_parameter", "offset must be an integer")
		return
	}

	list, err := s.tenants.ListTenants(r.Context(), tenants.ListOptions{
		IncludeDeleted: includeDeleted,
		Limit:          limit,
		Offset:         offset,
	})
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteSuccess(w, list)
}

// getTenant handles GET /v1.0/m8flow/tenants/{tenant_id}
func (s *Server) getTenant(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := httputil.ParsePathStringOrError(w, r, "tenant_id")
	if !ok {
		return
	}

	tenant, err := s.tenants.GetTenant(r.Context(), tenantID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteSuccess(w, tenant)
}

// getTenantBySlug handles GET /v1.0/m8flow/tenants/slug/{slug}
func (s *Server) getTenantBySlug(w http.ResponseWriter, r *http.Request) {
	slug, ok := httputil.ParsePathStringOrError(w, r, "slug")
	if !ok {
		return
	}

	tenant, err := s.tenants.GetTenantBySlug(r.Context(), slug)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteSuccess(w, tenant)
}

// updateTenantBody rejects slug changes explicitly: the slug is
// immutable after creation because realm names derive from it.
type updateTenantBody struct {
	tenants.UpdateTenantRequest
	Slug *string `json:"slug,omitempty"`
}

// updateTenant handles PUT /v1.0/m8flow/tenants/{tenant_id}
func (s *Server) updateTenant(w http.ResponseWriter, r *http.Request) {
	username, ok := requireUser(w, r)
	if !ok {
		return
	}
	tenantID, ok := httputil.ParsePathStringOrError(w, r, "tenant_id")
	if !ok {
		return
	}

	var body updateTenantBody
	if !httputil.ParseJSONOrError(w, r, &body) {
		return
	}
	if body.Slug != nil {
		httputil.WriteBadRequest(w, "slug_update_forbidden", "Slug cannot be updated. It is immutable after creation.")
		return
	}
	body.ModifiedBy = username

	tenant, err := s.tenants.UpdateTenant(r.Context(), tenantID, &body.UpdateTenantRequest)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	s.invalidateTenant(r, tenantID)
	httputil.WriteSuccess(w, map[string]string{
		"message": fmt.Sprintf("Tenant %q has been successfully updated.", tenant.Name),
	})
}

// deleteTenant handles DELETE /v1.0/m8flow/tenants/{tenant_id}
func (s *Server) deleteTenant(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireUser(w, r); !ok {
		return
	}
	tenantID, ok := httputil.ParsePathStringOrError(w, r, "tenant_id")
	if !ok {
		return
	}

	tenant, err := s.tenants.DeleteTenant(r.Context(), tenantID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	s.invalidateTenant(r, tenantID)
	httputil.WriteSuccess(w, map[string]string{
		"message": fmt.Sprintf("Tenant %q has been successfully deleted.", tenant.Name),
	})
}
