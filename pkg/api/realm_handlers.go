package api

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/AOT-Technologies/m8flow/pkg/contextkeys"
	"github.com/AOT-Technologies/m8flow/pkg/httputil"
	"github.com/AOT-Technologies/m8flow/pkg/keycloak"
	"github.com/AOT-Technologies/m8flow/pkg/tenancy"
	"github.com/AOT-Technologies/m8flow/pkg/tenants"
)

type createRealmRequest struct {
	RealmID     string `json:"realm_id"`
	DisplayName string `json:"display_name,omitempty"`
	TenantID    string `json:"tenant_id,omitempty"`
}

type createUserRequest struct {
	Username string `json:"username"`
	Password string `json:"password,omitempty"`
	Email    string `json:"email,omitempty"`
}

// createRealm handles POST /v1.0/m8flow/tenant-realms
//
// Provisions a Keycloak realm from the realm template and registers it
// against a tenant. When the request names no tenant, one is created
// (or reused) with the realm id as its slug, mirroring the
// realm-per-tenant model.
func (s *Server) createRealm(w http.ResponseWriter, r *http.Request) {
	var req createRealmRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	req.RealmID = strings.TrimSpace(req.RealmID)
	if req.RealmID == "" {
		httputil.WriteBadRequest(w, tenancy.CodeMissingFields, "realm_id is required")
		return
	}

	tenantID := strings.TrimSpace(req.TenantID)
	if tenantID == "" {
		tenant, err := s.ensureTenantForRealm(r, req.RealmID, req.DisplayName)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		tenantID = tenant.TenantID
	}

	realm, err := s.realms.CreateRealm(r.Context(), tenantID, req.RealmID, strings.TrimSpace(req.DisplayName))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	s.invalidateTenant(r, tenantID)
	httputil.WriteCreated(w, realm)
}

// ensureTenantForRealm returns the tenant whose slug matches the realm,
// creating it when absent.
func (s *Server) ensureTenantForRealm(r *http.Request, realmID, displayName string) (*tenants.Tenant, error) {
	if tenant, err := s.tenants.GetTenantBySlug(r.Context(), realmID); err == nil {
		return tenant, nil
	}

	name := strings.TrimSpace(displayName)
	if name == "" {
		name = realmID
	}
	createdBy := contextkeys.GetUser(r.Context())
	if createdBy == "" {
		createdBy = "system"
	}
	return s.tenants.CreateTenant(r.Context(), &tenants.CreateTenantRequest{
		TenantID:  uuid.New().String(),
		Name:      name,
		Slug:      realmID,
		CreatedBy: createdBy,
	})
}

// deleteRealm handles DELETE /v1.0/m8flow/tenant-realms/{realm_id}
//
// Destructive and unscoped by design, so it is gated on a live Keycloak
// admin token rather than a tenant-scoped user token. Keycloak is
// deleted first; the registry row follows only after Keycloak succeeds.
func (s *Server) deleteRealm(w http.ResponseWriter, r *http.Request) {
	realmID, ok := httputil.ParsePathStringOrError(w, r, "realm_id")
	if !ok {
		return
	}

	token := bearerTokenFromHeader(r)
	if token == "" {
		httputil.WriteUnauthorized(w, "Authorization header with Bearer token is required.")
		return
	}
	if s.admin == nil || !s.admin.VerifyAdminToken(r.Context(), token) {
		httputil.WriteUnauthorized(w, "Invalid or unauthorized admin token.")
		return
	}

	tenantID := realmID
	if tenant, err := s.tenants.GetTenantBySlug(r.Context(), realmID); err == nil {
		tenantID = tenant.TenantID
	}

	if err := s.realms.DeleteRealm(r.Context(), tenantID, realmID); err != nil {
		httputil.WriteError(w, err)
		return
	}

	s.invalidateTenant(r, tenantID)
	httputil.WriteSuccess(w, map[string]string{
		"message": fmt.Sprintf("Tenant %s deleted successfully", realmID),
	})
}

// createRealmUser handles POST /v1.0/m8flow/tenant-realms/{realm}/users
func (s *Server) createRealmUser(w http.ResponseWriter, r *http.Request) {
	realm, ok := httputil.ParsePathStringOrError(w, r, "realm")
	if !ok {
		return
	}

	var req createUserRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	userID, err := s.realms.CreateUser(r.Context(), strings.TrimSpace(realm), keycloak.UserSpec{
		Username: strings.TrimSpace(req.Username),
		Password: req.Password,
		Email:    strings.TrimSpace(req.Email),
		Enabled:  true,
	})
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteCreated(w, map[string]string{
		"user_id":  userID,
		"location": fmt.Sprintf("/admin/realms/%s/users/%s", realm, userID),
	})
}

// tenantLoginURL handles GET /v1.0/m8flow/tenant-login-url?tenant=
func (s *Server) tenantLoginURL(w http.ResponseWriter, r *http.Request) {
	tenant := strings.TrimSpace(httputil.ParseQueryString(r, "tenant", ""))
	if tenant == "" {
		httputil.WriteBadRequest(w, tenancy.CodeMissingFields, "tenant query parameter is required")
		return
	}

	loginURL, err := s.realms.TenantLoginURL(r.Context(), tenant)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteSuccess(w, map[string]string{
		"login_url": loginURL,
		"realm":     tenant,
	})
}

// bearerTokenFromHeader returns the raw bearer token or "".
func bearerTokenFromHeader(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
