package api

import (
	"net/http"
	"time"

	"github.com/AOT-Technologies/m8flow/pkg/httputil"
	"github.com/AOT-Technologies/m8flow/pkg/tenancy"
)

// handleStatus handles GET /v1.0/status
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	httputil.WriteSuccess(w, map[string]any{
		"service": "m8flow",
		"status":  "ok",
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}

// checkTenant handles GET /v1.0/tenants/check?identifier=
//
// Unauthenticated lookup for pre-login tenant selection: the identifier
// may be a tenant id or a slug. Responds {"exists": false} rather than
// 404 so the login page can branch without error handling.
func (s *Server) checkTenant(w http.ResponseWriter, r *http.Request) {
	identifier := httputil.ParseQueryString(r, "identifier", "")
	if identifier == "" {
		httputil.WriteBadRequest(w, tenancy.CodeMissingFields, "identifier query parameter is required")
		return
	}

	tenant, err := s.tenants.GetTenant(r.Context(), identifier)
	if err != nil {
		tenant, err = s.tenants.GetTenantBySlug(r.Context(), identifier)
	}
	if err != nil || tenant == nil || !tenant.Active() {
		httputil.WriteSuccess(w, map[string]any{"exists": false})
		return
	}

	httputil.WriteSuccess(w, map[string]any{
		"exists":    true,
		"tenant_id": tenant.TenantID,
	})
}
