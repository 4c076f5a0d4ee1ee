package middleware

import (
	"net/http"

	"github.com/AOT-Technologies/m8flow/pkg/contextkeys"
	"github.com/AOT-Technologies/m8flow/pkg/httputil"
	"github.com/AOT-Technologies/m8flow/pkg/observability"
	"github.com/AOT-Technologies/m8flow/pkg/tenancy"
)

// TenantContextMiddleware attaches a fresh tenant binding to each request
// and resolves it through the tenancy resolver. Resolution failures stop
// the chain with the resolver's error envelope. The binding is request
// scoped, so it is discarded with the request context; nothing leaks
// across requests.
type TenantContextMiddleware struct {
	resolver *tenancy.Resolver
	logger   *observability.Logger
}

// NewTenantContextMiddleware creates tenant resolution middleware.
func NewTenantContextMiddleware(resolver *tenancy.Resolver, logger *observability.Logger) *TenantContextMiddleware {
	return &TenantContextMiddleware{
		resolver: resolver,
		logger:   logger,
	}
}

// Handler wraps an HTTP handler with tenant resolution.
func (m *TenantContextMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		binding := &tenancy.Binding{}
		r = r.WithContext(tenancy.WithBinding(r.Context(), binding))

		if apiErr := m.resolver.ResolveRequest(r); apiErr != nil {
			m.logger.WithFields(map[string]any{
				"error_code": apiErr.ErrorCode,
				"path":       r.URL.Path,
			}).Warn("tenant resolution failed")
			httputil.WriteAPIError(w, apiErr)
			return
		}

		if binding.Public {
			r = r.WithContext(contextkeys.WithPublicRequest(r.Context()))
		}
		next.ServeHTTP(w, r)
	})
}
