package tenancy

import (
	"context"
	"net/http"
	"strings"

	"github.com/AOT-Technologies/m8flow/pkg/contextkeys"
	"github.com/AOT-Technologies/m8flow/pkg/observability"
)

// PublicPathPrefixes lists request paths that never require a tenant.
// Requests under these prefixes get a public binding and resolution stops.
var PublicPathPrefixes = []string{
	"/healthz",
	"/readyz",
	"/health",
	"/metrics",
	"/v1.0/status",
	"/v1.0/healthz",
	"/v1.0/readyz",
	"/v1.0/tenants/check",
	"/openid",
	"/login",
	"/logout",
}

// IsPublicPath reports whether path is exempt from tenant resolution.
func IsPublicPath(path string) bool {
	for _, prefix := range PublicPathPrefixes {
		if path == prefix || strings.HasPrefix(path, prefix+"/") {
			return true
		}
	}
	return false
}

// TokenParser extracts claims from a raw bearer token. Implementations
// live in pkg/middleware; the resolver only needs the claim map and must
// tolerate parse failures (an unreadable token is treated as carrying no
// tenant claim, not as a hard error).
type TokenParser interface {
	ParseClaims(ctx context.Context, rawToken string) (map[string]any, error)
}

// Validator confirms a tenant id names a live tenant. Backed by
// pkg/tenants with its cache in front.
type Validator interface {
	TenantExists(ctx context.Context, tenantID string) (bool, error)
}

// Resolver binds a tenant id to each request following the precedence
// token claim > background context > default tenant.
type Resolver struct {
	settings Settings
	parser   TokenParser
	validator Validator
	logger   *observability.Logger
	metrics  *observability.Metrics
}

// NewResolver builds a request tenant resolver. parser may be nil for
// deployments with no token auth; validator must not be nil.
func NewResolver(settings Settings, parser TokenParser, validator Validator, logger *observability.Logger, metrics *observability.Metrics) *Resolver {
	return &Resolver{
		settings:  settings.Normalize(),
		parser:    parser,
		validator: validator,
		logger:    logger,
	metrics:   metrics,
	}
}

// rawToken pulls the bearer token from the Authorization header, falling
// back to the access_token cookie.
func rawToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		parts := strings.SplitN(auth, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
	}
	if c, err := r.Cookie(AccessTokenCookie); err == nil && c.Value != "" {
		return c.Value
	}
	return ""
}

// AuthenticationIdentifier returns the identity configuration selector
// for a request: the authentication_identifier cookie, then the matching
// header, then "default".
func AuthenticationIdentifier(r *http.Request) string {
	if c, err := r.Cookie(AuthIdentifierCookie); err == nil && c.Value != "" {
		return c.Value
	}
	if v := r.Header.Get(AuthIdentifierHeader); v != "" {
		return v
	}
	return DefaultAuthenticationIdentifier
}

// claimTenant extracts the configured tenant claim from the request
// token. Decode failures are logged once per request and reported as an
// absent claim.
func (res *Resolver) claimTenant(ctx context.Context, r *http.Request, b *Binding) string {
	if res.parser == nil {
		return ""
	}
	tok := rawToken(r)
	if tok == "" {
		return ""
	}
	claims, err := res.parser.ParseClaims(ctx, tok)
	if err != nil {
		if !b.warnedDecode {
			b.warnedDecode = true
			res.logger.WithError(err).Warn("could not decode bearer token; treating request as having no tenant claim")
		}
		return ""
	}
	if v, ok := claims[res.settings.TenantClaim].(string); ok {
		return v
	}
	return ""
}

// candidate computes the tenant id a request asks for, without binding
// or validating it: token claim first, then the background context. The
// second return names the winning source for metrics.
func (res *Resolver) candidate(ctx context.Context, r *http.Request, b *Binding) (string, string) {
	if tid := res.claimTenant(ctx, r, b); tid != "" {
		return tid, "claim"
	}
	if tid := BackgroundTenant(); tid != "" {
		return tid, "background"
	}
	return "", ""
}

// ResolveRequest resolves and binds the tenant for one request. The
// binding must already be attached to r.Context() by the middleware.
// Returns an *APIError on failure; the caller writes the error envelope
// and stops the chain.
func (res *Resolver) ResolveRequest(r *http.Request) *APIError {
	ctx := r.Context()
	b := BindingFromContext(ctx)
	if b == nil {
		// Middleware bug rather than a client error; fail closed.
		return ErrTenantRequired()
	}

	if IsPublicPath(r.URL.Path) {
		b.Public = true
		return nil
	}

	if b.Bound() {
		if rid := contextkeys.GetRequestID(ctx); rid != "" && b.Identity != "" && b.Identity != rid {
			// The binding was minted for a different request. Refusing to
			// reuse it keeps a recycled context from leaking a tenant.
			res.logger.WithFields(map[string]any{
				"bound_request_id":   b.Identity,
				"current_request_id": rid,
				"tenant_id":          b.TenantID,
			}).Error("tenant binding carried across requests; refusing to reuse it")
			res.countError(CodeTenantRequired)
			return ErrTenantRequired()
		}
		// Re-entrant resolution on a request that already carries a
		// tenant: recompute the candidate and reject an attempt to
		// switch tenants mid-request. Same tenant is a no-op.
		c, _ := res.candidate(ctx, r, b)
		if c != "" && c != b.TenantID {
			res.countError(CodeTenantOverrideForbidden)
			return ErrTenantOverrideForbidden(b.TenantID, c)
		}
		return nil
	}

	tenantID, source := res.candidate(ctx, r, b)
	if tenantID == "" {
		source = "default"
		if !res.settings.AllowMissingTenantContext {
			res.countError(CodeTenantRequired)
			return ErrTenantRequired()
		}
		tenantID = res.settings.DefaultTenantID
		if !b.warnedDefault {
			b.warnedDefault = true
			res.logger.WithFields(map[string]any{
				"tenant_id": tenantID,
				"path":      r.URL.Path,
			}).Warn("no tenant context on request; falling back to default tenant")
		}
	}

	// Bind before validating so the override check covers concurrent
	// re-entrant calls, then unbind on failure: no half-set state.
	b.TenantID = tenantID
	b.Identity = contextkeys.GetRequestID(ctx)

	ok, err := res.validator.TenantExists(ctx, tenantID)
	if err != nil {
		b.TenantID = ""
		b.Identity = ""
		res.countError(CodeInvalidTenant)
		return NewAPIError(CodeInvalidTenant, http.StatusBadRequest, "could not validate tenant %q: %v", tenantID, err)
	}
	if !ok {
		b.TenantID = ""
		b.Identity = ""
		res.countError(CodeInvalidTenant)
		return ErrInvalidTenant(tenantID)
	}

	if res.metrics != nil {
		res.metrics.TenantResolutionsTotal.WithLabelValues(source).Inc()
	}
	return nil
}

func (res *Resolver) countError(code string) {
	if res.metrics != nil {
		res.metrics.TenantResolutionErrors.WithLabelValues(code).Inc()
	}
}
