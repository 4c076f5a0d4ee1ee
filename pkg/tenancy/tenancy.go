package tenancy

import (
	"context"
	"sync"

	"github.com/AOT-Technologies/m8flow/pkg/contextkeys"
)

// Claim and header names on the wire.
const (
	DefaultTenantClaim = "m8flow_tenant_id"
	TenantHeader       = "M8Flow-Tenant-Id"
	AuthIdentifierHeader = "M8Flow-Authentication-Identifier"

	AccessTokenCookie    = "access_token"
	AuthIdentifierCookie = "authentication_identifier"

	// DefaultAuthenticationIdentifier is used when neither the cookie nor
	// the header names an identity configuration.
	DefaultAuthenticationIdentifier = "default"
)

// Binding is the per-request tenant state. The tenant middleware attaches
// an empty Binding to the request context before any resolution runs; the
// resolver fills it in exactly once. A Binding is owned by one request and
// is not safe for concurrent mutation.
type Binding struct {
	// TenantID is empty until resolution succeeds.
	TenantID string
	// Identity ties the binding to one request (the request id), so a
	// binding accidentally carried across requests is detectable.
	Identity string
	// Public marks requests on excluded paths; no tenant is required.
	Public bool

	warnedDefault bool
	warnedDecode  bool
}

// Bound reports whether a tenant id has been resolved for this binding.
func (b *Binding) Bound() bool {
	return b != nil && b.TenantID != ""
}

// WithBinding attaches a request tenant binding to the context.
func WithBinding(ctx context.Context, b *Binding) context.Context {
	return context.WithValue(ctx, contextkeys.TenantKey, b)
}

// BindingFromContext returns the request tenant binding, or nil outside a
// request.
func BindingFromContext(ctx context.Context) *Binding {
	b, _ := ctx.Value(contextkeys.TenantKey).(*Binding)
	return b
}

// Background tenant context: the fallback used by schedulers and workers
// running outside any HTTP request. Set/reset is token-based so nested
// scopes restore the previous value and nothing leaks across jobs.

type backgroundState struct {
	mu       sync.Mutex
	tenantID string
}

var background backgroundState

// ResetToken restores the previous background tenant when passed back to
// ResetBackgroundTenant.
type ResetToken struct {
	previous string
}

// SetBackgroundTenant sets the process-wide background tenant id and
// returns a token restoring the previous value.
func SetBackgroundTenant(tenantID string) ResetToken {
	background.mu.Lock()
	defer background.mu.Unlock()
	token := ResetToken{previous: background.tenantID}
	background.tenantID = tenantID
	return token
}

// ResetBackgroundTenant undoes a SetBackgroundTenant call.
func ResetBackgroundTenant(token ResetToken) {
	background.mu.Lock()
	defer background.mu.Unlock()
	background.tenantID = token.previous
}

// BackgroundTenant returns the background tenant id, or "" when unset.
func BackgroundTenant() string {
	background.mu.Lock()
	defer background.mu.Unlock()
	return background.tenantID
}

// ClearBackgroundTenant unconditionally clears the background tenant.
// Teardown paths use it to prevent cross-job leakage.
func ClearBackgroundTenant() {
	background.mu.Lock()
	defer background.mu.Unlock()
	background.tenantID = ""
}

// Settings carries the tenancy configuration shared by the resolver and
// the scoping layer.
type Settings struct {
	// DefaultTenantID is used when resolution finds nothing and
	// AllowMissingTenantContext is set. From M8FLOW_DEFAULT_TENANT_ID.
	DefaultTenantID string
	// AllowMissingTenantContext permits defaulting instead of failing
	// with tenant_required. From M8FLOW_ALLOW_MISSING_TENANT_CONTEXT.
	AllowMissingTenantContext bool
	// TenantClaim is the JWT claim carrying the tenant id. From
	// M8FLOW_TENANT_CLAIM.
	TenantClaim string
}

// Normalize fills zero values with defaults.
func (s Settings) Normalize() Settings {
	if s.DefaultTenantID == "" {
		s.DefaultTenantID = "default"
	}
	if s.TenantClaim == "" {
		s.TenantClaim = DefaultTenantClaim
	}
	return s
}

// ErrNoTenant is a sentinel distinguishing "nothing resolved" from hard
// failures in EffectiveTenantID.
type noTenantError struct{}

func (noTenantError) Error() string { return "no tenant resolvable" }

// ErrNoTenant is returned by EffectiveTenantID when no tenant signal is
// available and defaulting is disabled.
var ErrNoTenant error = noTenantError{}

// EffectiveTenantID resolves the tenant id governing data access for ctx:
// the request binding when bound, else the background tenant, else the
// default tenant when allowed. Public requests and unresolvable contexts
// return ErrNoTenant; callers in the scoping layer treat that as
// fail-open (skip filtering) rather than an error, which keeps background
// jobs alive at the cost of strict isolation. That asymmetry is
// intentional.
func EffectiveTenantID(ctx context.Context, settings Settings) (string, error) {
	settings = settings.Normalize()

	if b := BindingFromContext(ctx); b != nil {
		if b.Public {
			return "", ErrNoTenant
		}
		if b.Bound() {
			return b.TenantID, nil
		}
		if settings.AllowMissingTenantContext {
			return settings.DefaultTenantID, nil
		}
		return "", ErrNoTenant
	}

	if tid := BackgroundTenant(); tid != "" {
		return tid, nil
	}
	if settings.AllowMissingTenantContext {
		return settings.DefaultTenantID, nil
	}
	return "", ErrNoTenant
}
