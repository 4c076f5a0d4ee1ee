// Package contextkeys provides centralized context key definitions
//
// IMPORTANT: All context keys used across the application must be defined here.
// This prevents typos, documents dependencies, and makes key usage discoverable.
package contextkeys

import "context"

// Key is the type for context keys to prevent collisions
type Key string

const (
	// TenantKey contains the *tenancy.Binding for the current request.
	// Set by: middleware.TenantContext (pkg/middleware/tenant.go)
	// Required by: all tenant-scoped data access
	TenantKey Key = "m8flow_tenant"

	// ClaimsKey contains the decoded JWT claims map for the request token.
	// Set by: middleware.Auth (pkg/middleware/auth.go)
	ClaimsKey Key = "m8flow_claims"

	// UserKey contains the authenticated username string.
	// Set by: middleware.Auth after token validation
	UserKey Key = "m8flow_user"

	// RequestIDKey contains the request ID string (UUID).
	// Set by: httputil.RequestID middleware
	RequestIDKey Key = "request_id"

	// PublicRequestKey marks requests on public (unscoped) paths.
	// Set by: middleware.TenantContext for excluded path prefixes
	PublicRequestKey Key = "m8flow_public_request"
)

// WithRequestID adds a request ID to the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// GetRequestID retrieves the request ID from context.
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}

// WithUser adds the authenticated username to the context.
func WithUser(ctx context.Context, username string) context.Context {
	return context.WithValue(ctx, UserKey, username)
}

// GetUser retrieves the authenticated username from context.
func GetUser(ctx context.Context) string {
	if username, ok := ctx.Value(UserKey).(string); ok {
		return username
	}
	return ""
}

// WithClaims adds decoded token claims to the context.
func WithClaims(ctx context.Context, claims map[string]interface{}) context.Context {
	return context.WithValue(ctx, ClaimsKey, claims)
}

// GetClaims retrieves decoded token claims from the context.
func GetClaims(ctx context.Context) map[string]interface{} {
	if claims, ok := ctx.Value(ClaimsKey).(map[string]interface{}); ok {
		return claims
	}
	return nil
}

// WithPublicRequest marks the context as belonging to a public request.
func WithPublicRequest(ctx context.Context) context.Context {
	return context.WithValue(ctx, PublicRequestKey, true)
}

// IsPublicRequest reports whether the context belongs to a public request.
func IsPublicRequest(ctx context.Context) bool {
	public, ok := ctx.Value(PublicRequestKey).(bool)
	return ok && public
}
