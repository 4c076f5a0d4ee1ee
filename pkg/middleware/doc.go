// Package middleware provides the request-processing chain that binds
// authentication, tenant context, and rate limiting to the HTTP surface.
//
// # Middleware Components
//
// AuthMiddleware: bearer-token authentication
//
//	parser, _ := middleware.NewTokenParser(ctx, cfg.Auth, logger)
//	router.Use(middleware.NewAuthMiddleware(parser, false, logger).Handler)
//	// Verifies the token (OIDC JWKS or HMAC), attaches claims and username
//
// TenantContextMiddleware: per-request tenant resolution
//
//	router.Use(middleware.NewTenantContextMiddleware(resolver, logger).Handler)
//	// Attaches a fresh tenancy.Binding and resolves claim > background > default
//
// RateLimitMiddleware: Redis-backed, per-tenant rate limiting
//
//	router.Use(middleware.NewRateLimitMiddleware(redisClient, logger).Handler)
//	// Fixed-window counters shared across instances; fails open on Redis errors
//
// The TokenParser doubles as the resolver's tenancy.TokenParser, so the
// auth and tenant layers read claims the same way.
//
// # Related Packages
//
//   - pkg/tenancy: binding, resolver, error taxonomy
//   - pkg/httputil: request id, logging, recovery, CORS middleware
//   - pkg/contextkeys: claim and user context accessors
package middleware
