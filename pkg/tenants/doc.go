// Package tenants provides tenant lifecycle management.
//
// # Overview
//
// This package manages tenant rows: creation with unique id and slug,
// soft deletion, reactivation, and the existence checks the tenant
// resolver performs on every request. The default tenant is protected
// from mutation and deletion.
//
// # Lifecycle
//
// Tenants move between two statuses:
//
//   - active: resolvable, data accessible
//   - deleted: soft deleted, rows retained, resolution rejects the tenant
//
// Deletion keeps the row (and all tenant-scoped data) so a tenant can be
// reactivated by setting status back to active.
//
// # Validation Cache
//
// Existence checks run on the hot path of every request, so
// ValidatingCache layers an in-process LRU and Redis in front of the
// database:
//
//	cache, err := tenants.NewValidatingCache(service, redisClient, cfg.Redis, metrics)
//	exists, err := cache.TenantExists(ctx, "acme")
//
// Mutating operations must call Invalidate so other processes see the
// change within the cache TTL.
//
// # Related Packages
//
//   - pkg/tenancy: request tenant resolution, consumes TenantExists
//   - pkg/scope: tenant-scoped data access
package tenants
