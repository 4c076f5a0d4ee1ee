// Package tenancy is the core of tenant isolation: it carries the tenant
// binding for in-flight requests, a process-wide fallback for background
// work, and the resolver that derives and validates a tenant id from
// request credentials.
//
// Within one request the binding is monotonic: once a tenant id is bound,
// any attempt to re-resolve to a different tenant fails with
// tenant_override_forbidden. Background (non-request) code paths use the
// context fallback and are allowed to fall back to the default tenant.
package tenancy
