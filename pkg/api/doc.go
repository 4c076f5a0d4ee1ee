// Package api exposes the HTTP surface for tenant administration,
// Keycloak realm provisioning, and the process-model template catalog.
//
// # Routes
//
// Service:
//
//	GET /v1.0/status, /v1.0/healthz, /v1.0/readyz
//	GET /v1.0/tenants/check?identifier=   (public pre-login lookup)
//
// Tenants:
//
//	POST/GET       /v1.0/m8flow/tenants
//	GET/PUT/DELETE /v1.0/m8flow/tenants/{tenant_id}
//	GET            /v1.0/m8flow/tenants/slug/{slug}
//
// Realms:
//
//	POST   /v1.0/m8flow/tenant-realms
//	DELETE /v1.0/m8flow/tenant-realms/{realm_id}   (admin token gated)
//	POST   /v1.0/m8flow/tenant-realms/{realm}/users
//	GET    /v1.0/m8flow/tenant-login-url?tenant=
//
// Templates:
//
//	POST/GET       /v1.0/m8flow/templates
//	GET/PUT/DELETE /v1.0/m8flow/templates/{id}
//	GET            /v1.0/m8flow/templates/key/{template_key}
//	GET            /v1.0/m8flow/templates/{id}/file   (zip download)
//
// Template create and update accept BPMN XML bodies with metadata in
// X-Template-* headers; update also accepts a JSON metadata body.
//
// Errors use the envelope {"error_code": ..., "message": ...}. The
// middleware chain (auth, tenant resolution, rate limiting) is injected
// through Dependencies.Middleware, so handlers assume claims and tenant
// binding are already on the request context.
package api
