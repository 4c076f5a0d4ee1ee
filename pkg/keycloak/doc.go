// Package keycloak provisions per-tenant Keycloak realms from a realm
// template export.
//
// The template is a full realm export JSON with the spoke client id
// replaced by the __M8FLOW_SPOKE_CLIENT_ID__ placeholder. TemplateStore
// loads it, substitutes the configured client id, and hot-reloads on
// file changes. Provisioner fills the template for a new realm,
// sanitizes Keycloak-internal ids out of it, creates the realm through
// the admin REST API, and records the result in m8flow_tenant_realm.
package keycloak
