// Package templates manages reusable process-model templates with
// per-tenant V-style versioning.
//
// Each template version is one row in m8flow_template plus its files in
// a storage backend (filesystem, S3, or noop), addressed by
// tenant/key/version. Versions sort numerically (V2 < V10) and the next
// version is computed per tenant and template key. Draft versions are
// mutable; once published, a version is immutable and updates land on a
// fresh copied version instead.
package templates
