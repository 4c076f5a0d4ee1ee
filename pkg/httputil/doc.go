// Package httputil provides HTTP utilities for standardized request/response handling.
//
// # Overview
//
// This package offers helper functions for JSON encoding/decoding, the standard
// {error_code, message} error envelope, parameter parsing, and common HTTP
// middleware patterns.
//
// # Response Helpers
//
// JSON responses:
//
//	httputil.WriteJSON(w, http.StatusOK, data)
//	httputil.WriteSuccess(w, resource)
//	httputil.WriteCreated(w, resource)
//
// Error responses always carry a stable error code:
//
//	httputil.WriteAPIError(w, tenancy.ErrTenantRequired())
//	httputil.WriteErrorCode(w, http.StatusConflict, "tenant_id_exists", "...")
//	httputil.WriteError(w, err) // APIError keeps its code; anything else becomes internal_error
//
// # Request Parsing
//
// JSON parsing:
//
//	var req CreateTenantRequest
//	if !httputil.ParseJSONOrError(w, r, &req) {
//		return // Error response already written
//	}
//
// Path parameters:
//
//	tenantID, ok := httputil.ParsePathStringOrError(w, r, "tenant_id")
//
// Query parameters:
//
//	limit, _ := httputil.ParseQueryInt(r, "limit", 20)
//	includeDeleted, _ := httputil.ParseQueryBool(r, "include_deleted", false)
//
// # Middleware
//
//	httputil.Chain(
//		httputil.RequestIDMiddleware,
//		httputil.LoggingMiddleware(logger),
//		httputil.RecoveryMiddleware(logger),
//		httputil.MaxBytesMiddleware(10*1024*1024), // 10MB
//	)
//
// # Related Packages
//
//   - pkg/middleware: Authentication and tenant context middleware
package httputil
