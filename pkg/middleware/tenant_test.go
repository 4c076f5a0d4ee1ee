package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AOT-Technologies/m8flow/pkg/tenancy"
)

type stubValidator struct {
	known map[string]bool
}

func (v *stubValidator) TenantExists(_ context.Context, tenantID string) (bool, error) {
	return v.known[tenantID], nil
}

type stubClaimParser struct {
	claims map[string]any
}

func (p *stubClaimParser) ParseClaims(_ context.Context, _ string) (map[string]any, error) {
	return p.claims, nil
}

func newTenantMiddleware(parser tenancy.TokenParser, validator tenancy.Validator) *TenantContextMiddleware {
	resolver := tenancy.NewResolver(tenancy.Settings{}, parser, validator, testLogger(), nil)
	return NewTenantContextMiddleware(resolver, testLogger())
}

func TestTenantContextBindsClaimTenant(t *testing.T) {
	parser := &stubClaimParser{claims: map[string]any{tenancy.DefaultTenantClaim: "acme"}}
	mw := newTenantMiddleware(parser, &stubValidator{known: map[string]bool{"acme": true}})

	var bound string
	next := http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		if b := tenancy.BindingFromContext(r.Context()); b != nil {
			bound = b.TenantID
		}
	})

	req := httptest.NewRequest(http.MethodGet, "/v1.0/m8flow/templates", nil)
	req.Header.Set("Authorization", "Bearer some-token")
	rec := httptest.NewRecorder()

	mw.Handler(next).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "acme", bound)
}

func TestTenantContextRejectsMissingTenant(t *testing.T) {
	mw := newTenantMiddleware(nil, &stubValidator{known: map[string]bool{}})

	called := false
	next := http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) { called = true })

	req := httptest.NewRequest(http.MethodGet, "/v1.0/m8flow/templates", nil)
	rec := httptest.NewRecorder()

	mw.Handler(next).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), tenancy.CodeTenantRequired)
	assert.False(t, called)
}

func TestTenantContextPublicPath(t *testing.T) {
	mw := newTenantMiddleware(nil, &stubValidator{known: map[string]bool{}})

	var binding *tenancy.Binding
	next := http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		binding = tenancy.BindingFromContext(r.Context())
	})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()

	mw.Handler(next).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, binding)
	assert.True(t, binding.Public)
	assert.False(t, binding.Bound())
}

func TestTenantContextFreshBindingPerRequest(t *testing.T) {
	parser := &stubClaimParser{claims: map[string]any{tenancy.DefaultTenantClaim: "acme"}}
	mw := newTenantMiddleware(parser, &stubValidator{known: map[string]bool{"acme": true}})

	var bindings []*tenancy.Binding
	next := http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		bindings = append(bindings, tenancy.BindingFromContext(r.Context()))
	})
	handler := mw.Handler(next)

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodGet, "/v1.0/m8flow/templates", nil)
		req.Header.Set("Authorization", "Bearer some-token")
		handler.ServeHTTP(httptest.NewRecorder(), req)
	}

	require.Len(t, bindings, 2)
	assert.NotSame(t, bindings[0], bindings[1])
}
