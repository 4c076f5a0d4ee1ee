package api

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AOT-Technologies/m8flow/pkg/boot"
	"github.com/AOT-Technologies/m8flow/pkg/contextkeys"
	"github.com/AOT-Technologies/m8flow/pkg/keycloak"
	"github.com/AOT-Technologies/m8flow/pkg/observability"
	"github.com/AOT-Technologies/m8flow/pkg/templates"
	"github.com/AOT-Technologies/m8flow/pkg/tenancy"
	"github.com/AOT-Technologies/m8flow/pkg/tenants"
)

type stubTenants struct {
	byID    map[string]*tenants.Tenant
	bySlug  map[string]*tenants.Tenant
	created []*tenants.CreateTenantRequest
	deleted []string
}

func newStubTenants(list ...*tenants.Tenant) *stubTenants {
	s := &stubTenants{byID: map[string]*tenants.Tenant{}, bySlug: map[string]*tenants.Tenant{}}
	for _, t := range list {
		s.byID[t.TenantID] = t
		s.bySlug[t.Slug] = t
	}
	return s
}

func notFoundErr() error {
	return tenancy.NewAPIError(tenancy.CodeTenantNotFound, http.StatusNotFound, "Tenant not found.")
}

func (s *stubTenants) CreateTenant(_ context.Context, req *tenants.CreateTenantRequest) (*tenants.Tenant, error) {
	s.created = append(s.created, req)
	t := &tenants.Tenant{TenantID: req.TenantID, Name: req.Name, Slug: req.Slug, Status: tenants.StatusActive}
	s.byID[t.TenantID] = t
	s.bySlug[t.Slug] = t
	return t, nil
}

func (s *stubTenants) GetTenant(_ context.Context, tenantID string) (*tenants.Tenant, error) {
	if t, ok := s.byID[tenantID]; ok {
		return t, nil
	}
	return nil, notFoundErr()
}

func (s *stubTenants) GetTenantBySlug(_ context.Context, slug string) (*tenants.Tenant, error) {
	if t, ok := s.bySlug[slug]; ok {
		return t, nil
	}
	return nil, notFoundErr()
}

func (s *stubTenants) ListTenants(_ context.Context, _ tenants.ListOptions) ([]*tenants.Tenant, error) {
	var out []*tenants.Tenant
	for _, t := range s.byID {
		out = append(out, t)
	}
	return out, nil
}

func (s *stubTenants) UpdateTenant(_ context.Context, tenantID string, req *tenants.UpdateTenantRequest) (*tenants.Tenant, error) {
	t, ok := s.byID[tenantID]
	if !ok {
		return nil, notFoundErr()
	}
	if req.Name != nil {
		t.Name = *req.Name
	}
	return t, nil
}

func (s *stubTenants) DeleteTenant(_ context.Context, tenantID string) (*tenants.Tenant, error) {
	t, ok := s.byID[tenantID]
	if !ok {
		return nil, notFoundErr()
	}
	s.deleted = append(s.deleted, tenantID)
	t.Status = tenants.StatusDeleted
	return t, nil
}

func (s *stubTenants) TenantExists(_ context.Context, tenantID string) (bool, error) {
	_, ok := s.byID[tenantID]
	return ok, nil
}

type stubTemplates struct {
	template  *templates.Template
	list      []*templates.Template
	archive   []byte
	err       error
	createReq *templates.CreateTemplateRequest
	updateReq *templates.UpdateTemplateRequest
	listOpts  *templates.ListOptions
	deletedID int64
	gotKey    string
	gotVer    string
}

func (s *stubTemplates) Create(_ context.Context, _ string, req templates.CreateTemplateRequest) (*templates.Template, error) {
	s.createReq = &req
	return s.template, s.err
}

func (s *stubTemplates) List(_ context.Context, _ string, opts templates.ListOptions) ([]*templates.Template, error) {
	s.listOpts = &opts
	return s.list, s.err
}

func (s *stubTemplates) GetByID(_ context.Context, _ string, _ int64) (*templates.Template, error) {
	return s.template, s.err
}

func (s *stubTemplates) GetByKey(_ context.Context, _ string, key, version string) (*templates.Template, error) {
	s.gotKey, s.gotVer = key, version
	return s.template, s.err
}

func (s *stubTemplates) Update(_ context.Context, _ string, _ int64, req templates.UpdateTemplateRequest) (*templates.Template, error) {
	s.updateReq = &req
	return s.template, s.err
}

func (s *stubTemplates) Delete(_ context.Context, _ string, id int64) error {
	s.deletedID = id
	return s.err
}

func (s *stubTemplates) Archive(_ context.Context, _ string, _ int64) (*templates.Template, []byte, error) {
	return s.template, s.archive, s.err
}

type stubRealms struct {
	realm         *keycloak.TenantRealm
	err           error
	createdTenant string
	createdRealm  string
	deletedTenant string
	deletedRealm  string
	userRealm     string
	userSpec      keycloak.UserSpec
	loginURL      string
}

func (s *stubRealms) CreateRealm(_ context.Context, tenantID, realmID, _ string) (*keycloak.TenantRealm, error) {
	s.createdTenant, s.createdRealm = tenantID, realmID
	return s.realm, s.err
}

func (s *stubRealms) DeleteRealm(_ context.Context, tenantID, realmName string) error {
	s.deletedTenant, s.deletedRealm = tenantID, realmName
	return s.err
}

func (s *stubRealms) CreateUser(_ context.Context, realm string, spec keycloak.UserSpec) (string, error) {
	s.userRealm, s.userSpec = realm, spec
	return "user-uuid", s.err
}

func (s *stubRealms) TenantLoginURL(_ context.Context, realm string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return s.loginURL + realm, nil
}

type stubVerifier struct{ valid string }

func (v *stubVerifier) VerifyAdminToken(_ context.Context, token string) bool {
	return token == v.valid
}

type stubCache struct{ invalidated []string }

func (c *stubCache) Invalidate(_ context.Context, tenantID string) {
	c.invalidated = append(c.invalidated, tenantID)
}

type serverFixture struct {
	server    *Server
	tenants   *stubTenants
	templates *stubTemplates
	realms    *stubRealms
	cache     *stubCache
}

func newTestServer(t *testing.T, tn *stubTenants) *serverFixture {
	t.Helper()
	f := &serverFixture{
		tenants:   tn,
		templates: &stubTemplates{},
		realms:    &stubRealms{loginURL: "http://keycloak.test/realms/"},
		cache:     &stubCache{},
	}
	f.server = NewServer(Dependencies{
		Logger:        observability.NewLogger(observability.ParseLogLevel("error"), io.Discard),
		Tenants:       f.tenants,
		TenantCache:   f.cache,
		Templates:     f.templates,
		Realms:        f.realms,
		AdminVerifier: &stubVerifier{valid: "admin-token"},
	})
	return f
}

func asUser(req *http.Request, username string) *http.Request {
	return req.WithContext(contextkeys.WithUser(req.Context(), username))
}

func doRequest(s *Server, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestStatusEndpoint(t *testing.T) {
	f := newTestServer(t, newStubTenants())

	rec := doRequest(f.server, httptest.NewRequest(http.MethodGet, "/v1.0/status", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decodeBody(t, rec)["status"])
}

func TestCheckTenant(t *testing.T) {
	f := newTestServer(t, newStubTenants(
		&tenants.Tenant{TenantID: "t-1", Name: "Acme", Slug: "acme", Status: tenants.StatusActive},
	))

	rec := doRequest(f.server, httptest.NewRequest(http.MethodGet, "/v1.0/tenants/check?identifier=acme", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, true, body["exists"])
	assert.Equal(t, "t-1", body["tenant_id"])

	rec = doRequest(f.server, httptest.NewRequest(http.MethodGet, "/v1.0/tenants/check?identifier=t-1", nil))
	assert.Equal(t, true, decodeBody(t, rec)["exists"])

	rec = doRequest(f.server, httptest.NewRequest(http.MethodGet, "/v1.0/tenants/check?identifier=ghost", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, decodeBody(t, rec)["exists"])

	rec = doRequest(f.server, httptest.NewRequest(http.MethodGet, "/v1.0/tenants/check", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCheckTenantInactiveNotLive(t *testing.T) {
	f := newTestServer(t, newStubTenants(
		&tenants.Tenant{TenantID: "t-1", Name: "Acme", Slug: "acme", Status: tenants.StatusInactive},
	))

	// Only active tenants count as live for pre-login checks.
	rec := doRequest(f.server, httptest.NewRequest(http.MethodGet, "/v1.0/tenants/check?identifier=acme", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, decodeBody(t, rec)["exists"])
}

func TestCreateTenantRequiresUser(t *testing.T) {
	f := newTestServer(t, newStubTenants())

	req := httptest.NewRequest(http.MethodPost, "/v1.0/m8flow/tenants",
		strings.NewReader(`{"name":"Acme","slug":"acme"}`))
	rec := doRequest(f.server, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, f.tenants.created)
}

func TestCreateTenant(t *testing.T) {
	f := newTestServer(t, newStubTenants())

	req := asUser(httptest.NewRequest(http.MethodPost, "/v1.0/m8flow/tenants",
		strings.NewReader(`{"name":"Acme","slug":"acme"}`)), "jdoe")
	rec := doRequest(f.server, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	require.Len(t, f.tenants.created, 1)
	// Server assigns an id when the client sends none.
	assert.NotEmpty(t, f.tenants.created[0].TenantID)
	assert.Equal(t, "jdoe", f.tenants.created[0].CreatedBy)
	assert.Len(t, f.cache.invalidated, 1)
}

func TestUpdateTenantRejectsSlugChange(t *testing.T) {
	f := newTestServer(t, newStubTenants(
		&tenants.Tenant{TenantID: "t-1", Name: "Acme", Slug: "acme"},
	))

	req := asUser(httptest.NewRequest(http.MethodPut, "/v1.0/m8flow/tenants/t-1",
		strings.NewReader(`{"slug":"new-slug"}`)), "jdoe")
	rec := doRequest(f.server, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "slug_update_forbidden")
}

func TestDeleteTenant(t *testing.T) {
	f := newTestServer(t, newStubTenants(
		&tenants.Tenant{TenantID: "t-1", Name: "Acme", Slug: "acme"},
	))

	req := asUser(httptest.NewRequest(http.MethodDelete, "/v1.0/m8flow/tenants/t-1", nil), "jdoe")
	rec := doRequest(f.server, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"t-1"}, f.tenants.deleted)
	assert.Equal(t, []string{"t-1"}, f.cache.invalidated)
}

func TestGetTenantNotFound(t *testing.T) {
	f := newTestServer(t, newStubTenants())

	rec := doRequest(f.server, httptest.NewRequest(http.MethodGet, "/v1.0/m8flow/tenants/ghost", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), tenancy.CodeTenantNotFound)
}

func TestCreateRealmCreatesTenantWhenAbsent(t *testing.T) {
	f := newTestServer(t, newStubTenants())
	f.realms.realm = &keycloak.TenantRealm{RealmName: "acme"}

	req := httptest.NewRequest(http.MethodPost, "/v1.0/m8flow/tenant-realms",
		strings.NewReader(`{"realm_id":"acme","display_name":"Acme Corp"}`))
	rec := doRequest(f.server, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	require.Len(t, f.tenants.created, 1)
	assert.Equal(t, "acme", f.tenants.created[0].Slug)
	assert.Equal(t, "Acme Corp", f.tenants.created[0].Name)
	assert.Equal(t, "acme", f.realms.createdRealm)
	assert.Equal(t, f.tenants.created[0].TenantID, f.realms.createdTenant)
}

func TestCreateRealmReusesExistingTenant(t *testing.T) {
	f := newTestServer(t, newStubTenants(
		&tenants.Tenant{TenantID: "t-1", Name: "Acme", Slug: "acme"},
	))
	f.realms.realm = &keycloak.TenantRealm{RealmName: "acme"}

	req := httptest.NewRequest(http.MethodPost, "/v1.0/m8flow/tenant-realms",
		strings.NewReader(`{"realm_id":"acme"}`))
	rec := doRequest(f.server, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Empty(t, f.tenants.created)
	assert.Equal(t, "t-1", f.realms.createdTenant)
}

func TestCreateRealmMissingRealmID(t *testing.T) {
	f := newTestServer(t, newStubTenants())

	req := httptest.NewRequest(http.MethodPost, "/v1.0/m8flow/tenant-realms",
		strings.NewReader(`{"display_name":"Acme"}`))
	rec := doRequest(f.server, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, f.realms.createdRealm)
}

func TestDeleteRealmRequiresAdminToken(t *testing.T) {
	f := newTestServer(t, newStubTenants())

	rec := doRequest(f.server, httptest.NewRequest(http.MethodDelete, "/v1.0/m8flow/tenant-realms/acme", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodDelete, "/v1.0/m8flow/tenant-realms/acme", nil)
	req.Header.Set("Authorization", "Bearer wrong-token")
	rec = doRequest(f.server, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, f.realms.deletedRealm)
}

func TestDeleteRealm(t *testing.T) {
	f := newTestServer(t, newStubTenants(
		&tenants.Tenant{TenantID: "t-1", Name: "Acme", Slug: "acme"},
	))

	req := httptest.NewRequest(http.MethodDelete, "/v1.0/m8flow/tenant-realms/acme", nil)
	req.Header.Set("Authorization", "Bearer admin-token")
	rec := doRequest(f.server, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "acme", f.realms.deletedRealm)
	assert.Equal(t, "t-1", f.realms.deletedTenant)
	assert.Contains(t, decodeBody(t, rec)["message"], "deleted successfully")
}

func TestCreateRealmUser(t *testing.T) {
	f := newTestServer(t, newStubTenants())

	req := httptest.NewRequest(http.MethodPost, "/v1.0/m8flow/tenant-realms/acme/users",
		strings.NewReader(`{"username":"jdoe","password":"s3cret","email":"jdoe@acme.test"}`))
	rec := doRequest(f.server, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "acme", f.realms.userRealm)
	assert.Equal(t, "jdoe", f.realms.userSpec.Username)
	assert.True(t, f.realms.userSpec.Enabled)

	body := decodeBody(t, rec)
	assert.Equal(t, "user-uuid", body["user_id"])
	assert.Equal(t, "/admin/realms/acme/users/user-uuid", body["location"])
}

func TestTenantLoginURLEndpoint(t *testing.T) {
	f := newTestServer(t, newStubTenants())

	rec := doRequest(f.server, httptest.NewRequest(http.MethodGet, "/v1.0/m8flow/tenant-login-url?tenant=acme", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "http://keycloak.test/realms/acme", body["login_url"])
	assert.Equal(t, "acme", body["realm"])

	rec = doRequest(f.server, httptest.NewRequest(http.MethodGet, "/v1.0/m8flow/tenant-login-url", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

const testBPMN = `<?xml version="1.0"?><definitions id="order-flow"/>`

func TestCreateTemplate(t *testing.T) {
	f := newTestServer(t, newStubTenants())
	f.templates.template = &templates.Template{ID: 1, TemplateKey: "order-flow", Version: "V1"}

	req := asUser(httptest.NewRequest(http.MethodPost, "/v1.0/m8flow/templates",
		strings.NewReader(testBPMN)), "jdoe")
	req.Header.Set("Content-Type", "application/xml")
	req.Header.Set("X-Template-Key", "order-flow")
	req.Header.Set("X-Template-Name", "Order Flow")
	req.Header.Set("X-Template-Tags", "finance, orders")
	req.Header.Set("X-Template-Visibility", "TENANT")
	rec := doRequest(f.server, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	require.NotNil(t, f.templates.createReq)
	assert.Equal(t, "order-flow", f.templates.createReq.TemplateKey)
	assert.Equal(t, "Order Flow", f.templates.createReq.Name)
	assert.Equal(t, []string{"finance", "orders"}, f.templates.createReq.Tags)
	assert.Equal(t, "TENANT", f.templates.createReq.Visibility)
	assert.Equal(t, []byte(testBPMN), f.templates.createReq.Content)
}

func TestCreateTemplateRejectsNonXML(t *testing.T) {
	f := newTestServer(t, newStubTenants())

	req := asUser(httptest.NewRequest(http.MethodPost, "/v1.0/m8flow/templates",
		strings.NewReader(`{}`)), "jdoe")
	req.Header.Set("Content-Type", "application/json")
	rec := doRequest(f.server, req)

	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
	assert.Nil(t, f.templates.createReq)
}

func TestCreateTemplateMissingHeaders(t *testing.T) {
	f := newTestServer(t, newStubTenants())

	req := asUser(httptest.NewRequest(http.MethodPost, "/v1.0/m8flow/templates",
		strings.NewReader(testBPMN)), "jdoe")
	req.Header.Set("Content-Type", "application/xml")
	rec := doRequest(f.server, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), tenancy.CodeMissingFields)
}

func TestListTemplatesQueryOptions(t *testing.T) {
	f := newTestServer(t, newStubTenants())

	rec := doRequest(f.server, httptest.NewRequest(http.MethodGet,
		"/v1.0/m8flow/templates?latest_only=false&category=finance&tag=orders&search=flow", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, f.templates.listOpts)
	assert.True(t, f.templates.listOpts.AllVersions)
	assert.Equal(t, "finance", f.templates.listOpts.Category)
	assert.Equal(t, "orders", f.templates.listOpts.Tag)
	assert.Equal(t, "flow", f.templates.listOpts.Search)
}

func TestGetTemplateByKeyVersionPin(t *testing.T) {
	f := newTestServer(t, newStubTenants())
	f.templates.template = &templates.Template{ID: 1, TemplateKey: "order-flow", Version: "V2"}

	rec := doRequest(f.server, httptest.NewRequest(http.MethodGet,
		"/v1.0/m8flow/templates/key/order-flow?version=V2", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "order-flow", f.templates.gotKey)
	assert.Equal(t, "V2", f.templates.gotVer)
}

func TestUpdateTemplateJSONBody(t *testing.T) {
	f := newTestServer(t, newStubTenants())
	f.templates.template = &templates.Template{ID: 1}

	req := asUser(httptest.NewRequest(http.MethodPut, "/v1.0/m8flow/templates/1",
		strings.NewReader(`{"name":"Renamed","visibility":"PUBLIC"}`)), "jdoe")
	rec := doRequest(f.server, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, f.templates.updateReq)
	require.NotNil(t, f.templates.updateReq.Name)
	assert.Equal(t, "Renamed", *f.templates.updateReq.Name)
	assert.Nil(t, f.templates.updateReq.Content)
}

func TestUpdateTemplateXMLBody(t *testing.T) {
	f := newTestServer(t, newStubTenants())
	f.templates.template = &templates.Template{ID: 1}

	req := asUser(httptest.NewRequest(http.MethodPut, "/v1.0/m8flow/templates/1",
		strings.NewReader(testBPMN)), "jdoe")
	req.Header.Set("Content-Type", "application/xml")
	req.Header.Set("X-Template-Status", "published")
	rec := doRequest(f.server, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, f.templates.updateReq)
	require.NotNil(t, f.templates.updateReq.Status)
	assert.Equal(t, "published", *f.templates.updateReq.Status)
	assert.Equal(t, []byte(testBPMN), f.templates.updateReq.Content)
}

func TestDeleteTemplate(t *testing.T) {
	f := newTestServer(t, newStubTenants())

	req := asUser(httptest.NewRequest(http.MethodDelete, "/v1.0/m8flow/templates/42", nil), "jdoe")
	rec := doRequest(f.server, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(42), f.templates.deletedID)
	assert.Equal(t, true, decodeBody(t, rec)["deleted"])
}

func TestDownloadTemplateFiles(t *testing.T) {
	f := newTestServer(t, newStubTenants())

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	fw, err := zw.Create("order.bpmn")
	require.NoError(t, err)
	_, err = fw.Write([]byte(testBPMN))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	f.templates.template = &templates.Template{ID: 1, TemplateKey: "order-flow", Version: "V1"}
	f.templates.archive = buf.Bytes()

	rec := doRequest(f.server, httptest.NewRequest(http.MethodGet, "/v1.0/m8flow/templates/1/file", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/zip", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "order-flow_V1.zip")

	zr, err := zip.NewReader(bytes.NewReader(rec.Body.Bytes()), int64(rec.Body.Len()))
	require.NoError(t, err)
	require.Len(t, zr.File, 1)
	assert.Equal(t, "order.bpmn", zr.File[0].Name)
}

func TestTemplateServiceErrorMapsToEnvelope(t *testing.T) {
	f := newTestServer(t, newStubTenants())
	f.templates.err = tenancy.NewAPIError(tenancy.CodeImmutable, http.StatusBadRequest,
		"Published template versions cannot be deleted.")

	req := asUser(httptest.NewRequest(http.MethodDelete, "/v1.0/m8flow/templates/1", nil), "jdoe")
	rec := doRequest(f.server, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), tenancy.CodeImmutable)
}

func TestServerTracksInitSpecsPerInstance(t *testing.T) {
	boot.SetPhase(boot.AppCreated)

	first := newTestServer(t, newStubTenants()).server
	second := newTestServer(t, newStubTenants()).server
	reg := boot.NewRegistry(observability.NewLogger(observability.ParseLogLevel("error"), io.Discard))

	runs := 0
	spec := boot.InitSpec{
		Name:         "per-server-setup",
		MinimumPhase: boot.AppCreated,
		NeedsServer:  true,
		Apply: func(boot.Target) error {
			runs++
			return nil
		},
	}

	applied, err := reg.Apply(spec, first)
	require.NoError(t, err)
	assert.True(t, applied)
	assert.True(t, first.AppliedInitSpecs()["per-server-setup"])

	// Re-applying against the same instance is a no-op.
	applied, err = reg.Apply(spec, first)
	require.NoError(t, err)
	assert.False(t, applied)

	// A second server carries its own applied set.
	applied, err = reg.Apply(spec, second)
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, 2, runs)
}
