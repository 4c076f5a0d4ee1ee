package api

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/AOT-Technologies/m8flow/pkg/config"
	"github.com/AOT-Technologies/m8flow/pkg/keycloak"
	"github.com/AOT-Technologies/m8flow/pkg/observability"
	"github.com/AOT-Technologies/m8flow/pkg/templates"
	"github.com/AOT-Technologies/m8flow/pkg/tenants"
)

// TemplateService is the template operations the HTTP layer needs.
// Implemented by templates.Service.
type TemplateService interface {
	Create(ctx context.Context, username string, req templates.CreateTemplateRequest) (*templates.Template, error)
	List(ctx context.Context, username string, opts templates.ListOptions) ([]*templates.Template, error)
	GetByID(ctx context.Context, username string, id int64) (*templates.Template, error)
	GetByKey(ctx context.Context, username, templateKey, version string) (*templates.Template, error)
	Update(ctx context.Context, username string, id int64, req templates.UpdateTemplateRequest) (*templates.Template, error)
	Delete(ctx context.Context, username string, id int64) error
	Archive(ctx context.Context, username string, id int64) (*templates.Template, []byte, error)
}

// RealmService is the realm provisioning surface. Implemented by
// keycloak.Provisioner.
type RealmService interface {
	CreateRealm(ctx context.Context, tenantID, realmID, displayName string) (*keycloak.TenantRealm, error)
	DeleteRealm(ctx context.Context, tenantID, realmName string) error
	CreateUser(ctx context.Context, realm string, spec keycloak.UserSpec) (string, error)
	TenantLoginURL(ctx context.Context, realm string) (string, error)
}

// AdminTokenVerifier gates destructive realm operations on a Keycloak
// admin token. Implemented by keycloak.AdminClient.
type AdminTokenVerifier interface {
	VerifyAdminToken(ctx context.Context, token string) bool
}

// CacheInvalidator drops a tenant from the validation cache after
// writes. Implemented by tenants.ValidatingCache.
type CacheInvalidator interface {
	Invalidate(ctx context.Context, tenantID string)
}

// Dependencies wires the services the server routes to. Middleware is
// applied to the whole router in order.
type Dependencies struct {
	Config        *config.Config
	Logger        *observability.Logger
	Tenants       tenants.Service
	TenantCache   CacheInvalidator
	Templates     TemplateService
	Realms        RealmService
	AdminVerifier AdminTokenVerifier
	Health        *observability.HealthChecker
	Middleware    []mux.MiddlewareFunc
}

// Server is the HTTP API for tenant, realm, and template management.
type Server struct {
	cfg       *config.Config
	router    *mux.Router
	logger    *observability.Logger
	tenants   tenants.Service
	cache     CacheInvalidator
	templates TemplateService
	realms    RealmService
	admin     AdminTokenVerifier
	health    *observability.HealthChecker

	appliedInit map[string]bool
}

// NewServer creates the API server and configures its routes.
func NewServer(deps Dependencies) *Server {
	s := &Server{
		cfg:       deps.Config,
		router:    mux.NewRouter(),
		logger:    deps.Logger,
		tenants:   deps.Tenants,
		cache:     deps.TenantCache,
		templates: deps.Templates,
		realms:    deps.Realms,
		admin:     deps.AdminVerifier,
		health:    deps.Health,

		appliedInit: make(map[string]bool),
	}

	for _, mw := range deps.Middleware {
		s.router.Use(mw)
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures all the API routes
func (s *Server) setupRoutes() {
	// Service status and probes
	s.router.HandleFunc("/v1.0/status", s.handleStatus).Methods("GET")
	if s.health != nil {
		s.router.HandleFunc("/v1.0/healthz", s.health.Liveness).Methods("GET")
		s.router.HandleFunc("/v1.0/readyz", s.health.Readiness).Methods("GET")
	}

	// Pre-login tenant lookup (public)
	s.router.HandleFunc("/v1.0/tenants/check", s.checkTenant).Methods("GET")

	// Tenant administration
	s.router.HandleFunc("/v1.0/m8flow/tenants", s.createTenant).Methods("POST")
	s.router.HandleFunc("/v1.0/m8flow/tenants", s.listTenants).Methods("GET")
	s.router.HandleFunc("/v1.0/m8flow/tenants/slug/{slug}", s.getTenantBySlug).Methods("GET")
	s.router.HandleFunc("/v1.0/m8flow/tenants/{tenant_id}", s.getTenant).Methods("GET")
	s.router.HandleFunc("/v1.0/m8flow/tenants/{tenant_id}", s.updateTenant).Methods("PUT")
	s.router.HandleFunc("/v1.0/m8flow/tenants/{tenant_id}", s.deleteTenant).Methods("DELETE")

	// Realm provisioning
	s.router.HandleFunc("/v1.0/m8flow/tenant-realms", s.createRealm).Methods("POST")
	s.router.HandleFunc("/v1.0/m8flow/tenant-realms/{realm_id}", s.deleteRealm).Methods("DELETE")
	s.router.HandleFunc("/v1.0/m8flow/tenant-realms/{realm}/users", s.createRealmUser).Methods("POST")
	s.router.HandleFunc("/v1.0/m8flow/tenant-login-url", s.tenantLoginURL).Methods("GET")

	// Template catalog
	s.router.HandleFunc("/v1.0/m8flow/templates", s.createTemplate).Methods("POST")
	s.router.HandleFunc("/v1.0/m8flow/templates", s.listTemplates).Methods("GET")
	s.router.HandleFunc("/v1.0/m8flow/templates/key/{template_key}", s.getTemplateByKey).Methods("GET")
	s.router.HandleFunc("/v1.0/m8flow/templates/{id:[0-9]+}", s.getTemplate).Methods("GET")
	s.router.HandleFunc("/v1.0/m8flow/templates/{id:[0-9]+}", s.updateTemplate).Methods("PUT")
	s.router.HandleFunc("/v1.0/m8flow/templates/{id:[0-9]+}", s.deleteTemplate).Methods("DELETE")
	s.router.HandleFunc("/v1.0/m8flow/templates/{id:[0-9]+}/file", s.downloadTemplateFiles).Methods("GET")
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Router exposes the underlying router for additional registrations.
func (s *Server) Router() *mux.Router {
	return s.router
}

// AppliedInitSpecs exposes the set of startup init specs applied against
// this server instance, for specs tracked per instance rather than per
// process. Satisfies boot.Target.
func (s *Server) AppliedInitSpecs() map[string]bool {
	return s.appliedInit
}
