package keycloak

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/AOT-Technologies/m8flow/pkg/observability"
	"github.com/AOT-Technologies/m8flow/pkg/tenancy"
)

// TenantRealm is a realm provisioned for a tenant.
type TenantRealm struct {
	ID              int64     `json:"id"`
	TenantID        string    `json:"tenant_id"`
	RealmName       string    `json:"realm_name"`
	KeycloakRealmID string    `json:"keycloak_realm_id"`
	DisplayName     string    `json:"display_name"`
	CreatedAt       time.Time `json:"created_at"`
}

// realmAdmin is the Keycloak surface the provisioner needs.
type realmAdmin interface {
	RealmExists(ctx context.Context, realm string) (bool, error)
	CreateRealm(ctx context.Context, representation map[string]any) error
	PartialImport(ctx context.Context, realm string, payload map[string]any) error
	GetRealm(ctx context.Context, realm string) (map[string]any, error)
	DeleteRealm(ctx context.Context, realm string) error
	CreateUser(ctx context.Context, realm string, spec UserSpec) (string, error)
	LoginURL(realm string) string
}

// Provisioner creates tenant realms from the realm template and records
// them in m8flow_tenant_realm.
type Provisioner struct {
	admin   realmAdmin
	store   *TemplateStore
	db      *sql.DB
	log     *logrus.Logger
	metrics *observability.Metrics
}

// NewProvisioner creates a realm provisioner.
func NewProvisioner(admin *AdminClient, store *TemplateStore, db *sql.DB, log *logrus.Logger, metrics *observability.Metrics) *Provisioner {
	if log == nil {
		log = logrus.New()
	}
	return &Provisioner{
		admin:   admin,
		store:   store,
		db:      db,
		log:     log,
		metrics: metrics,
	}
}

func (p *Provisioner) countOp(op string, err error) {
	if p.metrics == nil {
		return
	}
	p.metrics.RealmOperationsTotal.WithLabelValues(op).Inc()
	if err != nil {
		p.metrics.RealmOperationErrors.WithLabelValues(op).Inc()
	}
}

// CreateRealm provisions a realm named realmID for tenantID from the
// loaded template. The realm is created in three steps: a minimal create
// with just the realm shell, a partial import carrying the sanitized
// clients, roles, groups, and users, and a final read to capture the
// Keycloak-internal realm id.
func (p *Provisioner) CreateRealm(ctx context.Context, tenantID, realmID, displayName string) (realm *TenantRealm, err error) {
	defer func() { p.countOp("create", err) }()

	if realmID == "" {
		return nil, tenancy.NewAPIError(tenancy.CodeMissingFields, http.StatusBadRequest,
			"Realm id is required.")
	}
	if displayName == "" {
		displayName = realmID
	}

	exists, err := p.admin.RealmExists(ctx, realmID)
	if err != nil {
		return nil, fmt.Errorf("failed to check realm existence: %w", err)
	}
	if exists {
		return nil, tenancy.NewAPIError("realm_exists", http.StatusConflict,
			"Realm %q already exists.", realmID)
	}

	template := p.store.Template()
	if template == nil {
		return nil, fmt.Errorf("realm template is not loaded")
	}
	templateName := p.store.TemplateRealmName()

	filled := FillTemplate(template, realmID, displayName, templateName)
	RegenerateIDs(filled, nil)

	minimal := map[string]any{
		"realm":       realmID,
		"displayName": displayName,
		"enabled":     true,
		"sslRequired": "external",
	}
	if v, ok := filled["sslRequired"]; ok {
		minimal["sslRequired"] = v
	}
	if err := p.admin.CreateRealm(ctx, minimal); err != nil {
		if IsConflict(err) {
			return nil, tenancy.NewAPIError("realm_exists", http.StatusConflict,
				"Realm %q already exists.", realmID)
		}
		return nil, fmt.Errorf("failed to create realm shell: %w", err)
	}

	// From here on a failure leaves an incomplete realm behind, so tear
	// it down before returning.
	importPayload := p.partialImportPayload(filled)
	if err := p.admin.PartialImport(ctx, realmID, importPayload); err != nil {
		p.rollbackRealm(ctx, realmID)
		return nil, fmt.Errorf("failed to import realm template content: %w", err)
	}

	created, err := p.admin.GetRealm(ctx, realmID)
	if err != nil {
		p.rollbackRealm(ctx, realmID)
		return nil, fmt.Errorf("failed to read created realm: %w", err)
	}
	keycloakID, _ := created["id"].(string)

	row := p.db.QueryRowContext(ctx, `
		INSERT INTO m8flow_tenant_realm (tenant_id, realm_name, keycloak_realm_id, display_name)
		VALUES ($1, $2, $3, $4)
		RETURNING id, tenant_id, realm_name, keycloak_realm_id, display_name, created_at`,
		tenantID, realmID, keycloakID, displayName)

	realm = &TenantRealm{}
	if err := row.Scan(&realm.ID, &realm.TenantID, &realm.RealmName, &realm.KeycloakRealmID, &realm.DisplayName, &realm.CreatedAt); err != nil {
		p.rollbackRealm(ctx, realmID)
		return nil, fmt.Errorf("failed to record tenant realm: %w", err)
	}

	p.log.WithFields(logrus.Fields{
		"tenant_id":  tenantID,
		"realm":      realmID,
		"realm_uuid": keycloakID,
	}).Info("provisioned tenant realm")
	return realm, nil
}

func (p *Provisioner) rollbackRealm(ctx context.Context, realmID string) {
	if err := p.admin.DeleteRealm(ctx, realmID); err != nil {
		p.log.WithError(err).WithField("realm", realmID).
			Warn("failed to clean up partially created realm")
	}
}

// partialImportPayload assembles the sanitized sections of the template
// for the partialImport endpoint. Existing resources are skipped rather
// than overwritten.
func (p *Provisioner) partialImportPayload(template map[string]any) map[string]any {
	payload := map[string]any{
		"ifResourceExists": "SKIP",
	}

	if clients, ok := template["clients"].([]any); ok {
		payload["clients"] = sanitizeClients(clients)
	}
	if roles, ok := template["roles"].(map[string]any); ok {
		payload["roles"] = sanitizeRoles(roles)
	}
	if groups, ok := template["groups"].([]any); ok {
		payload["groups"] = sanitizeGroups(groups)
	}
	if users, ok := template["users"].([]any); ok {
		payload["users"] = sanitizeUsers(users)
	}
	if scopes, ok := template["clientScopes"].([]any); ok {
		payload["clientScopes"] = sanitizeClientScopes(scopes)
	}
	if idps, ok := template["identityProviders"].([]any); ok {
		payload["identityProviders"] = sanitizeIdentityProviders(idps)
	}
	if v, ok := template["defaultDefaultClientScopes"]; ok {
		payload["defaultDefaultClientScopes"] = v
	}
	if v, ok := template["defaultOptionalClientScopes"]; ok {
		payload["defaultOptionalClientScopes"] = v
	}
	return payload
}

// DeleteRealm removes a provisioned realm from Keycloak and the registry.
func (p *Provisioner) DeleteRealm(ctx context.Context, tenantID, realmName string) (err error) {
	defer func() { p.countOp("delete", err) }()

	var id int64
	err = p.db.QueryRowContext(ctx,
		`SELECT id FROM m8flow_tenant_realm WHERE tenant_id = $1 AND realm_name = $2`,
		tenantID, realmName).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return tenancy.NewAPIError(tenancy.CodeNotFound, http.StatusNotFound,
			"Realm %q not found for tenant %q.", realmName, tenantID)
	}
	if err != nil {
		return fmt.Errorf("failed to look up tenant realm: %w", err)
	}

	if err := p.admin.DeleteRealm(ctx, realmName); err != nil {
		var apiErr *AdminAPIError
		if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusNotFound {
			return fmt.Errorf("failed to delete keycloak realm: %w", err)
		}
		// Already gone in Keycloak: still remove the registry row.
	}

	if _, err := p.db.ExecContext(ctx, `DELETE FROM m8flow_tenant_realm WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete tenant realm record: %w", err)
	}

	p.log.WithFields(logrus.Fields{"tenant_id": tenantID, "realm": realmName}).
		Info("deleted tenant realm")
	return nil
}

// CreateUser creates a user inside a provisioned realm.
func (p *Provisioner) CreateUser(ctx context.Context, realm string, spec UserSpec) (userID string, err error) {
	defer func() { p.countOp("create_user", err) }()

	if realm == "" || spec.Username == "" {
		return "", tenancy.NewAPIError(tenancy.CodeMissingFields, http.StatusBadRequest,
			"Realm and username are required.")
	}
	userID, err = p.admin.CreateUser(ctx, realm, spec)
	if err != nil {
		if IsConflict(err) {
			return "", tenancy.NewAPIError("user_exists", http.StatusConflict,
				"User %q already exists in realm %q.", spec.Username, realm)
		}
		return "", fmt.Errorf("failed to create user in realm %s: %w", realm, err)
	}
	p.log.WithFields(logrus.Fields{"realm": realm, "username": spec.Username}).
		Info("created realm user")
	return userID, nil
}

// TenantLoginURL returns the login endpoint for a tenant's realm, or a
// not-found error when no such realm exists in Keycloak.
func (p *Provisioner) TenantLoginURL(ctx context.Context, realm string) (string, error) {
	if realm == "" {
		return "", tenancy.NewAPIError(tenancy.CodeMissingFields, http.StatusBadRequest,
			"Tenant is required.")
	}
	exists, err := p.admin.RealmExists(ctx, realm)
	if err != nil {
		return "", fmt.Errorf("failed to check realm existence: %w", err)
	}
	if !exists {
		return "", tenancy.NewAPIError(tenancy.CodeNotFound, http.StatusNotFound,
			"Tenant realm not found.")
	}
	return p.admin.LoginURL(realm), nil
}

// GetRealm returns a provisioned realm record.
func (p *Provisioner) GetRealm(ctx context.Context, tenantID, realmName string) (*TenantRealm, error) {
	realm := &TenantRealm{}
	err := p.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, realm_name, keycloak_realm_id, display_name, created_at
		FROM m8flow_tenant_realm WHERE tenant_id = $1 AND realm_name = $2`,
		tenantID, realmName).
		Scan(&realm.ID, &realm.TenantID, &realm.RealmName, &realm.KeycloakRealmID, &realm.DisplayName, &realm.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, tenancy.NewAPIError(tenancy.CodeNotFound, http.StatusNotFound,
			"Realm %q not found for tenant %q.", realmName, tenantID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up tenant realm: %w", err)
	}
	return realm, nil
}

// ListRealms returns all provisioned realms for a tenant.
func (p *Provisioner) ListRealms(ctx context.Context, tenantID string) ([]*TenantRealm, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, tenant_id, realm_name, keycloak_realm_id, display_name, created_at
		FROM m8flow_tenant_realm WHERE tenant_id = $1 ORDER BY created_at`,
		tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tenant realms: %w", err)
	}
	defer rows.Close()

	realms := []*TenantRealm{}
	for rows.Next() {
		realm := &TenantRealm{}
		if err := rows.Scan(&realm.ID, &realm.TenantID, &realm.RealmName, &realm.KeycloakRealmID, &realm.DisplayName, &realm.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan tenant realm: %w", err)
		}
		realms = append(realms, realm)
	}
	return realms, rows.Err()
}
