package tenants

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AOT-Technologies/m8flow/pkg/tenancy"
)

var tenantCols = []string{
	"tenant_id", "name", "slug", "status", "details", "created_by", "modified_by",
	"created_at", "updated_at", "deleted_at",
}

func tenantRows(tenantID, name, slug string, status Status) *sqlmock.Rows {
	return sqlmock.NewRows(tenantCols).
		AddRow(tenantID, name, slug, status, []byte(`{}`), "tester", "tester", time.Now(), time.Now(), nil)
}

func deletedTenantRows(tenantID, name, slug string) *sqlmock.Rows {
	return sqlmock.NewRows(tenantCols).
		AddRow(tenantID, name, slug, StatusDeleted, []byte(`{}`), "tester", "tester", time.Now(), time.Now(), time.Now())
}

func requireAPIError(t *testing.T, err error, code string, status int) *tenancy.APIError {
	t.Helper()
	require.Error(t, err)
	apiErr, ok := err.(*tenancy.APIError)
	require.True(t, ok, "expected *tenancy.APIError, got %T: %v", err, err)
	assert.Equal(t, code, apiErr.ErrorCode)
	assert.Equal(t, status, apiErr.StatusCode)
	return apiErr
}

func TestCreateTenant_Success(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	service := NewPostgresService(db, "default")

	mock.ExpectQuery("INSERT INTO m8flow_tenant").
		WithArgs("acme", "Acme Inc", "acme-inc", StatusActive, sqlmock.AnyArg(), "alice").
		WillReturnRows(tenantRows("acme", "Acme Inc", "acme-inc", StatusActive))

	tenant, err := service.CreateTenant(context.Background(), &CreateTenantRequest{
		TenantID:  "acme",
		Name:      "Acme Inc",
		CreatedBy: "alice",
	})
	require.NoError(t, err)
	assert.Equal(t, "acme", tenant.TenantID)
	assert.Equal(t, "acme-inc", tenant.Slug)
	assert.Equal(t, StatusActive, tenant.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateTenant_MissingFields(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	service := NewPostgresService(db, "default")

	_, err = service.CreateTenant(context.Background(), &CreateTenantRequest{Name: "No ID"})
	requireAPIError(t, err, tenancy.CodeMissingFields, 400)

	_, err = service.CreateTenant(context.Background(), &CreateTenantRequest{TenantID: "x"})
	requireAPIError(t, err, tenancy.CodeMissingFields, 400)
}

func TestCreateTenant_DuplicateID(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	service := NewPostgresService(db, "default")

	mock.ExpectQuery("INSERT INTO m8flow_tenant").
		WillReturnError(&pq.Error{Code: "23505", Constraint: "m8flow_tenant_pkey"})

	_, err = service.CreateTenant(context.Background(), &CreateTenantRequest{
		TenantID: "acme",
		Name:     "Acme Inc",
	})
	requireAPIError(t, err, tenancy.CodeTenantIDExists, 409)
}

func TestCreateTenant_DuplicateSlug(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	service := NewPostgresService(db, "default")

	mock.ExpectQuery("INSERT INTO m8flow_tenant").
		WillReturnError(&pq.Error{Code: "23505", Constraint: "m8flow_tenant_slug_key"})

	_, err = service.CreateTenant(context.Background(), &CreateTenantRequest{
		TenantID: "acme2",
		Name:     "Acme Inc",
	})
	requireAPIError(t, err, tenancy.CodeTenantSlugExists, 409)
}

func TestGetTenant_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	service := NewPostgresService(db, "default")

	mock.ExpectQuery("SELECT (.+) FROM m8flow_tenant WHERE tenant_id").
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows(tenantCols))

	_, err = service.GetTenant(context.Background(), "ghost")
	requireAPIError(t, err, tenancy.CodeTenantNotFound, 404)
}

func TestGetTenant_DefaultTenantProtected(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	service := NewPostgresService(db, "default")

	_, err = service.GetTenant(context.Background(), "default")
	requireAPIError(t, err, tenancy.CodeForbiddenTenant, 403)
}

func TestGetTenantBySlug_DefaultTenantProtected(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	service := NewPostgresService(db, "default")

	_, err = service.GetTenantBySlug(context.Background(), "default")
	requireAPIError(t, err, tenancy.CodeForbiddenTenant, 403)
}

func TestListTenants_ExcludesDeletedByDefault(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	service := NewPostgresService(db, "default")

	mock.ExpectQuery("SELECT (.+) FROM m8flow_tenant WHERE tenant_id !=").
		WithArgs("default", StatusDeleted).
		WillReturnRows(tenantRows("acme", "Acme Inc", "acme", StatusActive))

	tenants, err := service.ListTenants(context.Background(), ListOptions{})
	require.NoError(t, err)
	require.Len(t, tenants, 1)
	assert.Equal(t, "acme", tenants[0].TenantID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListTenants_ExcludesDefaultTenant(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	service := NewPostgresService(db, "default")

	// The protected tenant is filtered in the WHERE clause by both id and
	// slug, so it never reaches the caller even with IncludeDeleted.
	mock.ExpectQuery(`SELECT (.+) FROM m8flow_tenant WHERE tenant_id != \$1 AND slug != \$1`).
		WithArgs("default").
		WillReturnRows(tenantRows("acme", "Acme Inc", "acme", StatusActive))

	tenants, err := service.ListTenants(context.Background(), ListOptions{IncludeDeleted: true})
	require.NoError(t, err)
	require.Len(t, tenants, 1)
	assert.Equal(t, "acme", tenants[0].TenantID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateTenant_DefaultTenantProtected(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	service := NewPostgresService(db, "default")

	name := "New Name"
	_, err = service.UpdateTenant(context.Background(), "default", &UpdateTenantRequest{Name: &name})
	requireAPIError(t, err, tenancy.CodeForbiddenTenant, 403)
}

func TestUpdateTenant_DeletedTenantRejected(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	service := NewPostgresService(db, "default")

	mock.ExpectQuery("SELECT (.+) FROM m8flow_tenant WHERE tenant_id").
		WithArgs("acme").
		WillReturnRows(deletedTenantRows("acme", "Acme Inc", "acme"))

	name := "New Name"
	_, err = service.UpdateTenant(context.Background(), "acme", &UpdateTenantRequest{Name: &name})
	requireAPIError(t, err, tenancy.CodeTenantDeleted, 400)
}

func TestUpdateTenant_InvalidStatus(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	service := NewPostgresService(db, "default")

	mock.ExpectQuery("SELECT (.+) FROM m8flow_tenant WHERE tenant_id").
		WithArgs("acme").
		WillReturnRows(tenantRows("acme", "Acme Inc", "acme", StatusActive))

	bogus := Status("suspended-forever")
	_, err = service.UpdateTenant(context.Background(), "acme", &UpdateTenantRequest{Status: &bogus})
	requireAPIError(t, err, tenancy.CodeInvalidStatus, 400)
}

func TestUpdateTenant_InactiveStatusAccepted(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	service := NewPostgresService(db, "default")

	mock.ExpectQuery("SELECT (.+) FROM m8flow_tenant WHERE tenant_id").
		WithArgs("acme").
		WillReturnRows(tenantRows("acme", "Acme Inc", "acme", StatusActive))

	mock.ExpectQuery("UPDATE m8flow_tenant SET (.+) RETURNING").
		WithArgs(StatusInactive, "acme").
		WillReturnRows(tenantRows("acme", "Acme Inc", "acme", StatusInactive))

	inactive := StatusInactive
	tenant, err := service.UpdateTenant(context.Background(), "acme", &UpdateTenantRequest{Status: &inactive})
	require.NoError(t, err)
	assert.Equal(t, StatusInactive, tenant.Status)
	assert.False(t, tenant.Active())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateTenant_StampsModifiedBy(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	service := NewPostgresService(db, "default")

	mock.ExpectQuery("SELECT (.+) FROM m8flow_tenant WHERE tenant_id").
		WithArgs("acme").
		WillReturnRows(tenantRows("acme", "Acme Inc", "acme", StatusActive))

	mock.ExpectQuery("UPDATE m8flow_tenant SET (.+) modified_by (.+) RETURNING").
		WithArgs("bob", "Renamed", "acme").
		WillReturnRows(tenantRows("acme", "Renamed", "acme", StatusActive))

	name := "Renamed"
	_, err = service.UpdateTenant(context.Background(), "acme", &UpdateTenantRequest{
		Name:       &name,
		ModifiedBy: "bob",
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateTenant_Reactivate(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	service := NewPostgresService(db, "default")

	mock.ExpectQuery("SELECT (.+) FROM m8flow_tenant WHERE tenant_id").
		WithArgs("acme").
		WillReturnRows(deletedTenantRows("acme", "Acme Inc", "acme"))

	mock.ExpectQuery("UPDATE m8flow_tenant SET (.+) RETURNING").
		WithArgs(StatusActive, "acme").
		WillReturnRows(tenantRows("acme", "Acme Inc", "acme", StatusActive))

	active := StatusActive
	tenant, err := service.UpdateTenant(context.Background(), "acme", &UpdateTenantRequest{Status: &active})
	require.NoError(t, err)
	assert.Equal(t, StatusActive, tenant.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteTenant_Success(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	service := NewPostgresService(db, "default")

	mock.ExpectQuery("SELECT (.+) FROM m8flow_tenant WHERE tenant_id").
		WithArgs("acme").
		WillReturnRows(tenantRows("acme", "Acme Inc", "acme", StatusActive))

	mock.ExpectQuery("UPDATE m8flow_tenant").
		WithArgs(StatusDeleted, "acme").
		WillReturnRows(deletedTenantRows("acme", "Acme Inc", "acme"))

	tenant, err := service.DeleteTenant(context.Background(), "acme")
	require.NoError(t, err)
	assert.Equal(t, StatusDeleted, tenant.Status)
	assert.NotNil(t, tenant.DeletedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteTenant_AlreadyDeleted(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	service := NewPostgresService(db, "default")

	mock.ExpectQuery("SELECT (.+) FROM m8flow_tenant WHERE tenant_id").
		WithArgs("acme").
		WillReturnRows(deletedTenantRows("acme", "Acme Inc", "acme"))

	_, err = service.DeleteTenant(context.Background(), "acme")
	requireAPIError(t, err, tenancy.CodeTenantAlreadyDeleted, 400)
}

func TestDeleteTenant_DefaultTenantProtected(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	service := NewPostgresService(db, "default")

	_, err = service.DeleteTenant(context.Background(), "default")
	requireAPIError(t, err, tenancy.CodeForbiddenTenant, 403)
}

func TestTenantExists(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	service := NewPostgresService(db, "default")

	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("acme", StatusActive).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	exists, err := service.TenantExists(context.Background(), "acme")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestValidStatus(t *testing.T) {
	assert.True(t, ValidStatus(StatusActive))
	assert.True(t, ValidStatus(StatusInactive))
	assert.True(t, ValidStatus(StatusDeleted))
	assert.False(t, ValidStatus(Status("suspended")))
}

func TestGenerateSlug(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"Acme Inc", "acme-inc"},
		{"  Spaced  Out  ", "spaced--out"},
		{"UPPER", "upper"},
		{"weird!@#chars", "weirdchars"},
		{"-leading-trailing-", "leading-trailing"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, GenerateSlug(tt.name), "input %q", tt.name)
	}
}
