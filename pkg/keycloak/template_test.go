package keycloak

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubstituteSpokeClientID(t *testing.T) {
	obj := map[string]any{
		"clientId": "__M8FLOW_SPOKE_CLIENT_ID__",
		"clientScopeMappings": map[string]any{
			"__M8FLOW_SPOKE_CLIENT_ID__": []any{"some-scope"},
		},
		"description": "mapper for __M8FLOW_SPOKE_CLIENT_ID__ audience",
		"enabled":     true,
		"count":       float64(3),
	}

	out, ok := SubstituteSpokeClientID(obj, "m8flow-backend").(map[string]any)
	require.True(t, ok)

	assert.Equal(t, "m8flow-backend", out["clientId"])
	assert.Equal(t, "mapper for m8flow-backend audience", out["description"])
	assert.Equal(t, true, out["enabled"])
	assert.Equal(t, float64(3), out["count"])

	mappings := out["clientScopeMappings"].(map[string]any)
	_, hasPlaceholder := mappings["__M8FLOW_SPOKE_CLIENT_ID__"]
	assert.False(t, hasPlaceholder)
	assert.Equal(t, []any{"some-scope"}, mappings["m8flow-backend"])
}

func TestRegenerateIDsConsistent(t *testing.T) {
	obj := map[string]any{
		"id": "old-realm-id",
		"clients": []any{
			map[string]any{"id": "client-a"},
			map[string]any{"id": "client-a"},
			map[string]any{"id": "client-b"},
		},
	}

	idMap := RegenerateIDs(obj, nil)

	require.Len(t, idMap, 3)
	for old, fresh := range idMap {
		assert.NotEqual(t, old, fresh)
		_, err := uuid.Parse(fresh)
		assert.NoError(t, err)
	}

	clients := obj["clients"].([]any)
	first := clients[0].(map[string]any)["id"]
	second := clients[1].(map[string]any)["id"]
	third := clients[2].(map[string]any)["id"]
	assert.Equal(t, first, second, "repeated old id should map to the same new id")
	assert.NotEqual(t, first, third)
	assert.Equal(t, idMap["old-realm-id"], obj["id"])
}

func realmTemplateFixture() map[string]any {
	return map[string]any{
		"id":          "template-internal-id",
		"realm":       "m8flow-template",
		"displayName": "M8Flow Template",
		"roles": map[string]any{
			"realm": []any{
				map[string]any{"name": "default-roles-m8flow-template", "containerId": "m8flow-template"},
				map[string]any{"name": "m8flow-admin", "containerId": "m8flow-template"},
			},
		},
		"defaultRole": map[string]any{
			"name":        "default-roles-m8flow-template",
			"containerId": "m8flow-template",
		},
		"users": []any{
			map[string]any{
				"username":   "service-user",
				"realmRoles": []any{"default-roles-m8flow-template", "m8flow-admin"},
			},
		},
		"clients": []any{
			map[string]any{
				"clientId":     "account-console",
				"baseUrl":      "/realms/m8flow-template/account/",
				"rootUrl":      "${authBaseUrl}",
				"redirectUris": []any{"/realms/m8flow-template/account/*"},
				"webOrigins":   []any{"+"},
				"attributes": map[string]any{
					"post.logout.redirect.uris": "/realms/m8flow-template/account/*",
				},
			},
			map[string]any{
				"clientId": "security-admin-console",
				"baseUrl":  "/admin/m8flow-template/console/",
			},
		},
	}
}

func TestFillTemplate(t *testing.T) {
	template := realmTemplateFixture()

	filled := FillTemplate(template, "acme", "Acme Corp", "m8flow-template")

	assert.Equal(t, "acme", filled["realm"])
	assert.Equal(t, "Acme Corp", filled["displayName"])
	_, hasID := filled["id"]
	assert.False(t, hasID, "template internal id must be dropped")

	roles := filled["roles"].(map[string]any)["realm"].([]any)
	defaultRole := roles[0].(map[string]any)
	assert.Equal(t, "default-roles-acme", defaultRole["name"])
	assert.Equal(t, "acme", defaultRole["containerId"])
	adminRole := roles[1].(map[string]any)
	assert.Equal(t, "m8flow-admin", adminRole["name"])
	assert.Equal(t, "acme", adminRole["containerId"])

	topDefault := filled["defaultRole"].(map[string]any)
	assert.Equal(t, "default-roles-acme", topDefault["name"])

	user := filled["users"].([]any)[0].(map[string]any)
	assert.Equal(t, []any{"default-roles-acme", "m8flow-admin"}, user["realmRoles"])

	account := filled["clients"].([]any)[0].(map[string]any)
	assert.Equal(t, "/realms/acme/account/", account["baseUrl"])
	assert.Equal(t, []any{"/realms/acme/account/*"}, account["redirectUris"])
	attrs := account["attributes"].(map[string]any)
	assert.Equal(t, "/realms/acme/account/*", attrs["post.logout.redirect.uris"])

	adminConsole := filled["clients"].([]any)[1].(map[string]any)
	assert.Equal(t, "/admin/acme/console/", adminConsole["baseUrl"])

	// Input template is untouched.
	assert.Equal(t, "m8flow-template", template["realm"])
	assert.Equal(t, "template-internal-id", template["id"])
}

func TestFillTemplateDefaultsDisplayName(t *testing.T) {
	filled := FillTemplate(realmTemplateFixture(), "acme", "", "m8flow-template")
	assert.Equal(t, "acme", filled["displayName"])
}

func writeTemplateFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "realm-template.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestTemplateStoreLoad(t *testing.T) {
	path := writeTemplateFile(t, `{
		"realm": "m8flow-template",
		"clients": [{"clientId": "__M8FLOW_SPOKE_CLIENT_ID__"}]
	}`)

	store, err := NewTemplateStore(path, "m8flow-backend", logrus.New())
	require.NoError(t, err)
	defer store.Close()

	assert.Equal(t, "m8flow-template", store.TemplateRealmName())

	template := store.Template()
	client := template["clients"].([]any)[0].(map[string]any)
	assert.Equal(t, "m8flow-backend", client["clientId"])

	// Template() hands out copies, mutations do not leak back.
	template["realm"] = "mutated"
	assert.Equal(t, "m8flow-template", store.TemplateRealmName())
}

func TestTemplateStoreLoadErrors(t *testing.T) {
	_, err := NewTemplateStore(filepath.Join(t.TempDir(), "missing.json"), "x", logrus.New())
	assert.Error(t, err)

	path := writeTemplateFile(t, `not json`)
	_, err = NewTemplateStore(path, "x", logrus.New())
	assert.Error(t, err)
}

func TestTemplateStoreReloadKeepsLastGood(t *testing.T) {
	path := writeTemplateFile(t, `{"realm": "m8flow-template"}`)
	store, err := NewTemplateStore(path, "x", logrus.New())
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, os.WriteFile(path, []byte(`{broken`), 0o600))
	assert.Error(t, store.reload())
	assert.Equal(t, "m8flow-template", store.TemplateRealmName())

	require.NoError(t, os.WriteFile(path, []byte(`{"realm": "updated"}`), 0o600))
	require.NoError(t, store.reload())
	assert.Equal(t, "updated", store.TemplateRealmName())
}
