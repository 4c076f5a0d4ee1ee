package keycloak

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeClients(t *testing.T) {
	clients := []any{
		map[string]any{
			"id":       "client-uuid",
			"clientId": "m8flow-web",
			"protocolMappers": []any{
				map[string]any{"id": "mapper-uuid", "name": "tenant-claim"},
			},
			"authorizationServicesEnabled": true,
			"authorizationSettings":        map[string]any{"policies": []any{}},
		},
	}

	sanitizeClients(clients)

	client := clients[0].(map[string]any)
	assert.NotContains(t, client, "id")
	assert.NotContains(t, client, "authorizationSettings")
	assert.Equal(t, false, client["authorizationServicesEnabled"])

	mapper := client["protocolMappers"].([]any)[0].(map[string]any)
	assert.NotContains(t, mapper, "id")
	assert.Equal(t, "tenant-claim", mapper["name"])
}

func TestSanitizeRoles(t *testing.T) {
	roles := map[string]any{
		"realm": []any{
			map[string]any{"id": "r1", "containerId": "realm", "name": "admin"},
		},
		"client": map[string]any{
			"m8flow-web": []any{
				map[string]any{"id": "r2", "containerId": "c1", "name": "viewer"},
			},
		},
	}

	sanitizeRoles(roles)

	realmRole := roles["realm"].([]any)[0].(map[string]any)
	assert.NotContains(t, realmRole, "id")
	assert.NotContains(t, realmRole, "containerId")
	assert.Equal(t, "admin", realmRole["name"])

	clientRole := roles["client"].(map[string]any)["m8flow-web"].([]any)[0].(map[string]any)
	assert.NotContains(t, clientRole, "id")
	assert.NotContains(t, clientRole, "containerId")
}

func TestSanitizeGroupsRecursesSubGroups(t *testing.T) {
	groups := []any{
		map[string]any{
			"id":   "g1",
			"name": "parent",
			"subGroups": []any{
				map[string]any{"id": "g2", "name": "child", "subGroups": []any{
					map[string]any{"id": "g3", "name": "grandchild"},
				}},
			},
		},
	}

	sanitizeGroups(groups)

	parent := groups[0].(map[string]any)
	assert.NotContains(t, parent, "id")
	child := parent["subGroups"].([]any)[0].(map[string]any)
	assert.NotContains(t, child, "id")
	grandchild := child["subGroups"].([]any)[0].(map[string]any)
	assert.NotContains(t, grandchild, "id")
}

func TestSanitizeUsers(t *testing.T) {
	users := []any{
		map[string]any{
			"id":       "u1",
			"username": "svc",
			"credentials": []any{
				map[string]any{"id": "cred1", "type": "password"},
			},
		},
	}

	sanitizeUsers(users)

	user := users[0].(map[string]any)
	assert.NotContains(t, user, "id")
	cred := user["credentials"].([]any)[0].(map[string]any)
	assert.NotContains(t, cred, "id")
	assert.Equal(t, "password", cred["type"])
}

func TestSanitizeClientScopes(t *testing.T) {
	scopes := []any{
		map[string]any{
			"id":   "s1",
			"name": "profile",
			"protocolMappers": []any{
				map[string]any{"id": "m1", "name": "username"},
			},
		},
	}

	sanitizeClientScopes(scopes)

	scope := scopes[0].(map[string]any)
	assert.NotContains(t, scope, "id")
	mapper := scope["protocolMappers"].([]any)[0].(map[string]any)
	assert.NotContains(t, mapper, "id")
}

func TestSanitizeIdentityProviders(t *testing.T) {
	idps := []any{
		map[string]any{"internalId": "i1", "alias": "corporate-saml"},
	}

	sanitizeIdentityProviders(idps)

	idp := idps[0].(map[string]any)
	assert.NotContains(t, idp, "internalId")
	assert.Equal(t, "corporate-saml", idp["alias"])
}
