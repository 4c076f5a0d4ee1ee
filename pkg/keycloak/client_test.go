package keycloak

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AOT-Technologies/m8flow/pkg/config"
)

func testKeycloakConfig(url string) config.KeycloakConfig {
	return config.KeycloakConfig{
		Enabled:       true,
		URL:           url,
		AdminUsername: "admin",
		AdminPassword: "admin",
		AdminRealm:    "master",
		AdminClientID: "admin-cli",
		HTTPTimeout:   5 * time.Second,
	}
}

func tokenResponse(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"access_token": "test-token",
		"token_type":   "bearer",
		"expires_in":   300,
	})
}

func TestAdminTokenCached(t *testing.T) {
	var tokenCalls int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/realms/master/protocol/openid-connect/token":
			require.NoError(t, r.ParseForm())
			assert.Equal(t, "password", r.Form.Get("grant_type"))
			assert.Equal(t, "admin", r.Form.Get("username"))
			atomic.AddInt64(&tokenCalls, 1)
			tokenResponse(w)
		case "/admin/realms/acme":
			assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
			json.NewEncoder(w).Encode(map[string]any{"realm": "acme"})
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	client := NewAdminClient(testKeycloakConfig(server.URL), logrus.New())
	ctx := context.Background()

	_, err := client.GetRealm(ctx, "acme")
	require.NoError(t, err)
	_, err = client.GetRealm(ctx, "acme")
	require.NoError(t, err)

	assert.Equal(t, int64(1), atomic.LoadInt64(&tokenCalls), "token should be fetched once and cached")
}

func TestRealmExists(t *testing.T) {
	statuses := map[string]int{
		"existing":   http.StatusOK,
		"restricted": http.StatusForbidden,
		"missing":    http.StatusNotFound,
		"broken":     http.StatusInternalServerError,
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for realm, status := range statuses {
			if r.URL.Path == "/realms/"+realm+"/.well-known/openid-configuration" {
				w.WriteHeader(status)
				return
			}
		}
		http.NotFound(w, r)
	}))
	defer server.Close()

	client := NewAdminClient(testKeycloakConfig(server.URL), logrus.New())
	ctx := context.Background()

	exists, err := client.RealmExists(ctx, "existing")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = client.RealmExists(ctx, "restricted")
	require.NoError(t, err)
	assert.True(t, exists, "403 means the realm exists but discovery is restricted")

	exists, err = client.RealmExists(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, exists)

	_, err = client.RealmExists(ctx, "broken")
	assert.Error(t, err)

	exists, err = client.RealmExists(ctx, "")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestCreateRealmConflict(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/realms/master/protocol/openid-connect/token":
			tokenResponse(w)
		case "/admin/realms":
			w.WriteHeader(http.StatusConflict)
			json.NewEncoder(w).Encode(map[string]any{"errorMessage": "Conflict detected"})
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	client := NewAdminClient(testKeycloakConfig(server.URL), logrus.New())
	err := client.CreateRealm(context.Background(), map[string]any{"realm": "acme"})

	require.Error(t, err)
	assert.True(t, IsConflict(err))

	apiErr, ok := err.(*AdminAPIError)
	require.True(t, ok)
	assert.Equal(t, http.StatusConflict, apiErr.StatusCode)
	assert.Contains(t, apiErr.Body, "Conflict detected")
}

func TestPartialImportSendsPayload(t *testing.T) {
	var received map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/realms/master/protocol/openid-connect/token":
			tokenResponse(w)
		case "/admin/realms/acme/partialImport":
			assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
			require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
			w.WriteHeader(http.StatusOK)
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	client := NewAdminClient(testKeycloakConfig(server.URL), logrus.New())
	err := client.PartialImport(context.Background(), "acme", map[string]any{
		"ifResourceExists": "SKIP",
		"clients":          []any{map[string]any{"clientId": "m8flow-web"}},
	})

	require.NoError(t, err)
	assert.Equal(t, "SKIP", received["ifResourceExists"])
}

func TestVerifyAdminToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/admin/realms/master" {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("Authorization") != "Bearer good-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"realm": "master"})
	}))
	defer server.Close()

	client := NewAdminClient(testKeycloakConfig(server.URL), logrus.New())
	assert.True(t, client.VerifyAdminToken(context.Background(), "good-token"))
	assert.False(t, client.VerifyAdminToken(context.Background(), "bad-token"))
}

func TestCreateUserClearsRequiredActions(t *testing.T) {
	var updated map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/realms/master/protocol/openid-connect/token":
			tokenResponse(w)
		case r.URL.Path == "/admin/realms/acme/users" && r.Method == http.MethodPost:
			var payload map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
			assert.Equal(t, "jdoe", payload["username"])
			assert.Equal(t, true, payload["emailVerified"])
			w.Header().Set("Location", "http://keycloak.test/admin/realms/acme/users/user-uuid")
			w.WriteHeader(http.StatusCreated)
		case r.URL.Path == "/admin/realms/acme/users/user-uuid" && r.Method == http.MethodGet:
			json.NewEncoder(w).Encode(map[string]any{
				"id":              "user-uuid",
				"username":        "jdoe",
				"requiredActions": []any{"VERIFY_EMAIL", "UPDATE_PASSWORD"},
			})
		case r.URL.Path == "/admin/realms/acme/users/user-uuid" && r.Method == http.MethodPut:
			require.NoError(t, json.NewDecoder(r.Body).Decode(&updated))
			w.WriteHeader(http.StatusNoContent)
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	client := NewAdminClient(testKeycloakConfig(server.URL), logrus.New())
	userID, err := client.CreateUser(context.Background(), "acme", UserSpec{
		Username: "jdoe",
		Password: "secret",
		Email:    "jdoe@example.com",
		Enabled:  true,
	})

	require.NoError(t, err)
	assert.Equal(t, "user-uuid", userID)
	assert.Equal(t, []any{}, updated["requiredActions"])
	assert.Equal(t, true, updated["emailVerified"])
	assert.Equal(t, "jdoe", updated["firstName"])
	assert.Equal(t, "User", updated["lastName"])
}

func TestLoginURL(t *testing.T) {
	client := NewAdminClient(testKeycloakConfig("http://keycloak.test/"), logrus.New())
	assert.Equal(t, "http://keycloak.test/realms/acme/protocol/openid-connect/auth", client.LoginURL("acme"))
}

func TestDeleteRealm(t *testing.T) {
	var deleted bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/realms/master/protocol/openid-connect/token":
			tokenResponse(w)
		case r.URL.Path == "/admin/realms/acme" && r.Method == http.MethodDelete:
			deleted = true
			w.WriteHeader(http.StatusNoContent)
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	client := NewAdminClient(testKeycloakConfig(server.URL), logrus.New())
	require.NoError(t, client.DeleteRealm(context.Background(), "acme"))
	assert.True(t, deleted)
}
