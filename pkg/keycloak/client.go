package keycloak

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"

	"github.com/AOT-Technologies/m8flow/pkg/config"
)

// AdminClient talks to the Keycloak Admin REST API with a master realm
// admin token obtained via the OAuth2 password grant.
type AdminClient struct {
	cfg  config.KeycloakConfig
	http *http.Client
	log  *logrus.Logger

	mu    sync.Mutex
	token *oauth2.Token
}

// NewAdminClient creates a Keycloak admin client.
func NewAdminClient(cfg config.KeycloakConfig, log *logrus.Logger) *AdminClient {
	if log == nil {
		log = logrus.New()
	}
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &AdminClient{
		cfg:  cfg,
		http: &http.Client{Timeout: timeout},
		log:  log,
	}
}

func (c *AdminClient) baseURL() string {
	return strings.TrimRight(c.cfg.URL, "/")
}

// adminToken returns a valid master admin token, refreshing via the
// password grant when the cached one expires.
func (c *AdminClient) adminToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token.Valid() {
		return c.token.AccessToken, nil
	}

	oc := &oauth2.Config{
		ClientID: c.cfg.AdminClientID,
		Endpoint: oauth2.Endpoint{
			TokenURL: fmt.Sprintf("%s/realms/%s/protocol/openid-connect/token", c.baseURL(), c.cfg.AdminRealm),
		},
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.http)
	token, err := oc.PasswordCredentialsToken(ctx, c.cfg.AdminUsername, c.cfg.AdminPassword)
	if err != nil {
		return "", fmt.Errorf("failed to obtain keycloak admin token: %w", err)
	}
	c.token = token
	return token.AccessToken, nil
}

// doAdmin performs an authenticated admin API request and returns the
// response body for 2xx statuses.
func (c *AdminClient) doAdmin(ctx context.Context, method, path string, payload any) ([]byte, error) {
	token, err := c.adminToken(ctx)
	if err != nil {
		return nil, err
	}

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL()+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("keycloak request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read keycloak response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &AdminAPIError{
			Method:     method,
			Path:       path,
			StatusCode: resp.StatusCode,
			Body:       string(respBody),
		}
	}
	return respBody, nil
}

// AdminAPIError is a non-2xx response from the Keycloak admin API.
type AdminAPIError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *AdminAPIError) Error() string {
	return fmt.Sprintf("keycloak %s %s returned %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

// IsConflict reports whether err is a 409 from the admin API.
func IsConflict(err error) bool {
	apiErr, ok := err.(*AdminAPIError)
	return ok && apiErr.StatusCode == http.StatusConflict
}

// RealmExists checks realm existence through the public OpenID discovery
// endpoint, so no admin credentials are needed. 403 counts as existing:
// some deployments restrict discovery while the realm still works.
func (c *AdminClient) RealmExists(ctx context.Context, realm string) (bool, error) {
	realm = strings.TrimSpace(realm)
	if realm == "" {
		return false, nil
	}

	url := fmt.Sprintf("%s/realms/%s/.well-known/openid-configuration", c.baseURL(), realm)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return false, fmt.Errorf("keycloak discovery request failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusForbidden:
		return true, nil
	case resp.StatusCode == http.StatusNotFound:
		return false, nil
	default:
		return false, fmt.Errorf("unexpected status %d checking realm %q", resp.StatusCode, realm)
	}
}

// CreateRealm creates a realm from a realm representation.
func (c *AdminClient) CreateRealm(ctx context.Context, representation map[string]any) error {
	_, err := c.doAdmin(ctx, http.MethodPost, "/admin/realms", representation)
	return err
}

// PartialImport imports clients, roles, groups, and users into a realm.
func (c *AdminClient) PartialImport(ctx context.Context, realm string, payload map[string]any) error {
	_, err := c.doAdmin(ctx, http.MethodPost, fmt.Sprintf("/admin/realms/%s/partialImport", realm), payload)
	return err
}

// GetRealm fetches a realm representation.
func (c *AdminClient) GetRealm(ctx context.Context, realm string) (map[string]any, error) {
	body, err := c.doAdmin(ctx, http.MethodGet, fmt.Sprintf("/admin/realms/%s", realm), nil)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("failed to parse realm representation: %w", err)
	}
	return out, nil
}

// DeleteRealm deletes a realm.
func (c *AdminClient) DeleteRealm(ctx context.Context, realm string) error {
	_, err := c.doAdmin(ctx, http.MethodDelete, fmt.Sprintf("/admin/realms/%s", realm), nil)
	return err
}

// UserSpec describes a user to create in a tenant realm.
type UserSpec struct {
	Username string
	Password string
	Email    string
	Enabled  bool
}

// CreateUser creates a user in a realm and returns the Keycloak user id.
// Keycloak appends default required actions to new users, so the user is
// re-read and updated with the actions cleared, leaving the account
// immediately usable.
func (c *AdminClient) CreateUser(ctx context.Context, realm string, spec UserSpec) (string, error) {
	if realm == "" || spec.Username == "" {
		return "", fmt.Errorf("realm and username are required")
	}

	token, err := c.adminToken(ctx)
	if err != nil {
		return "", err
	}

	payload := map[string]any{
		"username":      spec.Username,
		"enabled":       spec.Enabled,
		"emailVerified": true,
		"firstName":     spec.Username,
		"lastName":      "User",
		"credentials": []any{
			map[string]any{"type": "password", "value": spec.Password, "temporary": false},
		},
	}
	if spec.Email != "" {
		payload["email"] = spec.Email
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal user payload: %w", err)
	}
	path := fmt.Sprintf("/admin/realms/%s/users", realm)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL()+path, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("keycloak request failed: %w", err)
	}
	respBody, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &AdminAPIError{Method: http.MethodPost, Path: path, StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	location := resp.Header.Get("Location")
	userID := location[strings.LastIndex(location, "/")+1:]
	if userID == "" {
		return "", fmt.Errorf("keycloak did not return a user location for %q", spec.Username)
	}

	userPath := fmt.Sprintf("/admin/realms/%s/users/%s", realm, userID)
	userBody, err := c.doAdmin(ctx, http.MethodGet, userPath, nil)
	if err != nil {
		return "", fmt.Errorf("failed to read created user: %w", err)
	}
	var user map[string]any
	if err := json.Unmarshal(userBody, &user); err != nil {
		return "", fmt.Errorf("failed to parse created user: %w", err)
	}
	user["requiredActions"] = []any{}
	user["emailVerified"] = true
	if s, _ := user["firstName"].(string); s == "" {
		user["firstName"] = spec.Username
	}
	if s, _ := user["lastName"].(string); s == "" {
		user["lastName"] = "User"
	}
	if _, err := c.doAdmin(ctx, http.MethodPut, userPath, user); err != nil {
		return "", fmt.Errorf("failed to clear required actions for user %s: %w", userID, err)
	}
	return userID, nil
}

// LoginURL returns the authorization (login) endpoint for a realm,
// without query parameters.
func (c *AdminClient) LoginURL(realm string) string {
	return fmt.Sprintf("%s/realms/%s/protocol/openid-connect/auth", c.baseURL(), realm)
}

// VerifyAdminToken reports whether a caller-supplied token can reach the
// master realm admin API.
func (c *AdminClient) VerifyAdminToken(ctx context.Context, token string) bool {
	url := fmt.Sprintf("%s/admin/realms/%s", c.baseURL(), c.cfg.AdminRealm)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}
