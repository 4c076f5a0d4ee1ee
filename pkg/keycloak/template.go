package keycloak

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// SpokeClientIDPlaceholder is replaced throughout the realm template
// (keys and string values) with the configured backend client id.
const SpokeClientIDPlaceholder = "__M8FLOW_SPOKE_CLIENT_ID__"

const (
	defaultRolesPrefix    = "default-roles-"
	realmURLPrefix        = "/realms/"
	adminConsoleURLPrefix = "/admin/"
)

// TemplateStore loads the realm template JSON and optionally watches it
// for changes so edits apply without a restart.
type TemplateStore struct {
	path     string
	clientID string
	log      *logrus.Logger

	mu       sync.RWMutex
	template map[string]any

	watcher *fsnotify.Watcher
}

// NewTemplateStore reads the template from path. clientID replaces the
// spoke client id placeholder at load time.
func NewTemplateStore(path, clientID string, log *logrus.Logger) (*TemplateStore, error) {
	if log == nil {
		log = logrus.New()
	}
	s := &TemplateStore{path: path, clientID: clientID, log: log}
	if err := s.reload(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *TemplateStore) reload() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("failed to read realm template %s: %w", s.path, err)
	}
	var template map[string]any
	if err := json.Unmarshal(data, &template); err != nil {
		return fmt.Errorf("failed to parse realm template %s: %w", s.path, err)
	}
	substituted, _ := SubstituteSpokeClientID(template, s.clientID).(map[string]any)
	if substituted == nil {
		return fmt.Errorf("realm template %s is not a JSON object", s.path)
	}

	s.mu.Lock()
	s.template = substituted
	s.mu.Unlock()
	return nil
}

// Watch reloads the template whenever the file changes. Reload failures
// keep the last good template.
func (s *TemplateStore) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create template watcher: %w", err)
	}
	if err := watcher.Add(s.path); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch realm template %s: %w", s.path, err)
	}
	s.watcher = watcher

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
					if err := s.reload(); err != nil {
						s.log.WithError(err).Warn("realm template reload failed; keeping previous template")
						continue
					}
					s.log.WithField("path", s.path).Info("realm template reloaded")
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				s.log.WithError(err).Warn("realm template watcher error")
			}
		}
	}()
	return nil
}

// Close stops the file watcher.
func (s *TemplateStore) Close() error {
	if s.watcher != nil {
		return s.watcher.Close()
	}
	return nil
}

// Template returns a deep copy of the loaded template.
func (s *TemplateStore) Template() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return deepCopyMap(s.template)
}

// TemplateRealmName returns the realm name declared inside the template.
func (s *TemplateStore) TemplateRealmName() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	name, _ := s.template["realm"].(string)
	return name
}

func deepCopyMap(m map[string]any) map[string]any {
	data, err := json.Marshal(m)
	if err != nil {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil
	}
	return out
}

// SubstituteSpokeClientID recursively replaces the placeholder in map
// keys and string values.
func SubstituteSpokeClientID(obj any, clientID string) any {
	switch v := obj.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, val := range v {
			key := k
			if key == SpokeClientIDPlaceholder {
				key = clientID
			}
			out[key] = SubstituteSpokeClientID(val, clientID)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = SubstituteSpokeClientID(item, clientID)
		}
		return out
	case string:
		if strings.Contains(v, SpokeClientIDPlaceholder) {
			return strings.ReplaceAll(v, SpokeClientIDPlaceholder, clientID)
		}
		return v
	default:
		return obj
	}
}

// RegenerateIDs walks obj replacing every "id" string value with a fresh
// UUID. The same old id always maps to the same new id so internal
// references stay consistent. The old→new map is returned.
func RegenerateIDs(obj any, idMap map[string]string) map[string]string {
	if idMap == nil {
		idMap = make(map[string]string)
	}
	switch v := obj.(type) {
	case map[string]any:
		if oldID, ok := v["id"].(string); ok {
			newID, seen := idMap[oldID]
			if !seen {
				newID = uuid.New().String()
				idMap[oldID] = newID
			}
			v["id"] = newID
		}
		for _, val := range v {
			RegenerateIDs(val, idMap)
		}
	case []any:
		for _, item := range v {
			RegenerateIDs(item, idMap)
		}
	}
	return idMap
}

// FillTemplate returns a copy of the template rewritten for a new tenant
// realm: realm name and display name set, the template's internal id
// dropped (Keycloak assigns a fresh one), the default-roles-{realm} role
// renamed, and client URLs under /realms/{realm}/ and /admin/{realm}/
// repointed. Everything else is preserved.
func FillTemplate(template map[string]any, realmID, displayName, templateName string) map[string]any {
	payload := deepCopyMap(template)

	payload["realm"] = realmID
	if displayName == "" {
		displayName = realmID
	}
	payload["displayName"] = displayName
	delete(payload, "id")

	oldRole := defaultRolesPrefix + templateName
	newRole := defaultRolesPrefix + realmID
	oldRealmURL := realmURLPrefix + templateName + "/"
	newRealmURL := realmURLPrefix + realmID + "/"
	oldAdminURL := adminConsoleURLPrefix + templateName + "/"
	newAdminURL := adminConsoleURLPrefix + realmID + "/"

	rewriteURL := func(s string) string {
		s = strings.ReplaceAll(s, oldRealmURL, newRealmURL)
		s = strings.ReplaceAll(s, oldAdminURL, newAdminURL)
		return s
	}

	if roles, ok := payload["roles"].(map[string]any); ok {
		if realmRoles, ok := roles["realm"].([]any); ok {
			for _, r := range realmRoles {
				role, ok := r.(map[string]any)
				if !ok {
					continue
				}
				if role["containerId"] == templateName {
					role["containerId"] = realmID
				}
				if role["name"] == oldRole {
					role["name"] = newRole
				}
			}
		}
	}

	if defaultRole, ok := payload["defaultRole"].(map[string]any); ok {
		if defaultRole["containerId"] == templateName {
			defaultRole["containerId"] = realmID
		}
		if defaultRole["name"] == oldRole {
			defaultRole["name"] = newRole
		}
	}

	if users, ok := payload["users"].([]any); ok {
		for _, u := range users {
			user, ok := u.(map[string]any)
			if !ok {
				continue
			}
			if realmRoles, ok := user["realmRoles"].([]any); ok {
				for i, r := range realmRoles {
					if r == oldRole {
						realmRoles[i] = newRole
					}
				}
			}
		}
	}

	if clients, ok := payload["clients"].([]any); ok {
		for _, c := range clients {
			client, ok := c.(map[string]any)
			if !ok {
				continue
			}
			for _, key := range []string{"baseUrl", "adminUrl", "rootUrl"} {
				if s, ok := client[key].(string); ok {
					client[key] = rewriteURL(s)
				}
			}
			for _, key := range []string{"redirectUris", "webOrigins"} {
				if uris, ok := client[key].([]any); ok {
					for i, u := range uris {
						if s, ok := u.(string); ok {
							uris[i] = rewriteURL(s)
						}
					}
				}
			}
			if attrs, ok := client["attributes"].(map[string]any); ok {
				for k, v := range attrs {
					if s, ok := v.(string); ok {
						attrs[k] = rewriteURL(s)
					}
				}
			}
		}
	}

	return payload
}
