package keycloak

// Partial import rejects resources carrying the template's internal ids,
// so they are stripped and Keycloak assigns fresh ones.

func sanitizeClients(clients []any) []any {
	for _, c := range clients {
		client, ok := c.(map[string]any)
		if !ok {
			continue
		}
		delete(client, "id")
		if mappers, ok := client["protocolMappers"].([]any); ok {
			for _, m := range mappers {
				if mapper, ok := m.(map[string]any); ok {
					delete(mapper, "id")
				}
			}
		}
		// Authorization (UMA) settings trip FK ordering bugs in Keycloak's
		// client synchronizer during import; strip them.
		delete(client, "authorizationSettings")
		if client["authorizationServicesEnabled"] == true {
			client["authorizationServicesEnabled"] = false
		}
	}
	return clients
}

func sanitizeRoles(roles map[string]any) map[string]any {
	if realmRoles, ok := roles["realm"].([]any); ok {
		for _, r := range realmRoles {
			if role, ok := r.(map[string]any); ok {
				delete(role, "id")
				delete(role, "containerId")
			}
		}
	}
	if clientRoles, ok := roles["client"].(map[string]any); ok {
		for _, list := range clientRoles {
			roleList, ok := list.([]any)
			if !ok {
				continue
			}
			for _, r := range roleList {
				if role, ok := r.(map[string]any); ok {
					delete(role, "id")
					delete(role, "containerId")
				}
			}
		}
	}
	return roles
}

func sanitizeGroups(groups []any) []any {
	var strip func(group map[string]any)
	strip = func(group map[string]any) {
		delete(group, "id")
		if subs, ok := group["subGroups"].([]any); ok {
			for _, s := range subs {
				if sub, ok := s.(map[string]any); ok {
					strip(sub)
				}
			}
		}
	}
	for _, g := range groups {
		if group, ok := g.(map[string]any); ok {
			strip(group)
		}
	}
	return groups
}

func sanitizeUsers(users []any) []any {
	for _, u := range users {
		user, ok := u.(map[string]any)
		if !ok {
			continue
		}
		delete(user, "id")
		if creds, ok := user["credentials"].([]any); ok {
			for _, c := range creds {
				if cred, ok := c.(map[string]any); ok {
					delete(cred, "id")
				}
			}
		}
	}
	return users
}

func sanitizeClientScopes(scopes []any) []any {
	for _, s := range scopes {
		scope, ok := s.(map[string]any)
		if !ok {
			continue
		}
		delete(scope, "id")
		if mappers, ok := scope["protocolMappers"].([]any); ok {
			for _, m := range mappers {
				if mapper, ok := m.(map[string]any); ok {
					delete(mapper, "id")
				}
			}
		}
	}
	return scopes
}

func sanitizeIdentityProviders(idps []any) []any {
	for _, i := range idps {
		if idp, ok := i.(map[string]any); ok {
			delete(idp, "internalId")
		}
	}
	return idps
}
