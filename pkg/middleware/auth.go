package middleware

import (
	"net/http"
	"strings"

	"github.com/AOT-Technologies/m8flow/pkg/contextkeys"
	"github.com/AOT-Technologies/m8flow/pkg/httputil"
	"github.com/AOT-Technologies/m8flow/pkg/observability"
	"github.com/AOT-Technologies/m8flow/pkg/tenancy"
)

// AuthMiddleware authenticates requests with a bearer token and attaches
// the decoded claims and username to the request context. Public paths
// pass through unauthenticated.
type AuthMiddleware struct {
	parser   *TokenParser
	optional bool // If true, allow requests without a token
	logger   *observability.Logger
}

// NewAuthMiddleware creates authentication middleware. A present but
// invalid token is rejected even in optional mode.
func NewAuthMiddleware(parser *TokenParser, optional bool, logger *observability.Logger) *AuthMiddleware {
	return &AuthMiddleware{
		parser:   parser,
		optional: optional,
		logger:   logger,
	}
}

// Handler wraps an HTTP handler with token authentication.
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if tenancy.IsPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r.WithContext(contextkeys.WithPublicRequest(r.Context())))
			return
		}

		rawToken := bearerToken(r)
		if rawToken == "" {
			if c, err := r.Cookie(tenancy.AccessTokenCookie); err == nil {
				rawToken = c.Value
			}
		}

		if rawToken == "" {
			if m.optional {
				next.ServeHTTP(w, r)
				return
			}
			httputil.WriteUnauthorized(w, "Authentication required.")
			return
		}

		claims, err := m.parser.ParseClaims(r.Context(), rawToken)
		if err != nil {
			m.logger.WithError(err).WithFields(map[string]any{
				"path": r.URL.Path,
			}).Warn("rejected request with invalid token")
			httputil.WriteUnauthorized(w, "Invalid or expired token.")
			return
		}

		ctx := contextkeys.WithClaims(r.Context(), claims)
		if username := Username(claims); username != "" {
			ctx = contextkeys.WithUser(ctx, username)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// bearerToken extracts the token from an Authorization: Bearer header.
func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return ""
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
