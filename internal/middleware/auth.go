// Package middleware provides the HTTP middleware chain of the API server.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/R3E-Network/agentchat/internal/app/auth"
	"github.com/R3E-Network/agentchat/internal/errors"
	"github.com/R3E-Network/agentchat/internal/httputil"
	"github.com/R3E-Network/agentchat/pkg/logger"
)

// AuthMiddleware requires a valid bearer token on every request except the
// skipped ones.
type AuthMiddleware struct {
	tokens       *auth.TokenIssuer
	logger       *logger.Logger
	skipPaths    map[string]bool
	skipPrefixes []string
}

// NewAuthMiddleware creates the middleware. Entries of skipPaths may be
// method qualified ("POST /user"); entries ending in "/*" skip every path
// below that prefix.
func NewAuthMiddleware(tokens *auth.TokenIssuer, log *logger.Logger, skipPaths []string) *AuthMiddleware {
	if log == nil {
		log = logger.NewDefault("auth")
	}
	m := &AuthMiddleware{
		tokens:    tokens,
		logger:    log,
		skipPaths: make(map[string]bool),
	}
	for _, path := range skipPaths {
		if prefix, ok := strings.CutSuffix(path, "/*"); ok {
			m.skipPaths[prefix] = true
			m.skipPrefixes = append(m.skipPrefixes, prefix+"/")
			continue
		}
		m.skipPaths[path] = true
	}
	return m
}

func (m *AuthMiddleware) skip(r *http.Request) bool {
	if r.Method == http.MethodOptions || m.skipPaths[r.URL.Path] || m.skipPaths[r.Method+" "+r.URL.Path] {
		return true
	}
	for _, prefix := range m.skipPrefixes {
		if strings.HasPrefix(r.URL.Path, prefix) {
			return true
		}
	}
	return false
}

// Handler returns the middleware handler
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.skip(r) {
			// A valid token on a public route still identifies the caller.
			if claims, err := m.authenticate(r); err == nil {
				r = r.WithContext(logger.WithIdentity(r.Context(), claims.UserID, claims.Role))
			}
			next.ServeHTTP(w, r)
			return
		}

		claims, err := m.authenticate(r)
		if err != nil {
			m.respondError(w, r, err)
			return
		}

		ctx := logger.WithIdentity(r.Context(), claims.UserID, claims.Role)
		m.logger.WithContext(ctx).WithField("user_id", claims.UserID).Debug("authentication successful")
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (m *AuthMiddleware) authenticate(r *http.Request) (*auth.Claims, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return nil, errors.Unauthorized("Missing Authorization header")
	}
	scheme, token, ok := strings.Cut(authHeader, " ")
	token = strings.TrimSpace(token)
	if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
		return nil, errors.Unauthorized("Invalid Authorization header format")
	}
	claims, err := m.tokens.Parse(token)
	if err != nil {
		return nil, errors.InvalidToken(err)
	}
	return claims, nil
}

func (m *AuthMiddleware) respondError(w http.ResponseWriter, r *http.Request, err error) {
	httputil.WriteError(w, err)
	m.logger.WithContext(r.Context()).WithError(err).
		WithField("path", r.URL.Path).
		WithField("method", r.Method).
		Warn("authentication failed")
}

// GetUserID returns the authenticated user ID, if any.
func GetUserID(ctx context.Context) (int64, bool) {
	id, _, ok := logger.Identity(ctx)
	return id, ok
}

// GetUserRole returns the authenticated user's role, or "".
func GetUserRole(ctx context.Context) string {
	_, role, _ := logger.Identity(ctx)
	return role
}
