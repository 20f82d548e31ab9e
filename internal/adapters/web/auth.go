package web

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

type authClaimsKey struct{}

// AuthClaims holds the caller identity extracted from the JWT.
type AuthClaims struct {
	TenantID int
	Subject  string
}

// authFromContext returns the auth claims stored in ctx, or nil.
func authFromContext(ctx context.Context) *AuthClaims {
	v, _ := ctx.Value(authClaimsKey{}).(*AuthClaims)
	return v
}

// tenantID returns the authenticated tenant. RequireAuth guarantees it is set
// on every protected route.
func tenantID(r *http.Request) int {
	if c := authFromContext(r.Context()); c != nil {
		return c.TenantID
	}
	return 0
}

// jwtClaims is the JWT payload issued by the external identity provider.
type jwtClaims struct {
	TenantID int `json:"tenant_id"`
	jwt.RegisteredClaims
}

// bearerToken returns the token from the auth_token cookie, falling back to an
// Authorization: Bearer header.
func bearerToken(r *http.Request) string {
	if cookie, err := r.Cookie("auth_token"); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	auth := r.Header.Get("Authorization")
	if len(auth) > 7 && strings.EqualFold(auth[:7], "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}

// RequireAuth is chi middleware that validates the HS256 token and injects
// AuthClaims into the request context. Returns 401 if the token is absent,
// invalid, or carries no tenant.
func (h *Handler) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := bearerToken(r)
		if raw == "" {
			writeError(w, r, "authentication required", "UNAUTHORIZED", http.StatusUnauthorized)
			return
		}

		claims := &jwtClaims{}
		token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
			return []byte(h.jwtSecret), nil
		})
		if err != nil || !token.Valid {
			writeError(w, r, "invalid or expired token", "UNAUTHORIZED", http.StatusUnauthorized)
			return
		}
		if claims.TenantID <= 0 {
			writeError(w, r, "token has no tenant", "UNAUTHORIZED", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), authClaimsKey{}, &AuthClaims{
			TenantID: claims.TenantID,
			Subject:  claims.Subject,
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
