package middleware

import (
	"net/http"
	"strings"

	"github.com/asesmartice/floorwatch/internal/tokens"
)

type TokenValidator interface {
	ValidateToken(tokenString string) (*tokens.Claims, error)
}

type JWTAuth struct {
	tokens TokenValidator
}

func NewJWTAuth(t TokenValidator) *JWTAuth {
	return &JWTAuth{tokens: t}
}

// Middleware verifies the session JWT and injects a SessionContext. There is
// no blacklist here, unlike a multi-tenant user-facing API: these tokens are
// single-session, minted by the dispatcher and presented by the runner on
// every event it posts for that session, so their exposure window is the
// token's TTL around one analysis run.
func (m *JWTAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		claims, err := m.tokens.ValidateToken(parts[1])
		if err != nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		sc := &SessionContext{
			SessionID:  claims.SessionID,
			CameraID:   claims.CameraID,
			LocationID: claims.LocationID,
		}

		ctx := WithSessionContext(r.Context(), sc)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
