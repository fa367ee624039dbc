package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/Nexar-Turismo/nexarturismo-sub002/internal/contextkeys"
	"github.com/Nexar-Turismo/nexarturismo-sub002/internal/domain"
	"github.com/Nexar-Turismo/nexarturismo-sub002/internal/handler"
)

// TokenVerifier validates bearer tokens issued by the identity subsystem.
type TokenVerifier interface {
	VerifyToken(tokenStr string) (*domain.JWTClaims, error)
}

// Auth creates a JWT authentication middleware.
func Auth(verifier TokenVerifier) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				handler.Error(w, domain.ErrUnauthenticated("no token provided"))
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
				handler.Error(w, domain.ErrUnauthenticated("invalid authorization header"))
				return
			}

			claims, err := verifier.VerifyToken(parts[1])
			if err != nil {
				handler.Error(w, domain.ErrUnauthenticated("invalid or expired token"))
				return
			}

			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}

// WithClaims stores the verified identity in ctx using typed keys.
func WithClaims(ctx context.Context, claims *domain.JWTClaims) context.Context {
	ctx = context.WithValue(ctx, contextkeys.UserID, claims.Sub)
	return context.WithValue(ctx, contextkeys.UserEmail, claims.Email)
}
