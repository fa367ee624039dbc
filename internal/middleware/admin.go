package middleware

import (
	"context"
	"net/http"

	"github.com/Nexar-Turismo/nexarturismo-sub002/internal/contextkeys"
	"github.com/Nexar-Turismo/nexarturismo-sub002/internal/domain"
	"github.com/Nexar-Turismo/nexarturismo-sub002/internal/handler"
)

// RoleResolver returns the caller's current roles.
type RoleResolver interface {
	Resolve(ctx context.Context, userID string) (*domain.Entitlement, error)
}

// SuperadminOnly ensures the caller holds the superadmin role. The role is
// read from the resolved entitlement rather than the token, so a revoked
// role takes effect without waiting for the token to expire.
// Must be used AFTER Auth middleware which sets contextkeys.UserID in context.
func SuperadminOnly(roles RoleResolver) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := contextkeys.UserIDFrom(r.Context())
			if userID == "" {
				handler.Error(w, domain.ErrUnauthenticated("authentication required"))
				return
			}
			ent, err := roles.Resolve(r.Context(), userID)
			if err != nil {
				handler.Error(w, err)
				return
			}
			if !domain.HasRole(ent.Roles, domain.RoleSuperadmin) {
				handler.Error(w, domain.ErrUnauthorized("forbidden: superadmin access required"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
