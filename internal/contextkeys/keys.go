// Package contextkeys holds the typed keys under which request identity is stored.
package contextkeys

import "context"

type contextKey string

const (
	// UserID is the verified `sub` claim of the bearer token.
	UserID contextKey = "userID"
	// UserEmail is the token's email claim, used only for logging.
	UserEmail contextKey = "userEmail"
)

// UserIDFrom returns the authenticated user id, or "" when the request is anonymous.
func UserIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(UserID).(string)
	return id
}
