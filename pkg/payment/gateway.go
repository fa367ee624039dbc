// Package payment talks to the preapproval-based payment provider: OAuth
// connection of seller accounts, the recurring plan catalog, and subscription
// status probes.
package payment

import (
	"context"
	"time"
)

// Gateway defines the operations the engine needs from the payment provider.
// Implementations never retry; callers decide.
type Gateway interface {
	// AuthorizeURL returns the consent URL for the marketplace OAuth flow.
	AuthorizeURL(state string) string
	// ExchangeCode trades an authorization code for tokens.
	ExchangeCode(ctx context.Context, code string) (*OAuthToken, error)
	// RefreshToken renews an access token. It returns ErrNoRefreshToken when
	// refreshToken is empty, distinct from a refresh the provider refused.
	RefreshToken(ctx context.Context, refreshToken string) (*OAuthToken, error)
	// GetUserInfo fetches the profile behind an access token.
	GetUserInfo(ctx context.Context, accessToken string) (*UserInfo, error)
	// ValidateToken checks that an access token is still accepted.
	ValidateToken(ctx context.Context, accessToken string) error
	// UpsertPlan updates providerPlanID when set, creating a new plan if the
	// update fails or no id is known. It returns the provider plan id in effect.
	UpsertPlan(ctx context.Context, plan PlanSpec, providerPlanID string) (string, error)
	// CancelSubscription moves a preapproval to cancelled.
	CancelSubscription(ctx context.Context, providerSubscriptionID string) error
	// GetSubscription probes the current state of a preapproval.
	GetSubscription(ctx context.Context, providerSubscriptionID string) (*SubscriptionState, error)
	// VerifySignature checks the webhook signature header for a notification.
	VerifySignature(signature, requestID, dataID string) bool
}

// Operation names used in errors and metrics.
const (
	OpExchangeCode       = "exchange_code"
	OpRefreshToken       = "refresh_token"
	OpGetUserInfo        = "get_user_info"
	OpCreatePlan         = "create_plan"
	OpUpdatePlan         = "update_plan"
	OpCancelSubscription = "cancel_subscription"
	OpGetSubscription    = "get_subscription"
)

// Provider preapproval statuses.
const (
	StatusPending    = "pending"
	StatusAuthorized = "authorized"
	StatusPaused     = "paused"
	StatusCancelled  = "cancelled"
	StatusFinished   = "finished"
	StatusExpired    = "expired"
)

// OAuthToken is the result of a code exchange or refresh.
type OAuthToken struct {
	AccessToken    string
	RefreshToken   string
	ExpiresIn      int
	ExpiresAt      time.Time
	Scope          string
	ProviderUserID string
}

// UserInfo is the provider profile of a connected account.
type UserInfo struct {
	ID        string `json:"id"`
	Nickname  string `json:"nickname"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	CountryID string `json:"country_id"`
	SiteID    string `json:"site_id"`
}

// Snapshot returns the profile as a generic map for storage.
func (u *UserInfo) Snapshot() map[string]any {
	return map[string]any{
		"id":         u.ID,
		"nickname":   u.Nickname,
		"email":      u.Email,
		"first_name": u.FirstName,
		"last_name":  u.LastName,
		"country_id": u.CountryID,
		"site_id":    u.SiteID,
	}
}

// PlanSpec describes a recurring plan in provider terms.
type PlanSpec struct {
	Reason            string
	Amount            float64
	Currency          string
	Frequency         int
	FrequencyType     string
	BackURL           string
	ExternalReference string
}

// SubscriptionState is the provider's view of a preapproval.
type SubscriptionState struct {
	ID                string
	Status            string
	LastModified      time.Time
	NextPaymentDate   *time.Time
	ExternalReference string
	PlanID            string
	PayerID           string
}
