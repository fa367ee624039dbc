package domain

import "time"

// ProviderAccount is a user's OAuth connection to the payment provider.
// Tokens are stored sealed; the repository never sees plaintext.
type ProviderAccount struct {
	ID              string         `json:"id"`
	UserID          string         `json:"userId"`
	ProviderUserID  string         `json:"providerUserId"`
	AccessToken     string         `json:"-"`
	RefreshToken    string         `json:"-"`
	ExpiresAt       *time.Time     `json:"expiresAt,omitempty"`
	Scope           string         `json:"scope,omitempty"`
	IsActive        bool           `json:"isActive"`
	ProfileSnapshot map[string]any `json:"profileSnapshot,omitempty"`
	CreatedAt       time.Time      `json:"createdAt"`
	UpdatedAt       time.Time      `json:"updatedAt"`
}

// AccountStatus reasons.
const (
	ReasonNotConnected        = "not_connected"
	ReasonNoRefreshToken      = "no_refresh_token"
	ReasonRefreshFailed       = "refresh_failed"
	ReasonProviderUnavailable = "provider_unavailable"
	ReasonUnreadableToken     = "unreadable_token"
)

// AccountStatus reports whether the user's provider connection is usable.
type AccountStatus struct {
	Connected      bool       `json:"connected"`
	IsActive       bool       `json:"isActive"`
	ProviderUserID string     `json:"providerUserId,omitempty"`
	ExpiresAt      *time.Time `json:"expiresAt,omitempty"`
	Refreshed      bool       `json:"refreshed"`
	Reason         string     `json:"reason,omitempty"`
}

// AuthorizeResponse carries the provider consent URL.
type AuthorizeResponse struct {
	URL string `json:"url"`
}
