package domain

// Teardown step names, also used as deleted-count keys and metric labels.
const (
	StepSubscriptions    = "subscriptions"
	StepPosts            = "posts"
	StepBookings         = "bookings"
	StepProviderAccounts = "provider_accounts"
	StepNotifications    = "notifications"
	StepFavorites        = "favorites"
	StepRoles            = "roles"
	StepIdentity         = "identity"
	StepUser             = "user"
)

// DeletedCounts tallies removed records per kind.
type DeletedCounts struct {
	Subscriptions    int `json:"subscriptions"`
	Posts            int `json:"posts"`
	Bookings         int `json:"bookings"`
	ProviderAccounts int `json:"providerAccounts"`
	Notifications    int `json:"notifications"`
	Favorites        int `json:"favorites"`
}

// StepFailure records a best-effort step that did not complete.
type StepFailure struct {
	Step  string `json:"step"`
	Error string `json:"error"`
}

// DeletionManifest is the result of an unsubscribe or account deletion.
type DeletionManifest struct {
	UserID        string        `json:"userId"`
	DeletedCounts DeletedCounts `json:"deletedCounts"`
	Failures      []StepFailure `json:"failures,omitempty"`
	Partial       bool          `json:"partial"`
	UserDeleted   bool          `json:"userDeleted"`
}

// Fail appends a step failure and marks the manifest partial.
func (m *DeletionManifest) Fail(step string, err error) {
	m.Failures = append(m.Failures, StepFailure{Step: step, Error: err.Error()})
	m.Partial = true
}
