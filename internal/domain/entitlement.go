package domain

import "time"

// Entitlement is the derived capability snapshot of a user.
type Entitlement struct {
	UserID                string     `json:"userId"`
	HasActiveSubscription bool       `json:"hasActiveSubscription"`
	SubscriptionID        string     `json:"subscriptionId,omitempty"`
	PlanID                string     `json:"planId,omitempty"`
	PlanName              string     `json:"planName,omitempty"`
	Roles                 []RoleName `json:"roles"`
	RemainingPosts        int        `json:"remainingPosts"`
	RemainingBookings     int        `json:"remainingBookings"`
	ComputedAt            time.Time  `json:"computedAt"`
	PossiblyStale         bool       `json:"possiblyStale,omitempty"`
}

// Action is a capability probed through CheckPermission.
type Action string

const (
	ActionCreatePost    Action = "create_post"
	ActionCreateBooking Action = "create_booking"
	ActionPublish       Action = "publish"
)

// Valid reports whether a is a known action.
func (a Action) Valid() bool {
	switch a {
	case ActionCreatePost, ActionCreateBooking, ActionPublish:
		return true
	}
	return false
}

// Permission denial reasons.
const (
	ReasonNoActiveSubscription  = "no_active_subscription"
	ReasonPostQuotaExhausted    = "post_quota_exhausted"
	ReasonBookingQuotaExhausted = "booking_quota_exhausted"
	ReasonPublisherRequired     = "publisher_role_required"
)

// Permission is the result of CheckPermission.
type Permission struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}
