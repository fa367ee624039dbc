package domain

import "time"

// BillingCycle is the recurrence of a subscription plan.
type BillingCycle string

const (
	CycleDaily   BillingCycle = "daily"
	CycleWeekly  BillingCycle = "weekly"
	CycleMonthly BillingCycle = "monthly"
	CycleYearly  BillingCycle = "yearly"
)

// Unlimited marks a quota with no upper bound.
const Unlimited = -1

// SubscriptionPlan is a catalog entry defining publisher quotas.
type SubscriptionPlan struct {
	ID             string       `json:"id"`
	Name           string       `json:"name"`
	Description    string       `json:"description,omitempty"`
	Price          float64      `json:"price"`
	Currency       string       `json:"currency"`
	BillingCycle   BillingCycle `json:"billingCycle"`
	MaxPosts       int          `json:"maxPosts"`
	MaxBookings    int          `json:"maxBookings"`
	Features       []string     `json:"features"`
	IsActive       bool         `json:"isActive"`
	IsVisible      bool         `json:"isVisible"`
	ProviderPlanID string       `json:"providerPlanId,omitempty"`
	CreatedAt      time.Time    `json:"createdAt"`
	UpdatedAt      time.Time    `json:"updatedAt"`
}

// Remaining returns how much of quota is left after used, keeping Unlimited as is.
func Remaining(quota, used int) int {
	if quota == Unlimited {
		return Unlimited
	}
	if left := quota - used; left > 0 {
		return left
	}
	return 0
}

// HasQuota reports whether a remaining value allows one more item.
func HasQuota(remaining int) bool {
	return remaining == Unlimited || remaining > 0
}
