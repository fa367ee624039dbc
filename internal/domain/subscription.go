package domain

import "time"

// SubscriptionStatus is the lifecycle state of a UserSubscription.
type SubscriptionStatus string

const (
	StatusPendingPayment SubscriptionStatus = "pending_payment"
	StatusAuthorized     SubscriptionStatus = "authorized"
	StatusActive         SubscriptionStatus = "active"
	StatusPaused         SubscriptionStatus = "paused"
	StatusCancelled      SubscriptionStatus = "cancelled"
	StatusExpired        SubscriptionStatus = "expired"
)

// Terminal reports whether no further transition is possible from s.
func (s SubscriptionStatus) Terminal() bool {
	return s == StatusCancelled || s == StatusExpired
}

// Entitling reports whether s grants publisher capabilities.
func (s SubscriptionStatus) Entitling() bool {
	return s == StatusAuthorized || s == StatusActive
}

// Metadata keys written by plan changes.
const (
	MetaReplacedBy       = "replacedBy"
	MetaReplaces         = "replaces"
	MetaPreviousPlanName = "previousPlanName"
	MetaCancelReason     = "cancelReason"
)

// UserSubscription links a user to a plan and, optionally, to a provider preapproval.
type UserSubscription struct {
	ID                     string             `json:"id"`
	UserID                 string             `json:"userId"`
	PlanID                 string             `json:"planId"`
	PlanName               string             `json:"planName"`
	Status                 SubscriptionStatus `json:"status"`
	Amount                 float64            `json:"amount"`
	Currency               string             `json:"currency"`
	BillingCycle           BillingCycle       `json:"billingCycle"`
	ProviderSubscriptionID string             `json:"providerSubscriptionId,omitempty"`
	StartDate              time.Time          `json:"startDate"`
	EndDate                *time.Time         `json:"endDate,omitempty"`
	Metadata               map[string]string  `json:"metadata,omitempty"`
	ProviderUpdatedAt      *time.Time         `json:"providerUpdatedAt,omitempty"`
	StatusCheckedAt        *time.Time         `json:"statusCheckedAt,omitempty"`
	CreatedAt              time.Time          `json:"createdAt"`
	UpdatedAt              time.Time          `json:"updatedAt"`
}

// ChangePlanRequest is the input for moving a user from one subscription to another.
type ChangePlanRequest struct {
	OldSubscriptionID string `json:"oldSubscriptionId" validate:"required"`
	NewSubscriptionID string `json:"newSubscriptionId" validate:"required,nefield=OldSubscriptionID"`
}

// ChangePlanResult is returned by a completed plan change.
type ChangePlanResult struct {
	OldSubscriptionID string `json:"oldSubscriptionId"`
	NewSubscriptionID string `json:"newSubscriptionId"`
	NewPlanName       string `json:"newPlanName"`
}

// UnsubscribeRequest identifies the subscription a user is leaving. Both ids are optional.
type UnsubscribeRequest struct {
	SubscriptionID         string `json:"subscriptionId"`
	ProviderSubscriptionID string `json:"providerSubscriptionId"`
}
