package domain

import (
	"encoding/json"
	"time"
)

// Provider notification types that carry a preapproval id.
const (
	NotificationPreapproval       = "subscription_preapproval"
	NotificationPreapprovalLegacy = "preapproval"
)

// Notification is an inbound provider webhook.
type Notification struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	Action     string          `json:"action"`
	DataID     string          `json:"-"`
	RawPayload json.RawMessage `json:"-"`
}

// WebhookEvent is the persisted receipt of a Notification.
type WebhookEvent struct {
	ID              string          `json:"id"`
	ProviderEventID string          `json:"providerEventId"`
	Type            string          `json:"type"`
	Action          string          `json:"action"`
	ResourceID      string          `json:"resourceId"`
	Payload         json.RawMessage `json:"payload"`
	ReceivedAt      time.Time       `json:"receivedAt"`
	ProcessedAt     *time.Time      `json:"processedAt,omitempty"`
	ProcessingError string          `json:"processingError,omitempty"`
}

// Webhook outcomes reported in the acknowledgement and metrics.
const (
	OutcomeApplied   = "applied"
	OutcomeDuplicate = "duplicate"
	OutcomeIgnored   = "ignored"
	OutcomeDiscarded = "discarded"
	OutcomeDeferred  = "deferred"
	OutcomeFailed    = "failed"
)

// WebhookAck is returned to the provider.
type WebhookAck struct {
	Received bool   `json:"received"`
	Outcome  string `json:"outcome"`
}

// SubscriptionStats summarizes subscription state for administrators.
type SubscriptionStats struct {
	TotalUsers           int            `json:"totalUsers"`
	ByStatus             map[string]int `json:"byStatus"`
	UsersWithMultiActive int            `json:"usersWithMultipleActive"`
	PendingSagas         int            `json:"pendingSagas"`
}
