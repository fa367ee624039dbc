package domain

import "time"

// PenaltyType selects how a cancellation policy amount is interpreted.
type PenaltyType string

const (
	PenaltyFixed      PenaltyType = "Fixed"
	PenaltyPercentage PenaltyType = "Percentage"
)

// CancellationPolicy charges Amount when a booking is cancelled at most
// DaysQuantity days before it starts.
type CancellationPolicy struct {
	DaysQuantity int         `json:"daysQuantity"`
	Type         PenaltyType `json:"type"`
	Amount       float64     `json:"amount"`
}

// PenaltyQuoteRequest is the input for the penalty quote endpoint.
type PenaltyQuoteRequest struct {
	Policies    []CancellationPolicy `json:"policies" validate:"dive"`
	TotalAmount float64              `json:"totalAmount" validate:"gte=0"`
	StartDate   time.Time            `json:"startDate" validate:"required"`
	CancelAt    *time.Time           `json:"cancelAt,omitempty"`
}

// Content item states. Draft, published and paused count against the post quota.
const (
	PostDraft     = "draft"
	PostPublished = "published"
	PostPaused    = "paused"
	PostArchived  = "archived"
	PostDeleted   = "deleted"
)
