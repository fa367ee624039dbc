package domain

import (
	"encoding/json"
	"time"
)

// SagaStatus is the state of a persisted multi-step operation.
type SagaStatus string

const (
	SagaRunning   SagaStatus = "running"
	SagaCompleted SagaStatus = "completed"
	SagaFailed    SagaStatus = "failed"
	// SagaAbandoned runs can no longer complete and are not resumed.
	SagaAbandoned SagaStatus = "abandoned"
)

// SagaPlanChange is the kind of plan-change runs.
const SagaPlanChange = "plan_change"

// SagaRun records the furthest completed step of an operation so a retry can resume it.
type SagaRun struct {
	ID            string          `json:"id"`
	Kind          string          `json:"kind"`
	UserID        string          `json:"userId"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	CompletedStep int             `json:"completedStep"`
	Status        SagaStatus      `json:"status"`
	LastError     string          `json:"lastError,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}
