package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/Nexar-Turismo/nexarturismo-sub002/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// WebhookEventRepository keeps a receipt of every provider notification.
type WebhookEventRepository struct {
	db *pgxpool.Pool
}

// NewWebhookEventRepository creates a new WebhookEventRepository.
func NewWebhookEventRepository(db *pgxpool.Pool) *WebhookEventRepository {
	return &WebhookEventRepository{db: db}
}

// Record stores an event. It reports false only when an event with the same
// provider event id has already been processed; a receipt that was never
// processed may be handled again.
func (r *WebhookEventRepository) Record(ctx context.Context, ev *domain.WebhookEvent) (bool, error) {
	payload := ev.Payload
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	var id string
	err := r.db.QueryRow(ctx, `
		INSERT INTO webhook_events (id, provider_event_id, event_type, action, resource_id, payload, received_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (provider_event_id) DO UPDATE SET received_at = EXCLUDED.received_at
		WHERE webhook_events.processed_at IS NULL
		RETURNING id
	`, ev.ID, ev.ProviderEventID, ev.Type, ev.Action, ev.ResourceID, payload, ev.ReceivedAt).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("failed to record webhook event: %w", err)
	}
	return true, nil
}

// MarkProcessed stamps an event as handled, keeping the error text if processing failed.
func (r *WebhookEventRepository) MarkProcessed(ctx context.Context, providerEventID, processingErr string) error {
	_, err := r.db.Exec(ctx, `
		UPDATE webhook_events SET processed_at = NOW(), processing_error = $1
		WHERE provider_event_id = $2
	`, processingErr, providerEventID)
	if err != nil {
		return fmt.Errorf("failed to mark webhook event processed: %w", err)
	}
	return nil
}
