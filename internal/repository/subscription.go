package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Nexar-Turismo/nexarturismo-sub002/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// SubscriptionRepository handles user subscriptions.
type SubscriptionRepository struct {
	db *pgxpool.Pool
}

// NewSubscriptionRepository creates a new SubscriptionRepository.
func NewSubscriptionRepository(db *pgxpool.Pool) *SubscriptionRepository {
	return &SubscriptionRepository{db: db}
}

const subscriptionColumns = `id, user_id, plan_id, plan_name, status, amount::float8, currency, billing_cycle,
	provider_subscription_id, start_date, end_date, metadata, provider_updated_at, status_checked_at,
	created_at, updated_at`

func scanSubscription(row pgx.Row) (*domain.UserSubscription, error) {
	var s domain.UserSubscription
	var metadata []byte
	err := row.Scan(
		&s.ID, &s.UserID, &s.PlanID, &s.PlanName, &s.Status, &s.Amount, &s.Currency, &s.BillingCycle,
		&s.ProviderSubscriptionID, &s.StartDate, &s.EndDate, &metadata, &s.ProviderUpdatedAt, &s.StatusCheckedAt,
		&s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &s.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode subscription metadata: %w", err)
		}
	}
	return &s, nil
}

func (r *SubscriptionRepository) queryList(ctx context.Context, query string, args ...any) ([]*domain.UserSubscription, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []*domain.UserSubscription
	for rows.Next() {
		s, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan subscription: %w", err)
		}
		subs = append(subs, s)
	}
	return subs, rows.Err()
}

// FindByID returns a subscription, or nil when absent.
func (r *SubscriptionRepository) FindByID(ctx context.Context, id string) (*domain.UserSubscription, error) {
	s, err := scanSubscription(r.db.QueryRow(ctx, "SELECT "+subscriptionColumns+" FROM user_subscriptions WHERE id = $1", id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find subscription: %w", err)
	}
	return s, nil
}

// FindByProviderID returns the subscription linked to a provider preapproval, or nil.
func (r *SubscriptionRepository) FindByProviderID(ctx context.Context, providerSubscriptionID string) (*domain.UserSubscription, error) {
	s, err := scanSubscription(r.db.QueryRow(ctx, "SELECT "+subscriptionColumns+`
		FROM user_subscriptions WHERE provider_subscription_id = $1
		ORDER BY created_at DESC LIMIT 1
	`, providerSubscriptionID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find subscription by provider id: %w", err)
	}
	return s, nil
}

// ListByUser returns a user's subscriptions, newest first.
func (r *SubscriptionRepository) ListByUser(ctx context.Context, userID string) ([]*domain.UserSubscription, error) {
	return r.queryList(ctx, "SELECT "+subscriptionColumns+`
		FROM user_subscriptions WHERE user_id = $1 ORDER BY created_at DESC
	`, userID)
}

// ListStale returns provider-linked, non-terminal subscriptions whose status
// has not been probed since before.
func (r *SubscriptionRepository) ListStale(ctx context.Context, before time.Time, limit int) ([]*domain.UserSubscription, error) {
	return r.queryList(ctx, "SELECT "+subscriptionColumns+`
		FROM user_subscriptions
		WHERE provider_subscription_id <> ''
		  AND status NOT IN ('cancelled', 'expired')
		  AND (status_checked_at IS NULL OR status_checked_at < $1)
		ORDER BY status_checked_at NULLS FIRST
		LIMIT $2
	`, before, limit)
}

// Update writes the lifecycle fields of a subscription.
func (r *SubscriptionRepository) Update(ctx context.Context, s *domain.UserSubscription) error {
	metadata, err := json.Marshal(nonNilMetadata(s.Metadata))
	if err != nil {
		return fmt.Errorf("failed to encode subscription metadata: %w", err)
	}
	tag, err := r.db.Exec(ctx, `
		UPDATE user_subscriptions
		SET status = $1, start_date = $2, end_date = $3, metadata = $4, updated_at = NOW()
		WHERE id = $5
	`, s.Status, s.StartDate, s.EndDate, metadata, s.ID)
	if err != nil {
		return fmt.Errorf("failed to update subscription: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("failed to update subscription %s: not found", s.ID)
	}
	return nil
}

// ApplyProviderState writes a provider-driven change only if no other provider
// state landed since prev was read. It reports whether the row changed.
func (r *SubscriptionRepository) ApplyProviderState(ctx context.Context, s *domain.UserSubscription, prev *time.Time) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE user_subscriptions
		SET status = $1, end_date = $2, provider_updated_at = $3, status_checked_at = $4, updated_at = NOW()
		WHERE id = $5 AND provider_updated_at IS NOT DISTINCT FROM $6
	`, s.Status, s.EndDate, s.ProviderUpdatedAt, s.StatusCheckedAt, s.ID, prev)
	if err != nil {
		return false, fmt.Errorf("failed to apply provider state: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// MarkChecked records a provider probe that changed nothing.
func (r *SubscriptionRepository) MarkChecked(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.Exec(ctx, "UPDATE user_subscriptions SET status_checked_at = $1 WHERE id = $2", at, id)
	if err != nil {
		return fmt.Errorf("failed to mark subscription checked: %w", err)
	}
	return nil
}

// Delete removes a subscription. It reports whether a row was removed.
func (r *SubscriptionRepository) Delete(ctx context.Context, id string) (bool, error) {
	tag, err := r.db.Exec(ctx, "DELETE FROM user_subscriptions WHERE id = $1", id)
	if err != nil {
		return false, fmt.Errorf("failed to delete subscription: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// CountByStatus returns the number of subscriptions per status.
func (r *SubscriptionRepository) CountByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := r.db.Query(ctx, "SELECT status, COUNT(*) FROM user_subscriptions GROUP BY status")
	if err != nil {
		return nil, fmt.Errorf("failed to count subscriptions: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan subscription count: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// CountUsersWithMultipleEntitling returns how many users hold more than one
// authorized or active subscription at once.
func (r *SubscriptionRepository) CountUsersWithMultipleEntitling(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM (
			SELECT user_id FROM user_subscriptions
			WHERE status IN ('authorized', 'active')
			GROUP BY user_id HAVING COUNT(*) > 1
		) t
	`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count users with multiple subscriptions: %w", err)
	}
	return n, nil
}

func nonNilMetadata(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
