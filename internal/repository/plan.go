package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Nexar-Turismo/nexarturismo-sub002/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PlanRepository handles the subscription plan catalog.
type PlanRepository struct {
	db *pgxpool.Pool
}

// NewPlanRepository creates a new PlanRepository.
func NewPlanRepository(db *pgxpool.Pool) *PlanRepository {
	return &PlanRepository{db: db}
}

const planColumns = `id, name, description, price::float8, currency, billing_cycle, max_posts, max_bookings,
	features, is_active, is_visible, provider_plan_id, created_at, updated_at`

func scanPlan(row pgx.Row) (*domain.SubscriptionPlan, error) {
	var p domain.SubscriptionPlan
	var features []byte
	err := row.Scan(
		&p.ID, &p.Name, &p.Description, &p.Price, &p.Currency, &p.BillingCycle, &p.MaxPosts, &p.MaxBookings,
		&features, &p.IsActive, &p.IsVisible, &p.ProviderPlanID, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(features) > 0 {
		if err := json.Unmarshal(features, &p.Features); err != nil {
			return nil, fmt.Errorf("failed to decode plan features: %w", err)
		}
	}
	return &p, nil
}

// FindByID returns a plan, or nil when absent.
func (r *PlanRepository) FindByID(ctx context.Context, id string) (*domain.SubscriptionPlan, error) {
	p, err := scanPlan(r.db.QueryRow(ctx, "SELECT "+planColumns+" FROM subscription_plans WHERE id = $1", id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find plan: %w", err)
	}
	return p, nil
}

// ListVisible returns active plans shown in the catalog, cheapest first.
func (r *PlanRepository) ListVisible(ctx context.Context) ([]*domain.SubscriptionPlan, error) {
	rows, err := r.db.Query(ctx, "SELECT "+planColumns+`
		FROM subscription_plans WHERE is_active AND is_visible ORDER BY price
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list plans: %w", err)
	}
	defer rows.Close()

	var plans []*domain.SubscriptionPlan
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan plan: %w", err)
		}
		plans = append(plans, p)
	}
	return plans, rows.Err()
}

// SetProviderPlanID stores the provider id of a synced plan.
func (r *PlanRepository) SetProviderPlanID(ctx context.Context, id, providerPlanID string) error {
	_, err := r.db.Exec(ctx, `
		UPDATE subscription_plans SET provider_plan_id = $1, updated_at = NOW() WHERE id = $2
	`, providerPlanID, id)
	if err != nil {
		return fmt.Errorf("failed to set provider plan id: %w", err)
	}
	return nil
}
