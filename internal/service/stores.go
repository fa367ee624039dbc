package service

import (
	"context"
	"time"

	"github.com/Nexar-Turismo/nexarturismo-sub002/internal/domain"
)

// The interfaces below are satisfied by the repository package. Lookups
// return (nil, nil) when the record does not exist.

type UserStore interface {
	FindByID(ctx context.Context, id string) (*domain.User, error)
	ListRoles(ctx context.Context, userID string) ([]domain.RoleAssignment, error)
	SetRoleActive(ctx context.Context, userID string, role domain.RoleName, active bool) error
	ReplaceRoles(ctx context.Context, userID string, roles []domain.RoleName) error
	Delete(ctx context.Context, id string) (bool, error)
}

type PlanStore interface {
	FindByID(ctx context.Context, id string) (*domain.SubscriptionPlan, error)
	ListVisible(ctx context.Context) ([]*domain.SubscriptionPlan, error)
	SetProviderPlanID(ctx context.Context, id, providerPlanID string) error
}

type SubscriptionStore interface {
	FindByID(ctx context.Context, id string) (*domain.UserSubscription, error)
	FindByProviderID(ctx context.Context, providerSubscriptionID string) (*domain.UserSubscription, error)
	ListByUser(ctx context.Context, userID string) ([]*domain.UserSubscription, error)
	ListStale(ctx context.Context, before time.Time, limit int) ([]*domain.UserSubscription, error)
	Update(ctx context.Context, s *domain.UserSubscription) error
	ApplyProviderState(ctx context.Context, s *domain.UserSubscription, prev *time.Time) (bool, error)
	MarkChecked(ctx context.Context, id string, at time.Time) error
	Delete(ctx context.Context, id string) (bool, error)
}

type ProviderAccountStore interface {
	FindActiveByUser(ctx context.Context, userID string) (*domain.ProviderAccount, error)
	ReplaceActive(ctx context.Context, a *domain.ProviderAccount) error
	UpdateTokens(ctx context.Context, id, accessToken, refreshToken string, expiresAt *time.Time) error
	DeactivateByUser(ctx context.Context, userID string) (int, error)
	DeleteByUser(ctx context.Context, userID string) (int, error)
}

type ContentStore interface {
	CountActivePosts(ctx context.Context, userID string) (int, error)
	CountBookingsReceivedSince(ctx context.Context, userID string, since time.Time) (int, error)
	DeletePostsByUser(ctx context.Context, userID string) (int, error)
	DeleteBookingsByUser(ctx context.Context, userID string) (int, error)
	DeleteNotificationsByUser(ctx context.Context, userID string) (int, error)
	DeleteFavoritesByUser(ctx context.Context, userID string) (int, error)
}

type SagaStore interface {
	Get(ctx context.Context, id string) (*domain.SagaRun, error)
	Save(ctx context.Context, run *domain.SagaRun) error
	ListResumable(ctx context.Context, kind string, before time.Time, limit int) ([]*domain.SagaRun, error)
}

type WebhookEventStore interface {
	Record(ctx context.Context, ev *domain.WebhookEvent) (bool, error)
	MarkProcessed(ctx context.Context, providerEventID, processingErr string) error
}

// TokenSealer encrypts provider tokens at rest.
type TokenSealer interface {
	Seal(plaintext string) (string, error)
	Open(sealed string) (string, error)
}
