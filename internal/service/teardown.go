package service

import (
	"context"
	"fmt"

	"github.com/Nexar-Turismo/nexarturismo-sub002/internal/domain"
	"github.com/Nexar-Turismo/nexarturismo-sub002/internal/metrics"
	"github.com/Nexar-Turismo/nexarturismo-sub002/pkg/payment"
	"go.uber.org/zap"
)

// TeardownService removes a user's subscription footprint, or the whole account.
// Every step is best-effort and safe to repeat.
type TeardownService struct {
	subs         SubscriptionStore
	content      ContentStore
	accounts     ProviderAccountStore
	users        UserStore
	gateway      payment.Gateway
	identity     IdentityProvider
	entitlements Invalidator
	logger       *zap.Logger
}

// NewTeardownService creates a new TeardownService.
func NewTeardownService(
	subs SubscriptionStore,
	content ContentStore,
	accounts ProviderAccountStore,
	users UserStore,
	gateway payment.Gateway,
	identity IdentityProvider,
	entitlements Invalidator,
	logger *zap.Logger,
) *TeardownService {
	return &TeardownService{
		subs:         subs,
		content:      content,
		accounts:     accounts,
		users:        users,
		gateway:      gateway,
		identity:     identity,
		entitlements: entitlements,
		logger:       logger.Named("teardown"),
	}
}

// Unsubscribe cancels and deletes the user's subscriptions together with
// their listings, bookings, provider connection, notifications and favorites,
// and demotes them to client.
func (s *TeardownService) Unsubscribe(ctx context.Context, userID string, req *domain.UnsubscribeRequest) (*domain.DeletionManifest, error) {
	if userID == "" {
		return nil, domain.ErrValidation("userId is required")
	}
	if req == nil {
		req = &domain.UnsubscribeRequest{}
	}
	if req.SubscriptionID != "" {
		if err := checkOwner(userID)(s.subs.FindByID(ctx, req.SubscriptionID)); err != nil {
			return nil, err
		}
	}
	// A provider id may only be cancelled directly when no stored record links it
	// to someone else.
	if req.ProviderSubscriptionID != "" {
		if err := checkOwner(userID)(s.subs.FindByProviderID(ctx, req.ProviderSubscriptionID)); err != nil {
			return nil, err
		}
	}

	m := s.teardown(ctx, userID, req.ProviderSubscriptionID)
	s.demote(ctx, m)
	s.finish(ctx, m, "unsubscribe")
	return m, nil
}

// checkOwner wraps a subscription lookup: a missing record is fine, one owned
// by someone else is not.
func checkOwner(userID string) func(*domain.UserSubscription, error) error {
	return func(sub *domain.UserSubscription, err error) error {
		if err != nil {
			return domain.ErrInternal("failed to load subscription", err)
		}
		if sub != nil && sub.UserID != userID {
			return domain.ErrUnauthorized("subscription belongs to another user")
		}
		return nil
	}
}

// DeleteAccount runs the unsubscribe teardown, then deletes the user and asks
// the identity provider to forget them. A failed identity deletion is logged.
func (s *TeardownService) DeleteAccount(ctx context.Context, userID string) (*domain.DeletionManifest, error) {
	if userID == "" {
		return nil, domain.ErrValidation("userId is required")
	}

	m := s.teardown(ctx, userID, "")

	deleted, err := s.users.Delete(ctx, userID)
	if err != nil {
		m.Fail(domain.StepUser, err)
	}
	m.UserDeleted = deleted

	if err := s.identity.DeleteUser(ctx, userID); err != nil {
		s.logger.Error("identity provider deletion failed",
			zap.String("user_id", userID),
			zap.String("step", domain.StepIdentity),
			zap.Error(err),
		)
	}

	s.finish(ctx, m, "delete_account")
	return m, nil
}

func (s *TeardownService) teardown(ctx context.Context, userID, extraProviderID string) *domain.DeletionManifest {
	m := &domain.DeletionManifest{UserID: userID}
	s.removeSubscriptions(ctx, m, extraProviderID)

	m.DeletedCounts.Posts = s.count(m, domain.StepPosts, func() (int, error) {
		return s.content.DeletePostsByUser(ctx, userID)
	})
	m.DeletedCounts.Bookings = s.count(m, domain.StepBookings, func() (int, error) {
		return s.content.DeleteBookingsByUser(ctx, userID)
	})
	m.DeletedCounts.ProviderAccounts = s.count(m, domain.StepProviderAccounts, func() (int, error) {
		if _, err := s.accounts.DeactivateByUser(ctx, userID); err != nil {
			return 0, err
		}
		return s.accounts.DeleteByUser(ctx, userID)
	})
	m.DeletedCounts.Notifications = s.count(m, domain.StepNotifications, func() (int, error) {
		return s.content.DeleteNotificationsByUser(ctx, userID)
	})
	m.DeletedCounts.Favorites = s.count(m, domain.StepFavorites, func() (int, error) {
		return s.content.DeleteFavoritesByUser(ctx, userID)
	})
	return m
}

func (s *TeardownService) removeSubscriptions(ctx context.Context, m *domain.DeletionManifest, extraProviderID string) {
	subs, err := s.subs.ListByUser(ctx, m.UserID)
	if err != nil {
		m.Fail(domain.StepSubscriptions, err)
		return
	}

	linked := make(map[string]bool, len(subs))
	for _, sub := range subs {
		if sub.ProviderSubscriptionID != "" {
			linked[sub.ProviderSubscriptionID] = true
			if !sub.Status.Terminal() {
				s.cancelAtProvider(ctx, m, sub.ProviderSubscriptionID)
			}
		}
		deleted, err := s.subs.Delete(ctx, sub.ID)
		if err != nil {
			m.Fail(domain.StepSubscriptions, fmt.Errorf("delete %s: %w", sub.ID, err))
			continue
		}
		if deleted {
			m.DeletedCounts.Subscriptions++
		}
	}

	if extraProviderID != "" && !linked[extraProviderID] {
		s.cancelAtProvider(ctx, m, extraProviderID)
	}
}

// cancelAtProvider stops billing. A refusal means the preapproval is already
// gone or cancelled and is not a failure.
func (s *TeardownService) cancelAtProvider(ctx context.Context, m *domain.DeletionManifest, providerSubscriptionID string) {
	err := retryProvider(ctx, func() error {
		return s.gateway.CancelSubscription(ctx, providerSubscriptionID)
	})
	switch {
	case err == nil:
	case payment.IsRejected(err):
		s.logger.Info("provider refused cancel, treating as already cancelled",
			zap.String("provider_subscription_id", providerSubscriptionID), zap.Error(err))
	default:
		s.logger.Warn("provider cancel failed",
			zap.String("provider_subscription_id", providerSubscriptionID), zap.Error(err))
		m.Fail(domain.StepSubscriptions, fmt.Errorf("cancel %s at provider: %w", providerSubscriptionID, err))
	}
}

func (s *TeardownService) count(m *domain.DeletionManifest, step string, fn func() (int, error)) int {
	n, err := fn()
	if err != nil {
		s.logger.Warn("teardown step failed", zap.String("user_id", m.UserID), zap.String("step", step), zap.Error(err))
		m.Fail(step, err)
		return 0
	}
	return n
}

func (s *TeardownService) demote(ctx context.Context, m *domain.DeletionManifest) {
	if err := s.users.SetRoleActive(ctx, m.UserID, domain.RolePublisher, false); err != nil {
		m.Fail(domain.StepRoles, err)
		return
	}
	if err := s.users.SetRoleActive(ctx, m.UserID, domain.RoleClient, true); err != nil {
		m.Fail(domain.StepRoles, err)
	}
}

func (s *TeardownService) finish(ctx context.Context, m *domain.DeletionManifest, op string) {
	if err := s.entitlements.Invalidate(ctx, m.UserID); err != nil {
		s.logger.Warn("failed to invalidate entitlement", zap.String("user_id", m.UserID), zap.Error(err))
	}

	c := m.DeletedCounts
	for kind, n := range map[string]int{
		domain.StepSubscriptions:    c.Subscriptions,
		domain.StepPosts:            c.Posts,
		domain.StepBookings:         c.Bookings,
		domain.StepProviderAccounts: c.ProviderAccounts,
		domain.StepNotifications:    c.Notifications,
		domain.StepFavorites:        c.Favorites,
	} {
		metrics.TeardownDeleted.WithLabelValues(kind).Add(float64(n))
	}

	s.logger.Info("teardown finished",
		zap.String("op", op),
		zap.String("user_id", m.UserID),
		zap.Any("deleted", c),
		zap.Bool("partial", m.Partial),
		zap.Bool("user_deleted", m.UserDeleted),
	)
}
