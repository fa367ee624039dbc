package service

import (
	"context"
	"errors"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Nexar-Turismo/nexarturismo-sub002/internal/cache"
	"github.com/Nexar-Turismo/nexarturismo-sub002/internal/domain"
	"github.com/Nexar-Turismo/nexarturismo-sub002/internal/metrics"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const fallbackRoleTimeout = 500 * time.Millisecond

// Invalidator drops a user's cached entitlement after a state change.
type Invalidator interface {
	Invalidate(ctx context.Context, userID string) error
}

// StatusProber brings a provider-linked subscription up to date with the provider.
type StatusProber interface {
	Refresh(ctx context.Context, sub *domain.UserSubscription) (*domain.UserSubscription, error)
}

// ChangeNotifier is told when a user's entitlement may have changed.
type ChangeNotifier interface {
	EntitlementChanged(userID string)
}

// EntitlementConfig tunes the resolver.
type EntitlementConfig struct {
	CacheTTL         time.Duration
	Deadline         time.Duration
	StatusStaleAfter time.Duration
}

// EntitlementService derives what a user may do from their subscriptions,
// plan quotas and current usage.
type EntitlementService struct {
	users    UserStore
	subs     SubscriptionStore
	plans    PlanStore
	content  ContentStore
	cache    cache.Cache
	prober   StatusProber
	notifier ChangeNotifier
	cfg      EntitlementConfig
	logger   *zap.Logger
	validate *validator.Validate
	now      func() time.Time

	group       singleflight.Group
	generations sync.Map // userID -> *atomic.Uint64
}

// NewEntitlementService creates a new EntitlementService.
func NewEntitlementService(
	users UserStore,
	subs SubscriptionStore,
	plans PlanStore,
	content ContentStore,
	c cache.Cache,
	cfg EntitlementConfig,
	logger *zap.Logger,
) *EntitlementService {
	return &EntitlementService{
		users:    users,
		subs:     subs,
		plans:    plans,
		content:  content,
		cache:    c,
		cfg:      cfg,
		logger:   logger.Named("entitlements"),
		validate: validator.New(),
		now:      time.Now,
	}
}

// SetProber installs the provider status prober used for stale subscriptions.
func (s *EntitlementService) SetProber(p StatusProber) { s.prober = p }

// SetNotifier installs the listener told about invalidations.
func (s *EntitlementService) SetNotifier(n ChangeNotifier) { s.notifier = n }

// Resolve returns the user's entitlement, from cache when fresh. If it cannot
// be recomputed within the deadline, the last cached value is returned marked
// PossiblyStale. Any other failure, or a timeout with nothing cached, fails closed.
func (s *EntitlementService) Resolve(ctx context.Context, userID string) (*domain.Entitlement, error) {
	if userID == "" {
		return nil, domain.ErrValidation("userId is required")
	}

	cached, err := s.cache.Get(ctx, userID)
	if err != nil {
		s.logger.Warn("entitlement cache read failed", zap.String("user_id", userID), zap.Error(err))
		cached = nil
	}
	if cached != nil && cached.Fresh(s.cfg.CacheTTL, s.now()) {
		metrics.EntitlementResolutions.WithLabelValues("cache").Inc()
		return copyEntitlement(&cached.Entitlement), nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Deadline)
	defer cancel()

	gen := s.generation(userID).Load()
	ch := s.group.DoChan(userID, func() (any, error) {
		cctx, ccancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.Deadline)
		defer ccancel()

		ent, err := s.compute(cctx, userID)
		if err != nil {
			return nil, err
		}
		s.store(cctx, userID, gen, ent)
		return ent, nil
	})

	select {
	case <-ctx.Done():
		return s.fallback(userID, cached, ctx.Err()), nil
	case res := <-ch:
		if res.Err != nil {
			if domain.IsKind(res.Err, domain.KindNotFound) {
				return nil, res.Err
			}
			// Only a slow recompute may lean on the cached value; a broken
			// store fails closed.
			if !errors.Is(res.Err, context.DeadlineExceeded) {
				cached = nil
			}
			return s.fallback(userID, cached, res.Err), nil
		}
		metrics.EntitlementResolutions.WithLabelValues("computed").Inc()
		return copyEntitlement(res.Val.(*domain.Entitlement)), nil
	}
}

// CheckPermission reports whether the user may perform action right now.
func (s *EntitlementService) CheckPermission(ctx context.Context, userID string, action domain.Action) (*domain.Permission, error) {
	if !action.Valid() {
		return nil, domain.ErrValidation("action must be one of create_post, create_booking, publish")
	}
	ent, err := s.Resolve(ctx, userID)
	if err != nil {
		return nil, err
	}
	return decide(ent, action), nil
}

func decide(ent *domain.Entitlement, action domain.Action) *domain.Permission {
	if domain.HasRole(ent.Roles, domain.RoleSuperadmin) {
		return &domain.Permission{Allowed: true}
	}
	if !ent.HasActiveSubscription {
		return &domain.Permission{Reason: domain.ReasonNoActiveSubscription}
	}
	switch action {
	case domain.ActionCreatePost:
		if !domain.HasQuota(ent.RemainingPosts) {
			return &domain.Permission{Reason: domain.ReasonPostQuotaExhausted}
		}
	case domain.ActionCreateBooking:
		if !domain.HasQuota(ent.RemainingBookings) {
			return &domain.Permission{Reason: domain.ReasonBookingQuotaExhausted}
		}
	case domain.ActionPublish:
		if !domain.HasRole(ent.Roles, domain.RolePublisher) {
			return &domain.Permission{Reason: domain.ReasonPublisherRequired}
		}
	}
	return &domain.Permission{Allowed: true}
}

// Invalidate drops the cached entitlement of a user. Any computation already
// in flight for that user will not write its result back.
func (s *EntitlementService) Invalidate(ctx context.Context, userID string) error {
	s.generation(userID).Add(1)
	s.group.Forget(userID)
	err := s.cache.Invalidate(ctx, userID)
	if err != nil {
		s.logger.Error("entitlement cache invalidation failed", zap.String("user_id", userID), zap.Error(err))
	}
	if s.notifier != nil {
		s.notifier.EntitlementChanged(userID)
	}
	return err
}

// SetRoles replaces a user's roles by hand and invalidates their entitlement.
// The publisher role is re-derived on the next resolve.
func (s *EntitlementService) SetRoles(ctx context.Context, userID string, req *domain.SetRolesRequest) (*domain.Entitlement, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, domain.ErrValidation(formatValidationErrors(err))
	}
	u, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, domain.ErrInternal("failed to load user", err)
	}
	if u == nil {
		return nil, domain.ErrNotFound("user not found")
	}

	roles := slices.Clone(req.Roles)
	if !slices.Contains(roles, domain.RoleClient) {
		roles = append(roles, domain.RoleClient)
	}
	if err := s.users.ReplaceRoles(ctx, userID, roles); err != nil {
		return nil, domain.ErrInternal("failed to update roles", err)
	}
	_ = s.Invalidate(ctx, userID)
	s.logger.Info("roles replaced", zap.String("user_id", userID), zap.Any("roles", roles))
	return s.Resolve(ctx, userID)
}

func (s *EntitlementService) compute(ctx context.Context, userID string) (*domain.Entitlement, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, domain.ErrNotFound("user not found")
	}

	subs, err := s.subs.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	ent := &domain.Entitlement{UserID: userID, ComputedAt: s.now()}
	if stale := s.staleSubscription(subs); stale != nil && s.prober != nil {
		pctx, cancel := context.WithTimeout(ctx, s.cfg.Deadline/2)
		updated, err := s.prober.Refresh(pctx, stale)
		cancel()
		if err != nil {
			s.logger.Warn("provider status probe failed, using stored status",
				zap.String("user_id", userID),
				zap.String("subscription_id", stale.ID),
				zap.Error(err),
			)
			ent.PossiblyStale = true
		} else if updated != nil {
			*stale = *updated
		}
	}

	var active *domain.UserSubscription
	for _, sub := range subs {
		if !sub.Status.Entitling() {
			continue
		}
		if active != nil {
			s.logger.Error("user holds more than one entitling subscription",
				zap.String("user_id", userID),
				zap.String("kept", active.ID),
				zap.String("ignored", sub.ID),
			)
			continue
		}
		active = sub
	}

	if active != nil {
		ent.HasActiveSubscription = true
		ent.SubscriptionID = active.ID
		ent.PlanID = active.PlanID
		ent.PlanName = active.PlanName
		if err := s.fillQuotas(ctx, ent, active); err != nil {
			return nil, err
		}
	}

	ent.Roles, err = s.deriveRoles(ctx, user, ent)
	if err != nil {
		return nil, err
	}
	return ent, nil
}

func (s *EntitlementService) fillQuotas(ctx context.Context, ent *domain.Entitlement, active *domain.UserSubscription) error {
	plan, err := s.plans.FindByID(ctx, active.PlanID)
	if err != nil {
		return err
	}
	if plan == nil {
		s.logger.Warn("active subscription references unknown plan",
			zap.String("subscription_id", active.ID),
			zap.String("plan_id", active.PlanID),
		)
		return nil
	}

	posts, err := s.content.CountActivePosts(ctx, ent.UserID)
	if err != nil {
		return err
	}
	bookings, err := s.content.CountBookingsReceivedSince(ctx, ent.UserID, active.StartDate)
	if err != nil {
		return err
	}
	ent.RemainingPosts = domain.Remaining(plan.MaxPosts, posts)
	ent.RemainingBookings = domain.Remaining(plan.MaxBookings, bookings)
	return nil
}

// deriveRoles keeps the stored roles in line with the entitlement: publisher
// while a subscription is active and post quota remains, client always.
func (s *EntitlementService) deriveRoles(ctx context.Context, user *domain.User, ent *domain.Entitlement) ([]domain.RoleName, error) {
	current := domain.ActiveRoles(user.Roles)
	wantPublisher := ent.HasActiveSubscription && domain.HasQuota(ent.RemainingPosts)

	if domain.HasRole(current, domain.RolePublisher) != wantPublisher {
		if err := s.users.SetRoleActive(ctx, user.ID, domain.RolePublisher, wantPublisher); err != nil {
			return nil, err
		}
		s.logger.Info("publisher role updated", zap.String("user_id", user.ID), zap.Bool("active", wantPublisher))
	}
	if !domain.HasRole(current, domain.RoleClient) {
		if err := s.users.SetRoleActive(ctx, user.ID, domain.RoleClient, true); err != nil {
			return nil, err
		}
	}

	roles := []domain.RoleName{domain.RoleClient}
	if wantPublisher {
		roles = append(roles, domain.RolePublisher)
	}
	if domain.HasRole(current, domain.RoleSuperadmin) {
		roles = append(roles, domain.RoleSuperadmin)
	}
	return roles, nil
}

// staleSubscription picks the newest provider-linked, non-terminal
// subscription whose status has not been probed recently.
func (s *EntitlementService) staleSubscription(subs []*domain.UserSubscription) *domain.UserSubscription {
	cutoff := s.now().Add(-s.cfg.StatusStaleAfter)
	for _, sub := range subs {
		if sub.ProviderSubscriptionID == "" || sub.Status.Terminal() {
			continue
		}
		if sub.StatusCheckedAt == nil || sub.StatusCheckedAt.Before(cutoff) {
			return sub
		}
		return nil
	}
	return nil
}

func (s *EntitlementService) fallback(userID string, cached *cache.Entry, cause error) *domain.Entitlement {
	if cached != nil {
		metrics.EntitlementResolutions.WithLabelValues("stale").Inc()
		s.logger.Warn("serving last known entitlement", zap.String("user_id", userID), zap.Error(cause))
		ent := copyEntitlement(&cached.Entitlement)
		ent.PossiblyStale = true
		return ent
	}

	metrics.EntitlementResolutions.WithLabelValues("fail_closed").Inc()
	level := zap.ErrorLevel
	if errors.Is(cause, context.DeadlineExceeded) {
		level = zap.WarnLevel
	}
	s.logger.Log(level, "entitlement unavailable, failing closed", zap.String("user_id", userID), zap.Error(cause))
	return &domain.Entitlement{
		UserID:        userID,
		Roles:         s.fallbackRoles(userID),
		ComputedAt:    s.now(),
		PossiblyStale: true,
	}
}

// fallbackRoles reads the stored roles within a short budget. Publisher is
// never granted without a confirmed subscription.
func (s *EntitlementService) fallbackRoles(userID string) []domain.RoleName {
	roles := []domain.RoleName{domain.RoleClient}
	ctx, cancel := context.WithTimeout(context.Background(), fallbackRoleTimeout)
	defer cancel()
	assignments, err := s.users.ListRoles(ctx, userID)
	if err != nil {
		return roles
	}
	if domain.HasRole(domain.ActiveRoles(assignments), domain.RoleSuperadmin) {
		roles = append(roles, domain.RoleSuperadmin)
	}
	return roles
}

// store caches ent unless the user was invalidated after gen was read. An
// invalidation landing during the write is caught by the second check and
// the entry is dropped again.
func (s *EntitlementService) store(ctx context.Context, userID string, gen uint64, ent *domain.Entitlement) {
	if s.generation(userID).Load() != gen {
		return
	}
	if err := s.cache.Set(ctx, userID, *ent); err != nil {
		s.logger.Warn("entitlement cache write failed", zap.String("user_id", userID), zap.Error(err))
		return
	}
	if s.generation(userID).Load() == gen {
		return
	}
	if err := s.cache.Invalidate(ctx, userID); err != nil {
		s.logger.Error("failed to drop superseded entitlement", zap.String("user_id", userID), zap.Error(err))
	}
}

func (s *EntitlementService) generation(userID string) *atomic.Uint64 {
	if v, ok := s.generations.Load(userID); ok {
		return v.(*atomic.Uint64)
	}
	v, _ := s.generations.LoadOrStore(userID, new(atomic.Uint64))
	return v.(*atomic.Uint64)
}

func copyEntitlement(e *domain.Entitlement) *domain.Entitlement {
	out := *e
	out.Roles = slices.Clone(e.Roles)
	return &out
}
