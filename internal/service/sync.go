package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/Nexar-Turismo/nexarturismo-sub002/internal/domain"
	"github.com/Nexar-Turismo/nexarturismo-sub002/internal/metrics"
	"github.com/Nexar-Turismo/nexarturismo-sub002/pkg/payment"
	"go.uber.org/zap"
)

// SyncService brings local subscriptions in line with the provider, from
// webhooks and from periodic probes.
type SyncService struct {
	subs         SubscriptionStore
	events       WebhookEventStore
	gateway      payment.Gateway
	entitlements Invalidator
	logger       *zap.Logger
	now          func() time.Time
}

// NewSyncService creates a new SyncService.
func NewSyncService(
	subs SubscriptionStore,
	events WebhookEventStore,
	gateway payment.Gateway,
	entitlements Invalidator,
	logger *zap.Logger,
) *SyncService {
	return &SyncService{
		subs:         subs,
		events:       events,
		gateway:      gateway,
		entitlements: entitlements,
		logger:       logger.Named("sync"),
		now:          time.Now,
	}
}

func subscriptionNotification(t string) bool {
	switch t {
	case domain.NotificationPreapproval, domain.NotificationPreapprovalLegacy:
		return true
	}
	return false
}

// HandleNotification processes one provider webhook. The payload is only a
// hint: the current state is always fetched from the provider. An error is
// returned only when our own store failed and the provider should redeliver.
func (s *SyncService) HandleNotification(ctx context.Context, n domain.Notification) (*domain.WebhookAck, error) {
	eventID := n.ID
	if eventID == "" {
		sum := sha256.Sum256(n.RawPayload)
		eventID = "sha256:" + hex.EncodeToString(sum[:])
	}

	isNew, err := s.events.Record(ctx, &domain.WebhookEvent{
		ID:              domain.NewID(),
		ProviderEventID: eventID,
		Type:            n.Type,
		Action:          n.Action,
		ResourceID:      n.DataID,
		Payload:         n.RawPayload,
		ReceivedAt:      s.now(),
	})
	if err != nil {
		return nil, domain.ErrInternal("failed to record webhook", err)
	}
	if !isNew {
		return s.ack(n, domain.OutcomeDuplicate), nil
	}

	outcome, procErr := s.process(ctx, n)
	if procErr != nil && outcome == "" {
		// Left unprocessed so a redelivery is handled again.
		return nil, domain.ErrInternal("failed to apply webhook", procErr)
	}

	note := ""
	if procErr != nil {
		note = procErr.Error()
	}
	if err := s.events.MarkProcessed(ctx, eventID, note); err != nil {
		s.logger.Warn("failed to mark webhook processed", zap.String("event_id", eventID), zap.Error(err))
	}
	return s.ack(n, outcome), nil
}

// process returns an empty outcome with an error for failures that should be
// retried by redelivery, and an outcome with an optional note otherwise.
func (s *SyncService) process(ctx context.Context, n domain.Notification) (string, error) {
	if !subscriptionNotification(n.Type) || n.DataID == "" {
		s.logger.Debug("ignoring notification", zap.String("type", n.Type), zap.String("data_id", n.DataID))
		return domain.OutcomeIgnored, nil
	}

	var state *payment.SubscriptionState
	err := retryProvider(ctx, func() error {
		var err error
		state, err = s.gateway.GetSubscription(ctx, n.DataID)
		return err
	})
	if err != nil {
		if payment.IsUnavailable(err) {
			s.logger.Warn("provider unavailable, deferring to reconciler",
				zap.String("provider_subscription_id", n.DataID), zap.Error(err))
			return domain.OutcomeDeferred, err
		}
		s.logger.Warn("provider refused subscription lookup",
			zap.String("provider_subscription_id", n.DataID), zap.Error(err))
		return domain.OutcomeIgnored, err
	}

	sub, err := s.subs.FindByProviderID(ctx, n.DataID)
	if err != nil {
		return "", err
	}
	if sub == nil {
		s.logger.Info("notification for unknown subscription", zap.String("provider_subscription_id", n.DataID))
		return domain.OutcomeIgnored, nil
	}

	outcome, _, err := s.Apply(ctx, sub, state)
	if err != nil {
		return "", err
	}
	return outcome, nil
}

func (s *SyncService) ack(n domain.Notification, outcome string) *domain.WebhookAck {
	metrics.WebhookEvents.WithLabelValues(n.Type, outcome).Inc()
	return &domain.WebhookAck{Received: true, Outcome: outcome}
}

// Refresh probes the provider for sub and applies the result. It returns the
// subscription as now stored.
func (s *SyncService) Refresh(ctx context.Context, sub *domain.UserSubscription) (*domain.UserSubscription, error) {
	state, err := s.gateway.GetSubscription(ctx, sub.ProviderSubscriptionID)
	if err != nil {
		return nil, err
	}
	_, updated, err := s.Apply(ctx, sub, state)
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Apply writes a provider state onto sub when it is newer than the last one
// applied. Older or equal states are discarded, so replays and out-of-order
// deliveries are harmless.
func (s *SyncService) Apply(ctx context.Context, sub *domain.UserSubscription, state *payment.SubscriptionState) (string, *domain.UserSubscription, error) {
	now := s.now()
	log := s.logger.With(
		zap.String("subscription_id", sub.ID),
		zap.String("provider_status", state.Status),
	)

	target, ok := mapProviderStatus(state.Status)
	if !ok {
		log.Warn("unknown provider status")
		return domain.OutcomeIgnored, s.markChecked(ctx, sub, now), nil
	}

	// A state without a timestamp carries no ordering. It is applied but does
	// not move the watermark, so a later timestamped state is still judged
	// against the provider's clock rather than ours.
	modified := state.LastModified
	stamped := !modified.IsZero()
	if stamped && sub.ProviderUpdatedAt != nil && !modified.After(*sub.ProviderUpdatedAt) {
		log.Debug("discarding provider state not newer than stored",
			zap.Time("last_modified", modified),
			zap.Time("stored", *sub.ProviderUpdatedAt),
		)
		return domain.OutcomeDiscarded, s.markChecked(ctx, sub, now), nil
	}

	next := *sub
	if target != sub.Status || target == domain.StatusActive {
		if err := transition(&next, target); err != nil {
			log.Warn("discarding provider state", zap.Error(err))
			return domain.OutcomeDiscarded, s.markChecked(ctx, sub, now), nil
		}
	}

	if target == domain.StatusActive && sub.Status != domain.StatusActive {
		blocked, err := s.otherEntitling(ctx, sub)
		if err != nil {
			return "", nil, err
		}
		if blocked != nil {
			log.Error("provider activated a subscription while another is active",
				zap.String("user_id", sub.UserID),
				zap.String("active_subscription_id", blocked.ID),
			)
			return domain.OutcomeFailed, s.markChecked(ctx, sub, now), nil
		}
	}

	switch {
	case target == domain.StatusActive && state.NextPaymentDate != nil:
		end := *state.NextPaymentDate
		next.EndDate = &end
	case target.Terminal() && (next.EndDate == nil || next.EndDate.After(now)):
		next.EndDate = &now
	}
	if stamped {
		next.ProviderUpdatedAt = &modified
	}
	next.StatusCheckedAt = &now

	changed, err := s.subs.ApplyProviderState(ctx, &next, sub.ProviderUpdatedAt)
	if err != nil {
		return "", nil, err
	}
	if !changed {
		log.Debug("provider state superseded by a concurrent update")
		return domain.OutcomeDiscarded, sub, nil
	}

	log.Info("provider state applied",
		zap.String("user_id", sub.UserID),
		zap.String("from", string(sub.Status)),
		zap.String("to", string(next.Status)),
	)
	if err := s.entitlements.Invalidate(ctx, sub.UserID); err != nil {
		log.Warn("failed to invalidate entitlement", zap.Error(err))
	}
	return domain.OutcomeApplied, &next, nil
}

func (s *SyncService) otherEntitling(ctx context.Context, sub *domain.UserSubscription) (*domain.UserSubscription, error) {
	subs, err := s.subs.ListByUser(ctx, sub.UserID)
	if err != nil {
		return nil, err
	}
	for _, other := range subs {
		if other.ID != sub.ID && other.Status == domain.StatusActive {
			return other, nil
		}
	}
	return nil, nil
}

func (s *SyncService) markChecked(ctx context.Context, sub *domain.UserSubscription, now time.Time) *domain.UserSubscription {
	if err := s.subs.MarkChecked(ctx, sub.ID, now); err != nil {
		s.logger.Warn("failed to mark subscription checked", zap.String("subscription_id", sub.ID), zap.Error(err))
		return sub
	}
	out := *sub
	out.StatusCheckedAt = &now
	return &out
}

// ReconcileStale probes subscriptions whose status has not been checked for
// staleAfter. It returns how many changed.
func (s *SyncService) ReconcileStale(ctx context.Context, staleAfter time.Duration, limit int) (int, error) {
	subs, err := s.subs.ListStale(ctx, s.now().Add(-staleAfter), limit)
	if err != nil {
		return 0, err
	}

	applied := 0
	for _, sub := range subs {
		if ctx.Err() != nil {
			return applied, ctx.Err()
		}
		state, err := s.gateway.GetSubscription(ctx, sub.ProviderSubscriptionID)
		if err != nil {
			if payment.IsUnavailable(err) {
				s.logger.Warn("provider unavailable during reconcile, stopping batch", zap.Error(err))
				return applied, nil
			}
			s.logger.Warn("provider refused status probe",
				zap.String("subscription_id", sub.ID), zap.Error(err))
			s.markChecked(ctx, sub, s.now())
			continue
		}
		outcome, _, err := s.Apply(ctx, sub, state)
		if err != nil {
			s.logger.Error("failed to apply reconciled state", zap.String("subscription_id", sub.ID), zap.Error(err))
			continue
		}
		if outcome == domain.OutcomeApplied {
			applied++
		}
	}
	return applied, nil
}
