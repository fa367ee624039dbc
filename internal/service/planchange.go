package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/Nexar-Turismo/nexarturismo-sub002/internal/domain"
	"github.com/Nexar-Turismo/nexarturismo-sub002/pkg/payment"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// Plan-change step names.
const (
	stepCancelProvider = "cancel_provider"
	stepCloseOld       = "close_old"
	stepActivateNew    = "activate_new"
)

// PlanChangeService moves a user from one subscription to another.
type PlanChangeService struct {
	subs         SubscriptionStore
	sagas        SagaStore
	gateway      payment.Gateway
	entitlements Invalidator
	runner       *sagaRunner
	validate     *validator.Validate
	retryDelay   time.Duration
	logger       *zap.Logger
	now          func() time.Time
}

// NewPlanChangeService creates a new PlanChangeService. retryDelay is the wait
// before the second lookup of a new subscription that was not found yet.
func NewPlanChangeService(
	subs SubscriptionStore,
	sagas SagaStore,
	gateway payment.Gateway,
	entitlements Invalidator,
	retryDelay time.Duration,
	logger *zap.Logger,
) *PlanChangeService {
	return &PlanChangeService{
		subs:         subs,
		sagas:        sagas,
		gateway:      gateway,
		entitlements: entitlements,
		runner:       newSagaRunner(sagas, logger),
		validate:     validator.New(),
		retryDelay:   retryDelay,
		logger:       logger.Named("plan_change"),
		now:          time.Now,
	}
}

func planChangeID(userID string, req *domain.ChangePlanRequest) string {
	return domain.SagaPlanChange + ":" + userID + ":" + req.OldSubscriptionID + ":" + req.NewSubscriptionID
}

// ChangePlan cancels the old subscription and activates the new one. Calling
// it again with the same arguments resumes an interrupted change.
func (s *PlanChangeService) ChangePlan(ctx context.Context, userID string, req *domain.ChangePlanRequest) (*domain.ChangePlanResult, error) {
	if userID == "" {
		return nil, domain.ErrValidation("userId is required")
	}
	if err := s.validate.Struct(req); err != nil {
		return nil, domain.ErrValidation(formatValidationErrors(err))
	}

	oldSub, err := s.subs.FindByID(ctx, req.OldSubscriptionID)
	if err != nil {
		return nil, domain.ErrInternal("failed to load current subscription", err)
	}
	if oldSub == nil {
		return nil, domain.ErrNotFound("current subscription not found")
	}
	if oldSub.UserID != userID {
		return nil, domain.ErrUnauthorized("current subscription belongs to another user")
	}

	newSub, err := s.findNew(ctx, req.NewSubscriptionID)
	if err != nil {
		return nil, err
	}
	if newSub.UserID != userID {
		return nil, domain.ErrUnauthorized("new subscription belongs to another user")
	}

	result := &domain.ChangePlanResult{
		OldSubscriptionID: oldSub.ID,
		NewSubscriptionID: newSub.ID,
		NewPlanName:       newSub.PlanName,
	}

	id := planChangeID(userID, req)
	run, err := s.sagas.Get(ctx, id)
	if err != nil {
		return nil, domain.ErrInternal("failed to load plan change progress", err)
	}
	if run != nil && run.Status == domain.SagaCompleted {
		return result, nil
	}
	if newSub.Status.Terminal() {
		return nil, domain.ErrValidation("new subscription is " + string(newSub.Status))
	}

	if run == nil {
		run, err = s.runner.load(ctx, id, domain.SagaPlanChange, userID, req)
		if err != nil {
			return nil, domain.ErrInternal("failed to start plan change", err)
		}
	}

	log := s.logger.With(
		zap.String("user_id", userID),
		zap.String("old_subscription_id", oldSub.ID),
		zap.String("new_subscription_id", newSub.ID),
		zap.Int("resume_after_step", run.CompletedStep),
	)
	log.Info("changing plan")

	err = s.runner.execute(ctx, run, s.steps(oldSub, newSub))
	if ierr := s.entitlements.Invalidate(ctx, userID); ierr != nil {
		log.Warn("failed to invalidate entitlement", zap.Error(ierr))
	}
	if err != nil {
		var se *stepError
		if errors.As(err, &se) && se.name == stepActivateNew {
			return nil, domain.ErrPartialFailure("current plan closed but new plan not activated; retry to resume", err)
		}
		return nil, domain.ErrInternal("failed to close current subscription", err)
	}

	log.Info("plan changed", zap.String("new_plan", newSub.PlanName))
	return result, nil
}

// findNew looks the new subscription up, retrying once after retryDelay since
// it may have been created moments ago.
func (s *PlanChangeService) findNew(ctx context.Context, id string) (*domain.UserSubscription, error) {
	sub, err := s.subs.FindByID(ctx, id)
	if err != nil {
		return nil, domain.ErrInternal("failed to load new subscription", err)
	}
	if sub != nil {
		return sub, nil
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(s.retryDelay):
	}

	sub, err = s.subs.FindByID(ctx, id)
	if err != nil {
		return nil, domain.ErrInternal("failed to load new subscription", err)
	}
	if sub == nil {
		return nil, domain.ErrNotFound("new subscription not found")
	}
	return sub, nil
}

func (s *PlanChangeService) steps(oldSub, newSub *domain.UserSubscription) []sagaStep {
	return []sagaStep{
		{
			name:       stepCancelProvider,
			bestEffort: true,
			run: func(ctx context.Context) error {
				if oldSub.ProviderSubscriptionID == "" || oldSub.Status.Terminal() {
					return nil
				}
				return retryProvider(ctx, func() error {
					return s.gateway.CancelSubscription(ctx, oldSub.ProviderSubscriptionID)
				})
			},
		},
		{
			name: stepCloseOld,
			run: func(ctx context.Context) error {
				if err := s.close(ctx, oldSub, newSub.ID); err != nil {
					return err
				}
				others, err := s.subs.ListByUser(ctx, oldSub.UserID)
				if err != nil {
					return err
				}
				for _, other := range others {
					if other.ID == oldSub.ID || other.ID == newSub.ID || other.Status != domain.StatusActive {
						continue
					}
					if err := s.close(ctx, other, newSub.ID); err != nil {
						return err
					}
				}
				return nil
			},
		},
		{
			name: stepActivateNew,
			run: func(ctx context.Context) error {
				if newSub.Status == domain.StatusActive {
					return nil
				}
				next := *newSub
				if err := transition(&next, domain.StatusActive); err != nil {
					return err
				}
				next.StartDate = s.now()
				next.Metadata = withMeta(newSub.Metadata, map[string]string{
					domain.MetaPreviousPlanName: oldSub.PlanName,
					domain.MetaReplaces:         oldSub.ID,
				})
				if err := s.subs.Update(ctx, &next); err != nil {
					return err
				}
				*newSub = next
				return nil
			},
		},
	}
}

// close cancels sub locally and points it at its replacement. Already
// terminal subscriptions are left as they are.
func (s *PlanChangeService) close(ctx context.Context, sub *domain.UserSubscription, replacedBy string) error {
	if sub.Status.Terminal() {
		return nil
	}
	next := *sub
	if err := transition(&next, domain.StatusCancelled); err != nil {
		return err
	}
	now := s.now()
	next.EndDate = &now
	next.Metadata = withMeta(sub.Metadata, map[string]string{
		domain.MetaReplacedBy:   replacedBy,
		domain.MetaCancelReason: "plan_change",
	})
	if err := s.subs.Update(ctx, &next); err != nil {
		return err
	}
	*sub = next
	return nil
}

// ResumePending retries plan changes that stopped or stalled before the given
// age. It returns how many completed.
func (s *PlanChangeService) ResumePending(ctx context.Context, olderThan time.Duration, limit int) (int, error) {
	runs, err := s.sagas.ListResumable(ctx, domain.SagaPlanChange, s.now().Add(-olderThan), limit)
	if err != nil {
		return 0, err
	}

	resumed := 0
	for _, run := range runs {
		var req domain.ChangePlanRequest
		if err := json.Unmarshal(run.Payload, &req); err != nil {
			s.logger.Error("unreadable plan change payload", zap.String("saga_id", run.ID), zap.Error(err))
			continue
		}
		if _, err := s.ChangePlan(ctx, run.UserID, &req); err != nil {
			if permanent(err) {
				s.abandon(ctx, run, err)
				continue
			}
			s.logger.Warn("plan change resume failed", zap.String("saga_id", run.ID), zap.Error(err))
			continue
		}
		resumed++
	}
	return resumed, nil
}

// permanent reports errors a retry cannot fix.
func permanent(err error) bool {
	return domain.IsKind(err, domain.KindValidation) ||
		domain.IsKind(err, domain.KindNotFound) ||
		domain.IsKind(err, domain.KindUnauthorized)
}

func (s *PlanChangeService) abandon(ctx context.Context, run *domain.SagaRun, cause error) {
	run.Status = domain.SagaAbandoned
	run.LastError = cause.Error()
	run.UpdatedAt = s.now()
	if err := s.sagas.Save(ctx, run); err != nil {
		s.logger.Warn("failed to abandon plan change", zap.String("saga_id", run.ID), zap.Error(err))
		return
	}
	s.logger.Warn("plan change abandoned", zap.String("saga_id", run.ID), zap.Error(cause))
}

func withMeta(base, extra map[string]string) map[string]string {
	out := make(map[string]string, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}
