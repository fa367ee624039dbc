package service

import (
	"context"

	"github.com/Nexar-Turismo/nexarturismo-sub002/internal/domain"
	"github.com/Nexar-Turismo/nexarturismo-sub002/pkg/payment"
	"go.uber.org/zap"
)

// PlanCatalogService exposes the plan catalog and mirrors it to the provider.
type PlanCatalogService struct {
	plans   PlanStore
	gateway payment.Gateway
	backURL string
	logger  *zap.Logger
}

// NewPlanCatalogService creates a new PlanCatalogService. backURL is where the
// provider sends payers after checkout.
func NewPlanCatalogService(plans PlanStore, gateway payment.Gateway, backURL string, logger *zap.Logger) *PlanCatalogService {
	return &PlanCatalogService{
		plans:   plans,
		gateway: gateway,
		backURL: backURL,
		logger:  logger.Named("catalog"),
	}
}

// ListPlans returns the plans offered to users.
func (s *PlanCatalogService) ListPlans(ctx context.Context) ([]*domain.SubscriptionPlan, error) {
	plans, err := s.plans.ListVisible(ctx)
	if err != nil {
		return nil, domain.ErrInternal("failed to list plans", err)
	}
	if plans == nil {
		plans = []*domain.SubscriptionPlan{}
	}
	return plans, nil
}

// SyncPlan creates or updates the provider plan for a catalog entry and
// stores the provider plan id.
func (s *PlanCatalogService) SyncPlan(ctx context.Context, planID string) (*domain.SubscriptionPlan, error) {
	plan, err := s.plans.FindByID(ctx, planID)
	if err != nil {
		return nil, domain.ErrInternal("failed to load plan", err)
	}
	if plan == nil {
		return nil, domain.ErrNotFound("plan not found")
	}

	freq, freqType, err := payment.Frequency(string(plan.BillingCycle))
	if err != nil {
		return nil, domain.ErrValidation(err.Error())
	}
	spec := payment.PlanSpec{
		Reason:            plan.Name,
		Amount:            plan.Price,
		Currency:          plan.Currency,
		Frequency:         freq,
		FrequencyType:     freqType,
		BackURL:           s.backURL,
		ExternalReference: plan.ID,
	}

	var providerPlanID string
	err = retryProvider(ctx, func() error {
		var err error
		providerPlanID, err = s.gateway.UpsertPlan(ctx, spec, plan.ProviderPlanID)
		return err
	})
	if err != nil {
		return nil, mapProviderError("failed to sync plan with provider", err)
	}

	if providerPlanID != plan.ProviderPlanID {
		if err := s.plans.SetProviderPlanID(ctx, plan.ID, providerPlanID); err != nil {
			return nil, domain.ErrInternal("failed to store provider plan id", err)
		}
		s.logger.Info("provider plan linked",
			zap.String("plan_id", plan.ID),
			zap.String("previous", plan.ProviderPlanID),
			zap.String("provider_plan_id", providerPlanID),
		)
		plan.ProviderPlanID = providerPlanID
	}
	return plan, nil
}
