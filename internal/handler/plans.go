package handler

import (
	"context"
	"net/http"

	"github.com/Nexar-Turismo/nexarturismo-sub002/internal/domain"
	"github.com/go-chi/chi/v5"
)

// PlanCatalog lists plans and pushes them to the payment provider.
type PlanCatalog interface {
	ListPlans(ctx context.Context) ([]*domain.SubscriptionPlan, error)
	SyncPlan(ctx context.Context, planID string) (*domain.SubscriptionPlan, error)
}

// PlansHandler handles plan-related endpoints.
type PlansHandler struct {
	catalog PlanCatalog
}

// NewPlansHandler creates a new PlansHandler.
func NewPlansHandler(catalog PlanCatalog) *PlansHandler {
	return &PlansHandler{catalog: catalog}
}

// List handles GET /api/plans.
func (h *PlansHandler) List(w http.ResponseWriter, r *http.Request) {
	plans, err := h.catalog.ListPlans(r.Context())
	if err != nil {
		Error(w, err)
		return
	}
	JSON(w, http.StatusOK, plans)
}

// Sync handles POST /api/admin/plans/{id}/sync.
func (h *PlansHandler) Sync(w http.ResponseWriter, r *http.Request) {
	plan, err := h.catalog.SyncPlan(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		Error(w, err)
		return
	}
	JSON(w, http.StatusOK, plan)
}
