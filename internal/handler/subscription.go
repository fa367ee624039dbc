package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/Nexar-Turismo/nexarturismo-sub002/internal/domain"
)

// PlanChanger moves a user between subscriptions.
type PlanChanger interface {
	ChangePlan(ctx context.Context, userID string, req *domain.ChangePlanRequest) (*domain.ChangePlanResult, error)
}

// Teardown removes a user's subscription data or their whole account.
type Teardown interface {
	Unsubscribe(ctx context.Context, userID string, req *domain.UnsubscribeRequest) (*domain.DeletionManifest, error)
	DeleteAccount(ctx context.Context, userID string) (*domain.DeletionManifest, error)
}

// SubscriptionHandler handles plan changes, unsubscribe and account deletion.
type SubscriptionHandler struct {
	planChanges PlanChanger
	teardown    Teardown
}

// NewSubscriptionHandler creates a new SubscriptionHandler.
func NewSubscriptionHandler(planChanges PlanChanger, teardown Teardown) *SubscriptionHandler {
	return &SubscriptionHandler{planChanges: planChanges, teardown: teardown}
}

// ChangePlan handles POST /api/subscriptions/change-plan.
func (h *SubscriptionHandler) ChangePlan(w http.ResponseWriter, r *http.Request) {
	uid, err := userID(r)
	if err != nil {
		Error(w, err)
		return
	}
	var req domain.ChangePlanRequest
	if err := DecodeJSON(w, r, &req); err != nil {
		Error(w, err)
		return
	}
	result, err := h.planChanges.ChangePlan(r.Context(), uid, &req)
	if err != nil {
		Error(w, err)
		return
	}
	JSON(w, http.StatusOK, result)
}

// Unsubscribe handles POST /api/subscriptions/unsubscribe. The body is optional.
func (h *SubscriptionHandler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	uid, err := userID(r)
	if err != nil {
		Error(w, err)
		return
	}
	var req domain.UnsubscribeRequest
	if r.ContentLength != 0 {
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		if err := decodeOptional(r.Body, &req); err != nil {
			Error(w, err)
			return
		}
	}
	manifest, err := h.teardown.Unsubscribe(r.Context(), uid, &req)
	if err != nil {
		Error(w, err)
		return
	}
	JSON(w, manifestStatus(manifest), manifest)
}

// DeleteAccount handles DELETE /api/account.
func (h *SubscriptionHandler) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	uid, err := userID(r)
	if err != nil {
		Error(w, err)
		return
	}
	manifest, err := h.teardown.DeleteAccount(r.Context(), uid)
	if err != nil {
		Error(w, err)
		return
	}
	JSON(w, manifestStatus(manifest), manifest)
}

// manifestStatus reports a partial teardown as 207 so clients know to retry.
func manifestStatus(m *domain.DeletionManifest) int {
	if m.Partial {
		return http.StatusMultiStatus
	}
	return http.StatusOK
}

func decodeOptional(body io.Reader, v interface{}) error {
	err := json.NewDecoder(body).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return domain.ErrBadRequest("invalid JSON body")
}
