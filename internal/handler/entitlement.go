package handler

import (
	"context"
	"net/http"

	"github.com/Nexar-Turismo/nexarturismo-sub002/internal/domain"
	"github.com/go-chi/chi/v5"
)

// Entitlements is the part of service.EntitlementService used over HTTP.
type Entitlements interface {
	Resolve(ctx context.Context, userID string) (*domain.Entitlement, error)
	CheckPermission(ctx context.Context, userID string, action domain.Action) (*domain.Permission, error)
	SetRoles(ctx context.Context, userID string, req *domain.SetRolesRequest) (*domain.Entitlement, error)
}

// EntitlementHandler exposes entitlement lookups and admin role edits.
type EntitlementHandler struct {
	ents Entitlements
}

// NewEntitlementHandler creates a new EntitlementHandler.
func NewEntitlementHandler(ents Entitlements) *EntitlementHandler {
	return &EntitlementHandler{ents: ents}
}

// Me handles GET /api/entitlements/me.
func (h *EntitlementHandler) Me(w http.ResponseWriter, r *http.Request) {
	uid, err := userID(r)
	if err != nil {
		Error(w, err)
		return
	}
	ent, err := h.ents.Resolve(r.Context(), uid)
	if err != nil {
		Error(w, err)
		return
	}
	JSON(w, http.StatusOK, ent)
}

// Permission handles GET /api/entitlements/me/permissions/{action}.
func (h *EntitlementHandler) Permission(w http.ResponseWriter, r *http.Request) {
	uid, err := userID(r)
	if err != nil {
		Error(w, err)
		return
	}
	perm, err := h.ents.CheckPermission(r.Context(), uid, domain.Action(chi.URLParam(r, "action")))
	if err != nil {
		Error(w, err)
		return
	}
	JSON(w, http.StatusOK, perm)
}

// ForUser handles GET /api/admin/users/{id}/entitlements.
func (h *EntitlementHandler) ForUser(w http.ResponseWriter, r *http.Request) {
	ent, err := h.ents.Resolve(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		Error(w, err)
		return
	}
	JSON(w, http.StatusOK, ent)
}

// SetRoles handles PUT /api/admin/users/{id}/roles.
func (h *EntitlementHandler) SetRoles(w http.ResponseWriter, r *http.Request) {
	var req domain.SetRolesRequest
	if err := DecodeJSON(w, r, &req); err != nil {
		Error(w, err)
		return
	}
	ent, err := h.ents.SetRoles(r.Context(), chi.URLParam(r, "id"), &req)
	if err != nil {
		Error(w, err)
		return
	}
	JSON(w, http.StatusOK, ent)
}
