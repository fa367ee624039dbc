package handler

import (
	"context"
	"net/http"

	"github.com/Nexar-Turismo/nexarturismo-sub002/internal/domain"
	"github.com/Nexar-Turismo/nexarturismo-sub002/internal/service"
	"go.uber.org/zap"
)

// Accounts manages the user's provider OAuth connection.
type Accounts interface {
	Authorize(userID string) (*domain.AuthorizeResponse, error)
	Callback(ctx context.Context, p service.CallbackParams) (string, error)
	AccountStatus(ctx context.Context, userID string) (*domain.AccountStatus, error)
}

// AccountHandler handles the provider account connection endpoints.
type AccountHandler struct {
	accounts Accounts
	logger   *zap.Logger
}

// NewAccountHandler creates a new AccountHandler.
func NewAccountHandler(accounts Accounts, logger *zap.Logger) *AccountHandler {
	return &AccountHandler{accounts: accounts, logger: logger}
}

// Status handles GET /api/provider/account.
func (h *AccountHandler) Status(w http.ResponseWriter, r *http.Request) {
	uid, err := userID(r)
	if err != nil {
		Error(w, err)
		return
	}
	status, err := h.accounts.AccountStatus(r.Context(), uid)
	if err != nil {
		Error(w, err)
		return
	}
	JSON(w, http.StatusOK, status)
}

// Authorize handles GET /api/provider/authorize.
func (h *AccountHandler) Authorize(w http.ResponseWriter, r *http.Request) {
	uid, err := userID(r)
	if err != nil {
		Error(w, err)
		return
	}
	resp, err := h.accounts.Authorize(uid)
	if err != nil {
		Error(w, err)
		return
	}
	JSON(w, http.StatusOK, resp)
}

// Callback handles GET /api/oauth/provider/callback. The browser is always
// redirected back to the app; failures travel in the landing URL.
func (h *AccountHandler) Callback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	target, err := h.accounts.Callback(r.Context(), service.CallbackParams{
		Code:  q.Get("code"),
		State: q.Get("state"),
		Error: q.Get("error"),
	})
	if err != nil {
		h.logger.Warn("provider oauth callback failed", zap.Error(err))
	}
	http.Redirect(w, r, target, http.StatusSeeOther)
}
