package service

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/Nexar-Turismo/nexarturismo-sub002/internal/domain"
	"github.com/Nexar-Turismo/nexarturismo-sub002/pkg/payment"
	"go.uber.org/zap"
)

// Callback failure reasons carried in the redirect.
const (
	callbackMissingCode    = "missing_code"
	callbackInvalidState   = "invalid_state"
	callbackExpiredState   = "expired_state"
	callbackExchangeFailed = "exchange_failed"
	callbackStorageFailed  = "storage_failed"
	callbackDenied         = "access_denied"
)

const callbackLandingPath = "/account/payments"

// AccountService connects a user's payment-provider account through OAuth
// and reports whether the connection is still usable.
type AccountService struct {
	accounts      ProviderAccountStore
	gateway       payment.Gateway
	sealer        TokenSealer
	publicBaseURL string
	stateMaxAge   time.Duration
	logger        *zap.Logger
	now           func() time.Time
}

// NewAccountService creates a new AccountService.
func NewAccountService(
	accounts ProviderAccountStore,
	gateway payment.Gateway,
	sealer TokenSealer,
	publicBaseURL string,
	stateMaxAge time.Duration,
	logger *zap.Logger,
) *AccountService {
	return &AccountService{
		accounts:      accounts,
		gateway:       gateway,
		sealer:        sealer,
		publicBaseURL: strings.TrimRight(publicBaseURL, "/"),
		stateMaxAge:   stateMaxAge,
		logger:        logger.Named("accounts"),
		now:           time.Now,
	}
}

// Authorize returns the provider consent URL for userID.
func (s *AccountService) Authorize(userID string) (*domain.AuthorizeResponse, error) {
	if userID == "" {
		return nil, domain.ErrValidation("userId is required")
	}
	return &domain.AuthorizeResponse{URL: s.gateway.AuthorizeURL(payment.FormatState(userID, s.now()))}, nil
}

// CallbackParams is what the provider sends back to the redirect URL.
type CallbackParams struct {
	Code  string
	State string
	Error string
}

// Callback completes the OAuth flow. It always returns the URL to send the
// browser to; a non-nil error explains a failed connection.
func (s *AccountService) Callback(ctx context.Context, p CallbackParams) (string, error) {
	if p.Error != "" {
		return s.landing(callbackDenied), domain.ErrValidation("provider returned error: " + p.Error)
	}
	if p.Code == "" {
		return s.landing(callbackMissingCode), domain.ErrValidation("authorization code is required")
	}

	userID, issued, err := payment.ParseState(p.State)
	if err != nil {
		return s.landing(callbackInvalidState), domain.ErrValidation("invalid state")
	}
	now := s.now()
	if age := now.Sub(issued); age > s.stateMaxAge || age < -time.Minute {
		return s.landing(callbackExpiredState), domain.ErrValidation("state expired")
	}

	tok, err := s.gateway.ExchangeCode(ctx, p.Code)
	if err != nil {
		return s.landing(callbackExchangeFailed), mapProviderError("failed to exchange authorization code", err)
	}

	account := &domain.ProviderAccount{
		ID:             domain.NewID(),
		UserID:         userID,
		ProviderUserID: tok.ProviderUserID,
		Scope:          tok.Scope,
		IsActive:       true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if info, err := s.gateway.GetUserInfo(ctx, tok.AccessToken); err != nil {
		s.logger.Warn("failed to fetch provider profile", zap.String("user_id", userID), zap.Error(err))
	} else {
		account.ProfileSnapshot = info.Snapshot()
		if account.ProviderUserID == "" {
			account.ProviderUserID = info.ID
		}
	}
	if tok.ExpiresIn > 0 {
		exp := now.Add(time.Duration(tok.ExpiresIn) * time.Second)
		account.ExpiresAt = &exp
	}

	if account.AccessToken, err = s.sealer.Seal(tok.AccessToken); err != nil {
		return s.landing(callbackStorageFailed), domain.ErrInternal("failed to seal access token", err)
	}
	if account.RefreshToken, err = s.sealer.Seal(tok.RefreshToken); err != nil {
		return s.landing(callbackStorageFailed), domain.ErrInternal("failed to seal refresh token", err)
	}
	if err := s.accounts.ReplaceActive(ctx, account); err != nil {
		return s.landing(callbackStorageFailed), domain.ErrInternal("failed to store provider account", err)
	}

	s.logger.Info("provider account connected",
		zap.String("user_id", userID),
		zap.String("provider_user_id", account.ProviderUserID),
	)
	return s.landing(""), nil
}

func (s *AccountService) landing(reason string) string {
	q := url.Values{}
	if reason == "" {
		q.Set("provider", "connected")
	} else {
		q.Set("provider", "error")
		q.Set("reason", reason)
	}
	return s.publicBaseURL + callbackLandingPath + "?" + q.Encode()
}

// AccountStatus validates the stored access token, refreshing it when the
// provider no longer accepts it. Provider problems are reported in the
// status, never as an error.
func (s *AccountService) AccountStatus(ctx context.Context, userID string) (*domain.AccountStatus, error) {
	account, err := s.accounts.FindActiveByUser(ctx, userID)
	if err != nil {
		return nil, domain.ErrInternal("failed to load provider account", err)
	}
	if account == nil {
		return &domain.AccountStatus{Reason: domain.ReasonNotConnected}, nil
	}

	status := &domain.AccountStatus{
		Connected:      true,
		ProviderUserID: account.ProviderUserID,
		ExpiresAt:      account.ExpiresAt,
	}
	log := s.logger.With(zap.String("user_id", userID), zap.String("account_id", account.ID))

	access, err := s.sealer.Open(account.AccessToken)
	if err != nil {
		log.Error("stored access token cannot be opened", zap.Error(err))
		status.Reason = domain.ReasonUnreadableToken
		return status, nil
	}

	err = s.gateway.ValidateToken(ctx, access)
	switch {
	case err == nil:
		status.IsActive = true
		return status, nil
	case payment.IsUnavailable(err):
		log.Warn("provider unavailable while validating token", zap.Error(err))
		status.Reason = domain.ReasonProviderUnavailable
		return status, nil
	}

	refresh, err := s.sealer.Open(account.RefreshToken)
	if err != nil {
		log.Error("stored refresh token cannot be opened", zap.Error(err))
		status.Reason = domain.ReasonUnreadableToken
		return status, nil
	}

	tok, err := s.gateway.RefreshToken(ctx, refresh)
	switch {
	case errors.Is(err, payment.ErrNoRefreshToken):
		status.Reason = domain.ReasonNoRefreshToken
		return status, nil
	case payment.IsUnavailable(err):
		log.Warn("provider unavailable while refreshing token", zap.Error(err))
		status.Reason = domain.ReasonProviderUnavailable
		return status, nil
	case err != nil:
		log.Info("token refresh refused", zap.Error(err))
		status.Reason = domain.ReasonRefreshFailed
		return status, nil
	}

	status.IsActive = true
	status.Refreshed = true
	if tok.ExpiresIn > 0 {
		exp := s.now().Add(time.Duration(tok.ExpiresIn) * time.Second)
		status.ExpiresAt = &exp
	}

	newRefresh := tok.RefreshToken
	if newRefresh == "" {
		newRefresh = refresh
	}
	sealedAccess, err := s.sealer.Seal(tok.AccessToken)
	if err == nil {
		var sealedRefresh string
		if sealedRefresh, err = s.sealer.Seal(newRefresh); err == nil {
			err = s.accounts.UpdateTokens(ctx, account.ID, sealedAccess, sealedRefresh, status.ExpiresAt)
		}
	}
	if err != nil {
		log.Error("failed to store refreshed tokens", zap.Error(err))
	} else {
		log.Info("provider token refreshed")
	}
	return status, nil
}
