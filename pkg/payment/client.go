package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Nexar-Turismo/nexarturismo-sub002/internal/metrics"
	"golang.org/x/oauth2"
)

const (
	defaultAPIBaseURL = "https://api.mercadopago.com"
	defaultAuthURL    = "https://auth.mercadopago.com/authorization"
	defaultTimeout    = 5 * time.Second
	maxBodyBytes      = 1 << 20
)

// Config holds the two credential scopes the provider distinguishes: the
// marketplace OAuth application used to connect seller accounts, and the
// platform access token that owns the plan catalog.
type Config struct {
	ClientID            string
	ClientSecret        string
	RedirectURL         string
	PlatformAccessToken string
	WebhookSecret       string
	APIBaseURL          string
	AuthURL             string
	TokenURL            string
	Timeout             time.Duration
}

// Client is the HTTP implementation of Gateway.
type Client struct {
	cfg        Config
	oauth      *oauth2.Config
	httpClient *http.Client
}

// NewClient creates a provider client. Empty URLs fall back to the production endpoints.
func NewClient(cfg Config) *Client {
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = defaultAPIBaseURL
	}
	cfg.APIBaseURL = strings.TrimRight(cfg.APIBaseURL, "/")
	if cfg.AuthURL == "" {
		cfg.AuthURL = defaultAuthURL
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = cfg.APIBaseURL + "/oauth/token"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}

	return &Client{
		cfg: cfg,
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint: oauth2.Endpoint{
				AuthURL:   cfg.AuthURL,
				TokenURL:  cfg.TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

var _ Gateway = (*Client)(nil)

func (c *Client) AuthorizeURL(state string) string {
	return c.oauth.AuthCodeURL(state, oauth2.SetAuthURLParam("platform_id", "mp"))
}

func (c *Client) ExchangeCode(ctx context.Context, code string) (tok *OAuthToken, err error) {
	defer observe(OpExchangeCode, time.Now(), &err)

	if c.cfg.ClientID == "" || c.cfg.ClientSecret == "" {
		return nil, ErrNotConfigured
	}
	if strings.TrimSpace(code) == "" {
		return nil, &ProviderError{Op: OpExchangeCode, Kind: KindRejected, Err: errors.New("authorization code is required")}
	}

	t, err := c.oauth.Exchange(c.oauthContext(ctx), strings.TrimSpace(code))
	if err != nil {
		return nil, oauthError(OpExchangeCode, err)
	}
	return toOAuthToken(t), nil
}

func (c *Client) RefreshToken(ctx context.Context, refreshToken string) (tok *OAuthToken, err error) {
	if strings.TrimSpace(refreshToken) == "" {
		return nil, ErrNoRefreshToken
	}
	defer observe(OpRefreshToken, time.Now(), &err)

	if c.cfg.ClientID == "" || c.cfg.ClientSecret == "" {
		return nil, ErrNotConfigured
	}

	src := c.oauth.TokenSource(c.oauthContext(ctx), &oauth2.Token{RefreshToken: refreshToken})
	t, err := src.Token()
	if err != nil {
		return nil, oauthError(OpRefreshToken, err)
	}
	return toOAuthToken(t), nil
}

func (c *Client) GetUserInfo(ctx context.Context, accessToken string) (*UserInfo, error) {
	var raw struct {
		ID        json.Number `json:"id"`
		Nickname  string      `json:"nickname"`
		Email     string      `json:"email"`
		FirstName string      `json:"first_name"`
		LastName  string      `json:"last_name"`
		CountryID string      `json:"country_id"`
		SiteID    string      `json:"site_id"`
	}
	if err := c.do(ctx, OpGetUserInfo, http.MethodGet, "/users/me", accessToken, nil, &raw); err != nil {
		return nil, err
	}
	return &UserInfo{
		ID:        raw.ID.String(),
		Nickname:  raw.Nickname,
		Email:     raw.Email,
		FirstName: raw.FirstName,
		LastName:  raw.LastName,
		CountryID: raw.CountryID,
		SiteID:    raw.SiteID,
	}, nil
}

func (c *Client) ValidateToken(ctx context.Context, accessToken string) error {
	_, err := c.GetUserInfo(ctx, accessToken)
	return err
}

type autoRecurring struct {
	Frequency         int     `json:"frequency"`
	FrequencyType     string  `json:"frequency_type"`
	TransactionAmount float64 `json:"transaction_amount"`
	CurrencyID        string  `json:"currency_id"`
}

type planBody struct {
	Reason            string        `json:"reason"`
	AutoRecurring     autoRecurring `json:"auto_recurring"`
	BackURL           string        `json:"back_url,omitempty"`
	ExternalReference string        `json:"external_reference,omitempty"`
}

type idResponse struct {
	ID string `json:"id"`
}

func (c *Client) UpsertPlan(ctx context.Context, plan PlanSpec, providerPlanID string) (string, error) {
	if c.cfg.PlatformAccessToken == "" {
		return "", ErrNotConfigured
	}
	body := planBody{
		Reason: plan.Reason,
		AutoRecurring: autoRecurring{
			Frequency:         plan.Frequency,
			FrequencyType:     plan.FrequencyType,
			TransactionAmount: plan.Amount,
			CurrencyID:        plan.Currency,
		},
		BackURL:           plan.BackURL,
		ExternalReference: plan.ExternalReference,
	}

	if providerPlanID != "" {
		var out idResponse
		path := "/preapproval_plan/" + url.PathEscape(providerPlanID)
		if err := c.do(ctx, OpUpdatePlan, http.MethodPut, path, c.cfg.PlatformAccessToken, body, &out); err == nil {
			if out.ID == "" {
				out.ID = providerPlanID
			}
			return out.ID, nil
		}
	}

	var out idResponse
	if err := c.do(ctx, OpCreatePlan, http.MethodPost, "/preapproval_plan", c.cfg.PlatformAccessToken, body, &out); err != nil {
		return "", err
	}
	if out.ID == "" {
		return "", &ProviderError{Op: OpCreatePlan, Kind: KindRejected, Err: errors.New("response carried no plan id")}
	}
	return out.ID, nil
}

func (c *Client) CancelSubscription(ctx context.Context, providerSubscriptionID string) error {
	if c.cfg.PlatformAccessToken == "" {
		return ErrNotConfigured
	}
	path := "/preapproval/" + url.PathEscape(providerSubscriptionID)
	body := map[string]string{"status": StatusCancelled}
	return c.do(ctx, OpCancelSubscription, http.MethodPut, path, c.cfg.PlatformAccessToken, body, nil)
}

func (c *Client) GetSubscription(ctx context.Context, providerSubscriptionID string) (*SubscriptionState, error) {
	if c.cfg.PlatformAccessToken == "" {
		return nil, ErrNotConfigured
	}
	var raw struct {
		ID                string      `json:"id"`
		Status            string      `json:"status"`
		LastModified      string      `json:"last_modified"`
		NextPaymentDate   string      `json:"next_payment_date"`
		ExternalReference string      `json:"external_reference"`
		PreapprovalPlanID string      `json:"preapproval_plan_id"`
		PayerID           json.Number `json:"payer_id"`
	}
	path := "/preapproval/" + url.PathEscape(providerSubscriptionID)
	if err := c.do(ctx, OpGetSubscription, http.MethodGet, path, c.cfg.PlatformAccessToken, nil, &raw); err != nil {
		return nil, err
	}

	state := &SubscriptionState{
		ID:                raw.ID,
		Status:            raw.Status,
		ExternalReference: raw.ExternalReference,
		PlanID:            raw.PreapprovalPlanID,
		PayerID:           raw.PayerID.String(),
	}
	if t, ok := parseTime(raw.LastModified); ok {
		state.LastModified = t
	}
	if t, ok := parseTime(raw.NextPaymentDate); ok {
		state.NextPaymentDate = &t
	}
	return state, nil
}

func (c *Client) VerifySignature(signature, requestID, dataID string) bool {
	return VerifySignature(c.cfg.WebhookSecret, signature, requestID, dataID)
}

// do sends a JSON request with a bearer token and decodes a 2xx response into out.
func (c *Client) do(ctx context.Context, op, method, path, token string, in, out any) (err error) {
	defer observe(op, time.Now(), &err)

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode %s request: %w", op, err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.APIBaseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to build %s request: %w", op, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return unavailable(op, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return unavailable(op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return statusError(op, resp.StatusCode, string(raw))
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &ProviderError{Op: op, Kind: KindRejected, StatusCode: resp.StatusCode, Err: fmt.Errorf("malformed response: %w", err)}
	}
	return nil
}

func (c *Client) oauthContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
}

func oauthError(op string, err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && re.Response != nil {
		return statusError(op, re.Response.StatusCode, string(re.Body))
	}
	return unavailable(op, err)
}

func toOAuthToken(t *oauth2.Token) *OAuthToken {
	out := &OAuthToken{
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		ExpiresAt:    t.Expiry,
	}
	if v, ok := t.Extra("expires_in").(float64); ok {
		out.ExpiresIn = int(v)
	} else if !t.Expiry.IsZero() {
		out.ExpiresIn = int(time.Until(t.Expiry).Round(time.Second).Seconds())
	}
	if v, ok := t.Extra("scope").(string); ok {
		out.Scope = v
	}
	switch v := t.Extra("user_id").(type) {
	case float64:
		out.ProviderUserID = strconv.FormatInt(int64(v), 10)
	case string:
		out.ProviderUserID = v
	}
	return out
}

func parseTime(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func observe(op string, start time.Time, errp *error) {
	metrics.ProviderCallDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	outcome := "ok"
	if err := *errp; err != nil {
		var pe *ProviderError
		if errors.As(err, &pe) {
			outcome = pe.Kind.String()
		} else {
			outcome = "error"
		}
	}
	metrics.ProviderCalls.WithLabelValues(op, outcome).Inc()
}
