package service

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// IdentityProvider removes a user from the external identity subsystem.
type IdentityProvider interface {
	DeleteUser(ctx context.Context, userID string) error
}

// HTTPIdentityProvider calls the identity subsystem's admin API.
type HTTPIdentityProvider struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewHTTPIdentityProvider creates a client for DELETE {baseURL}/users/{id}.
func NewHTTPIdentityProvider(baseURL, token string) *HTTPIdentityProvider {
	return &HTTPIdentityProvider{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: 5 * time.Second},
	}
}

func (p *HTTPIdentityProvider) DeleteUser(ctx context.Context, userID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, p.baseURL+"/users/"+url.PathEscape(userID), nil)
	if err != nil {
		return fmt.Errorf("failed to build identity request: %w", err)
	}
	if p.token != "" {
		req.Header.Set("Authorization", "Bearer "+p.token)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("identity provider unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("identity provider returned status %d: %s", resp.StatusCode, string(body))
	}
	return nil
}

// noopIdentityProvider is used when no identity admin API is configured.
type noopIdentityProvider struct{}

func (noopIdentityProvider) DeleteUser(context.Context, string) error { return nil }

// NoopIdentityProvider returns an IdentityProvider that does nothing.
func NoopIdentityProvider() IdentityProvider { return noopIdentityProvider{} }
