package payment

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MockGateway is an in-memory Gateway for local development without provider
// credentials, and for tests. It is safe for concurrent use.
type MockGateway struct {
	mu            sync.Mutex
	subscriptions map[string]*SubscriptionState
	plans         map[string]PlanSpec
	codes         map[string]*OAuthToken
	accessTokens  map[string]*UserInfo
	refreshTokens map[string]*OAuthToken
	failures      map[string][]error
	calls         map[string]int
	seq           int
}

// NewMockGateway creates an empty MockGateway.
func NewMockGateway() *MockGateway {
	return &MockGateway{
		subscriptions: make(map[string]*SubscriptionState),
		plans:         make(map[string]PlanSpec),
		codes:         make(map[string]*OAuthToken),
		accessTokens:  make(map[string]*UserInfo),
		refreshTokens: make(map[string]*OAuthToken),
		failures:      make(map[string][]error),
		calls:         make(map[string]int),
	}
}

var _ Gateway = (*MockGateway)(nil)

// SetSubscription stores the provider view of a preapproval.
func (g *MockGateway) SetSubscription(state SubscriptionState) {
	g.mu.Lock()
	defer g.mu.Unlock()
	s := state
	g.subscriptions[state.ID] = &s
}

// Subscription returns the stored preapproval, if any.
func (g *MockGateway) Subscription(id string) (SubscriptionState, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, ok := g.subscriptions[id]
	if !ok {
		return SubscriptionState{}, false
	}
	return *s, true
}

// SetCode registers the tokens returned for an authorization code.
func (g *MockGateway) SetCode(code string, tok OAuthToken, info UserInfo) {
	g.mu.Lock()
	defer g.mu.Unlock()
	t := tok
	g.codes[code] = &t
	i := info
	g.accessTokens[tok.AccessToken] = &i
}

// SetAccessToken marks an access token as valid for the given profile.
func (g *MockGateway) SetAccessToken(token string, info UserInfo) {
	g.mu.Lock()
	defer g.mu.Unlock()
	i := info
	g.accessTokens[token] = &i
}

// SetRefresh registers the tokens returned when refreshing with refreshToken.
// The new access token becomes valid for info.
func (g *MockGateway) SetRefresh(refreshToken string, tok OAuthToken, info UserInfo) {
	g.mu.Lock()
	defer g.mu.Unlock()
	t := tok
	g.refreshTokens[refreshToken] = &t
	i := info
	g.accessTokens[tok.AccessToken] = &i
}

// FailNext queues errors returned by the next calls of op, in order.
func (g *MockGateway) FailNext(op string, errs ...error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failures[op] = append(g.failures[op], errs...)
}

// Calls returns how many times op was invoked.
func (g *MockGateway) Calls(op string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls[op]
}

// Plan returns a plan stored by UpsertPlan.
func (g *MockGateway) Plan(id string) (PlanSpec, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	p, ok := g.plans[id]
	return p, ok
}

// begin records a call and pops a queued failure. Callers hold g.mu.
func (g *MockGateway) begin(op string) error {
	g.calls[op]++
	if q := g.failures[op]; len(q) > 0 {
		g.failures[op] = q[1:]
		return q[0]
	}
	return nil
}

func (g *MockGateway) AuthorizeURL(state string) string {
	return "https://auth.example.test/authorization?state=" + state
}

func (g *MockGateway) ExchangeCode(ctx context.Context, code string) (*OAuthToken, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.begin(OpExchangeCode); err != nil {
		return nil, err
	}
	tok, ok := g.codes[code]
	if !ok {
		return nil, &ProviderError{Op: OpExchangeCode, Kind: KindRejected, StatusCode: 400}
	}
	delete(g.codes, code)
	out := *tok
	return &out, nil
}

func (g *MockGateway) RefreshToken(ctx context.Context, refreshToken string) (*OAuthToken, error) {
	if refreshToken == "" {
		return nil, ErrNoRefreshToken
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.begin(OpRefreshToken); err != nil {
		return nil, err
	}
	tok, ok := g.refreshTokens[refreshToken]
	if !ok {
		return nil, &ProviderError{Op: OpRefreshToken, Kind: KindRejected, StatusCode: 400}
	}
	out := *tok
	return &out, nil
}

func (g *MockGateway) GetUserInfo(ctx context.Context, accessToken string) (*UserInfo, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.begin(OpGetUserInfo); err != nil {
		return nil, err
	}
	info, ok := g.accessTokens[accessToken]
	if !ok {
		return nil, &ProviderError{Op: OpGetUserInfo, Kind: KindRejected, StatusCode: 401}
	}
	out := *info
	return &out, nil
}

func (g *MockGateway) ValidateToken(ctx context.Context, accessToken string) error {
	_, err := g.GetUserInfo(ctx, accessToken)
	return err
}

func (g *MockGateway) UpsertPlan(ctx context.Context, plan PlanSpec, providerPlanID string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if providerPlanID != "" {
		err := g.begin(OpUpdatePlan)
		if _, ok := g.plans[providerPlanID]; ok && err == nil {
			g.plans[providerPlanID] = plan
			return providerPlanID, nil
		}
	}
	if err := g.begin(OpCreatePlan); err != nil {
		return "", err
	}
	g.seq++
	id := fmt.Sprintf("plan-%d", g.seq)
	g.plans[id] = plan
	return id, nil
}

func (g *MockGateway) CancelSubscription(ctx context.Context, providerSubscriptionID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.begin(OpCancelSubscription); err != nil {
		return err
	}
	s, ok := g.subscriptions[providerSubscriptionID]
	if !ok {
		return &ProviderError{Op: OpCancelSubscription, Kind: KindRejected, StatusCode: 404}
	}
	s.Status = StatusCancelled
	s.LastModified = time.Now()
	return nil
}

func (g *MockGateway) GetSubscription(ctx context.Context, providerSubscriptionID string) (*SubscriptionState, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.begin(OpGetSubscription); err != nil {
		return nil, err
	}
	s, ok := g.subscriptions[providerSubscriptionID]
	if !ok {
		return nil, &ProviderError{Op: OpGetSubscription, Kind: KindRejected, StatusCode: 404}
	}
	out := *s
	return &out, nil
}

func (g *MockGateway) VerifySignature(signature, requestID, dataID string) bool {
	return true
}
