package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("JWT_SECRET", "jwt-secret")
	t.Setenv("DATABASE_URL", "postgres://localhost:5432/nexar")
	t.Setenv("ENCRYPTION_KEY", "0123456789abcdef0123456789abcdef")
}

func TestLoad_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 4001, cfg.Port)
	assert.Equal(t, 60*time.Second, cfg.Entitlements.CacheTTL)
	assert.Equal(t, 24*time.Hour, cfg.Entitlements.CacheRetention)
	assert.Equal(t, 3*time.Second, cfg.Entitlements.ResolverDeadline)
	assert.Equal(t, 5*time.Second, cfg.Provider.Timeout)
	assert.Equal(t, time.Second, cfg.Workflows.PlanChangeRetryDelay)
	assert.Equal(t, RateLimits{PublicRPS: 20, PublicBurst: 40, UserRPS: 10, UserBurst: 30, ProviderRPS: 5, ProviderBurst: 20}, cfg.RateLimits)
	assert.False(t, cfg.ProviderConfigured())
	assert.Equal(t, "http://localhost:4001/api/oauth/provider/callback", cfg.OAuthRedirectURL())
}

func TestLoad_CredentialScopes(t *testing.T) {
	setRequired(t)
	t.Setenv("PROVIDER_CLIENT_ID", "app-id")
	t.Setenv("PROVIDER_CLIENT_SECRET", "app-secret")
	t.Setenv("PROVIDER_PLATFORM_ACCESS_TOKEN", "platform-token")
	t.Setenv("CORS_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("PUBLIC_BASE_URL", "https://nexar.example/")

	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.ProviderConfigured())
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
	assert.Equal(t, "https://nexar.example", cfg.PublicBaseURL)

	p := cfg.Payment()
	assert.Equal(t, "app-id", p.ClientID)
	assert.Equal(t, "platform-token", p.PlatformAccessToken)
}

func TestLoad_Errors(t *testing.T) {
	t.Run("missing secret", func(t *testing.T) {
		t.Setenv("DATABASE_URL", "postgres://localhost/x")
		t.Setenv("ENCRYPTION_KEY", "0123456789abcdef0123456789abcdef")
		t.Setenv("JWT_SECRET", "")
		_, err := Load()
		assert.Error(t, err)
	})

	t.Run("short key", func(t *testing.T) {
		setRequired(t)
		t.Setenv("ENCRYPTION_KEY", "short")
		_, err := Load()
		assert.ErrorContains(t, err, "ENCRYPTION_KEY")
	})

	t.Run("half oauth app", func(t *testing.T) {
		setRequired(t)
		t.Setenv("PROVIDER_CLIENT_ID", "only-id")
		_, err := Load()
		assert.ErrorContains(t, err, "PROVIDER_CLIENT_SECRET")
	})

	t.Run("retention shorter than ttl", func(t *testing.T) {
		setRequired(t)
		t.Setenv("ENTITLEMENT_CACHE_RETENTION", "30s")
		_, err := Load()
		assert.ErrorContains(t, err, "ENTITLEMENT_CACHE_RETENTION")
	})

	t.Run("zero burst", func(t *testing.T) {
		setRequired(t)
		t.Setenv("RATE_LIMIT_USER_BURST", "0")
		_, err := Load()
		assert.ErrorContains(t, err, "RATE_LIMIT_")
	})
}
