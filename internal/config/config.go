package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/Nexar-Turismo/nexarturismo-sub002/pkg/payment"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	Port            int           `env:"PORT" envDefault:"4001"`
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat       string        `env:"LOG_FORMAT" envDefault:"json"`
	JWTSecret       string        `env:"JWT_SECRET,required,notEmpty"`
	DatabaseURL     string        `env:"DATABASE_URL,required,notEmpty"`
	RedisURL        string        `env:"REDIS_URL"`
	EncryptionKey   string        `env:"ENCRYPTION_KEY,required,notEmpty"`
	CORSOrigins     []string      `env:"CORS_ORIGINS" envSeparator:"," envDefault:"http://localhost:3000"`
	PublicBaseURL   string        `env:"PUBLIC_BASE_URL" envDefault:"http://localhost:3000"`
	APIBaseURL      string        `env:"API_BASE_URL" envDefault:"http://localhost:4001"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`

	Marketplace  MarketplaceOAuth
	Catalog      PlanCatalog
	Provider     ProviderAPI
	Entitlements Entitlements
	Workflows    Workflows
	RateLimits   RateLimits
	Identity     Identity
}

// MarketplaceOAuth is the OAuth application used to connect seller accounts.
type MarketplaceOAuth struct {
	ClientID     string `env:"PROVIDER_CLIENT_ID"`
	ClientSecret string `env:"PROVIDER_CLIENT_SECRET"`
}

// PlanCatalog is the platform credential that owns plans and preapprovals.
type PlanCatalog struct {
	AccessToken string `env:"PROVIDER_PLATFORM_ACCESS_TOKEN"`
	BackURL     string `env:"PROVIDER_PLAN_BACK_URL"`
}

// ProviderAPI holds endpoints and limits shared by both credential scopes.
type ProviderAPI struct {
	APIBaseURL    string        `env:"PROVIDER_API_URL"`
	AuthURL       string        `env:"PROVIDER_AUTH_URL"`
	WebhookSecret string        `env:"PROVIDER_WEBHOOK_SECRET"`
	Timeout       time.Duration `env:"PROVIDER_TIMEOUT" envDefault:"5s"`
}

// Entitlements tunes the resolver.
type Entitlements struct {
	CacheTTL         time.Duration `env:"ENTITLEMENT_CACHE_TTL" envDefault:"60s"`
	CacheRetention   time.Duration `env:"ENTITLEMENT_CACHE_RETENTION" envDefault:"24h"`
	ResolverDeadline time.Duration `env:"RESOLVER_DEADLINE" envDefault:"3s"`
	StatusStaleAfter time.Duration `env:"STATUS_STALE_AFTER" envDefault:"5m"`
}

// Workflows tunes plan changes, OAuth and background reconciliation.
type Workflows struct {
	PlanChangeRetryDelay time.Duration `env:"PLAN_CHANGE_RETRY_DELAY" envDefault:"1s"`
	OAuthStateMaxAge     time.Duration `env:"OAUTH_STATE_MAX_AGE" envDefault:"15m"`
	ReconcileInterval    time.Duration `env:"RECONCILE_INTERVAL" envDefault:"2m"`
	ReconcileBatch       int           `env:"RECONCILE_BATCH" envDefault:"100"`
	SagaResumeAfter      time.Duration `env:"SAGA_RESUME_AFTER" envDefault:"1m"`
}

// RateLimits sizes the per-caller token buckets of each route group.
type RateLimits struct {
	PublicRPS     float64 `env:"RATE_LIMIT_PUBLIC_RPS" envDefault:"20"`
	PublicBurst   int     `env:"RATE_LIMIT_PUBLIC_BURST" envDefault:"40"`
	UserRPS       float64 `env:"RATE_LIMIT_USER_RPS" envDefault:"10"`
	UserBurst     int     `env:"RATE_LIMIT_USER_BURST" envDefault:"30"`
	ProviderRPS   float64 `env:"RATE_LIMIT_PROVIDER_RPS" envDefault:"5"`
	ProviderBurst int     `env:"RATE_LIMIT_PROVIDER_BURST" envDefault:"20"`
}

// Identity points at the identity subsystem's admin API used on account deletion.
type Identity struct {
	AdminURL   string `env:"IDENTITY_ADMIN_URL"`
	AdminToken string `env:"IDENTITY_ADMIN_TOKEN"`
}

// Load reads configuration from environment variables, loading a .env file
// first when one is present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if len(c.EncryptionKey) != 32 {
		return fmt.Errorf("ENCRYPTION_KEY must be exactly 32 bytes, got %d", len(c.EncryptionKey))
	}
	if (c.Marketplace.ClientID == "") != (c.Marketplace.ClientSecret == "") {
		return fmt.Errorf("PROVIDER_CLIENT_ID and PROVIDER_CLIENT_SECRET must be set together")
	}
	if c.Entitlements.CacheTTL <= 0 {
		return fmt.Errorf("ENTITLEMENT_CACHE_TTL must be positive")
	}
	if c.Entitlements.CacheRetention < c.Entitlements.CacheTTL {
		return fmt.Errorf("ENTITLEMENT_CACHE_RETENTION must not be shorter than ENTITLEMENT_CACHE_TTL")
	}
	if c.Entitlements.ResolverDeadline <= 0 {
		return fmt.Errorf("RESOLVER_DEADLINE must be positive")
	}
	rl := c.RateLimits
	if rl.PublicRPS <= 0 || rl.UserRPS <= 0 || rl.ProviderRPS <= 0 || rl.PublicBurst < 1 || rl.UserBurst < 1 || rl.ProviderBurst < 1 {
		return fmt.Errorf("RATE_LIMIT_* rates must be positive and bursts at least 1")
	}
	for i := range c.CORSOrigins {
		c.CORSOrigins[i] = strings.TrimSpace(c.CORSOrigins[i])
	}
	c.PublicBaseURL = strings.TrimRight(c.PublicBaseURL, "/")
	c.APIBaseURL = strings.TrimRight(c.APIBaseURL, "/")
	return nil
}

// ProviderConfigured reports whether real provider credentials were supplied.
func (c *Config) ProviderConfigured() bool {
	return c.Marketplace.ClientID != "" || c.Catalog.AccessToken != ""
}

// OAuthRedirectURL is the callback registered with the provider.
func (c *Config) OAuthRedirectURL() string {
	return c.APIBaseURL + "/api/oauth/provider/callback"
}

// Payment returns the gateway configuration.
func (c *Config) Payment() payment.Config {
	return payment.Config{
		ClientID:            c.Marketplace.ClientID,
		ClientSecret:        c.Marketplace.ClientSecret,
		RedirectURL:         c.OAuthRedirectURL(),
		PlatformAccessToken: c.Catalog.AccessToken,
		WebhookSecret:       c.Provider.WebhookSecret,
		APIBaseURL:          c.Provider.APIBaseURL,
		AuthURL:             c.Provider.AuthURL,
		Timeout:             c.Provider.Timeout,
	}
}
