package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Nexar-Turismo/nexarturismo-sub002/internal/cache"
	"github.com/Nexar-Turismo/nexarturismo-sub002/internal/config"
	"github.com/Nexar-Turismo/nexarturismo-sub002/internal/handler"
	"github.com/Nexar-Turismo/nexarturismo-sub002/internal/logger"
	appMiddleware "github.com/Nexar-Turismo/nexarturismo-sub002/internal/middleware"
	"github.com/Nexar-Turismo/nexarturismo-sub002/internal/repository"
	"github.com/Nexar-Turismo/nexarturismo-sub002/internal/service"
	"github.com/Nexar-Turismo/nexarturismo-sub002/internal/ws"
	"github.com/Nexar-Turismo/nexarturismo-sub002/pkg/crypto"
	"github.com/Nexar-Turismo/nexarturismo-sub002/pkg/payment"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	lg, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("logger error: %v", err)
	}
	defer func() { _ = lg.Sync() }()
	zap.ReplaceGlobals(lg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize database
	db, err := repository.NewDB(ctx, cfg.DatabaseURL)
	if err != nil {
		lg.Fatal("database error", zap.Error(err))
	}
	defer db.Close()

	if err := repository.RunMigrations(ctx, db); err != nil {
		lg.Fatal("migration error", zap.Error(err))
	}
	lg.Info("database connected & migrated")

	sealer, err := crypto.NewSealer(cfg.EncryptionKey)
	if err != nil {
		lg.Fatal("encryption error", zap.Error(err))
	}

	var gateway payment.Gateway
	if cfg.ProviderConfigured() {
		gateway = payment.NewClient(cfg.Payment())
	} else {
		lg.Warn("payment provider credentials not set, using mock gateway")
		gateway = payment.NewMockGateway()
	}

	// Entitlement cache: Redis when shared across replicas, memory otherwise.
	var (
		entCache    cache.Cache
		sweeper     service.Sweeper
		redisHealth handler.Pinger
	)
	if cfg.RedisURL != "" {
		client, err := cache.Connect(ctx, cfg.RedisURL)
		if err != nil {
			lg.Fatal("redis error", zap.Error(err))
		}
		defer client.Close()
		rc := cache.NewRedis(client, cfg.Entitlements.CacheRetention)
		entCache, redisHealth = rc, rc
		lg.Info("redis entitlement cache connected")
	} else {
		mc := cache.NewMemory(cfg.Entitlements.CacheRetention)
		entCache, sweeper = mc, mc
	}

	var identity service.IdentityProvider = service.NoopIdentityProvider()
	if cfg.Identity.AdminURL != "" {
		identity = service.NewHTTPIdentityProvider(cfg.Identity.AdminURL, cfg.Identity.AdminToken)
	}

	// Repositories
	userRepo := repository.NewUserRepository(db)
	planRepo := repository.NewPlanRepository(db)
	subRepo := repository.NewSubscriptionRepository(db)
	accountRepo := repository.NewProviderAccountRepository(db)
	contentRepo := repository.NewContentRepository(db)
	sagaRepo := repository.NewSagaRepository(db)
	eventRepo := repository.NewWebhookEventRepository(db)

	// Services
	authSvc := service.NewAuthService(cfg.JWTSecret)
	entitlementSvc := service.NewEntitlementService(userRepo, subRepo, planRepo, contentRepo, entCache, service.EntitlementConfig{
		CacheTTL:         cfg.Entitlements.CacheTTL,
		Deadline:         cfg.Entitlements.ResolverDeadline,
		StatusStaleAfter: cfg.Entitlements.StatusStaleAfter,
	}, lg)
	syncSvc := service.NewSyncService(subRepo, eventRepo, gateway, entitlementSvc, lg)
	entitlementSvc.SetProber(syncSvc)
	planChangeSvc := service.NewPlanChangeService(subRepo, sagaRepo, gateway, entitlementSvc, cfg.Workflows.PlanChangeRetryDelay, lg)
	teardownSvc := service.NewTeardownService(subRepo, contentRepo, accountRepo, userRepo, gateway, identity, entitlementSvc, lg)
	accountSvc := service.NewAccountService(accountRepo, gateway, sealer, cfg.PublicBaseURL, cfg.Workflows.OAuthStateMaxAge, lg)
	catalogSvc := service.NewPlanCatalogService(planRepo, gateway, cfg.Catalog.BackURL, lg)
	penaltySvc := service.NewPenaltyService()

	hub := ws.NewHub(authSvc, lg)
	defer hub.Close()
	entitlementSvc.SetNotifier(hub)

	reconciler := service.NewReconciler(syncSvc, planChangeSvc, sweeper, service.ReconcilerConfig{
		Interval:    cfg.Workflows.ReconcileInterval,
		Batch:       cfg.Workflows.ReconcileBatch,
		StaleAfter:  cfg.Entitlements.StatusStaleAfter,
		ResumeAfter: cfg.Workflows.SagaResumeAfter,
	}, lg)
	reconciler.Start(ctx)

	// Initialize handlers
	healthHandler := handler.NewHealthHandler(db, redisHealth)
	plansHandler := handler.NewPlansHandler(catalogSvc)
	webhookHandler := handler.NewWebhookHandler(syncSvc, gateway, lg)
	accountHandler := handler.NewAccountHandler(accountSvc, lg)
	bookingHandler := handler.NewBookingHandler(penaltySvc)
	entitlementHandler := handler.NewEntitlementHandler(entitlementSvc)
	subscriptionHandler := handler.NewSubscriptionHandler(planChangeSvc, teardownSvc)
	adminHandler := handler.NewAdminHandler(handler.StatsSource{
		Users:         userRepo,
		Subscriptions: subRepo,
		Sagas:         sagaRepo,
	}, lg)

	// Build router
	r := chi.NewRouter()

	// Global middleware
	r.Use(appMiddleware.Recovery(lg))
	r.Use(appMiddleware.Logger(lg))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	limits := cfg.RateLimits
	publicRL := appMiddleware.NewRateLimiter("public", appMiddleware.Limit{RPS: limits.PublicRPS, Burst: limits.PublicBurst})
	userRL := appMiddleware.NewRateLimiter("user", appMiddleware.Limit{RPS: limits.UserRPS, Burst: limits.UserBurst})
	providerRL := appMiddleware.NewRateLimiter("provider", appMiddleware.Limit{RPS: limits.ProviderRPS, Burst: limits.ProviderBurst})
	for _, rl := range []*appMiddleware.RateLimiter{publicRL, userRL, providerRL} {
		go rl.Run(ctx, time.Minute)
	}

	r.Get("/health", healthHandler.Check)
	r.Handle("/metrics", promhttp.Handler())

	// Provider-facing routes
	r.Group(func(r chi.Router) {
		r.Use(providerRL.Middleware())
		r.Post("/api/webhooks/provider", webhookHandler.Handle)
		r.Get("/api/oauth/provider/callback", accountHandler.Callback)
	})

	// Public API routes
	r.Group(func(r chi.Router) {
		r.Use(publicRL.Middleware())
		r.Get("/api/plans", plansHandler.List)
		r.Post("/api/bookings/penalty", bookingHandler.Penalty)
	})

	// Protected API routes
	r.Group(func(r chi.Router) {
		r.Use(publicRL.Middleware())
		r.Use(appMiddleware.Auth(authSvc))
		r.Use(userRL.Middleware())

		r.Get("/api/entitlements/me", entitlementHandler.Me)
		r.Get("/api/entitlements/me/permissions/{action}", entitlementHandler.Permission)

		r.Post("/api/subscriptions/change-plan", subscriptionHandler.ChangePlan)
		r.Post("/api/subscriptions/unsubscribe", subscriptionHandler.Unsubscribe)
		r.Delete("/api/account", subscriptionHandler.DeleteAccount)

		r.Get("/api/provider/account", accountHandler.Status)
		r.Get("/api/provider/authorize", accountHandler.Authorize)

		// Admin routes
		r.Group(func(r chi.Router) {
			r.Use(appMiddleware.SuperadminOnly(entitlementSvc))
			r.Get("/api/admin/stats", adminHandler.GetStats)
			r.Get("/api/admin/users/{id}/entitlements", entitlementHandler.ForUser)
			r.Put("/api/admin/users/{id}/roles", entitlementHandler.SetRoles)
			r.Post("/api/admin/plans/{id}/sync", plansHandler.Sync)
		})
	})

	// Entitlement change stream (auth via query param)
	r.Get("/ws/entitlements", hub.Handle)

	addr := fmt.Sprintf("0.0.0.0:%d", cfg.Port)
	server := &http.Server{
		Addr:        addr,
		Handler:     r,
		ReadTimeout: 30 * time.Second,
		// WriteTimeout must be 0 for WebSocket connections (they are long-lived)
		IdleTimeout: 120 * time.Second,
	}

	// Graceful shutdown
	go func() {
		<-ctx.Done()
		lg.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Warn("server shutdown", zap.Error(err))
		}
	}()

	lg.Info("nexar subscription service listening", zap.String("addr", addr))
	if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		lg.Error("server error", zap.Error(err))
		os.Exit(1)
	}
}
