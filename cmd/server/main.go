package main

import (
	"fmt"
	"log"
	"net/http"
	"time"

	"bindery/internal/api"
	"bindery/internal/api/handlers"
	"bindery/internal/api/middleware"
	"bindery/internal/engine/partner"
	"bindery/internal/engine/webhooks"
	"bindery/internal/engine/workflows"
	"bindery/internal/pkg/logger"
	"bindery/internal/platform/auth"
	"bindery/internal/platform/config"
	"bindery/internal/platform/database"
	"bindery/internal/platform/repositories"
)

func main() {
	cfg, err := config.Load("configs/config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger.Init(cfg.Logging)

	db, err := database.New(cfg.Database)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	if err := database.Migrate(db); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	// Repositories
	webhookRepo := repositories.NewWebhookRepository(db)
	partnerRepo := repositories.NewPartnerRepository(db)
	workflowRepo := repositories.NewWorkflowRepository(db)

	// Services
	tokenSvc := auth.NewTokenService(cfg.JWT)
	webhookMgr := webhooks.NewManager(webhookRepo,
		webhooks.WithRetryPolicy(webhooks.RetryPolicy{
			MaxAttempts:       cfg.Webhooks.MaxAttempts,
			InitialDelay:      cfg.Webhooks.InitialDelay,
			BackoffMultiplier: cfg.Webhooks.BackoffMultiplier,
			MaxDelay:          cfg.Webhooks.MaxDelay,
		}),
		webhooks.WithHTTPClient(&http.Client{Timeout: cfg.Webhooks.RequestTimeout}),
		webhooks.WithRateLimit(cfg.Webhooks.DeliveriesPerSec),
		webhooks.WithBatchSize(cfg.Webhooks.PumpBatchSize),
	)
	partnerMgr := partner.NewManager(partnerRepo)
	engine := workflows.NewEngine(workflowRepo,
		workflows.WithEventSink(webhookMgr),
		workflows.WithHTTPClient(&http.Client{Timeout: cfg.Workflows.HTTPRequestTimeout}),
		workflows.WithActionTimeout(cfg.Workflows.ActionTimeout),
		workflows.WithMaxWait(cfg.Workflows.MaxWaitDelay),
	)

	// Handlers
	webhookHandler := handlers.NewWebhookHandler(webhookMgr)
	partnerHandler := handlers.NewPartnerHandler(partnerMgr)
	workflowHandler := handlers.NewWorkflowHandler(engine)
	gatewayHandler := handlers.NewGatewayHandler(webhookMgr, partnerMgr, engine)
	healthHandler := handlers.NewHealthHandler(db)
	metricsHandler := handlers.NewMetricsHandler()

	// Middleware
	authMiddleware := middleware.NewAuthMiddleware(tokenSvc)
	keyMiddleware := middleware.NewApiKeyMiddleware(partnerMgr)
	quotaMiddleware := middleware.NewQuotaMiddleware(partnerMgr)

	deps := &api.Dependencies{
		WebhookHandler:   webhookHandler,
		PartnerHandler:   partnerHandler,
		WorkflowHandler:  workflowHandler,
		GatewayHandler:   gatewayHandler,
		HealthHandler:    healthHandler,
		MetricsHandler:   metricsHandler,
		AuthMiddleware:   authMiddleware,
		ApiKeyMiddleware: keyMiddleware,
		QuotaMiddleware:  quotaMiddleware,
	}
	router := api.NewRouter(deps)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  orDefault(cfg.Server.ReadTimeout, 15*time.Second),
		WriteTimeout: orDefault(cfg.Server.WriteTimeout, 30*time.Second),
		IdleTimeout:  orDefault(cfg.Server.IdleTimeout, 60*time.Second),
	}

	log.Printf("Server starting on %s", addr)
	if err := srv.ListenAndServe(); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}

func orDefault(d, fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}
	return d
}
