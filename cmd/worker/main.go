package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"bindery/internal/engine/webhooks"
	"bindery/internal/engine/workflows"
	"bindery/internal/pkg/logger"
	"bindery/internal/platform/config"
	"bindery/internal/platform/database"
	"bindery/internal/platform/repositories"
	"bindery/internal/workers"
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

	webhookRepo := repositories.NewWebhookRepository(db)
	workflowRepo := repositories.NewWorkflowRepository(db)

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
	engine := workflows.NewEngine(workflowRepo,
		workflows.WithEventSink(webhookMgr),
		workflows.WithHTTPClient(&http.Client{Timeout: cfg.Workflows.HTTPRequestTimeout}),
		workflows.WithActionTimeout(cfg.Workflows.ActionTimeout),
		workflows.WithMaxWait(cfg.Workflows.MaxWaitDelay),
	)

	runner := workers.NewRunner(webhookMgr, engine,
		workers.WithPumpInterval(cfg.Webhooks.PumpInterval),
	)

	log.Println("Starting background workers...")
	runner.Start(context.Background())

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Println("Shutting down workers...")
	runner.Stop()
}
