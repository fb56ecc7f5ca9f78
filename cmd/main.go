package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"flowengine"
	"flowengine/internal/ai"
	"flowengine/internal/api/handler/endpoints"
	"flowengine/internal/api/models"
	"flowengine/internal/api/repo"
	"flowengine/internal/api/service"
	"flowengine/internal/engine"
	"flowengine/internal/engine/processors"
	"flowengine/internal/events"
	"flowengine/internal/metrics"
	"flowengine/internal/queue"
	"flowengine/internal/sandbox"
	"flowengine/internal/scheduler"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/graceful"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	cfg := flowengine.InitConfig(".env")
	deps := flowengine.NewDependencies(cfg)
	defer deps.Close()
	logger := deps.Logger
	gin.SetMode(gin.ReleaseMode)

	if cfg.Mode == "dev" {
		if err := deps.DB.AutoMigrate(
			&models.Workflow{},
			&models.Execution{},
			&models.Trigger{},
			&models.TriggerLog{},
		); err != nil {
			logger.Fatal().Err(err).Msg("Failed to migrate database")
		}
		logger.Info().Msg("Database migrated successfully")
		gin.SetMode(gin.DebugMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	router, err := graceful.Default(graceful.WithAddr(cfg.ApiPort))
	if err != nil {
		panic(err)
	}
	defer stop()
	defer router.Close()

	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "X-Organization-ID", scheduler.SignatureHeader},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	// Engine
	prom := metrics.NewProm("flowengine", prometheus.DefaultRegisterer)
	sb := sandbox.New(sandbox.Options{
		Enabled:          cfg.Sandbox.Enabled,
		PythonEnabled:    cfg.Sandbox.PythonEnabled,
		PythonPath:       cfg.Sandbox.PythonPath,
		DefaultTimeoutMs: cfg.Sandbox.TimeoutMs,
		DefaultMaxOutput: cfg.Sandbox.MaxOutputBytes,
	}, logger)
	openai := ai.NewOpenAIClient(ai.WithTranscriptionModel(cfg.AI.TranscriptionModel))
	registry := processors.NewDefaultRegistry(processors.Dependencies{
		Sandbox:     sb,
		AI:          openai,
		Transcriber: openai,
		AIConfig: ai.StaticConfigLoader(ai.Config{
			Provider: cfg.AI.Provider,
			APIKey:   cfg.AI.APIKey,
			BaseURL:  cfg.AI.BaseURL,
			Model:    cfg.AI.DefaultModel,
		}),
		// Request deadlines come from each node's timeout, not the client.
		HTTPClient: &http.Client{},
		Logger:     logger,
	})
	eng := engine.NewEngine(registry, engine.Options{
		RunTimeout:      cfg.Engine.RunTimeout,
		NodeTimeout:     cfg.Engine.NodeTimeout,
		StrictVariables: cfg.Engine.StrictVariables,
	}, logger, events.NewProgressReporter(deps.Nats, cfg.NatsConfig.TenantID, logger), prom)

	// Queue
	queueOptions := queue.Options{
		LeaseDuration: cfg.Queue.LeaseDuration,
		MaxAttempts:   cfg.Queue.MaxAttempts,
	}
	var q queue.Queue
	if deps.Redis != nil {
		q = queue.NewRedisQueue(deps.Redis, queueOptions, logger)
		logger.Info().Msg("Using Redis task queue")
	} else {
		q = queue.NewMemoryQueue(queueOptions)
		logger.Warn().Msg("REDIS_HOST not set, using in-process task queue")
	}

	// Services
	workflowRepo := repo.NewWorkflowRepository(deps.DB)
	executionRepo := repo.NewExecutionRepository(deps.DB)
	triggerRepo := repo.NewTriggerRepository(deps.DB)

	workflowService := service.NewWorkflowService(workflowRepo, executionRepo, eng, logger)
	taskService := service.NewTaskService(q, workflowService, executionRepo, triggerRepo, logger)
	webhookService := service.NewWebhookService(triggerRepo, taskService, workflowService, prom, cfg.Webhook.Tolerance, logger)
	triggerService := service.NewTriggerService(triggerRepo, workflowRepo, logger)

	// Background workers
	pool := queue.NewWorkerPool(q, taskService.Execute, queue.PoolOptions{
		Workers:       cfg.Queue.Workers,
		PollInterval:  cfg.Queue.PollInterval,
		ReapInterval:  cfg.Queue.ReapInterval,
		LeaseDuration: cfg.Queue.LeaseDuration,
	}, prom, logger)
	pool.Start()
	defer pool.Stop()

	if cfg.Scheduler.Enabled {
		sched := scheduler.NewScheduler(triggerRepo, q, scheduler.Options{
			TickPeriod: cfg.Scheduler.TickPeriod,
			MaxCatchUp: cfg.Scheduler.MaxCatchUp,
		}, prom, logger)
		sched.Start()
		defer sched.Stop()
	}

	endpoints.SystemHandler(router, cfg, deps.DB, sb, prometheus.DefaultGatherer)
	endpoints.WorkflowHandler(router, cfg, workflowService, taskService, logger)
	endpoints.TaskHandler(router, cfg, taskService)
	endpoints.TriggerHandler(router, cfg, triggerService, logger)
	endpoints.WebhookHandler(router, webhookService, logger)

	logger.Debug().Msgf("Starting flowengine API on port %s", cfg.ApiPort)
	if err = router.RunWithContext(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("API server stopped")
	}
}
