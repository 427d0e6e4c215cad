package main

import (
	"time"

	"go.uber.org/zap"

	"mailtriage/config"
	"mailtriage/internal/api"
	"mailtriage/internal/embedding"
	"mailtriage/internal/graph"
	"mailtriage/internal/msauth"
	"mailtriage/internal/repository"
	"mailtriage/internal/service"
	"mailtriage/pkg/db"
	"mailtriage/pkg/logger"
	"mailtriage/pkg/mq"
	redisclient "mailtriage/pkg/redis"
	"mailtriage/pkg/util"
)

func main() {
	cfg := config.Load()

	log := logger.NewLogger()
	defer log.Sync()

	if err := cfg.Validate(); err != nil {
		log.Fatal("Invalid configuration", zap.Error(err))
	}

	log.Info("Starting triage service...")

	// Init DB
	dbConn, err := db.NewConnection(cfg.DB, log)
	if err != nil {
		log.Fatal("DB initialization failed", zap.Error(err))
	}
	defer dbConn.Close()

	log.Info("Database connection established")

	// Init Redis (webhook 重放去重)
	rdb := redisclient.NewRedisClient(cfg.Redis)
	defer rdb.Close()
	deduper := util.NewDeduper(rdb, time.Hour, log)

	// Init MQ publisher (可选：没配 MQ 也能跑)
	var publisher *mq.Publisher
	if cfg.MQ.URL != "" {
		publisher, err = mq.NewPublisher(cfg.MQ.URL)
		if err != nil {
			log.Fatal("MQ publisher initialization failed", zap.Error(err))
		}
		defer publisher.Close()
	} else {
		log.Warn("MQ URL not configured, email.triaged events disabled")
	}

	// Outbound clients
	tokens := msauth.NewTokenSource(msauth.Config{
		TenantID:     cfg.Graph.TenantID,
		ClientID:     cfg.Graph.ClientID,
		ClientSecret: cfg.Graph.ClientSecret,
	}, log)
	graphClient := graph.NewClient(cfg.Graph, tokens, log)
	embedClient := embedding.NewClient(cfg.Embedding, log)

	// Repositories
	templateRepo := repository.NewTemplateRepository(dbConn)
	auditRepo := repository.NewTriageLogRepository(dbConn)

	// Services
	decisionSvc := service.NewDecisionService(
		embedClient,
		templateRepo,
		cfg.Triage.SimilarityThreshold,
		cfg.Triage.FallbackTemplateLabel,
		log,
	)

	var events service.EventPublisher
	if publisher != nil {
		events = publisher
	}
	triageSvc := service.NewTriageService(
		decisionSvc,
		graphClient,
		auditRepo,
		events,
		deduper,
		service.TriageConfig{
			Mailbox:           cfg.Graph.Mailbox,
			NotifyAddress:     cfg.Graph.NotifyAddress,
			ProcessedFolderID: cfg.Graph.ProcessedFolderID,
			RequestTimeout:    time.Duration(cfg.Triage.RequestTimeoutSeconds) * time.Second,
		},
		log,
	)

	// HTTP
	webhookHandler := api.NewWebhookHandler(triageSvc, cfg.Triage.WebhookSecret, log)
	router := api.NewRouter(webhookHandler, dbConn, publisher)

	log.Info("Triage service listening", zap.String("port", cfg.Server.Port))
	if err := router.Run(cfg.Server.Port); err != nil {
		log.Fatal("HTTP server exited", zap.Error(err))
	}
}
