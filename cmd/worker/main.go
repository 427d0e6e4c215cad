package main

import (
	"time"

	"go.uber.org/zap"

	"mailtriage/config"
	"mailtriage/internal/mqhandler"
	"mailtriage/internal/repository"
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

	log.Info("Starting triage event worker...")

	// Init Redis
	rdb := redisclient.NewRedisClient(cfg.Redis)
	defer rdb.Close()

	deduper := util.NewDeduper(rdb, time.Hour, log)
	retryCounter := util.NewRetryCounter(rdb, time.Hour)

	// Init DB
	dbConn, err := db.NewConnection(cfg.DB, log)
	if err != nil {
		log.Fatal("DB initialization failed", zap.Error(err))
	}
	defer dbConn.Close()

	log.Info("Database connection established")

	eventRepo := repository.NewTriageEventRepository(dbConn)

	// DLQ publisher for poison messages
	publisher, err := mq.NewPublisher(cfg.MQ.URL)
	if err != nil {
		log.Fatal("MQ publisher initialization failed", zap.Error(err))
	}
	defer publisher.Close()
	if err := publisher.SetupDLQ(mq.RoutingKeyEmailTriaged); err != nil {
		log.Fatal("DLQ setup failed", zap.Error(err))
	}

	handler := mqhandler.NewTriagedHandler(eventRepo, deduper, retryCounter, publisher, log)

	log.Info("Initializing triaged consumer", zap.String("queue", "email.triaged.q"))
	consumer, err := mq.NewConsumer(cfg.MQ.URL, "email.triaged.q", mq.RoutingKeyEmailTriaged, log)
	if err != nil {
		log.Fatal("failed to init triaged consumer", zap.Error(err))
	}
	defer consumer.Close()
	consumer.SetHandler(handler.HandleEmailTriaged)

	go func() {
		log.Info("Starting triaged consumer")
		if err := consumer.StartConsuming(); err != nil {
			log.Fatal("triaged consumer stopped", zap.Error(err))
		}
	}()

	select {}
}
