package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/clothly/checkout/internal/config"
	kafkax "github.com/clothly/checkout/internal/kafka"
	"github.com/clothly/checkout/internal/logging"
	"github.com/clothly/checkout/internal/orders"
	"github.com/clothly/checkout/internal/payment"
	"github.com/clothly/checkout/internal/postgres"
	"github.com/clothly/checkout/internal/redisx"
	"github.com/clothly/checkout/internal/webhook"
	"github.com/clothly/checkout/internal/worker"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	log := logging.MustNew(getenv("SERVICE_NAME", "checkout-worker"), cfg.Env)
	defer func() { _ = log.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal("db_connect_failed", zap.Error(err))
	}
	defer db.Close()

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()
	rstore := &redisx.Store{Client: rdb}

	orderRepo := &orders.Repo{DB: db}
	gateway := payment.NewHTTPGateway(cfg.GatewayBaseURL, cfg.GatewayAPIKey, cfg.GatewayTimeout)

	// Outcomes found by the sweep are published like webhook-applied ones.
	pAuthorized := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicPaymentAuthorized, 1024, log)
	pAuthorized.Start(ctx)
	pFailed := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicPaymentFailed, 1024, log)
	pFailed.Start(ctx)

	applier := &webhook.Listener{
		Orders:             orderRepo,
		ProducerAuthorized: pAuthorized,
		ProducerFailed:     pFailed,
		Log:                log,
		Service:            "checkout-worker",
	}

	// Status cache maintainer: one consumer per lifecycle topic.
	cache := &worker.StatusCache{Cache: rstore, Log: log}
	group := getenv("WORKER_GROUP", "checkout-worker")
	workers := mustAtoi(os.Getenv("WORKER_CONSUMERS"), "4")
	topics := []string{
		orders.TopicOrderCreated,
		orders.TopicPaymentAuthorized,
		orders.TopicPaymentFailed,
		orders.TopicOrderCancelled,
	}
	for _, topic := range topics {
		cons := kafkax.NewConsumer(cfg.KafkaBrokers, group, topic, workers, log)
		go func(topic string) {
			log.Info("consumer_started", zap.String("group", group), zap.String("topic", topic))
			if err := cons.Start(ctx, cache.HandleOrderEvent); err != nil {
				log.Error("consumer_exit", zap.String("topic", topic), zap.Error(err))
				cancel()
			}
		}(topic)
	}

	// Reconciliation sweep for orders whose webhook never arrived.
	sweeper := &worker.Sweeper{
		Orders:     orderRepo,
		Gateway:    gateway,
		Applier:    applier,
		Interval:   cfg.SweepInterval,
		StaleAfter: cfg.SweepStaleAfter,
		Batch:      cfg.SweepBatchSize,
		Log:        log,
	}
	go sweeper.Run(ctx)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("shutting_down")
	cancel()
	time.Sleep(500 * time.Millisecond)
	pAuthorized.Close()
	pFailed.Close()
	pAuthorized.WaitClosed()
	pFailed.WaitClosed()
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func mustAtoi(s, def string) int {
	if s == "" {
		s = def
	}
	i, err := strconv.Atoi(s)
	if err != nil {
		return 1
	}
	return i
}
