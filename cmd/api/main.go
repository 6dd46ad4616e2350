package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/clothly/checkout/internal/catalog"
	"github.com/clothly/checkout/internal/checkout"
	"github.com/clothly/checkout/internal/config"
	"github.com/clothly/checkout/internal/httpx"
	kafkax "github.com/clothly/checkout/internal/kafka"
	"github.com/clothly/checkout/internal/logging"
	"github.com/clothly/checkout/internal/orders"
	"github.com/clothly/checkout/internal/payment"
	"github.com/clothly/checkout/internal/postgres"
	"github.com/clothly/checkout/internal/redisx"
	"github.com/clothly/checkout/internal/webhook"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	log := logging.MustNew(cfg.ServiceName, cfg.Env)
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
	cache := &redisx.Store{Client: rdb}

	// Kafka producers, one per published topic
	pCreated := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicOrderCreated, 1024, log)
	pCreated.Start(ctx)
	pCancelled := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicOrderCancelled, 1024, log)
	pCancelled.Start(ctx)
	pAuthorized := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicPaymentAuthorized, 1024, log)
	pAuthorized.Start(ctx)
	pFailed := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicPaymentFailed, 1024, log)
	pFailed.Start(ctx)

	ledger := &catalog.Ledger{DB: db}
	orderRepo := &orders.Repo{DB: db}
	gateway := payment.NewHTTPGateway(cfg.GatewayBaseURL, cfg.GatewayAPIKey, cfg.GatewayTimeout)

	checkoutSvc := &checkout.Service{
		Catalog:           ledger,
		Orders:            orderRepo,
		Gateway:           gateway,
		ProducerCreated:   pCreated,
		ProducerCancelled: pCancelled,
		Log:               log,
		Service:           cfg.ServiceName,
	}

	listener := &webhook.Listener{
		Secret:             []byte(cfg.WebhookSecret),
		Tolerance:          cfg.WebhookTolerance,
		Orders:             orderRepo,
		Dedup:              cache,
		ProducerAuthorized: pAuthorized,
		ProducerFailed:     pFailed,
		Log:                log,
		Service:            cfg.ServiceName,
	}

	router := httpx.NewRouter()
	oh := &httpx.OrdersHandler{
		Checkout: checkoutSvc,
		Catalog:  ledger,
		Listener: listener,
		Cache:    cache,
		Log:      log,
	}
	oh.Register(router)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router}

	go func() {
		log.Info("http_listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("listen_failed", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("shutting_down")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)

	for _, p := range []*kafkax.Producer{pCreated, pCancelled, pAuthorized, pFailed} {
		p.Close()
	}
	for _, p := range []*kafkax.Producer{pCreated, pCancelled, pAuthorized, pFailed} {
		p.WaitClosed()
	}
}
