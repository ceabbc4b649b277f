package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/ariefcatur/go-storefront-orders/internal/checkout"
	"github.com/ariefcatur/go-storefront-orders/internal/config"
	"github.com/ariefcatur/go-storefront-orders/internal/inventory"
	kafkax "github.com/ariefcatur/go-storefront-orders/internal/kafka"
	"github.com/ariefcatur/go-storefront-orders/internal/logging"
	"github.com/ariefcatur/go-storefront-orders/internal/orders"
	"github.com/ariefcatur/go-storefront-orders/internal/payment"
	"github.com/ariefcatur/go-storefront-orders/internal/postgres"
	"github.com/ariefcatur/go-storefront-orders/internal/telemetry"
)

// The worker retries queued follow-up steps and sweeps expired stock holds.
func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logging.New("info").Error("load config", "err", err)
		os.Exit(1)
	}
	log := logging.New(cfg.LogLevel).With("component", "worker")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, cfg.ServiceName+"-worker", cfg.OTelEndpoint)
	if err != nil {
		log.Warn("tracing disabled", "err", err)
	}

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Error("db connect", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	// Producer for lifecycle events and requeued follow-ups
	prodCtx, cancelProd := context.WithCancel(context.Background())
	prod := kafkax.NewProducer(cfg.KafkaBrokers, 1024, log)
	prod.Start(prodCtx)

	engine := checkout.NewEngine(checkout.Deps{
		Ledger:   &inventory.PostgresLedger{DB: db},
		Orders:   &orders.PostgresStore{DB: db},
		Index:    &orders.PostgresIndex{DB: db},
		Gateway:  payment.NewStripeGateway(cfg.StripeSecretKey, cfg.StripeWebhookSecret, log),
		Events:   kafkax.NewBus(prod, cfg.ServiceName+"-worker"),
		Log:      log,
		HoldTTL:  cfg.HoldTTL,
		Currency: cfg.Currency,
	})

	var wg sync.WaitGroup
	cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.FollowupGroup, orders.TopicFollowup, cfg.FollowupWorkers, log)
	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info("followup consumer started", "group", cfg.FollowupGroup, "topic", orders.TopicFollowup, "workers", cfg.FollowupWorkers)
		if err := cons.Start(ctx, engine.HandleFollowup); err != nil {
			log.Error("consumer exit", "err", err)
			stop()
		}
	}()

	sweeper := &checkout.Sweeper{Engine: engine, Interval: cfg.SweepInterval, Batch: cfg.SweepBatch, Log: log}
	wg.Add(1)
	go func() {
		defer wg.Done()
		sweeper.Run(ctx)
	}()

	<-ctx.Done()
	log.Info("shutting down worker")
	wg.Wait()
	prod.Close()
	cancelProd()
	prod.WaitClosed()

	shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := shutdownTracing(shutCtx); err != nil {
		log.Warn("tracing shutdown", "err", err)
	}
}
