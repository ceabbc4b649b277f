package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/ariefcatur/go-storefront-orders/internal/cart"
	"github.com/ariefcatur/go-storefront-orders/internal/checkout"
	"github.com/ariefcatur/go-storefront-orders/internal/config"
	"github.com/ariefcatur/go-storefront-orders/internal/httpx"
	"github.com/ariefcatur/go-storefront-orders/internal/inventory"
	kafkax "github.com/ariefcatur/go-storefront-orders/internal/kafka"
	"github.com/ariefcatur/go-storefront-orders/internal/logging"
	"github.com/ariefcatur/go-storefront-orders/internal/orders"
	"github.com/ariefcatur/go-storefront-orders/internal/payment"
	"github.com/ariefcatur/go-storefront-orders/internal/postgres"
	"github.com/ariefcatur/go-storefront-orders/internal/redisx"
	"github.com/ariefcatur/go-storefront-orders/internal/telemetry"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logging.New("info").Error("load config", "err", err)
		os.Exit(1)
	}
	log := logging.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, cfg.ServiceName, cfg.OTelEndpoint)
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
	if err := postgres.Migrate(ctx, db); err != nil {
		log.Error("db migrate", "err", err)
		os.Exit(1)
	}

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	// Kafka producer, one writer for every topic
	prodCtx, cancelProd := context.WithCancel(context.Background())
	prod := kafkax.NewProducer(cfg.KafkaBrokers, 1024, log)
	prod.Start(prodCtx)

	gateway := payment.NewStripeGateway(cfg.StripeSecretKey, cfg.StripeWebhookSecret, log)
	catalog := &cart.PostgresCatalog{DB: db}
	store := &orders.PostgresStore{DB: db}
	index := &orders.PostgresIndex{DB: db}

	engine := checkout.NewEngine(checkout.Deps{
		Ledger:   &inventory.PostgresLedger{DB: db},
		Orders:   store,
		Index:    index,
		Gateway:  gateway,
		Events:   kafkax.NewBus(prod, cfg.ServiceName),
		Pricer:   cart.Prices{Catalog: catalog},
		Log:      log,
		HoldTTL:  cfg.HoldTTL,
		Currency: cfg.Currency,
	})
	carts := cart.NewService(cart.NewRedisStore(rdb), catalog)
	statuses := redisx.NewStatusCache(rdb)

	router := httpx.NewRouter(
		&httpx.CheckoutHandler{Engine: engine, Carts: carts, Idem: redisx.NewIdempotency(rdb), Log: log},
		&httpx.PaymentHandler{Engine: engine, Gateway: gateway, Dedup: redisx.NewDedup(rdb, cfg.ServiceName), Statuses: statuses, Log: log},
		&httpx.CartHandler{Service: carts, Log: log},
		&httpx.OrdersHandler{Orders: store, Index: index, Statuses: statuses, Log: log},
	)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		log.Info("http listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("listen", "err", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutCtx)
	prod.Close() // flush queued events
	cancelProd()
	prod.WaitClosed()
	if err := shutdownTracing(shutCtx); err != nil {
		log.Warn("tracing shutdown", "err", err)
	}
}
