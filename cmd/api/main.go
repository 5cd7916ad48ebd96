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
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ariefcatur/go-resto-orders/internal/broadcast"
	"github.com/ariefcatur/go-resto-orders/internal/config"
	"github.com/ariefcatur/go-resto-orders/internal/httpx"
	kafkax "github.com/ariefcatur/go-resto-orders/internal/kafka"
	"github.com/ariefcatur/go-resto-orders/internal/logging"
	"github.com/ariefcatur/go-resto-orders/internal/notify"
	"github.com/ariefcatur/go-resto-orders/internal/orders"
	"github.com/ariefcatur/go-resto-orders/internal/payment"
	"github.com/ariefcatur/go-resto-orders/internal/postgres"
	"github.com/ariefcatur/go-resto-orders/internal/redisx"
	"github.com/ariefcatur/go-resto-orders/internal/telemetry"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	if _, err := logging.Setup(cfg.LogLevel, cfg.LogFormat, cfg.ServiceName); err != nil {
		panic(err)
	}
	defer logging.Sync()

	if err := run(cfg); err != nil {
		logging.Error(context.Background(), "api exited", err)
		logging.Sync()
		os.Exit(1)
	}
}

func run(cfg config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Init(ctx, cfg.OtelEndpoint, cfg.ServiceName)
	if err != nil {
		return err
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	hub := broadcast.NewHub(cfg.StreamBuffer)
	defaults := orders.DeliverySettings{
		Enabled: cfg.DeliveryEnabled,
		Fee:     cfg.DeliveryFeeAmount(),
		Minimum: cfg.DeliveryMinimumAmount(),
	}

	var (
		store    orders.Store
		settings orders.SettingsSource = orders.StaticSettings(defaults)
		lookup   payment.OrderLookup
		cache    payment.IdempotencyCache = payment.NewMemoryCache()
		status   httpx.StatusCache
		notifier orders.Notifier
		flush    []*kafkax.Producer
	)

	switch cfg.Store {
	case "memory":
		menu, err := loadMenu(cfg.MenuFile)
		if err != nil {
			return err
		}
		mem := orders.NewMemoryStore(menu...)
		store, lookup = mem, mem
		logging.Warn(ctx, "running on the in-memory store, nothing is persisted", zap.Int("products", len(menu)))
	default:
		db, err := postgres.Connect(ctx, cfg.PostgresDSN)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := postgres.Migrate(ctx, db); err != nil {
			return err
		}
		pg := &orders.PGStore{DB: db}
		store, lookup = pg, pg
		settings = &orders.PGSettings{DB: db, Defaults: defaults}

		rdb, err := redisx.New(cfg.RedisAddr)
		if err != nil {
			return err
		}
		defer rdb.Close()
		cache = &redisx.ReconcileCache{RDB: rdb}
		status = &redisx.StatusCache{RDB: rdb}

		created := kafkax.NewProducer(cfg.Brokers(), orders.TopicOrderCreated, 1024)
		updated := kafkax.NewProducer(cfg.Brokers(), orders.TopicOrderStatusUpdated, 1024)
		created.Start(ctx)
		updated.Start(ctx)
		flush = append(flush, created, updated)
		notifier = &notify.KafkaNotifier{Created: created, Updated: updated, Service: cfg.ServiceName}
	}

	opts := []orders.Option{
		orders.WithGrace(cfg.FulfillmentGrace),
		orders.WithLowStockThreshold(cfg.LowStockThreshold),
	}
	if notifier != nil {
		opts = append(opts, orders.WithNotifier(notifier))
	}
	coord := orders.NewCoordinator(store, settings, hub, opts...)

	gw := payment.NewHTTPGateway(cfg.PaymentGatewayURL, cfg.PaymentGatewayKey, cfg.CheckoutSuccessURL, cfg.CheckoutCancelURL)
	rec := payment.NewReconciler(gw, coord, lookup, cache, cfg.ReconcileLockTTL)

	api := httpx.NewAPI(httpx.Deps{
		Orders:     coord,
		Cache:      status,
		Gateway:    gw,
		Reconciler: rec,
		Stream:     httpx.NewStreamHandler(hub, cfg.AdminStreamToken, cfg.StreamPingInterval, cfg.StreamPongWait),
		AdminToken: cfg.AdminStreamToken,
	})
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           otelhttp.NewHandler(api, cfg.ServiceName),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logging.Info(gctx, "http listening", zap.String("addr", cfg.HTTPAddr), zap.String("store", cfg.Store))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logging.Info(gctx, "shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		err := srv.Shutdown(sctx)
		for _, p := range flush {
			p.Close()
		}
		for _, p := range flush {
			p.WaitClosed()
		}
		return err
	})
	return g.Wait()
}
