package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-resto-orders/internal/config"
	kafkax "github.com/ariefcatur/go-resto-orders/internal/kafka"
	"github.com/ariefcatur/go-resto-orders/internal/logging"
	"github.com/ariefcatur/go-resto-orders/internal/notify"
	"github.com/ariefcatur/go-resto-orders/internal/orders"
	"github.com/ariefcatur/go-resto-orders/internal/redisx"
	"github.com/ariefcatur/go-resto-orders/internal/telemetry"
)

func main() {
	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	service := cfg.ServiceName + "-notifier"
	if _, err := logging.Setup(cfg.LogLevel, cfg.LogFormat, service); err != nil {
		panic(err)
	}
	defer logging.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Init(ctx, cfg.OtelEndpoint, service)
	if err != nil {
		logging.Error(ctx, "tracing init", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	rdb, err := redisx.New(cfg.RedisAddr)
	if err != nil {
		logging.Error(ctx, "redis init", err)
		os.Exit(1)
	}
	defer rdb.Close()

	svc := &notify.Service{
		Dedup:  &redisx.Deduper{RDB: rdb, Service: "notifier"},
		Mailer: notify.LogMailer{},
	}

	topics := []string{orders.TopicOrderCreated, orders.TopicOrderStatusUpdated}
	cons := kafkax.NewConsumer(cfg.Brokers(), cfg.NotifierGroup, topics, cfg.NotifierWorkers)

	logging.Info(ctx, "notifier consumer started",
		zap.String("group", cfg.NotifierGroup),
		zap.Strings("topics", topics),
		zap.Int("workers", cfg.NotifierWorkers),
	)
	if err := cons.Start(ctx, svc.HandleMessage); err != nil {
		logging.Error(ctx, "consumer exit", err)
		os.Exit(1)
	}
	logging.Info(ctx, "notifier stopped")
}
