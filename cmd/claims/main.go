package main

import (
	"context"
	"github.com/ariefcatur/go-social-claims.git/internal/claims"
	"github.com/ariefcatur/go-social-claims.git/internal/config"
	"github.com/ariefcatur/go-social-claims.git/internal/instagram"
	kafkax "github.com/ariefcatur/go-social-claims.git/internal/kafka"
	"github.com/ariefcatur/go-social-claims.git/internal/observability"
	"github.com/ariefcatur/go-social-claims.git/internal/postgres"
	"github.com/ariefcatur/go-social-claims.git/internal/processing"
	"github.com/ariefcatur/go-social-claims.git/internal/redisx"
	"github.com/ariefcatur/go-social-claims.git/internal/shopify"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"
)

func main() {
	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := observability.NewLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := observability.SetupTracing(ctx, cfg.ServiceName+"-worker", cfg.OtelEndpoint)
	if err != nil {
		logger.Fatal("tracing", zap.Error(err))
	}

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Fatal("db", zap.Error(err))
	}
	defer db.Close()

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	// Producer: claim outcomes
	pctx, cancelProducer := context.WithCancel(context.Background())
	defer cancelProducer()
	outcomes := kafkax.NewProducer(cfg.KafkaBrokers, claims.TopicClaimOutcome, 1024, logger)
	outcomes.Start(pctx)

	// Service
	repo := &claims.Repo{DB: db}
	shop := shopify.NewClient(cfg.ShopifyAPIVersion, nil)
	svc := &processing.Service{
		Processor: claims.NewProcessor(claims.ProcessorDeps{
			Store:        repo,
			Reservations: claims.NewReservationManager(repo, logger),
			Inventory:    shop,
			Checkout:     shop,
			Notifier:     instagram.NewClient(cfg.MetaGraphBase, nil),
			Events:       outcomes,
			Log:          logger,
		}, claims.ProcessorConfig{
			ServiceName:        cfg.ServiceName + "-worker",
			NotifyTimeout:      cfg.NotifyTimeout.Duration,
			DefaultHoldMinutes: cfg.DefaultHoldMinutes,
		}),
		Redis:       rdb,
		ServiceName: cfg.ServiceName + "-worker",
		Log:         logger.Named("processing"),
	}

	// Consumer
	cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.ClaimGroup, claims.TopicClaimReceived, cfg.ClaimWorkers, logger)
	done := make(chan struct{})
	go func() {
		defer close(done)
		logger.Info("claims consumer started",
			zap.String("group", cfg.ClaimGroup),
			zap.String("topic", claims.TopicClaimReceived),
			zap.Int("workers", cfg.ClaimWorkers),
		)
		if err := cons.Start(ctx, svc.HandleClaimReceived); err != nil {
			logger.Error("consumer exit", zap.Error(err))
			cancel()
		}
	}()

	// graceful shutdown
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case <-ctx.Done():
	}
	logger.Info("shutting down consumer...")
	cancel()
	<-done
	outcomes.Close()
	outcomes.WaitClosed()

	tctx, tcancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer tcancel()
	_ = shutdownTracing(tctx)
}
