package main

import (
	"context"
	"errors"
	"github.com/ariefcatur/go-social-claims.git/internal/claims"
	"github.com/ariefcatur/go-social-claims.git/internal/config"
	"github.com/ariefcatur/go-social-claims.git/internal/expiry"
	"github.com/ariefcatur/go-social-claims.git/internal/httpx"
	"github.com/ariefcatur/go-social-claims.git/internal/instagram"
	"github.com/ariefcatur/go-social-claims.git/internal/intake"
	kafkax "github.com/ariefcatur/go-social-claims.git/internal/kafka"
	"github.com/ariefcatur/go-social-claims.git/internal/observability"
	"github.com/ariefcatur/go-social-claims.git/internal/postgres"
	"github.com/ariefcatur/go-social-claims.git/internal/redisx"
	"github.com/ariefcatur/go-social-claims.git/internal/shopify"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"log"
	"net/http"
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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.SetupTracing(ctx, cfg.ServiceName, cfg.OtelEndpoint)
	if err != nil {
		logger.Fatal("tracing", zap.Error(err))
	}

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Fatal("db connect", zap.Error(err))
	}
	defer db.Close()
	if err := postgres.Migrate(ctx, db); err != nil {
		logger.Fatal("db migrate", zap.Error(err))
	}

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	// Kafka producers; they outlive ctx so shutdown can flush them.
	pctx, cancelProducers := context.WithCancel(context.Background())
	defer cancelProducers()
	outcomes := kafkax.NewProducer(cfg.KafkaBrokers, claims.TopicClaimOutcome, 1024, logger)
	outcomes.Start(pctx)
	received := kafkax.NewProducer(cfg.KafkaBrokers, claims.TopicClaimReceived, 1024, logger)
	received.Start(pctx)

	// Claim pipeline
	repo := &claims.Repo{DB: db}
	shop := shopify.NewClient(cfg.ShopifyAPIVersion, nil)
	reservations := claims.NewReservationManager(repo, logger)
	processor := claims.NewProcessor(claims.ProcessorDeps{
		Store:        repo,
		Reservations: reservations,
		Inventory:    shop,
		Checkout:     shop,
		Notifier:     instagram.NewClient(cfg.MetaGraphBase, nil),
		Events:       outcomes,
		Log:          logger,
	}, claims.ProcessorConfig{
		ServiceName:        cfg.ServiceName,
		NotifyTimeout:      cfg.NotifyTimeout.Duration,
		DefaultHoldMinutes: cfg.DefaultHoldMinutes,
	})

	var dispatch intake.Dispatcher = intake.KafkaDispatcher{Events: received, Producer: cfg.ServiceName}
	if cfg.InlineProcessing {
		dispatch = intake.InlineDispatcher{Processor: processor}
	}
	directory := intake.NewShopDirectory(repo)
	ingest := intake.NewService(directory, repo, intake.NewRedisDeduper(rdb), dispatch, logger)

	// HTTP
	router := httpx.NewRouter(logger)
	(&httpx.MetaWebhookHandler{
		Intake:      ingest,
		VerifyToken: cfg.MetaWebhookVerifyToken,
		AppSecret:   cfg.MetaAppSecret,
		Log:         logger.Named("webhooks"),
	}).Register(router)
	(&httpx.APIHandler{Store: repo, Redis: rdb, Shops: directory, Catalog: shop, Log: logger.Named("api")}).Register(router)
	(&httpx.ComplianceHandler{Store: repo, APISecret: cfg.ShopifyAPISecret, Redis: rdb, Log: logger.Named("compliance")}).Register(router)
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router, ReadHeaderTimeout: 10 * time.Second}

	// Expiry sweeper on its own small pool. The API keeps serving without it.
	sweeper, sweepPool := startSweeper(ctx, cfg, rdb, outcomes, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("HTTP listening", zap.String("addr", cfg.HTTPAddr), zap.Bool("inline_processing", cfg.InlineProcessing))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down...")
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	if err := g.Wait(); err != nil {
		logger.Error("server exit", zap.Error(err))
	}

	if sweeper != nil {
		sweeper.Stop()
		sweepPool.Close()
	}
	received.Close()
	outcomes.Close()
	received.WaitClosed()
	outcomes.WaitClosed()

	tctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := shutdownTracing(tctx); err != nil {
		logger.Warn("tracing shutdown", zap.Error(err))
	}
}

func startSweeper(ctx context.Context, cfg config.Config, rdb redis.Cmdable, events claims.Publisher, logger *zap.Logger) (*expiry.Sweeper, *pgxpool.Pool) {
	pool, err := postgres.ConnectWith(ctx, cfg.PostgresDSN, postgres.PoolOptions{MaxConns: 2})
	if err != nil {
		logger.Warn("expiry sweeper disabled", zap.Error(err))
		return nil, nil
	}
	s := expiry.NewSweeper(
		claims.NewReservationManager(&claims.Repo{DB: pool}, logger),
		expiry.NewRedisLocker(rdb),
		events,
		logger,
		expiry.Config{Interval: cfg.SweepInterval.Duration, ServiceName: cfg.ServiceName},
	)
	s.Start(ctx)
	return s, pool
}
