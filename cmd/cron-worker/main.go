package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/tradeyard-app/tradeyard-backend/internal/cron"
	"github.com/tradeyard-app/tradeyard-backend/internal/escrow"
	"github.com/tradeyard-app/tradeyard-backend/internal/ledger"
	"github.com/tradeyard-app/tradeyard-backend/internal/orders"
	"github.com/tradeyard-app/tradeyard-backend/internal/payments"
	"github.com/tradeyard-app/tradeyard-backend/internal/promotions"
	"github.com/tradeyard-app/tradeyard-backend/pkg/config"
	"github.com/tradeyard-app/tradeyard-backend/pkg/db"
	"github.com/tradeyard-app/tradeyard-backend/pkg/logger"
	"github.com/tradeyard-app/tradeyard-backend/pkg/metrics"
	"github.com/tradeyard-app/tradeyard-backend/pkg/migrate"
	"github.com/tradeyard-app/tradeyard-backend/pkg/outbox"
	"github.com/tradeyard-app/tradeyard-backend/pkg/redis"
	"github.com/tradeyard-app/tradeyard-backend/pkg/stripe"
)

const lockKeyFormat = "ty:cron-worker:lock:%s"

func main() {
	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "cron-worker"

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	stripeClient, err := stripe.NewClient(context.Background(), cfg.Stripe, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create stripe client", err)
		os.Exit(1)
	}

	outboxRepo := outbox.NewRepository(dbClient.DB())
	outboxSvc := outbox.NewService(outboxRepo, logg)
	transitionMetrics := metrics.NewTransitionMetrics(prometheus.DefaultRegisterer)

	ledgerSvc, err := ledger.NewService(ledger.NewRepository(dbClient.DB()), logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create ledger service", err)
		os.Exit(1)
	}
	escrowSvc, err := escrow.NewService(ledgerSvc, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create escrow service", err)
		os.Exit(1)
	}
	paymentsSvc, err := payments.NewService(payments.NewRepository(dbClient.DB()), stripeClient, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create payments service", err)
		os.Exit(1)
	}
	ordersSvc, err := orders.NewService(orders.Deps{
		Repo:     orders.NewRepository(dbClient.DB()),
		Runner:   dbClient,
		Escrow:   escrowSvc,
		Payments: paymentsSvc,
		Verifier: stripeClient,
		Outbox:   outboxSvc,
		Fees:     cfg.Fees,
		Orders:   cfg.Orders,
		Metrics:  transitionMetrics,
		Log:      logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create orders service", err)
		os.Exit(1)
	}
	promotionsSvc, err := promotions.NewService(promotions.NewRepository(dbClient.DB()), dbClient, stripeClient, outboxSvc, cfg.Promotions, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create promotions service", err)
		os.Exit(1)
	}

	autoCompleteJob, err := cron.NewOrderAutoCompleteJob(cron.OrderAutoCompleteJobParams{
		Logger: logg,
		Orders: ordersSvc,
		Config: cfg.Orders,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create order auto-complete job", err)
		os.Exit(1)
	}
	promotionExpiryJob, err := cron.NewPromotionExpiryJob(cron.PromotionExpiryJobParams{
		Logger:     logg,
		Promotions: promotionsSvc,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create promotion expiry job", err)
		os.Exit(1)
	}
	outboxRetentionJob, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger: logg,
		Outbox: outboxRepo,
		Config: cfg.Outbox,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create outbox retention job", err)
		os.Exit(1)
	}

	lock, err := cron.NewRedisLock(redisClient, lockKey(cfg.App.Env), 0)
	if err != nil {
		logg.Error(context.Background(), "failed to create cron lock", err)
		os.Exit(1)
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: cron.NewRegistry(autoCompleteJob, promotionExpiryJob, outboxRetentionJob),
		Lock:     lock,
		Metrics:  metrics.NewCronJobMetrics(prometheus.DefaultRegisterer),
		Interval: cfg.Cron.Interval,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
	})
	logg.Info(ctx, "starting cron worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}

func lockKey(env string) string {
	if env == "" {
		env = "local"
	}
	return fmt.Sprintf(lockKeyFormat, env)
}
