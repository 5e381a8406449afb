package main

import (
	"context"
	"net/http"
	"os"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/tradeyard-app/tradeyard-backend/api/routes"
	"github.com/tradeyard-app/tradeyard-backend/internal/disputes"
	"github.com/tradeyard-app/tradeyard-backend/internal/escrow"
	"github.com/tradeyard-app/tradeyard-backend/internal/fulfillment"
	"github.com/tradeyard-app/tradeyard-backend/internal/ledger"
	"github.com/tradeyard-app/tradeyard-backend/internal/orders"
	"github.com/tradeyard-app/tradeyard-backend/internal/payments"
	"github.com/tradeyard-app/tradeyard-backend/internal/promotions"
	"github.com/tradeyard-app/tradeyard-backend/internal/wallets"
	stripewebhook "github.com/tradeyard-app/tradeyard-backend/internal/webhooks/stripe"
	"github.com/tradeyard-app/tradeyard-backend/pkg/auth/session"
	"github.com/tradeyard-app/tradeyard-backend/pkg/config"
	"github.com/tradeyard-app/tradeyard-backend/pkg/db"
	"github.com/tradeyard-app/tradeyard-backend/pkg/logger"
	"github.com/tradeyard-app/tradeyard-backend/pkg/metrics"
	"github.com/tradeyard-app/tradeyard-backend/pkg/migrate"
	"github.com/tradeyard-app/tradeyard-backend/pkg/outbox"
	"github.com/tradeyard-app/tradeyard-backend/pkg/redis"
	"github.com/tradeyard-app/tradeyard-backend/pkg/stripe"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
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

	sessionManager, err := session.NewManager(redisClient, cfg.JWT)
	if err != nil {
		logg.Error(context.Background(), "failed to create session manager", err)
		os.Exit(1)
	}

	stripeClient, err := stripe.NewClient(context.Background(), cfg.Stripe, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create stripe client", err)
		os.Exit(1)
	}

	outboxSvc := outbox.NewService(outbox.NewRepository(dbClient.DB()), logg)
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
	fulfillmentSvc, err := fulfillment.NewService(ordersSvc, dbClient, outboxSvc, cfg.Orders, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create fulfillment service", err)
		os.Exit(1)
	}
	disputesSvc, err := disputes.NewService(disputes.Deps{
		Repo:     disputes.NewRepository(dbClient.DB()),
		Orders:   ordersSvc,
		Escrow:   escrowSvc,
		Payments: paymentsSvc,
		Runner:   dbClient,
		Outbox:   outboxSvc,
		Log:      logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create disputes service", err)
		os.Exit(1)
	}
	walletsSvc, err := wallets.NewService(wallets.NewRepository(dbClient.DB()), ledgerSvc, paymentsSvc, dbClient, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create wallets service", err)
		os.Exit(1)
	}
	promotionsSvc, err := promotions.NewService(promotions.NewRepository(dbClient.DB()), dbClient, stripeClient, outboxSvc, cfg.Promotions, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create promotions service", err)
		os.Exit(1)
	}
	webhookSvc, err := stripewebhook.NewService(stripeClient.SigningSecret(), redisClient, ordersSvc, promotionsSvc, walletsSvc, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create stripe webhook service", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(routes.Deps{
			Config:        cfg,
			Logger:        logg,
			DBPinger:      dbClient,
			RedisPinger:   redisClient,
			IdemStore:     redisClient,
			Sessions:      sessionManager,
			Orders:        ordersSvc,
			Fulfillment:   fulfillmentSvc,
			Disputes:      disputesSvc,
			Wallets:       walletsSvc,
			Promotions:    promotionsSvc,
			StripeWebhook: webhookSvc,
		}),
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}
