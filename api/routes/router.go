package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tradeyard-app/tradeyard-backend/api/controllers"
	disputecontrollers "github.com/tradeyard-app/tradeyard-backend/api/controllers/disputes"
	fulfillmentcontrollers "github.com/tradeyard-app/tradeyard-backend/api/controllers/fulfillment"
	ordercontrollers "github.com/tradeyard-app/tradeyard-backend/api/controllers/orders"
	promotioncontrollers "github.com/tradeyard-app/tradeyard-backend/api/controllers/promotions"
	walletcontrollers "github.com/tradeyard-app/tradeyard-backend/api/controllers/wallet"
	webhookcontrollers "github.com/tradeyard-app/tradeyard-backend/api/controllers/webhooks"
	"github.com/tradeyard-app/tradeyard-backend/api/middleware"
	"github.com/tradeyard-app/tradeyard-backend/internal/disputes"
	"github.com/tradeyard-app/tradeyard-backend/internal/fulfillment"
	"github.com/tradeyard-app/tradeyard-backend/internal/orders"
	"github.com/tradeyard-app/tradeyard-backend/internal/promotions"
	"github.com/tradeyard-app/tradeyard-backend/internal/wallets"
	"github.com/tradeyard-app/tradeyard-backend/pkg/auth/session"
	"github.com/tradeyard-app/tradeyard-backend/pkg/config"
	"github.com/tradeyard-app/tradeyard-backend/pkg/db"
	"github.com/tradeyard-app/tradeyard-backend/pkg/enums"
	"github.com/tradeyard-app/tradeyard-backend/pkg/logger"
	pkgredis "github.com/tradeyard-app/tradeyard-backend/pkg/redis"
)

// Deps collects everything the HTTP surface needs. The router stays a pure
// wiring function so tests can stand one up with stubs.
type Deps struct {
	Config        *config.Config
	Logger        *logger.Logger
	DBPinger      db.Pinger
	RedisPinger   pkgredis.Pinger
	IdemStore     pkgredis.IdempotencyStore
	Sessions      session.AccessSessionChecker
	Orders        orders.Service
	Fulfillment   fulfillment.Service
	Disputes      disputes.Service
	Wallets       wallets.Service
	Promotions    promotions.Service
	StripeWebhook webhookcontrollers.StripeWebhookService
}

func NewRouter(deps Deps) http.Handler {
	cfg := deps.Config
	logg := deps.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, deps.DBPinger, deps.RedisPinger))
	})

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/stripe", webhookcontrollers.StripeWebhook(deps.StripeWebhook, logg))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, deps.Sessions, logg))
		r.Use(middleware.Idempotency(deps.IdemStore, logg))

		r.Route("/orders", func(r chi.Router) {
			r.Post("/", ordercontrollers.Create(deps.Orders, logg))
			r.Get("/", ordercontrollers.List(deps.Orders, logg))
			r.Get("/{orderID}", ordercontrollers.Detail(deps.Orders, logg))
			r.Post("/{orderID}/complete", ordercontrollers.Complete(deps.Orders, logg))
			r.Post("/{orderID}/cancel", ordercontrollers.Cancel(deps.Orders, logg))
		})

		r.Route("/courier/orders", func(r chi.Router) {
			r.Use(middleware.RequireRole(enums.ActorRoleCourier, logg))
			r.Post("/{orderID}/pickup", fulfillmentcontrollers.SchedulePickup(deps.Fulfillment, logg))
			r.Post("/{orderID}/pickup/confirm", fulfillmentcontrollers.ConfirmPickup(deps.Fulfillment, logg))
			r.Post("/{orderID}/delivery", fulfillmentcontrollers.ScheduleDelivery(deps.Fulfillment, logg))
			r.Post("/{orderID}/delivery/confirm", fulfillmentcontrollers.ConfirmDelivery(deps.Fulfillment, logg))
		})

		r.Route("/disputes", func(r chi.Router) {
			r.Post("/", disputecontrollers.Open(deps.Disputes, logg))
			r.Get("/{disputeID}", disputecontrollers.Detail(deps.Disputes, logg))
			r.Post("/{disputeID}/messages", disputecontrollers.AddMessage(deps.Disputes, logg))
			r.Post("/{disputeID}/evidence", disputecontrollers.AddEvidence(deps.Disputes, logg))
			r.Post("/{disputeID}/close", disputecontrollers.Close(deps.Disputes, logg))
		})

		r.Route("/wallet", func(r chi.Router) {
			r.Get("/", walletcontrollers.Get(deps.Wallets, logg))
			r.Get("/entries", walletcontrollers.Entries(deps.Wallets, logg))
			r.Put("/payout-destination", walletcontrollers.SetPayoutDestination(deps.Wallets, logg))
			r.Post("/withdrawals", walletcontrollers.Withdraw(deps.Wallets, logg))
		})

		r.Route("/promotions", func(r chi.Router) {
			r.Post("/", promotioncontrollers.Create(deps.Promotions, logg))
			r.Get("/", promotioncontrollers.List(deps.Promotions, logg))
			r.Get("/{promotionID}", promotioncontrollers.Detail(deps.Promotions, logg))
			r.Post("/{promotionID}/cancel", promotioncontrollers.Cancel(deps.Promotions, logg))
		})
	})

	r.Route("/api/admin/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, deps.Sessions, logg))
		r.Use(middleware.RequireRole(enums.ActorRoleAdmin, logg))
		r.Use(middleware.Idempotency(deps.IdemStore, logg))

		r.Route("/disputes", func(r chi.Router) {
			r.Get("/", disputecontrollers.ListActive(deps.Disputes, logg))
			r.Post("/{disputeID}/investigate", disputecontrollers.StartInvestigation(deps.Disputes, logg))
			r.Post("/{disputeID}/resolve", disputecontrollers.Resolve(deps.Disputes, logg))
			r.Post("/{disputeID}/close", disputecontrollers.Close(deps.Disputes, logg))
		})
	})

	return r
}
