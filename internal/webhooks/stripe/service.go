package stripewebhook

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	stripeapi "github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/webhook"

	"github.com/tradeyard-app/tradeyard-backend/pkg/db/models"
	apperrors "github.com/tradeyard-app/tradeyard-backend/pkg/errors"
	"github.com/tradeyard-app/tradeyard-backend/pkg/logger"
)

// Metadata keys the checkout flow stamps onto every payment intent so the
// webhook can route it.
const (
	metadataOrderID     = "order_id"
	metadataPromotionID = "promotion_id"
)

// OrderConfirmer is the slice of the order service the webhook drives.
type OrderConfirmer interface {
	ConfirmPayment(ctx context.Context, orderID uuid.UUID, paymentRef string) (*models.Order, error)
}

// PromotionConfirmer is the slice of the promotion service the webhook drives.
type PromotionConfirmer interface {
	ConfirmPayment(ctx context.Context, id uuid.UUID, paymentRef string) (*models.Promotion, error)
}

// PayoutSettler receives the asynchronous settlement outcome of withdrawals.
type PayoutSettler interface {
	SettlePayout(ctx context.Context, externalRef string, succeeded bool, reason string) error
}

// Service verifies and dispatches Stripe webhook deliveries. Each event is
// claimed in redis before processing so a burst of redeliveries does one unit
// of work; the domain confirmations underneath are idempotent on their own,
// the guard just keeps the noise down.
type Service struct {
	signingSecret string
	guard         *guard
	orders        OrderConfirmer
	promotions    PromotionConfirmer
	payouts       PayoutSettler
	log           *logger.Logger
}

// NewService constructs the webhook dispatcher.
func NewService(signingSecret string, store Store, orders OrderConfirmer, promotions PromotionConfirmer, payouts PayoutSettler, log *logger.Logger) (*Service, error) {
	switch {
	case signingSecret == "":
		return nil, fmt.Errorf("stripewebhook: signing secret is required")
	case store == nil:
		return nil, fmt.Errorf("stripewebhook: idempotency store is required")
	case orders == nil:
		return nil, fmt.Errorf("stripewebhook: order confirmer is required")
	case promotions == nil:
		return nil, fmt.Errorf("stripewebhook: promotion confirmer is required")
	case payouts == nil:
		return nil, fmt.Errorf("stripewebhook: payout settler is required")
	case log == nil:
		return nil, fmt.Errorf("stripewebhook: logger is required")
	}
	return &Service{
		signingSecret: signingSecret,
		guard:         &guard{store: store},
		orders:        orders,
		promotions:    promotions,
		payouts:       payouts,
		log:           log,
	}, nil
}

// Handle verifies the delivery's signature and routes it. Unknown event
// types are acknowledged and dropped so Stripe stops redelivering them.
func (s *Service) Handle(ctx context.Context, payload []byte, signatureHeader string) error {
	event, err := webhook.ConstructEvent(payload, signatureHeader, s.signingSecret)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeForbidden, err, "webhook signature verification failed")
	}

	claimed, err := s.guard.claim(ctx, event.ID)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeDependency, err, "failed to claim webhook event")
	}
	if !claimed {
		s.log.Info(ctx, fmt.Sprintf("webhook event %s already processed, skipping", event.ID))
		return nil
	}

	if err := s.dispatch(ctx, event); err != nil {
		// Free the claim so Stripe's retry can reprocess.
		if releaseErr := s.guard.release(ctx, event.ID); releaseErr != nil {
			s.log.Error(ctx, fmt.Sprintf("failed to release claim for event %s", event.ID), releaseErr)
		}
		return err
	}
	return nil
}

func (s *Service) dispatch(ctx context.Context, event stripeapi.Event) error {
	switch event.Type {
	case "payment_intent.succeeded":
		return s.handlePaymentIntentSucceeded(ctx, event)
	case "payout.paid":
		return s.handlePayoutSettled(ctx, event, true)
	case "payout.failed":
		return s.handlePayoutSettled(ctx, event, false)
	default:
		s.log.Info(ctx, fmt.Sprintf("ignoring webhook event type %s", event.Type))
		return nil
	}
}

func (s *Service) handlePayoutSettled(ctx context.Context, event stripeapi.Event, succeeded bool) error {
	var payout stripeapi.Payout
	if err := json.Unmarshal(event.Data.Raw, &payout); err != nil {
		return apperrors.Wrap(apperrors.CodeValidation, err, "malformed payout payload")
	}
	if err := s.payouts.SettlePayout(ctx, payout.ID, succeeded, payout.FailureMessage); err != nil {
		// A payout we never initiated (e.g. created from the dashboard) has
		// no attempt row; acknowledge it instead of forcing retries.
		if typed := apperrors.As(err); typed != nil && typed.Code() == apperrors.CodeNotFound {
			s.log.Warn(ctx, fmt.Sprintf("payout %s has no matching withdrawal, dropping", payout.ID))
			return nil
		}
		return err
	}
	return nil
}

func (s *Service) handlePaymentIntentSucceeded(ctx context.Context, event stripeapi.Event) error {
	var intent stripeapi.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
		return apperrors.Wrap(apperrors.CodeValidation, err, "malformed payment intent payload")
	}

	if raw, ok := intent.Metadata[metadataOrderID]; ok {
		orderID, err := uuid.Parse(raw)
		if err != nil {
			return apperrors.Wrap(apperrors.CodeValidation, err, "payment intent carries a malformed order id")
		}
		ctx = s.log.WithOrderID(ctx, raw)
		if _, err := s.orders.ConfirmPayment(ctx, orderID, intent.ID); err != nil {
			return err
		}
		s.log.Info(ctx, fmt.Sprintf("payment %s confirmed for order", intent.ID))
		return nil
	}

	if raw, ok := intent.Metadata[metadataPromotionID]; ok {
		promotionID, err := uuid.Parse(raw)
		if err != nil {
			return apperrors.Wrap(apperrors.CodeValidation, err, "payment intent carries a malformed promotion id")
		}
		if _, err := s.promotions.ConfirmPayment(ctx, promotionID, intent.ID); err != nil {
			return err
		}
		s.log.Info(ctx, fmt.Sprintf("payment %s confirmed for promotion %s", intent.ID, promotionID))
		return nil
	}

	s.log.Warn(ctx, fmt.Sprintf("payment intent %s has no routing metadata, dropping", intent.ID))
	return nil
}
