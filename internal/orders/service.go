package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/tradeyard-app/tradeyard-backend/internal/escrow"
	"github.com/tradeyard-app/tradeyard-backend/internal/payments"
	"github.com/tradeyard-app/tradeyard-backend/pkg/config"
	dbpkg "github.com/tradeyard-app/tradeyard-backend/pkg/db"
	"github.com/tradeyard-app/tradeyard-backend/pkg/db/models"
	"github.com/tradeyard-app/tradeyard-backend/pkg/enums"
	apperrors "github.com/tradeyard-app/tradeyard-backend/pkg/errors"
	"github.com/tradeyard-app/tradeyard-backend/pkg/logger"
	"github.com/tradeyard-app/tradeyard-backend/pkg/metrics"
	"github.com/tradeyard-app/tradeyard-backend/pkg/outbox"
	"github.com/tradeyard-app/tradeyard-backend/pkg/pagination"
	"github.com/tradeyard-app/tradeyard-backend/pkg/stripe"
)

// PaymentVerifier checks an external payment reference before it is trusted.
type PaymentVerifier interface {
	VerifyPaymentIntent(ctx context.Context, intentID string) (*stripe.PaymentIntentInfo, error)
}

// CreateInput is the checkout handoff for a reserved listing.
type CreateInput struct {
	ListingID  uuid.UUID
	BuyerID    uuid.UUID
	SellerID   uuid.UUID
	TotalCents int
}

// Service owns the order lifecycle. Every status change is a compare-and-swap
// against the transition table, and its escrow and outbox side effects commit
// in the same transaction, so a replayed or racing call either no-ops or
// fails with a state conflict — never double-applies.
type Service interface {
	Create(ctx context.Context, input CreateInput) (*models.Order, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	GetForUser(ctx context.Context, id, userID uuid.UUID) (*models.Order, error)
	ListForUser(ctx context.Context, userID uuid.UUID, params pagination.Params) ([]models.Order, string, error)
	ConfirmPayment(ctx context.Context, orderID uuid.UUID, paymentRef string) (*models.Order, error)
	Complete(ctx context.Context, orderID, buyerID uuid.UUID) (*models.Order, error)
	AutoComplete(ctx context.Context, orderID uuid.UUID) error
	Cancel(ctx context.Context, orderID, requesterID uuid.UUID) (*models.Order, error)
	// ApplyTransition performs one CAS status write plus metrics inside the
	// caller's transaction. It reports applied=false when the order already
	// has the target status.
	ApplyTransition(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, from []enums.OrderStatus, to enums.OrderStatus, extra map[string]any) (*models.Order, bool, error)
	// ResumeFromDispute restores the status an order held before its dispute
	// was opened. Used only when a dispute is withdrawn rather than resolved.
	ResumeFromDispute(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, prior enums.OrderStatus) (*models.Order, error)
	ListDeliveredBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.Order, error)
	ComputeFee(totalCents int) (feeCents int, netCents int, err error)
}

type service struct {
	repo     Repository
	runner   dbpkg.TxRunner
	escrow   escrow.Service
	payments payments.Service
	verifier PaymentVerifier
	outbox   *outbox.Service
	fees     config.FeesConfig
	orders   config.OrdersConfig
	metrics  *metrics.TransitionMetrics
	log      *logger.Logger
}

// Deps collects everything the order service needs.
type Deps struct {
	Repo     Repository
	Runner   dbpkg.TxRunner
	Escrow   escrow.Service
	Payments payments.Service
	Verifier PaymentVerifier
	Outbox   *outbox.Service
	Fees     config.FeesConfig
	Orders   config.OrdersConfig
	Metrics  *metrics.TransitionMetrics
	Log      *logger.Logger
}

// NewService constructs the order service.
func NewService(deps Deps) (Service, error) {
	switch {
	case deps.Repo == nil:
		return nil, fmt.Errorf("orders: repository is required")
	case deps.Runner == nil:
		return nil, fmt.Errorf("orders: tx runner is required")
	case deps.Escrow == nil:
		return nil, fmt.Errorf("orders: escrow service is required")
	case deps.Payments == nil:
		return nil, fmt.Errorf("orders: payments service is required")
	case deps.Verifier == nil:
		return nil, fmt.Errorf("orders: payment verifier is required")
	case deps.Outbox == nil:
		return nil, fmt.Errorf("orders: outbox service is required")
	case deps.Log == nil:
		return nil, fmt.Errorf("orders: logger is required")
	}
	if err := deps.Fees.Validate(); err != nil {
		return nil, err
	}
	return &service{
		repo:     deps.Repo,
		runner:   deps.Runner,
		escrow:   deps.Escrow,
		payments: deps.Payments,
		verifier: deps.Verifier,
		outbox:   deps.Outbox,
		fees:     deps.Fees,
		orders:   deps.Orders,
		metrics:  deps.Metrics,
		log:      deps.Log,
	}, nil
}

// Create freezes the money snapshot and opens the order in created. The fee
// is computed once here and never recomputed.
func (s *service) Create(ctx context.Context, input CreateInput) (*models.Order, error) {
	if input.ListingID == uuid.Nil || input.BuyerID == uuid.Nil || input.SellerID == uuid.Nil {
		return nil, apperrors.New(apperrors.CodeValidation, "listing, buyer and seller are required")
	}
	if input.BuyerID == input.SellerID {
		return nil, apperrors.New(apperrors.CodeValidation, "buyer and seller must differ")
	}
	fee, net, err := s.ComputeFee(input.TotalCents)
	if err != nil {
		return nil, err
	}

	order := &models.Order{
		ID:         uuid.New(),
		ListingID:  input.ListingID,
		BuyerID:    input.BuyerID,
		SellerID:   input.SellerID,
		TotalCents: input.TotalCents,
		FeeCents:   fee,
		NetCents:   net,
		Status:     enums.OrderStatusCreated,
	}
	if err := s.repo.Create(ctx, order); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, err, "failed to create order")
	}
	s.log.Info(s.log.WithOrderID(ctx, order.ID.String()),
		fmt.Sprintf("order created: total %d, fee %d, net %d", order.TotalCents, order.FeeCents, order.NetCents))
	return order, nil
}

// ComputeFee applies the platform rate with a floor, in integer cents.
func (s *service) ComputeFee(totalCents int) (int, int, error) {
	if totalCents <= 0 {
		return 0, 0, apperrors.New(apperrors.CodeValidation, "order total must be positive")
	}
	rate := decimal.NewFromInt(int64(s.fees.PlatformRateBasisPoints)).Div(decimal.NewFromInt(10_000))
	fee := decimal.NewFromInt(int64(totalCents)).Mul(rate).Round(0)
	feeCents := int(fee.IntPart())
	if feeCents < s.fees.MinimumFeeCents {
		feeCents = s.fees.MinimumFeeCents
	}
	if feeCents >= totalCents {
		return 0, 0, apperrors.New(apperrors.CodeValidation, "order total does not cover the platform fee")
	}
	return feeCents, totalCents - feeCents, nil
}

func (s *service) GetByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	order, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.New(apperrors.CodeNotFound, "order not found")
		}
		return nil, apperrors.Wrap(apperrors.CodeInternal, err, "failed to load order")
	}
	return order, nil
}

// GetForUser loads an order only if the user is a participant. Non-participants
// get not-found rather than forbidden so order IDs leak nothing.
func (s *service) GetForUser(ctx context.Context, id, userID uuid.UUID) (*models.Order, error) {
	order, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !order.Participant(userID) {
		return nil, apperrors.New(apperrors.CodeNotFound, "order not found")
	}
	return order, nil
}

func (s *service) ListForUser(ctx context.Context, userID uuid.UUID, params pagination.Params) ([]models.Order, string, error) {
	rows, err := s.repo.ListForUser(ctx, userID, params)
	if err != nil {
		return nil, "", apperrors.Wrap(apperrors.CodeInternal, err, "failed to list orders")
	}
	limit := pagination.NormalizeLimit(params.Limit)
	next := ""
	if len(rows) > limit {
		rows = rows[:limit]
		last := rows[len(rows)-1]
		next = pagination.EncodeCursor(pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
	}
	return rows, next, nil
}

// ConfirmPayment moves created -> paid after verifying the payment reference
// with the processor. The status write, the escrow hold and the outbox event
// commit together. Replaying the same confirmation is a no-op no matter how
// far the order has advanced since; confirming with a different reference
// than the recorded one is a conflict.
func (s *service) ConfirmPayment(ctx context.Context, orderID uuid.UUID, paymentRef string) (*models.Order, error) {
	if paymentRef == "" {
		return nil, apperrors.New(apperrors.CodeValidation, "payment reference is required")
	}
	order, err := s.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	// The reference is recorded exactly once, by the paid transition, so a
	// matching reference on any later status is the same delivery again.
	if order.PaymentRef != nil && *order.PaymentRef == paymentRef {
		return order, nil
	}

	intent, err := s.verifier.VerifyPaymentIntent(ctx, paymentRef)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeDependency, err, "failed to verify payment")
	}
	if !intent.Succeeded {
		return nil, apperrors.New(apperrors.CodeStateConflict, "payment has not succeeded")
	}
	if intent.AmountCents != order.TotalCents {
		return nil, apperrors.New(apperrors.CodeValidation,
			fmt.Sprintf("payment amount %d does not match order total %d", intent.AmountCents, order.TotalCents))
	}

	var updated *models.Order
	err = s.runner.WithTx(ctx, func(tx *gorm.DB) error {
		var applied bool
		updated, applied, err = s.ApplyTransition(ctx, tx, orderID,
			AllowedSources(enums.OrderStatusPaid), enums.OrderStatusPaid,
			map[string]any{"payment_ref": paymentRef})
		if err != nil {
			return err
		}
		if !applied {
			if updated.PaymentRef == nil || *updated.PaymentRef != paymentRef {
				return apperrors.New(apperrors.CodeStateConflict, "order was paid with a different reference")
			}
		}
		if err := s.escrow.Hold(ctx, tx, updated); err != nil {
			return err
		}
		return s.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderPaid,
			AggregateType: enums.AggregateOrder,
			AggregateID:   orderID,
			Data: map[string]any{
				"paymentRef": paymentRef,
				"netCents":   updated.NetCents,
			},
		})
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Complete is the buyer's confirmation from delivered. It releases escrow.
func (s *service) Complete(ctx context.Context, orderID, buyerID uuid.UUID) (*models.Order, error) {
	order, err := s.GetForUser(ctx, orderID, buyerID)
	if err != nil {
		return nil, err
	}
	if order.BuyerID != buyerID {
		return nil, apperrors.New(apperrors.CodeForbidden, "only the buyer can confirm completion")
	}
	return s.complete(ctx, orderID, []enums.OrderStatus{enums.OrderStatusDelivered})
}

// AutoComplete is the time-based default confirmation fired by the
// background worker when the buyer never acted. Racing a concurrent buyer
// confirmation or dispute is expected: losing that race is a clean no-op or
// conflict, never a double release.
func (s *service) AutoComplete(ctx context.Context, orderID uuid.UUID) error {
	_, err := s.complete(ctx, orderID, []enums.OrderStatus{enums.OrderStatusDelivered})
	if apperrors.IsCode(err, apperrors.CodeStateConflict) {
		s.log.Info(s.log.WithOrderID(ctx, orderID.String()), "auto-complete lost to a concurrent transition")
		return nil
	}
	return err
}

func (s *service) complete(ctx context.Context, orderID uuid.UUID, from []enums.OrderStatus) (*models.Order, error) {
	var updated *models.Order
	err := s.runner.WithTx(ctx, func(tx *gorm.DB) error {
		var applied bool
		var err error
		updated, applied, err = s.ApplyTransition(ctx, tx, orderID, from, enums.OrderStatusCompleted, nil)
		if err != nil {
			return err
		}
		if !applied {
			return nil
		}
		if err := s.escrow.Release(ctx, tx, updated); err != nil {
			return err
		}
		return s.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderCompleted,
			AggregateType: enums.AggregateOrder,
			AggregateID:   orderID,
			Data:          map[string]any{"netCents": updated.NetCents},
		})
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Cancel ends an order before fulfilment starts. From created it is a pure
// status change; from paid the cancellation commits first and only then does
// the refund go out, so a concurrent dispute that wins the status race never
// finds the buyer already repaid. A refund that fails after the cancellation
// committed is finished on the next call through the idempotent branch.
func (s *service) Cancel(ctx context.Context, orderID, requesterID uuid.UUID) (*models.Order, error) {
	order, err := s.GetForUser(ctx, orderID, requesterID)
	if err != nil {
		return nil, err
	}
	switch order.Status {
	case enums.OrderStatusCancelled:
		if order.PaymentRef != nil {
			if _, err := s.payments.ExecuteRefund(ctx, order, order.TotalCents); err != nil {
				return nil, err
			}
		}
		return order, nil
	case enums.OrderStatusCreated:
		return s.cancelUnpaid(ctx, orderID)
	case enums.OrderStatusPaid:
		return s.cancelPaid(ctx, order)
	default:
		return nil, conflictError(order.Status, enums.OrderStatusCancelled)
	}
}

func (s *service) cancelUnpaid(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	var updated *models.Order
	err := s.runner.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		updated, _, err = s.ApplyTransition(ctx, tx, orderID,
			[]enums.OrderStatus{enums.OrderStatusCreated}, enums.OrderStatusCancelled, nil)
		if err != nil {
			return err
		}
		return s.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderCancelled,
			AggregateType: enums.AggregateOrder,
			AggregateID:   orderID,
		})
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *service) cancelPaid(ctx context.Context, order *models.Order) (*models.Order, error) {
	var updated *models.Order
	err := s.runner.WithTx(ctx, func(tx *gorm.DB) error {
		var applied bool
		var err error
		updated, applied, err = s.ApplyTransition(ctx, tx, order.ID,
			[]enums.OrderStatus{enums.OrderStatusPaid}, enums.OrderStatusCancelled, nil)
		if err != nil {
			return err
		}
		if !applied {
			// Someone else cancelled concurrently; fall through so the
			// refund below is still ensured.
			return nil
		}
		if err := s.escrow.Reverse(ctx, tx, updated); err != nil {
			return err
		}
		return s.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderCancelled,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
		})
	})
	if err != nil {
		return nil, err
	}
	if _, err := s.payments.ExecuteRefund(ctx, updated, updated.TotalCents); err != nil {
		return nil, err
	}
	return updated, nil
}

// ApplyTransition is the single choke point for status writes. Exactly one
// of two racing callers sees rows affected; the other re-reads and either
// discovers an idempotent no-op or loses with a state conflict.
func (s *service) ApplyTransition(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, from []enums.OrderStatus, to enums.OrderStatus, extra map[string]any) (*models.Order, bool, error) {
	for _, source := range from {
		if !CanTransition(source, to) {
			return nil, false, apperrors.New(apperrors.CodeValidation,
				fmt.Sprintf("transition %s -> %s is not in the lifecycle", source, to))
		}
	}
	repo := s.repo.WithTx(tx)
	rows, err := repo.UpdateStatusCAS(ctx, orderID, from, to, extra)
	if err != nil {
		return nil, false, apperrors.Wrap(apperrors.CodeInternal, err, "failed to update order status")
	}
	order, err := repo.GetByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, false, apperrors.New(apperrors.CodeNotFound, "order not found")
		}
		return nil, false, apperrors.Wrap(apperrors.CodeInternal, err, "failed to reload order")
	}
	if rows == 0 {
		if order.Status == to {
			return order, false, nil
		}
		s.metrics.IncConflict(to.String())
		return nil, false, conflictError(order.Status, to)
	}
	s.metrics.IncApplied(labelFrom(from), to.String())
	s.log.Info(s.log.WithOrderID(ctx, orderID.String()), fmt.Sprintf("order transitioned to %s", to))
	return order, true, nil
}

// ResumeFromDispute is the one status write outside the lifecycle table: a
// withdrawn dispute puts the order back where it was. The target must itself
// be a dispute-eligible status or the snapshot is corrupt.
func (s *service) ResumeFromDispute(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, prior enums.OrderStatus) (*models.Order, error) {
	if !CanTransition(prior, enums.OrderStatusDisputed) {
		return nil, apperrors.New(apperrors.CodeInvariant,
			fmt.Sprintf("recorded pre-dispute status %s was never dispute-eligible", prior))
	}
	repo := s.repo.WithTx(tx)
	rows, err := repo.UpdateStatusCAS(ctx, orderID, []enums.OrderStatus{enums.OrderStatusDisputed}, prior, nil)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, err, "failed to resume order")
	}
	order, err := repo.GetByID(ctx, orderID)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, err, "failed to reload order")
	}
	if rows == 0 && order.Status != prior {
		s.metrics.IncConflict(prior.String())
		return nil, conflictError(order.Status, prior)
	}
	if rows > 0 {
		s.metrics.IncApplied(enums.OrderStatusDisputed.String(), prior.String())
	}
	return order, nil
}

func (s *service) ListDeliveredBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.Order, error) {
	return s.repo.ListDeliveredBefore(ctx, cutoff, limit)
}

// labelFrom picks the metric label for the source status. With a single
// allowed source it is exact; with several we cannot know which one the row
// held, so the set is collapsed.
func labelFrom(from []enums.OrderStatus) string {
	if len(from) == 1 {
		return from[0].String()
	}
	return "multiple"
}
