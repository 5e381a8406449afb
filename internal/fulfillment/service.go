package fulfillment

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tradeyard-app/tradeyard-backend/internal/orders"
	"github.com/tradeyard-app/tradeyard-backend/pkg/config"
	dbpkg "github.com/tradeyard-app/tradeyard-backend/pkg/db"
	"github.com/tradeyard-app/tradeyard-backend/pkg/db/models"
	"github.com/tradeyard-app/tradeyard-backend/pkg/enums"
	apperrors "github.com/tradeyard-app/tradeyard-backend/pkg/errors"
	"github.com/tradeyard-app/tradeyard-backend/pkg/logger"
	"github.com/tradeyard-app/tradeyard-backend/pkg/outbox"
	"github.com/tradeyard-app/tradeyard-backend/pkg/security"
)

// Service drives the courier leg of an order: scheduling pickup and delivery
// and confirming each handover against a one-time verification code. Codes
// are minted at scheduling time and checked with a constant-time compare so
// a courier cannot advance the order without physically receiving them.
type Service interface {
	SchedulePickup(ctx context.Context, orderID, courierID uuid.UUID) (*models.Order, string, error)
	ConfirmPickup(ctx context.Context, orderID, courierID uuid.UUID, code string) (*models.Order, error)
	ScheduleDelivery(ctx context.Context, orderID, courierID uuid.UUID) (*models.Order, string, error)
	ConfirmDelivery(ctx context.Context, orderID, courierID uuid.UUID, code string) (*models.Order, error)
}

type service struct {
	orders orders.Service
	runner dbpkg.TxRunner
	outbox *outbox.Service
	cfg    config.OrdersConfig
	log    *logger.Logger
}

// NewService constructs the fulfillment service.
func NewService(ordersSvc orders.Service, runner dbpkg.TxRunner, outboxSvc *outbox.Service, cfg config.OrdersConfig, log *logger.Logger) (Service, error) {
	switch {
	case ordersSvc == nil:
		return nil, fmt.Errorf("fulfillment: orders service is required")
	case runner == nil:
		return nil, fmt.Errorf("fulfillment: tx runner is required")
	case outboxSvc == nil:
		return nil, fmt.Errorf("fulfillment: outbox service is required")
	case log == nil:
		return nil, fmt.Errorf("fulfillment: logger is required")
	}
	return &service{orders: ordersSvc, runner: runner, outbox: outboxSvc, cfg: cfg, log: log}, nil
}

// SchedulePickup assigns the courier and mints the code the seller must hand
// over at pickup. The code is returned once and stored on the order.
func (s *service) SchedulePickup(ctx context.Context, orderID, courierID uuid.UUID) (*models.Order, string, error) {
	if courierID == uuid.Nil {
		return nil, "", apperrors.New(apperrors.CodeValidation, "courier is required")
	}
	code, err := security.GenerateVerificationCode(s.cfg.VerificationCodeLength)
	if err != nil {
		return nil, "", apperrors.Wrap(apperrors.CodeInternal, err, "failed to mint pickup code")
	}

	var updated *models.Order
	err = s.runner.WithTx(ctx, func(tx *gorm.DB) error {
		var applied bool
		var err error
		updated, applied, err = s.orders.ApplyTransition(ctx, tx, orderID,
			orders.AllowedSources(enums.OrderStatusPickupScheduled), enums.OrderStatusPickupScheduled,
			map[string]any{"courier_id": courierID, "pickup_code": code})
		if err != nil {
			return err
		}
		if !applied {
			// Scheduled already; keep the stored code, the minted one is discarded.
			if updated.CourierID == nil || *updated.CourierID != courierID {
				return apperrors.New(apperrors.CodeStateConflict, "pickup already scheduled with another courier")
			}
			return nil
		}
		return s.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderPickupScheduled,
			AggregateType: enums.AggregateOrder,
			AggregateID:   orderID,
			Data:          map[string]any{"courierId": courierID},
		})
	})
	if err != nil {
		return nil, "", err
	}
	if updated.PickupCode == nil {
		return nil, "", apperrors.New(apperrors.CodeInternal, "pickup code missing after scheduling")
	}
	return updated, *updated.PickupCode, nil
}

// ConfirmPickup verifies the handover code and moves the order to picked_up.
func (s *service) ConfirmPickup(ctx context.Context, orderID, courierID uuid.UUID, code string) (*models.Order, error) {
	order, err := s.requireCourier(ctx, orderID, courierID)
	if err != nil {
		return nil, err
	}
	if order.PickupCode == nil || !security.VerifyCode(*order.PickupCode, code) {
		return nil, apperrors.New(apperrors.CodeForbidden, "pickup code does not match")
	}
	return s.transition(ctx, orderID, enums.OrderStatusPickedUp, enums.EventOrderPickedUp, nil)
}

// ScheduleDelivery mints the code the buyer presents at the door.
func (s *service) ScheduleDelivery(ctx context.Context, orderID, courierID uuid.UUID) (*models.Order, string, error) {
	if _, err := s.requireCourier(ctx, orderID, courierID); err != nil {
		return nil, "", err
	}
	code, err := security.GenerateVerificationCode(s.cfg.VerificationCodeLength)
	if err != nil {
		return nil, "", apperrors.Wrap(apperrors.CodeInternal, err, "failed to mint delivery code")
	}
	updated, err := s.transition(ctx, orderID, enums.OrderStatusDeliveryScheduled, enums.EventOrderDeliveryScheduled,
		map[string]any{"delivery_code": code})
	if err != nil {
		return nil, "", err
	}
	if updated.DeliveryCode == nil {
		return nil, "", apperrors.New(apperrors.CodeInternal, "delivery code missing after scheduling")
	}
	return updated, *updated.DeliveryCode, nil
}

// ConfirmDelivery verifies the buyer's code and moves the order to delivered,
// which starts the auto-complete clock.
func (s *service) ConfirmDelivery(ctx context.Context, orderID, courierID uuid.UUID, code string) (*models.Order, error) {
	order, err := s.requireCourier(ctx, orderID, courierID)
	if err != nil {
		return nil, err
	}
	if order.DeliveryCode == nil || !security.VerifyCode(*order.DeliveryCode, code) {
		return nil, apperrors.New(apperrors.CodeForbidden, "delivery code does not match")
	}
	return s.transition(ctx, orderID, enums.OrderStatusDelivered, enums.EventOrderDelivered, nil)
}

func (s *service) requireCourier(ctx context.Context, orderID, courierID uuid.UUID) (*models.Order, error) {
	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.CourierID == nil || *order.CourierID != courierID {
		return nil, apperrors.New(apperrors.CodeForbidden, "order is not assigned to this courier")
	}
	return order, nil
}

func (s *service) transition(ctx context.Context, orderID uuid.UUID, to enums.OrderStatus, event enums.OutboxEventType, extra map[string]any) (*models.Order, error) {
	var updated *models.Order
	err := s.runner.WithTx(ctx, func(tx *gorm.DB) error {
		var applied bool
		var err error
		updated, applied, err = s.orders.ApplyTransition(ctx, tx, orderID, orders.AllowedSources(to), to, extra)
		if err != nil {
			return err
		}
		if !applied {
			return nil
		}
		return s.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
			EventType:     event,
			AggregateType: enums.AggregateOrder,
			AggregateID:   orderID,
		})
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}
