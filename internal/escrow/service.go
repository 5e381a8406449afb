package escrow

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/tradeyard-app/tradeyard-backend/internal/ledger"
	"github.com/tradeyard-app/tradeyard-backend/pkg/db/models"
	"github.com/tradeyard-app/tradeyard-backend/pkg/enums"
	apperrors "github.com/tradeyard-app/tradeyard-backend/pkg/errors"
	"github.com/tradeyard-app/tradeyard-backend/pkg/logger"
)

// Service moves order proceeds through the seller's pending balance. All
// methods perform ledger math only and must run inside the same transaction
// as the order status write that triggered them; external refund transfers
// are the caller's job. Every method is idempotent per order: replaying a
// call after it already took effect is a no-op.
type Service interface {
	Hold(ctx context.Context, tx *gorm.DB, order *models.Order) error
	Release(ctx context.Context, tx *gorm.DB, order *models.Order) error
	Reverse(ctx context.Context, tx *gorm.DB, order *models.Order) error
	Split(ctx context.Context, tx *gorm.DB, order *models.Order, sellerCents int) error
}

type service struct {
	ledger ledger.Service
	log    *logger.Logger
}

// NewService constructs the escrow controller.
func NewService(ledgerSvc ledger.Service, log *logger.Logger) (Service, error) {
	if ledgerSvc == nil {
		return nil, fmt.Errorf("escrow: ledger service is required")
	}
	if log == nil {
		return nil, fmt.Errorf("escrow: logger is required")
	}
	return &service{ledger: ledgerSvc, log: log}, nil
}

// Hold places the seller's net proceeds into pending. Called at the moment
// an order is confirmed paid.
func (s *service) Hold(ctx context.Context, tx *gorm.DB, order *models.Order) error {
	if order.NetCents <= 0 {
		return apperrors.New(apperrors.CodeValidation, "cannot hold a non-positive amount in escrow")
	}
	held, err := s.ledger.HasEntry(ctx, tx, order.ID, enums.LedgerEntryTypeEscrowHold)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeInternal, err, "failed to check existing escrow hold")
	}
	if held {
		s.log.Info(s.log.WithOrderID(ctx, order.ID.String()), "escrow hold already recorded, skipping")
		return nil
	}
	_, err = s.ledger.Append(ctx, tx, ledger.AppendInput{
		UserID:      order.SellerID,
		Type:        enums.LedgerEntryTypeEscrowHold,
		AmountCents: order.NetCents,
		OrderID:     &order.ID,
		ExternalRef: order.PaymentRef,
	})
	return err
}

// Release converts the full held amount into the seller's available balance.
// Called at the transition into completed.
func (s *service) Release(ctx context.Context, tx *gorm.DB, order *models.Order) error {
	done, err := s.settled(ctx, tx, order)
	if err != nil || done {
		return err
	}
	if err := s.requireHold(ctx, tx, order); err != nil {
		return err
	}
	_, err = s.ledger.Append(ctx, tx, ledger.AppendInput{
		UserID:      order.SellerID,
		Type:        enums.LedgerEntryTypeEscrowRelease,
		AmountCents: order.NetCents,
		OrderID:     &order.ID,
	})
	return err
}

// Reverse unwinds the hold and credits the buyer the full order total as a
// refund entry. The offsetting hold uses a negative amount so the original
// entry stays untouched.
func (s *service) Reverse(ctx context.Context, tx *gorm.DB, order *models.Order) error {
	done, err := s.settled(ctx, tx, order)
	if err != nil || done {
		return err
	}
	if err := s.requireHold(ctx, tx, order); err != nil {
		return err
	}
	if _, err := s.ledger.Append(ctx, tx, ledger.AppendInput{
		UserID:      order.SellerID,
		Type:        enums.LedgerEntryTypeEscrowHold,
		AmountCents: -order.NetCents,
		OrderID:     &order.ID,
	}); err != nil {
		return err
	}
	_, err = s.ledger.Append(ctx, tx, ledger.AppendInput{
		UserID:      order.BuyerID,
		Type:        enums.LedgerEntryTypeRefund,
		AmountCents: order.TotalCents,
		OrderID:     &order.ID,
		ExternalRef: order.PaymentRef,
	})
	return err
}

// Split settles a dispute partway: sellerCents of the hold is released to
// the seller, the rest of the hold is offset, and the buyer is refunded the
// remainder of what they paid.
func (s *service) Split(ctx context.Context, tx *gorm.DB, order *models.Order, sellerCents int) error {
	if sellerCents <= 0 || sellerCents >= order.NetCents {
		return apperrors.New(apperrors.CodeValidation,
			fmt.Sprintf("split amount must be between 1 and %d cents exclusive", order.NetCents))
	}
	done, err := s.settled(ctx, tx, order)
	if err != nil || done {
		return err
	}
	if err := s.requireHold(ctx, tx, order); err != nil {
		return err
	}
	if _, err := s.ledger.Append(ctx, tx, ledger.AppendInput{
		UserID:      order.SellerID,
		Type:        enums.LedgerEntryTypeEscrowRelease,
		AmountCents: sellerCents,
		OrderID:     &order.ID,
	}); err != nil {
		return err
	}
	if _, err := s.ledger.Append(ctx, tx, ledger.AppendInput{
		UserID:      order.SellerID,
		Type:        enums.LedgerEntryTypeEscrowHold,
		AmountCents: -(order.NetCents - sellerCents),
		OrderID:     &order.ID,
	}); err != nil {
		return err
	}
	_, err = s.ledger.Append(ctx, tx, ledger.AppendInput{
		UserID:      order.BuyerID,
		Type:        enums.LedgerEntryTypeRefund,
		AmountCents: order.TotalCents - sellerCents,
		OrderID:     &order.ID,
		ExternalRef: order.PaymentRef,
	})
	return err
}

// settled reports whether the order's escrow was already released or
// reversed, either of which makes further settlement a no-op.
func (s *service) settled(ctx context.Context, tx *gorm.DB, order *models.Order) (bool, error) {
	released, err := s.ledger.HasEntry(ctx, tx, order.ID, enums.LedgerEntryTypeEscrowRelease)
	if err != nil {
		return false, apperrors.Wrap(apperrors.CodeInternal, err, "failed to check escrow release")
	}
	refunded, err := s.ledger.HasEntry(ctx, tx, order.ID, enums.LedgerEntryTypeRefund)
	if err != nil {
		return false, apperrors.Wrap(apperrors.CodeInternal, err, "failed to check refund")
	}
	if released || refunded {
		s.log.Info(s.log.WithOrderID(ctx, order.ID.String()), "escrow already settled, skipping")
		return true, nil
	}
	return false, nil
}

func (s *service) requireHold(ctx context.Context, tx *gorm.DB, order *models.Order) error {
	held, err := s.ledger.HasEntry(ctx, tx, order.ID, enums.LedgerEntryTypeEscrowHold)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeInternal, err, "failed to check escrow hold")
	}
	if !held {
		return apperrors.New(apperrors.CodeStateConflict, "no escrow hold exists for this order")
	}
	return nil
}
