package payments

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tradeyard-app/tradeyard-backend/pkg/db/models"
	"github.com/tradeyard-app/tradeyard-backend/pkg/enums"
	apperrors "github.com/tradeyard-app/tradeyard-backend/pkg/errors"
	"github.com/tradeyard-app/tradeyard-backend/pkg/logger"
)

// Attempt kinds. The kind plus the order scopes idempotency: at most one
// succeeded attempt of each kind per order is ever reused.
const (
	KindRefund = "refund"
	KindPayout = "payout"
)

// Processor is what we need from the external payment provider.
type Processor interface {
	Refund(ctx context.Context, paymentRef string, amountCents int) (string, error)
	Payout(ctx context.Context, amountCents int, destination string) (string, error)
}

// Service executes external money movements in two phases: the attempt row
// is committed as pending before the provider is called, and marked
// succeeded or failed afterwards. A crash between the call and the outcome
// write leaves a pending row for an operator to reconcile instead of a
// silently duplicated transfer.
type Service interface {
	ExecuteRefund(ctx context.Context, order *models.Order, amountCents int) (string, error)
	ExecutePayout(ctx context.Context, orderID uuid.UUID, amountCents int, destination string) (string, error)
	SettlePayout(ctx context.Context, externalRef string, succeeded bool, reason string) (*models.PaymentAttempt, error)
	AttemptsForOrder(ctx context.Context, orderID uuid.UUID) ([]models.PaymentAttempt, error)
}

type service struct {
	repo      Repository
	processor Processor
	log       *logger.Logger
}

// NewService constructs the payment attempt service.
func NewService(repo Repository, processor Processor, log *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("payments: repository is required")
	}
	if processor == nil {
		return nil, fmt.Errorf("payments: processor is required")
	}
	if log == nil {
		return nil, fmt.Errorf("payments: logger is required")
	}
	return &service{repo: repo, processor: processor, log: log}, nil
}

// ExecuteRefund sends amountCents back to the buyer's original payment
// method. Replays return the earlier succeeded attempt's reference without
// contacting the provider again.
func (s *service) ExecuteRefund(ctx context.Context, order *models.Order, amountCents int) (string, error) {
	if order.PaymentRef == nil {
		return "", apperrors.New(apperrors.CodeStateConflict, "order has no payment to refund")
	}
	if amountCents <= 0 || amountCents > order.TotalCents {
		return "", apperrors.New(apperrors.CodeValidation, "refund amount out of range")
	}
	return s.execute(ctx, order.ID, KindRefund, amountCents, func(callCtx context.Context) (string, error) {
		return s.processor.Refund(callCtx, *order.PaymentRef, amountCents)
	})
}

// ExecutePayout transfers amountCents to the given external destination.
func (s *service) ExecutePayout(ctx context.Context, orderID uuid.UUID, amountCents int, destination string) (string, error) {
	if amountCents <= 0 {
		return "", apperrors.New(apperrors.CodeValidation, "payout amount must be positive")
	}
	if destination == "" {
		return "", apperrors.New(apperrors.CodeValidation, "payout destination is required")
	}
	return s.execute(ctx, orderID, KindPayout, amountCents, func(callCtx context.Context) (string, error) {
		return s.processor.Payout(callCtx, amountCents, destination)
	})
}

// SettlePayout records the provider's asynchronous settlement outcome for a
// payout that was accepted earlier. The provider retries settlement webhooks,
// so an already-settled attempt is returned unchanged.
func (s *service) SettlePayout(ctx context.Context, externalRef string, succeeded bool, reason string) (*models.PaymentAttempt, error) {
	if externalRef == "" {
		return nil, apperrors.New(apperrors.CodeValidation, "payout reference is required")
	}
	attempt, err := s.repo.FindByExternalRef(ctx, externalRef, KindPayout)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.New(apperrors.CodeNotFound, fmt.Sprintf("no payout attempt for reference %s", externalRef))
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, err, "failed to load payout attempt")
	}

	if succeeded {
		s.log.Info(s.log.WithOrderID(ctx, attempt.OrderID.String()),
			fmt.Sprintf("payout %s settled", externalRef))
		return attempt, nil
	}
	if attempt.Status == enums.PaymentAttemptStatusFailed {
		return attempt, nil
	}
	if err := s.repo.MarkFailed(ctx, attempt.ID, reason); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, err, "failed to record payout settlement failure")
	}
	attempt.Status = enums.PaymentAttemptStatusFailed
	attempt.LastError = &reason
	s.log.Warn(s.log.WithOrderID(ctx, attempt.OrderID.String()),
		fmt.Sprintf("payout %s failed to settle: %s", externalRef, reason))
	return attempt, nil
}

func (s *service) AttemptsForOrder(ctx context.Context, orderID uuid.UUID) ([]models.PaymentAttempt, error) {
	return s.repo.ListByOrder(ctx, orderID)
}

func (s *service) execute(ctx context.Context, orderID uuid.UUID, kind string, amountCents int, call func(context.Context) (string, error)) (string, error) {
	existing, err := s.repo.FindSucceeded(ctx, orderID, kind)
	if err == nil && existing.ExternalRef != nil {
		s.log.Info(s.log.WithOrderID(ctx, orderID.String()),
			fmt.Sprintf("%s already executed as %s, reusing", kind, *existing.ExternalRef))
		return *existing.ExternalRef, nil
	}
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return "", apperrors.Wrap(apperrors.CodeInternal, err, "failed to check prior attempts")
	}

	attempt := &models.PaymentAttempt{
		ID:          uuid.New(),
		OrderID:     orderID,
		Kind:        kind,
		AmountCents: amountCents,
	}
	if err := s.repo.Create(ctx, attempt); err != nil {
		return "", apperrors.Wrap(apperrors.CodeInternal, err, "failed to record payment attempt")
	}

	externalRef, callErr := call(ctx)
	if callErr != nil {
		if markErr := s.repo.MarkFailed(ctx, attempt.ID, callErr.Error()); markErr != nil {
			s.log.Error(ctx, "failed to mark payment attempt failed", markErr)
		}
		return "", apperrors.Wrap(apperrors.CodeDependency, callErr, fmt.Sprintf("external %s failed", kind))
	}
	if err := s.repo.MarkSucceeded(ctx, attempt.ID, externalRef); err != nil {
		// The transfer went out; surface the bookkeeping gap loudly.
		s.log.Error(ctx, fmt.Sprintf("%s %s succeeded externally but outcome write failed", kind, externalRef), err)
		return externalRef, apperrors.Wrap(apperrors.CodeInternal, err, "failed to record attempt outcome")
	}
	return externalRef, nil
}
