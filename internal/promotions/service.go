package promotions

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tradeyard-app/tradeyard-backend/pkg/config"
	dbpkg "github.com/tradeyard-app/tradeyard-backend/pkg/db"
	"github.com/tradeyard-app/tradeyard-backend/pkg/db/models"
	"github.com/tradeyard-app/tradeyard-backend/pkg/enums"
	apperrors "github.com/tradeyard-app/tradeyard-backend/pkg/errors"
	"github.com/tradeyard-app/tradeyard-backend/pkg/logger"
	"github.com/tradeyard-app/tradeyard-backend/pkg/outbox"
	"github.com/tradeyard-app/tradeyard-backend/pkg/stripe"
)

// PaymentVerifier checks a payment intent with the processor before the
// promotion trusts it.
type PaymentVerifier interface {
	VerifyPaymentIntent(ctx context.Context, intentID string) (*stripe.PaymentIntentInfo, error)
}

// CreateInput describes a requested listing boost. The price is a snapshot
// from the external pricing catalog.
type CreateInput struct {
	ListingID  uuid.UUID
	OwnerID    uuid.UUID
	Plan       string
	PriceCents int
}

// Service runs the promotion machine: pending until payment confirms, active
// for the plan's window, then expired by the clock or cancelled before it
// starts.
type Service interface {
	Create(ctx context.Context, input CreateInput) (*models.Promotion, error)
	GetForOwner(ctx context.Context, id, ownerID uuid.UUID) (*models.Promotion, error)
	ListForOwner(ctx context.Context, ownerID uuid.UUID, limit int) ([]models.Promotion, error)
	ConfirmPayment(ctx context.Context, id uuid.UUID, paymentRef string) (*models.Promotion, error)
	Cancel(ctx context.Context, id, ownerID uuid.UUID) (*models.Promotion, error)
	ExpireDue(ctx context.Context, now time.Time, limit int) (int, error)
}

type service struct {
	repo     Repository
	runner   dbpkg.TxRunner
	verifier PaymentVerifier
	outbox   *outbox.Service
	cfg      config.PromotionsConfig
	log      *logger.Logger
}

// NewService constructs the promotion service.
func NewService(repo Repository, runner dbpkg.TxRunner, verifier PaymentVerifier, outboxSvc *outbox.Service, cfg config.PromotionsConfig, log *logger.Logger) (Service, error) {
	switch {
	case repo == nil:
		return nil, fmt.Errorf("promotions: repository is required")
	case runner == nil:
		return nil, fmt.Errorf("promotions: tx runner is required")
	case verifier == nil:
		return nil, fmt.Errorf("promotions: payment verifier is required")
	case outboxSvc == nil:
		return nil, fmt.Errorf("promotions: outbox service is required")
	case log == nil:
		return nil, fmt.Errorf("promotions: logger is required")
	}
	return &service{
		repo:     repo,
		runner:   runner,
		verifier: verifier,
		outbox:   outboxSvc,
		cfg:      cfg,
		log:      log,
	}, nil
}

func (s *service) Create(ctx context.Context, input CreateInput) (*models.Promotion, error) {
	if _, ok := s.cfg.PlanDuration(input.Plan); !ok {
		return nil, apperrors.New(apperrors.CodeValidation, fmt.Sprintf("unknown promotion plan %q", input.Plan))
	}
	if input.PriceCents <= 0 {
		return nil, apperrors.New(apperrors.CodeValidation, "price must be positive")
	}
	if input.ListingID == uuid.Nil || input.OwnerID == uuid.Nil {
		return nil, apperrors.New(apperrors.CodeValidation, "listing and owner are required")
	}
	promotion := &models.Promotion{
		ID:         uuid.New(),
		ListingID:  input.ListingID,
		OwnerID:    input.OwnerID,
		Plan:       input.Plan,
		PriceCents: input.PriceCents,
		Status:     enums.PromotionStatusPending,
	}
	if err := s.repo.Create(ctx, promotion); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, err, "failed to create promotion")
	}
	return promotion, nil
}

func (s *service) GetForOwner(ctx context.Context, id, ownerID uuid.UUID) (*models.Promotion, error) {
	promotion, err := s.getByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if promotion.OwnerID != ownerID {
		return nil, apperrors.New(apperrors.CodeNotFound, "promotion not found")
	}
	return promotion, nil
}

func (s *service) ListForOwner(ctx context.Context, ownerID uuid.UUID, limit int) ([]models.Promotion, error) {
	if limit <= 0 {
		limit = 50
	}
	promotions, err := s.repo.ListByOwner(ctx, ownerID, limit)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, err, "failed to list promotions")
	}
	return promotions, nil
}

// ConfirmPayment activates a pending promotion after verifying the payment
// intent with the processor. A replayed confirmation with the same reference
// no-ops; a different reference against an already-active promotion is a
// conflict.
func (s *service) ConfirmPayment(ctx context.Context, id uuid.UUID, paymentRef string) (*models.Promotion, error) {
	if strings.TrimSpace(paymentRef) == "" {
		return nil, apperrors.New(apperrors.CodeValidation, "a payment reference is required")
	}
	promotion, err := s.getByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if promotion.Status == enums.PromotionStatusActive {
		if promotion.PaymentRef != nil && *promotion.PaymentRef == paymentRef {
			return promotion, nil
		}
		return nil, apperrors.New(apperrors.CodeStateConflict,
			"promotion is already active under a different payment reference")
	}
	if promotion.Status != enums.PromotionStatusPending {
		return nil, apperrors.New(apperrors.CodeStateConflict,
			fmt.Sprintf("promotion is %s, cannot confirm payment", promotion.Status))
	}

	intent, err := s.verifier.VerifyPaymentIntent(ctx, paymentRef)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeDependency, err, "failed to verify payment intent")
	}
	if !intent.Succeeded {
		return nil, apperrors.New(apperrors.CodeStateConflict, "payment intent has not succeeded")
	}
	if intent.AmountCents != promotion.PriceCents {
		return nil, apperrors.New(apperrors.CodeValidation,
			fmt.Sprintf("payment amount %d does not match promotion price %d", intent.AmountCents, promotion.PriceCents))
	}

	duration, _ := s.cfg.PlanDuration(promotion.Plan)
	now := time.Now()
	endsAt := now.Add(duration)
	err = s.runner.WithTx(ctx, func(tx *gorm.DB) error {
		rows, err := s.repo.WithTx(tx).UpdateStatusCAS(ctx, id,
			[]enums.PromotionStatus{enums.PromotionStatusPending}, enums.PromotionStatusActive,
			map[string]any{
				"payment_ref": paymentRef,
				"starts_at":   now,
				"ends_at":     endsAt,
			})
		if err != nil {
			return apperrors.Wrap(apperrors.CodeInternal, err, "failed to activate promotion")
		}
		if rows == 0 {
			current, err := s.repo.WithTx(tx).GetByID(ctx, id)
			if err != nil {
				return apperrors.Wrap(apperrors.CodeInternal, err, "failed to re-read promotion")
			}
			if current.Status == enums.PromotionStatusActive &&
				current.PaymentRef != nil && *current.PaymentRef == paymentRef {
				return nil
			}
			return apperrors.New(apperrors.CodeStateConflict,
				fmt.Sprintf("promotion is %s, cannot confirm payment", current.Status))
		}
		return s.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventPromotionActivated,
			AggregateType: enums.AggregatePromotion,
			AggregateID:   id,
			Data:          map[string]any{"listingId": promotion.ListingID, "plan": promotion.Plan},
		})
	})
	if err != nil {
		return nil, err
	}
	activated, err := s.getByID(ctx, id)
	if err != nil {
		return nil, err
	}
	s.log.Info(ctx, fmt.Sprintf("promotion %s activated until %s", id, endsAt.Format(time.RFC3339)))
	return activated, nil
}

// Cancel withdraws a promotion that has not started. Active boosts run their
// course; only the expiry job ends them.
func (s *service) Cancel(ctx context.Context, id, ownerID uuid.UUID) (*models.Promotion, error) {
	promotion, err := s.GetForOwner(ctx, id, ownerID)
	if err != nil {
		return nil, err
	}
	if promotion.Status == enums.PromotionStatusCancelled {
		return promotion, nil
	}
	rows, err := s.repo.UpdateStatusCAS(ctx, id,
		[]enums.PromotionStatus{enums.PromotionStatusPending}, enums.PromotionStatusCancelled, nil)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, err, "failed to cancel promotion")
	}
	if rows == 0 {
		current, err := s.getByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if current.Status == enums.PromotionStatusCancelled {
			return current, nil
		}
		return nil, apperrors.New(apperrors.CodeStateConflict,
			fmt.Sprintf("promotion is %s, cannot cancel", current.Status))
	}
	return s.getByID(ctx, id)
}

// ExpireDue flips active promotions whose window has closed. Each flip uses
// the same conditional update as every other transition, so a racing cancel
// or duplicate job run loses cleanly.
func (s *service) ExpireDue(ctx context.Context, now time.Time, limit int) (int, error) {
	if limit <= 0 {
		limit = 100
	}
	due, err := s.repo.ListExpiredActive(ctx, now, limit)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.CodeInternal, err, "failed to list due promotions")
	}
	expired := 0
	for i := range due {
		promotion := due[i]
		err := s.runner.WithTx(ctx, func(tx *gorm.DB) error {
			rows, err := s.repo.WithTx(tx).UpdateStatusCAS(ctx, promotion.ID,
				[]enums.PromotionStatus{enums.PromotionStatusActive}, enums.PromotionStatusExpired, nil)
			if err != nil {
				return apperrors.Wrap(apperrors.CodeInternal, err, "failed to expire promotion")
			}
			if rows == 0 {
				return nil
			}
			expired++
			return s.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
				EventType:     enums.EventPromotionExpired,
				AggregateType: enums.AggregatePromotion,
				AggregateID:   promotion.ID,
				Data:          map[string]any{"listingId": promotion.ListingID},
			})
		})
		if err != nil {
			return expired, err
		}
	}
	return expired, nil
}

func (s *service) getByID(ctx context.Context, id uuid.UUID) (*models.Promotion, error) {
	promotion, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.New(apperrors.CodeNotFound, "promotion not found")
		}
		return nil, apperrors.Wrap(apperrors.CodeInternal, err, "failed to load promotion")
	}
	return promotion, nil
}
