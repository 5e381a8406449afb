package disputes

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tradeyard-app/tradeyard-backend/internal/escrow"
	"github.com/tradeyard-app/tradeyard-backend/internal/orders"
	"github.com/tradeyard-app/tradeyard-backend/internal/payments"
	dbpkg "github.com/tradeyard-app/tradeyard-backend/pkg/db"
	"github.com/tradeyard-app/tradeyard-backend/pkg/db/models"
	"github.com/tradeyard-app/tradeyard-backend/pkg/enums"
	apperrors "github.com/tradeyard-app/tradeyard-backend/pkg/errors"
	"github.com/tradeyard-app/tradeyard-backend/pkg/logger"
	"github.com/tradeyard-app/tradeyard-backend/pkg/outbox"
)

// OpenInput describes a participant's request to freeze an order.
type OpenInput struct {
	OrderID     uuid.UUID
	ReporterID  uuid.UUID
	Type        enums.DisputeType
	Description string
}

// ResolveInput is the administrative verdict. SellerCents is consulted only
// when Decision is split.
type ResolveInput struct {
	DisputeID   uuid.UUID
	Decision    enums.DisputeDecision
	Resolution  string
	SellerCents int
}

// Actor identifies who is touching a dispute and with what authority.
type Actor struct {
	UserID   uuid.UUID
	Resolver bool
}

// Service runs the dispute protocol: a sub-state-machine attached 1:1 to an
// order. Opening a dispute freezes the order; resolution is the only path
// that settles its escrow, and a withdrawal puts the order back where the
// dispute found it.
type Service interface {
	Open(ctx context.Context, input OpenInput) (*models.Dispute, error)
	GetForActor(ctx context.Context, disputeID uuid.UUID, actor Actor) (*models.Dispute, error)
	AddMessage(ctx context.Context, disputeID uuid.UUID, actor Actor, body string) (*models.DisputeMessage, error)
	AddEvidence(ctx context.Context, disputeID uuid.UUID, actor Actor, fileRef string, caption *string) (*models.DisputeEvidence, error)
	Transcript(ctx context.Context, disputeID uuid.UUID, actor Actor) ([]models.DisputeMessage, []models.DisputeEvidence, error)
	StartInvestigation(ctx context.Context, disputeID uuid.UUID) (*models.Dispute, error)
	Resolve(ctx context.Context, input ResolveInput) (*models.Dispute, error)
	Close(ctx context.Context, disputeID uuid.UUID, actor Actor) (*models.Dispute, error)
	ListActive(ctx context.Context, limit int) ([]models.Dispute, error)
}

type service struct {
	repo     Repository
	orders   orders.Service
	escrow   escrow.Service
	payments payments.Service
	runner   dbpkg.TxRunner
	outbox   *outbox.Service
	log      *logger.Logger
}

// Deps collects everything the dispute service needs.
type Deps struct {
	Repo     Repository
	Orders   orders.Service
	Escrow   escrow.Service
	Payments payments.Service
	Runner   dbpkg.TxRunner
	Outbox   *outbox.Service
	Log      *logger.Logger
}

// NewService constructs the dispute service.
func NewService(deps Deps) (Service, error) {
	switch {
	case deps.Repo == nil:
		return nil, fmt.Errorf("disputes: repository is required")
	case deps.Orders == nil:
		return nil, fmt.Errorf("disputes: orders service is required")
	case deps.Escrow == nil:
		return nil, fmt.Errorf("disputes: escrow service is required")
	case deps.Payments == nil:
		return nil, fmt.Errorf("disputes: payments service is required")
	case deps.Runner == nil:
		return nil, fmt.Errorf("disputes: tx runner is required")
	case deps.Outbox == nil:
		return nil, fmt.Errorf("disputes: outbox service is required")
	case deps.Log == nil:
		return nil, fmt.Errorf("disputes: logger is required")
	}
	return &service{
		repo:     deps.Repo,
		orders:   deps.Orders,
		escrow:   deps.Escrow,
		payments: deps.Payments,
		runner:   deps.Runner,
		outbox:   deps.Outbox,
		log:      deps.Log,
	}, nil
}

// Open freezes the order and creates the dispute in one transaction. A
// repeated open for the same order returns the existing active dispute
// instead of erroring, so retried client requests are safe.
func (s *service) Open(ctx context.Context, input OpenInput) (*models.Dispute, error) {
	if !input.Type.IsValid() {
		return nil, apperrors.New(apperrors.CodeValidation, fmt.Sprintf("unknown dispute type %q", input.Type))
	}
	if strings.TrimSpace(input.Description) == "" {
		return nil, apperrors.New(apperrors.CodeValidation, "a description is required")
	}
	order, err := s.orders.GetByID(ctx, input.OrderID)
	if err != nil {
		return nil, err
	}
	respondentID, ok := order.Counterparty(input.ReporterID)
	if !ok {
		return nil, apperrors.New(apperrors.CodeForbidden, "only a participant can open a dispute")
	}
	if existing, err := s.repo.FindActiveByOrder(ctx, input.OrderID); err == nil {
		return existing, nil
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.Wrap(apperrors.CodeInternal, err, "failed to check for an active dispute")
	}
	if !orders.CanTransition(order.Status, enums.OrderStatusDisputed) {
		return nil, apperrors.New(apperrors.CodeStateConflict,
			fmt.Sprintf("an order in %s cannot be disputed", order.Status))
	}

	dispute := &models.Dispute{
		ID:               uuid.New(),
		OrderID:          input.OrderID,
		ReporterID:       input.ReporterID,
		RespondentID:     respondentID,
		Type:             input.Type,
		Description:      input.Description,
		PriorOrderStatus: order.Status,
		Status:           enums.DisputeStatusOpen,
	}
	err = s.runner.WithTx(ctx, func(tx *gorm.DB) error {
		if _, _, err := s.orders.ApplyTransition(ctx, tx, input.OrderID,
			[]enums.OrderStatus{order.Status}, enums.OrderStatusDisputed, nil); err != nil {
			return err
		}
		if err := s.repo.WithTx(tx).Create(ctx, dispute); err != nil {
			if dbpkg.IsUniqueViolation(err, "ux_disputes_active_order") {
				// Lost the open race; the caller gets the winner's dispute.
				return nil
			}
			return apperrors.Wrap(apperrors.CodeInternal, err, "failed to create dispute")
		}
		if err := s.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderDisputed,
			AggregateType: enums.AggregateOrder,
			AggregateID:   input.OrderID,
		}); err != nil {
			return err
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventDisputeOpened,
			AggregateType: enums.AggregateDispute,
			AggregateID:   dispute.ID,
			Actor:         &outbox.ActorRef{UserID: input.ReporterID},
			Data:          map[string]any{"orderId": input.OrderID, "type": input.Type},
		})
	})
	if err != nil {
		return nil, err
	}
	winner, err := s.repo.FindActiveByOrder(ctx, input.OrderID)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, err, "failed to reload dispute")
	}
	s.log.Info(s.log.WithDisputeID(ctx, winner.ID.String()), "dispute open request settled")
	return winner, nil
}

func (s *service) GetForActor(ctx context.Context, disputeID uuid.UUID, actor Actor) (*models.Dispute, error) {
	dispute, err := s.repo.GetByID(ctx, disputeID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.New(apperrors.CodeNotFound, "dispute not found")
		}
		return nil, apperrors.Wrap(apperrors.CodeInternal, err, "failed to load dispute")
	}
	if !actor.Resolver && dispute.ReporterID != actor.UserID && dispute.RespondentID != actor.UserID {
		return nil, apperrors.New(apperrors.CodeNotFound, "dispute not found")
	}
	return dispute, nil
}

// AddMessage appends to the transcript while the dispute is still active.
func (s *service) AddMessage(ctx context.Context, disputeID uuid.UUID, actor Actor, body string) (*models.DisputeMessage, error) {
	if strings.TrimSpace(body) == "" {
		return nil, apperrors.New(apperrors.CodeValidation, "message body is required")
	}
	dispute, err := s.requireActive(ctx, disputeID, actor)
	if err != nil {
		return nil, err
	}
	message := &models.DisputeMessage{
		ID:        uuid.New(),
		DisputeID: dispute.ID,
		AuthorID:  actor.UserID,
		Body:      body,
	}
	if err := s.repo.AddMessage(ctx, message); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, err, "failed to add message")
	}
	return message, nil
}

// AddEvidence appends an attachment reference while the dispute is active.
func (s *service) AddEvidence(ctx context.Context, disputeID uuid.UUID, actor Actor, fileRef string, caption *string) (*models.DisputeEvidence, error) {
	if strings.TrimSpace(fileRef) == "" {
		return nil, apperrors.New(apperrors.CodeValidation, "a file reference is required")
	}
	dispute, err := s.requireActive(ctx, disputeID, actor)
	if err != nil {
		return nil, err
	}
	evidence := &models.DisputeEvidence{
		ID:          uuid.New(),
		DisputeID:   dispute.ID,
		SubmitterID: actor.UserID,
		FileRef:     fileRef,
		Caption:     caption,
	}
	if err := s.repo.AddEvidence(ctx, evidence); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, err, "failed to add evidence")
	}
	return evidence, nil
}

func (s *service) Transcript(ctx context.Context, disputeID uuid.UUID, actor Actor) ([]models.DisputeMessage, []models.DisputeEvidence, error) {
	if _, err := s.GetForActor(ctx, disputeID, actor); err != nil {
		return nil, nil, err
	}
	messages, err := s.repo.ListMessages(ctx, disputeID)
	if err != nil {
		return nil, nil, apperrors.Wrap(apperrors.CodeInternal, err, "failed to list messages")
	}
	evidence, err := s.repo.ListEvidence(ctx, disputeID)
	if err != nil {
		return nil, nil, apperrors.Wrap(apperrors.CodeInternal, err, "failed to list evidence")
	}
	return messages, evidence, nil
}

// StartInvestigation is the resolver acknowledging the case.
func (s *service) StartInvestigation(ctx context.Context, disputeID uuid.UUID) (*models.Dispute, error) {
	rows, err := s.repo.UpdateStatusCAS(ctx, disputeID,
		[]enums.DisputeStatus{enums.DisputeStatusOpen}, enums.DisputeStatusInvestigating, nil)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, err, "failed to start investigation")
	}
	dispute, err := s.repo.GetByID(ctx, disputeID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.New(apperrors.CodeNotFound, "dispute not found")
		}
		return nil, apperrors.Wrap(apperrors.CodeInternal, err, "failed to reload dispute")
	}
	if rows == 0 && dispute.Status != enums.DisputeStatusInvestigating {
		return nil, apperrors.New(apperrors.CodeStateConflict,
			fmt.Sprintf("dispute is %s, cannot start investigating", dispute.Status))
	}
	return dispute, nil
}

// Resolve settles the dispute and drives the order out of disputed. The
// decision picks both the order's terminal status and the escrow math:
// favor_seller releases everything, favor_buyer reverses and refunds the
// full total, split divides the hold at SellerCents. Replaying the same
// verdict is a no-op; a different verdict after the first is a conflict.
func (s *service) Resolve(ctx context.Context, input ResolveInput) (*models.Dispute, error) {
	if !input.Decision.IsValid() {
		return nil, apperrors.New(apperrors.CodeValidation, fmt.Sprintf("unknown decision %q", input.Decision))
	}
	if strings.TrimSpace(input.Resolution) == "" {
		return nil, apperrors.New(apperrors.CodeValidation, "resolution text is required")
	}
	dispute, err := s.repo.GetByID(ctx, input.DisputeID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.New(apperrors.CodeNotFound, "dispute not found")
		}
		return nil, apperrors.Wrap(apperrors.CodeInternal, err, "failed to load dispute")
	}
	if !dispute.Status.IsActive() {
		if dispute.Status == enums.DisputeStatusResolved && dispute.Decision != nil && *dispute.Decision == input.Decision {
			return dispute, nil
		}
		return nil, apperrors.New(apperrors.CodeStateConflict,
			fmt.Sprintf("dispute is already %s", dispute.Status))
	}
	order, err := s.orders.GetByID(ctx, dispute.OrderID)
	if err != nil {
		return nil, err
	}

	// A refund that already went out, say from a cancellation that raced
	// the dispute, forecloses any verdict that would pay the seller on top
	// of it. Only a buyer-favoring resolution can settle such an order.
	if input.Decision == enums.DisputeDecisionFavorSeller || input.Decision == enums.DisputeDecisionSplit {
		refunded, err := s.refundAlreadySent(ctx, order.ID)
		if err != nil {
			return nil, err
		}
		if refunded {
			return nil, apperrors.New(apperrors.CodeStateConflict,
				"buyer already holds a refund for this order")
		}
	}

	// External transfers go out before the verdict commits; the attempt
	// records make replays reuse them instead of paying twice.
	var refundRef string
	switch input.Decision {
	case enums.DisputeDecisionFavorBuyer:
		refundRef, err = s.payments.ExecuteRefund(ctx, order, order.TotalCents)
	case enums.DisputeDecisionSplit:
		if input.SellerCents <= 0 || input.SellerCents >= order.NetCents {
			return nil, apperrors.New(apperrors.CodeValidation,
				fmt.Sprintf("split amount must be between 1 and %d cents exclusive", order.NetCents))
		}
		refundRef, err = s.payments.ExecuteRefund(ctx, order, order.TotalCents-input.SellerCents)
	}
	if err != nil {
		return nil, err
	}

	now := time.Now()
	err = s.runner.WithTx(ctx, func(tx *gorm.DB) error {
		rows, err := s.repo.WithTx(tx).UpdateStatusCAS(ctx, dispute.ID,
			[]enums.DisputeStatus{enums.DisputeStatusOpen, enums.DisputeStatusInvestigating},
			enums.DisputeStatusResolved,
			map[string]any{
				"decision":    input.Decision,
				"resolution":  input.Resolution,
				"resolved_at": now,
			})
		if err != nil {
			return apperrors.Wrap(apperrors.CodeInternal, err, "failed to resolve dispute")
		}
		if rows == 0 {
			return apperrors.New(apperrors.CodeStateConflict, "dispute was settled concurrently")
		}

		target := enums.OrderStatusCompleted
		if input.Decision == enums.DisputeDecisionFavorBuyer {
			target = enums.OrderStatusCancelled
		}
		updated, _, err := s.orders.ApplyTransition(ctx, tx, order.ID,
			[]enums.OrderStatus{enums.OrderStatusDisputed}, target, nil)
		if err != nil {
			return err
		}

		switch input.Decision {
		case enums.DisputeDecisionFavorSeller:
			err = s.escrow.Release(ctx, tx, updated)
		case enums.DisputeDecisionFavorBuyer:
			err = s.escrow.Reverse(ctx, tx, updated)
		case enums.DisputeDecisionSplit:
			err = s.escrow.Split(ctx, tx, updated, input.SellerCents)
		}
		if err != nil {
			return err
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventDisputeResolved,
			AggregateType: enums.AggregateDispute,
			AggregateID:   dispute.ID,
			Data: map[string]any{
				"orderId":   order.ID,
				"decision":  input.Decision,
				"refundRef": refundRef,
			},
		})
	})
	if err != nil {
		return nil, err
	}
	resolved, err := s.repo.GetByID(ctx, dispute.ID)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, err, "failed to reload dispute")
	}
	s.log.Info(s.log.WithDisputeID(ctx, dispute.ID.String()),
		fmt.Sprintf("dispute resolved: %s", input.Decision))
	return resolved, nil
}

func (s *service) refundAlreadySent(ctx context.Context, orderID uuid.UUID) (bool, error) {
	attempts, err := s.payments.AttemptsForOrder(ctx, orderID)
	if err != nil {
		return false, apperrors.Wrap(apperrors.CodeInternal, err, "failed to load payment attempts")
	}
	for _, attempt := range attempts {
		if attempt.Kind == payments.KindRefund && attempt.Status == enums.PaymentAttemptStatusSucceeded {
			return true, nil
		}
	}
	return false, nil
}

// Close withdraws a dispute without a verdict: the reporter may close their
// own case while it is still open, a resolver may close at any active stage.
// The order resumes the status it held before the dispute.
func (s *service) Close(ctx context.Context, disputeID uuid.UUID, actor Actor) (*models.Dispute, error) {
	dispute, err := s.GetForActor(ctx, disputeID, actor)
	if err != nil {
		return nil, err
	}
	if dispute.Status == enums.DisputeStatusClosed {
		return dispute, nil
	}
	if !dispute.Status.IsActive() {
		return nil, apperrors.New(apperrors.CodeStateConflict,
			fmt.Sprintf("dispute is already %s", dispute.Status))
	}
	allowedFrom := []enums.DisputeStatus{enums.DisputeStatusOpen, enums.DisputeStatusInvestigating}
	if !actor.Resolver {
		if dispute.ReporterID != actor.UserID {
			return nil, apperrors.New(apperrors.CodeForbidden, "only the reporter can withdraw a dispute")
		}
		allowedFrom = []enums.DisputeStatus{enums.DisputeStatusOpen}
	}

	err = s.runner.WithTx(ctx, func(tx *gorm.DB) error {
		rows, err := s.repo.WithTx(tx).UpdateStatusCAS(ctx, dispute.ID, allowedFrom, enums.DisputeStatusClosed, nil)
		if err != nil {
			return apperrors.Wrap(apperrors.CodeInternal, err, "failed to close dispute")
		}
		if rows == 0 {
			return apperrors.New(apperrors.CodeStateConflict, "dispute was settled concurrently")
		}
		if _, err := s.orders.ResumeFromDispute(ctx, tx, dispute.OrderID, dispute.PriorOrderStatus); err != nil {
			return err
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventDisputeClosed,
			AggregateType: enums.AggregateDispute,
			AggregateID:   dispute.ID,
			Actor:         &outbox.ActorRef{UserID: actor.UserID},
			Data:          map[string]any{"orderId": dispute.OrderID},
		})
	})
	if err != nil {
		return nil, err
	}
	closed, err := s.repo.GetByID(ctx, dispute.ID)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, err, "failed to reload dispute")
	}
	return closed, nil
}

func (s *service) ListActive(ctx context.Context, limit int) ([]models.Dispute, error) {
	if limit <= 0 {
		limit = 50
	}
	disputes, err := s.repo.ListActive(ctx, limit)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, err, "failed to list disputes")
	}
	return disputes, nil
}

func (s *service) requireActive(ctx context.Context, disputeID uuid.UUID, actor Actor) (*models.Dispute, error) {
	dispute, err := s.GetForActor(ctx, disputeID, actor)
	if err != nil {
		return nil, err
	}
	if !dispute.Status.IsActive() {
		return nil, apperrors.New(apperrors.CodeStateConflict,
			fmt.Sprintf("dispute is %s and no longer accepts additions", dispute.Status))
	}
	return dispute, nil
}
