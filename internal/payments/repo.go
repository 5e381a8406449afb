package payments

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tradeyard-app/tradeyard-backend/pkg/db/models"
	"github.com/tradeyard-app/tradeyard-backend/pkg/enums"
)

// Repository persists payment attempts, the durable record of every external
// money movement we initiate.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, attempt *models.PaymentAttempt) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.PaymentAttempt, error)
	FindSucceeded(ctx context.Context, orderID uuid.UUID, kind string) (*models.PaymentAttempt, error)
	FindByExternalRef(ctx context.Context, externalRef, kind string) (*models.PaymentAttempt, error)
	MarkSucceeded(ctx context.Context, id uuid.UUID, externalRef string) error
	MarkFailed(ctx context.Context, id uuid.UUID, reason string) error
	ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.PaymentAttempt, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a payment attempt repository.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, attempt *models.PaymentAttempt) error {
	return r.db.WithContext(ctx).Create(attempt).Error
}

func (r *repository) GetByID(ctx context.Context, id uuid.UUID) (*models.PaymentAttempt, error) {
	var attempt models.PaymentAttempt
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&attempt).Error; err != nil {
		return nil, err
	}
	return &attempt, nil
}

func (r *repository) FindSucceeded(ctx context.Context, orderID uuid.UUID, kind string) (*models.PaymentAttempt, error) {
	var attempt models.PaymentAttempt
	err := r.db.WithContext(ctx).
		Where("order_id = ? AND kind = ? AND status = ?", orderID, kind, enums.PaymentAttemptStatusSucceeded).
		First(&attempt).Error
	if err != nil {
		return nil, err
	}
	return &attempt, nil
}

func (r *repository) FindByExternalRef(ctx context.Context, externalRef, kind string) (*models.PaymentAttempt, error) {
	var attempt models.PaymentAttempt
	err := r.db.WithContext(ctx).
		Where("external_ref = ? AND kind = ?", externalRef, kind).
		First(&attempt).Error
	if err != nil {
		return nil, err
	}
	return &attempt, nil
}

func (r *repository) MarkSucceeded(ctx context.Context, id uuid.UUID, externalRef string) error {
	return r.db.WithContext(ctx).
		Model(&models.PaymentAttempt{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":       enums.PaymentAttemptStatusSucceeded,
			"external_ref": externalRef,
		}).Error
}

func (r *repository) MarkFailed(ctx context.Context, id uuid.UUID, reason string) error {
	return r.db.WithContext(ctx).
		Model(&models.PaymentAttempt{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":     enums.PaymentAttemptStatusFailed,
			"last_error": reason,
		}).Error
}

func (r *repository) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.PaymentAttempt, error) {
	var attempts []models.PaymentAttempt
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at ASC").
		Find(&attempts).Error
	if err != nil {
		return nil, err
	}
	return attempts, nil
}
