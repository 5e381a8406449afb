package promotions

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tradeyard-app/tradeyard-backend/pkg/db/models"
	"github.com/tradeyard-app/tradeyard-backend/pkg/enums"
)

// Repository is the persistence surface for listing promotions.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, promotion *models.Promotion) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Promotion, error)
	ListByOwner(ctx context.Context, ownerID uuid.UUID, limit int) ([]models.Promotion, error)
	UpdateStatusCAS(ctx context.Context, id uuid.UUID, from []enums.PromotionStatus, to enums.PromotionStatus, extra map[string]any) (int64, error)
	ListExpiredActive(ctx context.Context, now time.Time, limit int) ([]models.Promotion, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds a gorm-backed promotion repository.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, promotion *models.Promotion) error {
	return r.db.WithContext(ctx).Create(promotion).Error
}

func (r *repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Promotion, error) {
	var promotion models.Promotion
	if err := r.db.WithContext(ctx).First(&promotion, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &promotion, nil
}

func (r *repository) ListByOwner(ctx context.Context, ownerID uuid.UUID, limit int) ([]models.Promotion, error) {
	var promotions []models.Promotion
	err := r.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("created_at DESC").
		Limit(limit).
		Find(&promotions).Error
	if err != nil {
		return nil, err
	}
	return promotions, nil
}

func (r *repository) UpdateStatusCAS(ctx context.Context, id uuid.UUID, from []enums.PromotionStatus, to enums.PromotionStatus, extra map[string]any) (int64, error) {
	updates := map[string]any{"status": to}
	for key, value := range extra {
		updates[key] = value
	}
	res := r.db.WithContext(ctx).
		Model(&models.Promotion{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(updates)
	return res.RowsAffected, res.Error
}

func (r *repository) ListExpiredActive(ctx context.Context, now time.Time, limit int) ([]models.Promotion, error) {
	var promotions []models.Promotion
	err := r.db.WithContext(ctx).
		Where("status = ? AND ends_at <= ?", enums.PromotionStatusActive, now).
		Order("ends_at ASC").
		Limit(limit).
		Find(&promotions).Error
	if err != nil {
		return nil, err
	}
	return promotions, nil
}
