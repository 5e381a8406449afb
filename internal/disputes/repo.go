package disputes

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tradeyard-app/tradeyard-backend/pkg/db/models"
	"github.com/tradeyard-app/tradeyard-backend/pkg/enums"
)

// Repository manages dispute persistence. The transcript tables are
// append-only; only the dispute's own status row is ever updated, and only
// through UpdateStatusCAS.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, dispute *models.Dispute) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Dispute, error)
	FindActiveByOrder(ctx context.Context, orderID uuid.UUID) (*models.Dispute, error)
	UpdateStatusCAS(ctx context.Context, id uuid.UUID, from []enums.DisputeStatus, to enums.DisputeStatus, extra map[string]any) (int64, error)
	AddMessage(ctx context.Context, message *models.DisputeMessage) error
	AddEvidence(ctx context.Context, evidence *models.DisputeEvidence) error
	ListMessages(ctx context.Context, disputeID uuid.UUID) ([]models.DisputeMessage, error)
	ListEvidence(ctx context.Context, disputeID uuid.UUID) ([]models.DisputeEvidence, error)
	ListActive(ctx context.Context, limit int) ([]models.Dispute, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a dispute repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, dispute *models.Dispute) error {
	return r.db.WithContext(ctx).Create(dispute).Error
}

func (r *repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Dispute, error) {
	var dispute models.Dispute
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&dispute).Error; err != nil {
		return nil, err
	}
	return &dispute, nil
}

func (r *repository) FindActiveByOrder(ctx context.Context, orderID uuid.UUID) (*models.Dispute, error) {
	var dispute models.Dispute
	err := r.db.WithContext(ctx).
		Where("order_id = ? AND status IN ?", orderID,
			[]enums.DisputeStatus{enums.DisputeStatusOpen, enums.DisputeStatusInvestigating}).
		First(&dispute).Error
	if err != nil {
		return nil, err
	}
	return &dispute, nil
}

func (r *repository) UpdateStatusCAS(ctx context.Context, id uuid.UUID, from []enums.DisputeStatus, to enums.DisputeStatus, extra map[string]any) (int64, error) {
	updates := map[string]any{"status": to}
	for key, value := range extra {
		updates[key] = value
	}
	res := r.db.WithContext(ctx).
		Model(&models.Dispute{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(updates)
	return res.RowsAffected, res.Error
}

func (r *repository) AddMessage(ctx context.Context, message *models.DisputeMessage) error {
	return r.db.WithContext(ctx).Create(message).Error
}

func (r *repository) AddEvidence(ctx context.Context, evidence *models.DisputeEvidence) error {
	return r.db.WithContext(ctx).Create(evidence).Error
}

func (r *repository) ListMessages(ctx context.Context, disputeID uuid.UUID) ([]models.DisputeMessage, error) {
	var messages []models.DisputeMessage
	err := r.db.WithContext(ctx).
		Where("dispute_id = ?", disputeID).
		Order("created_at ASC").
		Find(&messages).Error
	if err != nil {
		return nil, err
	}
	return messages, nil
}

func (r *repository) ListEvidence(ctx context.Context, disputeID uuid.UUID) ([]models.DisputeEvidence, error) {
	var evidence []models.DisputeEvidence
	err := r.db.WithContext(ctx).
		Where("dispute_id = ?", disputeID).
		Order("created_at ASC").
		Find(&evidence).Error
	if err != nil {
		return nil, err
	}
	return evidence, nil
}

func (r *repository) ListActive(ctx context.Context, limit int) ([]models.Dispute, error) {
	var disputes []models.Dispute
	err := r.db.WithContext(ctx).
		Where("status IN ?", []enums.DisputeStatus{enums.DisputeStatusOpen, enums.DisputeStatusInvestigating}).
		Order("created_at ASC").
		Limit(limit).
		Find(&disputes).Error
	if err != nil {
		return nil, err
	}
	return disputes, nil
}
