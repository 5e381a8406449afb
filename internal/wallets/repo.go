package wallets

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Repository covers the wallet fields the ledger does not own.
type Repository interface {
	SetPayoutDestination(ctx context.Context, userID uuid.UUID, destination string) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds a gorm-backed wallet repository.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) SetPayoutDestination(ctx context.Context, userID uuid.UUID, destination string) error {
	return r.db.WithContext(ctx).Exec(`
		INSERT INTO wallets (user_id, payout_destination, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT (user_id) DO UPDATE SET
			payout_destination = excluded.payout_destination,
			updated_at = CURRENT_TIMESTAMP`,
		userID, destination).Error
}
