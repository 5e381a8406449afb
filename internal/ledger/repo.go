package ledger

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tradeyard-app/tradeyard-backend/pkg/db/models"
	"github.com/tradeyard-app/tradeyard-backend/pkg/enums"
)

// WalletDelta is the incremental change one ledger append makes to the
// materialized wallet row.
type WalletDelta struct {
	AvailableCents      int
	PendingCents        int
	LifetimeEarnedCents int
	LifetimeSpentCents  int
}

// Repository manages persistence for ledger entries and wallets. Entries are
// append-only: the repository deliberately exposes no update or delete.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, entry *models.LedgerEntry) error
	ListByUserID(ctx context.Context, userID uuid.UUID) ([]models.LedgerEntry, error)
	ListByOrderID(ctx context.Context, orderID uuid.UUID) ([]models.LedgerEntry, error)
	HasEntry(ctx context.Context, orderID uuid.UUID, entryType enums.LedgerEntryType) (bool, error)
	GetWallet(ctx context.Context, userID uuid.UUID) (*models.Wallet, error)
	ApplyWalletDelta(ctx context.Context, userID uuid.UUID, delta WalletDelta) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a ledger repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, entry *models.LedgerEntry) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *repository) ListByUserID(ctx context.Context, userID uuid.UUID) ([]models.LedgerEntry, error) {
	var entries []models.LedgerEntry
	if err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at ASC").
		Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *repository) ListByOrderID(ctx context.Context, orderID uuid.UUID) ([]models.LedgerEntry, error) {
	var entries []models.LedgerEntry
	if err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at ASC").
		Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *repository) HasEntry(ctx context.Context, orderID uuid.UUID, entryType enums.LedgerEntryType) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.LedgerEntry{}).
		Where("order_id = ? AND type = ?", orderID, entryType).
		Count(&count).Error
	return count > 0, err
}

func (r *repository) GetWallet(ctx context.Context, userID uuid.UUID) (*models.Wallet, error) {
	var wallet models.Wallet
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		First(&wallet).Error
	if err != nil {
		return nil, err
	}
	return &wallet, nil
}

func (r *repository) ApplyWalletDelta(ctx context.Context, userID uuid.UUID, delta WalletDelta) error {
	return r.db.WithContext(ctx).Exec(`
		INSERT INTO wallets (user_id, available_cents, pending_cents, lifetime_earned_cents, lifetime_spent_cents, updated_at)
		VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT (user_id) DO UPDATE SET
			available_cents = wallets.available_cents + excluded.available_cents,
			pending_cents = wallets.pending_cents + excluded.pending_cents,
			lifetime_earned_cents = wallets.lifetime_earned_cents + excluded.lifetime_earned_cents,
			lifetime_spent_cents = wallets.lifetime_spent_cents + excluded.lifetime_spent_cents,
			updated_at = CURRENT_TIMESTAMP
	`, userID, delta.AvailableCents, delta.PendingCents, delta.LifetimeEarnedCents, delta.LifetimeSpentCents).Error
}
