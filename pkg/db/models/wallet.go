package models

import (
	"time"

	"github.com/google/uuid"
)

// Wallet is the materialized view of a user's ledger. It is maintained in the
// same transaction as every ledger append and must always equal the fold of
// that user's entries.
type Wallet struct {
	UserID              uuid.UUID `gorm:"column:user_id;type:uuid;primaryKey"`
	AvailableCents      int       `gorm:"column:available_cents;not null;default:0"`
	PendingCents        int       `gorm:"column:pending_cents;not null;default:0"`
	LifetimeEarnedCents int       `gorm:"column:lifetime_earned_cents;not null;default:0"`
	LifetimeSpentCents  int       `gorm:"column:lifetime_spent_cents;not null;default:0"`
	PayoutDestination   *string   `gorm:"column:payout_destination"`
	UpdatedAt           time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
