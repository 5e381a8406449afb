package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/tradeyard-app/tradeyard-backend/pkg/enums"
)

// LedgerEntry records one immutable balance-affecting event for a user.
// Rows are never updated or deleted; corrections are new offsetting entries.
type LedgerEntry struct {
	ID          uuid.UUID             `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	UserID      uuid.UUID             `gorm:"column:user_id;type:uuid;not null;index"`
	Type        enums.LedgerEntryType `gorm:"column:type;type:ledger_entry_type_enum;not null"`
	AmountCents int                   `gorm:"column:amount_cents;not null"`
	OrderID     *uuid.UUID            `gorm:"column:order_id;type:uuid;index"`
	ExternalRef *string               `gorm:"column:external_ref"`
	CreatedAt   time.Time             `gorm:"column:created_at;autoCreateTime"`
}
