package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/tradeyard-app/tradeyard-backend/pkg/enums"
)

// Promotion is a paid listing boost; it activates only once its payment is
// confirmed, mirroring the order payment gate.
type Promotion struct {
	ID         uuid.UUID             `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	ListingID  uuid.UUID             `gorm:"column:listing_id;type:uuid;not null"`
	OwnerID    uuid.UUID             `gorm:"column:owner_id;type:uuid;not null;index"`
	Plan       string                `gorm:"column:plan;not null"`
	PriceCents int                   `gorm:"column:price_cents;not null"`
	Status     enums.PromotionStatus `gorm:"column:status;type:promotion_status_enum;not null;default:'pending'"`
	PaymentRef *string               `gorm:"column:payment_ref"`
	StartsAt   *time.Time            `gorm:"column:starts_at"`
	EndsAt     *time.Time            `gorm:"column:ends_at"`
	CreatedAt  time.Time             `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt  time.Time             `gorm:"column:updated_at;autoUpdateTime"`
}
