package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/tradeyard-app/tradeyard-backend/pkg/enums"
)

// Order is one accepted sale. The money snapshot (total, fee, net) is frozen
// at creation; NetCents + FeeCents must always equal TotalCents.
type Order struct {
	ID        uuid.UUID  `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	ListingID uuid.UUID  `gorm:"column:listing_id;type:uuid;not null"`
	BuyerID   uuid.UUID  `gorm:"column:buyer_id;type:uuid;not null"`
	SellerID  uuid.UUID  `gorm:"column:seller_id;type:uuid;not null"`
	CourierID *uuid.UUID `gorm:"column:courier_id;type:uuid"`

	TotalCents int `gorm:"column:total_cents;not null"`
	FeeCents   int `gorm:"column:fee_cents;not null"`
	NetCents   int `gorm:"column:net_cents;not null"`

	Status enums.OrderStatus `gorm:"column:status;type:order_status_enum;not null;default:'created'"`

	// PaymentRef is the external processor's confirmation token; immutable once set.
	PaymentRef *string `gorm:"column:payment_ref"`

	PickupCode   *string `gorm:"column:pickup_code"`
	DeliveryCode *string `gorm:"column:delivery_code"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// Participant reports whether the given user is the buyer or seller.
func (o *Order) Participant(userID uuid.UUID) bool {
	return o.BuyerID == userID || o.SellerID == userID
}

// Counterparty returns the other side of the trade for a participant.
func (o *Order) Counterparty(userID uuid.UUID) (uuid.UUID, bool) {
	switch userID {
	case o.BuyerID:
		return o.SellerID, true
	case o.SellerID:
		return o.BuyerID, true
	default:
		return uuid.Nil, false
	}
}
