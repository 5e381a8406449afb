package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/tradeyard-app/tradeyard-backend/pkg/enums"
)

// PaymentAttempt records the intent and outcome of one external money
// movement (refund or payout). The outcome write is idempotent so a crash
// between the external call and the commit is recoverable on replay.
type PaymentAttempt struct {
	ID          uuid.UUID                  `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID     uuid.UUID                  `gorm:"column:order_id;type:uuid;not null;index"`
	Kind        string                     `gorm:"column:kind;not null"`
	AmountCents int                        `gorm:"column:amount_cents;not null"`
	ExternalRef *string                    `gorm:"column:external_ref;uniqueIndex:ux_payment_attempts_external_ref"`
	Status      enums.PaymentAttemptStatus `gorm:"column:status;type:payment_attempt_status_enum;not null;default:'pending'"`
	LastError   *string                    `gorm:"column:last_error"`
	CreatedAt   time.Time                  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time                  `gorm:"column:updated_at;autoUpdateTime"`
}
