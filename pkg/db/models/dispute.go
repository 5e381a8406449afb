package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/tradeyard-app/tradeyard-backend/pkg/enums"
)

// Dispute freezes one order while an administrative resolver arbitrates.
// At most one non-terminal dispute may exist per order.
type Dispute struct {
	ID           uuid.UUID         `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID      uuid.UUID         `gorm:"column:order_id;type:uuid;not null;index"`
	ReporterID   uuid.UUID         `gorm:"column:reporter_id;type:uuid;not null"`
	RespondentID uuid.UUID         `gorm:"column:respondent_id;type:uuid;not null"`
	Type         enums.DisputeType `gorm:"column:type;type:dispute_type_enum;not null"`
	Description  string            `gorm:"column:description;type:text;not null"`

	// PriorOrderStatus is the order's status at the moment the dispute was
	// opened; a closed (withdrawn) dispute restores it.
	PriorOrderStatus enums.OrderStatus `gorm:"column:prior_order_status;type:order_status_enum;not null"`

	Status     enums.DisputeStatus    `gorm:"column:status;type:dispute_status_enum;not null;default:'open'"`
	Decision   *enums.DisputeDecision `gorm:"column:decision;type:dispute_decision_enum"`
	Resolution *string                `gorm:"column:resolution;type:text"`
	ResolvedAt *time.Time             `gorm:"column:resolved_at"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// DisputeMessage is one entry in the dispute's append-only transcript.
type DisputeMessage struct {
	ID        uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	DisputeID uuid.UUID `gorm:"column:dispute_id;type:uuid;not null;index"`
	AuthorID  uuid.UUID `gorm:"column:author_id;type:uuid;not null"`
	Body      string    `gorm:"column:body;type:text;not null"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

// DisputeEvidence is one append-only attachment reference.
type DisputeEvidence struct {
	ID          uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	DisputeID   uuid.UUID `gorm:"column:dispute_id;type:uuid;not null;index"`
	SubmitterID uuid.UUID `gorm:"column:submitter_id;type:uuid;not null"`
	FileRef     string    `gorm:"column:file_ref;not null"`
	Caption     *string   `gorm:"column:caption"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName pins the uncountable form used by the schema; gorm would
// pluralize to "dispute_evidences".
func (DisputeEvidence) TableName() string {
	return "dispute_evidence"
}
