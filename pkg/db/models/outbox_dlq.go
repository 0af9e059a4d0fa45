package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/coinsacademy/topup-backend/pkg/enums"
)

// OutboxDLQ captures outbox rows that will never be published.
type OutboxDLQ struct {
	ID            uuid.UUID                  `gorm:"column:id;type:uuid;primaryKey"`
	EventID       uuid.UUID                  `gorm:"column:event_id;type:uuid;not null;uniqueIndex"`
	EventType     enums.OutboxEventType      `gorm:"column:event_type;type:text;not null"`
	AggregateType enums.OutboxAggregateType  `gorm:"column:aggregate_type;type:text;not null"`
	AggregateID   uuid.UUID                  `gorm:"column:aggregate_id;type:uuid;not null"`
	Payload       json.RawMessage            `gorm:"column:payload_json;type:jsonb;not null"`
	ErrorReason   enums.OutboxDLQErrorReason `gorm:"column:error_reason;type:text;not null"`
	ErrorMessage  *string                    `gorm:"column:error_message"`
	AttemptCount  int                        `gorm:"column:attempt_count;not null;default:0"`
	FailedAt      time.Time                  `gorm:"column:failed_at;autoCreateTime"`
	CreatedAt     time.Time                  `gorm:"column:created_at;autoCreateTime"`
}

func (d *OutboxDLQ) BeforeCreate(*gorm.DB) error {
	ensureID(&d.ID)
	return nil
}
