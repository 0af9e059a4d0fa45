package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/coinsacademy/topup-backend/pkg/enums"
)

// OutboxEvent is a domain event written in the same transaction as the state
// change that produced it.
type OutboxEvent struct {
	ID            uuid.UUID                 `gorm:"column:id;type:uuid;primaryKey"`
	EventType     enums.OutboxEventType     `gorm:"column:event_type;type:text;not null"`
	AggregateType enums.OutboxAggregateType `gorm:"column:aggregate_type;type:text;not null"`
	AggregateID   uuid.UUID                 `gorm:"column:aggregate_id;type:uuid;not null;index"`
	Payload       json.RawMessage           `gorm:"column:payload;type:jsonb;not null"`
	CreatedAt     time.Time                 `gorm:"column:created_at;autoCreateTime"`
	PublishedAt   *time.Time                `gorm:"column:published_at;index"`
	AttemptCount  int                       `gorm:"column:attempt_count;not null;default:0"`
	LastError     *string                   `gorm:"column:last_error"`
}

func (e *OutboxEvent) BeforeCreate(*gorm.DB) error {
	ensureID(&e.ID)
	return nil
}
