package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/coinsacademy/topup-backend/pkg/types"
)

// Product is a purchasable currency bundle for one game or service.
type Product struct {
	ID                uuid.UUID               `gorm:"column:id;type:uuid;primaryKey"`
	GameID            string                  `gorm:"column:game_id;type:text;not null"`
	Name              string                  `gorm:"column:name;type:text;not null"`
	Category          string                  `gorm:"column:category;type:text;not null;index"`
	Description       *string                 `gorm:"column:description;type:text"`
	UnitPrice         int64                   `gorm:"column:unit_price;not null"`
	DefaultQuantity   int                     `gorm:"column:default_quantity;not null"`
	MinQuantity       int                     `gorm:"column:min_quantity;not null"`
	MaxQuantity       int                     `gorm:"column:max_quantity;not null"`
	Currency          string                  `gorm:"column:currency;type:text;not null"`
	FulfillmentSchema types.FulfillmentSchema `gorm:"column:fulfillment_schema;type:jsonb;not null"`
	Active            bool                    `gorm:"column:active;not null;default:true"`
	CreatedAt         time.Time               `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time               `gorm:"column:updated_at;autoUpdateTime"`
}

func (p *Product) BeforeCreate(*gorm.DB) error {
	ensureID(&p.ID)
	return nil
}
