package catalog

import (
	"github.com/google/uuid"

	"github.com/coinsacademy/topup-backend/pkg/db/models"
	"github.com/coinsacademy/topup-backend/pkg/types"
)

// ProductDTO is the public product view.
type ProductDTO struct {
	ID                uuid.UUID               `json:"id"`
	GameID            string                  `json:"gameId"`
	Name              string                  `json:"name"`
	Category          string                  `json:"category"`
	Description       *string                 `json:"description,omitempty"`
	UnitPrice         types.Money             `json:"unitPrice"`
	DefaultQuantity   int                     `json:"defaultQuantity"`
	MinQuantity       int                     `json:"minQuantity"`
	MaxQuantity       int                     `json:"maxQuantity"`
	FulfillmentSchema types.FulfillmentSchema `json:"fulfillmentSchema"`
}

// ProductPage is one page of products.
type ProductPage struct {
	Items  []ProductDTO `json:"items"`
	Cursor string       `json:"cursor"`
}

// CategoryDTO summarizes one product category.
type CategoryDTO struct {
	Name     string `json:"name"`
	Products int64  `json:"products"`
}

// ListProductsInput filters the browse endpoint.
type ListProductsInput struct {
	Category string
	Limit    int
	Cursor   string
}

func toProductDTO(p models.Product) ProductDTO {
	schema := p.FulfillmentSchema
	if schema == nil {
		schema = types.FulfillmentSchema{}
	}
	return ProductDTO{
		ID:                p.ID,
		GameID:            p.GameID,
		Name:              p.Name,
		Category:          p.Category,
		Description:       p.Description,
		UnitPrice:         types.NewMoney(p.UnitPrice, p.Currency),
		DefaultQuantity:   p.DefaultQuantity,
		MinQuantity:       p.MinQuantity,
		MaxQuantity:       p.MaxQuantity,
		FulfillmentSchema: schema,
	}
}
