package types

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"

	"github.com/coinsacademy/topup-backend/pkg/enums"
)

// FulfillmentField declares one input a product needs to deliver currency,
// e.g. a game player id or an account email.
type FulfillmentField struct {
	Name     string                     `json:"name"`
	Label    string                     `json:"label"`
	Type     enums.FulfillmentFieldType `json:"type"`
	Required bool                       `json:"required"`
	Options  []string                   `json:"options,omitempty"`
}

// FulfillmentSchema is the declarative field list stored per product.
type FulfillmentSchema []FulfillmentField

// Value encodes the schema as JSON.
func (s FulfillmentSchema) Value() (driver.Value, error) {
	if s == nil {
		return "[]", nil
	}
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("fulfillment schema: %w", err)
	}
	return string(raw), nil
}

// Scan decodes a JSON schema column.
func (s *FulfillmentSchema) Scan(value interface{}) error {
	raw, err := jsonBytes(value)
	if err != nil {
		return fmt.Errorf("fulfillment schema: %w", err)
	}
	if len(raw) == 0 {
		*s = FulfillmentSchema{}
		return nil
	}
	return json.Unmarshal(raw, s)
}

// FulfillmentData holds the player-supplied values keyed by field name.
type FulfillmentData map[string]string

// Value encodes the data as JSON.
func (d FulfillmentData) Value() (driver.Value, error) {
	if d == nil {
		return "{}", nil
	}
	raw, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("fulfillment data: %w", err)
	}
	return string(raw), nil
}

// Scan decodes a JSON data column.
func (d *FulfillmentData) Scan(value interface{}) error {
	raw, err := jsonBytes(value)
	if err != nil {
		return fmt.Errorf("fulfillment data: %w", err)
	}
	if len(raw) == 0 {
		*d = FulfillmentData{}
		return nil
	}
	return json.Unmarshal(raw, d)
}

func jsonBytes(value interface{}) ([]byte, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		return nil, fmt.Errorf("unsupported scan type %T", value)
	}
}
