package enums

// FulfillmentFieldType is the input kind of a product fulfillment field.
type FulfillmentFieldType string

const (
	FulfillmentFieldText   FulfillmentFieldType = "text"
	FulfillmentFieldEmail  FulfillmentFieldType = "email"
	FulfillmentFieldSelect FulfillmentFieldType = "select"
)

func (t FulfillmentFieldType) IsValid() bool {
	switch t {
	case FulfillmentFieldText, FulfillmentFieldEmail, FulfillmentFieldSelect:
		return true
	default:
		return false
	}
}
