package enums

import "fmt"

// OrderState is the lifecycle position of a top-up order.
type OrderState string

const (
	OrderStateCreated       OrderState = "created"
	OrderStateFundsReserved OrderState = "funds_reserved"
	OrderStateDispatched    OrderState = "dispatched"
	OrderStateDelivered     OrderState = "delivered"
	OrderStateFailed        OrderState = "failed"
	OrderStateCancelled     OrderState = "cancelled"
)

var validOrderStates = []OrderState{
	OrderStateCreated,
	OrderStateFundsReserved,
	OrderStateDispatched,
	OrderStateDelivered,
	OrderStateFailed,
	OrderStateCancelled,
}

// String implements fmt.Stringer.
func (s OrderState) String() string {
	return string(s)
}

// IsValid reports whether the value is a known OrderState.
func (s OrderState) IsValid() bool {
	for _, candidate := range validOrderStates {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition can leave the state.
func (s OrderState) IsTerminal() bool {
	switch s {
	case OrderStateDelivered, OrderStateFailed, OrderStateCancelled:
		return true
	default:
		return false
	}
}

// ParseOrderState converts raw input into an OrderState.
func ParseOrderState(value string) (OrderState, error) {
	for _, candidate := range validOrderStates {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid order state %q", value)
}
