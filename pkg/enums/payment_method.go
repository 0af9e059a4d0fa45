package enums

import (
	"fmt"
	"strings"
)

// PaymentMethod is how a buyer settles an order. Card is recognised so
// clients get a precise rejection, but only the wallet can settle today.
type PaymentMethod string

const (
	PaymentMethodWallet PaymentMethod = "wallet"
	PaymentMethodCard   PaymentMethod = "card"
)

func (p PaymentMethod) String() string { return string(p) }

func (p PaymentMethod) IsValid() bool {
	return p == PaymentMethodWallet || p == PaymentMethodCard
}

// Settleable reports whether orders paid this way can reserve funds.
func (p PaymentMethod) Settleable() bool {
	return p == PaymentMethodWallet
}

// ParsePaymentMethod accepts any casing and surrounding whitespace.
func ParsePaymentMethod(value string) (PaymentMethod, error) {
	p := PaymentMethod(strings.ToLower(strings.TrimSpace(value)))
	if !p.IsValid() {
		return "", fmt.Errorf("invalid payment method %q", value)
	}
	return p, nil
}
