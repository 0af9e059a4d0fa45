package types

import "github.com/shopspring/decimal"

// minorUnitExponent is the number of decimal places in a minor currency unit.
const minorUnitExponent = -2

// Money is an amount in minor units that renders as a fixed two-decimal string.
type Money struct {
	Minor    int64  `json:"minor"`
	Display  string `json:"display"`
	Currency string `json:"currency"`
}

// NewMoney builds a Money value from minor units.
func NewMoney(minor int64, currency string) Money {
	return Money{
		Minor:    minor,
		Display:  decimal.New(minor, minorUnitExponent).StringFixed(2),
		Currency: currency,
	}
}

// ParseMajor converts a major-unit decimal string such as "12.50" into minor units.
func ParseMajor(value string) (int64, error) {
	d, err := decimal.NewFromString(value)
	if err != nil {
		return 0, err
	}
	return d.Shift(-minorUnitExponent).Round(0).IntPart(), nil
}
