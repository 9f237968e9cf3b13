package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

var minorPerMajor = decimal.NewFromInt(100)

// ToMinor converts a major-unit amount (naira, dollars) into the processor's
// integer minor unit (kobo, cents). Amounts with more than two decimal places
// cannot be represented and are rejected rather than rounded.
func ToMinor(amount decimal.Decimal) (int64, error) {
	minor := amount.Mul(minorPerMajor)
	if !minor.Equal(minor.Truncate(0)) {
		return 0, fmt.Errorf("amount %s has sub-minor precision", amount)
	}
	return minor.IntPart(), nil
}

// FromMinor is the inverse of ToMinor.
func FromMinor(minor int64) decimal.Decimal {
	return decimal.NewFromInt(minor).Div(minorPerMajor)
}
