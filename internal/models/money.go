package models

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// MinorUnitExponent is the number of fractional digits every amount is
// stored with.
const MinorUnitExponent = 2

// ToMinorUnits converts a major-unit decimal into minor units. Values with
// more precision than MinorUnitExponent are rejected rather than rounded.
func ToMinorUnits(d decimal.Decimal) (int64, error) {
	shifted := d.Shift(MinorUnitExponent)
	if !shifted.Equal(shifted.Truncate(0)) {
		return 0, fmt.Errorf("amount %s has more than %d decimal places", d.String(), MinorUnitExponent)
	}
	if !shifted.Abs().LessThan(decimal.NewFromInt(1).Shift(18)) {
		return 0, fmt.Errorf("amount %s out of range", d.String())
	}
	return shifted.IntPart(), nil
}

// ParseAmount parses a textual major-unit amount such as "1,500.00".
func ParseAmount(s string) (int64, error) {
	clean := strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	if clean == "" {
		return 0, fmt.Errorf("empty amount")
	}
	d, err := decimal.NewFromString(clean)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return ToMinorUnits(d)
}

// FromMinorUnits renders minor units as a major-unit decimal.
func FromMinorUnits(v int64) decimal.Decimal {
	return decimal.New(v, -MinorUnitExponent)
}
