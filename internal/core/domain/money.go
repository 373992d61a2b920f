package domain

import (
	"strings"

	"github.com/shopspring/decimal"
)

const DefaultCurrency = "USD"

var hundred = decimal.NewFromInt(100)

// RoundMoney rounds half away from zero to 2 decimal places.
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// MinorUnits converts a 2dp amount to the processor's smallest currency unit.
func MinorUnits(d decimal.Decimal) int64 {
	return d.Mul(hundred).Round(0).IntPart()
}

// FromMinorUnits is the inverse of MinorUnits.
func FromMinorUnits(v int64) decimal.Decimal {
	return decimal.New(v, -2)
}

// ProcessorCurrency is the lowercase form payment processors expect.
func ProcessorCurrency(c string) string {
	return strings.ToLower(c)
}
