package shared

import "github.com/shopspring/decimal"

const (
	// MoneyScale is the number of decimal places monetary values are stored with.
	MoneyScale = 4
	// DisplayScale is the number of decimal places shown to people.
	DisplayScale = 2
)

// RoundMoney rounds half away from zero to MoneyScale places.
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(MoneyScale)
}

// DisplayMoney renders a stored amount with DisplayScale places.
func DisplayMoney(d decimal.Decimal) string {
	return d.StringFixed(DisplayScale)
}
