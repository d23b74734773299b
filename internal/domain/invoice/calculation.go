package invoice

import (
	"github.com/shopspring/decimal"

	"github.com/xammer/billops/internal/domain/shared"
)

// Totals are the derived monetary figures of an invoice.
type Totals struct {
	PreDiscountTotal decimal.Decimal
	DiscountAmount   decimal.Decimal
	Amount           decimal.Decimal
}

// Calculate derives totals from line items and discounts. Every discount
// is computed against the original visible total, so the result does not
// depend on the order discounts were applied in. Discounts never take the
// amount below zero.
func Calculate(items []LineItem, discounts []Discount) Totals {
	visible := decimal.Zero
	for _, li := range items {
		if !li.Hidden {
			visible = visible.Add(li.Cost)
		}
	}
	pre := shared.RoundMoney(visible)

	total := decimal.Zero
	for _, d := range discounts {
		total = total.Add(discountBase(d, items, pre).Mul(d.Rate()))
	}
	disc := shared.RoundMoney(total)
	if disc.GreaterThan(pre) {
		disc = pre
	}

	return Totals{
		PreDiscountTotal: pre,
		DiscountAmount:   disc,
		Amount:           shared.RoundMoney(pre.Sub(disc)),
	}
}

func discountBase(d Discount, items []LineItem, visibleTotal decimal.Decimal) decimal.Decimal {
	if d.IsOverall() {
		return visibleTotal
	}
	base := decimal.Zero
	for _, li := range items {
		if li.Hidden {
			continue
		}
		if d.IsConsumption() {
			if !sameService(li.ServiceName, ServiceCloudFront) {
				base = base.Add(li.Cost)
			}
			continue
		}
		if sameService(li.ServiceName, d.ServiceName) {
			base = base.Add(li.Cost)
		}
	}
	return base
}
