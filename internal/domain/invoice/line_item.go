package invoice

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/xammer/billops/internal/domain/shared"
)

// LineItem is one billed row of an invoice. Quantity is kept as the
// formatted string shown on the document ("12.500", "1").
type LineItem struct {
	ID           uuid.UUID
	ServiceName  string
	RegionName   string
	ResourceName string
	Quantity     string
	Unit         string
	Cost         decimal.Decimal
	Hidden       bool
}

// NewLineItem creates a visible line item with its cost rounded to money scale.
func NewLineItem(service, region, resource, quantity, unit string, cost decimal.Decimal) LineItem {
	return LineItem{
		ID:           uuid.New(),
		ServiceName:  service,
		RegionName:   region,
		ResourceName: resource,
		Quantity:     quantity,
		Unit:         unit,
		Cost:         shared.RoundMoney(cost),
	}
}

// FormatQuantity renders a usage quantity with three decimals.
func FormatQuantity(q decimal.Decimal) string {
	return q.StringFixed(3)
}

// ParsedQuantity returns the leading numeric token of Quantity, or 1 when
// the quantity cannot be read as a number.
func (li LineItem) ParsedQuantity() decimal.Decimal {
	fields := strings.Fields(li.Quantity)
	if len(fields) == 0 {
		return decimal.NewFromInt(1)
	}
	q, err := decimal.NewFromString(strings.ReplaceAll(fields[0], ",", ""))
	if err != nil {
		return decimal.NewFromInt(1)
	}
	return q
}

func (li LineItem) validate() error {
	if strings.TrimSpace(li.ServiceName) == "" {
		return shared.NewDomainError(shared.CodeInvalidInput, "line item service name cannot be empty")
	}
	if li.Cost.IsNegative() {
		return shared.NewDomainError(shared.CodeInvalidInput,
			fmt.Sprintf("line item %q has negative cost", li.ServiceName))
	}
	return nil
}
