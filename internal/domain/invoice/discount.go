package invoice

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/text/cases"
)

// Discount service selectors with special meaning.
const (
	ServiceAll            = "ALL"
	ServiceAWSConsumption = "AWS Consumption Charge"
	ServiceCloudFront     = "Amazon CloudFront"
)

var hundred = decimal.NewFromInt(100)

// Discount is a percentage reduction applied to a base selected by ServiceName.
type Discount struct {
	ID          uuid.UUID
	ServiceName string
	Percentage  decimal.Decimal
	Description string
}

// NewDiscount creates a discount with percentage kept at two decimals.
func NewDiscount(service string, pct decimal.Decimal) Discount {
	pct = pct.Round(2)
	return Discount{
		ID:          uuid.New(),
		ServiceName: service,
		Percentage:  pct,
		Description: DescribeDiscount(service, pct),
	}
}

// DescribeDiscount builds the human label printed on the invoice.
func DescribeDiscount(service string, pct decimal.Decimal) string {
	p := pct.StringFixed(2)
	switch {
	case sameService(service, ServiceAll):
		return fmt.Sprintf("%s%% Overall Bill Discount", p)
	case sameService(service, ServiceAWSConsumption):
		return fmt.Sprintf("%s%% AWS Consumption Discount", p)
	default:
		return fmt.Sprintf("%s%% %s Discount", p, service)
	}
}

// IsOverall reports whether the discount applies to the whole visible total.
func (d Discount) IsOverall() bool {
	return sameService(d.ServiceName, ServiceAll)
}

// IsConsumption reports whether the discount applies to everything but CloudFront.
func (d Discount) IsConsumption() bool {
	return sameService(d.ServiceName, ServiceAWSConsumption)
}

// Rate is the percentage as a fraction, rounded half-up to four places.
func (d Discount) Rate() decimal.Decimal {
	return d.Percentage.Div(hundred).Round(4)
}

// asConsumption rewrites an overall discount so it no longer covers CloudFront.
func (d Discount) asConsumption() Discount {
	d.ServiceName = ServiceAWSConsumption
	if strings.Contains(d.Description, "Overall Bill") {
		d.Description = strings.ReplaceAll(d.Description, "Overall Bill", "AWS Consumption")
	} else {
		d.Description = DescribeDiscount(ServiceAWSConsumption, d.Percentage)
	}
	return d
}

func validPercentage(pct decimal.Decimal) bool {
	return !pct.IsNegative() && pct.LessThanOrEqual(hundred)
}

// sameService compares service names under Unicode case folding.
func sameService(a, b string) bool {
	return cases.Fold().String(strings.TrimSpace(a)) == cases.Fold().String(strings.TrimSpace(b))
}
