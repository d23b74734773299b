package invoice

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/xammer/billops/internal/domain/invoice"
	"github.com/xammer/billops/internal/domain/shared"
)

// =============================================================================
// Requests
// =============================================================================

// BuildDraftRequest asks for a draft built from the account's cost report
type BuildDraftRequest struct {
	AccountID string `json:"accountId" binding:"required,max=64"`
	Period    string `json:"period" binding:"required,billing_period"`
}

// ApplyDiscountRequest adds a discount to a draft
type ApplyDiscountRequest struct {
	ServiceName string           `json:"serviceName" binding:"required,max=200"`
	Percentage  *decimal.Decimal `json:"percentage" binding:"required"`
}

// LineItemInput is one line item of an UpdateLineItemsRequest
type LineItemInput struct {
	ServiceName  string           `json:"serviceName" binding:"required,max=200"`
	RegionName   string           `json:"regionName" binding:"max=100"`
	ResourceName string           `json:"resourceName" binding:"max=300"`
	Quantity     string           `json:"quantity" binding:"max=50"`
	Unit         string           `json:"unit" binding:"max=50"`
	Cost         *decimal.Decimal `json:"cost" binding:"required"`
	Hidden       bool             `json:"hidden"`
}

// UpdateLineItemsRequest replaces every line item of a draft
type UpdateLineItemsRequest struct {
	LineItems []LineItemInput `json:"lineItems" binding:"required,dive"`
}

// RateInput sets the unit rate of one line item
type RateInput struct {
	LineItemID uuid.UUID        `json:"lineItemId" binding:"required"`
	UnitRate   *decimal.Decimal `json:"unitRate" binding:"required"`
}

// RepriceRequest reprices line items and finalizes the invoice
type RepriceRequest struct {
	Rates []RateInput `json:"rates" binding:"required,min=1,dive"`
}

// MergeRequest merges source into target
type MergeRequest struct {
	TargetID uuid.UUID `json:"targetId" binding:"required"`
	SourceID uuid.UUID `json:"sourceId" binding:"required"`
}

// =============================================================================
// Responses
// =============================================================================

// LineItemResponse is a line item in API responses
type LineItemResponse struct {
	ID           uuid.UUID       `json:"id"`
	ServiceName  string          `json:"serviceName"`
	ResourceName string          `json:"resourceName"`
	RegionName   string          `json:"regionName"`
	Quantity     string          `json:"quantity"`
	Unit         string          `json:"unit"`
	Cost         decimal.Decimal `json:"cost"`
	Hidden       bool            `json:"hidden"`
}

// DiscountResponse is a discount in API responses
type DiscountResponse struct {
	ID          uuid.UUID       `json:"id"`
	ServiceName string          `json:"serviceName"`
	Percentage  decimal.Decimal `json:"percentage"`
	Description string          `json:"description"`
}

// InvoiceResponse is the full invoice representation
type InvoiceResponse struct {
	ID                      uuid.UUID          `json:"id"`
	AccountID               string             `json:"accountId"`
	InvoiceNumber           string             `json:"invoiceNumber"`
	InvoiceDate             time.Time          `json:"invoiceDate"`
	BillingPeriod           string             `json:"billingPeriod"`
	Status                  string             `json:"status"`
	LineItems               []LineItemResponse `json:"lineItems"`
	Discounts               []DiscountResponse `json:"discounts"`
	PreDiscountTotal        decimal.Decimal    `json:"preDiscountTotal"`
	DiscountAmount          decimal.Decimal    `json:"discountAmount"`
	Amount                  decimal.Decimal    `json:"amount"`
	PreDiscountTotalDisplay string             `json:"preDiscountTotalDisplay"`
	DiscountAmountDisplay   string             `json:"discountAmountDisplay"`
	AmountDisplay           string             `json:"amountDisplay"`
	FinalizedAt             *time.Time         `json:"finalizedAt,omitempty"`
	Version                 int                `json:"version"`
}

// InvoiceSummaryResponse is one row of an invoice list
type InvoiceSummaryResponse struct {
	ID               uuid.UUID       `json:"id"`
	AccountID        string          `json:"accountId"`
	InvoiceNumber    string          `json:"invoiceNumber"`
	InvoiceDate      time.Time       `json:"invoiceDate"`
	BillingPeriod    string          `json:"billingPeriod"`
	Status           string          `json:"status"`
	PreDiscountTotal decimal.Decimal `json:"preDiscountTotal"`
	DiscountAmount   decimal.Decimal `json:"discountAmount"`
	Amount           decimal.Decimal `json:"amount"`
	LineItemCount    int             `json:"lineItemCount"`
}

// ToInvoiceResponse converts the aggregate to its API representation
func ToInvoiceResponse(inv *invoice.Invoice) InvoiceResponse {
	items := make([]LineItemResponse, len(inv.LineItems))
	for i, li := range inv.LineItems {
		items[i] = LineItemResponse{
			ID:           li.ID,
			ServiceName:  li.ServiceName,
			ResourceName: li.ResourceName,
			RegionName:   li.RegionName,
			Quantity:     li.Quantity,
			Unit:         li.Unit,
			Cost:         li.Cost,
			Hidden:       li.Hidden,
		}
	}
	discounts := make([]DiscountResponse, len(inv.Discounts))
	for i, d := range inv.Discounts {
		discounts[i] = DiscountResponse{
			ID:          d.ID,
			ServiceName: d.ServiceName,
			Percentage:  d.Percentage,
			Description: d.Description,
		}
	}
	return InvoiceResponse{
		ID:                      inv.ID,
		AccountID:               inv.AccountID,
		InvoiceNumber:           inv.InvoiceNumber,
		InvoiceDate:             inv.InvoiceDate,
		BillingPeriod:           inv.BillingPeriod.String(),
		Status:                  inv.Status.String(),
		LineItems:               items,
		Discounts:               discounts,
		PreDiscountTotal:        inv.PreDiscountTotal,
		DiscountAmount:          inv.DiscountAmount,
		Amount:                  inv.Amount,
		PreDiscountTotalDisplay: shared.DisplayMoney(inv.PreDiscountTotal),
		DiscountAmountDisplay:   shared.DisplayMoney(inv.DiscountAmount),
		AmountDisplay:           shared.DisplayMoney(inv.Amount),
		FinalizedAt:             inv.FinalizedAt,
		Version:                 inv.Version,
	}
}

// ToSummaryResponses converts list projections
func ToSummaryResponses(rows []invoice.Summary) []InvoiceSummaryResponse {
	out := make([]InvoiceSummaryResponse, len(rows))
	for i, r := range rows {
		out[i] = InvoiceSummaryResponse{
			ID:               r.ID,
			AccountID:        r.AccountID,
			InvoiceNumber:    r.InvoiceNumber,
			InvoiceDate:      r.InvoiceDate,
			BillingPeriod:    r.BillingPeriod,
			Status:           r.Status.String(),
			PreDiscountTotal: r.PreDiscountTotal,
			DiscountAmount:   r.DiscountAmount,
			Amount:           r.Amount,
			LineItemCount:    r.LineItemCount,
		}
	}
	return out
}
