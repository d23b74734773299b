package invoice

import (
	"github.com/shopspring/decimal"

	"github.com/xammer/billops/internal/domain/shared"
)

// Event types
const (
	EventTypeInvoiceFinalized = "invoice.finalized"
)

// FinalizedEvent is raised once when a draft invoice becomes final.
type FinalizedEvent struct {
	shared.EventHeader
	InvoiceNumber string          `json:"invoice_number"`
	AccountID     string          `json:"account_id"`
	BillingPeriod string          `json:"billing_period"`
	Amount        decimal.Decimal `json:"amount"`
}

// NewFinalizedEvent creates a FinalizedEvent from the invoice state.
func NewFinalizedEvent(inv *Invoice) *FinalizedEvent {
	return &FinalizedEvent{
		EventHeader:   shared.NewEventHeader(EventTypeInvoiceFinalized, inv.ID, inv.TenantID),
		InvoiceNumber: inv.InvoiceNumber,
		AccountID:     inv.AccountID,
		BillingPeriod: inv.BillingPeriod.String(),
		Amount:        inv.Amount,
	}
}
