package invoice

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/xammer/billops/internal/domain/shared"
)

// Status represents the lifecycle state of an invoice
type Status string

const (
	StatusDraft     Status = "DRAFT"
	StatusFinalized Status = "FINALIZED"
)

// IsValid checks if the status is a known Status
func (s Status) IsValid() bool {
	return s == StatusDraft || s == StatusFinalized
}

// String returns the string representation of Status
func (s Status) String() string {
	return string(s)
}

// Invoice number prefixes
const (
	NumberPrefixPreview    = "TEMP-"
	NumberPrefixCloudFront = "CF-"
)

// NewInvoiceNumber returns prefix followed by n upper-case hex characters
// taken from a fresh UUID.
func NewInvoiceNumber(prefix string, n int) string {
	raw := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
	if n > len(raw) {
		n = len(raw)
	}
	return prefix + raw[:n]
}

// Invoice is the aggregate root for a per-account, per-period bill.
// Totals are derived from LineItems and Discounts by Recalculate and are
// never set directly.
type Invoice struct {
	shared.TenantAggregateRoot
	AccountID        string
	BillingPeriod    shared.BillingPeriod
	InvoiceNumber    string
	InvoiceDate      time.Time
	Status           Status
	LineItems        []LineItem
	Discounts        []Discount
	PreDiscountTotal decimal.Decimal
	DiscountAmount   decimal.Decimal
	Amount           decimal.Decimal
	FinalizedAt      *time.Time
}

// NewDraft creates an empty draft invoice.
func NewDraft(tenantID uuid.UUID, accountID string, period shared.BillingPeriod, number string) (*Invoice, error) {
	if strings.TrimSpace(accountID) == "" {
		return nil, shared.NewDomainError(shared.CodeInvalidInput, "account id cannot be empty")
	}
	if period.IsZero() {
		return nil, shared.NewDomainError(shared.CodeInvalidInput, "billing period is required")
	}
	if strings.TrimSpace(number) == "" {
		return nil, shared.NewDomainError(shared.CodeInvalidInput, "invoice number cannot be empty")
	}
	return &Invoice{
		TenantAggregateRoot: shared.NewTenantAggregateRoot(tenantID),
		AccountID:           accountID,
		BillingPeriod:       period,
		InvoiceNumber:       number,
		InvoiceDate:         time.Now(),
		Status:              StatusDraft,
		LineItems:           make([]LineItem, 0),
		Discounts:           make([]Discount, 0),
		PreDiscountTotal:    decimal.Zero,
		DiscountAmount:      decimal.Zero,
		Amount:              decimal.Zero,
	}, nil
}

// IsDraft reports whether the invoice can still be mutated.
func (inv *Invoice) IsDraft() bool {
	return inv.Status == StatusDraft
}

func (inv *Invoice) ensureDraft(op string) error {
	if !inv.IsDraft() {
		return shared.NewDomainError(shared.CodeInvalidState,
			fmt.Sprintf("cannot %s invoice %s in %s status", op, inv.InvoiceNumber, inv.Status))
	}
	return nil
}

// AddLineItem appends a line item to a draft.
func (inv *Invoice) AddLineItem(item LineItem) error {
	if err := inv.ensureDraft("add line item to"); err != nil {
		return err
	}
	if err := item.validate(); err != nil {
		return err
	}
	if item.ID == uuid.Nil {
		item.ID = uuid.New()
	}
	item.Cost = shared.RoundMoney(item.Cost)
	inv.LineItems = append(inv.LineItems, item)
	inv.Recalculate()
	return nil
}

// ReplaceLineItems swaps the full set of line items.
func (inv *Invoice) ReplaceLineItems(items []LineItem) error {
	if err := inv.ensureDraft("update line items of"); err != nil {
		return err
	}
	replaced := make([]LineItem, 0, len(items))
	for _, item := range items {
		if err := item.validate(); err != nil {
			return err
		}
		if item.ID == uuid.Nil {
			item.ID = uuid.New()
		}
		item.Cost = shared.RoundMoney(item.Cost)
		replaced = append(replaced, item)
	}
	inv.LineItems = replaced
	inv.Recalculate()
	return nil
}

// ApplyDiscount adds a percentage discount on the selected service.
// A percentage outside [0, 100] leaves the invoice untouched.
func (inv *Invoice) ApplyDiscount(service string, pct decimal.Decimal) (Discount, error) {
	if err := inv.ensureDraft("apply discount to"); err != nil {
		return Discount{}, err
	}
	if strings.TrimSpace(service) == "" {
		return Discount{}, shared.NewDomainError(shared.CodeInvalidInput, "discount service name cannot be empty")
	}
	if !validPercentage(pct) {
		return Discount{}, shared.NewDomainError(shared.CodeInvalidState,
			fmt.Sprintf("discount percentage must be between 0 and 100, got %s", pct.String()))
	}
	d := NewDiscount(strings.TrimSpace(service), pct)
	inv.Discounts = append(inv.Discounts, d)
	inv.Recalculate()
	return d, nil
}

// RemoveDiscount drops a discount by id.
func (inv *Invoice) RemoveDiscount(id uuid.UUID) error {
	if err := inv.ensureDraft("remove discount from"); err != nil {
		return err
	}
	for i, d := range inv.Discounts {
		if d.ID == id {
			inv.Discounts = append(inv.Discounts[:i:i], inv.Discounts[i+1:]...)
			inv.Recalculate()
			return nil
		}
	}
	return shared.NewDomainError(shared.CodeNotFound,
		fmt.Sprintf("discount %s not found on invoice %s", id, inv.InvoiceNumber))
}

// Recalculate refreshes the derived totals. It is idempotent.
func (inv *Invoice) Recalculate() {
	t := Calculate(inv.LineItems, inv.Discounts)
	inv.PreDiscountTotal = t.PreDiscountTotal
	inv.DiscountAmount = t.DiscountAmount
	inv.Amount = t.Amount
	inv.Touch()
}

// Finalize freezes the invoice. It can happen only once.
func (inv *Invoice) Finalize() error {
	if err := inv.ensureDraft("finalize"); err != nil {
		return err
	}
	inv.Recalculate()
	now := time.Now()
	inv.Status = StatusFinalized
	inv.FinalizedAt = &now
	inv.AddDomainEvent(NewFinalizedEvent(inv))
	return nil
}

// MergeFrom moves every line item and discount of source into inv.
// Overall discounts already on inv are narrowed to AWS consumption so
// they do not extend over CloudFront items brought in by source.
func (inv *Invoice) MergeFrom(source *Invoice) error {
	if source == nil {
		return shared.NewDomainError(shared.CodeInvalidInput, "merge source is required")
	}
	if inv.ID == source.ID {
		return shared.NewDomainError(shared.CodeInvalidInput, "cannot merge an invoice into itself")
	}
	if err := inv.ensureDraft("merge into"); err != nil {
		return err
	}
	if err := source.ensureDraft("merge"); err != nil {
		return err
	}

	for i, d := range inv.Discounts {
		if d.IsOverall() {
			inv.Discounts[i] = d.asConsumption()
		}
	}
	inv.LineItems = append(inv.LineItems, source.LineItems...)
	inv.Discounts = append(inv.Discounts, source.Discounts...)
	source.LineItems = make([]LineItem, 0)
	source.Discounts = make([]Discount, 0)

	inv.Recalculate()
	source.Recalculate()
	return nil
}

// Reprice sets cost = unit rate x quantity for the given line items.
// Unknown line item ids are rejected before anything changes.
func (inv *Invoice) Reprice(rates map[uuid.UUID]decimal.Decimal) error {
	if err := inv.ensureDraft("reprice"); err != nil {
		return err
	}
	index := make(map[uuid.UUID]int, len(inv.LineItems))
	for i, li := range inv.LineItems {
		index[li.ID] = i
	}
	for id, rate := range rates {
		if _, ok := index[id]; !ok {
			return shared.NewDomainError(shared.CodeNotFound,
				fmt.Sprintf("line item %s not found on invoice %s", id, inv.InvoiceNumber))
		}
		if rate.IsNegative() {
			return shared.NewDomainError(shared.CodeInvalidInput,
				fmt.Sprintf("unit rate for line item %s cannot be negative", id))
		}
	}
	for id, rate := range rates {
		li := &inv.LineItems[index[id]]
		li.Cost = shared.RoundMoney(rate.Mul(li.ParsedQuantity()))
	}
	inv.Recalculate()
	return nil
}

// FindDiscount returns the discount with the given id.
func (inv *Invoice) FindDiscount(id uuid.UUID) (Discount, bool) {
	for _, d := range inv.Discounts {
		if d.ID == id {
			return d, true
		}
	}
	return Discount{}, false
}

// VisibleLineItems returns the line items shown on the invoice.
func (inv *Invoice) VisibleLineItems() []LineItem {
	out := make([]LineItem, 0, len(inv.LineItems))
	for _, li := range inv.LineItems {
		if !li.Hidden {
			out = append(out, li)
		}
	}
	return out
}
