package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/xammer/billops/internal/domain/invoice"
	"github.com/xammer/billops/internal/domain/shared"
)

// InvoiceModel is the persistence model for the Invoice aggregate root.
type InvoiceModel struct {
	TenantAggregateModel
	AccountID        string                 `gorm:"type:varchar(64);not null;index:idx_invoice_account_period,priority:1"`
	BillingPeriod    string                 `gorm:"type:varchar(7);not null;index:idx_invoice_account_period,priority:2"`
	InvoiceNumber    string                 `gorm:"type:varchar(32);not null;uniqueIndex"`
	InvoiceDate      time.Time              `gorm:"not null"`
	Status           string                 `gorm:"type:varchar(20);not null;index"`
	PreDiscountTotal decimal.Decimal        `gorm:"type:decimal(18,4);not null"`
	DiscountAmount   decimal.Decimal        `gorm:"type:decimal(18,4);not null"`
	Amount           decimal.Decimal        `gorm:"type:decimal(18,4);not null"`
	FinalizedAt      *time.Time
	LineItems        []InvoiceLineItemModel `gorm:"foreignKey:InvoiceID;constraint:OnDelete:CASCADE"`
	Discounts        []InvoiceDiscountModel `gorm:"foreignKey:InvoiceID;constraint:OnDelete:CASCADE"`
}

// TableName returns the table name for GORM
func (InvoiceModel) TableName() string {
	return "invoices"
}

// InvoiceLineItemModel is one persisted line item. Position keeps the
// order the items had on the aggregate.
type InvoiceLineItemModel struct {
	ID           uuid.UUID       `gorm:"type:uuid;primaryKey"`
	InvoiceID    uuid.UUID       `gorm:"type:uuid;not null;index"`
	Position     int             `gorm:"not null"`
	ServiceName  string          `gorm:"type:varchar(200);not null"`
	RegionName   string          `gorm:"type:varchar(100)"`
	ResourceName string          `gorm:"type:varchar(300)"`
	Quantity     string          `gorm:"type:varchar(64)"`
	Unit         string          `gorm:"type:varchar(32)"`
	Cost         decimal.Decimal `gorm:"type:decimal(18,4);not null"`
	Hidden       bool            `gorm:"not null;default:false"`
}

// TableName returns the table name for GORM
func (InvoiceLineItemModel) TableName() string {
	return "invoice_line_items"
}

// InvoiceDiscountModel is one persisted discount.
type InvoiceDiscountModel struct {
	ID          uuid.UUID       `gorm:"type:uuid;primaryKey"`
	InvoiceID   uuid.UUID       `gorm:"type:uuid;not null;index"`
	Position    int             `gorm:"not null"`
	ServiceName string          `gorm:"type:varchar(200);not null"`
	Percentage  decimal.Decimal `gorm:"type:decimal(5,2);not null"`
	Description string          `gorm:"type:varchar(300)"`
}

// TableName returns the table name for GORM
func (InvoiceDiscountModel) TableName() string {
	return "invoice_discounts"
}

// ToDomain converts the persistence model to a domain Invoice. Totals are
// taken as stored; they were derived by the aggregate before saving.
func (m *InvoiceModel) ToDomain() (*invoice.Invoice, error) {
	period, err := shared.ParseBillingPeriod(m.BillingPeriod)
	if err != nil {
		return nil, err
	}
	inv := &invoice.Invoice{
		AccountID:        m.AccountID,
		BillingPeriod:    period,
		InvoiceNumber:    m.InvoiceNumber,
		InvoiceDate:      m.InvoiceDate,
		Status:           invoice.Status(m.Status),
		LineItems:        make([]invoice.LineItem, 0, len(m.LineItems)),
		Discounts:        make([]invoice.Discount, 0, len(m.Discounts)),
		PreDiscountTotal: m.PreDiscountTotal,
		DiscountAmount:   m.DiscountAmount,
		Amount:           m.Amount,
		FinalizedAt:      m.FinalizedAt,
	}
	m.PopulateTenantAggregateRoot(&inv.TenantAggregateRoot)
	for _, li := range m.LineItems {
		inv.LineItems = append(inv.LineItems, li.ToDomain())
	}
	for _, d := range m.Discounts {
		inv.Discounts = append(inv.Discounts, d.ToDomain())
	}
	return inv, nil
}

// FromDomain populates the model, children included, from a domain Invoice.
func (m *InvoiceModel) FromDomain(inv *invoice.Invoice) {
	m.FromDomainTenantAggregateRoot(inv.TenantAggregateRoot)
	m.AccountID = inv.AccountID
	m.BillingPeriod = inv.BillingPeriod.String()
	m.InvoiceNumber = inv.InvoiceNumber
	m.InvoiceDate = inv.InvoiceDate
	m.Status = string(inv.Status)
	m.PreDiscountTotal = inv.PreDiscountTotal
	m.DiscountAmount = inv.DiscountAmount
	m.Amount = inv.Amount
	m.FinalizedAt = inv.FinalizedAt
	m.LineItems = LineItemModelsFromDomain(inv.ID, inv.LineItems)
	m.Discounts = DiscountModelsFromDomain(inv.ID, inv.Discounts)
}

// InvoiceModelFromDomain creates a new persistence model from a domain Invoice
func InvoiceModelFromDomain(inv *invoice.Invoice) *InvoiceModel {
	m := &InvoiceModel{}
	m.FromDomain(inv)
	return m
}

// ToDomain converts the model to a domain LineItem
func (m InvoiceLineItemModel) ToDomain() invoice.LineItem {
	return invoice.LineItem{
		ID:           m.ID,
		ServiceName:  m.ServiceName,
		RegionName:   m.RegionName,
		ResourceName: m.ResourceName,
		Quantity:     m.Quantity,
		Unit:         m.Unit,
		Cost:         m.Cost,
		Hidden:       m.Hidden,
	}
}

// ToDomain converts the model to a domain Discount
func (m InvoiceDiscountModel) ToDomain() invoice.Discount {
	return invoice.Discount{
		ID:          m.ID,
		ServiceName: m.ServiceName,
		Percentage:  m.Percentage,
		Description: m.Description,
	}
}

// LineItemModelsFromDomain maps line items in order, recording their position.
func LineItemModelsFromDomain(invoiceID uuid.UUID, items []invoice.LineItem) []InvoiceLineItemModel {
	out := make([]InvoiceLineItemModel, 0, len(items))
	for i, li := range items {
		out = append(out, InvoiceLineItemModel{
			ID:           li.ID,
			InvoiceID:    invoiceID,
			Position:     i,
			ServiceName:  li.ServiceName,
			RegionName:   li.RegionName,
			ResourceName: li.ResourceName,
			Quantity:     li.Quantity,
			Unit:         li.Unit,
			Cost:         li.Cost,
			Hidden:       li.Hidden,
		})
	}
	return out
}

// DiscountModelsFromDomain maps discounts in order, recording their position.
func DiscountModelsFromDomain(invoiceID uuid.UUID, discounts []invoice.Discount) []InvoiceDiscountModel {
	out := make([]InvoiceDiscountModel, 0, len(discounts))
	for i, d := range discounts {
		out = append(out, InvoiceDiscountModel{
			ID:          d.ID,
			InvoiceID:   invoiceID,
			Position:    i,
			ServiceName: d.ServiceName,
			Percentage:  d.Percentage,
			Description: d.Description,
		})
	}
	return out
}
