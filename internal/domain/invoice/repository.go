package invoice

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/xammer/billops/internal/domain/shared"
)

// Filter narrows invoice listings.
type Filter struct {
	Status    Status
	AccountID string
}

// Summary is the flat projection used by list views. It is read without
// loading line items or discounts.
type Summary struct {
	ID               uuid.UUID
	TenantID         uuid.UUID
	AccountID        string
	BillingPeriod    string
	InvoiceNumber    string
	InvoiceDate      time.Time
	Status           Status
	PreDiscountTotal decimal.Decimal
	DiscountAmount   decimal.Decimal
	Amount           decimal.Decimal
	LineItemCount    int
}

// Repository persists invoice aggregates. Update and Merge use the
// aggregate version for optimistic locking and return
// shared.ErrConcurrencyConflict when the stored row has moved on.
type Repository interface {
	FindByID(ctx context.Context, tenantID, id uuid.UUID) (*Invoice, error)
	FindByAccountAndPeriod(ctx context.Context, tenantID uuid.UUID, accountID string, period shared.BillingPeriod, status Status) (*Invoice, error)
	List(ctx context.Context, tenantID uuid.UUID, filter Filter) ([]Summary, error)
	Create(ctx context.Context, inv *Invoice) error
	Update(ctx context.Context, inv *Invoice) error
	// Merge stores target and deletes source in one transaction.
	Merge(ctx context.Context, target, source *Invoice) error
	Delete(ctx context.Context, tenantID, id uuid.UUID) error
}
