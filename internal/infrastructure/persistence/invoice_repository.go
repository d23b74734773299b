package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/xammer/billops/internal/domain/invoice"
	"github.com/xammer/billops/internal/domain/shared"
	"github.com/xammer/billops/internal/infrastructure/persistence/models"
)

// GormInvoiceRepository implements invoice.Repository using GORM
type GormInvoiceRepository struct {
	db *gorm.DB
}

// NewGormInvoiceRepository creates a new GormInvoiceRepository
func NewGormInvoiceRepository(db *gorm.DB) *GormInvoiceRepository {
	return &GormInvoiceRepository{db: db}
}

var _ invoice.Repository = (*GormInvoiceRepository)(nil)

func byPosition(db *gorm.DB) *gorm.DB {
	return db.Order("position ASC")
}

func (r *GormInvoiceRepository) withChildren(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).
		Preload("LineItems", byPosition).
		Preload("Discounts", byPosition)
}

// FindByID finds an invoice by ID within a tenant
func (r *GormInvoiceRepository) FindByID(ctx context.Context, tenantID, id uuid.UUID) (*invoice.Invoice, error) {
	var model models.InvoiceModel
	if err := r.withChildren(ctx).
		Where("tenant_id = ? AND id = ?", tenantID, id).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, invoiceNotFound(id)
		}
		return nil, err
	}
	return model.ToDomain()
}

// FindByAccountAndPeriod returns the most recent invoice of an account for a
// period in the given status. An empty status matches any.
func (r *GormInvoiceRepository) FindByAccountAndPeriod(ctx context.Context, tenantID uuid.UUID, accountID string, period shared.BillingPeriod, status invoice.Status) (*invoice.Invoice, error) {
	query := r.withChildren(ctx).
		Where("tenant_id = ? AND account_id = ? AND billing_period = ?", tenantID, accountID, period.String())
	if status != "" {
		query = query.Where("status = ?", string(status))
	}

	var model models.InvoiceModel
	if err := query.Order("invoice_date DESC").First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.NewDomainError(shared.CodeNotFound,
				fmt.Sprintf("no %s invoice for account %s in %s", statusLabel(status), accountID, period))
		}
		return nil, err
	}
	return model.ToDomain()
}

// invoiceSummaryRow is the flat projection scanned by List.
type invoiceSummaryRow struct {
	ID               uuid.UUID
	TenantID         uuid.UUID
	AccountID        string
	BillingPeriod    string
	InvoiceNumber    string
	InvoiceDate      time.Time
	Status           string
	PreDiscountTotal decimal.Decimal
	DiscountAmount   decimal.Decimal
	Amount           decimal.Decimal
	LineItemCount    int
}

// List returns invoice summaries, newest billing period first.
func (r *GormInvoiceRepository) List(ctx context.Context, tenantID uuid.UUID, filter invoice.Filter) ([]invoice.Summary, error) {
	query := r.db.WithContext(ctx).
		Model(&models.InvoiceModel{}).
		Select("invoices.id, invoices.tenant_id, invoices.account_id, invoices.billing_period, " +
			"invoices.invoice_number, invoices.invoice_date, invoices.status, " +
			"invoices.pre_discount_total, invoices.discount_amount, invoices.amount, " +
			"(SELECT COUNT(*) FROM invoice_line_items li WHERE li.invoice_id = invoices.id) AS line_item_count").
		Where("invoices.tenant_id = ?", tenantID)
	if filter.Status != "" {
		query = query.Where("invoices.status = ?", string(filter.Status))
	}
	if filter.AccountID != "" {
		query = query.Where("invoices.account_id = ?", filter.AccountID)
	}

	var rows []invoiceSummaryRow
	if err := query.
		Order("invoices.billing_period DESC").
		Order("invoices.invoice_date DESC").
		Scan(&rows).Error; err != nil {
		return nil, err
	}

	out := make([]invoice.Summary, 0, len(rows))
	for _, row := range rows {
		out = append(out, invoice.Summary{
			ID:               row.ID,
			TenantID:         row.TenantID,
			AccountID:        row.AccountID,
			BillingPeriod:    row.BillingPeriod,
			InvoiceNumber:    row.InvoiceNumber,
			InvoiceDate:      row.InvoiceDate,
			Status:           invoice.Status(row.Status),
			PreDiscountTotal: row.PreDiscountTotal,
			DiscountAmount:   row.DiscountAmount,
			Amount:           row.Amount,
			LineItemCount:    row.LineItemCount,
		})
	}
	return out, nil
}

// Create inserts a new invoice with its line items and discounts
func (r *GormInvoiceRepository) Create(ctx context.Context, inv *invoice.Invoice) error {
	model := models.InvoiceModelFromDomain(inv)
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit(clause.Associations).Create(model).Error; err != nil {
			return err
		}
		return insertChildren(tx, model)
	})
}

// Update stores a modified invoice. The stored version must equal
// inv.Version; on success both are advanced by one.
func (r *GormInvoiceRepository) Update(ctx context.Context, inv *invoice.Invoice) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return updateWithLock(tx, inv)
	})
	if err != nil {
		return err
	}
	inv.IncrementVersion()
	return nil
}

// Merge stores target and deletes source in one transaction. Both must
// still be at the versions the caller loaded.
func (r *GormInvoiceRepository) Merge(ctx context.Context, target, source *invoice.Invoice) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := deleteChildren(tx, source.ID); err != nil {
			return err
		}
		if err := updateWithLock(tx, target); err != nil {
			return err
		}
		result := tx.Where("tenant_id = ? AND id = ? AND version = ?", source.TenantID, source.ID, source.Version).
			Delete(&models.InvoiceModel{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return lockFailure(tx, source.TenantID, source.ID)
		}
		return nil
	})
	if err != nil {
		return err
	}
	target.IncrementVersion()
	return nil
}

// Delete removes an invoice and its children
func (r *GormInvoiceRepository) Delete(ctx context.Context, tenantID, id uuid.UUID) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.InvoiceModel{}).
			Where("tenant_id = ? AND id = ?", tenantID, id).
			Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return invoiceNotFound(id)
		}
		if err := deleteChildren(tx, id); err != nil {
			return err
		}
		return tx.Where("tenant_id = ? AND id = ?", tenantID, id).Delete(&models.InvoiceModel{}).Error
	})
}

func updateWithLock(tx *gorm.DB, inv *invoice.Invoice) error {
	model := models.InvoiceModelFromDomain(inv)
	result := tx.Model(&models.InvoiceModel{}).
		Where("tenant_id = ? AND id = ? AND version = ?", inv.TenantID, inv.ID, inv.Version).
		Updates(map[string]any{
			"account_id":         model.AccountID,
			"billing_period":     model.BillingPeriod,
			"invoice_number":     model.InvoiceNumber,
			"invoice_date":       model.InvoiceDate,
			"status":             model.Status,
			"pre_discount_total": model.PreDiscountTotal,
			"discount_amount":    model.DiscountAmount,
			"amount":             model.Amount,
			"finalized_at":       model.FinalizedAt,
			"updated_at":         model.UpdatedAt,
			"version":            inv.Version + 1,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return lockFailure(tx, inv.TenantID, inv.ID)
	}

	if err := deleteChildren(tx, inv.ID); err != nil {
		return err
	}
	return insertChildren(tx, model)
}

// lockFailure tells a missing row apart from one that moved to another version.
func lockFailure(tx *gorm.DB, tenantID, id uuid.UUID) error {
	var count int64
	if err := tx.Model(&models.InvoiceModel{}).
		Where("tenant_id = ? AND id = ?", tenantID, id).
		Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return invoiceNotFound(id)
	}
	return shared.NewDomainError(shared.CodeConcurrencyConflict,
		fmt.Sprintf("invoice %s was modified by another process", id))
}

func insertChildren(tx *gorm.DB, model *models.InvoiceModel) error {
	if len(model.LineItems) > 0 {
		if err := tx.Create(&model.LineItems).Error; err != nil {
			return err
		}
	}
	if len(model.Discounts) > 0 {
		if err := tx.Create(&model.Discounts).Error; err != nil {
			return err
		}
	}
	return nil
}

func deleteChildren(tx *gorm.DB, invoiceID uuid.UUID) error {
	if err := tx.Where("invoice_id = ?", invoiceID).Delete(&models.InvoiceLineItemModel{}).Error; err != nil {
		return err
	}
	return tx.Where("invoice_id = ?", invoiceID).Delete(&models.InvoiceDiscountModel{}).Error
}

func invoiceNotFound(id uuid.UUID) error {
	return shared.NewDomainError(shared.CodeNotFound, fmt.Sprintf("invoice %s not found", id))
}

func statusLabel(s invoice.Status) string {
	if s == "" {
		return "any"
	}
	return string(s)
}
