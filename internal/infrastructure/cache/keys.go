package cache

import (
	"fmt"

	"github.com/google/uuid"
)

const keyNamespace = "billops"

// InvoiceKey caches one invoice by id.
func InvoiceKey(tenantID, invoiceID uuid.UUID) string {
	return fmt.Sprintf("%s:%s:invoice:%s", keyNamespace, tenantID, invoiceID)
}

// AccountInvoiceKey caches the finalized invoice of an account and period.
func AccountInvoiceKey(tenantID uuid.UUID, accountID, period string) string {
	return fmt.Sprintf("%s:%s:invoice:account:%s:%s", keyNamespace, tenantID, accountID, period)
}

// AdminInvoiceListKey caches the full invoice list of a tenant.
func AdminInvoiceListKey(tenantID uuid.UUID) string {
	return fmt.Sprintf("%s:%s:invoices:list:admin", keyNamespace, tenantID)
}

// StatusInvoiceListKey caches the invoice list filtered by status.
func StatusInvoiceListKey(tenantID uuid.UUID, status string) string {
	return StatusInvoiceListPrefix(tenantID) + status
}

// StatusInvoiceListPrefix matches every status-filtered list of a tenant.
func StatusInvoiceListPrefix(tenantID uuid.UUID) string {
	return fmt.Sprintf("%s:%s:invoices:status:", keyNamespace, tenantID)
}

// DashboardKey caches the dashboard view of an account and period.
func DashboardKey(tenantID uuid.UUID, accountID, period string) string {
	return DashboardPrefix(tenantID, accountID) + period
}

// DashboardPrefix matches every cached dashboard of an account.
func DashboardPrefix(tenantID uuid.UUID, accountID string) string {
	return fmt.Sprintf("%s:%s:dashboard:%s:", keyNamespace, tenantID, accountID)
}

// ClientDashboardKey caches a dashboard merged over several accounts.
// accountsKey must be stable for the same account set.
func ClientDashboardKey(tenantID uuid.UUID, accountsKey, period string) string {
	return fmt.Sprintf("%s%s:%s", ClientDashboardPrefix(tenantID), accountsKey, period)
}

// ClientDashboardPrefix matches every merged dashboard of a tenant.
func ClientDashboardPrefix(tenantID uuid.UUID) string {
	return fmt.Sprintf("%s:%s:dashboard:client:", keyNamespace, tenantID)
}

// CostKey caches one cost dimension of an account and period.
func CostKey(tenantID uuid.UUID, accountID, dimension, period string) string {
	return fmt.Sprintf("%s%s:%s", CostPrefix(tenantID, accountID), dimension, period)
}

// CostPrefix matches every cached cost dimension of an account.
func CostPrefix(tenantID uuid.UUID, accountID string) string {
	return fmt.Sprintf("%s%s:", TenantCostPrefix(tenantID), accountID)
}

// TenantCostPrefix matches every cached cost dimension of a tenant,
// including those computed over several accounts.
func TenantCostPrefix(tenantID uuid.UUID) string {
	return fmt.Sprintf("%s:%s:cost:", keyNamespace, tenantID)
}

// Prefix marks key as a prefix for Coordinator.Invalidate.
func Prefix(key string) string {
	return key + "*"
}

// ProcessedEventKey marks a domain event as handled for one aggregate.
func ProcessedEventKey(tenantID uuid.UUID, eventType string, aggregateID uuid.UUID) string {
	return fmt.Sprintf("%s:%s:events:%s:%s", keyNamespace, tenantID, eventType, aggregateID)
}
