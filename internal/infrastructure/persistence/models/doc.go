// Package models contains GORM-specific persistence models that map to database tables.
// These models are separate from domain entities to keep the domain layer free
// of ORM concerns.
//
// Structure:
//   - base.go: shared columns (BaseModel, TenantAggregateModel)
//   - invoice.go: invoices with their line items and discounts
//   - usage.go: imported usage records
package models
