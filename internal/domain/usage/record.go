package usage

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/xammer/billops/internal/domain/shared"
)

// Default values filled in for sparse bill rows.
const (
	RegionGlobal    = "Global"
	UnitGB          = "GB"
	UnitRequests    = "Requests"
	DefaultService  = "Amazon CloudFront"
	DefaultResource = "CloudFront Service"
)

// Record is one parsed usage line of a bill. It is an immutable value.
type Record struct {
	Region    string
	UsageType string
	Quantity  decimal.Decimal
	Unit      string
	Cost      decimal.Decimal
}

// NewRecord fills in the defaults for blank region and unit.
func NewRecord(region, usageType string, quantity decimal.Decimal, unit string, cost decimal.Decimal) Record {
	region = strings.TrimSpace(region)
	if region == "" {
		region = RegionGlobal
	}
	unit = strings.TrimSpace(unit)
	if unit == "" {
		unit = DefaultUnit(usageType)
	}
	return Record{
		Region:    region,
		UsageType: strings.TrimSpace(usageType),
		Quantity:  quantity,
		Unit:      unit,
		Cost:      cost,
	}
}

// DefaultUnit infers the unit of a usage type that came without one.
func DefaultUnit(usageType string) string {
	if strings.Contains(usageType, "Requests") {
		return UnitRequests
	}
	return UnitGB
}

// IsBillable reports whether the record carries any cost or usage.
func (r Record) IsBillable() bool {
	return r.Cost.IsPositive() || r.Quantity.IsPositive()
}

// StoredRecord is a Record bound to the tenant, account, service and
// billing period it was imported for.
type StoredRecord struct {
	shared.BaseEntity
	TenantID      uuid.UUID
	AccountID     string
	ServiceName   string
	BillingPeriod shared.BillingPeriod
	SourceKey     string
	Record
}

// NewStoredRecord binds a parsed record to its owner.
func NewStoredRecord(tenantID uuid.UUID, accountID, service string, period shared.BillingPeriod, sourceKey string, r Record) StoredRecord {
	if strings.TrimSpace(service) == "" {
		service = DefaultService
	}
	return StoredRecord{
		BaseEntity:    shared.NewBaseEntity(),
		TenantID:      tenantID,
		AccountID:     accountID,
		ServiceName:   service,
		BillingPeriod: period,
		SourceKey:     sourceKey,
		Record:        r,
	}
}

// Query selects stored records. Zero fields are not filtered on.
type Query struct {
	TenantID    uuid.UUID
	AccountIDs  []string
	From        shared.BillingPeriod // inclusive
	To          shared.BillingPeriod // inclusive
	ServiceName string
	Region      string
}

// Repository persists imported usage records.
type Repository interface {
	SaveAll(ctx context.Context, records []StoredRecord) error
	Find(ctx context.Context, q Query) ([]StoredRecord, error)
	// DeleteBySource removes everything imported from one artifact.
	DeleteBySource(ctx context.Context, tenantID uuid.UUID, sourceKey string) (int64, error)
	// Accounts lists every tenant with the accounts it has usage for.
	Accounts(ctx context.Context) ([]TenantAccounts, error)
}

// TenantAccounts is the set of cloud accounts one tenant imported usage for.
type TenantAccounts struct {
	TenantID   uuid.UUID
	AccountIDs []string
}
