package models

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/xammer/billops/internal/domain/shared"
	"github.com/xammer/billops/internal/domain/usage"
)

// UsageRecordModel is one imported bill line bound to its owner.
// BillingPeriod is stored as "YYYY-MM" so that range filters compare
// lexically.
type UsageRecordModel struct {
	BaseModel
	TenantID      uuid.UUID       `gorm:"type:uuid;not null;index:idx_usage_tenant_account_period,priority:1"`
	AccountID     string          `gorm:"type:varchar(64);not null;index:idx_usage_tenant_account_period,priority:2"`
	BillingPeriod string          `gorm:"type:varchar(7);not null;index:idx_usage_tenant_account_period,priority:3"`
	ServiceName   string          `gorm:"type:varchar(200);not null"`
	Region        string          `gorm:"type:varchar(100);not null"`
	UsageType     string          `gorm:"type:varchar(200);not null"`
	Quantity      decimal.Decimal `gorm:"type:decimal(20,6);not null"`
	Unit          string          `gorm:"type:varchar(32)"`
	Cost          decimal.Decimal `gorm:"type:decimal(18,4);not null"`
	SourceKey     string          `gorm:"type:varchar(512);index"`
}

// TableName returns the table name for GORM
func (UsageRecordModel) TableName() string {
	return "usage_records"
}

// ToDomain converts the model to a domain StoredRecord
func (m *UsageRecordModel) ToDomain() (usage.StoredRecord, error) {
	period, err := shared.ParseBillingPeriod(m.BillingPeriod)
	if err != nil {
		return usage.StoredRecord{}, err
	}
	return usage.StoredRecord{
		BaseEntity:    m.BaseModel.ToDomain(),
		TenantID:      m.TenantID,
		AccountID:     m.AccountID,
		ServiceName:   m.ServiceName,
		BillingPeriod: period,
		SourceKey:     m.SourceKey,
		Record: usage.Record{
			Region:    m.Region,
			UsageType: m.UsageType,
			Quantity:  m.Quantity,
			Unit:      m.Unit,
			Cost:      m.Cost,
		},
	}, nil
}

// UsageRecordModelFromDomain creates a persistence model from a domain StoredRecord
func UsageRecordModelFromDomain(r usage.StoredRecord) *UsageRecordModel {
	m := &UsageRecordModel{
		TenantID:      r.TenantID,
		AccountID:     r.AccountID,
		BillingPeriod: r.BillingPeriod.String(),
		ServiceName:   r.ServiceName,
		Region:        r.Region,
		UsageType:     r.UsageType,
		Quantity:      r.Quantity,
		Unit:          r.Unit,
		Cost:          r.Cost,
		SourceKey:     r.SourceKey,
	}
	m.FromDomainBaseEntity(r.BaseEntity)
	return m
}
