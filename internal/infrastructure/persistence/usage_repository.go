package persistence

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/xammer/billops/internal/domain/usage"
	"github.com/xammer/billops/internal/infrastructure/persistence/models"
)

const usageBatchSize = 500

// GormUsageRepository implements usage.Repository using GORM
type GormUsageRepository struct {
	db *gorm.DB
}

// NewGormUsageRepository creates a new GormUsageRepository
func NewGormUsageRepository(db *gorm.DB) *GormUsageRepository {
	return &GormUsageRepository{db: db}
}

var _ usage.Repository = (*GormUsageRepository)(nil)

// SaveAll persists records in batches inside a single transaction
func (r *GormUsageRepository) SaveAll(ctx context.Context, records []usage.StoredRecord) error {
	if len(records) == 0 {
		return nil
	}
	rows := make([]*models.UsageRecordModel, 0, len(records))
	for _, rec := range records {
		rows = append(rows, models.UsageRecordModelFromDomain(rec))
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.CreateInBatches(rows, usageBatchSize).Error
	})
}

// Find returns the stored records matching q, ordered by period then import order
func (r *GormUsageRepository) Find(ctx context.Context, q usage.Query) ([]usage.StoredRecord, error) {
	var rows []models.UsageRecordModel
	if err := applyUsageQuery(r.db.WithContext(ctx).Model(&models.UsageRecordModel{}), q).
		Order("billing_period ASC").
		Order("created_at ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}

	out := make([]usage.StoredRecord, 0, len(rows))
	for i := range rows {
		rec, err := rows[i].ToDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// DeleteBySource removes every record imported from sourceKey
func (r *GormUsageRepository) DeleteBySource(ctx context.Context, tenantID uuid.UUID, sourceKey string) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("tenant_id = ? AND source_key = ?", tenantID, sourceKey).
		Delete(&models.UsageRecordModel{})
	return result.RowsAffected, result.Error
}

// Accounts lists the distinct accounts per tenant, both sorted
func (r *GormUsageRepository) Accounts(ctx context.Context) ([]usage.TenantAccounts, error) {
	var rows []struct {
		TenantID  uuid.UUID
		AccountID string
	}
	if err := r.db.WithContext(ctx).
		Model(&models.UsageRecordModel{}).
		Distinct("tenant_id", "account_id").
		Order("tenant_id ASC").
		Order("account_id ASC").
		Scan(&rows).Error; err != nil {
		return nil, err
	}

	var out []usage.TenantAccounts
	for _, row := range rows {
		if n := len(out); n > 0 && out[n-1].TenantID == row.TenantID {
			out[n-1].AccountIDs = append(out[n-1].AccountIDs, row.AccountID)
			continue
		}
		out = append(out, usage.TenantAccounts{TenantID: row.TenantID, AccountIDs: []string{row.AccountID}})
	}
	return out, nil
}

func applyUsageQuery(db *gorm.DB, q usage.Query) *gorm.DB {
	db = db.Where("tenant_id = ?", q.TenantID)
	if len(q.AccountIDs) > 0 {
		db = db.Where("account_id IN ?", q.AccountIDs)
	}
	if !q.From.IsZero() {
		db = db.Where("billing_period >= ?", q.From.String())
	}
	if !q.To.IsZero() {
		db = db.Where("billing_period <= ?", q.To.String())
	}
	if q.ServiceName != "" {
		db = db.Where("service_name = ?", q.ServiceName)
	}
	if q.Region != "" {
		db = db.Where("region = ?", q.Region)
	}
	return db
}
