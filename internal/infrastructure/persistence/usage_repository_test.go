package persistence

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xammer/billops/internal/domain/shared"
	"github.com/xammer/billops/internal/domain/usage"
)

type usageFixture struct {
	tenantID uuid.UUID
	records  []usage.StoredRecord
}

func period(t *testing.T, s string) shared.BillingPeriod {
	t.Helper()
	p, err := shared.ParseBillingPeriod(s)
	require.NoError(t, err)
	return p
}

func seedUsage(t *testing.T, repo *GormUsageRepository) usageFixture {
	t.Helper()
	tenantID := uuid.New()
	rec := func(account, service, p, region, usageType string, qty, cost float64, source string) usage.StoredRecord {
		return usage.NewStoredRecord(tenantID, account, service, period(t, p), source,
			usage.NewRecord(region, usageType, decimal.NewFromFloat(qty), "", decimal.NewFromFloat(cost)))
	}
	f := usageFixture{
		tenantID: tenantID,
		records: []usage.StoredRecord{
			rec("111122223333", "Amazon EC2", "2024-01", "US East (N. Virginia)", "BoxUsage:t3.micro", 720, 30, "bills/a.csv"),
			rec("111122223333", "Amazon EC2", "2024-02", "US East (N. Virginia)", "BoxUsage:t3.micro", 720, 30, "bills/b.csv"),
			rec("111122223333", "Amazon EC2", "2024-03", "EU (Ireland)", "BoxUsage:t3.large", 100, 50, "bills/c.csv"),
			rec("111122223333", "Amazon S3", "2024-03", "", "TimedStorage-ByteHrs", 200, 4.5, "bills/c.csv"),
			rec("444455556666", "Amazon CloudFront", "2024-03", "", "DataTransfer-Out-Bytes", 1000, 85, "bills/d.csv"),
		},
	}
	require.NoError(t, repo.SaveAll(context.Background(), f.records))
	return f
}

func TestGormUsageRepository_SaveAllAndFind(t *testing.T) {
	db := setupTestDB(t)
	repo := NewGormUsageRepository(db)
	ctx := context.Background()
	f := seedUsage(t, repo)

	t.Run("empty batch is a no-op", func(t *testing.T) {
		require.NoError(t, repo.SaveAll(ctx, nil))
	})

	t.Run("by account and period range", func(t *testing.T) {
		got, err := repo.Find(ctx, usage.Query{
			TenantID:   f.tenantID,
			AccountIDs: []string{"111122223333"},
			From:       period(t, "2024-02"),
			To:         period(t, "2024-03"),
		})
		require.NoError(t, err)
		require.Len(t, got, 3)
		assert.Equal(t, "2024-02", got[0].BillingPeriod.String())
		for _, r := range got {
			if r.ServiceName == "Amazon S3" {
				assert.Equal(t, usage.RegionGlobal, r.Region)
				assert.Equal(t, usage.UnitGB, r.Unit)
			}
		}
	})

	t.Run("by service and region", func(t *testing.T) {
		got, err := repo.Find(ctx, usage.Query{
			TenantID:    f.tenantID,
			ServiceName: "Amazon EC2",
			Region:      "EU (Ireland)",
		})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.True(t, decimal.NewFromInt(50).Equal(got[0].Cost))
		assert.Equal(t, "bills/c.csv", got[0].SourceKey)
	})

	t.Run("tenants are isolated", func(t *testing.T) {
		got, err := repo.Find(ctx, usage.Query{TenantID: uuid.New()})
		require.NoError(t, err)
		assert.Empty(t, got)
	})
}

func TestGormUsageRepository_DeleteBySource(t *testing.T) {
	db := setupTestDB(t)
	repo := NewGormUsageRepository(db)
	ctx := context.Background()
	f := seedUsage(t, repo)

	n, err := repo.DeleteBySource(ctx, f.tenantID, "bills/c.csv")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = repo.DeleteBySource(ctx, uuid.New(), "bills/a.csv")
	require.NoError(t, err)
	assert.Zero(t, n)

	got, err := repo.Find(ctx, usage.Query{TenantID: f.tenantID})
	require.NoError(t, err)
	assert.Len(t, got, 3)
}

func TestGormUsageRepository_Accounts(t *testing.T) {
	db := setupTestDB(t)
	repo := NewGormUsageRepository(db)
	ctx := context.Background()

	empty, err := repo.Accounts(ctx)
	require.NoError(t, err)
	assert.Empty(t, empty)

	first := seedUsage(t, repo)
	second := seedUsage(t, repo)

	got, err := repo.Accounts(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)
	byTenant := map[uuid.UUID][]string{}
	for _, ta := range got {
		byTenant[ta.TenantID] = ta.AccountIDs
	}
	want := []string{"111122223333", "444455556666"}
	assert.Equal(t, want, byTenant[first.tenantID])
	assert.Equal(t, want, byTenant[second.tenantID])
}
