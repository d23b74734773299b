package persistence

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/xammer/billops/internal/application/cost"
	"github.com/xammer/billops/internal/domain/shared"
	"github.com/xammer/billops/internal/domain/usage"
	"github.com/xammer/billops/internal/infrastructure/persistence/models"
)

// forecastLookback is the number of closed months averaged into a forecast.
const forecastLookback = 3

var dimensionColumns = map[cost.Dimension]string{
	cost.DimensionService:   "service_name",
	cost.DimensionRegion:    "region",
	cost.DimensionUsageType: "usage_type",
}

// UsageCostProvider answers cost queries from imported usage records of
// the tenant carried by the request context.
type UsageCostProvider struct {
	db *gorm.DB
}

// NewUsageCostProvider creates a new UsageCostProvider
func NewUsageCostProvider(db *gorm.DB) *UsageCostProvider {
	return &UsageCostProvider{db: db}
}

var _ cost.Provider = (*UsageCostProvider)(nil)

type periodCostRow struct {
	BillingPeriod string
	Cost          decimal.Decimal
}

type groupCostRow struct {
	GroupKey string
	Cost     decimal.Decimal
	Quantity decimal.Decimal
	Unit     string
}

// Query returns a zero-filled monthly series when q is ungrouped and the
// per-value totals over the whole range otherwise.
func (p *UsageCostProvider) Query(ctx context.Context, q cost.Query) (cost.Response, error) {
	if q.Granularity != "" && q.Granularity != cost.GranularityMonthly {
		return cost.Response{}, shared.NewDomainError(shared.CodeInvalidInput,
			fmt.Sprintf("unsupported granularity %q", q.Granularity))
	}
	if q.From.IsZero() || q.To.IsZero() || q.To.Before(q.From) {
		return cost.Response{}, shared.NewDomainError(shared.CodeInvalidInput,
			fmt.Sprintf("invalid period range %s..%s", q.From, q.To))
	}

	base := applyUsageQuery(p.db.WithContext(ctx).Model(&models.UsageRecordModel{}), usage.Query{
		TenantID:    shared.TenantFromContext(ctx),
		AccountIDs:  q.AccountIDs,
		From:        q.From,
		To:          q.To,
		ServiceName: q.Filter.Service,
		Region:      q.Filter.Region,
	})

	if q.GroupBy == cost.DimensionNone {
		totals, err := periodTotals(base)
		if err != nil {
			return cost.Response{}, err
		}
		return cost.Response{Points: series(totals, q.From, q.To)}, nil
	}

	column, ok := dimensionColumns[q.GroupBy]
	if !ok {
		return cost.Response{}, shared.NewDomainError(shared.CodeInvalidInput,
			fmt.Sprintf("unsupported grouping %q", q.GroupBy))
	}
	var rows []groupCostRow
	if err := base.
		Select(column + " AS group_key, SUM(cost) AS cost, SUM(quantity) AS quantity, MAX(unit) AS unit").
		Group(column).
		Order("cost DESC").
		Scan(&rows).Error; err != nil {
		return cost.Response{}, fmt.Errorf("query usage costs by %s: %w", column, err)
	}

	groups := make([]cost.Group, 0, len(rows))
	for _, row := range rows {
		groups = append(groups, cost.Group{
			Key:      row.GroupKey,
			Cost:     row.Cost,
			Quantity: row.Quantity,
			Unit:     row.Unit,
		})
	}
	return cost.Response{Groups: groups}, nil
}

// Forecast projects the average monthly total of the months before from
// onto every period in from..to.
func (p *UsageCostProvider) Forecast(ctx context.Context, accountIDs []string, from, to shared.BillingPeriod) ([]cost.Point, error) {
	if from.IsZero() || to.IsZero() || to.Before(from) {
		return nil, shared.NewDomainError(shared.CodeInvalidInput,
			fmt.Sprintf("invalid forecast range %s..%s", from, to))
	}

	histFrom, histTo := from.AddMonths(-forecastLookback), from.AddMonths(-1)
	totals, err := periodTotals(applyUsageQuery(p.db.WithContext(ctx).Model(&models.UsageRecordModel{}), usage.Query{
		TenantID:   shared.TenantFromContext(ctx),
		AccountIDs: accountIDs,
		From:       histFrom,
		To:         histTo,
	}))
	if err != nil {
		return nil, err
	}

	sum := decimal.Zero
	for _, pt := range series(totals, histFrom, histTo) {
		sum = sum.Add(pt.Cost)
	}
	avg := shared.RoundMoney(sum.Div(decimal.NewFromInt(forecastLookback)))

	out := make([]cost.Point, 0)
	for period := from; !to.Before(period); period = period.AddMonths(1) {
		out = append(out, cost.Point{Period: period, Cost: avg})
	}
	return out, nil
}

func periodTotals(db *gorm.DB) (map[string]decimal.Decimal, error) {
	var rows []periodCostRow
	if err := db.
		Select("billing_period, SUM(cost) AS cost").
		Group("billing_period").
		Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("query usage costs by period: %w", err)
	}
	totals := make(map[string]decimal.Decimal, len(rows))
	for _, row := range rows {
		totals[row.BillingPeriod] = row.Cost
	}
	return totals, nil
}

// series lays totals out over every month of from..to, zero where absent.
func series(totals map[string]decimal.Decimal, from, to shared.BillingPeriod) []cost.Point {
	out := make([]cost.Point, 0)
	for period := from; !to.Before(period); period = period.AddMonths(1) {
		c, ok := totals[period.String()]
		if !ok {
			c = decimal.Zero
		}
		out = append(out, cost.Point{Period: period, Cost: c})
	}
	return out
}
