package cost

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/xammer/billops/internal/domain/shared"
)

// Granularity is the bucket size of a cost time series.
type Granularity string

// Supported granularities
const (
	GranularityMonthly Granularity = "MONTHLY"
)

// Dimension is a grouping axis for cost queries.
type Dimension string

// Grouping dimensions understood by providers
const (
	DimensionNone      Dimension = ""
	DimensionService   Dimension = "SERVICE"
	DimensionRegion    Dimension = "REGION"
	DimensionUsageType Dimension = "USAGE_TYPE"
)

// Filter narrows a query to one service and optionally one region.
// Empty fields do not filter.
type Filter struct {
	Service string
	Region  string
}

// Query asks a provider for costs of one or more accounts over an
// inclusive range of billing periods.
type Query struct {
	AccountIDs  []string
	From        shared.BillingPeriod
	To          shared.BillingPeriod
	Granularity Granularity
	GroupBy     Dimension
	Filter      Filter
}

// Point is one bucket of a time series.
type Point struct {
	Period shared.BillingPeriod
	Cost   decimal.Decimal
}

// Group is the total of one dimension value.
type Group struct {
	Key      string
	Cost     decimal.Decimal
	Quantity decimal.Decimal
	Unit     string
}

// Response holds a time series when the query is ungrouped, otherwise the
// grouped totals over the whole range.
type Response struct {
	Points []Point
	Groups []Group
}

// Provider is the upstream cost data source. Every call may fail
// independently; callers isolate failures per dimension.
type Provider interface {
	Query(ctx context.Context, q Query) (Response, error)
	Forecast(ctx context.Context, accountIDs []string, from, to shared.BillingPeriod) ([]Point, error)
}
