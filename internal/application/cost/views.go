package cost

import (
	"github.com/shopspring/decimal"
)

// HistoryPoint is one month of spend, flagged when it jumps sharply over
// the month before.
type HistoryPoint struct {
	Period  string          `json:"period"`
	Cost    decimal.Decimal `json:"cost"`
	Anomaly bool            `json:"anomaly"`
}

// ForecastPoint is the projected spend of one month.
type ForecastPoint struct {
	Period string          `json:"period"`
	Cost   decimal.Decimal `json:"cost"`
}

// NamedCost is the total of one service or region.
type NamedCost struct {
	Name string          `json:"name"`
	Cost decimal.Decimal `json:"cost"`
}

// DashboardView is the joined result of the dashboard sub-queries.
// A dimension whose query failed is empty and listed in Unavailable.
type DashboardView struct {
	AccountIDs      []string        `json:"accountIds"`
	Period          string          `json:"period"`
	History         []HistoryPoint  `json:"history"`
	Forecast        []ForecastPoint `json:"forecast"`
	ByService       []NamedCost     `json:"byService"`
	ByRegion        []NamedCost     `json:"byRegion"`
	MonthToDate     decimal.Decimal `json:"monthToDate"`
	LastMonth       decimal.Decimal `json:"lastMonth"`
	ForecastedSpend decimal.Decimal `json:"forecastedSpend"`
	Unavailable     []string        `json:"unavailable,omitempty"`
}

// Degraded reports whether any dimension failed.
func (v DashboardView) Degraded() bool {
	return len(v.Unavailable) > 0
}

// ResourceCost is the cost of one usage type of a service in a region.
type ResourceCost struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Cost     decimal.Decimal `json:"cost"`
	Quantity decimal.Decimal `json:"quantity"`
	Unit     string          `json:"unit"`
}

// RegionDetail is a region of a service with its resources.
type RegionDetail struct {
	RegionName string          `json:"regionName"`
	Cost       decimal.Decimal `json:"cost"`
	Resources  []ResourceCost  `json:"resources"`
}

// ServiceDetail is one service of the detailed billing report.
type ServiceDetail struct {
	ServiceName string          `json:"serviceName"`
	TotalCost   decimal.Decimal `json:"totalCost"`
	Regions     []RegionDetail  `json:"regions"`
}
