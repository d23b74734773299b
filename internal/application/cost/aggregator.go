// Package cost joins independent cost-dimension queries against an
// unreliable provider into dashboard views and billing reports.
package cost

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xammer/billops/internal/domain/shared"
	"github.com/xammer/billops/internal/domain/usage"
	"github.com/xammer/billops/internal/infrastructure/cache"
	"github.com/xammer/billops/internal/infrastructure/telemetry"
)

const (
	defaultPoolSize       = 5
	defaultHistoryMonths  = 6
	defaultForecastMonths = 3
	defaultDashboardTTL   = 6 * time.Hour
	defaultDimensionTTL   = 6 * time.Hour
)

// Dashboard dimension names, used in cache keys and Unavailable.
const (
	DimHistory  = "history"
	DimForecast = "forecast"
	DimServices = "services"
	DimRegions  = "regions"
	dimDetailed = "detailed"
)

var (
	anomalyMultiplier = decimal.RequireFromString("1.20")
	anomalyFloor      = decimal.NewFromInt(10)
	minGroupCost      = decimal.RequireFromString("0.01")
)

// Aggregator builds cost views. Sub-queries of one view run concurrently on
// a bounded pool; a failing sub-query leaves its dimension empty and never
// fails its siblings.
type Aggregator struct {
	provider       Provider
	coordinator    *cache.Coordinator
	poolSize       int
	historyMonths  int
	forecastMonths int
	dashboardTTL   time.Duration
	dimensionTTL   time.Duration
	logger         *zap.Logger
}

// Option configures an Aggregator
type Option func(*Aggregator)

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(a *Aggregator) {
		a.logger = logger
	}
}

// WithPoolSize bounds concurrent provider calls per view
func WithPoolSize(n int) Option {
	return func(a *Aggregator) {
		if n > 0 {
			a.poolSize = n
		}
	}
}

// WithHistoryMonths sets the length of the dashboard history
func WithHistoryMonths(n int) Option {
	return func(a *Aggregator) {
		if n > 0 {
			a.historyMonths = n
		}
	}
}

// WithCache caches views and dimensions through c
func WithCache(c *cache.Coordinator, dashboardTTL, dimensionTTL time.Duration) Option {
	return func(a *Aggregator) {
		a.coordinator = c
		if dashboardTTL > 0 {
			a.dashboardTTL = dashboardTTL
		}
		if dimensionTTL > 0 {
			a.dimensionTTL = dimensionTTL
		}
	}
}

// NewAggregator creates an Aggregator over provider
func NewAggregator(provider Provider, opts ...Option) *Aggregator {
	a := &Aggregator{
		provider:       provider,
		poolSize:       defaultPoolSize,
		historyMonths:  defaultHistoryMonths,
		forecastMonths: defaultForecastMonths,
		dashboardTTL:   defaultDashboardTTL,
		dimensionTTL:   defaultDimensionTTL,
		logger:         zap.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

type refreshKey struct{}

// WithRefresh marks ctx so that cached lookups skip the read and overwrite
// the entry with a fresh value. Used by scheduled warm-up.
func WithRefresh(ctx context.Context) context.Context {
	return context.WithValue(ctx, refreshKey{}, true)
}

// IsRefresh reports whether ctx was marked by WithRefresh.
func IsRefresh(ctx context.Context) bool {
	v, _ := ctx.Value(refreshKey{}).(bool)
	return v
}

func cached[T any](ctx context.Context, a *Aggregator, key string, ttl time.Duration, fn func(context.Context) (T, error)) (T, error) {
	if a.coordinator == nil {
		return fn(ctx)
	}
	if IsRefresh(ctx) {
		v, err := fn(ctx)
		if err == nil {
			a.coordinator.Put(ctx, key, v, ttl)
		}
		return v, err
	}
	return cache.GetOrCompute(ctx, a.coordinator, key, ttl, fn)
}

// DashboardView returns history, forecast, spend by service and by region
// for one account.
func (a *Aggregator) DashboardView(ctx context.Context, accountID string, period shared.BillingPeriod) (*DashboardView, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "cost", "dashboard_view",
		telemetry.WithAttribute(telemetry.SpanAttrAccountID, accountID),
		telemetry.WithAttribute(telemetry.SpanAttrBillingPeriod, period.String()),
	)
	defer span.End()

	if strings.TrimSpace(accountID) == "" {
		return nil, shared.NewDomainError(shared.CodeInvalidInput, "account id is required")
	}

	tenantID := shared.TenantFromContext(ctx)
	key := cache.DashboardKey(tenantID, accountID, period.String())
	if a.coordinator != nil && !IsRefresh(ctx) {
		v, ok := cache.Get[DashboardView](ctx, a.coordinator, key)
		telemetry.Metrics().CacheLookup(ctx, "dashboard", ok)
		if ok {
			return &v, nil
		}
	}

	start := time.Now()
	view := a.computeDashboard(ctx, tenantID, []string{accountID}, period)
	telemetry.Metrics().ComputeDuration(ctx, "dashboard", time.Since(start))
	if a.coordinator != nil && !view.Degraded() {
		a.coordinator.Put(ctx, key, view, a.dashboardTTL)
	}
	return view, nil
}

func (a *Aggregator) computeDashboard(ctx context.Context, tenantID uuid.UUID, accountIDs []string, period shared.BillingPeriod) *DashboardView {
	f := newFanOut(ctx, a.poolSize)
	history := submit(f, DimHistory, func(ctx context.Context) ([]HistoryPoint, error) {
		return a.history(ctx, tenantID, accountIDs, period)
	})
	forecast := submit(f, DimForecast, func(ctx context.Context) ([]ForecastPoint, error) {
		return a.forecast(ctx, accountIDs, period)
	})
	byService := submit(f, DimServices, func(ctx context.Context) ([]NamedCost, error) {
		return a.grouped(ctx, tenantID, accountIDs, period, DimensionService, Filter{})
	})
	byRegion := submit(f, DimRegions, func(ctx context.Context) ([]NamedCost, error) {
		return a.grouped(ctx, tenantID, accountIDs, period, DimensionRegion, Filter{})
	})
	f.wait()

	view := &DashboardView{
		AccountIDs:      accountIDs,
		Period:          period.String(),
		History:         orEmpty(a, DimHistory, history, accountIDs),
		Forecast:        orEmpty(a, DimForecast, forecast, accountIDs),
		ByService:       orEmpty(a, DimServices, byService, accountIDs),
		ByRegion:        orEmpty(a, DimRegions, byRegion, accountIDs),
		MonthToDate:     decimal.Zero,
		LastMonth:       decimal.Zero,
		ForecastedSpend: decimal.Zero,
	}
	for name, ok := range map[string]bool{
		DimHistory:  history.Ok(),
		DimForecast: forecast.Ok(),
		DimServices: byService.Ok(),
		DimRegions:  byRegion.Ok(),
	} {
		if !ok {
			view.Unavailable = append(view.Unavailable, name)
			telemetry.Metrics().DimensionFailed(ctx, name)
		}
	}
	slices.Sort(view.Unavailable)
	view.summarize()
	return view
}

// summarize derives the spend cards from the joined series.
func (v *DashboardView) summarize() {
	if n := len(v.History); n > 0 {
		v.MonthToDate = v.History[n-1].Cost
		if n > 1 {
			v.LastMonth = v.History[n-2].Cost
		}
	}
	for _, p := range v.Forecast {
		if p.Period == v.Period {
			v.ForecastedSpend = p.Cost
			break
		}
	}
}

// orEmpty unwraps a result, substituting an empty value for a failed task.
func orEmpty[T any](a *Aggregator, dim string, r *Result[[]T], accountIDs []string) []T {
	if r.Ok() {
		if r.Value == nil {
			return []T{}
		}
		return r.Value
	}
	a.logger.Warn("Cost dimension unavailable, using empty result",
		zap.String("dimension", dim),
		zap.Strings("account_ids", accountIDs),
		zap.String("code", shared.CodeProviderUnavailable),
		zap.Error(r.Err),
	)
	return []T{}
}

func (a *Aggregator) history(ctx context.Context, tenantID uuid.UUID, accountIDs []string, period shared.BillingPeriod) ([]HistoryPoint, error) {
	key := cache.CostKey(tenantID, accountsKey(accountIDs), DimHistory, period.String())
	return cached(ctx, a, key, a.dimensionTTL, func(ctx context.Context) ([]HistoryPoint, error) {
		resp, err := a.provider.Query(ctx, Query{
			AccountIDs:  accountIDs,
			From:        period.AddMonths(-(a.historyMonths - 1)),
			To:          period,
			Granularity: GranularityMonthly,
		})
		if err != nil {
			return nil, providerError(DimHistory, err)
		}
		return FlagAnomalies(resp.Points), nil
	})
}

func (a *Aggregator) forecast(ctx context.Context, accountIDs []string, period shared.BillingPeriod) ([]ForecastPoint, error) {
	points, err := a.provider.Forecast(ctx, accountIDs, period, period.AddMonths(a.forecastMonths-1))
	if err != nil {
		return nil, providerError(DimForecast, err)
	}
	out := make([]ForecastPoint, 0, len(points))
	for _, p := range points {
		out = append(out, ForecastPoint{Period: p.Period.String(), Cost: shared.RoundMoney(p.Cost)})
	}
	return out, nil
}

func (a *Aggregator) grouped(ctx context.Context, tenantID uuid.UUID, accountIDs []string, period shared.BillingPeriod, dim Dimension, filter Filter) ([]NamedCost, error) {
	name := strings.ToLower(string(dim))
	if filter.Service != "" {
		name += ":" + filter.Service
	}
	key := cache.CostKey(tenantID, accountsKey(accountIDs), name, period.String())
	return cached(ctx, a, key, a.dimensionTTL, func(ctx context.Context) ([]NamedCost, error) {
		resp, err := a.provider.Query(ctx, Query{
			AccountIDs:  accountIDs,
			From:        period,
			To:          period,
			Granularity: GranularityMonthly,
			GroupBy:     dim,
			Filter:      filter,
		})
		if err != nil {
			return nil, providerError(name, err)
		}
		return significantGroups(resp.Groups), nil
	})
}

// ServiceInRegions returns the cost of one service split by region.
func (a *Aggregator) ServiceInRegions(ctx context.Context, accountID string, period shared.BillingPeriod, service string) ([]NamedCost, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "cost", "service_in_regions",
		telemetry.WithAttribute(telemetry.SpanAttrAccountID, accountID),
		telemetry.WithAttribute(telemetry.SpanAttrServiceName, service),
	)
	defer span.End()

	if strings.TrimSpace(service) == "" {
		return nil, shared.NewDomainError(shared.CodeInvalidInput, "service name is required")
	}
	tenantID := shared.TenantFromContext(ctx)
	regions, err := a.grouped(ctx, tenantID, []string{accountID}, period, DimensionRegion, Filter{Service: service})
	if err != nil {
		a.logger.Warn("Service region breakdown unavailable",
			zap.String("account_id", accountID),
			zap.String("service", service),
			zap.Error(err))
		return []NamedCost{}, nil
	}
	return regions, nil
}

// ResourceBreakdown returns the usage types of a service in a region with
// quantity and unit. A blank or "Global" region does not filter by region.
func (a *Aggregator) ResourceBreakdown(ctx context.Context, accountID string, period shared.BillingPeriod, service, region string) ([]ResourceCost, error) {
	resources, err := a.resources(ctx, []string{accountID}, period, service, region)
	if err != nil {
		a.logger.Warn("Resource breakdown unavailable",
			zap.String("account_id", accountID),
			zap.String("service", service),
			zap.String("region", region),
			zap.Error(err))
		return []ResourceCost{}, nil
	}
	return resources, nil
}

func (a *Aggregator) resources(ctx context.Context, accountIDs []string, period shared.BillingPeriod, service, region string) ([]ResourceCost, error) {
	filter := Filter{Service: service}
	if region != "" && !strings.EqualFold(region, usage.RegionGlobal) {
		filter.Region = region
	}
	resp, err := a.provider.Query(ctx, Query{
		AccountIDs:  accountIDs,
		From:        period,
		To:          period,
		Granularity: GranularityMonthly,
		GroupBy:     DimensionUsageType,
		Filter:      filter,
	})
	if err != nil {
		return nil, providerError("resources", err)
	}

	out := make([]ResourceCost, 0, len(resp.Groups))
	for _, g := range resp.Groups {
		if g.Key == "" || !g.Cost.IsPositive() {
			continue
		}
		out = append(out, ResourceCost{
			ID:       g.Key,
			Name:     usage.FormatUsageType(g.Key),
			Cost:     shared.RoundMoney(g.Cost),
			Quantity: g.Quantity,
			Unit:     g.Unit,
		})
	}
	slices.SortStableFunc(out, func(x, y ResourceCost) int {
		return y.Cost.Cmp(x.Cost)
	})
	return out, nil
}

// DetailedReport returns service, region and resource costs of the given
// accounts. Services with no positive region are left out. Unlike the
// dashboard, any failed sub-query fails the whole report.
func (a *Aggregator) DetailedReport(ctx context.Context, accountIDs []string, period shared.BillingPeriod) ([]ServiceDetail, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "cost", "detailed_report",
		telemetry.WithAttribute(telemetry.SpanAttrAccountID, strings.Join(accountIDs, ",")),
		telemetry.WithAttribute(telemetry.SpanAttrBillingPeriod, period.String()),
	)
	defer span.End()

	if len(accountIDs) == 0 {
		return nil, shared.NewDomainError(shared.CodeInvalidInput, "at least one account is required")
	}

	tenantID := shared.TenantFromContext(ctx)
	key := cache.CostKey(tenantID, accountsKey(accountIDs), dimDetailed, period.String())
	return cached(ctx, a, key, a.dimensionTTL, func(ctx context.Context) ([]ServiceDetail, error) {
		return a.detailedReport(ctx, tenantID, accountIDs, period)
	})
}

func (a *Aggregator) detailedReport(ctx context.Context, tenantID uuid.UUID, accountIDs []string, period shared.BillingPeriod) ([]ServiceDetail, error) {
	services, err := a.grouped(ctx, tenantID, accountIDs, period, DimensionService, Filter{})
	if err != nil {
		return nil, err
	}

	f := newFanOut(ctx, a.poolSize)
	details := make([]*Result[*ServiceDetail], 0, len(services))
	for _, svc := range services {
		if !svc.Cost.IsPositive() {
			continue
		}
		details = append(details, submit(f, svc.Name, func(ctx context.Context) (*ServiceDetail, error) {
			return a.serviceDetail(ctx, tenantID, accountIDs, period, svc)
		}))
	}
	f.wait()

	report := make([]ServiceDetail, 0, len(details))
	for _, r := range details {
		if !r.Ok() {
			return nil, r.Err
		}
		if r.Value != nil {
			report = append(report, *r.Value)
		}
	}
	slices.SortStableFunc(report, func(x, y ServiceDetail) int {
		return y.TotalCost.Cmp(x.TotalCost)
	})
	return report, nil
}

func (a *Aggregator) serviceDetail(ctx context.Context, tenantID uuid.UUID, accountIDs []string, period shared.BillingPeriod, svc NamedCost) (*ServiceDetail, error) {
	regions, err := a.grouped(ctx, tenantID, accountIDs, period, DimensionRegion, Filter{Service: svc.Name})
	if err != nil {
		return nil, err
	}

	detail := &ServiceDetail{ServiceName: svc.Name, TotalCost: svc.Cost}
	if len(regions) == 0 {
		resources, err := a.resources(ctx, accountIDs, period, svc.Name, usage.RegionGlobal)
		if err != nil {
			return nil, err
		}
		if len(resources) > 0 {
			detail.Regions = append(detail.Regions, RegionDetail{
				RegionName: usage.RegionGlobal,
				Cost:       svc.Cost,
				Resources:  resources,
			})
		}
	} else {
		for _, region := range regions {
			if !region.Cost.IsPositive() {
				continue
			}
			resources, err := a.resources(ctx, accountIDs, period, svc.Name, region.Name)
			if err != nil {
				return nil, err
			}
			detail.Regions = append(detail.Regions, RegionDetail{
				RegionName: region.Name,
				Cost:       region.Cost,
				Resources:  resources,
			})
		}
	}

	if len(detail.Regions) == 0 {
		return nil, nil
	}
	return detail, nil
}

// ClientDashboard merges the dashboards of several accounts: history is
// summed per month, services and regions are summed by name.
func (a *Aggregator) ClientDashboard(ctx context.Context, accountIDs []string, period shared.BillingPeriod) (*DashboardView, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "cost", "client_dashboard",
		telemetry.WithAttribute(telemetry.SpanAttrAccountID, strings.Join(accountIDs, ",")),
	)
	defer span.End()

	accountIDs = uniqueSorted(accountIDs)
	if len(accountIDs) == 0 {
		return nil, shared.NewDomainError(shared.CodeInvalidInput, "at least one account is required")
	}

	tenantID := shared.TenantFromContext(ctx)
	key := cache.ClientDashboardKey(tenantID, accountsKey(accountIDs), period.String())
	if a.coordinator != nil && !IsRefresh(ctx) {
		if v, ok := cache.Get[DashboardView](ctx, a.coordinator, key); ok {
			return &v, nil
		}
	}

	f := newFanOut(ctx, a.poolSize)
	views := make([]*Result[*DashboardView], 0, len(accountIDs))
	for _, id := range accountIDs {
		views = append(views, submit(f, id, func(ctx context.Context) (*DashboardView, error) {
			return a.DashboardView(ctx, id, period)
		}))
	}
	f.wait()

	merged := &DashboardView{
		AccountIDs:      accountIDs,
		Period:          period.String(),
		MonthToDate:     decimal.Zero,
		LastMonth:       decimal.Zero,
		ForecastedSpend: decimal.Zero,
	}
	history := newSummer()
	forecast := newSummer()
	services := newSummer()
	regions := newSummer()
	unavailable := make(map[string]struct{})
	for i, r := range views {
		if !r.Ok() {
			a.logger.Warn("Account dashboard unavailable",
				zap.String("account_id", accountIDs[i]),
				zap.Error(r.Err))
			unavailable[accountIDs[i]] = struct{}{}
			continue
		}
		v := r.Value
		for _, p := range v.History {
			history.add(p.Period, p.Cost)
		}
		for _, p := range v.Forecast {
			forecast.add(p.Period, p.Cost)
		}
		for _, s := range v.ByService {
			services.add(s.Name, s.Cost)
		}
		for _, s := range v.ByRegion {
			regions.add(s.Name, s.Cost)
		}
		for _, dim := range v.Unavailable {
			unavailable[accountIDs[i]+":"+dim] = struct{}{}
		}
	}

	points := make([]Point, 0, len(history.order))
	for _, p := range history.byKey() {
		bp, err := shared.ParseBillingPeriod(p.Name)
		if err != nil {
			continue
		}
		points = append(points, Point{Period: bp, Cost: p.Cost})
	}
	merged.History = FlagAnomalies(points)
	for _, p := range forecast.byKey() {
		merged.Forecast = append(merged.Forecast, ForecastPoint{Period: p.Name, Cost: p.Cost})
	}
	merged.ByService = services.byCost()
	merged.ByRegion = regions.byCost()
	for k := range unavailable {
		merged.Unavailable = append(merged.Unavailable, k)
	}
	slices.Sort(merged.Unavailable)
	merged.summarize()

	if a.coordinator != nil && !merged.Degraded() {
		a.coordinator.Put(ctx, key, merged, a.dashboardTTL)
	}
	return merged, nil
}

// FlagAnomalies orders a series by period and marks every month whose cost
// exceeds the previous month by more than 20% on a baseline above 10.
func FlagAnomalies(points []Point) []HistoryPoint {
	sorted := slices.Clone(points)
	slices.SortStableFunc(sorted, func(x, y Point) int {
		switch {
		case x.Period.Before(y.Period):
			return -1
		case y.Period.Before(x.Period):
			return 1
		}
		return 0
	})

	out := make([]HistoryPoint, len(sorted))
	for i, p := range sorted {
		out[i] = HistoryPoint{Period: p.Period.String(), Cost: shared.RoundMoney(p.Cost)}
		if i == 0 {
			continue
		}
		prev := sorted[i-1].Cost
		out[i].Anomaly = prev.GreaterThan(anomalyFloor) && p.Cost.GreaterThan(prev.Mul(anomalyMultiplier))
	}
	return out
}

// significantGroups drops groups of a cent or less and sorts by cost, highest first.
func significantGroups(groups []Group) []NamedCost {
	out := make([]NamedCost, 0, len(groups))
	for _, g := range groups {
		if g.Key == "" || !g.Cost.GreaterThan(minGroupCost) {
			continue
		}
		out = append(out, NamedCost{Name: g.Key, Cost: shared.RoundMoney(g.Cost)})
	}
	slices.SortStableFunc(out, func(x, y NamedCost) int {
		if c := y.Cost.Cmp(x.Cost); c != 0 {
			return c
		}
		return strings.Compare(x.Name, y.Name)
	})
	return out
}

// summer accumulates costs by name, remembering first-seen order.
type summer struct {
	totals map[string]decimal.Decimal
	order  []string
}

func newSummer() *summer {
	return &summer{totals: make(map[string]decimal.Decimal)}
}

func (s *summer) add(name string, cost decimal.Decimal) {
	if _, ok := s.totals[name]; !ok {
		s.order = append(s.order, name)
	}
	s.totals[name] = s.totals[name].Add(cost)
}

func (s *summer) byKey() []NamedCost {
	keys := slices.Clone(s.order)
	slices.Sort(keys)
	out := make([]NamedCost, 0, len(keys))
	for _, k := range keys {
		out = append(out, NamedCost{Name: k, Cost: s.totals[k]})
	}
	return out
}

func (s *summer) byCost() []NamedCost {
	out := s.byKey()
	slices.SortStableFunc(out, func(x, y NamedCost) int {
		return y.Cost.Cmp(x.Cost)
	})
	return out
}

func providerError(dim string, err error) error {
	return fmt.Errorf("%s query: %w: %w", dim, shared.ErrProviderUnavailable, err)
}

// IsProviderUnavailable reports whether err came from a failed provider call.
func IsProviderUnavailable(err error) bool {
	return errors.Is(err, shared.ErrProviderUnavailable)
}

func uniqueSorted(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// accountsKey is a stable cache key segment for a set of accounts.
func accountsKey(ids []string) string {
	return strings.Join(uniqueSorted(ids), "+")
}
