package cost

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xammer/billops/internal/domain/shared"
	"github.com/xammer/billops/internal/infrastructure/cache"
)

type mockProvider struct {
	mock.Mock
}

func (m *mockProvider) Query(ctx context.Context, q Query) (Response, error) {
	args := m.Called(ctx, q)
	return args.Get(0).(Response), args.Error(1)
}

func (m *mockProvider) Forecast(ctx context.Context, accountIDs []string, from, to shared.BillingPeriod) ([]Point, error) {
	args := m.Called(ctx, accountIDs, from, to)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]Point), args.Error(1)
}

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func period(s string) shared.BillingPeriod {
	p, err := shared.ParseBillingPeriod(s)
	if err != nil {
		panic(err)
	}
	return p
}

func groupedBy(dim Dimension) any {
	return mock.MatchedBy(func(q Query) bool { return q.GroupBy == dim && q.Filter == (Filter{}) })
}

func ungrouped() any {
	return mock.MatchedBy(func(q Query) bool { return q.GroupBy == DimensionNone })
}

func history(costs ...string) []Point {
	start := period("2024-01")
	points := make([]Point, len(costs))
	for i, c := range costs {
		points[i] = Point{Period: start.AddMonths(i), Cost: d(c)}
	}
	return points
}

func TestDashboardView_IsolatesFailingDimension(t *testing.T) {
	p := new(mockProvider)
	p.On("Query", mock.Anything, ungrouped()).
		Return(Response{Points: history("100", "110", "90", "95", "200", "150")}, nil)
	p.On("Query", mock.Anything, groupedBy(DimensionService)).
		Return(Response{Groups: []Group{
			{Key: "Amazon EC2", Cost: d("120")},
			{Key: "Amazon S3", Cost: d("30")},
			{Key: "AWS KMS", Cost: d("0.004")},
		}}, nil)
	p.On("Query", mock.Anything, groupedBy(DimensionRegion)).
		Return(Response{Groups: []Group{{Key: "us-east-1", Cost: d("150")}}}, nil)
	p.On("Forecast", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(nil, errors.New("forecast throttled"))

	agg := NewAggregator(p, WithLogger(zaptest.NewLogger(t)))
	view, err := agg.DashboardView(context.Background(), "111122223333", period("2024-06"))
	require.NoError(t, err)

	require.Len(t, view.History, 6)
	assert.NotEmpty(t, view.ByService)
	assert.NotEmpty(t, view.ByRegion)
	assert.Empty(t, view.Forecast)
	assert.Equal(t, []string{DimForecast}, view.Unavailable)
	assert.True(t, view.Degraded())

	assert.True(t, view.MonthToDate.Equal(d("150")))
	assert.True(t, view.LastMonth.Equal(d("200")))
	assert.True(t, view.ForecastedSpend.IsZero())

	require.Len(t, view.ByService, 2, "groups of a cent or less are dropped")
	assert.Equal(t, "Amazon EC2", view.ByService[0].Name)
	assert.Equal(t, "Amazon S3", view.ByService[1].Name)
	p.AssertExpectations(t)
}

func TestDashboardView_HistoryQueriesSixMonths(t *testing.T) {
	p := new(mockProvider)
	p.On("Query", mock.Anything, mock.MatchedBy(func(q Query) bool {
		return q.GroupBy == DimensionNone && q.From == period("2024-01") && q.To == period("2024-06")
	})).Return(Response{Points: history("1")}, nil).Once()
	p.On("Query", mock.Anything, mock.Anything).Return(Response{}, nil)
	p.On("Forecast", mock.Anything, []string{"acct"}, period("2024-06"), period("2024-08")).
		Return([]Point{{Period: period("2024-06"), Cost: d("42.5")}}, nil)

	view, err := NewAggregator(p).DashboardView(context.Background(), "acct", period("2024-06"))
	require.NoError(t, err)
	assert.True(t, view.MonthToDate.Equal(d("1")))
	assert.True(t, view.LastMonth.IsZero())
	assert.True(t, view.ForecastedSpend.Equal(d("42.5")))
	assert.Empty(t, view.Unavailable)
	p.AssertExpectations(t)
}

func TestDashboardView_AllDimensionsFail(t *testing.T) {
	p := new(mockProvider)
	p.On("Query", mock.Anything, mock.Anything).Return(Response{}, errors.New("down"))
	p.On("Forecast", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil, errors.New("down"))

	view, err := NewAggregator(p).DashboardView(context.Background(), "acct", period("2024-06"))
	require.NoError(t, err)
	assert.Empty(t, view.History)
	assert.Empty(t, view.ByService)
	assert.True(t, view.MonthToDate.IsZero())
	assert.Equal(t, []string{DimForecast, DimHistory, DimRegions, DimServices}, view.Unavailable)
}

func TestDashboardView_RequiresAccount(t *testing.T) {
	_, err := NewAggregator(new(mockProvider)).DashboardView(context.Background(), " ", period("2024-06"))
	assert.ErrorIs(t, err, shared.ErrInvalidInput)
}

func TestFlagAnomalies(t *testing.T) {
	points := []Point{
		{Period: period("2024-03"), Cost: d("130")},
		{Period: period("2024-01"), Cost: d("5")},
		{Period: period("2024-02"), Cost: d("100")},
		{Period: period("2024-04"), Cost: d("150")},
		{Period: period("2024-05"), Cost: d("8")},
		{Period: period("2024-06"), Cost: d("20")},
	}

	got := FlagAnomalies(points)
	require.Len(t, got, 6)
	assert.Equal(t, "2024-01", got[0].Period)

	flags := make([]bool, len(got))
	for i, p := range got {
		flags[i] = p.Anomaly
	}
	// 5 -> 100 has a baseline below the floor; 100 -> 130 is over +20%;
	// 130 -> 150 is within +20%; 8 -> 20 has a baseline below the floor.
	assert.Equal(t, []bool{false, false, true, false, false, false}, flags)
}

func TestFlagAnomalies_ExactThresholdIsNotAnomalous(t *testing.T) {
	got := FlagAnomalies([]Point{
		{Period: period("2024-01"), Cost: d("100")},
		{Period: period("2024-02"), Cost: d("120")},
	})
	assert.False(t, got[1].Anomaly)
}

// concurrencyProvider records the peak number of in-flight calls.
type concurrencyProvider struct {
	inFlight atomic.Int32
	peak     atomic.Int32
	calls    atomic.Int32
	panicOn  Dimension
}

func (c *concurrencyProvider) enter() func() {
	n := c.inFlight.Add(1)
	for {
		p := c.peak.Load()
		if n <= p || c.peak.CompareAndSwap(p, n) {
			break
		}
	}
	c.calls.Add(1)
	time.Sleep(20 * time.Millisecond)
	return func() { c.inFlight.Add(-1) }
}

func (c *concurrencyProvider) Query(ctx context.Context, q Query) (Response, error) {
	defer c.enter()()
	if c.panicOn != DimensionNone && q.GroupBy == c.panicOn {
		panic("provider bug")
	}
	if q.GroupBy == DimensionNone {
		return Response{Points: history("10")}, nil
	}
	return Response{Groups: []Group{{Key: "x", Cost: d("1")}}}, nil
}

func (c *concurrencyProvider) Forecast(ctx context.Context, accountIDs []string, from, to shared.BillingPeriod) ([]Point, error) {
	defer c.enter()()
	return nil, nil
}

func TestDashboardView_PoolBound(t *testing.T) {
	p := &concurrencyProvider{}
	agg := NewAggregator(p, WithPoolSize(2))

	_, err := agg.DashboardView(context.Background(), "acct", period("2024-06"))
	require.NoError(t, err)
	assert.Equal(t, int32(4), p.calls.Load())
	assert.LessOrEqual(t, p.peak.Load(), int32(2))
}

func TestDashboardView_PanickingQueryIsIsolated(t *testing.T) {
	p := &concurrencyProvider{panicOn: DimensionRegion}
	view, err := NewAggregator(p).DashboardView(context.Background(), "acct", period("2024-06"))
	require.NoError(t, err)
	assert.Empty(t, view.ByRegion)
	assert.Len(t, view.ByService, 1)
	assert.Equal(t, []string{DimRegions}, view.Unavailable)
}

func TestDashboardView_CancelledCallerStillJoins(t *testing.T) {
	p := &concurrencyProvider{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	view, err := NewAggregator(p).DashboardView(ctx, "acct", period("2024-06"))
	require.NoError(t, err)
	assert.Len(t, view.History, 1)
	assert.Equal(t, int32(4), p.calls.Load())
}

func TestDashboardView_Cached(t *testing.T) {
	store := cache.NewMemoryStore()
	defer store.Close()
	coordinator := cache.NewCoordinator(store)

	p := &concurrencyProvider{}
	agg := NewAggregator(p, WithCache(coordinator, time.Hour, time.Hour))
	ctx := shared.WithScope(context.Background(), shared.Scope{})

	first, err := agg.DashboardView(ctx, "acct", period("2024-06"))
	require.NoError(t, err)
	second, err := agg.DashboardView(ctx, "acct", period("2024-06"))
	require.NoError(t, err)

	assert.Equal(t, int32(4), p.calls.Load(), "second view is served from cache")
	assert.Equal(t, first.Period, second.Period)
	assert.True(t, first.MonthToDate.Equal(second.MonthToDate))

	_, err = agg.DashboardView(WithRefresh(ctx), "acct", period("2024-06"))
	require.NoError(t, err)
	assert.Equal(t, int32(8), p.calls.Load(), "refresh bypasses cached reads")
}

func TestDashboardView_DegradedViewIsNotCached(t *testing.T) {
	store := cache.NewMemoryStore()
	defer store.Close()

	p := new(mockProvider)
	p.On("Query", mock.Anything, mock.Anything).Return(Response{Points: history("10")}, nil)
	p.On("Forecast", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(nil, errors.New("down")).Twice()

	agg := NewAggregator(p, WithCache(cache.NewCoordinator(store), time.Hour, time.Hour))
	for range 2 {
		view, err := agg.DashboardView(context.Background(), "acct", period("2024-06"))
		require.NoError(t, err)
		assert.True(t, view.Degraded())
	}
	p.AssertNumberOfCalls(t, "Forecast", 2)
}

func TestServiceInRegions(t *testing.T) {
	p := new(mockProvider)
	p.On("Query", mock.Anything, mock.MatchedBy(func(q Query) bool {
		return q.GroupBy == DimensionRegion && q.Filter.Service == "Amazon EC2"
	})).Return(Response{Groups: []Group{
		{Key: "us-west-2", Cost: d("5")},
		{Key: "us-east-1", Cost: d("50")},
		{Key: "eu-west-1", Cost: d("0.01")},
	}}, nil)

	regions, err := NewAggregator(p).ServiceInRegions(context.Background(), "acct", period("2024-06"), "Amazon EC2")
	require.NoError(t, err)
	require.Len(t, regions, 2)
	assert.Equal(t, "us-east-1", regions[0].Name)
	assert.Equal(t, "us-west-2", regions[1].Name)
}

func TestServiceInRegions_ProviderFailureIsEmpty(t *testing.T) {
	p := new(mockProvider)
	p.On("Query", mock.Anything, mock.Anything).Return(Response{}, errors.New("down"))

	regions, err := NewAggregator(p).ServiceInRegions(context.Background(), "acct", period("2024-06"), "Amazon EC2")
	require.NoError(t, err)
	assert.Empty(t, regions)
}

func TestResourceBreakdown_GlobalDoesNotFilterRegion(t *testing.T) {
	p := new(mockProvider)
	p.On("Query", mock.Anything, mock.MatchedBy(func(q Query) bool {
		return q.GroupBy == DimensionUsageType && q.Filter == Filter{Service: "Amazon S3"}
	})).Return(Response{Groups: []Group{
		{Key: "Requests-Tier1", Cost: d("1.5"), Quantity: d("300000"), Unit: "Requests"},
		{Key: "DataTransfer-Out-Bytes", Cost: d("3"), Quantity: d("33.3"), Unit: "GB"},
		{Key: "Free", Cost: d("0")},
	}}, nil)

	resources, err := NewAggregator(p).ResourceBreakdown(context.Background(), "acct", period("2024-06"), "Amazon S3", "Global")
	require.NoError(t, err)
	require.Len(t, resources, 2)
	assert.Equal(t, "DataTransfer-Out-Bytes", resources[0].ID)
	assert.Equal(t, "Data Transfer Out to Internet", resources[0].Name)
	assert.Equal(t, "S3 API Requests (Tier1)", resources[1].Name)
	assert.Equal(t, "Requests", resources[1].Unit)
}

func TestDetailedReport(t *testing.T) {
	p := new(mockProvider)
	p.On("Query", mock.Anything, groupedBy(DimensionService)).Return(Response{Groups: []Group{
		{Key: "Amazon EC2", Cost: d("60")},
		{Key: "Amazon Route 53", Cost: d("2")},
	}}, nil)
	p.On("Query", mock.Anything, mock.MatchedBy(func(q Query) bool {
		return q.GroupBy == DimensionRegion && q.Filter.Service == "Amazon EC2"
	})).Return(Response{Groups: []Group{{Key: "us-east-1", Cost: d("60")}}}, nil)
	p.On("Query", mock.Anything, mock.MatchedBy(func(q Query) bool {
		return q.GroupBy == DimensionRegion && q.Filter.Service == "Amazon Route 53"
	})).Return(Response{}, nil)
	p.On("Query", mock.Anything, mock.MatchedBy(func(q Query) bool {
		return q.GroupBy == DimensionUsageType && q.Filter == Filter{Service: "Amazon EC2", Region: "us-east-1"}
	})).Return(Response{Groups: []Group{{Key: "BoxUsage:t3.micro", Cost: d("60"), Quantity: d("720"), Unit: "Hrs"}}}, nil)
	p.On("Query", mock.Anything, mock.MatchedBy(func(q Query) bool {
		return q.GroupBy == DimensionUsageType && q.Filter == Filter{Service: "Amazon Route 53"}
	})).Return(Response{Groups: []Group{{Key: "HostedZone", Cost: d("2"), Quantity: d("4"), Unit: "Count"}}}, nil)

	report, err := NewAggregator(p).DetailedReport(context.Background(), []string{"acct"}, period("2024-06"))
	require.NoError(t, err)
	require.Len(t, report, 2)

	assert.Equal(t, "Amazon EC2", report[0].ServiceName)
	require.Len(t, report[0].Regions, 1)
	assert.Equal(t, "us-east-1", report[0].Regions[0].RegionName)
	require.Len(t, report[0].Regions[0].Resources, 1)
	assert.Equal(t, "BoxUsage:t3.micro", report[0].Regions[0].Resources[0].ID)

	assert.Equal(t, "Amazon Route 53", report[1].ServiceName)
	require.Len(t, report[1].Regions, 1)
	assert.Equal(t, "Global", report[1].Regions[0].RegionName)
	assert.True(t, report[1].Regions[0].Cost.Equal(d("2")))
}

func TestDetailedReport_FailsWhenAServiceFails(t *testing.T) {
	p := new(mockProvider)
	p.On("Query", mock.Anything, groupedBy(DimensionService)).
		Return(Response{Groups: []Group{{Key: "Amazon EC2", Cost: d("60")}}}, nil)
	p.On("Query", mock.Anything, mock.Anything).Return(Response{}, errors.New("throttled"))

	_, err := NewAggregator(p).DetailedReport(context.Background(), []string{"acct"}, period("2024-06"))
	require.Error(t, err)
	assert.True(t, IsProviderUnavailable(err))
}

// accountProvider returns fixed per-account data.
type accountProvider struct {
	mu   sync.Mutex
	data map[string][]string // account -> history costs
}

func (a *accountProvider) Query(ctx context.Context, q Query) (Response, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	acct := q.AccountIDs[0]
	costs, ok := a.data[acct]
	if !ok {
		return Response{}, errors.New("unknown account")
	}
	switch q.GroupBy {
	case DimensionNone:
		return Response{Points: history(costs...)}, nil
	case DimensionService:
		return Response{Groups: []Group{{Key: "Amazon EC2", Cost: d(costs[len(costs)-1])}, {Key: acct + "-only", Cost: d("1")}}}, nil
	default:
		return Response{Groups: []Group{{Key: "us-east-1", Cost: d(costs[len(costs)-1])}}}, nil
	}
}

func (a *accountProvider) Forecast(ctx context.Context, accountIDs []string, from, to shared.BillingPeriod) ([]Point, error) {
	return []Point{{Period: from, Cost: d("10")}}, nil
}

func TestClientDashboard_MergesAccounts(t *testing.T) {
	p := &accountProvider{data: map[string][]string{
		"a": {"10", "20"},
		"b": {"5", "15"},
	}}

	view, err := NewAggregator(p).ClientDashboard(context.Background(), []string{"b", "a", "a"}, period("2024-02"))
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b"}, view.AccountIDs)
	require.Len(t, view.History, 2)
	assert.True(t, view.History[0].Cost.Equal(d("15")))
	assert.True(t, view.History[1].Cost.Equal(d("35")))
	assert.True(t, view.MonthToDate.Equal(d("35")))
	assert.True(t, view.LastMonth.Equal(d("15")))
	assert.True(t, view.ForecastedSpend.Equal(d("20")))

	require.Len(t, view.ByService, 3)
	assert.Equal(t, "Amazon EC2", view.ByService[0].Name)
	assert.True(t, view.ByService[0].Cost.Equal(d("35")))
	assert.Empty(t, view.Unavailable)
}

func TestClientDashboard_RequiresAccounts(t *testing.T) {
	_, err := NewAggregator(&accountProvider{}).ClientDashboard(context.Background(), []string{" "}, period("2024-02"))
	assert.ErrorIs(t, err, shared.ErrInvalidInput)
}
