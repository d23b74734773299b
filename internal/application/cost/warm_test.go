package cost

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xammer/billops/internal/domain/shared"
	"github.com/xammer/billops/internal/infrastructure/cache"
)

func TestDashboardWarmTask_ServesLaterReads(t *testing.T) {
	store := cache.NewMemoryStore()
	defer store.Close()
	coordinator := cache.NewCoordinator(store, cache.WithCoordinatorLogger(zaptest.NewLogger(t)))
	p := &concurrencyProvider{}
	agg := NewAggregator(p, WithCache(coordinator, time.Hour, time.Hour))
	tenant := uuid.New()

	summary := coordinator.Warm(context.Background(), []cache.WarmTask{
		agg.DashboardWarmTask(tenant, "acct", period("2024-06")),
	})
	assert.Equal(t, 1, summary.Succeeded)
	assert.Equal(t, int32(4), p.calls.Load())

	ctx := shared.WithScope(context.Background(), shared.Scope{TenantID: tenant})
	view, err := agg.DashboardView(ctx, "acct", period("2024-06"))
	require.NoError(t, err)
	assert.Len(t, view.History, 1)
	assert.Equal(t, int32(4), p.calls.Load(), "warmed view is read from cache")
}

func TestDashboardWarmTask_DegradedIsAFailure(t *testing.T) {
	store := cache.NewMemoryStore()
	defer store.Close()
	coordinator := cache.NewCoordinator(store)

	p := new(mockProvider)
	p.On("Query", mock.Anything, mock.Anything).Return(Response{Points: history("10")}, nil)
	p.On("Forecast", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil, errors.New("down"))
	agg := NewAggregator(p, WithCache(coordinator, time.Hour, time.Hour))
	tenant := uuid.New()

	task := agg.DashboardWarmTask(tenant, "acct", period("2024-06"))
	_, err := task.Compute(context.Background())
	assert.ErrorIs(t, err, ErrDegradedView)

	summary := coordinator.Warm(context.Background(), []cache.WarmTask{task})
	assert.Equal(t, 1, summary.Failed)
	_, ok, err := store.Get(context.Background(), cache.DashboardKey(tenant, "acct", "2024-06"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDimensionWarmTasks(t *testing.T) {
	store := cache.NewMemoryStore()
	defer store.Close()
	coordinator := cache.NewCoordinator(store)
	agg := NewAggregator(&concurrencyProvider{}, WithCache(coordinator, time.Hour, time.Hour))
	tenant := uuid.New()

	tasks := agg.DimensionWarmTasks(tenant, "acct", period("2024-06"))
	require.Len(t, tasks, 3)
	summary := coordinator.Warm(context.Background(), tasks)
	assert.Equal(t, 3, summary.Succeeded)

	for _, dim := range []string{DimHistory, "region", "detailed"} {
		_, ok, err := store.Get(context.Background(), cache.CostKey(tenant, "acct", dim, "2024-06"))
		require.NoError(t, err)
		assert.True(t, ok, dim)
	}
}

func TestClientWarmTask(t *testing.T) {
	store := cache.NewMemoryStore()
	defer store.Close()
	coordinator := cache.NewCoordinator(store)
	agg := NewAggregator(&concurrencyProvider{}, WithCache(coordinator, time.Hour, time.Hour))
	tenant := uuid.New()

	task := agg.ClientWarmTask(tenant, []string{"b", "a"}, period("2024-06"))
	assert.Equal(t, cache.ClientDashboardKey(tenant, "a+b", "2024-06"), task.Key)

	summary := coordinator.Warm(context.Background(), []cache.WarmTask{task})
	assert.Equal(t, 1, summary.Succeeded)
	_, ok, err := store.Get(context.Background(), task.Key)
	require.NoError(t, err)
	assert.True(t, ok)
}
