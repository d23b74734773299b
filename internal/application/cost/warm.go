package cost

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/xammer/billops/internal/domain/shared"
	"github.com/xammer/billops/internal/infrastructure/cache"
)

// ErrDegradedView is returned by a warm task whose view lost a dimension.
// Such a view is not stored, so the next read recomputes it.
var ErrDegradedView = errors.New("cost view degraded")

// warmContext scopes ctx to the tenant and forces cached lookups to refresh.
func warmContext(ctx context.Context, tenantID uuid.UUID) context.Context {
	return WithRefresh(shared.WithScope(ctx, shared.Scope{
		TenantID: tenantID,
		Subject:  "warmup",
		Admin:    true,
	}))
}

// DashboardWarmTask recomputes the dashboard of one account.
func (a *Aggregator) DashboardWarmTask(tenantID uuid.UUID, accountID string, period shared.BillingPeriod) cache.WarmTask {
	return cache.WarmTask{
		Key:    cache.DashboardKey(tenantID, accountID, period.String()),
		TTL:    a.dashboardTTL,
		Stored: true,
		Compute: func(ctx context.Context) (any, error) {
			view, err := a.DashboardView(warmContext(ctx, tenantID), accountID, period)
			if err != nil {
				return nil, err
			}
			return notDegraded(view)
		},
	}
}

// ClientWarmTask recomputes the merged dashboard of a set of accounts.
func (a *Aggregator) ClientWarmTask(tenantID uuid.UUID, accountIDs []string, period shared.BillingPeriod) cache.WarmTask {
	return cache.WarmTask{
		Key:    cache.ClientDashboardKey(tenantID, accountsKey(accountIDs), period.String()),
		TTL:    a.dashboardTTL,
		Stored: true,
		Compute: func(ctx context.Context) (any, error) {
			view, err := a.ClientDashboard(warmContext(ctx, tenantID), accountIDs, period)
			if err != nil {
				return nil, err
			}
			return notDegraded(view)
		},
	}
}

// DimensionWarmTasks recomputes the per-dimension entries of one account:
// history, region totals and the detailed report, which in turn refreshes
// the service, region and resource breakdowns it is built from.
func (a *Aggregator) DimensionWarmTasks(tenantID uuid.UUID, accountID string, period shared.BillingPeriod) []cache.WarmTask {
	ids := []string{accountID}
	key := func(dim string) string {
		return cache.CostKey(tenantID, accountsKey(ids), dim, period.String())
	}
	task := func(dim string, fn func(ctx context.Context) (any, error)) cache.WarmTask {
		return cache.WarmTask{
			Key:    key(dim),
			TTL:    a.dimensionTTL,
			Stored: true,
			Compute: func(ctx context.Context) (any, error) {
				return fn(warmContext(ctx, tenantID))
			},
		}
	}

	return []cache.WarmTask{
		task(DimHistory, func(ctx context.Context) (any, error) {
			return a.history(ctx, tenantID, ids, period)
		}),
		task(strings.ToLower(string(DimensionRegion)), func(ctx context.Context) (any, error) {
			return a.grouped(ctx, tenantID, ids, period, DimensionRegion, Filter{})
		}),
		task(dimDetailed, func(ctx context.Context) (any, error) {
			return a.DetailedReport(ctx, ids, period)
		}),
	}
}

func notDegraded(view *DashboardView) (any, error) {
	if view.Degraded() {
		return nil, fmt.Errorf("%w: %s", ErrDegradedView, strings.Join(view.Unavailable, ","))
	}
	return view, nil
}
