// Package warmup recomputes hot cache entries ahead of the working day.
package warmup

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xammer/billops/internal/domain/shared"
	"github.com/xammer/billops/internal/domain/usage"
	"github.com/xammer/billops/internal/infrastructure/cache"
	"github.com/xammer/billops/internal/infrastructure/config"
	"github.com/xammer/billops/internal/infrastructure/scheduler"
	"github.com/xammer/billops/internal/infrastructure/telemetry"
)

// Slot names, in the order they run during the night.
const (
	SlotDashboards     = "dashboards"
	SlotCostDimensions = "cost-dimensions"
	SlotInvoiceLists   = "invoice-lists"
	SlotStatusLists    = "status-lists"
)

// AccountSource lists the accounts to warm per tenant.
type AccountSource interface {
	Accounts(ctx context.Context) ([]usage.TenantAccounts, error)
}

// CostWarmer builds warm tasks for cost views.
type CostWarmer interface {
	DashboardWarmTask(tenantID uuid.UUID, accountID string, period shared.BillingPeriod) cache.WarmTask
	ClientWarmTask(tenantID uuid.UUID, accountIDs []string, period shared.BillingPeriod) cache.WarmTask
	DimensionWarmTasks(tenantID uuid.UUID, accountID string, period shared.BillingPeriod) []cache.WarmTask
}

// InvoiceWarmer builds warm tasks for the invoice lists of the tenant in ctx.
type InvoiceWarmer interface {
	AdminWarmTasks(ctx context.Context) []cache.WarmTask
	StatusWarmTasks(ctx context.Context) []cache.WarmTask
}

// Warmer runs warm tasks.
type Warmer interface {
	Warm(ctx context.Context, tasks []cache.WarmTask) cache.WarmSummary
}

// Service turns a slot name into warm tasks and runs them.
type Service struct {
	accounts AccountSource
	costs    CostWarmer
	invoices InvoiceWarmer
	warmer   Warmer
	logger   *zap.Logger
	now      func() time.Time
}

// NewService creates a warm-up service
func NewService(accounts AccountSource, costs CostWarmer, invoices InvoiceWarmer, warmer Warmer, logger *zap.Logger) *Service {
	return &Service{
		accounts: accounts,
		costs:    costs,
		invoices: invoices,
		warmer:   warmer,
		logger:   logger,
		now:      time.Now,
	}
}

// RunSlot warms every entry of the slot for the current billing period.
// Individual task failures are logged and counted; only a failure to list
// the tasks is returned.
func (s *Service) RunSlot(ctx context.Context, slot string) (cache.WarmSummary, error) {
	tasks, err := s.Tasks(ctx, slot)
	if err != nil {
		return cache.WarmSummary{}, err
	}

	s.logger.Info("Running warm-up slot", zap.String("slot", slot), zap.Int("tasks", len(tasks)))
	summary := s.warmer.Warm(ctx, tasks)
	telemetry.Metrics().WarmTasks(ctx, slot, summary.Succeeded, summary.Failed)
	return summary, nil
}

// Tasks lists the warm tasks of a slot.
func (s *Service) Tasks(ctx context.Context, slot string) ([]cache.WarmTask, error) {
	period := shared.PeriodOf(s.now())

	tenants, err := s.accounts.Accounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("list accounts for warm-up: %w", err)
	}

	var tasks []cache.WarmTask
	switch slot {
	case SlotDashboards:
		for _, t := range tenants {
			for _, id := range t.AccountIDs {
				tasks = append(tasks, s.costs.DashboardWarmTask(t.TenantID, id, period))
			}
		}
	case SlotCostDimensions:
		for _, t := range tenants {
			for _, id := range t.AccountIDs {
				tasks = append(tasks, s.costs.DimensionWarmTasks(t.TenantID, id, period)...)
			}
			if len(t.AccountIDs) > 1 {
				tasks = append(tasks, s.costs.ClientWarmTask(t.TenantID, t.AccountIDs, period))
			}
		}
	case SlotInvoiceLists:
		for _, id := range invoiceTenants(tenants) {
			tasks = append(tasks, s.invoices.AdminWarmTasks(tenantContext(ctx, id))...)
		}
	case SlotStatusLists:
		for _, id := range invoiceTenants(tenants) {
			tasks = append(tasks, s.invoices.StatusWarmTasks(tenantContext(ctx, id))...)
		}
	default:
		return nil, fmt.Errorf("%w: %s", scheduler.ErrUnknownSlot, slot)
	}
	return tasks, nil
}

// Slots binds each configured schedule to its slot.
func (s *Service) Slots(cfg config.SchedulerConfig) ([]scheduler.Slot, error) {
	schedules := []struct {
		name string
		expr string
	}{
		{SlotDashboards, cfg.DashboardSchedule},
		{SlotCostDimensions, cfg.CostSchedule},
		{SlotInvoiceLists, cfg.InvoiceSchedule},
		{SlotStatusLists, cfg.StatusSchedule},
	}

	slots := make([]scheduler.Slot, 0, len(schedules))
	for _, sc := range schedules {
		schedule, err := scheduler.ParseDailySchedule(sc.expr)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", sc.name, err)
		}
		slots = append(slots, scheduler.Slot{
			Name:     sc.name,
			Schedule: schedule,
			Run: func(ctx context.Context) error {
				_, err := s.RunSlot(ctx, sc.name)
				return err
			},
		})
	}
	return slots, nil
}

// invoiceTenants returns the tenants with usage plus the default tenant,
// which owns invoices in single-tenant deployments.
func invoiceTenants(tenants []usage.TenantAccounts) []uuid.UUID {
	ids := []uuid.UUID{shared.DefaultTenantID}
	for _, t := range tenants {
		if !slices.Contains(ids, t.TenantID) {
			ids = append(ids, t.TenantID)
		}
	}
	return ids
}

func tenantContext(ctx context.Context, tenantID uuid.UUID) context.Context {
	return shared.WithScope(ctx, shared.Scope{TenantID: tenantID, Subject: "warmup", Admin: true})
}
