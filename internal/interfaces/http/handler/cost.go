package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/xammer/billops/internal/application/cost"
	"github.com/xammer/billops/internal/domain/shared"
	"github.com/xammer/billops/internal/interfaces/http/middleware"
)

// CostService is the cost explorer surface the handler needs.
type CostService interface {
	DashboardView(ctx context.Context, accountID string, period shared.BillingPeriod) (*cost.DashboardView, error)
	ServiceInRegions(ctx context.Context, accountID string, period shared.BillingPeriod, service string) ([]cost.NamedCost, error)
	ResourceBreakdown(ctx context.Context, accountID string, period shared.BillingPeriod, service, region string) ([]cost.ResourceCost, error)
	DetailedReport(ctx context.Context, accountIDs []string, period shared.BillingPeriod) ([]cost.ServiceDetail, error)
	ClientDashboard(ctx context.Context, accountIDs []string, period shared.BillingPeriod) (*cost.DashboardView, error)
}

// CostHandler serves dashboards and cost breakdowns
type CostHandler struct {
	BaseHandler
	service CostService
}

// NewCostHandler creates a new CostHandler
func NewCostHandler(service CostService) *CostHandler {
	return &CostHandler{service: service}
}

// RegisterRoutes implements router.RouteRegistrar
func (h *CostHandler) RegisterRoutes(rg *gin.RouterGroup) {
	account := rg.Group("/accounts/:account", middleware.AccountAccess("account"))
	account.GET("/dashboard", h.Dashboard)
	account.GET("/services/:service/regions", h.ServiceRegions)
	account.GET("/services/:service/regions/:region/resources", h.Resources)

	rg.GET("/dashboards/client", h.ClientDashboard)
	rg.GET("/reports/detailed", h.DetailedReport)
}

// Dashboard handles GET /accounts/:account/dashboard?period=&refresh=
func (h *CostHandler) Dashboard(c *gin.Context) {
	period, ok := h.periodQuery(c)
	if !ok {
		return
	}
	view, err := h.service.DashboardView(h.context(c), c.Param("account"), period)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, view)
}

// ServiceRegions handles GET /accounts/:account/services/:service/regions
func (h *CostHandler) ServiceRegions(c *gin.Context) {
	period, ok := h.periodQuery(c)
	if !ok {
		return
	}
	regions, err := h.service.ServiceInRegions(h.context(c), c.Param("account"), period, c.Param("service"))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, regions)
}

// Resources handles GET /accounts/:account/services/:service/regions/:region/resources
func (h *CostHandler) Resources(c *gin.Context) {
	period, ok := h.periodQuery(c)
	if !ok {
		return
	}
	resources, err := h.service.ResourceBreakdown(h.context(c), c.Param("account"), period, c.Param("service"), c.Param("region"))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, resources)
}

// ClientDashboard handles GET /dashboards/client?accounts=a,b&period=
func (h *CostHandler) ClientDashboard(c *gin.Context) {
	accounts, ok := h.accountsQuery(c)
	if !ok {
		return
	}
	period, ok := h.periodQuery(c)
	if !ok {
		return
	}
	view, err := h.service.ClientDashboard(h.context(c), accounts, period)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, view)
}

// DetailedReport handles GET /reports/detailed?accounts=a,b&period=
func (h *CostHandler) DetailedReport(c *gin.Context) {
	accounts, ok := h.accountsQuery(c)
	if !ok {
		return
	}
	period, ok := h.periodQuery(c)
	if !ok {
		return
	}
	report, err := h.service.DetailedReport(h.context(c), accounts, period)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, report)
}

// context honours ?refresh=true for administrators, recomputing the view
// instead of serving it from cache.
func (h *CostHandler) context(c *gin.Context) context.Context {
	ctx := c.Request.Context()
	if c.Query("refresh") != "true" {
		return ctx
	}
	if scope, ok := shared.ScopeFromContext(ctx); ok && scope.Admin {
		return cost.WithRefresh(ctx)
	}
	return ctx
}

// accountsQuery reads ?accounts=a,b. Every account must be in scope.
func (h *CostHandler) accountsQuery(c *gin.Context) ([]string, bool) {
	var accounts []string
	for _, a := range strings.Split(c.Query("accounts"), ",") {
		if a = strings.TrimSpace(a); a != "" {
			accounts = append(accounts, a)
		}
	}
	if len(accounts) == 0 {
		h.Error(c, http.StatusBadRequest, shared.CodeInvalidInput, "accounts is required")
		return nil, false
	}
	if scope, ok := shared.ScopeFromContext(c.Request.Context()); ok {
		for _, a := range accounts {
			if !scope.CanAccess(a) {
				h.Error(c, http.StatusNotFound, shared.CodeNotFound, "Account not found")
				return nil, false
			}
		}
	}
	return accounts, true
}
