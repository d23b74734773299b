package handler

import (
	"context"
	"errors"
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/xammer/billops/internal/domain/shared"
	"github.com/xammer/billops/internal/infrastructure/persistence"
	"github.com/xammer/billops/internal/infrastructure/scheduler"
	"github.com/xammer/billops/internal/interfaces/http/dto"
	"github.com/xammer/billops/internal/interfaces/http/middleware"
)

// DatabaseProbe reports database reachability and pool usage.
type DatabaseProbe interface {
	Ping() error
	Stats() (persistence.ConnectionStats, error)
}

// CacheProbe reports cache reachability.
type CacheProbe interface {
	Ping(ctx context.Context) error
}

// SlotTrigger runs warm-up slots on demand.
type SlotTrigger interface {
	TriggerNow(name string) (*scheduler.Job, error)
	SlotNames() []string
}

// HealthResponse is the body of GET /health
type HealthResponse struct {
	Status    string                       `json:"status"`
	Database  string                       `json:"database"`
	Cache     string                       `json:"cache,omitempty"`
	Pool      *persistence.ConnectionStats `json:"pool,omitempty"`
	GoVersion string                       `json:"goVersion"`
	Uptime    string                       `json:"uptime"`
}

// WarmupJobResponse acknowledges a manually triggered slot.
type WarmupJobResponse struct {
	JobID uuid.UUID `json:"jobId"`
	Slot  string    `json:"slot"`
}

// SystemHandler serves health checks and operator actions
type SystemHandler struct {
	BaseHandler
	db        DatabaseProbe
	cache     CacheProbe
	trigger   SlotTrigger
	startTime time.Time
}

// NewSystemHandler creates a new SystemHandler. cache and trigger may be nil.
func NewSystemHandler(db DatabaseProbe, cache CacheProbe, trigger SlotTrigger) *SystemHandler {
	return &SystemHandler{
		db:        db,
		cache:     cache,
		trigger:   trigger,
		startTime: time.Now(),
	}
}

// RegisterRoutes implements router.RouteRegistrar
func (h *SystemHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/health", h.Health)

	admin := rg.Group("/admin/warmup", middleware.RequireAdmin())
	admin.GET("", h.WarmupSlots)
	admin.POST("/:slot", h.TriggerWarmup)
}

// Health handles GET /health. An unreachable database makes the service
// unhealthy; an unreachable cache only degrades it.
func (h *SystemHandler) Health(c *gin.Context) {
	resp := HealthResponse{
		Status:    "ok",
		Database:  "ok",
		GoVersion: runtime.Version(),
		Uptime:    time.Since(h.startTime).Round(time.Second).String(),
	}

	if err := h.db.Ping(); err != nil {
		resp.Status, resp.Database = "unavailable", err.Error()
	} else if stats, err := h.db.Stats(); err == nil {
		resp.Pool = &stats
	}
	if h.cache != nil {
		resp.Cache = "ok"
		if err := h.cache.Ping(c.Request.Context()); err != nil {
			resp.Cache = err.Error()
			if resp.Status == "ok" {
				resp.Status = "degraded"
			}
		}
	}

	status := http.StatusOK
	if resp.Status == "unavailable" {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, dto.NewSuccessResponse(resp))
}

// WarmupSlots handles GET /admin/warmup
func (h *SystemHandler) WarmupSlots(c *gin.Context) {
	if h.trigger == nil {
		h.Success(c, []string{})
		return
	}
	h.Success(c, h.trigger.SlotNames())
}

// TriggerWarmup handles POST /admin/warmup/:slot
func (h *SystemHandler) TriggerWarmup(c *gin.Context) {
	if h.trigger == nil {
		h.Error(c, http.StatusServiceUnavailable, dto.ErrCodeInternal, "Warm-up scheduler is disabled")
		return
	}
	job, err := h.trigger.TriggerNow(c.Param("slot"))
	switch {
	case errors.Is(err, scheduler.ErrUnknownSlot):
		h.Error(c, http.StatusNotFound, shared.CodeNotFound, "Unknown warm-up slot")
	case err != nil:
		h.Error(c, http.StatusServiceUnavailable, dto.ErrCodeInternal, err.Error())
	default:
		c.JSON(http.StatusAccepted, dto.NewSuccessResponse(WarmupJobResponse{JobID: job.ID, Slot: job.Name}))
	}
}
