package handler

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	appinvoice "github.com/xammer/billops/internal/application/invoice"
	"github.com/xammer/billops/internal/interfaces/http/middleware"
)

// InvoiceService is the invoice use-case surface the handler needs.
type InvoiceService interface {
	BuildDraft(ctx context.Context, req appinvoice.BuildDraftRequest) (*appinvoice.InvoiceResponse, error)
	PreviewDraft(ctx context.Context, req appinvoice.BuildDraftRequest) (*appinvoice.InvoiceResponse, error)
	ApplyDiscount(ctx context.Context, id uuid.UUID, req appinvoice.ApplyDiscountRequest) (*appinvoice.InvoiceResponse, error)
	RemoveDiscount(ctx context.Context, id, discountID uuid.UUID) (*appinvoice.InvoiceResponse, error)
	UpdateLineItems(ctx context.Context, id uuid.UUID, req appinvoice.UpdateLineItemsRequest) (*appinvoice.InvoiceResponse, error)
	Finalize(ctx context.Context, id uuid.UUID) (*appinvoice.InvoiceResponse, error)
	RepriceAndFinalize(ctx context.Context, id uuid.UUID, req appinvoice.RepriceRequest) (*appinvoice.InvoiceResponse, error)
	MergeDrafts(ctx context.Context, req appinvoice.MergeRequest) (*appinvoice.InvoiceResponse, error)
	GetForAdmin(ctx context.Context, id uuid.UUID) (*appinvoice.InvoiceResponse, error)
	GetForAccount(ctx context.Context, accountID, period string) (*appinvoice.InvoiceResponse, error)
	ListAll(ctx context.Context) ([]appinvoice.InvoiceSummaryResponse, error)
	ListByStatus(ctx context.Context, status string) ([]appinvoice.InvoiceSummaryResponse, error)
}

// InvoiceHandler serves invoice drafting and lookup
type InvoiceHandler struct {
	BaseHandler
	service InvoiceService
}

// NewInvoiceHandler creates a new InvoiceHandler
func NewInvoiceHandler(service InvoiceService) *InvoiceHandler {
	return &InvoiceHandler{service: service}
}

// RegisterRoutes implements router.RouteRegistrar. Drafting and lists are
// administrative; account users only read their finalized invoices.
func (h *InvoiceHandler) RegisterRoutes(rg *gin.RouterGroup) {
	admin := rg.Group("/invoices", middleware.RequireAdmin())
	admin.POST("/draft", h.BuildDraft)
	admin.POST("/preview", h.PreviewDraft)
	admin.POST("/merge", h.Merge)
	admin.GET("", h.List)
	admin.GET("/:id", h.Get)
	admin.POST("/:id/discounts", h.ApplyDiscount)
	admin.DELETE("/:id/discounts/:discountId", h.RemoveDiscount)
	admin.PUT("/:id/line-items", h.UpdateLineItems)
	admin.POST("/:id/finalize", h.Finalize)
	admin.POST("/:id/reprice", h.Reprice)

	rg.GET("/accounts/:account/invoices/:period", middleware.AccountAccess("account"), h.GetForAccount)
}

// BuildDraft handles POST /invoices/draft
func (h *InvoiceHandler) BuildDraft(c *gin.Context) {
	var req appinvoice.BuildDraftRequest
	if !h.BindJSON(c, &req) {
		return
	}
	inv, err := h.service.BuildDraft(c.Request.Context(), req)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Created(c, inv)
}

// PreviewDraft handles POST /invoices/preview
func (h *InvoiceHandler) PreviewDraft(c *gin.Context) {
	var req appinvoice.BuildDraftRequest
	if !h.BindJSON(c, &req) {
		return
	}
	inv, err := h.service.PreviewDraft(c.Request.Context(), req)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, inv)
}

// List handles GET /invoices?status=
func (h *InvoiceHandler) List(c *gin.Context) {
	var (
		list []appinvoice.InvoiceSummaryResponse
		err  error
	)
	if status := strings.TrimSpace(c.Query("status")); status != "" {
		list, err = h.service.ListByStatus(c.Request.Context(), status)
	} else {
		list, err = h.service.ListAll(c.Request.Context())
	}
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, list)
}

// Get handles GET /invoices/:id
func (h *InvoiceHandler) Get(c *gin.Context) {
	id, ok := h.uuidParam(c, "id")
	if !ok {
		return
	}
	inv, err := h.service.GetForAdmin(c.Request.Context(), id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, inv)
}

// GetForAccount handles GET /accounts/:account/invoices/:period
func (h *InvoiceHandler) GetForAccount(c *gin.Context) {
	inv, err := h.service.GetForAccount(c.Request.Context(), c.Param("account"), c.Param("period"))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, inv)
}

// ApplyDiscount handles POST /invoices/:id/discounts
func (h *InvoiceHandler) ApplyDiscount(c *gin.Context) {
	id, ok := h.uuidParam(c, "id")
	if !ok {
		return
	}
	var req appinvoice.ApplyDiscountRequest
	if !h.BindJSON(c, &req) {
		return
	}
	inv, err := h.service.ApplyDiscount(c.Request.Context(), id, req)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, inv)
}

// RemoveDiscount handles DELETE /invoices/:id/discounts/:discountId
func (h *InvoiceHandler) RemoveDiscount(c *gin.Context) {
	id, ok := h.uuidParam(c, "id")
	if !ok {
		return
	}
	discountID, ok := h.uuidParam(c, "discountId")
	if !ok {
		return
	}
	inv, err := h.service.RemoveDiscount(c.Request.Context(), id, discountID)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, inv)
}

// UpdateLineItems handles PUT /invoices/:id/line-items
func (h *InvoiceHandler) UpdateLineItems(c *gin.Context) {
	id, ok := h.uuidParam(c, "id")
	if !ok {
		return
	}
	var req appinvoice.UpdateLineItemsRequest
	if !h.BindJSON(c, &req) {
		return
	}
	inv, err := h.service.UpdateLineItems(c.Request.Context(), id, req)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, inv)
}

// Finalize handles POST /invoices/:id/finalize
func (h *InvoiceHandler) Finalize(c *gin.Context) {
	id, ok := h.uuidParam(c, "id")
	if !ok {
		return
	}
	inv, err := h.service.Finalize(c.Request.Context(), id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, inv)
}

// Reprice handles POST /invoices/:id/reprice
func (h *InvoiceHandler) Reprice(c *gin.Context) {
	id, ok := h.uuidParam(c, "id")
	if !ok {
		return
	}
	var req appinvoice.RepriceRequest
	if !h.BindJSON(c, &req) {
		return
	}
	inv, err := h.service.RepriceAndFinalize(c.Request.Context(), id, req)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, inv)
}

// Merge handles POST /invoices/merge
func (h *InvoiceHandler) Merge(c *gin.Context) {
	var req appinvoice.MergeRequest
	if !h.BindJSON(c, &req) {
		return
	}
	inv, err := h.service.MergeDrafts(c.Request.Context(), req)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, inv)
}
