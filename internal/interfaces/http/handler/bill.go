package handler

import (
	"context"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/xammer/billops/internal/application/billimport"
	"github.com/xammer/billops/internal/domain/shared"
	"github.com/xammer/billops/internal/interfaces/http/middleware"
)

// BillImporter is the bill upload surface the handler needs.
type BillImporter interface {
	Import(ctx context.Context, req billimport.ImportRequest) (*billimport.ImportResult, error)
	ImportAsInvoice(ctx context.Context, req billimport.ImportRequest) (*billimport.ImportResult, error)
	DownloadURL(ctx context.Context, key string) (*billimport.DownloadLink, error)
}

// BillHandler serves bill uploads and downloads
type BillHandler struct {
	BaseHandler
	service BillImporter
}

// NewBillHandler creates a new BillHandler
func NewBillHandler(service BillImporter) *BillHandler {
	return &BillHandler{service: service}
}

// RegisterRoutes implements router.RouteRegistrar
func (h *BillHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/accounts/:account/bills", middleware.AccountAccess("account"), h.Upload)
	rg.GET("/bills/url", h.DownloadURL)
}

// Upload handles POST /accounts/:account/bills. The multipart form carries
// file, period, optional serviceName and asInvoice.
func (h *BillHandler) Upload(c *gin.Context) {
	header, err := c.FormFile("file")
	if err != nil {
		h.Error(c, http.StatusBadRequest, shared.CodeInvalidInput, "file is required")
		return
	}
	period, err := shared.ParseBillingPeriod(c.PostForm("period"))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	asInvoice := false
	if v := c.PostForm("asInvoice"); v != "" {
		if asInvoice, err = strconv.ParseBool(v); err != nil {
			h.Error(c, http.StatusBadRequest, shared.CodeInvalidInput, "asInvoice must be a boolean")
			return
		}
	}
	content, err := readFormFile(header)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	req := billimport.ImportRequest{
		AccountID:   c.Param("account"),
		Period:      period,
		Filename:    header.Filename,
		Content:     content,
		ServiceName: c.PostForm("serviceName"),
	}
	var result *billimport.ImportResult
	if asInvoice {
		result, err = h.service.ImportAsInvoice(c.Request.Context(), req)
	} else {
		result, err = h.service.Import(c.Request.Context(), req)
	}
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Created(c, result)
}

// DownloadURL handles GET /bills/url?key=
func (h *BillHandler) DownloadURL(c *gin.Context) {
	key := c.Query("key")
	if key == "" {
		h.Error(c, http.StatusBadRequest, shared.CodeInvalidInput, "key is required")
		return
	}
	link, err := h.service.DownloadURL(c.Request.Context(), key)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, link)
}

func readFormFile(header *multipart.FileHeader) ([]byte, error) {
	f, err := header.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}
