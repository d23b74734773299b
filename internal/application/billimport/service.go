// Package billimport stores uploaded usage bills, parses them into usage
// records and optionally turns them into invoices.
package billimport

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	appinvoice "github.com/xammer/billops/internal/application/invoice"
	"github.com/xammer/billops/internal/domain/shared"
	"github.com/xammer/billops/internal/domain/usage"
	"github.com/xammer/billops/internal/infrastructure/billparser"
	"github.com/xammer/billops/internal/infrastructure/cache"
	"github.com/xammer/billops/internal/infrastructure/storage"
	"github.com/xammer/billops/internal/infrastructure/telemetry"
)

const (
	keyRoot           = "bills"
	defaultPresignTTL = 15 * time.Minute
)

var contentTypes = map[billparser.Format]string{
	billparser.FormatRows: "text/csv",
	billparser.FormatPDF:  "application/pdf",
	billparser.FormatText: "text/plain; charset=utf-8",
}

// RecordParser reads usage records out of an uploaded bill.
type RecordParser interface {
	Parse(ctx context.Context, a billparser.Artifact) ([]usage.Record, error)
}

// InvoiceBuilder turns parsed records into a draft invoice.
type InvoiceBuilder interface {
	BuildFromUsage(ctx context.Context, accountID string, period shared.BillingPeriod, records []usage.Record) (*appinvoice.InvoiceResponse, error)
}

// ImportRequest is one uploaded bill.
type ImportRequest struct {
	AccountID   string
	Period      shared.BillingPeriod
	Filename    string
	Content     []byte
	ServiceName string // defaults to the CloudFront service
}

// ImportResult describes a stored bill.
type ImportResult struct {
	StorageKey string                      `json:"storageKey"`
	Format     string                      `json:"format"`
	Records    int                         `json:"records"`
	TotalCost  decimal.Decimal             `json:"totalCost"`
	Invoice    *appinvoice.InvoiceResponse `json:"invoice,omitempty"`

	parsed []usage.Record
}

// DownloadLink is a short-lived URL to a stored bill.
type DownloadLink struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Service handles bill uploads
type Service struct {
	blobs       storage.BlobStore
	parser      RecordParser
	records     usage.Repository
	invoices    InvoiceBuilder
	coordinator *cache.Coordinator
	presignTTL  time.Duration
	logger      *zap.Logger
}

// NewService creates a bill import service. coordinator may be nil.
func NewService(blobs storage.BlobStore, parser RecordParser, records usage.Repository, invoices InvoiceBuilder, coordinator *cache.Coordinator, logger *zap.Logger) *Service {
	return &Service{
		blobs:       blobs,
		parser:      parser,
		records:     records,
		invoices:    invoices,
		coordinator: coordinator,
		presignTTL:  defaultPresignTTL,
		logger:      logger,
	}
}

// Import stores the raw bill, parses it and persists its usage records.
// Cached cost views of the account are evicted afterwards.
func (s *Service) Import(ctx context.Context, req ImportRequest) (*ImportResult, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "billimport", "import",
		telemetry.WithAttribute(telemetry.SpanAttrAccountID, req.AccountID),
		telemetry.WithAttribute(telemetry.SpanAttrBillingPeriod, req.Period.String()),
	)
	defer span.End()

	if err := s.validate(ctx, req); err != nil {
		return nil, err
	}

	artifact := billparser.Artifact{Name: req.Filename, Content: req.Content}
	format := billparser.DetectFormat(artifact)
	if format == billparser.FormatUnknown {
		return nil, billparser.UnsupportedFormatError(req.Filename)
	}

	tenantID := shared.TenantFromContext(ctx)
	key := storageKey(tenantID, req.Filename)
	if err := s.blobs.Put(ctx, key, contentTypes[format], req.Content); err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("store bill: %w", err)
	}

	parsed, err := s.parser.Parse(ctx, artifact)
	if err != nil {
		s.logger.Warn("Bill could not be parsed",
			zap.String("storage_key", key),
			zap.String("format", string(format)),
			zap.Error(err))
		return nil, err
	}

	stored := make([]usage.StoredRecord, 0, len(parsed))
	total := decimal.Zero
	for _, r := range parsed {
		stored = append(stored, usage.NewStoredRecord(tenantID, req.AccountID, req.ServiceName, req.Period, key, r))
		total = total.Add(r.Cost)
	}
	if err := s.records.SaveAll(ctx, stored); err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("save usage records: %w", err)
	}
	s.evict(ctx, tenantID, req.AccountID)
	telemetry.Metrics().RecordsImported(ctx, string(format), len(stored))

	s.logger.Info("Bill imported",
		zap.String("storage_key", key),
		zap.String("account_id", req.AccountID),
		zap.String("billing_period", req.Period.String()),
		zap.String("format", string(format)),
		zap.Int("records", len(stored)),
		zap.String("total_cost", total.StringFixed(2)))

	return &ImportResult{
		StorageKey: key,
		Format:     string(format),
		Records:    len(stored),
		TotalCost:  shared.RoundMoney(total),
		parsed:     parsed,
	}, nil
}

// ImportAsInvoice imports the bill and builds a draft invoice from it.
func (s *Service) ImportAsInvoice(ctx context.Context, req ImportRequest) (*ImportResult, error) {
	result, err := s.Import(ctx, req)
	if err != nil {
		return nil, err
	}
	inv, err := s.invoices.BuildFromUsage(ctx, req.AccountID, req.Period, result.parsed)
	if err != nil {
		return nil, err
	}
	result.Invoice = inv
	return result, nil
}

// DownloadURL presigns an inline link to a bill of the current tenant.
func (s *Service) DownloadURL(ctx context.Context, key string) (*DownloadLink, error) {
	if !strings.HasPrefix(key, tenantRoot(shared.TenantFromContext(ctx))) || strings.Contains(key, "..") {
		return nil, shared.NewDomainError(shared.CodeNotFound, "bill not found")
	}
	url, expiresAt, err := s.blobs.PresignInline(ctx, key, s.presignTTL)
	if err != nil {
		return nil, fmt.Errorf("presign bill: %w", err)
	}
	return &DownloadLink{URL: url, ExpiresAt: expiresAt}, nil
}

func (s *Service) validate(ctx context.Context, req ImportRequest) error {
	switch {
	case strings.TrimSpace(req.AccountID) == "":
		return shared.NewDomainError(shared.CodeInvalidInput, "account id is required")
	case req.Period.IsZero():
		return shared.NewDomainError(shared.CodeInvalidInput, "billing period is required")
	case strings.TrimSpace(req.Filename) == "":
		return shared.NewDomainError(shared.CodeInvalidInput, "file name is required")
	case len(req.Content) == 0:
		return shared.NewDomainError(shared.CodeInvalidInput, "file is empty")
	}
	if scope, ok := shared.ScopeFromContext(ctx); ok && !scope.CanAccess(req.AccountID) {
		return shared.NewDomainError(shared.CodeNotFound, "account not found")
	}
	return nil
}

// evict drops every cached view the new records can change. Views merged
// over several accounts are keyed by the account set, so all of the
// tenant's cost dimensions and client dashboards go.
func (s *Service) evict(ctx context.Context, tenantID uuid.UUID, accountID string) {
	if s.coordinator == nil {
		return
	}
	s.coordinator.Invalidate(ctx,
		cache.Prefix(cache.DashboardPrefix(tenantID, accountID)),
		cache.Prefix(cache.ClientDashboardPrefix(tenantID)),
		cache.Prefix(cache.TenantCostPrefix(tenantID)),
	)
}

func tenantRoot(tenantID uuid.UUID) string {
	return path.Join(keyRoot, tenantID.String()) + "/"
}

// storageKey is bills/<tenant>/<uuid>/<file name>.
func storageKey(tenantID uuid.UUID, filename string) string {
	name := path.Base(strings.ReplaceAll(filename, "\\", "/"))
	name = strings.Map(func(r rune) rune {
		if r == ' ' || r < 0x20 {
			return '_'
		}
		return r
	}, name)
	return tenantRoot(tenantID) + uuid.NewString() + "/" + name
}
