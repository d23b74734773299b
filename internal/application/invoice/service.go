// Package invoice implements the invoice use cases: building drafts from
// cost data, discounting, merging, repricing and finalizing.
package invoice

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xammer/billops/internal/application/cost"
	"github.com/xammer/billops/internal/domain/invoice"
	"github.com/xammer/billops/internal/domain/shared"
	"github.com/xammer/billops/internal/domain/usage"
	"github.com/xammer/billops/internal/infrastructure/cache"
	"github.com/xammer/billops/internal/infrastructure/telemetry"
)

const (
	draftNumberLength      = 12
	previewNumberLength    = 8
	cloudFrontNumberLength = 10

	regionChargesUnit     = "N/A"
	regionChargesQuantity = "1"

	defaultInvoiceTTL = 30 * time.Minute
	defaultListTTL    = 60 * time.Minute
)

// ReportSource supplies the service, region and resource breakdown a
// draft is built from.
type ReportSource interface {
	DetailedReport(ctx context.Context, accountIDs []string, period shared.BillingPeriod) ([]cost.ServiceDetail, error)
}

// Service handles invoice business operations
type Service struct {
	repo           invoice.Repository
	reports        ReportSource
	coordinator    *cache.Coordinator
	eventPublisher shared.EventPublisher
	invoiceTTL     time.Duration
	listTTL        time.Duration
	logger         *zap.Logger
}

// ServiceConfig contains cache lifetimes for Service
type ServiceConfig struct {
	InvoiceTTL time.Duration
	ListTTL    time.Duration
}

// NewService creates a new Service. coordinator may be nil, which disables caching.
func NewService(repo invoice.Repository, reports ReportSource, coordinator *cache.Coordinator, logger *zap.Logger, cfg ServiceConfig) *Service {
	if cfg.InvoiceTTL <= 0 {
		cfg.InvoiceTTL = defaultInvoiceTTL
	}
	if cfg.ListTTL <= 0 {
		cfg.ListTTL = defaultListTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		repo:        repo,
		reports:     reports,
		coordinator: coordinator,
		invoiceTTL:  cfg.InvoiceTTL,
		listTTL:     cfg.ListTTL,
		logger:      logger,
	}
}

// SetEventPublisher sets the publisher that receives invoice events
func (s *Service) SetEventPublisher(publisher shared.EventPublisher) {
	s.eventPublisher = publisher
}

// BuildDraft creates and stores a draft from the account's detailed cost report.
func (s *Service) BuildDraft(ctx context.Context, req BuildDraftRequest) (*InvoiceResponse, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "invoice", "build_draft",
		telemetry.WithAttribute(telemetry.SpanAttrAccountID, req.AccountID),
		telemetry.WithAttribute(telemetry.SpanAttrBillingPeriod, req.Period),
	)
	defer span.End()

	inv, err := s.draftFromReport(ctx, req, invoice.NewInvoiceNumber("", draftNumberLength))
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	if err := s.repo.Create(ctx, inv); err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	s.invalidate(ctx, inv)

	s.logger.Info("Draft invoice created",
		zap.String("invoice_number", inv.InvoiceNumber),
		zap.String("account_id", inv.AccountID),
		zap.String("billing_period", inv.BillingPeriod.String()),
		zap.Int("line_items", len(inv.LineItems)),
		zap.String("amount", inv.Amount.String()))

	resp := ToInvoiceResponse(inv)
	return &resp, nil
}

// PreviewDraft builds the same draft as BuildDraft under a temporary
// number without storing it.
func (s *Service) PreviewDraft(ctx context.Context, req BuildDraftRequest) (*InvoiceResponse, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "invoice", "preview_draft")
	defer span.End()

	inv, err := s.draftFromReport(ctx, req, invoice.NewInvoiceNumber(invoice.NumberPrefixPreview, previewNumberLength))
	if err != nil {
		return nil, err
	}
	resp := ToInvoiceResponse(inv)
	return &resp, nil
}

func (s *Service) draftFromReport(ctx context.Context, req BuildDraftRequest, number string) (*invoice.Invoice, error) {
	period, err := shared.ParseBillingPeriod(req.Period)
	if err != nil {
		return nil, err
	}
	if !s.canAccess(ctx, req.AccountID) {
		return nil, shared.ErrNotFound
	}

	report, err := s.reports.DetailedReport(ctx, []string{req.AccountID}, period)
	if err != nil {
		return nil, fmt.Errorf("load cost report: %w", err)
	}

	inv, err := invoice.NewDraft(shared.TenantFromContext(ctx), req.AccountID, period, number)
	if err != nil {
		return nil, err
	}
	if err := inv.ReplaceLineItems(LineItemsFromReport(report)); err != nil {
		return nil, err
	}
	return inv, nil
}

// LineItemsFromReport turns a detailed report into line items. Only
// positive costs are billed; a region without resources becomes a single
// "<service> Charges" item.
func LineItemsFromReport(report []cost.ServiceDetail) []invoice.LineItem {
	items := make([]invoice.LineItem, 0)
	for _, svc := range report {
		for _, region := range svc.Regions {
			if len(region.Resources) == 0 {
				if region.Cost.IsPositive() {
					items = append(items, invoice.NewLineItem(
						svc.ServiceName,
						region.RegionName,
						svc.ServiceName+" Charges",
						regionChargesQuantity,
						regionChargesUnit,
						region.Cost,
					))
				}
				continue
			}
			for _, res := range region.Resources {
				if !res.Cost.IsPositive() {
					continue
				}
				items = append(items, invoice.NewLineItem(
					svc.ServiceName,
					region.RegionName,
					res.Name,
					invoice.FormatQuantity(res.Quantity),
					res.Unit,
					res.Cost,
				))
			}
		}
	}
	return items
}

// BuildFromUsage stores a CloudFront draft built from parsed bill records.
// Only records with a strictly positive cost become line items.
func (s *Service) BuildFromUsage(ctx context.Context, accountID string, period shared.BillingPeriod, records []usage.Record) (*InvoiceResponse, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "invoice", "build_from_usage",
		telemetry.WithAttribute(telemetry.SpanAttrAccountID, accountID),
		telemetry.WithAttribute(telemetry.SpanAttrBillingPeriod, period.String()),
	)
	defer span.End()

	inv, err := invoice.NewDraft(shared.TenantFromContext(ctx), accountID, period,
		invoice.NewInvoiceNumber(invoice.NumberPrefixCloudFront, cloudFrontNumberLength))
	if err != nil {
		return nil, err
	}

	items := make([]invoice.LineItem, 0, len(records))
	for _, r := range records {
		if !r.Cost.IsPositive() {
			continue
		}
		items = append(items, invoice.NewLineItem(
			usage.DefaultService,
			r.Region,
			r.UsageType,
			invoice.FormatQuantity(r.Quantity),
			r.Unit,
			r.Cost,
		))
	}
	if err := inv.ReplaceLineItems(items); err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, inv); err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	s.invalidate(ctx, inv)

	s.logger.Info("CloudFront invoice created",
		zap.String("invoice_number", inv.InvoiceNumber),
		zap.String("account_id", accountID),
		zap.Int("line_items", len(items)))

	resp := ToInvoiceResponse(inv)
	return &resp, nil
}

// ApplyDiscount adds a discount to a draft
func (s *Service) ApplyDiscount(ctx context.Context, id uuid.UUID, req ApplyDiscountRequest) (*InvoiceResponse, error) {
	if req.Percentage == nil {
		return nil, shared.NewDomainError(shared.CodeInvalidInput, "percentage is required")
	}
	return s.mutate(ctx, id, "apply_discount", func(inv *invoice.Invoice) error {
		_, err := inv.ApplyDiscount(req.ServiceName, *req.Percentage)
		return err
	})
}

// RemoveDiscount removes a discount from a draft
func (s *Service) RemoveDiscount(ctx context.Context, id, discountID uuid.UUID) (*InvoiceResponse, error) {
	return s.mutate(ctx, id, "remove_discount", func(inv *invoice.Invoice) error {
		return inv.RemoveDiscount(discountID)
	})
}

// UpdateLineItems replaces every line item of a draft
func (s *Service) UpdateLineItems(ctx context.Context, id uuid.UUID, req UpdateLineItemsRequest) (*InvoiceResponse, error) {
	items := make([]invoice.LineItem, 0, len(req.LineItems))
	for _, in := range req.LineItems {
		c := decimal.Zero
		if in.Cost != nil {
			c = *in.Cost
		}
		li := invoice.NewLineItem(in.ServiceName, in.RegionName, in.ResourceName, in.Quantity, in.Unit, c)
		li.Hidden = in.Hidden
		items = append(items, li)
	}
	return s.mutate(ctx, id, "update_line_items", func(inv *invoice.Invoice) error {
		return inv.ReplaceLineItems(items)
	})
}

// Finalize freezes a draft and announces it
func (s *Service) Finalize(ctx context.Context, id uuid.UUID) (*InvoiceResponse, error) {
	return s.mutate(ctx, id, "finalize", func(inv *invoice.Invoice) error {
		return inv.Finalize()
	})
}

// RepriceAndFinalize sets cost = unit rate x quantity for the given line
// items, then finalizes the invoice.
func (s *Service) RepriceAndFinalize(ctx context.Context, id uuid.UUID, req RepriceRequest) (*InvoiceResponse, error) {
	rates := make(map[uuid.UUID]decimal.Decimal, len(req.Rates))
	for _, r := range req.Rates {
		if r.UnitRate == nil {
			return nil, shared.NewDomainError(shared.CodeInvalidInput,
				fmt.Sprintf("unit rate for line item %s is required", r.LineItemID))
		}
		rates[r.LineItemID] = *r.UnitRate
	}
	return s.mutate(ctx, id, "reprice_and_finalize", func(inv *invoice.Invoice) error {
		if err := inv.Reprice(rates); err != nil {
			return err
		}
		return inv.Finalize()
	})
}

// mutate loads a draft, applies fn, stores it, evicts its cache entries and
// publishes whatever events fn raised.
func (s *Service) mutate(ctx context.Context, id uuid.UUID, op string, fn func(*invoice.Invoice) error) (*InvoiceResponse, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "invoice", op,
		telemetry.WithAttribute(telemetry.SpanAttrInvoiceID, id.String()),
	)
	defer span.End()

	inv, err := s.repo.FindByID(ctx, shared.TenantFromContext(ctx), id)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	if err := fn(inv); err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	if err := s.repo.Update(ctx, inv); err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	s.invalidate(ctx, inv)
	s.publishEvents(ctx, inv)

	resp := ToInvoiceResponse(inv)
	return &resp, nil
}

// MergeDrafts moves every line item and discount of the source draft into
// the target draft and deletes the source.
func (s *Service) MergeDrafts(ctx context.Context, req MergeRequest) (*InvoiceResponse, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "invoice", "merge_drafts",
		telemetry.WithAttribute(telemetry.SpanAttrInvoiceID, req.TargetID.String()),
	)
	defer span.End()

	if req.TargetID == req.SourceID {
		return nil, shared.NewDomainError(shared.CodeInvalidInput, "cannot merge an invoice into itself")
	}

	tenantID := shared.TenantFromContext(ctx)
	target, err := s.repo.FindByID(ctx, tenantID, req.TargetID)
	if err != nil {
		return nil, err
	}
	source, err := s.repo.FindByID(ctx, tenantID, req.SourceID)
	if err != nil {
		return nil, err
	}
	if err := target.MergeFrom(source); err != nil {
		return nil, err
	}
	if err := s.repo.Merge(ctx, target, source); err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	s.invalidate(ctx, target)
	s.invalidate(ctx, source)

	s.logger.Info("Draft invoices merged",
		zap.String("target", target.InvoiceNumber),
		zap.String("source", source.InvoiceNumber))

	resp := ToInvoiceResponse(target)
	return &resp, nil
}

// GetForAdmin returns any invoice of the tenant by id
func (s *Service) GetForAdmin(ctx context.Context, id uuid.UUID) (*InvoiceResponse, error) {
	tenantID := shared.TenantFromContext(ctx)
	return s.cachedInvoice(ctx, cache.InvoiceKey(tenantID, id), func(ctx context.Context) (InvoiceResponse, error) {
		inv, err := s.repo.FindByID(ctx, tenantID, id)
		if err != nil {
			return InvoiceResponse{}, err
		}
		return ToInvoiceResponse(inv), nil
	})
}

// GetForAccount returns the finalized invoice of an account and period.
// Drafts are never shown to account users.
func (s *Service) GetForAccount(ctx context.Context, accountID, period string) (*InvoiceResponse, error) {
	bp, err := shared.ParseBillingPeriod(period)
	if err != nil {
		return nil, err
	}
	if !s.canAccess(ctx, accountID) {
		return nil, shared.ErrNotFound
	}

	tenantID := shared.TenantFromContext(ctx)
	return s.cachedInvoice(ctx, cache.AccountInvoiceKey(tenantID, accountID, bp.String()), func(ctx context.Context) (InvoiceResponse, error) {
		inv, err := s.repo.FindByAccountAndPeriod(ctx, tenantID, accountID, bp, invoice.StatusFinalized)
		if err != nil {
			return InvoiceResponse{}, err
		}
		return ToInvoiceResponse(inv), nil
	})
}

func (s *Service) cachedInvoice(ctx context.Context, key string, load func(context.Context) (InvoiceResponse, error)) (*InvoiceResponse, error) {
	var (
		resp InvoiceResponse
		err  error
	)
	if s.coordinator == nil {
		resp, err = load(ctx)
	} else {
		resp, err = cache.GetOrCompute(ctx, s.coordinator, key, s.invoiceTTL, load)
	}
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListAll returns every invoice of the tenant
func (s *Service) ListAll(ctx context.Context) ([]InvoiceSummaryResponse, error) {
	tenantID := shared.TenantFromContext(ctx)
	return s.cachedList(ctx, cache.AdminInvoiceListKey(tenantID), invoice.Filter{})
}

// ListByStatus returns the invoices of the tenant in one status
func (s *Service) ListByStatus(ctx context.Context, status string) ([]InvoiceSummaryResponse, error) {
	st := invoice.Status(strings.ToUpper(strings.TrimSpace(status)))
	if !st.IsValid() {
		return nil, shared.NewDomainError(shared.CodeInvalidInput, fmt.Sprintf("unknown invoice status %q", status))
	}
	tenantID := shared.TenantFromContext(ctx)
	return s.cachedList(ctx, cache.StatusInvoiceListKey(tenantID, st.String()), invoice.Filter{Status: st})
}

func (s *Service) cachedList(ctx context.Context, key string, filter invoice.Filter) ([]InvoiceSummaryResponse, error) {
	tenantID := shared.TenantFromContext(ctx)
	load := func(ctx context.Context) ([]InvoiceSummaryResponse, error) {
		rows, err := s.repo.List(ctx, tenantID, filter)
		if err != nil {
			return nil, err
		}
		return ToSummaryResponses(rows), nil
	}
	if s.coordinator == nil {
		return load(ctx)
	}
	return cache.GetOrCompute(ctx, s.coordinator, key, s.listTTL, load)
}

// WarmTasks returns cache warm-up tasks for the admin list and each status list.
func (s *Service) WarmTasks(ctx context.Context) []cache.WarmTask {
	return append(s.AdminWarmTasks(ctx), s.StatusWarmTasks(ctx)...)
}

// AdminWarmTasks returns the warm-up task for the unfiltered admin list.
func (s *Service) AdminWarmTasks(ctx context.Context) []cache.WarmTask {
	tenantID := shared.TenantFromContext(ctx)
	return []cache.WarmTask{s.listWarmTask(tenantID, cache.AdminInvoiceListKey(tenantID), invoice.Filter{})}
}

// StatusWarmTasks returns warm-up tasks for the status-filtered lists only.
func (s *Service) StatusWarmTasks(ctx context.Context) []cache.WarmTask {
	tenantID := shared.TenantFromContext(ctx)
	tasks := make([]cache.WarmTask, 0, 2)
	for _, st := range []invoice.Status{invoice.StatusDraft, invoice.StatusFinalized} {
		tasks = append(tasks, s.listWarmTask(tenantID, cache.StatusInvoiceListKey(tenantID, st.String()), invoice.Filter{Status: st}))
	}
	return tasks
}

func (s *Service) listWarmTask(tenantID uuid.UUID, key string, filter invoice.Filter) cache.WarmTask {
	return cache.WarmTask{
		Key: key,
		TTL: s.listTTL,
		Compute: func(ctx context.Context) (any, error) {
			rows, err := s.repo.List(ctx, tenantID, filter)
			if err != nil {
				return nil, err
			}
			return ToSummaryResponses(rows), nil
		},
	}
}

// invalidate evicts every cached view the invoice appears in.
func (s *Service) invalidate(ctx context.Context, inv *invoice.Invoice) {
	if s.coordinator == nil {
		return
	}
	s.coordinator.Invalidate(ctx,
		cache.InvoiceKey(inv.TenantID, inv.ID),
		cache.AccountInvoiceKey(inv.TenantID, inv.AccountID, inv.BillingPeriod.String()),
		cache.AdminInvoiceListKey(inv.TenantID),
		cache.Prefix(cache.StatusInvoiceListPrefix(inv.TenantID)),
	)
}

// publishEvents hands pending domain events to the publisher. Failures are
// logged; the mutation has already been stored.
func (s *Service) publishEvents(ctx context.Context, inv *invoice.Invoice) {
	events := inv.GetDomainEvents()
	if len(events) == 0 {
		return
	}
	defer inv.ClearDomainEvents()
	for _, e := range events {
		if e.EventType() == invoice.EventTypeInvoiceFinalized {
			telemetry.Metrics().InvoiceFinalized(ctx)
		}
	}
	if s.eventPublisher == nil {
		return
	}
	if err := s.eventPublisher.Publish(ctx, events...); err != nil {
		s.logger.Error("Failed to publish invoice events",
			zap.String("invoice_number", inv.InvoiceNumber),
			zap.Error(err))
	}
}

func (s *Service) canAccess(ctx context.Context, accountID string) bool {
	scope, ok := shared.ScopeFromContext(ctx)
	if !ok {
		return true
	}
	return scope.CanAccess(accountID)
}
