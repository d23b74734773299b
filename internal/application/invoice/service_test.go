package invoice

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xammer/billops/internal/application/cost"
	"github.com/xammer/billops/internal/domain/invoice"
	"github.com/xammer/billops/internal/domain/shared"
	"github.com/xammer/billops/internal/domain/usage"
	"github.com/xammer/billops/internal/infrastructure/cache"
)

type mockRepo struct {
	mock.Mock
}

func (m *mockRepo) FindByID(ctx context.Context, tenantID, id uuid.UUID) (*invoice.Invoice, error) {
	args := m.Called(ctx, tenantID, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*invoice.Invoice), args.Error(1)
}

func (m *mockRepo) FindByAccountAndPeriod(ctx context.Context, tenantID uuid.UUID, accountID string, period shared.BillingPeriod, status invoice.Status) (*invoice.Invoice, error) {
	args := m.Called(ctx, tenantID, accountID, period, status)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*invoice.Invoice), args.Error(1)
}

func (m *mockRepo) List(ctx context.Context, tenantID uuid.UUID, filter invoice.Filter) ([]invoice.Summary, error) {
	args := m.Called(ctx, tenantID, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]invoice.Summary), args.Error(1)
}

func (m *mockRepo) Create(ctx context.Context, inv *invoice.Invoice) error {
	return m.Called(ctx, inv).Error(0)
}

func (m *mockRepo) Update(ctx context.Context, inv *invoice.Invoice) error {
	return m.Called(ctx, inv).Error(0)
}

func (m *mockRepo) Merge(ctx context.Context, target, source *invoice.Invoice) error {
	return m.Called(ctx, target, source).Error(0)
}

func (m *mockRepo) Delete(ctx context.Context, tenantID, id uuid.UUID) error {
	return m.Called(ctx, tenantID, id).Error(0)
}

type mockReports struct {
	mock.Mock
}

func (m *mockReports) DetailedReport(ctx context.Context, accountIDs []string, period shared.BillingPeriod) ([]cost.ServiceDetail, error) {
	args := m.Called(ctx, accountIDs, period)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]cost.ServiceDetail), args.Error(1)
}

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) Publish(ctx context.Context, events ...shared.DomainEvent) error {
	return m.Called(ctx, events).Error(0)
}

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func dp(s string) *decimal.Decimal {
	v := d(s)
	return &v
}

func march() shared.BillingPeriod {
	return shared.BillingPeriod{Year: 2024, Month: 3}
}

type fixture struct {
	repo      *mockRepo
	reports   *mockReports
	publisher *mockPublisher
	store     *cache.MemoryStore
	svc       *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := cache.NewMemoryStore()
	t.Cleanup(func() { _ = store.Close() })

	f := &fixture{
		repo:      new(mockRepo),
		reports:   new(mockReports),
		publisher: new(mockPublisher),
		store:     store,
	}
	logger := zaptest.NewLogger(t)
	f.svc = NewService(f.repo, f.reports, cache.NewCoordinator(store, cache.WithCoordinatorLogger(logger)), logger, ServiceConfig{})
	f.svc.SetEventPublisher(f.publisher)
	return f
}

func report() []cost.ServiceDetail {
	return []cost.ServiceDetail{
		{
			ServiceName: "Amazon Elastic Compute Cloud - Compute",
			TotalCost:   d("130.5"),
			Regions: []cost.RegionDetail{
				{
					RegionName: "us-east-1",
					Cost:       d("130.5"),
					Resources: []cost.ResourceCost{
						{Name: "EC2 Instance Usage (t3.micro)", Cost: d("100.25"), Quantity: d("720"), Unit: "Hrs"},
						{Name: "EBS Storage", Cost: d("30.25"), Quantity: d("100.5"), Unit: "GB-Mo"},
						{Name: "Free tier", Cost: decimal.Zero, Quantity: d("5"), Unit: "Hrs"},
					},
				},
			},
		},
		{
			ServiceName: "AWS Support",
			TotalCost:   d("29"),
			Regions: []cost.RegionDetail{
				{RegionName: "Global", Cost: d("29")},
				{RegionName: "us-west-2", Cost: decimal.Zero},
			},
		},
	}
}

func draftWithItems(t *testing.T, costs ...string) *invoice.Invoice {
	t.Helper()
	inv, err := invoice.NewDraft(shared.DefaultTenantID, "123456789012", march(), "ABCDEF123456")
	require.NoError(t, err)
	for _, c := range costs {
		require.NoError(t, inv.AddLineItem(invoice.NewLineItem("Amazon S3", "us-east-1", "Storage", "10.000", "GB", d(c))))
	}
	return inv
}

func TestLineItemsFromReport(t *testing.T) {
	items := LineItemsFromReport(report())

	require.Len(t, items, 3)
	assert.Equal(t, "EC2 Instance Usage (t3.micro)", items[0].ResourceName)
	assert.Equal(t, "720.000", items[0].Quantity)
	assert.Equal(t, "Hrs", items[0].Unit)
	assert.True(t, d("100.25").Equal(items[0].Cost))
	assert.Equal(t, "100.500", items[1].Quantity)

	assert.Equal(t, "AWS Support", items[2].ServiceName)
	assert.Equal(t, "Global", items[2].RegionName)
	assert.Equal(t, "AWS Support Charges", items[2].ResourceName)
	assert.Equal(t, "1", items[2].Quantity)
	assert.Equal(t, "N/A", items[2].Unit)
}

func TestService_BuildDraft(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.reports.On("DetailedReport", mock.Anything, []string{"123456789012"}, march()).Return(report(), nil)
	f.repo.On("Create", mock.Anything, mock.AnythingOfType("*invoice.Invoice")).Return(nil)

	resp, err := f.svc.BuildDraft(ctx, BuildDraftRequest{AccountID: "123456789012", Period: "2024-03"})
	require.NoError(t, err)

	assert.Equal(t, "DRAFT", resp.Status)
	assert.Len(t, resp.InvoiceNumber, 12)
	assert.Equal(t, "2024-03", resp.BillingPeriod)
	assert.Len(t, resp.LineItems, 3)
	assert.True(t, d("159.5").Equal(resp.Amount), resp.Amount.String())
	assert.Equal(t, "159.50", resp.AmountDisplay)
	f.repo.AssertExpectations(t)
}

func TestService_BuildDraft_ReportFailure(t *testing.T) {
	f := newFixture(t)

	f.reports.On("DetailedReport", mock.Anything, mock.Anything, mock.Anything).
		Return(nil, shared.ErrProviderUnavailable)

	_, err := f.svc.BuildDraft(context.Background(), BuildDraftRequest{AccountID: "123456789012", Period: "2024-03"})
	assert.ErrorIs(t, err, shared.ErrProviderUnavailable)
	f.repo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestService_BuildDraft_InvalidPeriod(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.BuildDraft(context.Background(), BuildDraftRequest{AccountID: "123456789012", Period: "March"})
	assert.ErrorIs(t, err, shared.ErrInvalidInput)
}

func TestService_BuildDraft_OutOfScope(t *testing.T) {
	f := newFixture(t)
	ctx := shared.WithScope(context.Background(), shared.Scope{AccountIDs: []string{"111111111111"}})

	_, err := f.svc.BuildDraft(ctx, BuildDraftRequest{AccountID: "123456789012", Period: "2024-03"})
	assert.ErrorIs(t, err, shared.ErrNotFound)
	f.reports.AssertNotCalled(t, "DetailedReport", mock.Anything, mock.Anything, mock.Anything)
}

func TestService_PreviewDraft(t *testing.T) {
	f := newFixture(t)
	f.reports.On("DetailedReport", mock.Anything, mock.Anything, march()).Return(report(), nil)

	resp, err := f.svc.PreviewDraft(context.Background(), BuildDraftRequest{AccountID: "123456789012", Period: "2024-03"})
	require.NoError(t, err)

	assert.Regexp(t, `^TEMP-[0-9A-F]{8}$`, resp.InvoiceNumber)
	assert.Len(t, resp.LineItems, 3)
	f.repo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestService_BuildFromUsage(t *testing.T) {
	f := newFixture(t)
	var created *invoice.Invoice
	f.repo.On("Create", mock.Anything, mock.AnythingOfType("*invoice.Invoice")).
		Run(func(args mock.Arguments) { created = args.Get(1).(*invoice.Invoice) }).
		Return(nil)

	records := []usage.Record{
		usage.NewRecord("us-east-1", "US-DataTransfer-Out-Bytes", d("1200"), "GB", d("102")),
		usage.NewRecord("", "US-Requests-Tier1", d("5000000"), "", decimal.Zero),
		usage.NewRecord("eu-west-1", "EU-DataTransfer-Out-Bytes", decimal.Zero, "GB", decimal.Zero),
		usage.NewRecord("", "Invalidations", d("1200"), "URL", d("0.5")),
		usage.NewRecord("us-east-1", "Credit", d("1"), "GB", d("-3")),
	}
	resp, err := f.svc.BuildFromUsage(context.Background(), "123456789012", march(), records)
	require.NoError(t, err)

	assert.Regexp(t, `^CF-[0-9A-F]{10}$`, resp.InvoiceNumber)
	require.Len(t, resp.LineItems, 2, "zero and negative cost records are dropped")
	assert.Equal(t, usage.DefaultService, resp.LineItems[0].ServiceName)
	assert.Equal(t, "1200.000", resp.LineItems[0].Quantity)
	assert.Equal(t, "Invalidations", resp.LineItems[1].ResourceName)
	assert.Equal(t, "Global", resp.LineItems[1].RegionName)
	for _, item := range resp.LineItems {
		assert.True(t, item.Cost.IsPositive(), item.ResourceName)
	}
	assert.True(t, d("102.5").Equal(resp.PreDiscountTotal), resp.PreDiscountTotal.String())
	require.NotNil(t, created)
	assert.Equal(t, resp.ID, created.ID)
}

func TestService_ApplyAndRemoveDiscount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inv := draftWithItems(t, "100")

	f.repo.On("FindByID", mock.Anything, shared.DefaultTenantID, inv.ID).Return(inv, nil)
	f.repo.On("Update", mock.Anything, inv).Return(nil)

	resp, err := f.svc.ApplyDiscount(ctx, inv.ID, ApplyDiscountRequest{ServiceName: "all", Percentage: dp("10")})
	require.NoError(t, err)
	require.Len(t, resp.Discounts, 1)
	assert.True(t, d("90").Equal(resp.Amount), resp.Amount.String())

	resp, err = f.svc.RemoveDiscount(ctx, inv.ID, resp.Discounts[0].ID)
	require.NoError(t, err)
	assert.Empty(t, resp.Discounts)
	assert.True(t, d("100").Equal(resp.Amount))
	f.publisher.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything)
}

func TestService_ApplyDiscount_OutOfRangeLeavesInvoiceUntouched(t *testing.T) {
	f := newFixture(t)
	inv := draftWithItems(t, "100")
	f.repo.On("FindByID", mock.Anything, shared.DefaultTenantID, inv.ID).Return(inv, nil)

	_, err := f.svc.ApplyDiscount(context.Background(), inv.ID, ApplyDiscountRequest{ServiceName: "all", Percentage: dp("120")})
	assert.ErrorIs(t, err, shared.ErrInvalidState)
	assert.Empty(t, inv.Discounts)
	f.repo.AssertNotCalled(t, "Update", mock.Anything, mock.Anything)
}

func TestService_UpdateLineItems(t *testing.T) {
	f := newFixture(t)
	inv := draftWithItems(t, "100")
	f.repo.On("FindByID", mock.Anything, shared.DefaultTenantID, inv.ID).Return(inv, nil)
	f.repo.On("Update", mock.Anything, inv).Return(nil)

	resp, err := f.svc.UpdateLineItems(context.Background(), inv.ID, UpdateLineItemsRequest{
		LineItems: []LineItemInput{
			{ServiceName: "Amazon S3", Quantity: "1", Unit: "GB", Cost: dp("40")},
			{ServiceName: "Amazon S3", ResourceName: "hidden", Cost: dp("60"), Hidden: true},
		},
	})
	require.NoError(t, err)
	require.Len(t, resp.LineItems, 2)
	assert.True(t, resp.LineItems[1].Hidden)
	assert.True(t, d("40").Equal(resp.PreDiscountTotal), resp.PreDiscountTotal.String())
}

func TestService_Finalize(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inv := draftWithItems(t, "100")

	f.repo.On("FindByID", mock.Anything, shared.DefaultTenantID, inv.ID).Return(inv, nil)
	f.repo.On("Update", mock.Anything, inv).Return(nil)
	f.publisher.On("Publish", mock.Anything, mock.MatchedBy(func(events []shared.DomainEvent) bool {
		return len(events) == 1 && events[0].EventType() == invoice.EventTypeInvoiceFinalized
	})).Return(nil).Once()

	resp, err := f.svc.Finalize(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, "FINALIZED", resp.Status)
	assert.NotNil(t, resp.FinalizedAt)
	assert.Empty(t, inv.GetDomainEvents())

	_, err = f.svc.Finalize(ctx, inv.ID)
	assert.ErrorIs(t, err, shared.ErrInvalidState)
	f.publisher.AssertExpectations(t)
}

func TestService_Finalize_PublishFailureIsLogged(t *testing.T) {
	f := newFixture(t)
	inv := draftWithItems(t, "100")

	f.repo.On("FindByID", mock.Anything, mock.Anything, inv.ID).Return(inv, nil)
	f.repo.On("Update", mock.Anything, inv).Return(nil)
	f.publisher.On("Publish", mock.Anything, mock.Anything).Return(errors.New("bus stopped"))

	resp, err := f.svc.Finalize(context.Background(), inv.ID)
	require.NoError(t, err)
	assert.Equal(t, "FINALIZED", resp.Status)
}

func TestService_Finalize_ConcurrencyConflict(t *testing.T) {
	f := newFixture(t)
	inv := draftWithItems(t, "100")

	f.repo.On("FindByID", mock.Anything, mock.Anything, inv.ID).Return(inv, nil)
	f.repo.On("Update", mock.Anything, inv).Return(shared.ErrConcurrencyConflict)

	_, err := f.svc.Finalize(context.Background(), inv.ID)
	assert.ErrorIs(t, err, shared.ErrConcurrencyConflict)
	f.publisher.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything)
}

func TestService_RepriceAndFinalize(t *testing.T) {
	f := newFixture(t)
	inv, err := invoice.NewDraft(shared.DefaultTenantID, "123456789012", march(), "CF-0123456789")
	require.NoError(t, err)
	require.NoError(t, inv.AddLineItem(invoice.NewLineItem(usage.DefaultService, "Global", "Requests", "2000.000", "Requests", decimal.Zero)))
	lineID := inv.LineItems[0].ID

	f.repo.On("FindByID", mock.Anything, mock.Anything, inv.ID).Return(inv, nil)
	f.repo.On("Update", mock.Anything, inv).Return(nil)
	f.publisher.On("Publish", mock.Anything, mock.Anything).Return(nil)

	resp, err := f.svc.RepriceAndFinalize(context.Background(), inv.ID, RepriceRequest{
		Rates: []RateInput{{LineItemID: lineID, UnitRate: dp("0.0075")}},
	})
	require.NoError(t, err)
	assert.Equal(t, "FINALIZED", resp.Status)
	assert.True(t, d("15").Equal(resp.Amount), resp.Amount.String())
}

func TestService_RepriceAndFinalize_UnknownLineItem(t *testing.T) {
	f := newFixture(t)
	inv := draftWithItems(t, "100")
	f.repo.On("FindByID", mock.Anything, mock.Anything, inv.ID).Return(inv, nil)

	_, err := f.svc.RepriceAndFinalize(context.Background(), inv.ID, RepriceRequest{
		Rates: []RateInput{{LineItemID: uuid.New(), UnitRate: dp("1")}},
	})
	assert.ErrorIs(t, err, shared.ErrNotFound)
	assert.True(t, inv.IsDraft())
}

func TestService_MergeDrafts(t *testing.T) {
	f := newFixture(t)
	target := draftWithItems(t, "100")
	source := draftWithItems(t, "50")
	_, err := target.ApplyDiscount("all", d("10"))
	require.NoError(t, err)

	f.repo.On("FindByID", mock.Anything, mock.Anything, target.ID).Return(target, nil)
	f.repo.On("FindByID", mock.Anything, mock.Anything, source.ID).Return(source, nil)
	f.repo.On("Merge", mock.Anything, target, source).Return(nil)

	resp, err := f.svc.MergeDrafts(context.Background(), MergeRequest{TargetID: target.ID, SourceID: source.ID})
	require.NoError(t, err)
	assert.Len(t, resp.LineItems, 2)
	require.Len(t, resp.Discounts, 1)
	assert.Equal(t, invoice.ServiceAWSConsumption, resp.Discounts[0].ServiceName)
	assert.Empty(t, source.LineItems)
}

func TestService_MergeDrafts_SameInvoice(t *testing.T) {
	f := newFixture(t)
	id := uuid.New()

	_, err := f.svc.MergeDrafts(context.Background(), MergeRequest{TargetID: id, SourceID: id})
	assert.ErrorIs(t, err, shared.ErrInvalidInput)
}

func TestService_GetForAdmin_CachedUntilMutation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inv := draftWithItems(t, "100")

	f.repo.On("FindByID", mock.Anything, shared.DefaultTenantID, inv.ID).Return(inv, nil)
	f.repo.On("Update", mock.Anything, inv).Return(nil)

	first, err := f.svc.GetForAdmin(ctx, inv.ID)
	require.NoError(t, err)
	second, err := f.svc.GetForAdmin(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, first.InvoiceNumber, second.InvoiceNumber)
	f.repo.AssertNumberOfCalls(t, "FindByID", 1)

	_, err = f.svc.ApplyDiscount(ctx, inv.ID, ApplyDiscountRequest{ServiceName: "all", Percentage: dp("50")})
	require.NoError(t, err)

	third, err := f.svc.GetForAdmin(ctx, inv.ID)
	require.NoError(t, err)
	assert.True(t, d("50").Equal(third.Amount), third.Amount.String())
	f.repo.AssertNumberOfCalls(t, "FindByID", 3)
}

func TestService_GetForAccount(t *testing.T) {
	f := newFixture(t)
	inv := draftWithItems(t, "100")
	require.NoError(t, inv.Finalize())

	f.repo.On("FindByAccountAndPeriod", mock.Anything, shared.DefaultTenantID, "123456789012", march(), invoice.StatusFinalized).
		Return(inv, nil).Once()

	ctx := shared.WithScope(context.Background(), shared.Scope{AccountIDs: []string{"123456789012"}})
	resp, err := f.svc.GetForAccount(ctx, "123456789012", "2024-03")
	require.NoError(t, err)
	assert.Equal(t, "FINALIZED", resp.Status)

	_, err = f.svc.GetForAccount(ctx, "999999999999", "2024-03")
	assert.ErrorIs(t, err, shared.ErrNotFound)
	f.repo.AssertExpectations(t)
}

func TestService_GetForAccount_NoFinalizedInvoice(t *testing.T) {
	f := newFixture(t)
	f.repo.On("FindByAccountAndPeriod", mock.Anything, mock.Anything, "123456789012", march(), invoice.StatusFinalized).
		Return(nil, shared.ErrNotFound)

	_, err := f.svc.GetForAccount(context.Background(), "123456789012", "2024-03")
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestService_ListByStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rows := []invoice.Summary{{ID: uuid.New(), AccountID: "123456789012", Status: invoice.StatusDraft, Amount: d("10")}}

	f.repo.On("List", mock.Anything, shared.DefaultTenantID, invoice.Filter{Status: invoice.StatusDraft}).Return(rows, nil).Once()

	got, err := f.svc.ListByStatus(ctx, "draft")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "DRAFT", got[0].Status)

	got, err = f.svc.ListByStatus(ctx, "DRAFT")
	require.NoError(t, err)
	assert.Len(t, got, 1)

	_, err = f.svc.ListByStatus(ctx, "void")
	assert.ErrorIs(t, err, shared.ErrInvalidInput)
	f.repo.AssertExpectations(t)
}

func TestService_ListAll_InvalidatedByBuildDraft(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.repo.On("List", mock.Anything, shared.DefaultTenantID, invoice.Filter{}).Return([]invoice.Summary{}, nil)
	f.reports.On("DetailedReport", mock.Anything, mock.Anything, mock.Anything).Return(report(), nil)
	f.repo.On("Create", mock.Anything, mock.Anything).Return(nil)

	_, err := f.svc.ListAll(ctx)
	require.NoError(t, err)
	_, err = f.svc.ListAll(ctx)
	require.NoError(t, err)
	f.repo.AssertNumberOfCalls(t, "List", 1)

	_, err = f.svc.BuildDraft(ctx, BuildDraftRequest{AccountID: "123456789012", Period: "2024-03"})
	require.NoError(t, err)

	_, err = f.svc.ListAll(ctx)
	require.NoError(t, err)
	f.repo.AssertNumberOfCalls(t, "List", 2)
}

func TestService_WithoutCache(t *testing.T) {
	repo := new(mockRepo)
	svc := NewService(repo, new(mockReports), nil, nil, ServiceConfig{})
	repo.On("List", mock.Anything, mock.Anything, invoice.Filter{}).Return([]invoice.Summary{}, nil)

	_, err := svc.ListAll(context.Background())
	require.NoError(t, err)
	_, err = svc.ListAll(context.Background())
	require.NoError(t, err)
	repo.AssertNumberOfCalls(t, "List", 2)
}

func TestService_WarmTasks(t *testing.T) {
	f := newFixture(t)
	f.repo.On("List", mock.Anything, mock.Anything, mock.Anything).Return([]invoice.Summary{}, nil)

	tasks := f.svc.WarmTasks(context.Background())
	require.Len(t, tasks, 3)
	assert.Equal(t, cache.AdminInvoiceListKey(shared.DefaultTenantID), tasks[0].Key)
	assert.Len(t, f.svc.StatusWarmTasks(context.Background()), 2)
	admin := f.svc.AdminWarmTasks(context.Background())
	require.Len(t, admin, 1)
	assert.Equal(t, tasks[0].Key, admin[0].Key)

	for _, task := range tasks {
		_, err := task.Compute(context.Background())
		require.NoError(t, err)
	}
	f.repo.AssertNumberOfCalls(t, "List", 3)
}
