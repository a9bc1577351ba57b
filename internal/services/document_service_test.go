package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"freelance-erp/internal/cache"
	"freelance-erp/internal/core"
	"freelance-erp/internal/storage"
)

var fixedNow = time.Date(2024, 6, 15, 10, 0, 0, 0, time.UTC)

func clock() time.Time { return fixedNow }

type fakePublisher struct {
	mu      sync.Mutex
	tenants []string
	err     error
	closed  bool
}

func (f *fakePublisher) PublishDocumentSaved(_ context.Context, tenant string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tenants = append(f.tenants, tenant)
	return f.err
}

func (f *fakePublisher) Close() error {
	f.closed = true
	return nil
}

func ptr[T any](v T) *T { return &v }

// sampleDoc holds one paid invoice and its payment plus a VAT outflow.
func sampleDoc() core.Document {
	doc := core.EmptyDocument()
	doc.Clients = []core.Client{{ID: 1, Company: "Acme", SIREN: "123456789", Status: core.ClientActive}}
	doc.Missions = []core.Mission{{ID: 1, Title: "Audit", ClientID: 1, DailyRate: 500, Status: core.MissionActive, StartDate: "2024-01-01"}}
	doc.CRAs = []core.CRA{{ID: 1, Month: "2024-03", WorkingDaysInMonth: 21, MissionID: 1, DaysWorked: 10}}
	doc.Invoices = []core.Invoice{{
		ID: 1, Number: "FA24-10001", Date: "2024-03-31", ClientID: 1, MissionID: ptr(1),
		Quantity: 10, Amount: 5000, VATRate: 20, Status: core.InvoicePaid, PaidDate: ptr("2024-04-15"),
	}}
	doc.Operations = []core.Operation{
		{ID: 1, Type: core.OpPayment, Date: "2024-04-15", Amount: 6000, Note: "FA24-10001"},
		{ID: 2, Type: core.OpVAT, Date: "2024-05-01", Amount: 1000, Note: "TVA"},
	}
	return doc
}

func newTestService(t *testing.T) (*DocumentService, *storage.MemoryRepository, *fakePublisher) {
	t.Helper()
	repo := storage.NewMemoryRepository(clock)
	pub := &fakePublisher{}
	svc := NewDocumentService(repo, pub, cache.NewLRUCache[core.Dashboard](10, time.Minute))
	svc.now = clock
	return svc, repo, pub
}

func TestDocumentService_SaveAndLoad(t *testing.T) {
	svc, _, pub := newTestService(t)
	ctx := context.Background()

	doc, updatedAt, err := svc.Load(ctx, "key-a")
	require.NoError(t, err)
	assert.Nil(t, updatedAt)
	assert.Empty(t, doc.Clients)

	saved, err := svc.Save(ctx, "key-a", sampleDoc())
	require.NoError(t, err)
	assert.Equal(t, fixedNow, saved)
	assert.Equal(t, []string{"key-a"}, pub.tenants)

	doc, updatedAt, err = svc.Load(ctx, "key-a")
	require.NoError(t, err)
	require.NotNil(t, updatedAt)
	assert.Len(t, doc.Invoices, 1)

	other, _, err := svc.Load(ctx, "key-b")
	require.NoError(t, err)
	assert.Empty(t, other.Invoices, "tenants must be isolated")
}

func TestDocumentService_SaveRejectsInvalid(t *testing.T) {
	svc, repo, pub := newTestService(t)
	doc := sampleDoc()
	doc.Missions[0].ClientID = 9

	_, err := svc.Save(context.Background(), "key-a", doc)
	var verr *ValidationError
	require.True(t, errors.As(err, &verr), "got %v", err)
	assert.Contains(t, verr.Details[0], "unknown clientId 9")
	assert.Empty(t, pub.tenants)

	tenants, _ := repo.ListTenants(context.Background())
	assert.Empty(t, tenants, "nothing persisted on rejection")
}

func TestDocumentService_SaveRaw(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.SaveRaw(context.Background(), "key-a", []byte(`{"clients":"nope"}`))
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))

	_, err = svc.SaveRaw(context.Background(), "key-a", []byte(`{"clients":[{"id":1,"company":"Acme","siren":"123456789"}]}`))
	require.NoError(t, err)
}

func TestDocumentService_PublishFailureDoesNotFailSave(t *testing.T) {
	svc, repo, pub := newTestService(t)
	pub.err = errors.New("broker down")

	_, err := svc.Save(context.Background(), "key-a", sampleDoc())
	require.NoError(t, err)

	jobs, err := repo.DequeueExports(context.Background(), 10, 3)
	require.NoError(t, err)
	require.Len(t, jobs, 1, "export queued for the worker to catch up")
	assert.Equal(t, "key-a", jobs[0].TenantKey)
}

func TestDocumentService_DashboardCacheInvalidatedOnSave(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	year := 2024

	d, err := svc.Dashboard(ctx, "key-a", &year)
	require.NoError(t, err)
	assert.Zero(t, d.RecognizedRevenue)

	_, err = svc.Save(ctx, "key-a", sampleDoc())
	require.NoError(t, err)

	d, err = svc.Dashboard(ctx, "key-a", &year)
	require.NoError(t, err)
	assert.InDelta(t, 5000, d.RecognizedRevenue, 0.001)
	assert.Equal(t, 1, d.ActiveClients)
}

// saveDuringLoad runs onLoad once, right after the first GetDocument has read
// the stored document and before it returns.
type saveDuringLoad struct {
	*storage.MemoryRepository
	onLoad func()
}

func (r *saveDuringLoad) GetDocument(ctx context.Context, key string) (core.Document, *time.Time, error) {
	doc, at, err := r.MemoryRepository.GetDocument(ctx, key)
	if hook := r.onLoad; hook != nil {
		r.onLoad = nil
		hook()
	}
	return doc, at, err
}

func TestDocumentService_DashboardNotCachedAcrossConcurrentSave(t *testing.T) {
	repo := &saveDuringLoad{MemoryRepository: storage.NewMemoryRepository(clock)}
	svc := NewDocumentService(repo, nil, cache.NewLRUCache[core.Dashboard](10, time.Minute))
	svc.now = clock
	ctx := context.Background()
	year := 2024

	repo.onLoad = func() {
		_, err := svc.Save(ctx, "key-a", sampleDoc())
		require.NoError(t, err)
	}
	stale, err := svc.Dashboard(ctx, "key-a", &year)
	require.NoError(t, err)
	assert.Zero(t, stale.RecognizedRevenue, "computed from the document read before the save")

	fresh, err := svc.Dashboard(ctx, "key-a", &year)
	require.NoError(t, err)
	assert.InDelta(t, 5000, fresh.RecognizedRevenue, 0.001)
	assert.Equal(t, 1, fresh.ActiveClients)
}

func TestDocumentService_Expenses(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	_, err := svc.Save(ctx, "key-a", sampleDoc())
	require.NoError(t, err)

	sum, err := svc.Expenses(ctx, "key-a", nil, "")
	require.NoError(t, err)
	assert.InDelta(t, 6000, sum.PaymentTotalTTC, 0.001)
	assert.InDelta(t, 5000, sum.PaymentBaseHT, 0.001)

	_, err = svc.Expenses(ctx, "key-a", nil, core.OperationType("bogus"))
	var verr *ValidationError
	assert.True(t, errors.As(err, &verr))
}

func TestDocumentService_CheckLedger(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	doc := sampleDoc()
	doc.Operations = doc.Operations[1:]
	_, err := svc.Save(ctx, "key-a", doc)
	require.NoError(t, err)

	problems, err := svc.CheckLedger(ctx, "key-a")
	require.NoError(t, err)
	assert.NotEmpty(t, problems, "paid invoice without payment is reported")
}

func TestDocumentService_ExportImport(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	_, err := svc.Save(ctx, "key-a", sampleDoc())
	require.NoError(t, err)

	env, err := svc.Export(ctx, "key-a")
	require.NoError(t, err)
	assert.Equal(t, core.ExportVersion, env.Version)

	_, err = svc.Import(ctx, "key-b", env, core.ImportReplace)
	require.NoError(t, err)
	_, err = svc.Import(ctx, "key-b", env, core.ImportMerge)
	require.NoError(t, err)

	doc, _, err := svc.Load(ctx, "key-b")
	require.NoError(t, err)
	assert.Len(t, doc.Clients, 2)
	assert.Equal(t, 2, doc.Missions[1].ClientID, "merged mission follows its client")

	_, err = svc.Import(ctx, "key-b", env, core.ImportMode("append"))
	var verr *ValidationError
	assert.True(t, errors.As(err, &verr))
}

func TestDocumentService_NextInvoiceNumber(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	_, err := svc.Save(ctx, "key-a", sampleDoc())
	require.NoError(t, err)

	first, err := svc.NextInvoiceNumber(ctx, "key-a")
	require.NoError(t, err)
	second, err := svc.NextInvoiceNumber(ctx, "key-a")
	require.NoError(t, err)
	assert.Equal(t, "FA24-10002", first)
	assert.Equal(t, "FA24-10003", second)

	other, err := svc.NextInvoiceNumber(ctx, "key-b")
	require.NoError(t, err)
	assert.Equal(t, "FA24-10001", other)
}

func TestDocumentService_Close(t *testing.T) {
	svc, _, pub := newTestService(t)
	require.NoError(t, svc.Close())
	assert.True(t, pub.closed)

	bare := NewDocumentService(storage.NewMemoryRepository(nil), nil, nil)
	if err := bare.Close(); err != nil {
		t.Fatalf("Close with nil publisher: %v", err)
	}
}
