package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"freelance-erp/internal/cache"
	"freelance-erp/internal/core"
)

// DocumentRepository persists one document per tenant key.
type DocumentRepository interface {
	GetDocument(ctx context.Context, key string) (core.Document, *time.Time, error)
	PutDocument(ctx context.Context, key string, doc core.Document) (time.Time, error)
	ListTenants(ctx context.Context) ([]string, error)
	Ping(ctx context.Context) error
	Close() error
}

// Publisher announces saved documents to the worker.
type Publisher interface {
	PublishDocumentSaved(ctx context.Context, tenant string, updatedAt time.Time) error
	Close() error
}

// ValidationError carries every problem found in a rejected document.
type ValidationError struct {
	Details []string
}

func (e *ValidationError) Error() string {
	return "invalid data: " + strings.Join(e.Details, "; ")
}

// DocumentService saves tenant documents and computes the read models served
// by the API.
type DocumentService struct {
	repo       DocumentRepository
	publisher  Publisher
	dashboards cache.Cache[core.Dashboard]
	now        func() time.Time

	mu          sync.Mutex
	predictors  map[string]*core.Predictor
	generations map[string]uint64
}

// NewDocumentService wires the service. publisher and dashboards may be nil.
func NewDocumentService(repo DocumentRepository, publisher Publisher, dashboards cache.Cache[core.Dashboard]) *DocumentService {
	return &DocumentService{
		repo:        repo,
		publisher:   publisher,
		dashboards:  dashboards,
		now:         time.Now,
		predictors:  make(map[string]*core.Predictor),
		generations: make(map[string]uint64),
	}
}

func (s *DocumentService) Load(ctx context.Context, tenant string) (core.Document, *time.Time, error) {
	doc, updatedAt, err := s.repo.GetDocument(ctx, tenant)
	if err != nil {
		return core.Document{}, nil, fmt.Errorf("load document: %w", err)
	}
	return doc, updatedAt, nil
}

// SaveRaw decodes and validates a raw payload before saving it.
func (s *DocumentService) SaveRaw(ctx context.Context, tenant string, raw []byte) (time.Time, error) {
	doc, res := core.DecodePayload(raw)
	if !res.Valid {
		return time.Time{}, &ValidationError{Details: res.Errors}
	}
	return s.store(ctx, tenant, doc)
}

// Save validates doc and replaces the tenant document.
func (s *DocumentService) Save(ctx context.Context, tenant string, doc core.Document) (time.Time, error) {
	doc.Normalize()
	if res := core.Validate(doc); !res.Valid {
		return time.Time{}, &ValidationError{Details: res.Errors}
	}
	return s.store(ctx, tenant, doc)
}

func (s *DocumentService) store(ctx context.Context, tenant string, doc core.Document) (time.Time, error) {
	updatedAt, err := s.repo.PutDocument(ctx, tenant, doc)
	if err != nil {
		return time.Time{}, fmt.Errorf("save document: %w", err)
	}
	s.invalidate(tenant)

	// The queued export covers a failed publish.
	if err := s.publish(ctx, tenant, updatedAt); err != nil {
		slog.ErrorContext(ctx, "Failed to publish document saved message", "error", err)
	}
	return updatedAt, nil
}

func (s *DocumentService) publish(ctx context.Context, tenant string, updatedAt time.Time) error {
	if s.publisher == nil {
		slog.DebugContext(ctx, "AMQP client not available, skipping document saved message")
		return nil
	}
	return s.publisher.PublishDocumentSaved(ctx, tenant, updatedAt)
}

// dashboardKey includes the tenant generation so a dashboard computed from a
// document loaded before a save can never be served after it.
func dashboardKey(tenant string, gen uint64, year *int) string {
	y := "all"
	if year != nil {
		y = strconv.Itoa(*year)
	}
	return tenant + "|" + strconv.FormatUint(gen, 10) + "|" + y
}

func (s *DocumentService) generation(tenant string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generations[tenant]
}

func (s *DocumentService) invalidate(tenant string) {
	s.mu.Lock()
	s.generations[tenant]++
	s.mu.Unlock()
	if s.dashboards != nil {
		s.dashboards.DeletePrefix(tenant + "|")
	}
}

// Dashboard returns the aggregates for year, nil meaning every year.
func (s *DocumentService) Dashboard(ctx context.Context, tenant string, year *int) (core.Dashboard, error) {
	gen := s.generation(tenant)
	key := dashboardKey(tenant, gen, year)
	if s.dashboards != nil {
		if d, ok := s.dashboards.Get(key); ok {
			return d, nil
		}
	}
	doc, _, err := s.Load(ctx, tenant)
	if err != nil {
		return core.Dashboard{}, err
	}
	d := core.BuildDashboard(doc, year, s.now())
	if s.dashboards != nil && s.generation(tenant) == gen {
		s.dashboards.Set(key, d)
	}
	return d, nil
}

func (s *DocumentService) Expenses(ctx context.Context, tenant string, year *int, typ core.OperationType) (core.ExpenseSummary, error) {
	if typ != "" && !typ.Valid() {
		return core.ExpenseSummary{}, &ValidationError{Details: []string{fmt.Sprintf("unknown operation type %q", typ)}}
	}
	doc, _, err := s.Load(ctx, tenant)
	if err != nil {
		return core.ExpenseSummary{}, err
	}
	return core.ExpensesFor(doc, year, typ), nil
}

func (s *DocumentService) CheckLedger(ctx context.Context, tenant string) ([]string, error) {
	doc, _, err := s.Load(ctx, tenant)
	if err != nil {
		return nil, err
	}
	return core.CheckLedger(doc), nil
}

func (s *DocumentService) Export(ctx context.Context, tenant string) (core.Envelope, error) {
	doc, _, err := s.Load(ctx, tenant)
	if err != nil {
		return core.Envelope{}, err
	}
	return core.Export(doc, s.now()), nil
}

// Import combines env with the stored document and saves the result when it
// validates.
func (s *DocumentService) Import(ctx context.Context, tenant string, env core.Envelope, mode core.ImportMode) (time.Time, error) {
	current, _, err := s.Load(ctx, tenant)
	if err != nil {
		return time.Time{}, err
	}
	next, err := core.Import(current, env.Data, mode)
	if err != nil {
		var details []string
		if errors.Is(err, core.ErrInvalidEnvelope) {
			details = []string{err.Error()}
		} else {
			details = []string{fmt.Sprintf("import: %v", err)}
		}
		return time.Time{}, &ValidationError{Details: details}
	}
	return s.Save(ctx, tenant, next)
}

// NextInvoiceNumber predicts the number of the tenant's next invoice. It is
// advisory; the number stored on save comes from the invoice id.
func (s *DocumentService) NextInvoiceNumber(ctx context.Context, tenant string) (string, error) {
	doc, _, err := s.Load(ctx, tenant)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	p, ok := s.predictors[tenant]
	if !ok {
		p = core.NewPredictor(s.now)
		s.predictors[tenant] = p
	}
	s.mu.Unlock()
	return p.Next(doc.Invoices), nil
}

func (s *DocumentService) Ping(ctx context.Context) error {
	return s.repo.Ping(ctx)
}

// Close closes the repository and the publisher.
func (s *DocumentService) Close() error {
	var errs []error
	if s.repo != nil {
		if err := s.repo.Close(); err != nil {
			errs = append(errs, fmt.Errorf("storage: %w", err))
		}
	}
	if s.publisher != nil {
		if err := s.publisher.Close(); err != nil {
			errs = append(errs, fmt.Errorf("amqp: %w", err))
		}
	}
	return errors.Join(errs...)
}
