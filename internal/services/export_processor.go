package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"freelance-erp/internal/storage"
)

// ExportQueue is the outbox written alongside every saved document.
type ExportQueue interface {
	DequeueExports(ctx context.Context, limit, maxAttempts int) ([]storage.ExportJob, error)
	MarkExportDone(ctx context.Context, id int64) error
	MarkExportFailed(ctx context.Context, id int64, cause error, maxAttempts int) error
	CleanupExports(ctx context.Context, olderThan time.Duration) (int, error)
}

// Exporter writes a tenant's ledger to the external sheet.
type Exporter interface {
	ExportTenant(ctx context.Context, tenant string) (int, error)
}

// ExportProcessorConfig holds configuration for the export processor
type ExportProcessorConfig struct {
	// PollInterval is how often to check for pending exports (default: 10s)
	PollInterval time.Duration

	// BatchSize is the max number of jobs handled per poll cycle (default: 10)
	BatchSize int

	// MaxRetries is the number of attempts before a job is parked as error (default: 3)
	MaxRetries int

	// CleanupInterval is how often finished jobs are purged (default: 1h)
	CleanupInterval time.Duration

	// CleanupAge is how old a finished job must be before it is purged (default: 24h)
	CleanupAge time.Duration
}

func DefaultExportProcessorConfig() ExportProcessorConfig {
	return ExportProcessorConfig{
		PollInterval:    10 * time.Second,
		BatchSize:       10,
		MaxRetries:      3,
		CleanupInterval: 1 * time.Hour,
		CleanupAge:      24 * time.Hour,
	}
}

// ExportProcessor drains the export queue. It catches up on saves whose
// AMQP message was never published or never consumed.
type ExportProcessor struct {
	queue    ExportQueue
	exporter Exporter
	config   ExportProcessorConfig

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

func NewExportProcessor(queue ExportQueue, exporter Exporter, config ExportProcessorConfig) *ExportProcessor {
	return &ExportProcessor{
		queue:    queue,
		exporter: exporter,
		config:   config,
	}
}

// Start begins the processing loop. Returns an error if already running.
func (p *ExportProcessor) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return fmt.Errorf("export processor is already running")
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})
	p.mu.Unlock()

	go p.runLoop(ctx)

	slog.InfoContext(ctx, "Export processor started",
		"poll_interval", p.config.PollInterval,
		"batch_size", p.config.BatchSize)
	return nil
}

// Stop signals the loop and waits for it, or for ctx.
func (p *ExportProcessor) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	close(p.stopCh)

	select {
	case <-p.doneCh:
		slog.InfoContext(ctx, "Export processor stopped gracefully")
	case <-ctx.Done():
		slog.WarnContext(ctx, "Export processor stop timed out")
		return ctx.Err()
	}

	p.mu.Lock()
	p.running = false
	p.mu.Unlock()
	return nil
}

func (p *ExportProcessor) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *ExportProcessor) runLoop(ctx context.Context) {
	defer close(p.doneCh)

	pollTicker := time.NewTicker(p.config.PollInterval)
	defer pollTicker.Stop()

	cleanupTicker := time.NewTicker(p.config.CleanupInterval)
	defer cleanupTicker.Stop()

	p.ProcessBatch(ctx)

	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		case <-pollTicker.C:
			p.ProcessBatch(ctx)
		case <-cleanupTicker.C:
			p.cleanup(ctx)
		}
	}
}

// ProcessBatch handles one batch of pending jobs and returns how many succeeded.
func (p *ExportProcessor) ProcessBatch(ctx context.Context) int {
	jobs, err := p.queue.DequeueExports(ctx, p.config.BatchSize, p.config.MaxRetries)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to dequeue export batch", "error", err)
		return 0
	}
	if len(jobs) == 0 {
		return 0
	}

	slog.DebugContext(ctx, "Processing export batch", "count", len(jobs))

	done := 0
	for _, job := range jobs {
		select {
		case <-p.stopCh:
			return done
		case <-ctx.Done():
			return done
		default:
		}

		if _, err := p.exporter.ExportTenant(ctx, job.TenantKey); err != nil {
			p.handleFailure(ctx, job, err)
			continue
		}
		if err := p.queue.MarkExportDone(ctx, job.ID); err != nil {
			slog.ErrorContext(ctx, "Failed to mark export done", "id", job.ID, "error", err)
			continue
		}
		done++
	}
	return done
}

func (p *ExportProcessor) handleFailure(ctx context.Context, job storage.ExportJob, cause error) {
	slog.WarnContext(ctx, "Export failed",
		"id", job.ID,
		"attempt", job.Attempts+1,
		"error", cause)

	if err := p.queue.MarkExportFailed(ctx, job.ID, cause, p.config.MaxRetries); err != nil {
		slog.ErrorContext(ctx, "Failed to record export failure", "id", job.ID, "error", err)
		return
	}
	if job.Attempts+1 >= p.config.MaxRetries {
		slog.ErrorContext(ctx, "Export failed permanently after max retries",
			"id", job.ID,
			"attempts", job.Attempts+1)
	}
}

func (p *ExportProcessor) cleanup(ctx context.Context) {
	n, err := p.queue.CleanupExports(ctx, p.config.CleanupAge)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to cleanup finished exports", "error", err)
		return
	}
	if n > 0 {
		slog.DebugContext(ctx, "Finished exports purged", "count", n)
	}
}
