// Package worker runs the background jobs of the ERP: ledger exports driven by
// document-saved messages and the scheduled document backups.
package worker

import (
	"context"
	"fmt"

	"freelance-erp/internal/amqp"
	"freelance-erp/internal/log"
	"freelance-erp/internal/services"
)

// LedgerWorker turns document-saved messages into ledger exports.
type LedgerWorker struct {
	exporter services.Exporter
	logger   *log.Logger
}

func NewLedgerWorker(exporter services.Exporter, logger *log.Logger) *LedgerWorker {
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	return &LedgerWorker{exporter: exporter, logger: logger.WithComponent(log.ComponentWorker)}
}

// HandleDocumentSaved rewrites the ledger sheets of the saved tenant. The
// message only names the tenant; the document is read fresh from storage so
// a late message never exports stale data.
func (w *LedgerWorker) HandleDocumentSaved(ctx context.Context, msg *amqp.DocumentSavedMessage) error {
	if msg.Tenant == "" {
		w.logger.WarnContext(ctx, "Dropping message without tenant")
		return nil
	}
	sheets, err := w.exporter.ExportTenant(ctx, msg.Tenant)
	if err != nil {
		return fmt.Errorf("export ledger: %w", err)
	}
	w.logger.InfoContext(ctx, "Ledger exported",
		append(log.NewFields().WithTenant(msg.Tenant).WithOperation(log.OpConsume).ToSlice(),
			log.FieldCount, sheets)...)
	return nil
}
