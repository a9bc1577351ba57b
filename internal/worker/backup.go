package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"

	"freelance-erp/internal/core"
	"freelance-erp/internal/log"
	"freelance-erp/internal/sheets"
)

// TenantLister enumerates the stored tenants.
type TenantLister interface {
	ListTenants(ctx context.Context) ([]string, error)
}

// EnvelopeExporter produces the export envelope of a tenant.
type EnvelopeExporter interface {
	Export(ctx context.Context, tenant string) (core.Envelope, error)
}

// Backup writes every tenant's export envelope under dir. Files are named by
// tenant label and time so API keys never appear on disk.
type Backup struct {
	tenants TenantLister
	docs    EnvelopeExporter
	dir     string
	now     func() time.Time
	logger  *log.Logger
}

func NewBackup(tenants TenantLister, docs EnvelopeExporter, dir string, logger *log.Logger) *Backup {
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	return &Backup{
		tenants: tenants,
		docs:    docs,
		dir:     dir,
		now:     time.Now,
		logger:  logger.WithComponent(log.ComponentBackup),
	}
}

// FileName is the backup file of tenant taken at t.
func FileName(tenant string, t time.Time) string {
	return fmt.Sprintf("erp-backup-%s-%s.json", sheets.TenantLabel(tenant), t.UTC().Format("20060102T150405Z"))
}

// Run backs up every tenant and returns the number of files written. A
// failing tenant does not stop the others; their errors are joined.
func (b *Backup) Run(ctx context.Context) (int, error) {
	tenants, err := b.tenants.ListTenants(ctx)
	if err != nil {
		return 0, fmt.Errorf("list tenants: %w", err)
	}
	if err := os.MkdirAll(b.dir, 0o700); err != nil {
		return 0, fmt.Errorf("create backup directory: %w", err)
	}

	stamp := b.now()
	var (
		written int
		total   int64
		errs    []error
	)
	for _, tenant := range tenants {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		n, err := b.writeTenant(ctx, tenant, stamp)
		if err != nil {
			b.logger.ErrorContext(ctx, "Backup failed",
				log.NewFields().WithTenant(tenant).WithError(err, log.ErrorTypeInternal).WithOperation(log.OpBackup).ToSlice()...)
			errs = append(errs, err)
			continue
		}
		written++
		total += n
	}

	b.logger.InfoContext(ctx, "Backup finished",
		log.FieldOperation, log.OpBackup,
		log.FieldCount, written,
		"size", humanize.Bytes(uint64(total)),
		"dir", b.dir)
	return written, errors.Join(errs...)
}

func (b *Backup) writeTenant(ctx context.Context, tenant string, stamp time.Time) (int64, error) {
	env, err := b.docs.Export(ctx, tenant)
	if err != nil {
		return 0, err
	}
	data, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return 0, fmt.Errorf("encode backup: %w", err)
	}

	path := filepath.Join(b.dir, FileName(tenant, stamp))
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return 0, fmt.Errorf("write backup: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return 0, fmt.Errorf("write backup: %w", err)
	}
	return int64(len(data)), nil
}
