package services

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"freelance-erp/internal/core"
	"freelance-erp/internal/sheets"
)

// DocumentLoader is the read side of DocumentRepository.
type DocumentLoader interface {
	GetDocument(ctx context.Context, key string) (core.Document, *time.Time, error)
}

// LedgerExporter mirrors a tenant's operations into one sheet per year.
type LedgerExporter struct {
	docs   DocumentLoader
	writer sheets.LedgerWriter
	now    func() time.Time
}

func NewLedgerExporter(docs DocumentLoader, writer sheets.LedgerWriter) *LedgerExporter {
	return &LedgerExporter{docs: docs, writer: writer, now: time.Now}
}

// ExportTenant rewrites every year the tenant has operations in and returns
// how many sheets were written. Years that already have a sheet but no longer
// have operations are rewritten empty. A tenant without operations or sheets
// gets the current year's empty sheet.
func (e *LedgerExporter) ExportTenant(ctx context.Context, tenant string) (int, error) {
	doc, _, err := e.docs.GetDocument(ctx, tenant)
	if err != nil {
		return 0, fmt.Errorf("load document: %w", err)
	}
	existing, err := e.writer.LedgerYears(ctx, tenant)
	if err != nil {
		return 0, fmt.Errorf("list ledger sheets: %w", err)
	}
	years := mergeYears(ledgerYears(doc.Operations), existing)
	if len(years) == 0 {
		years = []int{e.now().Year()}
	}
	for _, year := range years {
		rows := sheets.BuildLedgerRows(doc, year)
		ref, err := e.writer.WriteLedger(ctx, tenant, year, rows)
		if err != nil {
			return 0, fmt.Errorf("write ledger %d: %w", year, err)
		}
		slog.DebugContext(ctx, "Ledger written", "year", year, "rows", len(rows), "ref", ref)
	}
	return len(years), nil
}

func mergeYears(a, b []int) []int {
	seen := make(map[int]bool, len(a)+len(b))
	out := make([]int, 0, len(a)+len(b))
	for _, list := range [][]int{a, b} {
		for _, y := range list {
			if !seen[y] {
				seen[y] = true
				out = append(out, y)
			}
		}
	}
	sort.Ints(out)
	return out
}

func ledgerYears(ops []core.Operation) []int {
	seen := make(map[int]bool)
	for _, o := range ops {
		if len(o.Date) < 4 {
			continue
		}
		y, err := strconv.Atoi(o.Date[:4])
		if err != nil {
			continue
		}
		seen[y] = true
	}
	years := make([]int, 0, len(seen))
	for y := range seen {
		years = append(years, y)
	}
	sort.Ints(years)
	return years
}
