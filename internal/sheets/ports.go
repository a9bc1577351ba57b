// Package sheets mirrors tenant ledgers into spreadsheets.
package sheets

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"freelance-erp/internal/core"
)

// LedgerRow is one operation as written to a ledger sheet. InvoiceHT is set
// for payments whose note matches an invoice number.
type LedgerRow struct {
	Date      string
	Type      core.OperationType
	Amount    float64
	Note      string
	InvoiceHT *float64
}

// Header is the first row of every ledger sheet.
var Header = []string{"Date", "Type", "Amount", "Note", "Invoice HT"}

// Ports for outbound adapters.
type (
	// LedgerWriter replaces the ledger of one tenant and year. LedgerYears
	// lists the years that already have a sheet for the tenant.
	LedgerWriter interface {
		WriteLedger(ctx context.Context, tenant string, year int, rows []LedgerRow) (ref string, err error)
		LedgerYears(ctx context.Context, tenant string) ([]int, error)
	}
)

// BuildLedgerRows lists the year's operations oldest first.
func BuildLedgerRows(doc core.Document, year int) []LedgerRow {
	byNumber := make(map[string]core.Invoice, len(doc.Invoices))
	for _, inv := range doc.Invoices {
		if _, ok := byNumber[inv.Number]; !ok && inv.Number != "" {
			byNumber[inv.Number] = inv
		}
	}

	ops := core.SortOperations(core.FilterOperations(doc.Operations, &year, ""), core.SortDateAsc)
	rows := make([]LedgerRow, 0, len(ops))
	for _, o := range ops {
		row := LedgerRow{Date: o.Date, Type: o.Type, Amount: core.Round2(o.Amount), Note: o.Note}
		if o.Type == core.OpPayment {
			if inv, ok := byNumber[o.Note]; ok {
				ht := core.Round2(inv.Amount)
				row.InvoiceHT = &ht
			}
		}
		rows = append(rows, row)
	}
	return rows
}

// TenantLabel derives a short stable label so API keys never reach a sheet.
func TenantLabel(tenant string) string {
	sum := sha256.Sum256([]byte(tenant))
	return hex.EncodeToString(sum[:4])
}

// SheetName returns "<year> <base> <label>".
func SheetName(base string, year int, tenant string) string {
	return fmt.Sprintf("%d %s %s", year, base, TenantLabel(tenant))
}

// SheetYears returns, sorted, the years of the titles that name a ledger
// sheet of tenant under base.
func SheetYears(titles []string, base string, tenant string) []int {
	suffix := " " + base + " " + TenantLabel(tenant)
	seen := make(map[int]bool)
	for _, title := range titles {
		prefix, ok := strings.CutSuffix(title, suffix)
		if !ok {
			continue
		}
		year, err := strconv.Atoi(prefix)
		if err != nil {
			continue
		}
		seen[year] = true
	}
	years := make([]int, 0, len(seen))
	for y := range seen {
		years = append(years, y)
	}
	sort.Ints(years)
	return years
}

// Values renders rows, header first, as spreadsheet cells.
func Values(rows []LedgerRow) [][]any {
	out := make([][]any, 0, len(rows)+1)
	header := make([]any, len(Header))
	for i, h := range Header {
		header[i] = h
	}
	out = append(out, header)
	for _, r := range rows {
		var ht any = ""
		if r.InvoiceHT != nil {
			ht = *r.InvoiceHT
		}
		out = append(out, []any{r.Date, string(r.Type), r.Amount, r.Note, ht})
	}
	return out
}
