package core

import (
	"fmt"
	"regexp"
	"strconv"
	"sync"
	"time"
)

// invoiceNumberPattern captures the two-digit year and the sequence of a number.
var invoiceNumberPattern = regexp.MustCompile(`(?i)FA(\d{2})-1(\d{4,})`)

// InvoiceNumber builds the persisted number FA{yy}-1{NNNN} from an invoice id.
// The year comes from date ("YYYY-MM-DD"), or from now when date is empty.
func InvoiceNumber(id int, date string, now time.Time) string {
	year := yearOf(date)
	if _, err := strconv.Atoi(year); err != nil {
		year = strconv.Itoa(now.Year())
	}
	return fmt.Sprintf("FA%s-1%04d", year[len(year)-2:], id)
}

// NextInvoiceID returns max(id)+1 over invoices, starting at 1.
func NextInvoiceID(invoices []Invoice) int {
	return maxID(invoices, func(i Invoice) int { return i.ID }) + 1
}

// NextInvoiceNumber is the authoritative number a new invoice dated date receives.
func NextInvoiceNumber(invoices []Invoice, date string, now time.Time) string {
	return InvoiceNumber(NextInvoiceID(invoices), date, now)
}

// Predictor proposes display-only invoice numbers from the existing sequence.
// It remembers the last proposed sequence per calendar year so repeated calls
// before a save never repeat a number. Persisted numbers come from
// NextInvoiceNumber; a prediction may disagree with it.
type Predictor struct {
	mu       sync.Mutex
	lastYear int
	lastSeq  int
	now      func() time.Time
}

func NewPredictor(now func() time.Time) *Predictor {
	if now == nil {
		now = time.Now
	}
	return &Predictor{now: now}
}

// Next scans numbers of the current year and returns the next free one.
func (p *Predictor) Next(invoices []Invoice) string {
	p.mu.Lock()
	defer p.mu.Unlock()

	year := p.now().Year()
	yy := fmt.Sprintf("%02d", year%100)

	maxSeq := 0
	for _, inv := range invoices {
		m := invoiceNumberPattern.FindStringSubmatch(inv.Number)
		if m == nil || m[1] != yy {
			continue
		}
		if seq, err := strconv.Atoi(m[2]); err == nil && seq > maxSeq {
			maxSeq = seq
		}
	}

	if p.lastSeq == 0 || p.lastYear != year {
		p.lastYear = year
		p.lastSeq = maxSeq
	}
	next := max(maxSeq, p.lastSeq) + 1
	p.lastSeq = next
	return fmt.Sprintf("FA%s-1%04d", yy, next)
}
