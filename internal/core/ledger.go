package core

import (
	"fmt"
	"sort"
	"time"
)

// SyncPayment applies the payment side effect of saving next over prev.
// prev is nil for a newly created invoice. The returned slice replaces ops.
func SyncPayment(ops []Operation, prev *Invoice, next Invoice, today string) []Operation {
	wasPaid := prev != nil && prev.IsPaid()
	isPaid := next.IsPaid()

	switch {
	case isPaid && !wasPaid:
		return append(ops, Operation{
			ID:     maxID(ops, func(o Operation) int { return o.ID }) + 1,
			Type:   OpPayment,
			Date:   paymentDate(next, today),
			Amount: next.TTC(),
			Note:   next.Number,
		})
	case !isPaid && wasPaid:
		return RemovePaymentFor(ops, prev.Number)
	case isPaid && wasPaid:
		i := findPayment(ops, next.Number)
		if i < 0 && prev.Number != next.Number {
			i = findPayment(ops, prev.Number)
		}
		if i < 0 {
			return ops
		}
		op := &ops[i]
		op.Amount = next.TTC()
		op.Note = next.Number
		op.Date = paymentDate(next, op.Date)
		return ops
	}
	return ops
}

// RemovePaymentFor drops every payment operation linked to an invoice number.
// Removing nothing is not an error.
func RemovePaymentFor(ops []Operation, number string) []Operation {
	out := ops[:0:0]
	for _, o := range ops {
		if o.Type == OpPayment && o.Note == number {
			continue
		}
		out = append(out, o)
	}
	return out
}

func findPayment(ops []Operation, number string) int {
	for i, o := range ops {
		if o.Type == OpPayment && o.Note == number {
			return i
		}
	}
	return -1
}

func paymentDate(inv Invoice, fallback string) string {
	if inv.PaidDate != nil && *inv.PaidDate != "" {
		return *inv.PaidDate
	}
	if inv.Date != "" {
		return inv.Date
	}
	return fallback
}

// Today formats t as a calendar date.
func Today(t time.Time) string {
	return t.Format(dateLayout)
}

// ExpenseLine is the total of one non-payment operation type.
type ExpenseLine struct {
	Type     OperationType `json:"type"`
	Amount   float64       `json:"amount"`
	Share    string        `json:"share"`
	Excluded bool          `json:"excluded"`
}

// ExpenseSummary splits the ledger into collected payments and outflows.
type ExpenseSummary struct {
	PaymentTotalTTC float64       `json:"paymentTotalTTC"`
	PaymentBaseHT   float64       `json:"paymentBaseHT"`
	HTBase          bool          `json:"htBase"`
	Lines           []ExpenseLine `json:"lines"`
	Expenses        float64       `json:"expenses"`
	Net             float64       `json:"net"`
}

// SummarizeExpenses computes collected payments, the HT base and the net
// position. A payment without a matching invoice contributes its TTC amount
// to the HT base. VAT outflows are excluded from the net once an HT base exists.
func SummarizeExpenses(ops []Operation, invoices []Invoice) ExpenseSummary {
	byNumber := make(map[string]Invoice, len(invoices))
	for _, inv := range invoices {
		if _, ok := byNumber[inv.Number]; !ok && inv.Number != "" {
			byNumber[inv.Number] = inv
		}
	}

	var s ExpenseSummary
	var order []OperationType
	totals := make(map[OperationType]float64)
	for _, o := range ops {
		if o.Type == OpPayment {
			s.PaymentTotalTTC += o.Amount
			if inv, ok := byNumber[o.Note]; ok && o.Note != "" {
				s.PaymentBaseHT += inv.Amount
			} else {
				s.PaymentBaseHT += o.Amount
			}
			continue
		}
		if _, ok := totals[o.Type]; !ok {
			order = append(order, o.Type)
		}
		totals[o.Type] += o.Amount
	}
	if s.PaymentBaseHT == 0 && s.PaymentTotalTTC != 0 {
		s.PaymentBaseHT = s.PaymentTotalTTC
	}
	s.HTBase = s.PaymentBaseHT > 0

	base := s.PaymentTotalTTC
	if s.HTBase {
		base = s.PaymentBaseHT
	}
	shareBase := base
	if shareBase == 0 {
		shareBase = 1
	}

	s.Lines = make([]ExpenseLine, 0, len(order))
	for _, t := range order {
		amount := abs(totals[t])
		line := ExpenseLine{
			Type:     t,
			Amount:   amount,
			Share:    Fixed(amount/shareBase*100, 1),
			Excluded: s.HTBase && t == OpVAT,
		}
		if !line.Excluded {
			s.Expenses += amount
		}
		s.Lines = append(s.Lines, line)
	}
	s.Net = base - s.Expenses
	return s
}

// ExpensesFor summarizes the document ledger for a year and optional type.
func ExpensesFor(doc Document, year *int, typ OperationType) ExpenseSummary {
	return SummarizeExpenses(FilterOperations(doc.Operations, year, typ), doc.Invoices)
}

// FilterOperations narrows ops to a year and, when typ is set, a single type.
func FilterOperations(ops []Operation, year *int, typ OperationType) []Operation {
	out := OperationsInYear(ops, year)
	if typ == "" {
		return out
	}
	var typed []Operation
	for _, o := range out {
		if o.Type == typ {
			typed = append(typed, o)
		}
	}
	return typed
}

// Operation orderings accepted by SortOperations.
const (
	SortDateDesc   = "date_desc"
	SortDateAsc    = "date_asc"
	SortAmountDesc = "amount_desc"
	SortAmountAsc  = "amount_asc"
)

// SortOperations returns a sorted copy. Unknown orders sort by date, newest first.
func SortOperations(ops []Operation, order string) []Operation {
	out := append([]Operation{}, ops...)
	var less func(a, b Operation) bool
	switch order {
	case SortDateAsc:
		less = func(a, b Operation) bool { return a.Date < b.Date }
	case SortAmountAsc:
		less = func(a, b Operation) bool { return a.Amount < b.Amount }
	case SortAmountDesc:
		less = func(a, b Operation) bool { return a.Amount > b.Amount }
	default:
		less = func(a, b Operation) bool { return a.Date > b.Date }
	}
	sort.SliceStable(out, func(i, j int) bool { return less(out[i], out[j]) })
	return out
}

// CheckLedger reports every paid invoice without exactly one matching payment
// and every payment linked to an invoice that is not paid.
func CheckLedger(doc Document) []string {
	issues := []string{}
	payments := make(map[string][]Operation)
	for _, o := range doc.Operations {
		if o.Type == OpPayment {
			payments[o.Note] = append(payments[o.Note], o)
		}
	}

	for _, inv := range doc.Invoices {
		linked := payments[inv.Number]
		if !inv.IsPaid() {
			if len(linked) > 0 {
				issues = append(issues, fmt.Sprintf("Invoice %s is %s but has %d payment operation(s)", inv.Number, inv.Status, len(linked)))
			}
			continue
		}
		switch {
		case len(linked) == 0:
			issues = append(issues, fmt.Sprintf("Invoice %s is paid but has no payment operation", inv.Number))
		case len(linked) > 1:
			issues = append(issues, fmt.Sprintf("Invoice %s has %d payment operations", inv.Number, len(linked)))
		case !approxEqual(linked[0].Amount, inv.TTC()):
			issues = append(issues, fmt.Sprintf("Invoice %s payment amount %s differs from TTC %s",
				inv.Number, Fixed(linked[0].Amount, 2), Fixed(inv.TTC(), 2)))
		}
	}
	return issues
}

// ReconcileLedger rebuilds payment operations so that each paid invoice has
// exactly one. Payments whose note matches no invoice are kept untouched.
// New payments take ids above every id of the input, including the ids of
// dropped duplicates.
func ReconcileLedger(doc Document, today string) Document {
	out := doc.Clone()
	numbers := make(map[string]bool, len(out.Invoices))
	for _, inv := range out.Invoices {
		numbers[inv.Number] = true
	}
	nextID := maxID(out.Operations, func(o Operation) int { return o.ID }) + 1

	kept := out.Operations[:0:0]
	existing := make(map[string]Operation)
	for _, o := range out.Operations {
		if o.Type == OpPayment && numbers[o.Note] {
			if _, ok := existing[o.Note]; !ok {
				existing[o.Note] = o
			}
			continue
		}
		kept = append(kept, o)
	}
	out.Operations = kept

	for _, inv := range out.Invoices {
		if !inv.IsPaid() {
			continue
		}
		o, ok := existing[inv.Number]
		if ok {
			o.Amount = inv.TTC()
			o.Date = paymentDate(inv, o.Date)
		} else {
			o = Operation{
				ID:     nextID,
				Type:   OpPayment,
				Date:   paymentDate(inv, today),
				Amount: inv.TTC(),
				Note:   inv.Number,
			}
			nextID++
		}
		out.Operations = append(out.Operations, o)
	}
	return out
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func approxEqual(a, b float64) bool {
	return abs(a-b) < 0.005
}
