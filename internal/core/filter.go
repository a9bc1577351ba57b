package core

import (
	"strconv"
	"strings"
)

// View is the year-scoped slice of a document that aggregates read from.
// Clients are never filtered: a year has no meaning for a client record.
type View struct {
	Clients  []Client
	Missions []Mission
	Invoices []Invoice
	CRAs     []CRA
}

// FilterByYear narrows missions, invoices and CRAs to the given year.
// A nil year returns every collection unchanged.
func FilterByYear(doc Document, year *int) View {
	if year == nil {
		return View{
			Clients:  doc.Clients,
			Missions: doc.Missions,
			Invoices: doc.Invoices,
			CRAs:     doc.CRAs,
		}
	}

	y := strconv.Itoa(*year)
	v := View{Clients: doc.Clients}
	for _, m := range doc.Missions {
		if missionInYear(m, y) {
			v.Missions = append(v.Missions, m)
		}
	}
	for _, inv := range doc.Invoices {
		if invoiceInYear(inv, y) {
			v.Invoices = append(v.Invoices, inv)
		}
	}
	for _, c := range doc.CRAs {
		if strings.HasPrefix(c.Month, y) {
			v.CRAs = append(v.CRAs, c)
		}
	}
	return v
}

// missionInYear reports whether [start, end] intersects the calendar year.
// A single known date stands for both bounds.
func missionInYear(m Mission, year string) bool {
	start, end := m.StartDate, m.EndDate
	if start == "" && end == "" {
		return false
	}
	if start == "" {
		start = end
	}
	if end == "" {
		end = start
	}
	return start <= year+"-12-31" && end >= year+"-01-01"
}

func invoiceInYear(inv Invoice, year string) bool {
	if yearOf(inv.Date) == year {
		return true
	}
	return inv.PaidDate != nil && yearOf(*inv.PaidDate) == year
}

func yearOf(date string) string {
	if len(date) < 4 {
		return ""
	}
	return date[:4]
}

func monthOf(date string) string {
	if len(date) < 7 {
		return ""
	}
	return date[:7]
}

// OperationsInYear keeps operations dated in the given year; nil keeps all.
func OperationsInYear(ops []Operation, year *int) []Operation {
	if year == nil {
		return ops
	}
	y := strconv.Itoa(*year)
	var out []Operation
	for _, o := range ops {
		if strings.HasPrefix(o.Date, y) {
			out = append(out, o)
		}
	}
	return out
}
