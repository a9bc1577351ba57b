package core

import (
	"sort"
	"strconv"
	"time"
)

const unknownClientName = "Sans client"

// BuildDashboard computes every dashboard aggregate for the given year.
// Client counts always use the unfiltered document.
func BuildDashboard(doc Document, year *int, now time.Time) Dashboard {
	v := FilterByYear(doc, year)
	recognized := RecognizedRevenue(v)
	pending := PendingRevenue(v)

	d := Dashboard{
		Year:              year,
		RecognizedRevenue: recognized,
		PendingRevenue:    pending,
		GeneratedRevenue:  recognized + pending,
		ActiveClients:     ActiveClients(doc.Clients),
		ActiveMissions:    countMissions(v.Missions, MissionActive),
		PendingInvoices:   countInvoices(v.Invoices, InvoiceSent),
		TotalWorkedDays:   TotalWorkedDays(v),
		GeneratedByMonth:  GeneratedRevenueByMonth(v, doc.Missions),
		PaidByMonth:       PaidRevenueByMonth(v),
		Activity:          ActivityByMonth(v),
		BestWorkedMonth:   BestWorkedMonth(v),
		BestRevenueMonth:  BestRevenueMonth(v, doc.Missions),
		ClientDays:        ClientDaysBySemester(v, doc),
		AvailableYears:    AvailableYears(doc, now),
	}
	return d
}

// RecognizedRevenue sums the TTC of paid invoices.
func RecognizedRevenue(v View) float64 {
	var sum float64
	for _, inv := range v.Invoices {
		if inv.Status == InvoicePaid {
			sum += inv.TTC()
		}
	}
	return sum
}

// PendingRevenue sums the TTC of sent and overdue invoices.
func PendingRevenue(v View) float64 {
	var sum float64
	for _, inv := range v.Invoices {
		if inv.Status == InvoiceSent || inv.Status == InvoiceOverdue {
			sum += inv.TTC()
		}
	}
	return sum
}

// ActiveClients counts clients whose status is active; a missing status counts as active.
func ActiveClients(clients []Client) int {
	n := 0
	for _, c := range clients {
		if c.Status == "" || c.Status == ClientActive {
			n++
		}
	}
	return n
}

func TotalWorkedDays(v View) float64 {
	var sum float64
	for _, c := range v.CRAs {
		sum += c.DaysWorked
	}
	return sum
}

func countMissions(ms []Mission, status MissionStatus) int {
	n := 0
	for _, m := range ms {
		if m.Status == status {
			n++
		}
	}
	return n
}

func countInvoices(invs []Invoice, status InvoiceStatus) int {
	n := 0
	for _, inv := range invs {
		if inv.Status == status {
			n++
		}
	}
	return n
}

// missionResolver looks a mission up in the filtered view first, then in the full set.
func missionResolver(filtered, all []Mission) func(int) (Mission, bool) {
	byID := make(map[int]Mission, len(all))
	for _, m := range all {
		if _, ok := byID[m.ID]; !ok {
			byID[m.ID] = m
		}
	}
	for i := len(filtered) - 1; i >= 0; i-- {
		byID[filtered[i].ID] = filtered[i]
	}
	return func(id int) (Mission, bool) {
		m, ok := byID[id]
		return m, ok
	}
}

// monthGroups keeps per-month accumulators in first-seen order.
type monthGroups[T any] struct {
	order []string
	items map[string]*T
}

func newMonthGroups[T any]() *monthGroups[T] {
	return &monthGroups[T]{items: make(map[string]*T)}
}

func (g *monthGroups[T]) get(month string, init func() T) *T {
	if it, ok := g.items[month]; ok {
		return it
	}
	v := init()
	g.items[month] = &v
	g.order = append(g.order, month)
	return &v
}

// GeneratedRevenueByMonth values CRAs at their mission daily rate. CRAs whose
// mission cannot be resolved are skipped. Rows are sorted by month, newest first.
func GeneratedRevenueByMonth(v View, all []Mission) []MonthRevenue {
	resolve := missionResolver(v.Missions, all)
	groups := newMonthGroups[MonthRevenue]()
	for _, c := range v.CRAs {
		m, ok := resolve(c.MissionID)
		if !ok {
			continue
		}
		ht := c.DaysWorked * m.DailyRate
		vat := VAT(ht, m.VAT())
		row := groups.get(c.Month, func() MonthRevenue { return MonthRevenue{Month: c.Month} })
		row.Days += c.DaysWorked
		row.AmountHT += ht
		row.VAT += vat
		row.Total += ht + vat
	}
	return sortedRows(groups)
}

// PaidRevenueByMonth groups paid invoices by the month of paidDate, or date when unpaid-dated.
func PaidRevenueByMonth(v View) []MonthRevenue {
	groups := newMonthGroups[MonthRevenue]()
	for _, inv := range v.Invoices {
		if inv.Status != InvoicePaid {
			continue
		}
		date := inv.Date
		if inv.PaidDate != nil && *inv.PaidDate != "" {
			date = *inv.PaidDate
		}
		month := monthOf(date)
		if month == "" {
			continue
		}
		vat := VAT(inv.Amount, inv.VATRate)
		row := groups.get(month, func() MonthRevenue { return MonthRevenue{Month: month} })
		row.AmountHT += inv.Amount
		row.VAT += vat
		row.Total += inv.Amount + vat
	}
	return sortedRows(groups)
}

func sortedRows(g *monthGroups[MonthRevenue]) []MonthRevenue {
	rows := make([]MonthRevenue, 0, len(g.order))
	for _, m := range g.order {
		rows = append(rows, *g.items[m])
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Month > rows[j].Month })
	return rows
}

// ActivityByMonth divides the worked days of a month by the working days of
// the first CRA recorded for that month. Rows are sorted newest first.
func ActivityByMonth(v View) []MonthActivity {
	groups := newMonthGroups[MonthActivity]()
	for _, c := range v.CRAs {
		row := groups.get(c.Month, func() MonthActivity {
			return MonthActivity{Month: c.Month, WorkingDays: c.WorkingDays()}
		})
		row.Days += c.DaysWorked
	}

	rows := make([]MonthActivity, 0, len(groups.order))
	for _, m := range groups.order {
		row := *groups.items[m]
		row.Rate = row.Days / float64(row.WorkingDays) * 100
		row.RateLabel = Fixed(row.Rate, 1)
		rows = append(rows, row)
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Month > rows[j].Month })
	return rows
}

// BestWorkedMonth returns the month with the most worked days; the first maximum wins.
func BestWorkedMonth(v View) *BestMonth {
	order, totals := []string{}, map[string]float64{}
	for _, c := range v.CRAs {
		m := monthKey(c.Month)
		if _, ok := totals[m]; !ok {
			order = append(order, m)
		}
		totals[m] += c.DaysWorked
	}
	return firstMax(order, totals)
}

// BestRevenueMonth returns the month with the highest generated TTC; the first maximum wins.
func BestRevenueMonth(v View, all []Mission) *BestMonth {
	resolve := missionResolver(v.Missions, all)
	order, totals := []string{}, map[string]float64{}
	for _, c := range v.CRAs {
		mission, ok := resolve(c.MissionID)
		if !ok {
			continue
		}
		m := monthKey(c.Month)
		if _, seen := totals[m]; !seen {
			order = append(order, m)
		}
		totals[m] += TTC(c.DaysWorked*mission.DailyRate, mission.VAT())
	}
	return firstMax(order, totals)
}

func firstMax(order []string, totals map[string]float64) *BestMonth {
	var best *BestMonth
	for _, m := range order {
		if best == nil || totals[m] > best.Value {
			best = &BestMonth{Month: m, Value: totals[m]}
		}
	}
	return best
}

func monthKey(month string) string {
	if month == "" {
		return "unknown"
	}
	return month
}

// SemesterKey maps "2024-03" to "2024-H1" and "2024-07" to "2024-H2".
func SemesterKey(month string) string {
	if len(month) < 7 {
		return "unknown"
	}
	m, err := strconv.Atoi(month[5:7])
	if err != nil {
		return "unknown"
	}
	if m <= 6 {
		return month[:4] + "-H1"
	}
	return month[:4] + "-H2"
}

// ClientDaysBySemester totals worked days per client, sorted by total descending.
// CRAs whose mission or client cannot be resolved are grouped under "Sans client".
func ClientDaysBySemester(v View, doc Document) []ClientDays {
	missions := make(map[int]Mission, len(doc.Missions))
	for _, m := range doc.Missions {
		if _, ok := missions[m.ID]; !ok {
			missions[m.ID] = m
		}
	}
	clients := make(map[int]Client, len(doc.Clients))
	for _, c := range doc.Clients {
		if _, ok := clients[c.ID]; !ok {
			clients[c.ID] = c
		}
	}

	var out []*ClientDays
	byClient := make(map[int]*ClientDays)
	for _, c := range v.CRAs {
		key, name := 0, unknownClientName
		if m, ok := missions[c.MissionID]; ok {
			if cl, ok := clients[m.ClientID]; ok {
				key = cl.ID
				if cl.Company != "" {
					name = cl.Company
				}
			}
		}
		entry, ok := byClient[key]
		if !ok {
			entry = &ClientDays{ClientID: key, Name: name, Semesters: map[string]float64{}}
			byClient[key] = entry
			out = append(out, entry)
		}
		entry.Total += c.DaysWorked
		entry.Semesters[SemesterKey(c.Month)] += c.DaysWorked
	}

	rows := make([]ClientDays, len(out))
	for i, e := range out {
		rows[i] = *e
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Total > rows[j].Total })
	return rows
}

// AvailableYears lists every year referenced by CRAs, invoices or missions,
// plus the current year, in ascending order.
func AvailableYears(doc Document, now time.Time) []int {
	set := map[int]bool{now.Year(): true}
	add := func(s string) {
		if y, err := strconv.Atoi(yearOf(s)); err == nil {
			set[y] = true
		}
	}
	for _, c := range doc.CRAs {
		add(c.Month)
	}
	for _, inv := range doc.Invoices {
		add(inv.Date)
		if inv.PaidDate != nil {
			add(*inv.PaidDate)
		}
	}
	for _, m := range doc.Missions {
		add(m.StartDate)
		add(m.EndDate)
	}

	years := make([]int, 0, len(set))
	for y := range set {
		years = append(years, y)
	}
	sort.Ints(years)
	return years
}
