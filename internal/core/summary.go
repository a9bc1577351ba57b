package core

// MonthRevenue is one row of a monthly revenue series.
type MonthRevenue struct {
	Month    string  `json:"month"`
	Days     float64 `json:"days,omitempty"`
	AmountHT float64 `json:"amountHT"`
	VAT      float64 `json:"vat"`
	Total    float64 `json:"total"`
}

// MonthActivity is the worked-days ratio of a CRA month.
type MonthActivity struct {
	Month       string  `json:"month"`
	Days        float64 `json:"days"`
	WorkingDays int     `json:"workingDays"`
	Rate        float64 `json:"rate"`
	RateLabel   string  `json:"rateLabel"`
}

// BestMonth names the month holding the highest value of a series.
type BestMonth struct {
	Month string  `json:"month"`
	Value float64 `json:"value"`
}

// ClientDays totals worked days per client, split by semester ("2024-H1").
type ClientDays struct {
	ClientID  int                `json:"clientId,omitempty"`
	Name      string             `json:"name"`
	Total     float64            `json:"total"`
	Semesters map[string]float64 `json:"semesters"`
}

// Dashboard gathers every figure shown on the overview for a year (or all years).
type Dashboard struct {
	Year              *int            `json:"year"`
	RecognizedRevenue float64         `json:"recognizedRevenue"`
	PendingRevenue    float64         `json:"pendingRevenue"`
	GeneratedRevenue  float64         `json:"generatedRevenue"`
	ActiveClients     int             `json:"activeClients"`
	ActiveMissions    int             `json:"activeMissions"`
	PendingInvoices   int             `json:"pendingInvoices"`
	TotalWorkedDays   float64         `json:"totalWorkedDays"`
	GeneratedByMonth  []MonthRevenue  `json:"generatedByMonth"`
	PaidByMonth       []MonthRevenue  `json:"paidByMonth"`
	Activity          []MonthActivity `json:"activity"`
	BestWorkedMonth   *BestMonth      `json:"bestWorkedMonth"`
	BestRevenueMonth  *BestMonth      `json:"bestRevenueMonth"`
	ClientDays        []ClientDays    `json:"clientDays"`
	AvailableYears    []int           `json:"availableYears"`
}
