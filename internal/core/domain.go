package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"
)

const (
	ClientActive   ClientStatus = "active"
	ClientArchived ClientStatus = "archived"

	MissionWaiting  MissionStatus = "En attente"
	MissionActive   MissionStatus = "En cours"
	MissionDone     MissionStatus = "Terminée"
	MissionInvoiced MissionStatus = "Facturée"

	InvoiceDraft   InvoiceStatus = "Brouillon"
	InvoiceSent    InvoiceStatus = "Envoyée"
	InvoicePaid    InvoiceStatus = "Payée"
	InvoiceOverdue InvoiceStatus = "En retard"

	OpPayment OperationType = "payment"
	OpSalary  OperationType = "salary"
	OpVAT     OperationType = "vat"
	OpTax     OperationType = "tax"
	OpURSSAF  OperationType = "urssaf"
	OpOther   OperationType = "other"

	TemplateStandard InvoiceTemplate = "standard"
	TemplateMinimal  InvoiceTemplate = "minimal"
)

// DefaultVATRate applies to missions that carry no explicit rate.
const DefaultVATRate = 20.0

// DefaultWorkingDays is used when a CRA carries no working-day count.
const DefaultWorkingDays = 22

const (
	dateLayout  = "2006-01-02"
	monthLayout = "2006-01"
)

type (
	ClientStatus    string
	MissionStatus   string
	InvoiceStatus   string
	OperationType   string
	InvoiceTemplate string

	Contact struct {
		Name  string `json:"name"`
		Email string `json:"email"`
		Phone string `json:"phone"`
	}

	Client struct {
		ID             int          `json:"id"`
		Company        string       `json:"company"`
		SIREN          string       `json:"siren"`
		Address        string       `json:"address"`
		BillingAddress string       `json:"billingAddress"`
		Contact        Contact      `json:"contact"`
		BillingEmail   string       `json:"billingEmail,omitempty"`
		Notes          string       `json:"notes,omitempty"`
		Status         ClientStatus `json:"status"`
		CreatedAt      string       `json:"createdAt,omitempty"`
	}

	Mission struct {
		ID          int           `json:"id"`
		Title       string        `json:"title"`
		Description string        `json:"description,omitempty"`
		ClientID    int           `json:"clientId"`
		StartDate   string        `json:"startDate,omitempty"`
		EndDate     string        `json:"endDate,omitempty"`
		DailyRate   float64       `json:"dailyRate"`
		VATRate     *float64      `json:"vatRate,omitempty"`
		Status      MissionStatus `json:"status"`
		CreatedAt   string        `json:"createdAt,omitempty"`
	}

	// CRA is a monthly activity report tying worked days to a mission.
	CRA struct {
		ID                 int     `json:"id"`
		Month              string  `json:"month"`
		WorkingDaysInMonth int     `json:"workingDaysInMonth"`
		MissionID          int     `json:"missionId"`
		DaysWorked         float64 `json:"daysWorked"`
		Notes              string  `json:"notes,omitempty"`
		CreatedAt          string  `json:"createdAt,omitempty"`
	}

	// Invoice amounts are HT. TTC is derived from VATRate.
	Invoice struct {
		ID              int             `json:"id"`
		Number          string          `json:"number"`
		Date            string          `json:"date"`
		ActivityMonth   string          `json:"activityMonth,omitempty"`
		ClientID        int             `json:"clientId"`
		MissionID       *int            `json:"missionId"`
		Quantity        float64         `json:"quantity"`
		Amount          float64         `json:"amount"`
		VATRate         float64         `json:"vatRate"`
		Status          InvoiceStatus   `json:"status"`
		DueDate         string          `json:"dueDate,omitempty"`
		PaidDate        *string         `json:"paidDate"`
		InvoiceTemplate InvoiceTemplate `json:"invoiceTemplate,omitempty"`
		CreatedAt       string          `json:"createdAt,omitempty"`
	}

	// Operation is a ledger entry. Payments are inflows, every other type is an outflow.
	Operation struct {
		ID     int           `json:"id"`
		Type   OperationType `json:"type"`
		Date   string        `json:"date"`
		Amount float64       `json:"amount"`
		Note   string        `json:"note"`
	}

	CompanyProfile struct {
		Name    string `json:"name,omitempty"`
		Address string `json:"address,omitempty"`
		Phone   string `json:"phone,omitempty"`
		Email   string `json:"email,omitempty"`
		SIRET   string `json:"siret,omitempty"`
		TVAID   string `json:"tva_id,omitempty"`
		NDA     string `json:"nda,omitempty"`
		IBAN    string `json:"iban,omitempty"`
	}

	// Document is the persisted unit: one per tenant key.
	Document struct {
		Clients    []Client       `json:"clients"`
		Missions   []Mission      `json:"missions"`
		Invoices   []Invoice      `json:"invoices"`
		CRAs       []CRA          `json:"cras"`
		Operations []Operation    `json:"operations"`
		Company    CompanyProfile `json:"company"`
	}
)

var (
	ErrNotFound           = errors.New("not found")
	ErrInvalidSIREN       = errors.New("SIREN must contain exactly 9 digits")
	ErrInvalidDateRange   = errors.New("end date must not be before start date")
	ErrInvalidDate        = errors.New("invalid date")
	ErrInvalidMonth       = errors.New("invalid month")
	ErrInvalidWorkingDays = errors.New("working days must be between 1 and 31")
	ErrDaysExceedWorking  = errors.New("days worked cannot exceed working days in month")
	ErrInvalidAmount      = errors.New("invalid amount")
	ErrInvalidRate        = errors.New("invalid rate")
	ErrInvalidQuantity    = errors.New("quantity must be at least 0.5")
	ErrInvalidStatus      = errors.New("invalid status")
	ErrInvalidType        = errors.New("invalid operation type")
	ErrPaidDateRequired   = errors.New("paid date is required for a paid invoice")
	ErrReferenced         = errors.New("entity is still referenced")
	ErrDerivedPayment     = errors.New("payment operations are managed by invoices")
)

var sirenPattern = regexp.MustCompile(`^\d{9}$`)

// ConstraintError reports a business rule rejected before any mutation.
type ConstraintError struct {
	Entity string
	ID     int
	Reason string
	Err    error
}

func (e *ConstraintError) Error() string {
	if e.ID > 0 {
		return fmt.Sprintf("%s %d: %s", e.Entity, e.ID, e.Reason)
	}
	return fmt.Sprintf("%s: %s", e.Entity, e.Reason)
}

func (e *ConstraintError) Unwrap() error { return e.Err }

func violation(entity string, id int, err error) *ConstraintError {
	return &ConstraintError{Entity: entity, ID: id, Reason: err.Error(), Err: err}
}

func (s ClientStatus) Valid() bool {
	return s == ClientActive || s == ClientArchived
}

func (s MissionStatus) Valid() bool {
	switch s {
	case MissionWaiting, MissionActive, MissionDone, MissionInvoiced:
		return true
	}
	return false
}

func (s InvoiceStatus) Valid() bool {
	switch s {
	case InvoiceDraft, InvoiceSent, InvoicePaid, InvoiceOverdue:
		return true
	}
	return false
}

func (t OperationType) Valid() bool {
	switch t {
	case OpPayment, OpSalary, OpVAT, OpTax, OpURSSAF, OpOther:
		return true
	}
	return false
}

func (c Client) Validate() error {
	if !sirenPattern.MatchString(c.SIREN) {
		return ErrInvalidSIREN
	}
	if c.Status != "" && !c.Status.Valid() {
		return ErrInvalidStatus
	}
	return nil
}

// VAT returns the mission rate, falling back to DefaultVATRate.
func (m Mission) VAT() float64 {
	if m.VATRate == nil {
		return DefaultVATRate
	}
	return *m.VATRate
}

func (m Mission) Validate() error {
	if err := validDate(m.StartDate); err != nil {
		return err
	}
	if err := validDate(m.EndDate); err != nil {
		return err
	}
	if m.StartDate != "" && m.EndDate != "" && m.EndDate < m.StartDate {
		return ErrInvalidDateRange
	}
	if m.DailyRate < 0 {
		return ErrInvalidAmount
	}
	if m.VATRate != nil && *m.VATRate < 0 {
		return ErrInvalidRate
	}
	if m.Status != "" && !m.Status.Valid() {
		return ErrInvalidStatus
	}
	return nil
}

// WorkingDays returns the working-day count, defaulting when unset.
func (c CRA) WorkingDays() int {
	if c.WorkingDaysInMonth <= 0 {
		return DefaultWorkingDays
	}
	return c.WorkingDaysInMonth
}

func (c CRA) Validate() error {
	if _, err := time.Parse(monthLayout, c.Month); err != nil {
		return ErrInvalidMonth
	}
	if c.WorkingDaysInMonth < 1 || c.WorkingDaysInMonth > 31 {
		return ErrInvalidWorkingDays
	}
	if c.DaysWorked < 0 {
		return ErrInvalidAmount
	}
	if c.DaysWorked > float64(c.WorkingDaysInMonth) {
		return ErrDaysExceedWorking
	}
	return nil
}

// TTC is the tax-inclusive total of the invoice.
func (i Invoice) TTC() float64 {
	return TTC(i.Amount, i.VATRate)
}

// IsPaid reports whether the invoice is in the Payée state.
func (i Invoice) IsPaid() bool {
	return i.Status == InvoicePaid
}

func (i Invoice) Validate() error {
	if err := validDate(i.Date); err != nil {
		return err
	}
	if i.Quantity < 0.5 {
		return ErrInvalidQuantity
	}
	if i.Amount < 0 {
		return ErrInvalidAmount
	}
	if i.VATRate < 0 || i.VATRate > 100 {
		return ErrInvalidRate
	}
	if !i.Status.Valid() {
		return ErrInvalidStatus
	}
	if i.IsPaid() && (i.PaidDate == nil || *i.PaidDate == "") {
		return ErrPaidDateRequired
	}
	if i.PaidDate != nil {
		if err := validDate(*i.PaidDate); err != nil {
			return err
		}
	}
	return nil
}

func (o Operation) Validate() error {
	if !o.Type.Valid() {
		return ErrInvalidType
	}
	return validDate(o.Date)
}

// UnmarshalJSON accepts the legacy tva_value field as an alias of tva_id.
func (p *CompanyProfile) UnmarshalJSON(data []byte) error {
	type plain CompanyProfile
	var aux struct {
		plain
		TVAValue string `json:"tva_value"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*p = CompanyProfile(aux.plain)
	if p.TVAID == "" {
		p.TVAID = aux.TVAValue
	}
	return nil
}

// EmptyDocument returns a document with every collection initialised.
func EmptyDocument() Document {
	return Document{
		Clients:    []Client{},
		Missions:   []Mission{},
		Invoices:   []Invoice{},
		CRAs:       []CRA{},
		Operations: []Operation{},
	}
}

// Normalize fills defaults left out by older document shapes.
func (d *Document) Normalize() {
	if d.Clients == nil {
		d.Clients = []Client{}
	}
	if d.Missions == nil {
		d.Missions = []Mission{}
	}
	if d.Invoices == nil {
		d.Invoices = []Invoice{}
	}
	if d.CRAs == nil {
		d.CRAs = []CRA{}
	}
	if d.Operations == nil {
		d.Operations = []Operation{}
	}
	for i := range d.Clients {
		c := &d.Clients[i]
		if c.Status == "" {
			c.Status = ClientActive
		}
		if c.BillingAddress == "" {
			c.BillingAddress = c.Address
		}
	}
	for i := range d.Invoices {
		if d.Invoices[i].InvoiceTemplate == "" {
			d.Invoices[i].InvoiceTemplate = TemplateStandard
		}
	}
}

// Clone returns a deep copy safe to mutate independently.
func (d Document) Clone() Document {
	out := Document{
		Clients:    append([]Client{}, d.Clients...),
		Missions:   make([]Mission, len(d.Missions)),
		Invoices:   make([]Invoice, len(d.Invoices)),
		CRAs:       append([]CRA{}, d.CRAs...),
		Operations: append([]Operation{}, d.Operations...),
		Company:    d.Company,
	}
	for i, m := range d.Missions {
		m.VATRate = clonePtr(m.VATRate)
		out.Missions[i] = m
	}
	for i, inv := range d.Invoices {
		inv.MissionID = clonePtr(inv.MissionID)
		inv.PaidDate = clonePtr(inv.PaidDate)
		out.Invoices[i] = inv
	}
	return out
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func validDate(s string) error {
	if s == "" {
		return nil
	}
	if _, err := time.Parse(dateLayout, s); err != nil {
		return fmt.Errorf("%w %q", ErrInvalidDate, s)
	}
	return nil
}
