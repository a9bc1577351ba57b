package core

import (
	"fmt"
	"sync"
	"time"
)

// Store owns the document of one tenant. Every mutation either applies fully
// or returns an error and leaves the document unchanged.
type Store struct {
	mu  sync.RWMutex
	doc Document
	now func() time.Time
}

// NewStore wraps doc, normalizing it first. now defaults to time.Now.
func NewStore(doc Document, now func() time.Time) *Store {
	if now == nil {
		now = time.Now
	}
	d := doc.Clone()
	d.Normalize()
	return &Store{doc: d, now: now}
}

// Snapshot returns a deep copy of the current document.
func (s *Store) Snapshot() Document {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doc.Clone()
}

// Replace swaps the whole document.
func (s *Store) Replace(doc Document) {
	d := doc.Clone()
	d.Normalize()
	s.mu.Lock()
	s.doc = d
	s.mu.Unlock()
}

func (s *Store) today() string {
	return Today(s.now())
}

func notFound(entity string, id int) error {
	return fmt.Errorf("%s %d: %w", entity, id, ErrNotFound)
}

func indexOf[T any](items []T, id int, key func(T) int) int {
	for i, it := range items {
		if key(it) == id {
			return i
		}
	}
	return -1
}

func clientKey(c Client) int { return c.ID }
func missionKey(m Mission) int { return m.ID }
func craKey(c CRA) int { return c.ID }
func invoiceKey(i Invoice) int { return i.ID }
func operationKey(o Operation) int { return o.ID }

// AddClient creates a client with the next id. Status defaults to active.
func (s *Store) AddClient(c Client) (Client, error) {
	if c.Status == "" {
		c.Status = ClientActive
	}
	if c.BillingAddress == "" {
		c.BillingAddress = c.Address
	}
	if err := c.Validate(); err != nil {
		return Client{}, violation("client", 0, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	c.ID = maxID(s.doc.Clients, clientKey) + 1
	c.CreatedAt = s.today()
	s.doc.Clients = append(s.doc.Clients, c)
	return c, nil
}

// keep fills an empty update field with the current value.
func keep(dst *string, cur string) {
	if *dst == "" {
		*dst = cur
	}
}

// UpdateClient merges c over the stored client: empty text fields keep their
// current value, and id and createdAt never change.
func (s *Store) UpdateClient(id int, c Client) (Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := indexOf(s.doc.Clients, id, clientKey)
	if i < 0 {
		return Client{}, notFound("client", id)
	}
	cur := s.doc.Clients[i]
	c.ID, c.CreatedAt = cur.ID, cur.CreatedAt
	if c.Status == "" {
		c.Status = cur.Status
	}
	keep(&c.Company, cur.Company)
	keep(&c.SIREN, cur.SIREN)
	keep(&c.Address, cur.Address)
	keep(&c.BillingAddress, cur.BillingAddress)
	keep(&c.BillingEmail, cur.BillingEmail)
	keep(&c.Notes, cur.Notes)
	keep(&c.Contact.Name, cur.Contact.Name)
	keep(&c.Contact.Email, cur.Contact.Email)
	keep(&c.Contact.Phone, cur.Contact.Phone)
	if c.BillingAddress == "" {
		c.BillingAddress = c.Address
	}
	if err := c.Validate(); err != nil {
		return Client{}, violation("client", id, err)
	}
	s.doc.Clients[i] = c
	return c, nil
}

func (s *Store) ArchiveClient(id int) error {
	return s.setClientStatus(id, ClientArchived)
}

func (s *Store) UnarchiveClient(id int) error {
	return s.setClientStatus(id, ClientActive)
}

func (s *Store) setClientStatus(id int, status ClientStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := indexOf(s.doc.Clients, id, clientKey)
	if i < 0 {
		return notFound("client", id)
	}
	s.doc.Clients[i].Status = status
	return nil
}

// DeleteClient removes a client nothing references.
func (s *Store) DeleteClient(id int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := indexOf(s.doc.Clients, id, clientKey)
	if i < 0 {
		return notFound("client", id)
	}
	missions, invoices := 0, 0
	for _, m := range s.doc.Missions {
		if m.ClientID == id {
			missions++
		}
	}
	for _, inv := range s.doc.Invoices {
		if inv.ClientID == id {
			invoices++
		}
	}
	if missions > 0 || invoices > 0 {
		return &ConstraintError{
			Entity: "client",
			ID:     id,
			Reason: fmt.Sprintf("referenced by %d mission(s) and %d invoice(s)", missions, invoices),
			Err:    ErrReferenced,
		}
	}
	s.doc.Clients = append(s.doc.Clients[:i:i], s.doc.Clients[i+1:]...)
	return nil
}

func (s *Store) checkMission(m Mission, id int) error {
	if err := m.Validate(); err != nil {
		return violation("mission", id, err)
	}
	if indexOf(s.doc.Clients, m.ClientID, clientKey) < 0 {
		return violation("mission", id, notFound("client", m.ClientID))
	}
	return nil
}

// AddMission creates a mission. The VAT rate defaults to DefaultVATRate.
func (s *Store) AddMission(m Mission) (Mission, error) {
	if m.VATRate == nil {
		rate := DefaultVATRate
		m.VATRate = &rate
	}
	if m.Status == "" {
		m.Status = MissionWaiting
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkMission(m, 0); err != nil {
		return Mission{}, err
	}
	m.ID = maxID(s.doc.Missions, missionKey) + 1
	m.CreatedAt = s.today()
	s.doc.Missions = append(s.doc.Missions, m)
	return m, nil
}

func (s *Store) UpdateMission(id int, m Mission) (Mission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := indexOf(s.doc.Missions, id, missionKey)
	if i < 0 {
		return Mission{}, notFound("mission", id)
	}
	cur := s.doc.Missions[i]
	m.ID, m.CreatedAt = cur.ID, cur.CreatedAt
	if m.VATRate == nil {
		m.VATRate = clonePtr(cur.VATRate)
	}
	if m.Status == "" {
		m.Status = cur.Status
	}
	if err := s.checkMission(m, id); err != nil {
		return Mission{}, err
	}
	s.doc.Missions[i] = m
	return m, nil
}

// DeleteMission removes a mission no invoice references.
func (s *Store) DeleteMission(id int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := indexOf(s.doc.Missions, id, missionKey)
	if i < 0 {
		return notFound("mission", id)
	}
	invoices := 0
	for _, inv := range s.doc.Invoices {
		if inv.MissionID != nil && *inv.MissionID == id {
			invoices++
		}
	}
	if invoices > 0 {
		return &ConstraintError{
			Entity: "mission",
			ID:     id,
			Reason: fmt.Sprintf("referenced by %d invoice(s)", invoices),
			Err:    ErrReferenced,
		}
	}
	s.doc.Missions = append(s.doc.Missions[:i:i], s.doc.Missions[i+1:]...)
	return nil
}

func (s *Store) checkCRA(c CRA, id int) error {
	if err := c.Validate(); err != nil {
		return violation("CRA", id, err)
	}
	if indexOf(s.doc.Missions, c.MissionID, missionKey) < 0 {
		return violation("CRA", id, notFound("mission", c.MissionID))
	}
	return nil
}

func (s *Store) AddCRA(c CRA) (CRA, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkCRA(c, 0); err != nil {
		return CRA{}, err
	}
	c.ID = maxID(s.doc.CRAs, craKey) + 1
	c.CreatedAt = s.today()
	s.doc.CRAs = append(s.doc.CRAs, c)
	return c, nil
}

func (s *Store) UpdateCRA(id int, c CRA) (CRA, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := indexOf(s.doc.CRAs, id, craKey)
	if i < 0 {
		return CRA{}, notFound("CRA", id)
	}
	c.ID, c.CreatedAt = id, s.doc.CRAs[i].CreatedAt
	if err := s.checkCRA(c, id); err != nil {
		return CRA{}, err
	}
	s.doc.CRAs[i] = c
	return c, nil
}

func (s *Store) DeleteCRA(id int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := indexOf(s.doc.CRAs, id, craKey)
	if i < 0 {
		return notFound("CRA", id)
	}
	s.doc.CRAs = append(s.doc.CRAs[:i:i], s.doc.CRAs[i+1:]...)
	return nil
}

// SaveInvoice creates the invoice when its id is zero and updates it otherwise,
// then brings the payment ledger in line with the new status. A created invoice
// gets the next id and a number derived from it.
func (s *Store) SaveInvoice(inv Invoice) (Invoice, error) {
	if !inv.IsPaid() {
		inv.PaidDate = nil
	}
	if inv.InvoiceTemplate == "" {
		inv.InvoiceTemplate = TemplateStandard
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var prev *Invoice
	i := -1
	if inv.ID != 0 {
		i = indexOf(s.doc.Invoices, inv.ID, invoiceKey)
		if i < 0 {
			return Invoice{}, notFound("invoice", inv.ID)
		}
		cur := s.doc.Invoices[i]
		prev = &cur
		inv.Number, inv.CreatedAt = cur.Number, cur.CreatedAt
	}

	if err := inv.Validate(); err != nil {
		return Invoice{}, violation("invoice", inv.ID, err)
	}
	if indexOf(s.doc.Clients, inv.ClientID, clientKey) < 0 {
		return Invoice{}, violation("invoice", inv.ID, notFound("client", inv.ClientID))
	}
	if inv.MissionID != nil && indexOf(s.doc.Missions, *inv.MissionID, missionKey) < 0 {
		return Invoice{}, violation("invoice", inv.ID, notFound("mission", *inv.MissionID))
	}

	if prev == nil {
		inv.ID = NextInvoiceID(s.doc.Invoices)
		inv.Number = InvoiceNumber(inv.ID, inv.Date, s.now())
		inv.CreatedAt = s.today()
		s.doc.Invoices = append(s.doc.Invoices, inv)
	} else {
		s.doc.Invoices[i] = inv
	}
	s.doc.Operations = SyncPayment(s.doc.Operations, prev, inv, s.today())
	return inv, nil
}

// DeleteInvoice removes an invoice and, when it was paid, its payment.
func (s *Store) DeleteInvoice(id int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := indexOf(s.doc.Invoices, id, invoiceKey)
	if i < 0 {
		return notFound("invoice", id)
	}
	inv := s.doc.Invoices[i]
	s.doc.Invoices = append(s.doc.Invoices[:i:i], s.doc.Invoices[i+1:]...)
	if inv.IsPaid() {
		s.doc.Operations = RemovePaymentFor(s.doc.Operations, inv.Number)
	}
	return nil
}

// AddOperation records a manual ledger entry. Payments are derived from
// invoices and cannot be added here.
func (s *Store) AddOperation(o Operation) (Operation, error) {
	if o.Type == OpPayment {
		return Operation{}, violation("operation", 0, ErrDerivedPayment)
	}
	if err := o.Validate(); err != nil {
		return Operation{}, violation("operation", 0, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	o.ID = maxID(s.doc.Operations, operationKey) + 1
	s.doc.Operations = append(s.doc.Operations, o)
	return o, nil
}

// UpdateOperation merges o over a manual ledger entry. Empty type, date and
// note keep their current value; the amount is always taken from o.
func (s *Store) UpdateOperation(id int, o Operation) (Operation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := indexOf(s.doc.Operations, id, operationKey)
	if i < 0 {
		return Operation{}, notFound("operation", id)
	}
	cur := s.doc.Operations[i]
	if o.Type == OpPayment || cur.Type == OpPayment {
		return Operation{}, violation("operation", id, ErrDerivedPayment)
	}
	if o.Type == "" {
		o.Type = cur.Type
	}
	keep(&o.Date, cur.Date)
	keep(&o.Note, cur.Note)
	if err := o.Validate(); err != nil {
		return Operation{}, violation("operation", id, err)
	}
	o.ID = id
	s.doc.Operations[i] = o
	return o, nil
}

// DeleteOperation removes a ledger entry. A payment still backing a paid
// invoice is refused.
func (s *Store) DeleteOperation(id int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := indexOf(s.doc.Operations, id, operationKey)
	if i < 0 {
		return notFound("operation", id)
	}
	if o := s.doc.Operations[i]; o.Type == OpPayment {
		for _, inv := range s.doc.Invoices {
			if inv.IsPaid() && inv.Number == o.Note {
				return violation("operation", id, ErrDerivedPayment)
			}
		}
	}
	s.doc.Operations = append(s.doc.Operations[:i:i], s.doc.Operations[i+1:]...)
	return nil
}

func (s *Store) SetCompany(p CompanyProfile) {
	s.mu.Lock()
	s.doc.Company = p
	s.mu.Unlock()
}

// GenerateInvoiceFromCRA drafts an invoice billing the days of a CRA at the
// mission daily rate. The draft is not stored until SaveInvoice.
func (s *Store) GenerateInvoiceFromCRA(craID int) (Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ci := indexOf(s.doc.CRAs, craID, craKey)
	if ci < 0 {
		return Invoice{}, notFound("CRA", craID)
	}
	cra := s.doc.CRAs[ci]
	mi := indexOf(s.doc.Missions, cra.MissionID, missionKey)
	if mi < 0 {
		return Invoice{}, violation("CRA", craID, notFound("mission", cra.MissionID))
	}
	m := s.doc.Missions[mi]
	missionID := m.ID

	return Invoice{
		Date:            s.today(),
		ActivityMonth:   cra.Month,
		ClientID:        m.ClientID,
		MissionID:       &missionID,
		Quantity:        cra.DaysWorked,
		Amount:          cra.DaysWorked * m.DailyRate,
		VATRate:         m.VAT(),
		Status:          InvoiceDraft,
		InvoiceTemplate: TemplateStandard,
	}, nil
}
