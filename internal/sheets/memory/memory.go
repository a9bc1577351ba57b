package memory

import (
	"context"
	"fmt"
	"sync"

	ports "freelance-erp/internal/sheets"
)

// Store keeps the last ledger written per sheet name.
type Store struct {
	mu     sync.Mutex
	base   string
	sheets map[string][]ports.LedgerRow
	writes int
	fail   error
}

var _ ports.LedgerWriter = (*Store)(nil)

func New(base string) *Store {
	if base == "" {
		base = "Ledger"
	}
	return &Store{base: base, sheets: make(map[string][]ports.LedgerRow)}
}

// WriteLedger replaces the rows of the tenant's sheet for year.
func (s *Store) WriteLedger(_ context.Context, tenant string, year int, rows []ports.LedgerRow) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return "", s.fail
	}
	name := ports.SheetName(s.base, year, tenant)
	s.sheets[name] = append([]ports.LedgerRow(nil), rows...)
	s.writes++
	return fmt.Sprintf("mem:%s", name), nil
}

// LedgerYears lists the years written for tenant.
func (s *Store) LedgerYears(_ context.Context, tenant string) ([]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return nil, s.fail
	}
	titles := make([]string, 0, len(s.sheets))
	for name := range s.sheets {
		titles = append(titles, name)
	}
	return ports.SheetYears(titles, s.base, tenant), nil
}

// Rows returns what was last written for tenant and year.
func (s *Store) Rows(tenant string, year int) []ports.LedgerRow {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ports.LedgerRow(nil), s.sheets[ports.SheetName(s.base, year, tenant)]...)
}

// Writes counts successful WriteLedger calls.
func (s *Store) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

// FailWith makes subsequent writes return err until reset with nil.
func (s *Store) FailWith(err error) {
	s.mu.Lock()
	s.fail = err
	s.mu.Unlock()
}
