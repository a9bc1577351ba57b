package google

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	goption "google.golang.org/api/option"

	ports "freelance-erp/internal/sheets"
)

func TestNew_MissingSpreadsheetID(t *testing.T) {
	_, err := New(context.Background(), Config{})
	if err == nil {
		t.Fatal("expected error for missing spreadsheet id")
	}
	if err.Error() != "missing GOOGLE_SPREADSHEET_ID" {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestNew_MissingCredentials(t *testing.T) {
	_, err := New(context.Background(), Config{SpreadsheetID: "test-id"})
	if err == nil {
		t.Fatal("expected error without credentials")
	}
	if !strings.Contains(err.Error(), "missing service account credentials") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestNew_UnreadableCredentialsFile(t *testing.T) {
	_, err := New(context.Background(), Config{
		SpreadsheetID:   "test-id",
		CredentialsFile: filepath.Join(t.TempDir(), "missing.json"),
	})
	if err == nil || !strings.Contains(err.Error(), "read service account file") {
		t.Fatalf("expected read error, got %v", err)
	}
}

func TestReadCredentials_PrefersInlineJSON(t *testing.T) {
	file := filepath.Join(t.TempDir(), "sa.json")
	if err := os.WriteFile(file, []byte(`{"from":"file"}`), 0o600); err != nil {
		t.Fatal(err)
	}
	got, err := readCredentials(context.Background(), Config{CredentialsJSON: `{"from":"env"}`, CredentialsFile: file})
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != `{"from":"env"}` {
		t.Errorf("readCredentials() = %s", got)
	}
}

// fakeSheets records the calls the adapter makes against the Sheets REST API.
type fakeSheets struct {
	mu      sync.Mutex
	titles  []string
	added   []string
	cleared []string
	updated map[string][][]any
	inputs  []string
}

func (f *fakeSheets) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	path := r.URL.Path

	switch {
	case r.Method == http.MethodGet && strings.HasSuffix(path, "/spreadsheets/sheet-id"):
		var sheets []map[string]any
		for _, t := range f.titles {
			sheets = append(sheets, map[string]any{"properties": map[string]any{"title": t}})
		}
		json.NewEncoder(w).Encode(map[string]any{"sheets": sheets})
	case r.Method == http.MethodPost && strings.HasSuffix(path, ":batchUpdate"):
		var req struct {
			Requests []struct {
				AddSheet struct {
					Properties struct {
						Title string `json:"title"`
					} `json:"properties"`
				} `json:"addSheet"`
			} `json:"requests"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		for _, rq := range req.Requests {
			f.added = append(f.added, rq.AddSheet.Properties.Title)
			f.titles = append(f.titles, rq.AddSheet.Properties.Title)
		}
		w.Write([]byte(`{}`))
	case r.Method == http.MethodPost && strings.HasSuffix(path, ":clear"):
		f.cleared = append(f.cleared, path)
		w.Write([]byte(`{}`))
	case r.Method == http.MethodPut:
		var vr struct {
			Values [][]any `json:"values"`
		}
		json.NewDecoder(r.Body).Decode(&vr)
		f.updated[path] = vr.Values
		f.inputs = append(f.inputs, r.URL.Query().Get("valueInputOption"))
		w.Write([]byte(`{}`))
	default:
		http.Error(w, "unexpected "+r.Method+" "+path, http.StatusNotFound)
	}
}

func newFakeClient(t *testing.T, fake *fakeSheets) *Client {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	c, err := New(context.Background(), Config{SpreadsheetID: "sheet-id"},
		goption.WithEndpoint(srv.URL+"/"),
		goption.WithoutAuthentication(),
		goption.WithHTTPClient(srv.Client()))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return c
}

func TestClient_WriteLedger(t *testing.T) {
	fake := &fakeSheets{updated: map[string][][]any{}}
	c := newFakeClient(t, fake)

	ht := 1000.0
	rows := []ports.LedgerRow{
		{Date: "2024-02-10", Type: "payment", Amount: 1200, Note: "FA24-10001", InvoiceHT: &ht},
		{Date: "2024-03-01", Type: "urssaf", Amount: -250, Note: "Q1"},
	}

	ref, err := c.WriteLedger(context.Background(), "key-a", 2024, rows)
	if err != nil {
		t.Fatalf("WriteLedger() error = %v", err)
	}

	sheet := ports.SheetName("Ledger", 2024, "key-a")
	if !strings.Contains(ref, sheet) {
		t.Errorf("ref %q does not name sheet %q", ref, sheet)
	}
	if len(fake.added) != 1 || fake.added[0] != sheet {
		t.Errorf("added sheets = %v, want [%s]", fake.added, sheet)
	}
	if len(fake.cleared) != 1 {
		t.Errorf("cleared = %v, want one clear", fake.cleared)
	}
	if len(fake.updated) != 1 {
		t.Fatalf("updated = %v, want one update", fake.updated)
	}
	for _, values := range fake.updated {
		if len(values) != 3 {
			t.Fatalf("wrote %d rows, want header plus 2", len(values))
		}
		if values[0][0] != "Date" || values[1][3] != "FA24-10001" {
			t.Errorf("unexpected values: %v", values)
		}
	}

	if len(fake.inputs) != 1 || fake.inputs[0] != "RAW" {
		t.Errorf("valueInputOption = %v, want RAW", fake.inputs)
	}

	// The second write reuses the known sheet.
	if _, err := c.WriteLedger(context.Background(), "key-a", 2024, rows[:1]); err != nil {
		t.Fatalf("second WriteLedger() error = %v", err)
	}
	if len(fake.added) != 1 {
		t.Errorf("sheet added again: %v", fake.added)
	}
}

func TestClient_WriteLedgerKeepsFormulaText(t *testing.T) {
	fake := &fakeSheets{updated: map[string][][]any{}}
	c := newFakeClient(t, fake)

	rows := []ports.LedgerRow{{Date: "2024-01-02", Type: "other", Amount: -5, Note: "=HYPERLINK(\"http://x\")"}}
	if _, err := c.WriteLedger(context.Background(), "key-a", 2024, rows); err != nil {
		t.Fatalf("WriteLedger() error = %v", err)
	}
	for _, opt := range fake.inputs {
		if opt != "RAW" {
			t.Fatalf("note written with valueInputOption %q", opt)
		}
	}
}

func TestClient_LedgerYears(t *testing.T) {
	fake := &fakeSheets{
		updated: map[string][][]any{},
		titles: []string{
			ports.SheetName("Ledger", 2023, "key-a"),
			ports.SheetName("Ledger", 2021, "key-a"),
			ports.SheetName("Ledger", 2024, "key-b"),
			"Sheet1",
		},
	}
	c := newFakeClient(t, fake)

	years, err := c.LedgerYears(context.Background(), "key-a")
	if err != nil {
		t.Fatalf("LedgerYears() error = %v", err)
	}
	if len(years) != 2 || years[0] != 2021 || years[1] != 2023 {
		t.Errorf("LedgerYears() = %v, want [2021 2023]", years)
	}
}

func TestClient_WriteLedgerNotInitialized(t *testing.T) {
	c := &Client{spreadsheetID: "test"}
	if _, err := c.WriteLedger(context.Background(), "k", 2024, nil); err == nil {
		t.Fatal("expected error with nil service")
	}
	if _, err := c.LedgerYears(context.Background(), "k"); err == nil {
		t.Fatal("expected LedgerYears error with nil service")
	}
}
