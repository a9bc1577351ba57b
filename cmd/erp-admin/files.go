package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"freelance-erp/internal/core"
)

var errInvalidDocument = errors.New("document is invalid")

// readPayload returns the document object of an export file, or the file
// itself when it is a bare document.
func readPayload(path string) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var head struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, fmt.Errorf("%s is not JSON: %w", path, err)
	}
	if d := bytes.TrimSpace(head.Data); len(d) > 0 && d[0] == '{' {
		return d, nil
	}
	return raw, nil
}

// readDocument decodes path and fails on validation errors.
func readDocument(path string) (core.Document, error) {
	raw, err := readPayload(path)
	if err != nil {
		return core.Document{}, err
	}
	doc, res := core.DecodePayload(raw)
	if !res.Valid {
		return core.Document{}, fmt.Errorf("%w: %s", errInvalidDocument, strings.Join(res.Errors, "; "))
	}
	return doc, nil
}

func fileArg(fs *flag.FlagSet) (string, error) {
	if fs.NArg() != 1 {
		return "", errors.New("expected exactly one FILE argument")
	}
	return fs.Arg(0), nil
}

// writeJSON writes v indented to path, or to stdout when path is empty.
func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	if path == "" {
		_, err = os.Stdout.Write(append(data, '\n'))
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func euros(v float64) string {
	return core.FormatEuros(v)
}

func runValidate(_ context.Context, _ *environment, args []string) error {
	fs := flag.NewFlagSet("validate", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	path, err := fileArg(fs)
	if err != nil {
		return err
	}
	raw, err := readPayload(path)
	if err != nil {
		return err
	}
	doc, res := core.DecodePayload(raw)
	if !res.Valid {
		for _, e := range res.Errors {
			fmt.Println("  -", e)
		}
		return fmt.Errorf("%w (%d problems)", errInvalidDocument, len(res.Errors))
	}
	problems := core.CheckLedger(doc)
	fmt.Printf("%s is valid: %d clients, %d missions, %d CRAs, %d invoices, %d operations\n",
		path, len(doc.Clients), len(doc.Missions), len(doc.CRAs), len(doc.Invoices), len(doc.Operations))
	for _, p := range problems {
		fmt.Println("  ledger:", p)
	}
	return nil
}

func runSummary(_ context.Context, _ *environment, args []string) error {
	fs := flag.NewFlagSet("summary", flag.ContinueOnError)
	year := fs.Int("year", 0, "restrict to a calendar year")
	if err := fs.Parse(args); err != nil {
		return err
	}
	path, err := fileArg(fs)
	if err != nil {
		return err
	}
	doc, err := readDocument(path)
	if err != nil {
		return err
	}

	var y *int
	if *year != 0 {
		y = year
	}
	printSummary(os.Stdout, doc, y, time.Now())
	return nil
}

func printSummary(w io.Writer, doc core.Document, year *int, now time.Time) {
	d := core.BuildDashboard(doc, year, now)
	scope := "all years"
	if year != nil {
		scope = fmt.Sprintf("%d", *year)
	}
	fmt.Fprintf(w, "Dashboard (%s)\n", scope)
	fmt.Fprintf(w, "  recognized revenue  %s\n", euros(d.RecognizedRevenue))
	fmt.Fprintf(w, "  pending revenue     %s\n", euros(d.PendingRevenue))
	fmt.Fprintf(w, "  generated revenue   %s\n", euros(d.GeneratedRevenue))
	fmt.Fprintf(w, "  active clients      %d\n", d.ActiveClients)
	fmt.Fprintf(w, "  active missions     %d\n", d.ActiveMissions)
	fmt.Fprintf(w, "  pending invoices    %d\n", d.PendingInvoices)
	fmt.Fprintf(w, "  worked days         %g\n", d.TotalWorkedDays)
	if d.BestRevenueMonth != nil {
		fmt.Fprintf(w, "  best revenue month  %s\n", d.BestRevenueMonth.Month)
	}

	e := core.ExpensesFor(doc, year, "")
	fmt.Fprintln(w, "Expenses")
	base := "TTC"
	if e.HTBase {
		base = "HT"
	}
	fmt.Fprintf(w, "  payments            %s (base %s %s)\n", euros(e.PaymentTotalTTC), base, euros(e.PaymentBaseHT))
	for _, l := range e.Lines {
		note := ""
		if l.Excluded {
			note = " (excluded)"
		}
		fmt.Fprintf(w, "  %-19s %s %s%%%s\n", l.Type, euros(l.Amount), l.Share, note)
	}
	fmt.Fprintf(w, "  net                 %s\n", euros(e.Net))
}

func runNextNumber(_ context.Context, _ *environment, args []string) error {
	fs := flag.NewFlagSet("next-number", flag.ContinueOnError)
	date := fs.String("date", "", "invoice date, today when empty")
	if err := fs.Parse(args); err != nil {
		return err
	}
	path, err := fileArg(fs)
	if err != nil {
		return err
	}
	doc, err := readDocument(path)
	if err != nil {
		return err
	}
	now := time.Now()
	fmt.Println(core.NextInvoiceNumber(doc.Invoices, *date, now))
	return nil
}

// runReconcile rebuilds the payment operations of a document and writes the
// result as an export envelope.
func runReconcile(_ context.Context, _ *environment, args []string) error {
	fs := flag.NewFlagSet("reconcile", flag.ContinueOnError)
	out := fs.String("o", "", "output file, stdout when empty")
	if err := fs.Parse(args); err != nil {
		return err
	}
	path, err := fileArg(fs)
	if err != nil {
		return err
	}
	doc, err := readDocument(path)
	if err != nil {
		return err
	}

	now := time.Now()
	before := len(core.CheckLedger(doc))
	fixed := core.ReconcileLedger(doc, core.Today(now))
	for _, p := range core.CheckLedger(fixed) {
		fmt.Fprintln(os.Stderr, "  still inconsistent:", p)
	}
	fmt.Fprintf(os.Stderr, "%d ledger problem(s) before reconcile\n", before)

	return writeJSON(*out, core.Export(fixed, now))
}
