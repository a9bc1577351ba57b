package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"time"

	"freelance-erp/internal/client"
	"freelance-erp/internal/core"
	"freelance-erp/internal/services"
)

// newSession builds a sync session against ERP_REMOTE_URL.
func newSession(env *environment) (*services.Session, error) {
	if env.cfg.RemoteURL == "" || env.cfg.RemoteAPIKey == "" {
		return nil, errors.New("ERP_REMOTE_URL and ERP_REMOTE_API_KEY must be set")
	}
	remote := client.NewRemote(env.cfg.RemoteURL, env.cfg.RemoteAPIKey)
	store := core.NewStore(core.EmptyDocument(), time.Now)
	return services.NewSession(store, remote, env.logger.Logger), nil
}

func runPull(ctx context.Context, env *environment, args []string) error {
	fs := flag.NewFlagSet("pull", flag.ContinueOnError)
	out := fs.String("o", "", "output file, stdout when empty")
	if err := fs.Parse(args); err != nil {
		return err
	}
	session, err := newSession(env)
	if err != nil {
		return err
	}
	if err := session.Load(ctx); err != nil {
		return err
	}

	return writeJSON(*out, core.Export(session.Store().Snapshot(), time.Now()))
}

func runPush(ctx context.Context, env *environment, args []string) error {
	fs := flag.NewFlagSet("push", flag.ContinueOnError)
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
	session, err := newSession(env)
	if err != nil {
		return err
	}

	session.Store().Replace(doc)
	if !session.Save(ctx) {
		return errors.New("remote rejected the document, see the log for details")
	}
	if t := session.LastSync(); t != nil {
		fmt.Printf("pushed %s, remote updated at %s\n", path, t.UTC().Format(time.RFC3339))
	}
	return nil
}

// runInvoiceFromCRA drafts the invoice of a CRA on the remote document and
// saves it, the way the web interface does.
func runInvoiceFromCRA(ctx context.Context, env *environment, args []string) error {
	fs := flag.NewFlagSet("invoice-from-cra", flag.ContinueOnError)
	craID := fs.Int("cra", 0, "CRA id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *craID <= 0 {
		return errors.New("-cra is required")
	}
	session, err := newSession(env)
	if err != nil {
		return err
	}
	if err := session.Load(ctx); err != nil {
		return err
	}

	var saved core.Invoice
	ok, err := session.Apply(ctx, func(s *core.Store) error {
		draft, err := s.GenerateInvoiceFromCRA(*craID)
		if err != nil {
			return err
		}
		saved, err = s.SaveInvoice(draft)
		return err
	})
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("invoice drafted but the remote save failed")
	}
	fmt.Printf("invoice %s drafted: %s HT\n", saved.Number, core.FormatEuros(saved.Amount))
	return nil
}
