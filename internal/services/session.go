package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"freelance-erp/internal/core"
)

// RemoteStore loads and saves the whole document of one tenant.
type RemoteStore interface {
	Load(ctx context.Context) (core.Document, *time.Time, error)
	Save(ctx context.Context, doc core.Document) (time.Time, error)
}

// Session keeps a local store in step with a remote one. Saves never retry;
// concurrent writers on the same tenant resolve as last write wins.
type Session struct {
	store  *core.Store
	remote RemoteStore
	logger *slog.Logger

	// suppress blocks saves while a load replaces the store, so the loaded
	// document is never echoed back.
	suppress atomic.Bool

	mu       sync.Mutex
	lastSync *time.Time
}

func NewSession(store *core.Store, remote RemoteStore, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{store: store, remote: remote, logger: logger.With("component", "session")}
}

func (s *Session) Store() *core.Store { return s.store }

// LastSync is the server time of the last successful load or save.
func (s *Session) LastSync() *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastSync == nil {
		return nil
	}
	t := *s.lastSync
	return &t
}

func (s *Session) markSynced(t *time.Time) {
	s.mu.Lock()
	s.lastSync = t
	s.mu.Unlock()
}

// Load replaces the local document with the remote one. The local store is
// untouched on failure.
func (s *Session) Load(ctx context.Context) error {
	s.suppress.Store(true)
	defer s.suppress.Store(false)

	doc, updatedAt, err := s.remote.Load(ctx)
	if err != nil {
		return fmt.Errorf("load remote document: %w", err)
	}
	s.store.Replace(doc)
	s.markSynced(updatedAt)
	s.logger.InfoContext(ctx, "Document loaded", "clients", len(doc.Clients), "invoices", len(doc.Invoices))
	return nil
}

// Save pushes the local document. It reports false when the write was
// skipped during a load or rejected by the remote.
func (s *Session) Save(ctx context.Context) bool {
	if err := s.save(ctx); err != nil {
		s.logger.ErrorContext(ctx, "Save failed", "error", err)
		return false
	}
	return true
}

// AutoSave is the background variant of Save. Failures are logged and
// dropped; the next save carries the whole document anyway.
func (s *Session) AutoSave(ctx context.Context) {
	if err := s.save(ctx); err != nil {
		s.logger.WarnContext(ctx, "Autosave failed", "error", err)
	}
}

// ErrSaveSuppressed is returned while a load is in progress.
var ErrSaveSuppressed = errors.New("save suppressed during load")

func (s *Session) save(ctx context.Context) error {
	if s.suppress.Load() {
		return ErrSaveSuppressed
	}
	updatedAt, err := s.remote.Save(ctx, s.store.Snapshot())
	if err != nil {
		return err
	}
	s.markSynced(&updatedAt)
	return nil
}

// Apply runs a mutation against the store and saves when it succeeds. The
// mutation error, if any, is returned and nothing is saved.
func (s *Session) Apply(ctx context.Context, mutate func(*core.Store) error) (bool, error) {
	if err := mutate(s.store); err != nil {
		return false, err
	}
	return s.Save(ctx), nil
}
