package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"freelance-erp/internal/core"
	"freelance-erp/internal/log"

	_ "modernc.org/sqlite"
)

// TimestampLayout matches the ISO strings written by earlier releases.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

var (
	ErrUserNotFound = errors.New("user not found")
	ErrUserExists   = errors.New("username already exists")
)

type User struct {
	ID           int64
	Username     string
	PasswordHash string
	Email        string
	Role         string
	CreatedAt    time.Time
}

// ExportJob is a pending ledger export for one tenant.
type ExportJob struct {
	ID        int64
	TenantKey string
	Attempts  int
	LastError string
	CreatedAt time.Time
}

type SQLiteRepository struct {
	db      *sql.DB
	queries *Queries
	now     func() time.Time
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// A single writer avoids SQLITE_BUSY between the upsert and the queue insert.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	version, err := RunMigrations(dbPath)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	slog.Debug("Database schema ready", "path", dbPath, "schema_version", version)

	return &SQLiteRepository{
		db:      db,
		queries: New(db),
		now:     time.Now,
	}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Ping reports whether the database answers; used by the readiness check.
func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *SQLiteRepository) stamp() string {
	return r.now().UTC().Format(TimestampLayout)
}

// GetDocument returns the tenant document. A tenant that never saved gets the
// empty document and a nil timestamp; an unreadable payload gets the empty
// document with the stored timestamp.
func (r *SQLiteRepository) GetDocument(ctx context.Context, key string) (core.Document, *time.Time, error) {
	row, err := r.queries.GetDataStore(ctx, key)
	if errors.Is(err, sql.ErrNoRows) {
		return core.EmptyDocument(), nil, nil
	}
	if err != nil {
		return core.Document{}, nil, fmt.Errorf("get document: %w", err)
	}

	updatedAt, err := time.Parse(time.RFC3339Nano, row.UpdatedAt)
	if err != nil {
		return core.Document{}, nil, fmt.Errorf("parse updated_at %q: %w", row.UpdatedAt, err)
	}
	return decodeStored(ctx, key, []byte(row.Payload)), &updatedAt, nil
}

func decodeStored(ctx context.Context, key string, payload []byte) core.Document {
	doc := core.EmptyDocument()
	if err := json.Unmarshal(payload, &doc); err != nil {
		slog.WarnContext(ctx, "Stored payload is not valid JSON, serving defaults",
			"tenant", log.RedactTenant(key), "error", err)
		return core.EmptyDocument()
	}
	doc.Normalize()
	return doc
}

// PutDocument upserts the tenant document and queues a ledger export in the
// same transaction.
func (r *SQLiteRepository) PutDocument(ctx context.Context, key string, doc core.Document) (time.Time, error) {
	payload, err := json.Marshal(doc)
	if err != nil {
		return time.Time{}, fmt.Errorf("encode document: %w", err)
	}
	now := r.now().UTC().Truncate(time.Millisecond)
	stamp := now.Format(TimestampLayout)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return time.Time{}, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	q := r.queries.WithTx(tx)
	if err := q.UpsertDataStore(ctx, UpsertDataStoreParams{APIKey: key, Payload: string(payload), UpdatedAt: stamp}); err != nil {
		return time.Time{}, fmt.Errorf("upsert document: %w", err)
	}
	if _, err := q.EnqueueExport(ctx, key, stamp); err != nil {
		return time.Time{}, fmt.Errorf("enqueue export: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return time.Time{}, fmt.Errorf("commit document: %w", err)
	}

	slog.InfoContext(ctx, "Document saved to SQLite", "tenant", log.RedactTenant(key), "bytes", len(payload), "updated_at", stamp)
	return now, nil
}

func (r *SQLiteRepository) ListTenants(ctx context.Context) ([]string, error) {
	keys, err := r.queries.ListDataStoreKeys(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tenants: %w", err)
	}
	return keys, nil
}

func toUser(row UserRow) User {
	created, _ := time.Parse(time.RFC3339Nano, row.CreatedAt)
	return User{
		ID:           row.ID,
		Username:     row.Username,
		PasswordHash: row.PasswordHash,
		Email:        row.Email,
		Role:         row.Role,
		CreatedAt:    created,
	}
}

func (r *SQLiteRepository) CreateUser(ctx context.Context, username, passwordHash, email, role string) (User, error) {
	row, err := r.queries.CreateUser(ctx, CreateUserParams{
		Username:     username,
		PasswordHash: passwordHash,
		Email:        email,
		Role:         role,
		CreatedAt:    r.stamp(),
	})
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return User{}, fmt.Errorf("create user %q: %w", username, ErrUserExists)
		}
		return User{}, fmt.Errorf("create user: %w", err)
	}
	return toUser(row), nil
}

func (r *SQLiteRepository) GetUserByUsername(ctx context.Context, username string) (User, error) {
	row, err := r.queries.GetUserByUsername(ctx, username)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrUserNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("get user by username: %w", err)
	}
	return toUser(row), nil
}

func (r *SQLiteRepository) GetUserByID(ctx context.Context, id int64) (User, error) {
	row, err := r.queries.GetUserByID(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrUserNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("get user by id: %w", err)
	}
	return toUser(row), nil
}

func (r *SQLiteRepository) UpdatePassword(ctx context.Context, id int64, passwordHash string) error {
	n, err := r.queries.UpdateUserPassword(ctx, passwordHash, id)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	if n == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (r *SQLiteRepository) CountUsers(ctx context.Context) (int, error) {
	n, err := r.queries.CountUsers(ctx)
	if err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return int(n), nil
}

// EnqueueExport queues a ledger export unless one is already pending.
func (r *SQLiteRepository) EnqueueExport(ctx context.Context, key string) error {
	if _, err := r.queries.EnqueueExport(ctx, key, r.stamp()); err != nil {
		return fmt.Errorf("enqueue export: %w", err)
	}
	return nil
}

// DequeueExports returns up to limit pending jobs that still have retries left.
func (r *SQLiteRepository) DequeueExports(ctx context.Context, limit, maxAttempts int) ([]ExportJob, error) {
	rows, err := r.queries.GetPendingExports(ctx, int64(maxAttempts), int64(limit))
	if err != nil {
		return nil, fmt.Errorf("get pending exports: %w", err)
	}
	jobs := make([]ExportJob, len(rows))
	for i, row := range rows {
		created, _ := time.Parse(time.RFC3339Nano, row.CreatedAt)
		jobs[i] = ExportJob{
			ID:        row.ID,
			TenantKey: row.TenantKey,
			Attempts:  int(row.Attempts),
			LastError: row.LastError,
			CreatedAt: created,
		}
	}
	return jobs, nil
}

func (r *SQLiteRepository) MarkExportDone(ctx context.Context, id int64) error {
	if err := r.queries.MarkExportDone(ctx, r.stamp(), id); err != nil {
		return fmt.Errorf("mark export done: %w", err)
	}
	slog.InfoContext(ctx, "Export marked as done", "id", id)
	return nil
}

// MarkExportFailed records cause; the job moves to error once maxAttempts is reached.
func (r *SQLiteRepository) MarkExportFailed(ctx context.Context, id int64, cause error, maxAttempts int) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	err := r.queries.MarkExportFailed(ctx, MarkExportFailedParams{
		LastError:   msg,
		MaxAttempts: int64(maxAttempts),
		UpdatedAt:   r.stamp(),
		ID:          id,
	})
	if err != nil {
		return fmt.Errorf("mark export failed: %w", err)
	}
	slog.WarnContext(ctx, "Export marked with error", "id", id, "error", msg)
	return nil
}

// CleanupExports deletes finished jobs last touched before olderThan ago.
func (r *SQLiteRepository) CleanupExports(ctx context.Context, olderThan time.Duration) (int, error) {
	before := r.now().Add(-olderThan).UTC().Format(TimestampLayout)
	n, err := r.queries.DeleteFinishedExports(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("cleanup exports: %w", err)
	}
	return int(n), nil
}
