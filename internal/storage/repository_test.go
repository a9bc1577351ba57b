package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"freelance-erp/internal/core"
)

// repo is the method set shared by both implementations.
type repo interface {
	GetDocument(ctx context.Context, key string) (core.Document, *time.Time, error)
	PutDocument(ctx context.Context, key string, doc core.Document) (time.Time, error)
	ListTenants(ctx context.Context) ([]string, error)
	CreateUser(ctx context.Context, username, passwordHash, email, role string) (User, error)
	GetUserByUsername(ctx context.Context, username string) (User, error)
	GetUserByID(ctx context.Context, id int64) (User, error)
	UpdatePassword(ctx context.Context, id int64, passwordHash string) error
	CountUsers(ctx context.Context) (int, error)
	EnqueueExport(ctx context.Context, key string) error
	DequeueExports(ctx context.Context, limit, maxAttempts int) ([]ExportJob, error)
	MarkExportDone(ctx context.Context, id int64) error
	MarkExportFailed(ctx context.Context, id int64, cause error, maxAttempts int) error
	CleanupExports(ctx context.Context, olderThan time.Duration) (int, error)
	Close() error
}

var clock = time.Date(2024, 6, 15, 10, 0, 0, 0, time.UTC)

func newSQLite(t *testing.T) *SQLiteRepository {
	t.Helper()
	r, err := NewSQLiteRepository(filepath.Join(t.TempDir(), "nested", "erp-data.db"))
	require.NoError(t, err)
	r.now = func() time.Time { return clock }
	t.Cleanup(func() { r.Close() })
	return r
}

func implementations(t *testing.T) map[string]repo {
	return map[string]repo{
		"sqlite": newSQLite(t),
		"memory": NewMemoryRepository(func() time.Time { return clock }),
	}
}

func sampleDocument() core.Document {
	doc := core.EmptyDocument()
	doc.Clients = append(doc.Clients, core.Client{ID: 1, Company: "Acme", SIREN: "123456789", Status: core.ClientActive})
	doc.Missions = append(doc.Missions, core.Mission{ID: 1, Title: "Build", ClientID: 1, DailyRate: 500, Status: core.MissionActive})
	doc.Company = core.CompanyProfile{Name: "Me", TVAID: "FR00"}
	return doc
}

func TestRepository_Documents(t *testing.T) {
	ctx := context.Background()
	for name, r := range implementations(t) {
		t.Run(name, func(t *testing.T) {
			doc, updatedAt, err := r.GetDocument(ctx, "missing")
			require.NoError(t, err)
			assert.Nil(t, updatedAt)
			assert.Empty(t, doc.Clients)
			assert.NotNil(t, doc.Operations)

			saved, err := r.PutDocument(ctx, "key-a", sampleDocument())
			require.NoError(t, err)
			assert.True(t, saved.Equal(clock))

			got, updatedAt, err := r.GetDocument(ctx, "key-a")
			require.NoError(t, err)
			require.NotNil(t, updatedAt)
			assert.True(t, updatedAt.Equal(saved))
			require.Len(t, got.Clients, 1)
			assert.Equal(t, "Acme", got.Clients[0].Company)
			assert.Equal(t, "FR00", got.Company.TVAID)

			next := sampleDocument()
			next.Clients[0].Company = "Acme SAS"
			_, err = r.PutDocument(ctx, "key-a", next)
			require.NoError(t, err)
			got, _, err = r.GetDocument(ctx, "key-a")
			require.NoError(t, err)
			assert.Equal(t, "Acme SAS", got.Clients[0].Company)

			_, err = r.PutDocument(ctx, "key-b", core.EmptyDocument())
			require.NoError(t, err)
			tenants, err := r.ListTenants(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{"key-a", "key-b"}, tenants)
		})
	}
}

func TestSQLiteRepository_CorruptPayloadServesDefaults(t *testing.T) {
	ctx := context.Background()
	r := newSQLite(t)
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO data_store (api_key, payload, updated_at) VALUES (?, ?, ?)`,
		"broken", "{not json", "2024-01-01T00:00:00.000Z")
	require.NoError(t, err)

	doc, updatedAt, err := r.GetDocument(ctx, "broken")
	require.NoError(t, err)
	require.NotNil(t, updatedAt)
	assert.Equal(t, 2024, updatedAt.Year())
	assert.Empty(t, doc.Invoices)
	assert.NotNil(t, doc.CRAs)
}

func TestSQLiteRepository_LegacyPayloadIsNormalized(t *testing.T) {
	ctx := context.Background()
	r := newSQLite(t)
	legacy := `{"clients":[{"id":1,"company":"Old","siren":"123456789","address":"1 rue"}],"missions":[],"invoices":[],"company":{"tva_value":"FR11"}}`
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO data_store (api_key, payload, updated_at) VALUES (?, ?, ?)`,
		"legacy", legacy, "2023-05-01T08:00:00.000Z")
	require.NoError(t, err)

	doc, _, err := r.GetDocument(ctx, "legacy")
	require.NoError(t, err)
	assert.Equal(t, core.ClientActive, doc.Clients[0].Status)
	assert.Equal(t, "1 rue", doc.Clients[0].BillingAddress)
	assert.Equal(t, "FR11", doc.Company.TVAID)
	assert.NotNil(t, doc.CRAs)
	assert.NotNil(t, doc.Operations)
}

func TestRepository_Users(t *testing.T) {
	ctx := context.Background()
	for name, r := range implementations(t) {
		t.Run(name, func(t *testing.T) {
			n, err := r.CountUsers(ctx)
			require.NoError(t, err)
			assert.Equal(t, 0, n)

			u, err := r.CreateUser(ctx, "admin", "hash-1", "admin@example.com", "admin")
			require.NoError(t, err)
			assert.NotZero(t, u.ID)
			assert.Equal(t, "admin", u.Role)

			_, err = r.CreateUser(ctx, "admin", "hash-2", "", "user")
			assert.True(t, errors.Is(err, ErrUserExists), "got %v", err)

			byName, err := r.GetUserByUsername(ctx, "admin")
			require.NoError(t, err)
			assert.Equal(t, u.ID, byName.ID)

			require.NoError(t, r.UpdatePassword(ctx, u.ID, "hash-3"))
			byID, err := r.GetUserByID(ctx, u.ID)
			require.NoError(t, err)
			assert.Equal(t, "hash-3", byID.PasswordHash)

			_, err = r.GetUserByUsername(ctx, "nobody")
			assert.ErrorIs(t, err, ErrUserNotFound)
			assert.ErrorIs(t, r.UpdatePassword(ctx, 999, "x"), ErrUserNotFound)

			n, err = r.CountUsers(ctx)
			require.NoError(t, err)
			assert.Equal(t, 1, n)
		})
	}
}

func TestRepository_ExportQueue(t *testing.T) {
	ctx := context.Background()
	for name, r := range implementations(t) {
		t.Run(name, func(t *testing.T) {
			_, err := r.PutDocument(ctx, "key-a", sampleDocument())
			require.NoError(t, err)
			// A second save while pending does not queue twice.
			_, err = r.PutDocument(ctx, "key-a", sampleDocument())
			require.NoError(t, err)
			require.NoError(t, r.EnqueueExport(ctx, "key-b"))

			jobs, err := r.DequeueExports(ctx, 10, 3)
			require.NoError(t, err)
			require.Len(t, jobs, 2)
			assert.Equal(t, "key-a", jobs[0].TenantKey)
			assert.Equal(t, "key-b", jobs[1].TenantKey)

			require.NoError(t, r.MarkExportDone(ctx, jobs[0].ID))
			require.NoError(t, r.MarkExportFailed(ctx, jobs[1].ID, errors.New("sheets down"), 2))

			jobs, err = r.DequeueExports(ctx, 10, 2)
			require.NoError(t, err)
			require.Len(t, jobs, 1)
			assert.Equal(t, 1, jobs[0].Attempts)
			assert.Equal(t, "sheets down", jobs[0].LastError)

			require.NoError(t, r.MarkExportFailed(ctx, jobs[0].ID, errors.New("sheets down"), 2))
			jobs, err = r.DequeueExports(ctx, 10, 2)
			require.NoError(t, err)
			assert.Empty(t, jobs)

			// Done jobs newer than the cutoff survive, older ones go.
			removed, err := r.CleanupExports(ctx, time.Hour)
			require.NoError(t, err)
			assert.Equal(t, 0, removed)
			removed, err = r.CleanupExports(ctx, -time.Minute)
			require.NoError(t, err)
			assert.Equal(t, 1, removed)
		})
	}
}

func TestNewSQLiteRepository_CreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a", "b")
	r, err := NewSQLiteRepository(filepath.Join(dir, "erp.db"))
	require.NoError(t, err)
	defer r.Close()

	_, err = os.Stat(dir)
	assert.NoError(t, err)
	assert.NoError(t, r.Ping(context.Background()))
}
