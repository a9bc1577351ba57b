package http

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"freelance-erp/internal/auth"
	"freelance-erp/internal/cache"
	"freelance-erp/internal/core"
	"freelance-erp/internal/log"
	"freelance-erp/internal/services"
	"freelance-erp/internal/storage"
)

const validPayload = `{"data": {
	"clients": [{"id": 1, "company": "Acme", "siren": "123456789", "status": "active"}],
	"missions": [{"id": 1, "title": "Build", "clientId": 1, "startDate": "2024-01-08", "dailyRate": 500, "status": "En cours"}],
	"operations": [
		{"id": 1, "type": "payment", "date": "2024-04-15", "amount": 6000, "note": "FA24-10001"},
		{"id": 2, "type": "vat", "date": "2024-05-01", "amount": 1000, "note": "Q1"}
	]
}}`

type testEnv struct {
	srv  *Server
	docs *services.DocumentService
	auth *auth.Service
	h    http.Handler
}

func newTestServer(t *testing.T) *testEnv {
	t.Helper()
	repo := storage.NewMemoryRepository(nil)
	docs := services.NewDocumentService(repo, nil, cache.NewLRUCache[core.Dashboard](16, time.Minute))
	authSvc := auth.NewService(repo, auth.NewTokens("test-secret", time.Hour), nil)
	logger := log.New(log.Config{Level: slog.LevelError, Output: io.Discard})

	srv := NewServer(Options{BodyLimit: 4096, RateLimit: 1000}, Deps{
		Documents: docs,
		Auth:      authSvc,
		APIKeys:   auth.NewAPIKeys([]string{"key-one", "key-two"}),
		Logger:    logger,
	})
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })
	return &testEnv{srv: srv, docs: docs, auth: authSvc, h: srv.Handler}
}

func (e *testEnv) do(t *testing.T, method, target, body string, mutate func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, rdr)
	req.Header.Set("Content-Type", "application/json")
	if mutate != nil {
		mutate(req)
	}
	rec := httptest.NewRecorder()
	e.h.ServeHTTP(rec, req)
	return rec
}

func withKey(key string) func(*http.Request) {
	return func(r *http.Request) { r.Header.Set(APIKeyHeader, key) }
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealth(t *testing.T) {
	env := newTestServer(t)

	rec := env.do(t, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]any](t, rec)
	assert.Equal(t, true, body["ok"])
	assert.NotEmpty(t, body["now"])
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))

	rec = env.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())

	rec = env.do(t, http.MethodGet, "/readyz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestServer(t)
	env.do(t, http.MethodGet, "/health", "", nil)

	rec := env.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `erp_http_requests_total{method="GET",route="GET /health",status="200"} 1`)
}

func TestAPIKeyAuth(t *testing.T) {
	env := newTestServer(t)

	rec := env.do(t, http.MethodGet, "/api/data", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Missing API key", decode[ErrorBody](t, rec).Error)

	rec = env.do(t, http.MethodGet, "/api/data", "", withKey("nope"))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "Invalid API key", decode[ErrorBody](t, rec).Error)
}

func TestGetData_EmptyTenant(t *testing.T) {
	env := newTestServer(t)

	rec := env.do(t, http.MethodGet, "/api/data", "", withKey("key-one"))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Data      core.Document `json:"data"`
		UpdatedAt *string       `json:"updatedAt"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Nil(t, body.UpdatedAt)
	assert.Empty(t, body.Data.Clients)
	assert.Contains(t, rec.Body.String(), `"updatedAt":null`)
}

func TestPutData_RoundTripAndIsolation(t *testing.T) {
	env := newTestServer(t)

	rec := env.do(t, http.MethodPut, "/api/data", validPayload, withKey("key-one"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	saved := decode[savedResponse](t, rec)
	assert.True(t, saved.OK)
	_, err := time.Parse(storage.TimestampLayout, saved.UpdatedAt)
	require.NoError(t, err)

	rec = env.do(t, http.MethodGet, "/api/data", "", withKey("key-one"))
	body := decode[dataResponse](t, rec)
	require.Len(t, body.Data.Clients, 1)
	assert.Equal(t, "Acme", body.Data.Clients[0].Company)
	require.NotNil(t, body.UpdatedAt)
	assert.Equal(t, saved.UpdatedAt, *body.UpdatedAt)

	rec = env.do(t, http.MethodGet, "/api/data", "", withKey("key-two"))
	assert.Empty(t, decode[dataResponse](t, rec).Data.Clients)
}

func TestPutData_Rejections(t *testing.T) {
	env := newTestServer(t)

	tests := []struct {
		name    string
		body    string
		status  int
		message string
		details bool
	}{
		{"missing data", `{"clients": []}`, http.StatusBadRequest, msgBadDataBody, false},
		{"array data", `{"data": []}`, http.StatusBadRequest, msgBadDataBody, false},
		{"not json", `data=1`, http.StatusBadRequest, msgBadDataBody, false},
		{"invalid document", `{"data": {"missions": [{"id": 1, "title": "X", "clientId": 9}]}}`, http.StatusBadRequest, "Invalid data", true},
		{"too large", `{"data": {"notes": "` + strings.Repeat("x", 5000) + `"}}`, http.StatusRequestEntityTooLarge, "Payload too large", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPut, "/api/data", tt.body, withKey("key-one"))
			assert.Equal(t, tt.status, rec.Code)
			body := decode[ErrorBody](t, rec)
			assert.Equal(t, tt.message, body.Error)
			if tt.details {
				assert.NotEmpty(t, body.Details)
			}
		})
	}

	rec := env.do(t, http.MethodGet, "/api/data", "", withKey("key-one"))
	assert.Contains(t, rec.Body.String(), `"updatedAt":null`, "rejected saves must not persist")
}

func TestReadModels(t *testing.T) {
	env := newTestServer(t)
	rec := env.do(t, http.MethodPut, "/api/data", validPayload, withKey("key-one"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = env.do(t, http.MethodGet, "/api/dashboard?year=2024", "", withKey("key-one"))
	require.Equal(t, http.StatusOK, rec.Code)
	d := decode[core.Dashboard](t, rec)
	require.NotNil(t, d.Year)
	assert.Equal(t, 2024, *d.Year)
	assert.Equal(t, 1, d.ActiveClients)
	assert.Equal(t, 1, d.ActiveMissions)

	rec = env.do(t, http.MethodGet, "/api/dashboard?year=abc", "", withKey("key-one"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/expenses?year=2024&type=vat", "", withKey("key-one"))
	require.Equal(t, http.StatusOK, rec.Code)
	summary := decode[core.ExpenseSummary](t, rec)
	assert.Equal(t, 1000.0, summary.Expenses)

	rec = env.do(t, http.MethodGet, "/api/expenses?type=lunch", "", withKey("key-one"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/ledger/check", "", withKey("key-one"))
	require.Equal(t, http.StatusOK, rec.Code)
	check := decode[map[string]any](t, rec)
	assert.Contains(t, check, "problems")

	rec = env.do(t, http.MethodGet, "/api/invoices/next-number", "", withKey("key-one"))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Regexp(t, `^FA\d{2}-1\d{4}$`, decode[map[string]string](t, rec)["number"])
}

func TestExportImport(t *testing.T) {
	env := newTestServer(t)
	rec := env.do(t, http.MethodPut, "/api/data", validPayload, withKey("key-one"))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/export", "", withKey("key-one"))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "attachment")
	exported := rec.Body.String()
	env2 := decode[core.Envelope](t, rec)
	assert.Equal(t, core.ExportVersion, env2.Version)

	rec = env.do(t, http.MethodPost, "/api/import?mode=replace", exported, withKey("key-two"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = env.do(t, http.MethodGet, "/api/data", "", withKey("key-two"))
	assert.Len(t, decode[dataResponse](t, rec).Data.Clients, 1)

	rec = env.do(t, http.MethodPost, "/api/import", `{"version": "1.0"}`, withKey("key-two"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid import file", decode[ErrorBody](t, rec).Error)

	rec = env.do(t, http.MethodPost, "/api/import?mode=append", exported, withKey("key-two"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUnknownRoute(t *testing.T) {
	env := newTestServer(t)
	rec := env.do(t, http.MethodGet, "/nowhere", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Not found", decode[ErrorBody](t, rec).Error)
}

func TestCORSPreflight(t *testing.T) {
	env := newTestServer(t)
	rec := env.do(t, http.MethodOptions, "/api/data", "", func(r *http.Request) {
		r.Header.Set("Origin", "https://erp.example.com")
		r.Header.Set("Access-Control-Request-Method", http.MethodPut)
		r.Header.Set("Access-Control-Request-Headers", APIKeyHeader)
	})
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRateLimit(t *testing.T) {
	repo := storage.NewMemoryRepository(nil)
	srv := NewServer(Options{RateLimit: 2}, Deps{
		Documents: services.NewDocumentService(repo, nil, nil),
		Logger:    log.New(log.Config{Level: slog.LevelError, Output: io.Discard}),
	})
	defer srv.Shutdown(context.Background())

	var last *httptest.ResponseRecorder
	for i := 0; i < 3; i++ {
		last = httptest.NewRecorder()
		srv.Handler.ServeHTTP(last, httptest.NewRequest(http.MethodGet, "/health", nil))
	}
	assert.Equal(t, http.StatusTooManyRequests, last.Code)
	assert.NotEmpty(t, last.Header().Get("Retry-After"))
}

func TestShutdownTwice(t *testing.T) {
	env := newTestServer(t)
	require.NoError(t, env.srv.Shutdown(context.Background()))
	require.NoError(t, env.srv.Shutdown(context.Background()))
}
