package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"freelance-erp/internal/auth"
)

func sessionCookie(t *testing.T, rec *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range rec.Result().Cookies() {
		if c.Name == auth.CookieName {
			return c
		}
	}
	t.Fatalf("no %s cookie in response", auth.CookieName)
	return nil
}

func login(t *testing.T, env *testEnv, username, password string) *http.Cookie {
	t.Helper()
	rec := env.do(t, http.MethodPost, "/api/auth/login",
		`{"username":"`+username+`","password":"`+password+`"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return sessionCookie(t, rec)
}

func withCookie(c *http.Cookie) func(*http.Request) {
	return func(r *http.Request) { r.AddCookie(c) }
}

func TestLogin(t *testing.T) {
	env := newTestServer(t)
	_, err := env.auth.SeedAdmin(context.Background(), "admin", "admin123", "admin@example.com")
	require.NoError(t, err)

	rec := env.do(t, http.MethodPost, "/api/auth/login", `{"username":"admin","password":"wrong"}`, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Invalid credentials", decode[ErrorBody](t, rec).Error)

	rec = env.do(t, http.MethodPost, "/api/auth/login", `{"username":"admin"}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/auth/login", `{"username":"admin","password":"admin123"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	cookie := sessionCookie(t, rec)
	assert.True(t, cookie.HttpOnly)
	assert.False(t, cookie.Secure, "secure cookies are for production only")
	assert.Greater(t, cookie.MaxAge, 0)

	body := decode[struct {
		User userResponse `json:"user"`
	}](t, rec)
	assert.Equal(t, "admin", body.User.Username)
	assert.Equal(t, auth.RoleAdmin, body.User.Role)
}

func TestSessionRoutes(t *testing.T) {
	env := newTestServer(t)
	_, err := env.auth.SeedAdmin(context.Background(), "admin", "admin123", "")
	require.NoError(t, err)

	rec := env.do(t, http.MethodGet, "/api/auth/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	cookie := login(t, env, "admin", "admin123")

	rec = env.do(t, http.MethodGet, "/api/auth/me", "", withCookie(cookie))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"username":"admin"`)

	rec = env.do(t, http.MethodPut, "/api/web/data", validPayload, withCookie(cookie))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	doc, updatedAt, err := env.docs.Load(context.Background(), auth.TenantForUser(1))
	require.NoError(t, err)
	require.NotNil(t, updatedAt)
	assert.Len(t, doc.Clients, 1)

	rec = env.do(t, http.MethodGet, "/api/web/dashboard?year=2024", "", withCookie(cookie))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/web/data", "", withCookie(&http.Cookie{Name: auth.CookieName, Value: "forged"}))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, -1, sessionCookie(t, rec).MaxAge)
}

func TestLogout(t *testing.T) {
	env := newTestServer(t)
	rec := env.do(t, http.MethodPost, "/api/auth/logout", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	cookie := sessionCookie(t, rec)
	assert.Equal(t, "", cookie.Value)
	assert.Equal(t, -1, cookie.MaxAge)
}

func TestChangePassword(t *testing.T) {
	env := newTestServer(t)
	_, err := env.auth.SeedAdmin(context.Background(), "admin", "admin123", "")
	require.NoError(t, err)
	cookie := login(t, env, "admin", "admin123")

	rec := env.do(t, http.MethodPost, "/api/auth/change-password",
		`{"currentPassword":"admin123","newPassword":"short"}`, withCookie(cookie))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/auth/change-password",
		`{"currentPassword":"wrong-one","newPassword":"a-longer-pass"}`, withCookie(cookie))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/auth/change-password",
		`{"currentPassword":"admin123","newPassword":"a-longer-pass"}`, withCookie(cookie))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	login(t, env, "admin", "a-longer-pass")
}
