package app

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sasha-gershtein/Sodia/cmd/security/token"
)

func newTestApp(t *testing.T) *App {
	t.Helper()
	t.Setenv(token.HMACEnvKey, strings.Repeat("s", token.MinBytes))

	cfg := Config{
		HTTPAddr:               "127.0.0.1:0",
		SQLitePath:             filepath.Join(t.TempDir(), "app.db"),
		ReadinessRequireDB:     true,
		CookieName:             "auth",
		CookiePath:             "/",
		CookieSecure:           true,
		CookieSameSite:         "lax",
		SessionCleanupInterval: time.Minute,
	}
	require.NoError(t, cfg.Validate())

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	a, err := New(context.Background(), cfg, log)
	require.NoError(t, err)
	t.Cleanup(a.Close)
	return a
}

func get(t *testing.T, c *http.Client, url string) (int, string, http.Header) {
	t.Helper()
	resp, err := c.Get(url)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(b), resp.Header
}

func TestApp_ProbesAndMetrics(t *testing.T) {
	a := newTestApp(t)
	srv := httptest.NewServer(a.Handler())
	defer srv.Close()

	status, body, hdr := get(t, srv.Client(), srv.URL+"/healthz")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok\n", body)
	assert.Equal(t, "nosniff", hdr.Get("X-Content-Type-Options"))

	status, body, _ = get(t, srv.Client(), srv.URL+"/readyz")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ready\n", body)

	status, body, _ = get(t, srv.Client(), srv.URL+"/metrics")
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, `sodia_auth_gate_resolutions_total{state="no_token"}`)
	assert.Contains(t, body, "sodia_sessions_expired_deleted_total")
	assert.Contains(t, body, "go_goroutines")
}

func TestApp_ReadyzFailsWhenStoreIsGone(t *testing.T) {
	a := newTestApp(t)
	srv := httptest.NewServer(a.Handler())
	defer srv.Close()

	a.Close()

	status, _, _ := get(t, srv.Client(), srv.URL+"/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, status)
}

func TestApp_RegisterThenCleanupExpired(t *testing.T) {
	a := newTestApp(t)
	srv := httptest.NewServer(a.Handler())
	defer srv.Close()

	body := `{"email":"app@example.com","password":"Very-Strong-Password-1!","first_name":"App","last_name":"Test"}`
	resp, err := srv.Client().Post(srv.URL+"/auth/register", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var authCookie *http.Cookie
	for _, ck := range resp.Cookies() {
		if ck.Name == "auth" {
			authCookie = ck
		}
	}
	require.NotNil(t, authCookie)
	assert.True(t, authCookie.HttpOnly)
	assert.True(t, authCookie.Secure)

	ctx := context.Background()
	assert.EqualValues(t, 0, a.cleanupOnce(ctx, time.Now()))
	assert.EqualValues(t, 1, a.cleanupOnce(ctx, time.Now().Add(a.sessions.TTL()+time.Minute)))
	assert.InDelta(t, 1, testutil.ToFloat64(a.cleanup.deleted), 0)
	assert.InDelta(t, 0, testutil.ToFloat64(a.cleanup.failures), 0)
}

func TestApp_RunStopsOnCancel(t *testing.T) {
	a := newTestApp(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatalf("Run did not return after cancel")
	}
}

func TestNew_RequiresHMACKeyWhenPolicyDemandsIt(t *testing.T) {
	t.Setenv(token.HMACEnvKey, "")

	cfg := Config{
		HTTPAddr:               "127.0.0.1:0",
		SQLitePath:             filepath.Join(t.TempDir(), "app.db"),
		RequireTokenHMAC:       true,
		SessionCleanupInterval: time.Minute,
	}
	_, err := New(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "security policy")
}
