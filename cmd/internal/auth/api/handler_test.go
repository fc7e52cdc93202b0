package authapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sasha-gershtein/Sodia/cmd/identity"
	"github.com/sasha-gershtein/Sodia/cmd/internal/auth/gate"
	"github.com/sasha-gershtein/Sodia/cmd/internal/auth/session"
	"github.com/sasha-gershtein/Sodia/cmd/internal/storage"
	"github.com/sasha-gershtein/Sodia/cmd/security/password"
	"github.com/sasha-gershtein/Sodia/cmd/security/token"
)

const testPassword = "Very-Strong-Password-1!"

type apiFixture struct {
	srv      *httptest.Server
	identity *identity.Service
	sessions *session.Service
}

func testAuthConfig() Config {
	cfg := DefaultConfig()
	cfg.LoginRatePerMinute = 10_000
	cfg.LoginBurst = 1_000
	return cfg
}

func newAPIFixture(t *testing.T, cfg Config) *apiFixture {
	t.Helper()
	ctx := context.Background()

	db, err := storage.OpenSQLite(ctx, filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	idStore, err := identity.NewSQLiteStore(db)
	require.NoError(t, err)
	pw := password.DefaultConfig()
	pw.Params.Iterations = 1000
	users, err := identity.NewService(idStore, pw)
	require.NoError(t, err)

	sessions := session.NewService(session.DefaultConfig(), session.NewSQLiteStore(db), token.NewHasher(nil))

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	cookie := gate.DefaultCookieConfig()
	// httptest serves plain HTTP; the jar drops Secure cookies there.
	cookie.Secure = false

	g, err := gate.New(gate.Options{Sessions: sessions, Users: users, Cookie: cookie, Log: log})
	require.NoError(t, err)

	h, err := NewHandler(cfg, Deps{Log: log, Identity: users, Sessions: sessions, Cookie: cookie})
	require.NoError(t, err)

	mux := http.NewServeMux()
	h.Register(mux)
	srv := httptest.NewServer(g.Middleware(mux))
	t.Cleanup(srv.Close)

	return &apiFixture{srv: srv, identity: users, sessions: sessions}
}

func (f *apiFixture) client(t *testing.T) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	c := f.srv.Client()
	c.Jar = jar
	return c
}

func (f *apiFixture) authCookie(t *testing.T, c *http.Client) *http.Cookie {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, f.srv.URL, nil)
	require.NoError(t, err)
	for _, ck := range c.Jar.Cookies(req.URL) {
		if ck.Name == gate.DefaultCookieName {
			return ck
		}
	}
	return nil
}

func doJSON(t *testing.T, c *http.Client, method, url string, body any) (int, []byte, http.Header) {
	t.Helper()

	var rdr io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rdr = strings.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		rdr = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, url, rdr)
	require.NoError(t, err)
	if rdr != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	out, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, out, resp.Header
}

func errorCode(t *testing.T, body []byte) string {
	t.Helper()
	var er errorResponse
	require.NoError(t, json.Unmarshal(body, &er), "body=%s", body)
	return er.Error.Code
}

func (f *apiFixture) register(t *testing.T, c *http.Client, email string) authResponse {
	t.Helper()
	status, body, _ := doJSON(t, c, http.MethodPost, f.srv.URL+"/auth/register", registerRequest{
		Email: email, Password: testPassword, FirstName: "Ada", LastName: "Lovelace",
	})
	require.Equal(t, http.StatusCreated, status, "body=%s", body)
	var out authResponse
	require.NoError(t, json.Unmarshal(body, &out))
	return out
}

func TestAuthAPI_RegisterMeLogoutMe(t *testing.T) {
	f := newAPIFixture(t, testAuthConfig())
	c := f.client(t)

	reg := f.register(t, c, "ada@example.com")
	assert.Equal(t, "ada@example.com", reg.User.Email)
	assert.Equal(t, "ada", reg.User.Username)
	assert.NotEmpty(t, reg.Session.ID)
	require.NotNil(t, f.authCookie(t, c), "register must set the session cookie")
	assert.NotContains(t, string(mustJSON(t, reg)), f.authCookie(t, c).Value)

	status, body, _ := doJSON(t, c, http.MethodGet, f.srv.URL+"/me", nil)
	require.Equal(t, http.StatusOK, status, "body=%s", body)
	var me meResponse
	require.NoError(t, json.Unmarshal(body, &me))
	assert.Equal(t, reg.User.ID, me.User.ID)
	assert.Equal(t, reg.Session.ID, me.Session.ID)

	status, _, _ = doJSON(t, c, http.MethodPost, f.srv.URL+"/auth/logout", nil)
	require.Equal(t, http.StatusNoContent, status)
	assert.Nil(t, f.authCookie(t, c), "logout must clear the cookie")

	status, body, _ = doJSON(t, c, http.MethodGet, f.srv.URL+"/me", nil)
	require.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "unauthorized", errorCode(t, body))
}

func TestAuthAPI_StaleCookieAfterLogoutIsUnauthorized(t *testing.T) {
	f := newAPIFixture(t, testAuthConfig())
	c := f.client(t)
	f.register(t, c, "stale@example.com")
	stale := f.authCookie(t, c)
	require.NotNil(t, stale)

	status, _, _ := doJSON(t, c, http.MethodPost, f.srv.URL+"/auth/logout", nil)
	require.Equal(t, http.StatusNoContent, status)

	req, err := http.NewRequest(http.MethodGet, f.srv.URL+"/me", nil)
	require.NoError(t, err)
	req.AddCookie(&http.Cookie{Name: stale.Name, Value: stale.Value})
	resp, err := f.srv.Client().Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAuthAPI_RegisterValidation(t *testing.T) {
	f := newAPIFixture(t, testAuthConfig())
	c := f.client(t)
	f.register(t, c, "taken@example.com")

	cases := []struct {
		name   string
		body   any
		status int
		code   string
	}{
		{
			name:   "bad email",
			body:   registerRequest{Email: "not-an-email", Password: testPassword, FirstName: "A", LastName: "B"},
			status: http.StatusBadRequest,
			code:   "invalid_request",
		},
		{
			name:   "missing last name",
			body:   registerRequest{Email: "x@example.com", Password: testPassword, FirstName: "A"},
			status: http.StatusBadRequest,
			code:   "invalid_request",
		},
		{
			name:   "weak password",
			body:   registerRequest{Email: "y@example.com", Password: "password123", FirstName: "A", LastName: "B"},
			status: http.StatusBadRequest,
			code:   "password_policy",
		},
		{
			name:   "duplicate email",
			body:   registerRequest{Email: "TAKEN@example.com", Password: testPassword, FirstName: "A", LastName: "B"},
			status: http.StatusConflict,
			code:   "conflict",
		},
		{
			name:   "unknown field",
			body:   `{"email":"z@example.com","password":"x","first_name":"A","last_name":"B","admin":true}`,
			status: http.StatusBadRequest,
			code:   "invalid_json",
		},
		{
			name:   "trailing data",
			body:   `{"email":"z@example.com"} {}`,
			status: http.StatusBadRequest,
			code:   "invalid_json",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, body, _ := doJSON(t, f.srv.Client(), http.MethodPost, f.srv.URL+"/auth/register", tc.body)
			assert.Equal(t, tc.status, status, "body=%s", body)
			assert.Equal(t, tc.code, errorCode(t, body))
		})
	}
}

func TestAuthAPI_BodyTooLarge(t *testing.T) {
	cfg := testAuthConfig()
	cfg.MaxBodyBytes = 64
	f := newAPIFixture(t, cfg)

	body := `{"email":"big@example.com","password":"` + strings.Repeat("x", 256) + `"}`
	status, raw, _ := doJSON(t, f.srv.Client(), http.MethodPost, f.srv.URL+"/auth/login", body)
	assert.Equal(t, http.StatusRequestEntityTooLarge, status)
	assert.Equal(t, "body_too_large", errorCode(t, raw))
}

func TestAuthAPI_LoginFailure_NoEnumeration(t *testing.T) {
	f := newAPIFixture(t, testAuthConfig())
	f.register(t, f.client(t), "login@example.com")

	statusA, bodyA, _ := doJSON(t, f.srv.Client(), http.MethodPost, f.srv.URL+"/auth/login", loginRequest{
		Email: "nobody@example.com", Password: testPassword,
	})
	statusB, bodyB, _ := doJSON(t, f.srv.Client(), http.MethodPost, f.srv.URL+"/auth/login", loginRequest{
		Email: "login@example.com", Password: "Wrong-Password-1!",
	})
	assert.Equal(t, http.StatusUnauthorized, statusA)
	assert.Equal(t, http.StatusUnauthorized, statusB)
	assert.Equal(t, "invalid_credentials", errorCode(t, bodyA))
	assert.Equal(t, errorCode(t, bodyA), errorCode(t, bodyB))

	c := f.client(t)
	status, body, _ := doJSON(t, c, http.MethodPost, f.srv.URL+"/auth/login", loginRequest{
		Email: "  Login@Example.com ", Password: testPassword,
	})
	require.Equal(t, http.StatusOK, status, "body=%s", body)
	require.NotNil(t, f.authCookie(t, c))

	status, _, _ = doJSON(t, c, http.MethodGet, f.srv.URL+"/me", nil)
	assert.Equal(t, http.StatusOK, status)
}

func TestAuthAPI_LoginMissingFields(t *testing.T) {
	f := newAPIFixture(t, testAuthConfig())
	status, body, _ := doJSON(t, f.srv.Client(), http.MethodPost, f.srv.URL+"/auth/login", loginRequest{Email: "a@example.com"})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "invalid_request", errorCode(t, body))
}

func TestAuthAPI_LoginRateLimitedPerIP(t *testing.T) {
	cfg := testAuthConfig()
	cfg.LoginRatePerMinute = 1
	cfg.LoginBurst = 2
	f := newAPIFixture(t, cfg)

	req := loginRequest{Email: "nobody@example.com", Password: testPassword}
	for i := 0; i < 2; i++ {
		status, _, _ := doJSON(t, f.srv.Client(), http.MethodPost, f.srv.URL+"/auth/login", req)
		require.Equal(t, http.StatusUnauthorized, status)
	}

	status, body, hdr := doJSON(t, f.srv.Client(), http.MethodPost, f.srv.URL+"/auth/login", req)
	require.Equal(t, http.StatusTooManyRequests, status)
	assert.Equal(t, "rate_limited", errorCode(t, body))
	assert.NotEmpty(t, hdr.Get("Retry-After"))
}

func TestAuthAPI_LoginLockoutAfterRepeatedFailures(t *testing.T) {
	cfg := testAuthConfig()
	cfg.LockoutShortThreshold = 3
	cfg.LockoutShortDuration = time.Minute
	f := newAPIFixture(t, cfg)
	f.register(t, f.client(t), "locked@example.com")

	for i := 0; i < 3; i++ {
		status, _, _ := doJSON(t, f.srv.Client(), http.MethodPost, f.srv.URL+"/auth/login", loginRequest{
			Email: "locked@example.com", Password: "Wrong-Password-1!",
		})
		require.Equal(t, http.StatusUnauthorized, status)
	}

	// Locked even with the right password.
	status, body, hdr := doJSON(t, f.srv.Client(), http.MethodPost, f.srv.URL+"/auth/login", loginRequest{
		Email: "LOCKED@example.com", Password: testPassword,
	})
	require.Equal(t, http.StatusTooManyRequests, status, "body=%s", body)
	assert.NotEmpty(t, hdr.Get("Retry-After"))

	// Other accounts are unaffected.
	f.register(t, f.client(t), "free@example.com")
	status, _, _ = doJSON(t, f.srv.Client(), http.MethodPost, f.srv.URL+"/auth/login", loginRequest{
		Email: "free@example.com", Password: testPassword,
	})
	assert.Equal(t, http.StatusOK, status)
}

func TestAuthAPI_LogoutAllEndsEverySession(t *testing.T) {
	f := newAPIFixture(t, testAuthConfig())
	a := f.client(t)
	f.register(t, a, "multi@example.com")

	b := f.client(t)
	status, _, _ := doJSON(t, b, http.MethodPost, f.srv.URL+"/auth/login", loginRequest{Email: "multi@example.com", Password: testPassword})
	require.Equal(t, http.StatusOK, status)

	status, _, _ = doJSON(t, a, http.MethodPost, f.srv.URL+"/auth/logout_all", nil)
	require.Equal(t, http.StatusNoContent, status)

	for _, c := range []*http.Client{a, b} {
		status, _, _ := doJSON(t, c, http.MethodGet, f.srv.URL+"/me", nil)
		assert.Equal(t, http.StatusUnauthorized, status)
	}
}

func TestAuthAPI_PasswordChange(t *testing.T) {
	f := newAPIFixture(t, testAuthConfig())
	a := f.client(t)
	reg := f.register(t, a, "pw@example.com")

	b := f.client(t)
	status, _, _ := doJSON(t, b, http.MethodPost, f.srv.URL+"/auth/login", loginRequest{Email: "pw@example.com", Password: testPassword})
	require.Equal(t, http.StatusOK, status)

	status, body, _ := doJSON(t, a, http.MethodPost, f.srv.URL+"/auth/password", passwordChangeRequest{
		CurrentPassword: "Wrong-Password-1!", NewPassword: "Another-Strong-Pass-2!",
	})
	require.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "invalid_credentials", errorCode(t, body))

	status, body, _ = doJSON(t, a, http.MethodPost, f.srv.URL+"/auth/password", passwordChangeRequest{
		CurrentPassword: testPassword, NewPassword: "short",
	})
	require.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "password_policy", errorCode(t, body))

	status, body, _ = doJSON(t, a, http.MethodPost, f.srv.URL+"/auth/password", passwordChangeRequest{
		CurrentPassword: testPassword, NewPassword: "Another-Strong-Pass-2!",
	})
	require.Equal(t, http.StatusNoContent, status, "body=%s", body)

	// The caller holds a fresh session, everyone else is signed out.
	status, body, _ = doJSON(t, a, http.MethodGet, f.srv.URL+"/me", nil)
	require.Equal(t, http.StatusOK, status)
	var me meResponse
	require.NoError(t, json.Unmarshal(body, &me))
	assert.NotEqual(t, reg.Session.ID, me.Session.ID)

	status, _, _ = doJSON(t, b, http.MethodGet, f.srv.URL+"/me", nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	status, _, _ = doJSON(t, f.srv.Client(), http.MethodPost, f.srv.URL+"/auth/login", loginRequest{Email: "pw@example.com", Password: testPassword})
	assert.Equal(t, http.StatusUnauthorized, status)
	status, _, _ = doJSON(t, f.srv.Client(), http.MethodPost, f.srv.URL+"/auth/login", loginRequest{Email: "pw@example.com", Password: "Another-Strong-Pass-2!"})
	assert.Equal(t, http.StatusOK, status)
}

func TestAuthAPI_SessionUpdates(t *testing.T) {
	f := newAPIFixture(t, testAuthConfig())
	c := f.client(t)
	f.register(t, c, "updates@example.com")

	for i, msg := range []string{"first", "second"} {
		status, body, _ := doJSON(t, c, http.MethodPost, f.srv.URL+"/auth/session/updates", updateRequest{Message: msg})
		require.Equal(t, http.StatusCreated, status, "body=%s", body)
		var rec updateResponse
		require.NoError(t, json.Unmarshal(body, &rec))
		assert.EqualValues(t, i, rec.Seq)
		assert.Equal(t, msg, rec.Message)
	}

	status, body, _ := doJSON(t, c, http.MethodPost, f.srv.URL+"/auth/session/updates", updateRequest{Message: "  "})
	require.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "invalid_request", errorCode(t, body))

	status, body, _ = doJSON(t, c, http.MethodGet, f.srv.URL+"/auth/session/updates", nil)
	require.Equal(t, http.StatusOK, status)
	var list updatesResponse
	require.NoError(t, json.Unmarshal(body, &list))
	require.Len(t, list.Updates, 2)
	assert.Equal(t, "first", list.Updates[0].Message)
	assert.Equal(t, "second", list.Updates[1].Message)

	// Updates belong to the session, not the user.
	other := f.client(t)
	status, _, _ = doJSON(t, other, http.MethodPost, f.srv.URL+"/auth/login", loginRequest{Email: "updates@example.com", Password: testPassword})
	require.Equal(t, http.StatusOK, status)
	status, body, _ = doJSON(t, other, http.MethodGet, f.srv.URL+"/auth/session/updates", nil)
	require.Equal(t, http.StatusOK, status)
	require.NoError(t, json.Unmarshal(body, &list))
	assert.Empty(t, list.Updates)
}

func TestAuthAPI_UnauthenticatedRoutes(t *testing.T) {
	f := newAPIFixture(t, testAuthConfig())
	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/me"},
		{http.MethodPost, "/auth/logout"},
		{http.MethodPost, "/auth/logout_all"},
		{http.MethodPost, "/auth/password"},
		{http.MethodGet, "/auth/session/updates"},
	} {
		status, _, _ := doJSON(t, f.srv.Client(), tc.method, f.srv.URL+tc.path, nil)
		assert.Equal(t, http.StatusUnauthorized, status, "%s %s", tc.method, tc.path)
	}
}

func TestAuthAPI_MethodNotAllowed(t *testing.T) {
	f := newAPIFixture(t, testAuthConfig())
	status, _, _ := doJSON(t, f.srv.Client(), http.MethodGet, f.srv.URL+"/auth/login", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, status)
	status, _, _ = doJSON(t, f.srv.Client(), http.MethodGet, f.srv.URL+"/auth/register", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, status)
}

func TestNewHandler_RequiresServices(t *testing.T) {
	_, err := NewHandler(DefaultConfig(), Deps{})
	require.Error(t, err)
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}
