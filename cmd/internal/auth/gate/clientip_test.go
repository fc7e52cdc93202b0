package gate

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClientIP(t *testing.T) {
	cases := []struct {
		name       string
		trustProxy bool
		xff        string
		realIP     string
		remote     string
		want       string
	}{
		{name: "remote only", remote: "192.0.2.1:1234", want: "192.0.2.1"},
		{name: "untrusted ignores headers", xff: "203.0.113.5", realIP: "203.0.113.6", remote: "192.0.2.1:1234", want: "192.0.2.1"},
		{name: "first forwarded entry", trustProxy: true, xff: "203.0.113.5, 10.0.0.1", remote: "192.0.2.1:1234", want: "203.0.113.5"},
		{name: "skips invalid forwarded entries", trustProxy: true, xff: "unknown, 2001:db8::1", remote: "192.0.2.1:1234", want: "2001:db8::1"},
		{name: "real ip fallback", trustProxy: true, realIP: " 203.0.113.9 ", remote: "192.0.2.1:1234", want: "203.0.113.9"},
		{name: "bare remote", remote: "192.0.2.7", want: "192.0.2.7"},
		{name: "unparseable", remote: "pipe", want: ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tc.remote
			if tc.xff != "" {
				r.Header.Set("X-Forwarded-For", tc.xff)
			}
			if tc.realIP != "" {
				r.Header.Set("X-Real-IP", tc.realIP)
			}
			assert.Equal(t, tc.want, ClientIP(r, tc.trustProxy))
		})
	}
}

func TestCookieConfig_SetAndClear(t *testing.T) {
	cfg := CookieConfig{Name: "auth", Path: "/", Domain: "example.com", Secure: true, SameSite: http.SameSiteStrictMode}

	rec := httptest.NewRecorder()
	cfg.Clear(rec)
	cookies := rec.Result().Cookies()
	if assert.Len(t, cookies, 1) {
		c := cookies[0]
		assert.Equal(t, "auth", c.Name)
		assert.Equal(t, "", c.Value)
		assert.True(t, c.MaxAge < 0)
		assert.True(t, c.Secure)
		assert.True(t, c.HttpOnly)
		assert.Equal(t, "example.com", c.Domain)
	}

	assert.True(t, setsCookie(rec.Header(), "auth"))
	assert.False(t, setsCookie(rec.Header(), "other"))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Equal(t, "", cfg.Token(r))
	r.AddCookie(&http.Cookie{Name: "auth", Value: "abc"})
	assert.Equal(t, "abc", cfg.Token(r))
}
