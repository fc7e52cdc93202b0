package gate

import (
	"net/http"
	"strings"
	"time"
)

// DefaultCookieName is the name of the session cookie.
const DefaultCookieName = "auth"

// CookieConfig controls the attributes of the session cookie.
type CookieConfig struct {
	Name     string
	Path     string
	Domain   string
	Secure   bool
	SameSite http.SameSite
}

// DefaultCookieConfig returns production cookie attributes.
func DefaultCookieConfig() CookieConfig {
	return CookieConfig{
		Name:     DefaultCookieName,
		Path:     "/",
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
	}
}

func (c CookieConfig) name() string {
	if strings.TrimSpace(c.Name) == "" {
		return DefaultCookieName
	}
	return c.Name
}

func (c CookieConfig) path() string {
	if strings.TrimSpace(c.Path) == "" {
		return "/"
	}
	return c.Path
}

// Set writes the session cookie carrying tok until exp.
func (c CookieConfig) Set(w http.ResponseWriter, tok string, exp time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     c.name(),
		Value:    tok,
		Path:     c.path(),
		Domain:   c.Domain,
		Expires:  exp.UTC(),
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: c.SameSite,
	})
}

// Clear writes a deletion cookie with the same scope as Set.
func (c CookieConfig) Clear(w http.ResponseWriter) {
	http.SetCookie(w, c.deletion())
}

func (c CookieConfig) deletion() *http.Cookie {
	return &http.Cookie{
		Name:     c.name(),
		Value:    "",
		Path:     c.path(),
		Domain:   c.Domain,
		Expires:  time.Unix(0, 0).UTC(),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: c.SameSite,
	}
}

// Token returns the trimmed cookie value, or "" when absent.
func (c CookieConfig) Token(r *http.Request) string {
	ck, err := r.Cookie(c.name())
	if err != nil {
		return ""
	}
	return strings.TrimSpace(ck.Value)
}

// setsCookie reports whether h already carries a Set-Cookie for name.
func setsCookie(h http.Header, name string) bool {
	for _, v := range h.Values("Set-Cookie") {
		if strings.HasPrefix(strings.TrimSpace(v), name+"=") {
			return true
		}
	}
	return false
}
