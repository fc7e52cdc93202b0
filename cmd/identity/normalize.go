package identity

import (
	"net/mail"
	"strings"
	"unicode/utf8"
)

const (
	maxEmailLen    = 254
	maxUsernameLen = 30
	maxNameLen     = 50
)

// NormalizeUsername performs case-insensitive canonicalization.
func NormalizeUsername(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// NormalizeEmail performs case-insensitive canonicalization.
func NormalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// ValidEmail accepts a bare addr-spec ("user@example.com"), no display name.
func ValidEmail(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" || len(s) > maxEmailLen {
		return false
	}
	addr, err := mail.ParseAddress(s)
	if err != nil || addr.Address != s {
		return false
	}
	local, domain, ok := strings.Cut(s, "@")
	return ok && local != "" && domain != ""
}

// UsernameFromEmail derives the default username: the normalized local part
// of the email, truncated to 30 runes.
func UsernameFromEmail(email string) string {
	local, _, _ := strings.Cut(NormalizeEmail(email), "@")
	local = NormalizeUsername(local)
	if utf8.RuneCountInString(local) <= maxUsernameLen {
		return local
	}
	return string([]rune(local)[:maxUsernameLen])
}
