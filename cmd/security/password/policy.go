package password

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Validate checks password policy. It does not mutate input.
func (c Config) Validate(password string) error {
	return c.ValidateFor(password)
}

// ValidateFor checks policy and, when RejectVeryWeak is set, also rejects
// passwords equal to one of the supplied identifiers (email, username).
func (c Config) ValidateFor(password string, identifiers ...string) error {
	// Runes, not bytes.
	n := utf8.RuneCountInString(password)

	if n < c.Policy.MinLength {
		return ErrPasswordTooShort
	}
	if n > c.Policy.MaxLength {
		return ErrPasswordTooLong
	}

	if !c.Policy.RejectVeryWeak {
		return nil
	}
	if looksVeryWeak(password) {
		return ErrWeakPassword
	}
	lower := strings.ToLower(strings.TrimSpace(password))
	for _, id := range identifiers {
		id = strings.ToLower(strings.TrimSpace(id))
		if id == "" {
			continue
		}
		local, _, _ := strings.Cut(id, "@")
		if lower == id || lower == local {
			return ErrWeakPassword
		}
	}
	return nil
}

// looksVeryWeak is a small deny-list, not a strength estimator.
func looksVeryWeak(pw string) bool {
	s := strings.TrimSpace(pw)
	if s == "" {
		return true
	}

	runes := []rune(s)
	if allSame(runes) {
		return true
	}
	if isSequential(runes) {
		return true
	}

	onlyDigits := true
	for _, r := range runes {
		if !unicode.IsDigit(r) {
			onlyDigits = false
			break
		}
	}
	if onlyDigits && len(runes) < 12 {
		return true
	}

	switch strings.ToLower(s) {
	case "password", "password1", "password123", "qwerty", "qwerty123", "qwertyuiop", "letmein", "iloveyou", "sodia", "sodia123":
		return true
	}
	return false
}

func allSame(rs []rune) bool {
	for _, r := range rs[1:] {
		if r != rs[0] {
			return false
		}
	}
	return true
}

// isSequential matches runs like "abcdefgh" or "87654321".
func isSequential(rs []rune) bool {
	if len(rs) < 4 {
		return false
	}
	step := rs[1] - rs[0]
	if step != 1 && step != -1 {
		return false
	}
	for i := 2; i < len(rs); i++ {
		if rs[i]-rs[i-1] != step {
			return false
		}
	}
	return true
}
