package token

import (
	"encoding/base64"
	"errors"
	"testing"
)

func TestNew_EntropyAndEncoding(t *testing.T) {
	tok, err := New(32)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	raw, err := base64.RawURLEncoding.DecodeString(tok)
	if err != nil {
		t.Fatalf("token is not base64url: %v", err)
	}
	if len(raw) != 32 {
		t.Fatalf("expected 32 bytes, got %d", len(raw))
	}
	if !WellFormed(tok) {
		t.Fatalf("expected token to be well-formed")
	}

	other, err := New(32)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if other == tok {
		t.Fatalf("expected distinct tokens")
	}
}

func TestNew_SizeBounds(t *testing.T) {
	for _, n := range []int{0, 16, 31, 65} {
		if _, err := New(n); !errors.Is(err, ErrTokenSize) {
			t.Fatalf("New(%d): expected ErrTokenSize, got %v", n, err)
		}
	}
	if _, err := New(64); err != nil {
		t.Fatalf("New(64): %v", err)
	}
}

func TestWellFormed(t *testing.T) {
	cases := map[string]bool{
		"":                        false,
		"short":                   false,
		"not base64 !!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!": false,
	}
	for in, want := range cases {
		if got := WellFormed(in); got != want {
			t.Fatalf("WellFormed(%q)=%v want %v", in, got, want)
		}
	}
}

func TestHasher(t *testing.T) {
	plain := Hasher{}
	if plain.HMAC() {
		t.Fatalf("zero hasher must not be keyed")
	}
	if got, want := plain.Hash("abc"), HashSHA256Hex("abc"); got != want {
		t.Fatalf("sha mode mismatch: %s != %s", got, want)
	}

	keyed := NewHasher([]byte("0123456789abcdef0123456789abcdef"))
	if !keyed.HMAC() {
		t.Fatalf("expected keyed hasher")
	}
	h := keyed.Hash("abc")
	if len(h) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(h))
	}
	if h == plain.Hash("abc") {
		t.Fatalf("hmac and sha digests must differ")
	}
	if h != keyed.Hash("abc") {
		t.Fatalf("hash must be deterministic")
	}
}

func TestHasherFromEnv(t *testing.T) {
	t.Setenv(HMACEnvKey, "")
	h, err := HasherFromEnv(false, 32)
	if err != nil || h.HMAC() {
		t.Fatalf("expected sha fallback, got hmac=%v err=%v", h.HMAC(), err)
	}
	if _, err := HasherFromEnv(true, 32); !errors.Is(err, ErrHMACKeyMissing) {
		t.Fatalf("expected ErrHMACKeyMissing, got %v", err)
	}

	t.Setenv(HMACEnvKey, "too-short")
	if _, err := HasherFromEnv(false, 32); !errors.Is(err, ErrHMACKeyTooShort) {
		t.Fatalf("expected ErrHMACKeyTooShort, got %v", err)
	}

	t.Setenv(HMACEnvKey, "  0123456789abcdef0123456789abcdef  ")
	h, err = HasherFromEnv(true, 32)
	if err != nil || !h.HMAC() {
		t.Fatalf("expected hmac hasher, got hmac=%v err=%v", h.HMAC(), err)
	}
}
