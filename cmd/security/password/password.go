package password

import (
	"crypto/rand"
	"crypto/sha1" // #nosec G505 -- accepted for verifying legacy pbkdf2-sha1 encodings only.
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"hash"
	"strconv"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

// Family is the only supported KDF family tag.
const Family = "pbkdf2"

const (
	DefaultIterations = 200_000
	DefaultSaltLength = 32
	DefaultKeyLength  = 32

	// MaxIterations bounds attacker-controlled encodings during Parse.
	MaxIterations = 10_000_000
)

// Digest names the HMAC hash used by PBKDF2.
type Digest string

const (
	DigestSHA1   Digest = "sha1"
	DigestSHA256 Digest = "sha256"
	DigestSHA512 Digest = "sha512"
)

func (d Digest) newHash() (func() hash.Hash, bool) {
	switch d {
	case DigestSHA1:
		return sha1.New, true
	case DigestSHA256:
		return sha256.New, true
	case DigestSHA512:
		return sha512.New, true
	default:
		return nil, false
	}
}

// Credential is a derived password hash together with everything needed to
// recompute it. Salt and Hash must not be mutated after creation.
type Credential struct {
	Digest     Digest
	Iterations int
	Salt       []byte
	Hash       []byte
}

// Algorithm returns the "<family>-<digest>" tag, e.g. "pbkdf2-sha256".
func (c Credential) Algorithm() string {
	return Family + "-" + string(c.Digest)
}

// String returns the canonical encoding:
// pbkdf2-<digest>:<iterations>:<salt_b64>:<hash_b64>
func (c Credential) String() string {
	b64 := base64.StdEncoding
	return c.Algorithm() + ":" +
		strconv.Itoa(c.Iterations) + ":" +
		b64.EncodeToString(c.Salt) + ":" +
		b64.EncodeToString(c.Hash)
}

// Verify reports whether candidate derives to the stored hash.
// A mismatch is false, never an error.
func (c Credential) Verify(candidate string) bool {
	fn, ok := c.Digest.newHash()
	if !ok || c.Iterations <= 0 || len(c.Salt) == 0 || len(c.Hash) == 0 {
		return false
	}
	key := pbkdf2.Key([]byte(candidate), c.Salt, c.Iterations, len(c.Hash), fn)
	return constantTimeEqual(key, c.Hash)
}

// Equal compares two credentials in constant time over their canonical encodings.
func (c Credential) Equal(other Credential) bool {
	return constantTimeEqual([]byte(c.String()), []byte(other.String()))
}

// Hash derives a new credential with a fresh random salt.
// Policy is not enforced here; call Validate first when accepting user input.
func (c Config) Hash(password string) (Credential, error) {
	fn, ok := c.Params.Digest.newHash()
	if !ok || c.Params.Iterations <= 0 || c.Params.SaltLength <= 0 || c.Params.KeyLength <= 0 {
		return Credential{}, ErrInvalidParams
	}

	salt := make([]byte, c.Params.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return Credential{}, fmt.Errorf("salt: %w", err)
	}

	key := pbkdf2.Key([]byte(password), salt, c.Params.Iterations, c.Params.KeyLength, fn)

	return Credential{
		Digest:     c.Params.Digest,
		Iterations: c.Params.Iterations,
		Salt:       salt,
		Hash:       key,
	}, nil
}

// Verify checks password against a stored encoding.
// Returns (true, nil) for a match, (false, nil) for mismatch,
// and (false, *FormatError) for malformed or out-of-bounds encodings.
func (c Config) Verify(encoded, password string) (bool, error) {
	cred, err := Parse(encoded)
	if err != nil {
		return false, err
	}
	if !withinReasonableBounds(cred, c.Params) {
		return false, formatErr("parameters exceed verification bounds")
	}
	return cred.Verify(password), nil
}

// NeedsRehash reports whether cred was produced with weaker or different
// parameters than the current config.
func (c Config) NeedsRehash(cred Credential) bool {
	return cred.Digest != c.Params.Digest ||
		cred.Iterations < c.Params.Iterations ||
		len(cred.Salt) < c.Params.SaltLength ||
		len(cred.Hash) < c.Params.KeyLength
}

func withinReasonableBounds(got Credential, limits Params) bool {
	// Older, cheaper credentials stay verifiable; wildly larger ones do not.
	if limits.Iterations > 0 && got.Iterations > limits.Iterations*10 {
		return false
	}
	if len(got.Salt) < 8 || len(got.Salt) > 64 {
		return false
	}
	if len(got.Hash) < 16 || len(got.Hash) > 128 {
		return false
	}
	return true
}

// Parse decodes a canonical credential encoding.
// Every failure is a *FormatError.
func Parse(encoded string) (Credential, error) {
	parts := strings.Split(encoded, ":")
	if len(parts) != 4 {
		return Credential{}, formatErr(fmt.Sprintf("expected 4 fields, got %d", len(parts)))
	}

	family, digest, ok := strings.Cut(parts[0], "-")
	if !ok {
		return Credential{}, formatErr("algorithm tag must be <family>-<digest>")
	}
	if family != Family {
		return Credential{}, formatErr(fmt.Sprintf("unsupported family %q", family))
	}
	d := Digest(digest)
	if _, ok := d.newHash(); !ok {
		return Credential{}, formatErr(fmt.Sprintf("unsupported digest %q", digest))
	}

	if !canonicalDecimal(parts[1]) {
		return Credential{}, formatErr("iterations is not a canonical decimal")
	}
	iters, err := strconv.Atoi(parts[1])
	if err != nil {
		return Credential{}, formatErr("iterations is not an integer")
	}
	if iters <= 0 || iters > MaxIterations {
		return Credential{}, formatErr("iterations out of range")
	}

	salt, ok := decodeCanonical(parts[2])
	if !ok {
		return Credential{}, formatErr("salt is not canonical base64")
	}
	sum, ok := decodeCanonical(parts[3])
	if !ok {
		return Credential{}, formatErr("hash is not canonical base64")
	}
	if len(salt) == 0 || len(sum) == 0 {
		return Credential{}, formatErr("empty salt or hash")
	}

	return Credential{
		Digest:     d,
		Iterations: iters,
		Salt:       salt,
		Hash:       sum,
	}, nil
}

// canonicalDecimal accepts ASCII digits without sign or leading zero.
func canonicalDecimal(s string) bool {
	if s == "" || (len(s) > 1 && s[0] == '0') {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// decodeCanonical decodes padded standard base64 and rejects any input that
// does not re-encode to itself (embedded CR/LF, non-zero trailing bits).
func decodeCanonical(s string) ([]byte, bool) {
	b64 := base64.StdEncoding.Strict()
	b, err := b64.DecodeString(s)
	if err != nil || b64.EncodeToString(b) != s {
		return nil, false
	}
	return b, true
}

// constantTimeEqual never short-circuits on the first differing byte.
func constantTimeEqual(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}
