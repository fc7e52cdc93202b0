// Package token provides opaque session-token primitives for Sodia.
//
// It is the single source of truth for how session tokens are generated and
// how they are hashed before they touch storage.
//
// - Tokens are N random bytes (N >= 32), base64url without padding.
// - At rest only a 64-char hex digest is stored: HMAC-SHA256(token, key) when
//   SODIA_TOKEN_HMAC_KEY is configured, otherwise SHA-256(token) for dev.
package token
