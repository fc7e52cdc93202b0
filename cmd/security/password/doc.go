// Package password provides credential hashing and verification for Sodia.
//
// Credentials are PBKDF2-HMAC derived keys stored in a self-describing,
// colon-delimited encoding:
//
//	pbkdf2-<digest>:<iterations>:<salt_b64>:<hash_b64>
//
// The package includes:
// - Configurable KDF parameters (via environment variables)
// - Password policy validation
// - Strict parsing of stored encodings with anti-DoS bounds
// - Constant-time verification and credential equality
//
// Stored encodings are treated as untrusted input: Parse rejects anything that
// is not exactly four well-formed fields and reports a *FormatError.
package password
