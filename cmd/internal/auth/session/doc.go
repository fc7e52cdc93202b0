// Package session implements Sodia's server-side sessions.
//
// A session is an opaque bearer token bound to a user. Only a hash of the
// token is persisted (HMAC-SHA256 when SODIA_TOKEN_HMAC_KEY is set, plain
// SHA-256 otherwise). Every validated use slides the expiry forward by the
// configured TTL.
//
// Each session also owns an ordered log of update records whose sequence
// numbers start at 0 and never skip: the counter lives on the session row and
// is advanced in the same transaction that inserts the record.
//
// Persistence is behind Store, with PostgreSQL and SQLite implementations.
package session
