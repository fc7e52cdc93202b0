// Package storage owns the relational schema shared by the identity and
// session stores: embedded goose migrations for PostgreSQL and SQLite, the
// SQLite opener used in development and tests, and constraint-error
// classification for both drivers.
package storage
