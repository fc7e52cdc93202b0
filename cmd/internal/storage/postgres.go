package storage

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DefaultSchema is the PostgreSQL schema created by the migrations.
const DefaultSchema = "sodia"

// PgIdent safely quotes a schema-qualified identifier: "schema"."name".
func PgIdent(schema, name string) string {
	return pgx.Identifier{schema, name}.Sanitize()
}

// PgUniqueViolation reports whether err is a unique_violation and returns
// the lower-cased constraint name.
func PgUniqueViolation(err error) (constraint string, ok bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return "", false
	}
	if pgErr.Code != "23505" { // unique_violation
		return "", false
	}
	return strings.ToLower(strings.TrimSpace(pgErr.ConstraintName)), true
}

// PgForeignKeyViolation reports whether err is a foreign_key_violation.
func PgForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "23503"
}
