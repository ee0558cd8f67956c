package db

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

const (
	codeUniqueViolation = "23505"
	codeInvalidText     = "22P02"
)

// IsUniqueViolation reports whether err is a unique-constraint conflict. Conflicts are retryable.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == codeUniqueViolation
	}
	return false
}

// IsInvalidText reports whether Postgres rejected a textual value, such as a malformed uuid.
func IsInvalidText(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == codeInvalidText
	}
	return false
}
