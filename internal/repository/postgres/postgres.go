package postgres

import (
	"errors"

	"github.com/lib/pq"
)

var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("postgres: not found")
	// ErrConflict is returned when an insert violates a unique constraint.
	ErrConflict = errors.New("postgres: unique constraint violation")
	// ErrEmailExists and ErrUsernameExists narrow ErrConflict to the
	// specific users-table constraint that fired.
	ErrEmailExists    = errors.New("postgres: email already registered")
	ErrUsernameExists = errors.New("postgres: username already taken")
	// ErrTokenUsed and ErrTokenExpired report why a verification token
	// could not be consumed.
	ErrTokenUsed    = errors.New("postgres: verification token already used")
	ErrTokenExpired = errors.New("postgres: verification token expired")
)

const uniqueViolationCode = "23505"

// isUniqueViolation reports whether err is a Postgres unique-constraint
// violation (error code 23505).
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == uniqueViolationCode
	}
	return false
}

// violatedConstraint returns the name of the unique constraint behind err,
// or "" when err is not a unique violation.
func violatedConstraint(err error) string {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolationCode {
		return pqErr.Constraint
	}
	return ""
}
