package database

import (
	"database/sql"
	"errors"

	"github.com/lib/pq"
)

// ErrUniqueViolation is returned by single-row writes that hit a unique index.
var ErrUniqueViolation = errors.New("unique constraint violation")

const uniqueViolationCode = pq.ErrorCode("23505")

// IsUniqueViolation reports whether err is (or wraps) a postgres unique_violation.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrUniqueViolation) {
		return true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == uniqueViolationCode
	}
	return false
}

// ConstraintName returns the violated constraint when err is a postgres error.
func ConstraintName(err error) string {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Constraint
	}
	return ""
}

func IsNotFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
