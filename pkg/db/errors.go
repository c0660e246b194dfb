package db

import (
	"context"
	stdErrors "errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"gorm.io/gorm"
)

const (
	pgUniqueViolation      = "23505"
	pgCheckViolation       = "23514"
	pgLockNotAvailable     = "55P03"
	pgDeadlockDetected     = "40P01"
	pgSerializationFailure = "40001"
	pgQueryCanceled        = "57014"
)

// IsUniqueViolation reports whether the provided error references a unique
// constraint violation. When constraintName is provided, postgres errors must
// name that constraint. SQLite reports column lists instead of index names, so
// any unique failure from it matches.
func IsUniqueViolation(err error, constraintName string) bool {
	if err == nil {
		return false
	}
	if !isUnique(err) {
		return false
	}
	if constraintName == "" {
		return true
	}
	var pgErr *pgconn.PgError
	if stdErrors.As(err, &pgErr) && pgErr.ConstraintName != "" {
		return pgErr.ConstraintName == constraintName
	}
	var pqErr *pq.Error
	if stdErrors.As(err, &pqErr) && pqErr.Constraint != "" {
		return pqErr.Constraint == constraintName
	}
	msg := err.Error()
	if strings.Contains(msg, "UNIQUE constraint failed") {
		return true
	}
	return strings.Contains(msg, constraintName)
}

func isUnique(err error) bool {
	if stdErrors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	if code := sqlState(err); code != "" {
		return code == pgUniqueViolation
	}
	msg := err.Error()
	return strings.Contains(msg, "duplicate key value") || strings.Contains(msg, "UNIQUE constraint failed")
}

// IsCheckViolation reports whether a CHECK constraint rejected the write.
func IsCheckViolation(err error) bool {
	if err == nil {
		return false
	}
	if stdErrors.Is(err, gorm.ErrCheckConstraintViolated) {
		return true
	}
	if code := sqlState(err); code != "" {
		return code == pgCheckViolation
	}
	return strings.Contains(err.Error(), "CHECK constraint failed")
}

// IsLockContention reports errors that mean the row could not be locked in
// time. The operation did not take effect and is safe to retry.
func IsLockContention(err error) bool {
	if err == nil {
		return false
	}
	if stdErrors.Is(err, context.DeadlineExceeded) {
		return true
	}
	switch sqlState(err) {
	case pgLockNotAvailable, pgDeadlockDetected, pgSerializationFailure, pgQueryCanceled:
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "database table is locked")
}

func sqlState(err error) string {
	var pgErr *pgconn.PgError
	if stdErrors.As(err, &pgErr) {
		return pgErr.Code
	}
	var pqErr *pq.Error
	if stdErrors.As(err, &pqErr) {
		return string(pqErr.Code)
	}
	return ""
}
