package database

import (
	"context"
	"database/sql/driver"
	"errors"
	"net"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	"github.com/tristan-zander/runback/cqrs"
)

// Classify wraps a storage error as a *cqrs.PersistenceError, separating
// failures to reach the database from data errors.
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var pe *cqrs.PersistenceError
	if errors.As(err, &pe) {
		return err
	}

	kind := cqrs.KindUnknown
	if IsConnectionError(err) {
		kind = cqrs.KindConnection
	}
	return &cqrs.PersistenceError{Kind: kind, Op: op, Err: err}
}

// IsConnectionError reports whether err means the database could not be reached
func IsConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if pgconn.Timeout(err) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// Class 08: connection exception, 57P01-57P03: server shutting down or unavailable
		return strings.HasPrefix(pgErr.Code, "08") || pgErr.Code == "57P01" || pgErr.Code == "57P02" || pgErr.Code == "57P03"
	}

	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return true
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}

// IsUniqueViolation reports whether err is a primary key or unique index collision
func IsUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// IsNotFound reports whether err is gorm's record not found error
func IsNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
