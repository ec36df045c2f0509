package storage

import (
	"errors"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Storage error constants
var (
	// ErrNotFound is a generic "not found" error
	ErrNotFound = errors.New("not found")

	// ErrUnknownTable is returned for a table name outside the schema
	ErrUnknownTable = errors.New("unknown table")

	// ErrInvalidIdentifier is returned when a column name is not a plain SQL identifier
	ErrInvalidIdentifier = errors.New("invalid identifier")

	// ErrInvalidRange is returned for a negative or inverted Range
	ErrInvalidRange = errors.New("invalid range")

	// ErrQueryConsumed is returned when a terminal method is called twice on one Query
	ErrQueryConsumed = errors.New("query already executed")

	// ErrEmptyPatch is returned by Update when there is nothing to set
	ErrEmptyPatch = errors.New("update patch is empty")

	// ErrEmptyRecord is returned by Insert when the record has no columns
	ErrEmptyRecord = errors.New("insert record is empty")

	// ErrDatabaseClosed is returned when attempting to use a closed database connection
	ErrDatabaseClosed = errors.New("database is closed")

	// ErrConstraintViolation is returned when a database constraint is violated
	ErrConstraintViolation = errors.New("constraint violation")

	// ErrBusy is returned when the database stayed locked past busy_timeout
	ErrBusy = errors.New("database is busy")

	// Authentication

	// ErrInvalidCredentials is returned for every failed login, whatever the cause
	ErrInvalidCredentials = errors.New("invalid email or password")

	// ErrEmailTaken is returned by Signup when the email already has a profile
	ErrEmailTaken = errors.New("email already registered")

	// ErrWeakPassword is returned when a password fails the password policy
	ErrWeakPassword = errors.New("password does not meet policy")

	// ErrInvalidEmail is returned when an email address is malformed
	ErrInvalidEmail = errors.New("invalid email address")

	// ErrInvalidRole is returned for a role outside partner/manager/senior/staff
	ErrInvalidRole = errors.New("invalid role")
)

// classifyError maps driver errors onto the sentinels above while keeping the
// driver error in the chain.
func classifyError(err error) error {
	if err == nil {
		return nil
	}
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return err
	}
	switch sqliteErr.Code() & 0xff {
	case sqlite3.SQLITE_CONSTRAINT:
		return errors.Join(ErrConstraintViolation, err)
	case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
		return errors.Join(ErrBusy, err)
	}
	return err
}

// isUniqueViolation reports whether err is a UNIQUE or PRIMARY KEY failure.
func isUniqueViolation(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	code := sqliteErr.Code()
	return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
}
