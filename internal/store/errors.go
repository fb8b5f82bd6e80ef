package store

import (
	"errors"

	"github.com/mattn/go-sqlite3"
)

var (
	// ErrStorageUnavailable means the local database cannot be opened or
	// reached at all. Nothing can be persisted.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrTransactionFailed means a single read or write failed. The caller
	// may retry.
	ErrTransactionFailed = errors.New("transaction failed")

	// ErrNotFound is returned only by operations that require the record to
	// exist. Plain lookups report absence as a nil result instead.
	ErrNotFound = errors.New("record not found")

	// ErrDuplicateID accompanies ErrTransactionFailed when an insert keeps
	// colliding on the primary key.
	ErrDuplicateID = errors.New("duplicate id")

	// ErrUnknownCollection is returned for a collection name with no table.
	ErrUnknownCollection = errors.New("unknown collection")
)

// errPrimaryKey marks an insert rejected by the primary-key constraint so
// Create can retry with a fresh id.
var errPrimaryKey = errors.New("primary key violation")

func isPrimaryKeyViolation(err error) bool {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey ||
		se.ExtendedCode == sqlite3.ErrConstraintUnique
}
