package shared

import (
	"errors"
	"strings"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// IsStorageConflict reports whether err is SQLite refusing a statement
// because another connection holds the database lock.
func IsStorageConflict(err error) bool {
	if err == nil {
		return false
	}
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() & 0xff { // strip extended result codes
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return true
		}
		return false
	}
	// Errors that lost their type on the way through database/sql.
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

// ClassifyStorage converts a journal failure: lock conflicts that outlived
// their retries are transient, everything else is KindOther.
func ClassifyStorage(err error, op string) *Error {
	if err == nil {
		return nil
	}
	if IsStorageConflict(err) {
		return &Error{Kind: KindTransient, Code: "storage_busy", Message: op + ": database busy", Err: err}
	}
	return &Error{Kind: KindOther, Code: "storage", Message: op + ": " + err.Error(), Err: err}
}
