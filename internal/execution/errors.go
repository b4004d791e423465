package execution

import (
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"
	"gorm.io/gorm"
)

var (
	// ErrConflict means another worker owns the execution or it already left
	// the expected status. Callers treat it as a no-op.
	ErrConflict = errors.New("execution: status changed concurrently")

	// ErrNotFound means no execution exists with the requested id.
	ErrNotFound = errors.New("execution: not found")

	// ErrNotRetryable means a manual re-trigger was refused.
	ErrNotRetryable = errors.New("execution: not retryable")
)

// PersistenceError wraps a store failure that outlived the retry budget.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// IsPersistenceError reports whether err is a PersistenceError.
func IsPersistenceError(err error) bool {
	var pe *PersistenceError
	return errors.As(err, &pe)
}

func isContention(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrBusy ||
			sqliteErr.Code == sqlite3.ErrLocked ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}
