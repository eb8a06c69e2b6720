package database

import (
	"errors"
	"fmt"
)

var (
	// ErrConnectionExhausted is returned when no pooled connection becomes
	// available within the checkout timeout.
	ErrConnectionExhausted = errors.New("no database connection available")

	// ErrStatementNotFound is returned when a prepared statement name is not
	// registered in the catalog.
	ErrStatementNotFound = errors.New("prepared statement not found")

	// ErrDuplicateVersion is returned when a migration is registered with a
	// version that is already in the catalog.
	ErrDuplicateVersion = errors.New("duplicate migration version")

	// ErrPoolClosed is returned when a connection is requested after CloseAll.
	ErrPoolClosed = errors.New("connection pool is closed")
)

// QueryExecutionError wraps a store-level failure (syntax error, constraint
// violation, lock timeout) with a prefix of the offending query.
type QueryExecutionError struct {
	Query string
	Err   error
}

func (e *QueryExecutionError) Error() string {
	return fmt.Sprintf("query failed: %v (query: %s)", e.Err, truncateQuery(e.Query, 80))
}

func (e *QueryExecutionError) Unwrap() error { return e.Err }

// MigrationApplyError reports a failed forward migration.
type MigrationApplyError struct {
	Version int
	Name    string
	Err     error
}

func (e *MigrationApplyError) Error() string {
	return fmt.Sprintf("migration %d (%s) failed: %v", e.Version, e.Name, e.Err)
}

func (e *MigrationApplyError) Unwrap() error { return e.Err }

// MigrationRollbackError reports a failed or impossible rollback.
type MigrationRollbackError struct {
	Version int
	Name    string
	Err     error
}

func (e *MigrationRollbackError) Error() string {
	return fmt.Sprintf("rollback of migration %d (%s) failed: %v", e.Version, e.Name, e.Err)
}

func (e *MigrationRollbackError) Unwrap() error { return e.Err }

func truncateQuery(query string, max int) string {
	if len(query) <= max {
		return query
	}
	return query[:max] + "..."
}
