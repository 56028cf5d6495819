// Package dialect provides database dialect abstraction for the DataFlow
// engine. See doc.go for the full package overview.
package dialect

import "context"

// Dialect name constants recognized throughout the engine.
const (
	Postgres = "postgres"
	MySQL    = "mysql"
	SQLite   = "sqlite"
	// MongoDB identifies the document-store family. Its query language is
	// not specified by this module; the adapter boundary only guarantees
	// the same Driver surface.
	MongoDB = "mongodb"
)

// ExecQuerier is implemented by both Driver and Tx: it is the minimal
// surface the SQL builder and node catalog depend on to run a statement.
type ExecQuerier interface {
	// Exec runs a DML/DDL statement. v, when non-nil, must be *sql.Result
	// and receives the driver result (RowsAffected, LastInsertId).
	Exec(ctx context.Context, query string, args, v any) error
	// Query runs a query and scans the result set into v (*sql.Rows compatible).
	Query(ctx context.Context, query string, args, v any) error
}

// Driver is the only component that talks to a database.
// SQL-relational and document-family adapters both implement this surface;
// the document family emulates it where a natural translation exists.
type Driver interface {
	ExecQuerier
	// Tx starts a new transaction bound to ctx's scheduler context.
	Tx(ctx context.Context) (Tx, error)
	// Close releases the underlying connection pool.
	Close() error
	// Dialect reports the dialect name (one of the constants above).
	Dialect() string
}

// Tx extends ExecQuerier with the transaction lifecycle plus a savepoint
// API, used by the migration executor for atomic multi-statement steps.
type Tx interface {
	ExecQuerier
	// Savepoint creates a named savepoint. Names must pass the identifier
	// validator; SQLite/MySQL/Postgres all support nested savepoints.
	Savepoint(ctx context.Context, name string) error
	// RollbackTo rolls the transaction back to a previously created savepoint.
	RollbackTo(ctx context.Context, name string) error
	// ReleaseSavepoint releases a savepoint without rolling back.
	ReleaseSavepoint(ctx context.Context, name string) error
	// Commit commits the transaction.
	Commit() error
	// Rollback rolls back the entire transaction.
	Rollback() error
}

// Healther is an optional interface a Driver may implement to report
// liveness without needing to run a query.
type Healther interface {
	Health(ctx context.Context) error
}
