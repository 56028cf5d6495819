// Package dialect provides database dialect abstraction for DataFlow.
//
// This package defines the interfaces and types used for database-specific
// operations, allowing DataFlow to support multiple database backends
// including PostgreSQL, MySQL, and SQLite.
//
// # Supported Dialects
//
// The following dialects are supported:
//
//   - Postgres: PostgreSQL database
//   - MySQL: MySQL/MariaDB database
//   - SQLite: SQLite database
//
// # Dialect Constants
//
// Each dialect is identified by a constant string:
//
//	dialect.Postgres = "postgres"
//	dialect.MySQL    = "mysql"
//	dialect.SQLite   = "sqlite"
//
// # Driver Interface
//
// The package defines the Driver interface for database operations:
//
//	type Driver interface {
//	    Exec(ctx context.Context, query string, args, v any) error
//	    Query(ctx context.Context, query string, args, v any) error
//	    Tx(ctx context.Context) (Tx, error)
//	    Close() error
//	    Dialect() string
//	}
//
// # Transaction Interface
//
// The Tx interface extends ExecQuerier with the transaction lifecycle and
// savepoints:
//
//	type Tx interface {
//	    ExecQuerier
//	    Savepoint(ctx context.Context, name string) error
//	    RollbackTo(ctx context.Context, name string) error
//	    ReleaseSavepoint(ctx context.Context, name string) error
//	    Commit() error
//	    Rollback() error
//	}
//
// # ExecQuerier Interface
//
// The ExecQuerier interface is implemented by both Driver and Tx:
//
//	type ExecQuerier interface {
//	    Exec(ctx context.Context, query string, args, v any) error
//	    Query(ctx context.Context, query string, args, v any) error
//	}
//
// # Usage
//
// Opening a database connection:
//
//	import (
//	    "github.com/syssam/dataflow/dialect"
//	    "github.com/syssam/dataflow/dialect/sql"
//	)
//
//	db, err := sql.Open(dialect.Postgres, "postgres://...")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
// Using with the engine facade:
//
//	e := dataflow.New(db, nil, dataflow.Config{})
//
// # Sub-packages
//
// The dialect package contains two sub-packages:
//
//   - dialect/sql: SQL query builders and driver implementation
//   - dialect/sql/schema: Schema introspection and migration
package dialect
