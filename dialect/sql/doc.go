// Package sql provides SQL query building primitives and database dialect abstraction.
//
// This package is the foundation for generating and executing SQL queries across
// different database systems (PostgreSQL, MySQL, SQLite). It provides a fluent API
// for constructing type-safe SQL statements.
//
// # Builder Types
//
// The package provides specialized builders for different SQL operations:
//
//   - Builder: Low-level SQL string builder with identifier quoting
//   - Selector: SELECT query builder with predicates, grouping, ordering and LIMIT/OFFSET
//   - InsertBuilder: INSERT statement builder with RETURNING support
//   - UpdateBuilder: UPDATE statement builder with SET and WHERE clauses
//   - DeleteBuilder: DELETE statement builder with WHERE predicates
//
// # Dialect Support
//
// SQL generation adapts to different database dialects:
//
//	import "github.com/syssam/dataflow/dialect"
//
//	// PostgreSQL
//	b := sql.Dialect(dialect.Postgres)
//	b.Select("id", "name").From("users").Where(sql.EQ("status", "active"))
//
//	// MySQL
//	b := sql.Dialect(dialect.MySQL)
//
// # Predicates
//
// The package provides type-safe predicate functions:
//
//	// Equality
//	sql.EQ("name", "john")           // name = 'john'
//	sql.NEQ("status", "deleted")     // status <> 'deleted'
//
//	// Comparison
//	sql.GT("age", 18)                // age > 18
//	sql.LTE("price", 100.0)          // price <= 100.0
//
//	// String matching
//	sql.Contains("name", "john")     // name LIKE '%john%'
//	sql.HasPrefix("email", "admin")  // email LIKE 'admin%'
//
//	// NULL checks
//	sql.IsNull("deleted_at")         // deleted_at IS NULL
//	sql.NotNull("email")             // email IS NOT NULL
//
//	// IN clauses
//	sql.In("status", "active", "pending")  // status IN ('active', 'pending')
//
// # Joins
//
// Selector reads from a single table: From takes one table name, and there
// is no join builder.
//
// # Pagination
//
// Offset-based pagination uses Limit and Offset:
//
//	sql.Dialect(dialect.Postgres).Select().From("users").Offset(20).Limit(10)
//
// There is no cursor-based pagination.
//
// # Row-Level Locking
//
// Selector renders no FOR UPDATE or other row-locking clause.
//
// # Usage with the catalog engine
//
// This package is typically used internally by the generated node
// handlers, but can be used directly for custom queries. Query renders the
// statement and its arguments, which a dialect.Driver then runs:
//
//	q, args := sql.Dialect(dialect.Postgres).Select().From("users").
//	    Where(sql.GT("age", 18)).
//	    Query()
//	var rows sql.Rows
//	err := drv.Query(ctx, q, args, &rows)
package sql
