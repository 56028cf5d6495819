// Package sql provides the SQL builder and pooled driver used by every
// operation handler in the node catalog. Nothing outside this
// package concatenates caller-supplied values into a SQL string: every
// value reaches the statement as a bound parameter.
package sql

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/syssam/dataflow/dialect"
)

// Querier is implemented by every statement builder: it renders the final
// SQL string together with its positional argument list.
type Querier interface {
	Query() (string, []any)
}

// Builder is the low-level statement accumulator shared by every concrete
// builder (Selector, InsertBuilder, UpdateBuilder, DeleteBuilder, DDL
// builders). It owns dialect-aware quoting and parameter placeholder
// rendering so no subtype has to reimplement either.
type Builder struct {
	sb      *strings.Builder
	args    []any
	dialect string
	total   *int // shared placeholder counter across a composed statement
}

// DialectBuilder is the entry point returned by Dialect(name); it binds a
// dialect name to every statement built from it.
type DialectBuilder struct {
	dialect string
}

// Dialect returns a DialectBuilder bound to the given dialect name. It is
// the standard entry point: Dialect(dialect.Postgres).Select(...).
func Dialect(name string) *DialectBuilder { return &DialectBuilder{dialect: name} }

func (d *DialectBuilder) newBuilder() Builder {
	n := 0
	return Builder{dialect: d.dialect, total: &n, sb: &strings.Builder{}}
}

// Quote renders a bare identifier using the dialect's quoting rules.
// Double quotes for Postgres/SQLite, backticks for MySQL.
func (b *Builder) Quote(ident string) string {
	switch b.dialect {
	case dialect.MySQL:
		return "`" + strings.ReplaceAll(ident, "`", "``") + "`"
	default:
		return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
	}
}

// QuoteColumns quotes a table.column path, quoting each segment separately.
func (b *Builder) QuoteColumns(path string) string {
	parts := strings.Split(path, ".")
	for i, p := range parts {
		parts[i] = b.Quote(p)
	}
	return strings.Join(parts, ".")
}

// Arg appends v to the argument list and writes its placeholder. Postgres
// uses numbered placeholders ($1, $2, ...); MySQL and SQLite use "?".
func (b *Builder) Arg(v any) *Builder {
	b.args = append(b.args, v)
	b.writePlaceholder()
	return b
}

func (b *Builder) writePlaceholder() {
	*b.total++
	switch b.dialect {
	case dialect.Postgres:
		b.sb.WriteString("$" + strconv.Itoa(*b.total))
	default:
		b.sb.WriteByte('?')
	}
}

// Args appends multiple values, separated by commas, each as its own
// placeholder — used for IN-lists and multi-row VALUES tuples.
func (b *Builder) Args(vs ...any) *Builder {
	for i, v := range vs {
		if i > 0 {
			b.sb.WriteString(", ")
		}
		b.Arg(v)
	}
	return b
}

func (b *Builder) WriteString(s string) *Builder {
	b.sb.WriteString(s)
	return b
}

func (b *Builder) WriteByte(c byte) *Builder {
	b.sb.WriteByte(c)
	return b
}

func (b *Builder) String() string { return b.sb.String() }

// Total returns the number of placeholders written so far, used by callers
// composing several builders that must share one running placeholder count
// (e.g. an UPDATE ... WHERE clause built from two sub-builders).
func (b *Builder) Total() int {
	if b.total == nil {
		return 0
	}
	return *b.total
}

// joinArgs is a small helper to fmt identifiers for error messages without
// leaking values (never used to build SQL text).
func joinArgs(args []any) string {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = fmt.Sprintf("%v", a)
	}
	return strings.Join(parts, ", ")
}
