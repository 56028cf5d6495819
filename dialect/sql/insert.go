package sql

import "github.com/syssam/dataflow/dialect"

// InsertBuilder builds INSERT statements, including the multi-row batches
// BulkCreate uses and the per-dialect upsert forms Upsert/BulkUpsert use.
type InsertBuilder struct {
	b          Builder
	table      string
	columns    []string
	rows       [][]any
	returning  []string
	conflict   []string // conflict target columns, e.g. the primary key
	updateSet  []string // columns to update on conflict
	defaultRow bool
}

// Insert starts an INSERT statement against table.
func (d *DialectBuilder) Insert(table string) *InsertBuilder {
	return &InsertBuilder{b: d.newBuilder(), table: table}
}

// Columns declares the column order every subsequent Values call must match.
func (i *InsertBuilder) Columns(cols ...string) *InsertBuilder {
	i.columns = cols
	return i
}

// Values appends one row of values, in Columns order.
func (i *InsertBuilder) Values(vs ...any) *InsertBuilder {
	i.rows = append(i.rows, vs)
	return i
}

// Default renders "DEFAULT VALUES" / an all-default row, used for models
// whose every column has a server-side default.
func (i *InsertBuilder) Default() *InsertBuilder {
	i.defaultRow = true
	return i
}

// Returning declares the RETURNING/OUTPUT column list (Postgres/SQLite
// support RETURNING natively; MySQL callers read LastInsertId instead).
func (i *InsertBuilder) Returning(cols ...string) *InsertBuilder {
	i.returning = cols
	return i
}

// OnConflict configures an upsert: conflictCols identifies the row, and
// updateCols lists the columns to overwrite with the incoming values. On
// MySQL this emits ON DUPLICATE KEY UPDATE; on Postgres/SQLite, ON CONFLICT
// ... DO UPDATE SET. DialectBuilder.SupportsUpsert reports whether the
// dialect has a native form at all.
func (i *InsertBuilder) OnConflict(conflictCols, updateCols []string) *InsertBuilder {
	i.conflict = conflictCols
	i.updateSet = updateCols
	return i
}

// SupportsUpsert reports whether d has a native INSERT ... upsert form.
// It returns true for every dialect. The node catalog does not consult it,
// and there is no read-then-update fallback for a dialect without one.
func (d *DialectBuilder) SupportsUpsert() bool { return true }

// Query renders the INSERT statement and its bound arguments.
func (i *InsertBuilder) Query() (string, []any) {
	b := &i.b
	b.WriteString("INSERT INTO ").WriteString(b.Quote(i.table))
	if i.defaultRow {
		switch b.dialect {
		case dialect.MySQL:
			b.WriteString(" () VALUES ()")
		default:
			b.WriteString(" DEFAULT VALUES")
		}
	} else {
		b.WriteString(" (")
		for idx, c := range i.columns {
			if idx > 0 {
				b.WriteString(", ")
			}
			b.WriteString(b.Quote(c))
		}
		b.WriteString(") VALUES ")
		for r, row := range i.rows {
			if r > 0 {
				b.WriteString(", ")
			}
			b.WriteString("(")
			b.Args(row...)
			b.WriteString(")")
		}
	}
	if len(i.conflict) > 0 && len(i.updateSet) > 0 {
		i.writeConflict(b)
	}
	if len(i.returning) > 0 && b.dialect != dialect.MySQL {
		b.WriteString(" RETURNING ")
		for idx, c := range i.returning {
			if idx > 0 {
				b.WriteString(", ")
			}
			b.WriteString(b.Quote(c))
		}
	}
	return b.String(), b.args
}

func (i *InsertBuilder) writeConflict(b *Builder) {
	switch b.dialect {
	case dialect.MySQL:
		b.WriteString(" ON DUPLICATE KEY UPDATE ")
		for idx, c := range i.updateSet {
			if idx > 0 {
				b.WriteString(", ")
			}
			q := b.Quote(c)
			b.WriteString(q + " = VALUES(" + q + ")")
		}
	default: // Postgres, SQLite
		b.WriteString(" ON CONFLICT (")
		for idx, c := range i.conflict {
			if idx > 0 {
				b.WriteString(", ")
			}
			b.WriteString(b.Quote(c))
		}
		b.WriteString(") DO UPDATE SET ")
		for idx, c := range i.updateSet {
			if idx > 0 {
				b.WriteString(", ")
			}
			q := b.Quote(c)
			b.WriteString(q + " = EXCLUDED." + q)
		}
	}
}
