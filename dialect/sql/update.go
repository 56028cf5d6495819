package sql

// UpdateBuilder builds UPDATE statements, including BulkUpdate's single
// "UPDATE ... CASE WHEN ..." form for heterogeneous row sets.
type UpdateBuilder struct {
	b         Builder
	table     string
	sets      []setClause
	wheres    []Predicate
	returning []string
}

type setClause struct {
	col string
	// raw, when non-empty, is written verbatim after "col = " instead of
	// binding value as a single parameter — used for CASE WHEN expressions.
	raw  string
	args []any
	val  any
	isRaw bool
}

// Update starts an UPDATE statement against table.
func (d *DialectBuilder) Update(table string) *UpdateBuilder {
	return &UpdateBuilder{b: d.newBuilder(), table: table}
}

// Set assigns col = value.
func (u *UpdateBuilder) Set(col string, value any) *UpdateBuilder {
	u.sets = append(u.sets, setClause{col: col, val: value})
	return u
}

// SetExpr assigns col to a raw SQL expression (e.g. a CASE WHEN chain built
// by the bulk-update row-set classifier), bound against the given args in
// the order their placeholders appear in expr.
func (u *UpdateBuilder) SetExpr(col, expr string, args ...any) *UpdateBuilder {
	u.sets = append(u.sets, setClause{col: col, raw: expr, args: args, isRaw: true})
	return u
}

// Where appends a predicate, AND-joined with any existing ones.
func (u *UpdateBuilder) Where(p Predicate) *UpdateBuilder {
	u.wheres = append(u.wheres, p)
	return u
}

// Returning declares the RETURNING column list (Postgres/SQLite only).
func (u *UpdateBuilder) Returning(cols ...string) *UpdateBuilder {
	u.returning = cols
	return u
}

// asSelector adapts the shared Predicate-rendering machinery: predicates
// only know how to write against a Selector's embedded Builder/table, so
// UpdateBuilder borrows one to render its WHERE clause with the same code.
func (u *UpdateBuilder) asSelector() *Selector {
	return &Selector{b: u.b, table: u.table}
}

// Query renders the UPDATE statement and its bound arguments.
func (u *UpdateBuilder) Query() (string, []any) {
	b := &u.b
	b.WriteString("UPDATE ").WriteString(b.Quote(u.table)).WriteString(" SET ")
	for i, s := range u.sets {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(b.Quote(s.col) + " = ")
		if s.isRaw {
			b.WriteString(s.raw)
			b.args = append(b.args, s.args...)
		} else {
			b.Arg(s.val)
		}
	}
	if len(u.wheres) > 0 {
		sel := u.asSelector()
		writeWhere(b, sel, u.wheres, "WHERE")
		u.b = sel.b
		b = &u.b
	}
	if len(u.returning) > 0 {
		b.WriteString(" RETURNING ")
		for i, c := range u.returning {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(b.Quote(c))
		}
	}
	return b.String(), b.args
}
