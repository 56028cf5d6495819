package sql

// DeleteBuilder builds DELETE statements from a table and AND-joined Where
// predicates. Delete and BulkDelete both render through it with the
// filter's predicates (an $in filter becomes an IN-list); there is no
// correlated temporary-values join form.
type DeleteBuilder struct {
	b      Builder
	table  string
	wheres []Predicate
}

// Delete starts a DELETE statement against table.
func (d *DialectBuilder) Delete(table string) *DeleteBuilder {
	return &DeleteBuilder{b: d.newBuilder(), table: table}
}

// Where appends a predicate, AND-joined with any existing ones.
func (d *DeleteBuilder) Where(p Predicate) *DeleteBuilder {
	d.wheres = append(d.wheres, p)
	return d
}

func (d *DeleteBuilder) asSelector() *Selector {
	return &Selector{b: d.b, table: d.table}
}

// Query renders the DELETE statement and its bound arguments. A DeleteBuilder
// with no Where clause renders "DELETE FROM table" unconditionally — callers
// (the node catalog) are responsible for the "unsafe bulk operation" guard
// before ever constructing one with no predicate.
func (d *DeleteBuilder) Query() (string, []any) {
	b := &d.b
	b.WriteString("DELETE FROM ").WriteString(b.Quote(d.table))
	if len(d.wheres) > 0 {
		sel := d.asSelector()
		writeWhere(b, sel, d.wheres, "WHERE")
		d.b = sel.b
		b = &d.b
	}
	return b.String(), b.args
}
