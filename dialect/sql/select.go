package sql

import (
	"strconv"
	"strings"
)

// Selector builds a SELECT statement. It is also the type every Predicate
// renders against, since WHERE/HAVING fragments are only ever evaluated in
// the context of one statement's placeholder counter and dialect.
type Selector struct {
	b         Builder
	table     string
	columns   []string
	distinct  bool
	wheres    []Predicate
	orders    []string
	groupBy   []string
	having    []Predicate
	limit     *int
	offset    *int
}

// Select starts a SELECT statement for the given columns (none means "*").
// Column names are quoted; "*" and expressions containing "(", such as
// COUNT(*), are written as given.
func (d *DialectBuilder) Select(columns ...string) *Selector {
	return &Selector{b: d.newBuilder(), columns: columns}
}

// From sets the source table.
func (s *Selector) From(table string) *Selector { s.table = table; return s }

// B exposes the underlying Builder to Predicate functions.
func (s *Selector) B() *Builder { return &s.b }

// C qualifies a column name with the selector's table, the way every
// generated field accessor calls it before handing the result to a predicate.
func (s *Selector) C(column string) string {
	if s.table == "" {
		return column
	}
	return s.table + "." + column
}

// Distinct configures duplicate-row filtering.
func (s *Selector) Distinct() *Selector { s.distinct = true; return s }

// Where appends a predicate, AND-joined with any existing ones.
func (s *Selector) Where(p Predicate) *Selector {
	s.wheres = append(s.wheres, p)
	return s
}

// Having appends a HAVING predicate (post-aggregation filter).
func (s *Selector) Having(p Predicate) *Selector {
	s.having = append(s.having, p)
	return s
}

// GroupBy appends grouping columns.
func (s *Selector) GroupBy(cols ...string) *Selector {
	s.groupBy = append(s.groupBy, cols...)
	return s
}

// OrderBy appends a raw ORDER BY fragment (e.g. `"created_at" DESC`); the
// caller is responsible for quoting via s.B().Quote before calling this.
func (s *Selector) OrderBy(exprs ...string) *Selector {
	s.orders = append(s.orders, exprs...)
	return s
}

// Limit sets the row cap.
func (s *Selector) Limit(n int) *Selector { s.limit = &n; return s }

// Offset sets the row skip.
func (s *Selector) Offset(n int) *Selector { s.offset = &n; return s }

// Query renders the final SELECT statement and its bound arguments.
func (s *Selector) Query() (string, []any) {
	b := &s.b
	b.WriteString("SELECT ")
	if s.distinct {
		b.WriteString("DISTINCT ")
	}
	if len(s.columns) == 0 {
		b.WriteString("*")
	} else {
		for i, c := range s.columns {
			if i > 0 {
				b.WriteString(", ")
			}
			if c == "*" || strings.Contains(c, "(") {
				b.WriteString(c)
			} else {
				b.WriteString(b.QuoteColumns(c))
			}
		}
	}
	if s.table != "" {
		b.WriteString(" FROM ").WriteString(b.Quote(s.table))
	}
	writeWhere(b, s, s.wheres, "WHERE")
	if len(s.groupBy) > 0 {
		b.WriteString(" GROUP BY ")
		for i, c := range s.groupBy {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(b.QuoteColumns(c))
		}
	}
	writeWhere(b, s, s.having, "HAVING")
	if len(s.orders) > 0 {
		b.WriteString(" ORDER BY " + joinPlain(s.orders))
	}
	if s.limit != nil {
		b.WriteString(" LIMIT " + strconv.Itoa(*s.limit))
	}
	if s.offset != nil {
		b.WriteString(" OFFSET " + strconv.Itoa(*s.offset))
	}
	return b.String(), b.args
}

func writeWhere(b *Builder, s *Selector, ps []Predicate, kw string) {
	if len(ps) == 0 {
		return
	}
	b.WriteString(" " + kw + " ")
	for i, p := range ps {
		if i > 0 {
			b.WriteString(" AND ")
		}
		p(s)
	}
}

func joinPlain(ss []string) string {
	out := ss[0]
	for _, s := range ss[1:] {
		out += ", " + s
	}
	return out
}
