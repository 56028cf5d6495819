package sql

// Predicate renders one WHERE/HAVING fragment against a Selector's builder.
// It is the function type every comparison operator below returns, and the
// type every StringField/IntField/... generic predicate method in
// predicate.go ultimately produces through the FieldXxx wrappers here.
type Predicate func(*Selector)

// P composes fns into one predicate: a single predicate is returned as is,
// several are AND-joined in parens (see And). The typed field methods in
// predicate.go wrap their FieldXxx appliers with it.
func P(fns ...Predicate) Predicate {
	if len(fns) == 1 {
		return fns[0]
	}
	return And(fns...)
}

func writeOp(s *Selector, col, op string, v any) {
	s.B().WriteString(s.B().QuoteColumns(col)).WriteString(" " + op + " ")
	s.B().Arg(v)
}

// EQ returns a predicate for "col = v".
func EQ(col string, v any) Predicate { return func(s *Selector) { writeOp(s, col, "=", v) } }

// NEQ returns a predicate for "col <> v".
func NEQ(col string, v any) Predicate { return func(s *Selector) { writeOp(s, col, "<>", v) } }

// GT returns a predicate for "col > v".
func GT(col string, v any) Predicate { return func(s *Selector) { writeOp(s, col, ">", v) } }

// GTE returns a predicate for "col >= v".
func GTE(col string, v any) Predicate { return func(s *Selector) { writeOp(s, col, ">=", v) } }

// LT returns a predicate for "col < v".
func LT(col string, v any) Predicate { return func(s *Selector) { writeOp(s, col, "<", v) } }

// LTE returns a predicate for "col <= v".
func LTE(col string, v any) Predicate { return func(s *Selector) { writeOp(s, col, "<=", v) } }

// Like returns a predicate for "col LIKE pattern", rendered the same way on
// every dialect.
func Like(col string, pattern string) Predicate {
	return func(s *Selector) { writeOp(s, col, "LIKE", pattern) }
}

// Regexp returns a dialect-specific regular-expression match predicate.
func Regexp(col string, pattern string) Predicate {
	return func(s *Selector) {
		b := s.B()
		switch b.dialect {
		case "mysql", "sqlite":
			// SQLite parses REGEXP but has no built-in implementation;
			// callers register a regexp() function on the connection.
			writeOp(s, col, "REGEXP", pattern)
		default:
			// Postgres: "col" ~ $n
			writeOp(s, col, "~", pattern)
		}
	}
}

// Contains returns a predicate for a substring match.
func Contains(col, substr string) Predicate { return Like(col, "%"+escapeLike(substr)+"%") }

// ContainsFold is a case-insensitive Contains: both sides are wrapped in
// LOWER() on every dialect.
func ContainsFold(col, substr string) Predicate {
	return func(s *Selector) {
		b := s.B()
		b.WriteString("LOWER(" + b.QuoteColumns(col) + ") LIKE LOWER(")
		b.Arg("%" + escapeLike(substr) + "%")
		b.WriteString(")")
	}
}

// HasPrefix returns a predicate for a prefix match.
func HasPrefix(col, prefix string) Predicate { return Like(col, escapeLike(prefix)+"%") }

// HasSuffix returns a predicate for a suffix match.
func HasSuffix(col, suffix string) Predicate { return Like(col, "%"+escapeLike(suffix)) }

// EqualFold returns a case-insensitive equality predicate.
func EqualFold(col, v string) Predicate {
	return func(s *Selector) {
		b := s.B()
		b.WriteString("LOWER(" + b.QuoteColumns(col) + ") = LOWER(")
		b.Arg(v)
		b.WriteString(")")
	}
}

func escapeLike(s string) string {
	r := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '%' || s[i] == '_' || s[i] == '\\' {
			r = append(r, '\\')
		}
		r = append(r, s[i])
	}
	return string(r)
}

// IsNull returns a predicate for "col IS NULL".
func IsNull(col string) Predicate {
	return func(s *Selector) { s.B().WriteString(s.B().QuoteColumns(col) + " IS NULL") }
}

// NotNull returns a predicate for "col IS NOT NULL".
func NotNull(col string) Predicate {
	return func(s *Selector) { s.B().WriteString(s.B().QuoteColumns(col) + " IS NOT NULL") }
}

// In returns a predicate for "col IN (v1, v2, ...)". An empty vs is a caller
// error at a higher layer (empty $in is forbidden there); this builder-level
// function assumes the caller already rejected that case.
func In(col string, vs ...any) Predicate {
	return func(s *Selector) {
		b := s.B()
		b.WriteString(b.QuoteColumns(col) + " IN (")
		b.Args(vs...)
		b.WriteString(")")
	}
}

// NotIn returns a predicate for "col NOT IN (v1, v2, ...)".
func NotIn(col string, vs ...any) Predicate {
	return func(s *Selector) {
		b := s.B()
		b.WriteString(b.QuoteColumns(col) + " NOT IN (")
		b.Args(vs...)
		b.WriteString(")")
	}
}

// Between returns a predicate for "col BETWEEN lo AND hi".
func Between(col string, lo, hi any) Predicate {
	return func(s *Selector) {
		b := s.B()
		b.WriteString(b.QuoteColumns(col) + " BETWEEN ")
		b.Arg(lo)
		b.WriteString(" AND ")
		b.Arg(hi)
	}
}

func combine(glue string, ps []Predicate) Predicate {
	return func(s *Selector) {
		b := s.B()
		if len(ps) == 0 {
			return
		}
		b.WriteString("(")
		for i, p := range ps {
			if i > 0 {
				b.WriteString(" " + glue + " ")
			}
			p(s)
		}
		b.WriteString(")")
	}
}

// And combines predicates with AND, wrapped in parens.
func And(ps ...Predicate) Predicate { return combine("AND", ps) }

// Or combines predicates with OR, wrapped in parens.
func Or(ps ...Predicate) Predicate { return combine("OR", ps) }

// Not negates a single predicate.
func Not(p Predicate) Predicate {
	return func(s *Selector) {
		b := s.B()
		b.WriteString("NOT ")
		p(s)
	}
}

// --- FieldXxx wrappers: the glue generic predicate.go Field types call into. ---

func FieldEQ(name string, v any) func(*Selector)         { return func(s *Selector) { s.Where(EQ(name, v)) } }
func FieldNEQ(name string, v any) func(*Selector)        { return func(s *Selector) { s.Where(NEQ(name, v)) } }
func FieldGT(name string, v any) func(*Selector)         { return func(s *Selector) { s.Where(GT(name, v)) } }
func FieldGTE(name string, v any) func(*Selector)        { return func(s *Selector) { s.Where(GTE(name, v)) } }
func FieldLT(name string, v any) func(*Selector)         { return func(s *Selector) { s.Where(LT(name, v)) } }
func FieldLTE(name string, v any) func(*Selector)        { return func(s *Selector) { s.Where(LTE(name, v)) } }
func FieldContains(name, v string) func(*Selector)       { return func(s *Selector) { s.Where(Contains(name, v)) } }
func FieldContainsFold(name, v string) func(*Selector)   { return func(s *Selector) { s.Where(ContainsFold(name, v)) } }
func FieldHasPrefix(name, v string) func(*Selector)      { return func(s *Selector) { s.Where(HasPrefix(name, v)) } }
func FieldHasSuffix(name, v string) func(*Selector)      { return func(s *Selector) { s.Where(HasSuffix(name, v)) } }
func FieldEqualFold(name, v string) func(*Selector)      { return func(s *Selector) { s.Where(EqualFold(name, v)) } }
func FieldIsNull(name string) func(*Selector)            { return func(s *Selector) { s.Where(IsNull(name)) } }
func FieldNotNull(name string) func(*Selector)           { return func(s *Selector) { s.Where(NotNull(name)) } }

// FieldIn is generic so it serves StringField/IntField/Int64Field/Float64Field alike.
func FieldIn[T any](name string, vs ...T) func(*Selector) {
	return func(s *Selector) {
		v := make([]any, len(vs))
		for i := range vs {
			v[i] = vs[i]
		}
		s.Where(In(name, v...))
	}
}

// FieldNotIn mirrors FieldIn for the negated case.
func FieldNotIn[T any](name string, vs ...T) func(*Selector) {
	return func(s *Selector) {
		v := make([]any, len(vs))
		for i := range vs {
			v[i] = vs[i]
		}
		s.Where(NotIn(name, v...))
	}
}
