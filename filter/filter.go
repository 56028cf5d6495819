// Package filter translates MongoDB-style filter documents into
// parameterized SQL WHERE fragments. A filter is either a
// direct equality document ({field: value}) or an operator subdocument
// ({field: {$op: value, ...}}), composed with $and/$or/$nor.
package filter

import (
	"fmt"
	"sort"

	"github.com/syssam/dataflow/dialect/sql"
)

// Doc is a filter document. Go maps have no defined iteration order, so
// Translate sorts keys lexicographically before walking them — a
// deliberate deviation from "insertion order" hosts like Python/JS give for
// free, chosen because it is the simplest order that is still stable across
// invocations, which is all cache-fingerprint determinism actually
// requires.
type Doc map[string]any

// Error reports a malformed filter: an unknown operator, wrong arity, a
// non-identifier field name, or an empty $in/$nin set.
type Error struct {
	Path string
	Msg  string
}

func (e *Error) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("filter: invalid filter at %q: %s", e.Path, e.Msg)
	}
	return fmt.Sprintf("filter: invalid filter: %s", e.Msg)
}

var logicalOps = map[string]func([]sql.Predicate) sql.Predicate{
	"$and": func(ps []sql.Predicate) sql.Predicate { return sql.And(ps...) },
	"$or":  func(ps []sql.Predicate) sql.Predicate { return sql.Or(ps...) },
	"$nor": func(ps []sql.Predicate) sql.Predicate { return sql.Not(sql.Or(ps...)) },
}

// Translate converts doc into a single Predicate ready for Selector.Where,
// given a column accessor that turns a field name into a *Selector-bound
// column reference (the caller supplies this so filter stays independent of
// any one Selector instance).
func Translate(doc Doc, col func(field string) string) (sql.Predicate, error) {
	return translate(doc, col, "")
}

func translate(doc Doc, col func(string) string, path string) (sql.Predicate, error) {
	if len(doc) == 0 {
		return func(s *sql.Selector) { s.B().WriteString("1 = 1") }, nil
	}
	keys := sortedKeys(doc)
	var parts []sql.Predicate
	for _, key := range keys {
		value := doc[key]
		childPath := joinPath(path, key)
		if fn, ok := logicalOps[key]; ok {
			arr, ok := value.([]Doc)
			if !ok {
				arr2, ok2 := value.([]any)
				if !ok2 {
					return nil, &Error{Path: childPath, Msg: "expects an array of sub-filters"}
				}
				arr = make([]Doc, 0, len(arr2))
				for _, v := range arr2 {
					d, ok := v.(Doc)
					if !ok {
						d2, ok2 := v.(map[string]any)
						if !ok2 {
							return nil, &Error{Path: childPath, Msg: "sub-filter must be a document"}
						}
						d = Doc(d2)
					}
					arr = append(arr, d)
				}
			}
			sub := make([]sql.Predicate, 0, len(arr))
			for i, d := range arr {
				p, err := translate(d, col, fmt.Sprintf("%s[%d]", childPath, i))
				if err != nil {
					return nil, err
				}
				sub = append(sub, p)
			}
			parts = append(parts, fn(sub))
			continue
		}
		if !sql.IsValidIdentifier(key) {
			return nil, &Error{Path: childPath, Msg: "field name is not a valid identifier"}
		}
		p, err := translateField(col(key), value, childPath)
		if err != nil {
			return nil, err
		}
		parts = append(parts, p)
	}
	return sql.And(parts...), nil
}

func translateField(column string, value any, path string) (sql.Predicate, error) {
	sub, isDoc := asDoc(value)
	if !isDoc {
		return sql.EQ(column, value), nil
	}
	keys := sortedKeys(sub)
	var parts []sql.Predicate
	for _, op := range keys {
		arg := sub[op]
		p, err := translateOp(column, op, arg, path+"."+op)
		if err != nil {
			return nil, err
		}
		parts = append(parts, p)
	}
	if len(parts) == 0 {
		return nil, &Error{Path: path, Msg: "empty operator document"}
	}
	return sql.And(parts...), nil
}

func translateOp(column, op string, arg any, path string) (sql.Predicate, error) {
	switch op {
	case "$eq":
		return sql.EQ(column, arg), nil
	case "$ne":
		return sql.NEQ(column, arg), nil
	case "$lt":
		return sql.LT(column, arg), nil
	case "$lte":
		return sql.LTE(column, arg), nil
	case "$gt":
		return sql.GT(column, arg), nil
	case "$gte":
		return sql.GTE(column, arg), nil
	case "$in":
		vs, err := toSlice(arg, path)
		if err != nil {
			return nil, err
		}
		if len(vs) == 0 {
			return nil, &Error{Path: path, Msg: "empty set"}
		}
		return sql.In(column, vs...), nil
	case "$nin":
		vs, err := toSlice(arg, path)
		if err != nil {
			return nil, err
		}
		if len(vs) == 0 {
			return nil, &Error{Path: path, Msg: "empty set"}
		}
		return sql.NotIn(column, vs...), nil
	case "$regex":
		pattern, ok := arg.(string)
		if !ok {
			return nil, &Error{Path: path, Msg: "$regex requires a string pattern"}
		}
		return sql.Regexp(column, pattern), nil
	case "$like":
		pattern, ok := arg.(string)
		if !ok {
			return nil, &Error{Path: path, Msg: "$like requires a string pattern"}
		}
		return sql.Like(column, pattern), nil
	case "$exists":
		want, ok := arg.(bool)
		if !ok {
			return nil, &Error{Path: path, Msg: "$exists requires a bool"}
		}
		if want {
			return sql.NotNull(column), nil
		}
		return sql.IsNull(column), nil
	case "$not":
		sub, isDoc := asDoc(arg)
		if !isDoc {
			return nil, &Error{Path: path, Msg: "$not requires a sub-filter document"}
		}
		p, err := translateField(column, map[string]any(sub), path)
		if err != nil {
			return nil, err
		}
		return sql.Not(p), nil
	case "$between":
		vs, err := toSlice(arg, path)
		if err != nil {
			return nil, err
		}
		if len(vs) != 2 {
			return nil, &Error{Path: path, Msg: "$between requires a 2-tuple"}
		}
		return sql.Between(column, vs[0], vs[1]), nil
	default:
		return nil, &Error{Path: path, Msg: fmt.Sprintf("unknown operator %q", op)}
	}
}

func asDoc(value any) (Doc, bool) {
	switch v := value.(type) {
	case Doc:
		return v, true
	case map[string]any:
		return Doc(v), true
	default:
		return nil, false
	}
}

func toSlice(value any, path string) ([]any, error) {
	switch v := value.(type) {
	case []any:
		return v, nil
	case nil:
		return nil, nil
	default:
		return nil, &Error{Path: path, Msg: "expects an array"}
	}
}

func sortedKeys(m any) []string {
	var keys []string
	switch v := m.(type) {
	case Doc:
		for k := range v {
			keys = append(keys, k)
		}
	case map[string]any:
		for k := range v {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

func joinPath(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}
