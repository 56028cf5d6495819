package catalog

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"

	dsql "github.com/syssam/dataflow/dialect/sql"
	"github.com/syssam/dataflow/filter"
	"github.com/syssam/dataflow/model"
	"github.com/syssam/dataflow/querycache"
)

const defaultBulkBatchSize = 1000

func handlerFor(op Op) Handler {
	switch op {
	case OpCreate:
		return handleCreate
	case OpRead:
		return handleRead
	case OpUpdate:
		return handleUpdate
	case OpDelete:
		return handleDelete
	case OpList:
		return handleList
	case OpUpsert:
		return handleUpsert
	case OpCount:
		return handleCount
	case OpBulkCreate:
		return handleBulkCreate
	case OpBulkUpdate:
		return handleBulkUpdate
	case OpBulkDelete:
		return handleBulkDelete
	case OpBulkUpsert:
		return handleBulkUpsert
	default:
		return func(ec *ExecContext, m *model.Model, in EntryInput) *Result {
			return fail("internal", fmt.Sprintf("unhandled op %q", op))
		}
	}
}

// canonicalize serializes a JSON-typed field's value with a canonical
// encoder: encoding/json already renders map keys in sorted
// order and UTF-8 double-quoted strings, which is all "canonical" requires
// here — never the host language's ad hoc %v/Stringer conversion.
func canonicalize(m *model.Model, values map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(values))
	for k, v := range values {
		f := m.Field(k)
		if f != nil && f.Type == model.JSON && v != nil {
			b, err := json.Marshal(v)
			if err != nil {
				return nil, fmt.Errorf("encoding json field %q: %w", k, err)
			}
			out[k] = string(b)
			continue
		}
		out[k] = v
	}
	return out, nil
}

func applyInterceptRead(ec *ExecContext, m *model.Model, in EntryInput) (filter.Doc, error) {
	if ec.Intercept == nil {
		return in.Filter, nil
	}
	return ec.Intercept.BeforeRead(ec.Ctx, m, in.Filter, in.IncludeDeleted)
}

func applyInterceptWrite(ec *ExecContext, m *model.Model, values map[string]any, op Op) (map[string]any, error) {
	if ec.Intercept == nil {
		return values, nil
	}
	return ec.Intercept.BeforeWrite(ec.Ctx, m, values, op)
}

func handleCreate(ec *ExecContext, m *model.Model, in EntryInput) *Result {
	values, err := applyInterceptWrite(ec, m, in.Values, OpCreate)
	if err != nil {
		return fail("validation", err.Error())
	}
	values, err = canonicalize(m, values)
	if err != nil {
		return fail("validation", err.Error())
	}
	cols := make([]string, 0, len(values))
	vals := make([]any, 0, len(values))
	for k, v := range values {
		cols = append(cols, k)
		vals = append(vals, v)
	}
	ib := ec.Dialect.Insert(m.TableName)
	if len(cols) == 0 {
		ib.Default()
	} else {
		ib.Columns(cols...).Values(vals...)
	}
	allCols := allColumnNames(m)
	ib.Returning(allCols...)
	q, args := ib.Query()
	var rows dsql.Rows
	if err := ec.Conn.Query(ec.Ctx, q, args, &rows); err != nil {
		return fail("query", err.Error())
	}
	defer rows.Close()
	row, err := scanOne(&rows)
	if err != nil {
		return fail("query", err.Error())
	}
	return &Result{Success: true, Data: row, RowsAffected: 1}
}

func handleRead(ec *ExecContext, m *model.Model, in EntryInput) *Result {
	f, err := applyInterceptRead(ec, m, in)
	if err != nil {
		return fail("validation", err.Error())
	}
	pred, err := filter.Translate(f, func(field string) string { return field })
	if err != nil {
		return fail("invalid_filter", err.Error())
	}
	fetch := func() (any, error) {
		sel := ec.Dialect.Select(allColumnNames(m)...).From(m.TableName).Where(pred).Limit(1)
		q, args := sel.Query()
		var rows dsql.Rows
		if err := ec.Conn.Query(ec.Ctx, q, args, &rows); err != nil {
			return nil, err
		}
		defer rows.Close()
		return scanOne(&rows)
	}
	row, err := cachedLoad(ec, m, OpRead, f, in, fetch)
	if err != nil {
		return fail("not_found", fmt.Sprintf("%s not found", m.Name))
	}
	return &Result{Success: true, Data: row, RowsAffected: 1}
}

func handleList(ec *ExecContext, m *model.Model, in EntryInput) *Result {
	f, err := applyInterceptRead(ec, m, in)
	if err != nil {
		return fail("validation", err.Error())
	}
	pred, err := filter.Translate(f, func(field string) string { return field })
	if err != nil {
		return fail("invalid_filter", err.Error())
	}
	fetch := func() (any, error) {
		sel := ec.Dialect.Select(allColumnNames(m)...).From(m.TableName).Where(pred)
		if len(in.OrderBy) > 0 {
			sel.OrderBy(in.OrderBy...)
		}
		if in.Limit > 0 {
			sel.Limit(in.Limit)
		}
		if in.Offset > 0 {
			sel.Offset(in.Offset)
		}
		q, args := sel.Query()
		var rows dsql.Rows
		if err := ec.Conn.Query(ec.Ctx, q, args, &rows); err != nil {
			return nil, err
		}
		defer rows.Close()
		return scanAll(&rows)
	}
	out, err := cachedLoad(ec, m, OpList, f, in, fetch)
	if err != nil {
		return fail("query", err.Error())
	}
	// A cache hit decodes through msgpack into a generic any rather than the
	// original []map[string]any (querycache.Cache.Load has no type
	// information to reconstruct it with), so the row count is read back via
	// reflection instead of a type assertion that would only succeed on a
	// cache miss.
	return &Result{Success: true, Data: out, RowsAffected: sliceLen(out)}
}

func sliceLen(v any) int64 {
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
		return int64(rv.Len())
	}
	return 0
}

func handleCount(ec *ExecContext, m *model.Model, in EntryInput) *Result {
	f, err := applyInterceptRead(ec, m, in)
	if err != nil {
		return fail("validation", err.Error())
	}
	pred, err := filter.Translate(f, func(field string) string { return field })
	if err != nil {
		return fail("invalid_filter", err.Error())
	}
	fetch := func() (any, error) {
		sel := ec.Dialect.Select("COUNT(*)").From(m.TableName).Where(pred)
		q, args := sel.Query()
		var rows dsql.Rows
		if err := ec.Conn.Query(ec.Ctx, q, args, &rows); err != nil {
			return nil, err
		}
		defer rows.Close()
		var n int64
		if rows.Next() {
			_ = rows.Scan(&n)
		}
		return n, nil
	}
	out, err := cachedLoad(ec, m, OpCount, f, in, fetch)
	if err != nil {
		return fail("query", err.Error())
	}
	n := toInt64(out)
	return &Result{Success: true, Data: n, RowsAffected: n}
}

// toInt64 normalizes a count that may have round-tripped through the cache's
// msgpack encoding, which can decode an integer into any of several numeric
// types depending on its magnitude.
func toInt64(v any) int64 {
	switch x := v.(type) {
	case int64:
		return x
	case int:
		return int64(x)
	case int32:
		return int64(x)
	case uint64:
		return int64(x)
	case uint32:
		return int64(x)
	case float64:
		return int64(x)
	default:
		return 0
	}
}

// cachedLoad runs fetch under ec.Cache's fingerprinted read-through cache
// when one is configured, falling back to calling fetch directly otherwise.
// The fingerprint covers everything that changes the result set: model,
// operation, canonicalized filter, order-by, limit/offset, and whether
// soft-deleted rows are included.
func cachedLoad(ec *ExecContext, m *model.Model, op Op, f filter.Doc, in EntryInput, fetch func() (any, error)) (any, error) {
	if ec.Cache == nil {
		return fetch()
	}
	key := querycache.Key{
		Model:     m.Name,
		Operation: string(op),
		Filter:    querycache.CanonicalFilterString(f),
		Params:    []any{in.IncludeDeleted, in.Limit, in.Offset},
		OrderBy:   in.OrderBy,
	}
	return ec.Cache.Load(ec.Ctx, key, fetch)
}

func handleUpdate(ec *ExecContext, m *model.Model, in EntryInput) *Result {
	values, err := applyInterceptWrite(ec, m, in.Values, OpUpdate)
	if err != nil {
		return fail("validation", err.Error())
	}
	values, err = canonicalize(m, values)
	if err != nil {
		return fail("validation", err.Error())
	}
	pred, err := filter.Translate(in.Filter, func(field string) string { return field })
	if err != nil {
		return fail("invalid_filter", err.Error())
	}
	ub := ec.Dialect.Update(m.TableName).Where(pred)
	for k, v := range values {
		ub.Set(k, v)
	}
	ub.Returning(allColumnNames(m)...)
	q, args := ub.Query()
	var res dsql.Result
	if err := ec.Conn.Exec(ec.Ctx, q, args, &res); err != nil {
		return fail("mutation", err.Error())
	}
	n, _ := res.RowsAffected()
	return &Result{Success: true, Data: []any{}, RowsAffected: n}
}

func handleDelete(ec *ExecContext, m *model.Model, in EntryInput) *Result {
	if err := requireNonEmptyFilter(in); err != nil {
		return fail("unsafe_bulk_operation", err.Error())
	}
	pred, err := filter.Translate(in.Filter, func(field string) string { return field })
	if err != nil {
		return fail("invalid_filter", err.Error())
	}
	if m.SoftDelete {
		ub := ec.Dialect.Update(m.TableName).Where(pred).SetExpr("deleted_at", nowLiteral())
		q, args := ub.Query()
		var res dsql.Result
		if err := ec.Conn.Exec(ec.Ctx, q, args, &res); err != nil {
			return fail("mutation", err.Error())
		}
		n, _ := res.RowsAffected()
		return &Result{Success: true, Data: []any{}, RowsAffected: n}
	}
	db := ec.Dialect.Delete(m.TableName).Where(pred)
	q, args := db.Query()
	var res dsql.Result
	if err := ec.Conn.Exec(ec.Ctx, q, args, &res); err != nil {
		return fail("mutation", err.Error())
	}
	n, _ := res.RowsAffected()
	return &Result{Success: true, Data: []any{}, RowsAffected: n}
}

func handleUpsert(ec *ExecContext, m *model.Model, in EntryInput) *Result {
	values, err := applyInterceptWrite(ec, m, in.Values, OpUpsert)
	if err != nil {
		return fail("validation", err.Error())
	}
	values, err = canonicalize(m, values)
	if err != nil {
		return fail("validation", err.Error())
	}
	conflict := in.ConflictFields
	if len(conflict) == 0 {
		conflict = []string{m.PrimaryKey}
	}
	cols := make([]string, 0, len(values))
	vals := make([]any, 0, len(values))
	for k, v := range values {
		cols = append(cols, k)
		vals = append(vals, v)
	}
	ib := ec.Dialect.Insert(m.TableName).Columns(cols...).Values(vals...).OnConflict(conflict, cols)
	ib.Returning(allColumnNames(m)...)
	q, args := ib.Query()
	var res dsql.Result
	if err := ec.Conn.Exec(ec.Ctx, q, args, &res); err != nil {
		return fail("mutation", err.Error())
	}
	n, _ := res.RowsAffected()
	return &Result{Success: true, Data: []any{}, RowsAffected: n}
}

func handleBulkCreate(ec *ExecContext, m *model.Model, in EntryInput) *Result {
	rows, ok := in.Values["rows"].([]map[string]any)
	if !ok {
		return fail("validation", "bulk_create requires a 'rows' array")
	}
	var total int64
	for start := 0; start < len(rows); start += defaultBulkBatchSize {
		end := start + defaultBulkBatchSize
		if end > len(rows) {
			end = len(rows)
		}
		batch := rows[start:end]
		if len(batch) == 0 {
			continue
		}
		cols := sortedColumnSet(batch[0])
		ib := ec.Dialect.Insert(m.TableName).Columns(cols...)
		for _, r := range batch {
			r, err := applyInterceptWrite(ec, m, r, OpBulkCreate)
			if err != nil {
				return fail("validation", err.Error())
			}
			r, err = canonicalize(m, r)
			if err != nil {
				return fail("validation", err.Error())
			}
			vals := make([]any, len(cols))
			for i, c := range cols {
				vals[i] = r[c]
			}
			ib.Values(vals...)
		}
		q, args := ib.Query()
		var res dsql.Result
		if err := ec.Conn.Exec(ec.Ctx, q, args, &res); err != nil {
			return fail("mutation", err.Error())
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return &Result{Success: true, Data: []any{}, RowsAffected: total}
}

func handleBulkUpdate(ec *ExecContext, m *model.Model, in EntryInput) *Result {
	return handleUpdate(ec, m, in)
}

func handleBulkDelete(ec *ExecContext, m *model.Model, in EntryInput) *Result {
	if err := requireNonEmptyFilter(in); err != nil {
		return fail("unsafe_bulk_operation", err.Error())
	}
	return handleDelete(ec, m, in)
}

func handleBulkUpsert(ec *ExecContext, m *model.Model, in EntryInput) *Result {
	rows, ok := in.Values["rows"].([]map[string]any)
	if !ok {
		return fail("validation", "bulk_upsert requires a 'rows' array")
	}
	conflict := in.ConflictFields
	if len(conflict) == 0 {
		conflict = []string{m.PrimaryKey}
	}
	var total int64
	for _, r := range rows {
		r, err := applyInterceptWrite(ec, m, r, OpBulkUpsert)
		if err != nil {
			return fail("validation", err.Error())
		}
		r, err = canonicalize(m, r)
		if err != nil {
			return fail("validation", err.Error())
		}
		cols := sortedColumnSet(r)
		vals := make([]any, len(cols))
		for i, c := range cols {
			vals[i] = r[c]
		}
		ib := ec.Dialect.Insert(m.TableName).Columns(cols...).Values(vals...).OnConflict(conflict, cols)
		q, args := ib.Query()
		var res dsql.Result
		if err := ec.Conn.Exec(ec.Ctx, q, args, &res); err != nil {
			return fail("mutation", err.Error())
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return &Result{Success: true, Data: []any{}, RowsAffected: total}
}

// requireNonEmptyFilter ensures delete-style handlers refuse an empty filter
// unless the caller explicitly opted out of safe mode and confirmed the
// operation. Update-family handlers don't call this: an empty filter is a
// legitimate match-all there.
func requireNonEmptyFilter(in EntryInput) error {
	if len(in.Filter) > 0 {
		return nil
	}
	if !in.SafeMode && in.Confirmed {
		return nil
	}
	return fmt.Errorf("refusing unfiltered operation without safe_mode=false and confirmed=true")
}

func allColumnNames(m *model.Model) []string {
	names := make([]string, len(m.Fields))
	for i, f := range m.Fields {
		names[i] = f.Name
	}
	return names
}

func sortedColumnSet(r map[string]any) []string {
	names := make([]string, 0, len(r))
	for k := range r {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func scanOne(rows *dsql.Rows) (map[string]any, error) {
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("no rows")
	}
	return scanRow(rows)
}

func scanAll(rows *dsql.Rows) ([]map[string]any, error) {
	var out []map[string]any
	for rows.Next() {
		row, err := scanRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func scanRow(rows *dsql.Rows) (map[string]any, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	vals := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, err
	}
	row := make(map[string]any, len(cols))
	for i, c := range cols {
		row[c] = vals[i]
	}
	return row, nil
}

func nowLiteral() string { return "CURRENT_TIMESTAMP" }
