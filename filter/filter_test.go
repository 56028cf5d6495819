package filter_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/dataflow/dialect"
	"github.com/syssam/dataflow/dialect/sql"
	"github.com/syssam/dataflow/filter"
)

func render(t *testing.T, doc filter.Doc) (string, []any) {
	t.Helper()
	pred, err := filter.Translate(doc, func(f string) string { return f })
	require.NoError(t, err)
	sel := sql.Dialect(dialect.Postgres).Select().From("users").Where(pred)
	return sel.Query()
}

func TestTranslateEquality(t *testing.T) {
	t.Parallel()

	query, args := render(t, filter.Doc{"status": "inactive"})
	assert.Contains(t, query, `"status" = $1`)
	assert.Equal(t, []any{"inactive"}, args)
}

func TestTranslateNotEqual(t *testing.T) {
	t.Parallel()

	// Seed scenario D: ListNode with filter={status:{$ne:"inactive"}}.
	query, args := render(t, filter.Doc{"status": filter.Doc{"$ne": "inactive"}})
	assert.Contains(t, query, `"status" <> $1`)
	assert.Equal(t, []any{"inactive"}, args)
}

func TestTranslateEmptyFilterMatchesAll(t *testing.T) {
	t.Parallel()

	query, args := render(t, filter.Doc{})
	assert.Contains(t, query, "1 = 1")
	assert.Empty(t, args)
}

func TestTranslateLogicalAnd(t *testing.T) {
	t.Parallel()

	doc := filter.Doc{
		"$and": []filter.Doc{
			{"active": true},
			{"age": filter.Doc{"$gte": 18}},
		},
	}
	query, args := render(t, doc)
	assert.Contains(t, query, `"active" = $1`)
	assert.Contains(t, query, `"age" >= $2`)
	assert.Equal(t, []any{true, 18}, args)
}

func TestTranslateNor(t *testing.T) {
	t.Parallel()

	doc := filter.Doc{"$nor": []filter.Doc{{"a": 1}, {"b": 2}}}
	query, _ := render(t, doc)
	assert.Contains(t, query, "NOT (")
}

func TestTranslateBetween(t *testing.T) {
	t.Parallel()

	doc := filter.Doc{"age": filter.Doc{"$between": []any{18, 65}}}
	query, args := render(t, doc)
	assert.Contains(t, query, "BETWEEN")
	assert.Equal(t, []any{18, 65}, args)
}

func TestTranslateInRejectsEmptySet(t *testing.T) {
	t.Parallel()

	_, err := filter.Translate(filter.Doc{"id": filter.Doc{"$in": []any{}}}, func(f string) string { return f })
	require.Error(t, err)
	var ferr *filter.Error
	require.ErrorAs(t, err, &ferr)
	assert.Contains(t, ferr.Msg, "empty set")
}

func TestTranslateUnknownOperator(t *testing.T) {
	t.Parallel()

	_, err := filter.Translate(filter.Doc{"id": filter.Doc{"$bogus": 1}}, func(f string) string { return f })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown operator")
}

func TestTranslateRejectsInvalidFieldName(t *testing.T) {
	t.Parallel()

	_, err := filter.Translate(filter.Doc{"1bad field": 1}, func(f string) string { return f })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a valid identifier")
}

func TestTranslateDeterministic(t *testing.T) {
	t.Parallel()

	doc := filter.Doc{"b": 2, "a": 1, "c": 3}
	q1, a1 := render(t, doc)
	q2, a2 := render(t, doc)
	assert.Equal(t, q1, q2)
	assert.Equal(t, a1, a2)
}

func TestTranslateInjectionAttemptStaysParameterized(t *testing.T) {
	t.Parallel()

	payload := `'; DROP TABLE x; --`
	query, args := render(t, filter.Doc{"name": payload})
	assert.NotContains(t, query, payload)
	assert.Equal(t, []any{payload}, args)
}

func TestTranslateNot(t *testing.T) {
	t.Parallel()

	doc := filter.Doc{"status": filter.Doc{"$not": filter.Doc{"$eq": "x"}}}
	query, args := render(t, doc)
	assert.Contains(t, query, "NOT")
	assert.Equal(t, []any{"x"}, args)
}

func TestTranslateExists(t *testing.T) {
	t.Parallel()

	query, _ := render(t, filter.Doc{"deleted_at": filter.Doc{"$exists": false}})
	assert.Contains(t, query, "IS NULL")

	query2, _ := render(t, filter.Doc{"deleted_at": filter.Doc{"$exists": true}})
	assert.Contains(t, query2, "IS NOT NULL")
}
