// Package model turns declarative model definitions into validated
// descriptors the rest of the engine builds on: the node catalog derives
// its operation schemas from a Model, the migration planner derives desired
// tables from it, and the SQL builder never sees an identifier that has not
// passed through a Field's validation here first.
package model

import (
	"fmt"

	"github.com/go-openapi/inflect"

	"github.com/syssam/dataflow/dialect/sql"
)

// FieldError reports a malformed field descriptor. The root dataflow
// package passes it on wrapped with %w, not converted to a
// dataflow.ValidationError; model itself stays free of a dependency on the
// root package, which depends on model.
type FieldError struct {
	Field string
	Err   error
}

func (e *FieldError) Error() string { return fmt.Sprintf("model: field %q: %v", e.Field, e.Err) }
func (e *FieldError) Unwrap() error { return e.Err }

// FieldType is the closed set of types a Field may declare.
type FieldType string

const (
	Int32     FieldType = "int32"
	Int64     FieldType = "int64"
	Float64   FieldType = "float64"
	String    FieldType = "string"
	Text      FieldType = "text"
	Bool      FieldType = "bool"
	Bytes     FieldType = "bytes"
	Timestamp FieldType = "timestamp"
	Date      FieldType = "date"
	UUID      FieldType = "uuid"
	JSON      FieldType = "json"
	Decimal   FieldType = "decimal"
	Vector    FieldType = "vector"
)

// ForeignKeyRef points a Field at another model's field.
type ForeignKeyRef struct {
	Model string
	Field string
}

// ValidatorFunc is a field-level validation predicate run before a value is
// ever bound into a statement.
type ValidatorFunc func(value any) error

// Field is one field descriptor of a Model.
type Field struct {
	Name       string
	Type       FieldType
	Nullable   bool
	Default    any // literal, a whitelisted function token (e.g. "now"), or nil
	Unique     bool
	Indexed    bool
	ForeignKey *ForeignKeyRef
	Validators []ValidatorFunc

	// Size is the varchar length for String, the total precision for
	// Decimal, or the dimensionality for Vector.
	Size int
	// Scale is the fractional digit count for Decimal.
	Scale int
}

// NewField returns a Field descriptor, validating its name against the
// identifier grammar immediately: an invalid identifier at registration
// time is treated as a fatal configuration error, never deferred to
// execution.
func NewField(name string, typ FieldType) (*Field, error) {
	if !sql.IsValidIdentifier(name) {
		return nil, &FieldError{Field: name, Err: fmt.Errorf("not a valid identifier")}
	}
	return &Field{Name: name, Type: typ}, nil
}

// WithDefault sets Default, rejecting unsafe literal shapes immediately.
func (f *Field) WithDefault(def any) (*Field, error) {
	if s, ok := def.(string); ok && !sql.IsSafeDefaultLiteral(s) {
		return nil, &FieldError{Field: f.Name, Err: fmt.Errorf("unsafe default literal %q", s)}
	}
	f.Default = def
	return f, nil
}

// Validate runs every registered validator against value, short-circuiting
// at the first failure.
func (f *Field) Validate(value any) error {
	for _, v := range f.Validators {
		if err := v(value); err != nil {
			return &FieldError{Field: f.Name, Err: err}
		}
	}
	return nil
}

// defaultTableName derives a snake_case, pluralized table name from a model
// name, so runtime-registered models and compile-time generated ones agree
// on naming conventions.
func defaultTableName(modelName string) string {
	return inflect.Underscore(inflect.Pluralize(modelName))
}
