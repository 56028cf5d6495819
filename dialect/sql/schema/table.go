// Package schema models the desired and current state of a SQL schema and
// diffs the two into a migration plan. Table/Column/Index/
// ForeignKey are a deliberately small projection of ariga.io/atlas/sql/schema's
// richer representation: DataFlow's model registry only ever needs name,
// type, nullability, default, size and uniqueness, so the engine builds this
// shape directly off Model/Field descriptors rather than populating atlas's
// full object graph. Inspection still goes through atlas (the
// dialect-specific schema.Inspector), whose result is reduced to this shape
// at the boundary in inspect.go.
package schema

// ColumnType identifies one of the data types DataFlow's model layer
// supports. The concrete SQL type string a dialect renders for it lives in
// the field descriptor's type mapping, not here.
type ColumnType string

const (
	TypeInt32     ColumnType = "int32"
	TypeInt64     ColumnType = "int64"
	TypeFloat64   ColumnType = "float64"
	TypeString    ColumnType = "string"
	TypeText      ColumnType = "text"
	TypeBool      ColumnType = "bool"
	TypeBytes     ColumnType = "bytes"
	TypeTimestamp ColumnType = "timestamp"
	TypeDate      ColumnType = "date"
	TypeUUID      ColumnType = "uuid"
	TypeJSON      ColumnType = "json"
	TypeDecimal   ColumnType = "decimal"
	TypeVector    ColumnType = "vector"
)

// Column describes one column of a Table.
type Column struct {
	Name     string
	Type     ColumnType
	Nullable bool
	Default  any // nil, a literal, or a whitelisted function-call expression
	Size     int // varchar length, decimal precision, or vector dimension
	Scale    int // decimal scale
	Unique   bool
}

// Index describes a secondary index.
type Index struct {
	Name    string
	Columns []*Column
	Unique  bool
}

// ForeignKey describes a single-or-composite foreign key constraint.
type ForeignKey struct {
	Name       string
	Columns    []*Column
	RefTable   *Table
	RefColumns []*Column
	OnDelete   ReferenceOption
}

// ReferenceOption mirrors the ON DELETE/ON UPDATE actions every dialect this
// module targets supports identically.
type ReferenceOption string

const (
	NoAction   ReferenceOption = "NO ACTION"
	Restrict   ReferenceOption = "RESTRICT"
	Cascade    ReferenceOption = "CASCADE"
	SetNull    ReferenceOption = "SET NULL"
	SetDefault ReferenceOption = "SET DEFAULT"
)

// Table describes one table's desired or current shape.
type Table struct {
	Name        string
	Columns     []*Column
	PrimaryKey  []*Column
	Indexes     []*Index
	ForeignKeys []*ForeignKey
}

// Column looks up a column by name, or nil.
func (t *Table) Column(name string) *Column {
	for _, c := range t.Columns {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// DependsOn reports whether t has a foreign key into other. The migration
// planner does not call it, and plan order does not depend on it.
func (t *Table) DependsOn(other *Table) bool {
	for _, fk := range t.ForeignKeys {
		if fk.RefTable != nil && fk.RefTable.Name == other.Name {
			return true
		}
	}
	return false
}
