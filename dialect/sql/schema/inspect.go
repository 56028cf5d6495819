package schema

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	atlasschema "ariga.io/atlas/sql/schema"

	"ariga.io/atlas/sql/mysql"
	"ariga.io/atlas/sql/postgres"
	"ariga.io/atlas/sql/sqlite"

	"github.com/syssam/dataflow/dialect"
)

// InspectLive reads the live structure of schemaName off db through atlas's
// dialect-specific inspector and reduces the result to the engine's own
// Table projection — the current-state counterpart to the desired state the
// model registry produces, and the boundary table.go's doc comment
// describes.
func InspectLive(ctx context.Context, db *sql.DB, dialectName, schemaName string) ([]*Table, error) {
	insp, err := openInspector(dialectName, db)
	if err != nil {
		return nil, err
	}
	s, err := insp.InspectSchema(ctx, schemaName, &atlasschema.InspectOptions{})
	if err != nil {
		return nil, fmt.Errorf("dataflow: inspect schema %q: %w", schemaName, err)
	}
	return fromAtlasSchema(s), nil
}

func openInspector(dialectName string, db *sql.DB) (atlasschema.Inspector, error) {
	switch dialectName {
	case dialect.Postgres:
		return postgres.Open(db)
	case dialect.MySQL:
		return mysql.Open(db)
	case dialect.SQLite:
		return sqlite.Open(db)
	default:
		return nil, fmt.Errorf("dataflow: unsupported dialect %q for live schema inspection", dialectName)
	}
}

// fromAtlasSchema reduces an inspected atlas schema down to the local Table
// projection. Foreign keys are resolved in a second pass since they may
// reference a table that atlas returned later in s.Tables.
func fromAtlasSchema(s *atlasschema.Schema) []*Table {
	byName := make(map[string]*Table, len(s.Tables))
	out := make([]*Table, 0, len(s.Tables))
	for _, t := range s.Tables {
		tbl := fromAtlasTable(t)
		byName[t.Name] = tbl
		out = append(out, tbl)
	}
	for _, t := range s.Tables {
		tbl := byName[t.Name]
		for _, fk := range t.ForeignKeys {
			tbl.ForeignKeys = append(tbl.ForeignKeys, fromAtlasForeignKey(tbl, byName, fk))
		}
	}
	return out
}

func fromAtlasTable(t *atlasschema.Table) *Table {
	tbl := &Table{Name: t.Name}
	for _, c := range t.Columns {
		tbl.Columns = append(tbl.Columns, fromAtlasColumn(c))
	}
	if t.PrimaryKey != nil {
		for _, part := range t.PrimaryKey.Parts {
			if part.C == nil {
				continue
			}
			if col := tbl.Column(part.C.Name); col != nil {
				tbl.PrimaryKey = append(tbl.PrimaryKey, col)
			}
		}
	}
	for _, idx := range t.Indexes {
		index := &Index{Name: idx.Name, Unique: idx.Unique}
		for _, part := range idx.Parts {
			if part.C == nil {
				continue
			}
			if col := tbl.Column(part.C.Name); col != nil {
				index.Columns = append(index.Columns, col)
			}
		}
		if index.Unique && len(index.Columns) == 1 {
			index.Columns[0].Unique = true
		}
		tbl.Indexes = append(tbl.Indexes, index)
	}
	return tbl
}

func fromAtlasColumn(c *atlasschema.Column) *Column {
	col := &Column{Name: c.Name}
	if c.Type != nil {
		col.Type = atlasColumnType(c.Type.Type)
		col.Nullable = c.Type.Null
		if dec, ok := c.Type.Type.(*atlasschema.DecimalType); ok {
			col.Size, col.Scale = dec.Precision, dec.Scale
		}
		if str, ok := c.Type.Type.(*atlasschema.StringType); ok {
			col.Size = str.Size
		}
	}
	if lit, ok := c.Default.(*atlasschema.Literal); ok {
		col.Default = lit.V
	}
	return col
}

// atlasColumnType maps an atlas concrete column type to the engine's coarser
// ColumnType. Unrecognized types fall back to TypeString rather than erroring,
// since inspection is best-effort: a migration's desired side (the model
// registry) always carries the authoritative type.
func atlasColumnType(t atlasschema.Type) ColumnType {
	switch v := t.(type) {
	case *atlasschema.IntegerType:
		if strings.Contains(strings.ToLower(v.T), "big") {
			return TypeInt64
		}
		return TypeInt32
	case *atlasschema.StringType:
		if v.Size > 1<<15 {
			return TypeText
		}
		return TypeString
	case *atlasschema.BoolType:
		return TypeBool
	case *atlasschema.FloatType:
		return TypeFloat64
	case *atlasschema.DecimalType:
		return TypeDecimal
	case *atlasschema.TimeType:
		return TypeTimestamp
	case *atlasschema.JSONType:
		return TypeJSON
	case *atlasschema.BinaryType:
		return TypeBytes
	case *atlasschema.EnumType:
		return TypeString
	default:
		return TypeString
	}
}

func fromAtlasForeignKey(owner *Table, byName map[string]*Table, fk *atlasschema.ForeignKey) *ForeignKey {
	out := &ForeignKey{Name: fk.Symbol, OnDelete: atlasRefOption(fk.OnDelete)}
	for _, c := range fk.Columns {
		if col := owner.Column(c.Name); col != nil {
			out.Columns = append(out.Columns, col)
		}
	}
	if fk.RefTable != nil {
		out.RefTable = byName[fk.RefTable.Name]
	}
	if out.RefTable != nil {
		for _, c := range fk.RefColumns {
			if col := out.RefTable.Column(c.Name); col != nil {
				out.RefColumns = append(out.RefColumns, col)
			}
		}
	}
	return out
}

func atlasRefOption(opt atlasschema.ReferenceOption) ReferenceOption {
	switch opt {
	case atlasschema.Restrict:
		return Restrict
	case atlasschema.Cascade:
		return Cascade
	case atlasschema.SetNull:
		return SetNull
	case atlasschema.SetDefault:
		return SetDefault
	default:
		return NoAction
	}
}
