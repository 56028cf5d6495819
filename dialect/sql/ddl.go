package sql

import "strings"

// ColumnDef describes one column for the DDL builders below. It mirrors the
// subset of dialect/sql/schema.Column the migration executor needs to
// render forward/reverse DDL, without importing schema (which in turn
// depends on this package for quoting).
type ColumnDef struct {
	Name     string
	Type     string // dialect-native type, e.g. "bigint", "varchar(255)"
	Nullable bool
	Default  string // raw SQL default expression, already validated safe
}

// TableBuilder builds CREATE TABLE statements. ALTER and DROP statements are
// rendered by the DialectBuilder methods below.
type TableBuilder struct {
	b        Builder
	table    string
	columns  []ColumnDef
	pk       []string
	ifExists bool
	fks      []string // pre-rendered "FOREIGN KEY (...) REFERENCES ..." fragments
}

// CreateTable starts a CREATE TABLE statement.
func (d *DialectBuilder) CreateTable(table string) *TableBuilder {
	return &TableBuilder{b: d.newBuilder(), table: table}
}

// Column appends a column definition.
func (t *TableBuilder) Column(c ColumnDef) *TableBuilder {
	t.columns = append(t.columns, c)
	return t
}

// PrimaryKey declares the primary-key column list.
func (t *TableBuilder) PrimaryKey(cols ...string) *TableBuilder {
	t.pk = cols
	return t
}

// ForeignKey appends a raw "FOREIGN KEY (col) REFERENCES table(col)" clause.
// The caller is responsible for quoting identifiers via Builder.Quote before
// composing this string, since inline constraints are rendered verbatim.
func (t *TableBuilder) ForeignKey(clause string) *TableBuilder {
	t.fks = append(t.fks, clause)
	return t
}

// Query renders the CREATE TABLE statement. DDL never carries bound
// parameters; the returned arg slice is always empty.
func (t *TableBuilder) Query() (string, []any) {
	b := &t.b
	b.WriteString("CREATE TABLE ").WriteString(b.Quote(t.table)).WriteString(" (")
	for i, c := range t.columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(b.Quote(c.Name) + " " + c.Type)
		if !c.Nullable {
			b.WriteString(" NOT NULL")
		}
		if c.Default != "" {
			b.WriteString(" DEFAULT " + c.Default)
		}
	}
	if len(t.pk) > 0 {
		b.WriteString(", PRIMARY KEY (")
		for i, c := range t.pk {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(b.Quote(c))
		}
		b.WriteString(")")
	}
	for _, fk := range t.fks {
		b.WriteString(", " + fk)
	}
	b.WriteString(")")
	return b.String(), nil
}

// DropTable renders "DROP TABLE table"; it never adds IF EXISTS.
func (d *DialectBuilder) DropTable(table string) Querier {
	b := d.newBuilder()
	b.WriteString("DROP TABLE ").WriteString(b.Quote(table))
	return rawQuerier{b.String()}
}

// RenameTable renders a dialect-correct ALTER TABLE ... RENAME TO statement.
func (d *DialectBuilder) RenameTable(from, to string) Querier {
	b := d.newBuilder()
	b.WriteString("ALTER TABLE ").WriteString(b.Quote(from)).WriteString(" RENAME TO ").WriteString(b.Quote(to))
	return rawQuerier{b.String()}
}

// AddColumn renders "ALTER TABLE table ADD COLUMN ...".
func (d *DialectBuilder) AddColumn(table string, c ColumnDef) Querier {
	b := d.newBuilder()
	b.WriteString("ALTER TABLE ").WriteString(b.Quote(table)).WriteString(" ADD COLUMN ").
		WriteString(b.Quote(c.Name) + " " + c.Type)
	if !c.Nullable {
		b.WriteString(" NOT NULL")
	}
	if c.Default != "" {
		b.WriteString(" DEFAULT " + c.Default)
	}
	return rawQuerier{b.String()}
}

// DropColumn renders "ALTER TABLE table DROP COLUMN col".
func (d *DialectBuilder) DropColumn(table, col string) Querier {
	b := d.newBuilder()
	b.WriteString("ALTER TABLE ").WriteString(b.Quote(table)).WriteString(" DROP COLUMN ").WriteString(b.Quote(col))
	return rawQuerier{b.String()}
}

// RenameColumn renders a dialect-correct column rename.
func (d *DialectBuilder) RenameColumn(table, from, to string) Querier {
	b := d.newBuilder()
	switch d.dialect {
	case "mysql":
		// MySQL 8+ supports RENAME COLUMN directly; older variants would
		// need CHANGE COLUMN with a full type restatement, out of scope
		// here since we target MySQL 8+.
		b.WriteString("ALTER TABLE ").WriteString(b.Quote(table)).WriteString(" RENAME COLUMN ").
			WriteString(b.Quote(from)).WriteString(" TO ").WriteString(b.Quote(to))
	default:
		b.WriteString("ALTER TABLE ").WriteString(b.Quote(table)).WriteString(" RENAME COLUMN ").
			WriteString(b.Quote(from)).WriteString(" TO ").WriteString(b.Quote(to))
	}
	return rawQuerier{b.String()}
}

// AlterColumnType renders a dialect-correct column type change.
func (d *DialectBuilder) AlterColumnType(table, col, newType string) Querier {
	b := d.newBuilder()
	switch d.dialect {
	case "postgres":
		b.WriteString("ALTER TABLE ").WriteString(b.Quote(table)).WriteString(" ALTER COLUMN ").
			WriteString(b.Quote(col)).WriteString(" TYPE " + newType)
	case "mysql":
		b.WriteString("ALTER TABLE ").WriteString(b.Quote(table)).WriteString(" MODIFY COLUMN ").
			WriteString(b.Quote(col) + " " + newType)
	default: // sqlite: no native ALTER COLUMN TYPE; only an SQL comment naming the column is rendered, and no table rebuild is issued.
		b.WriteString("-- sqlite requires table rebuild to change column type: ").
			WriteString(table + "." + col)
	}
	return rawQuerier{b.String()}
}

// SetNotNullDefault renders the statement adding a NOT NULL constraint with
// a concrete default strategy, validated upstream by the migration planner.
func (d *DialectBuilder) SetNotNullDefault(table, col, defaultExpr string) Querier {
	b := d.newBuilder()
	switch d.dialect {
	case "postgres":
		b.WriteString("ALTER TABLE ").WriteString(b.Quote(table)).WriteString(" ALTER COLUMN ").
			WriteString(b.Quote(col)).WriteString(" SET DEFAULT " + defaultExpr + ", ALTER COLUMN ").
			WriteString(b.Quote(col)).WriteString(" SET NOT NULL")
	case "mysql":
		b.WriteString("ALTER TABLE ").WriteString(b.Quote(table)).WriteString(" MODIFY COLUMN ").
			WriteString(b.Quote(col) + " NOT NULL DEFAULT " + defaultExpr)
	default:
		b.WriteString("ALTER TABLE ").WriteString(b.Quote(table)).WriteString(" ADD COLUMN ").
			WriteString(b.Quote(col) + " NOT NULL DEFAULT " + defaultExpr)
	}
	return rawQuerier{b.String()}
}

// CreateIndex renders "CREATE [UNIQUE] INDEX name ON table (cols...)".
func (d *DialectBuilder) CreateIndex(name, table string, unique bool, cols ...string) Querier {
	b := d.newBuilder()
	b.WriteString("CREATE ")
	if unique {
		b.WriteString("UNIQUE ")
	}
	b.WriteString("INDEX ").WriteString(b.Quote(name)).WriteString(" ON ").WriteString(b.Quote(table)).WriteString(" (")
	for i, c := range cols {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(b.Quote(c))
	}
	b.WriteString(")")
	return rawQuerier{b.String()}
}

// DropIndex renders a dialect-correct DROP INDEX.
func (d *DialectBuilder) DropIndex(name, table string) Querier {
	b := d.newBuilder()
	switch d.dialect {
	case "mysql":
		b.WriteString("DROP INDEX ").WriteString(b.Quote(name)).WriteString(" ON ").WriteString(b.Quote(table))
	default:
		b.WriteString("DROP INDEX ").WriteString(b.Quote(name))
	}
	return rawQuerier{b.String()}
}

// AddForeignKey renders "ALTER TABLE table ADD CONSTRAINT name FOREIGN KEY (cols) REFERENCES ref(refCols)".
func (d *DialectBuilder) AddForeignKey(table, name string, cols []string, refTable string, refCols []string) Querier {
	b := d.newBuilder()
	b.WriteString("ALTER TABLE ").WriteString(b.Quote(table)).WriteString(" ADD CONSTRAINT ").WriteString(b.Quote(name)).
		WriteString(" FOREIGN KEY (" + quoteList(&b, cols) + ") REFERENCES " + b.Quote(refTable) + " (" + quoteList(&b, refCols) + ")")
	return rawQuerier{b.String()}
}

// DropForeignKey renders a dialect-correct FK drop.
func (d *DialectBuilder) DropForeignKey(table, name string) Querier {
	b := d.newBuilder()
	switch d.dialect {
	case "mysql":
		b.WriteString("ALTER TABLE ").WriteString(b.Quote(table)).WriteString(" DROP FOREIGN KEY ").WriteString(b.Quote(name))
	default:
		b.WriteString("ALTER TABLE ").WriteString(b.Quote(table)).WriteString(" DROP CONSTRAINT ").WriteString(b.Quote(name))
	}
	return rawQuerier{b.String()}
}

func quoteList(b *Builder, cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = b.Quote(c)
	}
	return strings.Join(quoted, ", ")
}

type rawQuerier struct{ sql string }

func (r rawQuerier) Query() (string, []any) { return r.sql, nil }
