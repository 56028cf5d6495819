package schema

import "fmt"

// ChangeKind identifies one atomic schema change produced by Diff.
type ChangeKind string

const (
	AddTable           ChangeKind = "add_table"
	DropTable          ChangeKind = "drop_table"
	RenameTable        ChangeKind = "rename_table"
	AddColumn          ChangeKind = "add_column"
	DropColumn         ChangeKind = "drop_column"
	RenameColumn       ChangeKind = "rename_column"
	AlterColumnType    ChangeKind = "alter_column_type"
	AlterColumnNull    ChangeKind = "alter_column_nullability"
	AlterColumnDefault ChangeKind = "column_default_changed"
	AddIndex           ChangeKind = "add_index"
	DropIndex          ChangeKind = "drop_index"
	AddForeignKey      ChangeKind = "add_foreign_key"
	DropForeignKey     ChangeKind = "drop_foreign_key"
)

// Change is one atomic difference between a current and desired table.
type Change struct {
	Kind   ChangeKind
	Table  string
	Column *Column
	Index  *Index
	FK     *ForeignKey
	// OldName carries the prior name for RenameTable (old table name,
	// Table holds the new one) and RenameColumn (old column name, Column
	// holds the new one).
	OldName string
	// Breaking marks dropped tables, columns, indexes and foreign keys, and
	// NULL-to-NOT-NULL changes.
	Breaking bool
}

func (c Change) String() string {
	switch c.Kind {
	case AddTable, DropTable:
		return fmt.Sprintf("%s %s", c.Kind, c.Table)
	case RenameTable:
		return fmt.Sprintf("%s %s -> %s", c.Kind, c.OldName, c.Table)
	case AddColumn, DropColumn, AlterColumnType, AlterColumnNull, AlterColumnDefault:
		return fmt.Sprintf("%s %s.%s", c.Kind, c.Table, c.Column.Name)
	case RenameColumn:
		return fmt.Sprintf("%s %s.%s -> %s.%s", c.Kind, c.Table, c.OldName, c.Table, c.Column.Name)
	case AddIndex, DropIndex:
		return fmt.Sprintf("%s %s on %s", c.Kind, c.Index.Name, c.Table)
	case AddForeignKey, DropForeignKey:
		return fmt.Sprintf("%s %s on %s", c.Kind, c.FK.Name, c.Table)
	default:
		return string(c.Kind)
	}
}

// Diff compares current against desired and returns the ordered list of
// changes needed to bring current to desired. Table adds/drops are emitted
// before column/index/FK changes on surviving tables; the migration planner
// is responsible for sequencing foreign-key-safe groups across
// the whole change set, not this function.
func Diff(current, desired []*Table) []Change {
	var changes []Change

	currentMap := make(map[string]*Table, len(current))
	for _, t := range current {
		currentMap[t.Name] = t
	}
	desiredMap := make(map[string]*Table, len(desired))
	for _, t := range desired {
		desiredMap[t.Name] = t
	}

	for _, t := range desired {
		if _, ok := currentMap[t.Name]; !ok {
			changes = append(changes, Change{Kind: AddTable, Table: t.Name})
		}
	}
	for _, t := range current {
		if _, ok := desiredMap[t.Name]; !ok {
			changes = append(changes, Change{Kind: DropTable, Table: t.Name, Breaking: true})
		}
	}

	for name, desiredTable := range desiredMap {
		currentTable, ok := currentMap[name]
		if !ok {
			continue // already covered by AddTable above
		}
		changes = append(changes, diffTable(currentTable, desiredTable)...)
	}

	return changes
}

func diffTable(current, desired *Table) []Change {
	var changes []Change

	currentCols := make(map[string]*Column, len(current.Columns))
	for _, c := range current.Columns {
		currentCols[c.Name] = c
	}
	desiredCols := make(map[string]*Column, len(desired.Columns))
	for _, c := range desired.Columns {
		desiredCols[c.Name] = c
	}

	for _, c := range desired.Columns {
		old, ok := currentCols[c.Name]
		if !ok {
			changes = append(changes, Change{Kind: AddColumn, Table: current.Name, Column: c})
			continue
		}
		if old.Type != c.Type || old.Size != c.Size || old.Scale != c.Scale {
			changes = append(changes, Change{Kind: AlterColumnType, Table: current.Name, Column: c})
		}
		if old.Nullable != c.Nullable {
			changes = append(changes, Change{
				Kind:     AlterColumnNull,
				Table:    current.Name,
				Column:   c,
				Breaking: old.Nullable && !c.Nullable,
			})
		}
		if fmt.Sprint(old.Default) != fmt.Sprint(c.Default) {
			changes = append(changes, Change{Kind: AlterColumnDefault, Table: current.Name, Column: c})
		}
	}
	for _, c := range current.Columns {
		if _, ok := desiredCols[c.Name]; !ok {
			changes = append(changes, Change{Kind: DropColumn, Table: current.Name, Column: c, Breaking: true})
		}
	}

	currentIdx := make(map[string]*Index, len(current.Indexes))
	for _, idx := range current.Indexes {
		currentIdx[idx.Name] = idx
	}
	desiredIdx := make(map[string]*Index, len(desired.Indexes))
	for _, idx := range desired.Indexes {
		desiredIdx[idx.Name] = idx
	}
	for _, idx := range desired.Indexes {
		if _, ok := currentIdx[idx.Name]; !ok {
			changes = append(changes, Change{Kind: AddIndex, Table: current.Name, Index: idx})
		}
	}
	for _, idx := range current.Indexes {
		if _, ok := desiredIdx[idx.Name]; !ok {
			changes = append(changes, Change{Kind: DropIndex, Table: current.Name, Index: idx, Breaking: true})
		}
	}

	currentFK := make(map[string]*ForeignKey, len(current.ForeignKeys))
	for _, fk := range current.ForeignKeys {
		currentFK[fk.Name] = fk
	}
	desiredFK := make(map[string]*ForeignKey, len(desired.ForeignKeys))
	for _, fk := range desired.ForeignKeys {
		desiredFK[fk.Name] = fk
	}
	for _, fk := range desired.ForeignKeys {
		if _, ok := currentFK[fk.Name]; !ok {
			changes = append(changes, Change{Kind: AddForeignKey, Table: current.Name, FK: fk})
		}
	}
	for _, fk := range current.ForeignKeys {
		if _, ok := desiredFK[fk.Name]; !ok {
			changes = append(changes, Change{Kind: DropForeignKey, Table: current.Name, FK: fk, Breaking: true})
		}
	}

	return changes
}
