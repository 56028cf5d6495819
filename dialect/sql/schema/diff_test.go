package schema_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/dataflow/dialect/sql/schema"
)

func TestDiffAddAndDropTable(t *testing.T) {
	t.Parallel()

	current := []*schema.Table{{Name: "old"}}
	desired := []*schema.Table{{Name: "new"}}

	changes := schema.Diff(current, desired)
	var kinds []schema.ChangeKind
	for _, c := range changes {
		kinds = append(kinds, c.Kind)
	}
	assert.Contains(t, kinds, schema.AddTable)
	assert.Contains(t, kinds, schema.DropTable)
}

func TestDiffColumnAddDropAlter(t *testing.T) {
	t.Parallel()

	id := &schema.Column{Name: "id", Type: schema.TypeInt64}
	email := &schema.Column{Name: "email", Type: schema.TypeString, Nullable: true}
	status := &schema.Column{Name: "status", Type: schema.TypeString, Nullable: true}
	legacy := &schema.Column{Name: "legacy", Type: schema.TypeString, Nullable: true}

	current := []*schema.Table{{Name: "users", Columns: []*schema.Column{id, email, legacy}}}
	desired := []*schema.Table{{Name: "users", Columns: []*schema.Column{
		id,
		{Name: "email", Type: schema.TypeText, Nullable: true}, // type change
		status, // new column
	}}}

	changes := schema.Diff(current, desired)

	byKind := map[schema.ChangeKind]int{}
	for _, c := range changes {
		byKind[c.Kind]++
	}
	assert.Equal(t, 1, byKind[schema.AddColumn])
	assert.Equal(t, 1, byKind[schema.DropColumn])
	assert.Equal(t, 1, byKind[schema.AlterColumnType])
}

func TestDiffColumnNullToNotNullIsBreaking(t *testing.T) {
	t.Parallel()

	current := []*schema.Table{{Name: "users", Columns: []*schema.Column{
		{Name: "email", Type: schema.TypeString, Nullable: true},
	}}}
	desired := []*schema.Table{{Name: "users", Columns: []*schema.Column{
		{Name: "email", Type: schema.TypeString, Nullable: false},
	}}}

	changes := schema.Diff(current, desired)
	var found *schema.Change
	for i := range changes {
		if changes[i].Kind == schema.AlterColumnNull {
			found = &changes[i]
		}
	}
	if assert.NotNil(t, found) {
		assert.True(t, found.Breaking)
	}
}

func TestDiffDroppedColumnIsBreaking(t *testing.T) {
	t.Parallel()

	current := []*schema.Table{{Name: "users", Columns: []*schema.Column{
		{Name: "legacy_flag", Type: schema.TypeBool},
	}}}
	desired := []*schema.Table{{Name: "users"}}

	changes := schema.Diff(current, desired)
	if assert.Len(t, changes, 1) {
		assert.Equal(t, schema.DropColumn, changes[0].Kind)
		assert.True(t, changes[0].Breaking)
	}
}

func TestDiffIndexAndForeignKeyChanges(t *testing.T) {
	t.Parallel()

	refTable := &schema.Table{Name: "categories"}
	current := []*schema.Table{{
		Name:    "products",
		Indexes: []*schema.Index{{Name: "idx_old"}},
	}}
	desired := []*schema.Table{{
		Name:    "products",
		Indexes: []*schema.Index{{Name: "idx_new"}},
		ForeignKeys: []*schema.ForeignKey{
			{Name: "fk_category", RefTable: refTable},
		},
	}}

	changes := schema.Diff(current, desired)

	byKind := map[schema.ChangeKind]int{}
	for _, c := range changes {
		byKind[c.Kind]++
	}
	assert.Equal(t, 1, byKind[schema.AddIndex])
	assert.Equal(t, 1, byKind[schema.DropIndex])
	assert.Equal(t, 1, byKind[schema.AddForeignKey])
}

func TestChangeStringIncludesTableAndColumn(t *testing.T) {
	t.Parallel()

	c := schema.Change{Kind: schema.AddColumn, Table: "users", Column: &schema.Column{Name: "email"}}
	assert.Equal(t, "add_column users.email", c.String())
}

func TestDiffColumnDefaultChanged(t *testing.T) {
	t.Parallel()

	current := []*schema.Table{{Name: "users", Columns: []*schema.Column{
		{Name: "active", Type: schema.TypeBool, Default: false},
	}}}
	desired := []*schema.Table{{Name: "users", Columns: []*schema.Column{
		{Name: "active", Type: schema.TypeBool, Default: true},
	}}}

	changes := schema.Diff(current, desired)
	require.Len(t, changes, 1)
	assert.Equal(t, schema.AlterColumnDefault, changes[0].Kind)
}

func TestDetectRenamesFoldsMatchingTableAddDropPair(t *testing.T) {
	t.Parallel()

	cols := []*schema.Column{{Name: "id", Type: schema.TypeInt64}, {Name: "email", Type: schema.TypeString}}
	current := []*schema.Table{{Name: "user", Columns: cols}}
	desired := []*schema.Table{{Name: "users", Columns: cols}}

	changes := schema.Diff(current, desired)
	renamed := schema.DetectRenames(changes, current, desired, schema.RenameConfig{Enabled: true})

	require.Len(t, renamed, 1)
	assert.Equal(t, schema.RenameTable, renamed[0].Kind)
	assert.Equal(t, "user", renamed[0].OldName)
	assert.Equal(t, "users", renamed[0].Table)
}

func TestDetectRenamesDisabledLeavesAddDropAsIs(t *testing.T) {
	t.Parallel()

	cols := []*schema.Column{{Name: "id", Type: schema.TypeInt64}}
	current := []*schema.Table{{Name: "user", Columns: cols}}
	desired := []*schema.Table{{Name: "users", Columns: cols}}

	changes := schema.Diff(current, desired)
	out := schema.DetectRenames(changes, current, desired, schema.RenameConfig{})
	assert.Equal(t, changes, out)
}

func TestDetectRenamesSkipsAmbiguousCandidates(t *testing.T) {
	t.Parallel()

	cols := []*schema.Column{{Name: "id", Type: schema.TypeInt64}}
	current := []*schema.Table{{Name: "usr", Columns: cols}}
	desired := []*schema.Table{
		{Name: "user", Columns: cols}, // equally close to "usr" as...
		{Name: "usrs", Columns: cols}, // ...this one: ambiguous, neither wins
	}

	changes := schema.Diff(current, desired)
	out := schema.DetectRenames(changes, current, desired, schema.RenameConfig{Enabled: true, SimilarityThreshold: 0.5})

	var kinds []schema.ChangeKind
	for _, c := range out {
		kinds = append(kinds, c.Kind)
	}
	assert.NotContains(t, kinds, schema.RenameTable)
	assert.Contains(t, kinds, schema.DropTable)
}

func TestDetectRenamesFoldsColumnRename(t *testing.T) {
	t.Parallel()

	current := []*schema.Table{{Name: "users", Columns: []*schema.Column{
		{Name: "id", Type: schema.TypeInt64},
		{Name: "mail", Type: schema.TypeString},
	}}}
	desired := []*schema.Table{{Name: "users", Columns: []*schema.Column{
		{Name: "id", Type: schema.TypeInt64},
		{Name: "email", Type: schema.TypeString},
	}}}

	changes := schema.Diff(current, desired)
	renamed := schema.DetectRenames(changes, current, desired, schema.RenameConfig{Enabled: true, SimilarityThreshold: 0.3})

	require.Len(t, renamed, 1)
	assert.Equal(t, schema.RenameColumn, renamed[0].Kind)
	assert.Equal(t, "mail", renamed[0].OldName)
	assert.Equal(t, "email", renamed[0].Column.Name)
}
