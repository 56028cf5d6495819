package schema_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/dataflow/dialect"
	"github.com/syssam/dataflow/dialect/sql/schema"
)

func TestScoreRiskAndBand(t *testing.T) {
	t.Parallel()

	low := schema.ScoreRisk(schema.RiskFactors{})
	assert.Equal(t, schema.RiskLow, schema.BandOf(low))

	critical := schema.ScoreRisk(schema.RiskFactors{
		Production:       true,
		VerifiedBackup:   false,
		AffectedRows:     20_000_000,
		DependentObjects: 12,
		Irreversible:     true,
		DataLoss:         true,
	})
	assert.Equal(t, 100, critical)
	assert.Equal(t, schema.RiskCritical, schema.BandOf(critical))
}

func TestBuildPlanAddTableProducesCreateAndReverse(t *testing.T) {
	t.Parallel()

	users := &schema.Table{
		Name: "users",
		Columns: []*schema.Column{
			{Name: "id", Type: schema.TypeInt64},
		},
		PrimaryKey: []*schema.Column{{Name: "id", Type: schema.TypeInt64}},
	}
	diffs := []schema.Change{{Kind: schema.AddTable, Table: "users"}}

	plan, err := schema.BuildPlan(diffs, []*schema.Table{users}, schema.PlanOptions{Dialect: dialect.Postgres})
	require.NoError(t, err)
	require.Len(t, plan.Steps, 1)
	assert.Contains(t, plan.Steps[0].Forward, "CREATE TABLE")
	assert.Contains(t, plan.Steps[0].Reverse, "DROP TABLE")
}

func TestBuildPlanAddColumnNotNullRequiresDefaultStrategy(t *testing.T) {
	t.Parallel()

	table := &schema.Table{Name: "users"}
	col := &schema.Column{Name: "tier", Type: schema.TypeString, Nullable: false}
	diffs := []schema.Change{{Kind: schema.AddColumn, Table: "users", Column: col}}

	_, err := schema.BuildPlan(diffs, []*schema.Table{table}, schema.PlanOptions{Dialect: dialect.Postgres})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires a default strategy")
}

func TestBuildPlanAddColumnNotNullWithDefaultSucceeds(t *testing.T) {
	t.Parallel()

	table := &schema.Table{Name: "users"}
	col := &schema.Column{Name: "tier", Type: schema.TypeString, Nullable: false}
	diffs := []schema.Change{{Kind: schema.AddColumn, Table: "users", Column: col}}

	plan, err := schema.BuildPlan(diffs, []*schema.Table{table}, schema.PlanOptions{
		Dialect: dialect.Postgres,
		NotNullDefaults: map[string]schema.DefaultStrategy{
			"users.tier": {Literal: "'free'"},
		},
	})
	require.NoError(t, err)
	require.Len(t, plan.Steps, 2)
	assert.True(t, plan.Steps[1].Irreversible)
}

func TestBuildPlanAddColumnRejectsUnsafeDefaultLiteral(t *testing.T) {
	t.Parallel()

	table := &schema.Table{Name: "users"}
	col := &schema.Column{Name: "tier", Type: schema.TypeString, Nullable: false}
	diffs := []schema.Change{{Kind: schema.AddColumn, Table: "users", Column: col}}

	_, err := schema.BuildPlan(diffs, []*schema.Table{table}, schema.PlanOptions{
		Dialect: dialect.Postgres,
		NotNullDefaults: map[string]schema.DefaultStrategy{
			"users.tier": {Literal: "'x'; DROP TABLE users;--"},
		},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsafe default literal")
}

// TestBuildPlanAlterColumnTypeGroupsFKSteps: altering a column that carries
// an outgoing FK must drop and recreate that FK around the ALTER, all inside
// one group so a failure mid-way rolls back the whole coordinated change.
func TestBuildPlanAlterColumnTypeGroupsFKSteps(t *testing.T) {
	t.Parallel()

	category := &schema.Table{Name: "categories", Columns: []*schema.Column{{Name: "id", Type: schema.TypeInt64}}}
	idCol := &schema.Column{Name: "category_id", Type: schema.TypeUUID}
	product := &schema.Table{
		Name:    "products",
		Columns: []*schema.Column{idCol},
		ForeignKeys: []*schema.ForeignKey{{
			Name: "fk_category", Columns: []*schema.Column{idCol},
			RefTable: category, RefColumns: category.Columns,
		}},
	}

	diffs := []schema.Change{{Kind: schema.AlterColumnType, Table: "products", Column: idCol}}
	plan, err := schema.BuildPlan(diffs, []*schema.Table{category, product}, schema.PlanOptions{Dialect: dialect.Postgres})
	require.NoError(t, err)

	require.Len(t, plan.Steps, 3)
	assert.Equal(t, plan.Steps[0].Group, plan.Steps[1].Group)
	assert.Equal(t, plan.Steps[1].Group, plan.Steps[2].Group)
	assert.Contains(t, plan.Steps[0].Forward, "DROP")
	assert.Contains(t, plan.Steps[1].Forward, "ALTER COLUMN")
	assert.Contains(t, plan.Steps[2].Forward, "ADD CONSTRAINT")
}

// TestBuildPlanAlterReferencedPKGroupsIncomingFKs: widening a primary key
// other tables point at must coordinate the referring tables' FKs, which
// live on the referring side — drop each incoming FK, alter the PK, then
// recreate the FKs, all in one group.
func TestBuildPlanAlterReferencedPKGroupsIncomingFKs(t *testing.T) {
	t.Parallel()

	pkCol := &schema.Column{Name: "id", Type: schema.TypeInt64}
	product := &schema.Table{Name: "products", Columns: []*schema.Column{pkCol}}
	itemRef := &schema.Column{Name: "product_id", Type: schema.TypeInt64}
	orderItem := &schema.Table{
		Name:    "order_items",
		Columns: []*schema.Column{itemRef},
		ForeignKeys: []*schema.ForeignKey{{
			Name: "fk_order_items_product", Columns: []*schema.Column{itemRef},
			RefTable: product, RefColumns: []*schema.Column{pkCol},
		}},
	}

	diffs := []schema.Change{{Kind: schema.AlterColumnType, Table: "products", Column: pkCol}}
	plan, err := schema.BuildPlan(diffs, []*schema.Table{product, orderItem}, schema.PlanOptions{Dialect: dialect.Postgres})
	require.NoError(t, err)

	require.Len(t, plan.Steps, 3)
	assert.Equal(t, plan.Steps[0].Group, plan.Steps[1].Group)
	assert.Equal(t, plan.Steps[1].Group, plan.Steps[2].Group)
	assert.Contains(t, plan.Steps[0].Forward, `ALTER TABLE "order_items" DROP CONSTRAINT "fk_order_items_product"`)
	assert.Contains(t, plan.Steps[1].Forward, `ALTER TABLE "products" ALTER COLUMN "id" TYPE`)
	assert.Contains(t, plan.Steps[2].Forward, `ALTER TABLE "order_items" ADD CONSTRAINT "fk_order_items_product"`)
	assert.Contains(t, plan.Steps[2].Forward, `REFERENCES "products"`)
}

func TestDetectCyclesViaBuildPlan(t *testing.T) {
	t.Parallel()

	a := &schema.Table{Name: "a"}
	b := &schema.Table{Name: "b"}
	a.ForeignKeys = []*schema.ForeignKey{{Name: "fk_b", RefTable: b}}
	b.ForeignKeys = []*schema.ForeignKey{{Name: "fk_a", RefTable: a}}

	plan, err := schema.BuildPlan(nil, []*schema.Table{a, b}, schema.PlanOptions{Dialect: dialect.Postgres})
	require.NoError(t, err)
	assert.NotEmpty(t, plan.Cycles)
}

func TestPlanRequiresConfirmationAtCriticalBand(t *testing.T) {
	t.Parallel()

	plan := &schema.Plan{RiskBand: schema.RiskCritical}
	assert.True(t, plan.RequiresConfirmation())

	plan.RiskBand = schema.RiskHigh
	assert.False(t, plan.RequiresConfirmation())
}
