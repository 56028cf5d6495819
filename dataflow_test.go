package dataflow_test

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/dataflow"
	"github.com/syssam/dataflow/dialect"
	dsql "github.com/syssam/dataflow/dialect/sql"
	"github.com/syssam/dataflow/dialect/sql/schema"
	"github.com/syssam/dataflow/model"
)

func newEngine(t *testing.T) (*dataflow.Engine, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	drv := dsql.OpenDB(dialect.Postgres, db)
	e := dataflow.New(drv, nil, dataflow.Config{})
	require.NoError(t, e.Initialize(context.Background()))

	email, err := model.NewField("email", model.String)
	require.NoError(t, err)
	require.NoError(t, e.RegisterModel(&model.Model{Name: "User", Fields: []*model.Field{email}}))
	return e, mock
}

func TestEngineRegisterModelExposesAvailableNodes(t *testing.T) {
	t.Parallel()

	e, _ := newEngine(t)
	nodes := e.GetAvailableNodes("User")
	assert.Len(t, nodes, 11)
}

func TestEngineAddNodeRejectsUnknownModel(t *testing.T) {
	t.Parallel()

	e, _ := newEngine(t)
	wf := e.CreateWorkflow("wf")
	err := e.AddNode(wf, "Ghost", "create", "n1", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown model")
}

func TestEngineAddNodeRejectsUnknownOperation(t *testing.T) {
	t.Parallel()

	e, _ := newEngine(t)
	wf := e.CreateWorkflow("wf")
	err := e.AddNode(wf, "User", "teleport", "n1", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown operation")
}

func TestEngineExecuteWorkflowSyncRunsCreateNode(t *testing.T) {
	t.Parallel()

	e, mock := newEngine(t)
	mock.ExpectQuery(`INSERT INTO "users"`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "email"}).AddRow(1, "a@x.com"))

	wf := e.CreateWorkflow("wf")
	require.NoError(t, e.AddNode(wf, "User", "create", "n1", map[string]any{"email": "a@x.com"}))

	results, runID, err := e.ExecuteWorkflow(context.Background(), wf, nil, false)
	require.NoError(t, err)
	assert.NotEmpty(t, runID)
	assert.EqualValues(t, 1, results["n1"]["rows_affected"])
}

func TestEngineDiscoverSchemaReportsRegisteredModelAsAddTable(t *testing.T) {
	t.Parallel()

	e, _ := newEngine(t)
	changes, err := e.DiscoverSchema(context.Background(), nil)
	require.NoError(t, err)

	var found bool
	for _, c := range changes {
		if c.Kind == schema.AddTable && c.Table == "users" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestEngineDiscoverSchemaUnrelatedContextKeyDoesNotTripGuard(t *testing.T) {
	t.Parallel()

	e, _ := newEngine(t)
	marked := context.WithValue(context.Background(), struct{ k string }{"discoverMarker"}, true)
	_, err := e.DiscoverSchema(marked, nil)
	require.NoError(t, err, "only the engine's own discoverMarker type should trip the guard")
}

func TestEngineDiscoverLiveSchemaWrapsInspectionFailure(t *testing.T) {
	t.Parallel()

	// No expectations are set on the mock, so atlas's postgres inspector
	// fails the moment it issues its first catalog query, and that failure
	// should surface as an AdapterError rather than a raw driver error.
	e, _ := newEngine(t)
	_, err := e.DiscoverLiveSchema(context.Background(), "public")
	require.Error(t, err)

	var adapterErr *dataflow.AdapterError
	require.ErrorAs(t, err, &adapterErr)
	assert.Equal(t, "discover_live_schema", adapterErr.Op)
}

func TestEngineDiscoverLiveSchemaRejectsNonSQLDriver(t *testing.T) {
	t.Parallel()

	e := dataflow.New(fakeDriver{}, nil, dataflow.Config{})
	require.NoError(t, e.Initialize(context.Background()))

	_, err := e.DiscoverLiveSchema(context.Background(), "public")
	require.Error(t, err)

	var adapterErr *dataflow.AdapterError
	require.ErrorAs(t, err, &adapterErr)
}

// fakeDriver satisfies dialect.Driver without being a *sql.Driver, exercising
// DiscoverLiveSchema's type-assertion guard.
type fakeDriver struct{}

func (fakeDriver) Exec(ctx context.Context, query string, args, v any) error  { return nil }
func (fakeDriver) Query(ctx context.Context, query string, args, v any) error { return nil }
func (fakeDriver) Tx(ctx context.Context) (dialect.Tx, error)                 { return nil, nil }
func (fakeDriver) Close() error                                               { return nil }
func (fakeDriver) Dialect() string                                           { return dialect.Postgres }

func TestEngineValidateMigrationFlagsDroppedTable(t *testing.T) {
	t.Parallel()

	e, _ := newEngine(t)
	live := []*schema.Table{{Name: "legacy_table"}}

	result := e.ValidateMigration(live)
	assert.True(t, result.HasErrors())
	assert.True(t, result.HasBreakingChanges())
}

func TestEnginePlanAndApplyMigrationEmptyPlanCommits(t *testing.T) {
	t.Parallel()

	e, _ := newEngine(t)
	plan, err := e.PlanMigration(nil, schema.PlanOptions{Dialect: dialect.Postgres})
	require.NoError(t, err)
	assert.Equal(t, schema.RiskLow, plan.RiskBand)

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	mock.ExpectBegin()
	drv := dsql.OpenDB(dialect.Postgres, db)
	tx, err := drv.Tx(context.Background())
	require.NoError(t, err)
	mock.ExpectCommit()

	res, err := e.ApplyMigration(context.Background(), tx, "public", plan, schema.PerformanceCheck{}, 1)
	require.NoError(t, err)
	assert.Empty(t, res.AppliedSteps)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEngineTenantsExposesRegistry(t *testing.T) {
	t.Parallel()

	e, _ := newEngine(t)
	reg := e.Tenants()
	require.NotNil(t, reg)
	_, err := reg.Register("acme", "Acme", nil)
	require.NoError(t, err)
}

func newStatsEngine(t *testing.T) (*dataflow.Engine, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	drv := dsql.OpenDB(dialect.Postgres, db)
	e := dataflow.New(drv, nil, dataflow.Config{SlowQueryThreshold: time.Hour})
	require.NoError(t, e.Initialize(context.Background()))

	email, err := model.NewField("email", model.String)
	require.NoError(t, err)
	require.NoError(t, e.RegisterModel(&model.Model{Name: "User", Fields: []*model.Field{email}}))
	return e, mock
}

func TestEngineQueryStatsOffByDefault(t *testing.T) {
	t.Parallel()

	e, _ := newEngine(t)
	_, ok := e.QueryStats()
	assert.False(t, ok)
}

func TestEngineSlowQueryThresholdCollectsStats(t *testing.T) {
	t.Parallel()

	e, mock := newStatsEngine(t)
	snap, ok := e.QueryStats()
	require.True(t, ok)
	assert.Zero(t, snap.TotalQueries)

	mock.ExpectQuery(`INSERT INTO "users"`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "email"}).AddRow(1, "a@x.com"))

	wf := e.CreateWorkflow("wf")
	require.NoError(t, e.AddNode(wf, "User", "create", "n1", map[string]any{"email": "a@x.com"}))
	_, _, err := e.ExecuteWorkflow(context.Background(), wf, nil, false)
	require.NoError(t, err)

	snap, ok = e.QueryStats()
	require.True(t, ok)
	assert.Equal(t, int64(1), snap.TotalQueries+snap.TotalExecs)
	assert.Zero(t, snap.SlowQueries)
}

func TestEnginePerformanceBaselineRequiresStats(t *testing.T) {
	t.Parallel()

	e, _ := newEngine(t)
	_, err := e.PerformanceBaseline([]string{"SELECT count(*) FROM users"}, 0, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SlowQueryThreshold")
}

func TestEnginePerformanceBaselineMeasuresWorkload(t *testing.T) {
	t.Parallel()

	e, mock := newStatsEngine(t)
	check, err := e.PerformanceBaseline([]string{"SELECT count(*) FROM users"}, 0, false)
	require.NoError(t, err)
	assert.Equal(t, 2.0, check.Threshold)

	mock.ExpectQuery(`SELECT count\(\*\) FROM users`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	d, err := check.Measure(context.Background())
	require.NoError(t, err)
	assert.Greater(t, d, time.Duration(0))
}
