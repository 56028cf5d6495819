package schema_test

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/dataflow/dialect"
	dsql "github.com/syssam/dataflow/dialect/sql"
	"github.com/syssam/dataflow/dialect/sql/schema"
)

func newTx(t *testing.T) (dialect.Tx, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	mock.ExpectBegin()
	drv := dsql.OpenDB(dialect.Postgres, db)
	tx, err := drv.Tx(context.Background())
	require.NoError(t, err)
	return tx, mock
}

func TestExecuteAppliesStepsAndCommits(t *testing.T) {
	t.Parallel()

	tx, mock := newTx(t)
	mock.ExpectExec(`SAVEPOINT mig_0`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`CREATE TABLE "users"`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	plan := &schema.Plan{Steps: []*schema.Step{
		{Index: 0, Change: schema.Change{Kind: schema.AddTable, Table: "users"}, Forward: `CREATE TABLE "users" ("id" bigint NOT NULL)`},
	}}

	res, err := schema.Execute(context.Background(), tx, "public", plan, schema.PerformanceCheck{})
	require.NoError(t, err)
	assert.Equal(t, []int{0}, res.AppliedSteps)
	assert.False(t, res.RolledBack)
	require.NoError(t, mock.ExpectationsWereMet())
}

// TestExecuteRollsBackAndUnwindsReversibleStep exercises the executor's
// abort path: a later group fails, the transaction rolls back to the last
// savepoint, and the earlier group's precomputed reverse SQL runs to undo it
// before the whole transaction is rolled back.
func TestExecuteRollsBackAndUnwindsReversibleStep(t *testing.T) {
	t.Parallel()

	tx, mock := newTx(t)
	mock.ExpectExec(`SAVEPOINT mig_0`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`CREATE INDEX "idx_email"`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`SAVEPOINT mig_1`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`ALTER TABLE "users" DROP COLUMN "legacy"`).WillReturnError(assertErr("boom"))
	mock.ExpectExec(`ROLLBACK TO SAVEPOINT mig_1`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`DROP INDEX "idx_email"`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	plan := &schema.Plan{Steps: []*schema.Step{
		{
			Index: 0, Change: schema.Change{Kind: schema.AddIndex, Table: "users"},
			Forward: `CREATE INDEX "idx_email" ON "users" ("email")`,
			Reverse: `DROP INDEX "idx_email"`,
		},
		{
			Index: 1, Change: schema.Change{Kind: schema.DropColumn, Table: "users"},
			Forward:      `ALTER TABLE "users" DROP COLUMN "legacy"`,
			Irreversible: true,
		},
	}}

	res, err := schema.Execute(context.Background(), tx, "public", plan, schema.PerformanceCheck{})
	require.Error(t, err)
	assert.True(t, res.RolledBack)
	var aborted *schema.AbortedError
	assert.ErrorAs(t, err, &aborted)
	require.NoError(t, mock.ExpectationsWereMet())
}

// TestExecuteReportsManualRecoveryWhenUnwindFails exercises the
// "manual recovery required" fault: the first completed step is itself
// irreversible, so the unwind cannot fully undo the applied prefix.
func TestExecuteReportsManualRecoveryWhenUnwindFails(t *testing.T) {
	t.Parallel()

	tx, mock := newTx(t)
	mock.ExpectExec(`SAVEPOINT mig_0`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`ALTER TABLE "users" DROP COLUMN "legacy"`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`SAVEPOINT mig_1`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`CREATE TABLE "broken"`).WillReturnError(assertErr("boom"))
	mock.ExpectExec(`ROLLBACK TO SAVEPOINT mig_1`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	plan := &schema.Plan{Steps: []*schema.Step{
		{
			Index: 0, Change: schema.Change{Kind: schema.DropColumn, Table: "users"},
			Forward:      `ALTER TABLE "users" DROP COLUMN "legacy"`,
			Irreversible: true,
		},
		{
			Index: 1, Change: schema.Change{Kind: schema.AddTable, Table: "broken"},
			Forward: `CREATE TABLE "broken" (bad)`,
		},
	}}

	res, err := schema.Execute(context.Background(), tx, "public", plan, schema.PerformanceCheck{})
	require.Error(t, err)
	var manual *schema.ManualRecoveryError
	require.ErrorAs(t, err, &manual)
	assert.Contains(t, manual.Tables, "users")
	assert.True(t, res.PartialRollback)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLockManagerAcquireAndRelease(t *testing.T) {
	t.Parallel()

	lm := schema.NewLockManager()
	require.NoError(t, lm.Acquire("public", time.Hour))

	err := lm.Acquire("public", time.Hour)
	require.Error(t, err)
	var held *schema.LockHeldError
	require.ErrorAs(t, err, &held)

	lm.Release("public")
	require.NoError(t, lm.Acquire("public", time.Hour))
}

func TestLockManagerReclaimsStaleLock(t *testing.T) {
	t.Parallel()

	lm := schema.NewLockManager()
	require.NoError(t, lm.Acquire("public", time.Millisecond))
	time.Sleep(5 * time.Millisecond)

	require.NoError(t, lm.Acquire("public", time.Millisecond))
}

func TestLockManagerForceRelease(t *testing.T) {
	t.Parallel()

	lm := schema.NewLockManager()
	require.NoError(t, lm.Acquire("public", time.Hour))
	lm.ForceRelease("public")
	require.NoError(t, lm.Acquire("public", time.Hour))
}

type assertErr string

func (e assertErr) Error() string { return string(e) }
