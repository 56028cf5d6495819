package sql

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/dataflow/dialect"
)

func TestStatsDriverCounts(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	drv := NewStatsDriver(OpenDB(dialect.Postgres, db), WithSlowThreshold(time.Hour))

	mock.ExpectQuery("SELECT id FROM users").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
	rows := &Rows{}
	require.NoError(t, drv.Query(context.Background(), "SELECT id FROM users", []any{}, rows))
	require.NoError(t, rows.Close())

	mock.ExpectExec("UPDATE users").WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, drv.Exec(context.Background(), "UPDATE users SET active = $1", []any{false}, nil))

	mock.ExpectQuery("SELECT boom").WillReturnError(errors.New("boom"))
	require.Error(t, drv.Query(context.Background(), "SELECT boom", []any{}, &Rows{}))

	s := drv.QueryStats().Stats()
	assert.Equal(t, int64(2), s.TotalQueries)
	assert.Equal(t, int64(1), s.TotalExecs)
	assert.Equal(t, int64(1), s.Errors)
	assert.Equal(t, int64(0), s.SlowQueries)
	assert.Greater(t, s.TotalDuration, time.Duration(0))
	assert.Greater(t, s.AvgQueryDuration(), time.Duration(0))
	require.NoError(t, mock.ExpectationsWereMet())

	drv.QueryStats().Reset()
	assert.Equal(t, int64(0), drv.QueryStats().Stats().TotalQueries)
}

func TestStatsDriverSlowQueryHook(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	var gotQuery string
	var gotArgs []any
	drv := NewStatsDriver(OpenDB(dialect.Postgres, db),
		WithSlowThreshold(0), // any duration counts as slow
		WithSlowQueryHook(func(_ context.Context, query string, args []any, _ time.Duration) {
			gotQuery, gotArgs = query, args
		}),
	)

	mock.ExpectQuery("SELECT email FROM users WHERE id = \\$1").
		WithArgs(7).
		WillReturnRows(sqlmock.NewRows([]string{"email"}).AddRow("a@acme"))
	rows := &Rows{}
	require.NoError(t, drv.Query(context.Background(), "SELECT email FROM users WHERE id = $1", []any{7}, rows))
	require.NoError(t, rows.Close())

	assert.Equal(t, "SELECT email FROM users WHERE id = $1", gotQuery)
	assert.Equal(t, []any{7}, gotArgs)
	assert.Equal(t, int64(1), drv.QueryStats().Stats().SlowQueries)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWithSlowQueryLogOmitsParameterValues(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	drv := NewStatsDriver(OpenDB(dialect.Postgres, db),
		WithSlowThreshold(0),
		WithSlowQueryLog(logger),
	)

	mock.ExpectQuery("SELECT id FROM users WHERE password = \\$1").
		WithArgs("hunter2").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	rows := &Rows{}
	require.NoError(t, drv.Query(context.Background(), "SELECT id FROM users WHERE password = $1", []any{"hunter2"}, rows))
	require.NoError(t, rows.Close())

	out := buf.String()
	assert.Contains(t, out, "slow query detected")
	assert.Contains(t, out, "params=1")
	assert.NotContains(t, out, "hunter2")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStatsTxRecordsWithinTransaction(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	drv := NewStatsDriver(OpenDB(dialect.Postgres, db), WithSlowThreshold(time.Hour))

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO users").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	tx, err := drv.Tx(context.Background())
	require.NoError(t, err)
	require.NoError(t, tx.Exec(context.Background(), "INSERT INTO users (email) VALUES ($1)", []any{"a@acme"}, nil))
	require.NoError(t, tx.Commit())

	assert.Equal(t, int64(1), drv.QueryStats().Stats().TotalExecs)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMeasureWorkload(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	drv := NewStatsDriver(OpenDB(dialect.Postgres, db), WithSlowThreshold(time.Hour))
	measure := drv.MeasureWorkload([]string{
		"SELECT count(*) FROM users",
		"SELECT count(*) FROM orders",
	})

	t.Run("reports_elapsed", func(t *testing.T) {
		mock.ExpectQuery("SELECT count\\(\\*\\) FROM users").
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))
		mock.ExpectQuery("SELECT count\\(\\*\\) FROM orders").
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

		d, err := measure(context.Background())
		require.NoError(t, err)
		assert.Greater(t, d, time.Duration(0))
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("propagates_query_failure", func(t *testing.T) {
		mock.ExpectQuery("SELECT count\\(\\*\\) FROM users").
			WillReturnError(errors.New("relation dropped"))

		_, err := measure(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "workload query")
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestDebugDriverEchoesSQL(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	var lines []string
	drv := NewDebugDriver(OpenDB(dialect.Postgres, db), DebugWithLog(func(_ context.Context, v ...any) {
		for _, e := range v {
			lines = append(lines, e.(string))
		}
	}))

	mock.ExpectQuery("SELECT id FROM users").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	rows := &Rows{}
	require.NoError(t, drv.Query(context.Background(), "SELECT id FROM users", []any{}, rows))
	require.NoError(t, rows.Close())

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM users").WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectRollback()

	tx, err := drv.Tx(context.Background())
	require.NoError(t, err)
	require.NoError(t, tx.Exec(context.Background(), "DELETE FROM users", []any{}, nil))
	require.NoError(t, tx.Rollback())

	require.Len(t, lines, 4)
	assert.Contains(t, lines[0], "SELECT id FROM users")
	assert.Equal(t, "begin transaction", lines[1])
	assert.Contains(t, lines[2], "DELETE FROM users")
	assert.Equal(t, "rollback transaction", lines[3])
	require.NoError(t, mock.ExpectationsWereMet())
}
