package dataflow_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/dataflow"
	"github.com/syssam/dataflow/dialect"
	dsql "github.com/syssam/dataflow/dialect/sql"
)

const userModelYAML = `
name: User
fields:
  - name: email
    type: string
  - name: active
    type: bool
    default: true
`

const reviewModelYAML = `
name: Review
fields:
  - name: body
    type: text
`

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	require.True(t, cond(), "condition not met within %s", timeout)
}

func TestWatchModelsLoadsExistingFilesOnStart(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "user.yaml"), []byte(userModelYAML), 0o644))

	db, _, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	e := dataflow.New(dsql.OpenDB(dialect.Postgres, db), nil, dataflow.Config{})
	require.NoError(t, e.Initialize(context.Background()))

	w, err := e.WatchModels(dir, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })

	assert.Len(t, e.GetAvailableNodes("User"), 11)
}

func TestWatchModelsPicksUpNewFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	db, _, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	e := dataflow.New(dsql.OpenDB(dialect.Postgres, db), nil, dataflow.Config{})
	require.NoError(t, e.Initialize(context.Background()))

	var loadErrs []error
	w, err := e.WatchModels(dir, func(err error) { loadErrs = append(loadErrs, err) })
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })

	require.NoError(t, os.WriteFile(filepath.Join(dir, "review.yaml"), []byte(reviewModelYAML), 0o644))

	waitUntil(t, 2*time.Second, func() bool {
		return len(e.GetAvailableNodes("Review")) == 11
	})
	assert.Empty(t, loadErrs)
}

func TestWatchModelsReportsParseErrors(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.yaml"), []byte("name: [1,"), 0o644))

	db, _, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	e := dataflow.New(dsql.OpenDB(dialect.Postgres, db), nil, dataflow.Config{})
	require.NoError(t, e.Initialize(context.Background()))

	var loadErrs []error
	w, err := e.WatchModels(dir, func(err error) { loadErrs = append(loadErrs, err) })
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })

	require.Len(t, loadErrs, 1)
}
