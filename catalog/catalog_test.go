package catalog_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/dataflow/catalog"
	"github.com/syssam/dataflow/dialect"
	dsql "github.com/syssam/dataflow/dialect/sql"
	"github.com/syssam/dataflow/model"
	"github.com/syssam/dataflow/querycache"
)

// memBackend is a minimal in-memory querycache.Backend for exercising
// read-through caching at the handler level.
type memBackend struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemBackend() *memBackend { return &memBackend{data: make(map[string][]byte)} }

func (m *memBackend) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data[key], nil
}

func (m *memBackend) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *memBackend) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *memBackend) DeletePrefix(_ context.Context, prefix string) error { return nil }

func (m *memBackend) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = make(map[string][]byte)
	return nil
}

func userModel(t *testing.T) (*model.Registry, *model.Model) {
	t.Helper()
	email, err := model.NewField("email", model.String)
	require.NoError(t, err)
	active, err := model.NewField("active", model.Bool)
	require.NoError(t, err)

	m := &model.Model{Name: "User", Fields: []*model.Field{email, active}}
	reg := model.NewRegistry()
	require.NoError(t, reg.Register(m))
	got, _ := reg.Get("User")
	return reg, got
}

func newExecContext(t *testing.T) (*catalog.ExecContext, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	drv := dsql.OpenDB(dialect.Postgres, db)
	return &catalog.ExecContext{
		Ctx:     context.Background(),
		Dialect: dsql.Dialect(dialect.Postgres),
		Conn:    drv,
	}, mock
}

func TestDispatchUnknownModel(t *testing.T) {
	t.Parallel()

	reg := model.NewRegistry()
	c := catalog.New(reg)
	ec, _ := newExecContext(t)

	res := c.Dispatch(ec, "Nope", catalog.OpRead, catalog.Params{})
	assert.False(t, res.Success)
	assert.Equal(t, "not_found", res.Error.Kind)
}

func TestAvailableNodesListsAllElevenOps(t *testing.T) {
	t.Parallel()

	reg, _ := userModel(t)
	c := catalog.New(reg)

	nodes := c.AvailableNodes("User")
	assert.Len(t, nodes, 11)
	assert.True(t, c.HasOp("User", catalog.OpBulkUpsert))
}

func TestDispatchRejectsUnknownParameter(t *testing.T) {
	t.Parallel()

	reg, _ := userModel(t)
	c := catalog.New(reg)
	ec, _ := newExecContext(t)

	res := c.Dispatch(ec, "User", catalog.OpCreate, catalog.Params{"bogus_field": 1})
	assert.False(t, res.Success)
	assert.Equal(t, "validation", res.Error.Kind)
}

func TestHandleCreateInsertsAndReturnsRow(t *testing.T) {
	t.Parallel()

	reg, _ := userModel(t)
	c := catalog.New(reg)
	ec, mock := newExecContext(t)

	mock.ExpectQuery(`INSERT INTO "users"`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "email", "active"}).AddRow(1, "a@x.com", true))

	res := c.Dispatch(ec, "User", catalog.OpCreate, catalog.Params{"email": "a@x.com", "active": true})
	require.True(t, res.Success, "%+v", res.Error)
	assert.EqualValues(t, 1, res.RowsAffected)
	require.NoError(t, mock.ExpectationsWereMet())
}

// TestBulkCreateThenBulkUpdate exercises seed scenario A: BulkCreate three
// rows, then BulkUpdate filter={active:true} fields={active:false} reports
// processed=3/rows_affected=3.
func TestBulkCreateThenBulkUpdate(t *testing.T) {
	t.Parallel()

	reg, _ := userModel(t)
	c := catalog.New(reg)
	ec, mock := newExecContext(t)

	mock.ExpectExec(`INSERT INTO "users"`).WillReturnResult(sqlmock.NewResult(0, 3))

	rows := []map[string]any{
		{"email": "a", "active": true},
		{"email": "b", "active": true},
		{"email": "c", "active": true},
	}
	res := c.Dispatch(ec, "User", catalog.OpBulkCreate, catalog.Params{"rows": rows})
	require.True(t, res.Success, "%+v", res.Error)
	assert.EqualValues(t, 3, res.RowsAffected)

	mock.ExpectExec(`UPDATE "users" SET "active" = \$1 WHERE \(.*"active" = \$2.*\)`).
		WillReturnResult(sqlmock.NewResult(0, 3))

	res2 := c.Dispatch(ec, "User", catalog.OpBulkUpdate, catalog.Params{
		"filter": map[string]any{"active": true},
		"active": false,
	})
	require.True(t, res2.Success, "%+v", res2.Error)
	assert.EqualValues(t, 3, res2.RowsAffected)
	require.NoError(t, mock.ExpectationsWereMet())
}

// TestBulkUpdateEmptyFilterIsMatchAll: an empty filter on BulkUpdate is a
// legitimate match-all, unlike BulkDelete, and needs no safe_mode/confirmed
// override.
func TestBulkUpdateEmptyFilterIsMatchAll(t *testing.T) {
	t.Parallel()

	reg, _ := userModel(t)
	c := catalog.New(reg)
	ec, mock := newExecContext(t)

	mock.ExpectExec(`UPDATE "users" SET "active" = \$1`).WillReturnResult(sqlmock.NewResult(0, 7))

	res := c.Dispatch(ec, "User", catalog.OpBulkUpdate, catalog.Params{
		"filter": map[string]any{},
		"active": false,
	})
	require.True(t, res.Success, "%+v", res.Error)
	assert.EqualValues(t, 7, res.RowsAffected)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBulkCreateRequiresRowsArray(t *testing.T) {
	t.Parallel()

	reg, _ := userModel(t)
	c := catalog.New(reg)
	ec, _ := newExecContext(t)

	res := c.Dispatch(ec, "User", catalog.OpBulkCreate, catalog.Params{})
	assert.False(t, res.Success)
	assert.Equal(t, "validation", res.Error.Kind)
}

// TestBulkDeleteEmptyFilterRequiresConfirmation exercises seed scenario E.
func TestBulkDeleteEmptyFilterRequiresConfirmation(t *testing.T) {
	t.Parallel()

	reg, _ := userModel(t)
	c := catalog.New(reg)
	ec, _ := newExecContext(t)

	res := c.Dispatch(ec, "User", catalog.OpBulkDelete, catalog.Params{
		"filter":    map[string]any{},
		"confirmed": true,
		"safe_mode": true,
	})
	assert.False(t, res.Success)
	assert.Equal(t, "unsafe_bulk_operation", res.Error.Kind)
}

func TestBulkDeleteEmptyFilterSucceedsWhenUnsafeConfirmed(t *testing.T) {
	t.Parallel()

	reg, _ := userModel(t)
	c := catalog.New(reg)
	ec, mock := newExecContext(t)

	mock.ExpectExec(`DELETE FROM "users"`).WillReturnResult(sqlmock.NewResult(0, 5))

	res := c.Dispatch(ec, "User", catalog.OpBulkDelete, catalog.Params{
		"filter":    map[string]any{},
		"confirmed": true,
		"safe_mode": false,
	})
	require.True(t, res.Success, "%+v", res.Error)
	assert.EqualValues(t, 5, res.RowsAffected)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleListGeneratesNotEqualPredicate(t *testing.T) {
	t.Parallel()

	// Seed scenario D: ListNode filter={status:{$ne:"inactive"}}.
	status, err := model.NewField("status", model.String)
	require.NoError(t, err)
	m := &model.Model{Name: "Item", Fields: []*model.Field{status}}
	reg := model.NewRegistry()
	require.NoError(t, reg.Register(m))

	c := catalog.New(reg)
	ec, mock := newExecContext(t)

	mock.ExpectQuery(`SELECT .* FROM "items" WHERE \("status" <> \$1\)`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "status"}))

	res := c.Dispatch(ec, "Item", catalog.OpList, catalog.Params{
		"filter": map[string]any{"status": map[string]any{"$ne": "inactive"}},
	})
	require.True(t, res.Success, "%+v", res.Error)
	require.NoError(t, mock.ExpectationsWereMet())
}

// TestHandleListIsReadThroughCached exercises seed scenario F: a repeated
// List against the same model, op, and filter is served from
// querycache.Cache on the second call without a second query reaching the
// connection, and after the model's entries are invalidated (as the engine
// does after a write) the next List queries the connection again.
func TestHandleListIsReadThroughCached(t *testing.T) {
	t.Parallel()

	reg, _ := userModel(t)
	c := catalog.New(reg)
	ec, mock := newExecContext(t)
	cache := querycache.New(newMemBackend(), querycache.Options{})
	ec.Cache = cache

	mock.ExpectQuery(`SELECT .* FROM "users"`).
		WillReturnRows(sqlmock.NewRows([]string{"email", "active"}).AddRow("a@x.com", true))

	res1 := c.Dispatch(ec, "User", catalog.OpList, catalog.Params{"filter": map[string]any{"active": true}})
	require.True(t, res1.Success, "%+v", res1.Error)
	require.EqualValues(t, 1, res1.RowsAffected)
	require.NoError(t, mock.ExpectationsWereMet())

	// No second mock.ExpectQuery: if the handler bypassed the cache, this
	// Dispatch would fail sqlmock's unmet-expectation check.
	res2 := c.Dispatch(ec, "User", catalog.OpList, catalog.Params{"filter": map[string]any{"active": true}})
	require.True(t, res2.Success, "%+v", res2.Error)
	assert.EqualValues(t, 1, res2.RowsAffected)

	cache.InvalidateModel("User")
	mock.ExpectQuery(`SELECT .* FROM "users"`).
		WillReturnRows(sqlmock.NewRows([]string{"email", "active"}).AddRow("a@x.com", true).AddRow("b@x.com", true))
	res3 := c.Dispatch(ec, "User", catalog.OpList, catalog.Params{"filter": map[string]any{"active": true}})
	require.True(t, res3.Success, "%+v", res3.Error)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleDeleteRequiresFilter(t *testing.T) {
	t.Parallel()

	reg, _ := userModel(t)
	c := catalog.New(reg)
	ec, _ := newExecContext(t)

	res := c.Dispatch(ec, "User", catalog.OpDelete, catalog.Params{})
	assert.False(t, res.Success)
	assert.Equal(t, "unsafe_bulk_operation", res.Error.Kind)
}

// TestHandleDeleteByPrimaryKey: an explicit primary-key parameter selects
// the row like a filter would, so no safe-mode override is needed and the
// generated DELETE is scoped to that key.
func TestHandleDeleteByPrimaryKey(t *testing.T) {
	t.Parallel()

	reg, _ := userModel(t)
	c := catalog.New(reg)
	ec, mock := newExecContext(t)

	mock.ExpectExec(`DELETE FROM "users" WHERE \("id" = \$1\)`).
		WithArgs(5).
		WillReturnResult(sqlmock.NewResult(0, 1))

	res := c.Dispatch(ec, "User", catalog.OpDelete, catalog.Params{"id": 5})
	require.True(t, res.Success, "%+v", res.Error)
	assert.EqualValues(t, 1, res.RowsAffected)
	require.NoError(t, mock.ExpectationsWereMet())
}

// TestBulkDeletePrimaryKeyMergesIntoFilter: a primary-key parameter passed
// alongside a filter narrows it rather than replacing it.
func TestBulkDeletePrimaryKeyMergesIntoFilter(t *testing.T) {
	t.Parallel()

	reg, _ := userModel(t)
	c := catalog.New(reg)
	ec, mock := newExecContext(t)

	mock.ExpectExec(`DELETE FROM "users" WHERE \("active" = \$1 AND "id" = \$2\)`).
		WithArgs(true, 5).
		WillReturnResult(sqlmock.NewResult(0, 1))

	res := c.Dispatch(ec, "User", catalog.OpBulkDelete, catalog.Params{
		"filter": map[string]any{"active": true},
		"id":     5,
	})
	require.True(t, res.Success, "%+v", res.Error)
	assert.EqualValues(t, 1, res.RowsAffected)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleCountReturnsScalar(t *testing.T) {
	t.Parallel()

	reg, _ := userModel(t)
	c := catalog.New(reg)
	ec, mock := newExecContext(t)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM "users"`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))

	res := c.Dispatch(ec, "User", catalog.OpCount, catalog.Params{})
	require.True(t, res.Success, "%+v", res.Error)
	assert.EqualValues(t, 2, res.RowsAffected)
}
